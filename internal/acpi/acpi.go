// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package acpi

import (
	"encoding/binary"
	"io"

	"github.com/canonical/go-vmgenid/internal/ioerr"
)

const (
	RSDP_SIGNATURE = "RSD PTR "
	RSDT_SIGNATURE = "RSDT"
	SSDT_SIGNATURE = "SSDT"

	// RSDPChecksumLength is the number of bytes covered by the ACPI 1.0
	// RSDP checksum.
	RSDPChecksumLength = 20

	TableHeaderSize = 36
	RSDTEntrySize   = 4
)

// AML opcodes used by the generation ID SSDT.
const (
	AML_NAME_OP       = 0x08
	AML_BYTE_PREFIX   = 0x0a
	AML_WORD_PREFIX   = 0x0b
	AML_DWORD_PREFIX  = 0x0c
	AML_STRING_PREFIX = 0x0d
	AML_QWORD_PREFIX  = 0x0e
)

type ACPI_TABLE_HEADER struct {
	Signature       [4]byte
	Length          uint32
	Revision        uint8
	Checksum        uint8
	OemId           [6]byte
	OemTableId      [8]byte
	OemRevision     uint32
	CreatorId       [4]byte
	CreatorRevision uint32
}

type ACPI_RSDP_DESCRIPTOR struct {
	Signature   [8]byte
	Checksum    uint8
	OemId       [6]byte
	Revision    uint8
	RsdtAddress uint32
}

type ACPI_RSDP_DESCRIPTOR_2 struct {
	ACPI_RSDP_DESCRIPTOR
	Length           uint32
	XsdtAddress      uint64
	ExtendedChecksum uint8
	Reserved         [3]byte
}

// Checksum returns the 8-bit sum of the supplied bytes. A valid ACPI
// structure sums to zero over its checksummed range.
func Checksum(b []byte) uint8 {
	var sum uint8
	for _, v := range b {
		sum += v
	}
	return sum
}

func Read_ACPI_TABLE_HEADER(r io.Reader) (out *ACPI_TABLE_HEADER, err error) {
	out = &ACPI_TABLE_HEADER{}
	if err := binary.Read(r, binary.LittleEndian, out); err != nil {
		return nil, ioerr.PassEOF("cannot read table header: %w", err)
	}
	return out, nil
}

// Read_ACPI_RSDP_DESCRIPTOR reads a RSDP from r. The fields that only
// exist from revision 2 onwards are only read if the revision says they
// are present, and are left as zero otherwise.
func Read_ACPI_RSDP_DESCRIPTOR(r io.Reader) (out *ACPI_RSDP_DESCRIPTOR_2, err error) {
	out = &ACPI_RSDP_DESCRIPTOR_2{}
	if err := binary.Read(r, binary.LittleEndian, &out.ACPI_RSDP_DESCRIPTOR); err != nil {
		return nil, ioerr.PassEOF("cannot read RSDP: %w", err)
	}
	if out.Revision < 2 {
		return out, nil
	}

	if err := binary.Read(r, binary.LittleEndian, &out.Length); err != nil {
		return nil, ioerr.EOFUnexpected("cannot read Length: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &out.XsdtAddress); err != nil {
		return nil, ioerr.EOFUnexpected("cannot read XsdtAddress: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &out.ExtendedChecksum); err != nil {
		return nil, ioerr.EOFUnexpected("cannot read ExtendedChecksum: %w", err)
	}
	if _, err := io.ReadFull(r, out.Reserved[:]); err != nil {
		return nil, ioerr.EOFUnexpected("cannot read Reserved: %w", err)
	}
	return out, nil
}

// Read_RSDT_ENTRIES reads n 32-bit table addresses from r.
func Read_RSDT_ENTRIES(r io.Reader, n int) ([]uint32, error) {
	out := make([]uint32, n)
	if err := binary.Read(r, binary.LittleEndian, out); err != nil {
		return nil, ioerr.EOFUnexpected("cannot read %d entries: %w", n, err)
	}
	return out, nil
}
