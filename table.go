// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package vmgenid

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"golang.org/x/xerrors"

	"github.com/canonical/go-vmgenid/internal/acpi"
	"github.com/canonical/go-vmgenid/internal/ioerr"
)

// TableHeaderSize is the size of the header common to all ACPI system
// description tables.
const TableHeaderSize = acpi.TableHeaderSize

// TableHeader corresponds to the header common to all ACPI system
// description tables. It is a snapshot of guest memory at the time it was
// read.
type TableHeader struct {
	Address         uint32 // Guest physical address of the table
	Signature       string
	Length          uint32
	Revision        uint8
	Checksum        uint8
	OEMID           string
	OEMTableID      [8]byte
	OEMRevision     uint32
	CreatorID       string
	CreatorRevision uint32
}

func (h *TableHeader) String() string {
	return fmt.Sprintf("%s@%#08x (OEM: %q, table ID: %q, length: %d)", h.Signature, h.Address, h.OEMID,
		bytes.TrimRight(h.OEMTableID[:], "\x00 "), h.Length)
}

// HasOEMTableIDPrefix indicates whether the OEM table ID of this table
// starts with the supplied string. Bytes of the field beyond the length of
// id are ignored.
func (h *TableHeader) HasOEMTableIDPrefix(id string) bool {
	if len(id) > len(h.OEMTableID) {
		return false
	}
	return string(h.OEMTableID[:len(id)]) == id
}

// ReadTableHeader reads the header of the ACPI table at the specified
// guest physical address.
func ReadTableHeader(r io.ReaderAt, addr uint32) (*TableHeader, error) {
	hdr, err := acpi.Read_ACPI_TABLE_HEADER(sectionReader(r, addr, TableHeaderSize))
	if err != nil {
		return nil, ioerr.EOFUnexpected("cannot read table header at %#x: %w", addr, err)
	}

	return &TableHeader{
		Address:         addr,
		Signature:       string(hdr.Signature[:]),
		Length:          hdr.Length,
		Revision:        hdr.Revision,
		Checksum:        hdr.Checksum,
		OEMID:           string(bytes.TrimRight(hdr.OemId[:], "\x00 ")),
		OEMTableID:      hdr.OemTableId,
		OEMRevision:     hdr.OemRevision,
		CreatorID:       string(hdr.CreatorId[:]),
		CreatorRevision: hdr.CreatorRevision}, nil
}

// FindTableByOEMTableID reads the header of each of the tables at the
// supplied addresses in order, and returns the first one whose OEM table
// ID starts with oemTableID. Scanning stops at the first match. If there
// is no match, ErrTableNotFound is returned.
func FindTableByOEMTableID(r io.ReaderAt, addrs []uint32, oemTableID string) (*TableHeader, error) {
	if len(oemTableID) == 0 || len(oemTableID) > 8 {
		return nil, errors.New("invalid OEM table ID length")
	}

	for i, addr := range addrs {
		hdr, err := ReadTableHeader(r, addr)
		if err != nil {
			return nil, xerrors.Errorf("cannot read table %d: %w", i, err)
		}
		if hdr.HasOEMTableIDPrefix(oemTableID) {
			return hdr, nil
		}
	}

	return nil, ErrTableNotFound
}
