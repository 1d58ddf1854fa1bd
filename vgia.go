// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package vmgenid

import (
	"encoding/binary"
	"io"
	"math"

	"golang.org/x/crypto/cryptobyte"

	"github.com/canonical/go-vmgenid/internal/acpi"
	"github.com/canonical/go-vmgenid/internal/ioerr"
)

const (
	// OEMTableID is the OEM table ID of the SSDT that describes the
	// generation ID device. Only the first 7 bytes are significant.
	OEMTableID = "VMGENID"

	// VGIAName is the name of the AML integer object at the start of the
	// generation ID SSDT, which holds the address of the GUID buffer.
	VGIAName = "VGIA"

	// GUIDOffset is the offset of the GUID from the start of the buffer
	// that VGIA points to. The bytes before it are reserved for the OVMF
	// SDT header probe suppressor.
	GUIDOffset = 40

	vgiaSize = 10
)

// ReadVGIA decodes the Name(VGIA, DWordConst) object that immediately
// follows the header of the generation ID SSDT at the specified address,
// and returns its value. A *MalformedError is returned if the opcodes or
// the name are not the expected ones.
func ReadVGIA(r io.ReaderAt, tableAddr uint32) (uint32, error) {
	addr := tableAddr + TableHeaderSize

	b := make([]byte, vgiaSize)
	if _, err := io.ReadFull(sectionReader(r, addr, vgiaSize), b); err != nil {
		return 0, ioerr.EOFUnexpected("cannot read VGIA at %#x: %w", addr, err)
	}

	s := cryptobyte.String(b)

	var op uint8
	if !s.ReadUint8(&op) || op != acpi.AML_NAME_OP {
		return 0, malformed("VGIA", addr, "unexpected opcode %#02x (expected NameOp)", op)
	}

	var name []byte
	if !s.ReadBytes(&name, len(VGIAName)) || string(name) != VGIAName {
		return 0, malformed("VGIA", addr, "unexpected name %q", name)
	}

	var prefix uint8
	if !s.ReadUint8(&prefix) || prefix != acpi.AML_DWORD_PREFIX {
		return 0, malformed("VGIA", addr, "unexpected data prefix %#02x (expected DWordPrefix)", prefix)
	}

	var value []byte
	if !s.ReadBytes(&value, 4) {
		return 0, malformed("VGIA", addr, "truncated value")
	}
	return binary.LittleEndian.Uint32(value), nil
}

// DecodeGUIDAddress returns the guest physical address of the generation
// ID GUID, from the generation ID SSDT at the specified address.
func DecodeGUIDAddress(r io.ReaderAt, tableAddr uint32) (uint32, error) {
	vgia, err := ReadVGIA(r, tableAddr)
	if err != nil {
		return 0, err
	}
	return guidAddress(tableAddr, vgia)
}

func guidAddress(tableAddr, vgia uint32) (uint32, error) {
	if vgia > math.MaxUint32-GUIDOffset {
		return 0, malformed("VGIA", tableAddr+TableHeaderSize, "value %#x out of range", vgia)
	}
	return vgia + GUIDOffset, nil
}
