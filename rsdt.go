// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package vmgenid

import (
	"io"

	"golang.org/x/xerrors"

	"github.com/canonical/go-vmgenid/internal/acpi"
)

const maxRootTableEntries = 1024

// RootTable corresponds to the ACPI Root System Description Table.
type RootTable struct {
	Header *TableHeader

	// Entries contains the addresses of the other tables, in the order
	// that they appear in the RSDT.
	Entries []uint32
}

// ReadRootTable reads the RSDP at the specified guest physical address,
// and then the RSDT that it points to. The RSDT signature must match and
// it must contain at least one entry, else a *MalformedError is returned.
func ReadRootTable(r io.ReaderAt, rsdpAddr uint32) (*RootTable, error) {
	rsdp, err := ReadRSDP(r, rsdpAddr)
	if err != nil {
		return nil, err
	}

	addr := rsdp.RSDTAddress
	hdr, err := ReadTableHeader(r, addr)
	if err != nil {
		return nil, xerrors.Errorf("cannot read RSDT header: %w", err)
	}
	if hdr.Signature != acpi.RSDT_SIGNATURE {
		return nil, malformed("RSDT", addr, "invalid signature %q", hdr.Signature)
	}

	n := (int64(hdr.Length) - TableHeaderSize) / acpi.RSDTEntrySize
	switch {
	case n <= 0:
		return nil, malformed("RSDT", addr, "no entries (length %d)", hdr.Length)
	case n > maxRootTableEntries:
		return nil, malformed("RSDT", addr, "too many entries (length %d)", hdr.Length)
	}

	entries, err := acpi.Read_RSDT_ENTRIES(sectionReader(r, addr+TableHeaderSize, n*acpi.RSDTEntrySize), int(n))
	if err != nil {
		return nil, xerrors.Errorf("cannot read RSDT entries: %w", err)
	}

	return &RootTable{Header: hdr, Entries: entries}, nil
}
