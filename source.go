// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

// Package vmgenid locates the VM generation ID that a hypervisor publishes
// to its guest through ACPI, and reads it from guest memory or from the
// hypervisor's management channel.
package vmgenid

import (
	"encoding/json"
	"io"

	"golang.org/x/xerrors"

	"github.com/canonical/go-vmgenid/internal/ioerr"
	"github.com/canonical/go-vmgenid/qmp"
)

// IdentifierSource is implemented by types that can read the current
// generation ID of a guest. Implementations return ErrNotExposed if the
// generation ID is not available from them.
type IdentifierSource interface {
	ReadGUID() (GUID, error)
}

// Discovery describes the path taken through the ACPI tables to locate the
// generation ID.
type Discovery struct {
	RSDPAddress uint32
	RootTable   *RootTable
	Table       *TableHeader // The generation ID SSDT
	VGIA        uint32
	GUIDAddress uint32
}

// Discover locates the generation ID in guest memory. It waits for the
// firmware to publish the RSDP according to the supplied policy, walks the
// RSDT to find the generation ID SSDT and decodes the GUID address from
// it. Only the RSDP search is retried.
func Discover(mem GuestMemory, policy RetryPolicy) (*Discovery, error) {
	r := NewGuestMemoryReader(mem)

	rsdp, err := LocateRSDP(r, policy)
	if err != nil {
		return nil, err
	}

	rsdt, err := ReadRootTable(r, rsdp)
	if err != nil {
		return nil, xerrors.Errorf("cannot read root table: %w", err)
	}

	table, err := FindTableByOEMTableID(r, rsdt.Entries, OEMTableID)
	if err != nil {
		return nil, xerrors.Errorf("cannot find %s table: %w", OEMTableID, err)
	}

	vgia, err := ReadVGIA(r, table.Address)
	if err != nil {
		return nil, xerrors.Errorf("cannot decode %s table: %w", OEMTableID, err)
	}
	guidAddr, err := guidAddress(table.Address, vgia)
	if err != nil {
		return nil, err
	}

	return &Discovery{
		RSDPAddress: rsdp,
		RootTable:   rsdt,
		Table:       table,
		VGIA:        vgia,
		GUIDAddress: guidAddr}, nil
}

// ReadGUIDAt reads the 16 byte generation ID stored at the specified guest
// physical address, and returns it in canonical byte order.
func ReadGUIDAt(r io.ReaderAt, addr uint32) (GUID, error) {
	guid, err := ReadGUID(sectionReader(r, addr, 16))
	if err != nil {
		return GUID{}, ioerr.EOFUnexpected("cannot read GUID at %#x: %w", addr, err)
	}
	return guid, nil
}

// MemorySource reads the generation ID directly from guest memory.
type MemorySource struct {
	Memory GuestMemory
	Policy RetryPolicy

	// Discovered is called, if set, with the result of a successful
	// discovery before the GUID is read.
	Discovered func(*Discovery)
}

func (s *MemorySource) ReadGUID() (GUID, error) {
	d, err := Discover(s.Memory, s.Policy)
	if err != nil {
		return GUID{}, xerrors.Errorf("cannot discover generation ID address: %w", err)
	}
	if s.Discovered != nil {
		s.Discovered(d)
	}
	return ReadGUIDAt(NewGuestMemoryReader(s.Memory), d.GUIDAddress)
}

// Monitor is the management channel used by MonitorSource.
// *qmp.Client implements this.
type Monitor interface {
	Execute(command string, arguments interface{}) (json.RawMessage, error)
}

// QueryCommand is the monitor command that returns the generation ID.
const QueryCommand = "query-vm-generation-id"

// MonitorSource reads the generation ID over the management channel.
type MonitorSource struct {
	Monitor Monitor
}

func (s *MonitorSource) ReadGUID() (GUID, error) {
	ret, err := s.Monitor.Execute(QueryCommand, nil)
	var qerr *qmp.Error
	switch {
	case xerrors.Is(err, qmp.ErrNoReturn):
		return GUID{}, ErrNotExposed
	case xerrors.As(err, &qerr):
		return GUID{}, xerrors.Errorf("%s: %w", qerr, ErrNotExposed)
	case err != nil:
		return GUID{}, xerrors.Errorf("cannot execute %s: %w", QueryCommand, err)
	}

	var info struct {
		GUID *string `json:"guid"`
	}
	if err := json.Unmarshal(ret, &info); err != nil {
		return GUID{}, xerrors.Errorf("cannot decode %s response: %w", QueryCommand, err)
	}
	if info.GUID == nil {
		return GUID{}, xerrors.Errorf("%s response has no guid field", QueryCommand)
	}

	guid, err := ParseCanonicalGUID(*info.GUID)
	if err != nil {
		return GUID{}, xerrors.Errorf("cannot parse guid %q: %w", *info.GUID, err)
	}
	return guid, nil
}
