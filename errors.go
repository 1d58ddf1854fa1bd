// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package vmgenid

import (
	"errors"
	"fmt"
)

var (
	// ErrRSDPNotFound is returned from FindRSDP when a single scan of the
	// BIOS area did not find a valid RSDP.
	ErrRSDPNotFound = errors.New("no valid RSDP found")

	// ErrDiscoveryTimeout is returned from LocateRSDP when the firmware
	// didn't publish a RSDP before the retry policy was exhausted.
	ErrDiscoveryTimeout = errors.New("timeout waiting for firmware to publish ACPI tables")

	// ErrTableNotFound is returned when no table referenced by the RSDT has
	// the requested OEM table ID.
	ErrTableNotFound = errors.New("no table with the requested OEM table ID")

	// ErrNotExposed is returned from an IdentifierSource that cannot
	// provide a generation ID for the current guest, eg, because the
	// monitor doesn't implement the query.
	ErrNotExposed = errors.New("generation ID is not exposed by this source")
)

// MalformedError is returned when a firmware structure read from guest
// memory does not have the expected layout.
type MalformedError struct {
	Structure string // The structure being decoded, eg, "RSDT"
	Address   uint32 // The guest physical address of the structure
	Reason    string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed %s at %#08x: %s", e.Structure, e.Address, e.Reason)
}

func malformed(structure string, addr uint32, format string, args ...interface{}) error {
	return &MalformedError{Structure: structure, Address: addr, Reason: fmt.Sprintf(format, args...)}
}
