// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package vmgenid

import (
	"bytes"
	"io"
	"time"

	"golang.org/x/xerrors"

	"github.com/canonical/go-vmgenid/internal/acpi"
	"github.com/canonical/go-vmgenid/internal/ioerr"
)

const (
	// RSDPSearchStart is the start of the BIOS area that is scanned for
	// the RSDP.
	RSDPSearchStart uint32 = 0xf0000

	// RSDPAddressCeiling is the address below which the RSDP must be
	// located.
	RSDPAddressCeiling uint32 = 0x100000

	rsdpAlignment = 16
	rsdpScanChunk = 4096
	rsdpMaxSize   = 36

	// rsdpMaxLength bounds the length field of a revision 2 or later
	// RSDP.
	rsdpMaxLength = rsdpScanChunk
)

// RSDP corresponds to the ACPI Root System Description Pointer.
type RSDP struct {
	Address     uint32 // Guest physical address of this RSDP
	Checksum    uint8
	OEMID       string
	Revision    uint8
	RSDTAddress uint32

	// These are only valid for revision 2 and later.
	Length      uint32
	XSDTAddress uint64
}

// ReadRSDP reads and validates the RSDP at the specified guest physical
// address. The signature and checksum are verified before the record is
// returned, and for revision 2 and later the extended checksum is also
// verified. A *MalformedError is returned if validation fails.
func ReadRSDP(r io.ReaderAt, addr uint32) (*RSDP, error) {
	var raw bytes.Buffer
	d, err := acpi.Read_ACPI_RSDP_DESCRIPTOR(io.TeeReader(sectionReader(r, addr, rsdpMaxSize), &raw))
	if err != nil {
		return nil, ioerr.EOFUnexpected("cannot read RSDP at %#x: %w", addr, err)
	}

	if string(d.Signature[:]) != acpi.RSDP_SIGNATURE {
		return nil, malformed("RSDP", addr, "invalid signature %q", d.Signature[:])
	}
	if acpi.Checksum(raw.Bytes()[:acpi.RSDPChecksumLength]) != 0 {
		return nil, malformed("RSDP", addr, "checksum mismatch")
	}

	if d.Revision >= 2 {
		if d.Length < rsdpMaxSize || d.Length > rsdpMaxLength {
			return nil, malformed("RSDP", addr, "invalid length %d", d.Length)
		}
		b := make([]byte, d.Length)
		if _, err := io.ReadFull(sectionReader(r, addr, int64(d.Length)), b); err != nil {
			return nil, ioerr.EOFUnexpected("cannot read extended RSDP at %#x: %w", addr, err)
		}
		if acpi.Checksum(b) != 0 {
			return nil, malformed("RSDP", addr, "extended checksum mismatch")
		}
	}

	return &RSDP{
		Address:     addr,
		Checksum:    d.Checksum,
		OEMID:       string(bytes.TrimRight(d.OemId[:], "\x00 ")),
		Revision:    d.Revision,
		RSDTAddress: d.RsdtAddress,
		Length:      d.Length,
		XSDTAddress: d.XsdtAddress}, nil
}

// FindRSDP performs a single scan of the BIOS area for a valid RSDP and
// returns its address. Candidates are considered on 16-byte boundaries,
// and ones that fail validation are skipped. If no valid RSDP is found,
// ErrRSDPNotFound is returned.
func FindRSDP(r io.ReaderAt) (uint32, error) {
	buf := make([]byte, rsdpScanChunk)
	for base := RSDPSearchStart; base < RSDPAddressCeiling; base += rsdpScanChunk {
		n, err := r.ReadAt(buf, int64(base))
		if err != nil && err != io.EOF {
			return 0, xerrors.Errorf("cannot read guest memory at %#x: %w", base, err)
		}

		for off := 0; off+len(acpi.RSDP_SIGNATURE) <= n; off += rsdpAlignment {
			if string(buf[off:off+len(acpi.RSDP_SIGNATURE)]) != acpi.RSDP_SIGNATURE {
				continue
			}

			addr := base + uint32(off)
			if _, err := ReadRSDP(r, addr); err != nil {
				var e *MalformedError
				if xerrors.As(err, &e) {
					continue
				}
				return 0, err
			}
			return addr, nil
		}

		if err == io.EOF {
			break
		}
	}

	return 0, ErrRSDPNotFound
}

const (
	DefaultRetryAttempts = 100
	DefaultRetryInterval = 100 * time.Millisecond
)

// RetryPolicy describes how long LocateRSDP waits for the firmware to
// publish the ACPI tables. Fields that are zero take their default values.
type RetryPolicy struct {
	Attempts int           // Maximum number of scans
	Interval time.Duration // Time to sleep between scans
}

// DefaultRetryPolicy returns a policy of 100 attempts 100ms apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: DefaultRetryAttempts, Interval: DefaultRetryInterval}
}

func (p RetryPolicy) attempts() int {
	if p.Attempts <= 0 {
		return DefaultRetryAttempts
	}
	return p.Attempts
}

func (p RetryPolicy) interval() time.Duration {
	if p.Interval <= 0 {
		return DefaultRetryInterval
	}
	return p.Interval
}

// LocateRSDP repeatedly scans guest memory for the RSDP, which the guest
// firmware populates asynchronously during boot. It returns the address of
// the first valid RSDP, or an error wrapping ErrDiscoveryTimeout if none
// was found before the policy was exhausted. Errors from guest memory are not
// retried.
func LocateRSDP(r io.ReaderAt, policy RetryPolicy) (uint32, error) {
	attempts := policy.attempts()
	interval := policy.interval()
	for i := 0; i < attempts; i++ {
		if i > 0 {
			timeSleep(interval)
		}

		addr, err := FindRSDP(r)
		switch {
		case err == ErrRSDPNotFound:
			continue
		case err != nil:
			return 0, err
		}
		return addr, nil
	}

	return 0, xerrors.Errorf("no RSDP below %#x after %d attempts: %w", RSDPAddressCeiling, attempts, ErrDiscoveryTimeout)
}
