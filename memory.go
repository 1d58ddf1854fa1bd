// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package vmgenid

import (
	"io"
	"math"

	"golang.org/x/xerrors"
)

// GuestMemory provides byte-granular, read-only access to guest physical
// memory. Readb is a synchronous call with no internal retry.
type GuestMemory interface {
	Readb(addr uint32) (uint8, error)
}

type guestMemoryReader struct {
	mem GuestMemory
}

func (r *guestMemoryReader) ReadAt(p []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, xerrors.New("negative offset")
	}
	for n < len(p) {
		addr := off + int64(n)
		if addr > math.MaxUint32 {
			return n, io.EOF
		}
		b, err := r.mem.Readb(uint32(addr))
		if err != nil {
			return n, xerrors.Errorf("cannot read byte at %#x: %w", addr, err)
		}
		p[n] = b
		n++
	}
	return n, nil
}

// NewGuestMemoryReader returns an io.ReaderAt for the supplied guest memory,
// where the offset is the guest physical address. If mem already implements
// io.ReaderAt (eg, because it supports bulk reads), it is returned as is.
// Reads beyond the 32-bit address space return io.EOF.
func NewGuestMemoryReader(mem GuestMemory) io.ReaderAt {
	if r, ok := mem.(io.ReaderAt); ok {
		return r
	}
	return &guestMemoryReader{mem: mem}
}

// sectionReader returns a reader for n bytes of guest memory at addr.
func sectionReader(r io.ReaderAt, addr uint32, n int64) *io.SectionReader {
	return io.NewSectionReader(r, int64(addr), n)
}
