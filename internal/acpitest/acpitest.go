// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

// Package acpitest builds synthetic guest memory images containing ACPI
// tables for testing.
package acpitest

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
	"sort"
	"sync"

	"github.com/canonical/go-vmgenid/internal/acpi"
)

const (
	biosAreaStart   = 0xf0000
	biosAreaCeiling = 0x100000

	pageSize = 4096
)

// Memory is a sparse guest physical address space. Unwritten memory reads
// as zero. It implements both GuestMemory and io.ReaderAt.
type Memory struct {
	mu    sync.Mutex
	pages map[uint32][]byte

	hiddenScans int
	scans       int
	reads       int

	// Err is returned from every read if set.
	Err error
}

// NewMemory returns a new empty address space.
func NewMemory() *Memory {
	return &Memory{pages: make(map[uint32][]byte)}
}

// Write copies data into memory at the specified address.
func (m *Memory) Write(addr uint32, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, b := range data {
		a := addr + uint32(i)
		page, ok := m.pages[a/pageSize]
		if !ok {
			page = make([]byte, pageSize)
			m.pages[a/pageSize] = page
		}
		page[a%pageSize] = b
	}
}

// PublishAfter makes the BIOS area read as zero until it has been scanned
// the specified number of times, simulating firmware that populates the
// ACPI tables late. A scan is counted each time a read starts at the
// beginning of the BIOS area.
func (m *Memory) PublishAfter(scans int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hiddenScans = scans
	m.scans = 0
}

// Scans returns the number of times the BIOS area has been scanned.
func (m *Memory) Scans() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scans
}

// Reads returns the number of read operations performed.
func (m *Memory) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

func (m *Memory) byteAt(addr uint32) uint8 {
	if addr >= biosAreaStart && addr < biosAreaCeiling && m.hiddenScans > 0 && m.scans <= m.hiddenScans {
		return 0
	}
	page, ok := m.pages[addr/pageSize]
	if !ok {
		return 0
	}
	return page[addr%pageSize]
}

func (m *Memory) countScan(addr uint32) {
	if addr == biosAreaStart {
		m.scans++
	}
}

func (m *Memory) Readb(addr uint32) (uint8, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reads++
	if m.Err != nil {
		return 0, m.Err
	}
	m.countScan(addr)
	return m.byteAt(addr), nil
}

func (m *Memory) ReadAt(p []byte, off int64) (n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reads++
	if m.Err != nil {
		return 0, m.Err
	}
	if off < 0 {
		return 0, errors.New("negative offset")
	}
	if off <= math.MaxUint32 {
		m.countScan(uint32(off))
	}
	for n < len(p) {
		addr := off + int64(n)
		if addr > math.MaxUint32 {
			return n, io.EOF
		}
		p[n] = m.byteAt(uint32(addr))
		n++
	}
	return n, nil
}

// ByteMemory wraps a Memory so that it only exposes byte reads.
type ByteMemory struct {
	Memory *Memory
}

func (m ByteMemory) Readb(addr uint32) (uint8, error) {
	return m.Memory.Readb(addr)
}

// Checksum returns the value that makes the byte sum of b zero.
func Checksum(b []byte) uint8 {
	return -acpi.Checksum(b)
}

// RSDP returns a RSDP with valid checksums that points to the RSDT at
// rsdtAddr. Revision 2 and later descriptors are 36 bytes long.
func RSDP(revision uint8, rsdtAddr uint32) []byte {
	size := acpi.RSDPChecksumLength
	if revision >= 2 {
		size = 36
	}
	b := make([]byte, size)
	copy(b, acpi.RSDP_SIGNATURE)
	copy(b[9:15], "BOCHS ")
	b[15] = revision
	binary.LittleEndian.PutUint32(b[16:20], rsdtAddr)
	b[8] = Checksum(b[:acpi.RSDPChecksumLength])
	if revision >= 2 {
		binary.LittleEndian.PutUint32(b[20:24], uint32(size))
		b[32] = Checksum(b)
	}
	return b
}

// Table returns an ACPI table with the specified signature, OEM table ID and
// body, and a valid checksum.
func Table(signature, oemTableID string, body []byte) []byte {
	b := make([]byte, acpi.TableHeaderSize+len(body))
	copy(b[0:4], signature)
	binary.LittleEndian.PutUint32(b[4:8], uint32(len(b)))
	b[8] = 1
	copy(b[10:16], "BOCHS ")
	copy(b[16:24], oemTableID)
	binary.LittleEndian.PutUint32(b[24:28], 1)
	copy(b[28:32], "BXPC")
	binary.LittleEndian.PutUint32(b[32:36], 1)
	copy(b[acpi.TableHeaderSize:], body)
	b[9] = Checksum(b)
	return b
}

// RSDT returns a RSDT referencing the supplied table addresses.
func RSDT(entries ...uint32) []byte {
	body := make([]byte, len(entries)*acpi.RSDTEntrySize)
	for i, e := range entries {
		binary.LittleEndian.PutUint32(body[i*acpi.RSDTEntrySize:], e)
	}
	return Table(acpi.RSDT_SIGNATURE, "BXPCRSDT", body)
}

// VGIA returns the AML encoding of Name(VGIA, addr).
func VGIA(addr uint32) []byte {
	b := []byte{acpi.AML_NAME_OP, 'V', 'G', 'I', 'A', acpi.AML_DWORD_PREFIX, 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(b[6:], addr)
	return b
}

// GenerationIDTable returns a SSDT declaring the VGIA name with the supplied
// value, followed by a small method body.
func GenerationIDTable(vgia uint32) []byte {
	body := append(VGIA(vgia), 0x14, 0x08, '_', 'S', 'T', 'A', 0x00, 0xa4, 0x0a, 0x0f)
	return Table(acpi.SSDT_SIGNATURE, "VMGENID", body)
}

// Default addresses used by Layout.
const (
	DefaultRSDPAddress  = 0xf5a40
	DefaultRSDTAddress  = 0x7ffe1000
	DefaultTableAddress = 0x7ffe1200
	DefaultVGIA         = 0x7ffff000
)

// Layout describes a complete set of tables that publish a generation ID.
type Layout struct {
	RSDPAddress  uint32
	RSDPRevision uint8
	RSDTAddress  uint32

	// TableAddress is the address of the generation ID SSDT.
	TableAddress uint32

	// OtherTables are placed before the generation ID SSDT in the RSDT.
	OtherTables map[uint32][]byte

	VGIA uint32

	// GUID is written at VGIA+40 in the order that the guest stores it.
	GUID [16]byte
}

// NewLayout returns a layout using the default addresses, with a single
// unrelated table ahead of the generation ID SSDT.
func NewLayout(guid [16]byte) *Layout {
	return &Layout{
		RSDPAddress:  DefaultRSDPAddress,
		RSDPRevision: 2,
		RSDTAddress:  DefaultRSDTAddress,
		TableAddress: DefaultTableAddress,
		OtherTables: map[uint32][]byte{
			DefaultRSDTAddress + 0x100: Table("APIC", "BXPCAPIC", make([]byte, 8))},
		VGIA: DefaultVGIA,
		GUID: guid}
}

// GUIDAddress returns the address that the GUID is written to.
func (l *Layout) GUIDAddress() uint32 {
	return l.VGIA + 40
}

// Entries returns the RSDT entries for this layout.
func (l *Layout) Entries() []uint32 {
	var entries []uint32
	for addr := range l.OtherTables {
		entries = append(entries, addr)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i] < entries[j] })
	return append(entries, l.TableAddress)
}

// WriteTo writes the tables described by this layout to memory.
func (l *Layout) WriteTo(m *Memory) {
	m.Write(l.RSDPAddress, RSDP(l.RSDPRevision, l.RSDTAddress))
	m.Write(l.RSDTAddress, RSDT(l.Entries()...))
	for addr, table := range l.OtherTables {
		m.Write(addr, table)
	}
	m.Write(l.TableAddress, GenerationIDTable(l.VGIA))
	m.Write(l.GUIDAddress(), l.GUID[:])
}

// Build returns a new memory image containing the tables described by
// this layout.
func (l *Layout) Build() *Memory {
	m := NewMemory()
	l.WriteTo(m)
	return m
}
