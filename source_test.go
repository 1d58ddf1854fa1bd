// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package vmgenid_test

import (
	"encoding/json"
	"errors"
	"time"

	"golang.org/x/xerrors"

	. "gopkg.in/check.v1"

	. "github.com/canonical/go-vmgenid"
	"github.com/canonical/go-vmgenid/internal/acpitest"
	"github.com/canonical/go-vmgenid/qmp"
)

type mockMonitor struct {
	ret      json.RawMessage
	err      error
	commands []string
}

func (m *mockMonitor) Execute(cmd string, arguments interface{}) (json.RawMessage, error) {
	m.commands = append(m.commands, cmd)
	return m.ret, m.err
}

type sourceSuite struct {
	sleeps  int
	slept   time.Duration
	restore func()
}

func (s *sourceSuite) SetUpTest(c *C) {
	s.sleeps = 0
	s.slept = 0
	s.restore = MockTimeSleep(func(d time.Duration) {
		s.sleeps++
		s.slept += d
	})
}

func (s *sourceSuite) TearDownTest(c *C) {
	s.restore()
}

var _ = Suite(&sourceSuite{})

func (s *sourceSuite) TestDiscover(c *C) {
	layout := acpitest.NewLayout(testGUID.Swapped())
	mem := layout.Build()

	d, err := Discover(mem, DefaultRetryPolicy())
	c.Assert(err, IsNil)
	c.Check(d.RSDPAddress, Equals, uint32(acpitest.DefaultRSDPAddress))
	c.Check(d.RootTable.Header.Address, Equals, uint32(acpitest.DefaultRSDTAddress))
	c.Check(d.RootTable.Entries, DeepEquals, layout.Entries())
	c.Check(d.Table.Address, Equals, uint32(acpitest.DefaultTableAddress))
	c.Check(d.Table.Signature, Equals, "SSDT")
	c.Check(d.VGIA, Equals, uint32(acpitest.DefaultVGIA))
	c.Check(d.GUIDAddress, Equals, uint32(acpitest.DefaultVGIA+40))
}

func (s *sourceSuite) TestDiscoverRevision0(c *C) {
	layout := acpitest.NewLayout(testGUID.Swapped())
	layout.RSDPRevision = 0
	layout.RSDPAddress = 0xfffe0

	d, err := Discover(layout.Build(), DefaultRetryPolicy())
	c.Assert(err, IsNil)
	c.Check(d.RSDPAddress, Equals, uint32(0xfffe0))
	c.Check(d.GUIDAddress, Equals, uint32(acpitest.DefaultVGIA+40))
}

func (s *sourceSuite) TestDiscoverTableNotFound(c *C) {
	layout := acpitest.NewLayout(testGUID.Swapped())
	mem := layout.Build()
	mem.Write(layout.TableAddress, acpitest.Table("SSDT", "BXPCSSDT", acpitest.VGIA(layout.VGIA)))

	_, err := Discover(mem, DefaultRetryPolicy())
	c.Check(err, ErrorMatches, "cannot find VMGENID table: no table with the requested OEM table ID")
	c.Check(xerrors.Is(err, ErrTableNotFound), Equals, true)
}

func (s *sourceSuite) TestDiscoverMalformedRootTable(c *C) {
	layout := acpitest.NewLayout(testGUID.Swapped())
	mem := layout.Build()
	mem.Write(layout.RSDTAddress, acpitest.RSDT())

	_, err := Discover(mem, DefaultRetryPolicy())
	c.Check(err, ErrorMatches, `cannot read root table: malformed RSDT at 0x7ffe1000: no entries \(length 36\)`)
	c.Check(s.sleeps, Equals, 0)
}

func (s *sourceSuite) TestMemorySource(c *C) {
	mem := acpitest.NewLayout(testGUID.Swapped()).Build()

	var discovered *Discovery
	source := &MemorySource{
		Memory:     mem,
		Policy:     DefaultRetryPolicy(),
		Discovered: func(d *Discovery) { discovered = d }}
	guid, err := source.ReadGUID()
	c.Check(err, IsNil)
	c.Check(guid[:], DeepEquals, decodeHexString(c, "324e6eafd1d14bf6bf41b9bb6c91fb87"))
	c.Check(guid.String(), Equals, "324e6eaf-d1d1-4bf6-bf41-b9bb6c91fb87")
	c.Assert(discovered, NotNil)
	c.Check(discovered.GUIDAddress, Equals, uint32(acpitest.DefaultVGIA+40))
}

func (s *sourceSuite) TestMemorySourceByteMemory(c *C) {
	mem := acpitest.NewLayout(testGUID.Swapped()).Build()

	source := &MemorySource{Memory: acpitest.ByteMemory{Memory: mem}, Policy: DefaultRetryPolicy()}
	guid, err := source.ReadGUID()
	c.Check(err, IsNil)
	c.Check(guid, Equals, testGUID)
}

func (s *sourceSuite) TestMemorySourceIsDeterministic(c *C) {
	mem := acpitest.NewLayout(testGUID.Swapped()).Build()
	source := &MemorySource{Memory: mem, Policy: DefaultRetryPolicy()}

	guid1, err := source.ReadGUID()
	c.Check(err, IsNil)
	guid2, err := source.ReadGUID()
	c.Check(err, IsNil)
	c.Check(guid1, Equals, guid2)
}

func (s *sourceSuite) TestMemorySourceLatePublish(c *C) {
	mem := acpitest.NewLayout(testGUID.Swapped()).Build()
	mem.PublishAfter(10)

	source := &MemorySource{Memory: mem, Policy: DefaultRetryPolicy()}
	guid, err := source.ReadGUID()
	c.Check(err, IsNil)
	c.Check(guid, Equals, testGUID)
	c.Check(s.sleeps, Equals, 10)
}

func (s *sourceSuite) TestMemorySourceTimeout(c *C) {
	mem := acpitest.NewLayout(testGUID.Swapped()).Build()
	mem.PublishAfter(10)

	source := &MemorySource{Memory: mem, Policy: RetryPolicy{Attempts: 10, Interval: time.Millisecond}}
	_, err := source.ReadGUID()
	c.Check(err, ErrorMatches, "cannot discover generation ID address: no RSDP below 0x100000 after 10 attempts: "+
		"timeout waiting for firmware to publish ACPI tables")
	c.Check(xerrors.Is(err, ErrDiscoveryTimeout), Equals, true)
	c.Check(s.sleeps, Equals, 9)
}

func (s *sourceSuite) TestMemorySourceNullGUID(c *C) {
	mem := acpitest.NewLayout(NullGUID).Build()

	source := &MemorySource{Memory: mem, Policy: DefaultRetryPolicy()}
	guid, err := source.ReadGUID()
	c.Check(err, IsNil)
	c.Check(guid.IsNull(), Equals, true)
}

func (s *sourceSuite) TestReadGUIDAtTruncated(c *C) {
	_, err := ReadGUIDAt(acpitest.NewMemory(), 0xfffffff8)
	c.Check(err, ErrorMatches, "cannot read GUID at 0xfffffff8: unexpected EOF")
}

func (s *sourceSuite) TestMonitorSource(c *C) {
	monitor := &mockMonitor{ret: json.RawMessage(`{"guid": "324e6eaf-d1d1-4bf6-bf41-b9bb6c91fb87"}`)}

	guid, err := (&MonitorSource{Monitor: monitor}).ReadGUID()
	c.Check(err, IsNil)
	c.Check(guid, Equals, testGUID)
	c.Check(monitor.commands, DeepEquals, []string{"query-vm-generation-id"})
}

func (s *sourceSuite) TestMemorySourceZeroPolicyWaits(c *C) {
	_, err := (&MemorySource{Memory: acpitest.NewMemory()}).ReadGUID()
	c.Check(xerrors.Is(err, ErrDiscoveryTimeout), Equals, true)
	c.Check(s.sleeps, Equals, DefaultRetryAttempts-1)
	c.Check(s.slept, Equals, time.Duration(DefaultRetryAttempts-1)*DefaultRetryInterval)
}

func (s *sourceSuite) TestSourcesAgree(c *C) {
	mem := acpitest.NewLayout(testGUID.Swapped()).Build()
	monitor := &mockMonitor{ret: json.RawMessage(`{"guid": "324e6eaf-d1d1-4bf6-bf41-b9bb6c91fb87"}`)}

	var sources []IdentifierSource
	sources = append(sources, &MemorySource{Memory: mem}, &MonitorSource{Monitor: monitor})

	var guids []GUID
	for _, source := range sources {
		guid, err := source.ReadGUID()
		c.Assert(err, IsNil)
		guids = append(guids, guid)
	}
	c.Check(guids[0], Equals, guids[1])
}

func (s *sourceSuite) TestMonitorSourceNoReturn(c *C) {
	monitor := &mockMonitor{err: qmp.ErrNoReturn}

	_, err := (&MonitorSource{Monitor: monitor}).ReadGUID()
	c.Check(err, Equals, ErrNotExposed)
}

func (s *sourceSuite) TestMonitorSourceCommandNotFound(c *C) {
	monitor := &mockMonitor{err: &qmp.Error{Class: "CommandNotFound", Desc: "The command query-vm-generation-id has not been found"}}

	_, err := (&MonitorSource{Monitor: monitor}).ReadGUID()
	c.Check(err, ErrorMatches, "CommandNotFound: The command query-vm-generation-id has not been found: "+
		"generation ID is not exposed by this source")
	c.Check(xerrors.Is(err, ErrNotExposed), Equals, true)
}

func (s *sourceSuite) TestMonitorSourceError(c *C) {
	monitor := &mockMonitor{err: errors.New("broken pipe")}

	_, err := (&MonitorSource{Monitor: monitor}).ReadGUID()
	c.Check(err, ErrorMatches, "cannot execute query-vm-generation-id: broken pipe")
	c.Check(xerrors.Is(err, ErrNotExposed), Equals, false)
}

func (s *sourceSuite) TestMonitorSourceMissingGUID(c *C) {
	monitor := &mockMonitor{ret: json.RawMessage(`{}`)}

	_, err := (&MonitorSource{Monitor: monitor}).ReadGUID()
	c.Check(err, ErrorMatches, "query-vm-generation-id response has no guid field")
}

func (s *sourceSuite) TestMonitorSourceInvalidGUID(c *C) {
	monitor := &mockMonitor{ret: json.RawMessage(`{"guid": "324e6eaf"}`)}

	_, err := (&MonitorSource{Monitor: monitor}).ReadGUID()
	c.Check(err, ErrorMatches, `cannot parse guid "324e6eaf": invalid format`)
}

func (s *sourceSuite) TestMonitorSourceBracedGUID(c *C) {
	monitor := &mockMonitor{ret: json.RawMessage(`{"guid": "{324e6eaf-d1d1-4bf6-bf41-b9bb6c91fb87}"}`)}

	_, err := (&MonitorSource{Monitor: monitor}).ReadGUID()
	c.Check(err, ErrorMatches, `cannot parse guid "\{324e6eaf-d1d1-4bf6-bf41-b9bb6c91fb87\}": braces are not accepted`)
}

func (s *sourceSuite) TestMonitorSourceInvalidResponse(c *C) {
	monitor := &mockMonitor{ret: json.RawMessage(`[]`)}

	_, err := (&MonitorSource{Monitor: monitor}).ReadGUID()
	c.Check(err, ErrorMatches, "cannot decode query-vm-generation-id response: .*")
}
