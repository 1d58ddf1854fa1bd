// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package vmgenid_test

import (
	"bytes"

	. "gopkg.in/check.v1"

	. "github.com/canonical/go-vmgenid"
)

type guidSuite struct{}

var _ = Suite(&guidSuite{})

type testMakeGUIDData struct {
	a        uint32
	b        uint16
	c        uint16
	d        uint16
	e        [6]uint8
	expected string
}

func (s *guidSuite) testMakeGUID(c *C, data *testMakeGUIDData) {
	g := MakeGUID(data.a, data.b, data.c, data.d, data.e)
	c.Check(g, Equals, decodeGUID(c, data.expected))
}

func (s *guidSuite) TestMakeGUID1(c *C) {
	s.testMakeGUID(c, &testMakeGUIDData{
		a: 0x324e6eaf, b: 0xd1d1, c: 0x4bf6, d: 0xbf41, e: [...]uint8{0xb9, 0xbb, 0x6c, 0x91, 0xfb, 0x87},
		expected: "324e6eafd1d14bf6bf41b9bb6c91fb87"})
}

func (s *guidSuite) TestMakeGUID2(c *C) {
	s.testMakeGUID(c, &testMakeGUIDData{
		a: 0x8be4df61, b: 0x93ca, c: 0x11d2, d: 0xaa0d, e: [...]uint8{0x00, 0xe0, 0x98, 0x03, 0x2b, 0x8c},
		expected: "8be4df6193ca11d2aa0d00e098032b8c"})
}

type testGUIDStringData struct {
	x        string
	expected string
}

func (s *guidSuite) testGUIDString(c *C, data *testGUIDStringData) {
	c.Check(decodeGUID(c, data.x).String(), Equals, data.expected)
}

func (s *guidSuite) TestGUIDString1(c *C) {
	s.testGUIDString(c, &testGUIDStringData{
		x:        "324e6eafd1d14bf6bf41b9bb6c91fb87",
		expected: "324e6eaf-d1d1-4bf6-bf41-b9bb6c91fb87"})
}

func (s *guidSuite) TestGUIDString2(c *C) {
	s.testGUIDString(c, &testGUIDStringData{
		x:        "d719b2cb3d3a4596a3bcdad00e67656f",
		expected: "d719b2cb-3d3a-4596-a3bc-dad00e67656f"})
}

func (s *guidSuite) TestGUIDStringNull(c *C) {
	c.Check(NullGUID.String(), Equals, "00000000-0000-0000-0000-000000000000")
}

func (s *guidSuite) TestIsNull(c *C) {
	c.Check(NullGUID.IsNull(), Equals, true)
	c.Check(GUID{}.IsNull(), Equals, true)
	c.Check(testGUID.IsNull(), Equals, false)

	var g GUID
	g[15] = 1
	c.Check(g.IsNull(), Equals, false)
}

func (s *guidSuite) TestSwapped(c *C) {
	c.Check(testGUID.Swapped(), Equals, decodeGUID(c, "af6e4e32d1d1f64bbf41b9bb6c91fb87"))
}

func (s *guidSuite) TestSwappedIsInvolution(c *C) {
	for _, g := range []GUID{
		testGUID,
		NullGUID,
		decodeGUID(c, "000102030405060708090a0b0c0d0e0f"),
		decodeGUID(c, "ffffffffffffffffffffffffffffffff"),
	} {
		c.Check(g.Swapped().Swapped(), Equals, g)
	}
}

type testReadGUIDData struct {
	r        *bytes.Reader
	expected GUID
}

func (s *guidSuite) testReadGUID(c *C, data *testReadGUIDData) {
	start := data.r.Len()
	out, err := ReadGUID(data.r)
	c.Check(err, IsNil)
	c.Check(start-data.r.Len(), Equals, 16)
	c.Check(out, Equals, data.expected)
}

func (s *guidSuite) TestReadGUID1(c *C) {
	s.testReadGUID(c, &testReadGUIDData{
		r:        bytes.NewReader(decodeHexString(c, "af6e4e32d1d1f64bbf41b9bb6c91fb87")),
		expected: testGUID})
}

func (s *guidSuite) TestReadGUID2(c *C) {
	s.testReadGUID(c, &testReadGUIDData{
		r:        bytes.NewReader(decodeHexString(c, "cbb219d73a3d9645a3bcdad00e67656fa8cd")),
		expected: decodeGUID(c, "d719b2cb3d3a4596a3bcdad00e67656f")})
}

func (s *guidSuite) TestReadGUIDShort(c *C) {
	_, err := ReadGUID(bytes.NewReader(decodeHexString(c, "af6e4e32d1d1f64b")))
	c.Check(err, ErrorMatches, "unexpected EOF")
}

type testParseGUIDData struct {
	str      string
	expected GUID
}

func (s *guidSuite) testParseGUID(c *C, data *testParseGUIDData) {
	guid, err := ParseGUID(data.str)
	c.Check(err, IsNil)
	c.Check(guid, Equals, data.expected)
}

func (s *guidSuite) TestParseGUID1(c *C) {
	s.testParseGUID(c, &testParseGUIDData{
		str:      "324e6eaf-d1d1-4bf6-bf41-b9bb6c91fb87",
		expected: testGUID})
}

func (s *guidSuite) TestParseGUID2(c *C) {
	s.testParseGUID(c, &testParseGUIDData{
		str:      "{324e6eaf-d1d1-4bf6-bf41-b9bb6c91fb87}",
		expected: testGUID})
}

func (s *guidSuite) TestParseGUID3(c *C) {
	s.testParseGUID(c, &testParseGUIDData{
		str:      "8BE4DF61-93CA-11D2-AA0D-00E098032B8C",
		expected: MakeGUID(0x8be4df61, 0x93ca, 0x11d2, 0xaa0d, [...]uint8{0x00, 0xe0, 0x98, 0x03, 0x2b, 0x8c})})
}

func (s *guidSuite) TestParseGUIDStringRoundTrip(c *C) {
	guid, err := ParseGUID(testGUID.String())
	c.Check(err, IsNil)
	c.Check(guid, Equals, testGUID)
}

func (s *guidSuite) TestParseInvalidGUID1(c *C) {
	_, err := ParseGUID("324e6eaf-d1d1-4bf6-bf41-b9bb6c91fb8")
	c.Check(err, ErrorMatches, "invalid format")
}

func (s *guidSuite) TestParseInvalidGUID2(c *C) {
	_, err := ParseGUID("324e6eafd1d14bf6bf41b9bb6c91fb87")
	c.Check(err, ErrorMatches, "invalid format")
}

func (s *guidSuite) TestParseInvalidGUID3(c *C) {
	_, err := ParseGUID("324e6eaf-d1d1-4bf6-bf41-b9bb6c91fbzz")
	c.Check(err, ErrorMatches, "invalid format")
}

func (s *guidSuite) TestParseInvalidGUID4(c *C) {
	_, err := ParseGUID("auto")
	c.Check(err, ErrorMatches, "invalid format")
}

func (s *guidSuite) TestParseCanonicalGUID(c *C) {
	guid, err := ParseCanonicalGUID("324e6eaf-d1d1-4bf6-bf41-b9bb6c91fb87")
	c.Check(err, IsNil)
	c.Check(guid, Equals, testGUID)
}

func (s *guidSuite) TestParseCanonicalGUIDBraces(c *C) {
	_, err := ParseCanonicalGUID("{324e6eaf-d1d1-4bf6-bf41-b9bb6c91fb87}")
	c.Check(err, ErrorMatches, "braces are not accepted")
}

func (s *guidSuite) TestParseCanonicalGUIDInvalid(c *C) {
	_, err := ParseCanonicalGUID("324e6eaf")
	c.Check(err, ErrorMatches, "invalid format")
}
