// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package vmgenid

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// GUID is a 128-bit VM generation identifier in canonical (big-endian)
// byte order, which is the order in which it is written as a string.
type GUID [16]byte

// NullGUID is the all-zero GUID, used by the platform to mean "unset".
var NullGUID GUID

func (guid GUID) String() string {
	return fmt.Sprintf("%08x-%04x-%04x-%04x-%012x",
		binary.BigEndian.Uint32(guid[0:4]),
		binary.BigEndian.Uint16(guid[4:6]),
		binary.BigEndian.Uint16(guid[6:8]),
		binary.BigEndian.Uint16(guid[8:10]),
		guid[10:16])
}

// IsNull indicates whether this is the all-zero GUID.
func (guid GUID) IsNull() bool {
	return guid == NullGUID
}

// Swapped converts between canonical byte order and the layout used in
// guest memory, where the first three fields are stored little-endian.
// Applying it twice returns the original value.
func (guid GUID) Swapped() (out GUID) {
	binary.LittleEndian.PutUint32(out[0:4], binary.BigEndian.Uint32(guid[0:4]))
	binary.LittleEndian.PutUint16(out[4:6], binary.BigEndian.Uint16(guid[4:6]))
	binary.LittleEndian.PutUint16(out[6:8], binary.BigEndian.Uint16(guid[6:8]))
	copy(out[8:], guid[8:])
	return
}

// MakeGUID makes a new GUID from the supplied fields.
func MakeGUID(a uint32, b, c, d uint16, e [6]uint8) (out GUID) {
	binary.BigEndian.PutUint32(out[0:4], a)
	binary.BigEndian.PutUint16(out[4:6], b)
	binary.BigEndian.PutUint16(out[6:8], c)
	binary.BigEndian.PutUint16(out[8:10], d)
	copy(out[10:], e[:])
	return
}

// ReadGUID reads a GUID stored in the guest memory layout from the
// supplied io.Reader and returns it in canonical byte order.
func ReadGUID(r io.Reader) (out GUID, err error) {
	if _, err := io.ReadFull(r, out[:]); err != nil {
		return GUID{}, err
	}
	return out.Swapped(), nil
}

var guidRe = regexp.MustCompile(`^\{?([[:xdigit:]]{8})-([[:xdigit:]]{4})-([[:xdigit:]]{4})-([[:xdigit:]]{4})-([[:xdigit:]]{12})\}?$`)

// ParseGUID decodes the supplied GUID string. The string must have the
// format "xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx" and may be surrounded by
// curly braces.
func ParseGUID(s string) (out GUID, err error) {
	m := guidRe.FindStringSubmatch(s)
	if m == nil {
		return GUID{}, errors.New("invalid format")
	}

	b, err := hex.DecodeString(m[1] + m[2] + m[3] + m[4] + m[5])
	if err != nil {
		return GUID{}, err
	}
	copy(out[:], b)
	return out, nil
}

// ParseCanonicalGUID decodes the supplied GUID string, which must have the
// format "xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx". This is the only form that
// QEMU accepts and reports.
func ParseCanonicalGUID(s string) (GUID, error) {
	if strings.HasPrefix(s, "{") || strings.HasSuffix(s, "}") {
		return GUID{}, errors.New("braces are not accepted")
	}
	return ParseGUID(s)
}
