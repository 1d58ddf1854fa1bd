// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package qemu

import (
	"fmt"
	"strings"

	"golang.org/x/xerrors"

	"github.com/canonical/go-vmgenid"
)

// AutoGUID asks QEMU to generate a random generation ID.
const AutoGUID = "auto"

// VMGenIDDevice corresponds to a "-device vmgenid" option.
type VMGenIDDevice struct {
	ID   string // Opaque device ID
	GUID string // Literal GUID or AutoGUID. Empty uses the QEMU default
}

// Validate checks that the device can be passed to QEMU.
func (d *VMGenIDDevice) Validate() error {
	if strings.ContainsAny(d.ID, ",=") {
		return fmt.Errorf("invalid device ID %q", d.ID)
	}
	if d.GUID == "" || d.GUID == AutoGUID {
		return nil
	}
	if _, err := vmgenid.ParseCanonicalGUID(d.GUID); err != nil {
		return xerrors.Errorf("invalid guid %q: %w", d.GUID, err)
	}
	return nil
}

// ExplicitGUID returns the configured GUID. If the device is configured
// to use a generated GUID, false is returned.
func (d *VMGenIDDevice) ExplicitGUID() (guid vmgenid.GUID, explicit bool, err error) {
	if d.GUID == "" || d.GUID == AutoGUID {
		return vmgenid.GUID{}, false, nil
	}
	guid, err = vmgenid.ParseCanonicalGUID(d.GUID)
	if err != nil {
		return vmgenid.GUID{}, false, err
	}
	return guid, true, nil
}

func (d *VMGenIDDevice) String() string {
	opts := []string{"vmgenid"}
	if d.ID != "" {
		opts = append(opts, "id="+d.ID)
	}
	if d.GUID != "" {
		opts = append(opts, "guid="+d.GUID)
	}
	return strings.Join(opts, ",")
}

// ParseVMGenIDDevice parses a device option of the form
// "vmgenid,id=<id>,guid=<guid|auto>".
func ParseVMGenIDDevice(s string) (*VMGenIDDevice, error) {
	opts := strings.Split(s, ",")
	if opts[0] != "vmgenid" && opts[0] != "driver=vmgenid" {
		return nil, fmt.Errorf("unsupported device %q", opts[0])
	}

	d := new(VMGenIDDevice)
	for _, opt := range opts[1:] {
		kv := strings.SplitN(opt, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid option %q", opt)
		}
		switch kv[0] {
		case "id":
			d.ID = kv[1]
		case "guid":
			d.GUID = kv[1]
		default:
			return nil, fmt.Errorf("unrecognized option %q", kv[0])
		}
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}
