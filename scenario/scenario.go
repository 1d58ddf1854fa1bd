// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

// Package scenario runs VM generation ID test scenarios against launched
// guests. Each scenario launches a guest with a single generation ID
// device, reads the generation ID back from guest memory or from the
// management channel, and compares it against the configured value.
package scenario

import (
	"errors"
	"fmt"

	"golang.org/x/xerrors"

	vmgenid "github.com/canonical/go-vmgenid"
	"github.com/canonical/go-vmgenid/qemu"
)

// Source selects where a scenario reads the generation ID from.
type Source string

const (
	SourceMemory  Source = "memory"
	SourceMonitor Source = "monitor"
)

// Expectation describes the check applied to the measured generation ID.
type Expectation string

const (
	// ExpectConfigured requires the measured value to equal the GUID
	// configured on the device.
	ExpectConfigured Expectation = "configured"

	// ExpectNonNull requires the measured value to be any non-null GUID.
	// This is used with automatically generated values.
	ExpectNonNull Expectation = "non-null"
)

// State is the lifecycle state of a running scenario.
type State int

const (
	StateConfigured State = iota
	StateStarted
	StateProbed
	StateAsserted
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateConfigured:
		return "configured"
	case StateStarted:
		return "started"
	case StateProbed:
		return "probed"
	case StateAsserted:
		return "asserted"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Scenario describes a single test case.
type Scenario struct {
	Name   string             `yaml:"name"`
	Device qemu.VMGenIDDevice `yaml:"device"`
	Source Source             `yaml:"source"`

	// Expect defaults to ExpectConfigured if the device has an explicit
	// GUID, and ExpectNonNull otherwise.
	Expect Expectation `yaml:"expect"`

	// ExtraArgs are appended to the QEMU command line.
	ExtraArgs []string `yaml:"extra_args"`
}

func (s *Scenario) source() Source {
	if s.Source == "" {
		return SourceMemory
	}
	return s.Source
}

func (s *Scenario) expectation() Expectation {
	if s.Expect != "" {
		return s.Expect
	}
	if _, explicit, _ := s.Device.ExplicitGUID(); explicit {
		return ExpectConfigured
	}
	return ExpectNonNull
}

// Validate checks that the scenario is well formed.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return errors.New("missing name")
	}
	if err := s.Device.Validate(); err != nil {
		return xerrors.Errorf("invalid device: %w", err)
	}

	switch s.source() {
	case SourceMemory, SourceMonitor:
	default:
		return fmt.Errorf("invalid source %q", s.Source)
	}

	switch s.expectation() {
	case ExpectConfigured:
		if _, explicit, _ := s.Device.ExplicitGUID(); !explicit {
			return errors.New("cannot expect the configured GUID for a device without an explicit GUID")
		}
	case ExpectNonNull:
	default:
		return fmt.Errorf("invalid expectation %q", s.Expect)
	}

	return nil
}

// MismatchError is returned when the measured generation ID does not match
// the configured one.
type MismatchError struct {
	Expected vmgenid.GUID
	Measured vmgenid.GUID
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("measured generation ID %s does not match configured %s", e.Measured, e.Expected)
}

// ErrNullGUID is returned when a non-null generation ID was expected.
var ErrNullGUID = errors.New("measured generation ID is null")

// Check applies the scenario's expectation to a measured generation ID.
func (s *Scenario) Check(measured vmgenid.GUID) error {
	switch s.expectation() {
	case ExpectConfigured:
		expected, _, err := s.Device.ExplicitGUID()
		if err != nil {
			return err
		}
		if measured != expected {
			return &MismatchError{Expected: expected, Measured: measured}
		}
	case ExpectNonNull:
		if measured.IsNull() {
			return ErrNullGUID
		}
	}
	return nil
}

const (
	// DefaultGUID is the generation ID configured by the built-in
	// scenarios that use an explicit value.
	DefaultGUID = "324e6eaf-d1d1-4bf6-bf41-b9bb6c91fb87"

	// DefaultDeviceID is the device ID used by the built-in scenarios.
	DefaultDeviceID = "testvgid"
)

// DefaultScenarios returns the built-in scenarios.
func DefaultScenarios() []*Scenario {
	return []*Scenario{
		{
			Name:   "/vmgenid/vmgenid/set-guid",
			Device: qemu.VMGenIDDevice{ID: DefaultDeviceID, GUID: DefaultGUID},
			Source: SourceMemory,
			Expect: ExpectConfigured,
		},
		{
			Name:   "/vmgenid/vmgenid/set-guid-auto",
			Device: qemu.VMGenIDDevice{ID: DefaultDeviceID, GUID: qemu.AutoGUID},
			Source: SourceMemory,
			Expect: ExpectNonNull,
		},
		{
			Name:   "/vmgenid/vmgenid/query-monitor",
			Device: qemu.VMGenIDDevice{ID: DefaultDeviceID, GUID: DefaultGUID},
			Source: SourceMonitor,
			Expect: ExpectConfigured,
		},
	}
}
