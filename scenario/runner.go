// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package scenario

import (
	"errors"
	"log/slog"
	"time"

	"golang.org/x/xerrors"

	vmgenid "github.com/canonical/go-vmgenid"
	"github.com/canonical/go-vmgenid/qemu"
)

// Guest is a running guest that a scenario probes.
type Guest interface {
	Memory() vmgenid.GuestMemory
	Monitor() vmgenid.Monitor
	Close() error
}

// Launcher starts a guest with the supplied configuration.
type Launcher func(config *qemu.Config) (Guest, error)

type qemuGuest struct {
	*qemu.Instance
}

func (g qemuGuest) Memory() vmgenid.GuestMemory {
	return g.Instance.Memory()
}

func (g qemuGuest) Monitor() vmgenid.Monitor {
	return g.Instance.Monitor()
}

// LaunchQEMU is a Launcher that starts a real QEMU process.
func LaunchQEMU(config *qemu.Config) (Guest, error) {
	inst, err := qemu.Launch(config)
	if err != nil {
		return nil, err
	}
	return qemuGuest{inst}, nil
}

// Status is the outcome of a scenario.
type Status string

const (
	StatusPassed  Status = "PASS"
	StatusFailed  Status = "FAIL"
	StatusSkipped Status = "SKIP"
)

// Result is the result of running a single scenario.
type Result struct {
	Name   string
	Source Source
	Status Status

	// State is the last state that the scenario reached before it was
	// stopped.
	State State

	Measured  vmgenid.GUID
	Discovery *vmgenid.Discovery // Only set for the memory source
	Err       error
	Duration  time.Duration
}

// ErrMonitorNotExercised is returned from Results.Err when every scenario
// that reads from the management channel was skipped.
var ErrMonitorNotExercised = errors.New("no scenario read the generation ID from the management channel")

// Results is the result of running a set of scenarios.
type Results struct {
	Scenarios []*Result
	Passed    int
	Failed    int
	Skipped   int
	Duration  time.Duration

	// Err is a failure of the run as a whole.
	Err error
}

// OK indicates whether the run succeeded.
func (r *Results) OK() bool {
	return r.Failed == 0 && r.Err == nil
}

func (r *Results) add(result *Result) {
	r.Scenarios = append(r.Scenarios, result)
	switch result.Status {
	case StatusPassed:
		r.Passed++
	case StatusFailed:
		r.Failed++
	case StatusSkipped:
		r.Skipped++
	}
}

// Runner runs scenarios one at a time, each against a fresh guest.
type Runner struct {
	// Launch starts guests. Defaults to LaunchQEMU.
	Launch Launcher

	// Config is the base configuration for every guest. The scenario's
	// device and extra arguments are added to a copy of it.
	Config qemu.Config

	// Policy is used to wait for the firmware to publish the ACPI tables.
	Policy vmgenid.RetryPolicy

	// RequireMonitor makes RunAll fail if every scenario that reads from
	// the management channel was skipped.
	RequireMonitor bool

	Logger *slog.Logger
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

func (r *Runner) launcher() Launcher {
	if r.Launch == nil {
		return LaunchQEMU
	}
	return r.Launch
}

func (r *Runner) guestConfig(s *Scenario) *qemu.Config {
	config := r.Config
	config.Devices = []qemu.VMGenIDDevice{s.Device}
	config.ExtraArgs = append(append([]string(nil), r.Config.ExtraArgs...), s.ExtraArgs...)
	if config.Logger == nil {
		config.Logger = r.Logger
	}
	return &config
}

// Run runs a single scenario. The guest is always stopped before Run
// returns, including when the scenario fails.
func (r *Runner) Run(s *Scenario) (result *Result) {
	logger := r.logger().With("scenario", s.Name)
	start := time.Now()

	result = &Result{Name: s.Name, Source: s.source(), State: StateConfigured}
	fail := func(err error) *Result {
		result.Status = StatusFailed
		result.Err = err
		return result
	}
	defer func() {
		result.Duration = time.Since(start)
		logger.Info("scenario finished", "status", result.Status, "state", result.State, "duration", result.Duration)
	}()

	transition := func(state State) {
		logger.Debug("scenario state changed", "from", result.State, "to", state)
		result.State = state
	}

	if err := s.Validate(); err != nil {
		return fail(xerrors.Errorf("invalid scenario: %w", err))
	}

	guest, err := r.launcher()(r.guestConfig(s))
	if err != nil {
		return fail(xerrors.Errorf("cannot launch guest: %w", err))
	}
	transition(StateStarted)

	defer func() {
		if err := guest.Close(); err != nil {
			logger.Warn("cannot stop guest", "error", err)
			if result.Status != StatusFailed {
				fail(xerrors.Errorf("cannot stop guest: %w", err))
			}
		}
		transition(StateStopped)
	}()

	var source vmgenid.IdentifierSource
	switch s.source() {
	case SourceMemory:
		source = &vmgenid.MemorySource{
			Memory: guest.Memory(),
			Policy: r.Policy,
			Discovered: func(d *vmgenid.Discovery) {
				result.Discovery = d
				logger.Debug("generation ID discovered",
					"rsdp", d.RSDPAddress, "table", d.Table, "vgia", d.VGIA, "address", d.GUIDAddress)
			}}
	case SourceMonitor:
		source = &vmgenid.MonitorSource{Monitor: guest.Monitor()}
	}

	measured, err := source.ReadGUID()
	switch {
	case xerrors.Is(err, vmgenid.ErrNotExposed):
		logger.Info("generation ID not exposed", "source", s.source(), "reason", err)
		result.Status = StatusSkipped
		result.Err = err
		return result
	case err != nil:
		return fail(xerrors.Errorf("cannot read generation ID: %w", err))
	}
	result.Measured = measured
	transition(StateProbed)

	if err := s.Check(measured); err != nil {
		return fail(err)
	}
	transition(StateAsserted)

	result.Status = StatusPassed
	return result
}

// RunAll runs the supplied scenarios in order.
func (r *Runner) RunAll(scenarios []*Scenario) *Results {
	start := time.Now()
	results := new(Results)

	monitorScenarios := 0
	monitorExercised := false
	for _, s := range scenarios {
		result := r.Run(s)
		results.add(result)

		if s.source() == SourceMonitor {
			monitorScenarios++
			if result.Status != StatusSkipped {
				monitorExercised = true
			}
		}
	}

	if r.RequireMonitor && monitorScenarios > 0 && !monitorExercised {
		results.Err = ErrMonitorNotExercised
	}

	results.Duration = time.Since(start)
	return results
}
