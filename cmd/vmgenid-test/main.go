// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"time"

	"github.com/jessevdk/go-flags"

	vmgenid "github.com/canonical/go-vmgenid"
	"github.com/canonical/go-vmgenid/qemu"
	"github.com/canonical/go-vmgenid/scenario"
)

type source scenario.Source

func (s source) MarshalFlag() (string, error) {
	switch scenario.Source(s) {
	case "", scenario.SourceMemory, scenario.SourceMonitor:
		return string(s), nil
	default:
		return "", fmt.Errorf("invalid value: %v", s)
	}
}

func (s *source) UnmarshalFlag(value string) error {
	switch scenario.Source(value) {
	case scenario.SourceMemory, scenario.SourceMonitor:
		*s = source(value)
	default:
		return fmt.Errorf("invalid value: %v", value)
	}
	return nil
}

type options struct {
	QEMU      string   `long:"qemu" description:"QEMU system emulator binary" default:"qemu-system-x86_64"`
	Accel     string   `long:"accel" description:"QEMU accelerator" default:"tcg"`
	QEMUArgs  []string `long:"qemu-arg" description:"Additional argument to pass to QEMU. May be repeated"`
	Scenarios string   `long:"scenarios" short:"f" description:"Load scenarios from the specified YAML file instead of using the built-in ones"`
	Run       string   `long:"run" description:"Only run scenarios with a name that matches the specified regular expression"`
	Source    source   `long:"source" description:"Only run scenarios that read from the specified source" choice:"memory" choice:"monitor"`
	List      bool     `long:"list" short:"l" description:"List the selected scenarios and exit"`

	RetryAttempts int           `long:"retry-attempts" description:"Number of times to scan for the ACPI tables (default: 100)"`
	RetryInterval time.Duration `long:"retry-interval" description:"Time between scans for the ACPI tables (default: 100ms)"`
	LaunchTimeout time.Duration `long:"launch-timeout" description:"Time to wait for QEMU to connect" default:"30s"`

	AllowMissingMonitor bool `long:"allow-missing-monitor" description:"Don't fail if the management channel doesn't expose the generation ID"`
	Verbose             bool `long:"verbose" short:"v" description:"Enable debug logging"`
}

var opts options

var errFailed = errors.New("one or more scenarios failed")

func selectScenarios(scenarios []*scenario.Scenario) ([]*scenario.Scenario, error) {
	var re *regexp.Regexp
	if opts.Run != "" {
		var err error
		re, err = regexp.Compile(opts.Run)
		if err != nil {
			return nil, fmt.Errorf("invalid --run pattern: %v", err)
		}
	}

	var out []*scenario.Scenario
	for _, s := range scenarios {
		if re != nil && !re.MatchString(s.Name) {
			continue
		}
		if opts.Source != "" && s.Source != scenario.Source(opts.Source) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func printResults(results *scenario.Results) {
	for _, r := range results.Scenarios {
		switch r.Status {
		case scenario.StatusPassed:
			fmt.Printf("%s %s (%s): %s\n", r.Status, r.Name, r.Duration.Round(time.Millisecond), r.Measured)
		default:
			fmt.Printf("%s %s (%s): %v\n", r.Status, r.Name, r.Duration.Round(time.Millisecond), r.Err)
		}
	}
	fmt.Printf("\n%d passed, %d failed, %d skipped in %s\n",
		results.Passed, results.Failed, results.Skipped, results.Duration.Round(time.Millisecond))
	if results.Err != nil {
		fmt.Fprintln(os.Stderr, results.Err)
	}
}

func run() error {
	if _, err := flags.Parse(&opts); err != nil {
		return err
	}

	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	scenarios := scenario.DefaultScenarios()
	policy := vmgenid.DefaultRetryPolicy()
	if opts.Scenarios != "" {
		f, err := scenario.LoadFile(opts.Scenarios)
		if err != nil {
			return err
		}
		scenarios = f.Scenarios
		policy = f.RetryPolicy(policy)
	}
	if opts.RetryAttempts > 0 {
		policy.Attempts = opts.RetryAttempts
	}
	if opts.RetryInterval > 0 {
		policy.Interval = opts.RetryInterval
	}

	scenarios, err := selectScenarios(scenarios)
	if err != nil {
		return err
	}
	if len(scenarios) == 0 {
		return errors.New("no scenarios selected")
	}

	if opts.List {
		for _, s := range scenarios {
			fmt.Printf("%s\t%s\t%s\n", s.Name, s.Source, s.Device.String())
		}
		return nil
	}

	runner := &scenario.Runner{
		Config: qemu.Config{
			Binary:        opts.QEMU,
			Accel:         opts.Accel,
			ExtraArgs:     opts.QEMUArgs,
			LaunchTimeout: opts.LaunchTimeout},
		Policy:         policy,
		RequireMonitor: !opts.AllowMissingMonitor,
		Logger:         logger}

	results := runner.RunAll(scenarios)
	printResults(results)
	if !results.OK() {
		return errFailed
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		switch e := err.(type) {
		case *flags.Error:
			// flags already prints this
			if e.Type != flags.ErrHelp {
				os.Exit(1)
			}
		default:
			if err != errFailed {
				fmt.Fprintln(os.Stderr, err)
			}
			os.Exit(1)
		}
	}
}
