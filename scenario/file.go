// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package scenario

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"

	vmgenid "github.com/canonical/go-vmgenid"
)

// Duration is a time.Duration that is decoded from a YAML string such
// as "100ms".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return xerrors.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// RetryConfig overrides the policy used to wait for the firmware.
type RetryConfig struct {
	Attempts int      `yaml:"attempts"`
	Interval Duration `yaml:"interval"`
}

// File is a scenario file. An example:
//
//	retry:
//	  attempts: 50
//	  interval: 200ms
//	scenarios:
//	  - name: /vmgenid/vmgenid/set-guid
//	    device:
//	      id: testvgid
//	      guid: 324e6eaf-d1d1-4bf6-bf41-b9bb6c91fb87
//	    source: memory
type File struct {
	Retry     *RetryConfig `yaml:"retry"`
	Scenarios []*Scenario  `yaml:"scenarios"`
}

// RetryPolicy applies the file's retry settings to the supplied policy.
func (f *File) RetryPolicy(policy vmgenid.RetryPolicy) vmgenid.RetryPolicy {
	if f.Retry == nil {
		return policy
	}
	if f.Retry.Attempts > 0 {
		policy.Attempts = f.Retry.Attempts
	}
	if f.Retry.Interval > 0 {
		policy.Interval = f.Retry.Interval.Duration()
	}
	return policy
}

// ParseFile decodes and validates a scenario file.
func ParseFile(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, xerrors.Errorf("cannot decode scenario file: %w", err)
	}
	if len(f.Scenarios) == 0 {
		return nil, xerrors.New("no scenarios")
	}

	names := make(map[string]bool)
	for i, s := range f.Scenarios {
		if s == nil {
			return nil, fmt.Errorf("scenario %d is empty", i)
		}
		if err := s.Validate(); err != nil {
			return nil, xerrors.Errorf("invalid scenario %d: %w", i, err)
		}
		if names[s.Name] {
			return nil, fmt.Errorf("duplicate scenario %q", s.Name)
		}
		names[s.Name] = true

		s.Source = s.source()
		s.Expect = s.expectation()
	}
	if f.Retry != nil && f.Retry.Attempts < 0 {
		return nil, fmt.Errorf("invalid retry attempts %d", f.Retry.Attempts)
	}

	return &f, nil
}

// LoadFile loads a scenario file from the specified path.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("cannot read scenario file: %w", err)
	}
	return ParseFile(data)
}
