// Copyright (c) 2024 Canonical Ltd
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License version 3 as
// published by the Free Software Foundation.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package config loads the otactl configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/canonical/x-go/strutil/shlex"
	"gopkg.in/yaml.v3"

	"github.com/canonical/otactl/internals/dirs"
)

// PathEnv overrides the location of the configuration file.
const PathEnv = "OTACTL_CONFIG"

// OverrideMethod selects how a one-time boot into the spare set is
// arranged.
type OverrideMethod string

const (
	// OverrideMarker writes a one-shot marker file to the boot-config
	// partition that the bootloader consumes.
	OverrideMarker OverrideMethod = "marker"
	// OverrideRebootArgument passes an argument to the reboot call, which
	// the firmware turns into a transient flag (such as "0 tryboot").
	OverrideRebootArgument OverrideMethod = "reboot-argument"
)

// Config is the otactl configuration.
type Config struct {
	// Device is the disk holding the A/B layout. Empty means the disk
	// holding the root filesystem.
	Device string `yaml:"device,omitempty"`
	// Architecture overrides the detected architecture profile.
	Architecture string `yaml:"architecture,omitempty"`

	// BootConfigDir is where the boot-config partition is mounted.
	BootConfigDir string `yaml:"boot-config-dir,omitempty"`
	StateDir      string `yaml:"state-dir,omitempty"`

	Override       OverrideMethod `yaml:"override,omitempty"`
	RebootArgument string         `yaml:"reboot-argument,omitempty"`
	// RebootCommand replaces the reboot system call, for instance
	// "systemctl reboot". It is split with shell quoting rules.
	RebootCommand string `yaml:"reboot-command,omitempty"`

	Journal        string           `yaml:"journal,omitempty"`
	JournalTimeout OptionalDuration `yaml:"journal-timeout,omitempty"`

	// MetricsTextfile is the node-exporter textfile written after every
	// operation, if set.
	MetricsTextfile string `yaml:"metrics-textfile,omitempty"`
}

// FormatError is returned when the configuration cannot be parsed or is
// invalid.
type FormatError struct {
	Message string
}

func (e *FormatError) Error() string {
	return e.Message
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.fillDefaults()
	return cfg
}

func (cfg *Config) fillDefaults() {
	if cfg.BootConfigDir == "" {
		cfg.BootConfigDir = dirs.DefaultBootConfigDir
	}
	if cfg.StateDir == "" {
		cfg.StateDir = dirs.DefaultStateDir
	}
	if cfg.Override == "" {
		cfg.Override = OverrideMarker
	}
	if cfg.RebootArgument == "" && cfg.Override == OverrideRebootArgument {
		cfg.RebootArgument = "0 tryboot"
	}
	if cfg.Journal == "" {
		cfg.Journal = filepath.Join(cfg.StateDir, "otactl", "journal.db")
	}
	if !cfg.JournalTimeout.IsSet {
		cfg.JournalTimeout = OptionalDuration{Value: 5 * time.Second, IsSet: true}
	}
}

// Path returns the configuration file location.
func Path() string {
	if p := os.Getenv(PathEnv); p != "" {
		return p
	}
	return dirs.ConfigFile
}

// Load reads the configuration at path. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read configuration: %w", err)
	}
	return Parse(path, data)
}

// Parse decodes and validates a configuration document. Unknown keys are
// rejected.
func Parse(label string, data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, &FormatError{
			Message: fmt.Sprintf("cannot parse configuration %q: %v", label, err),
		}
	}
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, &FormatError{
			Message: fmt.Sprintf("invalid configuration %q: %v", label, err),
		}
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (cfg *Config) Validate() error {
	switch cfg.Override {
	case OverrideMarker, OverrideRebootArgument:
	default:
		return fmt.Errorf("unknown override method %q", cfg.Override)
	}
	for _, p := range []struct{ key, path string }{
		{"boot-config-dir", cfg.BootConfigDir},
		{"state-dir", cfg.StateDir},
		{"journal", cfg.Journal},
		{"metrics-textfile", cfg.MetricsTextfile},
	} {
		if p.path != "" && !filepath.IsAbs(p.path) {
			return fmt.Errorf("%s must be an absolute path, not %q", p.key, p.path)
		}
	}
	if cfg.RebootCommand != "" {
		if _, err := cfg.RebootArgv(); err != nil {
			return err
		}
	}
	if cfg.JournalTimeout.Value <= 0 {
		return fmt.Errorf("journal-timeout must be positive")
	}
	return nil
}

// RebootArgv splits RebootCommand into its arguments.
func (cfg *Config) RebootArgv() ([]string, error) {
	argv, err := shlex.Split(cfg.RebootCommand)
	if err != nil {
		return nil, fmt.Errorf("cannot parse reboot-command: %v", err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("reboot-command is empty")
	}
	return argv, nil
}

// OptionalDuration is a duration written as a Go duration string.
type OptionalDuration struct {
	Value time.Duration
	IsSet bool
}

func (o OptionalDuration) IsZero() bool {
	return !o.IsSet
}

func (o OptionalDuration) MarshalYAML() (any, error) {
	if !o.IsSet {
		return nil, nil
	}
	return o.Value.String(), nil
}

func (o *OptionalDuration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a YAML string")
	}
	duration, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q", value.Value)
	}
	o.Value = duration
	o.IsSet = true
	return nil
}
