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

// Package reboot restarts the device into the default or the spare
// partition set.
package reboot

import (
	"fmt"
	"os/exec"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/canonical/otactl/internals/bootcfg"
	"github.com/canonical/otactl/internals/config"
	"github.com/canonical/otactl/internals/logger"
	"github.com/canonical/otactl/internals/osutil"
	"github.com/canonical/otactl/internals/ota"
)

// Target selects what the next boot runs.
type Target string

const (
	// TargetDefault boots the persisted default set.
	TargetDefault Target = "default"
	// TargetSpare boots the spare set once.
	TargetSpare Target = "spare"
)

// Options controls how the controller reboots.
type Options struct {
	Override config.OverrideMethod
	// Argument is the reboot argument used with OverrideRebootArgument.
	Argument string
	// Command replaces the reboot system call when not empty.
	Command []string
}

// OptionsFromConfig returns the reboot options described by cfg.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	opts := Options{Override: cfg.Override, Argument: cfg.RebootArgument}
	if cfg.RebootCommand != "" {
		argv, err := cfg.RebootArgv()
		if err != nil {
			return Options{}, err
		}
		opts.Command = argv
	}
	return opts, nil
}

// Controller arranges the boot target and reboots. It never touches the
// boot configuration store: a spare boot only ever lasts one boot.
type Controller struct {
	marker *bootcfg.Marker
	opts   Options
}

// New returns a controller that records one-time overrides with marker.
func New(marker *bootcfg.Marker, opts Options) *Controller {
	if opts.Override == "" {
		opts.Override = config.OverrideMarker
	}
	return &Controller{marker: marker, opts: opts}
}

// Arrange sets up the next boot for target, where spare is the spare set
// of the current default. It returns the argument to pass to the reboot.
func (c *Controller) Arrange(target Target, spare ota.Set) (arg string, err error) {
	switch target {
	case TargetDefault:
		// A stale override would otherwise win over the default.
		if err := c.marker.Clear(); err != nil {
			return "", err
		}
		return "", nil
	case TargetSpare:
		if !spare.Valid() {
			return "", ota.Errorf(ota.ErrorKindPolicyViolation, "", "cannot boot invalid spare set %q", spare)
		}
		switch c.opts.Override {
		case config.OverrideMarker:
			if err := c.marker.Set(spare); err != nil {
				return "", err
			}
			logger.Noticef("Next boot will try set %s once.", spare)
			return "", nil
		case config.OverrideRebootArgument:
			if err := c.marker.Clear(); err != nil {
				return "", err
			}
			logger.Noticef("Rebooting with %q to try set %s once.", c.opts.Argument, spare)
			return c.opts.Argument, nil
		}
		return "", ota.Errorf(ota.ErrorKindPolicyViolation, spare, "cannot arrange boot: unknown override method %q", c.opts.Override)
	}
	return "", ota.Errorf(ota.ErrorKindPolicyViolation, "", "cannot reboot: unknown target %q", target)
}

// Pending returns the set named by a pending one-time override marker.
func (c *Controller) Pending() (ota.Set, error) {
	return c.marker.Get()
}

// Restart restarts the device, passing arg to the reboot when it is not
// empty. The next boot must have been arranged already.
func (c *Controller) Restart(arg string) error {
	var err error
	if len(c.opts.Command) > 0 {
		err = commandReboot(c.opts.Command, arg)
	} else {
		err = syscallReboot(arg)
	}
	if err != nil {
		return ota.Errorf(ota.ErrorKindIO, "", "cannot reboot: %w", err)
	}
	return nil
}

func commandReboot(argv []string, arg string) error {
	if arg != "" {
		argv = append(argv[:len(argv):len(argv)], arg)
	}
	logger.Debugf("Running %q.", argv)
	cmd := exec.Command(argv[0], argv[1:]...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return osutil.OutputErr(out, err)
	}
	return nil
}

var (
	syscallSync    = unix.Sync
	syscallRestart = restart
)

func syscallReboot(arg string) error {
	// The reboot syscall requires a prior sync.
	syscallSync()
	return syscallRestart(arg)
}

func restart(arg string) error {
	if arg == "" {
		return unix.Reboot(unix.LINUX_REBOOT_CMD_RESTART)
	}
	p, err := unix.BytePtrFromString(arg)
	if err != nil {
		return fmt.Errorf("invalid reboot argument %q: %w", arg, err)
	}
	_, _, errno := unix.Syscall6(unix.SYS_REBOOT, unix.LINUX_REBOOT_MAGIC1, unix.LINUX_REBOOT_MAGIC2,
		unix.LINUX_REBOOT_CMD_RESTART2, uintptr(unsafe.Pointer(p)), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}
