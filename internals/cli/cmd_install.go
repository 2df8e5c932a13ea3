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

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/canonical/go-flags"
	"gopkg.in/tomb.v2"

	"github.com/canonical/otactl/internals/engine"
	"github.com/canonical/otactl/internals/logger"
	"github.com/canonical/otactl/internals/ota"
)

var (
	signalNotify = signal.Notify
	signalStop   = signal.Stop
)

const cmdInstallSummary = "Install an update bundle into the spare set"
const cmdInstallDescription = `
The install command writes an update bundle to the spare partition set and
reboots into it once. Use "-" to read the bundle from standard input.

The default set is not changed: run "otactl system commit" from the new
system to keep it. Any reboot before that returns to the default set.
`

type cmdInstall struct {
	NoReboot    bool `long:"no-reboot"`
	KeepOverlay bool `long:"keep-overlay"`
	Positional  struct {
		Path string `positional-arg-name:"<path>" required:"yes"`
	} `positional-args:"yes"`
}

func init() {
	AddCommand(&CmdInfo{
		Name:        "install",
		Group:       "update",
		Summary:     cmdInstallSummary,
		Description: cmdInstallDescription,
		ArgsHelp: map[string]string{
			"--no-reboot":    "Stage the update without rebooting into it",
			"--keep-overlay": "Keep the writable overlay of the spare set",
			"<path>":         "Update bundle to install, or - for standard input",
		},
		New: func(opts *CmdOptions) flags.Commander {
			return &cmdInstall{}
		},
	})
}

func (cmd *cmdInstall) Execute(args []string) error {
	if len(args) > 0 {
		return ErrExtraArgs
	}

	var src io.Reader
	if cmd.Positional.Path == "-" {
		if isStdinTTY {
			return usageErrorf("cannot read update bundle from a terminal")
		}
		src = Stdin
	} else {
		f, err := os.Open(cmd.Positional.Path)
		if err != nil {
			return ota.Errorf(ota.ErrorKindIO, "", "cannot open update bundle: %w", err)
		}
		defer f.Close()
		src = f
	}

	dev, err := openDevice()
	if err != nil {
		return err
	}
	res, err := runInstall(dev, src, &engine.InstallOptions{
		NoReboot:    cmd.NoReboot,
		KeepOverlay: cmd.KeepOverlay,
	})
	if res != nil {
		fmt.Fprintf(Stdout, "Installed %s into set %s.\n", res.Bundle, res.Set)
	}
	if err != nil {
		return err
	}
	if !res.Rebooting {
		fmt.Fprintf(Stdout, "Run \"otactl system reboot --spare\" to boot set %s once.\n", res.Set)
	}
	return nil
}

// runInstall runs the install until it completes or SIGINT or SIGTERM
// arrives, which cancels it. A second signal gets the default behaviour
// and terminates otactl.
func runInstall(dev *engine.Device, src io.Reader, opts *engine.InstallOptions) (*engine.InstallResult, error) {
	sigs := make(chan os.Signal, 1)
	signalNotify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signalStop(sigs)

	var t tomb.Tomb
	var res *engine.InstallResult
	var installErr error
	t.Go(func() error {
		res, installErr = dev.Install(t.Context(context.Background()), src, opts)
		return nil
	})
	go func() {
		select {
		case sig := <-sigs:
			signalStop(sigs)
			logger.Noticef("Received %s, cancelling install.", sig)
			t.Kill(nil)
		case <-t.Dead():
		}
	}()
	t.Wait()
	return res, installErr
}
