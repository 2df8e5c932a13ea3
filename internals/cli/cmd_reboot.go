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
	"fmt"

	"github.com/canonical/go-flags"

	"github.com/canonical/otactl/internals/reboot"
)

const cmdRebootSummary = "Reboot the device"
const cmdRebootDescription = `
The reboot command restarts the device into the default set, or with
--spare into the spare set for one boot only. The default set is not
changed either way.
`

type cmdReboot struct {
	Spare bool `long:"spare"`
}

func init() {
	AddCommand(&CmdInfo{
		Name:        "reboot",
		Group:       "system",
		Summary:     cmdRebootSummary,
		Description: cmdRebootDescription,
		ArgsHelp: map[string]string{
			"--spare": "Boot the spare set once",
		},
		New: func(opts *CmdOptions) flags.Commander {
			return &cmdReboot{}
		},
	})
}

func (cmd *cmdReboot) Execute(args []string) error {
	if len(args) > 0 {
		return ErrExtraArgs
	}
	dev, err := openDevice()
	if err != nil {
		return err
	}
	target := reboot.TargetDefault
	if cmd.Spare {
		target = reboot.TargetSpare
	}
	if err := dev.Reboot(target); err != nil {
		return err
	}
	fmt.Fprintln(Stdout, "Rebooting.")
	return nil
}
