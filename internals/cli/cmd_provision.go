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

	"github.com/canonical/otactl/internals/ota"
)

const cmdProvisionSummary = "Initialise the boot configuration"
const cmdProvisionDescription = `
The provision command writes the first boot configuration of a device,
naming the set it boots by default. It refuses to run on a device that
is already provisioned.
`

type cmdProvision struct {
	Positional struct {
		Set string `positional-arg-name:"<set>" required:"yes"`
	} `positional-args:"yes"`
}

func init() {
	AddCommand(&CmdInfo{
		Name:        "provision",
		Group:       "system",
		Summary:     cmdProvisionSummary,
		Description: cmdProvisionDescription,
		ArgsHelp: map[string]string{
			"<set>": "The set to boot by default (a or b)",
		},
		New: func(opts *CmdOptions) flags.Commander {
			return &cmdProvision{}
		},
	})
}

func (cmd *cmdProvision) Execute(args []string) error {
	if len(args) > 0 {
		return ErrExtraArgs
	}
	set, err := ota.ParseSet(cmd.Positional.Set)
	if err != nil {
		return usageErrorf("%v", err)
	}
	dev, err := openDevice()
	if err != nil {
		return err
	}
	if err := dev.Provision(set); err != nil {
		return err
	}
	fmt.Fprintf(Stdout, "Set %s is the default.\n", set)
	return nil
}
