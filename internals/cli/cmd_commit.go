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

const cmdCommitSummary = "Make the running set the default"
const cmdCommitDescription = `
The commit command makes the running partition set the one the device
boots by default. Run it once the newly installed system has proven to
work.

A set may be named to guard against committing the wrong one: the
command refuses if it is not the running set.
`

type cmdCommit struct {
	Positional struct {
		Set string `positional-arg-name:"<set>"`
	} `positional-args:"yes"`
}

func init() {
	AddCommand(&CmdInfo{
		Name:        "commit",
		Group:       "system",
		Summary:     cmdCommitSummary,
		Description: cmdCommitDescription,
		ArgsHelp: map[string]string{
			"<set>": "The set expected to be running (a or b)",
		},
		New: func(opts *CmdOptions) flags.Commander {
			return &cmdCommit{}
		},
	})
}

func (cmd *cmdCommit) Execute(args []string) error {
	if len(args) > 0 {
		return ErrExtraArgs
	}
	var set ota.Set
	if cmd.Positional.Set != "" {
		var err error
		if set, err = ota.ParseSet(cmd.Positional.Set); err != nil {
			return usageErrorf("%v", err)
		}
	}
	dev, err := openDevice()
	if err != nil {
		return err
	}
	res, err := dev.Commit(set)
	if err != nil {
		return err
	}
	if res.Changed {
		fmt.Fprintf(Stdout, "Set %s is now the default.\n", res.Set)
	} else {
		fmt.Fprintf(Stdout, "Set %s already is the default.\n", res.Set)
	}
	return nil
}
