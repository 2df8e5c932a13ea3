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

	"github.com/canonical/otactl/internals/journal"
	"github.com/canonical/otactl/internals/metrics"
)

const cmdHistorySummary = "List past operations"
const cmdHistoryDescription = `
The history command lists the installs, reboots and commits recorded on
this device, newest first.
`

type cmdHistory struct {
	Limit int `long:"limit" default:"20"`
}

func init() {
	AddCommand(&CmdInfo{
		Name:        "history",
		Group:       "system",
		Summary:     cmdHistorySummary,
		Description: cmdHistoryDescription,
		ArgsHelp: map[string]string{
			"--limit": "Show at most this many operations (0 for all)",
		},
		New: func(opts *CmdOptions) flags.Commander {
			return &cmdHistory{}
		},
	})
}

func (cmd *cmdHistory) Execute(args []string) error {
	if len(args) > 0 {
		return ErrExtraArgs
	}
	if cmd.Limit < 0 {
		return usageErrorf("--limit cannot be negative")
	}
	dev, err := openDevice()
	if err != nil {
		return err
	}
	entries, err := dev.History(cmd.Limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(Stderr, "No operations recorded.")
		return nil
	}

	width, _ := termSize()
	w := tabWriter()
	fmt.Fprintln(w, "Time\tOp\tSet\tResult\tDetails")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", formatTime(e.Time), e.Op, formatSet(e.Set), metrics.Outcome(e), truncate(details(e), width/2))
	}
	w.Flush()
	return nil
}

func details(e *journal.Entry) string {
	switch {
	case e.Failed():
		return e.Message
	case e.Bundle != "":
		return e.Bundle
	}
	return "-"
}
