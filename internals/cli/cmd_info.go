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
	"sort"
	"strings"

	"github.com/canonical/go-flags"
	"github.com/canonical/x-go/strutil/quantity"
)

const cmdInfoSummary = "Show the partition sets and their state"
const cmdInfoDescription = `
The info command shows the partition layout of the device, which set is
running, which one boots by default and whether an update waits to be
tried or committed.
`

type cmdInfo struct{}

func init() {
	AddCommand(&CmdInfo{
		Name:        "info",
		Group:       "system",
		Summary:     cmdInfoSummary,
		Description: cmdInfoDescription,
		New: func(opts *CmdOptions) flags.Commander {
			return &cmdInfo{}
		},
	})
}

func (cmd *cmdInfo) Execute(args []string) error {
	if len(args) > 0 {
		return ErrExtraArgs
	}
	dev, err := openDevice()
	if err != nil {
		return err
	}
	info, err := dev.Info()
	if err != nil {
		return err
	}

	image := "-"
	if info.Image != nil {
		image = info.Image.String()
	}
	w := tabWriter()
	fmt.Fprintf(w, "disk:\t%s (%s)\n", info.Layout.Disk, info.Layout.Table)
	fmt.Fprintf(w, "architecture:\t%s\n", info.Layout.Architecture)
	fmt.Fprintf(w, "image:\t%s\n", image)
	fmt.Fprintf(w, "state:\t%s\n", info.State)
	fmt.Fprintf(w, "hot:\t%s\n", formatSet(info.Hot))
	fmt.Fprintf(w, "default:\t%s\n", formatSet(info.Default))
	fmt.Fprintf(w, "spare:\t%s\n", formatSet(info.Spare))
	fmt.Fprintf(w, "next-boot:\t%s\n", formatSet(info.NextBoot))
	if info.Staged != nil {
		fmt.Fprintf(w, "staged:\t%s (%s)\n", info.Staged.Bundle, formatTime(info.Staged.Time))
	}
	var overlays []string
	for set, present := range info.Overlays {
		if present {
			overlays = append(overlays, string(set))
		}
	}
	sort.Strings(overlays)
	if len(overlays) == 0 {
		overlays = []string{"-"}
	}
	fmt.Fprintf(w, "overlays:\t%s\n", strings.Join(overlays, ", "))
	w.Flush()

	fmt.Fprintln(Stdout)
	w = tabWriter()
	fmt.Fprintln(w, "Role\tPartition\tNode\tSize")
	for _, p := range info.Layout.Partitions() {
		fmt.Fprintf(w, "%s\t%d\t%s\t%sB\n", p.Role, p.Number, p.Node, quantity.FormatAmount(p.Size, -1))
	}
	w.Flush()
	return nil
}
