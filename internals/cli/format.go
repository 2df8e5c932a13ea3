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
	"os"
	"strconv"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"golang.org/x/term"

	"github.com/canonical/otactl/internals/ota"
)

func tabWriter() *tabwriter.Writer {
	return tabwriter.NewWriter(Stdout, 5, 3, 2, ' ', 0)
}

var termSize = termSizeImpl

func termSizeImpl() (width, height int) {
	if f, ok := Stdout.(*os.File); ok {
		width, height, _ = term.GetSize(int(f.Fd()))
	}

	if width <= 0 {
		width, _ = strconv.Atoi(os.Getenv("COLUMNS"))
	}

	if height <= 0 {
		height, _ = strconv.Atoi(os.Getenv("LINES"))
	}

	if width < 40 {
		width = 80
	}

	if height < 15 {
		height = 25
	}

	return width, height
}

// truncate shortens s to at most width runes, marking the cut with "...".
// Output to a pipe is never truncated.
func truncate(s string, width int) string {
	if !isStdoutTTY || utf8.RuneCountInString(s) <= width || width < 4 {
		return s
	}
	r := []rune(s)
	return string(r[:width-3]) + "..."
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// formatSet renders an unknown set as "-".
func formatSet(set ota.Set) string {
	return set.String()
}
