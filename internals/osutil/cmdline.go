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

package osutil

import (
	"os"
	"strings"
)

// KernelCommandLineValue returns the value of the last key=value parameter
// named key on the kernel command line stored at path. Quoted values are
// unquoted. The boolean result is false if the key is absent.
func KernelCommandLineValue(path, key string) (string, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false, err
	}
	var value string
	var found bool
	for _, arg := range splitKernelCommandLine(string(data)) {
		k, v, ok := strings.Cut(arg, "=")
		if ok && k == key {
			value, found = v, true
		}
	}
	return value, found, nil
}

// splitKernelCommandLine splits on blanks outside double quotes and drops
// the quotes themselves.
func splitKernelCommandLine(cmdline string) []string {
	var args []string
	var cur strings.Builder
	inQuote := false
	flush := func() {
		if cur.Len() > 0 {
			args = append(args, cur.String())
			cur.Reset()
		}
	}
	for _, r := range cmdline {
		switch {
		case r == '"':
			inQuote = !inQuote
		case !inQuote && (r == ' ' || r == '\t' || r == '\n'):
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return args
}
