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

// Package ota holds the vocabulary shared by all parts of the update
// engine: partition set identities and the error taxonomy.
package ota

import (
	"fmt"
	"strings"
)

// Set identifies one of the two partition sets of a device.
type Set string

const (
	SetA Set = "a"
	SetB Set = "b"
)

// Sets lists both partition sets in table order.
var Sets = []Set{SetA, SetB}

// Valid reports whether s names one of the two partition sets.
func (s Set) Valid() bool {
	return s == SetA || s == SetB
}

// Other returns the complementary set. It panics on an invalid set, as
// callers are expected to validate identities at the edges.
func (s Set) Other() Set {
	switch s {
	case SetA:
		return SetB
	case SetB:
		return SetA
	}
	panic(fmt.Sprintf("internal error: invalid partition set %q", string(s)))
}

// Index returns 0 for set A and 1 for set B.
func (s Set) Index() int {
	if s == SetB {
		return 1
	}
	return 0
}

func (s Set) String() string {
	if s == "" {
		return "-"
	}
	return string(s)
}

// ParseSet parses a set name, accepting either case.
func ParseSet(name string) (Set, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "a":
		return SetA, nil
	case "b":
		return SetB, nil
	}
	return "", fmt.Errorf("invalid partition set %q (want \"a\" or \"b\")", name)
}
