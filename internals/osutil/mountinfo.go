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
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// MountInfoEntry contains data from /proc/self/mountinfo. Only the fields
// otactl looks at are kept.
type MountInfoEntry struct {
	MountID     int
	DevMajor    int
	DevMinor    int
	Root        string
	MountDir    string
	FsType      string
	MountSource string
}

// DevNum returns the "major:minor" device number of the mounted filesystem.
func (e *MountInfoEntry) DevNum() string {
	return fmt.Sprintf("%d:%d", e.DevMajor, e.DevMinor)
}

// ParseMountInfoEntry parses a single line of a mountinfo file.
//
// Example: 36 35 98:0 /mnt1 /mnt2 rw,noatime master:1 - ext3 /dev/root rw
func ParseMountInfoEntry(s string) (*MountInfoEntry, error) {
	fields := strings.Fields(s)
	if len(fields) < 10 {
		return nil, fmt.Errorf("incorrect number of fields, expected at least 10 but found %d", len(fields))
	}
	var e MountInfoEntry
	var err error
	if e.MountID, err = strconv.Atoi(fields[0]); err != nil {
		return nil, fmt.Errorf("cannot parse mount ID: %q", fields[0])
	}
	majStr, minStr, ok := strings.Cut(fields[2], ":")
	if !ok {
		return nil, fmt.Errorf("cannot parse device major:minor number pair: %q", fields[2])
	}
	if e.DevMajor, err = strconv.Atoi(majStr); err != nil {
		return nil, fmt.Errorf("cannot parse device major number: %q", majStr)
	}
	if e.DevMinor, err = strconv.Atoi(minStr); err != nil {
		return nil, fmt.Errorf("cannot parse device minor number: %q", minStr)
	}
	e.Root = unescapeMount(fields[3])
	e.MountDir = unescapeMount(fields[4])

	i := 6
	for i < len(fields) && fields[i] != "-" {
		i++
	}
	if i >= len(fields)-2 {
		return nil, fmt.Errorf("list of optional fields is not terminated properly")
	}
	e.FsType = unescapeMount(fields[i+1])
	e.MountSource = unescapeMount(fields[i+2])
	return &e, nil
}

// LoadMountInfo reads and parses the given mountinfo file.
func LoadMountInfo(path string) ([]*MountInfoEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []*MountInfoEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		entry, err := ParseMountInfoEntry(line)
		if err != nil {
			return nil, fmt.Errorf("cannot parse %s: %w", path, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// unescapeMount undoes the octal escaping the kernel applies to space,
// tab, newline and backslash in mount fields.
func unescapeMount(s string) string {
	if !strings.Contains(s, "\\") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) {
			if n, err := strconv.ParseUint(s[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(n))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
