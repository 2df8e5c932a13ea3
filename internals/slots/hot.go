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

package slots

import (
	"path/filepath"
	"strings"

	"github.com/canonical/otactl/internals/dirs"
	"github.com/canonical/otactl/internals/layout"
	"github.com/canonical/otactl/internals/logger"
	"github.com/canonical/otactl/internals/osutil"
	"github.com/canonical/otactl/internals/ota"
)

// DetectHot returns the set the running system was booted from. The
// kernel command line "root=" argument is consulted first, then the
// device number of the filesystem mounted on "/". A running system that
// cannot be attributed to either root partition is a policy violation:
// nothing may be committed or overwritten on its behalf.
func DetectHot(l *layout.Layout) (ota.Set, error) {
	root, ok, err := osutil.KernelCommandLineValue(dirs.ProcCmdline, "root")
	if err != nil {
		logger.Debugf("Cannot read kernel command line: %v", err)
	}
	if ok {
		if set, found := l.RootSet(cmdlineMatcher(root)); found {
			return set, nil
		}
		logger.Debugf("Kernel root=%q names neither root partition.", root)
	}

	entries, err := osutil.LoadMountInfo(dirs.ProcSelfMountInfo)
	if err != nil {
		logger.Debugf("Cannot read mount table: %v", err)
	} else {
		var devnum string
		for _, e := range entries {
			if e.MountDir == "/" {
				devnum = e.DevNum()
			}
		}
		if devnum != "" {
			set, found := l.RootSet(func(p *layout.Partition) bool {
				return p.DevNum != "" && p.DevNum == devnum
			})
			if found {
				return set, nil
			}
			logger.Debugf("Root filesystem device %s is neither root partition.", devnum)
		}
	}
	return "", ota.Errorf(ota.ErrorKindPolicyViolation, "", "cannot attribute the running system to a partition set")
}

func cmdlineMatcher(root string) func(p *layout.Partition) bool {
	switch {
	case strings.HasPrefix(strings.ToUpper(root), "PARTUUID="):
		uuid := root[len("PARTUUID="):]
		if strings.Contains(uuid, "/") {
			// PARTNROFF= points at a sibling partition.
			return func(*layout.Partition) bool { return false }
		}
		return func(p *layout.Partition) bool {
			return p.UUID != "" && strings.EqualFold(p.UUID, uuid)
		}
	case strings.HasPrefix(root, "/dev/"):
		node := resolveDevNode(filepath.Join(dirs.DevDir, strings.TrimPrefix(root, "/dev/")))
		return func(p *layout.Partition) bool {
			return resolveDevNode(p.Node) == node
		}
	case strings.Contains(root, ":"):
		return func(p *layout.Partition) bool {
			return p.DevNum == root
		}
	}
	return func(*layout.Partition) bool { return false }
}

func resolveDevNode(node string) string {
	if target, err := filepath.EvalSymlinks(node); err == nil {
		return target
	}
	return filepath.Clean(node)
}
