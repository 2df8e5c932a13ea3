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

package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/canonical/otactl/internals/dirs"
	"github.com/canonical/otactl/internals/logger"
	"github.com/canonical/otactl/internals/osutil"
	"github.com/canonical/otactl/internals/ota"
)

// Options controls Resolve.
type Options struct {
	// Disk is the disk to inspect, as a kernel name ("mmcblk0") or a
	// device node path. When empty the disk holding the mounted root
	// filesystem is used.
	Disk string
	// Architecture is the architecture declared by the running image, if
	// any.
	Architecture string
}

// Resolve reads the partition table of the device disk and returns the
// validated layout. It only reads. All failures are layout errors.
func Resolve(opts Options) (*Layout, error) {
	disk := filepath.Base(opts.Disk)
	if opts.Disk == "" {
		var err error
		disk, err = rootDisk()
		if err != nil {
			return nil, ota.Wrap(ota.ErrorKindLayout, "", err)
		}
	}

	arch, err := Architecture(opts.Architecture)
	if err != nil {
		return nil, err
	}

	node := filepath.Join(dirs.DevDir, disk)
	f, err := os.Open(node)
	if err != nil {
		return nil, ota.Errorf(ota.ErrorKindLayout, "", "cannot open disk: %w", err)
	}
	defer f.Close()

	table, err := ReadTable(f, sectorSize(disk))
	if err != nil {
		return nil, ota.Errorf(ota.ErrorKindLayout, "", "cannot read partition table of %s: %w", node, err)
	}
	parts, err := normalize(table)
	if err != nil {
		return nil, err
	}

	sysParts, err := sysfsPartitions(disk)
	if err != nil {
		return nil, ota.Errorf(ota.ErrorKindLayout, "", "cannot enumerate partitions of %s: %w", disk, err)
	}
	for _, p := range parts {
		if sp, ok := sysParts[p.Number]; ok {
			p.Node = filepath.Join(dirs.DevDir, sp.name)
			p.DevNum = sp.devNum
		} else {
			p.Node = filepath.Join(dirs.DevDir, partitionName(disk, p.Number))
		}
	}

	l := &Layout{
		Disk:         node,
		Table:        table.Type,
		DiskID:       table.DiskID,
		Architecture: arch,
		partitions:   parts,
	}
	for _, p := range l.Partitions() {
		logger.Debugf("Partition %s: %d bytes, PARTUUID %s", p, p.Size, p.UUID)
	}
	return l, nil
}

// partitionName follows the kernel naming rule: disks whose name ends in
// a digit get a "p" before the partition number.
func partitionName(disk string, n int) string {
	if last := disk[len(disk)-1]; last >= '0' && last <= '9' {
		return fmt.Sprintf("%sp%d", disk, n)
	}
	return fmt.Sprintf("%s%d", disk, n)
}

func sectorSize(disk string) uint64 {
	data, err := os.ReadFile(filepath.Join(dirs.SysfsDir, "block", disk, "queue", "logical_block_size"))
	if err != nil {
		return 512
	}
	size, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil || size < 512 {
		return 512
	}
	return size
}

type sysfsPartition struct {
	name   string
	devNum string
}

// sysfsPartitions maps partition numbers to their kernel names and device
// numbers. Directories of /sys/block/<disk> that start with the disk name
// are partitions.
func sysfsPartitions(disk string) (map[int]sysfsPartition, error) {
	base := filepath.Join(dirs.SysfsDir, "block", disk)
	entries, err := os.ReadDir(base)
	if err != nil {
		return nil, err
	}
	parts := make(map[int]sysfsPartition)
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), disk) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(base, e.Name(), "partition"))
		if err != nil {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(string(data)))
		if err != nil {
			continue
		}
		devNum, _ := os.ReadFile(filepath.Join(base, e.Name(), "dev"))
		parts[n] = sysfsPartition{name: e.Name(), devNum: strings.TrimSpace(string(devNum))}
	}
	return parts, nil
}

// rootDisk finds the disk holding the block device mounted on /.
func rootDisk() (string, error) {
	entries, err := osutil.LoadMountInfo(dirs.ProcSelfMountInfo)
	if err != nil {
		return "", fmt.Errorf("cannot read mount table: %w", err)
	}
	var devNum string
	for _, e := range entries {
		if e.MountDir == "/" {
			devNum = e.DevNum()
		}
	}
	if devNum == "" {
		return "", fmt.Errorf("cannot find root filesystem in mount table")
	}

	disks, err := os.ReadDir(filepath.Join(dirs.SysfsDir, "block"))
	if err != nil {
		return "", fmt.Errorf("cannot enumerate disks: %w", err)
	}
	for _, d := range disks {
		parts, err := sysfsPartitions(d.Name())
		if err != nil {
			continue
		}
		for _, p := range parts {
			if p.devNum == devNum {
				return d.Name(), nil
			}
		}
	}
	return "", fmt.Errorf("cannot find disk holding root filesystem (device %s)", devNum)
}
