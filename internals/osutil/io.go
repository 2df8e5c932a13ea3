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
	"path/filepath"

	"github.com/canonical/x-go/randutil"
)

// Tests may disable fsync to speed things up.
var unsafeIO = GetenvBool("OTACTL_UNSAFE_IO")

// AtomicWriteFile writes data to filename so that, after a crash, the file
// holds either its previous content or the new one. The data goes to a
// temporary sibling that is synced and renamed over filename, and the
// directory is synced afterwards.
func AtomicWriteFile(filename string, data []byte, perm os.FileMode) (err error) {
	tmp := filename + "." + randutil.RandomString(12) + "~"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	if _, err := f.Write(data); err != nil {
		return err
	}
	if !unsafeIO {
		if err := f.Sync(); err != nil {
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, filename); err != nil {
		return err
	}
	return SyncDir(filepath.Dir(filename))
}

// SyncDir flushes the directory entry changes of dir to stable storage.
func SyncDir(dir string) error {
	if unsafeIO {
		return nil
	}
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// RemoveSync removes filename if it exists and syncs its directory. A
// missing file is not an error.
func RemoveSync(filename string) error {
	if err := os.Remove(filename); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return SyncDir(filepath.Dir(filename))
}
