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
	"bufio"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/canonical/go-flags"
	"github.com/canonical/x-go/randutil"

	"github.com/canonical/otactl/internals/bundle"
	"github.com/canonical/otactl/internals/osutil"
	"github.com/canonical/otactl/internals/ota"
)

const cmdBundleCreateSummary = "Create an update bundle"
const cmdBundleCreateDescription = `
The create command builds an update bundle from a root filesystem image
and, optionally, a boot partition image. Use "-" as the output to write
the bundle to standard output.
`

type cmdBundleCreate struct {
	Name         string   `long:"name" required:"yes"`
	Version      string   `long:"version" required:"yes"`
	Architecture string   `long:"arch"`
	Boot         string   `long:"boot"`
	Root         string   `long:"root" required:"yes"`
	Notes        []string `long:"note"`
	Positional   struct {
		Output string `positional-arg-name:"<output>" required:"yes"`
	} `positional-args:"yes"`
}

func init() {
	AddCommand(&CmdInfo{
		Name:        "create",
		Group:       "bundle",
		Summary:     cmdBundleCreateSummary,
		Description: cmdBundleCreateDescription,
		ArgsHelp: map[string]string{
			"--name":    "Name of the system in the bundle",
			"--version": "Version of the system in the bundle",
			"--arch":    "Architecture the system is built for",
			"--boot":    "Boot partition image",
			"--root":    "Root partition image",
			"--note":    "Free-text note to include (may be repeated)",
			"<output>":  "File to write, or - for standard output",
		},
		New: func(opts *CmdOptions) flags.Commander {
			return &cmdBundleCreate{}
		},
	})
}

type payloadFile struct {
	role bundle.Role
	path string
}

func (cmd *cmdBundleCreate) Execute(args []string) (err error) {
	if len(args) > 0 {
		return ErrExtraArgs
	}
	m := &bundle.Manifest{Name: cmd.Name, Version: cmd.Version, Architecture: cmd.Architecture}
	payloads := []payloadFile{
		{bundle.RoleBoot, cmd.Boot},
		{bundle.RoleRoot, cmd.Root},
	}

	out := cmd.Positional.Output
	if out == "-" {
		if isStdoutTTY {
			return usageErrorf("cannot write update bundle to a terminal")
		}
		return writeBundle(Stdout, m, payloads, cmd.Notes)
	}

	// Write next to the output and rename, so a failure never leaves a
	// partial bundle under the final name.
	tmp := filepath.Join(filepath.Dir(out), fmt.Sprintf(".%s.%s~", filepath.Base(out), randutil.RandomString(12)))
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return ota.Errorf(ota.ErrorKindIO, "", "cannot create bundle: %w", err)
	}
	defer func() {
		f.Close()
		if err != nil {
			os.Remove(tmp)
		}
	}()
	bw := bufio.NewWriter(f)
	if err := writeBundle(bw, m, payloads, cmd.Notes); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return ota.Errorf(ota.ErrorKindIO, "", "cannot write bundle: %w", err)
	}
	if err := f.Sync(); err != nil {
		return ota.Errorf(ota.ErrorKindIO, "", "cannot write bundle: %w", err)
	}
	if err := os.Rename(tmp, out); err != nil {
		return ota.Errorf(ota.ErrorKindIO, "", "cannot write bundle: %w", err)
	}
	if err := osutil.SyncDir(filepath.Dir(out)); err != nil {
		return ota.Errorf(ota.ErrorKindIO, "", "cannot write bundle: %w", err)
	}
	fmt.Fprintf(Stderr, "Created bundle %s for %s.\n", out, m)
	return nil
}

func writeBundle(w io.Writer, m *bundle.Manifest, payloads []payloadFile, notes []string) error {
	bw, err := bundle.NewWriter(w, m)
	if err != nil {
		return err
	}
	for _, note := range notes {
		if err := bw.AddNote(note); err != nil {
			return err
		}
	}
	for _, p := range payloads {
		if p.path == "" {
			continue
		}
		if err := addPayloadFile(bw, p.role, p.path); err != nil {
			return err
		}
	}
	return bw.Close()
}

// addPayloadFile adds the file at path, reading it twice: once for the
// digest that precedes the data and once to copy it.
func addPayloadFile(bw *bundle.Writer, role bundle.Role, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return ota.Errorf(ota.ErrorKindIO, "", "cannot read %s image: %w", role, err)
	}
	defer f.Close()
	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return ota.Errorf(ota.ErrorKindIO, "", "cannot read %s image: %w", role, err)
	}
	var digest [32]byte
	copy(digest[:], h.Sum(nil))
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return ota.Errorf(ota.ErrorKindIO, "", "cannot read %s image: %w", role, err)
	}
	return bw.AddPayloadFrom(role, size, digest, f)
}
