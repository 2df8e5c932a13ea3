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

// Package engine ties the update components together into the operations
// exposed to users: install, reboot, commit and the status queries.
package engine

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/canonical/otactl/internals/bootcfg"
	"github.com/canonical/otactl/internals/config"
	"github.com/canonical/otactl/internals/dirs"
	"github.com/canonical/otactl/internals/firmware"
	"github.com/canonical/otactl/internals/journal"
	"github.com/canonical/otactl/internals/layout"
	"github.com/canonical/otactl/internals/logger"
	"github.com/canonical/otactl/internals/metrics"
	"github.com/canonical/otactl/internals/osutil"
	"github.com/canonical/otactl/internals/ota"
	"github.com/canonical/otactl/internals/overlay"
	"github.com/canonical/otactl/internals/reboot"
	"github.com/canonical/otactl/internals/slots"
)

// Device is an A/B device managed by otactl.
type Device struct {
	cfg      *config.Config
	layout   *layout.Layout
	image    *firmware.Info
	store    *bootcfg.Store
	marker   *bootcfg.Marker
	overlays *overlay.Manager
	reboot   *reboot.Controller
}

// New resolves the partition layout described by cfg and returns the
// device.
func New(cfg *config.Config) (*Device, error) {
	image, err := firmware.GetInfo()
	if err != nil && !errors.Is(err, firmware.ErrNoInfo) {
		logger.Noticef("Cannot read system image metadata: %v", err)
	}
	arch := cfg.Architecture
	if arch == "" && image != nil {
		arch = image.Architecture
	}
	l, err := layout.Resolve(layout.Options{Disk: cfg.Device, Architecture: arch})
	if err != nil {
		return nil, err
	}
	opts, err := reboot.OptionsFromConfig(cfg)
	if err != nil {
		return nil, ota.Wrap(ota.ErrorKindPolicyViolation, "", err)
	}
	marker := bootcfg.NewMarker(cfg.BootConfigDir)
	return &Device{
		cfg:      cfg,
		layout:   l,
		image:    image,
		store:    bootcfg.New(cfg.BootConfigDir),
		marker:   marker,
		overlays: overlay.New(cfg.StateDir),
		reboot:   reboot.New(marker, opts),
	}, nil
}

// Layout returns the partition layout of the device.
func (d *Device) Layout() *layout.Layout {
	return d.layout
}

// lock takes the device-wide operation lock. Mutating operations never
// wait for each other: a held lock means another one is in progress.
func (d *Device) lock() (unlock func(), err error) {
	if err := os.MkdirAll(filepath.Dir(dirs.LockFile), 0755); err != nil {
		return nil, ota.Errorf(ota.ErrorKindIO, "", "cannot create lock directory: %w", err)
	}
	l, err := osutil.NewFileLock(dirs.LockFile)
	if err != nil {
		return nil, ota.Errorf(ota.ErrorKindIO, "", "cannot open lock file: %w", err)
	}
	if err := l.TryLock(); err != nil {
		l.Close()
		if errors.Is(err, osutil.ErrAlreadyLocked) {
			return nil, ota.Errorf(ota.ErrorKindStateConflict, "", "another operation is in progress")
		}
		return nil, ota.Errorf(ota.ErrorKindIO, "", "cannot lock %s: %w", dirs.LockFile, err)
	}
	return func() {
		l.Unlock()
		l.Close()
	}, nil
}

func (d *Device) openJournal() (*journal.Journal, error) {
	return journal.Open(d.cfg.Journal, &journal.Options{Timeout: d.cfg.JournalTimeout.Value})
}

// status derives the slot status. Nothing is cached between calls.
func (d *Device) status(j *journal.Journal) (*slots.Status, error) {
	hot, err := slots.DetectHot(d.layout)
	if err != nil {
		return nil, err
	}
	def, err := d.store.Read()
	if err != nil {
		return nil, err
	}
	override, err := d.reboot.Pending()
	if err != nil {
		return nil, err
	}
	staged := false
	if j != nil {
		st, err := j.Staged(slots.Spare(def))
		if err != nil {
			return nil, err
		}
		staged = st != nil
	}
	return slots.Derive(hot, def, staged, override), nil
}

// record appends e to the journal and refreshes the metrics textfile.
// Failures are logged, as the operation itself already happened.
func (d *Device) record(j *journal.Journal, e *journal.Entry, opErr error) {
	if opErr != nil {
		e.Kind = ota.KindOf(opErr)
		e.Message = opErr.Error()
	}
	if err := j.Record(e); err != nil {
		logger.Noticef("Cannot record %s: %v", e.Op, err)
	}
	d.writeMetrics(j)
}

func (d *Device) writeMetrics(j *journal.Journal) {
	if d.cfg.MetricsTextfile == "" {
		return
	}
	entries, err := j.Entries(0)
	if err != nil {
		logger.Noticef("Cannot write metrics: %v", err)
		return
	}
	st, err := d.status(j)
	if err != nil {
		logger.Debugf("Writing metrics without slot state: %v", err)
		st = nil
	}
	if err := metrics.WriteTextfile(d.cfg.MetricsTextfile, st, entries); err != nil {
		logger.Noticef("%v", err)
	}
}

// Provision initialises the boot configuration with set as the default.
func (d *Device) Provision(set ota.Set) (err error) {
	unlock, err := d.lock()
	if err != nil {
		return err
	}
	defer unlock()
	j, err := d.openJournal()
	if err != nil {
		return err
	}
	defer j.Close()
	defer func() {
		d.record(j, &journal.Entry{Op: journal.OpProvision, Set: set}, err)
	}()

	if err := d.store.Provision(set); err != nil {
		return err
	}
	logger.Noticef("Provisioned boot configuration with default set %s.", set)
	return nil
}
