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

// Package metrics exports the update state of the device in the
// Prometheus text format, for the node exporter textfile collector.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/canonical/otactl/internals/journal"
	"github.com/canonical/otactl/internals/ota"
	"github.com/canonical/otactl/internals/slots"
)

const namespace = "otactl"

type collectors struct {
	defaultSet          *prometheus.GaugeVec
	hotSet              *prometheus.GaugeVec
	pendingVerification prometheus.Gauge
	staged              prometheus.Gauge
	operations          *prometheus.CounterVec
	installBytes        prometheus.Counter
}

func newCollectors() *collectors {
	return &collectors{
		defaultSet: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "default_set",
				Help:      "Partition set booted by default (1 for the set in use)",
			},
			[]string{"set"},
		),
		hotSet: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "hot_set",
				Help:      "Partition set the running system was booted from",
			},
			[]string{"set"},
		),
		pendingVerification: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pending_verification",
				Help:      "Whether the running set waits to be committed",
			},
		),
		staged: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "update_staged",
				Help:      "Whether the spare set holds an installed update",
			},
		),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Operations recorded in the journal by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		installBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "install_bytes_total",
				Help:      "Payload bytes written by successful installs",
			},
		),
	}
}

// Outcome returns the outcome label of a journal entry: "ok" or the
// error kind.
func Outcome(e *journal.Entry) string {
	switch {
	case !e.Failed():
		return "ok"
	case e.Kind != "":
		return string(e.Kind)
	}
	return "error"
}

// Registry returns a registry holding the metrics for st and the journal
// entries. Counters are derived from the journal, so they survive across
// invocations. A nil st leaves the state gauges out.
func Registry(st *slots.Status, entries []*journal.Entry) *prometheus.Registry {
	c := newCollectors()
	reg := prometheus.NewRegistry()
	reg.MustRegister(c.operations, c.installBytes)

	if st != nil {
		reg.MustRegister(c.defaultSet, c.hotSet, c.pendingVerification, c.staged)
		for _, set := range ota.Sets {
			c.defaultSet.WithLabelValues(string(set)).Set(boolValue(st.Default == set))
			c.hotSet.WithLabelValues(string(set)).Set(boolValue(st.Hot == set))
		}
		c.pendingVerification.Set(boolValue(st.State == slots.StatePendingVerification))
		c.staged.Set(boolValue(st.Staged))
	}

	for _, e := range entries {
		c.operations.WithLabelValues(string(e.Op), Outcome(e)).Inc()
		if e.Op == journal.OpInstall && !e.Failed() && e.Bytes > 0 {
			c.installBytes.Add(float64(e.Bytes))
		}
	}
	return reg
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// WriteTextfile writes the metrics to path atomically.
func WriteTextfile(path string, st *slots.Status, entries []*journal.Entry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("cannot write metrics: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, Registry(st, entries)); err != nil {
		return fmt.Errorf("cannot write metrics: %w", err)
	}
	return nil
}
