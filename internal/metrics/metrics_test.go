package metrics

/*
substream — mine subdomain labels from the Certificate Transparency stream
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func counterValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	metricLoop:
		for _, m := range f.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue metricLoop
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestDisabledMetricsAreNoops(t *testing.T) {
	m := GetMetrics()
	if IsMetricsEnabled() {
		t.Skip("metrics already enabled by another test")
	}
	m.IncEvent("disabled_check")
	if v := counterValue(t, "substream_events_total", map[string]string{"type": "disabled_check"}); v != 0 {
		t.Fatalf("disabled counter = %v; want 0", v)
	}
	done := MeasureDuration(m.LedgerObserveLatency, prometheus.Labels{"store": "memory"})
	done()
}

func TestEnabledMetricsRecord(t *testing.T) {
	m := GetMetrics()
	EnableMetrics()

	m.IncEvent("heartbeat")
	m.IncEvent("heartbeat")
	m.IncName("observed")
	m.IncNoise("literal:www")
	m.IncWorkerPanic(3)
	m.UpdateQueueMetrics(3, 7)
	m.ObserveQueueWait(2 * time.Millisecond)
	m.ObserveQueueWait(4 * time.Millisecond)

	if v := counterValue(t, "substream_events_total", map[string]string{"type": "heartbeat"}); v != 2 {
		t.Fatalf("events_total{heartbeat} = %v; want 2", v)
	}
	if v := counterValue(t, "substream_noise_discarded_total", map[string]string{"rule": "literal:www"}); v != 1 {
		t.Fatalf("noise_discarded_total = %v; want 1", v)
	}
	if v := counterValue(t, "substream_worker_panics_total", map[string]string{"worker_id": "3"}); v != 1 {
		t.Fatalf("worker_panics_total{3} = %v; want 1", v)
	}

	families, err := Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var samples uint64
	for _, f := range families {
		if f.GetName() == "substream_queue_wait_seconds" {
			samples = f.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	if samples < 2 {
		t.Fatalf("queue_wait_seconds samples = %d; want at least 2", samples)
	}
}
