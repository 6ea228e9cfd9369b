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
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry           = prometheus.NewRegistry()
	defaultRegisterer  = promauto.With(registry)
	metricsInitialized sync.Once
	metricsEnabled     bool
	metricsServer      *http.Server
)

// Metrics contains all the Prometheus metrics for the application
type Metrics struct {
	// Feed metrics
	EventsTotal     *prometheus.CounterVec
	FeedReconnects  prometheus.Counter
	FeedConnected   prometheus.Gauge
	FeedDecodeError prometheus.Counter

	// Pipeline metrics
	NamesTotal           *prometheus.CounterVec
	NoiseDiscardedTotal  *prometheus.CounterVec
	LabelsNewTotal       prometheus.Counter
	MilestonesTotal      prometheus.Counter
	LedgerObserveLatency *prometheus.HistogramVec
	LedgerErrorsTotal    *prometheus.CounterVec

	// Scheduler metrics
	QueueSize            *prometheus.GaugeVec
	QueueWait            prometheus.Histogram
	QueueBackpressureHit *prometheus.CounterVec
	WorkerPanics         *prometheus.CounterVec
}

// Global instance of metrics
var globalMetrics *Metrics
var metricsOnce sync.Once

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = newMetrics()
	})
	return globalMetrics
}

// EnableMetrics enables metrics collection
func EnableMetrics() {
	metricsEnabled = true
}

// IsMetricsEnabled returns whether metrics collection is enabled
func IsMetricsEnabled() bool {
	return metricsEnabled
}

// Registry exposes the process registry, e.g. for Gather in tests.
func Registry() *prometheus.Registry {
	return registry
}

func newMetrics() *Metrics {
	buckets := []float64{.0001, .0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1}

	return &Metrics{
		EventsTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "substream_events_total",
				Help: "Feed messages handled, by message type",
			},
			[]string{"type"},
		),
		FeedReconnects: defaultRegisterer.NewCounter(
			prometheus.CounterOpts{
				Name: "substream_feed_reconnects_total",
				Help: "Number of times the feed connection was re-established",
			},
		),
		FeedConnected: defaultRegisterer.NewGauge(
			prometheus.GaugeOpts{
				Name: "substream_feed_connected",
				Help: "Whether the feed websocket is currently connected (1) or not (0)",
			},
		),
		FeedDecodeError: defaultRegisterer.NewCounter(
			prometheus.CounterOpts{
				Name: "substream_feed_decode_errors_total",
				Help: "Feed frames dropped because they could not be decoded",
			},
		),
		NamesTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "substream_names_total",
				Help: "Certificate names processed, by outcome",
			},
			[]string{"outcome"},
		),
		NoiseDiscardedTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "substream_noise_discarded_total",
				Help: "Labels discarded as noise, by matching rule",
			},
			[]string{"rule"},
		),
		LabelsNewTotal: defaultRegisterer.NewCounter(
			prometheus.CounterOpts{
				Name: "substream_labels_new_total",
				Help: "Labels seen for the first time",
			},
		),
		MilestonesTotal: defaultRegisterer.NewCounter(
			prometheus.CounterOpts{
				Name: "substream_milestones_total",
				Help: "Milestone notices emitted",
			},
		),
		LedgerObserveLatency: defaultRegisterer.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "substream_ledger_observe_duration_seconds",
				Help:    "Time spent in a single ledger observe",
				Buckets: buckets,
			},
			[]string{"store"},
		),
		LedgerErrorsTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "substream_ledger_errors_total",
				Help: "Ledger observations that failed",
			},
			[]string{"store"},
		),
		QueueSize: defaultRegisterer.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "substream_queue_size",
				Help: "Current size of worker queues",
			},
			[]string{"worker_id"},
		),
		QueueWait: defaultRegisterer.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "substream_queue_wait_seconds",
				Help:    "Time a work item spent queued before a worker picked it up",
				Buckets: buckets,
			},
		),
		QueueBackpressureHit: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "substream_queue_backpressure_hits_total",
				Help: "Number of times a submit found the target queue full",
			},
			[]string{"worker_id"},
		),
		WorkerPanics: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "substream_worker_panics_total",
				Help: "Total number of panics recovered by a worker",
			},
			[]string{"worker_id"},
		),
	}
}

// StartMetricsServer starts an HTTP server to expose Prometheus metrics
func StartMetricsServer(addr string) error {
	if !metricsEnabled {
		return nil
	}

	// Only start once
	metricsInitialized.Do(func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

		metricsServer = &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			log.Printf("Starting metrics server on %s", addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("Metrics server error: %v", err)
			}
		}()
	})

	return nil
}

// ShutdownMetricsServer gracefully shuts down the metrics server
func ShutdownMetricsServer(ctx context.Context) error {
	if metricsServer != nil {
		log.Println("Shutting down metrics server...")
		return metricsServer.Shutdown(ctx)
	}
	return nil
}

// MeasureDuration is a helper to measure the duration of a function
func MeasureDuration(histogram *prometheus.HistogramVec, labels prometheus.Labels) func() {
	if !metricsEnabled {
		return func() {}
	}

	start := time.Now()
	return func() {
		duration := time.Since(start)
		histogram.With(labels).Observe(duration.Seconds())
	}
}

// IncEvent counts one feed message by type.
func (m *Metrics) IncEvent(kind string) {
	if !metricsEnabled {
		return
	}
	m.EventsTotal.WithLabelValues(kind).Inc()
}

// IncName counts one certificate name by pipeline outcome.
func (m *Metrics) IncName(outcome string) {
	if !metricsEnabled {
		return
	}
	m.NamesTotal.WithLabelValues(outcome).Inc()
}

// IncNoise counts one discarded label under the rule that matched it.
func (m *Metrics) IncNoise(rule string) {
	if !metricsEnabled {
		return
	}
	m.NoiseDiscardedTotal.WithLabelValues(rule).Inc()
}

// IncLedgerError counts one failed observe.
func (m *Metrics) IncLedgerError(store string) {
	if !metricsEnabled {
		return
	}
	m.LedgerErrorsTotal.WithLabelValues(store).Inc()
}

// IncNewLabel counts a first sighting.
func (m *Metrics) IncNewLabel() {
	if !metricsEnabled {
		return
	}
	m.LabelsNewTotal.Inc()
}

// IncMilestone counts a milestone notice.
func (m *Metrics) IncMilestone() {
	if !metricsEnabled {
		return
	}
	m.MilestonesTotal.Inc()
}

// IncReconnect counts a feed reconnect.
func (m *Metrics) IncReconnect() {
	if !metricsEnabled {
		return
	}
	m.FeedReconnects.Inc()
}

// IncDecodeError counts a dropped feed frame.
func (m *Metrics) IncDecodeError() {
	if !metricsEnabled {
		return
	}
	m.FeedDecodeError.Inc()
}

// SetConnected records the feed connection state.
func (m *Metrics) SetConnected(up bool) {
	if !metricsEnabled {
		return
	}
	if up {
		m.FeedConnected.Set(1)
	} else {
		m.FeedConnected.Set(0)
	}
}

// UpdateQueueMetrics updates queue metrics for a worker
func (m *Metrics) UpdateQueueMetrics(workerID int, queueSize int) {
	if !metricsEnabled {
		return
	}
	m.QueueSize.WithLabelValues(strconv.Itoa(workerID)).Set(float64(queueSize))
}

// IncBackpressure counts a full-queue hit for a worker.
func (m *Metrics) IncBackpressure(workerID int) {
	if !metricsEnabled {
		return
	}
	m.QueueBackpressureHit.WithLabelValues(strconv.Itoa(workerID)).Inc()
}

// IncWorkerPanic counts a recovered panic.
func (m *Metrics) IncWorkerPanic(workerID int) {
	if !metricsEnabled {
		return
	}
	m.WorkerPanics.WithLabelValues(strconv.Itoa(workerID)).Inc()
}

// ObserveQueueWait records how long an item waited in a worker queue.
func (m *Metrics) ObserveQueueWait(d time.Duration) {
	if !metricsEnabled {
		return
	}
	m.QueueWait.Observe(d.Seconds())
}
