// Package metrics holds the Prometheus collectors for the board store.
//
// A nil *Metrics is valid and records nothing, so components can take an
// optional *Metrics without branching at every call site.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mdboard"

// Metrics groups the counters and histograms updated by the cache, lock
// manager and document directory.
type Metrics struct {
	cacheLookups   *prometheus.CounterVec
	lockRetries    prometheus.Counter
	lockFailures   prometheus.Counter
	lockWait       prometheus.Histogram
	documentWrites *prometheus.CounterVec
	parseFailures  prometheus.Counter
}

// New creates the collectors and registers them with reg.
// A nil reg creates unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Board cache lookups by result (hit, miss).",
		}, []string{"result"}),
		lockRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lock",
			Name:      "retries_total",
			Help:      "Lock acquisition attempts that found the marker already present.",
		}),
		lockFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lock",
			Name:      "failures_total",
			Help:      "Lock acquisitions that gave up.",
		}),
		lockWait: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "lock",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for a lock.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		documentWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "document",
			Name:      "writes_total",
			Help:      "Board document writes and deletes by operation and result.",
		}, []string{"op", "result"}),
		parseFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "document",
			Name:      "parse_failures_total",
			Help:      "Board documents that could not be decoded.",
		}),
	}
}

func (m *Metrics) CacheHit() {
	if m != nil {
		m.cacheLookups.WithLabelValues("hit").Inc()
	}
}

func (m *Metrics) CacheMiss() {
	if m != nil {
		m.cacheLookups.WithLabelValues("miss").Inc()
	}
}

func (m *Metrics) LockRetry() {
	if m != nil {
		m.lockRetries.Inc()
	}
}

func (m *Metrics) LockFailure() {
	if m != nil {
		m.lockFailures.Inc()
	}
}

// ObserveLockWait records how long an acquisition waited, successful or not.
func (m *Metrics) ObserveLockWait(d time.Duration) {
	if m != nil {
		m.lockWait.Observe(d.Seconds())
	}
}

// DocumentWritten counts a write or delete ("write", "delete") of a board document.
func (m *Metrics) DocumentWritten(op string, err error) {
	if m == nil {
		return
	}

	result := "ok"
	if err != nil {
		result = "error"
	}

	m.documentWrites.WithLabelValues(op, result).Inc()
}

func (m *Metrics) ParseFailure() {
	if m != nil {
		m.parseFailures.Inc()
	}
}
