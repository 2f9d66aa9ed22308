// Package metrics exports ftpfs pool metrics to Prometheus.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gonzalop/ftpfs"
)

// Metrics implements ftpfs.MetricsCollector with Prometheus collectors.
// Register them with Collectors.
type Metrics struct {
	Acquires        *prometheus.CounterVec
	AcquireWait     prometheus.Histogram
	Connects        *prometheus.CounterVec
	ConnectDuration *prometheus.HistogramVec
	Evictions       *prometheus.CounterVec
	Retries         *prometheus.CounterVec
	LiveSessions    prometheus.Gauge
}

var _ ftpfs.MetricsCollector = (*Metrics)(nil)

// New creates the collectors under namespace.
func New(namespace string) *Metrics {
	return &Metrics{
		Acquires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "acquires_total",
			Help:      "Sessions handed out by the pool.",
		}, []string{"scheme", "reused"}),
		AcquireWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "acquire_wait_seconds",
			Help:      "Time spent waiting for a connection key held by another caller.",
			Buckets:   prometheus.DefBuckets,
		}),
		Connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "connects_total",
			Help:      "Connection attempts including login.",
		}, []string{"scheme", "success"}),
		ConnectDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "connect_duration_seconds",
			Help:      "Duration of connection attempts including login.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"scheme"}),
		Evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "evictions_total",
			Help:      "Sessions closed by the pool, by reason.",
		}, []string{"reason"}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "retries_total",
			Help:      "Operations retried after a connection failure.",
		}, []string{"op"}),
		LiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "live_sessions",
			Help:      "Open sessions.",
		}),
	}
}

// Collectors returns all collectors for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	if m == nil {
		return nil
	}
	return []prometheus.Collector{
		m.Acquires,
		m.AcquireWait,
		m.Connects,
		m.ConnectDuration,
		m.Evictions,
		m.Retries,
		m.LiveSessions,
	}
}

// MustRegister registers every collector with reg.
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(m.Collectors()...)
}

func (m *Metrics) RecordAcquire(scheme string, reused bool, wait time.Duration) {
	m.Acquires.WithLabelValues(scheme, strconv.FormatBool(reused)).Inc()
	m.AcquireWait.Observe(wait.Seconds())
}

func (m *Metrics) RecordConnect(scheme string, success bool, duration time.Duration) {
	m.Connects.WithLabelValues(scheme, strconv.FormatBool(success)).Inc()
	m.ConnectDuration.WithLabelValues(scheme).Observe(duration.Seconds())
}

func (m *Metrics) RecordEviction(reason string) {
	m.Evictions.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordRetry(op string) {
	m.Retries.WithLabelValues(op).Inc()
}

func (m *Metrics) SetLiveSessions(n int) {
	m.LiveSessions.Set(float64(n))
}
