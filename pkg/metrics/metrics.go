// Package metrics provides Prometheus instrumentation for the sync engine and
// its observers. All recorders are safe to call on a nil *Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "roomsync"

// Metrics holds every collector the client exports.
type Metrics struct {
	SyncRequestsTotal     *prometheus.CounterVec
	SyncDuration          prometheus.Histogram
	CursorAdvancesTotal   prometheus.Counter
	EventsDispatchedTotal *prometheus.CounterVec
	ObserverFailuresTotal *prometheus.CounterVec
	LoginAttemptsTotal    *prometheus.CounterVec
	WriteRequestsTotal    *prometheus.CounterVec
	RateLimitHitsTotal    prometheus.Counter
	DirectoryRooms        prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with registerer.
// A nil registerer leaves them unregistered, which tests use.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		SyncRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_requests_total",
			Help:      "Total sync requests by outcome",
		}, []string{"status"}),
		SyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Sync request duration including the long-poll wait",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}),
		CursorAdvancesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cursor_advances_total",
			Help:      "Times the sync cursor was overwritten by a server next_batch",
		}),
		EventsDispatchedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dispatched_total",
			Help:      "Events handed to the dispatcher by variant",
		}, []string{"variant"}),
		ObserverFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observer_failures_total",
			Help:      "Observer handler errors and panics",
		}, []string{"observer", "variant"}),
		LoginAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_attempts_total",
			Help:      "Login attempts by outcome",
		}, []string{"status"}),
		WriteRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_requests_total",
			Help:      "Join and send requests by kind and outcome",
		}, []string{"kind", "status"}),
		RateLimitHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "M_LIMIT_EXCEEDED responses from the homeserver",
		}),
		DirectoryRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "directory_rooms",
			Help:      "Rooms currently known to the directory",
		}),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.SyncRequestsTotal,
			m.SyncDuration,
			m.CursorAdvancesTotal,
			m.EventsDispatchedTotal,
			m.ObserverFailuresTotal,
			m.LoginAttemptsTotal,
			m.WriteRequestsTotal,
			m.RateLimitHitsTotal,
			m.DirectoryRooms,
		)
	}
	return m
}

// RecordSync records one sync cycle.
func (m *Metrics) RecordSync(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SyncRequestsTotal.WithLabelValues(status).Inc()
	m.SyncDuration.Observe(duration.Seconds())
}

// RecordCursorAdvance records a cursor overwrite.
func (m *Metrics) RecordCursorAdvance() {
	if m == nil {
		return
	}
	m.CursorAdvancesTotal.Inc()
}

// RecordEvent records one dispatched event.
func (m *Metrics) RecordEvent(variant string) {
	if m == nil {
		return
	}
	m.EventsDispatchedTotal.WithLabelValues(variant).Inc()
}

// RecordObserverFailure records an observer that returned an error or panicked.
func (m *Metrics) RecordObserverFailure(observer, variant string) {
	if m == nil {
		return
	}
	m.ObserverFailuresTotal.WithLabelValues(observer, variant).Inc()
}

// RecordLogin records a login attempt.
func (m *Metrics) RecordLogin(status string) {
	if m == nil {
		return
	}
	m.LoginAttemptsTotal.WithLabelValues(status).Inc()
}

// RecordWrite records a join or send request.
func (m *Metrics) RecordWrite(kind, status string) {
	if m == nil {
		return
	}
	m.WriteRequestsTotal.WithLabelValues(kind, status).Inc()
}

// RecordRateLimitHit records an M_LIMIT_EXCEEDED response.
func (m *Metrics) RecordRateLimitHit() {
	if m == nil {
		return
	}
	m.RateLimitHitsTotal.Inc()
}

// SetDirectoryRooms sets the directory size gauge.
func (m *Metrics) SetDirectoryRooms(n int) {
	if m == nil {
		return
	}
	m.DirectoryRooms.Set(float64(n))
}
