package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dashboard"

// Resolution sources reported by Session.Resolved.
const (
	SourceCache = "cache"
	SourceStore = "store"
	SourceNew   = "new"
	SourceStale = "stale"
	SourceError = "error"
)

// Write outcomes reported by Session.Wrote.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpNoop   = "noop"
)

// Session counts how rerenders resolve their session and what persisting
// it costs. A nil *Session is valid and records nothing.
type Session struct {
	resolutions *prometheus.CounterVec
	writes      *prometheus.CounterVec
	storeErrors *prometheus.CounterVec
	activeConns prometheus.Gauge
}

// NewSession registers the session collectors on reg.
func NewSession(reg prometheus.Registerer) *Session {
	factory := promauto.With(reg)

	return &Session{
		resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_resolutions_total",
			Help:      "Session resolutions per rerender by where the session came from",
		}, []string{"kind", "source"}),

		writes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_writes_total",
			Help:      "Persist calls by outcome",
		}, []string{"kind", "op"}),

		storeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_store_errors_total",
			Help:      "Record store failures by operation",
		}, []string{"kind", "op"}),

		activeConns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Connections holding an ephemeral session cache",
		}),
	}
}

func (m *Session) Resolved(kind, source string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(kind, source).Inc()
}

func (m *Session) Wrote(kind, op string) {
	if m == nil {
		return
	}
	m.writes.WithLabelValues(kind, op).Inc()
}

func (m *Session) StoreError(kind, op string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(kind, op).Inc()
}

func (m *Session) SetActiveConns(n int) {
	if m == nil {
		return
	}
	m.activeConns.Set(float64(n))
}
