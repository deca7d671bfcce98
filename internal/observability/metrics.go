package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Metrics struct {
	decidesTotal    *prometheus.CounterVec
	rebuildsTotal   prometheus.Counter
	writeFailures   *prometheus.CounterVec
	reconnectsTotal *prometheus.CounterVec
	trackedUsers    prometheus.Gauge

	registry *prometheus.Registry
	logger   *zap.Logger
}

func NewMetrics(logger *zap.Logger) *Metrics {
	m := &Metrics{
		decidesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permd_decides_total",
				Help: "Total permission decisions by outcome",
			},
			[]string{"outcome"},
		),
		rebuildsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "permd_cache_rebuilds_total",
				Help: "Total effective-permission cache rebuilds",
			},
		),
		writeFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permd_db_write_failures_total",
				Help: "Total failed fire-and-forget database writes by operation",
			},
			[]string{"op"},
		),
		reconnectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permd_db_reconnects_total",
				Help: "Total database reconnect attempts by outcome",
			},
			[]string{"outcome"},
		),
		trackedUsers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "permd_tracked_users",
				Help: "Number of principals currently held in memory",
			},
		),
		registry: prometheus.NewRegistry(),
		logger:   logger,
	}

	m.registry.MustRegister(
		m.decidesTotal,
		m.rebuildsTotal,
		m.writeFailures,
		m.reconnectsTotal,
		m.trackedUsers,
	)

	return m
}

func (m *Metrics) RecordDecide(outcome string) {
	if m == nil {
		return
	}
	m.decidesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordRebuild() {
	if m == nil {
		return
	}
	m.rebuildsTotal.Inc()
}

func (m *Metrics) RecordWriteFailure(op string) {
	if m == nil {
		return
	}
	m.writeFailures.WithLabelValues(op).Inc()
}

func (m *Metrics) RecordReconnect(ok bool) {
	if m == nil {
		return
	}
	outcome := "failed"
	if ok {
		outcome = "ok"
	}
	m.reconnectsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetTrackedUsers(n int) {
	if m == nil {
		return
	}
	m.trackedUsers.Set(float64(n))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
