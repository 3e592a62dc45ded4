package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	joins          *prometheus.CounterVec
	removals       *prometheus.CounterVec
	activeMembers  prometheus.Gauge
	armedTimers    prometheus.Gauge
	staleFires     prometheus.Counter
	adapterCalls   *prometheus.CounterVec
	adapterRetries *prometheus.CounterVec
	pendingOps     *prometheus.CounterVec
}

// NewMetrics registra en reg; con nil usa un registry propio (tests).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		joins: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lfg_joins_total",
			Help: "Joins to a queue, by result (created or refreshed)",
		}, []string{"result"}),
		removals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lfg_removals_total",
			Help: "Memberships removed, by reason",
		}, []string{"reason"}),
		activeMembers: f.NewGauge(prometheus.GaugeOpts{
			Name: "lfg_active_memberships",
			Help: "Live memberships across all guilds",
		}),
		armedTimers: f.NewGauge(prometheus.GaugeOpts{
			Name: "lfg_expiry_timers",
			Help: "Expiry timers currently armed",
		}),
		staleFires: f.NewCounter(prometheus.CounterOpts{
			Name: "lfg_expiry_stale_fires_total",
			Help: "Expiry fires discarded because the membership changed",
		}),
		adapterCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lfg_handle_calls_total",
			Help: "Group handle adapter calls, by op and outcome",
		}, []string{"op", "outcome"}),
		adapterRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lfg_handle_retries_total",
			Help: "Transient handle failures retried",
		}, []string{"op"}),
		pendingOps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lfg_pending_ops_total",
			Help: "Handle work journaled for reconciliation",
		}, []string{"kind", "attention"}),
	}
}
