// Package metrics exposes agent counters to Prometheus. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "liquid_agent"

// Metrics holds the agent's collectors on a private registry.
type Metrics struct {
	registry   *prometheus.Registry
	cycles     *prometheus.CounterVec
	confidence prometheus.Gauge
	proposals  prometheus.Counter
	executions *prometheus.CounterVec
	fallbacks  *prometheus.CounterVec
	snapshots  prometheus.Counter
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Orchestration cycles by outcome.",
		}, []string{"status"}),
		confidence: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "strategy_confidence",
			Help:      "Confidence of the most recent strategy.",
		}),
		proposals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proposals_submitted_total",
			Help:      "Proposals confirmed on the ledger.",
		}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proposal_executions_total",
			Help:      "Proposal execution attempts by result.",
		}, []string{"result"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_observations_total",
			Help:      "Observations that used fallback data, by source.",
		}, []string{"source"}),
		snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_total",
			Help:      "Market snapshots taken.",
		}),
	}
	m.registry.MustRegister(m.cycles, m.confidence, m.proposals, m.executions, m.fallbacks, m.snapshots)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) CycleFinished(status string) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(status).Inc()
}

func (m *Metrics) StrategyConfidence(v float64) {
	if m == nil {
		return
	}
	m.confidence.Set(v)
}

func (m *Metrics) ProposalSubmitted() {
	if m == nil {
		return
	}
	m.proposals.Inc()
}

func (m *Metrics) ProposalExecuted(ok bool) {
	if m == nil {
		return
	}
	result := "executed"
	if !ok {
		result = "failed"
	}
	m.executions.WithLabelValues(result).Inc()
}

func (m *Metrics) Fallback(source string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(source).Inc()
}

func (m *Metrics) SnapshotTaken() {
	if m == nil {
		return
	}
	m.snapshots.Inc()
}
