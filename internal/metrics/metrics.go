// Package metrics records settlement, conversion and gateway counters.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeSuccess  = "success"
	OutcomeReplayed = "replayed"
	OutcomeFailure  = "failure"
)

// Metrics is nil-safe; a nil *Metrics records nothing.
type Metrics struct {
	settlements  *prometheus.CounterVec
	conversions  *prometheus.CounterVec
	fxDegraded   *prometheus.CounterVec
	gatewayCalls *prometheus.HistogramVec
	unreconciled prometheus.Counter
}

// New registers the service metrics on the provided registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return &Metrics{}
	}
	settlements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlements_total",
		Help: "Settlement flow executions by flow and outcome.",
	}, []string{"flow", "outcome"})
	conversions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fx_conversions_total",
		Help: "Currency conversions by the provider that answered.",
	}, []string{"provider"})
	fxDegraded := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fx_degraded_total",
		Help: "Conversions that fell back to the unconverted amount.",
	}, []string{"from", "to"})
	gatewayCalls := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_request_duration_seconds",
		Help:    "Payment gateway request latency by operation and outcome.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op", "outcome"})
	unreconciled := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "settlement_unreconciled_captures_total",
		Help: "Completed gateway captures whose ledger credit could not be committed.",
	})
	reg.MustRegister(settlements, conversions, fxDegraded, gatewayCalls, unreconciled)
	return &Metrics{
		settlements:  settlements,
		conversions:  conversions,
		fxDegraded:   fxDegraded,
		gatewayCalls: gatewayCalls,
		unreconciled: unreconciled,
	}
}

// Settlement counts one flow execution.
func (m *Metrics) Settlement(flow, outcome string) {
	if m == nil || m.settlements == nil {
		return
	}
	m.settlements.WithLabelValues(normalizeLabel(flow), normalizeLabel(outcome)).Inc()
}

// Conversion counts a conversion answered by provider.
func (m *Metrics) Conversion(provider string) {
	if m == nil || m.conversions == nil {
		return
	}
	m.conversions.WithLabelValues(normalizeLabel(provider)).Inc()
}

// ConversionDegraded counts a fail-open conversion.
func (m *Metrics) ConversionDegraded(from, to string) {
	if m == nil || m.fxDegraded == nil {
		return
	}
	m.fxDegraded.WithLabelValues(normalizeLabel(from), normalizeLabel(to)).Inc()
}

// GatewayCall observes a gateway request.
func (m *Metrics) GatewayCall(op, outcome string, took time.Duration) {
	if m == nil || m.gatewayCalls == nil {
		return
	}
	m.gatewayCalls.WithLabelValues(normalizeLabel(op), normalizeLabel(outcome)).Observe(took.Seconds())
}

// UnreconciledCapture counts a capture left without a ledger credit.
func (m *Metrics) UnreconciledCapture() {
	if m == nil || m.unreconciled == nil {
		return
	}
	m.unreconciled.Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
