// Package metrics exposes Prometheus counters for masking activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "anon"

// Rewrite results.
const (
	ResultUnchanged = "unchanged"
	ResultRewritten = "rewritten"
	ResultRefused   = "refused"
	ResultError     = "error"
)

// Static operation outcomes.
const (
	OutcomeMasked = "masked"
	OutcomeNoRule = "no_rule"
	OutcomeError  = "error"
)

// Metrics groups every collector of the service.
type Metrics struct {
	rewriteStatements *prometheus.CounterVec
	maskedRelations   prometheus.Counter
	trustRejections   *prometheus.CounterVec
	staticOperations  *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		rewriteStatements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rewrite",
			Name:      "statements_total",
			Help:      "Statements passed through the masking rewriter, by result.",
		}, []string{"result"}),
		maskedRelations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rewrite",
			Name:      "masked_relations_total",
			Help:      "Relations replaced with a masking subquery.",
		}),
		trustRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trust",
			Name:      "rejections_total",
			Help:      "Function calls rejected by the trust verifier, by reason.",
		}, []string{"reason"}),
		staticOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "static",
			Name:      "operations_total",
			Help:      "Static masking operations, by operation and outcome.",
		}, []string{"operation", "outcome"}),
	}
	reg.MustRegister(m.rewriteStatements, m.maskedRelations, m.trustRejections, m.staticOperations)
	return m
}

// ObserveRewrite counts one rewritten statement batch.
func (m *Metrics) ObserveRewrite(result string, maskedRelations int) {
	m.rewriteStatements.WithLabelValues(result).Inc()
	m.maskedRelations.Add(float64(maskedRelations))
}

// ObserveTrustRejection counts one rejected function call.
func (m *Metrics) ObserveTrustRejection(reason string) {
	m.trustRejections.WithLabelValues(reason).Inc()
}

// ObserveStatic counts one static masking operation.
func (m *Metrics) ObserveStatic(operation, outcome string) {
	m.staticOperations.WithLabelValues(operation, outcome).Inc()
}
