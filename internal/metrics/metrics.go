// README: Prometheus collectors for ledger calls, transitions, degraded receipts and arbitration.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dropchain"

type Metrics interface {
	LedgerCall(method, result string)
	DegradedReceipt(method string)
	Transition(from, to string)
	Vote(outcome string)
	Resolution(result string)
}

type promMetrics struct {
	ledgerCalls *prometheus.CounterVec
	degraded    *prometheus.CounterVec
	transitions *prometheus.CounterVec
	votes       *prometheus.CounterVec
	resolutions *prometheus.CounterVec
}

func New(registry prometheus.Registerer) Metrics {
	m := &promMetrics{
		ledgerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ledger", Name: "calls_total",
			Help: "Ledger calls by method and result",
		}, []string{"method", "result"}),
		degraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ledger", Name: "degraded_receipts_total",
			Help: "Transitions committed on a locally synthesized receipt",
		}, []string{"method"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "order", Name: "transitions_total",
			Help: "Committed order status transitions",
		}, []string{"from", "to"}),
		votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "arbitration", Name: "votes_total",
			Help: "Accepted dispute votes by outcome",
		}, []string{"outcome"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "arbitration", Name: "resolutions_total",
			Help: "Dispute resolution attempts by result",
		}, []string{"result"}),
	}
	registry.MustRegister(m.ledgerCalls, m.degraded, m.transitions, m.votes, m.resolutions)
	return m
}

func (m *promMetrics) LedgerCall(method, result string) {
	m.ledgerCalls.With(prometheus.Labels{"method": method, "result": result}).Inc()
}

func (m *promMetrics) DegradedReceipt(method string) {
	m.degraded.With(prometheus.Labels{"method": method}).Inc()
}

func (m *promMetrics) Transition(from, to string) {
	m.transitions.With(prometheus.Labels{"from": from, "to": to}).Inc()
}

func (m *promMetrics) Vote(outcome string) {
	m.votes.With(prometheus.Labels{"outcome": outcome}).Inc()
}

func (m *promMetrics) Resolution(result string) {
	m.resolutions.With(prometheus.Labels{"result": result}).Inc()
}

// Noop discards everything; used when no registry is wired.
type Noop struct{}

func (Noop) LedgerCall(string, string) {}
func (Noop) DegradedReceipt(string)    {}
func (Noop) Transition(string, string) {}
func (Noop) Vote(string)               {}
func (Noop) Resolution(string)         {}
