package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg).(*promMetrics)

	m.LedgerCall("dlv_createOrder", "ok")
	m.LedgerCall("dlv_createOrder", "ok")
	m.DegradedReceipt("dlv_confirmPickup")
	m.Transition("created", "preparing")
	m.Vote("client")
	m.Resolution("resolved")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ledgerCalls.WithLabelValues("dlv_createOrder", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.degraded.WithLabelValues("dlv_confirmPickup")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("created", "preparing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.votes.WithLabelValues("client")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.resolutions.WithLabelValues("resolved")))
}

func TestDoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
