package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IncRenewal(OutcomeSucceeded)
	m.IncRenewal(OutcomeSucceeded)
	m.IncRenewal(OutcomeFailed)
	m.IncTransition("paused")
	m.ObserveCharge("succeeded", 120*time.Millisecond)
	m.ObserveBatch(2*time.Second, map[string]int{"succeeded": 3, "failed": 1})
	m.IncGatewaySyncFailure("cancel")
	m.IncNotifyFailure("renewed")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.renewals.WithLabelValues(OutcomeSucceeded)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.renewals.WithLabelValues(OutcomeFailed)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.transitions.WithLabelValues("paused")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.batchRuns))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.batchItems.WithLabelValues("succeeded")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.gatewaySyncFailures.WithLabelValues("cancel")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncRenewal(OutcomeSucceeded)
		m.ObserveCharge("failed", time.Second)
		m.IncTransition("cancelled")
		m.ObserveBatch(time.Second, map[string]int{"failed": 1})
		m.IncGatewaySyncFailure("pause")
		m.IncNotifyFailure("created")
	})
}
