package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitStateString(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(42).String())
}

func TestNoOpCollector(t *testing.T) {
	var c Collector = NoOpCollector{}
	c.RecordSyncRun("timer", 0, time.Second)
	c.RecordCircuitState("akahu", CircuitOpen)
}

func TestPrometheusCollector(t *testing.T) {
	pc := NewPrometheusCollector("ledger_sync")
	reg := prometheus.NewRegistry()
	require.NoError(t, pc.Register(reg))

	pc.RecordSyncRun("webhook", 2, time.Second)
	pc.RecordAccountSync("ynab", "success", time.Millisecond)
	pc.RecordTransactions("ynab", 5, 2, 1)
	pc.RecordBalanceAdjustment("actual")
	pc.RecordWebhook("rejected")
	pc.RecordWebhook("rejected")
	pc.RecordUpstreamCall("akahu", "ok", time.Millisecond)
	pc.RecordCircuitState("akahu", CircuitOpen)
	pc.RecordHTTPRequest("POST", "/webhook", 400, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(pc.syncRuns.WithLabelValues("webhook")))
	assert.Equal(t, 2.0, testutil.ToFloat64(pc.syncFailures.WithLabelValues("webhook")))
	assert.Equal(t, 3.0, testutil.ToFloat64(pc.transactions.WithLabelValues("ynab", "unchanged")))
	assert.Equal(t, 2.0, testutil.ToFloat64(pc.transactions.WithLabelValues("ynab", "changed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pc.transactions.WithLabelValues("ynab", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pc.adjustments.WithLabelValues("actual")))
	assert.Equal(t, 2.0, testutil.ToFloat64(pc.webhooks.WithLabelValues("rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pc.circuitState.WithLabelValues("akahu")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pc.httpRequests.WithLabelValues("POST", "/webhook", "400")))

	assert.Error(t, pc.Register(reg), "registering twice must fail")
}
