package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ConnectionOpened()
		m.TurnFinished("completed", time.Second)
		m.Routed("explicit")
		m.RPCError("-32601")
	})
	assert.Nil(t, m.Registry())
}

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.Routed("capability")
	m.Routed("capability")
	m.TurnFinished("completed", 150*time.Millisecond)
	m.ToolRun("failed")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.connections))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.routing.WithLabelValues("capability")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.turns.WithLabelValues("completed")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "agentroom_routing_selections_total")
	assert.Contains(t, string(body), "agentroom_tool_runs_total")
}
