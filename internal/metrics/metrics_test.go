package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	metricLoop:
		for _, metric := range family.GetMetric() {
			for _, pair := range metric.GetLabel() {
				if labels[pair.GetName()] != pair.GetValue() {
					continue metricLoop
				}
			}
			if c := metric.GetCounter(); c != nil {
				return c.GetValue()
			}
			if g := metric.GetGauge(); g != nil {
				return g.GetValue()
			}
		}
	}
	return 0
}

func TestMailboxDepth(t *testing.T) {
	m := New()
	depth := 3
	m.ObserveMailbox("engine", func() int { return depth })
	m.ObserveMailbox("engine", func() int { return 99 })

	assert.Equal(t, 3.0, counterValue(t, m, "slackline_mailbox_depth", map[string]string{"actor": "engine"}))
	depth = 5
	assert.Equal(t, 5.0, counterValue(t, m, "slackline_mailbox_depth", map[string]string{"actor": "engine"}))

	var nilMetrics *Metrics
	nilMetrics.ObserveMailbox("engine", func() int { return 0 })
}

func TestCounters(t *testing.T) {
	m := New()

	m.ObserveEvent("message")
	m.ObserveEvent("message")
	m.ObserveEvent("presence-change")
	m.DecodeError()
	m.ObserveAction("chat.postMessage", 10*time.Millisecond, "")
	m.ObserveAction("chat.postMessage", 10*time.Millisecond, "serverRejected")
	m.ReconnectAttempt()
	m.SetConnectionState(2)
	m.CacheWrites(3)

	assert.Equal(t, 2.0, counterValue(t, m, "slackline_stream_events_total", map[string]string{"type": "message"}))
	assert.Equal(t, 1.0, counterValue(t, m, "slackline_stream_events_total", map[string]string{"type": "presence-change"}))
	assert.Equal(t, 1.0, counterValue(t, m, "slackline_stream_decode_errors_total", nil))
	assert.Equal(t, 1.0, counterValue(t, m, "slackline_action_failures_total",
		map[string]string{"method": "chat.postMessage", "kind": "serverRejected"}))
	assert.Equal(t, 1.0, counterValue(t, m, "slackline_reconnect_attempts_total", nil))
	assert.Equal(t, 2.0, counterValue(t, m, "slackline_connection_state", nil))
	assert.Equal(t, 3.0, counterValue(t, m, "slackline_cache_writes_total", nil))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveEvent("message")
		m.DecodeError()
		m.ObserveAction("auth.test", time.Second, "network")
		m.ReconnectAttempt()
		m.SetConnectionState(1)
		m.CacheWrites(1)
	})
	assert.Nil(t, m.Registry())
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveEvent("message")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `slackline_stream_events_total{type="message"} 1`))
}
