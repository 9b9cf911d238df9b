package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.MessageReceived()
	m.MessageReceived()
	m.MessageDropped("unrecognized")
	m.RunFinished("ok", 7, 2, 150*time.Millisecond)
	m.RunFinished("error", 0, 0, time.Second)
	m.Retried()
	m.DeadLettered()

	require.Equal(t, 2.0, testutil.ToFloat64(m.received))
	require.Equal(t, 1.0, testutil.ToFloat64(m.dropped.WithLabelValues("unrecognized")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("error")))
	require.Equal(t, 7.0, testutil.ToFloat64(m.rows.WithLabelValues("ok")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.rows.WithLabelValues("failed")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.retried))
	require.Equal(t, 1.0, testutil.ToFloat64(m.deadLettered))
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.Retried()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "pfingest_messages_requeued_total 1")
}
