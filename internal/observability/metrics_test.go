package observability

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()
	var m *Metrics
	ctx := t.Context()

	m.RecordHTTPRequest(ctx, "GET", "/health", 200, 0.01)
	m.RecordWorkflowStarted(ctx, "FRAME")
	m.RecordWorkflowCompleted(ctx, "FRAME", false, 1)
	m.RecordLedgerWrite(ctx)
	m.RecordLedgerCancelled(ctx, 2)
	m.RecordCache(ctx, true)
	m.RecordFetchAttempt(ctx)
}

func TestMetricsExposedOverHTTP(t *testing.T) {
	t.Parallel()
	m, handler, err := NewMetrics(t.Context())
	require.NoError(t, err)

	ctx := t.Context()
	m.RecordWorkflowStarted(ctx, "MODEL")
	m.RecordWorkflowCompleted(ctx, "MODEL", false, 2.5)
	m.RecordLedgerWrite(ctx)
	m.RecordCache(ctx, false)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	assert.Contains(t, string(body), "workflows_total")
	assert.Contains(t, string(body), "workflow_errors_total")
	assert.Contains(t, string(body), "ledger_writes_total")
	assert.Contains(t, string(body), "response_cache_misses_total")
}
