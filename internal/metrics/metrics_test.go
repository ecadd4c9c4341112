package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjod/trophythreads/internal/domain"
)

func TestRecordAttempt(t *testing.T) {
	m := NewServerMetrics("checkout", nil)

	m.RecordAttempt(domain.OrderModeCart, domain.AttemptCommitted)
	m.RecordAttempt(domain.OrderModeCart, domain.AttemptCommitted)
	m.RecordAttempt(domain.OrderModeBuyNow, domain.AttemptRejected)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Attempts.WithLabelValues("cart", "COMMITTED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Attempts.WithLabelValues("buy_now", "REJECTED")))
}

func TestObserveRequest(t *testing.T) {
	m := NewServerMetrics("checkout", nil)

	m.ObserveRequest("/cart", http.StatusOK, 12*time.Millisecond)
	m.ObserveRequest("/cart", http.StatusNotFound, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("/cart", "OK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("/cart", "Not Found")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.LatencyMS))
}

func TestOutboxCounters(t *testing.T) {
	m := NewServerMetrics("checkout", nil)
	m.EventPublished()
	m.EventFailed()
	m.EventFailed()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutboxEvents.WithLabelValues("published")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.OutboxEvents.WithLabelValues("failed")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := NewServerMetrics("checkout", nil)
	m.ObserveCommitDuration(domain.OrderModeCart, 3*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "trophythreads_checkout_checkout_commit_duration_ms")
}
