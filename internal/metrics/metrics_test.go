package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lineage/api/internal/validity"
)

func TestObserveRequest(t *testing.T) {
	m := New()
	m.ObserveRequest(http.MethodGet, "/api/clergy", 200, 15*time.Millisecond)
	m.ObserveRequest(http.MethodGet, "/api/clergy", 200, 5*time.Millisecond)
	m.ObserveRequest(http.MethodPost, "/api/clergy", 422, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("GET", "/api/clergy", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("POST", "/api/clergy", "422")))
}

func TestValidityObserver(t *testing.T) {
	m := New()
	var observer validity.Observer = m
	observer.SummaryLookup(true)
	observer.SummaryLookup(false)
	observer.SummaryLookup(false)
	observer.Violation(validity.KindConsecration)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.summaryLookups.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.summaryLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.violations.WithLabelValues("consecration")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.SearchFallback()
	m.ObserveRequest(http.MethodGet, "/api/health", 200, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	for _, name := range []string{
		"lineage_http_requests_total",
		"lineage_http_request_duration_seconds",
		"lineage_search_fallbacks_total 1",
		"go_goroutines",
	} {
		assert.True(t, strings.Contains(text, name), name)
	}
}
