package jobmetrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, reg *prometheus.Registry) string {
	t.Helper()
	rr := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestTrackerOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.now = func() time.Time { return time.Unix(1700000000, 0) }

	require.NoError(t, m.Track("recover").End(nil))

	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("recover").End(boom), boom)
	require.Error(t, m.Track("recover").End(fmt.Errorf("stop: %w", context.Canceled)))

	body := scrape(t, reg)
	require.Contains(t, body, `odyssey_jobs_total{job="recover",status="success"} 1`)
	require.Contains(t, body, `odyssey_jobs_total{job="recover",status="failure"} 1`)
	require.Contains(t, body, `odyssey_jobs_total{job="recover",status="canceled"} 1`)
	require.Contains(t, body, `odyssey_jobs_failures_total{job="recover"} 1`)
	require.Contains(t, body, `odyssey_job_last_success_timestamp_seconds{job="recover"} 1.7e+09`)
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.AddRecovered("workflow", 3)
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("x").End(boom), boom)
}

func TestAddRecoveredIgnoresEmptyRuns(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.AddRecovered("workflow", 0)
	m.AddRecovered("workflow", 2)
	require.Contains(t, scrape(t, reg), `odyssey_ledger_recovered_total{kind="workflow"} 2`)
}
