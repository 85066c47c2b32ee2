package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	jobmetrics "github.com/odyssey-erp/stockrecon/internal/jobs"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	return rr.Body.String()
}

func TestMetricsHandlerExposesPrometheusMetrics(t *testing.T) {
	metrics := NewMetrics()

	body := scrape(t, metrics)
	if !strings.Contains(body, "stockrecon_sweep_candidates") {
		t.Fatalf("expected body to contain stockrecon_sweep_candidates, got: %s", body)
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Fatalf("expected runtime collectors, got: %s", body)
	}
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx)
	req = req.WithContext(ctx)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rr.Code)
	}

	metricsBody := scrape(t, metrics)
	if !strings.Contains(metricsBody, "stockrecon_http_requests_total{code=\"418\",route=\"/test\"} 1") {
		t.Fatalf("expected metrics to record request, got: %s", metricsBody)
	}
	if !strings.Contains(metricsBody, "stockrecon_http_request_duration_seconds_bucket{route=\"/test\"") {
		t.Fatalf("expected duration histogram to be present, got: %s", metricsBody)
	}
}

func TestJobMetricsShareRegistry(t *testing.T) {
	metrics := NewMetrics()

	_ = metrics.Jobs().Track("stock:reconcile").End(nil)
	_ = metrics.Jobs().Track("stock:reconcile").End(errors.New("boom"))
	metrics.Jobs().ObserveSweep(jobmetrics.SweepOutcomes{Candidates: 4, Updated: 2, Skipped: 1, Failed: 1, FinishedAt: time.Unix(1700000000, 0)})

	body := scrape(t, metrics)
	for _, want := range []string{
		`stockrecon_jobs_total{job="stock:reconcile",status="success"} 1`,
		`stockrecon_jobs_total{job="stock:reconcile",status="failure"} 1`,
		`stockrecon_jobs_failures_total{job="stock:reconcile"} 1`,
		`stockrecon_sweep_products_total{outcome="updated"} 2`,
		`stockrecon_sweep_products_total{outcome="failed"} 1`,
		`stockrecon_sweep_candidates 4`,
		`stockrecon_sweep_last_completed_timestamp_seconds 1.7e+09`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in metrics, got: %s", want, body)
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if metrics.Jobs() != nil {
		t.Fatal("expected nil job metrics")
	}
	if err := metrics.Jobs().Track("noop").End(nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
