package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestMetricsHandlerExposesPrometheusMetrics(t *testing.T) {
	metrics := NewMetrics()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	metrics.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}

	body := rr.Body.String()
	if !strings.Contains(body, "botica_restore_provenance_fallbacks_total") {
		t.Fatalf("expected body to contain botica_restore_provenance_fallbacks_total, got: %s", body)
	}
	if !strings.Contains(body, "botica_aggregate_drifts_total") {
		t.Fatalf("expected body to contain botica_aggregate_drifts_total, got: %s", body)
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

	metricsRR := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(metricsRR, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	metricsBody := metricsRR.Body.String()
	if !strings.Contains(metricsBody, "http_requests_total{code=\"418\",route=\"/test\"} 1") {
		t.Fatalf("expected metrics to record request, got: %s", metricsBody)
	}
	if !strings.Contains(metricsBody, "http_request_duration_seconds_bucket{route=\"/test\"") {
		t.Fatalf("expected duration histogram to be present, got: %s", metricsBody)
	}
}

func TestMetricsDomainCounters(t *testing.T) {
	metrics := NewMetrics()

	metrics.ObserveAllocation("ok")
	metrics.ObserveAllocation("shortfall")
	metrics.ObserveAllocation("shortfall")
	metrics.ObserveProvenanceFallback()
	metrics.ObserveAggregateDrift()

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rr.Body.String()
	if !strings.Contains(body, "botica_stock_allocations_total{outcome=\"ok\"} 1") {
		t.Fatalf("expected ok allocation count, got: %s", body)
	}
	if !strings.Contains(body, "botica_stock_allocations_total{outcome=\"shortfall\"} 2") {
		t.Fatalf("expected shortfall allocation count, got: %s", body)
	}
	if !strings.Contains(body, "botica_restore_provenance_fallbacks_total 1") {
		t.Fatalf("expected fallback count, got: %s", body)
	}
	if !strings.Contains(body, "botica_aggregate_drifts_total 1") {
		t.Fatalf("expected drift count, got: %s", body)
	}
}

func TestNilMetricsIsInert(t *testing.T) {
	var metrics *Metrics

	metrics.ObserveAllocation("ok")
	metrics.ObserveProvenanceFallback()
	metrics.ObserveAggregateDrift()

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if got := metrics.Middleware(next); got == nil {
		t.Fatal("expected middleware to pass through")
	}

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 from nil metrics handler, got %d", rr.Code)
	}
}
