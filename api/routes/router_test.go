package routes

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/avolkov/stockroom-backend/pkg/config"
	"github.com/avolkov/stockroom-backend/pkg/metrics"
)

func testRouter() http.Handler {
	reg := prometheus.NewRegistry()
	metrics.NewPipelineMetrics(reg)
	return NewRouter(RouterParams{
		Config:   &config.Config{App: config.AppConfig{Env: "test"}},
		Gatherer: reg,
	})
}

func TestRouterPing(t *testing.T) {
	router := testRouter()

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected body: %s", resp.Body.String())
	}
}

func TestRouterHealthLive(t *testing.T) {
	router := testRouter()

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if got := resp.Header().Get("X-Stockroom-Env"); got != "test" {
		t.Fatalf("expected env header, got %q", got)
	}
}

func TestRouterHealthReadyWithoutDeps(t *testing.T) {
	router := testRouter()

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}
}

func TestRouterMetricsExposed(t *testing.T) {
	reg := prometheus.NewRegistry()
	pipeline := metrics.NewPipelineMetrics(reg)
	pipeline.IncCommit("ok")
	router := NewRouter(RouterParams{
		Config:   &config.Config{App: config.AppConfig{Env: "test"}},
		Gatherer: reg,
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "import_commits_total") {
		t.Fatalf("expected pipeline metrics in output: %s", resp.Body.String())
	}
}

func TestRouterUnknownRoute(t *testing.T) {
	router := testRouter()

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}
