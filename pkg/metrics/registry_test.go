package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestHandlerExposesMetrics(t *testing.T) {
	reg := NewRegistry(WithNamespace("problemd"))
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: reg.Name("test_counter_total"),
		Help: "test counter",
	})
	reg.Register(counter)
	counter.Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rr := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rr, req)

	if rr.Code != 200 {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "problemd_test_counter_total 1") {
		t.Fatalf("expected namespaced counter in output, got %s", rr.Body.String())
	}
}

func TestNameWithoutNamespace(t *testing.T) {
	reg := NewRegistry(WithoutDefaultCollectors())
	if got := reg.Name("x_total"); got != "x_total" {
		t.Fatalf("expected bare name, got %s", got)
	}
}

func TestWithoutDefaultCollectors(t *testing.T) {
	reg := NewRegistry(WithoutDefaultCollectors())
	mfs, err := reg.Raw().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) != 0 {
		t.Fatalf("expected no collectors registered by default, got %d", len(mfs))
	}
}

func TestNilRegistryServesNotFound(t *testing.T) {
	var reg *Registry
	rr := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	if rr.Code != 404 {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestCounterVecReusesExistingCollector(t *testing.T) {
	reg := NewRegistry(WithoutDefaultCollectors(), WithNamespace("problemd"))
	first := reg.CounterVec("hits_total", "hits", "route")
	second := reg.CounterVec("hits_total", "hits", "route")

	first.WithLabelValues("/a").Inc()
	second.WithLabelValues("/a").Inc()

	rr := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rr.Body.String(), `problemd_hits_total{route="/a"} 2`) {
		t.Fatalf("expected shared counter, got %s", rr.Body.String())
	}
}
