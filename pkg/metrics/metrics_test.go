package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestObserveAndExposition(t *testing.T) {
	m := New("wisp")

	m.RequestStarted()
	m.Observe(http.MethodGet, "/users/:id", 200, 25*time.Millisecond, 512)
	m.RequestStarted()
	m.Observe(http.MethodGet, "/users/:id", 200, 40*time.Millisecond, 256)
	m.RequestStarted()
	m.Observe(http.MethodPost, "/users", 400, 5*time.Millisecond, 64)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	m.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 from exposition handler, got %d", rr.Code)
	}

	body := rr.Body.String()
	for _, want := range []string{
		`wisp_http_requests_total{method="GET",route="/users/:id",status="200"} 2`,
		`wisp_http_requests_total{method="POST",route="/users",status="400"} 1`,
		`wisp_http_response_size_bytes_total{method="GET",route="/users/:id"} 768`,
		`wisp_http_requests_in_flight 0`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition output missing %q", want)
		}
	}
}

func TestInFlightGauge(t *testing.T) {
	m := New("wisp")

	m.RequestStarted()
	m.RequestStarted()

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rr.Body.String(), "wisp_http_requests_in_flight 2") {
		t.Errorf("expected 2 requests in flight, got output:\n%s", rr.Body.String())
	}
}
