package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/R3E-Network/signal_bridge/internal/engine/events"
	"github.com/R3E-Network/signal_bridge/internal/engine/metrics"
	"github.com/R3E-Network/signal_bridge/pkg/logger"
)

func ok() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestTracing_PropagatesTraceID(t *testing.T) {
	var seen string
	h := Tracing(logger.NewDiscard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = events.TraceIDFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(TraceHeader, "trace-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != "trace-123" {
		t.Errorf("context trace = %q, want trace-123", seen)
	}
	if got := rec.Header().Get(TraceHeader); got != "trace-123" {
		t.Errorf("response trace = %q, want trace-123", got)
	}
}

func TestTracing_GeneratesTraceID(t *testing.T) {
	h := Tracing(logger.NewDiscard())(ok())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get(TraceHeader) == "" {
		t.Fatal("expected generated trace ID")
	}
}

func TestMetrics_UsesRouteTemplate(t *testing.T) {
	c := metrics.NewCollector("test")
	r := mux.NewRouter()
	r.Use(Metrics(c))
	r.Handle("/v1/chains/{chainID}/messages/{msgHash}", ok()).Methods(http.MethodGet)

	for _, path := range []string{"/v1/chains/1/messages/0xaa", "/v1/chains/2/messages/0xbb"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	expected := `
# HELP test_http_requests_total Total number of HTTP requests
# TYPE test_http_requests_total counter
test_http_requests_total{method="GET",path="/v1/chains/{chainID}/messages/{msgHash}",status="200"} 2
`
	if err := testutil.GatherAndCompare(c.Registry(), strings.NewReader(expected), "test_http_requests_total"); err != nil {
		t.Fatal(err)
	}
}

func TestRateLimiter_PerClient(t *testing.T) {
	rl := NewRateLimiter(1, 2, time.Minute, logger.NewDiscard())
	h := rl.Handler(ok())

	send := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 2; i++ {
		if code := send("10.0.0.1:1000"); code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, code)
		}
	}
	if code := send("10.0.0.1:2000"); code != http.StatusTooManyRequests {
		t.Fatalf("burst exceeded status = %d, want 429", code)
	}
	if code := send("10.0.0.2:1000"); code != http.StatusOK {
		t.Fatalf("other client status = %d, want 200", code)
	}
	if rl.Clients() != 2 {
		t.Errorf("clients = %d, want 2", rl.Clients())
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(10, 1, time.Minute, logger.NewDiscard())
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }

	rl.limiterFor("a")
	now = now.Add(30 * time.Second)
	rl.limiterFor("b")
	now = now.Add(45 * time.Second)

	rl.Cleanup()
	if rl.Clients() != 1 {
		t.Fatalf("clients = %d, want 1", rl.Clients())
	}
}

func TestCORS(t *testing.T) {
	m := NewCORSMiddleware([]string{"https://ops.example.com", ".bridge.dev"})

	tests := []struct {
		origin  string
		allowed bool
	}{
		{"https://ops.example.com", true},
		{"https://app.bridge.dev", true},
		{"https://evil.example.com", false},
		{"https://notbridge.dev", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", tt.origin)
		rec := httptest.NewRecorder()
		m.Handler(ok()).ServeHTTP(rec, req)
		got := rec.Header().Get("Access-Control-Allow-Origin") == tt.origin
		if got != tt.allowed {
			t.Errorf("origin %s allowed = %v, want %v", tt.origin, got, tt.allowed)
		}
	}
}

func TestCORS_Preflight(t *testing.T) {
	m := NewCORSMiddleware([]string{"*"})
	req := httptest.NewRequest(http.MethodOptions, "/v1/messages/hash", nil)
	req.Header.Set("Origin", "https://any.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	m.Handler(ok()).ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
}
