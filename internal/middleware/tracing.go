package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/R3E-Network/signal_bridge/internal/engine/events"
	"github.com/R3E-Network/signal_bridge/pkg/logger"
)

// TraceHeader carries the trace ID of a request in both directions.
const TraceHeader = "X-Trace-ID"

// Tracing attaches a trace ID to every request and logs it on completion.
// Events raised while serving the request carry the same trace ID.
func Tracing(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceID := r.Header.Get(TraceHeader)
			if traceID == "" {
				traceID = uuid.NewString()
			}
			ctx := events.WithTraceID(r.Context(), traceID)
			w.Header().Set(TraceHeader, traceID)

			start := time.Now()
			rw := wrap(w)
			next.ServeHTTP(rw, r.WithContext(ctx))

			entry := log.WithFields(map[string]interface{}{
				"trace_id":    traceID,
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      rw.statusCode,
				"duration_ms": time.Since(start).Milliseconds(),
			})
			if rw.statusCode >= http.StatusInternalServerError {
				entry.Warn("request failed")
				return
			}
			entry.Debug("request served")
		})
	}
}
