package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// withRequestID assigns each request an id, echoed in the response
// header for correlation.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

// withObservability logs one line per request and records the HTTP
// metrics and a server span. route is the registered pattern, not the
// raw path, to keep metric cardinality bounded.
func (s *Server) withObservability(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		ctx := r.Context()
		if s.tracer != nil {
			spanCtx, span := s.tracer.TraceHTTPRequest(ctx, r.Method, route)
			defer span.End()
			ctx = spanCtx
		}

		next.ServeHTTP(rec, r.WithContext(ctx))

		elapsed := time.Since(start)
		if s.metrics != nil {
			code := strconv.Itoa(rec.status)
			s.metrics.HTTPRequestCounter.WithLabelValues(r.Method, route, code).Inc()
			s.metrics.HTTPRequestDuration.WithLabelValues(r.Method, route, code).Observe(elapsed.Seconds())
		}
		s.logger.Info("http request",
			"method", r.Method,
			"route", route,
			"status", rec.status,
			"duration_ms", elapsed.Milliseconds(),
			"request_id", w.Header().Get("X-Request-Id"),
		)
	})
}

// handle registers a "METHOD /path" pattern with the full middleware
// chain, using the path part as the metric route label.
func (s *Server) handle(mux *http.ServeMux, pattern string, handler http.HandlerFunc) {
	route := pattern
	if _, path, ok := strings.Cut(pattern, " "); ok {
		route = path
	}
	mux.Handle(pattern, withRequestID(s.withObservability(route, s.requireAuth(handler))))
}
