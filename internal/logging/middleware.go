package logging

import (
	"log/slog"
	"net/http"
	"time"
)

// RequestIDHeader is read from incoming requests and attached to the access
// log line so client and server logs can be correlated.
const RequestIDHeader = "X-Request-Id"

// HTTPMiddleware logs one line per request. Server errors are logged at
// warn level, everything else at debug.
func HTTPMiddleware(next http.Handler) http.Handler {
	logger := slog.With("component", "devserver")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		level := slog.LevelDebug
		if rec.code() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.code(),
			"bytes", rec.written,
			"duration", time.Since(start),
		}
		if reqID := r.Header.Get(RequestIDHeader); reqID != "" {
			attrs = append(attrs, "request_id", reqID)
		}
		logger.Log(r.Context(), level, "request", attrs...)
	})
}

// statusRecorder captures the status code and body size of a response.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int
}

func (rec *statusRecorder) code() int {
	if rec.status == 0 {
		return http.StatusOK
	}
	return rec.status
}

func (rec *statusRecorder) WriteHeader(code int) {
	if rec.status == 0 {
		rec.status = code
	}
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	n, err := rec.ResponseWriter.Write(b)
	rec.written += n
	return n, err
}

func (rec *statusRecorder) Flush() {
	if f, ok := rec.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController and websocket.Accept reach the
// underlying writer for Hijack.
func (rec *statusRecorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}
