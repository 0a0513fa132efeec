package httpapi

import (
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"

	"pkt.systems/tabrotor/internal/logx"
)

const requestIDHeader = "X-Request-Id"

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += int64(n)
	return n, err
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// withRequestLogging tags each request with an id, echoes it in the response
// and logs the outcome. Health and metrics probes log at debug.
func withRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" || len(requestID) > 64 {
			requestID = ulid.Make().String()
		}
		ctx := logx.ContextWithRequest(r.Context(), requestID)
		w.Header().Set(requestIDHeader, requestID)
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r.WithContext(ctx))

		status := sw.status
		if status == 0 {
			status = http.StatusOK
		}
		log := logx.Ctx(ctx).With(
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", sw.bytes,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote", r.RemoteAddr,
		)
		switch {
		case status >= http.StatusInternalServerError:
			log.Warn("http request failed")
		case isProbe(r.URL.Path):
			log.Debug("http request ok")
		default:
			log.Info("http request ok")
		}
	})
}

func isProbe(path string) bool {
	switch path {
	case "/live", "/ready", "/metrics":
		return true
	}
	return false
}
