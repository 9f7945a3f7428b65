package middleware

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	apiContext "formhook/internal/api/context"
	"formhook/internal/platform/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// statusRecorder captures the status code. It forwards Hijack so websocket
// upgrades still work behind it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (rw *statusRecorder) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Instrument records request count and latency under handler name.
func Instrument(name string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next(rec, r)

			metrics.HTTPRequestDuration.WithLabelValues(name, r.Method).Observe(time.Since(start).Seconds())
			metrics.HTTPRequestsTotal.WithLabelValues(name, r.Method, strconv.Itoa(rec.status)).Inc()
		}
	}
}

// RequestLogger assigns a request id and logs one line per request.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		ctx := context.WithValue(r.Context(), apiContext.RequestID, requestID)
		next.ServeHTTP(rec, r.WithContext(ctx))

		ev := log.Info()
		if rec.status >= 500 {
			ev = log.Error()
		} else if rec.status >= 400 {
			ev = log.Warn()
		}
		ev.Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
