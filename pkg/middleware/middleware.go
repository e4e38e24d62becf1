// Package middleware holds the net/http middleware wrapped around the demo
// service. Failures are reported through an ErrorWriter so they render as
// problem+json like every other error.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rs/cors"

	pkglog "github.com/theroutercompany/problemdetails/pkg/log"
	"github.com/theroutercompany/problemdetails/pkg/problem"
)

// ErrorWriter serves err as the response to r. handler.ExceptionHandler.ServeError
// satisfies it.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// ClientKey derives the rate-limit key for a request.
type ClientKey func(*http.Request) string

// Chain applies middlewares so the first one is outermost.
func Chain(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		if middlewares[i] != nil {
			h = middlewares[i](h)
		}
	}
	return h
}

// RequestMetadata ensures every request has IDs and the response echoes them back.
func RequestMetadata() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if next == nil {
			return http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req, requestID, traceID := EnsureIDs(r)
			w.Header().Set(HeaderRequestID, requestID)
			w.Header().Set(HeaderTraceID, traceID)
			next.ServeHTTP(w, req)
		})
	}
}

// SecurityHeaders applies standard hardening headers.
func SecurityHeaders() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if next == nil {
			return http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			headers := w.Header()
			headers.Set("X-Content-Type-Options", "nosniff")
			headers.Set("X-Frame-Options", "DENY")
			headers.Set("Referrer-Policy", "no-referrer")
			headers.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
			next.ServeHTTP(w, r)
		})
	}
}

// CORS applies c ahead of the application. Problem responses get the same
// headers from the exception handler's CORS hook.
func CORS(c *cors.Cors) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if c == nil || next == nil {
			return next
		}
		return c.Handler(next)
	}
}

// RateLimit rejects clients exceeding limiter with a 429 problem carrying
// Retry-After. OPTIONS requests are never limited.
func RateLimit(limiter *Limiter, key ClientKey, now func() time.Time, write ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if next == nil || !limiter.Enabled() || write == nil {
			return next
		}
		if key == nil {
			key = ClientAddress
		}
		if now == nil {
			now = time.Now
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			client := key(r)
			ts := now()
			if limiter.Allow(client, ts) {
				next.ServeHTTP(w, r)
				return
			}
			retry := limiter.RetryAfter(client, ts)
			write(w, r, problem.TooManyRequests.New("Rate limit exceeded",
				problem.WithHeader("Retry-After", strconv.Itoa(int(retry.Seconds()))),
			))
		})
	}
}

// Logging records one structured entry per request, levelled by status.
func Logging(logger pkglog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if next == nil || logger == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			writer := &loggingResponseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(writer, r)

			duration := time.Since(start)
			fields := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", writer.status,
				"durationMs", float64(duration.Microseconds()) / 1000.0,
				"bytesWritten", writer.bytes,
			}
			if rid := RequestIDFromContext(r.Context()); rid != "" {
				fields = append(fields, "requestId", rid)
			}
			if tid := TraceIDFromContext(r.Context()); tid != "" {
				fields = append(fields, "traceId", tid)
			}
			if remote := ClientAddress(r); remote != "" {
				fields = append(fields, "remoteAddr", remote)
			}

			switch {
			case writer.status >= 500:
				logger.Errorw("http request completed", fields...)
			case writer.status >= 400:
				logger.Warnw("http request completed", fields...)
			default:
				logger.Infow("http request completed", fields...)
			}
		})
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (w *loggingResponseWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *loggingResponseWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

func (w *loggingResponseWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (w *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
