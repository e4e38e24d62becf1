package handler

import (
	"fmt"
	"net/http"
)

// HandlerFunc is an HTTP handler that reports failure by returning an error.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Wrap adapts fn to http.Handler, serving any returned error as a problem.
func (h *ExceptionHandler) Wrap(fn HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fn == nil {
			return
		}
		if err := fn(w, r); err != nil {
			h.ServeError(w, r, err)
		}
	})
}

// Recover serves panics raised by next as problems. Panicking with an error
// (including a *problem.Problem) keeps that error; other values are wrapped.
// http.ErrAbortHandler is re-raised untouched.
func (h *ExceptionHandler) Recover(next http.Handler) http.Handler {
	if next == nil {
		return http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tw := &trackingWriter{ResponseWriter: w}
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			err := panicError(rec)
			if tw.wroteHeader {
				if h.logger != nil {
					h.logger.Errorw("panic after response started", "error", err, "path", r.URL.Path)
				}
				return
			}
			h.ServeError(w, r, err)
		}()
		next.ServeHTTP(tw, r)
	})
}

// Routes serves mux, turning the mux's own "not found" and "method not
// allowed" replies into *HTTPError problems. The Allow header of a 405 is kept.
func (h *ExceptionHandler) Routes(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler, pattern := mux.Handler(r)
		if pattern != "" {
			mux.ServeHTTP(w, r)
			return
		}

		rec := &bufferedWriter{header: make(http.Header)}
		handler.ServeHTTP(rec, r)
		if rec.status < http.StatusBadRequest {
			rec.replay(w)
			return
		}

		httpErr := NewHTTPError(rec.status, "")
		if allow := rec.header.Values("Allow"); len(allow) > 0 {
			httpErr.Header = http.Header{"Allow": allow}
		}
		h.ServeError(w, r, httpErr)
	})
}

func panicError(rec any) error {
	if err, ok := rec.(error); ok {
		return err
	}
	return fmt.Errorf("panic: %v", rec)
}

type trackingWriter struct {
	http.ResponseWriter
	wroteHeader bool
}

func (w *trackingWriter) WriteHeader(status int) {
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *trackingWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

func (w *trackingWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		w.wroteHeader = true
		flusher.Flush()
	}
}

func (w *trackingWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// bufferedWriter captures the mux's fallback reply so it can be inspected.
type bufferedWriter struct {
	header http.Header
	status int
	body   []byte
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	b.body = append(b.body, p...)
	return len(p), nil
}

func (b *bufferedWriter) replay(w http.ResponseWriter) {
	for k, values := range b.header {
		w.Header()[k] = values
	}
	status := b.status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(b.body)
}
