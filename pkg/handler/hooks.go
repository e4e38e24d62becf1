package handler

import (
	"fmt"
	"net/http"

	pkglog "github.com/theroutercompany/problemdetails/pkg/log"
	"github.com/theroutercompany/problemdetails/pkg/problem"
)

// PreHook observes an error before it is resolved. It cannot change the
// error or the outcome.
type PreHook interface {
	Before(r *http.Request, err error)
}

// PreHookFunc adapts a function to PreHook.
type PreHookFunc func(r *http.Request, err error)

// Before calls f.
func (f PreHookFunc) Before(r *http.Request, err error) {
	f(r, err)
}

// PostHook receives the rendered document and response and returns the pair
// handed to the next hook. Returning a nil document or response keeps the
// previous values.
type PostHook interface {
	After(content *problem.Document, r *http.Request, resp *Response) (*problem.Document, *Response)
}

// PostHookFunc adapts a function to PostHook.
type PostHookFunc func(content *problem.Document, r *http.Request, resp *Response) (*problem.Document, *Response)

// After calls f.
func (f PostHookFunc) After(content *problem.Document, r *http.Request, resp *Response) (*problem.Document, *Response) {
	return f(content, r, resp)
}

// LogHook is a pre-hook recording every error that reaches the handler.
type LogHook struct {
	logger pkglog.Logger
}

// NewLogHook returns a LogHook writing debug entries to logger.
func NewLogHook(logger pkglog.Logger) *LogHook {
	return &LogHook{logger: logger}
}

// Before logs the error with the request line.
func (l *LogHook) Before(r *http.Request, err error) {
	if l == nil || l.logger == nil {
		return
	}
	fields := []any{"error", err, "errorType", fmt.Sprintf("%T", err)}
	if r != nil {
		fields = append(fields, "method", r.Method)
		if r.URL != nil {
			fields = append(fields, "path", r.URL.Path)
		}
	}
	l.logger.Debugw("handling error", fields...)
}
