package handler

import (
	"net/http"
	"strconv"

	"github.com/theroutercompany/problemdetails/pkg/problem"
)

const (
	fallbackHTTPTitle = "Error"
	fallbackHTTPType  = "http-error"
)

// HTTPError is an error carrying an HTTP status, raised by routing (unknown
// path, wrong method) or by handlers that only care about the status.
type HTTPError struct {
	Status int
	Detail string
	Header http.Header
}

// NewHTTPError returns an HTTPError. An empty detail defaults to the status text.
func NewHTTPError(status int, detail string) *HTTPError {
	return &HTTPError{Status: status, Detail: detail}
}

func (e *HTTPError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	if text := http.StatusText(e.Status); text != "" {
		return text
	}
	return fallbackHTTPTitle
}

// ResolveHTTPError is the built-in *HTTPError resolver. A wrapper registered
// for the status code wins; otherwise title and type come from the standard
// reason phrase (404 renders as "Not Found" / "http-not-found"). Codes
// without a reason phrase render as "Error" / "http-error".
func ResolveHTTPError(h *ExceptionHandler, _ *http.Request, e *HTTPError) *problem.Problem {
	status := e.Status
	if !problem.ValidStatus(status) {
		status = http.StatusInternalServerError
	}
	detail := e.Error()

	if kind, ok := h.Wrapper(strconv.Itoa(status)); ok {
		return kind.New(detail, problem.WithHeaders(e.Header))
	}

	title, typ, err := problem.StatusDefaults(status)
	if err != nil {
		title, typ = fallbackHTTPTitle, fallbackHTTPType
	}
	return problem.New(title, status, detail, problem.WithType(typ), problem.WithHeaders(e.Header))
}
