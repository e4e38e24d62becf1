package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/theroutercompany/problemdetails/pkg/metrics"
	"github.com/theroutercompany/problemdetails/pkg/problem"
)

// MetricsHook counts problem responses by status and rendered type.
type MetricsHook struct {
	responses *prometheus.CounterVec
}

// NewMetricsHook registers (or reuses) the problem_responses_total counter on reg.
// A nil registry yields a hook that records nothing.
func NewMetricsHook(reg *metrics.Registry) *MetricsHook {
	if reg == nil {
		return &MetricsHook{}
	}
	responses := reg.CounterVec("problem_responses_total",
		"Count of problem+json responses labelled by status code and problem type.",
		"status", "type")
	return &MetricsHook{responses: responses}
}

// After increments the counter and passes content and response through.
func (m *MetricsHook) After(content *problem.Document, _ *http.Request, resp *Response) (*problem.Document, *Response) {
	if m == nil || m.responses == nil || resp == nil {
		return content, resp
	}
	typ := ""
	if v, ok := content.Get("type"); ok {
		typ = fmt.Sprint(v)
	}
	m.responses.WithLabelValues(strconv.Itoa(resp.StatusCode), typ).Inc()
	return content, resp
}
