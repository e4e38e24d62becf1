package handler

import (
	"net/http"

	pkglog "github.com/theroutercompany/problemdetails/pkg/log"
	"github.com/theroutercompany/problemdetails/pkg/problem"
)

// DefaultMandatoryFields are the members kept when extras are stripped.
var DefaultMandatoryFields = []string{"type", "title", "status", "detail"}

// StripExtrasConfig configures StripExtrasHook.
type StripExtrasConfig struct {
	Enabled bool
	// MandatoryFields defaults to DefaultMandatoryFields when empty.
	MandatoryFields []string
	// IncludeStatusCodes, when non-empty, is the only set of statuses stripped.
	IncludeStatusCodes []int
	// ExcludeStatusCodes is consulted only when IncludeStatusCodes is empty.
	ExcludeStatusCodes []int
}

// StripExtrasHook removes extension members (debug information) from
// rendered problems.
type StripExtrasHook struct {
	enabled   bool
	mandatory map[string]struct{}
	include   map[int]struct{}
	exclude   map[int]struct{}
	logger    pkglog.Logger
}

// NewStripExtrasHook builds the hook. logger may be nil.
func NewStripExtrasHook(cfg StripExtrasConfig, logger pkglog.Logger) *StripExtrasHook {
	fields := cfg.MandatoryFields
	if len(fields) == 0 {
		fields = DefaultMandatoryFields
	}
	mandatory := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		mandatory[f] = struct{}{}
	}
	return &StripExtrasHook{
		enabled:   cfg.Enabled,
		mandatory: mandatory,
		include:   intSet(cfg.IncludeStatusCodes),
		exclude:   intSet(cfg.ExcludeStatusCodes),
		logger:    logger,
	}
}

// Applies reports whether responses with status are stripped.
func (s *StripExtrasHook) Applies(status int) bool {
	if !s.enabled {
		return false
	}
	if len(s.include) > 0 {
		_, ok := s.include[status]
		return ok
	}
	_, excluded := s.exclude[status]
	return !excluded
}

// After drops every non-mandatory member and re-renders the body.
func (s *StripExtrasHook) After(content *problem.Document, _ *http.Request, resp *Response) (*problem.Document, *Response) {
	if resp == nil || !s.Applies(resp.StatusCode) {
		return content, resp
	}

	s.debug("stripping debug information from problem", "status", resp.StatusCode)
	stripped := content.Clone()
	for _, key := range content.Keys() {
		if _, keep := s.mandatory[key]; keep {
			continue
		}
		value, _ := content.Get(key)
		s.debug("removed problem member", "key", key, "value", value)
		stripped.Delete(key)
	}

	if err := resp.SetContent(stripped); err != nil {
		if s.logger != nil {
			s.logger.Warnw("failed to re-render stripped problem", "error", err)
		}
		return content, resp
	}
	return stripped, resp
}

func (s *StripExtrasHook) debug(msg string, keysAndValues ...any) {
	if s.logger != nil {
		s.logger.Debugw(msg, keysAndValues...)
	}
}

func intSet(values []int) map[int]struct{} {
	set := make(map[int]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
