// Package handler turns errors raised by HTTP handlers into problem+json
// responses.
//
// An ExceptionHandler resolves an error to a problem.Problem through an
// ordered list of registered resolvers, renders it, and threads the rendered
// document and response through post-hooks (CORS re-application, debug field
// stripping, metrics). It holds no per-request state and is safe for
// concurrent use once built.
package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	pkglog "github.com/theroutercompany/problemdetails/pkg/log"
	"github.com/theroutercompany/problemdetails/pkg/problem"
)

const (
	unhandledTitle = "Unhandled exception occurred."
	unhandledType  = "unhandled-exception"

	// DefaultWrapperKey selects the wrapper used for unhandled errors ahead of "500".
	DefaultWrapperKey = "default"
)

// ExceptionHandler resolves errors into problem responses.
type ExceptionHandler struct {
	logger        pkglog.Logger
	wrappers      map[string]problem.Kind
	registrations []registration
	preHooks      []PreHook
	postHooks     []PostHook
	uriTemplate   string
	strict        bool
}

type settings struct {
	logger         pkglog.Logger
	wrappers       map[string]problem.Kind
	registrations  []registration
	httpResolver   Resolver
	preHooks       []PreHook
	postHooks      []PostHook
	uriTemplate    string
	strict         bool
	cors           *CORSConfig
	noHTTPResolver bool
}

// Option customises an ExceptionHandler.
type Option func(*settings)

// WithLogger sets the logger used for server errors (status >= 500) and hook failures.
func WithLogger(logger pkglog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithUnhandledWrapper registers the kind used in place of the generic problem
// for key, which is an HTTP status code ("404") or DefaultWrapperKey.
func WithUnhandledWrapper(key string, kind problem.Kind) Option {
	return func(s *settings) {
		if s.wrappers == nil {
			s.wrappers = make(map[string]problem.Kind)
		}
		s.wrappers[key] = kind
	}
}

// WithUnhandledWrappers registers several wrappers at once.
func WithUnhandledWrappers(wrappers map[string]problem.Kind) Option {
	return func(s *settings) {
		for key, kind := range wrappers {
			WithUnhandledWrapper(key, kind)(s)
		}
	}
}

// WithPreHooks appends pre-hooks, run in order before resolution.
func WithPreHooks(hooks ...PreHook) Option {
	return func(s *settings) {
		for _, hook := range hooks {
			if hook != nil {
				s.preHooks = append(s.preHooks, hook)
			}
		}
	}
}

// WithPostHooks appends post-hooks, run in order after rendering.
func WithPostHooks(hooks ...PostHook) Option {
	return func(s *settings) {
		for _, hook := range hooks {
			if hook != nil {
				s.postHooks = append(s.postHooks, hook)
			}
		}
	}
}

// WithDocumentationURITemplate sets a template such as
// "https://docs.example.com/errors/{type}" used to render problem types.
func WithDocumentationURITemplate(template string) Option {
	return func(s *settings) {
		s.uriTemplate = template
	}
}

// WithStrict enables strict RFC 9457 rendering: problems without an explicit
// type render as about:blank.
func WithStrict(strict bool) Option {
	return func(s *settings) {
		s.strict = strict
	}
}

// WithCORS installs a CORS post-hook ahead of every other post-hook.
func WithCORS(cfg CORSConfig) Option {
	return func(s *settings) {
		c := cfg
		s.cors = &c
	}
}

// WithHTTPErrorResolver replaces the built-in *HTTPError resolver.
func WithHTTPErrorResolver(fn func(*ExceptionHandler, *http.Request, *HTTPError) *problem.Problem) Option {
	return func(s *settings) {
		if fn == nil {
			return
		}
		s.httpResolver = typedResolver(fn)
	}
}

// WithoutHTTPErrorResolver leaves *HTTPError to the generic unhandled path
// unless a resolver is registered for it explicitly.
func WithoutHTTPErrorResolver() Option {
	return func(s *settings) {
		s.noHTTPResolver = true
	}
}

// New builds an ExceptionHandler. Options are resolved once; the handler is
// immutable afterwards.
func New(opts ...Option) *ExceptionHandler {
	s := settings{}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}

	if !s.noHTTPResolver {
		resolver := s.httpResolver
		if resolver == nil {
			resolver = typedResolver(ResolveHTTPError)
		}
		s.registrations = upsert(s.registrations, registration{
			key:     keyOf[*HTTPError](),
			match:   matches[*HTTPError],
			resolve: resolver,
		}, s.httpResolver != nil)
	}

	postHooks := s.postHooks
	if s.cors != nil {
		postHooks = append([]PostHook{NewCORSHook(*s.cors)}, postHooks...)
	}

	wrappers := make(map[string]problem.Kind, len(s.wrappers))
	for k, v := range s.wrappers {
		wrappers[k] = v
	}

	return &ExceptionHandler{
		logger:        s.logger,
		wrappers:      wrappers,
		registrations: s.registrations,
		preHooks:      append([]PreHook(nil), s.preHooks...),
		postHooks:     postHooks,
		uriTemplate:   s.uriTemplate,
		strict:        s.strict,
	}
}

// Wrapper returns the unhandled wrapper registered for key.
func (h *ExceptionHandler) Wrapper(key string) (problem.Kind, bool) {
	kind, ok := h.wrappers[key]
	return kind, ok
}

// DocumentationURITemplate returns the configured type template.
func (h *ExceptionHandler) DocumentationURITemplate() string {
	return h.uriTemplate
}

// Strict reports whether strict RFC 9457 rendering is enabled.
func (h *ExceptionHandler) Strict() bool {
	return h.strict
}

// Resolve maps err to a problem.
//
// The result starts as the unhandled problem (the "default" wrapper, then the
// "500" wrapper, then the generic one). Registered resolvers are scanned in
// order and the first matching resolver that returns a non-nil problem wins.
// A *problem.Problem found in err's chain overrides whatever was resolved.
// A status outside 100-599 is replaced by 500 on a copy.
// Problems with status >= 500 are logged at error level.
func (h *ExceptionHandler) Resolve(r *http.Request, err error) *problem.Problem {
	result := h.unhandled(errorText(err))

	for _, reg := range h.registrations {
		if !reg.match(err) {
			continue
		}
		if p := h.invoke(reg, r, err); p != nil {
			result = p
			break
		}
	}

	var native *problem.Problem
	if errors.As(err, &native) && native != nil {
		result = native
	}

	if !problem.ValidStatus(result.Status) {
		fixed := *result
		fixed.Status = http.StatusInternalServerError
		result = &fixed
	}

	if result.Status >= http.StatusInternalServerError && h.logger != nil {
		h.logger.Errorw(result.Title,
			"error", err,
			"status", result.Status,
			"type", result.Slug(),
			"errorType", fmt.Sprintf("%T", err),
		)
	}

	return result
}

// Respond runs the full pipeline for err: pre-hooks, resolution, rendering and
// post-hooks.
func (h *ExceptionHandler) Respond(r *http.Request, err error) *Response {
	for _, hook := range h.preHooks {
		h.runPreHook(hook, r, err)
	}

	p := h.Resolve(r, err)

	content := p.Marshal(h.uriTemplate, h.strict)
	headers := make(http.Header, len(p.Headers)+1)
	headers.Set("Content-Type", problem.ContentType)
	for k, values := range p.Headers {
		headers[http.CanonicalHeaderKey(k)] = append([]string(nil), values...)
	}

	resp, renderErr := NewResponse(p.Status, content, headers)
	if renderErr != nil {
		h.logError("problem extras could not be rendered", renderErr, "status", p.Status)
		stripped := *p
		stripped.Extras = nil
		content = stripped.Marshal(h.uriTemplate, h.strict)
		resp, _ = NewResponse(p.Status, content, headers)
	}

	for _, hook := range h.postHooks {
		next, nextResp, ok := h.runPostHook(hook, content, r, resp)
		if !ok {
			break
		}
		content, resp = next, nextResp
	}

	return resp
}

// ServeError writes the problem response for err to w.
func (h *ExceptionHandler) ServeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := h.Respond(r, err)
	if writeErr := resp.Write(w); writeErr != nil && h.logger != nil {
		h.logger.Warnw("failed to write problem response", "error", writeErr, "status", resp.StatusCode)
	}
}

func (h *ExceptionHandler) unhandled(detail string) *problem.Problem {
	kind, ok := h.wrappers[DefaultWrapperKey]
	if !ok {
		kind, ok = h.wrappers[strconv.Itoa(http.StatusInternalServerError)]
	}
	if ok {
		return kind.New(detail)
	}
	return problem.New(unhandledTitle, http.StatusInternalServerError, detail, problem.WithType(unhandledType))
}

func (h *ExceptionHandler) invoke(reg registration, r *http.Request, err error) (p *problem.Problem) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logError("problem resolver panicked", fmt.Errorf("%v", rec), "resolver", reg.key)
			p = nil
		}
	}()
	return reg.resolve(h, r, err)
}

func (h *ExceptionHandler) runPreHook(hook PreHook, r *http.Request, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logError("problem pre-hook panicked", fmt.Errorf("%v", rec), "hook", fmt.Sprintf("%T", hook))
		}
	}()
	hook.Before(r, err)
}

func (h *ExceptionHandler) runPostHook(hook PostHook, content *problem.Document, r *http.Request, resp *Response) (next *problem.Document, nextResp *Response, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logError("problem post-hook panicked", fmt.Errorf("%v", rec), "hook", fmt.Sprintf("%T", hook))
			next, nextResp, ok = nil, nil, false
		}
	}()
	next, nextResp = hook.After(content, r, resp)
	if next == nil || nextResp == nil {
		return content, resp, true
	}
	return next, nextResp, true
}

func (h *ExceptionHandler) logError(msg string, err error, keysAndValues ...any) {
	if h.logger == nil {
		return
	}
	h.logger.Errorw(msg, append([]any{"error", err}, keysAndValues...)...)
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
