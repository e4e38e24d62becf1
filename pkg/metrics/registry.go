// Package metrics wraps a Prometheus registry for the problem handler and the
// demo service. Collectors created through it share an optional namespace.
package metrics

import (
	"errors"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Option configures a Registry.
type Option func(*settings)

type settings struct {
	namespace string
	runtime   bool
}

// WithNamespace prefixes every metric name produced by Name.
func WithNamespace(namespace string) Option {
	return func(s *settings) {
		s.namespace = strings.Trim(strings.TrimSpace(namespace), "_")
	}
}

// WithoutDefaultCollectors skips the Go runtime and process collectors.
func WithoutDefaultCollectors() Option {
	return func(s *settings) {
		s.runtime = false
	}
}

// Registry owns the collectors exported on /metrics.
type Registry struct {
	namespace string
	registry  *prometheus.Registry
}

// NewRegistry builds a Registry.
func NewRegistry(opts ...Option) *Registry {
	s := settings{runtime: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}

	reg := prometheus.NewRegistry()
	if s.runtime {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: s.namespace}),
		)
	}
	return &Registry{namespace: s.namespace, registry: reg}
}

// Namespace returns the configured namespace, if any.
func (r *Registry) Namespace() string {
	if r == nil {
		return ""
	}
	return r.namespace
}

// Name prefixes name with the namespace, e.g. "svc_problem_responses_total".
func (r *Registry) Name(name string) string {
	if ns := r.Namespace(); ns != "" {
		return ns + "_" + name
	}
	return name
}

// CounterVec registers a namespaced counter vector. When an identical vector
// is already registered (several exception handlers sharing one registry) the
// existing collector is returned instead.
func (r *Registry) CounterVec(name, help string, labels ...string) *prometheus.CounterVec {
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: r.Name(name), Help: help}, labels)
	if r == nil || r.registry == nil {
		return vec
	}
	if err := r.registry.Register(vec); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
		panic(err)
	}
	return vec
}

// Register adds c, panicking on conflicts like prometheus.MustRegister.
func (r *Registry) Register(c prometheus.Collector) {
	if r == nil || r.registry == nil || c == nil {
		return
	}
	r.registry.MustRegister(c)
}

// Handler serves the exposition format. A nil registry serves 404.
func (r *Registry) Handler() http.Handler {
	if r == nil || r.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Raw returns the underlying Prometheus registry.
func (r *Registry) Raw() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}
