// Package app assembles the demo service: configuration drives the exception
// handler, its hooks, the middleware chain and the demo routes.
package app

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/theroutercompany/problemdetails/pkg/auth"
	"github.com/theroutercompany/problemdetails/pkg/config"
	"github.com/theroutercompany/problemdetails/pkg/handler"
	pkglog "github.com/theroutercompany/problemdetails/pkg/log"
	"github.com/theroutercompany/problemdetails/pkg/metrics"
	"github.com/theroutercompany/problemdetails/pkg/middleware"
	"github.com/theroutercompany/problemdetails/pkg/openapi"
)

//go:embed api.yaml
var apiSpec []byte

// Option customises a Server.
type Option func(*Server)

// WithLogger overrides the shared logger.
func WithLogger(logger pkglog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithRegistry sets the metrics registry. Without one a registry is created
// when metrics are enabled.
func WithRegistry(reg *metrics.Registry) Option {
	return func(s *Server) {
		s.registry = reg
	}
}

// WithOpenAPIProvider overrides the document served at /openapi.json.
func WithOpenAPIProvider(provider openapi.DocumentProvider) Option {
	return func(s *Server) {
		s.openapiProvider = provider
	}
}

// WithClock overrides the time source used by the rate limiter.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// Server is the demo HTTP service.
type Server struct {
	cfg             config.Config
	logger          pkglog.Logger
	registry        *metrics.Registry
	openapiProvider openapi.DocumentProvider
	authenticator   *auth.Authenticator
	exceptions      *handler.ExceptionHandler
	now             func() time.Time
	bootTime        time.Time

	handler    http.Handler
	httpServer *http.Server
}

// New constructs a server from cfg.
func New(cfg config.Config, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		now:      time.Now,
		bootTime: time.Now().UTC(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.logger == nil {
		s.logger = pkglog.Shared()
	}
	if s.registry == nil && cfg.Metrics.Enabled {
		s.registry = metrics.NewRegistry(metrics.WithNamespace(cfg.Metrics.Namespace))
	}
	if s.openapiProvider == nil {
		s.openapiProvider = NewOpenAPIService(cfg, s.logger)
	}
	if cfg.Auth.Secret != "" {
		if authenticator, err := auth.New(cfg.Auth); err != nil {
			s.logger.Errorw("failed to initialize authenticator", "error", err)
		} else {
			s.authenticator = authenticator
		}
	}

	var reg *metrics.Registry
	if cfg.Metrics.Enabled {
		reg = s.registry
	}
	s.exceptions = NewExceptionHandler(cfg, s.logger, reg)

	mux := http.NewServeMux()
	s.mountRoutes(mux)

	s.handler = middleware.Chain(s.exceptions.Routes(mux),
		middleware.RequestMetadata(),
		middleware.Logging(s.logger),
		middleware.SecurityHeaders(),
		middleware.CORS(buildCORS(cfg.CORS)),
		s.exceptions.Recover,
		middleware.RateLimit(
			middleware.NewLimiter(cfg.RateLimit.Window.AsDuration(), cfg.RateLimit.Max),
			middleware.ClientAddress,
			func() time.Time { return s.now() },
			s.exceptions.ServeError,
		),
	)

	return s
}

// NewExceptionHandler builds the exception handler described by cfg. A nil
// registry disables the metrics hook.
func NewExceptionHandler(cfg config.Config, logger pkglog.Logger, reg *metrics.Registry) *handler.ExceptionHandler {
	postHooks := []handler.PostHook{
		handler.NewStripExtrasHook(handler.StripExtrasConfig{
			Enabled:            cfg.StripExtras.Enabled,
			MandatoryFields:    cfg.StripExtras.MandatoryFields,
			IncludeStatusCodes: cfg.StripExtras.IncludeStatusCodes,
			ExcludeStatusCodes: cfg.StripExtras.ExcludeStatusCodes,
		}, logger),
	}
	if reg != nil {
		postHooks = append(postHooks, handler.NewMetricsHook(reg))
	}

	opts := []handler.Option{
		handler.WithLogger(logger),
		handler.WithUnhandledWrappers(cfg.Problem.Kinds()),
		handler.WithStrict(cfg.Problem.Strict),
		handler.WithDocumentationURITemplate(cfg.Problem.DocumentationURITemplate),
		handler.WithPreHooks(handler.NewLogHook(logger)),
		handler.WithPostHooks(postHooks...),
	}
	opts = append(opts, demoResolvers()...)
	if len(cfg.CORS.AllowedOrigins) > 0 {
		opts = append(opts, handler.WithCORS(handler.CORSConfig{
			AllowedOrigins:   cfg.CORS.AllowedOrigins,
			AllowedMethods:   cfg.CORS.AllowedMethods,
			AllowedHeaders:   cfg.CORS.AllowedHeaders,
			ExposedHeaders:   cfg.CORS.ExposedHeaders,
			AllowCredentials: cfg.CORS.AllowCredentials,
		}))
	}

	return handler.New(opts...)
}

// NewOpenAPIService serves the embedded demo document, merged with any
// fragments listed in cfg.OpenAPI.ConfigPath and annotated with problem schemas.
func NewOpenAPIService(cfg config.Config, logger pkglog.Logger) *openapi.Service {
	return openapi.NewService(
		openapi.WithFragment("api.yaml", apiSpec),
		openapi.WithConfigPath(cfg.OpenAPI.ConfigPath),
		openapi.WithDistPath(cfg.OpenAPI.DistPath),
		openapi.WithLogger(logger),
		openapi.WithGenerator(openapi.Generator{
			Problems:                 documentedProblems(),
			DocumentationURITemplate: cfg.Problem.DocumentationURITemplate,
			Strict:                   cfg.Problem.Strict,
			GenericDefaults:          cfg.OpenAPI.GenericDefaults,
		}),
	)
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Exceptions returns the exception handler used for every error response.
func (s *Server) Exceptions() *handler.ExceptionHandler {
	return s.exceptions
}

// Start serves HTTP (with h2c) until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	http2Server := &http2.Server{}
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.HTTP.Port),
		Handler:           h2c.NewHandler(s.handler, http2Server),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := http2.ConfigureServer(s.httpServer, http2Server); err != nil {
		s.logger.Errorw("failed to configure http2 server", "error", err)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("http server listening", "addr", s.httpServer.Addr, "version", s.cfg.Version)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.HTTP.ShutdownTimeout.AsDuration())
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Errorw("http server shutdown failed", "error", err)
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			s.logger.Errorw("http server stopped with error", "error", err)
		}
		return err
	}
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func buildCORS(cfg config.CORSConfig) *cors.Cors {
	if len(cfg.AllowedOrigins) == 0 {
		return nil
	}
	return cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   cfg.AllowedMethods,
		AllowedHeaders:   cfg.AllowedHeaders,
		ExposedHeaders:   cfg.ExposedHeaders,
		AllowCredentials: cfg.AllowCredentials,
	})
}
