// Package config loads and validates configuration for the problem details
// service: layered YAML files followed by environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/theroutercompany/problemdetails/pkg/problem"
)

const (
	defaultPort            = 8080
	defaultShutdownTimeout = 15 * time.Second
	defaultLogLevel        = "info"
	defaultRateLimitWindow = 60 * time.Second
	defaultRateLimitMax    = 120
	defaultMetricsEnabled  = true
	defaultConfigEnvVar    = "PROBLEM_CONFIG"
	defaultWrapperKey      = "default"
	typePlaceholder        = "{type}"

	envPort                = "PORT"
	envShutdownTimeout     = "SHUTDOWN_TIMEOUT_MS"
	envGitSHA              = "GIT_SHA"
	envLogLevel            = "LOG_LEVEL"
	envProblemStrict       = "PROBLEM_STRICT"
	envDocsURITemplate     = "PROBLEM_DOCS_URI_TEMPLATE"
	envCorsAllowedOrigins  = "CORS_ALLOWED_ORIGINS"
	envCorsAllowCreds      = "CORS_ALLOW_CREDENTIALS"
	envStripExtrasEnabled  = "STRIP_EXTRAS_ENABLED"
	envMetricsEnabled      = "METRICS_ENABLED"
	envJWTSecret           = "JWT_SECRET"
	envJWTAudience         = "JWT_AUDIENCE"
	envJWTIssuer           = "JWT_ISSUER"
	envRateLimitWindow     = "RATE_LIMIT_WINDOW_MS"
	envRateLimitMax        = "RATE_LIMIT_MAX"
	envOpenAPIGenericDefs  = "OPENAPI_GENERIC_DEFAULTS"
)

// Config captures runtime configuration for the service.
type Config struct {
	Version     string            `yaml:"version"`
	HTTP        HTTPConfig        `yaml:"http"`
	Log         LogConfig         `yaml:"log"`
	Problem     ProblemConfig     `yaml:"problem"`
	CORS        CORSConfig        `yaml:"cors"`
	StripExtras StripExtrasConfig `yaml:"stripExtras"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Auth        AuthConfig        `yaml:"auth"`
	RateLimit   RateLimitConfig   `yaml:"rateLimit"`
	OpenAPI     OpenAPIConfig     `yaml:"openapi"`
}

// HTTPConfig configures listener behaviour.
type HTTPConfig struct {
	Port            int      `yaml:"port"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout"`
}

// LogConfig sets the minimum log level.
type LogConfig struct {
	Level string `yaml:"level"`
}

// ProblemConfig shapes how problems are rendered.
type ProblemConfig struct {
	Strict                   bool                     `yaml:"strict"`
	DocumentationURITemplate string                   `yaml:"documentationURITemplate"`
	Wrappers                 map[string]WrapperConfig `yaml:"wrappers"`
}

// WrapperConfig describes the problem used for unhandled errors. Keys in
// ProblemConfig.Wrappers are "default" or a status code such as "404".
type WrapperConfig struct {
	Type   string `yaml:"type"`
	Title  string `yaml:"title"`
	Status int    `yaml:"status"`
}

// CORSConfig mirrors the CORS policy of the application so error responses
// carry the same headers as successful ones.
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowedOrigins"`
	AllowedMethods   []string `yaml:"allowedMethods"`
	AllowedHeaders   []string `yaml:"allowedHeaders"`
	ExposedHeaders   []string `yaml:"exposedHeaders"`
	AllowCredentials bool     `yaml:"allowCredentials"`
}

// StripExtrasConfig controls removal of non-mandatory problem members.
type StripExtrasConfig struct {
	Enabled            bool     `yaml:"enabled"`
	MandatoryFields    []string `yaml:"mandatoryFields"`
	IncludeStatusCodes []int    `yaml:"includeStatusCodes"`
	ExcludeStatusCodes []int    `yaml:"excludeStatusCodes"`
}

// MetricsConfig toggles metrics exposure.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// AuthConfig captures JWT validation settings.
type AuthConfig struct {
	Secret    string   `yaml:"secret"`
	Audiences []string `yaml:"audiences"`
	Issuer    string   `yaml:"issuer"`
}

// RateLimitConfig captures per-client throttling. Max of zero disables it.
type RateLimitConfig struct {
	Window Duration `yaml:"window"`
	Max    int      `yaml:"max"`
}

// OpenAPIConfig locates the fragments served at /openapi.json.
type OpenAPIConfig struct {
	ConfigPath      string `yaml:"configPath"`
	DistPath        string `yaml:"distPath"`
	GenericDefaults bool   `yaml:"genericDefaults"`
}

// Default returns baseline configuration values.
func Default() Config {
	return Config{
		Version: os.Getenv(envGitSHA),
		HTTP: HTTPConfig{
			Port:            defaultPort,
			ShutdownTimeout: DurationFrom(defaultShutdownTimeout),
		},
		Log: LogConfig{Level: defaultLogLevel},
		RateLimit: RateLimitConfig{
			Window: DurationFrom(defaultRateLimitWindow),
			Max:    defaultRateLimitMax,
		},
		Metrics: MetricsConfig{Enabled: defaultMetricsEnabled},
	}
}

// Option customises the load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	paths     []string
	lookupEnv func(string) (string, bool)
}

// WithPath adds a YAML config path to attempt loading. Missing files are skipped.
func WithPath(path string) Option {
	return func(o *loaderOptions) {
		if strings.TrimSpace(path) != "" {
			o.paths = append(o.paths, path)
		}
	}
}

// WithLookupEnv overrides the environment lookup function.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(o *loaderOptions) {
		o.lookupEnv = fn
	}
}

// Load builds a Config from defaults, YAML files, and environment overrides (in that order).
func Load(opts ...Option) (Config, error) {
	options := loaderOptions{lookupEnv: os.LookupEnv}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if options.lookupEnv == nil {
		options.lookupEnv = os.LookupEnv
	}
	if envPath, ok := options.lookupEnv(defaultConfigEnvVar); ok && strings.TrimSpace(envPath) != "" {
		options.paths = append([]string{strings.TrimSpace(envPath)}, options.paths...)
	}

	cfg := Default()

	for _, path := range options.paths {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			continue
		case err != nil:
			return cfg, fmt.Errorf("read config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("decode config %q: %w", path, err)
		}
	}

	if err := applyEnvOverrides(&cfg, options.lookupEnv); err != nil {
		return cfg, err
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config, lookup func(string) (string, bool)) error {
	value := func(key string) (string, bool) {
		val, ok := lookup(key)
		val = strings.TrimSpace(val)
		return val, ok && val != ""
	}
	parseBool := func(key string, dst *bool) error {
		val, ok := value(key)
		if !ok {
			return nil
		}
		parsed, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = parsed
		return nil
	}

	if val, ok := value(envPort); ok {
		port, err := strconv.Atoi(val)
		if err != nil || port <= 0 {
			return fmt.Errorf("invalid %s value: %s", envPort, val)
		}
		cfg.HTTP.Port = port
	}

	if val, ok := value(envShutdownTimeout); ok {
		timeout, err := parsePositiveDurationMillis(val)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", envShutdownTimeout, err)
		}
		cfg.HTTP.ShutdownTimeout = DurationFrom(timeout)
	}

	if val, ok := value(envGitSHA); ok {
		cfg.Version = val
	}
	if val, ok := value(envLogLevel); ok {
		cfg.Log.Level = strings.ToLower(val)
	}
	if val, ok := value(envDocsURITemplate); ok {
		cfg.Problem.DocumentationURITemplate = val
	}
	if val, ok := value(envCorsAllowedOrigins); ok {
		cfg.CORS.AllowedOrigins = splitAndTrim(val)
	}
	if val, ok := value(envJWTSecret); ok {
		cfg.Auth.Secret = val
	}
	if val, ok := value(envJWTAudience); ok {
		cfg.Auth.Audiences = splitAndTrim(val)
	}
	if val, ok := value(envJWTIssuer); ok {
		cfg.Auth.Issuer = val
	}

	if val, ok := value(envRateLimitWindow); ok {
		window, err := parsePositiveDurationMillis(val)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", envRateLimitWindow, err)
		}
		cfg.RateLimit.Window = DurationFrom(window)
	}

	if val, ok := value(envRateLimitMax); ok {
		max, err := strconv.Atoi(val)
		if err != nil || max < 0 {
			return fmt.Errorf("invalid %s: %s", envRateLimitMax, val)
		}
		cfg.RateLimit.Max = max
	}

	return errors.Join(
		parseBool(envProblemStrict, &cfg.Problem.Strict),
		parseBool(envCorsAllowCreds, &cfg.CORS.AllowCredentials),
		parseBool(envStripExtrasEnabled, &cfg.StripExtras.Enabled),
		parseBool(envMetricsEnabled, &cfg.Metrics.Enabled),
		parseBool(envOpenAPIGenericDefs, &cfg.OpenAPI.GenericDefaults),
	)
}

// normalize fills in defaults that may be missing after YAML/env overrides.
func (cfg *Config) normalize() {
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = defaultPort
	}
	if cfg.HTTP.ShutdownTimeout.AsDuration() <= 0 {
		cfg.HTTP.ShutdownTimeout = DurationFrom(defaultShutdownTimeout)
	}
	if strings.TrimSpace(cfg.Log.Level) == "" {
		cfg.Log.Level = defaultLogLevel
	}
	if cfg.RateLimit.Window.AsDuration() <= 0 {
		cfg.RateLimit.Window = DurationFrom(defaultRateLimitWindow)
	}

	for key, wrapper := range cfg.Problem.Wrappers {
		if wrapper.Status == 0 {
			if code, err := strconv.Atoi(key); err == nil {
				wrapper.Status = code
			} else {
				wrapper.Status = http.StatusInternalServerError
			}
		}
		cfg.Problem.Wrappers[key] = wrapper
	}
}

// Validate performs semantic validation on the configuration.
func (cfg Config) Validate() error {
	var errs []error

	if cfg.HTTP.Port <= 0 {
		errs = append(errs, errors.New("http.port must be positive"))
	}
	if cfg.HTTP.ShutdownTimeout.AsDuration() <= 0 {
		errs = append(errs, errors.New("http.shutdownTimeout must be positive"))
	}
	if _, err := zapcore.ParseLevel(cfg.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level invalid: %w", err))
	}

	if tmpl := cfg.Problem.DocumentationURITemplate; tmpl != "" && !strings.Contains(tmpl, typePlaceholder) {
		errs = append(errs, fmt.Errorf("problem.documentationURITemplate must contain %s", typePlaceholder))
	}
	for _, key := range sortedKeys(cfg.Problem.Wrappers) {
		wrapper := cfg.Problem.Wrappers[key]
		if key != defaultWrapperKey {
			if code, err := strconv.Atoi(key); err != nil || !problem.ValidStatus(code) {
				errs = append(errs, fmt.Errorf("problem.wrappers key %q must be %q or a status code", key, defaultWrapperKey))
			}
		}
		if strings.TrimSpace(wrapper.Title) == "" {
			errs = append(errs, fmt.Errorf("problem.wrappers[%s].title must not be empty", key))
		}
		if !problem.ValidStatus(wrapper.Status) {
			errs = append(errs, fmt.Errorf("problem.wrappers[%s].status %d out of range", key, wrapper.Status))
		}
	}

	for _, code := range append(append([]int(nil), cfg.StripExtras.IncludeStatusCodes...), cfg.StripExtras.ExcludeStatusCodes...) {
		if !problem.ValidStatus(code) {
			errs = append(errs, fmt.Errorf("stripExtras status code %d out of range", code))
		}
	}

	if cfg.RateLimit.Max < 0 {
		errs = append(errs, errors.New("rateLimit.max must not be negative"))
	}
	if cfg.RateLimit.Window.AsDuration() <= 0 {
		errs = append(errs, errors.New("rateLimit.window must be positive"))
	}

	if len(cfg.Auth.Audiences) > 0 && cfg.Auth.Secret == "" {
		errs = append(errs, errors.New("auth.secret required when audiences are configured"))
	}

	return errors.Join(errs...)
}

// Kinds converts the configured wrappers into problem kinds keyed like the
// exception handler expects.
func (p ProblemConfig) Kinds() map[string]problem.Kind {
	if len(p.Wrappers) == 0 {
		return nil
	}
	kinds := make(map[string]problem.Kind, len(p.Wrappers))
	for key, w := range p.Wrappers {
		kinds[key] = problem.Kind{Type: w.Type, Title: w.Title, Status: w.Status}
	}
	return kinds
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func splitAndTrim(value string) []string {
	parts := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ' ' || r == ';'
	})
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
