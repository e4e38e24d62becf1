package openapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/getkin/kin-openapi/openapi3"

	pkglog "github.com/theroutercompany/problemdetails/pkg/log"
)

// DocumentProvider exposes the annotated OpenAPI document.
type DocumentProvider interface {
	Document(ctx context.Context) ([]byte, error)
}

// Service merges OpenAPI fragments, annotates the result with problem
// schemas and caches the encoded document.
type Service struct {
	configPath string
	distPath   string
	fragments  []fragment
	generator  Generator
	logger     pkglog.Logger

	mu    sync.Mutex
	cache *cacheEntry
}

type fragment struct {
	name string
	data []byte
}

type cacheEntry struct {
	raw     []byte
	modTime time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithConfigPath sets a JSON merge config listing fragment files:
// {"inputs": [{"inputFile": "users.yaml"}]}. Relative paths resolve against
// the config's directory.
func WithConfigPath(path string) Option {
	return func(s *Service) {
		if path != "" {
			s.configPath = path
		}
	}
}

// WithDistPath persists the annotated document at path and serves it from
// there while the file is unchanged.
func WithDistPath(path string) Option {
	return func(s *Service) {
		s.distPath = path
	}
}

// WithFragment adds an in-memory YAML or JSON fragment. Fragments are merged
// before any fragments listed in the merge config.
func WithFragment(name string, data []byte) Option {
	return func(s *Service) {
		if len(data) > 0 {
			s.fragments = append(s.fragments, fragment{name: name, data: data})
		}
	}
}

// WithGenerator sets the annotation applied to the merged document.
func WithGenerator(g Generator) Option {
	return func(s *Service) {
		s.generator = g
	}
}

// WithLogger overrides the logger used for persistence warnings.
func WithLogger(logger pkglog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService constructs a Service.
func NewService(opts ...Option) *Service {
	s := &Service{}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.logger == nil {
		s.logger = pkglog.Shared()
	}
	return s
}

// Document returns the annotated OpenAPI document in JSON form.
func (s *Service) Document(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if data, ok := s.cachedIfCurrent(); ok {
		return data, nil
	}

	if s.distPath != "" {
		if data, modTime, err := s.readDist(); err == nil {
			s.cache = &cacheEntry{raw: data, modTime: modTime}
			return clone(data), nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read dist: %w", err)
		}
	}

	doc, err := s.buildDocument(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}

	if s.distPath == "" {
		s.cache = &cacheEntry{raw: clone(raw)}
		return clone(raw), nil
	}

	if err := s.persist(raw); err != nil {
		s.logger.Warnw("failed to persist openapi document", "error", err, "path", s.distPath)
		s.cache = &cacheEntry{raw: clone(raw)}
		return clone(raw), nil
	}

	s.cache = &cacheEntry{raw: clone(raw), modTime: fileModTime(s.distPath)}
	return clone(raw), nil
}

func (s *Service) cachedIfCurrent() ([]byte, bool) {
	if s.cache == nil {
		return nil, false
	}
	if s.distPath == "" || s.cache.modTime.IsZero() {
		return clone(s.cache.raw), true
	}
	info, err := os.Stat(s.distPath)
	if err != nil {
		return nil, false
	}
	if info.ModTime().Equal(s.cache.modTime) {
		return clone(s.cache.raw), true
	}
	return nil, false
}

func (s *Service) readDist() ([]byte, time.Time, error) {
	info, err := os.Stat(s.distPath)
	if err != nil {
		return nil, time.Time{}, err
	}

	data, err := os.ReadFile(s.distPath)
	if err != nil {
		return nil, time.Time{}, err
	}

	return data, info.ModTime(), nil
}

func (s *Service) buildDocument(ctx context.Context) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = true

	docs := make([]*openapi3.T, 0, len(s.fragments))
	for _, f := range s.fragments {
		doc, err := loader.LoadFromData(f.data)
		if err != nil {
			return nil, fmt.Errorf("load openapi fragment %s: %w", f.name, err)
		}
		docs = append(docs, doc)
	}

	if s.configPath != "" || len(docs) == 0 {
		cfg, baseDir, err := s.loadConfig()
		if err != nil {
			return nil, err
		}
		for _, input := range cfg.Inputs {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}

			path := input.InputFile
			if !filepath.IsAbs(path) {
				path = filepath.Join(baseDir, path)
			}

			doc, err := loader.LoadFromFile(path)
			if err != nil {
				return nil, fmt.Errorf("load openapi fragment %s: %w", path, err)
			}
			docs = append(docs, doc)
		}
	}

	merged, err := mergeDocuments(docs)
	if err != nil {
		return nil, err
	}
	if err := s.generator.Annotate(merged); err != nil {
		return nil, fmt.Errorf("annotate document: %w", err)
	}
	return merged, nil
}

func (s *Service) persist(raw []byte) error {
	dir := filepath.Dir(s.distPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.distPath, raw, 0o644)
}

func (s *Service) loadConfig() (*mergeConfig, string, error) {
	if s.configPath == "" {
		return nil, "", errors.New("no openapi fragments or merge config configured")
	}

	raw, err := os.ReadFile(s.configPath)
	if err != nil {
		return nil, "", fmt.Errorf("read config: %w", err)
	}

	var cfg mergeConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, "", fmt.Errorf("parse config: %w", err)
	}

	if len(cfg.Inputs) == 0 {
		return nil, "", errors.New("openapi merge configuration has no inputs")
	}

	return &cfg, filepath.Dir(s.configPath), nil
}

type mergeConfig struct {
	Inputs []mergeInput `json:"inputs"`
}

type mergeInput struct {
	InputFile string `json:"inputFile"`
}

func fileModTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

func clone(src []byte) []byte {
	if src == nil {
		return nil
	}
	dst := make([]byte, len(src))
	copy(dst, src)
	return dst
}
