package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/theroutercompany/problemdetails/internal/app"
	"github.com/theroutercompany/problemdetails/pkg/config"
	pkglog "github.com/theroutercompany/problemdetails/pkg/log"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = runCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "init":
		err = initCommand(os.Args[2:])
	case "convert-env":
		err = convertEnvCommand(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		log.Fatalf("problemd %s: %v", os.Args[1], err)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: problemd <command> [options]\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  run          Start the demo service\n")
	fmt.Fprintf(os.Stderr, "  validate     Validate configuration without starting the service\n")
	fmt.Fprintf(os.Stderr, "  init         Generate a config skeleton\n")
	fmt.Fprintf(os.Stderr, "  convert-env  Snapshot environment variables into a YAML config\n")
}

func loadOptions(configPath string) []config.Option {
	if strings.TrimSpace(configPath) == "" {
		return nil
	}
	return []config.Option{config.WithPath(configPath)}
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	watch := fs.Bool("watch", false, "Watch the config file for changes and hot-reload")
	if err := fs.Parse(args); err != nil {
		return err
	}

	opts := loadOptions(*configPath)
	cfg, err := config.Load(opts...)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		reloadCh   <-chan config.Config
		watchErrCh <-chan error
	)
	if *watch {
		if *configPath == "" {
			return errors.New("--config is required when --watch is enabled")
		}
		cfgCh, errCh, stopWatch, err := watchConfig(ctx, *configPath, opts)
		if err != nil {
			return fmt.Errorf("watch config: %w", err)
		}
		defer stopWatch()
		reloadCh, watchErrCh = cfgCh, errCh
	}

	var logger *zap.SugaredLogger
	defer func() {
		if logger != nil {
			_ = logger.Sync()
		}
	}()

	logger, runCancel, runDone, err := startServer(ctx, cfg, nil)
	if err != nil {
		return err
	}
	for {
		select {
		case err := <-runDone:
			runCancel()
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		case next, ok := <-reloadCh:
			if !ok {
				reloadCh = nil
				continue
			}
			runCancel()
			if err := <-runDone; err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			if logger, runCancel, runDone, err = startServer(ctx, next, logger); err != nil {
				return fmt.Errorf("reload config: %w", err)
			}
			logger.Infow("configuration reloaded", "path", *configPath, "logLevel", next.Log.Level)
		case err, ok := <-watchErrCh:
			if !ok {
				watchErrCh = nil
				continue
			}
			logger.Warnw("config watch error", "error", err)
		}
	}
}

// startServer runs the service for cfg until ctx or the returned cancel func
// ends it. The logger is rebuilt from cfg so log.level follows reloads; prev
// is flushed once the new logger is ready.
func startServer(ctx context.Context, cfg config.Config, prev *zap.SugaredLogger) (*zap.SugaredLogger, context.CancelFunc, <-chan error, error) {
	logger, err := pkglog.New(cfg.Log.Level)
	if err != nil {
		return prev, nil, nil, fmt.Errorf("build logger: %w", err)
	}
	if prev != nil {
		_ = prev.Sync()
	}

	runCtx, runCancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	srv := app.New(cfg, app.WithLogger(logger))
	go func() { done <- srv.Start(runCtx) }()
	return logger, runCancel, done, nil
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := config.Load(loadOptions(*configPath)...); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	fmt.Println("configuration valid")
	return nil
}

func initCommand(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	outputPath := fs.String("path", "problemd.yaml", "Destination path for generated config")
	force := fs.Bool("force", false, "Overwrite existing file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if !*force {
		if _, err := os.Stat(*outputPath); err == nil {
			return fmt.Errorf("config file %s already exists (use --force to overwrite)", *outputPath)
		}
	}

	if err := os.WriteFile(*outputPath, []byte(sampleConfigYAML), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Printf("configuration written to %s\n", *outputPath)
	return nil
}

func convertEnvCommand(args []string) error {
	fs := flag.NewFlagSet("convert-env", flag.ExitOnError)
	configPath := fs.String("config", "", "Optional config file to merge before env overrides")
	outputPath := fs.String("output", "", "Destination path for generated YAML (stdout when empty)")
	force := fs.Bool("force", false, "Overwrite existing output file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(loadOptions(*configPath)...)
	if err != nil {
		return fmt.Errorf("load config from environment: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	path := strings.TrimSpace(*outputPath)
	if path == "" {
		fmt.Print(string(data))
		return nil
	}

	if !*force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("output file %s already exists (use --force to overwrite)", path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat output file: %w", err)
		}
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure output directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write output file: %w", err)
	}

	fmt.Printf("configuration written to %s\n", path)
	return nil
}

// watchConfig reloads the config whenever the file at path changes. Events
// are debounced since editors often write a file in several steps.
func watchConfig(parent context.Context, path string, opts []config.Option) (<-chan config.Config, <-chan error, context.CancelFunc, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, nil, err
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return nil, nil, nil, fmt.Errorf("watch directory: %w", err)
	}

	ctx, cancel := context.WithCancel(parent)
	reloadCh := make(chan config.Config)
	errCh := make(chan error, 1)

	go func() {
		defer close(reloadCh)
		defer close(errCh)
		defer watcher.Close()

		var debounce <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !targetsFile(evt.Name, absPath) || evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				debounce = time.After(200 * time.Millisecond)
			case <-debounce:
				debounce = nil
				cfg, err := config.Load(opts...)
				if err != nil {
					select {
					case errCh <- err:
					case <-ctx.Done():
						return
					}
					continue
				}
				select {
				case reloadCh <- cfg:
				case <-ctx.Done():
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				select {
				case errCh <- err:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return reloadCh, errCh, cancel, nil
}

func targetsFile(eventPath, target string) bool {
	if eventPath == "" {
		return false
	}
	abs, err := filepath.Abs(eventPath)
	if err != nil {
		return false
	}
	return abs == target
}

const sampleConfigYAML = `# Problem details demo service configuration.
version: ""
http:
  port: 8080
  shutdownTimeout: 15s
log:
  level: info
problem:
  strict: false
  # documentationURITemplate: https://docs.example.com/errors/{type}
  wrappers:
    default:
      title: Unhandled exception occurred.
      status: 500
cors:
  allowedOrigins: []
  allowCredentials: false
stripExtras:
  enabled: false
  mandatoryFields: [type, title, status, detail]
metrics:
  enabled: true
  namespace: problemd
auth:
  secret: ""
rateLimit:
  window: 60s
  max: 120
openapi:
  genericDefaults: true
`
