package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/theroutercompany/problemdetails/internal/app"
	"github.com/theroutercompany/problemdetails/pkg/config"
	pkglog "github.com/theroutercompany/problemdetails/pkg/log"
)

func main() {
	outPath := flag.String("out", "dist/openapi.json", "Path to write the annotated OpenAPI document")
	configPath := flag.String("config", "", "Path to service configuration file")
	flag.Parse()

	var opts []config.Option
	if *configPath != "" {
		opts = append(opts, config.WithPath(*configPath))
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	cfg.OpenAPI.DistPath = *outPath

	// The service serves an existing dist file as-is; drop it to force a rebuild.
	if err := os.Remove(*outPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "remove stale document: %v\n", err)
		os.Exit(1)
	}

	svc := app.NewOpenAPIService(cfg, pkglog.Shared())
	if _, err := svc.Document(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "openapi generation failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stdout, "OpenAPI document written to %s\n", *outPath)
}
