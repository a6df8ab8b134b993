// Command tldwd is the transcript acquisition daemon. It validates the
// environment, assembles the pipeline, and serves the HTTP API until
// signalled to stop.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/iamadamzc/TLDW-sub001/internal/config"
	"github.com/iamadamzc/TLDW-sub001/internal/daemon"
	"github.com/iamadamzc/TLDW-sub001/internal/logging"
	"github.com/iamadamzc/TLDW-sub001/internal/preflight"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, configPath, err := config.Load(os.Getenv("TLDW_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logPaths := []string{"stdout"}
	if cfg.Paths.LogDir != "" {
		logPaths = append(logPaths, filepath.Join(cfg.Paths.LogDir, "tldwd.log"))
	}
	logger, err := logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: logPaths,
	})
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	if configPath != "" {
		logger.Info("configuration loaded", logging.String("path", configPath))
	}

	results := preflight.RunAll(ctx, cfg)
	failed := false
	for _, result := range results {
		if result.Passed {
			logger.Debug("preflight check passed", logging.String("check", result.Name))
			continue
		}
		failed = true
		logger.Error("preflight check failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail))
	}
	if failed {
		logger.Error("preflight failed, refusing to start")
		os.Exit(1)
	}

	d, err := daemon.Build(cfg, logger)
	if err != nil {
		logger.Error("assemble daemon", logging.Error(err))
		os.Exit(1)
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", logging.Error(err))
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("tldwd shutting down")
}
