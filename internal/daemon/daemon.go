// Package daemon ties the pipeline service, session manager, cache, and HTTP
// API into a single lifecycle with flock-based locking to prevent multiple
// instances from sharing one proxy identity pool.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/gofrs/flock"

	"github.com/iamadamzc/TLDW-sub001/internal/breaker"
	"github.com/iamadamzc/TLDW-sub001/internal/config"
	"github.com/iamadamzc/TLDW-sub001/internal/deps"
	"github.com/iamadamzc/TLDW-sub001/internal/logging"
	"github.com/iamadamzc/TLDW-sub001/internal/pipeline"
	"github.com/iamadamzc/TLDW-sub001/internal/proxy"
	"github.com/iamadamzc/TLDW-sub001/internal/stages/asr"
	"github.com/iamadamzc/TLDW-sub001/internal/stages/browser"
	"github.com/iamadamzc/TLDW-sub001/internal/stages/captionapi"
	"github.com/iamadamzc/TLDW-sub001/internal/stages/timedtext"
	"github.com/iamadamzc/TLDW-sub001/internal/store"
)

const sessionSweepInterval = time.Minute

// Daemon coordinates the background services and enforces single-instance
// execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	service  *pipeline.Service
	sessions *proxy.Manager
	cache    *store.Store
	breakers *breaker.Registry

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool                 `json:"running"`
	PID          int                  `json:"pid"`
	DatabasePath string               `json:"database_path"`
	LockFilePath string               `json:"lock_file_path"`
	Jobs         []pipeline.JobStatus `json:"jobs"`
	Breakers     map[string]string    `json:"breakers"`
	Dependencies []deps.Status        `json:"dependencies"`
}

// Build assembles the full pipeline from configuration: proxy manager,
// breaker registry, the four stages, orchestrator, service, cache, and the
// daemon wrapping them.
func Build(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires configuration")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	sessions, err := proxy.NewManager(proxy.Secret{
		EndpointHost: cfg.Proxy.EndpointHost,
		Port:         cfg.Proxy.Port,
		CustomerID:   cfg.Proxy.CustomerID,
		Password:     cfg.Proxy.Password,
		GeoEnabled:   cfg.Proxy.GeoEnabled,
		Country:      cfg.Proxy.Country,
	}, proxy.Options{
		SessionTTL: time.Duration(cfg.Proxy.SessionTTLMinutes) * time.Minute,
		Blacklist:  proxy.NewBlacklist(cfg.Proxy.BlacklistCapacity, time.Duration(cfg.Proxy.BlacklistTTLHours)*time.Hour),
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	recovery := time.Duration(cfg.Breaker.RecoverySeconds) * time.Second
	breakers := breaker.NewRegistry(logger)
	breakers.Configure(pipeline.StageCaptionAPI, cfg.Breaker.CaptionAPIThreshold, recovery)
	breakers.Configure(pipeline.StageTimedText, cfg.Breaker.TimedTextThreshold, recovery)
	breakers.Configure(pipeline.StageBrowserCapture, cfg.Breaker.BrowserThreshold, recovery)
	breakers.Configure(pipeline.StageAudioASR, cfg.Breaker.ASRThreshold, recovery)

	asrStage := asr.New(cfg.ASR, logger)
	orch := pipeline.NewOrchestrator(pipeline.OrchestratorOptions{
		Stages: []pipeline.Stage{
			captionapi.New(cfg.Captions, logger),
			timedtext.New(cfg.TimedText, logger),
			browser.New(cfg.Browser, logger),
			asrStage,
		},
		Rescue:         asrStage,
		Sessions:       sessions,
		Breakers:       breakers,
		Logger:         logger,
		WatchdogBudget: time.Duration(cfg.Pipeline.WatchdogSeconds) * time.Second,
		RescueBudget:   time.Duration(cfg.Pipeline.RescueASRSeconds) * time.Second,
	})

	cache, err := store.Open(cfg.Store.Database)
	if err != nil {
		return nil, err
	}

	service := pipeline.NewService(pipeline.ServiceOptions{
		Orchestrator: orch,
		Cache:        cache,
		Logger:       logger,
		WorkDir:      cfg.Paths.WorkDir,
		UserAgent:    cfg.Pipeline.UserAgent,
		Languages:    cfg.Pipeline.Languages,
	})

	return New(cfg, logger, service, sessions, cache, breakers)
}

// New constructs a daemon around already-assembled collaborators.
func New(cfg *config.Config, logger *slog.Logger, service *pipeline.Service, sessions *proxy.Manager, cache *store.Store, breakers *breaker.Registry) (*Daemon, error) {
	if cfg == nil || service == nil || sessions == nil {
		return nil, errors.New("daemon requires config, service, and session manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := os.MkdirAll(cfg.Paths.LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure log directory: %w", err)
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "tldwd.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		service:  service,
		sessions: sessions,
		cache:    cache,
		breakers: breakers,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.api = newAPIServer(cfg.API.Bind, cfg.API.Token, d, logger)
	return d, nil
}

// Start acquires the daemon lock and brings up the API server and the
// session sweeper.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if d.api != nil {
		if err := d.api.start(d.ctx); err != nil {
			_ = d.lock.Unlock()
			d.cancel()
			d.ctx = nil
			d.cancel = nil
			return err
		}
	}
	go d.sweepSessions(d.ctx)

	d.running.Store(true)
	d.logger.Info("daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.service.Close()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.cache != nil {
		return d.cache.Close()
	}
	return nil
}

// Status reports the daemon's runtime state.
func (d *Daemon) Status(ctx context.Context) Status {
	_ = ctx
	breakers := make(map[string]string, len(pipeline.StageOrder))
	if d.breakers != nil {
		for _, stage := range pipeline.StageOrder {
			breakers[stage] = d.breakers.State(stage)
		}
	}
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DatabasePath: d.cfg.Store.Database,
		LockFilePath: d.lockPath,
		Jobs:         d.service.List(),
		Breakers:     breakers,
		Dependencies: deps.CheckBinaries(deps.Requirements(
			d.cfg.ASR.YTDLPBinary,
			d.cfg.ASR.FFmpegBinary,
			d.cfg.ASR.FFprobeBinary,
			d.cfg.Browser.ChromeBinary,
		)),
	}
}

// sweepSessions evicts idle proxy sessions on a fixed interval.
func (d *Daemon) sweepSessions(ctx context.Context) {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := d.sessions.SweepExpired(); removed > 0 {
				d.logger.Debug("swept expired proxy sessions", logging.Int("removed", removed))
			}
		}
	}
}
