package pipeline

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iamadamzc/TLDW-sub001/internal/logging"
	"github.com/iamadamzc/TLDW-sub001/internal/services"
	"github.com/iamadamzc/TLDW-sub001/internal/store"
)

// JobState is the externally visible lifecycle of a submitted job.
type JobState string

const (
	StateRunning   JobState = "running"
	StateSucceeded JobState = "succeeded"
	StateFailed    JobState = "failed"
	StateCached    JobState = "cached"
)

// Request is a transcript submission.
type Request struct {
	Video          string
	Languages      []string
	CookieMaterial string
}

// JobStatus is a point-in-time snapshot for status output.
type JobStatus struct {
	JobID       string    `json:"job_id"`
	VideoID     string    `json:"video_id"`
	State       JobState  `json:"state"`
	StageWinner string    `json:"stage_winner,omitempty"`
	Error       string    `json:"error,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type jobEntry struct {
	job     *Job
	state   JobState
	summary Summary
	done    chan struct{}
}

// ServiceOptions wires the service's collaborators.
type ServiceOptions struct {
	Orchestrator *Orchestrator
	Cache        *store.Store
	Logger       *slog.Logger
	WorkDir      string
	UserAgent    string
	Languages    []string

	// MaxFinishedJobs bounds how many delivered jobs stay visible to Status
	// and List before the oldest entries are dropped.
	MaxFinishedJobs int
}

// Service accepts transcript requests, runs each as an independent job, and
// resolves repeat requests from the cache.
type Service struct {
	orch      *Orchestrator
	cache     *store.Store
	logger    *slog.Logger
	workDir   string
	userAgent string
	languages []string

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu       sync.Mutex
	jobs     map[string]*jobEntry
	finished []string
	retain   int
}

// defaultUserAgent is applied when the operator does not pin one. It must
// look like a current mainstream browser; stages reuse it verbatim.
const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

// defaultFinishedRetention caps how many delivered job entries are kept for
// status queries. Attempt records and transcripts of evicted entries are gone
// for good; the transcript itself survives in the cache.
const defaultFinishedRetention = 64

func NewService(opts ServiceOptions) *Service {
	baseCtx, cancel := context.WithCancel(context.Background())
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	languages := opts.Languages
	if len(languages) == 0 {
		languages = []string{"en"}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	retain := opts.MaxFinishedJobs
	if retain <= 0 {
		retain = defaultFinishedRetention
	}
	return &Service{
		orch:      opts.Orchestrator,
		cache:     opts.Cache,
		logger:    logging.NewComponentLogger(logger, "service"),
		workDir:   opts.WorkDir,
		userAgent: userAgent,
		languages: languages,
		baseCtx:   baseCtx,
		cancel:    cancel,
		jobs:      make(map[string]*jobEntry),
		retain:    retain,
	}
}

// Submit validates the request and either answers from the cache or starts a
// pipeline job. Jobs run on the service's own context so an abandoned HTTP
// request does not kill the work mid-flight.
func (s *Service) Submit(ctx context.Context, req Request) (JobStatus, error) {
	videoID, err := ExtractVideoID(req.Video)
	if err != nil {
		return JobStatus{}, services.Wrap(services.ErrConfiguration, "service", "submit", err.Error(), nil)
	}
	languages := req.Languages
	if len(languages) == 0 {
		languages = s.languages
	}

	jobID := uuid.New().String()
	job := &Job{
		ID:             jobID,
		VideoID:        videoID,
		Languages:      languages,
		CookieMaterial: req.CookieMaterial,
		UserAgent:      s.userAgent,
		WorkDir:        filepath.Join(s.workDir, jobID),
		CreatedAt:      time.Now(),
	}
	entry := &jobEntry{job: job, state: StateRunning, done: make(chan struct{})}

	if s.cache != nil {
		if record, ok, cacheErr := s.cache.Get(ctx, videoID); cacheErr == nil && ok {
			entry.state = StateCached
			entry.summary = Summary{
				JobID:       jobID,
				VideoID:     videoID,
				StageWinner: record.StageWinner,
				Transcript:  record.Transcript,
			}
			close(entry.done)
			s.register(jobID, entry)
			s.logger.Info("transcript served from cache",
				logging.String(logging.FieldJobID, jobID),
				logging.String(logging.FieldVideoID, videoID))
			return s.snapshot(entry), nil
		}
	}

	s.register(jobID, entry)
	s.wg.Add(1)
	go s.execute(entry)
	return s.snapshot(entry), nil
}

func (s *Service) execute(entry *jobEntry) {
	defer s.wg.Done()
	defer close(entry.done)
	job := entry.job

	if err := os.MkdirAll(job.WorkDir, 0o755); err != nil {
		s.finish(entry, Summary{JobID: job.ID, VideoID: job.VideoID,
			Err: services.Wrap(services.ErrConfiguration, "service", "workdir", "", err)})
		return
	}
	defer os.RemoveAll(job.WorkDir)

	summary := s.orch.Run(s.baseCtx, job)
	if summary.Succeeded() && s.cache != nil {
		if err := s.cache.Put(s.baseCtx, store.Record{
			VideoID:     job.VideoID,
			Transcript:  summary.Transcript,
			StageWinner: summary.StageWinner,
			Languages:   job.Languages,
		}); err != nil {
			s.logger.Warn("transcript cache write failed",
				logging.String(logging.FieldVideoID, job.VideoID),
				logging.Error(err))
		}
	}
	s.finish(entry, summary)
}

func (s *Service) finish(entry *jobEntry, summary Summary) {
	s.mu.Lock()
	entry.summary = summary
	if summary.Succeeded() {
		entry.state = StateSucceeded
	} else {
		entry.state = StateFailed
	}
	s.retireLocked(entry.job.ID)
	s.mu.Unlock()
}

// Await blocks until the job completes or the caller's context expires.
func (s *Service) Await(ctx context.Context, jobID string) (Summary, error) {
	s.mu.Lock()
	entry, ok := s.jobs[jobID]
	s.mu.Unlock()
	if !ok {
		return Summary{}, services.Wrap(services.ErrNotFound, "service", "await", "unknown job "+jobID, nil)
	}
	select {
	case <-entry.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return entry.summary, nil
	case <-ctx.Done():
		return Summary{}, services.Wrap(services.ErrTimeout, "service", "await", "", ctx.Err())
	}
}

// Status returns the job's current snapshot.
func (s *Service) Status(jobID string) (JobStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.jobs[jobID]
	if !ok {
		return JobStatus{}, false
	}
	return s.snapshotLocked(entry), true
}

// List returns snapshots for every known job, newest first.
func (s *Service) List() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	statuses := make([]JobStatus, 0, len(s.jobs))
	for _, entry := range s.jobs {
		statuses = append(statuses, s.snapshotLocked(entry))
	}
	return statuses
}

// Close stops accepting work and waits for in-flight jobs to wind down.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Service) register(jobID string, entry *jobEntry) {
	s.mu.Lock()
	s.jobs[jobID] = entry
	if entry.state != StateRunning {
		s.retireLocked(jobID)
	}
	s.mu.Unlock()
}

// retireLocked records a delivered job and evicts the oldest delivered
// entries beyond the retention cap, so the registry never grows without
// bound. Callers hold s.mu.
func (s *Service) retireLocked(jobID string) {
	s.finished = append(s.finished, jobID)
	for len(s.finished) > s.retain {
		oldest := s.finished[0]
		s.finished = s.finished[1:]
		delete(s.jobs, oldest)
	}
}

func (s *Service) snapshot(entry *jobEntry) JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(entry)
}

func (s *Service) snapshotLocked(entry *jobEntry) JobStatus {
	status := JobStatus{
		JobID:       entry.job.ID,
		VideoID:     entry.job.VideoID,
		State:       entry.state,
		SubmittedAt: entry.job.CreatedAt,
	}
	if entry.state == StateSucceeded || entry.state == StateCached {
		status.StageWinner = entry.summary.StageWinner
	}
	if entry.state == StateFailed && entry.summary.Err != nil {
		status.Error = services.Details(entry.summary.Err)
	}
	return status
}
