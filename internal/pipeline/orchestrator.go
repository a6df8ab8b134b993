package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/iamadamzc/TLDW-sub001/internal/breaker"
	"github.com/iamadamzc/TLDW-sub001/internal/logging"
	"github.com/iamadamzc/TLDW-sub001/internal/proxy"
	"github.com/iamadamzc/TLDW-sub001/internal/services"
)

// disposition tells the escalation loop what to do after a stage finishes.
type disposition int

const (
	dispositionAdvance disposition = iota
	dispositionWon
	dispositionAbort
	dispositionWatchdog
)

// Orchestrator walks a job through the stage ladder: consult the breaker,
// run the stage on the job's sticky proxy session, classify the result, and
// either stop, rotate and retry once, or escalate.
type Orchestrator struct {
	stages   []Stage
	rescue   Stage
	sessions *proxy.Manager
	breakers *breaker.Registry
	logger   *slog.Logger

	watchdogBudget time.Duration
	rescueBudget   time.Duration
	now            func() time.Time
}

// OrchestratorOptions wires the orchestrator's collaborators and budgets.
type OrchestratorOptions struct {
	Stages         []Stage
	Rescue         Stage
	Sessions       *proxy.Manager
	Breakers       *breaker.Registry
	Logger         *slog.Logger
	WatchdogBudget time.Duration
	RescueBudget   time.Duration
	Now            func() time.Time
}

func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	watchdog := opts.WatchdogBudget
	if watchdog <= 0 {
		watchdog = 240 * time.Second
	}
	rescue := opts.RescueBudget
	if rescue <= 0 {
		rescue = 60 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Orchestrator{
		stages:         opts.Stages,
		rescue:         opts.Rescue,
		sessions:       opts.Sessions,
		breakers:       opts.Breakers,
		logger:         logging.NewComponentLogger(logger, "pipeline"),
		watchdogBudget: watchdog,
		rescueBudget:   rescue,
		now:            now,
	}
}

// Run executes the full escalation for one job and returns its summary. The
// job's proxy session is released on every exit path.
func (o *Orchestrator) Run(ctx context.Context, job *Job) Summary {
	start := o.now()
	summary := Summary{
		JobID:     job.ID,
		VideoID:   job.VideoID,
		UserAgent: job.UserAgent,
	}
	defer o.sessions.Release(job.ID)

	watchdogCtx, cancel := context.WithTimeout(ctx, o.watchdogBudget)
	defer cancel()

	watchdogFired := false
	for _, stage := range o.stages {
		disp, result, err := o.runStage(watchdogCtx, job, stage, &summary)
		if disp == dispositionWon {
			summary.StageWinner = stage.Name()
			summary.Transcript = result.Transcript
			break
		}
		if disp == dispositionAbort {
			summary.Err = err
			break
		}
		if disp == dispositionWatchdog || watchdogCtx.Err() != nil {
			watchdogFired = true
			break
		}
	}

	if summary.StageWinner == "" && summary.Err == nil && watchdogFired && ctx.Err() == nil {
		o.runRescue(ctx, job, &summary)
	}
	if summary.StageWinner == "" && summary.Err == nil {
		if watchdogFired {
			summary.Err = services.Wrap(services.ErrTimeout, "pipeline", "watchdog", "job budget exhausted", nil)
		} else {
			summary.Err = services.Wrap(services.ErrNotFound, "pipeline", "escalation", "all stages exhausted", nil)
		}
	}

	summary.TotalDuration = o.now().Sub(start)
	o.logSummary(ctx, summary)
	return summary
}

// runStage attempts the stage, with at most one in-stage retry after a
// session rotation. The breaker is consulted before each attempt and told
// the verdict after it; not-found counts as a healthy upstream answer.
func (o *Orchestrator) runStage(ctx context.Context, job *Job, stage Stage, summary *Summary) (disposition, StageResult, error) {
	rotated := false
	for attempt := 1; attempt <= 2; attempt++ {
		done, ok := o.breakers.Allow(stage.Name())
		if !ok {
			o.record(ctx, job, summary, AttemptRecord{
				Stage:   stage.Name(),
				Attempt: attempt,
				Outcome: OutcomeSkipped,
				Detail:  "breaker_open",
			})
			return dispositionAdvance, StageResult{}, nil
		}

		sess, err := o.sessions.Acquire(job.ID)
		if err != nil {
			done(false)
			return dispositionAbort, StageResult{}, err
		}

		attemptStart := o.now()
		result, err := stage.Run(ctx, job, sess)
		record := AttemptRecord{
			Stage:        stage.Name(),
			Attempt:      attempt,
			StartedAt:    attemptStart,
			Duration:     o.now().Sub(attemptStart),
			ProxySession: sess.Masked(),
		}

		if err != nil {
			done(false)
			switch {
			case services.IsFatal(err):
				record.Outcome = OutcomeFatal
				record.Detail = services.Details(err)
				o.record(ctx, job, summary, record)
				return dispositionAbort, StageResult{}, err
			case errors.Is(err, services.ErrAuth):
				record.Outcome = OutcomeBlocked
				record.Detail = "proxy_auth_rejected"
				o.record(ctx, job, summary, record)
				if rotated {
					return dispositionAdvance, StageResult{}, nil
				}
				if rotateErr := o.rotate(job, "auth_rejected"); rotateErr != nil {
					return dispositionAbort, StageResult{}, rotateErr
				}
				rotated = true
				continue
			case errors.Is(err, services.ErrTimeout):
				record.Outcome = OutcomeTimeout
				record.Detail = services.Details(err)
				o.record(ctx, job, summary, record)
				if ctx.Err() != nil {
					return dispositionWatchdog, StageResult{}, nil
				}
				return dispositionAdvance, StageResult{}, nil
			default:
				record.Outcome = OutcomeMalformed
				record.Detail = services.Details(err)
				o.record(ctx, job, summary, record)
				return dispositionAdvance, StageResult{}, nil
			}
		}

		record.Outcome = result.Outcome
		record.Detail = result.Detail
		switch result.Outcome {
		case OutcomeSuccess:
			done(true)
			o.record(ctx, job, summary, record)
			return dispositionWon, result, nil
		case OutcomeNotFound, OutcomeSkipped:
			done(true)
			o.record(ctx, job, summary, record)
			return dispositionAdvance, StageResult{}, nil
		case OutcomeBlocked:
			done(false)
			o.record(ctx, job, summary, record)
			if rotated {
				return dispositionAdvance, StageResult{}, nil
			}
			o.sessions.MarkFailure(job.ID, result.Detail)
			if rotateErr := o.rotate(job, result.Detail); rotateErr != nil {
				return dispositionAbort, StageResult{}, rotateErr
			}
			rotated = true
			continue
		default:
			done(false)
			o.record(ctx, job, summary, record)
			return dispositionAdvance, StageResult{}, nil
		}
	}
	return dispositionAdvance, StageResult{}, nil
}

// runRescue gives the audio stage one last tightened budget after the
// watchdog fired. The rescue context is detached from the expired watchdog
// but bounded on its own.
func (o *Orchestrator) runRescue(ctx context.Context, job *Job, summary *Summary) {
	if o.rescue == nil {
		return
	}
	for _, record := range summary.Attempts {
		if record.Stage == o.rescue.Name() {
			// The audio stage already had its shot in the main loop, whether
			// it ran or the breaker refused it. The rescue pass exists only
			// for jobs the watchdog cut off before reaching it.
			return
		}
	}

	done, ok := o.breakers.Allow(o.rescue.Name())
	if !ok {
		o.record(ctx, job, summary, AttemptRecord{
			Stage:   o.rescue.Name(),
			Attempt: len(summary.Attempts) + 1,
			Outcome: OutcomeSkipped,
			Detail:  "breaker_open_rescue",
		})
		return
	}

	sess, err := o.sessions.Acquire(job.ID)
	if err != nil {
		done(false)
		summary.Err = err
		return
	}

	rescueCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.rescueBudget)
	defer cancel()

	attemptStart := o.now()
	result, err := o.rescue.Run(rescueCtx, job, sess)
	record := AttemptRecord{
		Stage:        o.rescue.Name(),
		Attempt:      len(summary.Attempts) + 1,
		StartedAt:    attemptStart,
		Duration:     o.now().Sub(attemptStart),
		ProxySession: sess.Masked(),
		Detail:       "rescue",
	}
	if err != nil {
		done(false)
		record.Outcome = OutcomeTimeout
		if !errors.Is(err, services.ErrTimeout) {
			record.Outcome = OutcomeMalformed
		}
		record.Detail = "rescue: " + services.Details(err)
		o.record(ctx, job, summary, record)
		return
	}
	record.Outcome = result.Outcome
	if result.Detail != "" {
		record.Detail = "rescue: " + result.Detail
	}
	if result.Outcome == OutcomeSuccess {
		done(true)
		summary.StageWinner = o.rescue.Name()
		summary.Transcript = result.Transcript
	} else {
		done(result.Outcome == OutcomeNotFound || result.Outcome == OutcomeSkipped)
	}
	o.record(ctx, job, summary, record)
}

func (o *Orchestrator) rotate(job *Job, reason string) error {
	if _, err := o.sessions.Rotate(job.ID); err != nil {
		// A job that cannot obtain a working session identity must fail
		// loudly instead of hammering upstream with a burned one.
		return services.Wrap(services.ErrConfiguration, "pipeline", "rotate", reason, err)
	}
	return nil
}

func (o *Orchestrator) record(ctx context.Context, job *Job, summary *Summary, record AttemptRecord) {
	summary.Attempts = append(summary.Attempts, record)
	if record.ProxySession != "" {
		summary.ProxySession = record.ProxySession
	}
	o.logger.InfoContext(ctx, "stage attempt finished",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldVideoID, job.VideoID),
		logging.String(logging.FieldStage, record.Stage),
		logging.Int(logging.FieldAttempt, record.Attempt),
		logging.String(logging.FieldOutcome, string(record.Outcome)),
		logging.Int64(logging.FieldDurationMS, record.Duration.Milliseconds()),
		logging.String("detail", record.Detail),
	)
}

func (o *Orchestrator) logSummary(ctx context.Context, summary Summary) {
	winner := summary.StageWinner
	if winner == "" {
		winner = "none"
	}
	attrs := []any{
		logging.String(logging.FieldJobID, summary.JobID),
		logging.String(logging.FieldVideoID, summary.VideoID),
		logging.String("stage_winner", winner),
		logging.Int64("total_duration_ms", summary.TotalDuration.Milliseconds()),
		logging.String(logging.FieldProxySession, summary.ProxySession),
		logging.String("ua_applied", summary.UserAgent),
		logging.Int("attempts", len(summary.Attempts)),
	}
	counts := summary.AttemptCounts()
	stages := make([]string, 0, len(counts))
	for stage := range counts {
		stages = append(stages, stage)
	}
	sort.Strings(stages)
	for _, stage := range stages {
		attrs = append(attrs, logging.Int("attempts_"+stage, counts[stage]))
	}
	if summary.Err != nil {
		attrs = append(attrs, logging.Error(summary.Err))
		o.logger.WarnContext(ctx, "job finished without transcript", attrs...)
		return
	}
	o.logger.InfoContext(ctx, "job finished", attrs...)
}
