package pipeline

import (
	"context"
	"time"

	"github.com/iamadamzc/TLDW-sub001/internal/proxy"
)

// Job is an accepted transcript request. Immutable after creation; the
// orchestrator destroys it when the pipeline returns.
type Job struct {
	ID             string
	VideoID        string
	Languages      []string
	CookieMaterial string
	UserAgent      string
	WorkDir        string
	CreatedAt      time.Time
}

// Stage names as they appear in logs, breaker keys, and summaries.
const (
	StageCaptionAPI     = "caption_api"
	StageTimedText      = "timedtext"
	StageBrowserCapture = "browser_capture"
	StageAudioASR       = "audio_asr"
)

// StageOrder is the fixed escalation sequence.
var StageOrder = []string{StageCaptionAPI, StageTimedText, StageBrowserCapture, StageAudioASR}

// Outcome classifies how a stage attempt ended.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeNotFound  Outcome = "not_found"
	OutcomeBlocked   Outcome = "blocked"
	OutcomeMalformed Outcome = "malformed"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeFatal     Outcome = "fatal"
	OutcomeSkipped   Outcome = "skipped"
)

// StageResult is the value a stage returns for expected outcomes. Errors are
// reserved for failures the orchestrator classifies via the services
// sentinels (auth, configuration, timeout).
type StageResult struct {
	Outcome    Outcome
	Transcript string
	Detail     string
}

// Stage is the contract each acquisition strategy implements. Run must
// honor ctx cancellation promptly and release every resource it opens on
// all exit paths.
type Stage interface {
	Name() string
	Run(ctx context.Context, job *Job, sess *proxy.Session) (StageResult, error)
}

// AttemptRecord captures one stage attempt. Records are append-only per job
// and live only as long as the job does; they feed the per-job summary log.
type AttemptRecord struct {
	Stage        string
	Attempt      int
	StartedAt    time.Time
	Duration     time.Duration
	Outcome      Outcome
	Detail       string
	ProxySession string
}

// Summary is the single structured record emitted when a job exits.
type Summary struct {
	JobID         string
	VideoID       string
	StageWinner   string
	Transcript    string
	TotalDuration time.Duration
	ProxySession  string
	UserAgent     string
	Attempts      []AttemptRecord
	Err           error
}

// Succeeded reports whether any stage produced a transcript.
func (s Summary) Succeeded() bool {
	return s.StageWinner != "" && s.Transcript != ""
}

// AttemptCounts aggregates attempts per stage for the summary log line.
func (s Summary) AttemptCounts() map[string]int {
	counts := make(map[string]int, 4)
	for _, record := range s.Attempts {
		counts[record.Stage]++
	}
	return counts
}
