package pipeline

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/iamadamzc/TLDW-sub001/internal/breaker"
	"github.com/iamadamzc/TLDW-sub001/internal/proxy"
	"github.com/iamadamzc/TLDW-sub001/internal/services"
)

type fakeStage struct {
	name string
	run  func(ctx context.Context, job *Job, sess *proxy.Session) (StageResult, error)
}

func (f *fakeStage) Name() string { return f.name }

func (f *fakeStage) Run(ctx context.Context, job *Job, sess *proxy.Session) (StageResult, error) {
	return f.run(ctx, job, sess)
}

func newSessions(t *testing.T) *proxy.Manager {
	t.Helper()
	manager, err := proxy.NewManager(proxy.Secret{
		EndpointHost: "pr.test.invalid",
		Port:         7777,
		CustomerID:   "acme",
		Password:     "plain password",
	}, proxy.Options{})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return manager
}

func newJob() *Job {
	return &Job{
		ID:        "job-1",
		VideoID:   "dQw4w9WgXcQ",
		Languages: []string{"en"},
		UserAgent: "test-agent/1.0",
		CreatedAt: time.Now(),
	}
}

func newOrchestrator(t *testing.T, stages []Stage, rescue Stage) (*Orchestrator, *proxy.Manager, *breaker.Registry) {
	t.Helper()
	sessions := newSessions(t)
	breakers := breaker.NewRegistry(nil)
	orch := NewOrchestrator(OrchestratorOptions{
		Stages:         stages,
		Rescue:         rescue,
		Sessions:       sessions,
		Breakers:       breakers,
		WatchdogBudget: 5 * time.Second,
		RescueBudget:   2 * time.Second,
	})
	return orch, sessions, breakers
}

func TestRunFirstStageWins(t *testing.T) {
	t.Parallel()

	second := &fakeStage{name: StageTimedText, run: func(context.Context, *Job, *proxy.Session) (StageResult, error) {
		t.Error("second stage must not run after a win")
		return StageResult{}, nil
	}}
	first := &fakeStage{name: StageCaptionAPI, run: func(context.Context, *Job, *proxy.Session) (StageResult, error) {
		return StageResult{Outcome: OutcomeSuccess, Transcript: "the words"}, nil
	}}

	orch, _, _ := newOrchestrator(t, []Stage{first, second}, nil)
	summary := orch.Run(context.Background(), newJob())
	if !summary.Succeeded() || summary.StageWinner != StageCaptionAPI {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.Transcript != "the words" {
		t.Fatalf("transcript lost: %q", summary.Transcript)
	}
}

func TestRunBlockedRotatesSessionAndRetriesOnce(t *testing.T) {
	t.Parallel()

	var sessionsSeen []string
	stage := &fakeStage{name: StageCaptionAPI, run: func(_ context.Context, _ *Job, sess *proxy.Session) (StageResult, error) {
		sessionsSeen = append(sessionsSeen, sess.ID)
		if len(sessionsSeen) == 1 {
			return StageResult{Outcome: OutcomeBlocked, Detail: "html_or_consent"}, nil
		}
		return StageResult{Outcome: OutcomeSuccess, Transcript: "after rotation"}, nil
	}}

	orch, _, _ := newOrchestrator(t, []Stage{stage}, nil)
	summary := orch.Run(context.Background(), newJob())
	if !summary.Succeeded() {
		t.Fatalf("expected success after rotation, got %+v", summary)
	}
	if len(sessionsSeen) != 2 || sessionsSeen[0] == sessionsSeen[1] {
		t.Fatalf("blocked attempt must rotate the session: %v", sessionsSeen)
	}
	if len(summary.Attempts) != 2 {
		t.Fatalf("expected 2 attempt records, got %d", len(summary.Attempts))
	}
	if summary.Attempts[0].Outcome != OutcomeBlocked {
		t.Fatalf("first attempt should be blocked: %+v", summary.Attempts[0])
	}
}

func TestRunSecondBlockAdvancesWithoutThirdAttempt(t *testing.T) {
	t.Parallel()

	calls := 0
	blocked := &fakeStage{name: StageCaptionAPI, run: func(context.Context, *Job, *proxy.Session) (StageResult, error) {
		calls++
		return StageResult{Outcome: OutcomeBlocked, Detail: "html_or_consent"}, nil
	}}
	next := &fakeStage{name: StageTimedText, run: func(context.Context, *Job, *proxy.Session) (StageResult, error) {
		return StageResult{Outcome: OutcomeSuccess, Transcript: "fallback"}, nil
	}}

	orch, _, _ := newOrchestrator(t, []Stage{blocked, next}, nil)
	summary := orch.Run(context.Background(), newJob())
	if calls != 2 {
		t.Fatalf("blocked stage gets exactly one retry, saw %d calls", calls)
	}
	if summary.StageWinner != StageTimedText {
		t.Fatalf("expected fallback winner, got %+v", summary)
	}
}

func TestRunAuthErrorRotatesThenRetries(t *testing.T) {
	t.Parallel()

	calls := 0
	stage := &fakeStage{name: StageTimedText, run: func(context.Context, *Job, *proxy.Session) (StageResult, error) {
		calls++
		if calls == 1 {
			return StageResult{}, services.Wrap(services.ErrAuth, StageTimedText, "fetch", "", nil)
		}
		return StageResult{Outcome: OutcomeSuccess, Transcript: "recovered"}, nil
	}}

	orch, _, _ := newOrchestrator(t, []Stage{stage}, nil)
	summary := orch.Run(context.Background(), newJob())
	if !summary.Succeeded() || calls != 2 {
		t.Fatalf("expected retry after auth rotation, calls=%d summary=%+v", calls, summary)
	}
}

func TestRunFatalErrorAbortsJob(t *testing.T) {
	t.Parallel()

	next := &fakeStage{name: StageTimedText, run: func(context.Context, *Job, *proxy.Session) (StageResult, error) {
		t.Error("no stage may run after a fatal error")
		return StageResult{}, nil
	}}
	fatal := &fakeStage{name: StageCaptionAPI, run: func(context.Context, *Job, *proxy.Session) (StageResult, error) {
		return StageResult{}, services.Wrap(services.ErrConfiguration, StageCaptionAPI, "http_client", "", errors.New("bad secret"))
	}}

	orch, _, _ := newOrchestrator(t, []Stage{fatal, next}, nil)
	summary := orch.Run(context.Background(), newJob())
	if summary.Succeeded() {
		t.Fatal("fatal job reported success")
	}
	if !services.IsFatal(summary.Err) {
		t.Fatalf("expected fatal error, got %v", summary.Err)
	}
}

func TestRunNotFoundAdvancesAndCountsAsBreakerSuccess(t *testing.T) {
	t.Parallel()

	notFound := &fakeStage{name: StageCaptionAPI, run: func(context.Context, *Job, *proxy.Session) (StageResult, error) {
		return StageResult{Outcome: OutcomeNotFound, Detail: "no_matching_track"}, nil
	}}
	winner := &fakeStage{name: StageAudioASR, run: func(context.Context, *Job, *proxy.Session) (StageResult, error) {
		return StageResult{Outcome: OutcomeSuccess, Transcript: "spoken"}, nil
	}}

	sessions := newSessions(t)
	breakers := breaker.NewRegistry(nil)
	breakers.Configure(StageCaptionAPI, 1, time.Minute)
	orch := NewOrchestrator(OrchestratorOptions{
		Stages:         []Stage{notFound, winner},
		Sessions:       sessions,
		Breakers:       breakers,
		WatchdogBudget: 5 * time.Second,
	})

	for i := 0; i < 3; i++ {
		summary := orch.Run(context.Background(), newJob())
		if summary.StageWinner != StageAudioASR {
			t.Fatalf("run %d: unexpected summary %+v", i, summary)
		}
	}
	if breakers.State(StageCaptionAPI) != "closed" {
		t.Fatalf("not_found must not trip the breaker, state=%s", breakers.State(StageCaptionAPI))
	}
}

func TestRunBreakerOpenSkipsStage(t *testing.T) {
	t.Parallel()

	calls := 0
	failing := &fakeStage{name: StageBrowserCapture, run: func(context.Context, *Job, *proxy.Session) (StageResult, error) {
		calls++
		return StageResult{Outcome: OutcomeMalformed, Detail: "intercept_parse_error"}, nil
	}}

	sessions := newSessions(t)
	breakers := breaker.NewRegistry(nil)
	breakers.Configure(StageBrowserCapture, 1, time.Hour)
	orch := NewOrchestrator(OrchestratorOptions{
		Stages:         []Stage{failing},
		Sessions:       sessions,
		Breakers:       breakers,
		WatchdogBudget: 5 * time.Second,
	})

	first := orch.Run(context.Background(), newJob())
	if first.Attempts[0].Outcome != OutcomeMalformed {
		t.Fatalf("unexpected first run: %+v", first.Attempts)
	}

	second := orch.Run(context.Background(), newJob())
	if calls != 1 {
		t.Fatalf("open breaker must skip the stage, saw %d calls", calls)
	}
	if second.Attempts[0].Outcome != OutcomeSkipped || second.Attempts[0].Detail != "breaker_open" {
		t.Fatalf("expected skipped attempt, got %+v", second.Attempts[0])
	}
}

func TestRunWatchdogTriggersRescue(t *testing.T) {
	t.Parallel()

	slow := &fakeStage{name: StageCaptionAPI, run: func(ctx context.Context, _ *Job, _ *proxy.Session) (StageResult, error) {
		<-ctx.Done()
		return StageResult{}, services.Wrap(services.ErrTimeout, StageCaptionAPI, "fetch", "", ctx.Err())
	}}
	rescue := &fakeStage{name: StageAudioASR, run: func(ctx context.Context, _ *Job, _ *proxy.Session) (StageResult, error) {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("rescue attempt must carry its own deadline")
		}
		return StageResult{Outcome: OutcomeSuccess, Transcript: "rescued"}, nil
	}}

	sessions := newSessions(t)
	orch := NewOrchestrator(OrchestratorOptions{
		Stages:         []Stage{slow},
		Rescue:         rescue,
		Sessions:       sessions,
		Breakers:       breaker.NewRegistry(nil),
		WatchdogBudget: 50 * time.Millisecond,
		RescueBudget:   time.Second,
	})

	summary := orch.Run(context.Background(), newJob())
	if summary.StageWinner != StageAudioASR || summary.Transcript != "rescued" {
		t.Fatalf("expected rescue win, got %+v", summary)
	}
	last := summary.Attempts[len(summary.Attempts)-1]
	if last.Detail != "rescue" {
		t.Fatalf("rescue attempt not marked: %+v", last)
	}
}

func TestRunRescueSkippedWhenAudioStageAlreadyRan(t *testing.T) {
	t.Parallel()

	asrCalls := 0
	slowASR := &fakeStage{name: StageAudioASR, run: func(ctx context.Context, _ *Job, _ *proxy.Session) (StageResult, error) {
		asrCalls++
		<-ctx.Done()
		return StageResult{}, services.Wrap(services.ErrTimeout, StageAudioASR, "transcribe", "", ctx.Err())
	}}

	sessions := newSessions(t)
	orch := NewOrchestrator(OrchestratorOptions{
		Stages:         []Stage{slowASR},
		Rescue:         slowASR,
		Sessions:       sessions,
		Breakers:       breaker.NewRegistry(nil),
		WatchdogBudget: 50 * time.Millisecond,
		RescueBudget:   time.Second,
	})

	summary := orch.Run(context.Background(), newJob())
	if asrCalls != 1 {
		t.Fatalf("audio stage cut off by the watchdog must not run again, saw %d calls", asrCalls)
	}
	if !errors.Is(summary.Err, services.ErrTimeout) {
		t.Fatalf("expected watchdog timeout, got %v", summary.Err)
	}
	for _, record := range summary.Attempts {
		if record.Detail == "rescue" || strings.HasPrefix(record.Detail, "rescue:") {
			t.Fatalf("unexpected rescue attempt: %+v", record)
		}
	}
}

func TestRunSummaryLogsPerStageAttemptCounts(t *testing.T) {
	t.Parallel()

	blocked := &fakeStage{name: StageCaptionAPI, run: func(context.Context, *Job, *proxy.Session) (StageResult, error) {
		return StageResult{Outcome: OutcomeBlocked, Detail: "html_or_consent"}, nil
	}}
	winner := &fakeStage{name: StageTimedText, run: func(context.Context, *Job, *proxy.Session) (StageResult, error) {
		return StageResult{Outcome: OutcomeSuccess, Transcript: "the words"}, nil
	}}

	var buf bytes.Buffer
	orch := NewOrchestrator(OrchestratorOptions{
		Stages:         []Stage{blocked, winner},
		Sessions:       newSessions(t),
		Breakers:       breaker.NewRegistry(nil),
		Logger:         slog.New(slog.NewJSONHandler(&buf, nil)),
		WatchdogBudget: 5 * time.Second,
	})

	summary := orch.Run(context.Background(), newJob())
	if !summary.Succeeded() {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	out := buf.String()
	if !strings.Contains(out, `"attempts_`+StageCaptionAPI+`":2`) {
		t.Fatalf("summary log misses caption_api attempt count:\n%s", out)
	}
	if !strings.Contains(out, `"attempts_`+StageTimedText+`":1`) {
		t.Fatalf("summary log misses timedtext attempt count:\n%s", out)
	}
}

func TestRunAllStagesExhausted(t *testing.T) {
	t.Parallel()

	miss := &fakeStage{name: StageCaptionAPI, run: func(context.Context, *Job, *proxy.Session) (StageResult, error) {
		return StageResult{Outcome: OutcomeNotFound}, nil
	}}

	orch, _, _ := newOrchestrator(t, []Stage{miss}, nil)
	summary := orch.Run(context.Background(), newJob())
	if summary.Succeeded() {
		t.Fatal("exhausted escalation reported success")
	}
	if !errors.Is(summary.Err, services.ErrNotFound) {
		t.Fatalf("expected not-found error, got %v", summary.Err)
	}
}
