package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/iamadamzc/TLDW-sub001/internal/breaker"
	"github.com/iamadamzc/TLDW-sub001/internal/proxy"
	"github.com/iamadamzc/TLDW-sub001/internal/store"
)

func newService(t *testing.T, stage Stage) *Service {
	t.Helper()
	cache, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = cache.Close() })

	orch := NewOrchestrator(OrchestratorOptions{
		Stages:         []Stage{stage},
		Sessions:       newSessions(t),
		Breakers:       breaker.NewRegistry(nil),
		WatchdogBudget: 5 * time.Second,
	})
	svc := NewService(ServiceOptions{
		Orchestrator: orch,
		Cache:        cache,
		WorkDir:      t.TempDir(),
	})
	t.Cleanup(svc.Close)
	return svc
}

func TestServiceSubmitAndAwait(t *testing.T) {
	t.Parallel()

	stage := &fakeStage{name: StageCaptionAPI, run: func(_ context.Context, job *Job, _ *proxy.Session) (StageResult, error) {
		return StageResult{Outcome: OutcomeSuccess, Transcript: "words for " + job.VideoID}, nil
	}}
	svc := newService(t, stage)

	status, err := svc.Submit(context.Background(), Request{Video: "https://youtu.be/dQw4w9WgXcQ"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if status.VideoID != "dQw4w9WgXcQ" {
		t.Fatalf("video id not extracted: %+v", status)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	summary, err := svc.Await(ctx, status.JobID)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if !summary.Succeeded() || summary.Transcript != "words for dQw4w9WgXcQ" {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	final, ok := svc.Status(status.JobID)
	if !ok || final.State != StateSucceeded {
		t.Fatalf("unexpected final status: %+v", final)
	}
}

func TestServiceServesRepeatRequestFromCache(t *testing.T) {
	t.Parallel()

	calls := 0
	stage := &fakeStage{name: StageCaptionAPI, run: func(context.Context, *Job, *proxy.Session) (StageResult, error) {
		calls++
		return StageResult{Outcome: OutcomeSuccess, Transcript: "cached words"}, nil
	}}
	svc := newService(t, stage)
	ctx := context.Background()

	first, err := svc.Submit(ctx, Request{Video: "dQw4w9WgXcQ"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := svc.Await(ctx, first.JobID); err != nil {
		t.Fatalf("Await: %v", err)
	}

	second, err := svc.Submit(ctx, Request{Video: "dQw4w9WgXcQ"})
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if second.State != StateCached {
		t.Fatalf("expected cached state, got %+v", second)
	}
	summary, err := svc.Await(ctx, second.JobID)
	if err != nil {
		t.Fatalf("Await cached: %v", err)
	}
	if summary.Transcript != "cached words" {
		t.Fatalf("cached transcript lost: %+v", summary)
	}
	if calls != 1 {
		t.Fatalf("pipeline ran %d times for a cached video", calls)
	}
}

func TestServiceDropsOldestDeliveredJobs(t *testing.T) {
	t.Parallel()

	stage := &fakeStage{name: StageCaptionAPI, run: func(_ context.Context, job *Job, _ *proxy.Session) (StageResult, error) {
		return StageResult{Outcome: OutcomeSuccess, Transcript: "words for " + job.VideoID}, nil
	}}
	orch := NewOrchestrator(OrchestratorOptions{
		Stages:         []Stage{stage},
		Sessions:       newSessions(t),
		Breakers:       breaker.NewRegistry(nil),
		WatchdogBudget: 5 * time.Second,
	})
	svc := NewService(ServiceOptions{
		Orchestrator:    orch,
		WorkDir:         t.TempDir(),
		MaxFinishedJobs: 2,
	})
	t.Cleanup(svc.Close)

	ctx := context.Background()
	videos := []string{"aaaaaaaaaaa", "bbbbbbbbbbb", "ccccccccccc", "ddddddddddd"}
	jobIDs := make([]string, 0, len(videos))
	for _, video := range videos {
		status, err := svc.Submit(ctx, Request{Video: video})
		if err != nil {
			t.Fatalf("Submit %s: %v", video, err)
		}
		if _, err := svc.Await(ctx, status.JobID); err != nil {
			t.Fatalf("Await %s: %v", video, err)
		}
		jobIDs = append(jobIDs, status.JobID)
	}

	if got := len(svc.List()); got != 2 {
		t.Fatalf("delivered jobs must be bounded, registry holds %d", got)
	}
	if _, ok := svc.Status(jobIDs[0]); ok {
		t.Fatal("oldest delivered job must be evicted")
	}
	if _, ok := svc.Status(jobIDs[len(jobIDs)-1]); !ok {
		t.Fatal("newest delivered job must stay visible")
	}
}

func TestServiceRejectsInvalidVideo(t *testing.T) {
	t.Parallel()

	stage := &fakeStage{name: StageCaptionAPI, run: func(context.Context, *Job, *proxy.Session) (StageResult, error) {
		return StageResult{Outcome: OutcomeSuccess, Transcript: "x"}, nil
	}}
	svc := newService(t, stage)

	if _, err := svc.Submit(context.Background(), Request{Video: "nope"}); err == nil {
		t.Fatal("expected error for invalid video input")
	}
}

func TestServiceAwaitUnknownJob(t *testing.T) {
	t.Parallel()

	stage := &fakeStage{name: StageCaptionAPI, run: func(context.Context, *Job, *proxy.Session) (StageResult, error) {
		return StageResult{Outcome: OutcomeSuccess, Transcript: "x"}, nil
	}}
	svc := newService(t, stage)

	if _, err := svc.Await(context.Background(), "no-such-job"); err == nil {
		t.Fatal("expected error for unknown job id")
	}
}
