package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "transcripts.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	record := Record{
		VideoID:     "dQw4w9WgXcQ",
		Transcript:  "never gonna give you up",
		StageWinner: "caption_api",
		Languages:   []string{"en", "en-GB"},
	}
	if err := s.Put(ctx, record); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := s.Get(ctx, record.VideoID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("record not found after Put")
	}
	if got.Transcript != record.Transcript || got.StageWinner != record.StageWinner {
		t.Fatalf("unexpected record: %+v", got)
	}
	if len(got.Languages) != 2 || got.Languages[0] != "en" {
		t.Fatalf("languages mangled: %v", got.Languages)
	}
}

func TestGetMissingVideo(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	_, ok, err := s.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("missing video reported as cached")
	}
}

func TestPutReplacesExistingRecord(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, Record{VideoID: "v1", Transcript: "first", StageWinner: "timedtext"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, Record{VideoID: "v1", Transcript: "second", StageWinner: "audio_asr"}); err != nil {
		t.Fatalf("Put replace: %v", err)
	}

	got, ok, err := s.Get(ctx, "v1")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.Transcript != "second" || got.StageWinner != "audio_asr" {
		t.Fatalf("replace did not stick: %+v", got)
	}
	count, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row, got %d", count)
	}
}

func TestPruneOlderThan(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	if err := s.Put(ctx, Record{VideoID: "old", Transcript: "stale", StageWinner: "timedtext", CreatedAt: old}); err != nil {
		t.Fatalf("Put old: %v", err)
	}
	if err := s.Put(ctx, Record{VideoID: "new", Transcript: "fresh", StageWinner: "timedtext"}); err != nil {
		t.Fatalf("Put new: %v", err)
	}

	removed, err := s.PruneOlderThan(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PruneOlderThan: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 pruned row, got %d", removed)
	}
	if _, ok, _ := s.Get(ctx, "new"); !ok {
		t.Fatal("fresh record pruned")
	}
}

func TestPutValidatesInput(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	if err := s.Put(context.Background(), Record{VideoID: "", Transcript: "x"}); err == nil {
		t.Fatal("expected error for empty video id")
	}
	if err := s.Put(context.Background(), Record{VideoID: "v", Transcript: ""}); err == nil {
		t.Fatal("expected error for empty transcript")
	}
}
