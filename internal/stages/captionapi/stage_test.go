package captionapi

import (
	"context"
	"errors"
	"testing"

	"github.com/kkdai/youtube/v2"

	"github.com/iamadamzc/TLDW-sub001/internal/config"
	"github.com/iamadamzc/TLDW-sub001/internal/pipeline"
	"github.com/iamadamzc/TLDW-sub001/internal/services"
)

func stageConfig() config.Captions {
	return config.Captions{RequestTimeoutSeconds: 10}
}

func TestSelectTrackPrefersManualOverAutoGenerated(t *testing.T) {
	t.Parallel()

	tracks := []youtube.CaptionTrack{
		{LanguageCode: "en", Kind: "asr", BaseURL: "https://example.invalid/asr"},
		{LanguageCode: "en-US", BaseURL: "https://example.invalid/manual"},
	}
	track, ok := selectTrack(tracks, []string{"en"})
	if !ok {
		t.Fatal("expected a match")
	}
	if track.Kind == "asr" {
		t.Fatalf("expected manual track, got %+v", track)
	}
}

func TestSelectTrackFallsBackAcrossRegions(t *testing.T) {
	t.Parallel()

	tracks := []youtube.CaptionTrack{
		{LanguageCode: "de", BaseURL: "https://example.invalid/de"},
		{LanguageCode: "en-GB", BaseURL: "https://example.invalid/en-gb"},
	}
	track, ok := selectTrack(tracks, []string{"en-US", "de"})
	if !ok {
		t.Fatal("expected a match")
	}
	if track.LanguageCode != "en-GB" {
		t.Fatalf("expected en-GB track, got %q", track.LanguageCode)
	}
}

func TestSelectTrackNoTracks(t *testing.T) {
	t.Parallel()

	if _, ok := selectTrack(nil, []string{"en"}); ok {
		t.Fatal("expected no match for empty track list")
	}
}

func TestClassifyListingErrorLoginRequiredIsBlocked(t *testing.T) {
	t.Parallel()

	stage := New(stageConfig(), nil)
	result, err := stage.classifyListingError(context.Background(), &youtube.ErrPlayabiltyStatus{
		Status: "LOGIN_REQUIRED",
		Reason: "Sign in to confirm you're not a bot",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != pipeline.OutcomeBlocked {
		t.Fatalf("expected blocked, got %s (%s)", result.Outcome, result.Detail)
	}
}

func TestClassifyListingErrorUnavailableIsNotFound(t *testing.T) {
	t.Parallel()

	stage := New(stageConfig(), nil)
	result, err := stage.classifyListingError(context.Background(), &youtube.ErrPlayabiltyStatus{
		Status: "ERROR",
		Reason: "Video unavailable",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != pipeline.OutcomeNotFound {
		t.Fatalf("expected not_found, got %s", result.Outcome)
	}
}

func TestClassifyListingErrorProxyAuth(t *testing.T) {
	t.Parallel()

	stage := New(stageConfig(), nil)
	_, err := stage.classifyListingError(context.Background(), youtube.ErrUnexpectedStatusCode(407))
	if !errors.Is(err, services.ErrAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestClassifyListingErrorUndecodableBodyIsBlocked(t *testing.T) {
	t.Parallel()

	stage := New(stageConfig(), nil)
	result, err := stage.classifyListingError(context.Background(), errors.New("unexpected end of JSON input"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != pipeline.OutcomeBlocked || result.Detail != "listing_undecodable" {
		t.Fatalf("expected blocked/listing_undecodable, got %s (%s)", result.Outcome, result.Detail)
	}
}
