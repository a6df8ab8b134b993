package services

import (
	"errors"
	"testing"
)

func TestWrapTagsMarker(t *testing.T) {
	t.Parallel()

	err := Wrap(ErrAuth, "timedtext", "fetch", "proxy rejected credentials", nil)
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
	if errors.Is(err, ErrConfiguration) {
		t.Fatalf("unexpected configuration classification: %v", err)
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	t.Parallel()

	err := Wrap(nil, "asr", "download", "", errors.New("boom"))
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
}

func TestIsFatal(t *testing.T) {
	t.Parallel()

	fatal := Wrap(ErrConfiguration, "proxy", "validate secret", "password pre-encoded", nil)
	if !IsFatal(fatal) {
		t.Fatal("configuration errors must be fatal")
	}
	if IsFatal(Wrap(ErrTimeout, "browser", "navigate", "", nil)) {
		t.Fatal("timeouts must not be fatal")
	}
}

func TestDetailsStripsMarkerPrefix(t *testing.T) {
	t.Parallel()

	err := Wrap(ErrExternalTool, "asr", "probe", "no audio stream", nil)
	if got := Details(err); got != "asr: probe: no audio stream" {
		t.Fatalf("unexpected details: %q", got)
	}
	if Details(nil) != "" {
		t.Fatal("nil error should produce empty details")
	}
}
