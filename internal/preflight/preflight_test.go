package preflight

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/iamadamzc/TLDW-sub001/internal/config"
)

func TestCheckDirectoryAccess(t *testing.T) {
	t.Parallel()

	result := CheckDirectoryAccess("Work directory", filepath.Join(t.TempDir(), "nested", "work"))
	if !result.Passed {
		t.Fatalf("expected pass, got %+v", result)
	}

	result = CheckDirectoryAccess("Work directory", "")
	if result.Passed || result.Detail != "not configured" {
		t.Fatalf("expected not-configured failure, got %+v", result)
	}
}

func TestCheckProxySecretRejectsPreEncodedPassword(t *testing.T) {
	t.Parallel()

	result := CheckProxySecret(config.Proxy{
		EndpointHost: "pr.test.invalid",
		Port:         7777,
		CustomerID:   "acme",
		Password:     "already%20encoded",
	})
	if result.Passed {
		t.Fatal("pre-encoded password must fail preflight")
	}
	if strings.Contains(result.Detail, "already%20encoded") {
		t.Fatalf("check detail leaks the password: %s", result.Detail)
	}
}

func TestCheckProxySecretAcceptsPlainPassword(t *testing.T) {
	t.Parallel()

	result := CheckProxySecret(config.Proxy{
		EndpointHost: "pr.test.invalid",
		Port:         7777,
		CustomerID:   "acme",
		Password:     "plain password with spaces",
	})
	if !result.Passed {
		t.Fatalf("expected pass, got %+v", result)
	}
}

func TestCheckTranscriber(t *testing.T) {
	t.Parallel()

	if result := CheckTranscriber(config.Transcriber{}); result.Passed {
		t.Fatal("unconfigured transcriber must fail")
	}
	result := CheckTranscriber(config.Transcriber{BaseURL: "https://stt.example", APIKey: "k"})
	if !result.Passed {
		t.Fatalf("expected pass, got %+v", result)
	}
}

func TestRunAllAggregates(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Paths.WorkDir = t.TempDir()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Proxy.EndpointHost = "pr.test.invalid"
	cfg.Proxy.Port = 7777
	cfg.Proxy.CustomerID = "acme"
	cfg.Proxy.Password = "plain"
	cfg.ASR.Transcriber.BaseURL = "https://stt.example"
	cfg.ASR.Transcriber.APIKey = "k"

	results := RunAll(context.Background(), &cfg)
	if len(results) == 0 {
		t.Fatal("expected results")
	}
	names := make(map[string]bool, len(results))
	for _, result := range results {
		names[result.Name] = true
	}
	for _, want := range []string{"Work directory", "Proxy secret", "Transcriber", "yt-dlp", "Chrome"} {
		if !names[want] {
			t.Fatalf("missing check %q in %v", want, results)
		}
	}
}
