// Package preflight validates the operator's environment before the daemon
// accepts work: required binaries, directory access, the proxy secret, and
// the transcription service credentials.
package preflight

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/iamadamzc/TLDW-sub001/internal/config"
	"github.com/iamadamzc/TLDW-sub001/internal/deps"
	"github.com/iamadamzc/TLDW-sub001/internal/proxy"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	_ = ctx

	var results []Result

	results = append(results, CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir))
	results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))
	results = append(results, CheckProxySecret(cfg.Proxy))
	results = append(results, CheckTranscriber(cfg.ASR.Transcriber))

	for _, status := range deps.CheckBinaries(deps.Requirements(
		cfg.ASR.YTDLPBinary,
		cfg.ASR.FFmpegBinary,
		cfg.ASR.FFprobeBinary,
		cfg.Browser.ChromeBinary,
	)) {
		result := Result{Name: status.Name, Passed: status.Available, Detail: status.Detail}
		if !status.Available && status.Optional {
			result.Passed = true
			result.Detail = "optional: " + status.Detail
		}
		results = append(results, result)
	}

	return results
}

// Passed reports whether every check succeeded.
func Passed(results []Result) bool {
	for _, result := range results {
		if !result.Passed {
			return false
		}
	}
	return true
}

// CheckDirectoryAccess verifies the directory exists (creating it when
// absent) and is writable.
func CheckDirectoryAccess(name, dir string) Result {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return Result{Name: name, Passed: false, Detail: "not configured"}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{Name: name, Passed: false, Detail: err.Error()}
	}
	probe := filepath.Join(dir, ".preflight")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return Result{Name: name, Passed: false, Detail: fmt.Sprintf("not writable: %v", err)}
	}
	_ = os.Remove(probe)
	return Result{Name: name, Passed: true}
}

// CheckProxySecret validates the proxy credential without ever echoing it.
// A pre-encoded password is the classic double-encoding foot-gun and is
// rejected outright.
func CheckProxySecret(cfg config.Proxy) Result {
	secret := proxy.Secret{
		EndpointHost: cfg.EndpointHost,
		Port:         cfg.Port,
		CustomerID:   cfg.CustomerID,
		Password:     cfg.Password,
		GeoEnabled:   cfg.GeoEnabled,
		Country:      cfg.Country,
	}
	if err := secret.Validate(); err != nil {
		return Result{Name: "Proxy secret", Passed: false, Detail: sanitizeSecretError(err, cfg.Password)}
	}
	return Result{Name: "Proxy secret", Passed: true}
}

// CheckTranscriber verifies the speech-to-text service is configured.
func CheckTranscriber(cfg config.Transcriber) Result {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return Result{Name: "Transcriber", Passed: false, Detail: "base_url not configured"}
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return Result{Name: "Transcriber", Passed: false, Detail: "api_key not configured"}
	}
	return Result{Name: "Transcriber", Passed: true}
}

// sanitizeSecretError makes sure a validation message never carries the
// password value itself.
func sanitizeSecretError(err error, password string) string {
	message := err.Error()
	if password != "" {
		message = strings.ReplaceAll(message, password, "***")
	}
	return message
}
