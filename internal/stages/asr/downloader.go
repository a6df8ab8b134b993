package asr

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/iamadamzc/TLDW-sub001/internal/logging"
	"github.com/iamadamzc/TLDW-sub001/internal/pipeline"
	"github.com/iamadamzc/TLDW-sub001/internal/proxy"
	"github.com/iamadamzc/TLDW-sub001/internal/services"
)

const stderrExcerptBytes = 2048

// cookieFailureSignatures mark downloader stderr output where the provided
// cookies made things worse, not better. The retry drops them.
var cookieFailureSignatures = []string{
	"cookies are no longer valid",
	"sign in to confirm",
	"unable to extract",
	"http error 403",
}

var blockedSignatures = []string{
	"http error 403",
	"http error 429",
	"sign in to confirm",
	"confirm you're not a bot",
}

var notFoundSignatures = []string{
	"video unavailable",
	"this video is not available",
	"video has been removed",
	"does not exist",
}

// downloadError carries the classified stderr of a failed download attempt.
type downloadError struct {
	outcome pipeline.Outcome
	detail  string
}

func (e *downloadError) Error() string { return string(e.outcome) + ": " + e.detail }

// downloader wraps yt-dlp. All traffic goes through the job's proxy session
// with the job's user agent so the download presents the same identity the
// earlier stages did.
type downloader struct {
	binary  string
	logger  *slog.Logger
	maskTok string
}

// probeDuration asks yt-dlp for the video duration in seconds without
// downloading anything. A zero return with nil error means the duration was
// unavailable; the caller decides whether to proceed.
func (d *downloader) probeDuration(ctx context.Context, videoID, userAgent string, sess *proxy.Session) (float64, error) {
	args := []string{
		"--print", "duration",
		"--skip-download",
		"--no-playlist",
		"--no-warnings",
		"--proxy", sess.URL,
		"--user-agent", userAgent,
		watchURL(videoID),
	}
	cmd := exec.CommandContext(ctx, d.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if classified := classifyStderr(stderr.String()); classified != nil {
			return 0, classified
		}
		return 0, services.Wrap(services.ErrExternalTool, pipeline.StageAudioASR, "probe_duration",
			d.maskStderr(stderr.String()), err)
	}
	raw := strings.TrimSpace(stdout.String())
	if raw == "" || raw == "NA" {
		return 0, nil
	}
	duration, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, nil
	}
	return duration, nil
}

// download fetches the best audio stream to destDir. The first attempt uses
// the job's cookie material when present; stale-cookie failures trigger one
// retry without it.
func (d *downloader) download(ctx context.Context, videoID, userAgent, cookieMaterial string, sess *proxy.Session, destDir string) (string, error) {
	dest := filepath.Join(destDir, "audio.m4a")

	var cookieFile string
	if cookieMaterial != "" {
		path := filepath.Join(destDir, "cookies.txt")
		if err := os.WriteFile(path, []byte(cookieMaterial), 0o600); err != nil {
			return "", services.Wrap(services.ErrConfiguration, pipeline.StageAudioASR, "write_cookies", "", err)
		}
		cookieFile = path
		defer os.Remove(path)
	}

	stderr, err := d.runAttempt(ctx, videoID, userAgent, sess, dest, cookieFile)
	if err == nil {
		return dest, nil
	}
	if ctx.Err() != nil {
		return "", services.Wrap(services.ErrTimeout, pipeline.StageAudioASR, "download", "", ctx.Err())
	}

	if cookieFile != "" && matchesAny(stderr, cookieFailureSignatures) {
		d.logger.InfoContext(ctx, "retrying download without cookie material",
			logging.String("reason", firstMatch(stderr, cookieFailureSignatures)))
		stderr, err = d.runAttempt(ctx, videoID, userAgent, sess, dest, "")
		if err == nil {
			return dest, nil
		}
		if ctx.Err() != nil {
			return "", services.Wrap(services.ErrTimeout, pipeline.StageAudioASR, "download", "", ctx.Err())
		}
	}

	if classified := classifyStderr(stderr); classified != nil {
		return "", classified
	}
	return "", services.Wrap(services.ErrExternalTool, pipeline.StageAudioASR, "download", d.maskStderr(stderr), err)
}

func (d *downloader) runAttempt(ctx context.Context, videoID, userAgent string, sess *proxy.Session, dest, cookieFile string) (string, error) {
	args := []string{
		"-f", "bestaudio/best",
		"--no-playlist",
		"--no-warnings",
		"--no-progress",
		"--proxy", sess.URL,
		"--user-agent", userAgent,
		"-o", dest,
	}
	if cookieFile != "" {
		args = append(args, "--cookies", cookieFile)
	}
	args = append(args, watchURL(videoID))

	cmd := exec.CommandContext(ctx, d.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.String(), err
}

// maskStderr bounds the excerpt and strips the proxy credential that yt-dlp
// may echo back in connection errors.
func (d *downloader) maskStderr(stderr string) string {
	if d.maskTok != "" {
		stderr = strings.ReplaceAll(stderr, d.maskTok, "***")
	}
	stderr = strings.TrimSpace(stderr)
	if len(stderr) > stderrExcerptBytes {
		stderr = stderr[:stderrExcerptBytes]
	}
	return stderr
}

func classifyStderr(stderr string) error {
	lowered := strings.ToLower(stderr)
	if strings.Contains(lowered, "407") || strings.Contains(lowered, "proxy authentication") {
		return services.Wrap(services.ErrAuth, pipeline.StageAudioASR, "download", "proxy rejected credentials", nil)
	}
	if matchesAny(lowered, notFoundSignatures) {
		return &downloadError{outcome: pipeline.OutcomeNotFound, detail: "video_unavailable"}
	}
	if matchesAny(lowered, blockedSignatures) {
		return &downloadError{outcome: pipeline.OutcomeBlocked, detail: "download_" + sanitizeDetail(firstMatch(lowered, blockedSignatures))}
	}
	return nil
}

func matchesAny(text string, signatures []string) bool {
	lowered := strings.ToLower(text)
	for _, sig := range signatures {
		if strings.Contains(lowered, sig) {
			return true
		}
	}
	return false
}

func firstMatch(text string, signatures []string) string {
	lowered := strings.ToLower(text)
	for _, sig := range signatures {
		if strings.Contains(lowered, sig) {
			return sig
		}
	}
	return ""
}

func sanitizeDetail(signature string) string {
	signature = strings.ReplaceAll(signature, " ", "_")
	return strings.ReplaceAll(signature, "'", "")
}

func watchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}

// asDownloadError unwraps the classified download outcome, if any.
func asDownloadError(err error) (*downloadError, bool) {
	var de *downloadError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
