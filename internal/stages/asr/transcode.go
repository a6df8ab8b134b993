package asr

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// extractWAV converts the downloaded audio to the mono 16kHz WAV layout the
// transcription service expects. URL sources get reconnect flags and the
// job's identity headers so a mid-stream drop resumes on the same session.
func extractWAV(ctx context.Context, ffmpegBinary, source, dest, userAgent, cookieHeader string) error {
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
	}
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "5",
		)
		if userAgent != "" {
			args = append(args, "-user_agent", userAgent)
		}
		if cookieHeader != "" {
			// ffmpeg wants raw header lines, CRLF terminated.
			args = append(args, "-headers", "Cookie: "+cookieHeader+"\r\n")
		}
	}
	args = append(args,
		"-i", source,
		"-vn",
		"-sn",
		"-dn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		dest,
	)
	cmd := exec.CommandContext(ctx, ffmpegBinary, args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		excerpt := strings.TrimSpace(string(output))
		if len(excerpt) > stderrExcerptBytes {
			excerpt = excerpt[:stderrExcerptBytes]
		}
		return fmt.Errorf("ffmpeg extract: %w: %s", err, excerpt)
	}
	return nil
}
