// Package asr implements the last acquisition stage: download the audio,
// normalize it, and send it to a remote speech-to-text service.
package asr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/iamadamzc/TLDW-sub001/internal/config"
	"github.com/iamadamzc/TLDW-sub001/internal/logging"
	"github.com/iamadamzc/TLDW-sub001/internal/media/ffprobe"
	"github.com/iamadamzc/TLDW-sub001/internal/pipeline"
	"github.com/iamadamzc/TLDW-sub001/internal/proxy"
	"github.com/iamadamzc/TLDW-sub001/internal/services"
)

// mediaFetcher probes and downloads a video's audio track through the job's
// proxy session.
type mediaFetcher interface {
	probeDuration(ctx context.Context, videoID, userAgent string, sess *proxy.Session) (float64, error)
	download(ctx context.Context, videoID, userAgent, cookieMaterial string, sess *proxy.Session, destDir string) (string, error)
}

// Stage turns audio into a transcript when no caption source produced one.
type Stage struct {
	cfg         config.ASR
	logger      *slog.Logger
	transcriber *Transcriber
	newFetcher  func(maskTok string) mediaFetcher
}

func New(cfg config.ASR, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Stage{
		cfg:         cfg,
		logger:      logger,
		transcriber: NewTranscriber(cfg.Transcriber),
	}
	s.newFetcher = func(maskTok string) mediaFetcher {
		return &downloader{binary: s.cfg.YTDLPBinary, logger: s.logger, maskTok: maskTok}
	}
	return s
}

func (s *Stage) Name() string { return pipeline.StageAudioASR }

func (s *Stage) Run(ctx context.Context, job *pipeline.Job, sess *proxy.Session) (pipeline.StageResult, error) {
	dl := s.newFetcher(proxyPassword(sess.URL))

	duration, err := dl.probeDuration(ctx, job.VideoID, job.UserAgent, sess)
	if err != nil {
		return s.resolveDownloadError(ctx, err)
	}
	ceiling := float64(s.cfg.MaxDurationMinutes) * 60
	if ceiling > 0 && !math.IsNaN(duration) && duration > ceiling {
		return pipeline.StageResult{
			Outcome: pipeline.OutcomeSkipped,
			Detail:  fmt.Sprintf("duration_%.0fs_exceeds_ceiling", duration),
		}, nil
	}

	workDir := filepath.Join(job.WorkDir, "asr")
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return pipeline.StageResult{}, services.Wrap(services.ErrConfiguration, s.Name(), "workdir", "", err)
	}
	defer os.RemoveAll(workDir)

	downloadCtx := ctx
	if s.cfg.DownloadTimeoutSeconds > 0 {
		var cancel context.CancelFunc
		downloadCtx, cancel = context.WithTimeout(ctx, time.Duration(s.cfg.DownloadTimeoutSeconds)*time.Second)
		defer cancel()
	}
	audioPath, err := dl.download(downloadCtx, job.VideoID, job.UserAgent, job.CookieMaterial, sess, workDir)
	if err != nil {
		return s.resolveDownloadError(ctx, err)
	}

	info, err := os.Stat(audioPath)
	if err != nil {
		return pipeline.StageResult{}, services.Wrap(services.ErrExternalTool, s.Name(), "stat_audio", "", err)
	}
	if info.Size() < s.cfg.MinAudioBytes {
		return pipeline.StageResult{
			Outcome: pipeline.OutcomeMalformed,
			Detail:  fmt.Sprintf("tiny_file_%d_bytes", info.Size()),
		}, nil
	}

	probe, err := ffprobe.Inspect(ctx, s.cfg.FFprobeBinary, audioPath)
	if err != nil {
		return pipeline.StageResult{}, services.Wrap(services.ErrExternalTool, s.Name(), "inspect_audio", "", err)
	}
	if probe.AudioStreamCount() == 0 {
		return pipeline.StageResult{Outcome: pipeline.OutcomeMalformed, Detail: "no_audio_stream"}, nil
	}

	wavPath := filepath.Join(workDir, "audio.wav")
	if err := extractWAV(ctx, s.cfg.FFmpegBinary, audioPath, wavPath, "", ""); err != nil {
		if ctx.Err() != nil {
			return pipeline.StageResult{}, services.Wrap(services.ErrTimeout, s.Name(), "transcode", "", ctx.Err())
		}
		return pipeline.StageResult{}, services.Wrap(services.ErrExternalTool, s.Name(), "transcode", "", err)
	}

	s.logger.DebugContext(ctx, "audio prepared for transcription",
		logging.Int64("audio_bytes", info.Size()),
		logging.Duration("media_duration", time.Duration(probe.DurationSeconds()*float64(time.Second))))

	transcript, err := s.transcriber.Transcribe(ctx, wavPath)
	if err != nil {
		if ctx.Err() != nil {
			return pipeline.StageResult{}, services.Wrap(services.ErrTimeout, s.Name(), "transcribe", "", ctx.Err())
		}
		return pipeline.StageResult{}, services.Wrap(services.ErrExternalTool, s.Name(), "transcribe", "", err)
	}
	return pipeline.StageResult{Outcome: pipeline.OutcomeSuccess, Transcript: transcript}, nil
}

// resolveDownloadError converts classified downloader failures into stage
// outcomes while letting sentinel-tagged errors flow to the orchestrator.
func (s *Stage) resolveDownloadError(ctx context.Context, err error) (pipeline.StageResult, error) {
	if de, ok := asDownloadError(err); ok {
		return pipeline.StageResult{Outcome: de.outcome, Detail: de.detail}, nil
	}
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return pipeline.StageResult{}, services.Wrap(services.ErrTimeout, s.Name(), "download", "", err)
	}
	return pipeline.StageResult{}, err
}

func proxyPassword(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.User == nil {
		return ""
	}
	password, _ := parsed.User.Password()
	return password
}
