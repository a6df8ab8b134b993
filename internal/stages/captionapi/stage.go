// Package captionapi implements the first acquisition stage: listing caption
// tracks through the player API and fetching the best language match.
package captionapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kkdai/youtube/v2"
	"golang.org/x/text/language"

	"github.com/iamadamzc/TLDW-sub001/internal/captions"
	"github.com/iamadamzc/TLDW-sub001/internal/config"
	"github.com/iamadamzc/TLDW-sub001/internal/content"
	"github.com/iamadamzc/TLDW-sub001/internal/logging"
	"github.com/iamadamzc/TLDW-sub001/internal/pipeline"
	"github.com/iamadamzc/TLDW-sub001/internal/proxy"
	"github.com/iamadamzc/TLDW-sub001/internal/services"
)

const maxTrackBodyBytes = 8 << 20

// Stage lists a video's caption tracks and downloads the transcript for the
// closest language match.
type Stage struct {
	cfg    config.Captions
	logger *slog.Logger
}

func New(cfg config.Captions, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Stage{cfg: cfg, logger: logger}
}

func (s *Stage) Name() string { return pipeline.StageCaptionAPI }

func (s *Stage) Run(ctx context.Context, job *pipeline.Job, sess *proxy.Session) (pipeline.StageResult, error) {
	timeout := time.Duration(s.cfg.RequestTimeoutSeconds) * time.Second
	httpClient, err := proxy.NewHTTPClient(sess, job.UserAgent, timeout)
	if err != nil {
		return pipeline.StageResult{}, services.Wrap(services.ErrConfiguration, s.Name(), "http_client", "", err)
	}
	client := youtube.Client{HTTPClient: httpClient}

	video, err := client.GetVideoContext(ctx, job.VideoID)
	if err != nil {
		return s.classifyListingError(ctx, err)
	}

	track, matched := selectTrack(video.CaptionTracks, job.Languages)
	if !matched {
		return pipeline.StageResult{Outcome: pipeline.OutcomeNotFound, Detail: "no_matching_track"}, nil
	}
	s.logger.DebugContext(ctx, "caption track selected",
		logging.String("language", track.LanguageCode),
		logging.String("kind", track.Kind))

	return s.fetchTrack(ctx, httpClient, track)
}

func (s *Stage) fetchTrack(ctx context.Context, httpClient *http.Client, track youtube.CaptionTrack) (pipeline.StageResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, track.BaseURL, nil)
	if err != nil {
		return pipeline.StageResult{}, services.Wrap(services.ErrTransient, s.Name(), "build_request", "", err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return s.classifyTransportError(ctx, "fetch_track", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTrackBodyBytes))
	if err != nil {
		return s.classifyTransportError(ctx, "read_track", err)
	}

	verdict := content.Classify(resp.StatusCode, resp.Header.Get("Content-Type"), body, content.ExpectXML)
	switch verdict.Kind {
	case content.Blocked:
		return pipeline.StageResult{Outcome: pipeline.OutcomeBlocked, Detail: verdict.Reason}, nil
	case content.Malformed:
		return pipeline.StageResult{Outcome: pipeline.OutcomeMalformed, Detail: verdict.Reason}, nil
	}

	transcript, err := captions.ParseTimedTextXML(verdict.Payload)
	if err != nil {
		return pipeline.StageResult{Outcome: pipeline.OutcomeMalformed, Detail: "transcript_parse_error"}, nil
	}
	return pipeline.StageResult{Outcome: pipeline.OutcomeSuccess, Transcript: transcript}, nil
}

// classifyListingError maps player API failures onto pipeline outcomes. A
// listing response that cannot be decoded is treated as a block, not a parse
// bug: upstream swaps the payload for HTML or nothing at all when it decides
// to challenge the client.
func (s *Stage) classifyListingError(ctx context.Context, err error) (pipeline.StageResult, error) {
	if ctx.Err() != nil {
		return pipeline.StageResult{}, services.Wrap(services.ErrTimeout, s.Name(), "list_tracks", "", ctx.Err())
	}

	var playability *youtube.ErrPlayabiltyStatus
	if errors.As(err, &playability) {
		reason := strings.ToLower(playability.Reason)
		if strings.Contains(reason, "sign in") || strings.Contains(reason, "bot") ||
			strings.EqualFold(playability.Status, "LOGIN_REQUIRED") {
			return pipeline.StageResult{Outcome: pipeline.OutcomeBlocked, Detail: "playability_" + strings.ToLower(playability.Status)}, nil
		}
		return pipeline.StageResult{Outcome: pipeline.OutcomeNotFound, Detail: "playability_" + strings.ToLower(playability.Status)}, nil
	}

	var status youtube.ErrUnexpectedStatusCode
	if errors.As(err, &status) {
		switch int(status) {
		case http.StatusProxyAuthRequired, http.StatusUnauthorized:
			return pipeline.StageResult{}, services.Wrap(services.ErrAuth, s.Name(), "list_tracks", fmt.Sprintf("status %d", int(status)), err)
		case http.StatusNotFound, http.StatusGone:
			return pipeline.StageResult{Outcome: pipeline.OutcomeNotFound, Detail: fmt.Sprintf("status_%d", int(status))}, nil
		default:
			return pipeline.StageResult{Outcome: pipeline.OutcomeBlocked, Detail: fmt.Sprintf("status_%d", int(status))}, nil
		}
	}

	if errors.Is(err, youtube.ErrVideoIDMinLength) || errors.Is(err, youtube.ErrInvalidCharactersInVideoID) {
		return pipeline.StageResult{Outcome: pipeline.OutcomeNotFound, Detail: "invalid_video_id"}, nil
	}

	message := strings.ToLower(err.Error())
	if strings.Contains(message, "unexpected end of json") || strings.Contains(message, "invalid character") ||
		strings.Contains(message, "cannot unmarshal") {
		return pipeline.StageResult{Outcome: pipeline.OutcomeBlocked, Detail: "listing_undecodable"}, nil
	}
	return s.classifyTransportError(ctx, "list_tracks", err)
}

func (s *Stage) classifyTransportError(ctx context.Context, operation string, err error) (pipeline.StageResult, error) {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return pipeline.StageResult{}, services.Wrap(services.ErrTimeout, s.Name(), operation, "", err)
	}
	message := strings.ToLower(err.Error())
	if strings.Contains(message, "proxy authentication required") || strings.Contains(message, "407") {
		return pipeline.StageResult{}, services.Wrap(services.ErrAuth, s.Name(), operation, "proxy rejected credentials", err)
	}
	return pipeline.StageResult{}, services.Wrap(services.ErrTransient, s.Name(), operation, "", err)
}

// selectTrack picks the caption track closest to the job's language
// preferences. Manually authored tracks beat auto-generated ones at equal
// language distance.
func selectTrack(tracks []youtube.CaptionTrack, preferred []string) (youtube.CaptionTrack, bool) {
	if len(tracks) == 0 {
		return youtube.CaptionTrack{}, false
	}
	if len(preferred) == 0 {
		preferred = []string{"en"}
	}

	supported := make([]language.Tag, 0, len(tracks))
	indexes := make([]int, 0, len(tracks))
	for i, track := range tracks {
		tag, err := language.Parse(track.LanguageCode)
		if err != nil {
			continue
		}
		supported = append(supported, tag)
		indexes = append(indexes, i)
	}
	if len(supported) == 0 {
		return youtube.CaptionTrack{}, false
	}

	matcher := language.NewMatcher(supported)
	desired := make([]language.Tag, 0, len(preferred))
	for _, p := range preferred {
		if tag, err := language.Parse(p); err == nil {
			desired = append(desired, tag)
		}
	}
	_, idx, confidence := matcher.Match(desired...)
	if confidence == language.No {
		return youtube.CaptionTrack{}, false
	}
	chosen := tracks[indexes[idx]]

	// Upgrade to a manual track in the same language when the matcher landed
	// on an auto-generated one.
	if chosen.Kind == "asr" {
		for _, track := range tracks {
			if track.Kind != "asr" && sameBase(track.LanguageCode, chosen.LanguageCode) {
				return track, true
			}
		}
	}
	return chosen, true
}

func sameBase(a, b string) bool {
	base := func(code string) string {
		if idx := strings.IndexByte(code, '-'); idx >= 0 {
			return code[:idx]
		}
		return code
	}
	return strings.EqualFold(base(a), base(b))
}
