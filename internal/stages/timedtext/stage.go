// Package timedtext implements the second acquisition stage: direct fetches
// against the public timedtext endpoints, sweeping endpoint and format
// variants with bounded retries.
package timedtext

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/iamadamzc/TLDW-sub001/internal/captions"
	"github.com/iamadamzc/TLDW-sub001/internal/config"
	"github.com/iamadamzc/TLDW-sub001/internal/content"
	"github.com/iamadamzc/TLDW-sub001/internal/logging"
	"github.com/iamadamzc/TLDW-sub001/internal/pipeline"
	"github.com/iamadamzc/TLDW-sub001/internal/proxy"
	"github.com/iamadamzc/TLDW-sub001/internal/services"
)

const maxBodyBytes = 8 << 20

// variant is one endpoint and format combination to try. Variants are swept
// in order within an attempt; a blocking verdict aborts the sweep.
type variant struct {
	url    string
	format content.Format
}

// Stage fetches caption payloads straight from the timedtext endpoints.
type Stage struct {
	cfg    config.TimedText
	logger *slog.Logger
}

func New(cfg config.TimedText, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Stage{cfg: cfg, logger: logger}
}

func (s *Stage) Name() string { return pipeline.StageTimedText }

func (s *Stage) Run(ctx context.Context, job *pipeline.Job, sess *proxy.Session) (pipeline.StageResult, error) {
	timeout := time.Duration(s.cfg.RequestTimeoutSeconds) * time.Second
	httpClient, err := proxy.NewHTTPClient(sess, job.UserAgent, timeout)
	if err != nil {
		return pipeline.StageResult{}, services.Wrap(services.ErrConfiguration, s.Name(), "http_client", "", err)
	}

	variants := buildVariants(job.VideoID, job.Languages)

	var result pipeline.StageResult
	sweep := func() error {
		res, sweepErr := s.trySweep(ctx, httpClient, variants)
		if sweepErr != nil {
			if errors.Is(sweepErr, services.ErrTransient) {
				return sweepErr
			}
			return backoff.Permanent(sweepErr)
		}
		result = res
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Duration(s.cfg.BackoffInitialMS) * time.Millisecond
	policy.MaxInterval = time.Duration(s.cfg.BackoffMaxMS) * time.Millisecond
	policy.MaxElapsedTime = 0

	attempts := s.cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}
	err = backoff.Retry(sweep, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(attempts-1)), ctx))
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			return pipeline.StageResult{}, services.Wrap(services.ErrTimeout, s.Name(), "sweep", "", err)
		}
		return pipeline.StageResult{}, err
	}
	return result, nil
}

// trySweep walks the variants once. Transient network failures surface as
// errors so the caller's backoff policy can re-run the whole sweep.
func (s *Stage) trySweep(ctx context.Context, httpClient *http.Client, variants []variant) (pipeline.StageResult, error) {
	sawBlocked := ""
	sawMalformed := ""
	for _, v := range variants {
		verdict, err := s.fetch(ctx, httpClient, v)
		if err != nil {
			return pipeline.StageResult{}, err
		}
		switch verdict.Kind {
		case content.Blocked:
			sawBlocked = verdict.Reason
		case content.Malformed:
			sawMalformed = verdict.Reason
		case content.Valid:
			transcript, parseErr := parsePayload(verdict.Payload, v.format)
			if parseErr != nil {
				sawMalformed = "transcript_parse_error"
				continue
			}
			return pipeline.StageResult{Outcome: pipeline.OutcomeSuccess, Transcript: transcript}, nil
		}
		if sawBlocked != "" {
			// A blocking verdict taints the whole session; further variants
			// would just burn requests on the same identity.
			break
		}
	}
	if sawBlocked != "" {
		return pipeline.StageResult{Outcome: pipeline.OutcomeBlocked, Detail: sawBlocked}, nil
	}
	if sawMalformed != "" {
		return pipeline.StageResult{Outcome: pipeline.OutcomeMalformed, Detail: sawMalformed}, nil
	}
	return pipeline.StageResult{Outcome: pipeline.OutcomeNotFound, Detail: "no_variant_yielded_captions"}, nil
}

func (s *Stage) fetch(ctx context.Context, httpClient *http.Client, v variant) (content.Classification, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.url, nil)
	if err != nil {
		return content.Classification{}, services.Wrap(services.ErrConfiguration, s.Name(), "build_request", "", err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			return content.Classification{}, services.Wrap(services.ErrTimeout, s.Name(), "fetch", "", err)
		}
		return content.Classification{}, services.Wrap(services.ErrTransient, s.Name(), "fetch", maskEndpoint(v.url), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusProxyAuthRequired || resp.StatusCode == http.StatusUnauthorized {
		return content.Classification{}, services.Wrap(services.ErrAuth, s.Name(), "fetch", "proxy rejected credentials", nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return content.Classification{}, services.Wrap(services.ErrTransient, s.Name(), "read_body", maskEndpoint(v.url), err)
	}

	verdict := content.Classify(resp.StatusCode, resp.Header.Get("Content-Type"), body, v.format)
	s.logger.DebugContext(ctx, "timedtext fetch",
		logging.String("endpoint", maskEndpoint(v.url)),
		logging.Int("status", resp.StatusCode),
		logging.Int("body_bytes", len(body)),
		logging.String("verdict", verdict.Kind.String()))
	return verdict, nil
}

func parsePayload(body []byte, format content.Format) (string, error) {
	if format == content.ExpectJSON {
		return captions.ParseJSON3(body)
	}
	return captions.ParseTimedTextXML(body)
}

// buildVariants expands the endpoint and format matrix for the requested
// languages. Only the first two language preferences are swept; beyond that
// the request volume outweighs the hit rate.
func buildVariants(videoID string, languages []string) []variant {
	if len(languages) == 0 {
		languages = []string{"en"}
	}
	if len(languages) > 2 {
		languages = languages[:2]
	}
	variants := make([]variant, 0, len(languages)*3)
	for _, lang := range languages {
		query := url.Values{"v": {videoID}, "lang": {lang}}
		json3 := url.Values{"v": {videoID}, "lang": {lang}, "fmt": {"json3"}}
		variants = append(variants,
			variant{url: "https://www.youtube.com/api/timedtext?" + json3.Encode(), format: content.ExpectJSON},
			variant{url: "https://www.youtube.com/api/timedtext?" + query.Encode(), format: content.ExpectXML},
			variant{url: "https://video.google.com/timedtext?" + query.Encode(), format: content.ExpectXML},
		)
	}
	return variants
}

// maskEndpoint strips the query string so log lines never carry video or
// language identifiers tied to a proxy session.
func maskEndpoint(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "invalid_endpoint"
	}
	parsed.RawQuery = ""
	parsed.User = nil
	return parsed.String()
}
