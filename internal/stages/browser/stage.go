// Package browser implements the third acquisition stage: driving a headless
// Chrome through the proxy, opening the on-page transcript panel, and
// intercepting the transcript API response the player issues for it.
package browser

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/iamadamzc/TLDW-sub001/internal/captions"
	"github.com/iamadamzc/TLDW-sub001/internal/config"
	"github.com/iamadamzc/TLDW-sub001/internal/logging"
	"github.com/iamadamzc/TLDW-sub001/internal/pipeline"
	"github.com/iamadamzc/TLDW-sub001/internal/proxy"
	"github.com/iamadamzc/TLDW-sub001/internal/services"
)

const (
	transcriptEndpointPath = "/youtubei/v1/get_transcript"
	maxInterceptBytes      = 16 << 20
)

// consentCookie pre-empts the EU consent interstitial so navigation lands on
// the watch page directly.
const (
	consentCookieName  = "SOCS"
	consentCookieValue = "CAESEwgDEgk0ODE3Nzk3MjQaAmVuIAEaBgiA_LyaBg"
)

// selectorStrategy is one way of locating a UI control. Strategies are tried
// in order; page experiments mean no single selector survives for long.
type selectorStrategy struct {
	label    string
	selector string
}

var expandStrategies = []selectorStrategy{
	{label: "inline_expander", selector: "#description-inline-expander #expand"},
	{label: "paper_expand", selector: "tp-yt-paper-button#expand"},
	{label: "generic_expand", selector: "#expand"},
}

var showTranscriptStrategies = []selectorStrategy{
	{label: "section_renderer", selector: "ytd-video-description-transcript-section-renderer button"},
	{label: "aria_label", selector: `button[aria-label="Show transcript"]`},
	{label: "panel_button", selector: "#primary-button ytd-button-renderer button"},
}

// Stage captures the transcript through a real player session.
type Stage struct {
	cfg    config.Browser
	logger *slog.Logger
}

func New(cfg config.Browser, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Stage{cfg: cfg, logger: logger}
}

func (s *Stage) Name() string { return pipeline.StageBrowserCapture }

func (s *Stage) Run(ctx context.Context, job *pipeline.Job, sess *proxy.Session) (pipeline.StageResult, error) {
	proxyAddr, username, password, err := splitProxyURL(sess.URL)
	if err != nil {
		return pipeline.StageResult{}, services.Wrap(services.ErrConfiguration, s.Name(), "proxy_endpoint", "", err)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ProxyServer(proxyAddr),
		chromedp.UserAgent(job.UserAgent),
		chromedp.Flag("headless", s.cfg.Headless),
		chromedp.Flag("mute-audio", true),
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
	)
	if s.cfg.ChromeBinary != "" {
		opts = append(opts, chromedp.ExecPath(s.cfg.ChromeBinary))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	capture := newResponseCapture(browserCtx, username, password, s.logger)

	if err := chromedp.Run(browserCtx,
		network.Enable(),
		page.Enable(),
		page.SetLifecycleEventsEnabled(true),
		fetch.Enable().WithHandleAuthRequests(true),
		setConsentCookie(),
	); err != nil {
		return s.classifyDriverError(ctx, "prepare", err)
	}

	watchURL := "https://www.youtube.com/watch?v=" + url.QueryEscape(job.VideoID)
	if err := s.navigate(browserCtx, capture, watchURL); err != nil {
		return s.classifyDriverError(ctx, "navigate", err)
	}

	if verdict, blocked := s.detectBlockingPage(browserCtx); blocked {
		return pipeline.StageResult{Outcome: pipeline.OutcomeBlocked, Detail: verdict}, nil
	}

	s.clickFirst(browserCtx, expandStrategies)
	opened := s.clickFirst(browserCtx, showTranscriptStrategies)
	if !opened {
		return pipeline.StageResult{Outcome: pipeline.OutcomeNotFound, Detail: "transcript_control_absent"}, nil
	}

	body, err := capture.await(ctx, time.Duration(s.cfg.InterceptTimeoutSecs)*time.Second)
	if err == nil {
		transcript, parseErr := captions.ParseInnerTube(body)
		if parseErr != nil {
			return pipeline.StageResult{Outcome: pipeline.OutcomeMalformed, Detail: "intercept_parse_error"}, nil
		}
		return pipeline.StageResult{Outcome: pipeline.OutcomeSuccess, Transcript: transcript}, nil
	}
	s.logger.DebugContext(ctx, "transcript intercept missed, trying direct api call", logging.Error(err))

	return s.directAPIFallback(ctx, browserCtx, job, sess)
}

// navigate loads the watch page, preferring the network-idle lifecycle
// signal and falling back to DOM readiness when the page never settles.
func (s *Stage) navigate(browserCtx context.Context, capture *responseCapture, watchURL string) error {
	navCtx, cancel := context.WithTimeout(browserCtx, time.Duration(s.cfg.NavigationTimeoutSecs)*time.Second)
	defer cancel()

	if err := chromedp.Run(navCtx, chromedp.Navigate(watchURL)); err != nil {
		return err
	}
	if capture.awaitNetworkIdle(navCtx) {
		s.logger.DebugContext(browserCtx, "watch page settled", logging.String("signal", "network_idle"))
		return nil
	}

	readyCtx, cancelReady := context.WithTimeout(browserCtx, time.Duration(s.cfg.ReadyFallbackTimeoutSec)*time.Second)
	defer cancelReady()
	if err := chromedp.Run(readyCtx, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return err
	}
	s.logger.DebugContext(browserCtx, "watch page settled", logging.String("signal", "body_ready"))
	return nil
}

// clickFirst tries each strategy with a short deadline and reports whether
// any of them landed.
func (s *Stage) clickFirst(browserCtx context.Context, strategies []selectorStrategy) bool {
	for _, strategy := range strategies {
		clickCtx, cancel := context.WithTimeout(browserCtx, 3*time.Second)
		err := chromedp.Run(clickCtx,
			chromedp.WaitVisible(strategy.selector, chromedp.ByQuery),
			chromedp.Click(strategy.selector, chromedp.ByQuery),
		)
		cancel()
		if err == nil {
			s.logger.DebugContext(browserCtx, "control clicked", logging.String("strategy", strategy.label))
			return true
		}
	}
	return false
}

// detectBlockingPage inspects the landed URL and title for consent or bot
// check interstitials that survived the cookie pre-seed.
func (s *Stage) detectBlockingPage(browserCtx context.Context) (string, bool) {
	checkCtx, cancel := context.WithTimeout(browserCtx, 5*time.Second)
	defer cancel()

	var location, title string
	if err := chromedp.Run(checkCtx,
		chromedp.Location(&location),
		chromedp.Title(&title),
	); err != nil {
		return "", false
	}
	lowered := strings.ToLower(location + " " + title)
	switch {
	case strings.Contains(lowered, "consent."):
		return "consent_interstitial", true
	case strings.Contains(lowered, "/sorry/"), strings.Contains(lowered, "unusual traffic"):
		return "bot_check", true
	case strings.Contains(lowered, "sign in to confirm"):
		return "login_challenge", true
	}
	return "", false
}

// directAPIFallback extracts the InnerTube key and transcript params from the
// already-loaded page and replays the transcript call from this process,
// through the same proxy session and user agent.
func (s *Stage) directAPIFallback(ctx context.Context, browserCtx context.Context, job *pipeline.Job, sess *proxy.Session) (pipeline.StageResult, error) {
	evalCtx, cancel := context.WithTimeout(browserCtx, 10*time.Second)
	defer cancel()

	var apiKey, clientVersion, params string
	err := chromedp.Run(evalCtx,
		chromedp.Evaluate(`window.ytcfg ? ytcfg.get("INNERTUBE_API_KEY") || "" : ""`, &apiKey),
		chromedp.Evaluate(`window.ytcfg ? ytcfg.get("INNERTUBE_CLIENT_VERSION") || "" : ""`, &clientVersion),
		chromedp.Evaluate(transcriptParamsJS, &params),
	)
	if err != nil || apiKey == "" || params == "" {
		return pipeline.StageResult{Outcome: pipeline.OutcomeMalformed, Detail: "innertube_context_unavailable"}, nil
	}

	body, err := postGetTranscript(ctx, sess, job.UserAgent, apiKey, clientVersion, params)
	if err != nil {
		if errors.Is(err, services.ErrAuth) || errors.Is(err, services.ErrTimeout) {
			return pipeline.StageResult{}, err
		}
		return pipeline.StageResult{Outcome: pipeline.OutcomeBlocked, Detail: "direct_api_rejected"}, nil
	}
	transcript, parseErr := captions.ParseInnerTube(body)
	if parseErr != nil {
		return pipeline.StageResult{Outcome: pipeline.OutcomeMalformed, Detail: "direct_api_parse_error"}, nil
	}
	return pipeline.StageResult{Outcome: pipeline.OutcomeSuccess, Transcript: transcript}, nil
}

func (s *Stage) classifyDriverError(ctx context.Context, operation string, err error) (pipeline.StageResult, error) {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return pipeline.StageResult{}, services.Wrap(services.ErrTimeout, s.Name(), operation, "", err)
	}
	message := strings.ToLower(err.Error())
	if strings.Contains(message, "executable file not found") || strings.Contains(message, "exec:") {
		return pipeline.StageResult{}, services.Wrap(services.ErrConfiguration, s.Name(), operation, "chrome binary unavailable", err)
	}
	return pipeline.StageResult{}, services.Wrap(services.ErrExternalTool, s.Name(), operation, "", err)
}

func setConsentCookie() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		return network.SetCookie(consentCookieName, consentCookieValue).
			WithDomain(".youtube.com").
			WithPath("/").
			WithSecure(true).
			Do(ctx)
	})
}

// splitProxyURL separates the session endpoint into the address Chrome gets
// on its command line and the credentials answered over CDP. Chrome never
// sees the password in its argv.
func splitProxyURL(raw string) (addr, username, password string, err error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", "", "", err
	}
	if parsed.User != nil {
		username = parsed.User.Username()
		password, _ = parsed.User.Password()
	}
	return parsed.Host, username, password, nil
}

// responseCapture wires the CDP event listeners: proxy auth answers, request
// continuation, network-idle detection, and the one-shot transcript body
// grab.
type responseCapture struct {
	browserCtx context.Context
	logger     *slog.Logger

	once sync.Once
	body chan []byte

	mu          sync.Mutex
	transcripts map[network.RequestID]struct{}
	idle        chan struct{}
	idleOnce    sync.Once
}

func newResponseCapture(browserCtx context.Context, username, password string, logger *slog.Logger) *responseCapture {
	c := &responseCapture{
		browserCtx:  browserCtx,
		logger:      logger,
		body:        make(chan []byte, 1),
		transcripts: make(map[network.RequestID]struct{}),
		idle:        make(chan struct{}),
	}

	chromedp.ListenTarget(browserCtx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *fetch.EventAuthRequired:
			go c.answerAuth(ev, username, password)
		case *fetch.EventRequestPaused:
			go c.continueRequest(ev)
		case *page.EventLifecycleEvent:
			if ev.Name == "networkIdle" {
				c.idleOnce.Do(func() { close(c.idle) })
			}
		case *network.EventResponseReceived:
			if strings.Contains(ev.Response.URL, transcriptEndpointPath) {
				c.mu.Lock()
				c.transcripts[ev.RequestID] = struct{}{}
				c.mu.Unlock()
			}
		case *network.EventLoadingFinished:
			c.mu.Lock()
			_, matched := c.transcripts[ev.RequestID]
			c.mu.Unlock()
			if matched {
				go c.grabBody(ev.RequestID)
			}
		}
	})
	return c
}

func (c *responseCapture) answerAuth(ev *fetch.EventAuthRequired, username, password string) {
	executor := cdp.WithExecutor(c.browserCtx, chromedp.FromContext(c.browserCtx).Target)
	response := &fetch.AuthChallengeResponse{
		Response: fetch.AuthChallengeResponseResponseProvideCredentials,
		Username: username,
		Password: password,
	}
	if err := fetch.ContinueWithAuth(ev.RequestID, response).Do(executor); err != nil {
		c.logger.Debug("proxy auth answer failed", logging.Error(err))
	}
}

func (c *responseCapture) continueRequest(ev *fetch.EventRequestPaused) {
	executor := cdp.WithExecutor(c.browserCtx, chromedp.FromContext(c.browserCtx).Target)
	if err := fetch.ContinueRequest(ev.RequestID).Do(executor); err != nil {
		c.logger.Debug("request continuation failed", logging.Error(err))
	}
}

func (c *responseCapture) grabBody(id network.RequestID) {
	executor := cdp.WithExecutor(c.browserCtx, chromedp.FromContext(c.browserCtx).Target)
	body, err := network.GetResponseBody(id).Do(executor)
	if err != nil {
		c.logger.Debug("transcript body fetch failed", logging.Error(err))
		return
	}
	c.once.Do(func() { c.body <- body })
}

func (c *responseCapture) awaitNetworkIdle(ctx context.Context) bool {
	select {
	case <-c.idle:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *responseCapture) await(ctx context.Context, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case body := <-c.body:
		return body, nil
	case <-timer.C:
		return nil, errors.New("transcript response not observed before deadline")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// transcriptParamsJS digs the get_transcript continuation params out of the
// initial data blob. The engagement panel carrying them moves around between
// page experiments, hence the scan over all panels.
const transcriptParamsJS = `(() => {
	const data = window.ytInitialData;
	if (!data || !data.engagementPanels) return "";
	for (const panel of data.engagementPanels) {
		const renderer = panel.engagementPanelSectionListRenderer;
		const endpoint = renderer
			&& renderer.content
			&& renderer.content.continuationItemRenderer
			&& renderer.content.continuationItemRenderer.continuationEndpoint
			&& renderer.content.continuationItemRenderer.continuationEndpoint.getTranscriptEndpoint;
		if (endpoint && endpoint.params) return endpoint.params;
	}
	return "";
})()`
