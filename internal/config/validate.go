package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable. Validation failures are
// configuration errors: the daemon refuses to start rather than degrading
// into the audio fallback with a broken proxy or missing credentials.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateProxy(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateTimedText(); err != nil {
		return err
	}
	if err := c.validateBrowser(); err != nil {
		return err
	}
	if err := c.validateASR(); err != nil {
		return err
	}
	if err := c.validateBreaker(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		return errors.New("paths.work_dir must be set")
	}
	if strings.TrimSpace(c.Store.Database) == "" {
		return errors.New("store.database must be set")
	}
	return nil
}

func (c *Config) validateProxy() error {
	if strings.TrimSpace(c.Proxy.EndpointHost) == "" {
		return errors.New("proxy.endpoint_host must be set")
	}
	if c.Proxy.Port <= 0 || c.Proxy.Port > 65535 {
		return fmt.Errorf("proxy.port must be a valid TCP port, got %d", c.Proxy.Port)
	}
	if strings.TrimSpace(c.Proxy.CustomerID) == "" {
		return errors.New("proxy.customer_id must be set")
	}
	if c.Proxy.Password == "" {
		return errors.New("proxy.password must be set (or TLDW_PROXY_PASSWORD)")
	}
	if c.Proxy.GeoEnabled && strings.TrimSpace(c.Proxy.Country) == "" {
		return errors.New("proxy.country must be set when proxy.geo_enabled is true")
	}
	if c.Proxy.SessionTTLMinutes <= 0 {
		return errors.New("proxy.session_ttl_minutes must be positive")
	}
	if c.Proxy.BlacklistCapacity <= 0 {
		return errors.New("proxy.blacklist_capacity must be positive")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.WatchdogSeconds <= 0 {
		return errors.New("pipeline.watchdog_seconds must be positive")
	}
	if c.Pipeline.RescueASRSeconds <= 0 {
		return errors.New("pipeline.rescue_asr_seconds must be positive")
	}
	if c.Pipeline.RescueASRSeconds >= c.Pipeline.WatchdogSeconds {
		return errors.New("pipeline.rescue_asr_seconds must be below pipeline.watchdog_seconds")
	}
	if strings.TrimSpace(c.Pipeline.UserAgent) == "" {
		return errors.New("pipeline.user_agent must be set")
	}
	return nil
}

func (c *Config) validateTimedText() error {
	if c.TimedText.Attempts <= 0 {
		return errors.New("timedtext.attempts must be positive")
	}
	if c.TimedText.BackoffInitialMS <= 0 || c.TimedText.BackoffMaxMS < c.TimedText.BackoffInitialMS {
		return errors.New("timedtext backoff bounds must satisfy 0 < initial <= max")
	}
	return nil
}

func (c *Config) validateBrowser() error {
	if c.Browser.NavigationTimeoutSecs <= 0 {
		return errors.New("browser.navigation_timeout_seconds must be positive")
	}
	if c.Browser.ReadyFallbackTimeoutSec < c.Browser.NavigationTimeoutSecs {
		return errors.New("browser.ready_fallback_timeout_seconds must be at least the navigation timeout")
	}
	if c.Browser.InterceptTimeoutSecs <= 0 {
		return errors.New("browser.intercept_timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateASR() error {
	if strings.TrimSpace(c.ASR.YTDLPBinary) == "" {
		return errors.New("asr.ytdlp_binary must be set")
	}
	if strings.TrimSpace(c.ASR.FFmpegBinary) == "" {
		return errors.New("asr.ffmpeg_binary must be set")
	}
	if strings.TrimSpace(c.ASR.FFprobeBinary) == "" {
		return errors.New("asr.ffprobe_binary must be set")
	}
	if c.ASR.MinAudioBytes <= 0 {
		return errors.New("asr.min_audio_bytes must be positive")
	}
	if c.ASR.MaxDurationMinutes <= 0 {
		return errors.New("asr.max_duration_minutes must be positive")
	}
	if strings.TrimSpace(c.ASR.Transcriber.BaseURL) == "" {
		return errors.New("asr.transcriber.base_url must be set")
	}
	if strings.TrimSpace(c.ASR.Transcriber.APIKey) == "" {
		return errors.New("asr.transcriber.api_key must be set (or TLDW_ASR_API_KEY)")
	}
	return nil
}

func (c *Config) validateBreaker() error {
	thresholds := map[string]int{
		"breaker.caption_api_threshold": c.Breaker.CaptionAPIThreshold,
		"breaker.timedtext_threshold":   c.Breaker.TimedTextThreshold,
		"breaker.browser_threshold":     c.Breaker.BrowserThreshold,
		"breaker.asr_threshold":         c.Breaker.ASRThreshold,
	}
	for key, value := range thresholds {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	if c.Breaker.RecoverySeconds <= 0 {
		return errors.New("breaker.recovery_seconds must be positive")
	}
	return nil
}
