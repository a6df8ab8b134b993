package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	WorkDir string `toml:"work_dir"`
	LogDir  string `toml:"log_dir"`
}

// API contains configuration for the daemon HTTP API.
type API struct {
	Bind  string `toml:"bind"`
	Token string `toml:"token"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Proxy contains the raw sticky-proxy secret schema. Password is stored
// unencoded; the proxy package percent-encodes exactly once when building
// the authenticated URL.
type Proxy struct {
	EndpointHost      string `toml:"endpoint_host"`
	Port              int    `toml:"port"`
	CustomerID        string `toml:"customer_id"`
	Password          string `toml:"password"`
	GeoEnabled        bool   `toml:"geo_enabled"`
	Country           string `toml:"country"`
	SessionTTLMinutes int    `toml:"session_ttl_minutes"`
	BlacklistCapacity int    `toml:"blacklist_capacity"`
	BlacklistTTLHours int    `toml:"blacklist_ttl_hours"`
}

// Pipeline contains orchestrator timing and identity settings.
type Pipeline struct {
	WatchdogSeconds  int      `toml:"watchdog_seconds"`
	RescueASRSeconds int      `toml:"rescue_asr_seconds"`
	UserAgent        string   `toml:"user_agent"`
	Languages        []string `toml:"languages"`
}

// Captions contains settings for the captions API stage.
type Captions struct {
	RequestTimeoutSeconds int `toml:"request_timeout_seconds"`
}

// TimedText contains settings for the raw timedtext fetch stage.
type TimedText struct {
	Attempts              int `toml:"attempts"`
	BackoffInitialMS      int `toml:"backoff_initial_ms"`
	BackoffMaxMS          int `toml:"backoff_max_ms"`
	RequestTimeoutSeconds int `toml:"request_timeout_seconds"`
}

// Browser contains settings for the headless capture stage.
type Browser struct {
	ChromeBinary            string `toml:"chrome_binary"`
	Headless                bool   `toml:"headless"`
	NavigationTimeoutSecs   int    `toml:"navigation_timeout_seconds"`
	ReadyFallbackTimeoutSec int    `toml:"ready_fallback_timeout_seconds"`
	InterceptTimeoutSecs    int    `toml:"intercept_timeout_seconds"`
}

// Transcriber contains settings for the remote speech-to-text service.
type Transcriber struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// ASR contains settings for the audio download and transcription stage.
type ASR struct {
	YTDLPBinary            string      `toml:"ytdlp_binary"`
	FFmpegBinary           string      `toml:"ffmpeg_binary"`
	FFprobeBinary          string      `toml:"ffprobe_binary"`
	MinAudioBytes          int64       `toml:"min_audio_bytes"`
	MaxDurationMinutes     int         `toml:"max_duration_minutes"`
	DownloadTimeoutSeconds int         `toml:"download_timeout_seconds"`
	Transcriber            Transcriber `toml:"transcriber"`
}

// Breaker contains circuit breaker thresholds per stage.
type Breaker struct {
	CaptionAPIThreshold int `toml:"caption_api_threshold"`
	TimedTextThreshold  int `toml:"timedtext_threshold"`
	BrowserThreshold    int `toml:"browser_threshold"`
	ASRThreshold        int `toml:"asr_threshold"`
	RecoverySeconds     int `toml:"recovery_seconds"`
}

// Store contains settings for the transcript cache database.
type Store struct {
	Database string `toml:"database"`
}

// Config is the root configuration document.
type Config struct {
	Paths     Paths     `toml:"paths"`
	API       API       `toml:"api"`
	Logging   Logging   `toml:"logging"`
	Proxy     Proxy     `toml:"proxy"`
	Pipeline  Pipeline  `toml:"pipeline"`
	Captions  Captions  `toml:"captions"`
	TimedText TimedText `toml:"timedtext"`
	Browser   Browser   `toml:"browser"`
	ASR       ASR       `toml:"asr"`
	Breaker   Breaker   `toml:"breaker"`
	Store     Store     `toml:"store"`
}

// DefaultConfigPath returns the canonical config file location.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "tldw", "config.toml"), nil
}

// Load reads configuration from the given path, falling back to the
// TLDW_CONFIG environment variable and then the default location. A missing
// file yields defaults. The resolved path is returned alongside the config.
func Load(path string) (*Config, string, error) {
	resolved := strings.TrimSpace(path)
	if resolved == "" {
		resolved = strings.TrimSpace(os.Getenv("TLDW_CONFIG"))
	}
	if resolved == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return nil, "", err
		}
		resolved = defaultPath
	}
	resolved = ExpandPath(resolved)

	cfg := Default()
	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg.applyEnvOverrides()
			cfg.normalize()
			return &cfg, resolved, nil
		}
		return nil, resolved, fmt.Errorf("read config %s: %w", resolved, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, resolved, fmt.Errorf("parse config %s: %w", resolved, err)
	}
	cfg.applyEnvOverrides()
	cfg.normalize()
	return &cfg, resolved, nil
}

// WriteSample writes the embedded sample config to the given path, refusing
// to clobber an existing file.
func WriteSample(path string) error {
	path = ExpandPath(path)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, []byte(sampleConfig), 0o600)
}

// ExpandPath resolves a leading ~ against the user's home directory.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

func (c *Config) applyEnvOverrides() {
	if v := strings.TrimSpace(os.Getenv("TLDW_PROXY_PASSWORD")); v != "" {
		c.Proxy.Password = v
	}
	if v := strings.TrimSpace(os.Getenv("TLDW_ASR_API_KEY")); v != "" {
		c.ASR.Transcriber.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("TLDW_API_TOKEN")); v != "" {
		c.API.Token = v
	}
}

func (c *Config) normalize() {
	c.Paths.WorkDir = ExpandPath(c.Paths.WorkDir)
	c.Paths.LogDir = ExpandPath(c.Paths.LogDir)
	c.Store.Database = ExpandPath(c.Store.Database)
	if len(c.Pipeline.Languages) == 0 {
		c.Pipeline.Languages = []string{defaultLanguage}
	}
}
