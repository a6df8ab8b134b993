package config

const (
	defaultWorkDir             = "~/.local/share/tldw/work"
	defaultLogDir              = "~/.local/share/tldw/logs"
	defaultDatabase            = "~/.local/share/tldw/tldw.db"
	defaultAPIBind             = "127.0.0.1:7512"
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultLanguage            = "en"
	defaultWatchdogSeconds     = 240
	defaultRescueASRSeconds    = 60
	defaultUserAgent           = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	defaultSessionTTLMinutes   = 30
	defaultBlacklistCapacity   = 512
	defaultBlacklistTTLHours   = 6
	defaultCaptionTimeoutSecs  = 20
	defaultTimedTextAttempts   = 3
	defaultBackoffInitialMS    = 500
	defaultBackoffMaxMS        = 2000
	defaultTimedTextTimeout    = 15
	defaultNavigationTimeout   = 15
	defaultReadyFallbackSecs   = 30
	defaultInterceptTimeout    = 25
	defaultMinAudioBytes       = 50 * 1024
	defaultMaxDurationMinutes  = 180
	defaultDownloadTimeoutSecs = 120
	defaultTranscriberBaseURL  = "https://api.openai.com/v1"
	defaultTranscriberModel    = "whisper-1"
	defaultTranscriberTimeout  = 120
	defaultCaptionAPIThreshold = 3
	defaultTimedTextThreshold  = 5
	defaultBrowserThreshold    = 3
	defaultASRThreshold        = 3
	defaultRecoverySeconds     = 60
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkDir: defaultWorkDir,
			LogDir:  defaultLogDir,
		},
		API: API{
			Bind: defaultAPIBind,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Proxy: Proxy{
			SessionTTLMinutes: defaultSessionTTLMinutes,
			BlacklistCapacity: defaultBlacklistCapacity,
			BlacklistTTLHours: defaultBlacklistTTLHours,
		},
		Pipeline: Pipeline{
			WatchdogSeconds:  defaultWatchdogSeconds,
			RescueASRSeconds: defaultRescueASRSeconds,
			UserAgent:        defaultUserAgent,
			Languages:        []string{defaultLanguage},
		},
		Captions: Captions{
			RequestTimeoutSeconds: defaultCaptionTimeoutSecs,
		},
		TimedText: TimedText{
			Attempts:              defaultTimedTextAttempts,
			BackoffInitialMS:      defaultBackoffInitialMS,
			BackoffMaxMS:          defaultBackoffMaxMS,
			RequestTimeoutSeconds: defaultTimedTextTimeout,
		},
		Browser: Browser{
			Headless:                true,
			NavigationTimeoutSecs:   defaultNavigationTimeout,
			ReadyFallbackTimeoutSec: defaultReadyFallbackSecs,
			InterceptTimeoutSecs:    defaultInterceptTimeout,
		},
		ASR: ASR{
			YTDLPBinary:            "yt-dlp",
			FFmpegBinary:           "ffmpeg",
			FFprobeBinary:          "ffprobe",
			MinAudioBytes:          defaultMinAudioBytes,
			MaxDurationMinutes:     defaultMaxDurationMinutes,
			DownloadTimeoutSeconds: defaultDownloadTimeoutSecs,
			Transcriber: Transcriber{
				BaseURL:        defaultTranscriberBaseURL,
				Model:          defaultTranscriberModel,
				TimeoutSeconds: defaultTranscriberTimeout,
			},
		},
		Breaker: Breaker{
			CaptionAPIThreshold: defaultCaptionAPIThreshold,
			TimedTextThreshold:  defaultTimedTextThreshold,
			BrowserThreshold:    defaultBrowserThreshold,
			ASRThreshold:        defaultASRThreshold,
			RecoverySeconds:     defaultRecoverySeconds,
		},
		Store: Store{
			Database: defaultDatabase,
		},
	}
}
