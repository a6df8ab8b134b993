package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validConfig() Config {
	cfg := Default()
	cfg.Proxy.EndpointHost = "pr.example.net"
	cfg.Proxy.Port = 7777
	cfg.Proxy.CustomerID = "cust-abc"
	cfg.Proxy.Password = "s3cret+pass"
	cfg.ASR.Transcriber.APIKey = "sk-test"
	return cfg
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateRejectsMissingProxyFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"host", func(c *Config) { c.Proxy.EndpointHost = "" }, "proxy.endpoint_host"},
		{"port", func(c *Config) { c.Proxy.Port = 0 }, "proxy.port"},
		{"customer", func(c *Config) { c.Proxy.CustomerID = " " }, "proxy.customer_id"},
		{"password", func(c *Config) { c.Proxy.Password = "" }, "proxy.password"},
		{"geo-country", func(c *Config) { c.Proxy.GeoEnabled = true; c.Proxy.Country = "" }, "proxy.country"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %s", err, tc.want)
			}
		})
	}
}

func TestValidateRejectsRescueBudgetAboveWatchdog(t *testing.T) {
	cfg := validConfig()
	cfg.Pipeline.RescueASRSeconds = cfg.Pipeline.WatchdogSeconds
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected rescue budget validation error")
	}
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.toml")
	cfg, resolved, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if resolved != path {
		t.Fatalf("resolved path = %s, want %s", resolved, path)
	}
	if cfg.Pipeline.WatchdogSeconds != defaultWatchdogSeconds {
		t.Fatalf("expected default watchdog, got %d", cfg.Pipeline.WatchdogSeconds)
	}
	if len(cfg.Pipeline.Languages) == 0 {
		t.Fatal("expected default language preference")
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[pipeline]
watchdog_seconds = 120

[proxy]
endpoint_host = "pr.example.net"
port = 8080
customer_id = "cust"
password = "pw"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pipeline.WatchdogSeconds != 120 {
		t.Fatalf("watchdog = %d, want 120", cfg.Pipeline.WatchdogSeconds)
	}
	if cfg.Proxy.Port != 8080 {
		t.Fatalf("proxy port = %d, want 8080", cfg.Proxy.Port)
	}
	// Untouched sections retain defaults.
	if cfg.TimedText.Attempts != defaultTimedTextAttempts {
		t.Fatalf("timedtext attempts = %d, want default", cfg.TimedText.Attempts)
	}
}

func TestWriteSampleRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := WriteSample(path); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := WriteSample(path); err == nil {
		t.Fatal("expected overwrite refusal")
	}
}
