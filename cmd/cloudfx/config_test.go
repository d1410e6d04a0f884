package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValidWithCredentials(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Feed.Username = "tester"
	cfg.Feed.Key = "secret"

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults fail validation: %v", err)
	}

	if cfg.Tick() != 50*time.Millisecond {
		t.Errorf("tick = %v, want 50ms", cfg.Tick())
	}
	if cfg.DisplayTimeout() != 5*time.Second {
		t.Errorf("display timeout = %v, want 5s", cfg.DisplayTimeout())
	}
	if cfg.Loop.QueueCapacity != 50 {
		t.Errorf("queue capacity = %d, want 50", cfg.Loop.QueueCapacity)
	}
	if cfg.Feed.FailureThreshold != 5 {
		t.Errorf("failure threshold = %d, want 5", cfg.Feed.FailureThreshold)
	}
}

func TestValidateRejectsBrokenConfigs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing credentials", func(c *Config) { c.Feed.Username = "" }},
		{"empty feed name", func(c *Config) { c.Feed.Name = "" }},
		{"zero poll interval", func(c *Config) { c.Feed.PollIntervalMS = 0 }},
		{"zero failure threshold", func(c *Config) { c.Feed.FailureThreshold = 0 }},
		{"tick too large", func(c *Config) { c.Loop.TickMS = 2000 }},
		{"zero queue capacity", func(c *Config) { c.Loop.QueueCapacity = 0 }},
		{"zero display timeout", func(c *Config) { c.Display.TimeoutMS = 0 }},
		{"bad startup mode", func(c *Config) { c.Indicator.Startup = "sometimes" }},
		{"devices without key codes", func(c *Config) { c.Buttons.Devices = []string{"/dev/input/event0"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Feed.Username = "tester"
			cfg.Feed.Key = "secret"
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("invalid config accepted")
			}
		})
	}
}

func TestLoadConfigExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_AIO_KEY", "from-env")
	t.Setenv("AIO_USERNAME", "")
	t.Setenv("AIO_KEY", "")

	yaml := `
feed:
  username: tester
  key: ${TEST_AIO_KEY}
  name: macros
loop:
  tick_ms: 25
`
	path := filepath.Join(t.TempDir(), "cloudfx.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Feed.Key != "from-env" {
		t.Errorf("key = %q, want env-expanded value", cfg.Feed.Key)
	}
	if cfg.Loop.TickMS != 25 {
		t.Errorf("tick_ms = %d, want file value 25", cfg.Loop.TickMS)
	}
	// Unset fields keep defaults.
	if cfg.Feed.BaseURL != defaultFeedBaseURL {
		t.Errorf("base_url = %q, want default", cfg.Feed.BaseURL)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("AIO_USERNAME", "env-user")
	t.Setenv("AIO_KEY", "env-key")
	t.Setenv("POLL_INTERVAL", "0.5")

	yaml := `
feed:
  username: file-user
  key: file-key
  name: macros
`
	path := filepath.Join(t.TempDir(), "cloudfx.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Feed.Username != "env-user" || cfg.Feed.Key != "env-key" {
		t.Errorf("credentials = %q/%q, want environment values", cfg.Feed.Username, cfg.Feed.Key)
	}
	if cfg.Feed.PollIntervalMS != 500 {
		t.Errorf("poll interval = %dms, want 500 from POLL_INTERVAL seconds", cfg.Feed.PollIntervalMS)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("missing config file accepted")
	}
}
