package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the cloudfx daemon.
//
// The config file is the primary configuration surface; flags exist for small
// overrides and for environments where a file is awkward. Defaults and
// validation are centralized here so the rest of the code can assume a
// well-formed config.
type Config struct {
	// Feed is the cloud command feed being polled.
	Feed FeedConfig `yaml:"feed"`

	// Loop is the dispatch loop cadence and policy.
	Loop LoopConfig `yaml:"loop"`

	// Display controls the transient command display.
	Display DisplayConfig `yaml:"display"`

	// Indicator controls the status LED.
	Indicator IndicatorConfig `yaml:"indicator"`

	// HID is the emulated keyboard output.
	HID HIDConfig `yaml:"hid"`

	// Buttons is the local button/encoder input (macro pad mode).
	Buttons ButtonsConfig `yaml:"buttons"`

	// Audio is the tone/clip playback sink.
	Audio AudioConfig `yaml:"audio"`

	// IPC configuration (local command injection)
	IPC IPCConfig `yaml:"ipc"`

	// StatusWS is the WebSocket status broadcast server.
	StatusWS StatusWSConfig `yaml:"status_ws"`

	// MacrosPath points at the macros.json command table.
	MacrosPath string `yaml:"macros_path"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

type FeedConfig struct {
	BaseURL  string `yaml:"base_url"`
	Username string `yaml:"username"`
	Key      string `yaml:"key"`
	Name     string `yaml:"name"`

	PollIntervalMS int `yaml:"poll_interval_ms"`
	TimeoutMS      int `yaml:"timeout_ms"`

	// FailureThreshold is the consecutive-failure count that forces a feed
	// session recreate.
	FailureThreshold int `yaml:"failure_threshold"`

	// Bring-up retry policy; 0 retries means spin until connected.
	BringupRetries int `yaml:"bringup_retries"`
	BringupDelayMS int `yaml:"bringup_delay_ms"`

	// ClearOnStart drains stale feed items before the loop begins.
	ClearOnStart bool `yaml:"clear_on_start"`
}

type LoopConfig struct {
	TickMS           int `yaml:"tick_ms"`
	QueueCapacity    int `yaml:"queue_capacity"`
	GCIntervalMS     int `yaml:"gc_interval_ms"`
	HealthIntervalMS int `yaml:"health_interval_ms"`
	ReconnectRetries int `yaml:"reconnect_retries"`
	MemLowWaterBytes int `yaml:"mem_low_water_bytes"`
}

type DisplayConfig struct {
	TimeoutMS int `yaml:"timeout_ms"`

	// Backend: "console" logs display text; "none" discards it.
	Backend string `yaml:"backend"`
}

type IndicatorConfig struct {
	// Backend: "console", "sysfs" or "none".
	Backend string `yaml:"backend"`

	// SysfsDir is the LED class directory holding red/green/blue
	// subdirectories when Backend is "sysfs".
	SysfsDir string `yaml:"sysfs_dir,omitempty"`

	// Startup selects the bring-up indication policy: "polls" turns the
	// connected color off after StartupPolls successful polls, "display"
	// keeps the indicator synced with the command display.
	Startup      string `yaml:"startup"`
	StartupPolls int    `yaml:"startup_polls"`

	// Progress ramps the idle LED brightness with the time elapsed since
	// the last poll, so the indicator visibly counts toward the next one.
	Progress bool `yaml:"progress"`
}

type HIDConfig struct {
	// Device is the HID gadget character device; empty disables key output.
	Device    string `yaml:"device"`
	KeyHoldMS int    `yaml:"key_hold_ms"`
}

type ButtonsConfig struct {
	// Devices lists evdev input devices to monitor; empty disables the
	// local button reader.
	Devices []string `yaml:"devices,omitempty"`

	// KeyCodes maps evdev key codes to button positions 0..11, in order.
	KeyCodes []uint16 `yaml:"key_codes,omitempty"`

	// EncoderClickCode is the evdev code of the encoder push switch (the
	// 13th button). 0 disables it.
	EncoderClickCode uint16 `yaml:"encoder_click_code,omitempty"`

	ScreensaverTimeoutMS int `yaml:"screensaver_timeout_ms"`
}

type AudioConfig struct {
	Enabled    bool `yaml:"enabled"`
	SampleRate int  `yaml:"sample_rate"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type StatusWSConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go.
func DefaultConfig() Config {
	return Config{
		Feed: FeedConfig{
			BaseURL:          defaultFeedBaseURL,
			Name:             defaultFeedName,
			PollIntervalMS:   int(defaultPollInterval / time.Millisecond),
			TimeoutMS:        int(defaultFeedTimeout / time.Millisecond),
			FailureThreshold: defaultFailureThreshold,
			BringupRetries:   defaultBringupRetries,
			BringupDelayMS:   int(defaultBringupDelay / time.Millisecond),
			ClearOnStart:     true,
		},
		Loop: LoopConfig{
			TickMS:           int(defaultTick / time.Millisecond),
			QueueCapacity:    defaultQueueCapacity,
			GCIntervalMS:     int(defaultGCInterval / time.Millisecond),
			HealthIntervalMS: int(defaultHealthInterval / time.Millisecond),
			ReconnectRetries: defaultReconnectRetries,
			MemLowWaterBytes: defaultMemLowWater,
		},
		Display: DisplayConfig{
			TimeoutMS: int(defaultDisplayTimeout / time.Millisecond),
			Backend:   "console",
		},
		Indicator: IndicatorConfig{
			Backend:      "console",
			Startup:      startupModePolls,
			StartupPolls: defaultStartupPolls,
		},
		HID: HIDConfig{
			Device:    "/dev/hidg0",
			KeyHoldMS: int(defaultKeyHold / time.Millisecond),
		},
		Buttons: ButtonsConfig{
			ScreensaverTimeoutMS: int(defaultScreensaverTimeout / time.Millisecond),
		},
		Audio: AudioConfig{
			SampleRate: 44100,
		},
		IPC: IPCConfig{
			SocketPath: "/tmp/cloudfx.sock",
		},
		StatusWS: StatusWSConfig{
			Port: 3001,
		},
		MacrosPath: "macros.json",
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads a YAML config file on top of the defaults. Environment
// variables inside the file are expanded, so credentials can be written as
// ${AIO_KEY} rather than inline.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv layers the environment variables the firmware variants honored on
// top of whatever the file provided.
func (c *Config) applyEnv() {
	if v := os.Getenv("AIO_USERNAME"); v != "" {
		c.Feed.Username = v
	}
	if v := os.Getenv("AIO_KEY"); v != "" {
		c.Feed.Key = v
	}
	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
			c.Feed.PollIntervalMS = int(secs * 1000)
		}
	}
}

// Validate checks invariants the rest of the daemon assumes.
func (c *Config) Validate() error {
	var errs []error

	if c.Feed.Username == "" || c.Feed.Key == "" {
		errs = append(errs, errors.New("feed.username and feed.key are required (or AIO_USERNAME / AIO_KEY)"))
	}
	if c.Feed.Name == "" {
		errs = append(errs, errors.New("feed.name must not be empty"))
	}
	if c.Feed.PollIntervalMS <= 0 {
		errs = append(errs, errors.New("feed.poll_interval_ms must be > 0"))
	}
	if c.Feed.FailureThreshold <= 0 {
		errs = append(errs, errors.New("feed.failure_threshold must be > 0"))
	}
	if c.Loop.TickMS <= 0 || c.Loop.TickMS > 1000 {
		errs = append(errs, errors.New("loop.tick_ms must be between 1 and 1000"))
	}
	if c.Loop.QueueCapacity <= 0 {
		errs = append(errs, errors.New("loop.queue_capacity must be > 0"))
	}
	if c.Display.TimeoutMS <= 0 {
		errs = append(errs, errors.New("display.timeout_ms must be > 0"))
	}
	switch c.Indicator.Startup {
	case startupModePolls, startupModeDisplay:
	default:
		errs = append(errs, fmt.Errorf("indicator.startup must be %q or %q", startupModePolls, startupModeDisplay))
	}
	if c.Indicator.Startup == startupModePolls && c.Indicator.StartupPolls <= 0 {
		errs = append(errs, errors.New("indicator.startup_polls must be > 0 in polls mode"))
	}
	if c.HID.KeyHoldMS < 0 {
		errs = append(errs, errors.New("hid.key_hold_ms must be >= 0"))
	}
	if len(c.Buttons.Devices) > 0 && len(c.Buttons.KeyCodes) == 0 {
		errs = append(errs, errors.New("buttons.key_codes is required when buttons.devices is set"))
	}

	return errors.Join(errs...)
}

// Convenience duration accessors so call sites don't repeat the unit math.

func (c *Config) Tick() time.Duration           { return time.Duration(c.Loop.TickMS) * time.Millisecond }
func (c *Config) PollInterval() time.Duration   { return time.Duration(c.Feed.PollIntervalMS) * time.Millisecond }
func (c *Config) DisplayTimeout() time.Duration { return time.Duration(c.Display.TimeoutMS) * time.Millisecond }
func (c *Config) GCInterval() time.Duration     { return time.Duration(c.Loop.GCIntervalMS) * time.Millisecond }
func (c *Config) HealthInterval() time.Duration { return time.Duration(c.Loop.HealthIntervalMS) * time.Millisecond }
func (c *Config) KeyHold() time.Duration        { return time.Duration(c.HID.KeyHoldMS) * time.Millisecond }
func (c *Config) ScreensaverTimeout() time.Duration {
	return time.Duration(c.Buttons.ScreensaverTimeoutMS) * time.Millisecond
}
