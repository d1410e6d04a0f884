package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

const version = "1.0.0"

func printVersion() {
	fmt.Printf("CloudFX v%s\n", version)
	fmt.Println("Cloud-feed macro dispatch daemon")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  cloudfx [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Daemon that polls a cloud command feed and local button/encoder")
	fmt.Println("  devices, dispatching named macros as USB HID keystrokes, display")
	fmt.Println("  text, indicator colors and audio. Commands from all sources share")
	fmt.Println("  one bounded queue and one dispatch loop.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        YAML configuration file (default: built-in defaults + environment)")
	fmt.Println()
	fmt.Println("  -macros string")
	fmt.Println("        macros.json command table (overrides config macros_path)")
	fmt.Println()
	fmt.Println("  -feed-name string")
	fmt.Println("        Feed name to poll (overrides config feed.name)")
	fmt.Println()
	fmt.Println("  -poll-interval-ms int")
	fmt.Println("        Feed poll interval in ms (overrides config feed.poll_interval_ms)")
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Println("        Unix domain socket path for IPC (overrides config ipc.socket_path)")
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("ENVIRONMENT VARIABLES:")
	fmt.Println("  AIO_USERNAME  - Feed account username")
	fmt.Println("  AIO_KEY       - Feed API key")
	fmt.Println("  POLL_INTERVAL - Poll interval in seconds (fractional allowed)")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Start with a config file")
	fmt.Println("  cloudfx -config /etc/cloudfx/cloudfx.yaml")
	fmt.Println()
	fmt.Println("  # Credentials from the environment, everything else defaulted")
	fmt.Println("  AIO_USERNAME=me AIO_KEY=secret cloudfx -macros macros.json")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - HID output requires a configured USB gadget keyboard (/dev/hidg0)")
	fmt.Println("  - Button input requires read access to the evdev devices")
	fmt.Println()
}

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			printVersion()
			return
		}
		if arg == "-help" || arg == "--help" || arg == "-h" {
			printUsage()
			return
		}
	}

	var (
		configPath     = flag.String("config", "", "YAML configuration file")
		macrosPath     = flag.String("macros", "", "macros.json command table (overrides config)")
		feedName       = flag.String("feed-name", "", "Feed name to poll (overrides config)")
		pollIntervalMS = flag.Int("poll-interval-ms", 0, "Feed poll interval in ms (overrides config)")
		ipcSocketPath  = flag.String("ipc-socket", "", "Unix domain socket path for IPC (overrides config)")
		logLevelStr    = flag.String("log-level", "info", "Log level: error, warn, info, debug")
		showVersion    = flag.Bool("version", false, "Print version and exit")
		showHelp       = flag.Bool("help", false, "Print help message")
	)

	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		printVersion()
		return
	}

	logLevel, err := parseLogLevel(*logLevelStr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	logger := setupLogger(logLevel)

	// Load config: file when given, otherwise defaults plus environment.
	var cfg Config
	if *configPath != "" {
		cfg, err = LoadConfig(*configPath)
		if err != nil {
			logger.Error("config load failed", "path", *configPath, "error", err)
			os.Exit(1)
		}
	} else {
		cfg = DefaultConfig()
		cfg.applyEnv()
	}

	// Flag overrides win over file and environment.
	if *macrosPath != "" {
		cfg.MacrosPath = *macrosPath
	}
	if *feedName != "" {
		cfg.Feed.Name = *feedName
	}
	if *pollIntervalMS > 0 {
		cfg.Feed.PollIntervalMS = *pollIntervalMS
	}
	if *ipcSocketPath != "" {
		cfg.IPC.SocketPath = *ipcSocketPath
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	set, err := LoadMacros(cfg.MacrosPath)
	if err != nil {
		logger.Error("macros load failed", "path", cfg.MacrosPath, "error", err)
		os.Exit(1)
	}
	for _, w := range set.Warnings {
		logger.Warn("macros: " + w)
	}
	logger.Info("macros loaded", "path", cfg.MacrosPath, "commands", len(set.Commands), "pages", len(set.Apps))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Collaborators. A missing HID device only disables key output; display
	// and indicator backends are config-selected.
	keys := buildKeyEmitter(cfg, logger)
	display := buildDisplay(cfg, logger)
	indicator := buildIndicator(cfg, logger)

	var audio *AudioSink
	if cfg.Audio.Enabled {
		audio, err = NewAudioSink(cfg.Audio.SampleRate, logger)
		if err != nil {
			logger.Warn("audio unavailable, tones and clips disabled", "error", err)
			audio = nil
		}
	}
	if audio != nil {
		defer audio.Close()
	}

	feed, err := NewAIOClient(cfg.Feed.BaseURL, cfg.Feed.Username, cfg.Feed.Key, cfg.Feed.Name,
		time.Duration(cfg.Feed.TimeoutMS)*time.Millisecond, logger)
	if err != nil {
		logger.Error("feed client setup failed", "error", err)
		os.Exit(1)
	}

	// Bring-up: the only phase where a feed failure is fatal. Spin until the
	// feed answers or the retry budget runs out.
	if err := bringUp(ctx, feed, indicator, cfg, logger); err != nil {
		logger.Error("feed bring-up failed", "error", err)
		os.Exit(1)
	}

	if cfg.Feed.ClearOnStart {
		clearFeed(ctx, feed, logger)
	}

	var audioSink ToneSink = audio
	if audio == nil {
		audioSink = silentSink{}
	}

	loop := newDispatchLoop(cfg, set.Commands, Collaborators{
		Feed:      feed,
		Keys:      keys,
		Display:   display,
		Indicator: indicator,
		Audio:     audioSink,
	}, logger)

	events := make(chan Event, 64)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.StatusWS.Enabled {
		hub := NewHub(logger)
		loop.statusFn = hub.Publish
		g.Go(func() error {
			hub.Run(gctx)
			return nil
		})
		g.Go(func() error {
			return runStatusServer(gctx, hub, cfg.StatusWS.Port, logger)
		})
	}

	if cfg.IPC.SocketPath != "" {
		g.Go(func() error {
			return runIPCServer(gctx, cfg.IPC.SocketPath, events, logger)
		})
	}

	if len(cfg.Buttons.Devices) > 0 {
		reader := newButtonReader(cfg.Buttons, set, events, logger)
		g.Go(func() error {
			return reader.Run(gctx)
		})
	}

	g.Go(func() error {
		return loop.Run(gctx, events)
	})

	logger.Info("cloudfx running", "version", version,
		"feed", cfg.Feed.Name,
		"ipc", cfg.IPC.SocketPath,
		"buttons", len(cfg.Buttons.Devices),
		"status_ws", cfg.StatusWS.Enabled)

	if err := g.Wait(); err != nil {
		logger.Error("daemon stopped", "error", err)
		indicator.Off()
		os.Exit(1)
	}

	indicator.Off()
	display.Clear()
	logger.Info("shutdown complete")
}

// bringUp verifies feed reachability before the loop starts. Retries are
// spaced by the configured delay; a retry budget of 0 spins until the feed
// answers or the context is canceled.
func bringUp(ctx context.Context, feed FeedClient, indicator Indicator, cfg Config, logger *slog.Logger) error {
	indicator.Set(colorConnecting)

	delay := time.Duration(cfg.Feed.BringupDelayMS) * time.Millisecond
	for attempt := 1; ; attempt++ {
		err := feed.Ping(ctx)
		if err == nil {
			logger.Info("feed reachable", "attempt", attempt)
			indicator.Set(colorConnected)
			time.Sleep(connectedFlash)
			indicator.Off()
			return nil
		}
		logger.Warn("feed unreachable", "attempt", attempt, "error", err)
		if cfg.Feed.BringupRetries > 0 && attempt >= cfg.Feed.BringupRetries {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// clearFeed drains stale items left on the feed from previous sessions so the
// first poll starts clean. Best-effort.
func clearFeed(ctx context.Context, feed FeedClient, logger *slog.Logger) {
	items, err := feed.FetchAll(ctx)
	if err != nil {
		logger.Warn("feed clear fetch failed", "error", err)
		return
	}
	for _, item := range items {
		if err := feed.Delete(ctx, item.ID); err != nil {
			logger.Warn("feed clear delete failed", "id", item.ID, "error", err)
		}
	}
	if len(items) > 0 {
		logger.Info("cleared stale feed items", "count", len(items))
	}
}

func buildKeyEmitter(cfg Config, logger *slog.Logger) KeyEmitter {
	if cfg.HID.Device == "" {
		logger.Info("HID device not configured, key output disabled")
		return disabledEmitter{logger: logger}
	}
	kb, err := OpenGadgetKeyboard(cfg.HID.Device, logger)
	if err != nil {
		logger.Warn("HID device unavailable, key output disabled", "device", cfg.HID.Device, "error", err)
		return disabledEmitter{logger: logger}
	}
	logger.Info("HID gadget keyboard ready", "device", cfg.HID.Device)
	return kb
}

func buildDisplay(cfg Config, logger *slog.Logger) Display {
	switch cfg.Display.Backend {
	case "none":
		return nopDisplay{}
	default:
		return consoleDisplay{logger: logger}
	}
}

func buildIndicator(cfg Config, logger *slog.Logger) Indicator {
	switch cfg.Indicator.Backend {
	case "none":
		return nopIndicator{}
	case "sysfs":
		ind, err := newSysfsIndicator(cfg.Indicator.SysfsDir, logger)
		if err != nil {
			logger.Warn("sysfs indicator unavailable, falling back to console", "error", err)
			return consoleIndicator{logger: logger}
		}
		return ind
	default:
		return consoleIndicator{logger: logger}
	}
}

// silentSink discards audio steps when no sink could be opened.
type silentSink struct{}

func (silentSink) PlayTone(float64) error { return nil }
func (silentSink) PlayClip(string) error  { return nil }
