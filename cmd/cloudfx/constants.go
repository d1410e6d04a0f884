package main

import "time"

// Loop cadence and timing defaults. These mirror the behavior the firmware
// variants shipped with; every one of them is overridable via config or flags.
const (
	defaultTick           = 50 * time.Millisecond
	defaultPollInterval   = 2 * time.Second
	defaultDisplayTimeout = 5 * time.Second
	defaultGCInterval     = 5 * time.Second
	defaultHealthInterval = 30 * time.Second

	defaultQueueCapacity    = 50
	defaultFailureThreshold = 5

	// Minimum time a key combination is asserted before release. Host
	// keyboard drivers need roughly this long to register an HID report.
	defaultKeyHold = 50 * time.Millisecond

	// Brief indicator flash when a command is picked up.
	commandFlash = 50 * time.Millisecond

	// Longest intentional indicator flash (bring-up "connected" blink).
	connectedFlash = 500 * time.Millisecond

	defaultFeedName    = "macros"
	defaultFeedBaseURL = "https://io.adafruit.com/api/v2"
	defaultFeedTimeout = 10 * time.Second

	// Bring-up retry policy: connection attempts before giving up, and the
	// pause between them. A retry limit of 0 means spin forever.
	defaultBringupRetries = 3
	defaultBringupDelay   = 2 * time.Second

	// Reconnect attempts per health-check cycle. Further attempts wait for
	// the next scheduled check rather than busy-looping.
	defaultReconnectRetries = 3

	// Free-heap low-water mark that triggers a diagnostic indicator flash.
	defaultMemLowWater = 8 << 20 // 8 MiB

	defaultScreensaverTimeout = 30 * time.Second
)

// Indicator colors (0xRRGGBB), matching the DotStar status scheme.
const (
	colorOff        Color = 0x000000
	colorConnecting Color = 0x0000FF
	colorConnected  Color = 0x00FF00
	colorPolling    Color = 0xFFFF00
	colorBusy       Color = 0xFF00FF
	colorError      Color = 0xFF0000
)

// Startup indicator policies. "polls" turns the connected indication off
// after a fixed number of successful polls; "display" keeps the indicator
// synced with the command display instead.
const (
	startupModePolls   = "polls"
	startupModeDisplay = "display"

	defaultStartupPolls = 2
)

// Linux input event types and codes (from <linux/input.h>), used by the
// local button/encoder reader.
const (
	evKey = 0x01
	evRel = 0x02

	relDial  = 0x07
	relWheel = 0x08
)

// Input event value constants
const (
	evValueRelease = 0
	evValuePress   = 1
	evValueRepeat  = 2
)
