package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// ============================================================================
// Test doubles
// ============================================================================

// fakeFeed scripts fetch results and records every client call.
type fakeFeed struct {
	mu sync.Mutex

	// batches are returned by successive FetchAll calls; after the script
	// runs out, FetchAll returns empty.
	batches [][]FeedItem
	fetches int

	fetchErr  error
	pingErr   error
	reconnErr error

	deleted    []string
	deleteErr  map[string]error
	reconnects int
	pings      int
}

func (f *fakeFeed) FetchAll(ctx context.Context) ([]FeedItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if len(f.batches) == 0 {
		return nil, nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return batch, nil
}

func (f *fakeFeed) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	if f.deleteErr != nil {
		return f.deleteErr[id]
	}
	return nil
}

func (f *fakeFeed) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	return f.pingErr
}

func (f *fakeFeed) Reconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
	return f.reconnErr
}

// recordingKeys records the key operation sequence.
type recordingKeys struct {
	ops      []string
	pressErr map[Keycode]error
}

func (k *recordingKeys) Press(c Keycode) error {
	k.ops = append(k.ops, fmt.Sprintf("press:%#02x", byte(c)))
	if k.pressErr != nil {
		return k.pressErr[c]
	}
	return nil
}

func (k *recordingKeys) Release(c Keycode) error {
	k.ops = append(k.ops, fmt.Sprintf("release:%#02x", byte(c)))
	return nil
}

func (k *recordingKeys) ReleaseAll() error {
	k.ops = append(k.ops, "release_all")
	return nil
}

func (k *recordingKeys) WriteText(s string) error {
	k.ops = append(k.ops, "write:"+s)
	return nil
}

// recordingDisplay records shown texts and clears.
type recordingDisplay struct {
	shown  []string
	clears int
}

func (d *recordingDisplay) ShowText(text string) error {
	d.shown = append(d.shown, text)
	return nil
}

func (d *recordingDisplay) Clear() error {
	d.clears++
	return nil
}

// recordingIndicator records set colors.
type recordingIndicator struct {
	colors []Color
}

func (i *recordingIndicator) Set(c Color) error {
	i.colors = append(i.colors, c)
	return nil
}

func (i *recordingIndicator) Off() error {
	i.colors = append(i.colors, colorOff)
	return nil
}

func (i *recordingIndicator) last() Color {
	if len(i.colors) == 0 {
		return colorOff
	}
	return i.colors[len(i.colors)-1]
}

type recordingAudio struct {
	tones []float64
	clips []string
}

func (a *recordingAudio) PlayTone(f float64) error {
	a.tones = append(a.tones, f)
	return nil
}

func (a *recordingAudio) PlayClip(p string) error {
	a.clips = append(a.clips, p)
	return nil
}

// ============================================================================
// Harness
// ============================================================================

type loopFixture struct {
	loop      *DispatchLoop
	feed      *fakeFeed
	keys      *recordingKeys
	display   *recordingDisplay
	indicator *recordingIndicator
	audio     *recordingAudio
}

func simpleTable() CommandTable {
	return CommandTable{
		"A": {Label: "Action A", Color: 0xFF0000, Steps: []Step{
			PressKey{Key: Key{Name: "A", Code: 0x04}},
		}},
		"B": {Label: "Action B", Color: 0x00FF00, Steps: []Step{
			PressKey{Key: Key{Name: "CONTROL", Code: 0xE0}},
			PressKey{Key: Key{Name: "B", Code: 0x05}},
		}},
	}
}

func newLoopFixture(t *testing.T, mutate func(*Config)) *loopFixture {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Feed.Username = "tester"
	cfg.Feed.Key = "secret"
	if mutate != nil {
		mutate(&cfg)
	}

	f := &loopFixture{
		feed:      &fakeFeed{},
		keys:      &recordingKeys{},
		display:   &recordingDisplay{},
		indicator: &recordingIndicator{},
		audio:     &recordingAudio{},
	}

	logger := setupLogger(LogLevelError)
	f.loop = newDispatchLoop(cfg, simpleTable(), Collaborators{
		Feed:      f.feed,
		Keys:      f.keys,
		Display:   f.display,
		Indicator: f.indicator,
		Audio:     f.audio,
	}, logger)

	// Deterministic plumbing for tests.
	f.loop.sleep = func(time.Duration) {}
	f.loop.collect = func() {}
	f.loop.memFree = func() uint64 { return 1 << 30 }

	return f
}

// shownTexts filters out page/status texts, keeping dispatch order visible.
func (f *loopFixture) shownTexts() []string {
	return f.display.shown
}

// ============================================================================
// Tests
// ============================================================================

func TestPollNormalizesNewestFirstToOldestFirst(t *testing.T) {
	f := newLoopFixture(t, nil)

	// Feed returns newest-first: "B" was posted after "A".
	f.feed.batches = [][]FeedItem{{
		{ID: "2", Value: "B"},
		{ID: "1", Value: "A"},
	}}

	base := time.Now()
	f.loop.Tick(base)                            // poll + dispatch "A"
	f.loop.Tick(base.Add(f.loop.cfg.Tick()))     // dispatch "B"
	f.loop.Tick(base.Add(2 * f.loop.cfg.Tick())) // idle

	want := []string{"Action A", "Action B"}
	got := f.shownTexts()
	if len(got) != len(want) {
		t.Fatalf("displayed %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("display[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestPollDeletesEveryItemBestEffort(t *testing.T) {
	f := newLoopFixture(t, nil)

	f.feed.batches = [][]FeedItem{{
		{ID: "3", Value: "B"},
		{ID: "2", Value: ""}, // empty value: deleted but not enqueued
		{ID: "1", Value: "A"},
	}}
	f.feed.deleteErr = map[string]error{"2": errors.New("gone already")}

	f.loop.Tick(time.Now())

	if len(f.feed.deleted) != 3 {
		t.Fatalf("deleted %v, want all 3 items despite one failure", f.feed.deleted)
	}
	if f.loop.queue.Len()+len(f.display.shown) != 2 {
		t.Errorf("want 2 commands enqueued (one dispatched), queue=%d shown=%d",
			f.loop.queue.Len(), len(f.display.shown))
	}
}

func TestDispatchAtMostOnePerTick(t *testing.T) {
	f := newLoopFixture(t, nil)

	now := time.Now()
	for i := 0; i < 3; i++ {
		f.loop.handleEvent(CommandReceived{Name: "A", Source: "test"}, now)
	}

	f.loop.Tick(now)
	if got := len(f.display.shown); got != 1 {
		t.Fatalf("after 1 tick: %d dispatches, want 1", got)
	}

	f.loop.Tick(now.Add(f.loop.cfg.Tick()))
	f.loop.Tick(now.Add(2 * f.loop.cfg.Tick()))
	if got := len(f.display.shown); got != 3 {
		t.Errorf("after 3 ticks: %d dispatches, want 3", got)
	}
}

func TestUnknownCommandBetweenKnownOnesPreservesOrder(t *testing.T) {
	f := newLoopFixture(t, nil)

	now := time.Now()
	for _, name := range []string{"A", "X", "B"} {
		f.loop.handleEvent(CommandReceived{Name: name}, now)
	}

	f.loop.Tick(now)                              // dispatch A
	f.loop.Tick(now.Add(f.loop.cfg.Tick()))       // X: not found, no side effects
	f.loop.Tick(now.Add(2 * f.loop.cfg.Tick()))   // dispatch B

	got := f.display.shown
	if len(got) != 2 || got[0] != "Action A" || got[1] != "Action B" {
		t.Errorf("dispatch order %v, want [Action A, Action B]", got)
	}

	// Exactly two executions: "X" produced no key output at all.
	releases := 0
	for _, op := range f.keys.ops {
		if op == "release_all" {
			releases++
		}
	}
	if releases != 2 {
		t.Errorf("release_all count = %d, want 2 (one per dispatched action)", releases)
	}
}

func TestQueueOverflowDropsNewest(t *testing.T) {
	f := newLoopFixture(t, func(c *Config) {
		c.Loop.QueueCapacity = 2
	})

	now := time.Now()
	f.loop.handleEvent(CommandReceived{Name: "A"}, now)
	f.loop.handleEvent(CommandReceived{Name: "B"}, now)
	f.loop.handleEvent(CommandReceived{Name: "A"}, now) // dropped

	if got := f.loop.queue.Len(); got != 2 {
		t.Fatalf("queue length = %d, want capacity 2", got)
	}
	if got := f.loop.queue.Dropped(); got != 1 {
		t.Errorf("dropped = %d, want 1", got)
	}

	// Survivors preserve arrival order.
	f.loop.Tick(now)
	f.loop.Tick(now.Add(f.loop.cfg.Tick()))
	if f.display.shown[0] != "Action A" || f.display.shown[1] != "Action B" {
		t.Errorf("dispatch order %v, want [Action A, Action B]", f.display.shown)
	}
}

func TestDisplayExpiryIsBoundaryInclusive(t *testing.T) {
	f := newLoopFixture(t, nil)

	base := time.Now()
	f.loop.handleEvent(ShowText{Text: "hello"}, base)

	timeout := f.loop.cfg.DisplayTimeout()

	// One tick shy of the timeout: still showing.
	f.loop.expireDisplay(base.Add(timeout - time.Millisecond))
	if f.display.clears != 0 {
		t.Fatal("display cleared before timeout")
	}

	// Exactly at the timeout: cleared.
	f.loop.expireDisplay(base.Add(timeout))
	if f.display.clears != 1 {
		t.Fatal("display not cleared at exact timeout boundary")
	}
	if f.loop.showing {
		t.Error("loop still marked showing after expiry")
	}
}

func TestFailureThresholdForcesExactlyOneReconnect(t *testing.T) {
	f := newLoopFixture(t, nil)
	f.feed.fetchErr = errors.New("boom")

	threshold := f.loop.cfg.Feed.FailureThreshold
	interval := f.loop.cfg.PollInterval()

	// Health checks would also reconnect; push them out of the way.
	f.loop.lastHealth = time.Now().Add(24 * time.Hour)

	now := time.Now()
	for i := 0; i < threshold; i++ {
		f.loop.pollFeed(now)
		now = now.Add(interval)
	}

	if f.feed.reconnects != 1 {
		t.Fatalf("reconnects = %d after %d failures, want exactly 1", f.feed.reconnects, threshold)
	}
	if f.loop.failures != 0 {
		t.Errorf("failure counter = %d after forced reconnect, want 0", f.loop.failures)
	}

	// One more failure run below the threshold must not reconnect again.
	for i := 0; i < threshold-1; i++ {
		f.loop.pollFeed(now)
		now = now.Add(interval)
	}
	if f.feed.reconnects != 1 {
		t.Errorf("reconnects = %d, want still 1 below threshold", f.feed.reconnects)
	}
}

func TestSuccessfulPollResetsFailureCounter(t *testing.T) {
	f := newLoopFixture(t, nil)
	f.feed.fetchErr = errors.New("boom")
	f.loop.lastHealth = time.Now().Add(24 * time.Hour)

	interval := f.loop.cfg.PollInterval()
	now := time.Now()
	for i := 0; i < 3; i++ {
		f.loop.pollFeed(now)
		now = now.Add(interval)
	}
	if f.loop.failures != 3 {
		t.Fatalf("failures = %d, want 3", f.loop.failures)
	}

	f.feed.fetchErr = nil
	f.loop.pollFeed(now)
	if f.loop.failures != 0 {
		t.Errorf("failures = %d after success, want 0", f.loop.failures)
	}
	if f.feed.reconnects != 0 {
		t.Errorf("reconnects = %d, want 0", f.feed.reconnects)
	}
}

func TestFailedStepStillReleasesAllKeys(t *testing.T) {
	f := newLoopFixture(t, nil)
	f.keys.pressErr = map[Keycode]error{0x05: errors.New("report full")}

	now := time.Now()
	f.loop.handleEvent(CommandReceived{Name: "B"}, now)
	f.loop.Tick(now)

	// CONTROL pressed, B failed, then release_all regardless.
	last := f.keys.ops[len(f.keys.ops)-1]
	if last != "release_all" {
		t.Fatalf("last key op = %q, want release_all after failed step", last)
	}
}

func TestUnknownCommandIsSkipped(t *testing.T) {
	f := newLoopFixture(t, nil)

	now := time.Now()
	f.loop.handleEvent(CommandReceived{Name: "NoSuchCommand"}, now)
	f.loop.Tick(now)

	if len(f.display.shown) != 0 {
		t.Errorf("unknown command produced display output: %v", f.display.shown)
	}
	if len(f.keys.ops) != 0 {
		t.Errorf("unknown command produced key output: %v", f.keys.ops)
	}
	if f.loop.queue.Len() != 0 {
		t.Error("unknown command left the queue non-empty")
	}
}

func TestTickRecoversFromPanic(t *testing.T) {
	f := newLoopFixture(t, nil)

	f.loop.memFree = func() uint64 { panic("injected") }

	// Must not propagate.
	f.loop.Tick(time.Now())

	// Next tick with sane plumbing still works.
	f.loop.memFree = func() uint64 { return 1 << 30 }
	f.loop.handleEvent(CommandReceived{Name: "A"}, time.Now())
	f.loop.Tick(time.Now().Add(f.loop.cfg.Tick()))
	if len(f.display.shown) != 1 {
		t.Error("loop did not keep dispatching after a recovered panic")
	}
}

func TestHealthCheckReconnectsWithBoundedRetries(t *testing.T) {
	f := newLoopFixture(t, nil)
	f.feed.pingErr = errors.New("unreachable")
	f.feed.reconnErr = errors.New("still unreachable")

	f.loop.checkHealth(time.Now())

	if f.feed.reconnects != f.loop.cfg.Loop.ReconnectRetries {
		t.Fatalf("reconnect attempts = %d, want %d", f.feed.reconnects, f.loop.cfg.Loop.ReconnectRetries)
	}
	if !f.loop.errorLatched {
		t.Error("error state not latched after exhausted retries")
	}
	if f.indicator.last() != colorError {
		t.Errorf("indicator = %v, want error color", f.indicator.last())
	}
}

func TestHealthRecoveryClearsLatchedError(t *testing.T) {
	f := newLoopFixture(t, nil)
	f.feed.pingErr = errors.New("unreachable")
	f.feed.reconnErr = errors.New("still unreachable")

	now := time.Now()
	f.loop.checkHealth(now)
	if !f.loop.errorLatched {
		t.Fatal("precondition: error not latched")
	}

	f.feed.pingErr = nil
	f.loop.checkHealth(now.Add(f.loop.cfg.HealthInterval()))
	if f.loop.errorLatched {
		t.Error("error still latched after successful health check")
	}
}

func TestStartupPollsPolicyCountsDown(t *testing.T) {
	f := newLoopFixture(t, func(c *Config) {
		c.Indicator.Startup = startupModePolls
		c.Indicator.StartupPolls = 2
	})

	interval := f.loop.cfg.PollInterval()
	now := time.Now()

	f.loop.pollFeed(now)
	if f.indicator.last() != colorConnected {
		t.Fatalf("after poll 1: indicator %v, want connected", f.indicator.last())
	}

	f.loop.pollFeed(now.Add(interval))
	f.loop.pollFeed(now.Add(2 * interval))
	if f.indicator.last() != colorOff {
		t.Errorf("after startup polls exhausted: indicator %v, want off", f.indicator.last())
	}
}

func TestProgressRampTracksTimeToNextPoll(t *testing.T) {
	f := newLoopFixture(t, func(c *Config) {
		c.Indicator.Progress = true
	})
	f.loop.startupPollsLeft = 0

	interval := f.loop.cfg.PollInterval()
	now := time.Now()
	f.loop.pollFeed(now)

	f.loop.animateProgress(now.Add(interval / 2))
	want := colorConnecting.Scaled(0.5)
	if f.indicator.last() != want {
		t.Errorf("at half interval: indicator %v, want %v", f.indicator.last(), want)
	}

	f.loop.animateProgress(now.Add(interval))
	if f.indicator.last() != colorConnecting {
		t.Errorf("at full interval: indicator %v, want %v", f.indicator.last(), colorConnecting)
	}

	// The ramp never steals the indicator from an active display.
	f.loop.show("busy", now)
	f.loop.setIndicator(colorBusy)
	f.loop.animateProgress(now.Add(interval / 4))
	if f.indicator.last() != colorBusy {
		t.Errorf("while showing: indicator %v, want busy", f.indicator.last())
	}
}

func TestColorScaledClampsChannels(t *testing.T) {
	tests := []struct {
		in   Color
		frac float64
		want Color
	}{
		{0xFF00FF, 0.5, 0x7F007F},
		{0x0000FF, 1.0, 0x0000FF},
		{0x0000FF, 1.5, 0x0000FF},
		{0xFFFFFF, 0, 0x000000},
		{0xFFFFFF, -1, 0x000000},
	}
	for _, tt := range tests {
		if got := tt.in.Scaled(tt.frac); got != tt.want {
			t.Errorf("Scaled(%v, %v) = %v, want %v", tt.in, tt.frac, got, tt.want)
		}
	}
}

func TestMaintenanceRunsOnItsOwnInterval(t *testing.T) {
	calls := 0
	f := newLoopFixture(t, nil)
	f.loop.collect = func() { calls++ }

	base := time.Now()
	f.loop.maintain(base)
	f.loop.maintain(base.Add(time.Second)) // below interval, skipped
	f.loop.maintain(base.Add(f.loop.cfg.GCInterval()))

	if calls != 2 {
		t.Errorf("gc calls = %d, want 2", calls)
	}
}

func TestIndicatorStepKeepsBusyColorWorking(t *testing.T) {
	f := newLoopFixture(t, nil)
	f.loop.table["glow"] = Action{Label: "Glow", Steps: []Step{
		SetIndicatorStep{Color: 0x00FF00},
	}}

	now := time.Now()
	f.loop.handleEvent(CommandReceived{Name: "glow"}, now)
	f.loop.dispatchOne(now)
	if f.indicator.last() != 0x00FF00 {
		t.Fatalf("after indicator step: %v, want #00FF00", f.indicator.last())
	}

	// A later command must still get its busy indication; the step above
	// must not leave a stale color in the change filter.
	f.loop.handleEvent(CommandReceived{Name: "A"}, now)
	f.loop.dispatchOne(now)
	if f.indicator.last() != colorBusy {
		t.Errorf("after second dispatch: %v, want busy %v", f.indicator.last(), colorBusy)
	}
}

func TestLowMemoryFlashesDiagnosticAndContinues(t *testing.T) {
	f := newLoopFixture(t, nil)
	f.loop.startupPollsLeft = 0
	f.loop.memFree = func() uint64 { return 1024 }

	var slept []time.Duration
	f.loop.sleep = func(d time.Duration) { slept = append(slept, d) }

	f.loop.maintain(time.Now())

	if len(f.indicator.colors) != 2 || f.indicator.colors[0] != colorError {
		t.Errorf("colors = %v, want error flash first", f.indicator.colors)
	}
	if f.indicator.last() != colorOff {
		t.Errorf("indicator = %v, want restored to off", f.indicator.last())
	}
	if len(slept) != 1 || slept[0] != commandFlash {
		t.Errorf("sleeps = %v, want one flash of %v", slept, commandFlash)
	}
}

func TestAudioStepsReachTheSink(t *testing.T) {
	f := newLoopFixture(t, nil)
	f.loop.table["chime"] = Action{Label: "Chime", Steps: []Step{
		PlayTone{FreqHz: 880},
		HoldStep{Duration: 100 * time.Millisecond},
		PlayTone{FreqHz: 0},
		PlayClip{Path: "done.wav"},
	}}

	now := time.Now()
	f.loop.handleEvent(CommandReceived{Name: "chime"}, now)
	f.loop.Tick(now)

	if len(f.audio.tones) != 2 || f.audio.tones[0] != 880 || f.audio.tones[1] != 0 {
		t.Errorf("tones = %v, want [880 0]", f.audio.tones)
	}
	if len(f.audio.clips) != 1 || f.audio.clips[0] != "done.wav" {
		t.Errorf("clips = %v, want [done.wav]", f.audio.clips)
	}
}
