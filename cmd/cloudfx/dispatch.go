package main

import (
	"context"
	"log/slog"
	"runtime"
	"time"
)

// ============================================================================
// Command Dispatch Loop
// ============================================================================
// One goroutine owns everything here. The loop ticks at a fixed cadence and
// time-slices its work: poll the feed, dispatch at most one queued command,
// expire the display, check connectivity health, run maintenance. Each slice
// compares elapsed monotonic time against its own interval, so the loop is a
// multi-rate cooperative scheduler rather than real concurrency.
//
// Nothing may escape a tick: dispatch errors are logged and the next tick
// always runs. The only blocking calls are the intentional short sleeps for
// key hold timing and indicator flashes.
// ============================================================================

// ToneSink is the audio collaborator for tone and clip steps.
type ToneSink interface {
	PlayTone(freqHz float64) error
	PlayClip(path string) error
}

// Collaborators are the external devices the loop drives. All of them have
// fixed interfaces; the loop never cares what is behind them.
type Collaborators struct {
	Feed      FeedClient
	Keys      KeyEmitter
	Display   Display
	Indicator Indicator
	Audio     ToneSink
}

// StatusSnapshot is the externally visible loop state, broadcast to status
// WebSocket clients whenever it changes.
type StatusSnapshot struct {
	Display    string `json:"display"`
	Showing    bool   `json:"showing"`
	Indicator  string `json:"indicator"`
	Degraded   bool   `json:"degraded"`
	QueueLen   int    `json:"queue_len"`
	Dropped    uint64 `json:"dropped"`
	Reconnects uint64 `json:"reconnects"`
}

// DispatchLoop is the parameterized command dispatch loop. Every firmware
// variant's behavior is one configuration permutation of this struct.
type DispatchLoop struct {
	cfg    Config
	logger *slog.Logger

	feed      FeedClient
	keys      KeyEmitter
	display   Display
	indicator Indicator
	audio     ToneSink

	table CommandTable
	queue *PendingQueue

	// Display state machine: SHOWING(text, since) or IDLE.
	showing   bool
	shownText string
	shownAt   time.Time

	// ConnectionHealth: consecutive poll failure counter, forced-reconnect
	// bookkeeping and the latched health-check error indicator.
	failures     int
	reconnects   uint64
	errorLatched bool

	// Startup indication policy state ("polls" mode counts down).
	startupPollsLeft int

	// Screensaver
	saverActive bool
	lastInput   time.Time

	// Slice timers
	lastPoll   time.Time
	lastGC     time.Time
	lastHealth time.Time

	// lastColor mirrors what the indicator currently shows, for snapshots.
	lastColor Color

	// Injection points for tests.
	ctx     context.Context
	sleep   func(time.Duration)
	collect func()
	memFree func() uint64

	// statusFn, when set, receives a snapshot after observable changes.
	statusFn func(StatusSnapshot)
}

func newDispatchLoop(cfg Config, table CommandTable, c Collaborators, logger *slog.Logger) *DispatchLoop {
	l := &DispatchLoop{
		cfg:       cfg,
		logger:    logger,
		feed:      c.Feed,
		keys:      c.Keys,
		display:   c.Display,
		indicator: c.Indicator,
		audio:     c.Audio,
		table:     table,
		queue:     newPendingQueue(cfg.Loop.QueueCapacity),
		ctx:       context.Background(),
		sleep:     time.Sleep,
		collect:   runtime.GC,
		memFree:   freeHeapBytes,
	}
	if cfg.Indicator.Startup == startupModePolls {
		l.startupPollsLeft = cfg.Indicator.StartupPolls
	}
	return l
}

// Run ticks the loop until ctx is canceled or the events channel closes.
func (l *DispatchLoop) Run(ctx context.Context, events <-chan Event) error {
	l.ctx = ctx
	l.lastInput = time.Now()

	ticker := time.NewTicker(l.cfg.Tick())
	defer ticker.Stop()

	l.logger.Info("dispatch loop running",
		"tick", l.cfg.Tick(),
		"poll_interval", l.cfg.PollInterval(),
		"queue_capacity", l.cfg.Loop.QueueCapacity,
		"commands", len(l.table))

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("dispatch loop stopping (context canceled)")
			return nil

		case ev, ok := <-events:
			if !ok {
				l.logger.Info("dispatch loop stopping (events channel closed)")
				return nil
			}
			l.handleEvent(ev, time.Now())

		case now := <-ticker.C:
			l.Tick(now)
		}
	}
}

// handleEvent processes one input event from the button reader or IPC.
func (l *DispatchLoop) handleEvent(ev Event, now time.Time) {
	switch e := ev.(type) {
	case CommandReceived:
		l.wake(now)
		if !l.queue.Push(e.Name) {
			l.logger.Warn("queue full, dropping command", "command", e.Name, "source", e.Source)
			return
		}
		l.logger.Debug("queued", "command", e.Name, "source", e.Source)

	case ShowText:
		l.wake(now)
		l.show(e.Text, now)

	case PageChanged:
		l.wake(now)
		l.show(e.Name, now)
		l.logger.Info("page changed", "index", e.Index, "name", e.Name)

	case InputActivity:
		l.wake(now)

	default:
		l.logger.Warn("unknown event type", "event", ev)
	}
	l.publishStatus()
}

// Tick runs one loop iteration. A panic inside a tick is logged and the
// next tick still runs.
func (l *DispatchLoop) Tick(now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("tick recovered", "panic", r)
		}
	}()

	l.pollFeed(now)
	l.dispatchOne(now)
	l.expireDisplay(now)
	l.animateProgress(now)
	l.checkScreensaver(now)
	l.checkHealth(now)
	l.maintain(now)
}

// ----------------------------------------------------------------------------
// Feed poller
// ----------------------------------------------------------------------------

func (l *DispatchLoop) pollFeed(now time.Time) {
	if now.Sub(l.lastPoll) < l.cfg.PollInterval() {
		return
	}
	l.lastPoll = now

	l.setIndicator(colorPolling)

	items, err := l.feed.FetchAll(l.ctx)
	if err != nil {
		l.failures++
		l.logger.Warn("feed fetch failed", "error", err, "consecutive", l.failures)
		l.setIndicator(colorError)

		if l.failures >= l.cfg.Feed.FailureThreshold {
			l.failures = 0
			l.reconnects++
			if rerr := l.feed.Reconnect(l.ctx); rerr != nil {
				l.logger.Error("feed session recreate failed", "error", rerr)
			} else {
				l.logger.Info("feed session recreated", "after_failures", l.cfg.Feed.FailureThreshold)
			}
		}
		l.publishStatus()
		return
	}
	l.failures = 0

	if len(items) > 0 {
		l.logger.Debug("feed returned items", "count", len(items))
	}

	// The feed returns newest-first; walk backwards so commands are
	// enqueued oldest-first.
	for i := len(items) - 1; i >= 0; i-- {
		item := items[i]
		if item.Value != "" {
			if !l.queue.Push(item.Value) {
				l.logger.Warn("queue full, dropping feed command", "command", item.Value)
			}
		}
		if err := l.feed.Delete(l.ctx, item.ID); err != nil {
			l.logger.Warn("feed delete failed", "id", item.ID, "error", err)
		}
	}

	l.afterPollSuccess()
	l.publishStatus()
}

// afterPollSuccess restores the idle indication according to the startup
// policy once a poll completes cleanly.
func (l *DispatchLoop) afterPollSuccess() {
	if l.errorLatched {
		return // health supervisor owns the indicator until its next check
	}
	if l.showing {
		return // busy color stays while a command is displayed
	}
	if l.startupPollsLeft > 0 {
		l.setIndicator(colorConnected)
		l.startupPollsLeft--
		return
	}
	l.idleIndicator()
}

// idleIndicator is what the LED shows when nothing is happening.
func (l *DispatchLoop) idleIndicator() {
	if l.cfg.Indicator.Startup == startupModePolls && l.startupPollsLeft > 0 {
		l.setIndicator(colorConnected)
		return
	}
	l.setIndicator(colorOff)
}

// ----------------------------------------------------------------------------
// Command executor
// ----------------------------------------------------------------------------

// dispatchOne pops and executes at most one command per tick, which bounds
// per-tick latency and keeps the loop responsive to button input.
func (l *DispatchLoop) dispatchOne(now time.Time) {
	cmd, ok := l.queue.Pop()
	if !ok {
		return
	}

	action, found := l.table[cmd]
	if !found {
		l.logger.Warn("command not found", "command", cmd)
		return
	}

	l.logger.Info("executing", "command", cmd, "keys", len(action.KeyNames()))
	l.show(action.Label, now)
	l.setIndicator(colorBusy)
	l.runSteps(action)
	l.publishStatus()
}

// runSteps executes an action's steps in order. Key presses are held for the
// configured minimum, then every key is released unconditionally, even when
// a step failed midway, so nothing stays logically pressed.
func (l *DispatchLoop) runSteps(action Action) {
	pressed := false

	for _, step := range action.Steps {
		var err error

		switch s := step.(type) {
		case PressKey:
			pressed = true
			err = l.keys.Press(s.Key.Code)
		case ReleaseKey:
			err = l.keys.Release(s.Key.Code)
		case HoldStep:
			l.sleep(s.Duration)
		case WriteText:
			err = l.keys.WriteText(s.Text)
		case SetIndicatorStep:
			// Through setIndicator so the lastColor mirror stays in
			// sync and later busy/idle transitions are not skipped.
			l.setIndicator(s.Color)
		case PlayTone:
			err = l.audio.PlayTone(s.FreqHz)
		case PlayClip:
			err = l.audio.PlayClip(s.Path)
		default:
			l.logger.Warn("unknown step type", "step", step)
		}

		if err != nil {
			l.logger.Warn("step failed", "step", step.String(), "error", err)
			break
		}
	}

	if pressed {
		l.sleep(l.cfg.KeyHold())
	}

	// Safety: always release, even after a failed step.
	if err := l.keys.ReleaseAll(); err != nil {
		l.logger.Error("release-all failed", "error", err)
	}
}

// ----------------------------------------------------------------------------
// Display/indicator expiry
// ----------------------------------------------------------------------------

func (l *DispatchLoop) show(text string, now time.Time) {
	if err := l.display.ShowText(text); err != nil {
		l.logger.Warn("display update failed", "error", err)
	}
	l.showing = true
	l.shownText = text
	l.shownAt = now
}

// expireDisplay clears the display once the timeout is reached. The check is
// boundary-inclusive and runs every tick, so a command landing exactly on
// the timeout still clears deterministically.
func (l *DispatchLoop) expireDisplay(now time.Time) {
	if !l.showing {
		return
	}
	if now.Sub(l.shownAt) < l.cfg.DisplayTimeout() {
		return
	}

	if err := l.display.Clear(); err != nil {
		l.logger.Warn("display clear failed", "error", err)
	}
	l.showing = false
	l.shownText = ""
	if !l.errorLatched {
		l.idleIndicator()
	}
	l.publishStatus()
}

// ----------------------------------------------------------------------------
// Poll-progress animation
// ----------------------------------------------------------------------------

// animateProgress ramps the idle LED brightness with the fraction of the
// poll interval already elapsed. Only runs while nothing else owns the
// indicator.
func (l *DispatchLoop) animateProgress(now time.Time) {
	if !l.cfg.Indicator.Progress {
		return
	}
	if l.showing || l.saverActive || l.errorLatched || l.startupPollsLeft > 0 {
		return
	}
	interval := l.cfg.PollInterval()
	if interval <= 0 {
		return
	}
	frac := float64(now.Sub(l.lastPoll)) / float64(interval)
	l.setIndicator(colorConnecting.Scaled(frac))
}

// ----------------------------------------------------------------------------
// Screensaver
// ----------------------------------------------------------------------------

func (l *DispatchLoop) checkScreensaver(now time.Time) {
	timeout := l.cfg.ScreensaverTimeout()
	if timeout <= 0 || len(l.cfg.Buttons.Devices) == 0 || l.saverActive {
		return
	}
	if now.Sub(l.lastInput) < timeout {
		return
	}

	l.saverActive = true
	if !l.showing {
		if err := l.display.Clear(); err != nil {
			l.logger.Warn("display clear failed", "error", err)
		}
	}
	l.setIndicator(colorOff)
	l.logger.Debug("screensaver active")
}

func (l *DispatchLoop) wake(now time.Time) {
	l.lastInput = now
	if !l.saverActive {
		return
	}
	l.saverActive = false
	if !l.errorLatched {
		l.idleIndicator()
	}
	l.logger.Debug("screensaver wake")
}

// ----------------------------------------------------------------------------
// Health supervisor
// ----------------------------------------------------------------------------

// checkHealth probes connectivity on its own interval. A failed probe gets a
// bounded number of reconnect attempts; after that the error indicator
// latches until the next scheduled check rather than busy-looping.
func (l *DispatchLoop) checkHealth(now time.Time) {
	if now.Sub(l.lastHealth) < l.cfg.HealthInterval() {
		return
	}
	l.lastHealth = now

	if err := l.feed.Ping(l.ctx); err == nil {
		if l.errorLatched {
			l.errorLatched = false
			l.logger.Info("connectivity restored")
			if !l.showing {
				l.idleIndicator()
			}
			l.publishStatus()
		}
		return
	}

	l.logger.Warn("connectivity check failed, attempting reconnect")
	for attempt := 1; attempt <= l.cfg.Loop.ReconnectRetries; attempt++ {
		err := l.feed.Reconnect(l.ctx)
		if err != nil {
			l.logger.Warn("reconnect failed", "attempt", attempt, "error", err)
			continue
		}
		l.failures = 0
		l.errorLatched = false
		l.logger.Info("reconnected", "attempt", attempt)
		if !l.showing {
			l.idleIndicator()
		}
		l.publishStatus()
		return
	}

	l.errorLatched = true
	l.setIndicator(colorError)
	l.publishStatus()
}

// ----------------------------------------------------------------------------
// Periodic maintenance
// ----------------------------------------------------------------------------

func (l *DispatchLoop) maintain(now time.Time) {
	if now.Sub(l.lastGC) < l.cfg.GCInterval() {
		return
	}
	l.lastGC = now

	l.collect()

	if free := l.memFree(); free < uint64(l.cfg.Loop.MemLowWaterBytes) {
		l.logger.Warn("free memory below low-water mark", "free_bytes", free)
		// Diagnostic flash; processing continues.
		l.setIndicator(colorError)
		l.sleep(commandFlash)
		if l.errorLatched {
			l.setIndicator(colorError)
		} else if !l.showing {
			l.idleIndicator()
		} else {
			l.setIndicator(colorBusy)
		}
	}
}

// freeHeapBytes reports heap retained from the OS but not in use, the
// headroom the runtime can allocate into without growing its mappings.
func freeHeapBytes() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	if m.HeapIdle < m.HeapReleased {
		return 0
	}
	return m.HeapIdle - m.HeapReleased
}

// ----------------------------------------------------------------------------
// Status publication
// ----------------------------------------------------------------------------

func (l *DispatchLoop) setIndicator(c Color) {
	if c == l.lastColor {
		return
	}
	l.lastColor = c
	if err := l.indicator.Set(c); err != nil {
		l.logger.Warn("indicator update failed", "error", err)
	}
}

func (l *DispatchLoop) publishStatus() {
	if l.statusFn == nil {
		return
	}
	l.statusFn(StatusSnapshot{
		Display:    l.shownText,
		Showing:    l.showing,
		Indicator:  l.lastColor.String(),
		Degraded:   l.errorLatched,
		QueueLen:   l.queue.Len(),
		Dropped:    l.queue.Dropped(),
		Reconnects: l.reconnects,
	})
}
