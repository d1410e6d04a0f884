package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// ============================================================================
// Local button pad and rotary encoder reader
// ============================================================================
// Reads raw Linux input events from the configured evdev devices and
// translates them into loop events: pad presses become CommandReceived,
// encoder rotation becomes PageChanged, everything else wakes the
// screensaver. One goroutine with epoll covers all devices.
// ============================================================================

// inputEvent mirrors struct input_event from <linux/input.h>:
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

// ButtonReader owns the current page selection and the keycode-to-button
// mapping. It is the only writer of its page index.
type ButtonReader struct {
	cfg    ButtonsConfig
	pages  []App
	page   int
	events chan<- Event
	logger *slog.Logger
}

func newButtonReader(cfg ButtonsConfig, set *MacroSet, events chan<- Event, logger *slog.Logger) *ButtonReader {
	return &ButtonReader{
		cfg:    cfg,
		pages:  set.Apps,
		events: events,
		logger: logger,
	}
}

// Run opens the configured devices and pumps translated events until ctx is
// canceled or a device fails. A missing device is an error at open time, not
// a silent no-op.
func (b *ButtonReader) Run(ctx context.Context) error {
	if len(b.cfg.Devices) == 0 {
		b.logger.Info("no input devices configured, button reader disabled")
		<-ctx.Done()
		return nil
	}

	files := make([]*os.File, 0, len(b.cfg.Devices))
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()

	for _, path := range b.cfg.Devices {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("opening input device %s: %w", path, err)
		}
		files = append(files, f)
		b.logger.Info("input device opened", "device", path)
	}

	raw := make(chan inputEvent, 16)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go readInputEvents(files, raw, readErr, done)

	if len(b.pages) > 0 {
		b.send(ctx, PageChanged{Index: b.page, Name: b.pages[b.page].Name})
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return fmt.Errorf("input reader: %w", err)
		case ev := <-raw:
			b.handle(ctx, ev)
		}
	}
}

// handle translates one raw event. Key repeats are ignored so holding a pad
// button fires its command once.
func (b *ButtonReader) handle(ctx context.Context, ev inputEvent) {
	switch ev.Type {
	case evKey:
		if ev.Value != evValuePress {
			return
		}
		b.handleKey(ctx, ev.Code)

	case evRel:
		if ev.Code != relDial && ev.Code != relWheel {
			return
		}
		b.rotate(ctx, int(ev.Value))
	}
}

func (b *ButtonReader) handleKey(ctx context.Context, code uint16) {
	if code == b.cfg.EncoderClickCode && b.cfg.EncoderClickCode != 0 {
		// The encoder click addresses the button slot past the pad.
		b.press(ctx, len(b.cfg.KeyCodes))
		return
	}

	for i, kc := range b.cfg.KeyCodes {
		if kc == code {
			b.press(ctx, i)
			return
		}
	}

	b.logger.Debug("unmapped key", "code", code)
	b.send(ctx, InputActivity{At: time.Now()})
}

// press emits the command bound to pad position idx on the current page.
func (b *ButtonReader) press(ctx context.Context, idx int) {
	if len(b.pages) == 0 {
		b.send(ctx, InputActivity{At: time.Now()})
		return
	}

	buttons := b.pages[b.page].Buttons
	if idx < 0 || idx >= len(buttons) {
		b.logger.Debug("pad position unbound on page", "position", idx, "page", b.pages[b.page].Name)
		b.send(ctx, InputActivity{At: time.Now()})
		return
	}

	btn := buttons[idx]
	b.logger.Debug("pad press", "position", idx, "label", btn.Label, "command", btn.Command)
	b.send(ctx, CommandReceived{Name: btn.Command, Source: "buttons"})
}

// rotate steps the page selection by delta, wrapping in both directions.
func (b *ButtonReader) rotate(ctx context.Context, delta int) {
	n := len(b.pages)
	if n == 0 || delta == 0 {
		return
	}

	b.page = ((b.page+delta)%n + n) % n
	b.send(ctx, PageChanged{Index: b.page, Name: b.pages[b.page].Name})
}

func (b *ButtonReader) send(ctx context.Context, ev Event) {
	select {
	case b.events <- ev:
	case <-ctx.Done():
	}
}
