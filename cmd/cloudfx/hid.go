package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
)

// ============================================================================
// HID keyboard output
// ============================================================================
// The emitter writes 8-byte boot keyboard reports to a USB gadget device
// (configfs HID function, typically /dev/hidg0):
//
//   byte 0: modifier bitmask (LEFT_CONTROL..RIGHT_GUI = bits 0..7)
//   byte 1: reserved
//   bytes 2..7: up to six concurrently pressed usage IDs
//
// All operations are idempotent; pressing a pressed key or releasing a
// released one is a no-op on the wire.
// ============================================================================

// KeyEmitter is the HID collaborator used by the command executor.
type KeyEmitter interface {
	Press(k Keycode) error
	Release(k Keycode) error
	ReleaseAll() error
	WriteText(s string) error
}

// GadgetKeyboard emits reports to a HID gadget character device.
type GadgetKeyboard struct {
	dev    io.Writer
	closer io.Closer
	logger *slog.Logger

	modifiers byte
	keys      [6]Keycode

	// charDelay separates per-character reports in WriteText so hosts
	// don't coalesce them.
	charDelay time.Duration
	sleep     func(time.Duration)
}

// OpenGadgetKeyboard opens the gadget device for writing.
func OpenGadgetKeyboard(path string, logger *slog.Logger) (*GadgetKeyboard, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open HID gadget %s: %w", path, err)
	}
	return newGadgetKeyboard(f, f, logger), nil
}

func newGadgetKeyboard(w io.Writer, closer io.Closer, logger *slog.Logger) *GadgetKeyboard {
	return &GadgetKeyboard{
		dev:       w,
		closer:    closer,
		logger:    logger,
		charDelay: 2 * time.Millisecond,
		sleep:     time.Sleep,
	}
}

func (g *GadgetKeyboard) Close() error {
	if g.closer != nil {
		return g.closer.Close()
	}
	return nil
}

func (g *GadgetKeyboard) report() error {
	buf := [8]byte{0: g.modifiers}
	for i, k := range g.keys {
		buf[2+i] = byte(k)
	}
	if _, err := g.dev.Write(buf[:]); err != nil {
		return fmt.Errorf("write HID report: %w", err)
	}
	return nil
}

// Press asserts a key and sends the updated report.
func (g *GadgetKeyboard) Press(k Keycode) error {
	if k.IsModifier() {
		g.modifiers |= 1 << (k - modifierFirst)
		return g.report()
	}

	free := -1
	for i, cur := range g.keys {
		if cur == k {
			return nil // already pressed
		}
		if cur == 0 && free < 0 {
			free = i
		}
	}
	if free < 0 {
		return fmt.Errorf("HID report full (6 keys pressed)")
	}
	g.keys[free] = k
	return g.report()
}

// Release clears a key and sends the updated report.
func (g *GadgetKeyboard) Release(k Keycode) error {
	if k.IsModifier() {
		g.modifiers &^= 1 << (k - modifierFirst)
		return g.report()
	}
	for i, cur := range g.keys {
		if cur == k {
			g.keys[i] = 0
			return g.report()
		}
	}
	return nil // not pressed; idempotent
}

// ReleaseAll clears every key and modifier with a single empty report.
func (g *GadgetKeyboard) ReleaseAll() error {
	g.modifiers = 0
	g.keys = [6]Keycode{}
	return g.report()
}

// WriteText types a literal ASCII string, one press/release per character.
// Characters without a usage mapping are skipped with a warning.
func (g *GadgetKeyboard) WriteText(s string) error {
	for _, r := range s {
		code, shift, ok := asciiKeycode(r)
		if !ok {
			g.logger.Warn("unmapped character in text", "char", string(r))
			continue
		}

		if shift {
			g.modifiers |= 1 << (Keycode(0xE1) - modifierFirst)
		}
		if err := g.Press(code); err != nil {
			return err
		}
		g.sleep(g.charDelay)
		if err := g.Release(code); err != nil {
			return err
		}
		if shift {
			g.modifiers &^= 1 << (Keycode(0xE1) - modifierFirst)
			if err := g.report(); err != nil {
				return err
			}
		}
	}
	return nil
}

// asciiKeycode maps a printable ASCII rune to (usage, needs-shift).
func asciiKeycode(r rune) (Keycode, bool, bool) {
	switch {
	case r >= 'a' && r <= 'z':
		return Keycode(0x04 + r - 'a'), false, true
	case r >= 'A' && r <= 'Z':
		return Keycode(0x04 + r - 'A'), true, true
	case r >= '1' && r <= '9':
		return Keycode(0x1E + r - '1'), false, true
	case r == '0':
		return 0x27, false, true
	}

	switch r {
	case '\n':
		return 0x28, false, true
	case ' ':
		return 0x2C, false, true
	case '\t':
		return 0x2B, false, true
	case '-':
		return 0x2D, false, true
	case '_':
		return 0x2D, true, true
	case '=':
		return 0x2E, false, true
	case '+':
		return 0x2E, true, true
	case '[':
		return 0x2F, false, true
	case ']':
		return 0x30, false, true
	case '\\':
		return 0x31, false, true
	case ';':
		return 0x33, false, true
	case ':':
		return 0x33, true, true
	case '\'':
		return 0x34, false, true
	case '"':
		return 0x34, true, true
	case '`':
		return 0x35, false, true
	case '~':
		return 0x35, true, true
	case ',':
		return 0x36, false, true
	case '<':
		return 0x36, true, true
	case '.':
		return 0x37, false, true
	case '>':
		return 0x37, true, true
	case '/':
		return 0x38, false, true
	case '?':
		return 0x38, true, true
	case '!':
		return 0x1E, true, true
	case '@':
		return 0x1F, true, true
	case '#':
		return 0x20, true, true
	case '$':
		return 0x21, true, true
	case '%':
		return 0x22, true, true
	case '^':
		return 0x23, true, true
	case '&':
		return 0x24, true, true
	case '*':
		return 0x25, true, true
	case '(':
		return 0x26, true, true
	case ')':
		return 0x27, true, true
	}

	return 0, false, false
}

// disabledEmitter is used when no HID device is configured or bring-up
// failed; key output becomes a logged no-op so the loop keeps running.
type disabledEmitter struct {
	logger *slog.Logger
}

func (d disabledEmitter) Press(k Keycode) error   { return nil }
func (d disabledEmitter) Release(k Keycode) error { return nil }
func (d disabledEmitter) ReleaseAll() error       { return nil }
func (d disabledEmitter) WriteText(s string) error {
	d.logger.Debug("HID disabled; dropping text", "text", s)
	return nil
}
