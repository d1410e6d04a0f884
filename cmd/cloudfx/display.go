package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Color is a 24-bit RGB color (0xRRGGBB).
type Color uint32

func (c Color) rgb() (uint8, uint8, uint8) {
	return uint8(c >> 16), uint8(c >> 8), uint8(c)
}

func (c Color) String() string {
	return fmt.Sprintf("#%06X", uint32(c))
}

// Scaled returns the color with every channel multiplied by frac, clamped
// to [0, 1]. Used for brightness ramps.
func (c Color) Scaled(frac float64) Color {
	if frac <= 0 {
		return 0
	}
	if frac > 1 {
		frac = 1
	}
	r, g, b := c.rgb()
	return Color(uint32(float64(r)*frac)<<16 |
		uint32(float64(g)*frac)<<8 |
		uint32(float64(b)*frac))
}

// Display is the transient text surface updated by the executor and cleared
// by the loop's timeout check.
type Display interface {
	ShowText(text string) error
	Clear() error
}

// Indicator is the status LED reflecting connection/busy/error state.
type Indicator interface {
	Set(c Color) error
	Off() error
}

// ============================================================================
// Console backends
// ============================================================================

// consoleDisplay logs display text; the default backend on hosts without a
// panel attached.
type consoleDisplay struct {
	logger *slog.Logger
}

func (d consoleDisplay) ShowText(text string) error {
	d.logger.Info("display", "text", text)
	return nil
}

func (d consoleDisplay) Clear() error {
	d.logger.Debug("display cleared")
	return nil
}

type consoleIndicator struct {
	logger *slog.Logger
}

func (i consoleIndicator) Set(c Color) error {
	i.logger.Debug("indicator", "color", c.String())
	return nil
}

func (i consoleIndicator) Off() error {
	i.logger.Debug("indicator off")
	return nil
}

// ============================================================================
// Sysfs LED indicator
// ============================================================================
// Drives an RGB LED through the kernel LED class: three brightness files
// under <dir>/red, <dir>/green, <dir>/blue.
// ============================================================================

type sysfsIndicator struct {
	dir    string
	logger *slog.Logger
}

func newSysfsIndicator(dir string, logger *slog.Logger) (*sysfsIndicator, error) {
	for _, ch := range []string{"red", "green", "blue"} {
		p := filepath.Join(dir, ch, "brightness")
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("LED channel %s: %w", ch, err)
		}
	}
	return &sysfsIndicator{dir: dir, logger: logger}, nil
}

func (i *sysfsIndicator) Set(c Color) error {
	r, g, b := c.rgb()
	if err := i.writeChannel("red", r); err != nil {
		return err
	}
	if err := i.writeChannel("green", g); err != nil {
		return err
	}
	return i.writeChannel("blue", b)
}

func (i *sysfsIndicator) Off() error {
	return i.Set(colorOff)
}

func (i *sysfsIndicator) writeChannel(ch string, v uint8) error {
	p := filepath.Join(i.dir, ch, "brightness")
	if err := os.WriteFile(p, []byte(fmt.Sprintf("%d", v)), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	return nil
}

// ============================================================================
// Discard backends ("none")
// ============================================================================

type nopDisplay struct{}

func (nopDisplay) ShowText(string) error { return nil }
func (nopDisplay) Clear() error          { return nil }

type nopIndicator struct{}

func (nopIndicator) Set(Color) error { return nil }
func (nopIndicator) Off() error      { return nil }
