package main

import (
	"fmt"
	"time"
)

// ============================================================================
// Actions - ordered step sequences bound to commands
// ============================================================================
// An Action is everything a command does when dispatched: key presses, text,
// indicator changes, tones, clips. Actions are built once at startup from the
// macro configuration and never mutated afterwards.
// ============================================================================

// Step is one atomic element of an Action.
type Step interface {
	stepMarker()
	String() string
}

// PressKey asserts a key (press without release).
type PressKey struct {
	Key Key
}

func (PressKey) stepMarker() {}
func (s PressKey) String() string {
	return fmt.Sprintf("PressKey(%s)", s.Key.Name)
}

// ReleaseKey releases a previously pressed key.
type ReleaseKey struct {
	Key Key
}

func (ReleaseKey) stepMarker() {}
func (s ReleaseKey) String() string {
	return fmt.Sprintf("ReleaseKey(%s)", s.Key.Name)
}

// HoldStep pauses the sequence for a fixed duration.
type HoldStep struct {
	Duration time.Duration
}

func (HoldStep) stepMarker() {}
func (s HoldStep) String() string {
	return fmt.Sprintf("Hold(%s)", s.Duration)
}

// WriteText types a literal string through the HID emitter.
type WriteText struct {
	Text string
}

func (WriteText) stepMarker() {}
func (s WriteText) String() string {
	return fmt.Sprintf("WriteText(%q)", s.Text)
}

// SetIndicatorStep changes the indicator color mid-sequence.
type SetIndicatorStep struct {
	Color Color
}

func (SetIndicatorStep) stepMarker() {}
func (s SetIndicatorStep) String() string {
	return fmt.Sprintf("SetIndicator(#%06X)", uint32(s.Color))
}

// PlayTone plays a tone at the given frequency. Zero stops a running tone.
type PlayTone struct {
	FreqHz float64
}

func (PlayTone) stepMarker() {}
func (s PlayTone) String() string {
	return fmt.Sprintf("PlayTone(%.0fHz)", s.FreqHz)
}

// PlayClip plays an audio clip from a file path.
type PlayClip struct {
	Path string
}

func (PlayClip) stepMarker() {}
func (s PlayClip) String() string {
	return fmt.Sprintf("PlayClip(%s)", s.Path)
}

// Action is an immutable ordered step sequence bound to a command name.
type Action struct {
	// Label is shown on the display while the action runs. Defaults to the
	// command name when the configuration gives no label.
	Label string

	// Color is the button LED color from the configuration (0xRRGGBB).
	Color Color

	Steps []Step
}

// KeyNames re-serializes the action's press steps back to their
// configuration names, in order. Used for diagnostics and round-trip checks.
func (a Action) KeyNames() []string {
	var names []string
	for _, st := range a.Steps {
		if p, ok := st.(PressKey); ok {
			names = append(names, p.Key.Name)
		}
	}
	return names
}

// CommandTable maps command names to actions. Lookups are case-sensitive
// exact matches; a miss is a warning-level no-op for the caller.
type CommandTable map[string]Action
