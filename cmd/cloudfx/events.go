package main

import (
	"encoding/json"
	"fmt"
	"time"
)

// ============================================================================
// Loop input events
// ============================================================================
// Events are how everything outside the dispatch loop (button reader, IPC
// clients, the status UI) injects work. The loop goroutine is the only
// consumer; sources never touch loop state directly.
// ============================================================================

// Event is the input to the dispatch loop.
type Event interface {
	eventMarker()
}

// CommandReceived asks the loop to enqueue a command, exactly as if it had
// arrived on the feed. Overflow is dropped by queue policy, not the sender.
type CommandReceived struct {
	Name   string `json:"name"`
	Source string `json:"source,omitempty"` // "feed", "button", "ipc"
}

func (CommandReceived) eventMarker() {}

// ShowText puts transient text on the display without running any action.
// It expires through the normal display timeout.
type ShowText struct {
	Text string `json:"text"`
}

func (ShowText) eventMarker() {}

// PageChanged reports that the button reader rotated to another page.
type PageChanged struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
}

func (PageChanged) eventMarker() {}

// InputActivity marks any local button/encoder activity, used to wake and
// re-arm the screensaver.
type InputActivity struct {
	At time.Time `json:"-"`
}

func (InputActivity) eventMarker() {}

// ============================================================================
// JSON envelope
// ============================================================================
// Events cross the IPC socket as line-delimited JSON with a type
// discriminator, since Go has no union types.
// ============================================================================

// EventEnvelope wraps an event with a type discriminator for JSON marshaling
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UnmarshalEvent deserializes a JSON event envelope into a concrete Event
func UnmarshalEvent(data []byte) (Event, error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Type {
	case "command":
		var e CommandReceived
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal CommandReceived: %w", err)
		}
		if e.Name == "" {
			return nil, fmt.Errorf("command event requires a name")
		}
		return e, nil

	case "show":
		var e ShowText
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal ShowText: %w", err)
		}
		return e, nil

	case "page":
		var e PageChanged
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal PageChanged: %w", err)
		}
		return e, nil

	case "activity":
		return InputActivity{At: time.Now()}, nil

	default:
		return nil, fmt.Errorf("unknown event type: %q", env.Type)
	}
}

// MarshalEvent serializes an Event into a JSON envelope with type discriminator
func MarshalEvent(e Event) ([]byte, error) {
	var env EventEnvelope

	switch e := e.(type) {
	case CommandReceived:
		env.Type = "command"
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal CommandReceived: %w", err)
		}
		env.Data = data

	case ShowText:
		env.Type = "show"
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal ShowText: %w", err)
		}
		env.Data = data

	case PageChanged:
		env.Type = "page"
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal PageChanged: %w", err)
		}
		env.Data = data

	case InputActivity:
		env.Type = "activity"

	default:
		return nil, fmt.Errorf("unsupported event type: %T", e)
	}

	return json.Marshal(env)
}
