package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ============================================================================
// Macro loader - macros.json is the single source of truth
// ============================================================================
// The same file drives both command sources: the cloud feed resolves commands
// through the CommandTable, the local button pad renders apps (pages) of
// buttons. Unresolvable keycode names are dropped with a recorded warning,
// never a fatal error.
// ============================================================================

// macrosFile mirrors the macros.json schema.
type macrosFile struct {
	Apps []struct {
		Name    string `json:"name"`
		Buttons []struct {
			Label    string   `json:"label"`
			Command  string   `json:"command,omitempty"`
			Color    string   `json:"color"`
			Keycodes []string `json:"keycodes"`
		} `json:"buttons"`
	} `json:"apps"`
}

// Button is one pad position on an app page.
type Button struct {
	Label   string
	Color   Color
	Command string // table key; derived from app/label when not explicit
}

// App is one page of buttons, selected by encoder rotation.
type App struct {
	Name    string
	Buttons []Button
}

// MacroSet is the parsed macro configuration.
type MacroSet struct {
	Apps     []App
	Commands CommandTable

	// Warnings records every entry that was dropped or defaulted while
	// loading. They are logged once at startup.
	Warnings []string
}

// LoadMacros reads and parses a macros.json file.
func LoadMacros(path string) (*MacroSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading macros file: %w", err)
	}
	return ParseMacros(data)
}

// ParseMacros builds the command table and button pages from raw JSON.
func ParseMacros(data []byte) (*MacroSet, error) {
	var file macrosFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing macros: %w", err)
	}

	set := &MacroSet{
		Commands: make(CommandTable),
	}

	for _, appData := range file.Apps {
		appName := appData.Name
		if appName == "" {
			appName = "Unnamed"
		}
		app := App{Name: appName}

		for _, btn := range appData.Buttons {
			label := btn.Label
			if label == "" {
				label = "???"
			}

			color, err := parseColor(btn.Color)
			if err != nil {
				set.warnf("app %q button %q: %v, using white", appName, label, err)
				color = 0xFFFFFF
			}

			keys := set.resolveKeys(appName, label, btn.Keycodes)

			command := btn.Command
			if command == "" {
				// Buttons without an explicit command are still reachable
				// from the pad via a derived key.
				command = appName + "/" + label
			}

			if _, dup := set.Commands[command]; dup {
				set.warnf("duplicate command %q (app %q), keeping first definition", command, appName)
			} else {
				set.Commands[command] = Action{
					Label: label,
					Color: color,
					Steps: pressSteps(keys),
				}
			}

			app.Buttons = append(app.Buttons, Button{
				Label:   label,
				Color:   color,
				Command: command,
			})
		}

		set.Apps = append(set.Apps, app)
	}

	return set, nil
}

// resolveKeys maps keycode names to usage IDs, dropping unknowns.
func (s *MacroSet) resolveKeys(app, label string, names []string) []Key {
	keys := make([]Key, 0, len(names))
	for _, name := range names {
		code, ok := LookupKeycode(name)
		if !ok {
			s.warnf("app %q button %q: unknown keycode %q dropped", app, label, name)
			continue
		}
		keys = append(keys, Key{Name: name, Code: code})
	}
	return keys
}

func (s *MacroSet) warnf(format string, args ...any) {
	s.Warnings = append(s.Warnings, fmt.Sprintf(format, args...))
}

// pressSteps turns a key list into the canonical press sequence. The
// executor holds and releases; the table only asserts.
func pressSteps(keys []Key) []Step {
	steps := make([]Step, 0, len(keys))
	for _, k := range keys {
		steps = append(steps, PressKey{Key: k})
	}
	return steps
}

// parseColor parses "0xRRGGBB" (or "#RRGGBB") hex color strings.
func parseColor(s string) (Color, error) {
	if s == "" {
		return 0, fmt.Errorf("missing color")
	}
	str := strings.TrimPrefix(s, "#")
	str = strings.TrimPrefix(str, "0x")
	str = strings.TrimPrefix(str, "0X")
	// Always base 16: all-digit strings like "202000" must not fall into
	// decimal or octal parsing.
	v, err := strconv.ParseUint(str, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid color %q", s)
	}
	if v > 0xFFFFFF {
		return 0, fmt.Errorf("color %q out of 24-bit range", s)
	}
	return Color(v), nil
}
