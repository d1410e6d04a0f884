package main

import (
	"strings"
	"testing"
)

const sampleMacros = `{
  "apps": [
    {
      "name": "Tools",
      "buttons": [
        {
          "label": "Copy",
          "command": "Tools/Copy",
          "color": "0x004000",
          "keycodes": ["CONTROL", "C"]
        },
        {
          "label": "Find",
          "color": "#202000",
          "keycodes": ["CONTROL", "F"]
        }
      ]
    },
    {
      "name": "Media",
      "buttons": [
        {
          "label": "Play",
          "command": "Media/Play",
          "color": "0x000040",
          "keycodes": ["SPACE"]
        }
      ]
    }
  ]
}`

func TestParseMacrosBuildsTableAndPages(t *testing.T) {
	set, err := ParseMacros([]byte(sampleMacros))
	if err != nil {
		t.Fatal(err)
	}

	if len(set.Apps) != 2 {
		t.Fatalf("pages = %d, want 2", len(set.Apps))
	}
	if len(set.Commands) != 3 {
		t.Fatalf("commands = %d, want 3", len(set.Commands))
	}
	if len(set.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", set.Warnings)
	}

	act, ok := set.Commands["Tools/Copy"]
	if !ok {
		t.Fatal("Tools/Copy missing from table")
	}
	if act.Label != "Copy" {
		t.Errorf("label = %q, want Copy", act.Label)
	}
	if act.Color != 0x004000 {
		t.Errorf("color = %#06x, want 0x004000", uint32(act.Color))
	}
}

func TestKeycodeNamesRoundTrip(t *testing.T) {
	set, err := ParseMacros([]byte(sampleMacros))
	if err != nil {
		t.Fatal(err)
	}

	// The alias CONTROL must survive as written, not collapse to
	// LEFT_CONTROL even though both map to the same usage ID.
	act := set.Commands["Tools/Copy"]
	got := act.KeyNames()
	want := []string{"CONTROL", "C"}
	if len(got) != len(want) {
		t.Fatalf("key names = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("key name[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestButtonWithoutCommandGetsDerivedKey(t *testing.T) {
	set, err := ParseMacros([]byte(sampleMacros))
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := set.Commands["Tools/Find"]; !ok {
		t.Error("button without explicit command not reachable via derived key")
	}
	if set.Apps[0].Buttons[1].Command != "Tools/Find" {
		t.Errorf("button command = %q, want Tools/Find", set.Apps[0].Buttons[1].Command)
	}
}

func TestUnknownKeycodeDroppedWithWarning(t *testing.T) {
	data := `{"apps":[{"name":"X","buttons":[
		{"label":"Bad","command":"X/Bad","color":"0x111111","keycodes":["CONTROL","NOT_A_KEY","C"]}
	]}]}`

	set, err := ParseMacros([]byte(data))
	if err != nil {
		t.Fatal(err)
	}

	act := set.Commands["X/Bad"]
	if len(act.Steps) != 2 {
		t.Fatalf("steps = %d, want 2 (unknown keycode dropped)", len(act.Steps))
	}

	found := false
	for _, w := range set.Warnings {
		if strings.Contains(w, "NOT_A_KEY") {
			found = true
		}
	}
	if !found {
		t.Errorf("no warning recorded for unknown keycode: %v", set.Warnings)
	}
}

func TestDuplicateCommandKeepsFirst(t *testing.T) {
	data := `{"apps":[{"name":"X","buttons":[
		{"label":"One","command":"X/Cmd","color":"0x111111","keycodes":["A"]},
		{"label":"Two","command":"X/Cmd","color":"0x222222","keycodes":["B"]}
	]}]}`

	set, err := ParseMacros([]byte(data))
	if err != nil {
		t.Fatal(err)
	}

	if set.Commands["X/Cmd"].Label != "One" {
		t.Errorf("duplicate resolution kept %q, want One", set.Commands["X/Cmd"].Label)
	}
	if len(set.Warnings) == 0 {
		t.Error("no warning recorded for duplicate command")
	}
}

func TestMissingColorDefaultsToWhite(t *testing.T) {
	data := `{"apps":[{"name":"X","buttons":[
		{"label":"Dim","command":"X/Dim","keycodes":["A"]}
	]}]}`

	set, err := ParseMacros([]byte(data))
	if err != nil {
		t.Fatal(err)
	}

	if set.Commands["X/Dim"].Color != 0xFFFFFF {
		t.Errorf("color = %#06x, want white default", uint32(set.Commands["X/Dim"].Color))
	}
	if len(set.Warnings) == 0 {
		t.Error("no warning recorded for missing color")
	}
}

func TestParseColor(t *testing.T) {
	tests := []struct {
		in      string
		want    Color
		wantErr bool
	}{
		{"0x004000", 0x004000, false},
		{"#FF00FF", 0xFF00FF, false},
		{"0xFFFFFF", 0xFFFFFF, false},
		// All-decimal hex digits must still parse as hex, never as
		// decimal or octal.
		{"#202000", 0x202000, false},
		{"#000040", 0x000040, false},
		{"0x202000", 0x202000, false},
		{"202000", 0x202000, false},
		{"", 0, true},
		{"banana", 0, true},
		{"0x1000000", 0, true},
	}

	for _, tt := range tests {
		got, err := parseColor(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseColor(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("parseColor(%q) = %#06x, want %#06x", tt.in, uint32(got), uint32(tt.want))
		}
	}
}
