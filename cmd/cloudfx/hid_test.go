package main

import (
	"bytes"
	"testing"
	"time"
)

func testKeyboard() (*GadgetKeyboard, *bytes.Buffer) {
	var buf bytes.Buffer
	kb := newGadgetKeyboard(&buf, nil, setupLogger(LogLevelError))
	kb.sleep = func(d time.Duration) {}
	return kb, &buf
}

func lastReport(t *testing.T, buf *bytes.Buffer) []byte {
	t.Helper()
	data := buf.Bytes()
	if len(data) == 0 || len(data)%8 != 0 {
		t.Fatalf("report stream length %d not a multiple of 8", len(data))
	}
	return data[len(data)-8:]
}

func TestPressWritesUsageID(t *testing.T) {
	kb, buf := testKeyboard()

	if err := kb.Press(0x04); err != nil { // A
		t.Fatal(err)
	}

	rep := lastReport(t, buf)
	if rep[0] != 0 {
		t.Errorf("modifier byte = %#02x, want 0", rep[0])
	}
	if rep[2] != 0x04 {
		t.Errorf("first key slot = %#02x, want 0x04", rep[2])
	}
}

func TestModifierSetsBitmaskNotSlot(t *testing.T) {
	kb, buf := testKeyboard()

	if err := kb.Press(0xE0); err != nil { // LEFT_CONTROL
		t.Fatal(err)
	}

	rep := lastReport(t, buf)
	if rep[0] != 0x01 {
		t.Errorf("modifier byte = %#02x, want 0x01", rep[0])
	}
	for i := 2; i < 8; i++ {
		if rep[i] != 0 {
			t.Errorf("key slot %d = %#02x, want empty for modifier press", i-2, rep[i])
		}
	}
}

func TestPressSeventhKeyFails(t *testing.T) {
	kb, _ := testKeyboard()

	for i := Keycode(0x04); i < 0x0A; i++ {
		if err := kb.Press(i); err != nil {
			t.Fatal(err)
		}
	}

	if err := kb.Press(0x0A); err == nil {
		t.Error("seventh concurrent key press did not fail")
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	kb, buf := testKeyboard()

	kb.Press(0x04)
	kb.Release(0x04)
	written := buf.Len()

	if err := kb.Release(0x04); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != written {
		t.Error("releasing an unpressed key emitted a report")
	}
}

func TestReleaseAllEmitsSingleEmptyReport(t *testing.T) {
	kb, buf := testKeyboard()

	kb.Press(0xE0)
	kb.Press(0x04)
	kb.Press(0x05)
	buf.Reset()

	if err := kb.ReleaseAll(); err != nil {
		t.Fatal(err)
	}

	if buf.Len() != 8 {
		t.Fatalf("release-all wrote %d bytes, want one 8-byte report", buf.Len())
	}
	for i, b := range buf.Bytes() {
		if b != 0 {
			t.Errorf("byte %d = %#02x, want 0", i, b)
		}
	}
}

func TestWriteTextShiftsUppercase(t *testing.T) {
	kb, buf := testKeyboard()

	if err := kb.WriteText("aA"); err != nil {
		t.Fatal(err)
	}

	reports := buf.Bytes()
	// 'a': press + release. 'A': press (shifted) + release + shift clear.
	sawShifted := false
	for off := 0; off < len(reports); off += 8 {
		if reports[off] == 0x02 && reports[off+2] == 0x04 {
			sawShifted = true
		}
	}
	if !sawShifted {
		t.Error("no report with shift bit and usage 0x04 for uppercase A")
	}

	final := reports[len(reports)-8:]
	if final[0] != 0 {
		t.Errorf("shift still set after WriteText: %#02x", final[0])
	}
}

func TestWriteTextSkipsUnmappedRunes(t *testing.T) {
	kb, buf := testKeyboard()

	if err := kb.WriteText("oké"); err != nil {
		t.Fatal(err)
	}
	if buf.Len() == 0 {
		t.Error("mapped characters were not typed")
	}
}

func TestAsciiKeycodeDigitsAndSymbols(t *testing.T) {
	tests := []struct {
		r     rune
		code  Keycode
		shift bool
	}{
		{'1', 0x1E, false},
		{'0', 0x27, false},
		{'!', 0x1E, true},
		{')', 0x27, true},
		{'_', 0x2D, true},
		{' ', 0x2C, false},
	}

	for _, tt := range tests {
		code, shift, ok := asciiKeycode(tt.r)
		if !ok {
			t.Errorf("asciiKeycode(%q) not mapped", tt.r)
			continue
		}
		if code != tt.code || shift != tt.shift {
			t.Errorf("asciiKeycode(%q) = %#02x/%v, want %#02x/%v", tt.r, byte(code), shift, byte(tt.code), tt.shift)
		}
	}
}
