//go:build !portaudio
// +build !portaudio

package main

import (
	"fmt"
	"log/slog"
)

// AudioSink stub when portaudio is not available. Tone and clip steps become
// logged no-ops; rebuild with -tags portaudio for real playback.
type AudioSink struct {
	logger *slog.Logger
}

func NewAudioSink(sampleRate int, logger *slog.Logger) (*AudioSink, error) {
	return &AudioSink{logger: logger}, nil
}

func (a *AudioSink) PlayTone(freqHz float64) error {
	a.logger.Debug("audio disabled; dropping tone", "freq_hz", freqHz)
	return nil
}

func (a *AudioSink) PlayClip(path string) error {
	return fmt.Errorf("audio playback not available: rebuild with -tags portaudio")
}

func (a *AudioSink) Close() error {
	return nil
}
