//go:build portaudio
// +build portaudio

package main

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// AudioSink plays tones and PCM clips through the default output device.
//
// Tone playback runs a persistent output stream whose callback synthesizes a
// sine at the requested frequency; frequency 0 silences it. Clips are 16-bit
// PCM WAV files streamed in one blocking call.
type AudioSink struct {
	sampleRate int
	logger     *slog.Logger

	mu     sync.Mutex
	stream *portaudio.Stream
	freq   float64
	phase  float64
}

func NewAudioSink(sampleRate int, logger *slog.Logger) (*AudioSink, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}

	a := &AudioSink{
		sampleRate: sampleRate,
		logger:     logger,
	}

	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), 256, a.toneCallback)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("open audio stream: %w", err)
	}
	a.stream = stream

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("start audio stream: %w", err)
	}
	return a, nil
}

func (a *AudioSink) toneCallback(out []float32) {
	a.mu.Lock()
	freq := a.freq
	phase := a.phase
	a.mu.Unlock()

	if freq <= 0 {
		for i := range out {
			out[i] = 0
		}
		return
	}

	step := 2 * math.Pi * freq / float64(a.sampleRate)
	for i := range out {
		out[i] = float32(0.3 * math.Sin(phase))
		phase += step
		if phase > 2*math.Pi {
			phase -= 2 * math.Pi
		}
	}

	a.mu.Lock()
	a.phase = phase
	a.mu.Unlock()
}

// PlayTone starts (or retunes) the tone generator. Zero stops it.
func (a *AudioSink) PlayTone(freqHz float64) error {
	a.mu.Lock()
	a.freq = freqHz
	a.mu.Unlock()
	return nil
}

// PlayClip plays a 16-bit PCM WAV file to completion.
func (a *AudioSink) PlayClip(path string) error {
	samples, channels, rate, err := readWAV(path)
	if err != nil {
		return err
	}

	buf := make([]int16, 512*channels)
	stream, err := portaudio.OpenDefaultStream(0, channels, float64(rate), 512, &buf)
	if err != nil {
		return fmt.Errorf("open clip stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("start clip stream: %w", err)
	}
	defer stream.Stop()

	for off := 0; off < len(samples); off += len(buf) {
		n := copy(buf, samples[off:])
		for i := n; i < len(buf); i++ {
			buf[i] = 0
		}
		if err := stream.Write(); err != nil {
			return fmt.Errorf("write clip samples: %w", err)
		}
	}
	return nil
}

func (a *AudioSink) Close() error {
	a.mu.Lock()
	a.freq = 0
	a.mu.Unlock()

	var err error
	if a.stream != nil {
		a.stream.Stop()
		err = a.stream.Close()
	}
	portaudio.Terminate()
	return err
}

// readWAV parses a 16-bit PCM WAV file into interleaved samples.
func readWAV(path string) (samples []int16, channels, rate int, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("read clip: %w", err)
	}
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, 0, fmt.Errorf("%s: not a WAV file", path)
	}

	// Walk chunks for fmt and data.
	var fmtFound bool
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+size > len(data) {
			break
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, 0, fmt.Errorf("%s: short fmt chunk", path)
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			rate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bits := binary.LittleEndian.Uint16(data[body+14 : body+16])
			if format != 1 || bits != 16 {
				return nil, 0, 0, fmt.Errorf("%s: only 16-bit PCM supported", path)
			}
			fmtFound = true

		case "data":
			if !fmtFound {
				return nil, 0, 0, fmt.Errorf("%s: data chunk before fmt", path)
			}
			samples = make([]int16, size/2)
			for i := range samples {
				samples[i] = int16(binary.LittleEndian.Uint16(data[body+2*i : body+2*i+2]))
			}
			return samples, channels, rate, nil
		}

		pos = body + size
		if size%2 == 1 {
			pos++ // chunks are word-aligned
		}
	}

	return nil, 0, 0, fmt.Errorf("%s: no data chunk", path)
}
