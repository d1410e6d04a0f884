//go:build !linux

package main

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
)

// readInputEvents falls back to one blocking-read goroutine per device on
// platforms without epoll. Fine for the two or three devices a pad setup
// has. The goroutines exit when done closes; the caller closing the device
// files unblocks any read in flight.
func readInputEvents(files []*os.File, events chan<- inputEvent, readErr chan<- error, done <-chan struct{}) {
	for _, f := range files {
		go func(f *os.File) {
			evSize := binary.Size(inputEvent{})
			buf := make([]byte, evSize)
			reader := bytes.NewReader(buf)

			for {
				if _, err := io.ReadFull(f, buf); err != nil {
					select {
					case readErr <- err:
					case <-done:
					}
					return
				}

				reader.Reset(buf)
				var ev inputEvent
				if err := binary.Read(reader, binary.LittleEndian, &ev); err != nil {
					// Skip malformed events
					continue
				}

				select {
				case events <- ev:
				case <-done:
					return
				}
			}
		}(f)
	}
}
