package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// cloudfx-listen tails the daemon's status WebSocket and prints every
// snapshot, one line per update. Handy for watching dispatch activity from
// another machine without touching the device.

type statusData struct {
	Display    string `json:"display"`
	Showing    bool   `json:"showing"`
	Indicator  string `json:"indicator"`
	Degraded   bool   `json:"degraded"`
	QueueLen   int    `json:"queue_len"`
	Dropped    uint64 `json:"dropped"`
	Reconnects uint64 `json:"reconnects"`
}

type statusEnvelope struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

func main() {
	var (
		wsURL = flag.String("ws", "ws://127.0.0.1:3001/ws/status", "cloudfx status websocket URL")
		raw   = flag.Bool("raw", false, "Print raw JSON frames instead of formatted lines")
	)
	flag.Parse()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	log.Printf("connecting to %s...", *wsURL)
	conn, _, err := d.Dial(*wsURL, nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("connected (press Ctrl+C to exit)")

	frames := make(chan []byte, 16)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			frames <- msg
		}
	}()

	for {
		select {
		case <-sigc:
			log.Println("bye")
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case err := <-readErr:
			log.Fatalf("connection lost: %v", err)

		case msg := <-frames:
			if *raw {
				fmt.Println(string(msg))
				continue
			}
			printStatus(msg)
		}
	}
}

func printStatus(msg []byte) {
	var env statusEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		log.Printf("bad frame: %v", err)
		return
	}

	var s statusData
	if err := json.Unmarshal(env.Data, &s); err != nil {
		log.Printf("bad %s payload: %v", env.Type, err)
		return
	}

	ts := ""
	if env.Ts != nil {
		ts = env.Ts.Local().Format("15:04:05.000") + " "
	}

	display := s.Display
	if !s.Showing {
		display = "(idle)"
	}
	health := "ok"
	if s.Degraded {
		health = "DEGRADED"
	}

	fmt.Printf("%s%-24s led=%s queue=%d dropped=%d reconnects=%d health=%s\n",
		ts, display, s.Indicator, s.QueueLen, s.Dropped, s.Reconnects, health)
}
