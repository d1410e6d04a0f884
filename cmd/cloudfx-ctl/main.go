package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// ============================================================================
// cloudfx-ctl - Command-line IPC Client
// ============================================================================
// This tool sends events to the cloudfx daemon via IPC.
//
// Usage:
//   cloudfx-ctl send Tools/Screenshot
//   cloudfx-ctl show "hello there"
//   cloudfx-ctl page 2 Media
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/cloudfx.sock)
// ============================================================================

// Event payloads (duplicated from the daemon package for a standalone binary)

type commandEvent struct {
	Name   string `json:"name"`
	Source string `json:"source,omitempty"`
}

type showEvent struct {
	Text string `json:"text"`
}

type pageEvent struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
}

// eventEnvelope wraps events for JSON
type eventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ipcResponse represents the daemon's response
type ipcResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func main() {
	socketPath := "/tmp/cloudfx.sock"

	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if args[0] == "-socket" || args[0] == "--socket" {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
			os.Exit(1)
		}
		socketPath = args[1]
		args = args[2:]
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	var envType string
	var payload any

	switch args[0] {
	case "send", "command":
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: send requires a command name\n")
			os.Exit(1)
		}
		envType = "command"
		payload = commandEvent{Name: args[1], Source: "cloudfx-ctl"}

	case "show":
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: show requires text\n")
			os.Exit(1)
		}
		envType = "show"
		payload = showEvent{Text: strings.Join(args[1:], " ")}

	case "page":
		if len(args) < 3 {
			fmt.Fprintf(os.Stderr, "error: page requires an index and a name\n")
			os.Exit(1)
		}
		idx, err := strconv.Atoi(args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: invalid page index: %v\n", err)
			os.Exit(1)
		}
		envType = "page"
		payload = pageEvent{Index: idx, Name: args[2]}

	case "activity":
		envType = "activity"

	case "help", "-h", "--help":
		printUsage()
		os.Exit(0)

	default:
		fmt.Fprintf(os.Stderr, "error: unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}

	if err := sendEvent(socketPath, envType, payload); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("ok")
}

func sendEvent(socketPath, envType string, payload any) error {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	env := eventEnvelope{Type: envType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		env.Data = data
	}

	msg, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	// Line-delimited JSON
	if _, err := fmt.Fprintf(conn, "%s\n", msg); err != nil {
		return fmt.Errorf("send event: %w", err)
	}

	var response ipcResponse
	decoder := json.NewDecoder(conn)
	if err := decoder.Decode(&response); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if response.Status == "error" {
		return fmt.Errorf("daemon error: %s", response.Error)
	}

	return nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `cloudfx-ctl - Control the cloudfx daemon via IPC

Usage:
  cloudfx-ctl [options] <command> [args]

Options:
  -socket PATH    Unix domain socket path (default: /tmp/cloudfx.sock)

Commands:
  send <name>          Enqueue a command, exactly as if it arrived on the feed
  show <text...>       Put transient text on the display
  page <index> <name>  Report a page change
  activity             Wake the screensaver
  help, -h, --help     Show this help message

Examples:
  cloudfx-ctl send Tools/Screenshot
  cloudfx-ctl show "build passed"
  cloudfx-ctl -socket /var/run/cloudfx.sock send Media/Play
`)
}
