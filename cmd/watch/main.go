// Command watch provides a live terminal view of the fleet. It
// attaches to the server's observer socket and renders device state
// and the detection feed as events arrive.
//
// Usage:
//
//	go run ./cmd/watch [--server localhost:8000]
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/trapsight/trapsight/internal/tui/watch"
)

func main() {
	server := flag.String("server", "127.0.0.1:8000", "Fleet server address (host:port)")
	flag.Parse()

	addr := strings.TrimPrefix(strings.TrimPrefix(*server, "http://"), "ws://")
	url := fmt.Sprintf("ws://%s/api/v1/fleet/live", addr)

	m := watch.New(url)
	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
