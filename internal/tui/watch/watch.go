// Package watch implements the terminal-based fleet monitor. It
// attaches to the server's live observer socket and renders fleet
// state as events arrive.
package watch

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	"github.com/trapsight/trapsight/pkg/buildinfo"
	"github.com/trapsight/trapsight/pkg/fleet"
)

// recentDetections is how many detections the feed pane keeps.
const recentDetections = 12

// Model is the Bubbletea model for the fleet watch view.
type Model struct {
	url      string
	conn     *websocket.Conn
	viewport viewport.Model

	locations []fleet.SummaryRow
	stats     *fleet.FleetStats
	recent    []fleet.Detection

	lastEvent time.Time
	err       error
	width     int
	height    int
	ready     bool
}

// New creates a fleet monitor that connects to the given WebSocket
// URL, e.g. "ws://localhost:8000/api/v1/fleet/live".
func New(url string) Model {
	return Model{url: url}
}

// wireEvent mirrors fleet.Event with the payload left raw so it can be
// decoded per type.
type wireEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
	Time time.Time       `json:"time"`
}

type connectedMsg struct {
	conn *websocket.Conn
}

type frameMsg struct {
	event wireEvent
}

type disconnectedMsg struct {
	err error
}

type retryMsg struct{}

func connect(url string) tea.Cmd {
	return func() tea.Msg {
		dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
		conn, _, err := dialer.Dial(url, nil)
		if err != nil {
			return disconnectedMsg{err: fmt.Errorf("connect to %s: %w", url, err)}
		}
		return connectedMsg{conn: conn}
	}
}

func readFrame(conn *websocket.Conn) tea.Cmd {
	return func() tea.Msg {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return disconnectedMsg{err: err}
		}
		var ev wireEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return disconnectedMsg{err: fmt.Errorf("decode frame: %w", err)}
		}
		return frameMsg{event: ev}
	}
}

func scheduleRetry() tea.Cmd {
	return tea.Tick(3*time.Second, func(_ time.Time) tea.Msg {
		return retryMsg{}
	})
}

// Init starts the first connection attempt.
func (m Model) Init() tea.Cmd {
	return connect(m.url)
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		contentH := msg.Height - 6
		if contentH < 5 {
			contentH = 5
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, contentH)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = contentH
		}
		m.viewport.SetContent(m.renderContent())
		return m, nil

	case connectedMsg:
		m.conn = msg.conn
		m.err = nil
		return m, readFrame(m.conn)

	case frameMsg:
		m.lastEvent = time.Now()
		m.apply(msg.event)
		if m.ready {
			m.viewport.SetContent(m.renderContent())
		}
		return m, readFrame(m.conn)

	case disconnectedMsg:
		if m.conn != nil {
			m.conn.Close()
			m.conn = nil
		}
		m.err = msg.err
		if m.ready {
			m.viewport.SetContent(m.renderContent())
		}
		return m, scheduleRetry()

	case retryMsg:
		return m, connect(m.url)

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.conn != nil {
				m.conn.Close()
			}
			return m, tea.Quit
		case "r":
			if m.conn == nil {
				return m, connect(m.url)
			}
		}
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// apply folds one event into the model state.
func (m *Model) apply(ev wireEvent) {
	switch ev.Type {
	case fleet.EventSnapshot:
		var snap fleet.Snapshot
		if json.Unmarshal(ev.Data, &snap) == nil {
			m.locations = snap.Locations
			m.stats = snap.Statistics
		}
	case fleet.EventLocationsUpdate:
		var rows []fleet.SummaryRow
		if json.Unmarshal(ev.Data, &rows) == nil {
			m.locations = rows
		}
	case fleet.EventStatsUpdate:
		var stats fleet.FleetStats
		if json.Unmarshal(ev.Data, &stats) == nil {
			m.stats = &stats
		}
	case fleet.EventNewDetection:
		var det fleet.Detection
		if json.Unmarshal(ev.Data, &det) == nil {
			m.recent = append([]fleet.Detection{det}, m.recent...)
			if len(m.recent) > recentDetections {
				m.recent = m.recent[:recentDetections]
			}
		}
	}
}

// View renders the monitor.
func (m Model) View() string {
	var b strings.Builder

	header := headerStyle.Render(
		titleStyle.Render("trapsight") +
			dimStyle.Render(" "+buildinfo.Version) +
			dimStyle.Render(" | Fleet Watch") +
			m.renderLastEvent())
	b.WriteString(header)
	b.WriteString("\n")

	if !m.ready {
		b.WriteString("\n  Initializing...\n")
		return b.String()
	}

	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(footerStyle.Render(m.renderFooter()))

	return b.String()
}

func (m Model) renderLastEvent() string {
	if m.lastEvent.IsZero() {
		return dimStyle.Render(" | Connecting...")
	}
	return dimStyle.Render(fmt.Sprintf(" | Updated %s", m.lastEvent.Format("15:04:05")))
}

func (m Model) renderContent() string {
	var b strings.Builder

	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(offlineStyle.Render(fmt.Sprintf("  Error: %v", m.err)))
		b.WriteString("\n\n")
		b.WriteString(dimStyle.Render("  Reconnecting every 3s | Press 'r' to retry now"))
		b.WriteString("\n")
		return b.String()
	}

	if m.stats == nil && m.locations == nil {
		b.WriteString("\n")
		b.WriteString(dimStyle.Render("  Waiting for snapshot..."))
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString("\n")
	b.WriteString(m.renderStats())
	b.WriteString(m.renderDevices())
	b.WriteString(m.renderFeed())
	return b.String()
}

func (m Model) renderStats() string {
	if m.stats == nil {
		return ""
	}
	line := fmt.Sprintf("Detections %d   Active devices %d   Avg temp %.2f°C   Avg humidity %.2f%%",
		m.stats.TotalDetections, m.stats.ActiveDevices,
		m.stats.AvgTemperature, m.stats.AvgHumidity)
	return summaryBoxStyle.Render(line) + "\n"
}

func (m Model) renderDevices() string {
	var b strings.Builder
	b.WriteString(sectionNameStyle.Render("Devices"))
	b.WriteString(sectionCountStyle.Render(fmt.Sprintf(" (%d)", len(m.locations))))
	b.WriteString("\n")
	if len(m.locations) == 0 {
		b.WriteString(dimStyle.Render("  none enrolled"))
		b.WriteString("\n")
		return b.String()
	}
	for _, row := range m.locations {
		status := onlineStyle.Render("●")
		if row.Status == fleet.StatusOffline {
			status = offlineStyle.Render("●")
		}
		last := "never"
		if row.LastDetection != nil {
			last = row.LastDetection.Local().Format("15:04:05")
		}
		b.WriteString(fmt.Sprintf("  %s %-16s %-20s %5d detections  last %s\n",
			status, row.DeviceID, truncate(row.Name, 20), row.TotalDetections, last))
	}
	return b.String()
}

func (m Model) renderFeed() string {
	var b strings.Builder
	b.WriteString(sectionNameStyle.Render("Recent detections"))
	b.WriteString("\n")
	if len(m.recent) == 0 {
		b.WriteString(dimStyle.Render("  none since attach"))
		b.WriteString("\n")
		return b.String()
	}
	for _, det := range m.recent {
		env := ""
		if det.Temperature != nil {
			env = fmt.Sprintf("  %.1f°C", *det.Temperature)
		}
		b.WriteString(fmt.Sprintf("  %s  %-16s count %d%s\n",
			det.Timestamp.Local().Format("15:04:05"), det.DeviceID, det.Count, env))
	}
	return b.String()
}

func (m Model) renderFooter() string {
	connStatus := onlineStyle.Render("Connected")
	if m.conn == nil {
		connStatus = offlineStyle.Render("Disconnected")
	}
	return fmt.Sprintf(" [q] Quit  [r] Reconnect  | %s to %s", connStatus, m.url)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
