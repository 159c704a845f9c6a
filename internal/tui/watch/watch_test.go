package watch

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/trapsight/trapsight/pkg/fleet"
)

func rawEvent(t *testing.T, typ string, data interface{}) wireEvent {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal %s payload: %v", typ, err)
	}
	return wireEvent{Type: typ, Data: raw, Time: time.Now().UTC()}
}

func TestApply_Snapshot(t *testing.T) {
	m := New("ws://test/api/v1/fleet/live")

	snap := fleet.Snapshot{
		Locations:  []fleet.SummaryRow{{DeviceID: "trap-1", Name: "North Field"}},
		Statistics: &fleet.FleetStats{TotalDetections: 9},
	}
	m.apply(rawEvent(t, fleet.EventSnapshot, snap))

	if len(m.locations) != 1 || m.locations[0].DeviceID != "trap-1" {
		t.Errorf("locations = %+v, want trap-1", m.locations)
	}
	if m.stats == nil || m.stats.TotalDetections != 9 {
		t.Errorf("stats = %+v, want 9 detections", m.stats)
	}
}

func TestApply_NewDetection_KeepsNewestFirst(t *testing.T) {
	m := New("ws://test")

	for i := 0; i < recentDetections+3; i++ {
		m.apply(rawEvent(t, fleet.EventNewDetection, fleet.Detection{
			ID: int64(i), DeviceID: "trap-1", Count: i,
		}))
	}

	if len(m.recent) != recentDetections {
		t.Fatalf("len(recent) = %d, want %d", len(m.recent), recentDetections)
	}
	if m.recent[0].Count != recentDetections+2 {
		t.Errorf("recent[0].Count = %d, want the newest %d", m.recent[0].Count, recentDetections+2)
	}
}

func TestApply_UpdatesReplaceState(t *testing.T) {
	m := New("ws://test")

	m.apply(rawEvent(t, fleet.EventLocationsUpdate, []fleet.SummaryRow{
		{DeviceID: "trap-1"}, {DeviceID: "trap-2"},
	}))
	if len(m.locations) != 2 {
		t.Errorf("len(locations) = %d, want 2", len(m.locations))
	}

	m.apply(rawEvent(t, fleet.EventStatsUpdate, fleet.FleetStats{ActiveDevices: 2}))
	if m.stats == nil || m.stats.ActiveDevices != 2 {
		t.Errorf("stats = %+v, want 2 active devices", m.stats)
	}
}

func TestUpdate_WindowSizeMakesReady(t *testing.T) {
	m := New("ws://test")

	updated, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	got := updated.(Model)
	if !got.ready {
		t.Error("ready = false after WindowSizeMsg")
	}
	if got.viewport.Width != 80 {
		t.Errorf("viewport.Width = %d, want 80", got.viewport.Width)
	}
}

func TestRenderContent_States(t *testing.T) {
	m := New("ws://test")

	if got := m.renderContent(); !strings.Contains(got, "Waiting for snapshot") {
		t.Errorf("empty state render = %q, want waiting notice", got)
	}

	m.err = &json.SyntaxError{}
	if got := m.renderContent(); !strings.Contains(got, "Error") {
		t.Errorf("error state render = %q, want error notice", got)
	}

	m.err = nil
	m.stats = &fleet.FleetStats{TotalDetections: 3}
	m.locations = []fleet.SummaryRow{{DeviceID: "trap-1", Name: "North Field", Status: fleet.StatusOnline}}
	got := m.renderContent()
	if !strings.Contains(got, "trap-1") {
		t.Errorf("render missing device row: %q", got)
	}
	if !strings.Contains(got, "Devices") {
		t.Errorf("render missing devices section: %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate(short) = %q", got)
	}
	if got := truncate("a very long device name", 10); len([]rune(got)) != 10 {
		t.Errorf("truncate length = %d, want 10", len([]rune(got)))
	}
	// Multibyte names must be cut on rune boundaries, never mid-sequence.
	if got := truncate("fälla-östergård-nordväst", 10); len([]rune(got)) != 10 || !utf8.ValidString(got) {
		t.Errorf("truncate multibyte = %q (runes %d)", got, len([]rune(got)))
	}
	if got := truncate("罠罠罠罠罠", 3); got != "罠罠…" {
		t.Errorf("truncate(罠罠罠罠罠, 3) = %q, want 罠罠…", got)
	}
}
