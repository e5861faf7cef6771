package monitor

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/muurk/msrcap/internal/server"
)

type fakeSource struct {
	state    server.ServerState
	sessions []server.SessionInfo
	closed   chan struct{}
}

func (f *fakeSource) State() server.ServerState      { return f.state }
func (f *fakeSource) Sessions() []server.SessionInfo { return f.sessions }
func (f *fakeSource) Closed() <-chan struct{}        { return f.closed }

func newFakeSource() *fakeSource {
	now := time.Now()
	return &fakeSource{
		state: server.ServerState{BoundPort: 3074, MaxConnections: 10, CurrentConnections: 1, Listening: true},
		sessions: []server.SessionInfo{{
			ID:           "0f1e2d3c-4b5a-6978-8796-a5b4c3d2e1f0",
			RemoteAddr:   "192.168.1.7",
			RemotePort:   51000,
			Family:       "IPv4",
			State:        server.StateActive,
			BytesRead:    2048,
			Records:      3,
			Discarded:    1,
			AcceptedAt:   now.Add(-90 * time.Second),
			LastActivity: now.Add(-5 * time.Second),
		}},
		closed: make(chan struct{}),
	}
}

func TestFeedKeepsMostRecent(t *testing.T) {
	f := NewFeed(3)
	if got := f.Recent(); len(got) != 0 {
		t.Fatalf("Recent() on empty feed = %d events", len(got))
	}

	for i := 1; i <= 5; i++ {
		f.Emit(server.Event{Kind: server.EventCaptureRecorded, PayloadLen: i, Payload: []byte("x")})
	}

	got := f.Recent()
	if len(got) != 3 {
		t.Fatalf("Recent() returned %d events, want 3", len(got))
	}
	for i, want := range []int{3, 4, 5} {
		if got[i].PayloadLen != want {
			t.Errorf("event %d PayloadLen = %d, want %d", i, got[i].PayloadLen, want)
		}
		if got[i].Payload != nil {
			t.Errorf("event %d kept its payload", i)
		}
	}
}

func TestFeedDefaultSize(t *testing.T) {
	f := NewFeed(0)
	for i := 0; i < DefaultFeedSize+2; i++ {
		f.Emit(server.Event{Kind: server.EventConnectionAdmitted})
	}
	if got := len(f.Recent()); got != DefaultFeedSize {
		t.Errorf("Recent() returned %d events, want %d", got, DefaultFeedSize)
	}
}

func TestSessionRows(t *testing.T) {
	src := newFakeSource()
	now := src.sessions[0].AcceptedAt.Add(90 * time.Second)

	rows := sessionRows(src.sessions, now)
	if len(rows) != 1 {
		t.Fatalf("sessionRows() returned %d rows, want 1", len(rows))
	}
	want := []string{"0f1e2d3c", "192.168.1.7:51000", "active", "2.0 KiB", "3", "1", "1m30s"}
	for i, w := range want {
		if rows[0][i] != w {
			t.Errorf("column %s = %q, want %q", sessionColumns[i].Title, rows[0][i], w)
		}
	}
}

func TestPeerIPv6(t *testing.T) {
	s := server.SessionInfo{RemoteAddr: "fe80::1", RemotePort: 3074, Family: "IPv6"}
	if got := peer(s); got != "[fe80::1]:3074" {
		t.Errorf("peer() = %q", got)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1536, "1.5 KiB"},
		{3 << 20, "3.0 MiB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.n); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestRenderEvent(t *testing.T) {
	info := &server.SessionInfo{RemoteAddr: "10.0.0.2", RemotePort: 4000}
	tests := []struct {
		name  string
		event server.Event
		want  string
	}{
		{"admitted", server.Event{Kind: server.EventConnectionAdmitted, Session: info}, "connected 10.0.0.2:4000"},
		{"rejected", server.Event{Kind: server.EventConnectionRejected, Addr: "10.0.0.3:5000", Reason: server.RejectReasonCapacity}, "rejected 10.0.0.3:5000 (capacity)"},
		{"recorded", server.Event{Kind: server.EventCaptureRecorded, Session: info, PayloadLen: 12}, "recorded 12 bytes"},
		{"closed", server.Event{Kind: server.EventConnectionClosed, Session: info, Reason: "timeout"}, "closed 10.0.0.2:4000 (timeout)"},
		{"write failed", server.Event{Kind: server.EventCaptureWriteFailed, Session: info, Err: errors.New("disk full")}, "disk full"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := renderEvent(tt.event); !strings.Contains(got, tt.want) {
				t.Errorf("renderEvent() = %q, want it to contain %q", got, tt.want)
			}
		})
	}
}

func TestModelRefreshAndView(t *testing.T) {
	src := newFakeSource()
	feed := NewFeed(4)
	feed.Emit(server.Event{Kind: server.EventConnectionAdmitted, Time: time.Now(), Session: &src.sessions[0]})

	m := NewModel(src, feed, "etqw-msr-log.txt")
	updated, cmd := m.Update(refreshMsg(time.Now()))
	if cmd == nil {
		t.Error("refresh should schedule the next tick")
	}
	m = updated.(Model)

	if got := len(m.Table.Rows()); got != 1 {
		t.Errorf("table has %d rows, want 1", got)
	}
	view := m.View()
	for _, want := range []string{"listening on port 3074", "1/10 connections", "192.168.1.7:51000", "connected 192.168.1.7:51000"} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q", want)
		}
	}
}

func TestModelQuitKey(t *testing.T) {
	m := NewModel(newFakeSource(), nil, "log.txt")
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if !updated.(Model).Stopped {
		t.Error("q should mark the capture as stopped")
	}
	if cmd == nil {
		t.Fatal("q should return a quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit the program")
	}
}

func TestModelQuitsWhenServerCloses(t *testing.T) {
	src := newFakeSource()
	close(src.closed)

	if msg := waitClosed(src.closed)(); msg != (serverClosedMsg{}) {
		t.Fatalf("waitClosed() = %#v", msg)
	}

	m := NewModel(src, nil, "log.txt")
	updated, cmd := m.Update(serverClosedMsg{})
	if updated.(Model).Stopped {
		t.Error("a server-side close is not a user stop")
	}
	if cmd == nil {
		t.Fatal("expected a quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("server close should quit the program")
	}
	if !strings.Contains(updated.(Model).View(), "stopped") {
		t.Error("view should show the stopped state")
	}
}
