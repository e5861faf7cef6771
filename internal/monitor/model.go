package monitor

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/muurk/msrcap/internal/server"
)

// RefreshInterval is how often the view polls the server.
const RefreshInterval = 500 * time.Millisecond

// Source is the running server being watched.
type Source interface {
	State() server.ServerState
	Sessions() []server.SessionInfo
	Closed() <-chan struct{}
}

type refreshMsg time.Time
type serverClosedMsg struct{}

// Model is the bubbletea model for the live capture view.
type Model struct {
	source  Source
	feed    *Feed
	logFile string

	Table   table.Model
	Spinner spinner.Model
	Help    help.Model
	keys    keyMap

	state    server.ServerState
	sessions []server.SessionInfo
	events   []server.Event

	// Stopped is set when the user asked to stop the capture.
	Stopped bool
	closed  bool

	Width  int
	Height int
}

var sessionColumns = []table.Column{
	{Title: "Session", Width: 8},
	{Title: "Peer", Width: 22},
	{Title: "State", Width: 9},
	{Title: "Read", Width: 9},
	{Title: "Records", Width: 8},
	{Title: "Zero", Width: 6},
	{Title: "Age", Width: 8},
	{Title: "Idle", Width: 8},
}

const tableWidth = 90

// NewModel creates the view for source. feed may be nil.
func NewModel(source Source, feed *Feed, logFile string) Model {
	t := table.New(
		table.WithColumns(sessionColumns),
		table.WithFocused(true),
		table.WithHeight(8),
		table.WithWidth(tableWidth),
	)
	t.SetStyles(tableStyles())

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = EventOKStyle

	return Model{
		source:  source,
		feed:    feed,
		logFile: logFile,
		Table:   t,
		Spinner: s,
		Help:    help.New(),
		keys:    newKeyMap(),
	}
}

func tick() tea.Cmd {
	return tea.Tick(RefreshInterval, func(t time.Time) tea.Msg {
		return refreshMsg(t)
	})
}

func waitClosed(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-ch
		return serverClosedMsg{}
	}
}

// Init starts polling and watches for the server to close.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		func() tea.Msg { return refreshMsg(time.Now()) },
		waitClosed(m.source.Closed()),
		m.Spinner.Tick,
	)
}

// Update handles all messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		// title, status, section headers, feed and help
		h := msg.Height - DefaultFeedSize - 9
		if h < 3 {
			h = 3
		}
		m.Table.SetHeight(h)
		if msg.Width > 4 && msg.Width-4 < tableWidth {
			m.Table.SetWidth(msg.Width - 4)
		}
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.Stopped = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help):
			m.Help.ShowAll = !m.Help.ShowAll
			return m, nil
		}

	case refreshMsg:
		m.refresh(time.Time(msg))
		return m, tick()

	case serverClosedMsg:
		m.closed = true
		return m, tea.Quit

	case spinner.TickMsg:
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd
	}

	m.Table, cmd = m.Table.Update(msg)
	return m, cmd
}

func (m *Model) refresh(now time.Time) {
	m.state = m.source.State()
	m.sessions = m.source.Sessions()
	m.Table.SetRows(sessionRows(m.sessions, now))
	if m.feed != nil {
		m.events = m.feed.Recent()
	}
}

// View renders the screen
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(TitleStyle.Render("MSRCAP") + "  ")
	if m.closed {
		b.WriteString(StatusStyle.Render("stopped"))
	} else if m.state.Listening {
		b.WriteString(m.Spinner.View() + " " + StatusStyle.Render(fmt.Sprintf(
			"listening on port %d  •  %d/%d connections  •  %s",
			m.state.BoundPort, m.state.CurrentConnections, m.state.MaxConnections, m.logFile)))
	} else {
		b.WriteString(StatusStyle.Render("not listening"))
	}
	b.WriteString("\n")

	b.WriteString(SectionStyle.Render("Sessions") + "\n")
	b.WriteString(BoxStyle.Render(m.Table.View()) + "\n")

	b.WriteString(SectionStyle.Render("Recent activity") + "\n")
	if len(m.events) == 0 {
		b.WriteString(StatusStyle.Render("  nothing yet") + "\n")
	}
	for _, e := range m.events {
		b.WriteString("  " + renderEvent(e) + "\n")
	}

	b.WriteString("\n" + m.Help.View(m.keys))
	return b.String()
}

func sessionRows(sessions []server.SessionInfo, now time.Time) []table.Row {
	rows := make([]table.Row, 0, len(sessions))
	for _, s := range sessions {
		id := s.ID
		if len(id) > 8 {
			id = id[:8]
		}
		rows = append(rows, table.Row{
			id,
			peer(s),
			s.State.String(),
			formatBytes(s.BytesRead),
			strconv.FormatUint(s.Records, 10),
			strconv.FormatUint(s.Discarded, 10),
			shortDuration(now.Sub(s.AcceptedAt)),
			shortDuration(now.Sub(s.LastActivity)),
		})
	}
	return rows
}

func peer(s server.SessionInfo) string {
	return net.JoinHostPort(s.RemoteAddr, strconv.Itoa(s.RemotePort))
}

func renderEvent(e server.Event) string {
	ts := EventTimeStyle.Render(e.Time.Format("15:04:05"))
	who := e.Addr
	if e.Session != nil {
		who = peer(*e.Session)
	}

	var text string
	style := EventOKStyle
	switch e.Kind {
	case server.EventConnectionAdmitted:
		text = "connected " + who
	case server.EventConnectionRejected:
		text = fmt.Sprintf("rejected %s (%s)", who, e.Reason)
		style = EventWarnStyle
	case server.EventConnectionClosed:
		text = fmt.Sprintf("closed %s (%s)", who, e.Reason)
		if e.Err != nil {
			style = EventErrorStyle
		} else {
			style = StatusStyle
		}
	case server.EventCaptureRecorded:
		text = fmt.Sprintf("recorded %d bytes from %s", e.PayloadLen, who)
	case server.EventCaptureDiscarded:
		text = fmt.Sprintf("dropped %d zero bytes from %s", e.PayloadLen, who)
		style = StatusStyle
	case server.EventCaptureWriteFailed:
		text = fmt.Sprintf("capture write failed: %v", e.Err)
		style = EventErrorStyle
	default:
		text = string(e.Kind)
		style = StatusStyle
	}
	return ts + "  " + style.Render(text)
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

func shortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return d.Truncate(time.Second).String()
}
