package server

import (
	"time"

	"github.com/muurk/msrcap/internal/logging"
	"go.uber.org/zap"
)

// EventKind names a lifecycle event surfaced by the server.
type EventKind string

const (
	EventServerListening    EventKind = "server_listening"
	EventServerClosed       EventKind = "server_closed"
	EventConnectionAdmitted EventKind = "connection_admitted"
	EventConnectionRejected EventKind = "connection_rejected"
	EventConnectionClosed   EventKind = "connection_closed"
	EventCaptureWriteFailed EventKind = "capture_write_failed"
	EventCaptureRecorded    EventKind = "capture_recorded"
	EventCaptureDiscarded   EventKind = "capture_discarded"
)

// Reasons attached to connection_rejected events.
const (
	RejectReasonCapacity = "capacity"
	RejectReasonShutdown = "shutdown"
)

// Event is a structured lifecycle event. Session is nil for server-wide events
// and for rejected connections.
type Event struct {
	Kind       EventKind
	Time       time.Time
	Addr       string // listener address for server events, remote address otherwise
	Session    *SessionInfo
	Reason     string
	Err        error
	PayloadLen int
	Payload    []byte // only valid for the duration of Emit
}

// EventSink receives lifecycle events. Implementations must be safe for
// concurrent use and must not block for long: sessions emit synchronously.
type EventSink interface {
	Emit(Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

// Emit calls f(e).
func (f EventSinkFunc) Emit(e Event) { f(e) }

// MultiSink fans an event out to several sinks in order.
type MultiSink []EventSink

// Emit forwards e to every sink.
func (m MultiSink) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}

// LogSink renders events through the logging package.
type LogSink struct{}

// Emit logs e at a level matching its kind.
func (LogSink) Emit(e Event) {
	var fields []zap.Field
	remote := e.Addr
	if e.Session != nil {
		remote = e.Session.RemoteAddr
		fields = append(fields,
			zap.String("session_id", e.Session.ID),
			zap.Int("remote_port", e.Session.RemotePort),
		)
	}
	if e.Reason != "" {
		fields = append(fields, zap.String("reason", e.Reason))
	}
	if e.Err != nil {
		fields = append(fields, zap.Error(e.Err))
	}
	tagged := func(extra ...zap.Field) []zap.Field {
		out := append([]zap.Field{zap.String("event", string(e.Kind))}, fields...)
		if remote != "" {
			out = append(out, zap.String("remote_addr", remote))
		}
		return append(out, extra...)
	}

	switch e.Kind {
	case EventServerListening:
		logging.Info("Server listening for connections", zap.String("addr", e.Addr))
	case EventServerClosed:
		logging.Info("Server closed", tagged()...)
	case EventConnectionAdmitted:
		logging.LogConnection(remote, string(e.Kind), append(fields,
			zap.String("family", e.Session.Family),
			zap.String("local_addr", e.Session.LocalAddr),
			zap.Int("local_port", e.Session.LocalPort),
		)...)
	case EventConnectionRejected:
		logging.Warn("Connection rejected", tagged()...)
	case EventConnectionClosed:
		logging.LogConnection(remote, string(e.Kind), append(fields,
			zap.Int64("bytes_read", e.Session.BytesRead),
			zap.Int64("bytes_written", e.Session.BytesWritten),
			zap.Uint64("records", e.Session.Records),
			zap.Duration("duration", e.Time.Sub(e.Session.AcceptedAt)),
		)...)
	case EventCaptureWriteFailed:
		logging.Warn("Capture write failed, record dropped", tagged(
			zap.Int("length", e.PayloadLen),
		)...)
	case EventCaptureRecorded:
		logging.LogRawBytes("Capture recorded", e.Payload, tagged()...)
	case EventCaptureDiscarded:
		logging.Debug("Zero payload discarded", tagged(
			zap.Int("length", e.PayloadLen),
		)...)
	default:
		logging.Info("Server event", tagged()...)
	}
}
