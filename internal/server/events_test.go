package server

import (
	"errors"
	"testing"
	"time"

	"github.com/muurk/msrcap/internal/logging"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logging.SetLogger(zap.New(core))
	t.Cleanup(func() { logging.SetLogger(nil) })

	accepted := time.Now().Add(-time.Minute)
	info := &SessionInfo{
		ID:         "sess-1",
		RemoteAddr: "10.0.0.9",
		RemotePort: 40000,
		Family:     "IPv4",
		BytesRead:  6,
		Records:    1,
		AcceptedAt: accepted,
	}

	var sink LogSink
	sink.Emit(Event{Kind: EventConnectionAdmitted, Time: accepted, Session: info})
	sink.Emit(Event{Kind: EventCaptureRecorded, Time: time.Now(), Session: info, PayloadLen: 2, Payload: []byte("AB")})
	sink.Emit(Event{Kind: EventConnectionRejected, Time: time.Now(), Addr: "10.0.0.10:40001", Reason: RejectReasonCapacity})
	sink.Emit(Event{Kind: EventCaptureWriteFailed, Time: time.Now(), Session: info, Err: errors.New("disk full"), PayloadLen: 2})
	sink.Emit(Event{Kind: EventConnectionClosed, Time: time.Now(), Session: info, Reason: string(ReasonPeer)})

	tests := []struct {
		message string
		level   zapcore.Level
		fields  map[string]interface{}
	}{
		{"Connection event", zapcore.InfoLevel, map[string]interface{}{
			"event": string(EventConnectionAdmitted), "remote_addr": "10.0.0.9", "family": "IPv4",
		}},
		{"Capture recorded", zapcore.DebugLevel, map[string]interface{}{
			"hex": "4142", "ascii": "AB", "session_id": "sess-1",
		}},
		{"Connection rejected", zapcore.WarnLevel, map[string]interface{}{
			"reason": RejectReasonCapacity, "remote_addr": "10.0.0.10:40001",
		}},
		{"Capture write failed, record dropped", zapcore.WarnLevel, map[string]interface{}{
			"error": "disk full",
		}},
	}

	for _, tt := range tests {
		entries := logs.FilterMessage(tt.message).All()
		if len(entries) == 0 {
			t.Errorf("no %q entry logged", tt.message)
			continue
		}
		e := entries[0]
		if e.Level != tt.level {
			t.Errorf("%q logged at %v, want %v", tt.message, e.Level, tt.level)
		}
		got := e.ContextMap()
		for k, want := range tt.fields {
			if got[k] != want {
				t.Errorf("%q field %s = %v, want %v", tt.message, k, got[k], want)
			}
		}
	}

	closed := logs.FilterField(zap.String("event", string(EventConnectionClosed))).All()
	if len(closed) != 1 {
		t.Fatalf("got %d connection_closed entries, want 1", len(closed))
	}
	if got := closed[0].ContextMap()["bytes_read"]; got != int64(6) {
		t.Errorf("bytes_read = %v, want 6", got)
	}
}
