package server

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/muurk/msrcap/internal/capture"
)

const waitTimeout = 5 * time.Second

// eventRecorder is an EventSink that keeps every event for inspection.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) Emit(e Event) {
	e.Payload = nil
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *eventRecorder) byKind(kind EventKind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// waitFor blocks until at least n events of kind have been recorded.
func (r *eventRecorder) waitFor(t *testing.T, kind EventKind, n int) []Event {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for {
		if got := r.byKind(kind); len(got) >= n {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d %s events, have %d", n, kind, len(r.byKind(kind)))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// safeBuffer is a concurrency-safe in-memory capture destination.
type safeBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

var errDestinationGone = errors.New("capture destination removed")

// brokenDestination fails every write.
type brokenDestination struct{}

func (brokenDestination) Write([]byte) (int, error) {
	return 0, errDestinationGone
}

// resetConn fails the first Read with a transport error.
type resetConn struct {
	net.Conn
}

var errConnReset = errors.New("connection reset by peer")

func (resetConn) Read([]byte) (int, error) {
	return 0, errConnReset
}

// countingConn records socket writes made through it.
type countingConn struct {
	net.Conn

	mu          sync.Mutex
	writes      int
	closeWrites int
}

func (c *countingConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	c.writes++
	c.mu.Unlock()
	return c.Conn.Write(p)
}

func (c *countingConn) CloseWrite() error {
	c.mu.Lock()
	c.closeWrites++
	c.mu.Unlock()
	return nil
}

func (c *countingConn) counts() (writes, closeWrites int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes, c.closeWrites
}

// newPipeSession admits one side of a net.Pipe into reg and returns the
// session together with the peer's end.
func newPipeSession(t *testing.T, reg *Registry, cfg SessionConfig, w RecordWriter, events EventSink) (*Session, net.Conn) {
	t.Helper()
	serverSide, client := net.Pipe()
	t.Cleanup(func() { _ = client.Close() })

	sess, err := reg.TryAdmit(serverSide, SessionOptions{Config: cfg, Writer: w, Events: events})
	if err != nil {
		t.Fatalf("TryAdmit() error = %v", err)
	}
	t.Cleanup(sess.ForceClose)
	return sess, client
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(waitTimeout):
		t.Fatalf("session %s did not close (state %v)", s.ID(), s.State())
	}
}

func memoryWriter() (*capture.Writer, *safeBuffer) {
	buf := &safeBuffer{}
	return capture.NewWriter(buf, "memory"), buf
}
