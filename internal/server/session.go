package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/muurk/msrcap/internal/capture"
	"github.com/muurk/msrcap/internal/logging"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// TimeoutNotice is sent to a peer whose session idled out, before the write
// side is shut down.
const TimeoutNotice = "Timed out!"

// SessionState is the lifecycle state of a Session.
type SessionState int32

const (
	StateActive SessionState = iota
	StateDraining
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// CloseReason records why a session left the Active state.
type CloseReason string

const (
	ReasonNone     CloseReason = ""
	ReasonPeer     CloseReason = "peer"
	ReasonTimeout  CloseReason = "timeout"
	ReasonError    CloseReason = "error"
	ReasonForced   CloseReason = "forced"
	ReasonLifetime CloseReason = "lifetime"
)

// RecordWriter persists capture records. *capture.Writer implements it.
type RecordWriter interface {
	Write(rec capture.Record) error
}

// SessionConfig holds the per-connection timing policy.
type SessionConfig struct {
	IdleTimeout    time.Duration // restarted on every read
	MaxLifetime    time.Duration // hard cap regardless of activity
	DrainTimeout   time.Duration // bound on the graceful finish
	ReadBufferSize int
}

// SessionInfo is a point-in-time snapshot of a session.
type SessionInfo struct {
	ID            string
	RemoteAddr    string
	RemotePort    int
	Family        string
	LocalAddr     string
	LocalPort     int
	State         SessionState
	CloseReason   CloseReason
	CloseErr      error
	BytesRead     int64
	BytesWritten  int64
	Records       uint64
	Discarded     uint64
	WriteFailures uint64
	AcceptedAt    time.Time
	LastActivity  time.Time
}

// Session owns one accepted connection: its read loop, its timers and its
// teardown. State moves Active -> Draining -> Closed, or Active -> Closed on
// an administrative close. Every transition is idempotent.
type Session struct {
	id     string
	conn   net.Conn
	cfg    SessionConfig
	writer RecordWriter
	events EventSink

	remoteAddr string
	remotePort int
	family     string
	localAddr  string
	localPort  int
	acceptedAt time.Time

	mu            sync.Mutex
	state         SessionState
	reason        CloseReason
	closeErr      error
	lastActivity  time.Time
	bytesRead     int64
	bytesWritten  int64
	records       uint64
	discarded     uint64
	writeFailures uint64

	lifetime  *time.Timer
	onClosed  func(*Session)
	closeOnce sync.Once
	done      chan struct{}
}

func newSession(conn net.Conn, cfg SessionConfig, w RecordWriter, events EventSink, onClosed func(*Session)) *Session {
	now := time.Now()
	s := &Session{
		id:           uuid.NewString(),
		conn:         conn,
		cfg:          cfg,
		writer:       w,
		events:       events,
		acceptedAt:   now,
		lastActivity: now,
		state:        StateActive,
		onClosed:     onClosed,
		done:         make(chan struct{}),
	}
	s.remoteAddr, s.remotePort, s.family = splitEndpoint(conn.RemoteAddr())
	s.localAddr, s.localPort, _ = splitEndpoint(conn.LocalAddr())
	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the session has reached Closed and released its socket.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Info returns a snapshot of the session.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.infoLocked()
}

func (s *Session) infoLocked() SessionInfo {
	return SessionInfo{
		ID:            s.id,
		RemoteAddr:    s.remoteAddr,
		RemotePort:    s.remotePort,
		Family:        s.family,
		LocalAddr:     s.localAddr,
		LocalPort:     s.localPort,
		State:         s.state,
		CloseReason:   s.reason,
		CloseErr:      s.closeErr,
		BytesRead:     s.bytesRead,
		BytesWritten:  s.bytesWritten,
		Records:       s.records,
		Discarded:     s.discarded,
		WriteFailures: s.writeFailures,
		AcceptedAt:    s.acceptedAt,
		LastActivity:  s.lastActivity,
	}
}

// Run drives the session until it is Closed. It is called once, on its own
// goroutine.
func (s *Session) Run() {
	if s.cfg.MaxLifetime > 0 {
		s.mu.Lock()
		if s.state != StateClosed {
			s.lifetime = time.AfterFunc(s.cfg.MaxLifetime, func() {
				s.forceClose(ReasonLifetime)
			})
		}
		s.mu.Unlock()
	}

	s.readLoop()
	s.finish()
}

func (s *Session) readLoop() {
	size := s.cfg.ReadBufferSize
	if size <= 0 {
		size = DefaultReadBufferSize
	}
	buf := make([]byte, size)

	for {
		if s.cfg.IdleTimeout > 0 {
			if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout)); err != nil {
				s.beginDrain(ReasonError, fmt.Errorf("set read deadline: %w", err))
				return
			}
		}

		n, err := s.conn.Read(buf)
		if n > 0 {
			if !s.handleRead(buf[:n]) {
				return
			}
		}
		if err != nil {
			reason, cause := classifyReadError(err)
			s.beginDrain(reason, cause)
			return
		}
	}
}

// handleRead processes one completed read. It reports false if the session
// has already left Active, in which case the bytes are ignored.
func (s *Session) handleRead(payload []byte) bool {
	now := time.Now()

	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return false
	}
	s.bytesRead += int64(len(payload))
	s.lastActivity = now
	rec, ok := capture.NewRecord(now, payload)
	if !ok {
		s.discarded++
		info := s.infoLocked()
		s.mu.Unlock()
		s.emit(Event{Kind: EventCaptureDiscarded, Time: now, Session: &info, PayloadLen: len(payload)})
		return true
	}
	s.mu.Unlock()

	err := s.writer.Write(rec)

	s.mu.Lock()
	if err != nil {
		s.writeFailures++
	} else {
		s.records++
	}
	info := s.infoLocked()
	s.mu.Unlock()

	if err != nil {
		s.emit(Event{Kind: EventCaptureWriteFailed, Time: now, Session: &info, Err: err, PayloadLen: len(payload)})
		return true
	}
	s.emit(Event{Kind: EventCaptureRecorded, Time: now, Session: &info, PayloadLen: len(payload), Payload: rec.Raw})
	return true
}

func classifyReadError(err error) (CloseReason, error) {
	switch {
	case errors.Is(err, io.EOF):
		return ReasonPeer, nil
	case errors.Is(err, os.ErrDeadlineExceeded):
		return ReasonTimeout, nil
	default:
		return ReasonError, err
	}
}

// beginDrain moves Active -> Draining. It is a no-op in any other state.
func (s *Session) beginDrain(reason CloseReason, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return
	}
	s.state = StateDraining
	s.reason = reason
	s.closeErr = cause
	logging.Debug("Session draining",
		zap.String("session_id", s.id),
		zap.String("reason", string(reason)),
	)
}

// finish completes a drain (if one is in progress) and releases the socket.
func (s *Session) finish() {
	s.mu.Lock()
	state, reason := s.state, s.reason
	s.mu.Unlock()

	if state == StateDraining {
		if err := s.gracefulFinish(reason); err != nil {
			logging.Debug("Graceful finish incomplete, releasing socket",
				zap.String("session_id", s.id),
				zap.Error(err),
			)
		}
	}
	s.release()
}

// gracefulFinish sends the timeout notice when appropriate and half-closes the
// connection. It gives up once DrainTimeout has elapsed, and stops without
// touching the socket once a forced close has moved the session to Closed.
func (s *Session) gracefulFinish(reason CloseReason) error {
	if !s.draining() {
		return nil
	}
	if s.cfg.DrainTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.DrainTimeout)); err != nil {
			return err
		}
	}

	var err error
	if reason == ReasonTimeout && s.draining() {
		n, werr := s.conn.Write([]byte(TimeoutNotice))
		s.mu.Lock()
		s.bytesWritten += int64(n)
		s.mu.Unlock()
		err = multierr.Append(err, werr)
	}

	if cw, ok := s.conn.(interface{ CloseWrite() error }); ok && err == nil && s.draining() {
		err = multierr.Append(err, cw.CloseWrite())
	}
	return err
}

func (s *Session) draining() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateDraining
}

// ForceClose moves the session straight to Closed without draining.
func (s *Session) ForceClose() {
	s.forceClose(ReasonForced)
}

func (s *Session) forceClose(reason CloseReason) {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return
	case StateActive:
		s.reason = reason
	}
	s.state = StateClosed
	s.mu.Unlock()
	s.release()
}

// release is the single entry into Closed. Only the first call has effect.
func (s *Session) release() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		if s.reason == ReasonNone {
			s.reason = ReasonForced
		}
		if s.lifetime != nil {
			s.lifetime.Stop()
		}
		s.mu.Unlock()

		if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			logging.Debug("Error closing connection",
				zap.String("session_id", s.id),
				zap.Error(err),
			)
		}

		if s.onClosed != nil {
			s.onClosed(s)
		}

		info := s.Info()
		s.emit(Event{
			Kind:    EventConnectionClosed,
			Time:    time.Now(),
			Session: &info,
			Reason:  string(info.CloseReason),
			Err:     info.CloseErr,
		})
		close(s.done)
	})
}

func (s *Session) emit(e Event) {
	if s.events != nil {
		s.events.Emit(e)
	}
}

// splitEndpoint breaks an address into host, port and family ("IPv4"/"IPv6").
func splitEndpoint(a net.Addr) (host string, port int, family string) {
	if a == nil {
		return "", 0, ""
	}
	if tcp, ok := a.(*net.TCPAddr); ok {
		family = "IPv6"
		if tcp.IP.To4() != nil {
			family = "IPv4"
		}
		return tcp.IP.String(), tcp.Port, family
	}

	host = a.String()
	if h, p, err := net.SplitHostPort(host); err == nil {
		host = h
		port, _ = strconv.Atoi(p)
	}
	return host, port, a.Network()
}
