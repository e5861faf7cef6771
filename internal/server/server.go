package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/muurk/msrcap/internal/capture"
	"github.com/muurk/msrcap/internal/logging"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Defaults applied to zero-valued Config fields.
const (
	DefaultPort           = 3074
	DefaultMaxConnections = 10
	DefaultIdleTimeout    = 800 * time.Second
	DefaultMaxLifetime    = 1200 * time.Second
	DefaultDrainTimeout   = 5 * time.Second
	DefaultReadBufferSize = 32768
)

// Config holds the server configuration
type Config struct {
	Host           string
	Port           int // 0 binds an ephemeral port
	LogFile        string
	SyncWrites     bool
	MaxConnections int
	IdleTimeout    time.Duration
	MaxLifetime    time.Duration
	DrainTimeout   time.Duration
	ReadBufferSize int
	RunFor         time.Duration // graceful stop after this long (0 = run until signalled)
}

func (c *Config) sessionConfig() SessionConfig {
	return SessionConfig{
		IdleTimeout:    c.IdleTimeout,
		MaxLifetime:    c.MaxLifetime,
		DrainTimeout:   c.DrainTimeout,
		ReadBufferSize: c.ReadBufferSize,
	}
}

func (c *Config) applyDefaults() {
	if c.MaxConnections <= 0 {
		c.MaxConnections = DefaultMaxConnections
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.MaxLifetime <= 0 {
		c.MaxLifetime = DefaultMaxLifetime
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}
	if c.LogFile == "" {
		c.LogFile = capture.DefaultLogFile
	}
}

// BindError means the listener could not acquire its address. It is fatal.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("failed to bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// ErrServerClosed is returned by Listen on a server that has already shut down.
var ErrServerClosed = errors.New("server closed")

// ErrNotListening is returned by Serve when Listen has not bound an address.
var ErrNotListening = errors.New("server is not listening")

// ServerState is a snapshot of server-wide state.
type ServerState struct {
	BoundPort          int
	MaxConnections     int
	CurrentConnections int
	Listening          bool
}

// Option customises a Server.
type Option func(*Server)

// WithEventSink replaces the default LogSink.
func WithEventSink(sink EventSink) Option {
	return func(s *Server) { s.events = sink }
}

// WithWriter supplies an already-open capture writer instead of opening
// Config.LogFile. The server still closes it on shutdown.
func WithWriter(w *capture.Writer) Option {
	return func(s *Server) { s.writer = w }
}

// Server accepts connections and hands them to sessions.
type Server struct {
	config   *Config
	writer   *capture.Writer
	registry *Registry
	events   EventSink

	mu         sync.Mutex
	listener   net.Listener
	listening  bool
	boundPort  int
	acceptDone chan struct{}
	stopping   bool

	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

// New creates a new Server instance and opens its capture log.
func New(config *Config, opts ...Option) (*Server, error) {
	cfg := *config
	cfg.applyDefaults()

	s := &Server{
		config:   &cfg,
		registry: NewRegistry(cfg.MaxConnections),
		events:   LogSink{},
		closed:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.writer == nil {
		w, err := capture.OpenWriter(cfg.LogFile, cfg.SyncWrites)
		if err != nil {
			return nil, fmt.Errorf("failed to open capture log: %w", err)
		}
		s.writer = w
	}

	return s, nil
}

// Listen binds the configured address. On failure it returns a *BindError
// and the server must not be served.
func (s *Server) Listen() error {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return ErrServerClosed
	}
	if s.listener != nil {
		s.mu.Unlock()
		return nil
	}

	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.mu.Unlock()
		return &BindError{Addr: addr, Err: err}
	}

	s.listener = ln
	s.listening = true
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
		s.boundPort = tcp.Port
	}
	s.mu.Unlock()

	s.emit(Event{Kind: EventServerListening, Time: time.Now(), Addr: ln.Addr().String()})
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// State returns a snapshot of server-wide state.
func (s *Server) State() ServerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ServerState{
		BoundPort:          s.boundPort,
		MaxConnections:     s.registry.Max(),
		CurrentConnections: s.registry.Count(),
		Listening:          s.listening,
	}
}

// Sessions returns snapshots of the live sessions.
func (s *Server) Sessions() []SessionInfo {
	live := s.registry.Sessions()
	out := make([]SessionInfo, 0, len(live))
	for _, sess := range live {
		out = append(out, sess.Info())
	}
	return out
}

// Closed is closed once shutdown has completed.
func (s *Server) Closed() <-chan struct{} {
	return s.closed
}

// Serve runs the accept loop until the listener is closed by a shutdown.
// A shutdown ends Serve with a nil error, whether it happened before Serve
// was called or while it was accepting.
func (s *Server) Serve() error {
	s.mu.Lock()
	ln := s.listener
	if s.stopping {
		s.mu.Unlock()
		return nil
	}
	if ln == nil {
		s.mu.Unlock()
		return ErrNotListening
	}
	if s.acceptDone != nil {
		s.mu.Unlock()
		return errors.New("server already serving")
	}
	done := make(chan struct{})
	s.acceptDone = done
	s.mu.Unlock()
	defer close(done)

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			// Transient accept failures (e.g. EMFILE) must not kill the loop
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else if backoff *= 2; backoff > time.Second {
				backoff = time.Second
			}
			logging.Error("Failed to accept connection",
				zap.Error(err),
				zap.Duration("retry_in", backoff),
			)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		s.handleConnection(conn)
	}
}

// handleConnection admits conn or rejects it immediately.
func (s *Server) handleConnection(conn net.Conn) {
	s.mu.Lock()
	stopping := s.stopping
	s.mu.Unlock()
	if stopping {
		remote := conn.RemoteAddr().String()
		_ = conn.Close()
		s.emit(Event{
			Kind:   EventConnectionRejected,
			Time:   time.Now(),
			Addr:   remote,
			Reason: RejectReasonShutdown,
			Err:    ErrServerClosed,
		})
		return
	}

	sess, err := s.registry.TryAdmit(conn, SessionOptions{
		Config: s.config.sessionConfig(),
		Writer: s.writer,
		Events: s.events,
	})
	if err != nil {
		remote := conn.RemoteAddr().String()
		_ = conn.Close()
		s.emit(Event{
			Kind:   EventConnectionRejected,
			Time:   time.Now(),
			Addr:   remote,
			Reason: RejectReasonCapacity,
			Err:    err,
		})
		return
	}

	info := sess.Info()
	s.emit(Event{Kind: EventConnectionAdmitted, Time: info.AcceptedAt, Session: &info})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		sess.Run()
	}()
}

// stopAccepting closes the listener and waits for the accept loop to return.
func (s *Server) stopAccepting() error {
	s.mu.Lock()
	s.stopping = true
	ln := s.listener
	done := s.acceptDone
	s.mu.Unlock()

	var err error
	if ln != nil {
		if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	}
	if done != nil {
		<-done
	}
	return err
}

// ShutdownGraceful stops accepting and waits for every session to close on
// its own. If ctx ends first the sessions are left running, the server stays
// listening and ctx.Err() is returned; callers usually follow with
// ShutdownForced.
func (s *Server) ShutdownGraceful(ctx context.Context) error {
	logging.Info("Shutting down server, waiting for sessions to drain",
		zap.Int("sessions", s.registry.Count()),
	)

	lnErr := s.stopAccepting()

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		return multierr.Append(lnErr, ctx.Err())
	}

	return multierr.Append(lnErr, s.finalize())
}

// ShutdownForced stops accepting and moves every live session straight to
// Closed without waiting for idle timers.
func (s *Server) ShutdownForced() error {
	logging.Info("Forcing server shutdown",
		zap.Int("sessions", s.registry.Count()),
	)

	lnErr := s.stopAccepting()
	s.registry.CloseAll()
	s.wg.Wait()

	return multierr.Append(lnErr, s.finalize())
}

// finalize marks the server closed and closes the capture log. Only the
// first call has effect.
func (s *Server) finalize() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.listening = false
		addr := ""
		if s.listener != nil {
			addr = s.listener.Addr().String()
		}
		s.mu.Unlock()

		s.closeErr = s.writer.Close()
		s.emit(Event{Kind: EventServerClosed, Time: time.Now(), Addr: addr, Err: s.closeErr})
		close(s.closed)
	})
	return s.closeErr
}

// Start binds, serves and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Run(ctx)
}

// Run serves a bound server and handles shutdown triggers: SIGINT drains,
// a second SIGINT or a SIGTERM forces, and so does the end of ctx after a
// drain bounded by DrainTimeout. Config.RunFor triggers a graceful stop.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(s.Serve)
	g.Go(func() error {
		return s.awaitShutdown(gctx)
	})
	return g.Wait()
}

func (s *Server) awaitShutdown(ctx context.Context) error {
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runLimit <-chan time.Time
	if s.config.RunFor > 0 {
		t := time.NewTimer(s.config.RunFor)
		defer t.Stop()
		runLimit = t.C
	}

	drainCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	select {
	case <-s.closed:
		return nil
	case sig := <-sigChan:
		if sig == syscall.SIGTERM {
			logging.Info("SIGTERM received, closing all connections")
			return s.ShutdownForced()
		}
		logging.Info("Interrupt received, draining connections (interrupt again to force)")
	case <-runLimit:
		logging.Info("Run limit reached, draining connections",
			zap.Duration("run_for", s.config.RunFor),
		)
	case <-ctx.Done():
		logging.Info("Context done, draining connections",
			zap.Duration("drain_timeout", s.config.DrainTimeout),
		)
		drainCtx, cancel = context.WithTimeout(context.Background(), s.config.DrainTimeout)
		defer cancel()
	}

	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-drainCtx.Done():
		}
	}()

	if err := s.ShutdownGraceful(drainCtx); err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		logging.Warn("Drain interrupted, forcing close", zap.Error(err))
		return s.ShutdownForced()
	}
	return nil
}

func (s *Server) emit(e Event) {
	if s.events != nil {
		s.events.Emit(e)
	}
}
