package server

import (
	"errors"
	"net"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrAdmissionRejected is returned by TryAdmit when the registry is full.
// It is an expected outcome, not a failure.
var ErrAdmissionRejected = errors.New("connection rejected: at capacity")

// SessionOptions carries the collaborators every admitted session shares.
type SessionOptions struct {
	Config SessionConfig
	Writer RecordWriter
	Events EventSink
}

// Registry enforces the concurrency ceiling and tracks live sessions.
type Registry struct {
	max      int
	slots    *semaphore.Weighted
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates a registry admitting at most max concurrent sessions.
func NewRegistry(max int) *Registry {
	if max < 1 {
		max = 1
	}
	return &Registry{
		max:      max,
		slots:    semaphore.NewWeighted(int64(max)),
		sessions: make(map[string]*Session),
	}
}

// TryAdmit creates a session for conn if a slot is free. On rejection the
// caller still owns conn and must close it.
func (r *Registry) TryAdmit(conn net.Conn, opts SessionOptions) (*Session, error) {
	if !r.slots.TryAcquire(1) {
		return nil, ErrAdmissionRejected
	}

	s := newSession(conn, opts.Config, opts.Writer, opts.Events, r.Release)

	r.mu.Lock()
	r.sessions[s.id] = s
	r.mu.Unlock()

	return s, nil
}

// Release frees the slot held by s. Calling it again for the same session
// does nothing. Sessions call it themselves on reaching Closed.
func (r *Registry) Release(s *Session) {
	r.mu.Lock()
	if _, ok := r.sessions[s.id]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, s.id)
	r.mu.Unlock()

	r.slots.Release(1)
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Max returns the admission ceiling.
func (r *Registry) Max() int {
	return r.max
}

// Sessions returns the live sessions, oldest first.
func (r *Registry) Sessions() []*Session {
	r.mu.Lock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].acceptedAt.Before(out[j].acceptedAt)
	})
	return out
}

// CloseAll force-closes every live session.
func (r *Registry) CloseAll() {
	for _, s := range r.Sessions() {
		s.ForceClose()
	}
}
