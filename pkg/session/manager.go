package session

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-voicebridge/pkg/audiosocket"
)

// Manager accepts telephony connections and owns the arena of live
// sessions, keyed by call UUID.
type Manager struct {
	config *Config
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
	active   int

	wg sync.WaitGroup

	totalStarted      atomic.Uint64
	rejectedCapacity  atomic.Uint64
	rejectedDuplicate atomic.Uint64
}

// Stats are aggregate manager counters for the metrics endpoint.
type Stats struct {
	Active            int    `json:"active"`
	TotalStarted      uint64 `json:"total_started"`
	RejectedCapacity  uint64 `json:"rejected_capacity"`
	RejectedDuplicate uint64 `json:"rejected_duplicate"`
}

// NewManager creates a Manager.
func NewManager(opts ...Option) (*Manager, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if cfg.Resolver == nil {
		return nil, fmt.Errorf("session: agent resolver required")
	}
	if cfg.Factory == nil {
		return nil, fmt.Errorf("session: connector factory required")
	}

	return &Manager{
		config:   cfg,
		logger:   cfg.Logger.With("component", "session.manager"),
		sessions: make(map[uuid.UUID]*Session),
	}, nil
}

// Serve accepts connections until the listener closes or ctx ends.
// It returns after all sessions have drained.
func (m *Manager) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	m.logger.Info("listening", "addr", ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			m.logger.Warn("accept failed", "error", err)
			if isTemporary(err) {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			m.wg.Wait()
			return fmt.Errorf("session: accept: %w", err)
		}

		if !m.admit() {
			m.rejectedCapacity.Add(1)
			m.logger.Warn("at capacity, rejecting", "remote", conn.RemoteAddr())
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			conn.Write(audiosocket.ErrorFrame("server at capacity"))
			conn.Close()
			continue
		}

		s := newSession(conn, m)
		m.totalStarted.Add(1)
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			defer m.leave()
			s.run(ctx)
		}()
	}

	m.wg.Wait()
	return nil
}

// admit reserves a session slot, or reports the server full.
func (m *Manager) admit() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active >= m.config.MaxSessions {
		return false
	}
	m.active++
	return true
}

// leave returns a session slot.
func (m *Manager) leave() {
	m.mu.Lock()
	m.active--
	m.mu.Unlock()
}

// claim inserts a session into the arena. A UUID already held by a live
// session is rejected, so the existing leg keeps the call.
func (m *Manager) claim(id uuid.UUID, s *Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[id]; exists {
		m.rejectedDuplicate.Add(1)
		return false
	}
	m.sessions[id] = s
	return true
}

// release removes a session from the arena. Only the session holding
// the slot may remove it.
func (m *Manager) release(id uuid.UUID, s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[id] == s {
		delete(m.sessions, id)
	}
}

// Lookup returns the live session for a call UUID.
func (m *Manager) Lookup(id uuid.UUID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Snapshot captures all live sessions for the operational API.
func (m *Manager) Snapshot() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snaps := make([]Snapshot, 0, len(m.sessions))
	for _, s := range m.sessions {
		snaps = append(snaps, s.Snapshot())
	}
	return snaps
}

// Stats returns aggregate counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()
	return Stats{
		Active:            active,
		TotalStarted:      m.totalStarted.Load(),
		RejectedCapacity:  m.rejectedCapacity.Load(),
		RejectedDuplicate: m.rejectedDuplicate.Load(),
	}
}

// isTemporary reports whether an accept error is worth retrying.
func isTemporary(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
