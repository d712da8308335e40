package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-voicebridge/pkg/agentcfg"
	"github.com/teslashibe/go-voicebridge/pkg/audiosocket"
	"github.com/teslashibe/go-voicebridge/pkg/backend"
	"github.com/teslashibe/go-voicebridge/pkg/calllog"
	"github.com/teslashibe/go-voicebridge/pkg/turn"
)

// State is the session lifecycle phase. Transitions are monotonic.
type State int32

const (
	// StateConnecting covers accept until the first frame.
	StateConnecting State = iota

	// StateHandshaking covers the UUID frame and agent setup.
	StateHandshaking

	// StateActive is the steady state with audio flowing.
	StateActive

	// StateDraining covers teardown after a hangup or failure.
	StateDraining

	// StateClosed is terminal.
	StateClosed
)

// String returns the state name used in logs and snapshots.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one live call leg.
type Session struct {
	id      uuid.UUID
	conn    net.Conn
	config  *Config
	manager *Manager
	logger  *slog.Logger

	state atomic.Int32

	engine    *turn.Engine
	connector backend.Connector
	agent     atomic.Pointer[agentcfg.AgentConfig]

	ctx    context.Context
	cancel context.CancelFunc

	outbound  chan []byte
	writeMu   sync.Mutex
	writeDone chan struct{}
	eventDone chan struct{}

	causeMu sync.Mutex
	cause   string

	endOnce   sync.Once
	startedAt time.Time
	claimed   bool

	pendingMu sync.Mutex
	pending   map[string]bool

	framesIn  atomic.Uint64
	framesOut atomic.Uint64
	dropped   atomic.Uint64
}

// Snapshot is a read-only view of a session for the operational API.
type Snapshot struct {
	ID            string    `json:"id"`
	State         string    `json:"state"`
	Provider      string    `json:"provider,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	FramesIn      uint64    `json:"frames_in"`
	FramesOut     uint64    `json:"frames_out"`
	DroppedFrames uint64    `json:"dropped_frames"`
	TurnState     string    `json:"turn_state"`
}

func newSession(conn net.Conn, m *Manager) *Session {
	s := &Session{
		conn:      conn,
		config:    m.config,
		manager:   m,
		logger:    m.config.Logger.With("component", "session"),
		outbound:  make(chan []byte, m.config.OutboundQueue),
		writeDone: make(chan struct{}),
		eventDone: make(chan struct{}),
		pending:   make(map[string]bool),
		startedAt: time.Now(),
	}
	s.state.Store(int32(StateConnecting))

	// Turn boundaries go to the call log for downstream analytics.
	s.engine = turn.New(func(from, to turn.State) {
		ev := calllog.NewEvent(calllog.EventTurn, s.id.String())
		ev.Text = from.String() + " to " + to.String()
		s.record(ev)
	})
	return s
}

// ID returns the call UUID, or uuid.Nil before the handshake.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Snapshot captures the session for the operational API.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		ID:            s.id.String(),
		State:         s.State().String(),
		StartedAt:     s.startedAt,
		FramesIn:      s.framesIn.Load(),
		FramesOut:     s.framesOut.Load(),
		DroppedFrames: s.dropped.Load(),
		TurnState:     s.engine.State().String(),
	}
	if agent := s.agent.Load(); agent != nil {
		snap.Provider = agent.Provider
	}
	return snap
}

// advance moves the lifecycle forward. Backward moves are ignored so
// the state machine stays monotonic under concurrent exits.
func (s *Session) advance(to State) bool {
	for {
		cur := s.state.Load()
		if cur >= int32(to) {
			return false
		}
		if s.state.CompareAndSwap(cur, int32(to)) {
			return true
		}
	}
}

// drain records the first teardown cause and cancels the session.
func (s *Session) drain(cause string) {
	s.causeMu.Lock()
	if s.cause == "" {
		s.cause = cause
	}
	s.causeMu.Unlock()

	if s.advance(StateDraining) {
		s.logger.Info("draining", "call_id", s.id, "cause", cause)
	}
	s.cancel()
}

// run drives the session to completion. Called on its own goroutine.
func (s *Session) run(parent context.Context) {
	s.ctx, s.cancel = context.WithCancel(parent)
	defer s.teardown()

	// Unblock the frame reader on any exit path. The socket itself
	// stays open so teardown can still write the hangup frame.
	go func() {
		<-s.ctx.Done()
		s.conn.SetReadDeadline(time.Now())
	}()

	// One decoder for the whole connection, so audio arriving in the
	// same read as the handshake frame is not lost.
	decoder := audiosocket.NewDecoder(s.conn, audiosocket.WithLogger(s.logger))

	if err := s.handshake(decoder); err != nil {
		s.logger.Warn("handshake failed", "error", err)
		return
	}

	if err := s.setup(); err != nil {
		s.logger.Error("session setup failed", "call_id", s.id, "error", err)
		return
	}

	s.advance(StateActive)
	s.logger.Info("session active", "call_id", s.id, "provider", s.agent.Load().Provider)
	s.record(calllog.NewEvent(calllog.EventCallStarted, s.id.String()))

	go s.writeLoop()
	go s.eventLoop()

	s.readLoop(decoder)
}

// handshake reads the UUID frame and claims the call in the arena.
func (s *Session) handshake(decoder *audiosocket.Decoder) error {
	s.advance(StateHandshaking)

	s.conn.SetReadDeadline(time.Now().Add(handshakeTimeout))

	frame, err := decoder.Next()
	if err != nil {
		s.drain("handshake_timeout")
		return fmt.Errorf("session: read handshake: %w", err)
	}

	id, err := frame.UUID()
	if err != nil {
		s.writeFrame(audiosocket.ErrorFrame("expected uuid handshake"))
		s.drain("protocol_error")
		return fmt.Errorf("session: handshake: %w", err)
	}
	s.id = id

	if !s.manager.claim(id, s) {
		s.writeFrame(audiosocket.ErrorFrame("duplicate call id"))
		s.drain("duplicate_uuid")
		return fmt.Errorf("session: duplicate call id %s", id)
	}
	s.claimed = true
	return nil
}

// setup resolves the agent configuration and starts the backend.
func (s *Session) setup() error {
	ctx, cancel := context.WithTimeout(s.ctx, agentcfg.DefaultResolveTimeout)
	agent, err := s.config.Resolver.Resolve(ctx, s.id.String())
	cancel()
	if err != nil {
		s.writeFrame(audiosocket.ErrorFrame("no agent for call"))
		s.drain("config_unavailable")
		return fmt.Errorf("session: resolve agent: %w", err)
	}
	s.agent.Store(agent)

	connector, err := s.config.Factory(s.ctx, agent)
	if err == nil {
		err = connector.Start(s.ctx)
	}
	if err != nil {
		s.playFallback()
		s.drain("backend_unavailable")
		return fmt.Errorf("session: start backend: %w", err)
	}
	s.connector = connector
	return nil
}

// readLoop pumps inbound frames until hangup, error, or idle timeout.
func (s *Session) readLoop(decoder *audiosocket.Decoder) {
	for {
		s.conn.SetReadDeadline(time.Now().Add(s.config.IdleTimeout))

		frame, err := decoder.Next()
		if err != nil {
			s.handleReadError(err)
			return
		}

		switch frame.Kind {
		case audiosocket.KindAudio:
			s.framesIn.Add(1)
			if err := s.connector.SendAudio(frame.Payload); err != nil && !errors.Is(err, backend.ErrClosed) {
				s.logger.Warn("backend rejected audio", "call_id", s.id, "error", err)
			}

		case audiosocket.KindHangup:
			s.drain("hangup")
			return

		case audiosocket.KindError:
			s.logger.Warn("remote error frame", "call_id", s.id, "reason", string(frame.Payload))

		case audiosocket.KindUUID:
			s.writeFrame(audiosocket.ErrorFrame("unexpected second handshake"))
			s.drain("protocol_error")
			return
		}
	}
}

// handleReadError classifies a decoder failure into a teardown cause.
func (s *Session) handleReadError(err error) {
	var netErr net.Error
	switch {
	case s.ctx.Err() != nil:
		// Already draining; the watchdog closed the socket.
	case errors.As(err, &netErr) && netErr.Timeout():
		s.drain("idle_timeout")
	case errors.Is(err, audiosocket.ErrFrameTooLarge):
		s.writeFrame(audiosocket.ErrorFrame("frame too large"))
		s.drain("protocol_error")
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		s.drain("disconnect")
	default:
		s.logger.Warn("read failed", "call_id", s.id, "error", err)
		s.drain("read_error")
	}
}

// eventLoop pumps backend events into the telephony leg.
func (s *Session) eventLoop() {
	defer close(s.eventDone)

	for ev := range s.connector.Events() {
		switch ev.Kind {
		case backend.EventAudio:
			s.engine.ResponseStarted()
			s.enqueue(audiosocket.AudioFrame(ev.Audio))

		case backend.EventSpeechStarted:
			if s.engine.SpeechStarted() {
				// Barge-in: kill the in-flight response and whatever
				// of it is still queued.
				s.connector.Cancel()
				s.clearOutbound()
				s.record(calllog.NewEvent(calllog.EventBargeIn, s.id.String()))
			}

		case backend.EventTurnEnded:
			s.engine.TurnEnded()

		case backend.EventTranscript:
			if ev.Final {
				rec := calllog.NewEvent(calllog.EventTranscript, s.id.String())
				rec.Role = ev.Role
				rec.Text = ev.Text
				s.record(rec)
			}

		case backend.EventToolCall:
			s.dispatchTool(ev)

		case backend.EventResponseDone:
			s.engine.ResponseDone()

		case backend.EventError:
			rec := calllog.NewEvent(calllog.EventBackendError, s.id.String())
			if ev.Err != nil {
				rec.Cause = ev.Err.Error()
			}
			s.record(rec)
			if ev.Fatal {
				s.logger.Error("backend failed", "call_id", s.id, "error", ev.Err)
				s.playFallback()
				if errors.Is(ev.Err, backend.ErrUnreachable) {
					s.drain("backend_unreachable")
				} else {
					s.drain("backend_error")
				}
				return
			}
			s.logger.Warn("backend error", "call_id", s.id, "error", ev.Err)
		}
	}

	// Channel closed under us: the backend went away.
	if s.State() < StateDraining {
		s.drain("backend_closed")
	}
}

// dispatchTool runs one tool call off the event loop and submits the
// result. At most one call per call-id is in flight.
func (s *Session) dispatchTool(ev backend.Event) {
	s.pendingMu.Lock()
	if s.pending[ev.CallID] {
		s.pendingMu.Unlock()
		s.logger.Warn("duplicate tool call ignored", "call_id", s.id, "tool_call_id", ev.CallID)
		return
	}
	s.pending[ev.CallID] = true
	s.pendingMu.Unlock()

	rec := calllog.NewEvent(calllog.EventToolCall, s.id.String())
	rec.Tool = ev.ToolName
	rec.Arguments = ev.Arguments
	s.record(rec)

	go func() {
		defer func() {
			s.pendingMu.Lock()
			delete(s.pending, ev.CallID)
			s.pendingMu.Unlock()
		}()

		var result string
		if s.config.Dispatcher != nil {
			result = s.config.Dispatcher.Dispatch(s.ctx, ev.ToolName, ev.Arguments)
		} else {
			result = `{"error":"no tools available"}`
		}

		if err := s.connector.SubmitToolResult(ev.CallID, result); err != nil {
			s.logger.Warn("tool result rejected", "call_id", s.id, "tool", ev.ToolName, "error", err)
		}
	}()
}

// writeLoop drains the outbound queue to the socket.
func (s *Session) writeLoop() {
	defer close(s.writeDone)

	for {
		select {
		case <-s.ctx.Done():
			return
		case frame := <-s.outbound:
			if !s.writeFrame(frame) {
				s.drain("write_error")
				return
			}
			s.framesOut.Add(1)
		}
	}
}

// enqueue queues one encoded frame, dropping the newest on overflow so
// the call does not fall behind real time.
func (s *Session) enqueue(frame []byte) {
	select {
	case s.outbound <- frame:
	default:
		n := s.dropped.Add(1)
		if n%100 == 1 {
			s.logger.Warn("outbound queue full, dropping", "call_id", s.id, "dropped_total", n)
		}
	}
}

// clearOutbound discards queued response audio after a barge-in.
func (s *Session) clearOutbound() {
	for {
		select {
		case <-s.outbound:
		default:
			return
		}
	}
}

// writeFrame writes one encoded frame with a deadline.
func (s *Session) writeFrame(frame []byte) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := s.conn.Write(frame); err != nil {
		if s.ctx.Err() == nil {
			s.logger.Warn("write failed", "call_id", s.id, "error", err)
		}
		return false
	}
	return true
}

// playFallback speaks the agent's fallback message straight onto the
// wire. Best effort; the session is already on its way down.
func (s *Session) playFallback() {
	agent := s.agent.Load()
	if s.config.Fallback == nil || agent == nil || agent.FallbackMessage == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pcm, err := s.config.Fallback(ctx, agent.FallbackMessage)
	if err != nil {
		s.logger.Warn("fallback synthesis failed", "call_id", s.id, "error", err)
		return
	}

	s.clearOutbound()
	s.writeFrame(audiosocket.AudioFrame(pcm))
}

// record emits a call event; the sink never blocks.
func (s *Session) record(ev calllog.Event) {
	if s.config.Sink != nil {
		s.config.Sink.Record(ev)
	}
}

// teardown closes both legs exactly once and reports the session end.
func (s *Session) teardown() {
	s.endOnce.Do(func() {
		s.causeMu.Lock()
		if s.cause == "" {
			s.cause = "unknown"
		}
		cause := s.cause
		s.causeMu.Unlock()

		s.advance(StateDraining)
		s.cancel()

		if s.connector != nil {
			s.connector.Close()
			<-s.eventDone
			<-s.writeDone
		}

		s.writeFrame(audiosocket.HangupFrame())
		s.conn.Close()

		if s.claimed {
			s.manager.release(s.id, s)
		}
		s.advance(StateClosed)

		duration := time.Since(s.startedAt)
		s.logger.Info("session closed", "call_id", s.id, "cause", cause, "duration", duration)
		if s.claimed {
			rec := calllog.NewEvent(calllog.EventCallEnded, s.id.String())
			rec.Cause = cause
			rec.Duration = duration
			s.record(rec)
		}
	})
}
