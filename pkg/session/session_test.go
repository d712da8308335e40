package session

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-voicebridge/pkg/agentcfg"
	"github.com/teslashibe/go-voicebridge/pkg/audiosocket"
	"github.com/teslashibe/go-voicebridge/pkg/backend"
	"github.com/teslashibe/go-voicebridge/pkg/calllog"
	"github.com/teslashibe/go-voicebridge/pkg/tools"
)

// mockConnector is a scriptable backend for session tests.
type mockConnector struct {
	events chan backend.Event

	mu          sync.Mutex
	started     bool
	audio       [][]byte
	toolResults map[string]string
	cancels     int
	closes      int

	closeOnce sync.Once
}

func newMockConnector() *mockConnector {
	return &mockConnector{
		events:      make(chan backend.Event, 64),
		toolResults: make(map[string]string),
	}
}

func (m *mockConnector) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = true
	return nil
}

func (m *mockConnector) SendAudio(pcm []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	m.audio = append(m.audio, buf)
	return nil
}

func (m *mockConnector) SubmitToolResult(callID, result string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toolResults[callID] = result
	return nil
}

func (m *mockConnector) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancels++
	return nil
}

func (m *mockConnector) Events() <-chan backend.Event {
	return m.events
}

func (m *mockConnector) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closes++
		m.mu.Unlock()
		close(m.events)
	})
	return nil
}

func (m *mockConnector) emit(ev backend.Event) {
	m.events <- ev
}

func (m *mockConnector) audioFrames() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.audio)
}

func (m *mockConnector) cancelCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancels
}

func (m *mockConnector) closeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

func (m *mockConnector) toolResult(callID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.toolResults[callID]
	return r, ok
}

// recordSink collects call events for assertions.
type recordSink struct {
	mu     sync.Mutex
	events []calllog.Event
}

func (s *recordSink) Record(ev calllog.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordSink) Close() error { return nil }

func (s *recordSink) byType(t calllog.EventType) []calllog.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []calllog.Event
	for _, ev := range s.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// harness runs a Manager on a loopback listener.
type harness struct {
	manager *Manager
	addr    string
	sink    *recordSink

	mu         sync.Mutex
	connectors []*mockConnector
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	h := &harness{sink: &recordSink{}}

	resolver := &agentcfg.Static{Config: agentcfg.AgentConfig{
		AgentID:  "test-agent",
		Provider: backend.ProviderOpenAIRealtime,
	}}

	base := []Option{
		WithResolver(resolver),
		WithFactory(func(ctx context.Context, agent *agentcfg.AgentConfig) (backend.Connector, error) {
			c := newMockConnector()
			h.mu.Lock()
			h.connectors = append(h.connectors, c)
			h.mu.Unlock()
			return c, nil
		}),
		WithSink(h.sink),
		WithIdleTimeout(5 * time.Second),
	}

	m, err := NewManager(append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	h.manager = m

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	h.addr = ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("manager did not shut down")
		}
	})

	return h
}

// connector waits for the nth backend the factory built.
func (h *harness) connector(t *testing.T, n int) *mockConnector {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.mu.Lock()
		if len(h.connectors) > n {
			c := h.connectors[n]
			h.mu.Unlock()
			return c
		}
		h.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("connector %d never built", n)
	return nil
}

// client is one scripted telephony leg.
type client struct {
	conn    net.Conn
	decoder *audiosocket.Decoder
}

func dialClient(t *testing.T, addr string) *client {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &client{conn: conn, decoder: audiosocket.NewDecoder(conn)}
}

func (c *client) handshake(t *testing.T, id uuid.UUID) {
	t.Helper()
	if _, err := c.conn.Write(audiosocket.UUIDFrame(id)); err != nil {
		t.Fatalf("handshake write failed: %v", err)
	}
}

func (c *client) sendAudio(t *testing.T, pcm []byte) {
	t.Helper()
	if _, err := c.conn.Write(audiosocket.AudioFrame(pcm)); err != nil {
		t.Fatalf("audio write failed: %v", err)
	}
}

func (c *client) hangup(t *testing.T) {
	t.Helper()
	if _, err := c.conn.Write(audiosocket.HangupFrame()); err != nil {
		t.Fatalf("hangup write failed: %v", err)
	}
}

// next reads the next frame with a deadline.
func (c *client) next(t *testing.T) (audiosocket.Frame, error) {
	t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	return c.decoder.Next()
}

// expect reads frames until one of the given kind arrives.
func (c *client) expect(t *testing.T, kind audiosocket.Kind) audiosocket.Frame {
	t.Helper()
	for {
		frame, err := c.next(t)
		if err != nil {
			t.Fatalf("expected %s frame, read failed: %v", kind, err)
		}
		if frame.Kind == kind {
			return frame
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestScriptedCall(t *testing.T) {
	h := newHarness(t)
	c := dialClient(t, h.addr)

	id := uuid.New()
	c.handshake(t, id)

	conn := h.connector(t, 0)
	for i := 0; i < 3; i++ {
		c.sendAudio(t, make([]byte, 640))
	}
	waitFor(t, "inbound audio", func() bool { return conn.audioFrames() == 3 })

	// Backend speaks one frame; it must arrive on the wire.
	conn.emit(backend.AudioEvent(make([]byte, 320)))
	frame := c.expect(t, audiosocket.KindAudio)
	if len(frame.Payload) != 320 {
		t.Errorf("Expected 320-byte audio frame, got %d", len(frame.Payload))
	}

	c.hangup(t)
	c.expect(t, audiosocket.KindHangup)

	waitFor(t, "connector close", func() bool { return conn.closeCount() == 1 })

	waitFor(t, "end event", func() bool { return len(h.sink.byType(calllog.EventCallEnded)) == 1 })
	started := h.sink.byType(calllog.EventCallStarted)
	ended := h.sink.byType(calllog.EventCallEnded)
	if len(started) != 1 {
		t.Errorf("Expected 1 start event, got %d", len(started))
	}
	if len(ended) != 1 || ended[0].Cause != "hangup" {
		t.Errorf("Expected 1 end event with cause hangup, got %+v", ended)
	}
	if started[0].CallID != id.String() {
		t.Errorf("Start event for wrong call: %s", started[0].CallID)
	}
}

func TestHandshakeRequired(t *testing.T) {
	h := newHarness(t)
	c := dialClient(t, h.addr)

	// Audio before the UUID frame is a protocol violation.
	c.sendAudio(t, make([]byte, 640))

	frame := c.expect(t, audiosocket.KindError)
	if !strings.Contains(string(frame.Payload), "uuid") {
		t.Errorf("Unexpected error reason: %s", frame.Payload)
	}

	h.mu.Lock()
	built := len(h.connectors)
	h.mu.Unlock()
	if built != 0 {
		t.Errorf("No backend should be built without a handshake, got %d", built)
	}
}

func TestDuplicateUUIDRejected(t *testing.T) {
	h := newHarness(t)
	id := uuid.New()

	first := dialClient(t, h.addr)
	first.handshake(t, id)
	conn := h.connector(t, 0)

	second := dialClient(t, h.addr)
	second.handshake(t, id)

	frame := second.expect(t, audiosocket.KindError)
	if !strings.Contains(string(frame.Payload), "duplicate") {
		t.Errorf("Unexpected error reason: %s", frame.Payload)
	}

	// The original leg keeps the call.
	first.sendAudio(t, make([]byte, 640))
	waitFor(t, "audio on first leg", func() bool { return conn.audioFrames() == 1 })

	if got := h.manager.Stats().RejectedDuplicate; got != 1 {
		t.Errorf("Expected 1 duplicate rejection, got %d", got)
	}
}

func TestCapacityRejection(t *testing.T) {
	h := newHarness(t, WithMaxSessions(1))

	first := dialClient(t, h.addr)
	first.handshake(t, uuid.New())
	h.connector(t, 0)

	second := dialClient(t, h.addr)
	frame := second.expect(t, audiosocket.KindError)
	if !strings.Contains(string(frame.Payload), "capacity") {
		t.Errorf("Unexpected error reason: %s", frame.Payload)
	}

	if got := h.manager.Stats().RejectedCapacity; got != 1 {
		t.Errorf("Expected 1 capacity rejection, got %d", got)
	}
}

func TestToolDispatch(t *testing.T) {
	registry, err := tools.NewRegistry(tools.Tool{
		Name:        "get_weather",
		Description: "Current weather",
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			return `{"forecast":"sunny"}`, nil
		},
	})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	h := newHarness(t, WithDispatcher(tools.NewDispatcher(registry)))
	c := dialClient(t, h.addr)
	c.handshake(t, uuid.New())
	conn := h.connector(t, 0)

	conn.emit(backend.ToolCallEvent("call_1", "get_weather", `{}`))
	waitFor(t, "tool result", func() bool {
		r, ok := conn.toolResult("call_1")
		return ok && strings.Contains(r, "sunny")
	})

	// Unknown tool yields an error payload and the session survives.
	conn.emit(backend.ToolCallEvent("call_2", "foo_bar", `{}`))
	waitFor(t, "error payload", func() bool {
		r, ok := conn.toolResult("call_2")
		return ok && strings.Contains(r, "error")
	})

	c.sendAudio(t, make([]byte, 640))
	waitFor(t, "audio after tool calls", func() bool { return conn.audioFrames() == 1 })
}

func TestBargeInCancelsResponse(t *testing.T) {
	h := newHarness(t)
	c := dialClient(t, h.addr)
	c.handshake(t, uuid.New())
	conn := h.connector(t, 0)

	// Response underway puts the turn engine in the speaking state.
	conn.emit(backend.AudioEvent(make([]byte, 320)))
	c.expect(t, audiosocket.KindAudio)

	conn.emit(backend.Event{Kind: backend.EventSpeechStarted})
	waitFor(t, "cancel", func() bool { return conn.cancelCount() == 1 })

	// Speech started while listening is not a barge-in.
	conn.emit(backend.Event{Kind: backend.EventResponseDone})
	conn.emit(backend.Event{Kind: backend.EventSpeechStarted})
	time.Sleep(50 * time.Millisecond)
	if got := conn.cancelCount(); got != 1 {
		t.Errorf("Expected exactly 1 cancel, got %d", got)
	}
}

func TestBackendFatalDrains(t *testing.T) {
	h := newHarness(t)
	c := dialClient(t, h.addr)
	c.handshake(t, uuid.New())
	conn := h.connector(t, 0)

	conn.emit(backend.ErrorEvent(backend.ErrUnreachable, true))
	c.expect(t, audiosocket.KindHangup)

	waitFor(t, "end event", func() bool { return len(h.sink.byType(calllog.EventCallEnded)) == 1 })
	ended := h.sink.byType(calllog.EventCallEnded)
	if ended[0].Cause != "backend_unreachable" {
		t.Errorf("Expected cause backend_unreachable, got %s", ended[0].Cause)
	}
}

func TestFallbackMessagePlayed(t *testing.T) {
	h := &harness{sink: &recordSink{}}
	resolver := &agentcfg.Static{Config: agentcfg.AgentConfig{
		AgentID:         "test-agent",
		Provider:        backend.ProviderLocalPipeline,
		FallbackMessage: "Sorry, please call back later.",
	}}

	m, err := NewManager(
		WithResolver(resolver),
		WithFactory(func(ctx context.Context, agent *agentcfg.AgentConfig) (backend.Connector, error) {
			c := newMockConnector()
			h.mu.Lock()
			h.connectors = append(h.connectors, c)
			h.mu.Unlock()
			return c, nil
		}),
		WithSink(h.sink),
		WithFallback(func(ctx context.Context, text string) ([]byte, error) {
			return make([]byte, 640), nil
		}),
	)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	h.manager = m

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Serve(ctx, ln)

	c := dialClient(t, ln.Addr().String())
	c.handshake(t, uuid.New())
	conn := h.connector(t, 0)

	conn.emit(backend.ErrorEvent(backend.ErrUnreachable, true))

	// The apology audio must land before the hangup.
	frame := c.expect(t, audiosocket.KindAudio)
	if len(frame.Payload) != 640 {
		t.Errorf("Expected 640-byte fallback audio, got %d", len(frame.Payload))
	}
	c.expect(t, audiosocket.KindHangup)
}

func TestConcurrentSessions(t *testing.T) {
	h := newHarness(t)

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			conn, err := net.Dial("tcp", h.addr)
			if err != nil {
				errs <- err
				return
			}
			defer conn.Close()

			id := uuid.New()
			if _, err := conn.Write(audiosocket.UUIDFrame(id)); err != nil {
				errs <- err
				return
			}
			for j := 0; j < 3; j++ {
				if _, err := conn.Write(audiosocket.AudioFrame(make([]byte, 640))); err != nil {
					errs <- err
					return
				}
			}
			if _, err := conn.Write(audiosocket.HangupFrame()); err != nil {
				errs <- err
				return
			}

			conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			decoder := audiosocket.NewDecoder(conn)
			for {
				frame, err := decoder.Next()
				if err != nil {
					errs <- fmt.Errorf("call %s: %w", id, err)
					return
				}
				if frame.Kind == audiosocket.KindHangup {
					return
				}
			}
		}()
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Call failed: %v", err)
	}

	waitFor(t, "all sessions drained", func() bool {
		return len(h.sink.byType(calllog.EventCallEnded)) == n
	})
	if got := h.manager.Stats().TotalStarted; got != n {
		t.Errorf("Expected %d sessions started, got %d", n, got)
	}
}
