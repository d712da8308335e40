package calllog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/teslashibe/go-voicebridge/internal/httpc"
	"github.com/teslashibe/go-voicebridge/internal/log"
)

// NopSink discards every event.
type NopSink struct{}

// Record discards the event.
func (NopSink) Record(Event) {}

// Close is a no-op.
func (NopSink) Close() error { return nil }

// SlogSink writes events to the structured log.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a sink writing to the given logger, or the global
// logger when nil.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = log.With("component", "calllog")
	}
	return &SlogSink{logger: logger}
}

// Record logs the event.
func (s *SlogSink) Record(ev Event) {
	attrs := []any{"call_id", ev.CallID}
	switch ev.Type {
	case EventTranscript:
		attrs = append(attrs, "role", ev.Role, "text", ev.Text)
	case EventToolCall:
		attrs = append(attrs, "tool", ev.Tool)
	case EventCallEnded:
		attrs = append(attrs, "cause", ev.Cause, "duration", ev.Duration)
	case EventBackendError:
		attrs = append(attrs, "cause", ev.Cause)
	}
	s.logger.Info(string(ev.Type), attrs...)
}

// Close is a no-op.
func (s *SlogSink) Close() error { return nil }

// WebhookSink posts events as JSON to an HTTP endpoint. Events queue
// through a bounded buffer drained by one worker; when the buffer is
// full the newest event is dropped and counted, never blocking the
// caller.
type WebhookSink struct {
	url    string
	token  string
	client *http.Client
	logger *slog.Logger

	queue chan Event
	done  chan struct{}

	mu      sync.Mutex
	dropped int
	closed  bool
}

// DefaultWebhookQueue is the event buffer size.
const DefaultWebhookQueue = 256

// WebhookOption configures a WebhookSink.
type WebhookOption func(*WebhookSink)

// WithWebhookToken sets the bearer token sent with each post.
func WithWebhookToken(token string) WebhookOption {
	return func(s *WebhookSink) { s.token = token }
}

// WithWebhookClient overrides the HTTP client.
func WithWebhookClient(c *http.Client) WebhookOption {
	return func(s *WebhookSink) { s.client = c }
}

// WithWebhookQueue overrides the buffer size.
func WithWebhookQueue(n int) WebhookOption {
	return func(s *WebhookSink) {
		if n > 0 {
			s.queue = make(chan Event, n)
		}
	}
}

// NewWebhookSink creates a sink posting to url and starts its worker.
func NewWebhookSink(url string, opts ...WebhookOption) *WebhookSink {
	s := &WebhookSink{
		url:    url,
		client: httpc.Client,
		logger: log.With("component", "calllog.webhook"),
		queue:  make(chan Event, DefaultWebhookQueue),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.worker()
	return s
}

// Record queues the event, dropping it when the buffer is full. The
// lock spans the send so Record never races Close closing the queue.
func (s *WebhookSink) Record(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	select {
	case s.queue <- ev:
	default:
		s.dropped++
		if s.dropped%100 == 1 {
			s.logger.Warn("event queue full, dropping", "dropped_total", s.dropped)
		}
	}
}

// Dropped returns the number of events dropped under pressure.
func (s *WebhookSink) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close stops intake, drains the queue, and stops the worker.
func (s *WebhookSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.queue)
	<-s.done
	return nil
}

// worker drains the queue until Close.
func (s *WebhookSink) worker() {
	defer close(s.done)
	for ev := range s.queue {
		if err := s.post(ev); err != nil {
			s.logger.Warn("webhook delivery failed", "type", ev.Type, "error", err)
		}
	}
}

// post delivers one event.
func (s *WebhookSink) post(ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("calllog: marshal event: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("calllog: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("calllog: post: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("calllog: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Verify sinks implement Sink at compile time.
var (
	_ Sink = NopSink{}
	_ Sink = (*SlogSink)(nil)
	_ Sink = (*WebhookSink)(nil)
)
