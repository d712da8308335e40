package localpipe

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/teslashibe/go-voicebridge/pkg/audioio"
	"github.com/teslashibe/go-voicebridge/pkg/backend"
	"github.com/teslashibe/go-voicebridge/pkg/llm"
	"github.com/teslashibe/go-voicebridge/pkg/tts"
	"github.com/teslashibe/go-voicebridge/pkg/vad"
)

// toolResult carries a SubmitToolResult call into the turn loop.
type toolResult struct {
	callID string
	result string
}

// Connector implements backend.Connector by composing a client-side VAD
// with STT, LLM, and TTS providers. Caller audio is segmented as it
// arrives; closed segments queue for the turn loop, which runs one turn
// at a time: transcribe, chat (resolving tool calls), synthesize.
type Connector struct {
	config *Config
	logger *slog.Logger

	detector *vad.Detector

	ctx    context.Context
	cancel context.CancelFunc

	events      chan backend.Event
	segments    chan []byte
	toolResults chan toolResult
	done        chan struct{}
	runDone     chan struct{}
	closeOnce   sync.Once

	mu         sync.Mutex
	started    bool
	closed     bool
	respCancel context.CancelFunc

	// history is touched only by the turn loop.
	history []llm.Message
}

// New creates a Connector. Call Start to begin the pipeline.
func New(opts ...Option) (*Connector, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if cfg.STT == nil || cfg.LLM == nil || cfg.TTS == nil {
		return nil, fmt.Errorf("localpipe: STT, LLM, and TTS providers required")
	}

	return &Connector{
		config: cfg,
		logger: cfg.Logger.With("component", "backend.localpipe"),
		detector: vad.New(vad.Config{
			SampleRate:     cfg.WireRate,
			Threshold:      cfg.VADThreshold,
			SilenceHoldoff: cfg.VADSilenceDuration,
			PrefixPadding:  cfg.VADPrefixPadding,
		}),
		events:      make(chan backend.Event, 64),
		segments:    make(chan []byte, 4),
		toolResults: make(chan toolResult, 8),
		done:        make(chan struct{}),
	}, nil
}

// Start seeds the conversation and launches the turn loop. The greeting,
// if configured, is spoken before any caller audio is processed.
func (c *Connector) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("localpipe: already started")
	}
	c.started = true
	c.mu.Unlock()

	c.ctx, c.cancel = context.WithCancel(ctx)

	if c.config.SystemPrompt != "" {
		c.history = append(c.history, llm.NewSystemMessage(c.config.SystemPrompt))
	}

	c.runDone = make(chan struct{})
	go c.runLoop()

	return nil
}

// SendAudio feeds caller audio through the VAD. Called from the session
// read loop; not safe for concurrent use.
func (c *Connector) SendAudio(pcm []byte) error {
	c.mu.Lock()
	started, closed := c.started, c.closed
	c.mu.Unlock()

	if !started {
		return backend.ErrNotStarted
	}
	if closed {
		return backend.ErrClosed
	}

	switch c.detector.Process(pcm) {
	case vad.EventSpeechStart:
		c.emit(backend.Event{Kind: backend.EventSpeechStarted})

	case vad.EventSegmentReady:
		seg := c.detector.Segment()
		c.emit(backend.Event{Kind: backend.EventTurnEnded})
		select {
		case c.segments <- seg:
		default:
			// The turn loop is behind; dropping the oldest queued
			// segment keeps the call closer to real time.
			select {
			case <-c.segments:
			default:
			}
			c.segments <- seg
			c.logger.Warn("segment queue full, dropped oldest segment")
		}
	}

	return nil
}

// SubmitToolResult hands a tool output back to the in-flight turn.
func (c *Connector) SubmitToolResult(callID, result string) error {
	select {
	case c.toolResults <- toolResult{callID: callID, result: result}:
		return nil
	case <-c.done:
		return backend.ErrClosed
	}
}

// Cancel aborts the in-flight response for barge-in. The turn loop still
// emits EventResponseDone for the cancelled turn.
func (c *Connector) Cancel() error {
	c.mu.Lock()
	cancel := c.respCancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

// Events returns the event stream.
func (c *Connector) Events() <-chan backend.Event {
	return c.events
}

// Close stops the pipeline and closes the event channel.
func (c *Connector) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		started := c.started
		c.mu.Unlock()

		if c.cancel != nil {
			c.cancel()
		}
		close(c.done)

		// Wait for the turn loop to drain before closing the event
		// channel, so emit never races a close.
		if started {
			<-c.runDone
		}
		close(c.events)
	})
	return nil
}

// runLoop speaks the greeting, then serves queued speech segments one
// turn at a time.
func (c *Connector) runLoop() {
	defer close(c.runDone)

	if c.config.Greeting != "" {
		c.runGreeting()
	}

	for {
		select {
		case <-c.done:
			return
		case seg := <-c.segments:
			c.runTurn(seg)
		}
	}
}

// runGreeting speaks the configured opening line and records it so the
// model knows the call is already underway.
func (c *Connector) runGreeting() {
	ctx, done := c.beginResponse()
	if ctx == nil {
		return
	}
	defer done()

	c.history = append(c.history, llm.NewAssistantMessage(c.config.Greeting))
	c.emit(backend.TranscriptEvent("assistant", c.config.Greeting, true))
	c.speak(ctx, c.config.Greeting)
	c.emit(backend.Event{Kind: backend.EventResponseDone})
}

// runTurn runs one full caller turn: transcribe, chat, synthesize.
func (c *Connector) runTurn(segment []byte) {
	ctx, done := c.beginResponse()
	if ctx == nil {
		return
	}
	defer done()

	text, ok := c.transcribe(ctx, segment)
	if !ok {
		c.emit(backend.Event{Kind: backend.EventResponseDone})
		return
	}

	c.emit(backend.TranscriptEvent("user", text, true))
	c.history = append(c.history, llm.NewUserMessage(text))

	reply, ok := c.chat(ctx)
	c.trimHistory()
	if ok && reply != "" {
		c.emit(backend.TranscriptEvent("assistant", reply, true))
		c.speak(ctx, reply)
	}
	c.emit(backend.Event{Kind: backend.EventResponseDone})
}

// beginResponse opens a cancellable response scope. Returns a nil
// context when the connector is already closed.
func (c *Connector) beginResponse() (context.Context, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, nil
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.respCancel = cancel
	return ctx, func() {
		c.mu.Lock()
		c.respCancel = nil
		c.mu.Unlock()
		cancel()
	}
}

// transcribe runs STT on a segment. An empty transcript means the
// segment held no usable speech and the turn is skipped.
func (c *Connector) transcribe(ctx context.Context, segment []byte) (string, bool) {
	res, err := c.config.STT.Transcribe(ctx, segment, c.config.WireRate)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Error("transcription failed", "error", err)
			c.emit(backend.ErrorEvent(fmt.Errorf("localpipe: transcribe: %w", err), false))
		}
		return "", false
	}
	if res.Text == "" {
		c.logger.Debug("segment held no speech", "bytes", len(segment))
		return "", false
	}
	return res.Text, true
}

// chat drives the completion, resolving tool calls until the model
// produces text or the round budget runs out.
func (c *Connector) chat(ctx context.Context) (string, bool) {
	req := &llm.ChatRequest{
		Temperature: c.config.Temperature,
		Tools:       c.config.ToolSchemas,
	}
	if len(req.Tools) > 0 {
		req.ToolChoice = "auto"
	}

	for round := 0; round <= c.config.MaxToolRounds; round++ {
		req.Messages = c.history

		resp, err := c.config.LLM.Chat(ctx, req)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Error("chat failed", "error", err)
				c.emit(backend.ErrorEvent(fmt.Errorf("localpipe: chat: %w", err), false))
			}
			return "", false
		}

		c.history = append(c.history, resp.Message)

		if len(resp.Message.ToolCalls) == 0 {
			return resp.Message.Content, true
		}

		for _, call := range resp.Message.ToolCalls {
			c.emit(backend.ToolCallEvent(call.ID, call.Name, call.Arguments))
			result, ok := c.awaitToolResult(ctx, call.ID)
			if !ok {
				return "", false
			}
			c.history = append(c.history, llm.NewToolMessage(call.ID, result))
		}
	}

	c.logger.Warn("tool round budget exhausted", "rounds", c.config.MaxToolRounds)
	return "", false
}

// awaitToolResult blocks until the session submits the output for the
// given call, the response is cancelled, or the connector closes.
func (c *Connector) awaitToolResult(ctx context.Context, callID string) (string, bool) {
	for {
		select {
		case tr := <-c.toolResults:
			if tr.callID == callID {
				return tr.result, true
			}
			// Stale result from a cancelled turn.
			c.logger.Debug("dropping stale tool result", "call_id", tr.callID)
		case <-ctx.Done():
			return "", false
		case <-c.done:
			return "", false
		}
	}
}

// speak synthesizes reply text sentence by sentence and emits wire-rate
// audio frames. Cancellation between sentences stops the response.
func (c *Connector) speak(ctx context.Context, text string) {
	for _, sentence := range splitSentences(text) {
		if ctx.Err() != nil {
			return
		}

		result, err := c.config.TTS.Synthesize(ctx, sentence)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Error("synthesis failed", "error", err)
				c.emit(backend.ErrorEvent(fmt.Errorf("localpipe: synthesize: %w", err), false))
			}
			return
		}

		rate := result.Format.SampleRate
		if rate <= 0 {
			rate = tts.SampleRateFromEncoding(result.Format.Encoding)
		}

		conv := audioio.NewConverter(rate, c.config.WireRate, c.config.FrameBytes)
		for _, chunk := range conv.Convert(result.Audio) {
			if ctx.Err() != nil {
				return
			}
			c.emit(backend.AudioEvent(chunk))
		}
		if tail := conv.Flush(); len(tail) > 0 {
			c.emit(backend.AudioEvent(tail))
		}
	}
}

// trimHistory keeps the system prompt plus the most recent messages.
func (c *Connector) trimHistory() {
	max := c.config.MaxHistory
	if max <= 0 || len(c.history) <= max {
		return
	}
	var kept []llm.Message
	if len(c.history) > 0 && c.history[0].Role == llm.RoleSystem {
		kept = append(kept, c.history[0])
	}
	c.history = append(kept, c.history[len(c.history)-max:]...)
}

// emit delivers an event unless the connector is shutting down.
func (c *Connector) emit(ev backend.Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// Verify Connector implements backend.Connector at compile time.
var _ backend.Connector = (*Connector)(nil)
