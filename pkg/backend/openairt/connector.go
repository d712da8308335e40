package openairt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-voicebridge/pkg/audioio"
	"github.com/teslashibe/go-voicebridge/pkg/backend"
)

// Connector implements backend.Connector over the OpenAI Realtime API.
type Connector struct {
	config *Config
	logger *slog.Logger

	ws   *websocket.Conn
	wsMu sync.Mutex

	mu          sync.RWMutex
	started     bool
	closed      bool
	reconnected bool

	ctx    context.Context
	cancel context.CancelFunc

	events    chan backend.Event
	done      chan struct{}
	readDone  chan struct{}
	closeOnce sync.Once

	// upstream resamples wire-rate caller audio to the API rate;
	// downstream converts API audio back and reframes it for the wire.
	upstream   *audioio.Converter
	downstream *audioio.Converter
	downMu     sync.Mutex
}

// New creates a Connector. Call Start to connect.
func New(opts ...Option) (*Connector, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openairt: API key required")
	}

	return &Connector{
		config:     cfg,
		logger:     cfg.Logger.With("component", "backend.openairt"),
		events:     make(chan backend.Event, 64),
		done:       make(chan struct{}),
		upstream:   audioio.NewConverter(cfg.WireRate, APISampleRate, 0),
		downstream: audioio.NewConverter(APISampleRate, cfg.WireRate, cfg.FrameBytes),
	}, nil
}

// Start dials the API and configures the session.
func (c *Connector) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("openairt: already started")
	}
	c.started = true
	c.mu.Unlock()

	c.ctx, c.cancel = context.WithCancel(ctx)

	if err := c.dial(); err != nil {
		return err
	}

	if err := c.configureSession(); err != nil {
		c.Close()
		return fmt.Errorf("openairt: configure session: %w", err)
	}

	c.readDone = make(chan struct{})
	go c.readLoop()
	go c.keepaliveLoop()

	return nil
}

// dial establishes the WebSocket connection.
func (c *Connector) dial() error {
	url := fmt.Sprintf("%s?model=%s", c.config.BaseURL, c.config.Model)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.config.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}

	ws, _, err := dialer.DialContext(c.ctx, url, header)
	if err != nil {
		return fmt.Errorf("openairt: dial: %w", err)
	}

	c.wsMu.Lock()
	c.ws = ws
	c.wsMu.Unlock()

	c.logger.Info("connected", "model", c.config.Model)
	return nil
}

// configureSession sends session.update with voice, instructions, VAD
// tuning, and tool schemas.
func (c *Connector) configureSession() error {
	tools := c.config.ToolSchemas
	if tools == nil {
		tools = []map[string]interface{}{}
	}

	prefixPaddingMs := int(c.config.VADPrefixPadding.Milliseconds())
	if prefixPaddingMs == 0 {
		prefixPaddingMs = 300
	}
	silenceDurationMs := int(c.config.VADSilenceDuration.Milliseconds())
	if silenceDurationMs == 0 {
		silenceDurationMs = 500
	}
	threshold := c.config.VADThreshold
	if threshold == 0 {
		threshold = 0.5
	}

	session := map[string]interface{}{
		"modalities":          []string{"text", "audio"},
		"instructions":        c.config.Instructions,
		"voice":               c.config.Voice,
		"input_audio_format":  "pcm16",
		"output_audio_format": "pcm16",
		"input_audio_transcription": map[string]interface{}{
			"model": "whisper-1",
		},
		"turn_detection": map[string]interface{}{
			"type":                "server_vad",
			"threshold":           threshold,
			"prefix_padding_ms":   prefixPaddingMs,
			"silence_duration_ms": silenceDurationMs,
		},
		"tools":       tools,
		"tool_choice": "auto",
	}
	if c.config.Temperature > 0 {
		session["temperature"] = c.config.Temperature
	}

	return c.sendJSON(map[string]interface{}{
		"type":    "session.update",
		"session": session,
	})
}

// SendAudio resamples caller audio up to the API rate and appends it to
// the input buffer.
func (c *Connector) SendAudio(pcm []byte) error {
	c.mu.RLock()
	started, closed := c.started, c.closed
	c.mu.RUnlock()

	if !started {
		return backend.ErrNotStarted
	}
	if closed {
		return backend.ErrClosed
	}

	// Upstream converter carries no framer, so Convert yields at most
	// one chunk holding everything.
	var out []byte
	for _, chunk := range c.upstream.Convert(pcm) {
		out = append(out, chunk...)
	}
	if tail := c.upstream.Flush(); len(tail) > 0 {
		out = append(out, tail...)
	}
	if len(out) == 0 {
		return nil
	}

	return c.sendJSON(map[string]interface{}{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(out),
	})
}

// SubmitToolResult returns a tool output to the model and requests the
// continuation response.
func (c *Connector) SubmitToolResult(callID, result string) error {
	if err := c.sendJSON(map[string]interface{}{
		"type": "conversation.item.create",
		"item": map[string]interface{}{
			"type":    "function_call_output",
			"call_id": callID,
			"output":  result,
		},
	}); err != nil {
		return err
	}
	return c.sendJSON(map[string]string{"type": "response.create"})
}

// Cancel aborts the in-flight response for barge-in.
func (c *Connector) Cancel() error {
	c.downMu.Lock()
	c.downstream.Flush()
	c.downMu.Unlock()
	return c.sendJSON(map[string]string{"type": "response.cancel"})
}

// Events returns the event stream.
func (c *Connector) Events() <-chan backend.Event {
	return c.events
}

// Close tears down the connection and closes the event channel.
func (c *Connector) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		if c.cancel != nil {
			c.cancel()
		}

		c.wsMu.Lock()
		ws := c.ws
		c.ws = nil
		c.wsMu.Unlock()

		if ws != nil {
			ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			err = ws.Close()
		}

		close(c.done)

		// Wait for the read loop to drain before closing the event
		// channel, so emit never races a close.
		if c.readDone != nil {
			<-c.readDone
		}
		close(c.events)
	})
	return err
}

// readLoop pumps API events until the connection drops or the connector
// closes. One silent reconnect is attempted on connection loss; after
// that the failure is fatal.
func (c *Connector) readLoop() {
	defer close(c.readDone)

	for {
		c.wsMu.Lock()
		ws := c.ws
		c.wsMu.Unlock()

		if ws == nil {
			return
		}

		_, message, err := ws.ReadMessage()
		if err != nil {
			c.mu.RLock()
			closed := c.closed
			alreadyReconnected := c.reconnected
			c.mu.RUnlock()

			if closed {
				return
			}

			if !alreadyReconnected {
				c.mu.Lock()
				c.reconnected = true
				c.mu.Unlock()

				c.logger.Warn("connection lost, reconnecting", "error", err)
				if rerr := c.reconnect(); rerr == nil {
					continue
				}
			}

			c.logger.Error("backend unreachable", "error", err)
			c.emit(backend.ErrorEvent(backend.ErrUnreachable, true))
			// Close waits for this loop to exit, so it must run from
			// another goroutine.
			go c.Close()
			return
		}

		c.handleMessage(message)
	}
}

// reconnect re-dials and re-configures the session.
func (c *Connector) reconnect() error {
	if err := c.dial(); err != nil {
		return err
	}
	return c.configureSession()
}

// handleMessage translates one API event into a backend event.
func (c *Connector) handleMessage(message []byte) {
	var msg map[string]interface{}
	if err := json.Unmarshal(message, &msg); err != nil {
		return
	}

	msgType, _ := msg["type"].(string)

	switch msgType {
	case "session.created", "session.updated":
		c.logger.Debug("session ready", "event", msgType)

	case "input_audio_buffer.speech_started":
		c.emit(backend.Event{Kind: backend.EventSpeechStarted})

	case "input_audio_buffer.speech_stopped":
		c.emit(backend.Event{Kind: backend.EventTurnEnded})

	case "conversation.item.input_audio_transcription.completed":
		if transcript, ok := msg["transcript"].(string); ok {
			c.emit(backend.TranscriptEvent("user", transcript, true))
		}

	case "response.audio.delta":
		if delta, ok := msg["delta"].(string); ok {
			c.handleAudioDelta(delta)
		}

	case "response.audio_transcript.delta":
		if delta, ok := msg["delta"].(string); ok {
			c.emit(backend.TranscriptEvent("assistant", delta, false))
		}

	case "response.audio_transcript.done":
		if transcript, ok := msg["transcript"].(string); ok {
			c.emit(backend.TranscriptEvent("assistant", transcript, true))
		}

	case "response.function_call_arguments.done":
		name, _ := msg["name"].(string)
		callID, _ := msg["call_id"].(string)
		args, _ := msg["arguments"].(string)
		c.emit(backend.ToolCallEvent(callID, name, args))

	case "response.done":
		// Flush the tail shorter than one frame so response audio is
		// not clipped.
		c.downMu.Lock()
		tail := c.downstream.Flush()
		c.downMu.Unlock()
		if len(tail) > 0 {
			c.emit(backend.AudioEvent(tail))
		}
		c.emit(backend.Event{Kind: backend.EventResponseDone})

	case "error":
		if errData, ok := msg["error"].(map[string]interface{}); ok {
			if errMsg, ok := errData["message"].(string); ok {
				c.emit(backend.ErrorEvent(fmt.Errorf("openairt: API error: %s", errMsg), false))
			}
		}

	default:
		// Other lifecycle events carry nothing the session needs.
	}
}

// handleAudioDelta decodes, downsamples, and reframes response audio.
func (c *Connector) handleAudioDelta(delta string) {
	audio, err := base64.StdEncoding.DecodeString(delta)
	if err != nil {
		c.logger.Warn("bad audio delta", "error", err)
		return
	}

	c.downMu.Lock()
	chunks := c.downstream.Convert(audio)
	c.downMu.Unlock()

	for _, chunk := range chunks {
		c.emit(backend.AudioEvent(chunk))
	}
}

// keepaliveLoop pings the server so idle stretches of a quiet call do
// not drop the connection.
func (c *Connector) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.wsMu.Lock()
			ws := c.ws
			if ws != nil {
				ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			}
			c.wsMu.Unlock()
		}
	}
}

// emit delivers an event unless the connector is shutting down.
func (c *Connector) emit(ev backend.Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// sendJSON sends a JSON message over the WebSocket.
func (c *Connector) sendJSON(v interface{}) error {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()

	if c.ws == nil {
		return backend.ErrClosed
	}

	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(v)
}

// Verify Connector implements backend.Connector at compile time.
var _ backend.Connector = (*Connector)(nil)
