// Package session owns the life of one call leg: the TCP framing on one
// side, a voice backend on the other, and the turn-taking state between
// them. The Manager accepts connections and keeps the UUID-keyed arena
// of live sessions.
package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/teslashibe/go-voicebridge/pkg/agentcfg"
	"github.com/teslashibe/go-voicebridge/pkg/backend"
	"github.com/teslashibe/go-voicebridge/pkg/calllog"
	"github.com/teslashibe/go-voicebridge/pkg/tools"
)

// Defaults for session handling.
const (
	// DefaultMaxSessions caps concurrent call legs.
	DefaultMaxSessions = 100

	// DefaultIdleTimeout drains a session with no inbound audio.
	DefaultIdleTimeout = 60 * time.Second

	// DefaultOutboundQueue is the outbound frame buffer per session.
	DefaultOutboundQueue = 256

	// DefaultWireRate is the telephony PCM16 sample rate.
	DefaultWireRate = 8000

	handshakeTimeout = 5 * time.Second
	writeTimeout     = 5 * time.Second
)

// ConnectorFactory builds the voice backend for one call, from its
// resolved agent configuration.
type ConnectorFactory func(ctx context.Context, agent *agentcfg.AgentConfig) (backend.Connector, error)

// FallbackSynth synthesizes wire-rate PCM16 for a fallback message when
// the backend has failed. Optional.
type FallbackSynth func(ctx context.Context, text string) ([]byte, error)

// Config holds manager and per-session configuration.
type Config struct {
	// Resolver maps a call UUID to its agent configuration. Required.
	Resolver agentcfg.Resolver

	// Factory builds the backend connector per call. Required.
	Factory ConnectorFactory

	// Dispatcher executes tool calls. Optional; without it tool calls
	// are answered with an error payload.
	Dispatcher *tools.Dispatcher

	// Sink receives call lifecycle and transcript events.
	Sink calllog.Sink

	// Fallback synthesizes the agent's fallback message when the
	// backend dies mid-call. Optional.
	Fallback FallbackSynth

	// MaxSessions caps concurrent call legs; excess legs are rejected
	// at accept with an error frame.
	MaxSessions int

	// IdleTimeout drains sessions with no inbound frames.
	IdleTimeout time.Duration

	// OutboundQueue is the per-session outbound frame buffer. Overflow
	// drops the newest frame.
	OutboundQueue int

	// WireRate is the telephony PCM16 sample rate.
	WireRate int

	Logger *slog.Logger
}

// Option is a functional option for configuring the manager.
type Option func(*Config)

// WithResolver sets the agent configuration resolver.
func WithResolver(r agentcfg.Resolver) Option {
	return func(c *Config) { c.Resolver = r }
}

// WithFactory sets the backend connector factory.
func WithFactory(f ConnectorFactory) Option {
	return func(c *Config) { c.Factory = f }
}

// WithDispatcher sets the tool dispatcher.
func WithDispatcher(d *tools.Dispatcher) Option {
	return func(c *Config) { c.Dispatcher = d }
}

// WithSink sets the call event sink.
func WithSink(s calllog.Sink) Option {
	return func(c *Config) { c.Sink = s }
}

// WithFallback sets the fallback message synthesizer.
func WithFallback(f FallbackSynth) Option {
	return func(c *Config) { c.Fallback = f }
}

// WithMaxSessions caps concurrent call legs.
func WithMaxSessions(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxSessions = n
		}
	}
}

// WithIdleTimeout sets the inbound idle timeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.IdleTimeout = d
		}
	}
}

// WithOutboundQueue sets the per-session outbound buffer size.
func WithOutboundQueue(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.OutboundQueue = n
		}
	}
}

// WithWireRate sets the telephony sample rate.
func WithWireRate(rate int) Option {
	return func(c *Config) {
		if rate > 0 {
			c.WireRate = rate
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns manager defaults.
func DefaultConfig() *Config {
	return &Config{
		Sink:          calllog.NopSink{},
		MaxSessions:   DefaultMaxSessions,
		IdleTimeout:   DefaultIdleTimeout,
		OutboundQueue: DefaultOutboundQueue,
		WireRate:      DefaultWireRate,
		Logger:        slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}
