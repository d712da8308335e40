// Package localpipe runs a call against local pipeline components: an
// energy VAD segments the caller's speech, segments go through STT, the
// transcript drives a chat completion (with tool calls), and the reply
// is synthesized back to wire-rate audio. Each stage sits behind its
// provider interface, so any mix of cloud and self-hosted services
// works.
package localpipe

import (
	"log/slog"
	"time"

	"github.com/teslashibe/go-voicebridge/pkg/llm"
	"github.com/teslashibe/go-voicebridge/pkg/stt"
	"github.com/teslashibe/go-voicebridge/pkg/tts"
)

// Pipeline defaults.
const (
	// DefaultWireRate is the telephony-side PCM16 rate.
	DefaultWireRate = 8000

	// DefaultMaxHistory caps the conversation messages kept between
	// turns, not counting the system prompt.
	DefaultMaxHistory = 40

	// DefaultMaxToolRounds caps chat round-trips spent on tool calls
	// within a single turn.
	DefaultMaxToolRounds = 4
)

// Config holds pipeline connector configuration.
type Config struct {
	// STT, LLM, and TTS are the pipeline stages. All three are required.
	STT stt.Provider
	LLM llm.Provider
	TTS tts.Provider

	// SystemPrompt seeds the conversation.
	SystemPrompt string

	// Greeting, when set, is spoken as soon as the call starts.
	Greeting string

	// ToolSchemas are OpenAI function schemas the model may call.
	ToolSchemas []map[string]interface{}

	// Temperature overrides the model default when > 0.
	Temperature float64

	// WireRate is the telephony PCM16 sample rate.
	WireRate int

	// FrameBytes is the outbound audio chunk size at the wire rate.
	// Zero disables reframing.
	FrameBytes int

	// VAD tuning. Zero values fall back to the vad package defaults.
	VADThreshold       float64
	VADPrefixPadding   time.Duration
	VADSilenceDuration time.Duration

	// MaxHistory caps retained conversation messages.
	MaxHistory int

	// MaxToolRounds caps tool-call round-trips per turn.
	MaxToolRounds int

	Logger *slog.Logger
}

// Option is a functional option for configuring the connector.
type Option func(*Config)

// WithSTT sets the speech-to-text provider.
func WithSTT(p stt.Provider) Option {
	return func(c *Config) { c.STT = p }
}

// WithLLM sets the chat completion provider.
func WithLLM(p llm.Provider) Option {
	return func(c *Config) { c.LLM = p }
}

// WithTTS sets the text-to-speech provider.
func WithTTS(p tts.Provider) Option {
	return func(c *Config) { c.TTS = p }
}

// WithSystemPrompt sets the system prompt.
func WithSystemPrompt(text string) Option {
	return func(c *Config) { c.SystemPrompt = text }
}

// WithGreeting sets the opening line spoken at call start.
func WithGreeting(text string) Option {
	return func(c *Config) { c.Greeting = text }
}

// WithToolSchemas sets the function schemas offered to the model.
func WithToolSchemas(schemas []map[string]interface{}) Option {
	return func(c *Config) { c.ToolSchemas = schemas }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *Config) { c.Temperature = t }
}

// WithWireRate sets the telephony sample rate.
func WithWireRate(rate int) Option {
	return func(c *Config) {
		if rate > 0 {
			c.WireRate = rate
		}
	}
}

// WithFrameBytes sets the outbound chunk size at the wire rate.
func WithFrameBytes(n int) Option {
	return func(c *Config) { c.FrameBytes = n }
}

// WithVAD tunes client-side turn detection.
func WithVAD(threshold float64, prefixPadding, silence time.Duration) Option {
	return func(c *Config) {
		c.VADThreshold = threshold
		c.VADPrefixPadding = prefixPadding
		c.VADSilenceDuration = silence
	}
}

// WithMaxHistory caps retained conversation messages.
func WithMaxHistory(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxHistory = n
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns connector defaults.
func DefaultConfig() *Config {
	return &Config{
		WireRate:      DefaultWireRate,
		MaxHistory:    DefaultMaxHistory,
		MaxToolRounds: DefaultMaxToolRounds,
		Logger:        slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}
