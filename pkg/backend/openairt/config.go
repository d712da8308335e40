// Package openairt connects a call session to the OpenAI Realtime API.
// The model does VAD, recognition, and synthesis server-side over a
// single WebSocket; this package translates between the telephony wire
// format and the API's 24kHz PCM, and surfaces the API's event stream
// as backend events.
package openairt

import (
	"log/slog"
	"time"
)

// API defaults.
const (
	DefaultBaseURL = "wss://api.openai.com/v1/realtime"
	DefaultModel   = "gpt-4o-realtime-preview-2024-12-17"

	// APISampleRate is the PCM16 rate the Realtime API speaks.
	APISampleRate = 24000

	// DefaultWireRate is the telephony-side PCM16 rate.
	DefaultWireRate = 8000

	handshakeTimeout  = 10 * time.Second
	keepaliveInterval = 20 * time.Second
	writeTimeout      = 5 * time.Second
)

// Config holds connector configuration.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string

	// Voice is the server-side TTS voice.
	Voice string

	// Instructions is the agent's system prompt.
	Instructions string

	// Temperature overrides the model default when > 0.
	Temperature float64

	// ToolSchemas are OpenAI function schemas the model may call.
	ToolSchemas []map[string]interface{}

	// WireRate is the telephony PCM16 sample rate.
	WireRate int

	// FrameBytes is the outbound audio chunk size at the wire rate.
	// Zero disables reframing and passes resampled audio through.
	FrameBytes int

	// VAD tuning forwarded to server-side turn detection.
	VADThreshold       float64
	VADPrefixPadding   time.Duration
	VADSilenceDuration time.Duration

	Logger *slog.Logger
}

// Option is a functional option for configuring the connector.
type Option func(*Config)

// WithBaseURL overrides the WebSocket endpoint.
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithModel sets the realtime model.
func WithModel(model string) Option {
	return func(c *Config) {
		if model != "" {
			c.Model = model
		}
	}
}

// WithVoice sets the server-side voice.
func WithVoice(voice string) Option {
	return func(c *Config) { c.Voice = voice }
}

// WithInstructions sets the system prompt.
func WithInstructions(text string) Option {
	return func(c *Config) { c.Instructions = text }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *Config) { c.Temperature = t }
}

// WithToolSchemas sets the function schemas offered to the model.
func WithToolSchemas(schemas []map[string]interface{}) Option {
	return func(c *Config) { c.ToolSchemas = schemas }
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

// WithVAD tunes server-side turn detection.
func WithVAD(threshold float64, prefixPadding, silence time.Duration) Option {
	return func(c *Config) {
		c.VADThreshold = threshold
		c.VADPrefixPadding = prefixPadding
		c.VADSilenceDuration = silence
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns connector defaults.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:  DefaultBaseURL,
		Model:    DefaultModel,
		Voice:    "alloy",
		WireRate: DefaultWireRate,
		Logger:   slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}
