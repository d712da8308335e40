// Package backend defines the connector abstraction between a call
// session and the AI voice service behind it. A session pushes caller
// audio into a Connector and consumes Events from it; whether the
// connector speaks to a cloud realtime API over WebSocket or composes a
// local STT, LLM, and TTS pipeline is invisible to the session.
package backend

import "context"

// Provider names route an agent configuration to a connector
// implementation. Untyped so they compare and assign as plain strings
// from config and environment values.
const (
	// ProviderOpenAIRealtime is the cloud speech-to-speech backend.
	ProviderOpenAIRealtime = "openai-realtime"

	// ProviderLocalPipeline is the composed STT, LLM, TTS backend.
	ProviderLocalPipeline = "local-pipeline"
)

// Connector is one session's channel to its AI backend. A connector is
// single-use: Start it once, Close it once, and read Events until the
// channel closes. All methods are safe for concurrent use.
type Connector interface {
	// Start establishes the backend connection and begins emitting
	// events. Audio sent before Start returns ErrNotStarted.
	Start(ctx context.Context) error

	// SendAudio pushes caller PCM16 audio at the wire sample rate. The
	// connector owns any resampling the backend needs.
	SendAudio(pcm []byte) error

	// SubmitToolResult returns a tool call result to the model and
	// requests a continuation response.
	SubmitToolResult(callID, result string) error

	// Cancel aborts the in-flight response, for barge-in. A no-op when
	// nothing is being generated.
	Cancel() error

	// Events returns the connector's event stream. The channel is
	// closed after Close, or when the backend is lost for good; an
	// EventError with Fatal set precedes an abnormal close.
	Events() <-chan Event

	// Close tears the connector down and releases its resources.
	Close() error
}
