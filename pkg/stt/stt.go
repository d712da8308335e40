// Package stt provides speech-to-text for the local voice pipeline.
//
// The package abstracts transcription behind a Provider interface. The
// bundled Whisper client works with any OpenAI-compatible transcription
// endpoint (OpenAI, Groq, faster-whisper-server, speaches, etc.).
//
// Example usage:
//
//	provider, _ := stt.NewWhisper(
//	    stt.WithAPIKey(os.Getenv("OPENAI_API_KEY")),
//	    stt.WithModel("whisper-1"),
//	)
//	defer provider.Close()
//
//	result, _ := provider.Transcribe(ctx, pcm, 16000)
package stt

import "context"

// Provider defines the transcription interface.
type Provider interface {
	// Transcribe converts PCM16 mono audio at the given sample rate into
	// text. An empty transcript with a nil error means the audio held no
	// recognizable speech.
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) (*Result, error)

	// Health checks provider connectivity and API key validity.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// Result is one completed transcription.
type Result struct {
	// Text is the recognized transcript.
	Text string

	// Language is the detected language code, when the API reports one.
	Language string

	// LatencyMs is the request round-trip time in milliseconds.
	LatencyMs int64
}
