package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/teslashibe/go-voicebridge/pkg/audioio"
)

// Whisper is an HTTP transcription client for OpenAI-compatible
// /audio/transcriptions endpoints. Raw PCM is wrapped in a WAV container
// before upload so the server knows the sample rate.
type Whisper struct {
	baseURL string
	apiKey  string
	config  *Config
	http    *http.Client
	logger  *slog.Logger
}

// NewWhisper creates a Whisper transcription client.
func NewWhisper(opts ...Option) (*Whisper, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	return &Whisper{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		config:  cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  cfg.Logger.With("component", "stt.whisper"),
	}, nil
}

// Transcribe uploads the audio and returns the transcript.
func (w *Whisper) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (*Result, error) {
	if len(pcm) == 0 {
		return nil, ErrEmptyAudio
	}

	start := time.Now()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, fmt.Errorf("stt: create form file: %w", err)
	}
	if _, err := part.Write(audioio.WAVBytes(pcm, sampleRate)); err != nil {
		return nil, fmt.Errorf("stt: write audio: %w", err)
	}

	mw.WriteField("model", w.config.Model)
	mw.WriteField("response_format", "json")
	if w.config.Language != "" {
		mw.WriteField("language", w.config.Language)
	}
	if w.config.Prompt != "" {
		mw.WriteField("prompt", w.config.Prompt)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("stt: close multipart: %w", err)
	}

	url := w.baseURL + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, "POST", url, &buf)
	if err != nil {
		return nil, fmt.Errorf("stt: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if w.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.apiKey)
	}

	resp, err := w.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stt: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, w.parseError(resp)
	}

	var result struct {
		Text     string `json:"text"`
		Language string `json:"language"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("stt: decode response: %w", err)
	}

	elapsed := time.Since(start)
	w.logger.Debug("transcription complete",
		"audio_ms", audioio.Duration(pcm, sampleRate).Milliseconds(),
		"latency_ms", elapsed.Milliseconds(),
		"chars", len(result.Text),
	)

	return &Result{
		Text:      strings.TrimSpace(result.Text),
		Language:  result.Language,
		LatencyMs: elapsed.Milliseconds(),
	}, nil
}

// Health checks API connectivity.
func (w *Whisper) Health(ctx context.Context) error {
	url := w.baseURL + "/models"
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("stt: create request: %w", err)
	}
	if w.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.apiKey)
	}

	resp, err := w.http.Do(req)
	if err != nil {
		return fmt.Errorf("stt: health check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return w.parseError(resp)
	}
	return nil
}

// Close releases resources.
func (w *Whisper) Close() error {
	w.http.CloseIdleConnections()
	return nil
}

// parseError reads and parses an error response.
func (w *Whisper) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errResp struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}

	message := string(body)
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
	}
}

// Verify Whisper implements Provider at compile time.
var _ Provider = (*Whisper)(nil)
