package stt

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWhisperTranscribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("Expected /audio/transcriptions, got %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Expected Bearer test-key, got %s", auth)
		}

		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("Failed to parse multipart form: %v", err)
		}
		if model := r.FormValue("model"); model != "whisper-1" {
			t.Errorf("Expected model whisper-1, got %s", model)
		}
		if lang := r.FormValue("language"); lang != "en" {
			t.Errorf("Expected language en, got %s", lang)
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("Missing file part: %v", err)
		}
		defer file.Close()
		if header.Filename != "audio.wav" {
			t.Errorf("Expected audio.wav, got %s", header.Filename)
		}

		// 320 bytes of PCM arrive wrapped in a 44-byte WAV header.
		data, _ := io.ReadAll(file)
		if len(data) != 44+320 {
			t.Errorf("Expected %d bytes of WAV, got %d", 44+320, len(data))
		}
		if string(data[:4]) != "RIFF" {
			t.Error("Uploaded file is not a WAV container")
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"text": " Hello there. ", "language": "english"}`)
	}))
	defer server.Close()

	provider, err := NewWhisper(
		WithBaseURL(server.URL),
		WithAPIKey("test-key"),
		WithLanguage("en"),
	)
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}
	defer provider.Close()

	result, err := provider.Transcribe(context.Background(), make([]byte, 320), 16000)
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	if result.Text != "Hello there." {
		t.Errorf("Expected trimmed transcript, got %q", result.Text)
	}
	if result.Language != "english" {
		t.Errorf("Expected language english, got %q", result.Language)
	}
}

func TestWhisperTranscribeEmptyAudio(t *testing.T) {
	provider, _ := NewWhisper()
	defer provider.Close()

	if _, err := provider.Transcribe(context.Background(), nil, 16000); err != ErrEmptyAudio {
		t.Errorf("Expected ErrEmptyAudio, got %v", err)
	}
}

func TestWhisperTranscribeAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error": {"message": "Rate limit reached"}}`)
	}))
	defer server.Close()

	provider, _ := NewWhisper(WithBaseURL(server.URL))
	defer provider.Close()

	_, err := provider.Transcribe(context.Background(), make([]byte, 320), 16000)
	if err == nil {
		t.Fatal("Expected error for 429 response")
	}

	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("Expected *APIError, got %T", err)
	}
	if !apiErr.IsRateLimited() || !apiErr.IsRetryable() {
		t.Error("429 must be rate-limited and retryable")
	}
	if apiErr.Message != "Rate limit reached" {
		t.Errorf("Unexpected message: %q", apiErr.Message)
	}
}

func TestWhisperHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("Expected /models, got %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"data": []}`)
	}))
	defer server.Close()

	provider, _ := NewWhisper(WithBaseURL(server.URL))
	defer provider.Close()

	if err := provider.Health(context.Background()); err != nil {
		t.Errorf("Health failed: %v", err)
	}
}
