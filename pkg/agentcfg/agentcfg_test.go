package agentcfg

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStaticResolve(t *testing.T) {
	r := &Static{Config: AgentConfig{
		AgentID:      "support",
		Provider:     "local-pipeline",
		SystemPrompt: "You are a support agent.",
	}}

	cfg, err := r.Resolve(context.Background(), "any-call-id")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if cfg.AgentID != "support" {
		t.Errorf("Expected agent support, got %s", cfg.AgentID)
	}

	// Each call gets its own copy; mutating one must not leak.
	cfg.SystemPrompt = "mutated"
	again, _ := r.Resolve(context.Background(), "other")
	if again.SystemPrompt != "You are a support agent." {
		t.Error("Resolve returned a shared config instance")
	}
}

func TestHTTPResolverResolve(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := "/agents/by-call/0f1e2d3c"
		if r.URL.Path != want {
			t.Errorf("Expected path %s, got %s", want, r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer cp-token" {
			t.Errorf("Expected Bearer cp-token, got %s", auth)
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"agent_id": "receptionist",
			"provider": "openai-realtime",
			"voice": "shimmer",
			"system_prompt": "You answer the phone for Acme.",
			"tool_names": ["transfer_call", "get_time"],
			"fallback_message": "Sorry, please call back later."
		}`)
	}))
	defer server.Close()

	r := NewHTTPResolver(server.URL, WithToken("cp-token"))

	cfg, err := r.Resolve(context.Background(), "0f1e2d3c")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if cfg.AgentID != "receptionist" {
		t.Errorf("Expected receptionist, got %s", cfg.AgentID)
	}
	if cfg.Provider != "openai-realtime" {
		t.Errorf("Expected openai-realtime, got %s", cfg.Provider)
	}
	if len(cfg.ToolNames) != 2 || cfg.ToolNames[0] != "transfer_call" {
		t.Errorf("Unexpected tools: %v", cfg.ToolNames)
	}
	if cfg.FallbackMessage == "" {
		t.Error("Expected fallback message")
	}
}

func TestHTTPResolverNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	r := NewHTTPResolver(server.URL)

	_, err := r.Resolve(context.Background(), "nobody")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestHTTPResolverServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "boom")
	}))
	defer server.Close()

	r := NewHTTPResolver(server.URL)

	_, err := r.Resolve(context.Background(), "any")
	if err == nil {
		t.Fatal("Expected error for 500 response")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("500 must not map to ErrNotFound")
	}
}
