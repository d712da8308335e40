// Package agentcfg resolves per-call agent configuration. When a call
// leg identifies itself, the session looks up which agent should answer
// it: the backend provider, model, voice, system prompt, and the tools
// the agent may call. Resolvers are pluggable so configuration can live
// in a control-plane service or in a static file.
package agentcfg

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no agent is configured for a call.
var ErrNotFound = errors.New("agentcfg: agent not found")

// DefaultResolveTimeout bounds one configuration lookup. A call cannot
// proceed without its config, so lookups must fail fast.
const DefaultResolveTimeout = 3 * time.Second

// AgentConfig describes the agent answering one call.
type AgentConfig struct {
	// AgentID names the agent, for logs and call records.
	AgentID string `json:"agent_id"`

	// Provider selects the backend: "openai-realtime" or
	// "local-pipeline". Empty means the deployment default.
	Provider string `json:"provider"`

	// Model overrides the backend's default model.
	Model string `json:"model,omitempty"`

	// Voice selects the realtime voice, or the synthesis voice on the
	// local pipeline. ElevenLabs preset names are accepted.
	Voice string `json:"voice,omitempty"`

	// SystemPrompt is the agent's instructions.
	SystemPrompt string `json:"system_prompt"`

	// Greeting is spoken as soon as the call is answered. Empty means
	// the agent waits for the caller to speak first.
	Greeting string `json:"greeting,omitempty"`

	// ToolNames lists the registry tools this agent may call.
	ToolNames []string `json:"tool_names,omitempty"`

	// FallbackMessage is synthesized and played when the backend fails
	// mid-call, so the caller never gets dead air before the hangup.
	FallbackMessage string `json:"fallback_message,omitempty"`

	// Temperature overrides the model default when > 0.
	Temperature float64 `json:"temperature,omitempty"`
}

// Resolver maps a call to its agent configuration.
type Resolver interface {
	// Resolve returns the configuration for the given call ID. Returns
	// ErrNotFound when no agent should answer the call.
	Resolve(ctx context.Context, callID string) (*AgentConfig, error)
}

// Static is a Resolver that returns the same configuration for every
// call. Used for single-agent deployments and tests.
type Static struct {
	Config AgentConfig
}

// Resolve returns the static configuration.
func (s *Static) Resolve(ctx context.Context, callID string) (*AgentConfig, error) {
	cfg := s.Config
	return &cfg, nil
}

// Verify Static implements Resolver at compile time.
var _ Resolver = (*Static)(nil)
