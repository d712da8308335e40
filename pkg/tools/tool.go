// Package tools defines the function tools an agent can call during a
// conversation, a registry that catalogs them, and a dispatcher that
// executes calls with timeouts and panic isolation. Tool results are
// always JSON strings so they can be fed back to any backend verbatim.
package tools

import (
	"context"
	"encoding/json"
	"time"
)

// Handler executes a tool call. args holds the decoded JSON arguments
// the model produced. The returned string is fed back to the model as
// the tool output; make it JSON or plain prose, never empty.
type Handler func(ctx context.Context, args map[string]interface{}) (string, error)

// Tool is one callable function exposed to the agent.
type Tool struct {
	Name        string
	Description string

	// Parameters maps parameter name to its JSON Schema fragment, e.g.
	// {"type": "string", "description": "..."}.
	Parameters map[string]interface{}

	// Required lists parameter names the model must supply.
	Required []string

	// Timeout overrides the dispatcher default for this tool. Zero means
	// use the default.
	Timeout time.Duration

	Handler Handler
}

// Schema returns the tool as an OpenAI-style function schema.
func (t Tool) Schema() map[string]interface{} {
	required := t.Required
	if required == nil {
		required = []string{}
	}
	return map[string]interface{}{
		"type":        "function",
		"name":        t.Name,
		"description": t.Description,
		"parameters": map[string]interface{}{
			"type":       "object",
			"properties": t.Parameters,
			"required":   required,
		},
	}
}

// errorPayload builds the JSON body returned to the model when a call
// cannot produce a real result. The model sees the failure as data and
// can apologize or retry, instead of the session stalling.
func errorPayload(msg string) string {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return string(b)
}
