// Package calllog records call lifecycle and conversation events for
// analytics. Sinks are fire-and-forget: a slow or failing sink never
// blocks the audio path.
package calllog

import (
	"time"
)

// EventType identifies what happened on the call.
type EventType string

const (
	// EventCallStarted marks a completed handshake.
	EventCallStarted EventType = "call.started"

	// EventCallEnded marks teardown, with the hangup cause.
	EventCallEnded EventType = "call.ended"

	// EventTranscript carries a final transcript line.
	EventTranscript EventType = "transcript"

	// EventToolCall records a dispatched tool invocation.
	EventToolCall EventType = "tool.call"

	// EventBargeIn records the caller interrupting the agent.
	EventBargeIn EventType = "barge.in"

	// EventTurn marks a turn-taking state transition.
	EventTurn EventType = "turn.state"

	// EventBackendError records a backend failure on the call.
	EventBackendError EventType = "backend.error"
)

// Event is one call record.
type Event struct {
	Type   EventType `json:"type"`
	CallID string    `json:"call_id"`
	Time   time.Time `json:"time"`

	// Role and Text, for transcript events.
	Role string `json:"role,omitempty"`
	Text string `json:"text,omitempty"`

	// Tool and Arguments, for tool call events.
	Tool      string `json:"tool,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	// Cause, for call ended and error events.
	Cause string `json:"cause,omitempty"`

	// Duration of the call, for call ended events.
	Duration time.Duration `json:"duration,omitempty"`
}

// Sink receives call events. Record must not block; implementations
// queue or drop under pressure.
type Sink interface {
	// Record accepts one event.
	Record(ev Event)

	// Close flushes queued events and releases resources.
	Close() error
}

// NewEvent builds an event stamped with the current time.
func NewEvent(t EventType, callID string) Event {
	return Event{Type: t, CallID: callID, Time: time.Now()}
}
