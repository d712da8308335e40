package backend

import "errors"

// Sentinel errors shared by connector implementations.
var (
	// ErrNotStarted is returned when audio arrives before Start.
	ErrNotStarted = errors.New("backend: connector not started")

	// ErrClosed is returned by operations on a closed connector.
	ErrClosed = errors.New("backend: connector closed")

	// ErrUnreachable is returned when the backend cannot be reached
	// after the reconnect budget is spent.
	ErrUnreachable = errors.New("backend: unreachable")
)

// EventKind discriminates Event payloads.
type EventKind int

const (
	// EventAudio carries response PCM16 audio at the wire sample rate.
	EventAudio EventKind = iota

	// EventSpeechStarted signals the backend's VAD heard the caller
	// begin speaking. Only backends with server-side VAD emit this.
	EventSpeechStarted

	// EventTurnEnded signals the caller's turn is over and a response
	// is being generated.
	EventTurnEnded

	// EventTranscript carries recognized text, for the caller's speech
	// (Role "user") or the agent's (Role "assistant").
	EventTranscript

	// EventToolCall asks the session to execute a tool and submit the
	// result back via SubmitToolResult.
	EventToolCall

	// EventResponseDone signals the current response finished, either
	// completely or because it was cancelled.
	EventResponseDone

	// EventError reports a backend failure. Fatal errors are followed
	// by the event channel closing.
	EventError
)

// String returns the event kind name used in logs.
func (k EventKind) String() string {
	switch k {
	case EventAudio:
		return "audio"
	case EventSpeechStarted:
		return "speech_started"
	case EventTurnEnded:
		return "turn_ended"
	case EventTranscript:
		return "transcript"
	case EventToolCall:
		return "tool_call"
	case EventResponseDone:
		return "response_done"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one message from a connector to its session. Only the
// fields relevant to Kind are set.
type Event struct {
	Kind EventKind

	// Audio payload, for EventAudio.
	Audio []byte

	// Transcript fields, for EventTranscript.
	Text  string
	Role  string
	Final bool

	// Tool call fields, for EventToolCall.
	CallID    string
	ToolName  string
	Arguments string

	// Err and Fatal, for EventError.
	Err   error
	Fatal bool
}

// AudioEvent builds an EventAudio.
func AudioEvent(pcm []byte) Event {
	return Event{Kind: EventAudio, Audio: pcm}
}

// TranscriptEvent builds an EventTranscript.
func TranscriptEvent(role, text string, final bool) Event {
	return Event{Kind: EventTranscript, Role: role, Text: text, Final: final}
}

// ToolCallEvent builds an EventToolCall.
func ToolCallEvent(callID, name, args string) Event {
	return Event{Kind: EventToolCall, CallID: callID, ToolName: name, Arguments: args}
}

// ErrorEvent builds an EventError.
func ErrorEvent(err error, fatal bool) Event {
	return Event{Kind: EventError, Err: err, Fatal: fatal}
}
