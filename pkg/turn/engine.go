// Package turn tracks conversational turn-taking state for one call
// session. The engine cycles LISTENING → THINKING → SPEAKING → LISTENING
// and decides when caller speech constitutes a barge-in that must cancel
// the in-flight response.
package turn

import "sync"

// State is the engine's conversational state.
type State int

const (
	// Idle: no conversation activity yet.
	Idle State = iota

	// Listening: accumulating/streaming caller audio.
	Listening

	// Thinking: caller turn ended, awaiting the response.
	Thinking

	// Speaking: response audio is being produced and streamed out.
	Speaking
)

// String returns a lower-case state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Thinking:
		return "thinking"
	case Speaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// Observer is invoked on every state transition. It runs with the engine
// lock held, so it must be fast and must not call back into the engine.
type Observer func(from, to State)

// Engine is the per-session turn-taking state machine. All methods are
// safe for concurrent use.
type Engine struct {
	mu       sync.Mutex
	state    State
	observer Observer
}

// New creates an Engine in the Idle state.
func New(observer Observer) *Engine {
	return &Engine{observer: observer}
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SpeechStarted records that the caller began speaking. It returns true
// when this is a barge-in: the engine was in Speaking and the caller
// interrupted, so the caller must cancel the in-flight response. Speech
// detected while already Listening or Thinking is a no-op.
func (e *Engine) SpeechStarted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case Idle:
		e.transition(Listening)
		return false
	case Speaking:
		e.transition(Listening)
		return true
	default:
		// Already listening, or caller talked over the thinking gap.
		return false
	}
}

// TurnEnded records that the caller's turn ended (silence threshold
// reached, or the backend signaled turn completion).
func (e *Engine) TurnEnded() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == Listening || e.state == Idle {
		e.transition(Thinking)
	}
}

// ResponseStarted records that response audio began streaming out.
func (e *Engine) ResponseStarted() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != Speaking {
		e.transition(Speaking)
	}
}

// ResponseDone records that the response finished; the engine returns to
// Listening for the next caller turn.
func (e *Engine) ResponseDone() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == Speaking || e.state == Thinking {
		e.transition(Listening)
	}
}

// transition moves to the new state and notifies the observer.
// Must be called with the lock held.
func (e *Engine) transition(to State) {
	from := e.state
	if from == to {
		return
	}
	e.state = to
	if e.observer != nil {
		e.observer(from, to)
	}
}
