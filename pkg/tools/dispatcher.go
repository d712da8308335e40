package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/teslashibe/go-voicebridge/internal/log"
)

// DefaultTimeout bounds a single tool invocation unless the tool sets
// its own.
const DefaultTimeout = 5 * time.Second

// Dispatcher executes tool calls against a registry. Every call returns
// a usable result string: handler errors, timeouts, panics, and unknown
// tools all come back as JSON error payloads so the conversation can
// continue.
type Dispatcher struct {
	registry *Registry
	timeout  time.Duration
	logger   *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithTimeout sets the default per-call timeout.
func WithTimeout(d time.Duration) DispatcherOption {
	return func(dp *Dispatcher) {
		if d > 0 {
			dp.timeout = d
		}
	}
}

// WithLogger sets the dispatcher's logger.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(dp *Dispatcher) {
		if l != nil {
			dp.logger = l
		}
	}
}

// NewDispatcher creates a Dispatcher over the given registry.
func NewDispatcher(registry *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		timeout:  DefaultTimeout,
		logger:   log.With("component", "tools"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch executes the named tool with raw JSON arguments and returns
// the result string to feed back to the model. The returned string is
// never empty. Dispatch does not return an error: failures are encoded
// into the result so the model can react to them.
func (d *Dispatcher) Dispatch(ctx context.Context, name, argsJSON string) string {
	tool, ok := d.registry.Lookup(name)
	if !ok {
		d.logger.Warn("unknown tool requested", "tool", name)
		return errorPayload(fmt.Sprintf("unknown tool: %s", name))
	}

	var args map[string]interface{}
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			d.logger.Warn("malformed tool arguments", "tool", name, "error", err)
			return errorPayload(fmt.Sprintf("malformed arguments: %v", err))
		}
	}

	timeout := d.timeout
	if tool.Timeout > 0 {
		timeout = tool.Timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, err := d.invoke(callCtx, tool, args)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		d.logger.Info("tool executed", "tool", name, "duration_ms", elapsed.Milliseconds())
		if result == "" {
			result = `{"ok":true}`
		}
		return result
	case callCtx.Err() != nil:
		d.logger.Warn("tool timed out", "tool", name, "timeout", timeout)
		return errorPayload(fmt.Sprintf("tool %s timed out after %s", name, timeout))
	default:
		d.logger.Warn("tool failed", "tool", name, "error", err)
		return errorPayload(err.Error())
	}
}

// invoke runs the handler in its own goroutine so a timeout never blocks
// the session, and converts panics into errors.
func (d *Dispatcher) invoke(ctx context.Context, tool Tool, args map[string]interface{}) (result string, err error) {
	type outcome struct {
		result string
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("tool panicked", "tool", tool.Name, "panic", r)
				done <- outcome{err: fmt.Errorf("tool %s panicked: %v", tool.Name, r)}
			}
		}()
		res, herr := tool.Handler(ctx, args)
		done <- outcome{result: res, err: herr}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
