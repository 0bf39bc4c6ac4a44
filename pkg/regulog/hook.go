package regulog

import (
	"context"
	"fmt"
)

// HookPhase identifies the lifecycle point a hook body is bound to.
type HookPhase string

const (
	// PhaseInit runs once per session before any file is scanned.
	PhaseInit HookPhase = "init"
	// PhaseFile runs before scanning each file, for the types active on it.
	PhaseFile HookPhase = "file"
	// PhaseMatch runs once per event, before the event is finalized.
	PhaseMatch HookPhase = "match"
	// PhaseWrapup runs once per session after all files are scanned.
	PhaseWrapup HookPhase = "wrapup"
)

// Invocation carries one hook call to the scripting runtime: the code body
// from the event type definition plus the field bindings valid at the
// invocation point.
type Invocation struct {
	Phase    HookPhase
	TypeName string
	Code     string
	Bindings map[string]string

	// Events is the full sorted event collection, populated for wrapup
	// invocations only. Runtimes may expose it to the hook code.
	Events *EventSet
}

// HookRunner is the capability boundary to the external scripting runtime.
// The engine hands it opaque code text with name->string bindings and
// observes the possibly-updated bindings it returns. Implementations must
// not retain the bindings map.
//
// The engine never depends on a concrete runtime; see internal/wasmhook for
// the WebAssembly-backed implementation.
type HookRunner interface {
	Execute(ctx context.Context, inv Invocation) (map[string]string, error)
}

// HookRunnerFunc adapts a function to the HookRunner interface.
type HookRunnerFunc func(ctx context.Context, inv Invocation) (map[string]string, error)

// Execute implements HookRunner.
func (f HookRunnerFunc) Execute(ctx context.Context, inv Invocation) (map[string]string, error) {
	return f(ctx, inv)
}

// HookExecutionError reports a failed hook invocation. Failures outside the
// init phase are fail-soft: the session records them and continues; an init
// failure aborts the session.
type HookExecutionError struct {
	Phase    HookPhase
	TypeName string
	Cause    error
}

func (e *HookExecutionError) Error() string {
	return fmt.Sprintf("hook on_%s of event type %q failed: %v", e.Phase, e.TypeName, e.Cause)
}

func (e *HookExecutionError) Unwrap() error {
	return e.Cause
}
