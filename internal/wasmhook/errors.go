// Package wasmhook implements the engine's hook-runner capability on
// WebAssembly plugins: a plugin embeds (or is) a scripting runtime, the
// host hands it hook code bodies with field bindings and reads the updated
// bindings back.
package wasmhook

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidWasm indicates the plugin file is invalid or corrupted.
	ErrInvalidWasm = errors.New("invalid wasm file")

	// ErrABIVersionMismatch indicates the plugin's ABI version is
	// incompatible with this host.
	ErrABIVersionMismatch = errors.New("abi version mismatch")

	// ErrTimeout indicates a hook exceeded the execution timeout.
	ErrTimeout = errors.New("hook timeout")

	// ErrFileTooLarge indicates the plugin file exceeds the size limit.
	ErrFileTooLarge = errors.New("wasm file too large")

	// ErrRunnerClosed indicates Execute was called after Close.
	ErrRunnerClosed = errors.New("hook runner is closed")
)

// ABIError reports a violation of the plugin ABI contract.
type ABIError struct {
	Function string
	Reason   string
}

func (e *ABIError) Error() string {
	return fmt.Sprintf("abi error in %s: %s", e.Function, e.Reason)
}

// ScriptError is a failure reported by the hook code itself, carried back
// through the plugin's error channel.
type ScriptError struct {
	Code    string
	Message string
}

func (e *ScriptError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("script error %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("script error: %s", e.Message)
}

// RuntimeError wraps a wazero-level failure.
type RuntimeError struct {
	Operation string
	Err       error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("wasm runtime error during %s: %v", e.Operation, e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}
