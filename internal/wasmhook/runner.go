package wasmhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero"

	"github.com/regulog/regulog-go/pkg/regulog"
)

const (
	// DefaultTimeout is the default timeout for one run_hook execution.
	// Hooks run arbitrary script code, so the budget is larger than a
	// single line parse would get.
	DefaultTimeout = 500 * time.Millisecond

	// MaxOutputSize is the maximum size of output from run_hook (1MB).
	// This prevents memory exhaustion from malicious plugins.
	MaxOutputSize = 1 * 1024 * 1024

	// MaxWrapupEvents caps how many events are serialized into a wrapup
	// invocation so the input stays within INPUT_REGION_SIZE.
	MaxWrapupEvents = 200
)

// Runner implements regulog.HookRunner on a WebAssembly plugin. The plugin
// embeds a scripting runtime; each Execute call hands it one hook code body
// with the current bindings and reads the updated bindings back.
//
// Runner is goroutine-safe: each Execute call creates a new module instance.
type Runner struct {
	compiled      *CompiledPlugin
	timeout       atomic.Int64 // nanoseconds
	logger        *slog.Logger
	abiVersion    uint32
	moduleCounter atomic.Uint64
}

var _ regulog.HookRunner = (*Runner)(nil)

// New loads a hook plugin from the given file path.
func New(ctx context.Context, path string, logger *slog.Logger) (*Runner, error) {
	compiled, err := LoadPlugin(ctx, path, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load hook plugin: %w", err)
	}

	// Validate ABI version by instantiating once
	modConfig := wazero.NewModuleConfig().WithName("hookplugin-init")
	mod, err := compiled.runtime.InstantiateModule(ctx, compiled.compiled, modConfig)
	if err != nil {
		cleanupCtx := context.Background()
		compiled.Close(cleanupCtx)
		return nil, &RuntimeError{Operation: "initial module instantiation", Err: err}
	}

	abiVersionFn := mod.ExportedFunction("abi_version")
	if abiVersionFn == nil {
		cleanupCtx := context.Background()
		mod.Close(cleanupCtx)
		compiled.Close(cleanupCtx)
		return nil, &ABIError{Function: "abi_version", Reason: "not exported"}
	}

	results, err := abiVersionFn.Call(ctx)
	mod.Close(ctx)
	if err != nil {
		cleanupCtx := context.Background()
		compiled.Close(cleanupCtx)
		return nil, &RuntimeError{Operation: "abi_version call", Err: err}
	}
	if len(results) == 0 {
		cleanupCtx := context.Background()
		compiled.Close(cleanupCtx)
		return nil, &ABIError{Function: "abi_version", Reason: "no return value"}
	}

	abiVersion := uint32(results[0])
	if abiVersion != ExpectedABIVersion {
		cleanupCtx := context.Background()
		compiled.Close(cleanupCtx)
		return nil, ErrABIVersionMismatch
	}

	r := &Runner{
		compiled:   compiled,
		logger:     logger,
		abiVersion: abiVersion,
	}
	r.timeout.Store(int64(DefaultTimeout))
	return r, nil
}

// hookInput is the JSON payload written to the plugin's input region.
type hookInput struct {
	Phase    string            `json:"phase"`
	Type     string            `json:"type,omitempty"`
	Code     string            `json:"code"`
	Bindings map[string]string `json:"bindings"`
	Events   []hookEvent       `json:"events,omitempty"`
}

// hookEvent is the serialized form of one extracted event, exposed to
// wrapup hooks.
type hookEvent struct {
	Name      string            `json:"name"`
	Timestamp string            `json:"timestamp,omitempty"`
	Source    string            `json:"source,omitempty"`
	Line      int               `json:"line,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// hookOutput is the JSON payload read back from the plugin.
type hookOutput struct {
	Ok       bool              `json:"ok"`
	Bindings map[string]string `json:"bindings,omitempty"`
	Error    *string           `json:"error,omitempty"`
	Code     *string           `json:"code,omitempty"`
}

// Execute runs one hook invocation inside the plugin. Goroutine-safe.
func (r *Runner) Execute(ctx context.Context, inv regulog.Invocation) (map[string]string, error) {
	if r.compiled == nil {
		return nil, ErrRunnerClosed
	}

	timeout := time.Duration(r.timeout.Load())
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	input := hookInput{
		Phase:    string(inv.Phase),
		Type:     inv.TypeName,
		Code:     inv.Code,
		Bindings: inv.Bindings,
		Events:   serializeEvents(inv.Events),
	}
	inputJSON, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal hook input: %w", err)
	}

	if len(inputJSON) > INPUT_REGION_SIZE {
		// Retry without the event payload before giving up.
		if input.Events != nil {
			input.Events = nil
			inputJSON, err = json.Marshal(input)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal hook input: %w", err)
			}
		}
		if len(inputJSON) > INPUT_REGION_SIZE {
			return nil, fmt.Errorf("hook input too large: %d bytes (max %d)", len(inputJSON), INPUT_REGION_SIZE)
		}
	}

	// Each call gets a fresh instance with a unique name so concurrent
	// invocations never share plugin state.
	name := fmt.Sprintf("hookplugin-%d", r.moduleCounter.Add(1))
	modConfig := wazero.NewModuleConfig().WithName(name)
	mod, err := r.compiled.runtime.InstantiateModule(ctx, r.compiled.compiled, modConfig)
	if err != nil {
		return nil, &RuntimeError{Operation: "module instantiation", Err: err}
	}
	defer mod.Close(context.Background())

	memSize := mod.Memory().Size()
	requiredSize := INPUT_REGION + uint32(len(inputJSON))
	if requiredSize > memSize {
		return nil, fmt.Errorf("INPUT_REGION (0x%x) + input size (%d) exceeds wasm memory size (%d bytes). Plugin may need larger initial memory", INPUT_REGION, len(inputJSON), memSize)
	}

	if !mod.Memory().Write(INPUT_REGION, inputJSON) {
		return nil, fmt.Errorf("failed to write input to wasm memory")
	}

	runHookFn := mod.ExportedFunction("run_hook")
	if runHookFn == nil {
		return nil, &ABIError{Function: "run_hook", Reason: "not exported"}
	}

	results, err := runHookFn.Call(ctx, uint64(INPUT_REGION), uint64(len(inputJSON)))
	if err != nil {
		if ctx.Err() != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return nil, ErrTimeout
			}
			return nil, ctx.Err()
		}
		return nil, &RuntimeError{Operation: "run_hook call", Err: err}
	}

	if len(results) == 0 {
		return nil, &ABIError{Function: "run_hook", Reason: "no return value"}
	}

	// Decode return value: (out_len << 32) | out_ptr
	packed := results[0]
	outPtr := uint32(packed & 0xFFFFFFFF)
	outLen := uint32(packed >> 32)

	if outLen > MaxOutputSize {
		return nil, fmt.Errorf("plugin output too large: %d bytes (max %d)", outLen, MaxOutputSize)
	}

	outBytes, ok := mod.Memory().Read(outPtr, outLen)
	if !ok {
		return nil, fmt.Errorf("failed to read output from wasm memory")
	}

	// Memory().Read() returns a view, not a copy. After free() the plugin
	// may overwrite the region, so copy first.
	outBytesCopy := make([]byte, len(outBytes))
	copy(outBytesCopy, outBytes)

	freeFn := mod.ExportedFunction("free")
	if freeFn != nil {
		_, _ = freeFn.Call(ctx, uint64(outPtr), uint64(outLen))
	}

	var output hookOutput
	if err := json.Unmarshal(outBytesCopy, &output); err != nil {
		return nil, fmt.Errorf("failed to unmarshal hook output: %w", err)
	}

	if !output.Ok {
		errMsg := "unknown error"
		if output.Error != nil {
			errMsg = *output.Error
		}
		code := ""
		if output.Code != nil {
			code = *output.Code
		}
		return nil, &ScriptError{Code: code, Message: errMsg}
	}

	return output.Bindings, nil
}

// serializeEvents flattens the event collection for a wrapup invocation,
// newest-first order preserved from the set, capped at MaxWrapupEvents.
func serializeEvents(set *regulog.EventSet) []hookEvent {
	if set == nil {
		return nil
	}
	seq := set.Sequence()
	if len(seq) > MaxWrapupEvents {
		seq = seq[:MaxWrapupEvents]
	}
	out := make([]hookEvent, 0, len(seq))
	for _, ev := range seq {
		fields := make(map[string]string)
		for _, name := range ev.Scope.UserFields() {
			if v, ok := ev.Scope.UserValue(name); ok {
				fields[name] = v
			}
		}
		he := hookEvent{
			Name:   ev.Type.Name,
			Source: ev.SourcePath,
			Line:   ev.SourceLine,
			Fields: fields,
		}
		if ev.HasTimestamp() {
			he.Timestamp = ev.Timestamp.Format("2006-01-02T15:04:05")
		}
		out = append(out, he)
	}
	return out
}

// Close releases resources held by the runner. Implements io.Closer.
// Safe to call multiple times.
func (r *Runner) Close() error {
	if r.compiled == nil {
		return nil
	}
	err := r.compiled.Close(context.Background())
	r.compiled = nil
	return err
}

// SetTimeout sets the run_hook execution timeout. Goroutine-safe.
func (r *Runner) SetTimeout(timeout time.Duration) {
	r.timeout.Store(int64(timeout))
}
