package regulog

import (
	"io"
	"log/slog"
)

// Option configures a Session using the functional options pattern.
type Option func(*sessionConfig)

// sessionConfig holds internal configuration for a session.
type sessionConfig struct {
	chronological bool
	hideTimestamp bool
	outputDir     string
	out           io.Writer
	runner        HookRunner
	logger        *slog.Logger
}

// discardLogger discards all log output; logging is opt-in.
var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// defaultSessionConfig returns a sessionConfig with sensible defaults:
// immediate processing, display to the given writer, no hook runtime.
func defaultSessionConfig() *sessionConfig {
	return &sessionConfig{
		out:    io.Discard,
		logger: discardLogger,
	}
}

func applyOptions(opts []Option) *sessionConfig {
	cfg := defaultSessionConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	return cfg
}

// WithChronological defers processing and display of non-immediate events
// until wrapup, where events are replayed sorted by timestamp. Default is
// immediate mode: every event is processed at match time in scan order.
func WithChronological(on bool) Option {
	return func(c *sessionConfig) {
		c.chronological = on
	}
}

// WithHideTimestamp drops the timestamp prefix from display output.
func WithHideTimestamp(hide bool) Option {
	return func(c *sessionConfig) {
		c.hideTimestamp = hide
	}
}

// WithOutput sets the writer receiving rendered display strings.
// Default: output is discarded.
func WithOutput(w io.Writer) Option {
	return func(c *sessionConfig) {
		if w != nil {
			c.out = w
		}
	}
}

// WithOutputDir records the export directory, exposed to hooks as the
// output_dir session binding. The session itself does not write there.
func WithOutputDir(dir string) Option {
	return func(c *sessionConfig) {
		c.outputDir = dir
	}
}

// WithHookRunner injects the scripting runtime executing hook bodies.
// Without a runner, types carrying hook bodies are processed with their
// hooks skipped.
func WithHookRunner(r HookRunner) Option {
	return func(c *sessionConfig) {
		c.runner = r
	}
}

// WithLogger sets a logger for scan progress and hook diagnostics.
// If logger is nil, logging stays disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(c *sessionConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}
