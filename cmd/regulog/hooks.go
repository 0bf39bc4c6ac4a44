package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/regulog/regulog-go/internal/wasmhook"
	"github.com/regulog/regulog-go/pkg/regulog"
)

// buildRunner loads the hook plugin if one is configured. Returns a nil
// runner when no plugin is given (hooks are then skipped). The cleanup
// function is always non-nil and must be deferred.
func buildRunner(ctx context.Context, pluginFile string, hookTimeout time.Duration, logger *slog.Logger) (regulog.HookRunner, func(), error) {
	noop := func() {}

	if pluginFile == "" {
		return nil, noop, nil
	}

	r, err := wasmhook.New(ctx, pluginFile, logger)
	if err != nil {
		return nil, noop, fmt.Errorf("hook plugin: %w", err)
	}
	if hookTimeout > 0 {
		r.SetTimeout(hookTimeout)
	}
	return r, func() { r.Close() }, nil
}
