package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/regulog/regulog-go/internal/export"
	"github.com/regulog/regulog-go/internal/logsource"
	"github.com/regulog/regulog-go/pkg/regulog"
	"github.com/regulog/regulog-go/pkg/regulog/eventtype"
)

var (
	// search flags
	eventFiles    []string
	inputPaths    string
	pathFilter    string
	chronological bool
	hideTimestamp bool
	outputDir     string
	hookPlugin    string
	hookTimeout   time.Duration
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search log files for defined events",
	Long: `Search log files for events matching the loaded event type definitions.

Each match is rendered through the type's display template. With
--chronological, display of non-immediate events is deferred until all
files are scanned and replayed in timestamp order.

Examples:
  # Search a directory with one definition file
  regulog search -e events.yaml -i /var/log/app

  # Several inputs, custom path filter, sorted output
  regulog search -e events.yaml -i "logs;archive/logs" --path-filter ".*\.log.*" -c

  # Export CSV/XML per event type and run hooks from a plugin
  regulog search -e events.yaml -i logs -o out/ --hook-plugin lua.wasm`,
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringSliceVarP(&eventFiles, "events", "e", nil,
		"Event type definition files (YAML, repeatable)")
	searchCmd.Flags().StringVarP(&inputPaths, "input", "i", "",
		"Input files or directories, semicolon-separated")
	searchCmd.Flags().StringVar(&pathFilter, "path-filter", "",
		"Case-insensitive regex selecting files during discovery (default: .*\\.log.*)")
	searchCmd.Flags().BoolVarP(&chronological, "chronological", "c", false,
		"Sort events by timestamp before display")
	searchCmd.Flags().BoolVar(&hideTimestamp, "hide-timestamp", false,
		"Omit the timestamp prefix from displayed events")
	searchCmd.Flags().StringVarP(&outputDir, "output-dir", "o", "",
		"Directory for CSV/XML export, one file pair per event type")
	searchCmd.Flags().StringVar(&hookPlugin, "hook-plugin", "",
		"WebAssembly plugin executing event hooks")
	searchCmd.Flags().DurationVar(&hookTimeout, "hook-timeout", 0,
		"Timeout per hook execution (default 500ms)")

	_ = searchCmd.MarkFlagRequired("events")
	_ = searchCmd.MarkFlagRequired("input")

	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := newLogger()

	types, err := loadTypes(eventFiles)
	if err != nil {
		return err
	}

	filter, err := logsource.NewFilter(pathFilter)
	if err != nil {
		return err
	}
	sources, err := logsource.Discover(inputPaths, filter)
	if err != nil {
		return err
	}
	logger.Debug("discovered log sources", "count", len(sources))

	runner, cleanup, err := buildRunner(ctx, hookPlugin, hookTimeout, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := regulog.Run(ctx, types, sources,
		regulog.WithChronological(chronological),
		regulog.WithHideTimestamp(hideTimestamp),
		regulog.WithOutput(cmd.OutOrStdout()),
		regulog.WithOutputDir(outputDir),
		regulog.WithHookRunner(runner),
		regulog.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	for _, he := range result.HookErrors {
		fmt.Fprintf(os.Stderr, "warning: %v\n", he)
	}

	if outputDir != "" {
		if err := export.Save(result.Set, outputDir); err != nil {
			return err
		}
		logger.Debug("exported events", "dir", outputDir, "events", result.Set.Len())
	}

	logger.Debug("search finished",
		"files", result.FilesScanned,
		"lines", result.LinesScanned,
		"events", len(result.Events))
	return nil
}

// loadTypes loads and resolves the definition documents.
func loadTypes(paths []string) ([]*eventtype.Resolved, error) {
	reg, err := eventtype.LoadAll(paths...)
	if err != nil {
		return nil, err
	}
	types, err := eventtype.Resolve(reg)
	if err != nil {
		return nil, err
	}
	return types, nil
}
