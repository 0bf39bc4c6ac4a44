package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/regulog/regulog-go/internal/tailer"
	"github.com/regulog/regulog-go/pkg/regulog"
)

var (
	// follow flags
	followEvents []string
	followFormat string
	fromStart    bool
)

var followCmd = &cobra.Command{
	Use:   "follow <file>",
	Short: "Follow a log file and display events live",
	Long: `Follow a growing log file and display matching events as they appear.

Events are processed immediately in scan order; chronological sorting and
wrapup hooks do not apply while following.

Examples:
  # Follow with display templates
  regulog follow -e events.yaml /var/log/app/server.log

  # Read existing content first, then keep following
  regulog follow -e events.yaml --from-start server.log

  # JSON Lines output for piping into jq
  regulog follow -e events.yaml -f jsonl server.log | jq .fields`,
	Args: cobra.ExactArgs(1),
	RunE: runFollow,
}

func init() {
	followCmd.Flags().StringSliceVarP(&followEvents, "events", "e", nil,
		"Event type definition files (YAML, repeatable)")
	followCmd.Flags().StringVarP(&followFormat, "format", "f", "display",
		"Output format: display, jsonl, pretty")
	followCmd.Flags().BoolVar(&fromStart, "from-start", false,
		"Read the whole file before following new lines")

	_ = followCmd.MarkFlagRequired("events")

	rootCmd.AddCommand(followCmd)
}

func runFollow(cmd *cobra.Command, args []string) error {
	if !ValidFormats[followFormat] {
		return fmt.Errorf("unknown format: %s", followFormat)
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := newLogger()

	types, err := loadTypes(followEvents)
	if err != nil {
		return err
	}

	path := args[0]
	modTime := time.Now()
	if info, err := os.Stat(path); err == nil {
		modTime = info.ModTime()
	}

	sc := regulog.NewScanner(path, modTime, types)
	if len(sc.ActiveTypes()) == 0 {
		return fmt.Errorf("no event type applies to %s", path)
	}

	names := make([]string, 0, len(types))
	for _, t := range types {
		names = append(names, t.Name)
	}
	set := regulog.NewEventSet(names)

	cfg := tailer.DefaultConfig()
	cfg.FromStart = fromStart
	t, err := tailer.New(ctx, path, cfg)
	if err != nil {
		return fmt.Errorf("tailing %s: %w", path, err)
	}
	defer func() { _ = t.Stop() }()
	logger.Debug("following", "path", path, "from_start", fromStart)

	out := cmd.OutOrStdout()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-t.Lines():
			if !ok {
				return nil
			}
			for _, ev := range sc.Advance(line.Text) {
				set.Add(ev)
				if err := OutputEvent(followFormat, ev, set, out); err != nil {
					return fmt.Errorf("output error: %w", err)
				}
			}
		case err, ok := <-t.Errors():
			if !ok {
				return nil
			}
			if verbose {
				fmt.Fprintf(os.Stderr, "warning: %v\n", err)
			}
		}
	}
}
