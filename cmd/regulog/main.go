package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "regulog",
	Short: "Rule-driven log event extraction",
	Long: `regulog scans log files against a set of event type definitions and
extracts structured events: named capture groups become fields, timestamps
are parsed from the matched text, and display templates render one line per
event. Definitions are YAML documents supporting includes, inheritance and
lifecycle hooks executed by a WebAssembly plugin.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable verbose logging to stderr")
}

// newLogger builds the CLI logger: debug to stderr when verbose, otherwise
// silent.
func newLogger() *slog.Logger {
	if !verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
