package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var typesEvents []string

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "List resolved event types",
	Long: `Load definition documents, resolve inheritance and list the resulting
event types with their parents, tags and matching behavior. Useful to check
what a definition set expands to before running a search.`,
	RunE: runTypes,
}

func init() {
	typesCmd.Flags().StringSliceVarP(&typesEvents, "events", "e", nil,
		"Event type definition files (YAML, repeatable)")
	_ = typesCmd.MarkFlagRequired("events")

	rootCmd.AddCommand(typesCmd)
}

func runTypes(cmd *cobra.Command, args []string) error {
	types, err := loadTypes(typesEvents)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, t := range types {
		var attrs []string
		if t.Parent != "" {
			attrs = append(attrs, "parent="+t.Parent)
		}
		if len(t.Tags) > 0 {
			attrs = append(attrs, "tags="+strings.Join(t.Tags, ";"))
		}
		if !t.Matchable() {
			attrs = append(attrs, "abstract")
		}
		if t.MultilineCount > 1 {
			attrs = append(attrs, fmt.Sprintf("multiline=%d", t.MultilineCount))
		}
		if t.Immediate {
			attrs = append(attrs, "immediate")
		}

		if len(attrs) > 0 {
			fmt.Fprintf(out, "%s (%s)\n", t.Name, strings.Join(attrs, ", "))
		} else {
			fmt.Fprintln(out, t.Name)
		}
		if t.Description != "" {
			fmt.Fprintf(out, "    %s\n", t.Description)
		}
	}
	return nil
}
