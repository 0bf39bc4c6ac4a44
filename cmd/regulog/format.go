package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/regulog/regulog-go/pkg/regulog"
)

// ValidFormats lists all valid output formats for the follow command.
var ValidFormats = map[string]bool{
	"display": true,
	"jsonl":   true,
	"pretty":  true,
}

// OutputEvent writes an event in the specified format to the writer. The
// event set backs cross-event lookups in display templates.
func OutputEvent(format string, ev *regulog.Event, set *regulog.EventSet, out io.Writer) error {
	switch format {
	case "display":
		return OutputDisplay(ev, set, out)
	case "jsonl":
		return OutputJSON(ev, out)
	case "pretty":
		return OutputPretty(ev, out)
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

// OutputDisplay renders the type's display template, prefixed with the
// timestamp when one was extracted. Types without a template stay silent.
func OutputDisplay(ev *regulog.Event, set *regulog.EventSet, out io.Writer) error {
	if ev.Type.DisplayOnMatch == "" {
		return nil
	}
	rendered := regulog.Render(ev.Type.DisplayOnMatch, ev, set)
	var err error
	if ev.HasTimestamp() {
		_, err = fmt.Fprintf(out, "%s %s\n", ev.Field(regulog.FieldTimestamp), rendered)
	} else {
		_, err = fmt.Fprintln(out, rendered)
	}
	return err
}

// jsonEvent is the JSON Lines shape of an event.
type jsonEvent struct {
	Type      string            `json:"type"`
	Timestamp string            `json:"timestamp,omitempty"`
	Source    string            `json:"source"`
	Line      int               `json:"line"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// OutputJSON writes an event as JSON Lines format.
func OutputJSON(ev *regulog.Event, out io.Writer) error {
	je := jsonEvent{
		Type:   ev.Type.Name,
		Source: ev.SourcePath,
		Line:   ev.SourceLine,
		Fields: userFieldMap(ev),
	}
	if ev.HasTimestamp() {
		je.Timestamp = ev.Field(regulog.FieldTimestamp)
	}
	data, err := json.Marshal(je)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

// OutputPretty writes an event in human-readable format.
func OutputPretty(ev *regulog.Event, out io.Writer) error {
	ts := "--:--:--"
	if ev.HasTimestamp() {
		ts = ev.Timestamp.Format("15:04:05")
	}

	names := ev.Scope.UserFields()
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		v, _ := ev.Scope.UserValue(name)
		parts = append(parts, fmt.Sprintf("%s=%s", name, v))
	}

	if len(parts) == 0 {
		_, err := fmt.Fprintf(out, "[%s] %s\n", ts, ev.Type.Name)
		return err
	}
	_, err := fmt.Fprintf(out, "[%s] %s %s\n", ts, ev.Type.Name, strings.Join(parts, " "))
	return err
}

func userFieldMap(ev *regulog.Event) map[string]string {
	fields := make(map[string]string)
	for _, name := range ev.Scope.UserFields() {
		if v, ok := ev.Scope.UserValue(name); ok {
			fields[name] = v
		}
	}
	return fields
}
