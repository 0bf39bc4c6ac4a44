// Package export writes collected events to disk, one CSV and one XML
// document per event type.
package export

import (
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/regulog/regulog-go/pkg/regulog"
)

// csvSystemFields is the system field selection for CSV rows, in column
// order. User fields follow, sorted by name.
var csvSystemFields = []string{
	regulog.FieldTimestamp,
	regulog.FieldName,
	regulog.FieldDisplay,
	regulog.FieldChangedFields,
	"_flat",
}

// Save writes the event collection to outputDir: <type>.csv and <type>.xml
// for every type that has events, plus empty files for types without any, so
// downstream tooling can rely on the file set.
func Save(set *regulog.EventSet, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	for _, name := range set.TypeNames() {
		events := set.OfType(name)
		if err := saveCSV(filepath.Join(outputDir, name+".csv"), events); err != nil {
			return err
		}
		if err := saveXML(filepath.Join(outputDir, name+".xml"), events); err != nil {
			return err
		}
	}
	return nil
}

// saveCSV writes one semicolon-separated file. Field values are flattened:
// newlines and embedded semicolons become spaces, matching what log review
// spreadsheets expect.
func saveCSV(path string, events []*regulog.Event) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating csv file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Comma = ';'

	userFields := collectUserFields(events)
	header := append(append([]string{}, csvSystemFields...), userFields...)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}

	row := make([]string, len(header))
	for _, ev := range events {
		for i, field := range header {
			row[i] = sanitizeCSV(ev.Field(field))
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("writing csv row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}
	return nil
}

// saveXML writes one document with an <Events> root; each event element
// carries its system fields (sorted), virtual flattened fields and user
// fields (sorted) as child elements.
func saveXML(path string, events []*regulog.Event) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating xml file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(xml.Header); err != nil {
		return fmt.Errorf("writing xml header: %w", err)
	}

	enc := xml.NewEncoder(f)
	enc.Indent("", "  ")

	root := xml.StartElement{Name: xml.Name{Local: "Events"}}
	if err := enc.EncodeToken(root); err != nil {
		return fmt.Errorf("encoding xml: %w", err)
	}

	for _, ev := range events {
		if err := encodeEvent(enc, ev); err != nil {
			return fmt.Errorf("encoding xml: %w", err)
		}
	}

	if err := enc.EncodeToken(root.End()); err != nil {
		return fmt.Errorf("encoding xml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("closing xml encoder: %w", err)
	}
	if _, err := f.WriteString("\n"); err != nil {
		return fmt.Errorf("finalizing xml: %w", err)
	}
	return nil
}

func encodeEvent(enc *xml.Encoder, ev *regulog.Event) error {
	start := xml.StartElement{Name: xml.Name{Local: "Event"}}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}

	fields := ev.Scope.SystemFields()
	fields = append(fields, "_flat", "_core", "_flat_core")
	sort.Strings(fields)
	fields = append(fields, sortedUserFields(ev)...)

	for _, name := range fields {
		el := xml.StartElement{Name: xml.Name{Local: name}}
		if err := enc.EncodeElement(ev.Field(name), el); err != nil {
			return err
		}
	}

	return enc.EncodeToken(start.End())
}

func sortedUserFields(ev *regulog.Event) []string {
	names := ev.Scope.UserFields()
	sort.Strings(names)
	return names
}

// collectUserFields unions the user field names of all events, sorted.
// Events of one type usually share a field set but hooks can add fields to
// individual events.
func collectUserFields(events []*regulog.Event) []string {
	seen := make(map[string]bool)
	var names []string
	for _, ev := range events {
		for _, name := range ev.Scope.UserFields() {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}

func sanitizeCSV(v string) string {
	v = strings.ReplaceAll(v, "\n", " ")
	return strings.ReplaceAll(v, ";", " ")
}
