package regulog

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/regulog/regulog-go/pkg/regulog/eventtype"
)

// maxLineBytes bounds a single log line (1MB). Longer lines abort the scan
// of the file rather than silently truncating matches.
const maxLineBytes = 1 * 1024 * 1024

// Scanner applies resolved event types to the line stream of one log file.
// It keeps a sliding window of recent lines per type for multiline matching
// and emits events in deterministic order: physical scan order, types in
// resolver registration order within a line.
type Scanner struct {
	path       string
	filename   string
	sourceTime time.Time

	// active types with their line windows, resolver order.
	types   []*eventtype.Resolved
	windows [][]string

	lineNum int
}

// NewScanner filters types down to those applicable to path (rex_filename
// match, matchable pattern present) and prepares their line windows.
// sourceTime is the file's modification time, used as the year fallback for
// timestamps without a year group.
func NewScanner(path string, sourceTime time.Time, types []*eventtype.Resolved) *Scanner {
	s := &Scanner{
		path:       path,
		filename:   filepath.Base(path),
		sourceTime: sourceTime,
	}
	for _, t := range types {
		if t.Matchable() && t.MatchesFile(path) {
			s.types = append(s.types, t)
			s.windows = append(s.windows, nil)
		}
	}
	return s
}

// ActiveTypes returns the types that apply to this file, in resolver order.
func (s *Scanner) ActiveTypes() []*eventtype.Resolved {
	return s.types
}

// Advance feeds the next line and returns the events it completed, if any.
// A line is matched as the newest entry of each type's window; a window
// match only fires when it ends within the newest line, so a single
// physical occurrence is never reported twice while the window slides past
// it.
func (s *Scanner) Advance(line string) []*Event {
	line = strings.TrimRight(line, "\r")
	s.lineNum++

	var events []*Event
	for i, t := range s.types {
		w := append(s.windows[i], line)
		if len(w) > t.MultilineCount {
			w = w[1:]
		}
		s.windows[i] = w

		text := strings.Join(w, "\n")
		loc := t.RexText.FindStringIndex(text)
		if loc == nil {
			continue
		}
		// Match must end within the newest line.
		if len(text)-loc[1] >= len(line) {
			continue
		}
		events = append(events, s.buildEvent(t, text, len(w)))
	}
	return events
}

// buildEvent materializes a match into an Event with a fully populated
// scope.
func (s *Scanner) buildEvent(t *eventtype.Resolved, text string, lineCount int) *Event {
	scope := NewFieldScope()
	scope.setSystem(FieldName, t.Name)
	scope.setSystem(FieldDescription, t.Description)
	scope.setSystem(FieldSourcePath, s.path)
	scope.setSystem(FieldSourceFilename, s.filename)
	scope.setSystem(FieldRaw, text)
	firstLine := s.lineNum - (lineCount - 1)
	scope.setSystem(FieldLineNumber, fmt.Sprintf("%d", firstLine))
	scope.setSystem(FieldSequenceNumber, "-1")
	scope.setSystem(FieldDisplay, "")
	scope.setSystem(FieldChangedFields, "")
	scope.setSystem(FieldTimestamp, "")
	scope.setSystem(FieldDate, "")
	scope.setSystem(FieldTime, "")

	// Named captures of the text pattern become user fields.
	m := t.RexText.FindStringSubmatchIndex(text)
	names := t.RexText.SubexpNames()
	for i := 1; i < len(names); i++ {
		if names[i] == "" || m == nil || 2*i >= len(m) || m[2*i] < 0 {
			continue
		}
		scope.SetUser(names[i], text[m[2*i]:m[2*i+1]]) //nolint:errcheck // capture names cannot collide with system fields
	}

	ev := &Event{
		Type:       t,
		Scope:      scope,
		SourcePath: s.path,
		SourceLine: firstLine,
		LineCount:  lineCount,
		seq:        -1,
	}

	// Timestamp extraction is best effort: no match means the event sorts
	// by scan order.
	if t.RexTimestamp != nil {
		if tm, err := extractTimestamp(t.RexTimestamp, text, s.sourceTime); err == nil {
			ev.setTimestamp(tm.ts, tm.span)
			for name, value := range tm.user {
				if !scope.Has(name) {
					scope.SetUser(name, value) //nolint:errcheck
				}
			}
		}
	}
	return ev
}

// ScanReader streams lines from r through the scanner, calling fn for every
// event in emission order. fn returning an error stops the scan; a context
// cancellation is checked between lines.
func (s *Scanner) ScanReader(ctx context.Context, r io.Reader, fn func(*Event) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)

	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, ev := range s.Advance(sc.Text()) {
			if err := fn(ev); err != nil {
				return err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading %s: %w", s.filename, err)
	}
	return nil
}
