package regulog

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/regulog/regulog-go/pkg/regulog/eventtype"
)

// System field names set by the engine. Hooks and templates read them, only
// the engine writes them.
const (
	FieldName           = "_name"
	FieldDescription    = "_description"
	FieldSourcePath     = "_source_path"
	FieldSourceFilename = "_source_filename"
	FieldRaw            = "_raw"
	FieldLineNumber     = "_line_number"
	FieldSequenceNumber = "_sequence_number"
	FieldTimestamp      = "_timestamp"
	FieldDate           = "_date"
	FieldTime           = "_time"
	FieldDisplay        = "_display_on_match"
	FieldChangedFields  = "_changed_fields"
)

// FieldScope is the set of named string values visible to display templates
// and hooks at a given point. It distinguishes system fields (set by the
// engine, protected) from user fields (captured by patterns or set by
// hooks). User field insertion order is preserved for deterministic exports.
type FieldScope struct {
	sys       map[string]string
	user      map[string]string
	userOrder []string

	// timestampSpan is the [start,end) byte range of the timestamp match
	// within _raw, used by the _core virtual fields.
	timestampSpan [2]int
}

// NewFieldScope returns an empty scope.
func NewFieldScope() *FieldScope {
	return &FieldScope{
		sys:  make(map[string]string),
		user: make(map[string]string),
	}
}

// setSystem sets a system field unconditionally.
func (s *FieldScope) setSystem(name, value string) {
	s.sys[name] = value
}

// SetUser sets or overwrites a user field. Overwriting a system field is
// rejected.
func (s *FieldScope) SetUser(name, value string) error {
	if _, ok := s.sys[name]; ok {
		return fmt.Errorf("overwriting system field %s not allowed", name)
	}
	if _, ok := s.user[name]; !ok {
		s.userOrder = append(s.userOrder, name)
	}
	s.user[name] = value
	return nil
}

// AddUser sets a user field that must not already exist.
func (s *FieldScope) AddUser(name, value string) error {
	if s.Has(name) {
		return fmt.Errorf("field %s already exists", name)
	}
	return s.SetUser(name, value)
}

// Has reports whether name resolves to a concrete or virtual field.
func (s *FieldScope) Has(name string) bool {
	switch name {
	case "_flat", "_core", "_flat_core", "_user_fields", "_system_fields":
		return true
	}
	if _, ok := s.user[name]; ok {
		return true
	}
	_, ok := s.sys[name]
	return ok
}

// Get returns the value of a field. User fields shadow nothing: system and
// user names never collide by construction. Virtual fields are derived from
// _raw and the timestamp span:
//
//	_flat          _raw without newlines
//	_core          _raw without the timestamp match
//	_flat_core     _core without newlines
//	_user_fields   sorted key=value rendering of the user fields
//	_system_fields sorted key=value rendering of the system fields
func (s *FieldScope) Get(name string) (string, bool) {
	if v, ok := s.user[name]; ok {
		return v, true
	}
	if v, ok := s.sys[name]; ok {
		return v, true
	}
	raw := s.sys[FieldRaw]
	switch name {
	case "_flat":
		return strings.ReplaceAll(raw, "\n", ""), true
	case "_core":
		return s.core(raw), true
	case "_flat_core":
		return strings.ReplaceAll(s.core(raw), "\n", ""), true
	case "_user_fields":
		return renderFieldMap(s.user), true
	case "_system_fields":
		return renderFieldMap(s.sys), true
	}
	return "", false
}

func (s *FieldScope) core(raw string) string {
	start, end := s.timestampSpan[0], s.timestampSpan[1]
	if start < 0 || end > len(raw) || start >= end {
		return raw
	}
	return raw[:start] + raw[end:]
}

// SystemFields returns the system field names in sorted order.
func (s *FieldScope) SystemFields() []string {
	out := make([]string, 0, len(s.sys))
	for k := range s.sys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// UserFields returns the user field names in insertion order.
func (s *FieldScope) UserFields() []string {
	out := make([]string, len(s.userOrder))
	copy(out, s.userOrder)
	return out
}

// UserValue returns a user field value.
func (s *FieldScope) UserValue(name string) (string, bool) {
	v, ok := s.user[name]
	return v, ok
}

// Bindings flattens the scope into a single name->value map for handing to
// the hook runtime. The returned map is a copy.
func (s *FieldScope) Bindings() map[string]string {
	out := make(map[string]string, len(s.sys)+len(s.user))
	for k, v := range s.sys {
		out[k] = v
	}
	for k, v := range s.user {
		out[k] = v
	}
	return out
}

// ApplyBindings merges bindings returned by a hook back into the scope. New
// and changed non-system names become user fields; attempts to change a
// system field are ignored, the engine owns those.
func (s *FieldScope) ApplyBindings(bindings map[string]string) {
	names := make([]string, 0, len(bindings))
	for k := range bindings {
		names = append(names, k)
	}
	// Deterministic merge order regardless of runtime map iteration.
	sort.Strings(names)
	for _, k := range names {
		if _, ok := s.sys[k]; ok {
			continue
		}
		s.SetUser(k, bindings[k]) //nolint:errcheck // system names excluded above
	}
}

// changedFields compares user fields against a previous scope and returns
// the comma-separated names of added or modified fields. Empty when nothing
// changed.
func (s *FieldScope) changedFields(prev *FieldScope) string {
	if prev == nil {
		// First event of a type counts as fully changed.
		return strings.Join(s.userOrder, ",")
	}
	var changed []string
	for _, k := range s.userOrder {
		pv, ok := prev.user[k]
		if !ok || pv != s.user[k] {
			changed = append(changed, k)
		}
	}
	return strings.Join(changed, ",")
}

// renderFieldMap formats a field map as sorted key=value pairs.
func renderFieldMap(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+m[k])
	}
	return strings.Join(parts, " ")
}

// Event is a materialized match: one physical occurrence of an event type in
// a log file. Events are created by the Matcher and finalized by the Session
// once the on_match hook (if any) has run.
type Event struct {
	// Type is the resolved event type that produced this event.
	Type *eventtype.Resolved

	// Timestamp extracted via rex_timestamp. The zero value means absent;
	// timestamp-less events keep their scan order when sorting.
	Timestamp time.Time

	// Scope holds the field values visible to templates and hooks.
	Scope *FieldScope

	// SourcePath is the scanned file, SourceLine the first line of the
	// matched window, LineCount the number of lines the match spans.
	SourcePath string
	SourceLine int
	LineCount  int

	// seq is the session-wide sequence number, assigned by the EventSet.
	seq int
}

// Seq returns the session-wide sequence number of the event. Sequence
// numbers follow insertion order and are renumbered after a chronological
// sort.
func (e *Event) Seq() int {
	return e.seq
}

// setSeq updates the sequence number and its mirror field.
func (e *Event) setSeq(n int) {
	e.seq = n
	e.Scope.setSystem(FieldSequenceNumber, fmt.Sprintf("%d", n))
}

// HasTimestamp reports whether a timestamp was extracted for the event.
func (e *Event) HasTimestamp() bool {
	return !e.Timestamp.IsZero()
}

// setTimestamp records the timestamp and its derived system fields.
func (e *Event) setTimestamp(ts time.Time, span [2]int) {
	e.Timestamp = ts
	e.Scope.timestampSpan = span
	e.Scope.setSystem(FieldTimestamp, ts.Format("2006-01-02T15:04:05"))
	e.Scope.setSystem(FieldDate, ts.Format("2006-01-02"))
	e.Scope.setSystem(FieldTime, ts.Format("15:04:05"))
}

// Field returns the value of a scope field, "" if absent.
func (e *Event) Field(name string) string {
	v, _ := e.Scope.Get(name)
	return v
}

// Before reports whether e sorts strictly before other under chronological
// ordering: timestamp first, insertion sequence as the tie-breaker.
// Timestamp-less events (zero time) sort before all timestamped ones while
// preserving their relative scan order.
func (e *Event) Before(other *Event) bool {
	if !e.Timestamp.Equal(other.Timestamp) {
		return e.Timestamp.Before(other.Timestamp)
	}
	return e.seq < other.seq
}
