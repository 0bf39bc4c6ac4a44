package regulog

import (
	"sort"
	"time"
)

// EventSet holds the events collected during a session, arranged both as a
// global sequence and as per-type lists. It backs the cross-event lookups of
// the display formatter and is handed to on_wrapup hooks as the final sorted
// collection.
//
// EventSet is not safe for concurrent mutation; the session funnels all
// appends through its single ordered pipeline.
type EventSet struct {
	sequence []*Event
	byType   map[string][]*Event
	nextSeq  int
}

// NewEventSet returns an empty set prepared for the given type names.
func NewEventSet(typeNames []string) *EventSet {
	byType := make(map[string][]*Event, len(typeNames))
	for _, n := range typeNames {
		byType[n] = nil
	}
	return &EventSet{byType: byType}
}

// Add appends an event, assigning the next sequence number.
func (s *EventSet) Add(ev *Event) {
	ev.setSeq(s.nextSeq)
	s.nextSeq++
	s.sequence = append(s.sequence, ev)
	s.byType[ev.Type.Name] = append(s.byType[ev.Type.Name], ev)
}

// Delete removes an event from the set. Hooks may discard events they have
// consumed (high-frequency immediate types).
func (s *EventSet) Delete(ev *Event) {
	s.sequence = removeEvent(s.sequence, ev)
	s.byType[ev.Type.Name] = removeEvent(s.byType[ev.Type.Name], ev)
}

func removeEvent(list []*Event, ev *Event) []*Event {
	for i, e := range list {
		if e == ev {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// Contains reports whether the event is still part of the set.
func (s *EventSet) Contains(ev *Event) bool {
	for _, e := range s.byType[ev.Type.Name] {
		if e == ev {
			return true
		}
	}
	return false
}

// Len returns the number of events in the set.
func (s *EventSet) Len() int {
	return len(s.sequence)
}

// Sequence returns the global event sequence in its current order. The
// returned slice is shared; callers must not modify it.
func (s *EventSet) Sequence() []*Event {
	return s.sequence
}

// OfType returns the events of one type in their current order.
func (s *EventSet) OfType(name string) []*Event {
	return s.byType[name]
}

// HasType reports whether the set was prepared for the given type name.
func (s *EventSet) HasType(name string) bool {
	_, ok := s.byType[name]
	return ok
}

// TypeNames returns the prepared type names in sorted order.
func (s *EventSet) TypeNames() []string {
	names := make([]string, 0, len(s.byType))
	for n := range s.byType {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Query selects events for Lookup and LookupAll.
type Query struct {
	// Name restricts the search to one event type ("" = all).
	Name string

	// Fields are name/value pairs that must all match the event's scope.
	Fields map[string]string

	// Before restricts to events inserted strictly before this event.
	Before *Event

	// BeforeTime restricts to events with a timestamp not after this time.
	BeforeTime time.Time
}

// Lookup returns the most recent event matching the query, or nil. "Most
// recent" follows the set's current order, so after a chronological sort it
// means latest in time.
func (s *EventSet) Lookup(q Query) *Event {
	res := s.LookupAll(q, 1)
	if len(res) == 0 {
		return nil
	}
	return res[0]
}

// LookupAll returns up to limit events matching the query, newest first.
// limit <= 0 means no limit.
func (s *EventSet) LookupAll(q Query, limit int) []*Event {
	list := s.sequence
	if q.Name != "" {
		list = s.byType[q.Name]
	}

	var out []*Event
	for i := len(list) - 1; i >= 0; i-- {
		ev := list[i]
		if !s.matches(ev, q) {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (s *EventSet) matches(ev *Event, q Query) bool {
	if q.Name != "" && ev.Type.Name != q.Name {
		return false
	}
	for k, want := range q.Fields {
		got, ok := ev.Scope.Get(k)
		if !ok || got != want {
			return false
		}
	}
	if q.Before != nil && ev.seq >= q.Before.seq {
		return false
	}
	if !q.BeforeTime.IsZero() && ev.Timestamp.After(q.BeforeTime) {
		return false
	}
	return true
}

// SortChronological stable-sorts the sequence by timestamp, keeping
// insertion order for equal timestamps and for timestamp-less events, then
// renumbers sequence numbers to reflect the new order. Per-type lists are
// re-derived from the sorted sequence.
func (s *EventSet) SortChronological() []*Event {
	sort.SliceStable(s.sequence, func(i, j int) bool {
		return s.sequence[i].Before(s.sequence[j])
	})

	for n := range s.byType {
		s.byType[n] = nil
	}
	for i, ev := range s.sequence {
		ev.setSeq(i)
		s.byType[ev.Type.Name] = append(s.byType[ev.Type.Name], ev)
	}
	s.nextSeq = len(s.sequence)
	return s.sequence
}
