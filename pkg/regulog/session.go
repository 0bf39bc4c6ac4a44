package regulog

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/regulog/regulog-go/pkg/regulog/eventtype"
)

// Source is one log input to a session: a path plus a way to read its
// lines. Open may be nil, in which case the file at Path is opened directly.
// ModTime supplies the year fallback for timestamps without a year group.
// Fields carries per-file values collected during discovery (named captures
// of the path filter); they become user fields on every event of the file
// unless the event's own pattern captured the same name.
type Source struct {
	Path    string
	ModTime time.Time
	Fields  map[string]string
	Open    func() (io.ReadCloser, error)
}

func (s Source) open() (io.ReadCloser, error) {
	if s.Open != nil {
		return s.Open()
	}
	return os.Open(s.Path)
}

// Result is the terminal state of a session: the final event collection
// (time-sorted in chronological mode, scan order otherwise) and the
// non-fatal hook errors collected along the way.
type Result struct {
	Events       []*Event
	Set          *EventSet
	HookErrors   []*HookExecutionError
	FilesScanned int
	LinesScanned int
}

// session orchestrates one search run over a set of log sources: init
// hooks, per-file hooks, matching, immediate or deferred processing, the
// final chronological sort and wrapup hooks. It is single-use and driven
// entirely by Run.
type session struct {
	cfg   *sessionConfig
	types []*eventtype.Resolved

	events   *EventSet
	hookErrs []*HookExecutionError

	// bindings accumulates session-level hook state across invocations.
	bindings map[string]string

	// lastProcessed tracks, per type, the previous event that went through
	// display processing, for the display_if_changed dedup rule. A type's
	// events all flow through exactly one path (immediate or deferred), so
	// one tracker per type suffices.
	lastProcessed map[string]*Event

	lines int
	files int
}

// Run executes a complete session over the given sources and returns the
// terminal Result. It fails fast on on_init hook errors and on context
// cancellation; all other hook errors are collected into the Result.
func Run(ctx context.Context, types []*eventtype.Resolved, sources []Source, opts ...Option) (*Result, error) {
	cfg := applyOptions(opts)

	names := make([]string, len(types))
	for i, t := range types {
		names[i] = t.Name
	}

	s := &session{
		cfg:           cfg,
		types:         types,
		events:        NewEventSet(names),
		bindings:      map[string]string{},
		lastProcessed: make(map[string]*Event),
	}
	s.bindings["chronological"] = fmt.Sprintf("%t", cfg.chronological)
	s.bindings["output_dir"] = cfg.outputDir

	if err := s.runInit(ctx); err != nil {
		return nil, err
	}

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.scanSource(ctx, src); err != nil {
			return nil, err
		}
	}

	if err := s.wrapup(ctx); err != nil {
		return nil, err
	}

	return &Result{
		Events:       s.events.Sequence(),
		Set:          s.events,
		HookErrors:   s.hookErrs,
		FilesScanned: s.files,
		LinesScanned: s.lines,
	}, nil
}

// runInit runs every type's on_init hook in registration order. Nothing
// downstream is valid without initialization, so the first failure aborts.
func (s *session) runInit(ctx context.Context) error {
	for _, t := range s.types {
		if t.OnInit == "" {
			continue
		}
		if err := s.invokeSessionHook(ctx, PhaseInit, t, t.OnInit, nil); err != nil {
			return &HookExecutionError{Phase: PhaseInit, TypeName: t.Name, Cause: err}
		}
	}
	return nil
}

// scanSource runs the per-file hooks for the types active on this source,
// then streams its lines through a Scanner.
func (s *session) scanSource(ctx context.Context, src Source) error {
	sc := NewScanner(src.Path, src.ModTime, s.types)
	active := sc.ActiveTypes()
	if len(active) == 0 {
		s.cfg.logger.Debug("no event type applies", "path", src.Path)
		return nil
	}

	fileBindings := map[string]string{
		"source_path":     src.Path,
		"source_filename": filepath.Base(src.Path),
	}
	for k, v := range src.Fields {
		fileBindings[k] = v
	}
	for _, t := range active {
		if t.OnFile == "" {
			continue
		}
		if err := s.invokeSessionHook(ctx, PhaseFile, t, t.OnFile, fileBindings); err != nil {
			s.recordHookError(PhaseFile, t.Name, err)
		}
	}

	r, err := src.open()
	if err != nil {
		return fmt.Errorf("opening log source: %w", err)
	}
	defer r.Close()

	s.files++
	s.cfg.logger.Debug("scanning", "path", src.Path, "types", len(active))

	err = sc.ScanReader(ctx, r, func(ev *Event) error {
		applySourceFields(ev.Scope, src.Fields)
		return s.handleEvent(ctx, ev)
	})
	s.lines += sc.lineNum
	return err
}

// applySourceFields merges discovery-time fields into an event scope. The
// event's own captures win.
func applySourceFields(scope *FieldScope, fields map[string]string) {
	if len(fields) == 0 {
		return
	}
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		if scope.Has(k) {
			continue
		}
		scope.SetUser(k, fields[k]) //nolint:errcheck // Has covers system names
	}
}

// handleEvent registers a freshly matched event and decides immediate
// versus deferred processing.
func (s *session) handleEvent(ctx context.Context, ev *Event) error {
	s.events.Add(ev)

	if !s.cfg.chronological || ev.Type.Immediate {
		s.process(ctx, ev)
	}
	// Deferred events stay buffered in the set until wrapup.
	return nil
}

// process finalizes one event: on_match hook, then display with the
// display_if_changed dedup rule. Called at match time for immediate events
// and during the sorted replay for deferred ones.
func (s *session) process(ctx context.Context, ev *Event) {
	if ev.Type.OnMatch != "" && s.cfg.runner != nil {
		updated, err := s.cfg.runner.Execute(ctx, Invocation{
			Phase:    PhaseMatch,
			TypeName: ev.Type.Name,
			Code:     ev.Type.OnMatch,
			Bindings: s.mergedBindings(ev.Scope.Bindings()),
		})
		if err != nil {
			s.recordHookError(PhaseMatch, ev.Type.Name, err)
		} else if updated != nil {
			ev.Scope.ApplyBindings(updated)
		}
	}

	// The hook may have deleted the event through the runtime's event
	// access; a deleted event is neither displayed nor tracked.
	if !s.events.Contains(ev) {
		return
	}

	prev := s.lastProcessed[ev.Type.Name]
	changed := ev.Scope.changedFields(prevScope(prev))
	ev.Scope.setSystem(FieldChangedFields, changed)
	s.lastProcessed[ev.Type.Name] = ev

	if ev.Type.DisplayOnMatch == "" {
		return
	}
	rendered := Render(ev.Type.DisplayOnMatch, ev, s.events)
	ev.Scope.setSystem(FieldDisplay, rendered)

	// The first event of a type always displays; later ones are suppressed
	// under display_if_changed when no user field differs from the previous
	// processed event of the same type.
	if ev.Type.DisplayIfChanged && prev != nil && changed == "" {
		return
	}
	s.display(ev, rendered)
}

func prevScope(prev *Event) *FieldScope {
	if prev == nil {
		return nil
	}
	return prev.Scope
}

func (s *session) display(ev *Event, rendered string) {
	if !s.cfg.hideTimestamp && ev.HasTimestamp() {
		fmt.Fprintf(s.cfg.out, "%s %s\n", ev.Field(FieldTimestamp), rendered)
		return
	}
	fmt.Fprintln(s.cfg.out, rendered)
}

// wrapup sorts the pending buffer, replays deferred processing in sorted
// order and runs the on_wrapup hooks.
func (s *session) wrapup(ctx context.Context) error {
	if s.cfg.chronological {
		s.events.SortChronological()

		// Snapshot: hooks may delete events during the replay.
		seq := make([]*Event, len(s.events.Sequence()))
		copy(seq, s.events.Sequence())
		for _, ev := range seq {
			if err := ctx.Err(); err != nil {
				return err
			}
			if ev.Type.Immediate || !s.events.Contains(ev) {
				continue
			}
			s.process(ctx, ev)
		}
	}

	for _, t := range s.types {
		if t.OnWrapup == "" || s.cfg.runner == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		updated, err := s.cfg.runner.Execute(ctx, Invocation{
			Phase:    PhaseWrapup,
			TypeName: t.Name,
			Code:     t.OnWrapup,
			Bindings: s.mergedBindings(map[string]string{"event_count": fmt.Sprintf("%d", s.events.Len())}),
			Events:   s.events,
		})
		if err != nil {
			s.recordHookError(PhaseWrapup, t.Name, err)
			continue
		}
		s.absorbSessionBindings(updated)
	}
	return nil
}

// invokeSessionHook runs an init or file hook whose resulting bindings feed
// back into the session-level binding set.
func (s *session) invokeSessionHook(ctx context.Context, phase HookPhase, t *eventtype.Resolved, code string, extra map[string]string) error {
	if s.cfg.runner == nil {
		s.cfg.logger.Debug("no hook runner, skipping hook", "phase", phase, "type", t.Name)
		return nil
	}
	updated, err := s.cfg.runner.Execute(ctx, Invocation{
		Phase:    phase,
		TypeName: t.Name,
		Code:     code,
		Bindings: s.mergedBindings(extra),
	})
	if err != nil {
		return err
	}
	s.absorbSessionBindings(updated)
	return nil
}

// mergedBindings copies the session bindings with extra values layered on
// top. Hooks never observe each other's in-flight maps.
func (s *session) mergedBindings(extra map[string]string) map[string]string {
	out := make(map[string]string, len(s.bindings)+len(extra))
	for k, v := range s.bindings {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func (s *session) absorbSessionBindings(updated map[string]string) {
	for k, v := range updated {
		s.bindings[k] = v
	}
}

func (s *session) recordHookError(phase HookPhase, typeName string, err error) {
	he := &HookExecutionError{Phase: phase, TypeName: typeName, Cause: err}
	s.hookErrs = append(s.hookErrs, he)
	s.cfg.logger.Warn("hook failed", "phase", phase, "type", typeName, "error", err)
}
