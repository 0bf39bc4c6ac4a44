package regulog_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regulog/regulog-go/pkg/regulog"
)

func memSource(path, content string) regulog.Source {
	return regulog.Source{
		Path:    path,
		ModTime: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.Local),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(content)), nil
		},
	}
}

func outputLines(buf *bytes.Buffer) []string {
	s := strings.TrimRight(buf.String(), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

const stampedDoc = `version: 1
event_types:
  - name: op
    rex_text: 'op (?P<what>\w+)'
    rex_timestamp: '^(?P<_Y>\d{4})-(?P<_M>\d\d)-(?P<_D>\d\d) (?P<_h>\d\d):(?P<_m>\d\d):(?P<_s>\d\d)'
    display_on_match: 'OP {what}'
`

func TestRun_ImmediateMode_ScanOrder(t *testing.T) {
	types := resolveTypes(t, stampedDoc)
	src := memSource("app.log", strings.Join([]string{
		"2024-03-15 12:00:00 op third",
		"2024-03-15 10:00:00 op first",
		"2024-03-15 11:00:00 op second",
	}, "\n"))

	var buf bytes.Buffer
	result, err := regulog.Run(context.Background(), types, []regulog.Source{src},
		regulog.WithOutput(&buf))
	require.NoError(t, err)

	// Default mode displays at match time, in scan order.
	assert.Equal(t, []string{
		"2024-03-15T12:00:00 OP third",
		"2024-03-15T10:00:00 OP first",
		"2024-03-15T11:00:00 OP second",
	}, outputLines(&buf))

	assert.Equal(t, 1, result.FilesScanned)
	assert.Equal(t, 3, result.LinesScanned)
	assert.Len(t, result.Events, 3)
}

func TestRun_Chronological_SortsBeforeDisplay(t *testing.T) {
	types := resolveTypes(t, stampedDoc)
	src := memSource("app.log", strings.Join([]string{
		"2024-03-15 12:00:00 op third",
		"2024-03-15 10:00:00 op first",
		"2024-03-15 11:00:00 op second",
	}, "\n"))

	var buf bytes.Buffer
	result, err := regulog.Run(context.Background(), types, []regulog.Source{src},
		regulog.WithChronological(true),
		regulog.WithOutput(&buf))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"2024-03-15T10:00:00 OP first",
		"2024-03-15T11:00:00 OP second",
		"2024-03-15T12:00:00 OP third",
	}, outputLines(&buf))

	// The final sequence is time sorted with renumbered sequence numbers.
	require.Len(t, result.Events, 3)
	for i, ev := range result.Events {
		assert.Equal(t, i, ev.Seq())
	}
	assert.True(t, result.Events[0].Timestamp.Before(result.Events[2].Timestamp))
}

func TestRun_Chronological_ImmediateTypeDisplaysAtMatchTime(t *testing.T) {
	types := resolveTypes(t, `version: 1
event_types:
  - name: op
    rex_text: 'op (?P<what>\w+)'
    rex_timestamp: '^(?P<_Y>\d{4})-(?P<_M>\d\d)-(?P<_D>\d\d) (?P<_h>\d\d):(?P<_m>\d\d):(?P<_s>\d\d)'
    display_on_match: 'OP {what}'
  - name: alert
    immediate: true
    rex_text: 'ALERT (?P<what>\w+)'
    rex_timestamp: '^(?P<_Y>\d{4})-(?P<_M>\d\d)-(?P<_D>\d\d) (?P<_h>\d\d):(?P<_m>\d\d):(?P<_s>\d\d)'
    display_on_match: 'ALERT {what}'
`)
	src := memSource("app.log", strings.Join([]string{
		"2024-03-15 12:00:00 op late",
		"2024-03-15 09:00:00 ALERT fire",
		"2024-03-15 10:00:00 op early",
	}, "\n"))

	var buf bytes.Buffer
	_, err := regulog.Run(context.Background(), types, []regulog.Source{src},
		regulog.WithChronological(true),
		regulog.WithOutput(&buf))
	require.NoError(t, err)

	// The immediate alert displays during the scan, before the deferred
	// events replay in time order at wrapup.
	assert.Equal(t, []string{
		"2024-03-15T09:00:00 ALERT fire",
		"2024-03-15T10:00:00 OP early",
		"2024-03-15T12:00:00 OP late",
	}, outputLines(&buf))
}

func TestRun_HideTimestamp(t *testing.T) {
	types := resolveTypes(t, stampedDoc)
	src := memSource("app.log", "2024-03-15 10:00:00 op thing")

	var buf bytes.Buffer
	_, err := regulog.Run(context.Background(), types, []regulog.Source{src},
		regulog.WithOutput(&buf),
		regulog.WithHideTimestamp(true))
	require.NoError(t, err)
	assert.Equal(t, []string{"OP thing"}, outputLines(&buf))
}

func TestRun_DisplayIfChanged(t *testing.T) {
	types := resolveTypes(t, `version: 1
event_types:
  - name: status
    rex_text: 'status=(?P<state>\w+)'
    display_on_match: 'STATUS {state}'
    display_if_changed: true
`)
	src := memSource("app.log", strings.Join([]string{
		"status=up",
		"status=up",
		"status=down",
		"status=down",
		"status=up",
	}, "\n"))

	var buf bytes.Buffer
	result, err := regulog.Run(context.Background(), types, []regulog.Source{src},
		regulog.WithOutput(&buf))
	require.NoError(t, err)

	// First event always displays; repeats are suppressed until a user
	// field changes.
	assert.Equal(t, []string{
		"STATUS up",
		"STATUS down",
		"STATUS up",
	}, outputLines(&buf))

	// Suppressed events are still collected.
	assert.Len(t, result.Events, 5)
}

func TestRun_ChangedFieldsTracking(t *testing.T) {
	types := resolveTypes(t, `version: 1
event_types:
  - name: status
    rex_text: 'state=(?P<state>\w+) load=(?P<load>\d+)'
    display_on_match: 'S'
`)
	src := memSource("app.log", strings.Join([]string{
		"state=up load=1",
		"state=up load=2",
		"state=up load=2",
	}, "\n"))

	var buf bytes.Buffer
	result, err := regulog.Run(context.Background(), types, []regulog.Source{src},
		regulog.WithOutput(&buf))
	require.NoError(t, err)

	require.Len(t, result.Events, 3)
	assert.Equal(t, "state,load", result.Events[0].Field(regulog.FieldChangedFields))
	assert.Equal(t, "load", result.Events[1].Field(regulog.FieldChangedFields))
	assert.Equal(t, "", result.Events[2].Field(regulog.FieldChangedFields))
}

func TestRun_CrossEventTemplate(t *testing.T) {
	types := resolveTypes(t, `version: 1
event_types:
  - name: login
    rex_text: 'login (?P<user>\w+) (?P<session>\w+)'
  - name: logout
    rex_text: 'logout (?P<session>\w+)'
    display_on_match: 'BYE {user@login:session=session}'
`)
	src := memSource("app.log", strings.Join([]string{
		"login ada s1",
		"login bob s2",
		"logout s1",
	}, "\n"))

	var buf bytes.Buffer
	_, err := regulog.Run(context.Background(), types, []regulog.Source{src},
		regulog.WithOutput(&buf))
	require.NoError(t, err)
	assert.Equal(t, []string{"BYE ada"}, outputLines(&buf))
}

func TestRun_MultipleSources(t *testing.T) {
	types := resolveTypes(t, stampedDoc)
	sources := []regulog.Source{
		memSource("a.log", "2024-03-15 12:00:00 op from_a"),
		memSource("b.log", "2024-03-15 10:00:00 op from_b"),
	}

	var buf bytes.Buffer
	result, err := regulog.Run(context.Background(), types, sources,
		regulog.WithChronological(true),
		regulog.WithOutput(&buf))
	require.NoError(t, err)

	assert.Equal(t, 2, result.FilesScanned)
	assert.Equal(t, []string{
		"2024-03-15T10:00:00 OP from_b",
		"2024-03-15T12:00:00 OP from_a",
	}, outputLines(&buf))
}

func TestRun_SourceFieldsBecomeUserFields(t *testing.T) {
	types := resolveTypes(t, `version: 1
event_types:
  - name: op
    rex_text: 'op (?P<what>\w+)'
    display_on_match: 'OP {what} on {node}'
`)
	src := memSource("node7/app.log", "op restart")
	src.Fields = map[string]string{"node": "node7"}

	var buf bytes.Buffer
	_, err := regulog.Run(context.Background(), types, []regulog.Source{src},
		regulog.WithOutput(&buf))
	require.NoError(t, err)
	assert.Equal(t, []string{"OP restart on node7"}, outputLines(&buf))
}

type recordingRunner struct {
	invocations []regulog.Invocation
	results     map[regulog.HookPhase]map[string]string
	errs        map[regulog.HookPhase]error
}

func (r *recordingRunner) Execute(_ context.Context, inv regulog.Invocation) (map[string]string, error) {
	r.invocations = append(r.invocations, inv)
	if err := r.errs[inv.Phase]; err != nil {
		return nil, err
	}
	return r.results[inv.Phase], nil
}

func (r *recordingRunner) byPhase(phase regulog.HookPhase) []regulog.Invocation {
	var out []regulog.Invocation
	for _, inv := range r.invocations {
		if inv.Phase == phase {
			out = append(out, inv)
		}
	}
	return out
}

const hookedDoc = `version: 1
event_types:
  - name: op
    rex_text: 'op (?P<what>\w+)'
    display_on_match: 'OP {what}'
    on_init: 'init_code'
    on_file: 'file_code'
    on_match: 'match_code'
    on_wrapup: 'wrapup_code'
`

func TestRun_HookLifecycle(t *testing.T) {
	types := resolveTypes(t, hookedDoc)
	runner := &recordingRunner{}
	src := memSource("app.log", "op one\nop two")

	result, err := regulog.Run(context.Background(), types, []regulog.Source{src},
		regulog.WithHookRunner(runner))
	require.NoError(t, err)
	assert.Empty(t, result.HookErrors)

	assert.Len(t, runner.byPhase(regulog.PhaseInit), 1)
	assert.Len(t, runner.byPhase(regulog.PhaseFile), 1)
	assert.Len(t, runner.byPhase(regulog.PhaseMatch), 2)
	assert.Len(t, runner.byPhase(regulog.PhaseWrapup), 1)

	init := runner.byPhase(regulog.PhaseInit)[0]
	assert.Equal(t, "init_code", init.Code)
	assert.Equal(t, "op", init.TypeName)
	assert.Equal(t, "false", init.Bindings["chronological"])

	file := runner.byPhase(regulog.PhaseFile)[0]
	assert.Equal(t, "app.log", file.Bindings["source_path"])
	assert.Equal(t, "app.log", file.Bindings["source_filename"])

	match := runner.byPhase(regulog.PhaseMatch)[0]
	assert.Equal(t, "one", match.Bindings["what"])
	assert.Equal(t, "op", match.Bindings["_name"])

	wrapup := runner.byPhase(regulog.PhaseWrapup)[0]
	assert.Equal(t, "2", wrapup.Bindings["event_count"])
	require.NotNil(t, wrapup.Events)
	assert.Equal(t, 2, wrapup.Events.Len())
}

func TestRun_InitHookFailureAborts(t *testing.T) {
	types := resolveTypes(t, hookedDoc)
	runner := &recordingRunner{
		errs: map[regulog.HookPhase]error{regulog.PhaseInit: errors.New("boom")},
	}
	src := memSource("app.log", "op one")

	_, err := regulog.Run(context.Background(), types, []regulog.Source{src},
		regulog.WithHookRunner(runner))
	require.Error(t, err)

	var hookErr *regulog.HookExecutionError
	require.True(t, errors.As(err, &hookErr))
	assert.Equal(t, regulog.PhaseInit, hookErr.Phase)

	// Nothing was scanned.
	assert.Empty(t, runner.byPhase(regulog.PhaseMatch))
}

func TestRun_MatchHookFailureIsSoft(t *testing.T) {
	types := resolveTypes(t, hookedDoc)
	runner := &recordingRunner{
		errs: map[regulog.HookPhase]error{regulog.PhaseMatch: errors.New("script blew up")},
	}
	src := memSource("app.log", "op one\nop two")

	var buf bytes.Buffer
	result, err := regulog.Run(context.Background(), types, []regulog.Source{src},
		regulog.WithHookRunner(runner),
		regulog.WithOutput(&buf))
	require.NoError(t, err)

	// Both events still display; both failures are recorded.
	assert.Equal(t, []string{"OP one", "OP two"}, outputLines(&buf))
	require.Len(t, result.HookErrors, 2)
	assert.Equal(t, regulog.PhaseMatch, result.HookErrors[0].Phase)
	assert.ErrorContains(t, result.HookErrors[0], "script blew up")
}

func TestRun_MatchHookBindingsApplied(t *testing.T) {
	types := resolveTypes(t, `version: 1
event_types:
  - name: op
    rex_text: 'op (?P<what>\w+)'
    display_on_match: 'OP {what} ({extra})'
    on_match: 'enrich'
`)
	runner := &recordingRunner{
		results: map[regulog.HookPhase]map[string]string{
			regulog.PhaseMatch: {"extra": "added", "_name": "ignored"},
		},
	}
	src := memSource("app.log", "op one")

	var buf bytes.Buffer
	result, err := regulog.Run(context.Background(), types, []regulog.Source{src},
		regulog.WithHookRunner(runner),
		regulog.WithOutput(&buf))
	require.NoError(t, err)

	assert.Equal(t, []string{"OP one (added)"}, outputLines(&buf))
	// System fields cannot be overwritten by hook bindings.
	assert.Equal(t, "op", result.Events[0].Field(regulog.FieldName))
}

func TestRun_SessionBindingsAccumulate(t *testing.T) {
	types := resolveTypes(t, hookedDoc)
	runner := &recordingRunner{
		results: map[regulog.HookPhase]map[string]string{
			regulog.PhaseInit: {"token": "t-99"},
		},
	}
	src := memSource("app.log", "op one")

	_, err := regulog.Run(context.Background(), types, []regulog.Source{src},
		regulog.WithHookRunner(runner))
	require.NoError(t, err)

	// Bindings returned by on_init are visible to later hook phases.
	file := runner.byPhase(regulog.PhaseFile)[0]
	assert.Equal(t, "t-99", file.Bindings["token"])
	wrapup := runner.byPhase(regulog.PhaseWrapup)[0]
	assert.Equal(t, "t-99", wrapup.Bindings["token"])
}

func TestRun_NoRunnerSkipsHooks(t *testing.T) {
	types := resolveTypes(t, hookedDoc)
	src := memSource("app.log", "op one")

	var buf bytes.Buffer
	result, err := regulog.Run(context.Background(), types, []regulog.Source{src},
		regulog.WithOutput(&buf))
	require.NoError(t, err)
	assert.Empty(t, result.HookErrors)
	assert.Equal(t, []string{"OP one"}, outputLines(&buf))
}

func TestRun_ContextCancellation(t *testing.T) {
	types := resolveTypes(t, stampedDoc)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := regulog.Run(ctx, types, []regulog.Source{memSource("a.log", "op x")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_OpenFailure(t *testing.T) {
	types := resolveTypes(t, stampedDoc)
	src := regulog.Source{
		Path: "broken.log",
		Open: func() (io.ReadCloser, error) {
			return nil, errors.New("permission denied")
		},
	}

	_, err := regulog.Run(context.Background(), types, []regulog.Source{src})
	require.Error(t, err)
	assert.ErrorContains(t, err, "permission denied")
}
