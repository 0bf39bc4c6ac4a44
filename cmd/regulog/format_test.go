package main

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regulog/regulog-go/pkg/regulog"
	"github.com/regulog/regulog-go/pkg/regulog/eventtype"
)

func scanOne(t *testing.T, doc, line string) *regulog.Event {
	t.Helper()
	reg, err := eventtype.LoadBytes([]byte(doc))
	require.NoError(t, err)
	types, err := eventtype.Resolve(reg)
	require.NoError(t, err)

	sc := regulog.NewScanner("/var/log/app.log", time.Time{}, types)
	events := sc.Advance(line)
	require.Len(t, events, 1)
	return events[0]
}

const loginDoc = `version: 1
event_types:
  - name: login
    rex_text: 'user (?P<user>\w+) logged in'
    rex_timestamp: '^(?P<_Y>\d{4})-(?P<_M>\d\d)-(?P<_D>\d\d) (?P<_h>\d\d):(?P<_m>\d\d):(?P<_s>\d\d)'
    display_on_match: 'LOGIN {user}'
`

func TestOutputDisplay(t *testing.T) {
	ev := scanOne(t, loginDoc, "2024-03-15 08:30:45 user ada logged in")

	var buf bytes.Buffer
	require.NoError(t, OutputDisplay(ev, nil, &buf))
	assert.Equal(t, "2024-03-15T08:30:45 LOGIN ada\n", buf.String())
}

func TestOutputDisplay_NoTemplate(t *testing.T) {
	ev := scanOne(t, `version: 1
event_types:
  - name: silent
    rex_text: 'ping'
`, "ping")

	var buf bytes.Buffer
	require.NoError(t, OutputDisplay(ev, nil, &buf))
	assert.Empty(t, buf.String())
}

func TestOutputJSON(t *testing.T) {
	ev := scanOne(t, loginDoc, "2024-03-15 08:30:45 user ada logged in")

	var buf bytes.Buffer
	require.NoError(t, OutputJSON(ev, &buf))

	var got jsonEvent
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "login", got.Type)
	assert.Equal(t, "2024-03-15T08:30:45", got.Timestamp)
	assert.Equal(t, "/var/log/app.log", got.Source)
	assert.Equal(t, 1, got.Line)
	assert.Equal(t, map[string]string{"user": "ada"}, got.Fields)
}

func TestOutputJSON_OmitsEmptyTimestamp(t *testing.T) {
	ev := scanOne(t, `version: 1
event_types:
  - name: bare
    rex_text: 'ping'
`, "ping")

	var buf bytes.Buffer
	require.NoError(t, OutputJSON(ev, &buf))
	assert.NotContains(t, buf.String(), "timestamp")
}

func TestOutputPretty(t *testing.T) {
	ev := scanOne(t, loginDoc, "2024-03-15 08:30:45 user ada logged in")

	var buf bytes.Buffer
	require.NoError(t, OutputPretty(ev, &buf))
	assert.Equal(t, "[08:30:45] login user=ada\n", buf.String())
}

func TestOutputPretty_NoTimestampNoFields(t *testing.T) {
	ev := scanOne(t, `version: 1
event_types:
  - name: bare
    rex_text: 'ping'
`, "ping")

	var buf bytes.Buffer
	require.NoError(t, OutputPretty(ev, &buf))
	assert.Equal(t, "[--:--:--] bare\n", buf.String())
}

func TestOutputEvent_UnknownFormat(t *testing.T) {
	ev := scanOne(t, loginDoc, "2024-03-15 08:30:45 user ada logged in")

	var buf bytes.Buffer
	err := OutputEvent("yaml", ev, nil, &buf)
	assert.ErrorContains(t, err, "unknown format")
}
