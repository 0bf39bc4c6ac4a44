package export_test

import (
	"encoding/xml"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regulog/regulog-go/internal/export"
	"github.com/regulog/regulog-go/pkg/regulog"
	"github.com/regulog/regulog-go/pkg/regulog/eventtype"
)

func scanInto(t *testing.T, doc string, lines ...string) *regulog.EventSet {
	t.Helper()
	reg, err := eventtype.LoadBytes([]byte(doc))
	require.NoError(t, err)
	types, err := eventtype.Resolve(reg)
	require.NoError(t, err)

	names := make([]string, len(types))
	for i, rt := range types {
		names[i] = rt.Name
	}
	set := regulog.NewEventSet(names)

	sc := regulog.NewScanner("app.log", time.Time{}, types)
	for _, line := range lines {
		for _, ev := range sc.Advance(line) {
			set.Add(ev)
		}
	}
	return set
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestSave_CSV(t *testing.T) {
	set := scanInto(t, `version: 1
event_types:
  - name: login
    rex_text: 'user (?P<user>\w+) logged in'
    rex_timestamp: '^(?P<_Y>\d{4})-(?P<_M>\d\d)-(?P<_D>\d\d) (?P<_h>\d\d):(?P<_m>\d\d):(?P<_s>\d\d)'
`,
		"2024-03-15 08:30:45 user ada logged in",
		"2024-03-15 08:31:00 user bob logged in",
	)

	dir := t.TempDir()
	require.NoError(t, export.Save(set, dir))

	got := readFile(t, filepath.Join(dir, "login.csv"))
	lines := strings.Split(strings.TrimRight(got, "\n"), "\n")
	require.Len(t, lines, 3)

	assert.Equal(t, "_timestamp;_name;_display_on_match;_changed_fields;_flat;user", lines[0])
	assert.Equal(t,
		"2024-03-15T08:30:45;login;;;2024-03-15 08:30:45 user ada logged in;ada",
		lines[1])
	assert.Equal(t,
		"2024-03-15T08:31:00;login;;;2024-03-15 08:31:00 user bob logged in;bob",
		lines[2])
}

func TestSave_CSVSanitizesSeparators(t *testing.T) {
	set := scanInto(t, `version: 1
event_types:
  - name: line
    rex_text: 'val=(?P<v>.*)'
`, "val=a;b")

	dir := t.TempDir()
	require.NoError(t, export.Save(set, dir))

	got := readFile(t, filepath.Join(dir, "line.csv"))
	lines := strings.Split(strings.TrimRight(got, "\n"), "\n")
	require.Len(t, lines, 2)
	// Embedded separators become spaces instead of triggering CSV quoting.
	assert.Equal(t, ";line;;;val=a b;a b", lines[1])
}

func TestSave_EmptyTypeStillGetsFiles(t *testing.T) {
	set := scanInto(t, `version: 1
event_types:
  - name: login
    rex_text: 'user (?P<user>\w+) logged in'
  - name: quiet
    rex_text: 'never appears'
`, "user ada logged in")

	dir := t.TempDir()
	require.NoError(t, export.Save(set, dir))

	got := readFile(t, filepath.Join(dir, "quiet.csv"))
	assert.Equal(t, "_timestamp;_name;_display_on_match;_changed_fields;_flat\n", got)

	_, err := os.Stat(filepath.Join(dir, "quiet.xml"))
	assert.NoError(t, err)
}

func TestSave_XML(t *testing.T) {
	set := scanInto(t, `version: 1
event_types:
  - name: login
    rex_text: 'user (?P<user>\w+) logged in'
`, "user ada logged in")

	dir := t.TempDir()
	require.NoError(t, export.Save(set, dir))

	got := readFile(t, filepath.Join(dir, "login.xml"))
	assert.True(t, strings.HasPrefix(got, xml.Header))
	assert.Contains(t, got, "<_name>login</_name>")
	assert.Contains(t, got, "<user>ada</user>")
	assert.Contains(t, got, "<_flat>user ada logged in</_flat>")

	// The document must parse cleanly end to end.
	dec := xml.NewDecoder(strings.NewReader(got))
	for {
		_, err := dec.Token()
		if err != nil {
			assert.ErrorContains(t, err, "EOF")
			break
		}
	}
}

func TestSave_XMLEscapesContent(t *testing.T) {
	set := scanInto(t, `version: 1
event_types:
  - name: line
    rex_text: 'msg=(?P<msg>.*)'
`, "msg=<b>&stuff")

	dir := t.TempDir()
	require.NoError(t, export.Save(set, dir))

	got := readFile(t, filepath.Join(dir, "line.xml"))
	assert.Contains(t, got, "<msg>&lt;b&gt;&amp;stuff</msg>")
}

func TestSave_CreatesOutputDir(t *testing.T) {
	set := scanInto(t, `version: 1
event_types:
  - name: login
    rex_text: 'in'
`)

	dir := filepath.Join(t.TempDir(), "nested", "out")
	require.NoError(t, export.Save(set, dir))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
