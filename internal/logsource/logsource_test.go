package logsource_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regulog/regulog-go/internal/logsource"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("line\n"), 0o644))
}

func TestNewFilter_Default(t *testing.T) {
	f, err := logsource.NewFilter("")
	require.NoError(t, err)

	_, ok := f.Check("/var/log/app.log")
	assert.True(t, ok)
	_, ok = f.Check("/var/log/app.log.1")
	assert.True(t, ok)
	_, ok = f.Check("/var/log/app.txt")
	assert.False(t, ok)
}

func TestNewFilter_Invalid(t *testing.T) {
	_, err := logsource.NewFilter("([unclosed")
	assert.Error(t, err)
}

func TestFilter_CaseInsensitive(t *testing.T) {
	f, err := logsource.NewFilter(`.*\.log`)
	require.NoError(t, err)

	_, ok := f.Check("C:/Logs/APP.LOG")
	assert.True(t, ok)
}

func TestFilter_AnchoredAtStart(t *testing.T) {
	f, err := logsource.NewFilter(`logs/.*\.log`)
	require.NoError(t, err)

	_, ok := f.Check("logs/app.log")
	assert.True(t, ok)

	// A match further into the path does not count.
	_, ok = f.Check("var/logs/app.log")
	assert.False(t, ok)
}

func TestFilter_NormalizesBackslashes(t *testing.T) {
	f, err := logsource.NewFilter(`.*/app\.log`)
	require.NoError(t, err)

	_, ok := f.Check(`C:\logs\app.log`)
	assert.True(t, ok)
}

func TestFilter_NamedCaptures(t *testing.T) {
	f, err := logsource.NewFilter(`.*/(?P<node>\w+)/app\.log`)
	require.NoError(t, err)

	fields, ok := f.Check("/data/node7/app.log")
	require.True(t, ok)
	assert.Equal(t, map[string]string{"node": "node7"}, fields)
}

func TestDiscover_WalksDirectories(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.log"))
	writeFile(t, filepath.Join(dir, "a.log"))
	writeFile(t, filepath.Join(dir, "notes.txt"))
	writeFile(t, filepath.Join(dir, "sub", "c.log"))

	f, err := logsource.NewFilter("")
	require.NoError(t, err)

	sources, err := logsource.Discover(dir, f)
	require.NoError(t, err)
	require.Len(t, sources, 3)

	// Deterministic path order.
	assert.Equal(t, filepath.Join(dir, "a.log"), sources[0].Path)
	assert.Equal(t, filepath.Join(dir, "b.log"), sources[1].Path)
	assert.Equal(t, filepath.Join(dir, "sub", "c.log"), sources[2].Path)
	assert.False(t, sources[0].ModTime.IsZero())
}

func TestDiscover_SingleFileMustPassFilter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	writeFile(t, path)

	f, err := logsource.NewFilter("")
	require.NoError(t, err)

	_, err = logsource.Discover(path, f)
	assert.ErrorIs(t, err, logsource.ErrNoLogFiles)
}

func TestDiscover_SemicolonSeparatedPaths(t *testing.T) {
	dir1 := t.TempDir()
	dir2 := t.TempDir()
	writeFile(t, filepath.Join(dir1, "a.log"))
	writeFile(t, filepath.Join(dir2, "b.log"))

	f, err := logsource.NewFilter("")
	require.NoError(t, err)

	sources, err := logsource.Discover(dir1+";"+dir2, f)
	require.NoError(t, err)
	assert.Len(t, sources, 2)
}

func TestDiscover_MissingPath(t *testing.T) {
	f, err := logsource.NewFilter("")
	require.NoError(t, err)

	_, err = logsource.Discover("/no/such/place", f)
	assert.ErrorIs(t, err, logsource.ErrPathNotFound)
}

func TestDiscover_CapturedFieldsOnSource(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "node7", "app.log"))

	f, err := logsource.NewFilter(`.*/(?P<node>\w+)/app\.log`)
	require.NoError(t, err)

	sources, err := logsource.Discover(dir, f)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, map[string]string{"node": "node7"}, sources[0].Fields)
}
