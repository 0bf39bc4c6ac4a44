// Package logsource discovers log files for a search session. Input paths
// are walked recursively and every file whose slash-normalized path matches
// the case-insensitive path filter becomes a session source; named captures
// of the filter are retained as per-file fields.
package logsource

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/regulog/regulog-go/pkg/regulog"
)

// DefaultPathFilter accepts anything with ".log" in its name.
const DefaultPathFilter = `.*\.log.*`

// Sentinel errors.
var (
	ErrNoLogFiles   = errors.New("no log files found")
	ErrPathNotFound = errors.New("input path not found")
)

// Filter matches candidate file paths against a path-filter regex.
type Filter struct {
	rex *regexp.Regexp
}

// NewFilter compiles pattern as a case-insensitive path filter. An empty
// pattern falls back to DefaultPathFilter.
func NewFilter(pattern string) (*Filter, error) {
	if pattern == "" {
		pattern = DefaultPathFilter
	}
	rex, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid path filter: %w", err)
	}
	return &Filter{rex: rex}, nil
}

// Check matches path against the filter after normalizing separators to "/".
// It returns the filter's named captures (possibly empty) and whether the
// path matched. The filter is anchored at the start of the path.
func (f *Filter) Check(path string) (map[string]string, bool) {
	normalized := strings.ReplaceAll(path, "\\", "/")
	m := f.rex.FindStringSubmatchIndex(normalized)
	if m == nil || m[0] != 0 {
		return nil, false
	}
	fields := make(map[string]string)
	names := f.rex.SubexpNames()
	for i := 1; i < len(names); i++ {
		if names[i] == "" || 2*i >= len(m) || m[2*i] < 0 {
			continue
		}
		fields[names[i]] = normalized[m[2*i]:m[2*i+1]]
	}
	return fields, true
}

// Discover resolves semicolon-separated input paths into session sources.
// Directories are walked recursively; a file given directly still has to
// pass the filter. Sources are returned in deterministic path order.
func Discover(paths string, filter *Filter) ([]regulog.Source, error) {
	var sources []regulog.Source
	for _, p := range strings.Split(paths, ";") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		found, err := discoverPath(p, filter)
		if err != nil {
			return nil, err
		}
		sources = append(sources, found...)
	}
	if len(sources) == 0 {
		return nil, ErrNoLogFiles
	}
	sort.Slice(sources, func(i, j int) bool {
		return sources[i].Path < sources[j].Path
	})
	return sources, nil
}

func discoverPath(path string, filter *Filter) ([]regulog.Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrPathNotFound, path)
	}

	if !info.IsDir() {
		fields, ok := filter.Check(path)
		if !ok {
			return nil, nil
		}
		return []regulog.Source{newSource(path, info, fields)}, nil
	}

	var sources []regulog.Source
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped, not fatal.
			return nil
		}
		if d.IsDir() {
			return nil
		}
		fields, ok := filter.Check(p)
		if !ok {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}
		if !fi.Mode().IsRegular() {
			return nil
		}
		sources = append(sources, newSource(p, fi, fields))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", path, err)
	}
	return sources, nil
}

func newSource(path string, info os.FileInfo, fields map[string]string) regulog.Source {
	if len(fields) == 0 {
		fields = nil
	}
	return regulog.Source{
		Path:    path,
		ModTime: info.ModTime(),
		Fields:  fields,
	}
}
