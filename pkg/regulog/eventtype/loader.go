package eventtype

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/regulog/regulog-go/internal/safefile"
)

const (
	// MaxDocumentSize is the maximum allowed size for a definition document
	// (1MB). Prevents denial-of-service via extremely large files.
	MaxDocumentSize = 1 * 1024 * 1024

	// MaxRegexLength is the maximum allowed length for a single regular
	// expression (2KB). Mitigates pathological pattern sizes; multi-format
	// timestamp alternations routinely exceed a few hundred bytes, so the
	// limit is deliberately generous.
	MaxRegexLength = 2048

	// MaxEventTypeCount is the maximum number of event types allowed in a
	// single load, across all included documents.
	MaxEventTypeCount = 1000

	// SupportedVersion is the currently supported document format version.
	SupportedVersion = 1
)

// sanitizePathError strips the path from os.PathError so error messages do
// not leak file system layout.
func sanitizePathError(err error) error {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return fmt.Errorf("%s: %w", pathErr.Op, pathErr.Err)
	}
	return err
}

// Registry is the flat set of raw definitions produced by a load, in
// document order. Order is preserved so that resolution and matching stay
// deterministic.
type Registry struct {
	defs  []Definition
	index map[string]int // name -> position in defs
}

// Definitions returns the raw definitions in registration order.
func (r *Registry) Definitions() []Definition {
	return r.defs
}

// Lookup returns the raw definition with the given name.
func (r *Registry) Lookup(name string) (Definition, bool) {
	i, ok := r.index[name]
	if !ok {
		return Definition{}, false
	}
	return r.defs[i], true
}

// Len returns the number of registered definitions.
func (r *Registry) Len() int {
	return len(r.defs)
}

// add registers a definition, rejecting duplicate concrete names.
func (r *Registry) add(def Definition, idx int) error {
	if r.index == nil {
		r.index = make(map[string]int)
	}
	if _, exists := r.index[def.Name]; exists {
		return &DefinitionError{
			Index:   idx,
			Name:    def.Name,
			Field:   "name",
			Message: "duplicate event type name",
		}
	}
	r.index[def.Name] = len(r.defs)
	r.defs = append(r.defs, def)
	return nil
}

// Load reads the definition document at path, follows its Include chain and
// returns the merged flat registry. An included document that was already
// loaded in the same call is skipped, so include cycles terminate.
func Load(path string) (*Registry, error) {
	reg := &Registry{}
	seen := make(map[string]bool)
	if err := loadInto(reg, path, seen); err != nil {
		return nil, err
	}
	return reg, nil
}

// LoadAll merges several definition documents, include chains and all, into
// one registry. Duplicate names across documents are rejected like within a
// single document.
func LoadAll(paths ...string) (*Registry, error) {
	reg := &Registry{}
	seen := make(map[string]bool)
	for _, p := range paths {
		if err := loadInto(reg, p, seen); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// LoadBytes parses a single definition document from a byte slice. Includes
// are rejected since there is no base directory to resolve them against.
func LoadBytes(data []byte) (*Registry, error) {
	doc, err := parseDocument("", data)
	if err != nil {
		return nil, err
	}
	if len(doc.Includes) > 0 {
		return nil, &ValidationError{
			Field:   "includes",
			Message: "includes are not supported when loading from bytes",
		}
	}
	reg := &Registry{}
	for i, def := range doc.EventTypes {
		if err := reg.add(def, i); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func loadInto(reg *Registry, path string, seen map[string]bool) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return &LoadError{Path: path, Cause: err}
	}
	if seen[abs] {
		// Already merged in this load, includes may form diamonds.
		return nil
	}
	seen[abs] = true

	data, err := readDocument(path)
	if err != nil {
		return &LoadError{Path: path, Cause: err}
	}

	doc, err := parseDocument(path, data)
	if err != nil {
		return err
	}

	for i, def := range doc.EventTypes {
		if err := reg.add(def, i); err != nil {
			return err
		}
		if reg.Len() > MaxEventTypeCount {
			return &ValidationError{
				Path:    path,
				Field:   "event_types",
				Message: fmt.Sprintf("too many event types, maximum allowed is %d", MaxEventTypeCount),
			}
		}
	}

	// Includes resolve relative to the including document.
	base := filepath.Dir(path)
	for _, inc := range doc.Includes {
		target := inc
		if !filepath.IsAbs(target) {
			target = filepath.Join(base, target)
		}
		if err := loadInto(reg, target, seen); err != nil {
			return err
		}
	}

	return nil
}

// readDocument opens and reads a document with the usual file hardening:
// regular files only, size checked on the open descriptor, bounded read.
func readDocument(path string) ([]byte, error) {
	f, info, err := safefile.OpenRegular(path)
	if err != nil {
		if errors.Is(err, safefile.ErrNotRegularFile) {
			return nil, errors.New("definition document must be a regular file")
		}
		return nil, sanitizePathError(err)
	}
	defer f.Close()

	if info.Size() == 0 {
		return nil, errors.New("definition document is empty")
	}
	if info.Size() > MaxDocumentSize {
		return nil, fmt.Errorf("definition document too large: %d bytes (max %d)", info.Size(), MaxDocumentSize)
	}

	data, err := io.ReadAll(io.LimitReader(f, MaxDocumentSize+1))
	if err != nil {
		return nil, sanitizePathError(err)
	}
	if len(data) > MaxDocumentSize {
		return nil, fmt.Errorf("definition document too large: %d bytes (max %d)", len(data), MaxDocumentSize)
	}
	return data, nil
}

// parseDocument unmarshals and validates one document.
func parseDocument(path string, data []byte) (*Document, error) {
	if len(data) == 0 {
		return nil, &LoadError{Path: path, Cause: errors.New("definition document is empty")}
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &LoadError{Path: path, Cause: fmt.Errorf("failed to parse YAML: %w", err)}
	}

	if err := doc.validate(path); err != nil {
		return nil, err
	}
	return &doc, nil
}

// validate performs schema-level checks. Regular expressions are NOT
// compiled here; compilation and its error reporting happen at resolution
// time so that inherited patterns are checked exactly once.
func (d *Document) validate(path string) error {
	if d.Version != SupportedVersion {
		return &ValidationError{
			Path:    path,
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (only version %d is supported)", d.Version, SupportedVersion),
		}
	}
	if len(d.EventTypes) == 0 && len(d.Includes) == 0 {
		return &ValidationError{
			Path:    path,
			Field:   "event_types",
			Message: "at least one event type or include is required",
		}
	}

	for i, def := range d.EventTypes {
		if def.Name == "" {
			return &DefinitionError{Index: i, Field: "name", Message: "name is required"}
		}
		if def.MultilineCount != nil && *def.MultilineCount < 1 {
			return &DefinitionError{
				Index:   i,
				Name:    def.Name,
				Field:   "multiline_count",
				Message: fmt.Sprintf("must be >= 1, got %d", *def.MultilineCount),
			}
		}
		for field, rex := range map[string]*string{
			"rex_filename":  def.RexFilename,
			"rex_text":      def.RexText,
			"rex_timestamp": def.RexTimestamp,
		} {
			if rex != nil && len(*rex) > MaxRegexLength {
				return &DefinitionError{
					Index:   i,
					Name:    def.Name,
					Field:   field,
					Message: fmt.Sprintf("pattern too long: %d bytes (max %d)", len(*rex), MaxRegexLength),
				}
			}
		}
	}
	return nil
}
