package eventtype

import "fmt"

// ValidationError represents a schema-level validation error in a definition
// document (unsupported version, missing required sections, limit overruns).
type ValidationError struct {
	Path    string // document path, empty when loading from bytes
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("validation error in %s: %s: %s", e.Path, e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// DefinitionError represents an error specific to an individual event type
// definition (missing name, duplicate name, oversized pattern).
type DefinitionError struct {
	Index   int    // 0-based index within the document
	Name    string // event type name (may be empty if the name is missing)
	Field   string
	Message string
	Cause   error
}

func (e *DefinitionError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("event type %q: %s: %s", e.Name, e.Field, e.Message)
	}
	return fmt.Sprintf("event_types[%d]: %s: %s", e.Index, e.Field, e.Message)
}

// Unwrap returns the underlying cause, enabling errors.Is/As.
func (e *DefinitionError) Unwrap() error {
	return e.Cause
}

// LoadError represents a failure to read or parse a definition document,
// including missing include targets.
type LoadError struct {
	Path  string
	Cause error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading %s: %v", e.Path, e.Cause)
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

// ResolutionError represents a failure during inheritance resolution:
// dangling parent references, cyclic Parent chains, or a regular expression
// that does not compile.
type ResolutionError struct {
	Name    string // event type at fault
	Field   string // offending field, empty for structural errors
	Message string
	Cause   error
}

func (e *ResolutionError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("resolving event type %q: %s: %s", e.Name, e.Field, e.Message)
	}
	return fmt.Sprintf("resolving event type %q: %s", e.Name, e.Message)
}

func (e *ResolutionError) Unwrap() error {
	return e.Cause
}
