// Package eventtype provides loading and resolution of event type
// definitions for log searching. Definitions live in YAML documents, may
// include further documents, and may inherit from each other via Parent
// references. Resolution flattens the inheritance forest into compiled,
// matchable event types.
package eventtype

import (
	"regexp"
	"strings"
)

// Document represents the structure of a YAML definition document.
//
// Example:
//
//	version: 1
//	description: Firewall log patterns
//	includes:
//	  - common.yaml
//	event_types:
//	  - name: error
//	    rex_text: 'ERROR: (?P<code>\d+)'
//	    display_on_match: 'error {code} at {_source_path}:{_line_number}'
type Document struct {
	// Version is the document format version. Currently only version 1 is
	// supported.
	Version int `yaml:"version"`

	// Description is an optional free-text description of the document.
	Description string `yaml:"description,omitempty"`

	// Includes lists paths to additional documents merged into the same
	// registry. Relative paths are resolved against the including document.
	Includes []string `yaml:"includes,omitempty"`

	// EventTypes is the list of event type definitions.
	EventTypes []Definition `yaml:"event_types"`
}

// Definition is a raw event type definition as read from a document, before
// inheritance resolution. Every field except Name is optional; an absent
// field is inherited from the Parent chain or falls back to its default.
//
// Optional scalar fields use pointers so that "absent" and "explicitly set
// to the zero value" stay distinguishable for inheritance merging.
type Definition struct {
	// Name uniquely identifies the event type within a load.
	Name string `yaml:"name"`

	// Parent names another event type whose resolved fields this one
	// inherits. Chains may be arbitrarily deep but must not contain cycles.
	Parent string `yaml:"parent,omitempty"`

	// Tags is a semicolon-separated tag list. Tags accumulate along the
	// Parent chain (union semantics).
	Tags string `yaml:"tags,omitempty"`

	// Description becomes the _description field of matched events.
	Description *string `yaml:"description,omitempty"`

	// RexFilename restricts the type to files whose path matches this
	// regular expression. Absent means the type applies to every file.
	RexFilename *string `yaml:"rex_filename,omitempty"`

	// RexText is the main matching pattern. Named capture groups
	// (?P<name>...) become user fields. A type whose effective RexText is
	// absent after resolution is never matched.
	RexText *string `yaml:"rex_text,omitempty"`

	// MultilineCount is the number of consecutive log lines RexText is
	// matched against (default 1).
	MultilineCount *int `yaml:"multiline_count,omitempty"`

	// CaseSensitive controls RexText matching (default false).
	CaseSensitive *bool `yaml:"case_sensitive,omitempty"`

	// RexTimestamp extracts the event timestamp from the matched text via
	// the named groups _Y, _M, _D, _h, _m, _s.
	RexTimestamp *string `yaml:"rex_timestamp,omitempty"`

	// DisplayOnMatch is the template rendered when the type matches.
	// {field} placeholders are substituted from the event scope.
	DisplayOnMatch *string `yaml:"display_on_match,omitempty"`

	// DisplayIfChanged suppresses display when no user field changed since
	// the previous match of the same type (default false).
	DisplayIfChanged *bool `yaml:"display_if_changed,omitempty"`

	// Immediate forces match-time processing even in chronological
	// sessions (default false).
	Immediate *bool `yaml:"immediate,omitempty"`

	// Hook bodies: opaque script text handed to the hook runtime. A child
	// hook body replaces the parent's for that slot, it is never
	// concatenated.
	OnInit   *string `yaml:"on_init,omitempty"`
	OnFile   *string `yaml:"on_file,omitempty"`
	OnMatch  *string `yaml:"on_match,omitempty"`
	OnWrapup *string `yaml:"on_wrapup,omitempty"`
}

// Resolved is an event type after inheritance resolution, with all regular
// expressions compiled. Resolved values are immutable once produced and are
// safe for concurrent use.
type Resolved struct {
	// Name of the event type.
	Name string

	// Parent is the resolved parent name, empty for roots.
	Parent string

	// Tags is the effective tag set, union of the Parent chain.
	Tags []string

	// Description, empty if never defined along the chain.
	Description string

	// RexFilename is nil when the type applies to all files.
	RexFilename *regexp.Regexp

	// RexText is nil when the type is organizational only (never matched).
	RexText *regexp.Regexp

	// RexTimestamp is nil when the type carries no timestamp extraction.
	RexTimestamp *regexp.Regexp

	MultilineCount   int
	CaseSensitive    bool
	DisplayOnMatch   string
	DisplayIfChanged bool
	Immediate        bool

	// Hook bodies, empty string when the slot is unused.
	OnInit   string
	OnFile   string
	OnMatch  string
	OnWrapup string
}

// Matchable reports whether the type can produce events. Types without an
// effective text pattern serve only as parents or tag anchors.
func (r *Resolved) Matchable() bool {
	return r.RexText != nil
}

// MatchesFile reports whether the type applies to the given file path.
func (r *Resolved) MatchesFile(path string) bool {
	if r.RexFilename == nil {
		return true
	}
	return r.RexFilename.MatchString(path)
}

// HasTag reports whether tag is part of the effective tag set.
func (r *Resolved) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// splitTags splits a semicolon-separated tag string, dropping empty parts.
func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	var tags []string
	for _, t := range strings.Split(s, ";") {
		t = strings.TrimSpace(t)
		if t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
