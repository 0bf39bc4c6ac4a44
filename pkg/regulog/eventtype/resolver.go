package eventtype

import (
	"fmt"
	"regexp"
)

// merged holds the effective raw field values of one type after walking its
// Parent chain, before regex compilation.
type merged struct {
	def  Definition
	tags []string
}

// Resolve flattens the inheritance forest of the registry into compiled
// event types, in registration order. It fails with a ResolutionError on
// dangling parent references, cyclic Parent chains, and regular expressions
// that do not compile. Resolve never mutates the registry and is idempotent:
// resolving the same registry twice yields identical results.
func Resolve(reg *Registry) ([]*Resolved, error) {
	defs := reg.Definitions()

	// Memoized merge results, keyed by name. visiting marks the current
	// chain walk for cycle detection.
	cache := make(map[string]*merged, len(defs))
	visiting := make(map[string]bool)

	var mergeChain func(name string) (*merged, error)
	mergeChain = func(name string) (*merged, error) {
		if m, ok := cache[name]; ok {
			return m, nil
		}
		if visiting[name] {
			return nil, &ResolutionError{
				Name:    name,
				Field:   "parent",
				Message: "cyclic inheritance",
			}
		}

		def, ok := reg.Lookup(name)
		if !ok {
			return nil, &ResolutionError{
				Name:    name,
				Field:   "parent",
				Message: "unknown event type",
			}
		}

		visiting[name] = true
		defer delete(visiting, name)

		eff := def
		tags := splitTags(def.Tags)

		if def.Parent != "" {
			parent, err := mergeChain(def.Parent)
			if err != nil {
				// Attribute dangling parents to the child that names them.
				var rerr *ResolutionError
				if ok := asResolutionError(err, &rerr); ok && rerr.Message == "unknown event type" {
					return nil, &ResolutionError{
						Name:    name,
						Field:   "parent",
						Message: fmt.Sprintf("parent %q does not exist", def.Parent),
					}
				}
				return nil, err
			}
			eff = overlay(parent.def, def)
			tags = unionTags(parent.tags, tags)
		}

		m := &merged{def: eff, tags: tags}
		cache[name] = m
		return m, nil
	}

	resolved := make([]*Resolved, 0, len(defs))
	for _, def := range defs {
		m, err := mergeChain(def.Name)
		if err != nil {
			return nil, err
		}
		r, err := compile(def.Name, def.Parent, m)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, r)
	}
	return resolved, nil
}

func asResolutionError(err error, target **ResolutionError) bool {
	re, ok := err.(*ResolutionError)
	if ok {
		*target = re
	}
	return ok
}

// overlay merges a child definition over resolved parent values: a field the
// child defines wins, an absent child field inherits the parent's value.
// Hook bodies follow the same rule, a child body replaces the parent's for
// that slot.
func overlay(parent, child Definition) Definition {
	eff := child
	if eff.Description == nil {
		eff.Description = parent.Description
	}
	if eff.RexFilename == nil {
		eff.RexFilename = parent.RexFilename
	}
	if eff.RexText == nil {
		eff.RexText = parent.RexText
	}
	if eff.RexTimestamp == nil {
		eff.RexTimestamp = parent.RexTimestamp
	}
	if eff.MultilineCount == nil {
		eff.MultilineCount = parent.MultilineCount
	}
	if eff.CaseSensitive == nil {
		eff.CaseSensitive = parent.CaseSensitive
	}
	if eff.DisplayOnMatch == nil {
		eff.DisplayOnMatch = parent.DisplayOnMatch
	}
	if eff.DisplayIfChanged == nil {
		eff.DisplayIfChanged = parent.DisplayIfChanged
	}
	if eff.Immediate == nil {
		eff.Immediate = parent.Immediate
	}
	if eff.OnInit == nil {
		eff.OnInit = parent.OnInit
	}
	if eff.OnFile == nil {
		eff.OnFile = parent.OnFile
	}
	if eff.OnMatch == nil {
		eff.OnMatch = parent.OnMatch
	}
	if eff.OnWrapup == nil {
		eff.OnWrapup = parent.OnWrapup
	}
	return eff
}

// unionTags appends child tags to parent tags, preserving first-seen order
// and dropping duplicates.
func unionTags(parent, child []string) []string {
	if len(parent) == 0 {
		return child
	}
	seen := make(map[string]bool, len(parent)+len(child))
	out := make([]string, 0, len(parent)+len(child))
	for _, t := range parent {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range child {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// compile turns merged raw values into a Resolved type, compiling all
// regular expressions. A malformed pattern surfaces here as a
// ResolutionError, it is never deferred to scan time.
func compile(name, parent string, m *merged) (*Resolved, error) {
	def := m.def

	r := &Resolved{
		Name:   name,
		Parent: parent,
		Tags:   m.tags,
	}
	if def.Description != nil {
		r.Description = *def.Description
	}
	r.MultilineCount = 1
	if def.MultilineCount != nil {
		r.MultilineCount = *def.MultilineCount
	}
	if def.CaseSensitive != nil {
		r.CaseSensitive = *def.CaseSensitive
	}
	if def.DisplayOnMatch != nil {
		r.DisplayOnMatch = *def.DisplayOnMatch
	}
	if def.DisplayIfChanged != nil {
		r.DisplayIfChanged = *def.DisplayIfChanged
	}
	if def.Immediate != nil {
		r.Immediate = *def.Immediate
	}
	if def.OnInit != nil {
		r.OnInit = *def.OnInit
	}
	if def.OnFile != nil {
		r.OnFile = *def.OnFile
	}
	if def.OnMatch != nil {
		r.OnMatch = *def.OnMatch
	}
	if def.OnWrapup != nil {
		r.OnWrapup = *def.OnWrapup
	}

	var err error
	if def.RexFilename != nil && *def.RexFilename != "" {
		r.RexFilename, err = compileRex(name, "rex_filename", *def.RexFilename, "")
		if err != nil {
			return nil, err
		}
	}
	if def.RexText != nil && *def.RexText != "" {
		// Text matching is case-insensitive unless requested otherwise.
		// With a multiline window the dot also matches newlines.
		flags := ""
		if !r.CaseSensitive {
			flags += "i"
		}
		if r.MultilineCount > 1 {
			flags += "s"
		}
		r.RexText, err = compileRex(name, "rex_text", *def.RexText, flags)
		if err != nil {
			return nil, err
		}
	}
	if def.RexTimestamp != nil && *def.RexTimestamp != "" {
		r.RexTimestamp, err = compileRex(name, "rex_timestamp", *def.RexTimestamp, "")
		if err != nil {
			return nil, err
		}
	}
	return r, nil
}

func compileRex(name, field, pattern, flags string) (*regexp.Regexp, error) {
	if flags != "" {
		pattern = "(?" + flags + ")" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, &ResolutionError{
			Name:    name,
			Field:   field,
			Message: fmt.Sprintf("invalid regular expression: %v", err),
			Cause:   err,
		}
	}
	return re, nil
}
