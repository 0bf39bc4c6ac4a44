package regulog

import (
	"regexp"
	"strings"
)

// placeholderRex matches {field} style placeholders. Nested or unbalanced
// braces are left untouched.
var placeholderRex = regexp.MustCompile(`\{[^{}]+\}`)

// Render substitutes placeholders in a display template from the event's
// scope, with cross-event lookups against the set. It never fails; an
// unresolvable placeholder renders as a visible marker so that a typo in a
// template shows up in the output instead of silently vanishing.
//
// Placeholder forms:
//
//	{field}                      field of the current event
//	{field@evname}               latest earlier event of another type
//	{field@evname:rfield=cfield} earlier event of evname whose rfield equals
//	                             the current event's cfield
//
// The literal escapes \t and \n in the template are expanded first.
func Render(template string, ev *Event, set *EventSet) string {
	res := strings.ReplaceAll(template, `\t`, "\t")
	res = strings.ReplaceAll(res, `\n`, "\n")

	return placeholderRex.ReplaceAllStringFunc(res, func(ph string) string {
		return resolvePlaceholder(strings.TrimSpace(ph[1:len(ph)-1]), ev, set)
	})
}

func resolvePlaceholder(src string, ev *Event, set *EventSet) string {
	fieldname, rest, hasRef := strings.Cut(src, "@")

	// Plain reference to a field of the current event.
	if !hasRef {
		if v, ok := ev.Scope.Get(fieldname); ok {
			return v
		}
		return "FIELD '" + fieldname + "' NOT FOUND"
	}

	if set == nil {
		return "NO MATCHING EVENT"
	}

	evname, cond, hasCond := strings.Cut(rest, ":")
	if !set.HasType(evname) {
		return "EVENT TYPE '" + evname + "' NOT FOUND"
	}

	q := Query{Name: evname, Before: ev}
	if hasCond {
		rfield, cfield, ok := strings.Cut(cond, "=")
		if !ok {
			return "LOOKUP CONDITION '" + cond + "' NOT VALID"
		}
		cvalue, ok := ev.Scope.Get(cfield)
		if !ok {
			return "COMPARISON FIELD '" + cfield + "' NOT FOUND"
		}
		q.Fields = map[string]string{rfield: cvalue}
	}

	found := set.Lookup(q)
	if found == nil {
		return "NO MATCHING EVENT"
	}
	if v, ok := found.Scope.Get(fieldname); ok {
		return v
	}
	return "FIELD '" + fieldname + "' NOT IN FOUND EVENT"
}
