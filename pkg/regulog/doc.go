// Package regulog provides a rule-driven log-event extraction engine.
//
// Event types are defined in YAML documents (see the [eventtype]
// subpackage): each type carries a filename filter, a text pattern with
// named capture groups, optional multiline depth and timestamp extraction,
// a display template and lifecycle hook bodies. The engine scans log files
// against the resolved types, extracts structured fields, orders matches
// immediately or chronologically and invokes hooks through an injected
// scripting runtime.
//
// # Basic Usage
//
//	reg, err := eventtype.Load("events.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	types, err := eventtype.Resolve(reg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := regulog.Run(ctx, types,
//	    []regulog.Source{{Path: "app.log", ModTime: mtime}},
//	    regulog.WithChronological(true),
//	    regulog.WithOutput(os.Stdout),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, ev := range result.Events {
//	    // events sorted by timestamp, scan order for ties
//	    _ = ev
//	}
//
// # Hooks
//
// Hook bodies in the definitions are opaque script text. The engine hands
// them to a [HookRunner] together with the field bindings valid at the
// invocation point and merges the returned bindings back. An on_init
// failure aborts the session; all other hook failures are collected into
// the Result without stopping the scan. The internal/wasmhook package
// implements the runner on WebAssembly plugins.
//
// # Display templates
//
// display_on_match templates substitute {field} placeholders from the
// event's scope, including cross-event lookups such as
// {user@login:session=session}; see [Render].
package regulog
