// Package sandbox runs untrusted JavaScript inside isolated goja runtimes.
//
// The package bridges host Go code and guest scripts without handing the
// guest any live reference to host memory:
//
//   - Sanitize produces an acyclic deep copy of host data before it crosses.
//   - Wrap turns a Namespace of host values and functions into a Tree whose
//     callables are invoke-only Refs into a per-run Registry.
//   - Synthesizer renders the guest prologue that exposes the Tree as plain
//     synchronous functions, including the chainable expect(...).not DSL.
//   - Manager creates and disposes isolates; DeadlineManager layers a
//     timeout and cancellation policy on top.
//   - Engine runs one script per isolate and always disposes it.
//
// Usage:
//
//	isolates := sandbox.NewDeadlineManager(sandbox.NewGojaManager(logger), 5*time.Second)
//	engine := sandbox.NewEngine(logger, isolates)
//	err := engine.Run(ctx, script, sandbox.Namespace{
//	    "log": func(msg string) { logger.Info(msg) },
//	}, response)
package sandbox
