// Package script runs user-authored handler scripts in an isolated
// JavaScript runtime.
//
// Every call to Executor.Run gets a fresh goja runtime, so no global state
// leaks between executions. The script source is the body of an async
// function: top-level await works, and the executor drives a small event
// loop until the returned promise settles (or the timeout fires).
//
// Bindings control what the script sees:
//
//   - Frozen values are deep-frozen JSON (req, data, ctx).
//   - Mutable values are JSON the script may change; their final contents
//     are returned in Result.Mutated (resp, shared, ctx.locals).
//   - Funcs are Go callbacks (send, btoa, atob).
//
// console output is captured as labeled lines instead of reaching the
// process output, and scripts can throw the error classes defined in this
// package to short-circuit processing. See Classify for how a failed run
// maps onto HandlerError, AbortError and ThrownError.
package script
