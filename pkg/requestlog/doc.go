// Package requestlog provides the capture records hookd persists for user
// inspection: RequestEvent for inbound HTTP requests, TCPConnection for raw
// TCP sessions, and HandlerExecution for every handler run against either.
//
// These records are distinct from operational logging (log/slog). They are
// the user-facing ledger of what arrived, which handlers ran, what each one
// printed, and what was sent back.
//
// # Lifecycle
//
// A RequestEvent is created in StatusRunning the instant a request is
// accepted and is finalized exactly once to StatusComplete or StatusError.
// A TCPConnection starts in ConnActive and ends in ConnClosed or ConnFailed.
// A HandlerExecution starts in ExecRunning and is updated once to
// ExecSuccess or ExecError.
//
// # Package Design
//
// This is a leaf package with no internal dependencies, allowing it to be
// imported by any package without creating import cycles.
package requestlog
