// Package id provides unique identifier generation utilities.
//
// This is the canonical source for ID generation across the hookd codebase.
// Two formats are provided:
//
//   - New: time-ordered UUIDv7 strings used as primary keys for captured
//     requests, connections, executions and handler versions. Their natural
//     ordering follows creation time, which keeps ledger listings stable.
//   - Short: 16-character hex IDs for user-facing contexts where brevity matters.
package id
