// Package handler defines the user-authored script handlers that hookd runs
// against captured traffic.
//
// A Handler is bound to an HTTP method and path pattern. Path patterns are
// either the wildcard "*", a literal prefix such as "/hooks/github", or a
// pattern with named segments such as "/orders/:id". A TCPHandler has no
// pattern; at most one enabled TCPHandler is active at a time.
//
// Both kinds carry a stable ID and a VersionID that changes on every saved
// edit, so captured executions can be traced back to the exact script that
// produced them.
package handler
