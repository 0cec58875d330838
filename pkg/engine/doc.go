// Package engine accepts inbound webhook and TCP traffic, records it and
// drives the user's handler scripts against it.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────┐
//	│                            Server                            │
//	│                                                              │
//	│   HTTP listener                    TCP listener              │
//	│   (any method, any path)           (raw byte stream)         │
//	│        │                                  │                  │
//	│        ▼                                  ▼                  │
//	│   registry.MatchHTTP              registry.ActiveTCP         │
//	│        │                                  │                  │
//	│        ▼                                  ▼                  │
//	│   script.Executor  ◄── resp/locals   shared ──► sharedstate  │
//	│        │                                  │                  │
//	│        ▼                                  ▼                  │
//	│   ledger (one HandlerExecution per run, orders 0..n)         │
//	│        │                                  │                  │
//	│        └──────────► events.Publisher ◄────┘                  │
//	└──────────────────────────────────────────────────────────────┘
//
// # HTTP
//
// Every request is stored as a RequestEvent in the running state before any
// handler runs. Matching handlers then run one after another, the most
// general first and the most specific last, sharing one resp object and one
// ctx.locals object. The first classified error stops the chain and becomes
// the response. AbortConnection drops the connection without a response.
//
// # TCP
//
// Each connection is stored as a TCPConnection. Every chunk read from the
// socket runs the active TCP handler, if any, with the chunk as data and
// the shared state document as shared. Without an active handler the
// listener answers "ack\n"; a failing handler answers "error\n".
package engine
