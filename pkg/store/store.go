// Package store defines the persistence contracts hookd's engine and admin
// API depend on.
//
// A Store groups one sub-store per entity: handlers, request events, TCP
// connections, handler executions, and the shared state document. Two
// implementations exist: pkg/store/sqlite for durable storage and
// internal/storage for in-memory use (tests and --storage memory).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/getmockd/hookd/internal/id"
	"github.com/getmockd/hookd/pkg/handler"
	"github.com/getmockd/hookd/pkg/requestlog"
)

// Common errors
var (
	ErrNotFound = errors.New("not found")

	// ErrAlreadyFinalized is returned when a terminal update targets a record
	// that already left its running state.
	ErrAlreadyFinalized = errors.New("already finalized")
)

// Backend represents a storage backend type.
type Backend string

const (
	// BackendSQLite uses an embedded SQLite database
	BackendSQLite Backend = "sqlite"
	// BackendMemory uses in-memory storage (no persistence)
	BackendMemory Backend = "memory"
)

// Store is the root persistence interface.
type Store interface {
	Handlers() HandlerStore
	Requests() RequestStore
	Connections() ConnectionStore
	Executions() ExecutionStore
	State() StateStore

	Close() error
}

// HandlerStore persists HTTP and TCP handlers.
//
// Save methods assign an ID when empty, stamp a fresh VersionID and
// UpdatedAt, and preserve CreatedAt of an existing record.
type HandlerStore interface {
	ListHTTP(ctx context.Context) ([]*handler.Handler, error)
	GetHTTP(ctx context.Context, id string) (*handler.Handler, error)
	// SaveHTTP returns handler.ErrDuplicateOrder when another handler
	// already uses h.Order.
	SaveHTTP(ctx context.Context, h *handler.Handler) error
	DeleteHTTP(ctx context.Context, id string) error

	ListTCP(ctx context.Context) ([]*handler.TCPHandler, error)
	GetTCP(ctx context.Context, id string) (*handler.TCPHandler, error)
	// ActiveTCP returns the enabled TCP handler updated most recently, or
	// ErrNotFound when none is enabled.
	ActiveTCP(ctx context.Context) (*handler.TCPHandler, error)
	SaveTCP(ctx context.Context, h *handler.TCPHandler) error
	DeleteTCP(ctx context.Context, id string) error
}

// RequestStore persists captured HTTP requests.
type RequestStore interface {
	Create(ctx context.Context, ev *requestlog.RequestEvent) error
	// Finalize moves a running event to a terminal status with its response
	// snapshot. It returns ErrAlreadyFinalized if the event is not running.
	Finalize(ctx context.Context, id string, status requestlog.RequestStatus, resp *requestlog.Response) error
	// Get returns the event with its executions in order.
	Get(ctx context.Context, id string) (*requestlog.RequestEvent, error)
	// List returns events newest first, without executions.
	List(ctx context.Context, filter *requestlog.Filter) ([]*requestlog.RequestEvent, error)
	// Delete removes the event and its executions.
	Delete(ctx context.Context, id string) error
}

// ConnectionStore persists captured TCP connections.
type ConnectionStore interface {
	Create(ctx context.Context, c *requestlog.TCPConnection) error
	// UpdateData replaces the accumulated received and sent bytes.
	UpdateData(ctx context.Context, id string, received, sent []byte) error
	// Close moves an active connection to closed or failed. It returns
	// ErrAlreadyFinalized if the connection is no longer active.
	Close(ctx context.Context, id string, status requestlog.ConnectionStatus, at time.Time) error
	Get(ctx context.Context, id string) (*requestlog.TCPConnection, error)
	List(ctx context.Context, filter *requestlog.Filter) ([]*requestlog.TCPConnection, error)
	Delete(ctx context.Context, id string) error
}

// ExecutionStore persists handler executions.
type ExecutionStore interface {
	Create(ctx context.Context, e *requestlog.HandlerExecution) error
	// Update applies a terminal patch to a running execution. It returns
	// ErrAlreadyFinalized if the execution is not running.
	Update(ctx context.Context, id string, u requestlog.ExecutionUpdate) error
	ListByRequest(ctx context.Context, requestID string) ([]*requestlog.HandlerExecution, error)
	ListByConnection(ctx context.Context, connectionID string) ([]*requestlog.HandlerExecution, error)
}

// StateStore persists the raw shared state document.
type StateStore interface {
	// Load returns ErrNotFound when no document has been saved yet.
	Load(ctx context.Context) (data []byte, updatedAt time.Time, err error)
	Save(ctx context.Context, data []byte, updatedAt time.Time) error
}

// PrepareHandler fills identity and timestamp fields before a save.
// existing is the currently stored record with the same ID, or nil.
func PrepareHandler(h *handler.Handler, existing *handler.Handler, now time.Time) {
	if h.ID == "" {
		h.ID = id.New()
	}
	h.VersionID = id.New()
	h.CreatedAt = now
	if existing != nil {
		h.CreatedAt = existing.CreatedAt
	}
	h.UpdatedAt = now
}

// PrepareTCPHandler is PrepareHandler for TCP handlers.
func PrepareTCPHandler(h *handler.TCPHandler, existing *handler.TCPHandler, now time.Time) {
	if h.ID == "" {
		h.ID = id.New()
	}
	h.VersionID = id.New()
	h.CreatedAt = now
	if existing != nil {
		h.CreatedAt = existing.CreatedAt
	}
	h.UpdatedAt = now
}
