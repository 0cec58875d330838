// Package ledger records handler executions: one row per handler run,
// created as running right before the script starts and finalized exactly
// once afterwards.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/getmockd/hookd/internal/id"
	"github.com/getmockd/hookd/pkg/logging"
	"github.com/getmockd/hookd/pkg/requestlog"
	"github.com/getmockd/hookd/pkg/store"
)

// ErrFinalized is returned when finishing an execution that already ended.
var ErrFinalized = errors.New("execution already finalized")

// Parent identifies the record an execution belongs to. Exactly one field
// is set.
type Parent struct {
	RequestID    string
	ConnectionID string
}

// HandlerRef identifies the handler version being run.
type HandlerRef struct {
	ID        string
	VersionID string
}

// Outcome is the result of a handler run as recorded in the ledger.
type Outcome struct {
	// Err is nil for a successful run.
	Err           error
	ConsoleOutput *string
	ResponseData  json.RawMessage
	LocalsData    json.RawMessage
}

// Ledger writes executions to an ExecutionStore.
type Ledger struct {
	execs store.ExecutionStore
	log   *slog.Logger
	now   func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the operational logger.
func WithLogger(log *slog.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a Ledger.
func New(execs store.ExecutionStore, opts ...Option) *Ledger {
	l := &Ledger{execs: execs, log: logging.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start persists a running execution for h at position order under parent.
func (l *Ledger) Start(ctx context.Context, parent Parent, h HandlerRef, order int) (*requestlog.HandlerExecution, error) {
	if (parent.RequestID == "") == (parent.ConnectionID == "") {
		return nil, errors.New("ledger: exactly one parent id must be set")
	}
	e := &requestlog.HandlerExecution{
		ID:               id.New(),
		RequestEventID:   parent.RequestID,
		TCPConnectionID:  parent.ConnectionID,
		HandlerID:        h.ID,
		HandlerVersionID: h.VersionID,
		Order:            order,
		Timestamp:        l.now().UTC(),
		Status:           requestlog.ExecRunning,
	}
	if err := l.execs.Create(ctx, e); err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}
	return e, nil
}

// Finish moves e to success or error according to out and updates e in
// place.
func (l *Ledger) Finish(ctx context.Context, e *requestlog.HandlerExecution, out Outcome) error {
	u := requestlog.ExecutionUpdate{
		Status:        requestlog.ExecSuccess,
		ConsoleOutput: out.ConsoleOutput,
		ResponseData:  out.ResponseData,
		LocalsData:    out.LocalsData,
		DurationMs:    l.now().Sub(e.Timestamp).Milliseconds(),
	}
	if out.Err != nil {
		msg := out.Err.Error()
		u.Status = requestlog.ExecError
		u.ErrorMessage = &msg
	}

	if err := l.execs.Update(ctx, e.ID, u); err != nil {
		if errors.Is(err, store.ErrAlreadyFinalized) {
			return ErrFinalized
		}
		return fmt.Errorf("update execution %s: %w", e.ID, err)
	}
	u.Apply(e)
	l.log.Debug("execution finished", "id", e.ID, "handler", e.HandlerID, "order", e.Order, "status", e.Status)
	return nil
}

// Sequence hands out zero-based execution orders for one parent.
type Sequence struct {
	n atomic.Int64
}

// Next returns the next order, starting at zero.
func (s *Sequence) Next() int {
	return int(s.n.Add(1) - 1)
}
