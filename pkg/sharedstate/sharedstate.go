// Package sharedstate manages the single process-wide JSON document that
// TCP handler scripts see as `shared`.
//
// Each execution reads the document before the script runs and writes it
// back wholesale afterwards. Without serialization, two concurrent
// executions that both change the document race and the last write wins.
// WithSerialize wraps every read-modify-write cycle in one global lock,
// which makes updates serializable at the cost of running those scripts
// one at a time.
package sharedstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/getmockd/hookd/pkg/logging"
	"github.com/getmockd/hookd/pkg/store"
)

// State is a snapshot of the shared document.
type State struct {
	Data      map[string]any `json:"data"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Store reads and replaces the shared document.
type Store struct {
	backend   store.StateStore
	serialize bool
	mu        sync.Mutex
	log       *slog.Logger
	now       func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithSerialize makes Transact hold a global lock for the whole cycle, and
// Set wait for it.
func WithSerialize(on bool) Option {
	return func(s *Store) { s.serialize = on }
}

// WithLogger sets the operational logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// New creates a Store over backend.
func New(backend store.StateStore, opts ...Option) *Store {
	s := &Store{backend: backend, log: logging.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the current document. A missing or unparseable document reads
// as an empty object.
func (s *Store) Get(ctx context.Context) (State, error) {
	raw, updatedAt, err := s.backend.Load(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return State{Data: map[string]any{}}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("load shared state: %w", err)
	}

	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil || data == nil {
		s.log.Warn("shared state is not a JSON object, using empty document", "error", err)
		data = map[string]any{}
	}
	return State{Data: data, UpdatedAt: updatedAt}, nil
}

// Set replaces the document with data and stamps a fresh UpdatedAt. With
// serialization on it waits for any running Transact.
func (s *Store) Set(ctx context.Context, data map[string]any) (State, error) {
	if s.serialize {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	return s.save(ctx, data)
}

func (s *Store) save(ctx context.Context, data map[string]any) (State, error) {
	if data == nil {
		data = map[string]any{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return State{}, fmt.Errorf("encode shared state: %w", err)
	}
	st := State{Data: data, UpdatedAt: s.now().UTC()}
	if err := s.backend.Save(ctx, raw, st.UpdatedAt); err != nil {
		return State{}, fmt.Errorf("save shared state: %w", err)
	}
	return st, nil
}

// Transact reads the document, passes it to fn, and saves what fn returns.
// When fn fails nothing is saved.
func (s *Store) Transact(ctx context.Context, fn func(data map[string]any) (map[string]any, error)) error {
	if s.serialize {
		s.mu.Lock()
		defer s.mu.Unlock()
	}

	st, err := s.Get(ctx)
	if err != nil {
		return err
	}
	next, err := fn(st.Data)
	if err != nil {
		return err
	}
	_, err = s.save(ctx, next)
	return err
}
