package storage

import (
	"bytes"
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/getmockd/hookd/pkg/handler"
	"github.com/getmockd/hookd/pkg/requestlog"
	"github.com/getmockd/hookd/pkg/store"
)

// MemoryStore is a thread-safe in-memory implementation of store.Store.
type MemoryStore struct {
	mu          sync.RWMutex
	handlers    map[string]*handler.Handler
	tcpHandlers map[string]*handler.TCPHandler
	requests    map[string]*requestlog.RequestEvent
	conns       map[string]*requestlog.TCPConnection
	executions  map[string]*requestlog.HandlerExecution
	state       []byte
	stateAt     time.Time
	now         func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		handlers:    make(map[string]*handler.Handler),
		tcpHandlers: make(map[string]*handler.TCPHandler),
		requests:    make(map[string]*requestlog.RequestEvent),
		conns:       make(map[string]*requestlog.TCPConnection),
		executions:  make(map[string]*requestlog.HandlerExecution),
		now:         time.Now,
	}
}

func (s *MemoryStore) Handlers() store.HandlerStore       { return (*memHandlers)(s) }
func (s *MemoryStore) Requests() store.RequestStore       { return (*memRequests)(s) }
func (s *MemoryStore) Connections() store.ConnectionStore { return (*memConns)(s) }
func (s *MemoryStore) Executions() store.ExecutionStore   { return (*memExecutions)(s) }
func (s *MemoryStore) State() store.StateStore            { return (*memState)(s) }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// Ensure MemoryStore implements store.Store.
var _ store.Store = (*MemoryStore)(nil)

// --- handlers ---

type memHandlers MemoryStore

func (s *memHandlers) ListHTTP(_ context.Context) ([]*handler.Handler, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*handler.Handler, 0, len(s.handlers))
	for _, h := range s.handlers {
		c := *h
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (s *memHandlers) GetHTTP(_ context.Context, id string) (*handler.Handler, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handlers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *h
	return &c, nil
}

func (s *memHandlers) SaveHTTP(_ context.Context, h *handler.Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, other := range s.handlers {
		if other.ID != h.ID && other.Order == h.Order {
			return handler.ErrDuplicateOrder
		}
	}
	store.PrepareHandler(h, s.handlers[h.ID], s.now())
	c := *h
	s.handlers[h.ID] = &c
	return nil
}

func (s *memHandlers) DeleteHTTP(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handlers[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.handlers, id)
	return nil
}

func (s *memHandlers) ListTCP(_ context.Context) ([]*handler.TCPHandler, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*handler.TCPHandler, 0, len(s.tcpHandlers))
	for _, h := range s.tcpHandlers {
		c := *h
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memHandlers) GetTCP(_ context.Context, id string) (*handler.TCPHandler, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.tcpHandlers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *h
	return &c, nil
}

func (s *memHandlers) ActiveTCP(_ context.Context) (*handler.TCPHandler, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *handler.TCPHandler
	for _, h := range s.tcpHandlers {
		if !h.Enabled {
			continue
		}
		if best == nil || h.UpdatedAt.After(best.UpdatedAt) ||
			(h.UpdatedAt.Equal(best.UpdatedAt) && h.ID > best.ID) {
			best = h
		}
	}
	if best == nil {
		return nil, store.ErrNotFound
	}
	c := *best
	return &c, nil
}

func (s *memHandlers) SaveTCP(_ context.Context, h *handler.TCPHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	store.PrepareTCPHandler(h, s.tcpHandlers[h.ID], s.now())
	c := *h
	s.tcpHandlers[h.ID] = &c
	return nil
}

func (s *memHandlers) DeleteTCP(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tcpHandlers[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.tcpHandlers, id)
	return nil
}

// --- requests ---

type memRequests MemoryStore

func (s *memRequests) Create(_ context.Context, ev *requestlog.RequestEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[ev.ID] = cloneRequest(ev)
	return nil
}

func (s *memRequests) Finalize(_ context.Context, id string, status requestlog.RequestStatus, resp *requestlog.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.requests[id]
	if !ok {
		return store.ErrNotFound
	}
	if ev.Status != requestlog.StatusRunning {
		return store.ErrAlreadyFinalized
	}
	ev.Status = status
	ev.Response = cloneResponse(resp)
	return nil
}

func (s *memRequests) Get(_ context.Context, id string) (*requestlog.RequestEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.requests[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneRequest(ev)
	out.Executions = (*MemoryStore)(s).executionsFor(func(e *requestlog.HandlerExecution) bool {
		return e.RequestEventID == id
	})
	return out, nil
}

func (s *memRequests) List(_ context.Context, f *requestlog.Filter) ([]*requestlog.RequestEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*requestlog.RequestEvent, 0, len(s.requests))
	for _, ev := range s.requests {
		if f != nil {
			if f.Status != "" && string(ev.Status) != f.Status {
				continue
			}
			if f.Method != "" && !strings.EqualFold(ev.Method, f.Method) {
				continue
			}
			if f.PathPrefix != "" && !strings.HasPrefix(ev.Path, f.PathPrefix) {
				continue
			}
		}
		out = append(out, cloneRequest(ev))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ReceivedAt.After(out[j].ReceivedAt)
		}
		return out[i].ID > out[j].ID
	})
	start, end := f.Page(len(out))
	return out[start:end], nil
}

func (s *memRequests) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.requests, id)
	for eid, e := range s.executions {
		if e.RequestEventID == id {
			delete(s.executions, eid)
		}
	}
	return nil
}

// --- connections ---

type memConns MemoryStore

func (s *memConns) Create(_ context.Context, c *requestlog.TCPConnection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c.ID] = cloneConn(c)
	return nil
}

func (s *memConns) UpdateData(_ context.Context, id string, received, sent []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[id]
	if !ok {
		return store.ErrNotFound
	}
	c.ReceivedData = bytes.Clone(received)
	c.SentData = bytes.Clone(sent)
	return nil
}

func (s *memConns) Close(_ context.Context, id string, status requestlog.ConnectionStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[id]
	if !ok {
		return store.ErrNotFound
	}
	if c.Status != requestlog.ConnActive {
		return store.ErrAlreadyFinalized
	}
	c.Status = status
	c.ClosedAt = &at
	return nil
}

func (s *memConns) Get(_ context.Context, id string) (*requestlog.TCPConnection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conns[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneConn(c)
	out.Executions = (*MemoryStore)(s).executionsFor(func(e *requestlog.HandlerExecution) bool {
		return e.TCPConnectionID == id
	})
	return out, nil
}

func (s *memConns) List(_ context.Context, f *requestlog.Filter) ([]*requestlog.TCPConnection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*requestlog.TCPConnection, 0, len(s.conns))
	for _, c := range s.conns {
		if f != nil && f.Status != "" && string(c.Status) != f.Status {
			continue
		}
		out = append(out, cloneConn(c))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OpenedAt.After(out[j].OpenedAt)
		}
		return out[i].ID > out[j].ID
	})
	start, end := f.Page(len(out))
	return out[start:end], nil
}

func (s *memConns) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.conns, id)
	for eid, e := range s.executions {
		if e.TCPConnectionID == id {
			delete(s.executions, eid)
		}
	}
	return nil
}

// --- executions ---

type memExecutions MemoryStore

func (s *memExecutions) Create(_ context.Context, e *requestlog.HandlerExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *e
	s.executions[e.ID] = &c
	return nil
}

func (s *memExecutions) Update(_ context.Context, id string, u requestlog.ExecutionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.executions[id]
	if !ok {
		return store.ErrNotFound
	}
	if e.Status != requestlog.ExecRunning {
		return store.ErrAlreadyFinalized
	}
	u.Apply(e)
	return nil
}

func (s *memExecutions) ListByRequest(_ context.Context, requestID string) ([]*requestlog.HandlerExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (*MemoryStore)(s).executionsFor(func(e *requestlog.HandlerExecution) bool {
		return e.RequestEventID == requestID
	}), nil
}

func (s *memExecutions) ListByConnection(_ context.Context, connectionID string) ([]*requestlog.HandlerExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (*MemoryStore)(s).executionsFor(func(e *requestlog.HandlerExecution) bool {
		return e.TCPConnectionID == connectionID
	}), nil
}

// executionsFor returns copies of matching executions ordered by Order.
// Callers must hold s.mu.
func (s *MemoryStore) executionsFor(match func(*requestlog.HandlerExecution) bool) []*requestlog.HandlerExecution {
	var out []*requestlog.HandlerExecution
	for _, e := range s.executions {
		if match(e) {
			c := *e
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// --- shared state ---

type memState MemoryStore

func (s *memState) Load(_ context.Context) ([]byte, time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == nil {
		return nil, time.Time{}, store.ErrNotFound
	}
	return bytes.Clone(s.state), s.stateAt, nil
}

func (s *memState) Save(_ context.Context, data []byte, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = bytes.Clone(data)
	s.stateAt = updatedAt
	return nil
}

// --- copies ---

func cloneRequest(ev *requestlog.RequestEvent) *requestlog.RequestEvent {
	c := *ev
	c.Headers = slices.Clone(ev.Headers)
	c.Query = slices.Clone(ev.Query)
	c.Body = bytes.Clone(ev.Body)
	c.Response = cloneResponse(ev.Response)
	c.Executions = nil
	return &c
}

func cloneResponse(r *requestlog.Response) *requestlog.Response {
	if r == nil {
		return nil
	}
	c := *r
	c.Headers = slices.Clone(r.Headers)
	c.Body = bytes.Clone(r.Body)
	return &c
}

func cloneConn(conn *requestlog.TCPConnection) *requestlog.TCPConnection {
	c := *conn
	c.ReceivedData = bytes.Clone(conn.ReceivedData)
	c.SentData = bytes.Clone(conn.SentData)
	c.Executions = nil
	return &c
}
