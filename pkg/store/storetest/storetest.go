// Package storetest holds a conformance suite every store.Store
// implementation must pass.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/hookd/internal/id"
	"github.com/getmockd/hookd/pkg/handler"
	"github.com/getmockd/hookd/pkg/requestlog"
	"github.com/getmockd/hookd/pkg/store"
)

// Run exercises newStore against the store.Store contract. newStore must
// return an empty store; Run closes it.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"HandlerLifecycle", testHandlerLifecycle},
		{"DuplicateOrder", testDuplicateOrder},
		{"ActiveTCP", testActiveTCP},
		{"RequestFinalizeOnce", testRequestFinalizeOnce},
		{"RequestExecutions", testRequestExecutions},
		{"RequestList", testRequestList},
		{"ConnectionLifecycle", testConnectionLifecycle},
		{"SharedState", testSharedState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()
			tt.fn(t, s)
		})
	}
}

func testHandlerLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	hs := s.Handlers()

	h := &handler.Handler{Name: "a", Method: "GET", Path: "/foo", Code: "resp.body = 'a'", Order: 1}
	require.NoError(t, hs.SaveHTTP(ctx, h))
	require.NotEmpty(t, h.ID)
	firstVersion := h.VersionID

	got, err := hs.GetHTTP(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, "/foo", got.Path)
	assert.Equal(t, firstVersion, got.VersionID)

	got.Code = "resp.body = 'b'"
	require.NoError(t, hs.SaveHTTP(ctx, got))
	assert.Equal(t, h.ID, got.ID)
	assert.NotEqual(t, firstVersion, got.VersionID)

	list, err := hs.ListHTTP(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "resp.body = 'b'", list[0].Code)

	require.NoError(t, hs.DeleteHTTP(ctx, h.ID))
	_, err = hs.GetHTTP(ctx, h.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, hs.DeleteHTTP(ctx, h.ID), store.ErrNotFound)
}

func testDuplicateOrder(t *testing.T, s store.Store) {
	ctx := context.Background()
	hs := s.Handlers()

	a := &handler.Handler{Method: "GET", Path: "/a", Code: "x", Order: 0}
	require.NoError(t, hs.SaveHTTP(ctx, a))

	b := &handler.Handler{Method: "GET", Path: "/b", Code: "x", Order: 0}
	assert.ErrorIs(t, hs.SaveHTTP(ctx, b), handler.ErrDuplicateOrder)

	// Re-saving a handler with its own order is not a conflict.
	require.NoError(t, hs.SaveHTTP(ctx, a))
}

func testActiveTCP(t *testing.T, s store.Store) {
	ctx := context.Background()
	hs := s.Handlers()

	_, err := hs.ActiveTCP(ctx)
	assert.ErrorIs(t, err, store.ErrNotFound)

	disabled := &handler.TCPHandler{Name: "off", Code: "x"}
	require.NoError(t, hs.SaveTCP(ctx, disabled))
	_, err = hs.ActiveTCP(ctx)
	assert.ErrorIs(t, err, store.ErrNotFound)

	first := &handler.TCPHandler{Name: "first", Code: "x", Enabled: true}
	require.NoError(t, hs.SaveTCP(ctx, first))
	time.Sleep(5 * time.Millisecond)
	second := &handler.TCPHandler{Name: "second", Code: "x", Enabled: true}
	require.NoError(t, hs.SaveTCP(ctx, second))

	active, err := hs.ActiveTCP(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, hs.SaveTCP(ctx, first))
	active, err = hs.ActiveTCP(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, active.ID, "most recently updated handler wins")

	list, err := hs.ListTCP(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func newRequest() *requestlog.RequestEvent {
	return &requestlog.RequestEvent{
		ID:         id.New(),
		Status:     requestlog.StatusRunning,
		Method:     "POST",
		URL:        "/hooks/a?x=1",
		Path:       "/hooks/a",
		Headers:    []requestlog.Header{{Name: "Content-Type", Value: "application/json"}},
		Query:      []requestlog.Header{{Name: "x", Value: "1"}},
		Body:       []byte(`{"a":1}`),
		RemoteAddr: "127.0.0.1:5000",
		ReceivedAt: time.Now().UTC(),
	}
}

func testRequestFinalizeOnce(t *testing.T, s store.Store) {
	ctx := context.Background()
	rs := s.Requests()

	ev := newRequest()
	require.NoError(t, rs.Create(ctx, ev))

	resp := &requestlog.Response{Status: 202, StatusMessage: "Accepted", Body: []byte("ok"), Timestamp: time.Now().UTC()}
	require.NoError(t, rs.Finalize(ctx, ev.ID, requestlog.StatusComplete, resp))
	assert.ErrorIs(t, rs.Finalize(ctx, ev.ID, requestlog.StatusError, resp), store.ErrAlreadyFinalized)

	got, err := rs.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, requestlog.StatusComplete, got.Status)
	require.NotNil(t, got.Response)
	assert.Equal(t, 202, got.Response.Status)
	assert.Equal(t, []byte("ok"), got.Response.Body)
	assert.Equal(t, ev.Headers, got.Headers)
	assert.Equal(t, ev.Body, got.Body)

	assert.ErrorIs(t, rs.Finalize(ctx, "missing", requestlog.StatusComplete, resp), store.ErrNotFound)
}

func testRequestExecutions(t *testing.T, s store.Store) {
	ctx := context.Background()
	ev := newRequest()
	require.NoError(t, s.Requests().Create(ctx, ev))

	es := s.Executions()
	for i := range 2 {
		e := &requestlog.HandlerExecution{
			ID:             id.New(),
			RequestEventID: ev.ID,
			HandlerID:      "h",
			Order:          i,
			Timestamp:      time.Now().UTC(),
			Status:         requestlog.ExecRunning,
		}
		require.NoError(t, es.Create(ctx, e))
		out := "[LOG] hi"
		require.NoError(t, es.Update(ctx, e.ID, requestlog.ExecutionUpdate{
			Status:        requestlog.ExecSuccess,
			ConsoleOutput: &out,
			ResponseData:  []byte(`{"status":200}`),
		}))
		assert.ErrorIs(t, es.Update(ctx, e.ID, requestlog.ExecutionUpdate{Status: requestlog.ExecError}), store.ErrAlreadyFinalized)
	}

	got, err := s.Requests().Get(ctx, ev.ID)
	require.NoError(t, err)
	require.Len(t, got.Executions, 2)
	assert.Equal(t, 0, got.Executions[0].Order)
	assert.Equal(t, 1, got.Executions[1].Order)
	assert.Equal(t, requestlog.ExecSuccess, got.Executions[0].Status)
	require.NotNil(t, got.Executions[0].ConsoleOutput)
	assert.Equal(t, "[LOG] hi", *got.Executions[0].ConsoleOutput)
	assert.JSONEq(t, `{"status":200}`, string(got.Executions[1].ResponseData))

	require.NoError(t, s.Requests().Delete(ctx, ev.ID))
	left, err := es.ListByRequest(ctx, ev.ID)
	require.NoError(t, err)
	assert.Empty(t, left, "executions are removed with their request")
}

func testRequestList(t *testing.T, s store.Store) {
	ctx := context.Background()
	rs := s.Requests()

	older := newRequest()
	older.ReceivedAt = time.Now().Add(-time.Minute).UTC()
	older.Method = "GET"
	newer := newRequest()
	require.NoError(t, rs.Create(ctx, older))
	require.NoError(t, rs.Create(ctx, newer))

	list, err := rs.List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID, "newest first")

	list, err = rs.List(ctx, &requestlog.Filter{Method: "GET"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, older.ID, list[0].ID)

	list, err = rs.List(ctx, &requestlog.Filter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, older.ID, list[0].ID)
}

func testConnectionLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	cs := s.Connections()

	c := &requestlog.TCPConnection{
		ID:         id.New(),
		Status:     requestlog.ConnActive,
		ClientIP:   "127.0.0.1",
		ClientPort: 40000,
		ServerIP:   "127.0.0.1",
		ServerPort: 9000,
		OpenedAt:   time.Now().UTC(),
	}
	require.NoError(t, cs.Create(ctx, c))
	require.NoError(t, cs.UpdateData(ctx, c.ID, []byte("Hello"), []byte("ack\n")))

	e := &requestlog.HandlerExecution{
		ID: id.New(), TCPConnectionID: c.ID, HandlerID: "t", Status: requestlog.ExecRunning, Timestamp: time.Now().UTC(),
	}
	require.NoError(t, s.Executions().Create(ctx, e))

	closedAt := time.Now().UTC()
	require.NoError(t, cs.Close(ctx, c.ID, requestlog.ConnClosed, closedAt))
	assert.ErrorIs(t, cs.Close(ctx, c.ID, requestlog.ConnFailed, closedAt), store.ErrAlreadyFinalized)

	got, err := cs.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, requestlog.ConnClosed, got.Status)
	assert.Equal(t, []byte("Hello"), got.ReceivedData)
	assert.Equal(t, []byte("ack\n"), got.SentData)
	require.NotNil(t, got.ClosedAt)
	require.Len(t, got.Executions, 1)

	list, err := cs.List(ctx, &requestlog.Filter{Status: string(requestlog.ConnActive)})
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, cs.Delete(ctx, c.ID))
	_, err = cs.Get(ctx, c.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testSharedState(t *testing.T, s store.Store) {
	ctx := context.Background()
	ss := s.State()

	_, _, err := ss.Load(ctx)
	assert.ErrorIs(t, err, store.ErrNotFound)

	at := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, ss.Save(ctx, []byte(`{"a":1}`), at))
	data, updatedAt, err := ss.Load(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(data))
	assert.True(t, at.Equal(updatedAt), "updatedAt %v != %v", updatedAt, at)

	require.NoError(t, ss.Save(ctx, []byte(`{}`), at.Add(time.Second)))
	data, _, err = ss.Load(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(data))
}
