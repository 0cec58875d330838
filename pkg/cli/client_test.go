package cli

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/hookd/internal/storage"
	"github.com/getmockd/hookd/pkg/admin"
	"github.com/getmockd/hookd/pkg/events"
	"github.com/getmockd/hookd/pkg/handler"
	"github.com/getmockd/hookd/pkg/requestlog"
	"github.com/getmockd/hookd/pkg/store"
)

func newTestServer(t *testing.T, opts ...admin.Option) (*httptest.Server, store.Store) {
	t.Helper()
	st := storage.NewMemoryStore()
	api := admin.NewAdminAPI("127.0.0.1:0", st, opts...)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return srv, st
}

func TestAdminClient_Handlers(t *testing.T) {
	srv, _ := newTestServer(t)
	c := NewAdminClient(srv.URL + "/")
	ctx := context.Background()

	require.NoError(t, c.Health(ctx))
	assert.Equal(t, srv.URL, c.BaseURL())

	h, err := c.SaveHandler(ctx, &handler.Handler{ID: "gh", Method: "post", Path: "/github", Code: "resp.status = 202", Order: 1})
	require.NoError(t, err)
	assert.Equal(t, "POST", h.Method)
	first := h.VersionID

	h, err = c.SaveHandler(ctx, &handler.Handler{ID: "gh", Method: "post", Path: "/github", Code: "resp.status = 204", Order: 1})
	require.NoError(t, err)
	assert.NotEqual(t, first, h.VersionID)

	list, err := c.ListHandlers(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "resp.status = 204", list[0].Code)

	got, err := c.GetHandler(ctx, "gh")
	require.NoError(t, err)
	assert.Equal(t, "/github", got.Path)

	require.NoError(t, c.DeleteHandler(ctx, "gh"))
	_, err = c.GetHandler(ctx, "gh")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestAdminClient_TCPHandlers(t *testing.T) {
	srv, _ := newTestServer(t)
	c := NewAdminClient(srv.URL)
	ctx := context.Background()

	_, err := c.ActiveTCPHandler(ctx)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)

	h, err := c.SaveTCPHandler(ctx, &handler.TCPHandler{ID: "echo", Name: "echo", Code: "socket.write(data)", Enabled: true})
	require.NoError(t, err)
	assert.Equal(t, "echo", h.ID)

	active, err := c.ActiveTCPHandler(ctx)
	require.NoError(t, err)
	assert.Equal(t, "echo", active.ID)

	got, err := c.GetTCPHandler(ctx, "echo")
	require.NoError(t, err)
	assert.Equal(t, "socket.write(data)", got.Code)

	list, err := c.ListTCPHandlers(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, c.DeleteTCPHandler(ctx, "echo"))
}

func TestAdminClient_APIErrors(t *testing.T) {
	srv, _ := newTestServer(t)
	c := NewAdminClient(srv.URL)
	ctx := context.Background()

	_, err := c.SaveHandler(ctx, &handler.Handler{ID: "a", Method: "GET", Path: "/a", Code: "x", Order: 1})
	require.NoError(t, err)

	tests := []struct {
		name   string
		h      *handler.Handler
		status int
		code   string
	}{
		{"duplicate order", &handler.Handler{ID: "b", Method: "GET", Path: "/b", Code: "x", Order: 1}, http.StatusConflict, "duplicate_order"},
		{"missing path", &handler.Handler{ID: "c", Method: "GET", Code: "x", Order: 2}, http.StatusBadRequest, "validation_failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.SaveHandler(ctx, tt.h)
			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.code, apiErr.ErrorCode)
			assert.NotEmpty(t, apiErr.Message)
			assert.Contains(t, apiErr.Error(), tt.code)
		})
	}
}

func TestAdminClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewAdminClient(url, WithTimeout(time.Second)).Health(context.Background())
	require.Error(t, err)
	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
}

func TestAdminClient_Auth(t *testing.T) {
	srv, _ := newTestServer(t, admin.WithAuth(admin.AuthConfig{APIKey: "s3cret", JWTSecret: "0123456789abcdef0123"}))
	ctx := context.Background()

	_, err := NewAdminClient(srv.URL).ListHandlers(ctx)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "unauthorized", apiErr.ErrorCode)

	_, err = NewAdminClient(srv.URL, WithAPIKey("s3cret")).ListHandlers(ctx)
	require.NoError(t, err)

	tok, err := admin.NewToken([]byte("0123456789abcdef0123"), "test", time.Minute)
	require.NoError(t, err)
	_, err = NewAdminClient(srv.URL, WithAPIKey(tok)).ListHandlers(ctx)
	require.NoError(t, err)

	// health stays open
	require.NoError(t, NewAdminClient(srv.URL).Health(ctx))
}

func TestAdminClient_Captures(t *testing.T) {
	srv, st := newTestServer(t)
	c := NewAdminClient(srv.URL)
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	for i, m := range []string{"GET", "POST", "POST"} {
		require.NoError(t, st.Requests().Create(ctx, &requestlog.RequestEvent{
			ID:         []string{"r1", "r2", "r3"}[i],
			Status:     requestlog.StatusComplete,
			Method:     m,
			Path:       "/hooks",
			ReceivedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	all, err := c.ListRequests(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "r3", all[0].ID)

	posts, err := c.ListRequests(ctx, &ListFilter{Method: "post", Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "r2", posts[0].ID)

	ev, err := c.GetRequest(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "GET", ev.Method)

	require.NoError(t, c.DeleteRequest(ctx, "r1"))
	_, err = c.GetRequest(ctx, "r1")
	require.Error(t, err)

	require.NoError(t, st.Connections().Create(ctx, &requestlog.TCPConnection{
		ID: "c1", Status: requestlog.ConnActive, ClientIP: "10.0.0.1", ClientPort: 4000, OpenedAt: base,
	}))
	conns, err := c.ListConnections(ctx, &ListFilter{Status: "active"})
	require.NoError(t, err)
	require.Len(t, conns, 1)

	conn, err := c.GetConnection(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 4000, conn.ClientPort)
	require.NoError(t, c.DeleteConnection(ctx, "c1"))
}

func TestAdminClient_State(t *testing.T) {
	srv, _ := newTestServer(t)
	c := NewAdminClient(srv.URL)
	ctx := context.Background()

	st, err := c.GetState(ctx)
	require.NoError(t, err)
	assert.Empty(t, st.Data)

	st, err = c.SetState(ctx, map[string]any{"users": []any{map[string]any{"name": "ada"}, map[string]any{"name": "bob"}}})
	require.NoError(t, err)
	assert.Contains(t, st.Data, "users")

	res, err := c.QueryState(ctx, "$.users[*].name")
	require.NoError(t, err)
	assert.Equal(t, []any{"ada", "bob"}, res.Results)

	_, err = c.QueryState(ctx, "$[")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func TestListFilterQuery(t *testing.T) {
	tests := []struct {
		name string
		f    *ListFilter
		want string
	}{
		{"nil", nil, ""},
		{"empty", &ListFilter{}, ""},
		{"method upper-cased", &ListFilter{Method: "post"}, "?method=POST"},
		{"all", &ListFilter{Status: "error", PathPrefix: "/a b", Limit: 5, Offset: 10}, "?limit=5&offset=10&path_prefix=%2Fa+b&status=error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.f.query())
		})
	}
}

func TestEventsURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8081/api/events", NewAdminClient("http://localhost:8081").EventsURL(""))
	assert.Equal(t, "wss://hookd.example/api/events?filter=type+%3D%3D+%22x%22",
		NewAdminClient("https://hookd.example/").EventsURL(`type == "x"`))
}

func TestEventsFilterExpr(t *testing.T) {
	assert.Equal(t, "", eventsFilterExpr("  ", nil))
	assert.Equal(t, `type in ["request:created", "tcp_connection:closed"]`,
		eventsFilterExpr("", []string{"request:created", "tcp_connection:closed"}))
	assert.Equal(t, `type in ["request:created"] && (status == "failed")`,
		eventsFilterExpr(`status == "failed"`, []string{"request:created"}))

	_, err := events.CompileFilter(eventsFilterExpr(`id startsWith "r"`, []string{"a", "b"}))
	require.NoError(t, err)
}

func TestStreamEvents(t *testing.T) {
	bus := events.NewBus()
	srv, _ := newTestServer(t, admin.WithEvents(bus), admin.WithAuth(admin.AuthConfig{APIKey: "k"}))
	c := NewAdminClient(srv.URL, WithAPIKey("k"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() {
		for bus.Subscribers() == 0 {
			if ctx.Err() != nil {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
		bus.Publish(events.RequestCreated, map[string]any{"id": "r1", "status": "running"})
		bus.Publish(events.ConnectionClosed, map[string]any{"id": "c1", "status": "closed"})
	}()

	var got []events.Event
	err := streamEvents(ctx, c, eventsFilterExpr("", []string{events.ConnectionClosed}), func(ev events.Event) error {
		got = append(got, ev)
		return errStopStream
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, events.ConnectionClosed, got[0].Type)
	assert.Equal(t, "c1", got[0].Payload["id"])
	assert.Contains(t, formatEvent(got[0]), "id=c1")
}

func TestStreamEvents_Rejected(t *testing.T) {
	srv, _ := newTestServer(t, admin.WithEvents(events.NewBus()))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := streamEvents(ctx, NewAdminClient(srv.URL), "type ==", func(events.Event) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestStreamEvents_ContextCancel(t *testing.T) {
	bus := events.NewBus()
	srv, _ := newTestServer(t, admin.WithEvents(bus))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- streamEvents(ctx, NewAdminClient(srv.URL), "", func(events.Event) error { return nil })
	}()

	require.Eventually(t, func() bool { return bus.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("stream did not stop after cancel")
	}
}
