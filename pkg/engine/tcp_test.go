package engine

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/hookd/pkg/events"
	"github.com/getmockd/hookd/pkg/handler"
	"github.com/getmockd/hookd/pkg/requestlog"
	"github.com/getmockd/hookd/pkg/store"
)

func loopbackConfig() Config {
	cfg := DefaultConfig()
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.TCPAddr = "127.0.0.1:0"
	return cfg
}

func startTCP(t *testing.T, opts ...ServerOption) (*Server, store.Store) {
	t.Helper()
	s, st := newTestServer(t, loopbackConfig(), opts...)
	require.NoError(t, s.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s, st
}

func dial(t *testing.T, s *Server) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", s.TCPAddr(), 2*time.Second)
	require.NoError(t, err)
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	return conn
}

// exchange writes msg and reads exactly len(want) bytes back.
func exchange(t *testing.T, conn net.Conn, msg, want string) {
	t.Helper()
	_, err := conn.Write([]byte(msg))
	require.NoError(t, err)
	buf := make([]byte, len(want))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, want, string(buf))
}

// waitConnection waits for the only recorded connection to reach status.
func waitConnection(t *testing.T, st store.Store, status requestlog.ConnectionStatus) *requestlog.TCPConnection {
	t.Helper()
	var got *requestlog.TCPConnection
	require.Eventually(t, func() bool {
		list, err := st.Connections().List(context.Background(), nil)
		if err != nil || len(list) != 1 {
			return false
		}
		got, err = st.Connections().Get(context.Background(), list[0].ID)
		return err == nil && got.Status == status
	}, 3*time.Second, 10*time.Millisecond)
	return got
}

func addTCPHandler(t *testing.T, st store.Store, code string) *handler.TCPHandler {
	t.Helper()
	h := &handler.TCPHandler{Name: "tcp", Code: code, Enabled: true}
	require.NoError(t, st.Handlers().SaveTCP(context.Background(), h))
	return h
}

func TestTCP_AckWithoutHandler(t *testing.T) {
	s, st := startTCP(t)
	conn := dial(t, s)

	exchange(t, conn, "Hello", "ack\n")
	require.NoError(t, conn.Close())

	rec := waitConnection(t, st, requestlog.ConnClosed)
	assert.Equal(t, []byte("Hello"), rec.ReceivedData)
	assert.Equal(t, []byte("ack\n"), rec.SentData)
	assert.Equal(t, "127.0.0.1", rec.ClientIP)
	assert.NotZero(t, rec.ClientPort)
	assert.NotNil(t, rec.ClosedAt)
	assert.Empty(t, rec.Executions)
}

func TestTCP_SequentialSendsAccumulate(t *testing.T) {
	s, st := startTCP(t)
	conn := dial(t, s)

	for _, msg := range []string{"one", "two", "three"} {
		exchange(t, conn, msg, "ack\n")
	}
	require.NoError(t, conn.Close())

	rec := waitConnection(t, st, requestlog.ConnClosed)
	assert.Equal(t, []byte("onetwothree"), rec.ReceivedData)
	assert.Equal(t, []byte("ack\nack\nack\n"), rec.SentData)
}

func TestTCP_HandlerSendsAndMutatesSharedState(t *testing.T) {
	s, st := startTCP(t)
	h := addTCPHandler(t, st, `
		shared.count = (shared.count || 0) + 1;
		console.log("chunk", data);
		send("got " + data + " #" + shared.count + "\n");
	`)
	conn := dial(t, s)

	exchange(t, conn, "ping", "got ping #1\n")
	exchange(t, conn, "pong", "got pong #2\n")
	require.NoError(t, conn.Close())

	rec := waitConnection(t, st, requestlog.ConnClosed)
	assert.Equal(t, []byte("got ping #1\ngot pong #2\n"), rec.SentData)
	require.Len(t, rec.Executions, 2)
	for i, e := range rec.Executions {
		assert.Equal(t, i, e.Order)
		assert.Equal(t, rec.ID, e.TCPConnectionID)
		assert.Equal(t, h.ID, e.HandlerID)
		assert.Equal(t, requestlog.ExecSuccess, e.Status)
	}
	require.NotNil(t, rec.Executions[0].ConsoleOutput)
	assert.Equal(t, "[LOG] chunk ping", *rec.Executions[0].ConsoleOutput)

	raw, _, err := st.State().Load(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"count":2}`, string(raw))
}

func TestTCP_HandlerErrorRepliesError(t *testing.T) {
	s, st := startTCP(t)
	addTCPHandler(t, st, `shared.touched = true; throw new Error("bad input");`)
	conn := dial(t, s)

	exchange(t, conn, "x", "error\n")
	require.NoError(t, conn.Close())

	rec := waitConnection(t, st, requestlog.ConnClosed)
	require.Len(t, rec.Executions, 1)
	e := rec.Executions[0]
	assert.Equal(t, requestlog.ExecError, e.Status)
	require.NotNil(t, e.ErrorMessage)
	assert.Contains(t, *e.ErrorMessage, "bad input")

	// A failed run leaves shared state untouched.
	_, _, err := st.State().Load(context.Background())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTCP_Base64Helpers(t *testing.T) {
	s, st := startTCP(t)
	addTCPHandler(t, st, `send(btoa(data) + "|" + atob("aGk=") + "\n");`)
	conn := dial(t, s)

	exchange(t, conn, "hi", "aGk=|hi\n")
}

func TestTCP_AbortClosesConnection(t *testing.T) {
	s, st := startTCP(t)
	addTCPHandler(t, st, `throw new AbortConnection("bye");`)
	conn := dial(t, s)

	_, err := conn.Write([]byte("x"))
	require.NoError(t, err)
	n, err := conn.Read(make([]byte, 8))
	assert.Zero(t, n)
	assert.Error(t, err)

	rec := waitConnection(t, st, requestlog.ConnClosed)
	require.Len(t, rec.Executions, 1)
	assert.Equal(t, requestlog.ExecError, rec.Executions[0].Status)
}

func TestTCP_StopClosesLiveConnections(t *testing.T) {
	s, st := newTestServer(t, loopbackConfig())
	require.NoError(t, s.Start())
	conn := dial(t, s)
	exchange(t, conn, "hi", "ack\n")
	require.Equal(t, 1, s.ActiveConnections())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	rec := waitConnection(t, st, requestlog.ConnClosed)
	assert.NotNil(t, rec.ClosedAt)
	assert.Zero(t, s.ActiveConnections())
	assert.False(t, s.IsRunning())
}

func TestTCP_ConnectionRegisteredDuringStopIsClosed(t *testing.T) {
	s, st := newTestServer(t, loopbackConfig())
	require.NoError(t, s.Start())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	client, server := net.Pipe()
	defer client.Close()
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.ServeConn(context.Background(), server)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("ServeConn kept a connection open after Stop")
	}
	rec := waitConnection(t, st, requestlog.ConnClosed)
	assert.NotNil(t, rec.ClosedAt)
	assert.Zero(t, s.ActiveConnections())
}

func TestTCP_PublishesLifecycleEvents(t *testing.T) {
	bus := events.NewBus()
	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	s, _ := startTCP(t, WithPublisher(bus))
	conn := dial(t, s)
	exchange(t, conn, "Hello", "ack\n")
	require.NoError(t, conn.Close())

	var types []string
	var last events.Event
	timeout := time.After(3 * time.Second)
	for len(types) < 3 {
		select {
		case ev := <-ch:
			types = append(types, ev.Type)
			last = ev
		case <-timeout:
			t.Fatalf("got only %v", types)
		}
	}
	assert.Equal(t, []string{events.ConnectionCreated, events.ConnectionUpdated, events.ConnectionClosed}, types)
	assert.Equal(t, "closed", last.Payload["status"])
	assert.Equal(t, 5, last.Payload["receivedBytes"])
	assert.Equal(t, 4, last.Payload["sentBytes"])
}

func TestTCP_MaxConnections(t *testing.T) {
	cfg := loopbackConfig()
	cfg.MaxConnections = 1
	s, _ := newTestServer(t, cfg)
	require.NoError(t, s.Start())
	defer func() { _ = s.Stop(context.Background()) }()

	first := dial(t, s)
	exchange(t, first, "a", "ack\n")

	// The second connection completes the TCP handshake in the kernel
	// backlog but is not served until the first one goes away.
	second := dial(t, s)
	require.NoError(t, second.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, err := second.Write([]byte("b"))
	require.NoError(t, err)
	_, err = second.Read(make([]byte, 4))
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())

	require.NoError(t, first.Close())
	require.NoError(t, second.SetReadDeadline(time.Now().Add(3*time.Second)))
	buf := make([]byte, 4)
	_, err = io.ReadFull(second, buf)
	require.NoError(t, err)
	assert.Equal(t, "ack\n", string(buf))
	_ = second.Close()
}

func TestSplitAddr(t *testing.T) {
	ip, port := splitAddr(&net.TCPAddr{IP: net.ParseIP("10.0.0.1"), Port: 4242})
	assert.Equal(t, "10.0.0.1", ip)
	assert.Equal(t, 4242, port)

	ip, port = splitAddr(nil)
	assert.Empty(t, ip)
	assert.Zero(t, port)
}
