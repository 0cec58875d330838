package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/getmockd/hookd/internal/id"
	"github.com/getmockd/hookd/pkg/events"
	"github.com/getmockd/hookd/pkg/handler"
	"github.com/getmockd/hookd/pkg/ledger"
	"github.com/getmockd/hookd/pkg/requestlog"
	"github.com/getmockd/hookd/pkg/script"
)

// Literal replies written when no handler script answers a chunk.
const (
	ackReply   = "ack\n"
	errorReply = "error\n"
)

// tcpSession is the in-memory state of one live connection. It lives in
// Server.sessions from open until close and is dropped there, so nothing
// outlives the socket.
type tcpSession struct {
	conn net.Conn
	rec  *requestlog.TCPConnection
	seq  ledger.Sequence

	mu       sync.Mutex
	received []byte
	sent     []byte

	// closing is set when the server or a handler closed the socket, so the
	// read error that follows is not a transport failure.
	closing atomic.Bool
}

// write sends b to the client and appends it to the sent buffer.
func (t *tcpSession) write(b []byte) error {
	n, err := t.conn.Write(b)
	t.mu.Lock()
	t.sent = append(t.sent, b[:n]...)
	t.mu.Unlock()
	return err
}

// buffers returns copies of the accumulated received and sent bytes.
func (t *tcpSession) buffers() (received, sent []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.received...), append([]byte(nil), t.sent...)
}

func (t *tcpSession) shutdown() {
	t.closing.Store(true)
	_ = t.conn.Close()
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("TCP accept failed", "error", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.ServeConn(context.Background(), conn)
		}()
	}
}

// ServeConn records and drives one TCP connection until it closes. It is
// exported so callers with their own listener can feed connections in.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) {
	clientIP, clientPort := splitAddr(conn.RemoteAddr())
	serverIP, serverPort := splitAddr(conn.LocalAddr())

	sess := &tcpSession{
		conn: conn,
		rec: &requestlog.TCPConnection{
			ID:         id.New(),
			Status:     requestlog.ConnActive,
			ClientIP:   clientIP,
			ClientPort: clientPort,
			ServerIP:   serverIP,
			ServerPort: serverPort,
			OpenedAt:   s.now().UTC(),
		},
	}
	if err := s.store.Connections().Create(ctx, sess.rec); err != nil {
		s.log.Error("failed to record connection", "client", conn.RemoteAddr().String(), "error", err)
		_ = conn.Close()
		return
	}

	s.mu.Lock()
	s.sessions[sess.rec.ID] = sess
	stopping := s.stopping
	s.mu.Unlock()
	if stopping {
		sess.shutdown()
	}
	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess.rec.ID)
		s.mu.Unlock()
	}()

	s.log.Debug("TCP connection opened", "id", sess.rec.ID, "client", conn.RemoteAddr().String())
	s.events.Publish(events.ConnectionCreated, s.connectionPayload(sess))

	buf := make([]byte, s.cfg.ReadBuffer)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			s.handleChunk(ctx, sess, append([]byte(nil), buf[:n]...))
		}
		if err == nil {
			continue
		}

		status := requestlog.ConnFailed
		if errors.Is(err, io.EOF) || sess.closing.Load() {
			status = requestlog.ConnClosed
		} else {
			s.log.Warn("TCP connection failed", "id", sess.rec.ID, "error", err)
		}
		s.closeSession(ctx, sess, status)
		return
	}
}

// handleChunk runs the active TCP handler, or acknowledges, for one chunk
// and persists the updated buffers.
func (s *Server) handleChunk(ctx context.Context, sess *tcpSession, chunk []byte) {
	sess.mu.Lock()
	sess.received = append(sess.received, chunk...)
	sess.mu.Unlock()

	h, err := s.registry.ActiveTCP(ctx)
	switch {
	case err != nil:
		s.log.Error("failed to load active TCP handler", "id", sess.rec.ID, "error", err)
		s.reply(sess, errorReply)
	case h == nil:
		s.reply(sess, ackReply)
	default:
		s.runTCPHandler(ctx, sess, h, chunk)
	}

	received, sent := sess.buffers()
	if err := s.store.Connections().UpdateData(ctx, sess.rec.ID, received, sent); err != nil {
		s.log.Error("failed to update connection data", "id", sess.rec.ID, "error", err)
	}
	s.events.Publish(events.ConnectionUpdated, s.connectionPayload(sess))
}

func (s *Server) runTCPHandler(ctx context.Context, sess *tcpSession, h *handler.TCPHandler, chunk []byte) {
	exec, err := s.ledger.Start(ctx, ledger.Parent{ConnectionID: sess.rec.ID}, ledger.HandlerRef{ID: h.ID, VersionID: h.VersionID}, sess.seq.Next())
	if err != nil {
		s.log.Error("failed to record execution", "id", sess.rec.ID, "handler", h.ID, "error", err)
		s.reply(sess, errorReply)
		return
	}

	var res *script.Result
	err = s.state.Transact(ctx, func(data map[string]any) (map[string]any, error) {
		var runErr error
		res, runErr = s.executor.Run(ctx, h.Code, script.Bindings{
			Frozen: map[string]any{
				"data": string(chunk),
				"ctx": map[string]any{
					"connectionId":  sess.rec.ID,
					"clientAddress": sess.conn.RemoteAddr().String(),
					"serverAddress": sess.conn.LocalAddr().String(),
				},
			},
			Mutable: map[string]any{"shared": data},
			Funcs: map[string]script.Func{
				"send": func(args ...any) (any, error) {
					return nil, sess.write([]byte(argString(args)))
				},
				"btoa": func(args ...any) (any, error) {
					return base64.StdEncoding.EncodeToString([]byte(argString(args))), nil
				},
				"atob": func(args ...any) (any, error) {
					out, err := base64.StdEncoding.DecodeString(argString(args))
					if err != nil {
						return nil, fmt.Errorf("atob: %w", err)
					}
					return string(out), nil
				},
			},
		})
		if runErr != nil {
			return nil, runErr
		}
		return sharedFrom(res.Mutated["shared"]), nil
	})

	out := ledger.Outcome{Err: err, ConsoleOutput: res.ConsoleOutput()}
	if ferr := s.ledger.Finish(ctx, exec, out); ferr != nil {
		s.log.Error("failed to finish execution", "id", exec.ID, "error", ferr)
	}
	if err == nil {
		return
	}

	if class, _ := script.Classify(err); class == script.ClassAbort {
		s.log.Debug("handler aborted connection", "id", sess.rec.ID, "handler", h.ID)
		sess.shutdown()
		return
	}
	s.reply(sess, errorReply)
}

func (s *Server) reply(sess *tcpSession, msg string) {
	if err := sess.write([]byte(msg)); err != nil {
		s.log.Debug("TCP write failed", "id", sess.rec.ID, "error", err)
	}
}

func (s *Server) closeSession(ctx context.Context, sess *tcpSession, status requestlog.ConnectionStatus) {
	_ = sess.conn.Close()
	at := s.now().UTC()
	if err := s.store.Connections().Close(ctx, sess.rec.ID, status, at); err != nil {
		s.log.Error("failed to close connection record", "id", sess.rec.ID, "error", err)
	}
	sess.rec.Status = status
	sess.rec.ClosedAt = &at

	evType := events.ConnectionClosed
	if status == requestlog.ConnFailed {
		evType = events.ConnectionFailed
	}
	s.log.Debug("TCP connection ended", "id", sess.rec.ID, "status", status)
	s.events.Publish(evType, s.connectionPayload(sess))
}

func (s *Server) connectionPayload(sess *tcpSession) map[string]any {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return map[string]any{
		"id":            sess.rec.ID,
		"status":        string(sess.rec.Status),
		"clientIp":      sess.rec.ClientIP,
		"clientPort":    sess.rec.ClientPort,
		"receivedBytes": len(sess.received),
		"sentBytes":     len(sess.sent),
	}
}

// sharedFrom decodes the shared binding after a run. Anything other than a
// JSON object becomes an empty document.
func sharedFrom(raw json.RawMessage) map[string]any {
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil || data == nil {
		return map[string]any{}
	}
	return data
}

func argString(args []any) string {
	if len(args) == 0 || args[0] == nil {
		return ""
	}
	if s, ok := args[0].(string); ok {
		return s
	}
	return fmt.Sprint(args[0])
}

func splitAddr(addr net.Addr) (string, int) {
	if addr == nil {
		return "", 0
	}
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), 0
	}
	p, _ := strconv.Atoi(port)
	return host, p
}
