package admin

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/getmockd/hookd/pkg/events"
	"github.com/getmockd/hookd/pkg/httputil"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Clients only send control frames.
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Access is decided by the authenticator, not the Origin header.
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// handleEvents streams broadcaster events as JSON text frames. The optional
// filter query parameter is an expression evaluated against each event,
// for example: type startsWith "tcp_connection".
func (a *AdminAPI) handleEvents(w http.ResponseWriter, r *http.Request) {
	if a.bus == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "events_unavailable", "Event stream is not enabled")
		return
	}
	filter, err := events.CompileFilter(r.URL.Query().Get("filter"))
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_filter", err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Warn("failed to upgrade event stream", "error", err)
		return
	}

	ch, unsubscribe := a.bus.Subscribe()
	a.log.Debug("event stream opened", "remote", r.RemoteAddr, "filter", filter.String())

	done := make(chan struct{})
	go a.readEventPump(conn, done)
	a.writeEventPump(conn, ch, filter, done)

	unsubscribe()
	_ = conn.Close()
	a.log.Debug("event stream closed", "remote", r.RemoteAddr)
}

// readEventPump discards client frames and closes done when the peer goes
// away, keeping pong handling alive.
func (a *AdminAPI) readEventPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				a.log.Debug("event stream read error", "error", err)
			}
			return
		}
	}
}

func (a *AdminAPI) writeEventPump(conn *websocket.Conn, ch <-chan events.Event, filter *events.Filter, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if !filter.Match(ev) {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			return

		case <-a.closing:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		}
	}
}
