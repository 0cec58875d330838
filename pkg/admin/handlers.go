package admin

import (
	"errors"
	"net/http"

	"github.com/getmockd/hookd/pkg/handler"
	"github.com/getmockd/hookd/pkg/httputil"
	"github.com/getmockd/hookd/pkg/store"
)

// Safe error messages for client responses.
const (
	ErrMsgInternalError = "An internal error occurred"
	ErrMsgNotFound      = "Resource not found"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Uptime int    `json:"uptime"`
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Version           string `json:"version"`
	Uptime            int    `json:"uptime"`
	EngineRunning     bool   `json:"engineRunning"`
	EngineUptime      int    `json:"engineUptime"`
	HTTPAddr          string `json:"httpAddr,omitempty"`
	TCPAddr           string `json:"tcpAddr,omitempty"`
	ActiveConnections int    `json:"activeConnections"`
	HTTPHandlers      int    `json:"httpHandlers"`
	TCPHandlers       int    `json:"tcpHandlers"`
	EventSubscribers  int    `json:"eventSubscribers"`
}

func (a *AdminAPI) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteOK(w, HealthResponse{Status: "ok", Uptime: a.Uptime()})
}

func (a *AdminAPI) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp := StatusResponse{Version: a.version, Uptime: a.Uptime()}
	if resp.Version == "" {
		resp.Version = "dev"
	}
	if a.engine != nil {
		resp.EngineRunning = a.engine.IsRunning()
		resp.EngineUptime = a.engine.Uptime()
		resp.HTTPAddr = a.engine.HTTPAddr()
		resp.TCPAddr = a.engine.TCPAddr()
		resp.ActiveConnections = a.engine.ActiveConnections()
	}
	if a.bus != nil {
		resp.EventSubscribers = a.bus.Subscribers()
	}

	httpHandlers, err := a.store.Handlers().ListHTTP(ctx)
	if err != nil {
		a.writeStoreError(w, err, "list handlers")
		return
	}
	tcpHandlers, err := a.store.Handlers().ListTCP(ctx)
	if err != nil {
		a.writeStoreError(w, err, "list tcp handlers")
		return
	}
	resp.HTTPHandlers = len(httpHandlers)
	resp.TCPHandlers = len(tcpHandlers)

	httputil.WriteOK(w, resp)
}

// writeStoreError maps store errors onto responses. Unexpected errors are
// logged and answered with a generic message.
func (a *AdminAPI) writeStoreError(w http.ResponseWriter, err error, operation string, details ...any) {
	var verr *handler.ValidationError
	switch {
	case errors.Is(err, store.ErrNotFound):
		httputil.WriteNotFound(w, "not_found", ErrMsgNotFound)
	case errors.Is(err, handler.ErrDuplicateOrder):
		httputil.WriteConflict(w, "duplicate_order", err.Error())
	case errors.As(err, &verr):
		httputil.WriteErrorWithDetails(w, http.StatusBadRequest, "validation_failed", verr.Error(),
			map[string]string{"field": verr.Field, "message": verr.Message})
	default:
		args := append([]any{"operation", operation, "error", err}, details...)
		a.log.Error("operation failed", args...)
		httputil.WriteInternalError(w, "internal_error", ErrMsgInternalError)
	}
}
