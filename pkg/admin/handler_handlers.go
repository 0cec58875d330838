package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/getmockd/hookd/pkg/handler"
	"github.com/getmockd/hookd/pkg/httputil"
)

// HandlerListResponse is the body of GET /api/handlers.
type HandlerListResponse struct {
	Handlers []*handler.Handler `json:"handlers"`
	Count    int                `json:"count"`
}

// TCPHandlerListResponse is the body of GET /api/tcp-handlers.
type TCPHandlerListResponse struct {
	Handlers []*handler.TCPHandler `json:"handlers"`
	Count    int                   `json:"count"`
}

func (a *AdminAPI) handleListHandlers(w http.ResponseWriter, r *http.Request) {
	list, err := a.store.Handlers().ListHTTP(r.Context())
	if err != nil {
		a.writeStoreError(w, err, "list handlers")
		return
	}
	httputil.WriteOK(w, HandlerListResponse{Handlers: list, Count: len(list)})
}

func (a *AdminAPI) handleGetHandler(w http.ResponseWriter, r *http.Request) {
	h, err := a.store.Handlers().GetHTTP(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeStoreError(w, err, "get handler")
		return
	}
	httputil.WriteOK(w, h)
}

// handleCreateHandler creates a handler. A client-supplied id is kept, so
// POSTing an existing id updates it.
func (a *AdminAPI) handleCreateHandler(w http.ResponseWriter, r *http.Request) {
	var h handler.Handler
	if err := httputil.DecodeJSON(w, r, &h, 0); err != nil {
		httputil.WriteBadRequest(w, "invalid_json", err.Error())
		return
	}
	a.saveHandler(w, r, &h, http.StatusCreated)
}

func (a *AdminAPI) handleUpdateHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := a.store.Handlers().GetHTTP(r.Context(), id); err != nil {
		a.writeStoreError(w, err, "get handler", "id", id)
		return
	}

	var h handler.Handler
	if err := httputil.DecodeJSON(w, r, &h, 0); err != nil {
		httputil.WriteBadRequest(w, "invalid_json", err.Error())
		return
	}
	h.ID = id
	a.saveHandler(w, r, &h, http.StatusOK)
}

func (a *AdminAPI) saveHandler(w http.ResponseWriter, r *http.Request, h *handler.Handler, status int) {
	h.Normalize()
	if err := h.Validate(); err != nil {
		a.writeStoreError(w, err, "validate handler")
		return
	}
	if err := a.store.Handlers().SaveHTTP(r.Context(), h); err != nil {
		a.writeStoreError(w, err, "save handler", "id", h.ID)
		return
	}
	a.log.Info("handler saved", "id", h.ID, "version", h.VersionID, "method", h.Method, "path", h.Path, "order", h.Order)
	httputil.WriteJSON(w, status, h)
}

func (a *AdminAPI) handleDeleteHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.store.Handlers().DeleteHTTP(r.Context(), id); err != nil {
		a.writeStoreError(w, err, "delete handler", "id", id)
		return
	}
	a.log.Info("handler deleted", "id", id)
	httputil.WriteNoContent(w)
}

func (a *AdminAPI) handleListTCPHandlers(w http.ResponseWriter, r *http.Request) {
	list, err := a.store.Handlers().ListTCP(r.Context())
	if err != nil {
		a.writeStoreError(w, err, "list tcp handlers")
		return
	}
	httputil.WriteOK(w, TCPHandlerListResponse{Handlers: list, Count: len(list)})
}

func (a *AdminAPI) handleGetTCPHandler(w http.ResponseWriter, r *http.Request) {
	h, err := a.store.Handlers().GetTCP(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeStoreError(w, err, "get tcp handler")
		return
	}
	httputil.WriteOK(w, h)
}

// handleGetActiveTCPHandler returns the handler the TCP listener would run
// right now.
func (a *AdminAPI) handleGetActiveTCPHandler(w http.ResponseWriter, r *http.Request) {
	h, err := a.store.Handlers().ActiveTCP(r.Context())
	if err != nil {
		a.writeStoreError(w, err, "get active tcp handler")
		return
	}
	httputil.WriteOK(w, h)
}

func (a *AdminAPI) handleCreateTCPHandler(w http.ResponseWriter, r *http.Request) {
	var h handler.TCPHandler
	if err := httputil.DecodeJSON(w, r, &h, 0); err != nil {
		httputil.WriteBadRequest(w, "invalid_json", err.Error())
		return
	}
	a.saveTCPHandler(w, r, &h, http.StatusCreated)
}

func (a *AdminAPI) handleUpdateTCPHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := a.store.Handlers().GetTCP(r.Context(), id); err != nil {
		a.writeStoreError(w, err, "get tcp handler", "id", id)
		return
	}

	var h handler.TCPHandler
	if err := httputil.DecodeJSON(w, r, &h, 0); err != nil {
		httputil.WriteBadRequest(w, "invalid_json", err.Error())
		return
	}
	h.ID = id
	a.saveTCPHandler(w, r, &h, http.StatusOK)
}

func (a *AdminAPI) saveTCPHandler(w http.ResponseWriter, r *http.Request, h *handler.TCPHandler, status int) {
	if err := h.Validate(); err != nil {
		a.writeStoreError(w, err, "validate tcp handler")
		return
	}
	if err := a.store.Handlers().SaveTCP(r.Context(), h); err != nil {
		a.writeStoreError(w, err, "save tcp handler", "id", h.ID)
		return
	}
	a.log.Info("tcp handler saved", "id", h.ID, "version", h.VersionID, "enabled", h.Enabled)
	httputil.WriteJSON(w, status, h)
}

func (a *AdminAPI) handleDeleteTCPHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.store.Handlers().DeleteTCP(r.Context(), id); err != nil {
		a.writeStoreError(w, err, "delete tcp handler", "id", id)
		return
	}
	a.log.Info("tcp handler deleted", "id", id)
	httputil.WriteNoContent(w)
}
