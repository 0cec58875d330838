package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/getmockd/hookd/pkg/httputil"
	"github.com/getmockd/hookd/pkg/requestlog"
)

// Paging defaults for list endpoints.
const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// RequestListResponse is the body of GET /api/requests.
type RequestListResponse struct {
	Requests []*requestlog.RequestEvent `json:"requests"`
	Count    int                        `json:"count"`
	Limit    int                        `json:"limit"`
	Offset   int                        `json:"offset"`
}

// ConnectionListResponse is the body of GET /api/connections.
type ConnectionListResponse struct {
	Connections []*requestlog.TCPConnection `json:"connections"`
	Count       int                         `json:"count"`
	Limit       int                         `json:"limit"`
	Offset      int                         `json:"offset"`
}

// parseFilter reads status, method, path_prefix, limit and offset.
func parseFilter(r *http.Request) *requestlog.Filter {
	q := r.URL.Query()
	limit := httputil.QueryInt(r, "limit", DefaultListLimit)
	if limit == 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}
	return &requestlog.Filter{
		Status:     q.Get("status"),
		Method:     q.Get("method"),
		PathPrefix: q.Get("path_prefix"),
		Limit:      limit,
		Offset:     httputil.QueryInt(r, "offset", 0),
	}
}

func (a *AdminAPI) handleListRequests(w http.ResponseWriter, r *http.Request) {
	f := parseFilter(r)
	list, err := a.store.Requests().List(r.Context(), f)
	if err != nil {
		a.writeStoreError(w, err, "list requests")
		return
	}
	if list == nil {
		list = []*requestlog.RequestEvent{}
	}
	httputil.WriteOK(w, RequestListResponse{Requests: list, Count: len(list), Limit: f.Limit, Offset: f.Offset})
}

func (a *AdminAPI) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	ev, err := a.store.Requests().Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeStoreError(w, err, "get request")
		return
	}
	httputil.WriteOK(w, ev)
}

func (a *AdminAPI) handleDeleteRequest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.store.Requests().Delete(r.Context(), id); err != nil {
		a.writeStoreError(w, err, "delete request", "id", id)
		return
	}
	httputil.WriteNoContent(w)
}

func (a *AdminAPI) handleListConnections(w http.ResponseWriter, r *http.Request) {
	f := parseFilter(r)
	list, err := a.store.Connections().List(r.Context(), f)
	if err != nil {
		a.writeStoreError(w, err, "list connections")
		return
	}
	if list == nil {
		list = []*requestlog.TCPConnection{}
	}
	httputil.WriteOK(w, ConnectionListResponse{Connections: list, Count: len(list), Limit: f.Limit, Offset: f.Offset})
}

func (a *AdminAPI) handleGetConnection(w http.ResponseWriter, r *http.Request) {
	c, err := a.store.Connections().Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeStoreError(w, err, "get connection")
		return
	}
	httputil.WriteOK(w, c)
}

func (a *AdminAPI) handleDeleteConnection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.store.Connections().Delete(r.Context(), id); err != nil {
		a.writeStoreError(w, err, "delete connection", "id", id)
		return
	}
	httputil.WriteNoContent(w)
}
