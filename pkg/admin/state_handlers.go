package admin

import (
	"net/http"
	"time"

	"github.com/ohler55/ojg/jp"

	"github.com/getmockd/hookd/pkg/httputil"
)

// StateResponse is the body of GET and PUT /api/state.
type StateResponse struct {
	Data      map[string]any `json:"data"`
	UpdatedAt *time.Time     `json:"updatedAt,omitempty"`
}

// StateQueryResponse is the body of GET /api/state?path=...
type StateQueryResponse struct {
	Path    string `json:"path"`
	Results []any  `json:"results"`
}

// handleGetState returns the shared state document. With a path query
// parameter it returns the values the JSONPath expression selects instead.
func (a *AdminAPI) handleGetState(w http.ResponseWriter, r *http.Request) {
	st, err := a.state.Get(r.Context())
	if err != nil {
		a.writeStoreError(w, err, "get shared state")
		return
	}

	path := r.URL.Query().Get("path")
	if path == "" {
		resp := StateResponse{Data: st.Data}
		if !st.UpdatedAt.IsZero() {
			resp.UpdatedAt = &st.UpdatedAt
		}
		httputil.WriteOK(w, resp)
		return
	}

	expr, err := jp.ParseString(path)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_path", err.Error())
		return
	}
	results := expr.Get(st.Data)
	if results == nil {
		results = []any{}
	}
	httputil.WriteOK(w, StateQueryResponse{Path: path, Results: results})
}

// handlePutState replaces the shared state document wholesale.
func (a *AdminAPI) handlePutState(w http.ResponseWriter, r *http.Request) {
	var data map[string]any
	if err := httputil.DecodeJSON(w, r, &data, 0); err != nil {
		httputil.WriteBadRequest(w, "invalid_json", err.Error())
		return
	}
	if data == nil {
		httputil.WriteBadRequest(w, "invalid_state", "shared state must be a JSON object")
		return
	}

	st, err := a.state.Set(r.Context(), data)
	if err != nil {
		a.writeStoreError(w, err, "set shared state")
		return
	}
	a.log.Info("shared state replaced", "keys", len(data))
	httputil.WriteOK(w, StateResponse{Data: st.Data, UpdatedAt: &st.UpdatedAt})
}
