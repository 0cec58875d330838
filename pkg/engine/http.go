package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/getmockd/hookd/internal/id"
	"github.com/getmockd/hookd/pkg/events"
	"github.com/getmockd/hookd/pkg/ledger"
	"github.com/getmockd/hookd/pkg/registry"
	"github.com/getmockd/hookd/pkg/requestlog"
	"github.com/getmockd/hookd/pkg/script"
	"github.com/getmockd/hookd/pkg/store"
)

// Initial values of the mutable bindings shared across one request's chain.
var (
	initialResp   = json.RawMessage(`{"status":200,"headers":{}}`)
	initialLocals = json.RawMessage(`{}`)
)

// httpRun is the state of one request while its handler chain executes.
type httpRun struct {
	ev     *requestlog.RequestEvent
	resp   json.RawMessage
	locals json.RawMessage
	seq    ledger.Sequence
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	// Recording outlives the client: a disconnect must not leave the event
	// running.
	ctx := context.WithoutCancel(r.Context())
	cw := newCaptureWriter(w)

	if s.cfg.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(cw, r.Body, s.cfg.MaxBodyBytes)
	}
	body, readErr := io.ReadAll(r.Body)

	ev := &requestlog.RequestEvent{
		ID:         id.New(),
		Status:     requestlog.StatusRunning,
		Method:     r.Method,
		URL:        r.URL.String(),
		Path:       r.URL.Path,
		Headers:    requestlog.HeadersFromHTTP(r.Header),
		Query:      requestlog.QueryFromURL(r.URL.Query()),
		Body:       body,
		RemoteAddr: r.RemoteAddr,
		ReceivedAt: s.now().UTC(),
	}
	if err := s.store.Requests().Create(ctx, ev); err != nil {
		s.log.Error("failed to record request", "method", r.Method, "path", r.URL.Path, "error", err)
		http.Error(cw, "failed to record request", http.StatusInternalServerError)
		return
	}
	s.events.Publish(events.RequestCreated, requestPayload(ev, nil))

	if readErr != nil {
		status := http.StatusBadRequest
		var maxBytesErr *http.MaxBytesError
		if errors.As(readErr, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			s.log.Warn("request body too large", "id", ev.ID, "path", ev.Path, "limit", maxBytesErr.Limit)
		}
		s.respondError(ctx, cw, ev, status, "")
		return
	}

	matches, err := s.registry.MatchHTTP(ctx, r.Method, r.URL.Path)
	if err != nil {
		s.log.Error("failed to match handlers", "id", ev.ID, "error", err)
		s.respondError(ctx, cw, ev, http.StatusInternalServerError, "")
		return
	}

	run := &httpRun{ev: ev, resp: initialResp, locals: initialLocals}

	// Matches come in execution order, most specific last.
	for i := range matches {
		runErr, err := s.runHTTPHandler(ctx, run, matches[i])
		if err != nil {
			s.log.Error("failed to record execution", "id", ev.ID, "handler", matches[i].Handler.ID, "error", err)
			s.respondError(ctx, cw, ev, http.StatusInternalServerError, "")
			return
		}
		if runErr == nil {
			continue
		}

		class, he := script.Classify(runErr)
		if class == script.ClassAbort {
			s.finalize(ctx, ev, requestlog.StatusError, nil)
			s.log.Debug("handler aborted connection", "id", ev.ID, "handler", matches[i].Handler.ID)
			panic(http.ErrAbortHandler)
		}
		s.respondError(ctx, cw, ev, he.Status, he.Message)
		return
	}

	writeScriptResponse(cw, run.resp)
	s.finalize(ctx, ev, requestlog.StatusComplete, cw.snapshot(s.now()))
}

// runHTTPHandler executes one matched handler. scriptErr is the script
// outcome; err is a failure to record it.
func (s *Server) runHTTPHandler(ctx context.Context, run *httpRun, m registry.Match) (scriptErr, err error) {
	h := m.Handler
	exec, err := s.ledger.Start(ctx, ledger.Parent{RequestID: run.ev.ID}, ledger.HandlerRef{ID: h.ID, VersionID: h.VersionID}, run.seq.Next())
	if err != nil {
		return nil, err
	}

	params := m.Params
	if params == nil {
		params = map[string]string{}
	}
	res, scriptErr := s.executor.Run(ctx, h.Code, script.Bindings{
		Frozen: map[string]any{
			"req": map[string]any{
				"method":  run.ev.Method,
				"url":     run.ev.URL,
				"path":    run.ev.Path,
				"params":  params,
				"query":   pairsToObject(run.ev.Query, false),
				"headers": pairsToObject(run.ev.Headers, true),
				"body":    string(run.ev.Body),
			},
			"ctx": map[string]any{
				"requestId":  run.ev.ID,
				"receivedAt": run.ev.ReceivedAt.Format(time.RFC3339Nano),
				"remoteAddr": run.ev.RemoteAddr,
				"handler": map[string]any{
					"id":        h.ID,
					"name":      h.Name,
					"versionId": h.VersionID,
				},
			},
		},
		Mutable: map[string]any{
			"resp":       run.resp,
			"ctx.locals": run.locals,
		},
	})

	out := ledger.Outcome{Err: scriptErr, ConsoleOutput: res.ConsoleOutput()}
	if scriptErr == nil {
		run.resp = res.Mutated["resp"]
		run.locals = res.Mutated["ctx.locals"]
		out.ResponseData = run.resp
		out.LocalsData = run.locals
	}
	if err := s.ledger.Finish(ctx, exec, out); err != nil {
		return nil, err
	}
	return scriptErr, nil
}

// respondError writes a plain-text error response and finalizes ev as
// error. An empty message falls back to the status text.
func (s *Server) respondError(ctx context.Context, cw *captureWriter, ev *requestlog.RequestEvent, status int, message string) {
	if message == "" {
		message = http.StatusText(status)
	}
	cw.Header().Set("Content-Type", "text/plain; charset=utf-8")
	cw.Header().Set("X-Content-Type-Options", "nosniff")
	cw.WriteHeader(status)
	_, _ = io.WriteString(cw, message)
	s.finalize(ctx, ev, requestlog.StatusError, cw.snapshot(s.now()))
}

// finalize moves ev to its terminal status exactly once and announces it.
func (s *Server) finalize(ctx context.Context, ev *requestlog.RequestEvent, status requestlog.RequestStatus, resp *requestlog.Response) {
	if err := s.store.Requests().Finalize(ctx, ev.ID, status, resp); err != nil {
		if errors.Is(err, store.ErrAlreadyFinalized) {
			s.log.Warn("request already finalized", "id", ev.ID)
			return
		}
		s.log.Error("failed to finalize request", "id", ev.ID, "error", err)
		return
	}
	ev.Status = status
	ev.Response = resp
	s.events.Publish(events.RequestUpdated, requestPayload(ev, resp))
}

func requestPayload(ev *requestlog.RequestEvent, resp *requestlog.Response) map[string]any {
	p := map[string]any{
		"id":     ev.ID,
		"status": string(ev.Status),
		"method": ev.Method,
		"url":    ev.URL,
	}
	if resp != nil {
		p["responseStatus"] = resp.Status
	}
	return p
}

// pairsToObject turns pairs into a script-facing object. A repeated name
// maps to an array of its values.
func pairsToObject(pairs []requestlog.Header, lowerNames bool) map[string]any {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		name := p.Name
		if lowerNames {
			name = strings.ToLower(name)
		}
		switch cur := out[name].(type) {
		case nil:
			out[name] = p.Value
		case string:
			out[name] = []string{cur, p.Value}
		case []string:
			out[name] = append(cur, p.Value)
		}
	}
	return out
}

// scriptResponse is the shape handlers give resp.
type scriptResponse struct {
	Status  json.RawMessage `json:"status"`
	Headers map[string]any  `json:"headers"`
	Body    json.RawMessage `json:"body"`
}

// writeScriptResponse writes the final resp object. A missing or invalid
// status means 200. A string body is sent as is, null or no body sends
// nothing, and any other value is sent as JSON.
func writeScriptResponse(w http.ResponseWriter, raw json.RawMessage) {
	var resp scriptResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		resp = scriptResponse{}
	}

	for name, v := range resp.Headers {
		switch val := v.(type) {
		case nil:
		case []any:
			for _, item := range val {
				w.Header().Add(name, headerValue(item))
			}
		default:
			w.Header().Set(name, headerValue(val))
		}
	}

	var body []byte
	trimmed := strings.TrimSpace(string(resp.Body))
	switch {
	case trimmed == "" || trimmed == "null":
	case strings.HasPrefix(trimmed, `"`):
		var str string
		if err := json.Unmarshal(resp.Body, &str); err == nil {
			body = []byte(str)
		}
	default:
		body = []byte(trimmed)
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", "application/json")
		}
	}

	w.WriteHeader(statusFrom(resp.Status))
	if len(body) > 0 {
		_, _ = w.Write(body)
	}
}

func statusFrom(raw json.RawMessage) int {
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil || math.IsNaN(f) {
		return http.StatusOK
	}
	status := int(f)
	if status < 100 || status > 999 {
		return http.StatusOK
	}
	return status
}

func headerValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		if val == math.Trunc(val) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprint(val)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}
