package requestlog

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"time"
)

// RequestStatus is the lifecycle state of a RequestEvent.
type RequestStatus string

// Request statuses.
const (
	StatusRunning  RequestStatus = "running"
	StatusComplete RequestStatus = "complete"
	StatusError    RequestStatus = "error"
)

// Terminal reports whether the status is final.
func (s RequestStatus) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// Header is a single name/value pair. Multi-value headers appear as repeated
// pairs, so slices of Header preserve both order and multiplicity.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// RequestEvent captures one inbound HTTP request and, once finalized, the
// response that was written for it.
type RequestEvent struct {
	ID         string        `json:"id"`
	Status     RequestStatus `json:"status"`
	Method     string        `json:"method"`
	URL        string        `json:"url"`
	Path       string        `json:"path"`
	Headers    []Header      `json:"headers"`
	Query      []Header      `json:"query"`
	Body       []byte        `json:"body,omitempty"`
	RemoteAddr string        `json:"remoteAddr"`
	ReceivedAt time.Time     `json:"receivedAt"`

	// Response is nil until the event is finalized.
	Response *Response `json:"response,omitempty"`

	// Executions is populated by Get; List leaves it empty.
	Executions []*HandlerExecution `json:"executions,omitempty"`
}

// Response is the snapshot of what was written back to the client.
type Response struct {
	Status        int       `json:"status"`
	StatusMessage string    `json:"statusMessage"`
	Headers       []Header  `json:"headers"`
	Body          []byte    `json:"body,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// HeadersFromHTTP flattens an http.Header into pairs sorted by name. Values
// of a repeated header keep their original relative order.
func HeadersFromHTTP(h http.Header) []Header {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Header, 0, len(names))
	for _, name := range names {
		for _, v := range h[name] {
			out = append(out, Header{Name: name, Value: v})
		}
	}
	return out
}

// QueryFromURL flattens query parameters into pairs sorted by key.
func QueryFromURL(q url.Values) []Header {
	return HeadersFromHTTP(http.Header(q))
}

// ToHTTP converts pairs back into an http.Header.
func ToHTTP(pairs []Header) http.Header {
	h := make(http.Header, len(pairs))
	for _, p := range pairs {
		h.Add(p.Name, p.Value)
	}
	return h
}

// ExecutionStatus is the lifecycle state of a HandlerExecution.
type ExecutionStatus string

// Execution statuses.
const (
	ExecRunning ExecutionStatus = "running"
	ExecSuccess ExecutionStatus = "success"
	ExecError   ExecutionStatus = "error"
)

// HandlerExecution records one run of a handler against a request or a TCP
// data chunk. Exactly one of RequestEventID and TCPConnectionID is set.
type HandlerExecution struct {
	ID               string          `json:"id"`
	RequestEventID   string          `json:"requestEventId,omitempty"`
	TCPConnectionID  string          `json:"tcpConnectionId,omitempty"`
	HandlerID        string          `json:"handlerId"`
	HandlerVersionID string          `json:"handlerVersionId,omitempty"`
	Order            int             `json:"order"`
	Timestamp        time.Time       `json:"timestamp"`
	Status           ExecutionStatus `json:"status"`
	ErrorMessage     *string         `json:"errorMessage"`
	ConsoleOutput    *string         `json:"consoleOutput"`
	ResponseData     json.RawMessage `json:"responseData,omitempty"`
	LocalsData       json.RawMessage `json:"localsData,omitempty"`
	DurationMs       int64           `json:"durationMs"`
}

// ExecutionUpdate is the terminal patch applied to a running execution.
type ExecutionUpdate struct {
	Status        ExecutionStatus
	ErrorMessage  *string
	ConsoleOutput *string
	ResponseData  json.RawMessage
	LocalsData    json.RawMessage
	DurationMs    int64
}

// Apply copies the update onto e.
func (u ExecutionUpdate) Apply(e *HandlerExecution) {
	e.Status = u.Status
	e.ErrorMessage = u.ErrorMessage
	e.ConsoleOutput = u.ConsoleOutput
	e.ResponseData = u.ResponseData
	e.LocalsData = u.LocalsData
	e.DurationMs = u.DurationMs
}
