package sqlite

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/getmockd/hookd/pkg/handler"
	"github.com/getmockd/hookd/pkg/requestlog"
)

type handlerModel struct {
	ID        string `gorm:"primaryKey"`
	VersionID string `gorm:"not null"`
	Name      string
	Method    string    `gorm:"not null"`
	Path      string    `gorm:"not null"`
	Code      string    `gorm:"not null"`
	Order     int       `gorm:"column:sort_order;not null;uniqueIndex"`
	CreatedAt time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt time.Time `gorm:"autoUpdateTime:false"`
}

func (handlerModel) TableName() string { return "handlers" }

func handlerToModel(h *handler.Handler) handlerModel {
	return handlerModel{
		ID: h.ID, VersionID: h.VersionID, Name: h.Name, Method: h.Method, Path: h.Path,
		Code: h.Code, Order: h.Order, CreatedAt: h.CreatedAt, UpdatedAt: h.UpdatedAt,
	}
}

func (m handlerModel) toDomain() *handler.Handler {
	return &handler.Handler{
		ID: m.ID, VersionID: m.VersionID, Name: m.Name, Method: m.Method, Path: m.Path,
		Code: m.Code, Order: m.Order, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt,
	}
}

type tcpHandlerModel struct {
	ID        string `gorm:"primaryKey"`
	VersionID string `gorm:"not null"`
	Name      string
	Code      string    `gorm:"not null"`
	Enabled   bool      `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt time.Time `gorm:"autoUpdateTime:false"`
}

func (tcpHandlerModel) TableName() string { return "tcp_handlers" }

func tcpHandlerToModel(h *handler.TCPHandler) tcpHandlerModel {
	return tcpHandlerModel{
		ID: h.ID, VersionID: h.VersionID, Name: h.Name, Code: h.Code,
		Enabled: h.Enabled, CreatedAt: h.CreatedAt, UpdatedAt: h.UpdatedAt,
	}
}

func (m tcpHandlerModel) toDomain() *handler.TCPHandler {
	return &handler.TCPHandler{
		ID: m.ID, VersionID: m.VersionID, Name: m.Name, Code: m.Code,
		Enabled: m.Enabled, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt,
	}
}

type requestEventModel struct {
	ID                    string `gorm:"primaryKey"`
	Status                string `gorm:"not null"`
	Method                string
	URL                   string `gorm:"column:url"`
	Path                  string
	Headers               datatypes.JSON
	Query                 datatypes.JSON
	Body                  []byte
	RemoteAddr            string
	ReceivedAt            time.Time
	ResponseStatus        *int
	ResponseStatusMessage *string
	ResponseHeaders       datatypes.JSON
	ResponseBody          []byte
	RespondedAt           *time.Time
}

func (requestEventModel) TableName() string { return "request_events" }

func requestToModel(ev *requestlog.RequestEvent) requestEventModel {
	return requestEventModel{
		ID:         ev.ID,
		Status:     string(ev.Status),
		Method:     ev.Method,
		URL:        ev.URL,
		Path:       ev.Path,
		Headers:    marshalPairs(ev.Headers),
		Query:      marshalPairs(ev.Query),
		Body:       ev.Body,
		RemoteAddr: ev.RemoteAddr,
		ReceivedAt: ev.ReceivedAt.UTC(),
	}
}

func (m requestEventModel) toDomain() *requestlog.RequestEvent {
	ev := &requestlog.RequestEvent{
		ID:         m.ID,
		Status:     requestlog.RequestStatus(m.Status),
		Method:     m.Method,
		URL:        m.URL,
		Path:       m.Path,
		Headers:    unmarshalPairs(m.Headers),
		Query:      unmarshalPairs(m.Query),
		Body:       m.Body,
		RemoteAddr: m.RemoteAddr,
		ReceivedAt: m.ReceivedAt,
	}
	if m.ResponseStatus != nil {
		ev.Response = &requestlog.Response{
			Status:  *m.ResponseStatus,
			Headers: unmarshalPairs(m.ResponseHeaders),
			Body:    m.ResponseBody,
		}
		if m.ResponseStatusMessage != nil {
			ev.Response.StatusMessage = *m.ResponseStatusMessage
		}
		if m.RespondedAt != nil {
			ev.Response.Timestamp = *m.RespondedAt
		}
	}
	return ev
}

type tcpConnectionModel struct {
	ID           string `gorm:"primaryKey"`
	Status       string `gorm:"not null"`
	ClientIP     string `gorm:"column:client_ip"`
	ClientPort   int
	ServerIP     string `gorm:"column:server_ip"`
	ServerPort   int
	ReceivedData []byte
	SentData     []byte
	OpenedAt     time.Time
	ClosedAt     *time.Time
}

func (tcpConnectionModel) TableName() string { return "tcp_connections" }

func connToModel(c *requestlog.TCPConnection) tcpConnectionModel {
	return tcpConnectionModel{
		ID: c.ID, Status: string(c.Status),
		ClientIP: c.ClientIP, ClientPort: c.ClientPort,
		ServerIP: c.ServerIP, ServerPort: c.ServerPort,
		ReceivedData: c.ReceivedData, SentData: c.SentData,
		OpenedAt: c.OpenedAt.UTC(), ClosedAt: c.ClosedAt,
	}
}

func (m tcpConnectionModel) toDomain() *requestlog.TCPConnection {
	return &requestlog.TCPConnection{
		ID: m.ID, Status: requestlog.ConnectionStatus(m.Status),
		ClientIP: m.ClientIP, ClientPort: m.ClientPort,
		ServerIP: m.ServerIP, ServerPort: m.ServerPort,
		ReceivedData: m.ReceivedData, SentData: m.SentData,
		OpenedAt: m.OpenedAt, ClosedAt: m.ClosedAt,
	}
}

type executionModel struct {
	ID               string  `gorm:"primaryKey"`
	RequestEventID   *string `gorm:"index"`
	TCPConnectionID  *string `gorm:"column:tcp_connection_id;index"`
	HandlerID        string  `gorm:"not null"`
	HandlerVersionID string
	Order            int `gorm:"column:exec_order;not null"`
	Timestamp        time.Time
	Status           string `gorm:"not null"`
	ErrorMessage     *string
	ConsoleOutput    *string
	ResponseData     datatypes.JSON
	LocalsData       datatypes.JSON
	DurationMs       int64
}

func (executionModel) TableName() string { return "handler_executions" }

func executionToModel(e *requestlog.HandlerExecution) executionModel {
	return executionModel{
		ID:               e.ID,
		RequestEventID:   nullable(e.RequestEventID),
		TCPConnectionID:  nullable(e.TCPConnectionID),
		HandlerID:        e.HandlerID,
		HandlerVersionID: e.HandlerVersionID,
		Order:            e.Order,
		Timestamp:        e.Timestamp.UTC(),
		Status:           string(e.Status),
		ErrorMessage:     e.ErrorMessage,
		ConsoleOutput:    e.ConsoleOutput,
		ResponseData:     datatypes.JSON(e.ResponseData),
		LocalsData:       datatypes.JSON(e.LocalsData),
		DurationMs:       e.DurationMs,
	}
}

func (m executionModel) toDomain() *requestlog.HandlerExecution {
	e := &requestlog.HandlerExecution{
		ID:               m.ID,
		HandlerID:        m.HandlerID,
		HandlerVersionID: m.HandlerVersionID,
		Order:            m.Order,
		Timestamp:        m.Timestamp,
		Status:           requestlog.ExecutionStatus(m.Status),
		ErrorMessage:     m.ErrorMessage,
		ConsoleOutput:    m.ConsoleOutput,
		DurationMs:       m.DurationMs,
	}
	if m.RequestEventID != nil {
		e.RequestEventID = *m.RequestEventID
	}
	if m.TCPConnectionID != nil {
		e.TCPConnectionID = *m.TCPConnectionID
	}
	if len(m.ResponseData) > 0 {
		e.ResponseData = json.RawMessage(m.ResponseData)
	}
	if len(m.LocalsData) > 0 {
		e.LocalsData = json.RawMessage(m.LocalsData)
	}
	return e
}

// sharedStateID is the primary key of the single shared_state row.
const sharedStateID = "singleton"

type sharedStateModel struct {
	ID        string         `gorm:"primaryKey"`
	Data      datatypes.JSON `gorm:"not null"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime:false"`
}

func (sharedStateModel) TableName() string { return "shared_state" }

func marshalPairs(pairs []requestlog.Header) datatypes.JSON {
	if pairs == nil {
		pairs = []requestlog.Header{}
	}
	data, _ := json.Marshal(pairs)
	return datatypes.JSON(data)
}

func unmarshalPairs(data datatypes.JSON) []requestlog.Header {
	out := []requestlog.Header{}
	if len(data) == 0 {
		return out
	}
	_ = json.Unmarshal(data, &out)
	return out
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
