package requestlog

import "time"

// ConnectionStatus is the lifecycle state of a TCPConnection.
type ConnectionStatus string

// Connection statuses.
const (
	ConnActive ConnectionStatus = "active"
	ConnClosed ConnectionStatus = "closed"
	ConnFailed ConnectionStatus = "failed"
)

// TCPConnection captures a raw TCP session. ReceivedData and SentData hold
// everything exchanged so far and only ever grow.
type TCPConnection struct {
	ID           string           `json:"id"`
	Status       ConnectionStatus `json:"status"`
	ClientIP     string           `json:"clientIp"`
	ClientPort   int              `json:"clientPort"`
	ServerIP     string           `json:"serverIp"`
	ServerPort   int              `json:"serverPort"`
	ReceivedData []byte           `json:"receivedData"`
	SentData     []byte           `json:"sentData"`
	OpenedAt     time.Time        `json:"openedAt"`
	ClosedAt     *time.Time       `json:"closedAt,omitempty"`

	// Executions is populated by Get; List leaves it empty.
	Executions []*HandlerExecution `json:"executions,omitempty"`
}

// Filter narrows list queries. Zero values mean "no constraint".
type Filter struct {
	// Status matches RequestEvent.Status or TCPConnection.Status.
	Status string

	// Method filters request events by method.
	Method string

	// PathPrefix filters request events by path prefix.
	PathPrefix string

	// Limit is the maximum number of records to return.
	Limit int

	// Offset is the number of records to skip.
	Offset int
}

// Page applies Offset and Limit to n items and returns the slice bounds.
func (f *Filter) Page(n int) (start, end int) {
	if f == nil {
		return 0, n
	}
	start = min(max(f.Offset, 0), n)
	end = n
	if f.Limit > 0 && start+f.Limit < n {
		end = start + f.Limit
	}
	return start, end
}
