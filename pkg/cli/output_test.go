package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/hookd/pkg/cli/internal/output"
	"github.com/getmockd/hookd/pkg/events"
	"github.com/getmockd/hookd/pkg/requestlog"
)

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func captureStdout(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev, prevNoColor := output.Stdout, color.NoColor
	output.Stdout = &buf
	color.NoColor = true
	t.Cleanup(func() {
		output.Stdout = prev
		color.NoColor = prevNoColor
	})
	return &buf
}

func TestPrintRequest(t *testing.T) {
	captureStdout(t)
	msg := "ReferenceError: x is not defined"
	console := "got push\nref main"
	ev := &requestlog.RequestEvent{
		ID:         "r1",
		Status:     requestlog.StatusError,
		Method:     "POST",
		URL:        "/hooks/github?x=1",
		RemoteAddr: "127.0.0.1:5000",
		ReceivedAt: time.Now(),
		Headers:    []requestlog.Header{{Name: "Content-Type", Value: "application/json"}},
		Body:       []byte(`{"ref":"main"}`),
		Response:   &requestlog.Response{Status: 500, StatusMessage: "Internal Server Error", Body: []byte("boom")},
		Executions: []*requestlog.HandlerExecution{
			{Order: 1, HandlerID: "log", Status: requestlog.ExecSuccess, ConsoleOutput: &console, DurationMs: 2},
			{Order: 2, HandlerID: "bad", Status: requestlog.ExecError, ErrorMessage: &msg},
		},
	}

	var buf bytes.Buffer
	printRequest(&buf, ev)
	out := buf.String()
	assert.Contains(t, out, "POST /hooks/github?x=1 error")
	assert.Contains(t, out, "Content-Type: application/json")
	assert.Contains(t, out, `{"ref":"main"}`)
	assert.Contains(t, out, "Response 500 Internal Server Error")
	assert.Contains(t, out, "#1 log Success (2ms)")
	assert.Contains(t, out, "| ref main")
	assert.Contains(t, out, "error: "+msg)
}

func TestPrintConnection_Binary(t *testing.T) {
	captureStdout(t)
	closed := time.Now()
	c := &requestlog.TCPConnection{
		ID: "c1", Status: requestlog.ConnClosed,
		ClientIP: "10.0.0.1", ClientPort: 4000, ServerIP: "10.0.0.2", ServerPort: 9000,
		OpenedAt: closed.Add(-time.Second), ClosedAt: &closed,
		ReceivedData: []byte{0xff, 0xfe, 0x00},
		SentData:     []byte("ack\n"),
	}

	var buf bytes.Buffer
	printConnection(&buf, c)
	out := buf.String()
	assert.Contains(t, out, "10.0.0.1:4000 -> 10.0.0.2:9000 closed")
	assert.Contains(t, out, "<3 bytes of binary data>")
	assert.Contains(t, out, "Sent (4 bytes)")
	assert.Contains(t, out, "  ack\n")
}

func TestFormatEvent(t *testing.T) {
	captureStdout(t)
	ev := events.Event{
		Type:    events.RequestUpdated,
		Time:    time.Now(),
		Payload: map[string]any{"id": "r1", "status": "complete", "responseStatus": 201, "ignored": true},
	}
	line := formatEvent(ev)
	assert.Contains(t, line, "request:updated")
	assert.Contains(t, line, "id=r1 status=complete responseStatus=201")
	assert.NotContains(t, line, "ignored")
}

func TestReadStateInput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"count":1}`), 0o600))

	data, err := readStateInput(path, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"count": float64(1)}, data)

	data, err = readStateInput("-", strings.NewReader(`{"a":{}}`))
	require.NoError(t, err)
	assert.Contains(t, data, "a")

	for _, in := range []string{`[1]`, `null`, `{`} {
		_, err := readStateInput("-", strings.NewReader(in))
		assert.Error(t, err, in)
	}

	_, err = readStateInput(filepath.Join(dir, "missing.json"), nil)
	assert.Error(t, err)
}

func TestVersionCommand_JSON(t *testing.T) {
	buf := captureStdout(t)
	jsonOutput = true
	t.Cleanup(func() { jsonOutput = false })

	require.NoError(t, versionCmd.RunE(versionCmd, nil))
	var out VersionOutput
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.NotEmpty(t, out.Version)
	assert.NotEmpty(t, out.Go)
}

func TestOrDash(t *testing.T) {
	assert.Equal(t, "-", orDash(""))
	assert.Equal(t, ":8080", orDash(":8080"))
}
