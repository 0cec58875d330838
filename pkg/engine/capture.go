package engine

import (
	"bytes"
	"net/http"
	"time"

	"github.com/getmockd/hookd/pkg/requestlog"
)

// captureWriter wraps http.ResponseWriter and keeps a copy of everything
// written through it, so the persisted response reflects the bytes that
// actually went out.
type captureWriter struct {
	http.ResponseWriter
	statusCode    int
	headerWritten bool
	body          bytes.Buffer
}

func newCaptureWriter(w http.ResponseWriter) *captureWriter {
	return &captureWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

// WriteHeader captures the status code before writing the header.
func (w *captureWriter) WriteHeader(code int) {
	if !w.headerWritten {
		w.statusCode = code
		w.headerWritten = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// Write tees b into the capture buffer.
func (w *captureWriter) Write(b []byte) (int, error) {
	if !w.headerWritten {
		w.headerWritten = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.body.Write(b[:n])
	return n, err
}

// Flush implements http.Flusher if the underlying ResponseWriter supports it.
func (w *captureWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Unwrap returns the underlying ResponseWriter for http.ResponseController support.
func (w *captureWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// snapshot returns what has been written so far.
func (w *captureWriter) snapshot(at time.Time) *requestlog.Response {
	return &requestlog.Response{
		Status:        w.statusCode,
		StatusMessage: http.StatusText(w.statusCode),
		Headers:       requestlog.HeadersFromHTTP(w.Header()),
		Body:          bytes.Clone(w.body.Bytes()),
		Timestamp:     at.UTC(),
	}
}
