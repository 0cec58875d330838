package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	t.Parallel()

	t.Run("writes JSON with correct content type", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()

		WriteJSON(rec, http.StatusOK, map[string]string{"foo": "bar"})

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var result map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.Equal(t, "bar", result["foo"])
	})

	t.Run("handles nil data", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()

		WriteJSON(rec, http.StatusNoContent, nil)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Empty(t, rec.Body.String())
	})
}

func TestWriteError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status int
		code   string
	}{
		{"generic", func(w http.ResponseWriter) { WriteError(w, http.StatusTeapot, "teapot", "short and stout") }, http.StatusTeapot, "teapot"},
		{"bad request", func(w http.ResponseWriter) { WriteBadRequest(w, "invalid_input", "x") }, http.StatusBadRequest, "invalid_input"},
		{"not found", func(w http.ResponseWriter) { WriteNotFound(w, "not_found", "x") }, http.StatusNotFound, "not_found"},
		{"conflict", func(w http.ResponseWriter) { WriteConflict(w, "duplicate_order", "x") }, http.StatusConflict, "duplicate_order"},
		{"internal", func(w http.ResponseWriter) { WriteInternalError(w, "internal_error", "x") }, http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			tt.write(rec)

			assert.Equal(t, tt.status, rec.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Error)
			assert.NotEmpty(t, body.Message)
			assert.Nil(t, body.Details)
		})
	}
}

func TestWriteErrorWithDetails(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()

	WriteErrorWithDetails(rec, http.StatusBadRequest, "validation_failed", "Handler is invalid",
		[]map[string]string{{"field": "path", "message": "must start with /"}})

	assert.JSONEq(t, `{
		"error": "validation_failed",
		"message": "Handler is invalid",
		"details": [{"field": "path", "message": "must start with /"}]
	}`, rec.Body.String())
}

func TestWriteCreatedAndNoContent(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteCreated(rec, map[string]string{"id": "123"})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"id":"123"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	WriteNoContent(rec)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	type payload struct {
		Name string `json:"name"`
	}

	tests := []struct {
		name    string
		body    string
		max     int64
		want    string
		wantErr string
	}{
		{name: "valid", body: `{"name":"a"}`, want: "a"},
		{name: "empty", body: ``, wantErr: "empty"},
		{name: "unknown field", body: `{"nme":"a"}`, wantErr: "unknown field"},
		{name: "trailing value", body: `{"name":"a"} {}`, wantErr: "single JSON value"},
		{name: "too large", body: `{"name":"abcdefghij"}`, max: 8, wantErr: "invalid JSON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))

			var got payload
			err := DecodeJSON(rec, req, &got, tt.max)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Name)
		})
	}
}

func TestQueryInt(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/?limit=25&offset=-1&bad=x", nil)
	assert.Equal(t, 25, QueryInt(req, "limit", 100))
	assert.Equal(t, 0, QueryInt(req, "offset", 0))
	assert.Equal(t, 7, QueryInt(req, "bad", 7))
	assert.Equal(t, 3, QueryInt(req, "missing", 3))
}
