package handler

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Wildcard matches any method or any path.
const Wildcard = "*"

// ErrDuplicateOrder is returned when a handler is saved with an order value
// already used by another handler.
var ErrDuplicateOrder = errors.New("handler order already in use")

// Handler is an HTTP handler script bound to a method and path pattern.
type Handler struct {
	ID        string    `json:"id"`
	VersionID string    `json:"versionId"`
	Name      string    `json:"name"`
	Method    string    `json:"method"`
	Path      string    `json:"path"`
	Code      string    `json:"code"`
	Order     int       `json:"order"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TCPHandler is a script run against every inbound chunk of a TCP connection.
type TCPHandler struct {
	ID        string    `json:"id"`
	VersionID string    `json:"versionId"`
	Name      string    `json:"name"`
	Code      string    `json:"code"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Methods lists the verbs a handler may be bound to, besides Wildcard.
var Methods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}

// ValidationError represents a validation failure on a single field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
}

// ValidMethod reports whether m is an accepted method value.
func ValidMethod(m string) bool {
	if m == Wildcard {
		return true
	}
	for _, v := range Methods {
		if v == m {
			return true
		}
	}
	return false
}

// Normalize upper-cases the method and trims whitespace from the pattern.
func (h *Handler) Normalize() {
	h.Method = strings.ToUpper(strings.TrimSpace(h.Method))
	h.Path = strings.TrimSpace(h.Path)
	if h.Method == "" {
		h.Method = Wildcard
	}
}

// Validate checks the handler's fields. It does not check order uniqueness,
// which is enforced by the store.
func (h *Handler) Validate() error {
	if !ValidMethod(h.Method) {
		return &ValidationError{Field: "method", Message: fmt.Sprintf("unsupported method %q", h.Method)}
	}
	if h.Path == "" {
		return &ValidationError{Field: "path", Message: "path is required"}
	}
	if h.Path != Wildcard && !strings.HasPrefix(h.Path, "/") {
		return &ValidationError{Field: "path", Message: `path must start with "/" or be "*"`}
	}
	for _, seg := range strings.Split(h.Path, "/") {
		if seg == ":" {
			return &ValidationError{Field: "path", Message: "path parameter must be named"}
		}
	}
	if strings.TrimSpace(h.Code) == "" {
		return &ValidationError{Field: "code", Message: "code is required"}
	}
	if h.Order < 0 {
		return &ValidationError{Field: "order", Message: "order must be >= 0"}
	}
	return nil
}

// Validate checks the TCP handler's fields.
func (h *TCPHandler) Validate() error {
	if strings.TrimSpace(h.Code) == "" {
		return &ValidationError{Field: "code", Message: "code is required"}
	}
	return nil
}

// IsWildcardPath reports whether the handler matches every path.
func (h *Handler) IsWildcardPath() bool { return h.Path == Wildcard }

// IsWildcardMethod reports whether the handler matches every method.
func (h *Handler) IsWildcardMethod() bool { return h.Method == Wildcard }
