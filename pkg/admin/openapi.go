package admin

import (
	"context"
	_ "embed"
	"fmt"
	"net/http"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/getmockd/hookd/pkg/httputil"
)

//go:embed openapi.yaml
var openAPISpec []byte

// loadOpenAPI parses and validates the embedded admin API document once.
var loadOpenAPI = sync.OnceValues(func() (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openAPISpec)
	if err != nil {
		return nil, fmt.Errorf("failed to parse admin OpenAPI document: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("invalid admin OpenAPI document: %w", err)
	}
	return doc, nil
})

// OpenAPI returns the admin API description.
func OpenAPI() (*openapi3.T, error) {
	return loadOpenAPI()
}

func (a *AdminAPI) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	doc, err := loadOpenAPI()
	if err != nil {
		a.log.Error("admin OpenAPI document unavailable", "error", err)
		httputil.WriteInternalError(w, "openapi_unavailable", "OpenAPI document unavailable")
		return
	}
	httputil.WriteOK(w, doc)
}
