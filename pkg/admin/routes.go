// Route registration for the admin API.

package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/getmockd/hookd/pkg/ratelimit"
)

// routes builds the router. Every route except /health passes the
// authenticator.
func (a *AdminAPI) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(a.auth.middleware)

	r.Get("/health", a.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(ratelimit.Middleware(a.limiter))
		r.Get("/status", a.handleGetStatus)
		r.Get("/openapi.json", a.handleOpenAPI)

		r.Route("/handlers", func(r chi.Router) {
			r.Get("/", a.handleListHandlers)
			r.Post("/", a.handleCreateHandler)
			r.Get("/{id}", a.handleGetHandler)
			r.Put("/{id}", a.handleUpdateHandler)
			r.Delete("/{id}", a.handleDeleteHandler)
		})

		r.Route("/tcp-handlers", func(r chi.Router) {
			r.Get("/", a.handleListTCPHandlers)
			r.Post("/", a.handleCreateTCPHandler)
			r.Get("/active", a.handleGetActiveTCPHandler)
			r.Get("/{id}", a.handleGetTCPHandler)
			r.Put("/{id}", a.handleUpdateTCPHandler)
			r.Delete("/{id}", a.handleDeleteTCPHandler)
		})

		r.Route("/requests", func(r chi.Router) {
			r.Get("/", a.handleListRequests)
			r.Get("/{id}", a.handleGetRequest)
			r.Delete("/{id}", a.handleDeleteRequest)
		})

		r.Route("/connections", func(r chi.Router) {
			r.Get("/", a.handleListConnections)
			r.Get("/{id}", a.handleGetConnection)
			r.Delete("/{id}", a.handleDeleteConnection)
		})

		r.Get("/state", a.handleGetState)
		r.Put("/state", a.handlePutState)

		r.Get("/events", a.handleEvents)
	})

	return r
}
