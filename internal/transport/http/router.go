// Package httptransport is the thin HTTP layer: it parses requests, drives
// the retriever chain and session manager, and renders JSON. Business rules
// stay in the services it delegates to.
package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"warden/internal/auth"
	"warden/internal/session"
	"warden/internal/source"
)

// NewRouter wires the public endpoints.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.Get("/me", h.handleMe)
	r.Get("/healthz", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/admin", func(r chi.Router) {
		r.Use(h.requireAdmin)
		r.Get("/sessions", h.handleListSessions)
		r.Post("/sources/{name}/pull", h.handlePull)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError translates domain errors into consistent JSON envelopes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := "internal error"

	var authErr *auth.AuthenticationError
	var cfgErr *source.ConfigurationError
	switch {
	case errors.As(err, &authErr):
		status = http.StatusUnauthorized
		message = authErr.Error()
	case errors.Is(err, session.ErrInvalidSession):
		status = http.StatusUnauthorized
		message = "invalid session"
	case errors.As(err, &cfgErr):
		status = http.StatusBadRequest
		message = cfgErr.Error()
	}
	writeJSON(w, status, map[string]string{"error": message})
}
