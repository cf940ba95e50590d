// Package httpapi serves the coordination API: agent registry, messaging,
// file reservations, contact links, products, and sibling suggestions, plus
// the websocket event gateway.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires the full API surface. Health endpoints are open; the /api
// and /ws trees sit behind authMW when one is given. wsHandler, when nil,
// leaves the gateway unmounted (embedded and test setups).
func NewRouter(h *Handler, wsHandler http.Handler, authMW func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Group(func(r chi.Router) {
		if authMW != nil {
			r.Use(authMW)
		}

		r.Route("/api", func(r chi.Router) {
			r.Post("/projects", h.ensureProject)
			r.Get("/projects/{project}/agents", h.listAgents)

			r.Post("/agents", h.registerAgent)
			r.Get("/agents/{project}/{agent}", h.getAgent)
			r.Delete("/agents/{project}/{agent}", h.deregisterAgent)
			r.Post("/agents/{project}/{agent}/heartbeat", h.heartbeat)

			r.Post("/messages", h.sendMessage)
			r.Get("/messages/{id}", h.getMessage)
			r.Post("/messages/{id}/read", h.markRead)
			r.Post("/messages/{id}/ack", h.markAck)
			r.Get("/inbox/{project}/{agent}", h.inbox)
			r.Get("/threads/{project}/{thread}", h.thread)

			r.Post("/reservations", h.reserve)
			r.Get("/reservations", h.listReservations)
			r.Post("/reservations/check", h.checkConflicts)
			r.Post("/reservations/{id}/release", h.release)

			r.Post("/links", h.requestLink)
			r.Post("/links/{id}/approve", h.approveLink)
			r.Post("/links/{id}/block", h.blockLink)
			r.Get("/links/{project}/{agent}", h.listLinks)
			r.Get("/contacts/check", h.canDeliver)

			r.Post("/products", h.createProduct)
			r.Post("/products/{product}/projects", h.attachProject)
			r.Get("/products/{product}/projects", h.listProductProjects)
			r.Get("/products/{product}/inbox/{agent}", h.productInbox)

			r.Post("/siblings", h.suggestSibling)
			r.Post("/siblings/{id}/confirm", h.confirmSibling)
			r.Post("/siblings/{id}/dismiss", h.dismissSibling)
			r.Get("/siblings", h.listSiblings)
		})

		if wsHandler != nil {
			r.Get("/ws/agents/{agent}", wsHandler.ServeHTTP)
		}
	})

	return r
}
