package httpapi

import (
	"net/http"
	"time"

	"github.com/mistakeknot/interlock/internal/postmaster"
)

// reserveRequest is the wire form of a reservation claim. TTL travels as
// whole seconds; exclusive defaults to true when omitted.
type reserveRequest struct {
	Project    string   `json:"project"`
	Agent      string   `json:"agent"`
	Patterns   []string `json:"patterns"`
	Exclusive  *bool    `json:"exclusive,omitempty"`
	TTLSeconds int64    `json:"ttl_seconds,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

const defaultReservationTTL = time.Hour

func (req *reserveRequest) toService() postmaster.ReserveRequest {
	exclusive := true
	if req.Exclusive != nil {
		exclusive = *req.Exclusive
	}
	ttl := defaultReservationTTL
	if req.TTLSeconds != 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}
	return postmaster.ReserveRequest{
		Project:   req.Project,
		Agent:     req.Agent,
		Patterns:  req.Patterns,
		Exclusive: exclusive,
		TTL:       ttl,
		Reason:    req.Reason,
	}
}

func (h *Handler) reserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !allowProject(w, r, req.Project) {
		return
	}
	granted, err := h.svc.Reserve(r.Context(), req.toService())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"reservations": newAPIReservations(granted)})
}

func (h *Handler) release(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req deliveryActionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !allowProject(w, r, req.Project) {
		return
	}
	released, err := h.svc.Release(r.Context(), req.Project, req.Agent, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newAPIReservation(*released, time.Now().UTC()))
}

func (h *Handler) listReservations(w http.ResponseWriter, r *http.Request) {
	project := r.URL.Query().Get("project")
	if project == "" {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "project query parameter is required", Code: "invalid"})
		return
	}
	if !allowProject(w, r, project) {
		return
	}
	active, err := h.svc.ListActive(r.Context(), project, r.URL.Query().Get("pattern"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reservations": newAPIReservations(active)})
}

// checkRequest is a dry-run conflict probe; nothing is written.
type checkRequest struct {
	Project   string `json:"project"`
	Agent     string `json:"agent"`
	Pattern   string `json:"pattern"`
	Exclusive *bool  `json:"exclusive,omitempty"`
}

func (h *Handler) checkConflicts(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !allowProject(w, r, req.Project) {
		return
	}
	exclusive := true
	if req.Exclusive != nil {
		exclusive = *req.Exclusive
	}
	conflicts, err := h.svc.CheckConflicts(r.Context(), req.Project, req.Agent, req.Pattern, exclusive)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conflicts": newAPIReservations(conflicts)})
}
