package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mistakeknot/interlock/internal/core"
	"github.com/mistakeknot/interlock/internal/postmaster"
)

// linkRequest is the wire form of a contact request. TTL travels as whole
// seconds; zero means the approved link never expires.
type linkRequest struct {
	FromProject string `json:"from_project"`
	FromAgent   string `json:"from_agent"`
	ToProject   string `json:"to_project"`
	ToAgent     string `json:"to_agent"`
	Reason      string `json:"reason,omitempty"`
	TTLSeconds  int64  `json:"ttl_seconds,omitempty"`
}

func (h *Handler) requestLink(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !allowProject(w, r, req.FromProject) {
		return
	}
	link, err := h.svc.RequestLink(r.Context(), postmaster.LinkRequest{
		FromProject: req.FromProject,
		FromAgent:   req.FromAgent,
		ToProject:   req.ToProject,
		ToAgent:     req.ToAgent,
		Reason:      req.Reason,
		TTL:         time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

func (h *Handler) approveLink(w http.ResponseWriter, r *http.Request) {
	h.linkAction(w, r, h.svc.ApproveLink)
}

func (h *Handler) blockLink(w http.ResponseWriter, r *http.Request) {
	h.linkAction(w, r, h.svc.BlockLink)
}

func (h *Handler) linkAction(w http.ResponseWriter, r *http.Request, act func(context.Context, string, string, int64) (*core.AgentLink, error)) {
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
	link, err := act(r.Context(), req.Project, req.Agent, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

func (h *Handler) listLinks(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	agent := chi.URLParam(r, "agent")
	if !allowProject(w, r, project) {
		return
	}
	links, err := h.svc.ListLinks(r.Context(), project, agent)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"links": links})
}

func (h *Handler) canDeliver(w http.ResponseWriter, r *http.Request) {
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	if addr, err := core.ParseAddress(from); err == nil {
		if !allowProject(w, r, addr.Project) {
			return
		}
	}
	decision, err := h.svc.CanDeliver(r.Context(), from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}
