package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mistakeknot/interlock/internal/postmaster"
)

type ensureProjectRequest struct {
	Slug     string `json:"slug"`
	HumanKey string `json:"human_key,omitempty"`
}

func (h *Handler) ensureProject(w http.ResponseWriter, r *http.Request) {
	var req ensureProjectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !allowProject(w, r, req.Slug) {
		return
	}
	project, err := h.svc.EnsureProject(r.Context(), req.Slug, req.HumanKey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (h *Handler) registerAgent(w http.ResponseWriter, r *http.Request) {
	var req postmaster.RegisterAgentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !allowProject(w, r, req.Project) {
		return
	}
	agent, err := h.svc.RegisterAgent(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newAPIAgent(req.Project, agent))
}

func (h *Handler) getAgent(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	name := chi.URLParam(r, "agent")
	if !allowProject(w, r, project) {
		return
	}
	agent, err := h.svc.GetAgent(r.Context(), project, name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newAPIAgent(project, agent))
}

func (h *Handler) heartbeat(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	name := chi.URLParam(r, "agent")
	if !allowProject(w, r, project) {
		return
	}
	agent, err := h.svc.Heartbeat(r.Context(), project, name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newAPIAgent(project, agent))
}

func (h *Handler) deregisterAgent(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	name := chi.URLParam(r, "agent")
	if !allowProject(w, r, project) {
		return
	}
	agent, err := h.svc.DeregisterAgent(r.Context(), project, name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newAPIAgent(project, agent))
}

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	if !allowProject(w, r, project) {
		return
	}
	agents, err := h.svc.ListAgents(r.Context(), project, queryBool(r, "all"))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]apiAgent, 0, len(agents))
	for i := range agents {
		out = append(out, newAPIAgent(project, &agents[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": out})
}
