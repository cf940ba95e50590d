package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mistakeknot/interlock/internal/core"
	"github.com/mistakeknot/interlock/internal/postmaster"
)

func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req postmaster.SendRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !allowProject(w, r, req.Project) {
		return
	}
	sent, err := h.svc.Send(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sent)
}

// deliveryActionRequest identifies the recipient acting on a message.
type deliveryActionRequest struct {
	Project string `json:"project"`
	Agent   string `json:"agent"`
}

func (h *Handler) getMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	project := r.URL.Query().Get("project")
	agent := r.URL.Query().Get("agent")
	if !allowProject(w, r, project) {
		return
	}
	view, err := h.svc.GetMessage(r.Context(), project, agent, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	h.deliveryAction(w, r, h.svc.MarkRead)
}

func (h *Handler) markAck(w http.ResponseWriter, r *http.Request) {
	h.deliveryAction(w, r, h.svc.MarkAck)
}

func (h *Handler) deliveryAction(w http.ResponseWriter, r *http.Request, act func(context.Context, string, string, int64) (*core.MessageRecipient, error)) {
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
	rec, err := act(r.Context(), req.Project, req.Agent, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) inbox(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	agent := chi.URLParam(r, "agent")
	if !allowProject(w, r, project) {
		return
	}
	items, err := h.svc.Inbox(r.Context(), project, agent, queryBool(r, "unread"), queryInt(r, "limit"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": items})
}

func (h *Handler) thread(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	thread := chi.URLParam(r, "thread")
	if !allowProject(w, r, project) {
		return
	}
	msgs, err := h.svc.ThreadMessages(r.Context(), project, thread)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}
