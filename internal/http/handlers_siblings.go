package httpapi

import (
	"net/http"
)

type suggestSiblingRequest struct {
	ProjectA  string  `json:"project_a"`
	ProjectB  string  `json:"project_b"`
	Score     float64 `json:"score"`
	Rationale string  `json:"rationale,omitempty"`
}

func (h *Handler) suggestSibling(w http.ResponseWriter, r *http.Request) {
	if !allowCrossProject(w, r) {
		return
	}
	var req suggestSiblingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	suggestion, err := h.svc.SuggestSibling(r.Context(), req.ProjectA, req.ProjectB, req.Score, req.Rationale)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, suggestion)
}

func (h *Handler) confirmSibling(w http.ResponseWriter, r *http.Request) {
	if !allowCrossProject(w, r) {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	suggestion, err := h.svc.ConfirmSibling(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, suggestion)
}

func (h *Handler) dismissSibling(w http.ResponseWriter, r *http.Request) {
	if !allowCrossProject(w, r) {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	suggestion, err := h.svc.DismissSibling(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, suggestion)
}

func (h *Handler) listSiblings(w http.ResponseWriter, r *http.Request) {
	if !allowCrossProject(w, r) {
		return
	}
	suggestions, err := h.svc.ListSiblings(r.Context(), r.URL.Query().Get("project"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"siblings": suggestions})
}
