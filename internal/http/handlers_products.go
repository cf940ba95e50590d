package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type createProductRequest struct {
	Name string `json:"name"`
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	if !allowCrossProject(w, r) {
		return
	}
	var req createProductRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	product, err := h.svc.CreateProduct(r.Context(), req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

type attachProjectRequest struct {
	Project string `json:"project"`
}

func (h *Handler) attachProject(w http.ResponseWriter, r *http.Request) {
	if !allowCrossProject(w, r) {
		return
	}
	var req attachProjectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.svc.AttachProjectToProduct(r.Context(), chi.URLParam(r, "product"), req.Project); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listProductProjects(w http.ResponseWriter, r *http.Request) {
	if !allowCrossProject(w, r) {
		return
	}
	projects, err := h.svc.ListProductProjects(r.Context(), chi.URLParam(r, "product"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

func (h *Handler) productInbox(w http.ResponseWriter, r *http.Request) {
	if !allowCrossProject(w, r) {
		return
	}
	items, err := h.svc.ProductInbox(r.Context(), chi.URLParam(r, "product"), chi.URLParam(r, "agent"), queryBool(r, "unread"), queryInt(r, "limit"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": items})
}
