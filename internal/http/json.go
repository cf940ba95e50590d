package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/mistakeknot/interlock/internal/core"
	"github.com/mistakeknot/interlock/internal/storage/sqlite"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

// apiError is the envelope every non-2xx response carries. Code names the
// taxonomy bucket so clients can branch without matching Error strings.
type apiError struct {
	Error     string                 `json:"error"`
	Code      string                 `json:"code"`
	Conflicts []core.FileReservation `json:"conflicts,omitempty"`
	Denials   []core.RecipientDenial `json:"denials,omitempty"`
}

// writeError maps the service error taxonomy onto HTTP statuses. Domain
// outcomes are the caller's problem; anything unrecognized is a 500 and
// gets logged.
func writeError(w http.ResponseWriter, err error) {
	var (
		verr *core.ValidationError
		cerr *core.ConflictError
		derr *core.DeliveryDeniedError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, apiError{Error: verr.Reason, Code: "invalid"})
	case errors.As(err, &cerr):
		writeJSON(w, http.StatusConflict, apiError{Error: cerr.Error(), Code: "conflict", Conflicts: cerr.Conflicts})
	case errors.As(err, &derr):
		writeJSON(w, http.StatusForbidden, apiError{Error: err.Error(), Code: "delivery_denied", Denials: derr.Denials})
	case errors.Is(err, core.ErrUnknownAgent):
		writeJSON(w, http.StatusNotFound, apiError{Error: err.Error(), Code: "unknown_agent"})
	case errors.Is(err, core.ErrNotFound):
		writeJSON(w, http.StatusNotFound, apiError{Error: "not found", Code: "not_found"})
	case errors.Is(err, core.ErrNotOwner):
		writeJSON(w, http.StatusForbidden, apiError{Error: "not owner", Code: "not_owner"})
	case errors.Is(err, core.ErrNotRecipient):
		writeJSON(w, http.StatusForbidden, apiError{Error: "not a recipient", Code: "not_recipient"})
	case errors.Is(err, core.ErrDuplicate):
		writeJSON(w, http.StatusConflict, apiError{Error: "already exists", Code: "duplicate"})
	case errors.Is(err, core.ErrAlreadyReleased):
		writeJSON(w, http.StatusConflict, apiError{Error: "already released", Code: "already_released"})
	case errors.Is(err, core.ErrLinkBlocked):
		writeJSON(w, http.StatusConflict, apiError{Error: "link blocked", Code: "link_blocked"})
	case errors.Is(err, core.ErrAlreadyDecided):
		writeJSON(w, http.StatusConflict, apiError{Error: "already decided", Code: "already_decided"})
	case errors.Is(err, sqlite.ErrCircuitOpen):
		writeJSON(w, http.StatusServiceUnavailable, apiError{Error: "storage unavailable", Code: "unavailable"})
	default:
		slog.Error("request failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, apiError{Error: "internal error", Code: "internal"})
	}
}
