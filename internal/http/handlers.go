package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mistakeknot/interlock/internal/auth"
	"github.com/mistakeknot/interlock/internal/core"
	"github.com/mistakeknot/interlock/internal/postmaster"
)

// Handler adapts the coordination service to HTTP. It owns no state of its
// own; every request is a single service call.
type Handler struct {
	svc *postmaster.Service
}

func NewHandler(svc *postmaster.Service) *Handler {
	return &Handler{svc: svc}
}

// decodeJSON reads a request body into v. Bodies are capped at 1 MiB; a
// malformed body answers 400 and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "malformed json body", Code: "invalid"})
		return false
	}
	return true
}

// allowProject rejects API keys scoped to a different project. Localhost
// callers act in any project. An empty project passes through so the
// service can answer with its own validation error.
func allowProject(w http.ResponseWriter, r *http.Request, project string) bool {
	if project == "" {
		return true
	}
	info, ok := auth.FromContext(r.Context())
	if !ok {
		return true
	}
	if info.Mode == auth.ModeAPIKey && info.Project != project {
		writeJSON(w, http.StatusForbidden, apiError{Error: "key not valid for project " + project, Code: "forbidden"})
		return false
	}
	return true
}

// allowCrossProject gates endpoints whose scope spans projects, such as
// products and sibling suggestions. Project-scoped API keys are refused.
func allowCrossProject(w http.ResponseWriter, r *http.Request) bool {
	info, ok := auth.FromContext(r.Context())
	if !ok {
		return true
	}
	if info.Mode == auth.ModeAPIKey {
		writeJSON(w, http.StatusForbidden, apiError{Error: "cross-project endpoint requires local access", Code: "forbidden"})
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid id", Code: "invalid"})
		return 0, false
	}
	return id, true
}

func queryBool(r *http.Request, name string) bool {
	switch strings.ToLower(r.URL.Query().Get(name)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func queryInt(r *http.Request, name string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0
	}
	return n
}

// apiAgent is an agent plus the fields the wire needs that the row alone
// does not carry: the project slug and the derived lifecycle state.
type apiAgent struct {
	core.Agent
	Project string `json:"project"`
	State   string `json:"state"`
}

func newAPIAgent(project string, a *core.Agent) apiAgent {
	return apiAgent{Agent: *a, Project: project, State: string(a.State())}
}

// apiReservation is a reservation plus its derived state at render time.
type apiReservation struct {
	core.FileReservation
	State string `json:"state"`
}

func newAPIReservation(rs core.FileReservation, now time.Time) apiReservation {
	return apiReservation{FileReservation: rs, State: string(rs.State(now))}
}

func newAPIReservations(rss []core.FileReservation) []apiReservation {
	now := time.Now().UTC()
	out := make([]apiReservation, 0, len(rss))
	for _, rs := range rss {
		out = append(out, newAPIReservation(rs, now))
	}
	return out
}
