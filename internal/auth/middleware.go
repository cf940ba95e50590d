package auth

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
)

// Mode says how the caller authenticated.
type Mode string

const (
	ModeLocalhost Mode = "localhost"
	ModeAPIKey    Mode = "api_key"
)

// Info is what the middleware learned about the caller. Project is only set
// in ModeAPIKey; AgentID is the self-declared X-Agent-ID header, used for
// ownership checks downstream.
type Info struct {
	Mode      Mode
	Project   string
	AgentID   string
	Localhost bool
}

type contextKey struct{}

// FromContext returns the caller Info stored by Middleware.
func FromContext(ctx context.Context) (Info, bool) {
	v, ok := ctx.Value(contextKey{}).(Info)
	return v, ok
}

// Middleware authenticates requests against the keyring. Loopback callers
// pass without a key when the ring allows it; everyone else needs a bearer
// key, which pins them to the key's project.
func Middleware(ring *Keyring) func(http.Handler) http.Handler {
	if ring == nil {
		ring = defaultKeyring()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, ok := identify(r, ring)
			if !ok {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized", "code": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, info)))
		})
	}
}

func identify(r *http.Request, ring *Keyring) (Info, bool) {
	agentID := strings.TrimSpace(r.Header.Get("X-Agent-ID"))
	if ring.AllowLocalhostWithoutAuth && isLocalRequest(r) {
		return Info{Mode: ModeLocalhost, AgentID: agentID, Localhost: true}, true
	}
	project, ok := bearerProject(r.Header.Get("Authorization"), ring)
	if !ok {
		return Info{}, false
	}
	return Info{Mode: ModeAPIKey, Project: project, AgentID: agentID}, true
}

// bearerProject maps an Authorization header to the key's project.
func bearerProject(header string, ring *Keyring) (string, bool) {
	scheme, key, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false
	}
	return ring.ProjectForKey(key)
}

// isLocalRequest reports whether the request came from loopback. The first
// X-Forwarded-For hop wins over the socket address, so proxied remote
// clients cannot ride the localhost bypass.
func isLocalRequest(r *http.Request) bool {
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return isLoopbackHost(strings.TrimSpace(first))
	}
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		host = h
	}
	return isLoopbackHost(strings.TrimSpace(host))
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
