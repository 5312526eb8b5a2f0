// Package channels provides the adapter layer between external
// messaging protocols and the guardian. Every adapter normalizes its
// protocol into the signed channel payload and translates the guardian
// reply back into its native envelope.
package channels

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// Adapter is the common surface of every channel adapter.
type Adapter interface {
	// Name returns the channel identifier (e.g. "api", "a2a", "chat").
	Name() string
}

// HTTPAdapter is an adapter that exposes HTTP routes. The manager gives
// each one its own listener.
type HTTPAdapter interface {
	Adapter
	RegisterRoutes(mux *http.ServeMux)
}

// SocketAdapter is an adapter that holds a long-lived client connection
// (Discord gateway, Telegram long polling) instead of serving HTTP.
type SocketAdapter interface {
	Adapter
	// Start begins receiving messages. Non-blocking after setup.
	Start(ctx context.Context) error
	// Stop gracefully shuts the connection down.
	Stop(ctx context.Context) error
	// IsRunning reports whether the adapter is processing messages.
	IsRunning() bool
}

// BaseAdapter carries the pieces every adapter shares: its name, the
// guardian forwarder, and an optional sender allowlist.
type BaseAdapter struct {
	name      string
	forwarder *Forwarder
	allowList []string
	running   bool
}

// NewBaseAdapter wires the shared adapter state.
func NewBaseAdapter(name string, fwd *Forwarder, allowList []string) *BaseAdapter {
	return &BaseAdapter{name: name, forwarder: fwd, allowList: allowList}
}

// Name returns the channel name.
func (a *BaseAdapter) Name() string { return a.name }

// Forwarder returns the guardian forwarder.
func (a *BaseAdapter) Forwarder() *Forwarder { return a.forwarder }

// IsRunning reports the running state.
func (a *BaseAdapter) IsRunning() bool { return a.running }

// SetRunning updates the running state.
func (a *BaseAdapter) SetRunning(running bool) { a.running = running }

// IsAllowed checks a sender against the allowlist. An empty allowlist
// admits everyone. Entries may carry a leading "@" for usernames.
func (a *BaseAdapter) IsAllowed(senderID string) bool {
	if len(a.allowList) == 0 {
		return true
	}
	for _, allowed := range a.allowList {
		if senderID == allowed || senderID == strings.TrimPrefix(allowed, "@") {
			return true
		}
	}
	return false
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// HealthHandler returns the static identity payload for an adapter.
func HealthHandler(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{
			"ok":      true,
			"service": "channel-" + name,
			"time":    time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// RequireBearer wraps next with bearer-token auth. An empty configured
// token disables the check.
func RequireBearer(token string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if token != "" {
			if extractBearerToken(r) != token {
				WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
		}
		next(w, r)
	}
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return auth[len(prefix):]
	}
	return ""
}
