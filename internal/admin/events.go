package admin

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// eventWriteTimeout bounds one frame write; a client that cannot keep
// up is disconnected rather than backing up the feed.
const eventWriteTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The admin surface binds loopback or sits behind the stack's own
	// proxy; origin enforcement is the token's job.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleEvents streams control-plane events over WebSocket. Browsers
// cannot set headers on WS dials, so the token is also accepted as a
// query parameter.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	token := s.adminToken()
	if token == "" {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "admin token not configured; call /setup"})
		return
	}
	provided := r.Header.Get("x-admin-token")
	if provided == "" {
		provided = r.URL.Query().Get("token")
	}
	if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
		if !s.allowFailedAttempt(r) {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate_limited"})
			return
		}
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("admin.events.upgrade", "error", err)
		return
	}

	id := uuid.NewString()
	events := s.bus.Subscribe(id)
	defer s.bus.Unsubscribe(id)
	defer conn.Close()

	// Drain reads so pings and close frames are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.bus.Unsubscribe(id)
				return
			}
		}
	}()

	for event := range events {
		conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
		if err := conn.WriteJSON(event); err != nil {
			slog.Debug("admin.events.write", "error", err)
			return
		}
	}
}
