package admin

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/openpalm/openpalm/internal/audit"
	"github.com/openpalm/openpalm/internal/secrets"
)

// connectionKeys is the closed set of secrets the connections endpoint
// may write. Anything else goes through the channel install flow or is
// not writable over the API at all.
var connectionKeys = map[string]bool{
	"ASSISTANT_URL":        true,
	"ASSISTANT_BASIC_AUTH": true,
	"OPENMEMORY_URL":       true,
	"OPENMEMORY_API_KEY":   true,
	"POSTGRES_PASSWORD":    true,
	"DISCORD_BOT_TOKEN":    true,
	"TELEGRAM_BOT_TOKEN":   true,
}

// handleConnections merges allow-listed connection secrets into
// secrets.env. Values never appear in the audit log or the response.
func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	info := requestInfo(w, r)

	var updates map[string]string
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&updates); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_json"})
		return
	}
	if len(updates) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no updates"})
		return
	}

	keys := make([]string, 0, len(updates))
	for key := range updates {
		if !connectionKeys[key] {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "key not allowed: " + key})
			return
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	s.mutationMu.Lock()
	defer s.mutationMu.Unlock()

	err := secrets.MergeFile(s.paths.SecretsFile(), updates,
		secrets.MergeOptions{Uncomment: true, SectionHeader: "connections"})
	if err != nil {
		s.auditEntry(info, "connections.update", audit.StatusError, err.Error(), map[string]any{"keys": keys})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	s.auditEntry(info, "connections.update", audit.StatusOK, "", map[string]any{"keys": keys})
	s.publish("connections.update", map[string]any{"keys": keys})
	s.afterMutation(r.Context(), info, "update connections")
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "updated": keys, "requestId": info.requestID})
}
