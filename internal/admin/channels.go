package admin

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"regexp"

	"github.com/openpalm/openpalm/internal/audit"
	"github.com/openpalm/openpalm/internal/render"
	"github.com/openpalm/openpalm/internal/secrets"
	"github.com/openpalm/openpalm/internal/stack"
	"github.com/openpalm/openpalm/internal/state"
)

var channelNameRe = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

// handleChannelInstall adds a channel: template files into the config
// directory, a fresh shared secret into secrets.env, the spec entry,
// then a full re-apply. Any failure rolls every step back so the config
// directory, secrets file, and spec stay consistent.
func (s *Server) handleChannelInstall(w http.ResponseWriter, r *http.Request) {
	info := requestInfo(w, r)

	var req struct {
		Channel string            `json:"channel"`
		Env     map[string]string `json:"env,omitempty"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_json"})
		return
	}
	if !channelNameRe.MatchString(req.Channel) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid channel name"})
		return
	}
	name := req.Channel

	s.mutationMu.Lock()
	defer s.mutationMu.Unlock()

	spec := s.currentSpec()
	if _, exists := spec.Channels[name]; exists {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "channel already installed"})
		return
	}

	fail := func(status int, err error) {
		s.auditEntry(info, "channel.install", audit.StatusError, err.Error(), map[string]any{"channel": name})
		writeJSON(w, status, map[string]string{"error": err.Error()})
	}

	if err := state.RecordIntent(s.paths, "install", name); err != nil {
		fail(http.StatusInternalServerError, err)
		return
	}

	// Template files first: they are inputs to the render.
	tpl := render.TemplateFor(name)
	composePath := filepath.Join(s.paths.ConfigChannelsDir(), name+".yml")
	routePath := filepath.Join(s.paths.ConfigChannelsDir(), name+".caddy")
	written := []string{composePath}
	if err := os.WriteFile(composePath, []byte(tpl.Compose), 0o644); err != nil {
		fail(http.StatusInternalServerError, err)
		return
	}
	if len(tpl.Route) > 0 {
		if err := os.WriteFile(routePath, tpl.Route, 0o644); err != nil {
			os.Remove(composePath)
			fail(http.StatusInternalServerError, err)
			return
		}
		written = append(written, routePath)
	}

	secretKey := secrets.ChannelSecretKey(name)
	rollback := func() {
		for _, path := range written {
			os.Remove(path)
		}
		if err := secrets.RemoveFromFile(s.paths.SecretsFile(), secretKey); err != nil {
			s.auditEntry(info, "channel.install.rollback", audit.StatusError, err.Error(), map[string]any{"channel": name})
		}
	}

	if err := secrets.MergeFile(s.paths.SecretsFile(),
		map[string]string{secretKey: secrets.GenerateSecret()},
		secrets.MergeOptions{SectionHeader: "channel " + name}); err != nil {
		rollback()
		fail(http.StatusInternalServerError, err)
		return
	}

	spec.Channels[name] = stack.ChannelSpec{Env: req.Env}

	snapshot, err := s.renderAndApply(r.Context(), spec)
	if err != nil {
		rollback()
		fail(http.StatusUnprocessableEntity, err)
		return
	}
	if err := s.commitSpec(spec); err != nil {
		rollback()
		fail(http.StatusInternalServerError, err)
		return
	}
	state.ClearBackup(s.paths, name)

	s.specMu.Lock()
	s.services["channel-"+name] = "stopped"
	s.specMu.Unlock()

	if err := s.compose.Up(r.Context(), s.paths.ComposeFile(), "channel-"+name); err != nil {
		// The config mutation succeeded; a start failure is reported but
		// not rolled back.
		s.auditEntry(info, "channel.install", audit.StatusError, err.Error(), map[string]any{"channel": name, "snapshot": snapshot, "phase": "start"})
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	s.specMu.Lock()
	s.services["channel-"+name] = "running"
	s.specMu.Unlock()

	s.auditEntry(info, "channel.install", audit.StatusOK, "", map[string]any{"channel": name, "snapshot": snapshot})
	s.publish("channel.install", map[string]any{"channel": name})
	s.afterMutation(r.Context(), info, "install channel "+name)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "channel": name, "snapshot": snapshot, "requestId": info.requestID})
}

// handleChannelUninstall removes a channel. The files and the secret are
// backed up before deletion so a failed re-apply restores them
// byte-identical.
func (s *Server) handleChannelUninstall(w http.ResponseWriter, r *http.Request) {
	info := requestInfo(w, r)

	var req struct {
		Channel string `json:"channel"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_json"})
		return
	}
	if !channelNameRe.MatchString(req.Channel) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid channel name"})
		return
	}
	name := req.Channel

	s.mutationMu.Lock()
	defer s.mutationMu.Unlock()

	spec := s.currentSpec()
	if _, exists := spec.Channels[name]; !exists {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "channel not installed"})
		return
	}

	fail := func(status int, err error) {
		s.auditEntry(info, "channel.uninstall", audit.StatusError, err.Error(), map[string]any{"channel": name})
		writeJSON(w, status, map[string]string{"error": err.Error()})
	}

	if err := state.RecordIntent(s.paths, "uninstall", name); err != nil {
		fail(http.StatusInternalServerError, err)
		return
	}

	// Stop the service before its config disappears. A stop failure is
	// not fatal; the container is removed from the compose file anyway.
	if err := s.compose.Stop(r.Context(), s.paths.ComposeFile(), "channel-"+name); err != nil {
		s.auditEntry(info, "channel.uninstall", audit.StatusError, err.Error(), map[string]any{"channel": name, "phase": "stop"})
	}

	secretKey := secrets.ChannelSecretKey(name)
	savedSecrets, err := secrets.ParseFile(s.paths.SecretsFile())
	if err != nil {
		fail(http.StatusInternalServerError, err)
		return
	}

	composePath := filepath.Join(s.paths.ConfigChannelsDir(), name+".yml")
	routePath := filepath.Join(s.paths.ConfigChannelsDir(), name+".caddy")
	os.Remove(composePath)
	os.Remove(routePath)
	if err := secrets.RemoveFromFile(s.paths.SecretsFile(), secretKey); err != nil {
		fail(http.StatusInternalServerError, err)
		return
	}
	delete(spec.Channels, name)

	rollback := func() {
		if err := state.RestoreBackup(s.paths, name); err != nil {
			s.auditEntry(info, "channel.uninstall.rollback", audit.StatusError, err.Error(), map[string]any{"channel": name})
		}
		if value, ok := savedSecrets[secretKey]; ok {
			if err := secrets.MergeFile(s.paths.SecretsFile(), map[string]string{secretKey: value}, secrets.MergeOptions{}); err != nil {
				s.auditEntry(info, "channel.uninstall.rollback", audit.StatusError, err.Error(), map[string]any{"channel": name})
			}
		}
	}

	snapshot, err := s.renderAndApply(r.Context(), spec)
	if err != nil {
		rollback()
		fail(http.StatusUnprocessableEntity, err)
		return
	}
	if err := s.commitSpec(spec); err != nil {
		rollback()
		fail(http.StatusInternalServerError, err)
		return
	}
	state.ClearBackup(s.paths, name)

	s.specMu.Lock()
	delete(s.services, "channel-"+name)
	s.specMu.Unlock()

	s.auditEntry(info, "channel.uninstall", audit.StatusOK, "", map[string]any{"channel": name, "snapshot": snapshot})
	s.publish("channel.uninstall", map[string]any{"channel": name})
	s.afterMutation(r.Context(), info, "uninstall channel "+name)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "channel": name, "snapshot": snapshot, "requestId": info.requestID})
}
