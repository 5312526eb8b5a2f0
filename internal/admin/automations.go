package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/openpalm/openpalm/internal/audit"
	"github.com/openpalm/openpalm/internal/automations"
)

var automationIDRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// automationFileName resolves an API id to the on-disk file name.
func automationFileName(id string) (string, error) {
	if !automationIDRe.MatchString(id) || strings.Contains(id, "..") {
		return "", fmt.Errorf("invalid automation id")
	}
	if strings.HasSuffix(id, ".yml") || strings.HasSuffix(id, ".yaml") {
		return id, nil
	}
	return id + ".yml", nil
}

func (s *Server) handleAutomationsList(w http.ResponseWriter, r *http.Request) {
	if s.sched == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "scheduler not running"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"automations": s.sched.List()})
}

func (s *Server) handleAutomationGet(w http.ResponseWriter, r *http.Request) {
	if s.sched == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "scheduler not running"})
		return
	}
	fileName, err := automationFileName(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	cfg, ok := s.sched.Get(fileName)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"automation": cfg,
		"log":        s.sched.Log(fileName),
	})
}

func (s *Server) handleAutomationCreate(w http.ResponseWriter, r *http.Request) {
	info := requestInfo(w, r)
	if s.sched == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "scheduler not running"})
		return
	}

	var cfg automations.Config
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_json"})
		return
	}
	if cfg.FileName == "" {
		cfg.FileName = slugify(cfg.Name) + ".yml"
	}
	fileName, err := automationFileName(cfg.FileName)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	cfg.FileName = fileName

	s.mutationMu.Lock()
	defer s.mutationMu.Unlock()

	if _, exists := s.sched.Get(fileName); exists {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "automation already exists"})
		return
	}
	if err := automations.Save(s.paths.AutomationsDir(), cfg); err != nil {
		s.auditEntry(info, "automation.create", audit.StatusError, err.Error(), map[string]any{"automation": fileName})
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := s.sched.Reload(); err != nil {
		s.auditEntry(info, "automation.create", audit.StatusError, err.Error(), map[string]any{"automation": fileName})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	s.auditEntry(info, "automation.create", audit.StatusOK, "", map[string]any{"automation": fileName})
	s.publish("automation.create", map[string]any{"automation": fileName})
	s.afterMutation(r.Context(), info, "create automation "+fileName)
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "automation": cfg, "requestId": info.requestID})
}

// handleAutomationPatch overlays the request body onto the stored
// automation: only the fields present in the JSON change.
func (s *Server) handleAutomationPatch(w http.ResponseWriter, r *http.Request) {
	info := requestInfo(w, r)
	if s.sched == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "scheduler not running"})
		return
	}
	fileName, err := automationFileName(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	s.mutationMu.Lock()
	defer s.mutationMu.Unlock()

	cfg, ok := s.sched.Get(fileName)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
		return
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_json"})
		return
	}
	cfg.FileName = fileName

	if err := automations.Save(s.paths.AutomationsDir(), cfg); err != nil {
		s.auditEntry(info, "automation.update", audit.StatusError, err.Error(), map[string]any{"automation": fileName})
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := s.sched.Reload(); err != nil {
		s.auditEntry(info, "automation.update", audit.StatusError, err.Error(), map[string]any{"automation": fileName})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	s.auditEntry(info, "automation.update", audit.StatusOK, "", map[string]any{"automation": fileName})
	s.publish("automation.update", map[string]any{"automation": fileName})
	s.afterMutation(r.Context(), info, "update automation "+fileName)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "automation": cfg, "requestId": info.requestID})
}

func (s *Server) handleAutomationDelete(w http.ResponseWriter, r *http.Request) {
	info := requestInfo(w, r)
	if s.sched == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "scheduler not running"})
		return
	}
	fileName, err := automationFileName(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	s.mutationMu.Lock()
	defer s.mutationMu.Unlock()

	if _, ok := s.sched.Get(fileName); !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
		return
	}
	if err := os.Remove(filepath.Join(s.paths.AutomationsDir(), fileName)); err != nil {
		s.auditEntry(info, "automation.delete", audit.StatusError, err.Error(), map[string]any{"automation": fileName})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if err := s.sched.Reload(); err != nil {
		s.auditEntry(info, "automation.delete", audit.StatusError, err.Error(), map[string]any{"automation": fileName})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	s.auditEntry(info, "automation.delete", audit.StatusOK, "", map[string]any{"automation": fileName})
	s.publish("automation.delete", map[string]any{"automation": fileName})
	s.afterMutation(r.Context(), info, "delete automation "+fileName)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "requestId": info.requestID})
}

func (s *Server) handleAutomationRun(w http.ResponseWriter, r *http.Request) {
	info := requestInfo(w, r)
	if s.sched == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "scheduler not running"})
		return
	}
	fileName, err := automationFileName(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if _, ok := s.sched.Get(fileName); !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
		return
	}

	runErr := s.sched.RunNow(r.Context(), fileName)
	if runErr != nil {
		s.auditEntry(info, "automation.run", audit.StatusError, runErr.Error(), map[string]any{"automation": fileName})
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "error": runErr.Error(), "requestId": info.requestID})
		return
	}
	s.auditEntry(info, "automation.run", audit.StatusOK, "", map[string]any{"automation": fileName})
	s.publish("automation.run", map[string]any{"automation": fileName})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "requestId": info.requestID})
}

// slugify reduces a display name to a file-name-safe id.
func slugify(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte('-')
		}
	}
	s := strings.Trim(b.String(), "-")
	if s == "" {
		s = "automation"
	}
	return s
}
