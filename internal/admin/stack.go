package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/openpalm/openpalm/internal/audit"
	"github.com/openpalm/openpalm/internal/render"
	"github.com/openpalm/openpalm/internal/stack"
)

// renderAndApply runs the full pipeline against the given spec: discover
// channel snippets, render, staged-swap apply. Callers hold mutationMu.
func (s *Server) renderAndApply(ctx context.Context, spec *stack.Spec) (string, error) {
	snippets, err := render.DiscoverSnippets(s.paths.ConfigChannelsDir())
	if err != nil {
		return "", err
	}
	result, err := (&render.Renderer{Spec: spec, Snippets: snippets}).Render()
	if err != nil {
		return "", err
	}
	return s.applier.Apply(ctx, result)
}

// currentSpec returns a working copy of the in-memory spec.
func (s *Server) currentSpec() *stack.Spec {
	s.specMu.RLock()
	defer s.specMu.RUnlock()
	return s.spec.Clone()
}

// commitSpec replaces the in-memory spec and persists it.
func (s *Server) commitSpec(spec *stack.Spec) error {
	if err := stack.Save(s.paths.SpecFile(), spec); err != nil {
		return err
	}
	s.specMu.Lock()
	s.spec = spec
	s.specMu.Unlock()
	return nil
}

// handleInstall renders the stack from the spec (optionally adjusting
// the exposure settings) and brings every service up.
func (s *Server) handleInstall(w http.ResponseWriter, r *http.Request) {
	info := requestInfo(w, r)

	var req struct {
		AccessScope string `json:"accessScope"`
		IngressPort int    `json:"ingressPort"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_json"})
			return
		}
	}

	s.mutationMu.Lock()
	defer s.mutationMu.Unlock()

	spec := s.currentSpec()
	if req.AccessScope != "" {
		spec.AccessScope = req.AccessScope
	}
	if req.IngressPort != 0 {
		spec.IngressPort = req.IngressPort
	}

	snapshot, err := s.renderAndApply(r.Context(), spec)
	if err != nil {
		s.auditEntry(info, "stack.install", audit.StatusError, err.Error(), nil)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	if err := s.commitSpec(spec); err != nil {
		s.auditEntry(info, "stack.install", audit.StatusError, err.Error(), nil)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if err := s.compose.Up(r.Context(), s.paths.ComposeFile()); err != nil {
		s.auditEntry(info, "stack.install", audit.StatusError, err.Error(), map[string]any{"snapshot": snapshot})
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}

	s.auditEntry(info, "stack.install", audit.StatusOK, "", map[string]any{"snapshot": snapshot})
	s.publish("stack.install", map[string]any{"accessScope": spec.AccessScope, "ingressPort": spec.IngressPort})
	s.afterMutation(r.Context(), info, "stack install")
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "snapshot": snapshot, "requestId": info.requestID})
}

// handleUpdate re-renders and re-applies the current spec, then restarts
// the stack on the new artifacts.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	info := requestInfo(w, r)

	s.mutationMu.Lock()
	defer s.mutationMu.Unlock()

	snapshot, err := s.renderAndApply(r.Context(), s.currentSpec())
	if err != nil {
		s.auditEntry(info, "stack.update", audit.StatusError, err.Error(), nil)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	if err := s.compose.Up(r.Context(), s.paths.ComposeFile()); err != nil {
		s.auditEntry(info, "stack.update", audit.StatusError, err.Error(), map[string]any{"snapshot": snapshot})
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}

	s.auditEntry(info, "stack.update", audit.StatusOK, "", map[string]any{"snapshot": snapshot})
	s.publish("stack.update", nil)
	s.afterMutation(r.Context(), info, "stack update")
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "snapshot": snapshot, "requestId": info.requestID})
}

// handleStackUninstall stops and removes the whole stack. Config and
// state directories are left in place.
func (s *Server) handleStackUninstall(w http.ResponseWriter, r *http.Request) {
	info := requestInfo(w, r)

	s.mutationMu.Lock()
	defer s.mutationMu.Unlock()

	if err := s.compose.Down(r.Context(), s.paths.ComposeFile()); err != nil {
		s.auditEntry(info, "stack.uninstall", audit.StatusError, err.Error(), nil)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}

	s.auditEntry(info, "stack.uninstall", audit.StatusOK, "", nil)
	s.publish("stack.uninstall", nil)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "requestId": info.requestID})
}

func (s *Server) handleArtifactsList(w http.ResponseWriter, r *http.Request) {
	manifest, err := s.readManifest()
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
		return
	}
	writeJSON(w, http.StatusOK, manifest)
}

func (s *Server) handleArtifactsManifest(w http.ResponseWriter, r *http.Request) {
	data, err := os.ReadFile(s.paths.ManifestFile())
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// handleArtifactGet serves one live artifact by name. Only names present
// in the manifest are served, so path traversal is structurally
// impossible.
func (s *Server) handleArtifactGet(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	manifest, err := s.readManifest()
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
		return
	}
	known := false
	for _, entry := range manifest.Artifacts {
		if entry.Name == name {
			known = true
			break
		}
	}
	if !known {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
		return
	}

	path := filepath.Join(s.paths.ArtifactsDir(), name)
	if name == render.CaddyFileName {
		path = s.paths.CaddyFile()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
		return
	}
	if strings.HasSuffix(name, ".json") {
		w.Header().Set("Content-Type", "application/json")
	} else {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	}
	w.Write(data)
}

func (s *Server) readManifest() (*render.Manifest, error) {
	data, err := os.ReadFile(s.paths.ManifestFile())
	if err != nil {
		return nil, err
	}
	var manifest render.Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, err
	}
	return &manifest, nil
}

func (s *Server) handleContainersList(w http.ResponseWriter, r *http.Request) {
	containers, err := s.compose.List(r.Context(), s.paths.ComposeFile())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"containers": containers})
}

// containerServices reads the optional service selection from the body.
func containerServices(w http.ResponseWriter, r *http.Request) ([]string, bool) {
	if r.ContentLength == 0 {
		return nil, true
	}
	var req struct {
		Services []string `json:"services"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_json"})
		return nil, false
	}
	return req.Services, true
}

func (s *Server) handleContainersUp(w http.ResponseWriter, r *http.Request) {
	s.containerAction(w, r, "containers.up", s.compose.Up)
}

func (s *Server) handleContainersDown(w http.ResponseWriter, r *http.Request) {
	s.containerAction(w, r, "containers.down", s.compose.Stop)
}

func (s *Server) handleContainersRestart(w http.ResponseWriter, r *http.Request) {
	s.containerAction(w, r, "containers.restart", s.compose.Restart)
}

func (s *Server) containerAction(w http.ResponseWriter, r *http.Request, action string, fn func(context.Context, string, ...string) error) {
	info := requestInfo(w, r)
	services, ok := containerServices(w, r)
	if !ok {
		return
	}

	s.mutationMu.Lock()
	defer s.mutationMu.Unlock()

	if err := fn(r.Context(), s.paths.ComposeFile(), services...); err != nil {
		s.auditEntry(info, action, audit.StatusError, err.Error(), map[string]any{"services": services})
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	s.auditEntry(info, action, audit.StatusOK, "", map[string]any{"services": services})
	s.publish(action, map[string]any{"services": services})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "requestId": info.requestID})
}
