// Package admin is the control-plane API: it renders and applies stack
// artifacts, manages channel lifecycles, drives the automation
// scheduler, and mediates the secrets file. Every mutation is token
// authenticated, serialized, and audited.
package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/openpalm/openpalm/internal/audit"
	"github.com/openpalm/openpalm/internal/automations"
	"github.com/openpalm/openpalm/internal/bus"
	"github.com/openpalm/openpalm/internal/config"
	"github.com/openpalm/openpalm/internal/runtime"
	"github.com/openpalm/openpalm/internal/secrets"
	"github.com/openpalm/openpalm/internal/stack"
	"github.com/openpalm/openpalm/internal/state"
	"github.com/openpalm/openpalm/internal/syncer"
)

const maxBodyBytes = 1 << 20

// Server hosts the admin HTTP surface. The in-memory spec and service
// table are owned here; mutations are serialized by mutationMu.
type Server struct {
	cfg     config.AdminConfig
	paths   state.Paths
	compose *runtime.Compose
	applier *state.Applier
	sched   *automations.Scheduler
	audit   *audit.Logger
	bus     *bus.Bus
	sync    syncer.Provider

	specMu   sync.RWMutex
	spec     *stack.Spec
	services map[string]string // service name → status

	tokenMu sync.RWMutex
	token   string

	mutationMu sync.Mutex

	failMu       sync.Mutex
	failLimiters map[string]*rate.Limiter

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer wires the control plane. The stack spec is loaded from the
// config home; a missing spec file yields the defaults.
func NewServer(cfg config.AdminConfig, paths state.Paths, auditLog *audit.Logger, eventBus *bus.Bus, syncProvider syncer.Provider) (*Server, error) {
	spec, err := stack.Load(paths.SpecFile())
	if err != nil {
		return nil, err
	}

	compose := runtime.NewCompose("")
	s := &Server{
		cfg:          cfg,
		paths:        paths,
		compose:      compose,
		applier:      &state.Applier{Paths: paths, Runtime: compose},
		audit:        auditLog,
		bus:          eventBus,
		sync:         syncProvider,
		spec:         spec,
		services:     make(map[string]string),
		token:        cfg.Token,
		failLimiters: make(map[string]*rate.Limiter),
	}
	for _, name := range spec.ChannelNames() {
		s.services["channel-"+name] = "unknown"
	}
	return s, nil
}

// SetScheduler attaches the automation scheduler after construction so
// both sides can share the admin token.
func (s *Server) SetScheduler(sched *automations.Scheduler) { s.sched = sched }

// BuildMux creates and caches the HTTP mux with all routes registered.
// Routes are also reachable under /admin for proxied deployments.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /setup", s.handleSetup)
	mux.HandleFunc("GET /audit", s.auth(s.handleAudit))
	mux.HandleFunc("GET /events", s.handleEvents)

	mux.HandleFunc("POST /install", s.auth(s.handleInstall))
	mux.HandleFunc("POST /update", s.auth(s.handleUpdate))
	mux.HandleFunc("POST /uninstall", s.auth(s.handleStackUninstall))

	mux.HandleFunc("GET /artifacts", s.auth(s.handleArtifactsList))
	mux.HandleFunc("GET /artifacts/manifest", s.auth(s.handleArtifactsManifest))
	mux.HandleFunc("GET /artifacts/{name}", s.auth(s.handleArtifactGet))

	mux.HandleFunc("GET /containers/list", s.auth(s.handleContainersList))
	mux.HandleFunc("POST /containers/up", s.auth(s.handleContainersUp))
	mux.HandleFunc("POST /containers/down", s.auth(s.handleContainersDown))
	mux.HandleFunc("POST /containers/restart", s.auth(s.handleContainersRestart))

	mux.HandleFunc("POST /channels/install", s.auth(s.handleChannelInstall))
	mux.HandleFunc("POST /channels/uninstall", s.auth(s.handleChannelUninstall))

	mux.HandleFunc("GET /automations", s.auth(s.handleAutomationsList))
	mux.HandleFunc("POST /automations", s.auth(s.handleAutomationCreate))
	mux.HandleFunc("GET /automations/{id}", s.auth(s.handleAutomationGet))
	mux.HandleFunc("PATCH /automations/{id}", s.auth(s.handleAutomationPatch))
	mux.HandleFunc("DELETE /automations/{id}", s.auth(s.handleAutomationDelete))
	mux.HandleFunc("POST /automations/{id}/run", s.auth(s.handleAutomationRun))

	mux.HandleFunc("POST /connections", s.auth(s.handleConnections))

	// The reverse proxy forwards /admin/* unchanged.
	mux.Handle("/admin/", http.StripPrefix("/admin", mux))

	s.mux = mux
	return mux
}

// Start runs startup recovery, then serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if err := s.paths.EnsureDirs(); err != nil {
		return fmt.Errorf("admin: ensure dirs: %w", err)
	}
	if err := state.CleanupStalePending(s.paths); err != nil {
		return fmt.Errorf("admin: recovery: %w", err)
	}
	if err := state.CleanupStaleConfigBackups(s.paths, s.audit); err != nil {
		return fmt.Errorf("admin: recovery: %w", err)
	}

	mux := s.BuildMux()
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	slog.Info("admin starting", "addr", addr, "channels", len(s.spec.Channels))

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("admin server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"service": "admin",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// adminToken returns the current token under the read lock.
func (s *Server) adminToken() string {
	s.tokenMu.RLock()
	defer s.tokenMu.RUnlock()
	return s.token
}

// auth wraps mutation and read handlers with token authentication.
// Failed attempts are rate-limited per remote IP so the token cannot be
// brute-forced; the compare itself is constant time.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := s.adminToken()
		if token == "" {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "admin token not configured; call /setup"})
			return
		}
		provided := r.Header.Get("x-admin-token")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
			if !s.allowFailedAttempt(r) {
				writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate_limited"})
				return
			}
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

// allowFailedAttempt charges one token from the caller IP's failure
// budget (1 attempt/sec, burst 5).
func (s *Server) allowFailedAttempt(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	s.failMu.Lock()
	defer s.failMu.Unlock()
	limiter, ok := s.failLimiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(1), 5)
		s.failLimiters[host] = limiter
	}
	return limiter.Allow()
}

// handleSetup sets the admin token. Open until a token exists; after
// that it requires auth like any other mutation.
func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	info := requestInfo(w, r)

	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil || req.Token == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "token required"})
		return
	}

	current := s.adminToken()
	if current != "" {
		provided := r.Header.Get("x-admin-token")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(current)) != 1 {
			s.auditEntry(info, "admin.setup", audit.StatusDenied, "unauthorized", nil)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
	}

	if err := secrets.MergeFile(s.paths.SecretsFile(), map[string]string{"ADMIN_TOKEN": req.Token}, secrets.MergeOptions{}); err != nil {
		s.auditEntry(info, "admin.setup", audit.StatusError, err.Error(), nil)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to persist token"})
		return
	}

	s.tokenMu.Lock()
	s.token = req.Token
	s.tokenMu.Unlock()

	s.auditEntry(info, "admin.setup", audit.StatusOK, "", nil)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "requestId": info.requestID})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	entries, err := s.audit.Tail(limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "audit read failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// requestInfo captures the per-request identity trail and stamps the
// response with the request id.
type reqInfo struct {
	requestID  string
	actor      string
	callerType string
}

func requestInfo(w http.ResponseWriter, r *http.Request) reqInfo {
	info := reqInfo{
		requestID:  uuid.NewString(),
		actor:      r.Header.Get("x-requested-by"),
		callerType: "api",
	}
	if info.actor == "" {
		info.actor = "anonymous"
	}
	if r.Header.Get("x-openpalm-ui") == "1" {
		info.callerType = "ui"
	} else if r.Header.Get("x-openpalm-automation") == "1" {
		info.callerType = "automation"
	}
	w.Header().Set("x-request-id", info.requestID)
	return info
}

func (s *Server) auditEntry(info reqInfo, action, status, reason string, extra map[string]any) {
	if s.audit == nil {
		return
	}
	if extra == nil {
		extra = map[string]any{}
	}
	extra["callerType"] = info.callerType
	err := s.audit.Append(audit.Entry{
		RequestID: info.requestID,
		Actor:     info.actor,
		Action:    action,
		Status:    status,
		Reason:    reason,
		Extra:     extra,
	})
	if err != nil {
		slog.Error("admin.audit", "error", err)
	}
}

// afterMutation runs the sync hook. Failures are audited, never
// returned: the mutation already succeeded.
func (s *Server) afterMutation(ctx context.Context, info reqInfo, message string) {
	if s.sync == nil {
		return
	}
	if err := s.sync.AfterMutation(ctx, s.paths.ConfigHome, message); err != nil {
		slog.Warn("admin.sync", "error", err)
		s.auditEntry(info, "admin.sync", audit.StatusError, err.Error(), nil)
	}
}

func (s *Server) publish(eventType string, data any) {
	if s.bus != nil {
		s.bus.Publish(eventType, data)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
