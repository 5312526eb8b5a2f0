// Package guardian implements the trust boundary between channel
// adapters and the assistant backend. Every inbound message passes the
// same pipeline: parse, validate, signature check, replay check, rate
// limit, audit, forward.
package guardian

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/openpalm/openpalm/internal/audit"
	"github.com/openpalm/openpalm/internal/config"
	"github.com/openpalm/openpalm/pkg/payload"
	"github.com/openpalm/openpalm/pkg/signing"
)

// SignatureHeader carries the hex HMAC of the raw request body.
const SignatureHeader = "x-channel-signature"

const maxBodyBytes = 1 << 20

// Assistant is the LLM backend the guardian forwards accepted messages
// to. Implemented by internal/assistant.
type Assistant interface {
	CreateSession(ctx context.Context, title string) (string, error)
	SendMessage(ctx context.Context, sessionID, text string) (string, error)
}

// Server hosts the guardian HTTP surface. The channel secret table,
// nonce cache, and rate buckets are owned here; all are in-memory and
// warmed at startup.
type Server struct {
	cfg       config.GuardianConfig
	secrets   map[string]string
	assistant Assistant
	audit     *audit.Logger
	nonces    *nonceCache
	limiter   *rateLimiter
	tracer    trace.Tracer

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer wires a guardian. secrets maps channel name to shared
// secret; the map is not copied, so callers hand over ownership.
func NewServer(cfg config.GuardianConfig, secrets map[string]string, asst Assistant, auditLog *audit.Logger) *Server {
	return &Server{
		cfg:       cfg,
		secrets:   secrets,
		assistant: asst,
		audit:     auditLog,
		nonces:    newNonceCache(),
		limiter:   newRateLimiter(),
		tracer:    noop.NewTracerProvider().Tracer("guardian"),
	}
}

// SetTracer replaces the no-op tracer with a real one when telemetry is
// enabled.
func (s *Server) SetTracer(t trace.Tracer) { s.tracer = t }

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /channel/inbound", s.handleInbound)
	mux.HandleFunc("/", s.handleNotFound)
	s.mux = mux
	return mux
}

// Start begins serving until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	slog.Info("guardian starting", "addr", addr, "channels", len(s.secrets))

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("guardian server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"service": "guardian",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{"error": KindNotFound})
}

// InboundResponse is the 200 body for an accepted, answered message.
type InboundResponse struct {
	RequestID string `json:"requestId"`
	SessionID string `json:"sessionId"`
	Answer    string `json:"answer"`
	UserID    string `json:"userId"`
}

// handleInbound runs the pipeline. Each step's failure is terminal and
// maps to one classified error kind; the order is part of the contract
// (signature before replay before rate limit).
func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer.Start(r.Context(), "guardian.inbound")
	defer span.End()

	requestID := uuid.NewString()
	w.Header().Set("x-request-id", requestID)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.reject(w, span, requestID, payload.Payload{}, KindInvalidJSON)
		return
	}

	var p payload.Payload
	if err := json.Unmarshal(body, &p); err != nil {
		s.reject(w, span, requestID, p, KindInvalidJSON)
		return
	}
	if err := p.Validate(); err != nil {
		s.reject(w, span, requestID, p, err.Error())
		return
	}

	secret, ok := s.secrets[p.Channel]
	if !ok || secret == "" {
		s.reject(w, span, requestID, p, KindChannelNotConfigured)
		return
	}

	if !signing.Verify([]byte(secret), body, r.Header.Get(SignatureHeader)) {
		s.reject(w, span, requestID, p, KindInvalidSignature)
		return
	}

	if !s.nonces.check(p.Nonce, p.Timestamp) {
		s.reject(w, span, requestID, p, KindReplayDetected)
		return
	}

	if !s.limiter.allowUser(p.UserID) || !s.limiter.allowChannel(p.Channel) {
		s.reject(w, span, requestID, p, KindRateLimited)
		return
	}

	span.SetAttributes(
		attribute.String("channel", p.Channel),
		attribute.String("request_id", requestID),
	)

	sessionID, answer, err := s.forward(ctx, requestID, p)
	if err != nil {
		slog.Error("guardian.forward", "error", err, "channel", p.Channel, "requestId", requestID)
		span.SetStatus(codes.Error, KindAssistantUnavailable)
		s.auditEntry(requestID, sessionID, p, audit.StatusError, KindAssistantUnavailable)
		writeJSON(w, httpStatusFor(KindAssistantUnavailable), map[string]string{
			"error":     KindAssistantUnavailable,
			"requestId": requestID,
		})
		return
	}

	s.auditEntry(requestID, sessionID, p, audit.StatusOK, "")
	writeJSON(w, http.StatusOK, InboundResponse{
		RequestID: requestID,
		SessionID: sessionID,
		Answer:    answer,
		UserID:    p.UserID,
	})
}

// forward creates an assistant session and posts the message. Session
// creation gets its own shorter deadline inside the client.
func (s *Server) forward(ctx context.Context, requestID string, p payload.Payload) (sessionID, answer string, err error) {
	title := fmt.Sprintf("%s:%s", p.Channel, requestID)
	sessionID, err = s.assistant.CreateSession(ctx, title)
	if err != nil {
		return "", "", fmt.Errorf("create session: %w", err)
	}
	answer, err = s.assistant.SendMessage(ctx, sessionID, p.Text)
	if err != nil {
		return sessionID, "", fmt.Errorf("send message: %w", err)
	}
	return sessionID, answer, nil
}

// reject writes the error response and records a denied audit entry.
func (s *Server) reject(w http.ResponseWriter, span trace.Span, requestID string, p payload.Payload, kind string) {
	span.SetStatus(codes.Error, kind)
	s.auditEntry(requestID, "", p, audit.StatusDenied, kind)
	writeJSON(w, httpStatusFor(kind), map[string]string{
		"error":     kind,
		"requestId": requestID,
	})
}

func (s *Server) auditEntry(requestID, sessionID string, p payload.Payload, status, reason string) {
	if s.audit == nil {
		return
	}
	err := s.audit.Append(audit.Entry{
		RequestID: requestID,
		SessionID: sessionID,
		Actor:     "guardian",
		Action:    "channel.inbound",
		Status:    status,
		Channel:   p.Channel,
		UserID:    p.UserID,
		Reason:    reason,
	})
	if err != nil {
		slog.Error("guardian.audit", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
