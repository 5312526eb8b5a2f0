// Package a2a implements the Agent-to-Agent channel adapter. Peers talk
// JSON-RPC 2.0 over a single POST endpoint; each tasks/send call is
// normalized into a signed payload and the guardian answer comes back
// as a completed task with one text artifact.
package a2a

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/openpalm/openpalm/internal/channels"
	"github.com/openpalm/openpalm/internal/config"
)

const maxBodyBytes = 1 << 20

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUpstreamError  = -32000
)

// Adapter serves POST /a2a and the agent card.
type Adapter struct {
	*channels.BaseAdapter
	bearerToken string
	publicURL   string
}

// New builds the adapter. Fails when the channel secret is missing.
func New(cfg config.HTTPAdapterConfig, guardianURL, publicURL string) (*Adapter, error) {
	fwd, err := channels.NewForwarder(guardianURL, "a2a", cfg.Secret)
	if err != nil {
		return nil, err
	}
	return &Adapter{
		BaseAdapter: channels.NewBaseAdapter("a2a", fwd, nil),
		bearerToken: cfg.BearerToken,
		publicURL:   publicURL,
	}, nil
}

// RegisterRoutes wires the adapter's routing table.
func (a *Adapter) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", channels.HealthHandler(a.Name()))
	mux.HandleFunc("GET /.well-known/agent.json", a.handleAgentCard)
	mux.HandleFunc("POST /a2a", channels.RequireBearer(a.bearerToken, a.handleRPC))
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type taskPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type taskMessage struct {
	Role  string     `json:"role"`
	Parts []taskPart `json:"parts"`
}

type sendParams struct {
	ID      string      `json:"id"`
	UserID  string      `json:"userId,omitempty"`
	Message taskMessage `json:"message"`
}

type taskStatus struct {
	State string `json:"state"`
}

type taskArtifact struct {
	Parts []taskPart `json:"parts"`
}

type taskResult struct {
	ID        string         `json:"id"`
	Status    taskStatus     `json:"status"`
	Artifacts []taskArtifact `json:"artifacts"`
}

func (a *Adapter) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeRPCError(w, nil, codeParseError, "parse error")
		return
	}

	switch req.Method {
	case "tasks/send", "message/send":
	default:
		writeRPCError(w, req.ID, codeMethodNotFound, "method not found: "+req.Method)
		return
	}

	var params sendParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.ID == "" {
		writeRPCError(w, req.ID, codeInvalidParams, "invalid params: task id required")
		return
	}

	text := joinTextParts(params.Message.Parts)
	if text == "" {
		writeRPCError(w, req.ID, codeInvalidParams, "invalid params: no text parts")
		return
	}

	userID := params.UserID
	if userID == "" {
		userID = "a2a-peer"
	}

	p := a.Forwarder().NewPayload(userID, text, map[string]any{
		"rpcId":  string(req.ID),
		"taskId": params.ID,
	})
	reply, err := a.Forwarder().Forward(r.Context(), p)
	if err != nil {
		slog.Error("channel.a2a.forward", "error", err, "taskId", params.ID)
		msg := "assistant unavailable"
		if ge, ok := channels.IsGuardianRejection(err); ok {
			msg = ge.Kind
		}
		writeRPCError(w, req.ID, codeUpstreamError, msg)
		return
	}

	channels.WriteJSON(w, http.StatusOK, rpcResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: taskResult{
			ID:     params.ID,
			Status: taskStatus{State: "completed"},
			Artifacts: []taskArtifact{{
				Parts: []taskPart{{Type: "text", Text: reply.Answer}},
			}},
		},
	})
}

// handleAgentCard serves the static discovery document peers fetch
// before opening a conversation.
func (a *Adapter) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	url := a.publicURL
	if url == "" {
		url = "http://" + r.Host + "/a2a"
	}
	channels.WriteJSON(w, http.StatusOK, map[string]any{
		"name":        "OpenPalm",
		"description": "Self-hosted personal assistant",
		"url":         url,
		"capabilities": map[string]any{
			"streaming":         false,
			"pushNotifications": false,
		},
		"skills": []map[string]any{{
			"id":          "chat",
			"name":        "Chat",
			"description": "Send a message and receive a single completed reply.",
		}},
	})
}

func joinTextParts(parts []taskPart) string {
	var texts []string
	for _, part := range parts {
		if part.Type == "text" && part.Text != "" {
			texts = append(texts, part.Text)
		}
	}
	return strings.Join(texts, "\n")
}

func writeRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	channels.WriteJSON(w, http.StatusOK, rpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &rpcError{Code: code, Message: message},
	})
}
