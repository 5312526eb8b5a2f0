// Package api implements the OpenAI-compatible channel adapter. Any
// client that can speak the chat completions API can talk to the
// assistant through it; requests are normalized into signed payloads
// and answers wrapped back into the chat.completion envelope.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openpalm/openpalm/internal/channels"
	"github.com/openpalm/openpalm/internal/config"
)

const maxBodyBytes = 1 << 20

// Adapter serves POST /v1/chat/completions.
type Adapter struct {
	*channels.BaseAdapter
	bearerToken string
}

// New builds the adapter. Fails when the channel secret is missing.
func New(cfg config.HTTPAdapterConfig, guardianURL string) (*Adapter, error) {
	fwd, err := channels.NewForwarder(guardianURL, "api", cfg.Secret)
	if err != nil {
		return nil, err
	}
	return &Adapter{
		BaseAdapter: channels.NewBaseAdapter("api", fwd, nil),
		bearerToken: cfg.BearerToken,
	}, nil
}

// RegisterRoutes wires the adapter's routing table.
func (a *Adapter) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", channels.HealthHandler(a.Name()))
	mux.HandleFunc("POST /v1/chat/completions", channels.RequireBearer(a.bearerToken, a.handleChatCompletions))
}

type chatMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
	User     string        `json:"user,omitempty"`
}

type chatResponseMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatChoice struct {
	Index        int                 `json:"index"`
	Message      chatResponseMessage `json:"message"`
	FinishReason string              `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func newAPIError(message, typ string) apiError {
	var e apiError
	e.Error.Message = message
	e.Error.Type = typ
	return e
}

func (a *Adapter) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			channels.WriteJSON(w, http.StatusRequestEntityTooLarge, newAPIError("request body too large", "invalid_request_error"))
			return
		}
		channels.WriteJSON(w, http.StatusBadRequest, newAPIError("invalid JSON body", "invalid_request_error"))
		return
	}

	if req.Stream {
		channels.WriteJSON(w, http.StatusBadRequest, newAPIError("streaming is not supported", "invalid_request_error"))
		return
	}

	text := extractUserText(req.Messages)
	if text == "" {
		channels.WriteJSON(w, http.StatusBadRequest, newAPIError("no user message content", "invalid_request_error"))
		return
	}

	userID := req.User
	if userID == "" {
		userID = "anonymous"
	}

	p := a.Forwarder().NewPayload(userID, text, map[string]any{
		"model":    req.Model,
		"endpoint": "chat.completions",
	})
	reply, err := a.Forwarder().Forward(r.Context(), p)
	if err != nil {
		slog.Error("channel.api.forward", "error", err)
		if ge, ok := channels.IsGuardianRejection(err); ok {
			channels.WriteJSON(w, http.StatusBadGateway, newAPIError(ge.Kind, "upstream_error"))
			return
		}
		channels.WriteJSON(w, http.StatusBadGateway, newAPIError("assistant unavailable", "upstream_error"))
		return
	}

	channels.WriteJSON(w, http.StatusOK, chatResponse{
		ID:      "chatcmpl-" + reply.RequestID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []chatChoice{{
			Index:        0,
			Message:      chatResponseMessage{Role: "assistant", Content: reply.Answer},
			FinishReason: "stop",
		}},
	})
}

// extractUserText scans messages newest to oldest and returns the first
// user entry's text. Content is either a plain string or an array of
// typed parts; text parts are joined with newlines.
func extractUserText(messages []chatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != "user" {
			continue
		}
		raw := messages[i].Content
		if len(raw) == 0 {
			continue
		}

		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if strings.TrimSpace(s) == "" {
				return ""
			}
			return s
		}

		var parts []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		if err := json.Unmarshal(raw, &parts); err == nil {
			var texts []string
			for _, part := range parts {
				if part.Type == "text" && part.Text != "" {
					texts = append(texts, part.Text)
				}
			}
			return strings.Join(texts, "\n")
		}
		return ""
	}
	return ""
}
