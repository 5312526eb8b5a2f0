// Package chat implements the generic webhook channel adapter: a plain
// JSON POST for web UIs and scripts that don't need a protocol dialect.
package chat

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/openpalm/openpalm/internal/channels"
	"github.com/openpalm/openpalm/internal/config"
)

const maxBodyBytes = 1 << 20

// Adapter serves POST /inbound.
type Adapter struct {
	*channels.BaseAdapter
	bearerToken string
}

// New builds the adapter. Fails when the channel secret is missing.
func New(cfg config.HTTPAdapterConfig, guardianURL string) (*Adapter, error) {
	fwd, err := channels.NewForwarder(guardianURL, "chat", cfg.Secret)
	if err != nil {
		return nil, err
	}
	return &Adapter{
		BaseAdapter: channels.NewBaseAdapter("chat", fwd, nil),
		bearerToken: cfg.BearerToken,
	}, nil
}

// RegisterRoutes wires the adapter's routing table.
func (a *Adapter) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", channels.HealthHandler(a.Name()))
	mux.HandleFunc("POST /inbound", channels.RequireBearer(a.bearerToken, a.handleInbound))
}

type inboundRequest struct {
	UserID   string         `json:"userId"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (a *Adapter) handleInbound(w http.ResponseWriter, r *http.Request) {
	var req inboundRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		channels.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_json"})
		return
	}
	if req.UserID == "" || req.Text == "" {
		channels.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "userId and text required"})
		return
	}

	p := a.Forwarder().NewPayload(req.UserID, req.Text, req.Metadata)
	reply, err := a.Forwarder().Forward(r.Context(), p)
	if err != nil {
		slog.Error("channel.chat.forward", "error", err, "userId", req.UserID)
		if ge, ok := channels.IsGuardianRejection(err); ok {
			channels.WriteJSON(w, http.StatusBadGateway, map[string]string{"error": ge.Kind})
			return
		}
		channels.WriteJSON(w, http.StatusBadGateway, map[string]string{"error": "assistant_unavailable"})
		return
	}

	// Passthrough: the guardian reply shape is already the chat contract.
	channels.WriteJSON(w, http.StatusOK, reply)
}
