package assistant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openpalm/openpalm/internal/config"
)

func newMockBackend(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(config.AssistantConfig{URL: srv.URL})
}

func TestCreateSession(t *testing.T) {
	c := newMockBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/session" {
			t.Errorf("path = %q, want /session", r.URL.Path)
		}
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["title"] == "" {
			t.Error("create request missing title")
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "sess_abc-123"})
	})

	id, err := c.CreateSession(context.Background(), "api:req1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if id != "sess_abc-123" {
		t.Errorf("id = %q", id)
	}
}

func TestCreateSession_RejectsMalformedID(t *testing.T) {
	tests := []struct {
		name string
		id   string
	}{
		{"path traversal", "../../etc/passwd"},
		{"spaces", "sess 1"},
		{"empty", ""},
		{"newline", "sess\n1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newMockBackend(t, func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]string{"id": tt.id})
			})
			if _, err := c.CreateSession(context.Background(), "t"); err == nil {
				t.Errorf("accepted malformed session id %q", tt.id)
			}
		})
	}
}

func TestSendMessage_JoinsTextParts(t *testing.T) {
	c := newMockBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/session/s1/message" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req struct {
			Parts []map[string]string `json:"parts"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Parts) != 1 || req.Parts[0]["type"] != "text" {
			t.Errorf("request parts = %v", req.Parts)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"info": map[string]any{"model": "m"},
			"parts": []map[string]string{
				{"type": "text", "text": "Hello"},
				{"type": "tool", "text": "ignored-by-type"},
				{"type": "text", "text": "world"},
			},
		})
	})

	answer, err := c.SendMessage(context.Background(), "s1", "hi")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if answer != "Hello\nworld" {
		t.Errorf("answer = %q", answer)
	}
}

func TestSendMessage_Non2xx(t *testing.T) {
	c := newMockBackend(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusInternalServerError)
	})
	if _, err := c.SendMessage(context.Background(), "s1", "hi"); err == nil {
		t.Error("expected error on 500")
	}
}

func TestSendMessage_RejectsBadSessionID(t *testing.T) {
	c := New(config.AssistantConfig{URL: "http://127.0.0.1:1"})
	if _, err := c.SendMessage(context.Background(), "../admin", "hi"); err == nil {
		t.Error("accepted malformed session id")
	}
}

func TestBasicAuthForwarded(t *testing.T) {
	var gotUser, gotPass string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, _ = r.BasicAuth()
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "s1"})
	}))
	defer srv.Close()

	c := New(config.AssistantConfig{URL: srv.URL, BasicAuth: "palm:hunter2"})
	if _, err := c.CreateSession(context.Background(), "t"); err != nil {
		t.Fatal(err)
	}
	if gotUser != "palm" || gotPass != "hunter2" {
		t.Errorf("basic auth = %q:%q", gotUser, gotPass)
	}
}

func TestTimeoutDefault(t *testing.T) {
	c := New(config.AssistantConfig{URL: "http://x"})
	if c.client.Timeout.Seconds() != 120 {
		t.Errorf("default timeout = %v, want 120s", c.client.Timeout)
	}
	c = New(config.AssistantConfig{URL: "http://x", TimeoutMs: 5000})
	if c.client.Timeout.Seconds() != 5 {
		t.Errorf("configured timeout = %v, want 5s", c.client.Timeout)
	}
}
