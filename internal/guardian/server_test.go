package guardian

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/openpalm/openpalm/internal/audit"
	"github.com/openpalm/openpalm/internal/config"
	"github.com/openpalm/openpalm/pkg/payload"
	"github.com/openpalm/openpalm/pkg/signing"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fakeAssistant struct {
	createErr error
	sendErr   error
	answer    string
	sessionID string
}

func (f *fakeAssistant) CreateSession(ctx context.Context, title string) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	if f.sessionID == "" {
		return "sess_1", nil
	}
	return f.sessionID, nil
}

func (f *fakeAssistant) SendMessage(ctx context.Context, sessionID, text string) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	return f.answer, nil
}

func newTestServer(t *testing.T, asst Assistant) (*Server, *audit.Logger) {
	t.Helper()
	log, err := audit.Open(filepath.Join(t.TempDir(), "audit.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { log.Close() })
	s := NewServer(config.GuardianConfig{}, map[string]string{"api": testSecret, "chat": testSecret}, asst, log)
	return s, log
}

func signedRequest(t *testing.T, p payload.Payload, secret string) *http.Request {
	t.Helper()
	body, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest("POST", "/channel/inbound", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signing.Sign([]byte(secret), body))
	return req
}

func doInbound(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.BuildMux().ServeHTTP(rec, req)
	return rec
}

func TestInbound_HappyPath(t *testing.T) {
	s, log := newTestServer(t, &fakeAssistant{answer: "Hello!"})

	p := payload.New("api", "alice", "Hi", map[string]any{"model": "m"})
	rec := doInbound(s, signedRequest(t, p, testSecret))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp InboundResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Answer != "Hello!" || resp.UserID != "alice" || resp.SessionID != "sess_1" || resp.RequestID == "" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if rec.Header().Get("x-request-id") != resp.RequestID {
		t.Error("x-request-id header should match body requestId")
	}

	entries, _ := log.Tail(0)
	okCount := 0
	for _, e := range entries {
		if e.Status == audit.StatusOK && e.Channel == "api" {
			okCount++
		}
	}
	if okCount != 1 {
		t.Errorf("audit ok entries = %d, want exactly 1", okCount)
	}
}

func TestInbound_ErrorKinds(t *testing.T) {
	tests := []struct {
		name       string
		request    func(t *testing.T) *http.Request
		wantStatus int
		wantKind   string
	}{
		{
			name: "invalid json",
			request: func(t *testing.T) *http.Request {
				req := httptest.NewRequest("POST", "/channel/inbound", bytes.NewReader([]byte("{not json")))
				req.Header.Set(SignatureHeader, "00")
				return req
			},
			wantStatus: http.StatusBadRequest,
			wantKind:   "invalid_json",
		},
		{
			name: "missing userId",
			request: func(t *testing.T) *http.Request {
				p := payload.New("api", "", "hi", nil)
				return signedRequest(t, p, testSecret)
			},
			wantStatus: http.StatusBadRequest,
			wantKind:   "userId_missing",
		},
		{
			name: "missing text",
			request: func(t *testing.T) *http.Request {
				p := payload.New("api", "alice", "", nil)
				return signedRequest(t, p, testSecret)
			},
			wantStatus: http.StatusBadRequest,
			wantKind:   "text_missing",
		},
		{
			name: "unknown channel",
			request: func(t *testing.T) *http.Request {
				p := payload.New("voice", "alice", "hi", nil)
				return signedRequest(t, p, testSecret)
			},
			wantStatus: http.StatusForbidden,
			wantKind:   "channel_not_configured",
		},
		{
			name: "bad signature",
			request: func(t *testing.T) *http.Request {
				p := payload.New("api", "alice", "hi", nil)
				req := signedRequest(t, p, testSecret)
				req.Header.Set(SignatureHeader, "0000000000000000000000000000000000000000000000000000000000000000")
				return req
			},
			wantStatus: http.StatusForbidden,
			wantKind:   "invalid_signature",
		},
		{
			name: "missing signature header",
			request: func(t *testing.T) *http.Request {
				p := payload.New("api", "alice", "hi", nil)
				req := signedRequest(t, p, testSecret)
				req.Header.Del(SignatureHeader)
				return req
			},
			wantStatus: http.StatusForbidden,
			wantKind:   "invalid_signature",
		},
		{
			name: "stale timestamp",
			request: func(t *testing.T) *http.Request {
				p := payload.New("api", "alice", "hi", nil)
				p.Timestamp = time.Now().Add(-clockSkew - time.Minute).UnixMilli()
				return signedRequest(t, p, testSecret)
			},
			wantStatus: http.StatusConflict,
			wantKind:   "replay_detected",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, log := newTestServer(t, &fakeAssistant{answer: "x"})
			rec := doInbound(s, tt.request(t))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("response not JSON: %v", err)
			}
			if body["error"] != tt.wantKind {
				t.Errorf("error = %q, want %q", body["error"], tt.wantKind)
			}
			if body["requestId"] == "" {
				t.Error("error body missing requestId")
			}

			entries, _ := log.Tail(0)
			for _, e := range entries {
				if e.Status == audit.StatusOK {
					t.Error("denied request produced an ok audit entry")
				}
			}
		})
	}
}

func TestInbound_Replay(t *testing.T) {
	s, _ := newTestServer(t, &fakeAssistant{answer: "x"})

	p := payload.New("api", "alice", "hi", nil)
	body, _ := json.Marshal(p)
	sig := signing.Sign([]byte(testSecret), body)

	mk := func() *http.Request {
		req := httptest.NewRequest("POST", "/channel/inbound", bytes.NewReader(body))
		req.Header.Set(SignatureHeader, sig)
		return req
	}

	if rec := doInbound(s, mk()); rec.Code != http.StatusOK {
		t.Fatalf("first submission: status = %d", rec.Code)
	}
	rec := doInbound(s, mk())
	if rec.Code != http.StatusConflict {
		t.Errorf("replay: status = %d, want 409", rec.Code)
	}
	var bodyMap map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &bodyMap)
	if bodyMap["error"] != "replay_detected" {
		t.Errorf("replay error = %q", bodyMap["error"])
	}
}

func TestInbound_RateLimitEdge(t *testing.T) {
	s, log := newTestServer(t, &fakeAssistant{answer: "x"})
	base := time.Now()
	s.limiter.now = func() time.Time { return base }

	for i := 1; i <= userRateLimit; i++ {
		p := payload.New("api", "alice", "hi", nil)
		rec := doInbound(s, signedRequest(t, p, testSecret))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, rec.Code)
		}
	}

	p := payload.New("api", "alice", "hi", nil)
	rec := doInbound(s, signedRequest(t, p, testSecret))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("request %d: status = %d, want 429", userRateLimit+1, rec.Code)
	}

	entries, _ := log.Tail(0)
	denied := 0
	for _, e := range entries {
		if e.Status == audit.StatusDenied && e.Reason == "rate_limited" {
			denied++
		}
	}
	if denied != 1 {
		t.Errorf("denied audit entries = %d, want 1", denied)
	}

	// A new window resets acceptance.
	s.limiter.now = func() time.Time { return base.Add(rateLimitWindow + time.Second) }
	p = payload.New("api", "alice", "hi", nil)
	if rec := doInbound(s, signedRequest(t, p, testSecret)); rec.Code != http.StatusOK {
		t.Errorf("after window: status = %d, want 200", rec.Code)
	}
}

func TestInbound_AssistantUnavailable(t *testing.T) {
	tests := []struct {
		name string
		asst *fakeAssistant
	}{
		{"create fails", &fakeAssistant{createErr: errors.New("conn refused")}},
		{"send fails", &fakeAssistant{sendErr: errors.New("timeout")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, log := newTestServer(t, tt.asst)
			p := payload.New("api", "alice", "hi", nil)
			rec := doInbound(s, signedRequest(t, p, testSecret))

			if rec.Code != http.StatusBadGateway {
				t.Errorf("status = %d, want 502", rec.Code)
			}
			var body map[string]string
			_ = json.Unmarshal(rec.Body.Bytes(), &body)
			if body["error"] != "assistant_unavailable" {
				t.Errorf("error = %q", body["error"])
			}

			entries, _ := log.Tail(0)
			if len(entries) != 1 || entries[0].Status != audit.StatusError {
				t.Errorf("want one error audit entry, got %+v", entries)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, &fakeAssistant{})
	rec := httptest.NewRecorder()
	s.BuildMux().ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["ok"] != true || body["service"] != "guardian" {
		t.Errorf("unexpected health body: %v", body)
	}
}

func TestUnknownPath(t *testing.T) {
	s, _ := newTestServer(t, &fakeAssistant{})
	rec := httptest.NewRecorder()
	s.BuildMux().ServeHTTP(rec, httptest.NewRequest("GET", "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
