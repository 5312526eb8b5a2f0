package chat

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openpalm/openpalm/internal/channels"
	"github.com/openpalm/openpalm/internal/config"
)

func newTestAdapter(t *testing.T, guardianURL, bearer string) http.Handler {
	t.Helper()
	a, err := New(config.HTTPAdapterConfig{Secret: "s3cret", BearerToken: bearer}, guardianURL)
	if err != nil {
		t.Fatal(err)
	}
	mux := http.NewServeMux()
	a.RegisterRoutes(mux)
	return mux
}

func TestInboundPassthrough(t *testing.T) {
	guardian := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-channel-signature") == "" {
			t.Error("missing signature")
		}
		json.NewEncoder(w).Encode(channels.Reply{
			RequestID: "req-1", SessionID: "sess-1", Answer: "hello back", UserID: "u1",
		})
	}))
	defer guardian.Close()

	mux := newTestAdapter(t, guardian.URL, "")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/inbound", strings.NewReader(`{"userId":"u1","text":"hi"}`)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var reply channels.Reply
	if err := json.Unmarshal(rec.Body.Bytes(), &reply); err != nil {
		t.Fatal(err)
	}
	if reply.Answer != "hello back" || reply.SessionID != "sess-1" || reply.UserID != "u1" {
		t.Errorf("reply = %+v", reply)
	}
}

func TestInboundValidation(t *testing.T) {
	mux := newTestAdapter(t, "http://guardian:8710", "")

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{nope`},
		{"missing userId", `{"text":"hi"}`},
		{"missing text", `{"userId":"u1"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest("POST", "/inbound", strings.NewReader(tt.body)))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d", rec.Code)
			}
		})
	}
}

func TestGuardianRejectionMapsToKind(t *testing.T) {
	guardian := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{"error": "rate_limited", "requestId": "r1"})
	}))
	defer guardian.Close()

	mux := newTestAdapter(t, guardian.URL, "")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/inbound", strings.NewReader(`{"userId":"u1","text":"hi"}`)))

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d", rec.Code)
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["error"] != "rate_limited" {
		t.Errorf("error = %q", body["error"])
	}
}

func TestBearerAuth(t *testing.T) {
	mux := newTestAdapter(t, "http://guardian:8710", "tok")

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/inbound", strings.NewReader(`{"userId":"u1","text":"hi"}`)))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no bearer: status = %d", rec.Code)
	}

	req := httptest.NewRequest("POST", "/inbound", strings.NewReader(`{nope`))
	req.Header.Set("Authorization", "Bearer tok")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("with bearer: status = %d", rec.Code)
	}
}
