package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openpalm/openpalm/internal/audit"
	"github.com/openpalm/openpalm/internal/automations"
	"github.com/openpalm/openpalm/internal/bus"
	"github.com/openpalm/openpalm/internal/config"
	"github.com/openpalm/openpalm/internal/secrets"
	"github.com/openpalm/openpalm/internal/state"
	"github.com/openpalm/openpalm/internal/syncer"
)

const testToken = "test-admin-token"

func newTestAdmin(t *testing.T, token string) (*Server, *audit.Logger) {
	t.Helper()
	root := t.TempDir()
	paths := state.Paths{
		ConfigHome: filepath.Join(root, "config"),
		StateHome:  filepath.Join(root, "state"),
	}
	if err := paths.EnsureDirs(); err != nil {
		t.Fatal(err)
	}
	log, err := audit.Open(filepath.Join(paths.AuditDir(), "admin.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { log.Close() })

	s, err := NewServer(config.AdminConfig{Token: token}, paths, log, bus.New(), syncer.NopProvider{})
	if err != nil {
		t.Fatal(err)
	}
	s.SetScheduler(automations.NewScheduler(paths.AutomationsDir(), &automations.Runner{}))
	if err := s.sched.Reload(); err != nil {
		t.Fatal(err)
	}
	return s, log
}

func do(s *Server, method, path, token string, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("x-admin-token", token)
	}
	rec := httptest.NewRecorder()
	s.BuildMux().ServeHTTP(rec, req)
	return rec
}

func TestHealthNoAuth(t *testing.T) {
	s, _ := newTestAdmin(t, testToken)
	if rec := do(s, "GET", "/health", "", ""); rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	// The same routes answer under the proxy prefix.
	if rec := do(s, "GET", "/admin/health", "", ""); rec.Code != http.StatusOK {
		t.Errorf("prefixed status = %d", rec.Code)
	}
}

func TestAuth(t *testing.T) {
	s, _ := newTestAdmin(t, testToken)

	if rec := do(s, "GET", "/audit", "", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d", rec.Code)
	}
	if rec := do(s, "GET", "/audit", "wrong", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d", rec.Code)
	}
	if rec := do(s, "GET", "/audit", testToken, ""); rec.Code != http.StatusOK {
		t.Errorf("good token: status = %d", rec.Code)
	}
}

func TestAuth_FailureRateLimit(t *testing.T) {
	s, _ := newTestAdmin(t, testToken)

	// The failure limiter allows a burst of 5 bad attempts per IP.
	limited := false
	for i := 0; i < 10; i++ {
		rec := do(s, "GET", "/audit", "wrong", "")
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status = %d", i, rec.Code)
		}
	}
	if !limited {
		t.Error("repeated bad tokens never rate limited")
	}

	// Valid tokens are unaffected by the failure budget.
	if rec := do(s, "GET", "/audit", testToken, ""); rec.Code != http.StatusOK {
		t.Errorf("valid token blocked: status = %d", rec.Code)
	}
}

func TestSetup(t *testing.T) {
	s, _ := newTestAdmin(t, "")

	// Everything but /setup is refused until a token exists.
	if rec := do(s, "GET", "/audit", "", ""); rec.Code != http.StatusForbidden {
		t.Errorf("pre-setup status = %d", rec.Code)
	}

	rec := do(s, "POST", "/setup", "", `{"token":"first-token"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("setup: status = %d, body %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("x-request-id") == "" {
		t.Error("setup response missing x-request-id")
	}

	// The token persists to secrets.env.
	stored, err := secrets.ParseFile(s.paths.SecretsFile())
	if err != nil {
		t.Fatal(err)
	}
	if stored["ADMIN_TOKEN"] != "first-token" {
		t.Errorf("persisted token = %q", stored["ADMIN_TOKEN"])
	}

	// Re-running setup now requires the current token.
	if rec := do(s, "POST", "/setup", "", `{"token":"hijack"}`); rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated re-setup: status = %d", rec.Code)
	}
	if rec := do(s, "POST", "/setup", "first-token", `{"token":"second-token"}`); rec.Code != http.StatusOK {
		t.Errorf("authenticated rotation: status = %d", rec.Code)
	}
	if s.adminToken() != "second-token" {
		t.Error("token rotation not applied")
	}
}

func TestConnections(t *testing.T) {
	s, log := newTestAdmin(t, testToken)

	rec := do(s, "POST", "/connections", testToken, `{"EVIL_KEY":"x"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("disallowed key: status = %d", rec.Code)
	}

	rec = do(s, "POST", "/connections", testToken, `{"TELEGRAM_BOT_TOKEN":"tg-1","OPENMEMORY_API_KEY":"om-1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	stored, err := secrets.ParseFile(s.paths.SecretsFile())
	if err != nil {
		t.Fatal(err)
	}
	if stored["TELEGRAM_BOT_TOKEN"] != "tg-1" || stored["OPENMEMORY_API_KEY"] != "om-1" {
		t.Errorf("stored = %v", stored)
	}

	// Values stay out of the audit trail; keys are recorded.
	entries, _ := log.Tail(0)
	for _, e := range entries {
		raw, _ := json.Marshal(e)
		if strings.Contains(string(raw), "tg-1") {
			t.Error("secret value leaked into audit log")
		}
	}
}

func TestAutomationsCRUD(t *testing.T) {
	s, _ := newTestAdmin(t, testToken)

	body := `{"name":"nightly update","schedule":"@daily","action":{"type":"shell","command":["true"]}}`
	rec := do(s, "POST", "/automations", testToken, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = do(s, "GET", "/automations", testToken, "")
	var list struct {
		Automations []automations.Config `json:"automations"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Automations) != 1 || list.Automations[0].FileName != "nightly-update.yml" {
		t.Fatalf("list = %+v", list.Automations)
	}

	// Duplicate create conflicts.
	if rec := do(s, "POST", "/automations", testToken, body); rec.Code != http.StatusConflict {
		t.Errorf("duplicate create: status = %d", rec.Code)
	}

	// Patch changes only the provided fields.
	rec = do(s, "PATCH", "/automations/nightly-update", testToken, `{"schedule":"0 3 * * *"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("patch: status = %d, body %s", rec.Code, rec.Body.String())
	}
	cfg, ok := s.sched.Get("nightly-update.yml")
	if !ok || cfg.Schedule != "0 3 * * *" || cfg.Name != "nightly update" {
		t.Errorf("after patch: %+v", cfg)
	}

	// Invalid schedule is rejected, leaving the file intact.
	if rec := do(s, "PATCH", "/automations/nightly-update", testToken, `{"schedule":"99 * * * *"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad patch: status = %d", rec.Code)
	}

	// Run now executes and records.
	if rec := do(s, "POST", "/automations/nightly-update/run", testToken, ""); rec.Code != http.StatusOK {
		t.Errorf("run: status = %d", rec.Code)
	}
	rec = do(s, "GET", "/automations/nightly-update", testToken, "")
	var detail struct {
		Log []automations.ExecutionRecord `json:"log"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatal(err)
	}
	if len(detail.Log) != 1 || !detail.Log[0].OK {
		t.Errorf("log = %+v", detail.Log)
	}

	if rec := do(s, "DELETE", "/automations/nightly-update", testToken, ""); rec.Code != http.StatusOK {
		t.Errorf("delete: status = %d", rec.Code)
	}
	if rec := do(s, "GET", "/automations/nightly-update", testToken, ""); rec.Code != http.StatusNotFound {
		t.Errorf("after delete: status = %d", rec.Code)
	}
}

func TestAutomationIDValidation(t *testing.T) {
	s, _ := newTestAdmin(t, testToken)
	for _, id := range []string{"..%2Fescape", ".hidden", "has%20space"} {
		rec := do(s, "GET", "/automations/"+id, testToken, "")
		if rec.Code != http.StatusBadRequest && rec.Code != http.StatusNotFound {
			t.Errorf("id %q: status = %d", id, rec.Code)
		}
	}
}

func TestArtifactsBeforeFirstApply(t *testing.T) {
	s, _ := newTestAdmin(t, testToken)
	if rec := do(s, "GET", "/artifacts", testToken, ""); rec.Code != http.StatusNotFound {
		t.Errorf("artifacts: status = %d", rec.Code)
	}
	if rec := do(s, "GET", "/artifacts/docker-compose.yml", testToken, ""); rec.Code != http.StatusNotFound {
		t.Errorf("artifact get: status = %d", rec.Code)
	}
}

func TestAuditOnDeniedMutation(t *testing.T) {
	s, log := newTestAdmin(t, "")

	// Pre-token setup hijack attempt is denied and audited once a token
	// exists.
	do(s, "POST", "/setup", "", `{"token":"t1"}`)
	do(s, "POST", "/setup", "", `{"token":"t2"}`)

	entries, _ := log.Tail(0)
	denied := 0
	for _, e := range entries {
		if e.Action == "admin.setup" && e.Status == audit.StatusDenied {
			denied++
		}
	}
	if denied != 1 {
		t.Errorf("denied setup audit entries = %d, want 1", denied)
	}
}
