package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/scenepilot/scenepilot/internal/automate"
	"github.com/scenepilot/scenepilot/internal/config"
	"github.com/scenepilot/scenepilot/internal/history"
	"github.com/scenepilot/scenepilot/internal/testutil"
)

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *testutil.TestDB) {
	t.Helper()
	db := testutil.NewTestDB(t)
	t.Cleanup(func() { db.Close() })

	if cfg == nil {
		cfg = &config.Config{}
	}
	deps := Deps{
		Config:  cfg,
		Runner:  automate.NewRunner(automate.Deps{}, automate.Policy{}, zerolog.Nop()),
		History: history.NewService(db.Conn, 100, zerolog.Nop()),
		Store:   config.NewStore(db.Conn),
		Version: "test",
	}
	return NewServer(deps, zerolog.Nop()), db
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := do(s, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
}

func TestHistoryRoundTripOverAPI(t *testing.T) {
	s, _ := newTestServer(t, nil)

	_, err := s.deps.History.Record(context.Background(), history.Outcome{
		SceneID:   "42",
		Timestamp: time.Now(),
		Success:   true,
	})
	if err != nil {
		t.Fatalf("seed history: %v", err)
	}

	rec := do(s, http.MethodGet, "/api/history?scene=42", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp history.ListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.TotalCount != 1 || resp.Items[0].SceneID != "42" {
		t.Errorf("resp = %+v", resp)
	}

	export := do(s, http.MethodGet, "/api/history/export", "")
	if export.Code != http.StatusOK {
		t.Fatalf("export status = %d", export.Code)
	}

	if rec := do(s, http.MethodDelete, "/api/history", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("clear status = %d", rec.Code)
	}

	imported := do(s, http.MethodPost, "/api/history/import", export.Body.String())
	if imported.Code != http.StatusOK {
		t.Fatalf("import status = %d, body %s", imported.Code, imported.Body.String())
	}
	var added map[string]int
	if err := json.Unmarshal(imported.Body.Bytes(), &added); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if added["added"] != 1 {
		t.Errorf("added = %d, want 1", added["added"])
	}
}

func TestProfileCRUD(t *testing.T) {
	s, _ := newTestServer(t, nil)

	body := `{"use_stashdb": true, "auto_apply": true}`
	if rec := do(s, http.MethodPut, "/api/profiles/fast", body); rec.Code != http.StatusNoContent {
		t.Fatalf("save status = %d", rec.Code)
	}

	rec := do(s, http.MethodGet, "/api/profiles/fast", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	if rec := do(s, http.MethodDelete, "/api/profiles/fast", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if rec := do(s, http.MethodGet, "/api/profiles/fast", ""); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", rec.Code)
	}
}

func TestApplyProfileSwapsRunnerPolicy(t *testing.T) {
	s, _ := newTestServer(t, nil)

	body := `{"use_stashdb": true, "auto_apply": true}`
	if rec := do(s, http.MethodPut, "/api/profiles/fast", body); rec.Code != http.StatusNoContent {
		t.Fatalf("save status = %d", rec.Code)
	}

	rec := do(s, http.MethodPost, "/api/profiles/fast/apply", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("apply status = %d: %s", rec.Code, rec.Body.String())
	}

	policy := s.deps.Runner.Policy()
	if !policy.AutoApply || !policy.UseStashDB {
		t.Errorf("policy after apply = %+v, want auto-apply with StashDB", policy)
	}
	if !s.deps.Config.Automation.AutoApply {
		t.Error("live config not overlaid by apply")
	}

	if rec := do(s, http.MethodPost, "/api/profiles/missing/apply", ""); rec.Code != http.StatusNotFound {
		t.Errorf("apply of unknown profile = %d, want 404", rec.Code)
	}
}

func TestShortcutsFallBackToDefaults(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := do(s, http.MethodGet, "/api/shortcuts", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var chords map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &chords); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if chords["automate"] == "" {
		t.Errorf("chords = %v, want defaults", chords)
	}
}

func TestConfirmEndpointValidation(t *testing.T) {
	s, _ := newTestServer(t, nil)
	s.deps.Confirmer = automate.NewPendingConfirmer(noopPublisher{}, time.Second)

	rec := do(s, http.MethodPost, "/api/confirm/abc", `{"decision":"maybe"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid decision status = %d, want 400", rec.Code)
	}

	rec = do(s, http.MethodPost, "/api/confirm/abc", `{"decision":"apply"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown id status = %d, want 404", rec.Code)
	}
}

type noopPublisher struct{}

func (noopPublisher) PublishConfirmation(automate.PendingConfirmation) {}

func TestAuthRequiredWhenConfigured(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	cfg := &config.Config{Auth: config.AuthConfig{
		PasswordHash: string(hash),
		JWTSecret:    "test-secret",
	}}
	s, _ := newTestServer(t, cfg)

	if rec := do(s, http.MethodGet, "/api/shortcuts", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", rec.Code)
	}

	if rec := do(s, http.MethodPost, "/api/login", `{"password":"wrong"}`); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad password status = %d, want 401", rec.Code)
	}

	rec := do(s, http.MethodPost, "/api/login", `{"password":"hunter2"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/shortcuts", nil)
	req.Header.Set("Authorization", "Bearer "+body["token"])
	authed := httptest.NewRecorder()
	s.Echo().ServeHTTP(authed, req)
	if authed.Code != http.StatusOK {
		t.Errorf("authenticated status = %d, want 200", authed.Code)
	}
}

func TestBatchRequiresScenes(t *testing.T) {
	s, _ := newTestServer(t, nil)

	if rec := do(s, http.MethodPost, "/api/batch", `{"sceneIds":[]}`); rec.Code != http.StatusBadRequest {
		t.Errorf("empty batch status = %d, want 400", rec.Code)
	}
}
