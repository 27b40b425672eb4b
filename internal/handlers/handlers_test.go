package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/harvestmarket/audittrail/internal/audit"
	"github.com/harvestmarket/audittrail/internal/auth"
	"github.com/harvestmarket/audittrail/internal/service"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, subject string, roles ...string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":   subject,
		"roles": roles,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func newTestServer(t *testing.T) (*httptest.Server, *audit.MemoryStore) {
	t.Helper()
	store := audit.NewMemoryStore()
	app := &AppContext{
		Store:    store,
		Recorder: audit.NewRecorder(store, nil),
		Service:  service.New(store, nil, 0, 0),
	}
	r := chi.NewRouter()
	RegisterPublicRoutes(app, r)
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(testSecret))
		RegisterRoutes(app, r)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, store
}

func doJSON(t *testing.T, method, url, token string, body interface{}) *http.Response {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func TestHealthEndpointsArePublic(t *testing.T) {
	srv, _ := newTestServer(t)
	for _, path := range []string{"/health", "/ready"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: want 200, got %d", path, resp.StatusCode)
		}
	}
}

func TestRecordRequiresAuth(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/admin/audit/events", "", map[string]string{
		"scope": audit.ScopeUser, "action": audit.ActionUserSuspended,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: want 401, got %d", resp.StatusCode)
	}

	// Support can read but not record.
	supportTok := signToken(t, "support-1", auth.RoleSupport)
	resp = doJSON(t, http.MethodPost, srv.URL+"/admin/audit/events", supportTok, map[string]string{
		"scope": audit.ScopeUser, "action": audit.ActionUserSuspended,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("support record: want 403, got %d", resp.StatusCode)
	}
}

func TestRecordAcceptsAndPersists(t *testing.T) {
	srv, store := newTestServer(t)
	tok := signToken(t, "admin-1", auth.RoleAdmin)

	resp := doJSON(t, http.MethodPost, srv.URL+"/admin/audit/events", tok, map[string]interface{}{
		"scope":      audit.ScopeUser,
		"action":     audit.ActionUserSuspended,
		"reason":     "fraud review",
		"targetType": "user",
		"targetId":   "u-9",
		"diffBefore": map[string]interface{}{"email": "jane.doe@shop.io"},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("want 202, got %d", resp.StatusCode)
	}

	events, _, err := store.List(context.Background(), audit.ListFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("want 1 stored event, got %d", len(events))
	}
	ev := events[0]
	// Actor falls back to the token subject.
	if ev.Actor != "admin-1" {
		t.Fatalf("actor not taken from token: %q", ev.Actor)
	}
	diff := ev.DiffBefore.(map[string]interface{})
	if diff["email"] != "j****e@shop.io" {
		t.Fatalf("payload not redacted before storage: %v", diff["email"])
	}
	if ev.SelfHash == "" || ev.OccurredAt.IsZero() {
		t.Fatalf("event not chained: %+v", ev)
	}
}

func TestRecordRejectsBadInput(t *testing.T) {
	srv, _ := newTestServer(t)
	tok := signToken(t, "admin-1", auth.RoleSuperAdmin)

	resp := doJSON(t, http.MethodPost, srv.URL+"/admin/audit/events", tok, map[string]string{
		"action": audit.ActionUserSuspended,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing scope: want 400, got %d", resp.StatusCode)
	}
}

func TestListAndGet(t *testing.T) {
	srv, store := newTestServer(t)
	seed := &audit.AuditEvent{
		Scope:     audit.ScopeConfig,
		Action:    audit.ActionConfigSettingUpdated,
		Severity:  audit.SeverityInfo,
		Actor:     "admin-2",
		RequestID: "req-77",
	}
	if err := store.Append(context.Background(), seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	tok := signToken(t, "support-1", auth.RoleSupport)

	resp := doJSON(t, http.MethodGet, srv.URL+"/admin/audit/events?scope=CONFIG", tok, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: want 200, got %d", resp.StatusCode)
	}
	var listRes service.ListResult
	if err := json.NewDecoder(resp.Body).Decode(&listRes); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if listRes.Total != 1 || len(listRes.Events) != 1 {
		t.Fatalf("list result: %+v", listRes)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/admin/audit/events/"+seed.ID, tok, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: want 200, got %d", resp.StatusCode)
	}
	var detail service.EventDetail
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if detail.Event.ID != seed.ID {
		t.Fatalf("detail id mismatch: %s", detail.Event.ID)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/admin/audit/events/does-not-exist", tok, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing id: want 404, got %d", resp.StatusCode)
	}
}

func TestListRejectsMalformedQuery(t *testing.T) {
	srv, _ := newTestServer(t)
	tok := signToken(t, "auditor-1", auth.RoleAuditor)

	for _, q := range []string{"?from=yesterday", "?severity=LOUD", "?page=0", "?limit=-5"} {
		resp := doJSON(t, http.MethodGet, srv.URL+"/admin/audit/events"+q, tok, nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: want 400, got %d", q, resp.StatusCode)
		}
	}
}

func TestExportCSVEndpoint(t *testing.T) {
	srv, store := newTestServer(t)
	for i := 0; i < 3; i++ {
		if err := store.Append(context.Background(), &audit.AuditEvent{
			Scope: audit.ScopeOrder, Action: audit.ActionRefundPolicyChanged, Severity: audit.SeverityNotice,
		}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	tok := signToken(t, "auditor-1", auth.RoleAuditor)

	resp := doJSON(t, http.MethodPost, srv.URL+"/admin/audit/export", tok, map[string]string{"format": "csv"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export: want 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("content type: %s", ct)
	}
	var body bytes.Buffer
	if _, err := body.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(body.String()), "\n")
	if len(lines) != 4 { // header + 3 rows
		t.Fatalf("want 4 csv lines, got %d", len(lines))
	}

	// Unknown format is rejected up front.
	resp = doJSON(t, http.MethodPost, srv.URL+"/admin/audit/export", tok, map[string]string{"format": "xlsx"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad format: want 400, got %d", resp.StatusCode)
	}

	// Support cannot export.
	supportTok := signToken(t, "support-1", auth.RoleSupport)
	resp = doJSON(t, http.MethodPost, srv.URL+"/admin/audit/export", supportTok, map[string]string{"format": "csv"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("support export: want 403, got %d", resp.StatusCode)
	}
}

func TestVerifyEndpoint(t *testing.T) {
	srv, store := newTestServer(t)
	for i := 0; i < 4; i++ {
		if err := store.Append(context.Background(), &audit.AuditEvent{
			Scope: audit.ScopeSecurity, Action: audit.ActionSecretRotated, Severity: audit.SeverityCritical,
		}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	tok := signToken(t, "auditor-1", auth.RoleAuditor)
	resp := doJSON(t, http.MethodPost, srv.URL+"/admin/audit/verify", tok, map[string]string{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify: want 200, got %d", resp.StatusCode)
	}
	var report audit.VerifyReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if !report.Valid || report.CheckedCount != 4 {
		t.Fatalf("report: %+v", report)
	}

	// Admin is not allowed to verify.
	adminTok := signToken(t, "admin-1", auth.RoleAdmin)
	resp = doJSON(t, http.MethodPost, srv.URL+"/admin/audit/verify", adminTok, map[string]string{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("admin verify: want 403, got %d", resp.StatusCode)
	}
}

func TestVerifyEndpointEmptyBody(t *testing.T) {
	srv, store := newTestServer(t)
	if err := store.Append(context.Background(), &audit.AuditEvent{
		Scope: audit.ScopeConfig, Action: audit.ActionMaintenanceModeSet, Severity: audit.SeverityNotice,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// All verify fields are optional: no body means the global scope.
	tok := signToken(t, "auditor-1", auth.RoleAuditor)
	resp := doJSON(t, http.MethodPost, srv.URL+"/admin/audit/verify", tok, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("empty-body verify: want 200, got %d", resp.StatusCode)
	}
	var report audit.VerifyReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if !report.Valid || report.CheckedCount != 1 {
		t.Fatalf("report: %+v", report)
	}

	// Export still rejects an empty body, but for the missing format.
	resp = doJSON(t, http.MethodPost, srv.URL+"/admin/audit/export", tok, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty-body export: want 400, got %d", resp.StatusCode)
	}
}

func TestInvalidTokenRejected(t *testing.T) {
	srv, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/admin/audit/events", nil)
	req.Header.Set("Authorization", "Bearer not.a.token")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage token: want 401, got %d", resp.StatusCode)
	}
}
