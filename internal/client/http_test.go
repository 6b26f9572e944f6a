package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alfredjeanlab/gamecfg/internal/evalrpc"
	"github.com/alfredjeanlab/gamecfg/internal/model"
)

// testHandler captures the incoming request details and returns a canned response.
type testHandler struct {
	// captured from the request
	method      string
	path        string
	rawPath     string
	query       string
	body        string
	contentType string
	auth        string

	// canned response
	statusCode   int
	responseBody string
}

func (h *testHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.method = r.Method
	h.path = r.URL.Path
	h.rawPath = r.URL.RawPath
	h.query = r.URL.RawQuery
	h.contentType = r.Header.Get("Content-Type")
	h.auth = r.Header.Get("Authorization")
	if r.Body != nil {
		data, _ := io.ReadAll(r.Body)
		h.body = string(data)
	}

	w.Header().Set("Content-Type", "application/json")
	if h.statusCode != 0 {
		w.WriteHeader(h.statusCode)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if h.responseBody != "" {
		_, _ = w.Write([]byte(h.responseBody))
	}
}

// newTestClient creates an HTTPClient pointed at a test server with the given handler.
func newTestClient(t *testing.T, h http.Handler, token string) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL+"/", token)
}

func bodyMap(t *testing.T, body string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(body), &m); err != nil {
		t.Fatalf("request body %q: %v", body, err)
	}
	return m
}

const configJSON = `{
	"id": "cfg-abc",
	"game_id": "g1",
	"environment": "production",
	"key": "max_level",
	"data_type": "number",
	"value": 50,
	"enabled": true,
	"version": 3,
	"created_at": "2026-01-15T10:00:00Z",
	"updated_at": "2026-01-16T10:00:00Z"
}`

func TestHTTPClient_CreateConfig(t *testing.T) {
	h := &testHandler{statusCode: http.StatusCreated, responseBody: configJSON}
	c := newTestClient(t, h, "secret")

	cfg, err := c.CreateConfig(context.Background(), &CreateConfigRequest{
		GameID: "g1", Environment: model.EnvProduction, Key: "max_level",
		DataType: model.TypeNumber, Value: json.RawMessage(`50`), Actor: "alice",
	})
	if err != nil {
		t.Fatalf("CreateConfig: %v", err)
	}
	if h.method != http.MethodPost || h.path != "/v1/configs" {
		t.Errorf("request = %s %s", h.method, h.path)
	}
	if h.contentType != "application/json" || h.auth != "Bearer secret" {
		t.Errorf("headers: content-type %q, auth %q", h.contentType, h.auth)
	}
	body := bodyMap(t, h.body)
	if body["key"] != "max_level" || body["value"] != float64(50) || body["actor"] != "alice" {
		t.Errorf("body = %v", body)
	}
	if _, ok := body["enabled"]; ok {
		t.Error("unset enabled must be omitted")
	}
	if cfg.ID != "cfg-abc" || cfg.Version != 3 || string(cfg.Value) != "50" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestHTTPClient_ListConfigs(t *testing.T) {
	h := &testHandler{responseBody: `{"configs":[` + configJSON + `],"total":7}`}
	c := newTestClient(t, h, "")
	enabled := false

	resp, err := c.ListConfigs(context.Background(), &ListConfigsRequest{
		GameID: "g1", Environment: model.EnvStaging, KeyPrefix: "shop.", Enabled: &enabled, Limit: 10, Offset: 20,
	})
	if err != nil {
		t.Fatalf("ListConfigs: %v", err)
	}
	want := "enabled=false&environment=staging&game_id=g1&key_prefix=shop.&limit=10&offset=20"
	if h.query != want {
		t.Errorf("query = %q, want %q", h.query, want)
	}
	if resp.Total != 7 || len(resp.Configs) != 1 {
		t.Errorf("resp = %+v", resp)
	}
	if h.auth != "" {
		t.Errorf("unexpected auth header %q", h.auth)
	}
}

func TestHTTPClient_UpdateConfigFlattensPatch(t *testing.T) {
	h := &testHandler{responseBody: configJSON}
	c := newTestClient(t, h, "")

	_, err := c.UpdateConfig(context.Background(), "cfg/abc", &UpdateRequest{
		Meta:   Meta{ExpectedVersion: 2, Actor: "bob"},
		Fields: map[string]json.RawMessage{"value": json.RawMessage(`60`), "enabled": json.RawMessage(`false`)},
	})
	if err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}
	if h.method != http.MethodPatch || h.rawPath != "/v1/configs/cfg%2Fabc" {
		t.Errorf("request = %s %s", h.method, h.rawPath)
	}
	body := bodyMap(t, h.body)
	if body["value"] != float64(60) || body["enabled"] != false || body["expected_version"] != float64(2) || body["actor"] != "bob" {
		t.Errorf("body = %v", body)
	}
	if _, ok := body["reason"]; ok {
		t.Error("empty reason must be omitted")
	}
}

func TestHTTPClient_DeleteUsesQueryMeta(t *testing.T) {
	h := &testHandler{statusCode: http.StatusNoContent}
	c := newTestClient(t, h, "")

	if err := c.DeleteRule(context.Background(), "cfg-1", "rul-1", Meta{ExpectedVersion: 4, Reason: "cleanup"}); err != nil {
		t.Fatalf("DeleteRule: %v", err)
	}
	if h.method != http.MethodDelete || h.path != "/v1/configs/cfg-1/rules/rul-1" {
		t.Errorf("request = %s %s", h.method, h.path)
	}
	if h.query != "expected_version=4&reason=cleanup" {
		t.Errorf("query = %q", h.query)
	}
	if h.body != "" {
		t.Errorf("DELETE sent a body: %q", h.body)
	}

	if err := c.DeleteConfig(context.Background(), "cfg-1", Meta{}); err != nil {
		t.Fatalf("DeleteConfig: %v", err)
	}
	if h.path != "/v1/configs/cfg-1" || h.query != "" {
		t.Errorf("request = %s?%s", h.path, h.query)
	}
}

func TestHTTPClient_Rules(t *testing.T) {
	h := &testHandler{statusCode: http.StatusCreated, responseBody: `{"id":"rul-1","config_id":"cfg-1","priority":1,"enabled":true,"override_value":40}`}
	c := newTestClient(t, h, "")

	rule, err := c.CreateRule(context.Background(), "cfg-1", &CreateRuleRequest{
		RuleSpec: model.RuleSpec{Priority: 1, Enabled: true, OverrideValue: json.RawMessage(`40`), Countries: []string{"FR"}},
		Meta:     Meta{ExpectedVersion: 1},
	})
	if err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	if h.path != "/v1/configs/cfg-1/rules" || rule.ID != "rul-1" {
		t.Errorf("path %s, rule %+v", h.path, rule)
	}
	body := bodyMap(t, h.body)
	if body["priority"] != float64(1) || body["expected_version"] != float64(1) || body["countries"] == nil {
		t.Errorf("body = %v", body)
	}

	h.statusCode = http.StatusOK
	h.responseBody = `{"rules":[{"id":"rul-2","priority":1},{"id":"rul-1","priority":2}]}`
	rules, err := c.ReorderRules(context.Background(), "cfg-1", &ReorderRequest{
		Entries: []model.ReorderEntry{{RuleID: "rul-1", Priority: 2}, {RuleID: "rul-2", Priority: 1}},
	})
	if err != nil {
		t.Fatalf("ReorderRules: %v", err)
	}
	if h.path != "/v1/configs/cfg-1/rules/reorder" || len(rules) != 2 || rules[0].ID != "rul-2" {
		t.Errorf("path %s, rules %+v", h.path, rules)
	}
}

func TestHTTPClient_DraftActions(t *testing.T) {
	h := &testHandler{responseBody: `{"id":"dft-1","config_id":"cfg-1","status":"deployed","base_version":3}`}
	c := newTestClient(t, h, "")

	for _, tc := range []struct {
		name string
		call func() (*model.Draft, error)
		path string
		body map[string]any
	}{
		{"submit", func() (*model.Draft, error) { return c.SubmitDraft(context.Background(), "dft-1", "carol") },
			"/v1/drafts/dft-1/submit", map[string]any{"actor": "carol"}},
		{"deploy", func() (*model.Draft, error) { return c.DeployDraft(context.Background(), "dft-1", "dave", "ok") },
			"/v1/drafts/dft-1/deploy", map[string]any{"actor": "dave", "reason": "ok"}},
		{"reject", func() (*model.Draft, error) { return c.RejectDraft(context.Background(), "dft-1", "", "no") },
			"/v1/drafts/dft-1/reject", map[string]any{"reason": "no"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			d, err := tc.call()
			if err != nil {
				t.Fatalf("%s: %v", tc.name, err)
			}
			if h.method != http.MethodPost || h.path != tc.path {
				t.Errorf("request = %s %s", h.method, h.path)
			}
			body := bodyMap(t, h.body)
			if len(body) != len(tc.body) {
				t.Errorf("body = %v, want %v", body, tc.body)
			}
			for k, v := range tc.body {
				if body[k] != v {
					t.Errorf("body[%s] = %v, want %v", k, body[k], v)
				}
			}
			if d.Status != model.DraftStatusDeployed || d.BaseVersion != 3 {
				t.Errorf("draft = %+v", d)
			}
		})
	}

	h.responseBody = `{"drafts":[]}`
	if _, err := c.ListDrafts(context.Background(), "cfg-1", model.DraftStatusPending); err != nil {
		t.Fatalf("ListDrafts: %v", err)
	}
	if h.path != "/v1/configs/cfg-1/drafts" || h.query != "status=pending" {
		t.Errorf("request = %s?%s", h.path, h.query)
	}
}

func TestHTTPClient_History(t *testing.T) {
	h := &testHandler{responseBody: `{"entries":[{"id":12,"config_id":"cfg-1","change_type":"rule.updated","changed_at":"2026-02-01T00:00:00Z"}]}`}
	c := newTestClient(t, h, "")

	entries, err := c.RuleHistory(context.Background(), "rul-1", &HistoryRequest{
		Since: "2026-01-01T00:00:00Z", Descending: true, Limit: 5,
	})
	if err != nil {
		t.Fatalf("RuleHistory: %v", err)
	}
	if h.path != "/v1/rules/rul-1/history" {
		t.Errorf("path = %s", h.path)
	}
	if h.query != "limit=5&order=desc&since=2026-01-01T00%3A00%3A00Z" {
		t.Errorf("query = %q", h.query)
	}
	if len(entries) != 1 || entries[0].ID != 12 || entries[0].ChangeType != model.ChangeRuleUpdated {
		t.Errorf("entries = %+v", entries)
	}

	if _, err := c.ConfigHistory(context.Background(), "cfg-1", nil); err != nil {
		t.Fatalf("ConfigHistory: %v", err)
	}
	if h.path != "/v1/configs/cfg-1/history" || h.query != "" {
		t.Errorf("request = %s?%s", h.path, h.query)
	}

	h.responseBody = configJSON
	if _, err := c.Rollback(context.Background(), "cfg-1", &RollbackRequest{EntryID: 12, Target: model.RollbackToPrevious}); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	body := bodyMap(t, h.body)
	if body["entry_id"] != float64(12) || body["target"] != "previous" {
		t.Errorf("rollback body = %v", body)
	}
}

func TestHTTPClient_Evaluate(t *testing.T) {
	h := &testHandler{responseBody: `{"key":"max_level","value":40,"data_type":"number","matched":true,"disabled":false,"rule_id":"rul-1"}`}
	c := newTestClient(t, h, "")

	resp, err := c.Evaluate(context.Background(), &evalrpc.EvaluateRequest{
		GameID: "g1", Environment: model.EnvProduction, Key: "max_level",
		ClientContext: evalrpc.ClientContext{Platform: "iOS", Country: "FR"},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	body := bodyMap(t, h.body)
	if h.path != "/v1/evaluate" || body["platform"] != "iOS" || body["country"] != "FR" {
		t.Errorf("request %s, body %v", h.path, body)
	}
	if string(resp.Value) != "40" || !resp.Matched || resp.RuleID != "rul-1" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestHTTPClient_Errors(t *testing.T) {
	for _, tc := range []struct {
		name       string
		status     int
		body       string
		wantMsg    string
		wantFields int
		sentinel   error
	}{
		{"not found", http.StatusNotFound, `{"error":"config cfg-1: not found"}`, "HTTP 404: config cfg-1: not found", 0, model.ErrNotFound},
		{"conflict", http.StatusConflict, `{"error":"version mismatch"}`, "HTTP 409: version mismatch", 0, model.ErrConflict},
		{"validation", http.StatusBadRequest, `{"error":"validation failed","fields":[{"field":"value","message":"expected number"}]}`,
			"HTTP 400: validation failed (value: expected number)", 1, nil},
		{"plain text", http.StatusBadGateway, `upstream down`, "HTTP 502: upstream down", 0, nil},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, &testHandler{statusCode: tc.status, responseBody: tc.body}, "")
			_, err := c.GetConfig(context.Background(), "cfg-1")
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *APIError, got %T: %v", err, err)
			}
			if apiErr.StatusCode != tc.status || len(apiErr.Fields) != tc.wantFields {
				t.Errorf("apiErr = %+v", apiErr)
			}
			if err.Error() != tc.wantMsg {
				t.Errorf("Error() = %q, want %q", err.Error(), tc.wantMsg)
			}
			if tc.sentinel != nil && !errors.Is(err, tc.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false", err, tc.sentinel)
			}
		})
	}
}

func TestHTTPClient_Health(t *testing.T) {
	h := &testHandler{responseBody: `{"status":"ok","read_only":true,"snapshot_hash":"abc","configs":4}`}
	c := newTestClient(t, h, "")
	resp, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if resp.Status != "ok" || !resp.ReadOnly || resp.Configs != 4 {
		t.Errorf("resp = %+v", resp)
	}
}
