package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/alfredjeanlab/gamecfg/internal/evalrpc"
	"github.com/alfredjeanlab/gamecfg/internal/model"
)

// HTTPClient implements ConfigClient using the gamecfg HTTP/JSON REST API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ ConfigClient = (*HTTPClient)(nil)

// NewHTTPClient creates a new HTTP client targeting the given base URL
// (e.g. "http://localhost:8080"). When token is non-empty, an Authorization
// header is set on every request.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
	}
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

// --- Configs ---

func (c *HTTPClient) CreateConfig(ctx context.Context, req *CreateConfigRequest) (*model.Config, error) {
	var cfg model.Config
	if err := c.doJSON(ctx, http.MethodPost, "/v1/configs", req, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *HTTPClient) GetConfig(ctx context.Context, id string) (*model.Config, error) {
	var cfg model.Config
	if err := c.doJSON(ctx, http.MethodGet, configPath(id), nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *HTTPClient) ListConfigs(ctx context.Context, req *ListConfigsRequest) (*ListConfigsResponse, error) {
	q := url.Values{}
	if req.GameID != "" {
		q.Set("game_id", req.GameID)
	}
	if req.Environment != "" {
		q.Set("environment", string(req.Environment))
	}
	if req.KeyPrefix != "" {
		q.Set("key_prefix", req.KeyPrefix)
	}
	if req.Enabled != nil {
		q.Set("enabled", strconv.FormatBool(*req.Enabled))
	}
	if req.Limit > 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}
	if req.Offset > 0 {
		q.Set("offset", strconv.Itoa(req.Offset))
	}

	var resp ListConfigsResponse
	if err := c.doJSON(ctx, http.MethodGet, withQuery("/v1/configs", q), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) UpdateConfig(ctx context.Context, id string, req *UpdateRequest) (*model.Config, error) {
	var cfg model.Config
	if err := c.doJSON(ctx, http.MethodPatch, configPath(id), patchBody(req), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *HTTPClient) DeleteConfig(ctx context.Context, id string, meta Meta) error {
	return c.doJSON(ctx, http.MethodDelete, withQuery(configPath(id), metaQuery(meta)), nil, nil)
}

// --- Rules ---

func (c *HTTPClient) CreateRule(ctx context.Context, configID string, req *CreateRuleRequest) (*model.Rule, error) {
	var rule model.Rule
	if err := c.doJSON(ctx, http.MethodPost, configPath(configID)+"/rules", req, &rule); err != nil {
		return nil, err
	}
	return &rule, nil
}

func (c *HTTPClient) ListRules(ctx context.Context, configID string) ([]*model.Rule, error) {
	var resp struct {
		Rules []*model.Rule `json:"rules"`
	}
	if err := c.doJSON(ctx, http.MethodGet, configPath(configID)+"/rules", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Rules, nil
}

func (c *HTTPClient) UpdateRule(ctx context.Context, configID, ruleID string, req *UpdateRequest) (*model.Rule, error) {
	var rule model.Rule
	if err := c.doJSON(ctx, http.MethodPatch, rulePath(configID, ruleID), patchBody(req), &rule); err != nil {
		return nil, err
	}
	return &rule, nil
}

func (c *HTTPClient) DeleteRule(ctx context.Context, configID, ruleID string, meta Meta) error {
	return c.doJSON(ctx, http.MethodDelete, withQuery(rulePath(configID, ruleID), metaQuery(meta)), nil, nil)
}

func (c *HTTPClient) ReorderRules(ctx context.Context, configID string, req *ReorderRequest) ([]*model.Rule, error) {
	var resp struct {
		Rules []*model.Rule `json:"rules"`
	}
	if err := c.doJSON(ctx, http.MethodPost, configPath(configID)+"/rules/reorder", req, &resp); err != nil {
		return nil, err
	}
	return resp.Rules, nil
}

// --- Drafts ---

func (c *HTTPClient) CreateDraft(ctx context.Context, configID string, req *CreateDraftRequest) (*model.Draft, error) {
	var d model.Draft
	if err := c.doJSON(ctx, http.MethodPost, configPath(configID)+"/drafts", req, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *HTTPClient) GetDraft(ctx context.Context, id string) (*model.Draft, error) {
	var d model.Draft
	if err := c.doJSON(ctx, http.MethodGet, draftPath(id), nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *HTTPClient) ListDrafts(ctx context.Context, configID string, status model.DraftStatus) ([]*model.Draft, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", string(status))
	}
	var resp struct {
		Drafts []*model.Draft `json:"drafts"`
	}
	if err := c.doJSON(ctx, http.MethodGet, withQuery(configPath(configID)+"/drafts", q), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Drafts, nil
}

func (c *HTTPClient) UpdateDraft(ctx context.Context, id string, req *UpdateDraftRequest) (*model.Draft, error) {
	var d model.Draft
	if err := c.doJSON(ctx, http.MethodPatch, draftPath(id), req, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *HTTPClient) SubmitDraft(ctx context.Context, id, actor string) (*model.Draft, error) {
	return c.draftAction(ctx, id, "submit", actor, "")
}

func (c *HTTPClient) DeployDraft(ctx context.Context, id, actor, reason string) (*model.Draft, error) {
	return c.draftAction(ctx, id, "deploy", actor, reason)
}

func (c *HTTPClient) RejectDraft(ctx context.Context, id, actor, reason string) (*model.Draft, error) {
	return c.draftAction(ctx, id, "reject", actor, reason)
}

func (c *HTTPClient) draftAction(ctx context.Context, id, action, actor, reason string) (*model.Draft, error) {
	body := map[string]string{}
	if actor != "" {
		body["actor"] = actor
	}
	if reason != "" {
		body["reason"] = reason
	}
	var d model.Draft
	if err := c.doJSON(ctx, http.MethodPost, draftPath(id)+"/"+action, body, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// --- History ---

func (c *HTTPClient) ConfigHistory(ctx context.Context, configID string, q *HistoryRequest) ([]*model.HistoryEntry, error) {
	return c.history(ctx, configPath(configID)+"/history", q)
}

func (c *HTTPClient) RuleHistory(ctx context.Context, ruleID string, q *HistoryRequest) ([]*model.HistoryEntry, error) {
	return c.history(ctx, "/v1/rules/"+url.PathEscape(ruleID)+"/history", q)
}

func (c *HTTPClient) history(ctx context.Context, path string, req *HistoryRequest) ([]*model.HistoryEntry, error) {
	q := url.Values{}
	if req != nil {
		if req.Since != "" {
			q.Set("since", req.Since)
		}
		if req.Until != "" {
			q.Set("until", req.Until)
		}
		if req.Descending {
			q.Set("order", "desc")
		}
		if req.Limit > 0 {
			q.Set("limit", strconv.Itoa(req.Limit))
		}
	}
	var resp struct {
		Entries []*model.HistoryEntry `json:"entries"`
	}
	if err := c.doJSON(ctx, http.MethodGet, withQuery(path, q), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

func (c *HTTPClient) Rollback(ctx context.Context, configID string, req *RollbackRequest) (*model.Config, error) {
	var cfg model.Config
	if err := c.doJSON(ctx, http.MethodPost, configPath(configID)+"/rollback", req, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// --- Evaluation ---

func (c *HTTPClient) Evaluate(ctx context.Context, req *evalrpc.EvaluateRequest) (*evalrpc.EvaluateResponse, error) {
	var resp evalrpc.EvaluateResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/evaluate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) EvaluateBatch(ctx context.Context, req *evalrpc.EvaluateBatchRequest) (*evalrpc.EvaluateBatchResponse, error) {
	var resp evalrpc.EvaluateBatchResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/evaluate/batch", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Health ---

func (c *HTTPClient) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- internal helpers ---

func configPath(id string) string { return "/v1/configs/" + url.PathEscape(id) }

func rulePath(configID, ruleID string) string {
	return configPath(configID) + "/rules/" + url.PathEscape(ruleID)
}

func draftPath(id string) string { return "/v1/drafts/" + url.PathEscape(id) }

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}

func metaQuery(m Meta) url.Values {
	q := url.Values{}
	if m.ExpectedVersion != 0 {
		q.Set("expected_version", strconv.FormatInt(m.ExpectedVersion, 10))
	}
	if m.Actor != "" {
		q.Set("actor", m.Actor)
	}
	if m.Reason != "" {
		q.Set("reason", m.Reason)
	}
	return q
}

// patchBody flattens an UpdateRequest into the single JSON object the
// server expects.
func patchBody(req *UpdateRequest) map[string]any {
	body := make(map[string]any, len(req.Fields)+3)
	for k, v := range req.Fields {
		body[k] = v
	}
	if req.ExpectedVersion != 0 {
		body["expected_version"] = req.ExpectedVersion
	}
	if req.Actor != "" {
		body["actor"] = req.Actor
	}
	if req.Reason != "" {
		body["reason"] = req.Reason
	}
	return body
}

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Message    string
	Fields     []model.FieldError
}

func (e *APIError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
	}
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return fmt.Sprintf("HTTP %d: %s (%s)", e.StatusCode, e.Message, strings.Join(parts, "; "))
}

// Is lets callers test API errors against the model sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case model.ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case model.ErrConflict:
		return e.StatusCode == http.StatusConflict
	}
	return false
}

// doJSON performs an HTTP request with optional JSON body and decodes the JSON response.
// If result is nil, the response body is discarded (for DELETE/204 responses).
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error  string             `json:"error"`
			Fields []model.FieldError `json:"fields"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error, Fields: errResp.Fields}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
