// Package client provides a transport-agnostic interface for the gamecfg
// service, an HTTP/JSON implementation of the management API and a gRPC
// implementation of the evaluation API.
package client

import (
	"context"
	"encoding/json"

	"github.com/alfredjeanlab/gamecfg/internal/evalrpc"
	"github.com/alfredjeanlab/gamecfg/internal/model"
)

// Evaluator resolves config values for a client context. Both HTTPClient
// and GRPCClient implement it.
type Evaluator interface {
	Evaluate(ctx context.Context, req *evalrpc.EvaluateRequest) (*evalrpc.EvaluateResponse, error)
	EvaluateBatch(ctx context.Context, req *evalrpc.EvaluateBatchRequest) (*evalrpc.EvaluateBatchResponse, error)
	Close() error
}

// ConfigClient is the interface the gcfg CLI uses to manage configs, rules,
// drafts and history.
type ConfigClient interface {
	Evaluator

	// Configs
	CreateConfig(ctx context.Context, req *CreateConfigRequest) (*model.Config, error)
	GetConfig(ctx context.Context, id string) (*model.Config, error)
	ListConfigs(ctx context.Context, req *ListConfigsRequest) (*ListConfigsResponse, error)
	UpdateConfig(ctx context.Context, id string, req *UpdateRequest) (*model.Config, error)
	DeleteConfig(ctx context.Context, id string, meta Meta) error

	// Rules
	CreateRule(ctx context.Context, configID string, req *CreateRuleRequest) (*model.Rule, error)
	ListRules(ctx context.Context, configID string) ([]*model.Rule, error)
	UpdateRule(ctx context.Context, configID, ruleID string, req *UpdateRequest) (*model.Rule, error)
	DeleteRule(ctx context.Context, configID, ruleID string, meta Meta) error
	ReorderRules(ctx context.Context, configID string, req *ReorderRequest) ([]*model.Rule, error)

	// Drafts
	CreateDraft(ctx context.Context, configID string, req *CreateDraftRequest) (*model.Draft, error)
	GetDraft(ctx context.Context, id string) (*model.Draft, error)
	ListDrafts(ctx context.Context, configID string, status model.DraftStatus) ([]*model.Draft, error)
	UpdateDraft(ctx context.Context, id string, req *UpdateDraftRequest) (*model.Draft, error)
	SubmitDraft(ctx context.Context, id, actor string) (*model.Draft, error)
	DeployDraft(ctx context.Context, id, actor, reason string) (*model.Draft, error)
	RejectDraft(ctx context.Context, id, actor, reason string) (*model.Draft, error)

	// History
	ConfigHistory(ctx context.Context, configID string, q *HistoryRequest) ([]*model.HistoryEntry, error)
	RuleHistory(ctx context.Context, ruleID string, q *HistoryRequest) ([]*model.HistoryEntry, error)
	Rollback(ctx context.Context, configID string, req *RollbackRequest) (*model.Config, error)

	// Health
	Health(ctx context.Context) (*HealthResponse, error)
}

// Meta is the audit metadata every mutation carries. ExpectedVersion zero
// skips the optimistic version check.
type Meta struct {
	ExpectedVersion int64  `json:"expected_version,omitempty"`
	Actor           string `json:"actor,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// CreateConfigRequest holds parameters for creating a config.
type CreateConfigRequest struct {
	GameID      string            `json:"game_id"`
	Environment model.Environment `json:"environment"`
	Key         string            `json:"key"`
	Description string            `json:"description,omitempty"`
	DataType    model.DataType    `json:"data_type"`
	Value       json.RawMessage   `json:"value"`
	Schema      json.RawMessage   `json:"schema,omitempty"`
	Enabled     *bool             `json:"enabled,omitempty"`
	Actor       string            `json:"actor,omitempty"`
	Reason      string            `json:"reason,omitempty"`
}

// ListConfigsRequest holds parameters for listing configs.
type ListConfigsRequest struct {
	GameID      string
	Environment model.Environment
	KeyPrefix   string
	Enabled     *bool
	Limit       int
	Offset      int
}

// ListConfigsResponse is the response from ListConfigs.
type ListConfigsResponse struct {
	Configs []*model.Config `json:"configs"`
	Total   int             `json:"total"`
}

// UpdateRequest is a partial update. Only the fields present in Fields are
// changed; their values are raw JSON.
type UpdateRequest struct {
	Meta
	Fields map[string]json.RawMessage
}

// CreateRuleRequest holds parameters for adding a rule to a config.
type CreateRuleRequest struct {
	model.RuleSpec
	Meta
}

// ReorderRequest assigns new priorities to every rule of a config.
type ReorderRequest struct {
	Entries []model.ReorderEntry `json:"entries"`
	Meta
}

// CreateDraftRequest stages a proposal. A nil Proposed starts from the live
// state.
type CreateDraftRequest struct {
	Title    string             `json:"title,omitempty"`
	Proposed *model.ConfigState `json:"proposed,omitempty"`
	Actor    string             `json:"actor,omitempty"`
}

// UpdateDraftRequest edits a draft. Nil fields are left unchanged.
type UpdateDraftRequest struct {
	Title       *string            `json:"title,omitempty"`
	Proposed    *model.ConfigState `json:"proposed,omitempty"`
	BaseVersion int64              `json:"base_version,omitempty"`
	Actor       string             `json:"actor,omitempty"`
}

// HistoryRequest narrows a history query.
type HistoryRequest struct {
	Since      string // RFC 3339
	Until      string // RFC 3339
	Descending bool
	Limit      int
}

// RollbackRequest restores one side of a history entry.
type RollbackRequest struct {
	EntryID int64                `json:"entry_id"`
	Target  model.RollbackTarget `json:"target,omitempty"`
	Meta
}

// HealthResponse is the body of GET /v1/health.
type HealthResponse struct {
	Status       string `json:"status"`
	ReadOnly     bool   `json:"read_only"`
	SnapshotHash string `json:"snapshot_hash"`
	Configs      int    `json:"configs"`
}
