package store

import (
	"context"
	"iter"
	"time"

	"github.com/alfredjeanlab/gamecfg/internal/model"
)

// Store defines the persistence interface for configs, their rules, drafts
// and the audit history.
//
// Lookups return model.ErrNotFound for missing records. Version-checked
// writes return model.ErrConflict when the stored version differs from the
// expected one.
type Store interface {
	// Configs
	CreateConfig(ctx context.Context, cfg *model.Config) error
	GetConfig(ctx context.Context, id string) (*model.Config, error)
	GetConfigByKey(ctx context.Context, gameID string, env model.Environment, key string) (*model.Config, error)
	ListConfigs(ctx context.Context, filter model.ConfigFilter) ([]*model.Config, int, error) // returns configs, total count, error
	// UpdateConfig writes cfg if the stored version equals cfg.Version and
	// sets cfg.Version to the new version.
	UpdateConfig(ctx context.Context, cfg *model.Config) error
	DeleteConfig(ctx context.Context, id string, expectedVersion int64) error
	// BumpConfigVersion increments the version of a config whose rule set
	// changed and returns the new version.
	BumpConfigVersion(ctx context.Context, id string, expectedVersion int64, updatedBy string, at time.Time) (int64, error)

	// Rules
	CreateRule(ctx context.Context, rule *model.Rule) error
	GetRule(ctx context.Context, id string) (*model.Rule, error)
	ListRules(ctx context.Context, configID string) ([]*model.Rule, error)
	ListAllRules(ctx context.Context) ([]*model.Rule, error)
	UpdateRule(ctx context.Context, rule *model.Rule) error
	DeleteRule(ctx context.Context, id string) error

	// Drafts
	CreateDraft(ctx context.Context, draft *model.Draft) error
	GetDraft(ctx context.Context, id string) (*model.Draft, error)
	ListDrafts(ctx context.Context, configID string, status model.DraftStatus) ([]*model.Draft, error)
	UpdateDraft(ctx context.Context, draft *model.Draft) error

	// History
	AppendHistory(ctx context.Context, entry *model.HistoryEntry) error
	GetHistoryEntry(ctx context.Context, id int64) (*model.HistoryEntry, error)
	// QueryHistory lazily yields matching entries ordered by (ChangedAt, ID).
	QueryHistory(ctx context.Context, q model.HistoryQuery) iter.Seq2[*model.HistoryEntry, error]

	// Transaction support
	RunInTransaction(ctx context.Context, fn func(tx Store) error) error
	// RunReadOnly runs fn in a read-only transaction in which every read
	// sees the same committed state.
	RunReadOnly(ctx context.Context, fn func(tx Store) error) error

	// Lifecycle
	Close() error
}
