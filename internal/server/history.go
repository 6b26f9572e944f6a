package server

import (
	"context"
	"fmt"
	"time"

	"github.com/alfredjeanlab/gamecfg/internal/model"
	"github.com/alfredjeanlab/gamecfg/internal/store"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// queryHistory returns the audit entries for one config or one rule. The
// store yields lazily; at most q.Limit entries are collected.
func (s *ConfigServer) queryHistory(ctx context.Context, q model.HistoryQuery) ([]*model.HistoryEntry, error) {
	if s.store == nil {
		return nil, errReadOnly
	}
	if (q.ConfigID == "") == (q.RuleID == "") {
		return nil, inputError("exactly one of config_id and rule_id is required")
	}
	if !q.Since.IsZero() && !q.Until.IsZero() && q.Until.Before(q.Since) {
		return nil, inputError("until must not be before since")
	}
	switch {
	case q.Limit <= 0:
		q.Limit = defaultHistoryLimit
	case q.Limit > maxHistoryLimit:
		q.Limit = maxHistoryLimit
	}

	entries := make([]*model.HistoryEntry, 0)
	for e, err := range s.store.QueryHistory(ctx, q) {
		if err != nil {
			return nil, fmt.Errorf("query history: %w", err)
		}
		entries = append(entries, e)
		if len(entries) == q.Limit {
			break
		}
	}
	return entries, nil
}

// rollbackInput selects the history entry and side to restore.
type rollbackInput struct {
	EntryID         int64                `json:"entry_id"`
	Target          model.RollbackTarget `json:"target"`
	ExpectedVersion int64                `json:"expected_version"`
	Actor           string               `json:"actor"`
	Reason          string               `json:"reason"`
}

// rollback restores the state recorded on one side of a history entry. The
// state is validated again as if it were a new deploy, and the rollback is
// itself appended to history; earlier entries are never edited.
func (s *ConfigServer) rollback(ctx context.Context, configID string, in rollbackInput) (*model.Config, error) {
	target := in.Target
	if target == "" {
		target = model.RollbackToNew
	}
	if target != model.RollbackToNew && target != model.RollbackToPrevious {
		return nil, &model.ValidationError{Errors: []model.FieldError{{
			Field: "target", Message: fmt.Sprintf("must be %q or %q", model.RollbackToNew, model.RollbackToPrevious),
		}}}
	}

	var restored *model.Config
	_, err := s.commit(ctx, "config.rollback", func(tx store.Store, now time.Time) (*change, error) {
		entry, err := tx.GetHistoryEntry(ctx, in.EntryID)
		if err != nil {
			return nil, err
		}
		if entry.ConfigID != configID {
			return nil, fmt.Errorf("history entry %d of config %s: %w", in.EntryID, configID, model.ErrNotFound)
		}
		want := entry.New
		if target == model.RollbackToPrevious {
			want = entry.Previous
		}
		if want == nil {
			return nil, &model.ValidationError{Errors: []model.FieldError{{
				Field: "target", Message: fmt.Sprintf("history entry %d has no %s state", entry.ID, target),
			}}}
		}

		cfg, rules, err := ruleContext(ctx, tx, configID, in.ExpectedVersion)
		if err != nil {
			return nil, err
		}
		st, err := model.ValidateState(want)
		if err != nil {
			return nil, err
		}
		next, after, err := applyState(ctx, tx, cfg, rules, st, in.Actor, now)
		if err != nil {
			return nil, err
		}
		next.Rules = model.SortRules(after)
		restored = next

		e := configEntry(next, model.ChangeConfigRolledBack, in.Actor, in.Reason)
		e.RollbackOf = entry.ID
		e.Previous = model.StateOf(cfg, rules)
		e.New = model.StateOf(next, after)
		return &change{entry: e, version: next.Version}, nil
	})
	if err != nil {
		return nil, err
	}
	return restored, nil
}
