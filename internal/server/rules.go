package server

import (
	"context"
	"fmt"
	"time"

	"github.com/alfredjeanlab/gamecfg/internal/idgen"
	"github.com/alfredjeanlab/gamecfg/internal/model"
	"github.com/alfredjeanlab/gamecfg/internal/store"
)

// createRuleInput holds transport-agnostic parameters for adding a rule.
type createRuleInput struct {
	model.RuleSpec
	ExpectedVersion int64  `json:"expected_version"`
	Actor           string `json:"actor"`
	Reason          string `json:"reason"`
}

// ruleContext loads a config and its rules for a rule mutation, checking the
// expected version.
func ruleContext(ctx context.Context, tx store.Store, configID string, expected int64) (*model.Config, []*model.Rule, error) {
	cfg, err := tx.GetConfig(ctx, configID)
	if err != nil {
		return nil, nil, err
	}
	if err := checkVersion(cfg, expected); err != nil {
		return nil, nil, err
	}
	rules, err := tx.ListRules(ctx, configID)
	if err != nil {
		return nil, nil, fmt.Errorf("list rules: %w", err)
	}
	return cfg, rules, nil
}

// findRule returns the rule with id among rules, or ErrNotFound. A rule of
// another config is reported as not found.
func findRule(rules []*model.Rule, configID, id string) (int, error) {
	for i, r := range rules {
		if r.ID == id {
			return i, nil
		}
	}
	return -1, fmt.Errorf("rule %s of config %s: %w", id, configID, model.ErrNotFound)
}

// bumpAndRecord increments the config version for a rule-set change and
// builds its history entry.
func bumpAndRecord(ctx context.Context, tx store.Store, cfg *model.Config, before, after []*model.Rule, ct model.ChangeType, ruleID, actor, reason string, now time.Time) (*change, error) {
	v, err := tx.BumpConfigVersion(ctx, cfg.ID, cfg.Version, actor, now)
	if err != nil {
		return nil, fmt.Errorf("bump config version: %w", err)
	}
	e := configEntry(cfg, ct, actor, reason)
	e.RuleID = ruleID
	e.Previous = model.StateOf(cfg, before)
	e.New = model.StateOf(cfg, after)
	return &change{entry: e, version: v}, nil
}

// createRule validates a rule against its config and the rest of the rule
// set and stores it.
func (s *ConfigServer) createRule(ctx context.Context, configID string, in createRuleInput) (*model.Rule, error) {
	id, err := idgen.RuleID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate ID: %w", err)
	}

	var created *model.Rule
	_, err = s.commit(ctx, "rule.create", func(tx store.Store, now time.Time) (*change, error) {
		cfg, rules, err := ruleContext(ctx, tx, configID, in.ExpectedVersion)
		if err != nil {
			return nil, err
		}
		r, err := model.ValidateRule(&model.Rule{
			ID:        id,
			ConfigID:  cfg.ID,
			RuleSpec:  in.RuleSpec,
			CreatedAt: now,
			CreatedBy: in.Actor,
			UpdatedAt: now,
		}, cfg.DataType, cfg.Schema)
		if err != nil {
			return nil, err
		}
		after := append(append([]*model.Rule(nil), rules...), r)
		if err := model.ValidateRuleSet(after); err != nil {
			return nil, err
		}
		if err := tx.CreateRule(ctx, r); err != nil {
			return nil, fmt.Errorf("create rule: %w", err)
		}
		created = r
		return bumpAndRecord(ctx, tx, cfg, rules, after, model.ChangeRuleCreated, r.ID, in.Actor, in.Reason, now)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// rulePatchFields are the rule fields an update may change.
var rulePatchFields = map[string]bool{
	"priority":       true,
	"enabled":        true,
	"override_value": true,
	"platforms":      true,
	"countries":      true,
	"segments":       true,
	"active_from":    true,
	"active_until":   true,
	"description":    true,
}

// updateRule applies a patch to one rule of a config.
func (s *ConfigServer) updateRule(ctx context.Context, configID, ruleID string, in updateInput) (*model.Rule, error) {
	var updated *model.Rule
	_, err := s.commit(ctx, "rule.update", func(tx store.Store, now time.Time) (*change, error) {
		cfg, rules, err := ruleContext(ctx, tx, configID, in.ExpectedVersion)
		if err != nil {
			return nil, err
		}
		i, err := findRule(rules, configID, ruleID)
		if err != nil {
			return nil, err
		}
		cur := rules[i]

		var spec model.RuleSpec
		if err := applyPatch(cur.RuleSpec, in.Patch, rulePatchFields, &spec); err != nil {
			return nil, err
		}
		next := cur.Clone()
		next.RuleSpec = spec
		next.UpdatedAt = now
		r, err := model.ValidateRule(next, cfg.DataType, cfg.Schema)
		if err != nil {
			return nil, err
		}

		after := append([]*model.Rule(nil), rules...)
		after[i] = r
		if err := model.ValidateRuleSet(after); err != nil {
			return nil, err
		}
		if err := tx.UpdateRule(ctx, r); err != nil {
			return nil, fmt.Errorf("update rule: %w", err)
		}
		updated = r
		return bumpAndRecord(ctx, tx, cfg, rules, after, model.ChangeRuleUpdated, r.ID, in.Actor, in.Reason, now)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// deleteRule removes one rule of a config.
func (s *ConfigServer) deleteRule(ctx context.Context, configID, ruleID string, expectedVersion int64, actor, reason string) error {
	_, err := s.commit(ctx, "rule.delete", func(tx store.Store, now time.Time) (*change, error) {
		cfg, rules, err := ruleContext(ctx, tx, configID, expectedVersion)
		if err != nil {
			return nil, err
		}
		i, err := findRule(rules, configID, ruleID)
		if err != nil {
			return nil, err
		}
		if err := tx.DeleteRule(ctx, ruleID); err != nil {
			return nil, fmt.Errorf("delete rule: %w", err)
		}
		after := append(append([]*model.Rule(nil), rules[:i]...), rules[i+1:]...)
		return bumpAndRecord(ctx, tx, cfg, rules, after, model.ChangeRuleDeleted, ruleID, actor, reason, now)
	})
	return err
}

// reorderInput assigns new priorities to every rule of a config at once.
type reorderInput struct {
	Entries         []model.ReorderEntry `json:"entries"`
	ExpectedVersion int64                `json:"expected_version"`
	Actor           string               `json:"actor"`
	Reason          string               `json:"reason"`
}

// reorderRules applies a complete priority mapping in one transaction. A
// mapping that leaves two enabled rules on one priority is rejected as a
// whole and no rule changes.
func (s *ConfigServer) reorderRules(ctx context.Context, configID string, in reorderInput) ([]*model.Rule, error) {
	var reordered []*model.Rule
	_, err := s.commit(ctx, "rules.reorder", func(tx store.Store, now time.Time) (*change, error) {
		cfg, rules, err := ruleContext(ctx, tx, configID, in.ExpectedVersion)
		if err != nil {
			return nil, err
		}
		after, err := model.ValidateReorder(rules, in.Entries)
		if err != nil {
			return nil, err
		}
		for i, r := range after {
			if r.Priority == rules[i].Priority {
				continue
			}
			r.UpdatedAt = now
			if err := tx.UpdateRule(ctx, r); err != nil {
				return nil, fmt.Errorf("update rule %s: %w", r.ID, err)
			}
		}
		reordered = model.SortRules(after)
		return bumpAndRecord(ctx, tx, cfg, rules, after, model.ChangeRulesReordered, "", in.Actor, in.Reason, now)
	})
	if err != nil {
		return nil, err
	}
	return reordered, nil
}

// listRules returns the rules of a config ordered by priority.
func (s *ConfigServer) listRules(ctx context.Context, configID string) ([]*model.Rule, error) {
	if s.store == nil {
		return nil, errReadOnly
	}
	if _, err := s.store.GetConfig(ctx, configID); err != nil {
		return nil, err
	}
	rules, err := s.store.ListRules(ctx, configID)
	if err != nil {
		return nil, err
	}
	return model.SortRules(rules), nil
}
