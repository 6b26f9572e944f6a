package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/alfredjeanlab/gamecfg/internal/idgen"
	"github.com/alfredjeanlab/gamecfg/internal/model"
	"github.com/alfredjeanlab/gamecfg/internal/store"
)

// createConfigInput holds transport-agnostic parameters for creating a config.
type createConfigInput struct {
	GameID      string            `json:"game_id"`
	Environment model.Environment `json:"environment"`
	Key         string            `json:"key"`
	Description string            `json:"description"`
	DataType    model.DataType    `json:"data_type"`
	Value       json.RawMessage   `json:"value"`
	Schema      json.RawMessage   `json:"schema,omitempty"`
	Enabled     *bool             `json:"enabled,omitempty"`
	Actor       string            `json:"actor"`
	Reason      string            `json:"reason"`
}

// createConfig validates and stores a new config at version 1.
func (s *ConfigServer) createConfig(ctx context.Context, in createConfigInput) (*model.Config, error) {
	id, err := idgen.ConfigID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate ID: %w", err)
	}
	enabled := true
	if in.Enabled != nil {
		enabled = *in.Enabled
	}

	var created *model.Config
	_, err = s.commit(ctx, "config.create", func(tx store.Store, now time.Time) (*change, error) {
		cfg, err := model.ValidateConfig(&model.Config{
			ID:          id,
			GameID:      in.GameID,
			Environment: in.Environment,
			Key:         in.Key,
			Description: in.Description,
			DataType:    in.DataType,
			Value:       in.Value,
			Schema:      in.Schema,
			Enabled:     enabled,
			Version:     1,
			CreatedAt:   now,
			CreatedBy:   in.Actor,
			UpdatedAt:   now,
			UpdatedBy:   in.Actor,
		})
		if err != nil {
			return nil, err
		}
		if _, err := tx.GetConfigByKey(ctx, cfg.GameID, cfg.Environment, cfg.Key); err == nil {
			return nil, &model.ValidationError{Errors: []model.FieldError{{
				Field:   "key",
				Message: fmt.Sprintf("%q already exists in %s/%s", cfg.Key, cfg.GameID, cfg.Environment),
			}}}
		}
		if err := tx.CreateConfig(ctx, cfg); err != nil {
			return nil, fmt.Errorf("create config: %w", err)
		}
		created = cfg

		e := configEntry(cfg, model.ChangeConfigCreated, in.Actor, in.Reason)
		e.New = model.StateOf(cfg, nil)
		return &change{entry: e, version: cfg.Version}, nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// getConfig returns a config with its rules attached.
func (s *ConfigServer) getConfig(ctx context.Context, id string) (*model.Config, error) {
	if s.store == nil {
		return nil, errReadOnly
	}
	cfg, err := s.store.GetConfig(ctx, id)
	if err != nil {
		return nil, err
	}
	rules, err := s.store.ListRules(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	cfg.Rules = model.SortRules(rules)
	return cfg, nil
}

func (s *ConfigServer) listConfigs(ctx context.Context, filter model.ConfigFilter) ([]*model.Config, int, error) {
	if s.store == nil {
		return nil, 0, errReadOnly
	}
	if filter.Environment != "" && !filter.Environment.IsValid() {
		return nil, 0, inputError(fmt.Sprintf("invalid environment %q", filter.Environment))
	}
	return s.store.ListConfigs(ctx, filter)
}

// configPatchFields are the config fields an update may change. Identity
// fields are fixed at creation.
var configPatchFields = map[string]bool{
	"description": true,
	"data_type":   true,
	"value":       true,
	"schema":      true,
	"enabled":     true,
}

// updateInput carries a partial update. Patch holds top-level JSON fields
// that replace the stored ones; a null field clears it.
type updateInput struct {
	ExpectedVersion int64
	Patch           map[string]json.RawMessage
	Actor           string
	Reason          string
}

// updateConfig applies a patch to a config. When the data type or schema
// changes, every rule override is re-validated and rewritten under the new
// type in the same transaction.
func (s *ConfigServer) updateConfig(ctx context.Context, id string, in updateInput) (*model.Config, error) {
	var updated *model.Config
	_, err := s.commit(ctx, "config.update", func(tx store.Store, now time.Time) (*change, error) {
		cur, err := tx.GetConfig(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := checkVersion(cur, in.ExpectedVersion); err != nil {
			return nil, err
		}
		rules, err := tx.ListRules(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("list rules: %w", err)
		}

		next := &model.Config{}
		if err := applyPatch(cur, in.Patch, configPatchFields, next); err != nil {
			return nil, err
		}
		cfg, err := model.ValidateConfig(next)
		if err != nil {
			return nil, err
		}

		nextRules, err := revalidateRules(rules, cfg)
		if err != nil {
			return nil, err
		}
		for i, r := range nextRules {
			if string(r.OverrideValue) != string(rules[i].OverrideValue) {
				r.UpdatedAt = now
				if err := tx.UpdateRule(ctx, r); err != nil {
					return nil, fmt.Errorf("update rule %s: %w", r.ID, err)
				}
			}
		}

		cfg.Version = cur.Version
		cfg.UpdatedAt = now
		cfg.UpdatedBy = in.Actor
		if err := tx.UpdateConfig(ctx, cfg); err != nil {
			return nil, fmt.Errorf("update config: %w", err)
		}
		updated = cfg

		e := configEntry(cfg, model.ChangeConfigUpdated, in.Actor, in.Reason)
		e.Previous = model.StateOf(cur, rules)
		e.New = model.StateOf(cfg, nextRules)
		return &change{entry: e, version: cfg.Version}, nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// revalidateRules checks every rule against cfg's data type and schema and
// returns the normalized rules in the same order.
func revalidateRules(rules []*model.Rule, cfg *model.Config) ([]*model.Rule, error) {
	var ve model.ValidationError
	out := make([]*model.Rule, len(rules))
	for i, r := range rules {
		norm, err := model.ValidateRule(r, cfg.DataType, cfg.Schema)
		if err != nil {
			prefixFieldErrors(&ve, fmt.Sprintf("rules[%s]", r.ID), err)
			continue
		}
		out[i] = norm
	}
	if ve.HasErrors() {
		return nil, &ve
	}
	return out, nil
}

// deleteConfig removes a config that has no rules left. Disabling is the way
// to take a config with rules out of service.
func (s *ConfigServer) deleteConfig(ctx context.Context, id string, expectedVersion int64, actor, reason string) error {
	_, err := s.commit(ctx, "config.delete", func(tx store.Store, _ time.Time) (*change, error) {
		cur, err := tx.GetConfig(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := checkVersion(cur, expectedVersion); err != nil {
			return nil, err
		}
		rules, err := tx.ListRules(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("list rules: %w", err)
		}
		if len(rules) > 0 {
			return nil, &model.ValidationError{Errors: []model.FieldError{{
				Field:   "rules",
				Message: fmt.Sprintf("config still has %d rule(s); delete them or disable the config instead", len(rules)),
			}}}
		}
		if err := tx.DeleteConfig(ctx, id, cur.Version); err != nil {
			return nil, fmt.Errorf("delete config: %w", err)
		}

		e := configEntry(cur, model.ChangeConfigDeleted, actor, reason)
		e.Previous = model.StateOf(cur, nil)
		return &change{entry: e}, nil
	})
	return err
}

// applyPatch overlays the top-level fields of patch onto the JSON encoding of
// base and decodes the result into out, which must be a zero value. Fields
// outside allowed are rejected.
func applyPatch(base any, patch map[string]json.RawMessage, allowed map[string]bool, out any) error {
	raw, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("encode current state: %w", err)
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("decode current state: %w", err)
	}

	names := make([]string, 0, len(patch))
	for name := range patch {
		names = append(names, name)
	}
	sort.Strings(names)

	var ve model.ValidationError
	for _, name := range names {
		if !allowed[name] {
			ve.Errors = append(ve.Errors, model.FieldError{Field: name, Message: "cannot be changed"})
			continue
		}
		v := patch[name]
		if string(v) == "null" {
			delete(fields, name)
		} else {
			fields[name] = v
		}
	}
	if ve.HasErrors() {
		return &ve
	}

	merged, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode patched state: %w", err)
	}
	if err := json.Unmarshal(merged, out); err != nil {
		return inputError("invalid patch: " + err.Error())
	}
	return nil
}

// prefixFieldErrors appends err's field errors to ve under prefix.
func prefixFieldErrors(ve *model.ValidationError, prefix string, err error) {
	inner, ok := err.(*model.ValidationError)
	if !ok {
		ve.Errors = append(ve.Errors, model.FieldError{Field: prefix, Message: err.Error()})
		return
	}
	for _, fe := range inner.Errors {
		ve.Errors = append(ve.Errors, model.FieldError{Field: prefix + "." + fe.Field, Message: fe.Message})
	}
}
