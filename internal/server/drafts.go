package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alfredjeanlab/gamecfg/internal/events"
	"github.com/alfredjeanlab/gamecfg/internal/idgen"
	"github.com/alfredjeanlab/gamecfg/internal/model"
	"github.com/alfredjeanlab/gamecfg/internal/store"
)

// createDraftInput holds transport-agnostic parameters for staging a draft.
type createDraftInput struct {
	Title    string             `json:"title"`
	Proposed *model.ConfigState `json:"proposed,omitempty"`
	Actor    string             `json:"actor"`
}

// createDraft stages a proposal against the config's current version. With
// no proposal the draft starts from the live state.
func (s *ConfigServer) createDraft(ctx context.Context, configID string, in createDraftInput) (*model.Draft, error) {
	id, err := idgen.DraftID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate ID: %w", err)
	}
	now := s.clock()

	var d *model.Draft
	err = s.transact(ctx, "draft.create", func(tx store.Store) error {
		cfg, rules, err := ruleContext(ctx, tx, configID, 0)
		if err != nil {
			return err
		}
		proposed := in.Proposed
		if proposed == nil {
			proposed = model.StateOf(cfg, rules)
		}
		d = &model.Draft{
			ID:          id,
			ConfigID:    cfg.ID,
			Title:       in.Title,
			Status:      model.DraftStatusDraft,
			Proposed:    proposed,
			BaseVersion: cfg.Version,
			CreatedAt:   now,
			CreatedBy:   in.Actor,
			UpdatedAt:   now,
		}
		return tx.CreateDraft(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.TopicDraftCreated, events.DraftChanged{Draft: d, Actor: in.Actor})
	return d, nil
}

func (s *ConfigServer) getDraft(ctx context.Context, id string) (*model.Draft, error) {
	if s.store == nil {
		return nil, errReadOnly
	}
	return s.store.GetDraft(ctx, id)
}

// listDrafts returns a config's drafts, optionally narrowed to one status.
func (s *ConfigServer) listDrafts(ctx context.Context, configID string, status model.DraftStatus) ([]*model.Draft, error) {
	if s.store == nil {
		return nil, errReadOnly
	}
	if status != "" && !status.IsValid() {
		return nil, inputError(fmt.Sprintf("invalid status %q", status))
	}
	if _, err := s.store.GetConfig(ctx, configID); err != nil {
		return nil, err
	}
	return s.store.ListDrafts(ctx, configID, status)
}

// updateDraftInput replaces the title and/or proposal of a draft.
// BaseVersion is the config version a replacement proposal was built from.
type updateDraftInput struct {
	Title       *string            `json:"title,omitempty"`
	Proposed    *model.ConfigState `json:"proposed,omitempty"`
	BaseVersion int64              `json:"base_version,omitempty"`
	Actor       string             `json:"actor"`
}

// updateDraft edits a draft that has not been submitted yet. A replacement
// proposal with a base version moves the draft onto that version, which must
// be the config's current one. Without a base version the draft keeps the
// version it was cut from, so deploy still catches intervening edits.
func (s *ConfigServer) updateDraft(ctx context.Context, id string, in updateDraftInput) (*model.Draft, error) {
	if in.BaseVersion < 0 {
		return nil, inputError("base_version must not be negative")
	}
	if in.BaseVersion > 0 && in.Proposed == nil {
		return nil, inputError("base_version requires a proposal")
	}
	now := s.clock()
	var d *model.Draft
	err := s.transact(ctx, "draft.update", func(tx store.Store) error {
		cur, err := tx.GetDraft(ctx, id)
		if err != nil {
			return err
		}
		if cur.Status != model.DraftStatusDraft {
			return fmt.Errorf("draft %s is %s and can no longer be edited: %w", id, cur.Status, model.ErrConflict)
		}
		if in.BaseVersion > 0 {
			cfg, err := tx.GetConfig(ctx, cur.ConfigID)
			if err != nil {
				return err
			}
			if cfg.Version != in.BaseVersion {
				return fmt.Errorf("proposal is based on version %d but config %s is at version %d: %w",
					in.BaseVersion, cfg.ID, cfg.Version, model.ErrConflict)
			}
			cur.BaseVersion = in.BaseVersion
		}
		if in.Title != nil {
			cur.Title = *in.Title
		}
		if in.Proposed != nil {
			cur.Proposed = in.Proposed
		}
		cur.UpdatedAt = now
		if err := tx.UpdateDraft(ctx, cur); err != nil {
			return fmt.Errorf("update draft: %w", err)
		}
		d = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.TopicDraftUpdated, events.DraftChanged{Draft: d, Actor: in.Actor})
	return d, nil
}

// transitionDraft moves a draft to next without touching live state.
func (s *ConfigServer) transitionDraft(ctx context.Context, op, topic, id string, next model.DraftStatus, actor, reason string) (*model.Draft, error) {
	now := s.clock()
	var d *model.Draft
	err := s.transact(ctx, op, func(tx store.Store) error {
		cur, err := tx.GetDraft(ctx, id)
		if err != nil {
			return err
		}
		if err := cur.Transition(next, actor, now); err != nil {
			return err
		}
		if next == model.DraftStatusRejected {
			cur.RejectionReason = reason
		}
		if err := tx.UpdateDraft(ctx, cur); err != nil {
			return fmt.Errorf("update draft: %w", err)
		}
		d = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, topic, events.DraftChanged{Draft: d, Actor: actor})
	return d, nil
}

// submitDraft moves a draft to pending review.
func (s *ConfigServer) submitDraft(ctx context.Context, id, actor string) (*model.Draft, error) {
	return s.transitionDraft(ctx, "draft.submit", events.TopicDraftSubmitted, id, model.DraftStatusPending, actor, "")
}

// rejectDraft closes a pending draft without deploying it.
func (s *ConfigServer) rejectDraft(ctx context.Context, id, actor, reason string) (*model.Draft, error) {
	return s.transitionDraft(ctx, "draft.reject", events.TopicDraftRejected, id, model.DraftStatusRejected, actor, reason)
}

// deployDraft makes a pending draft's proposal live. The proposal is
// validated again, the config must still be at the draft's base version, and
// the config, its whole rule set, the draft status and the history entry are
// written in one transaction. On any failure nothing changes and the draft
// stays pending.
func (s *ConfigServer) deployDraft(ctx context.Context, id, actor, reason string) (*model.Draft, error) {
	var d *model.Draft
	_, err := s.commit(ctx, "draft.deploy", func(tx store.Store, now time.Time) (*change, error) {
		cur, err := tx.GetDraft(ctx, id)
		if err != nil {
			return nil, err
		}
		if !cur.Status.CanTransition(model.DraftStatusDeployed) {
			return nil, &model.TransitionError{DraftID: cur.ID, From: cur.Status, To: model.DraftStatusDeployed}
		}
		cfg, rules, err := ruleContext(ctx, tx, cur.ConfigID, 0)
		if err != nil {
			return nil, err
		}
		if cfg.Version != cur.BaseVersion {
			return nil, fmt.Errorf("draft %s is based on version %d but config %s is at version %d: %w",
				cur.ID, cur.BaseVersion, cfg.ID, cfg.Version, model.ErrConflict)
		}
		st, err := model.ValidateState(cur.Proposed)
		if err != nil {
			return nil, err
		}

		next, after, err := applyState(ctx, tx, cfg, rules, st, actor, now)
		if err != nil {
			return nil, err
		}
		if err := cur.Transition(model.DraftStatusDeployed, actor, now); err != nil {
			return nil, err
		}
		if err := tx.UpdateDraft(ctx, cur); err != nil {
			return nil, fmt.Errorf("update draft: %w", err)
		}
		d = cur

		e := configEntry(next, model.ChangeDraftDeployed, actor, reason)
		e.DraftID = cur.ID
		e.Previous = model.StateOf(cfg, rules)
		e.New = model.StateOf(next, after)
		return &change{entry: e, version: next.Version}, nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("draft deployed", "draft_id", d.ID, "config_id", d.ConfigID, "actor", actor)
	return d, nil
}

// applyState replaces the live config and its full rule set with st, which
// must already be validated. Rules are matched by ID: known IDs are updated,
// missing ones deleted, and the rest created. A rule ID that no longer exists
// anywhere is restored as is; an empty or foreign ID gets a fresh one. The
// config version is bumped exactly once.
func applyState(ctx context.Context, tx store.Store, cur *model.Config, rules []*model.Rule, st *model.ConfigState, actor string, now time.Time) (*model.Config, []*model.Rule, error) {
	existing := make(map[string]*model.Rule, len(rules))
	for _, r := range rules {
		existing[r.ID] = r
	}
	keep := make(map[string]bool, len(st.Rules))
	for _, rs := range st.Rules {
		if _, ok := existing[rs.ID]; ok {
			keep[rs.ID] = true
		}
	}

	for _, r := range rules {
		if keep[r.ID] {
			continue
		}
		if err := tx.DeleteRule(ctx, r.ID); err != nil {
			return nil, nil, fmt.Errorf("delete rule %s: %w", r.ID, err)
		}
	}

	after := make([]*model.Rule, 0, len(st.Rules))
	for _, rs := range st.Rules {
		if old, ok := existing[rs.ID]; ok {
			r := old.Clone()
			r.RuleSpec = rs.RuleSpec.Clone()
			r.UpdatedAt = now
			if err := tx.UpdateRule(ctx, r); err != nil {
				return nil, nil, fmt.Errorf("update rule %s: %w", r.ID, err)
			}
			after = append(after, r)
			continue
		}

		id, err := restorableRuleID(ctx, tx, rs.ID)
		if err != nil {
			return nil, nil, err
		}
		r := &model.Rule{
			ID:        id,
			ConfigID:  cur.ID,
			RuleSpec:  rs.RuleSpec.Clone(),
			CreatedAt: now,
			CreatedBy: actor,
			UpdatedAt: now,
		}
		if err := tx.CreateRule(ctx, r); err != nil {
			return nil, nil, fmt.Errorf("create rule: %w", err)
		}
		after = append(after, r)
	}

	next := cur.Clone()
	next.Value = st.Value
	next.DataType = st.DataType
	next.Enabled = st.Enabled
	next.Description = st.Description
	next.Schema = st.Schema
	next.UpdatedAt = now
	next.UpdatedBy = actor
	if err := tx.UpdateConfig(ctx, next); err != nil {
		return nil, nil, fmt.Errorf("update config: %w", err)
	}
	return next, after, nil
}

// restorableRuleID returns id when no rule holds it, and a fresh rule ID
// otherwise.
func restorableRuleID(ctx context.Context, tx store.Store, id string) (string, error) {
	if id != "" {
		_, err := tx.GetRule(ctx, id)
		if errors.Is(err, model.ErrNotFound) {
			return id, nil
		}
		if err != nil {
			return "", fmt.Errorf("get rule %s: %w", id, err)
		}
	}
	newID, err := idgen.RuleID()
	if err != nil {
		return "", fmt.Errorf("failed to generate ID: %w", err)
	}
	return newID, nil
}
