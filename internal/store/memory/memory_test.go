package memory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alfredjeanlab/gamecfg/internal/model"
	"github.com/alfredjeanlab/gamecfg/internal/store"
)

func seedConfig(t *testing.T, s *Store, id, key string) *model.Config {
	t.Helper()
	now := time.Now().UTC()
	cfg := &model.Config{
		ID: id, GameID: "game", Environment: model.EnvProduction, Key: key,
		DataType: model.TypeNumber, Value: json.RawMessage(`1`), Enabled: true, Version: 1,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := s.CreateConfig(context.Background(), cfg); err != nil {
		t.Fatalf("CreateConfig: %v", err)
	}
	return cfg
}

func rule(id, configID string, priority int, enabled bool) *model.Rule {
	return &model.Rule{
		ID: id, ConfigID: configID,
		RuleSpec: model.RuleSpec{Priority: priority, Enabled: enabled, OverrideValue: json.RawMessage(`2`)},
	}
}

func TestConfigCRUD(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedConfig(t, s, "cfg-1", "max_lives")

	if err := s.CreateConfig(ctx, &model.Config{ID: "cfg-2", GameID: "game", Environment: model.EnvProduction, Key: "max_lives"}); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("duplicate key: expected ErrConflict, got %v", err)
	}

	got, err := s.GetConfigByKey(ctx, "game", model.EnvProduction, "max_lives")
	if err != nil || got.ID != "cfg-1" {
		t.Fatalf("GetConfigByKey = %v, %v", got, err)
	}

	got.Value = json.RawMessage(`9`)
	if err := s.UpdateConfig(ctx, got); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}
	if got.Version != 2 {
		t.Errorf("version = %d, want 2", got.Version)
	}

	stale := &model.Config{ID: "cfg-1", Version: 1}
	if err := s.UpdateConfig(ctx, stale); !errors.Is(err, model.ErrConflict) {
		t.Errorf("stale update: expected ErrConflict, got %v", err)
	}

	if _, err := s.GetConfig(ctx, "nope"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := s.DeleteConfig(ctx, "cfg-1", 1); !errors.Is(err, model.ErrConflict) {
		t.Errorf("stale delete: expected ErrConflict, got %v", err)
	}
	if err := s.DeleteConfig(ctx, "cfg-1", 2); err != nil {
		t.Fatalf("DeleteConfig: %v", err)
	}
	if _, err := s.GetConfig(ctx, "cfg-1"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("deleted config still readable: %v", err)
	}
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedConfig(t, s, "cfg-1", "max_lives")

	c, _ := s.GetConfig(ctx, "cfg-1")
	c.Value[0] = '7'
	again, _ := s.GetConfig(ctx, "cfg-1")
	if string(again.Value) != "1" {
		t.Errorf("stored value changed through a returned copy: %s", again.Value)
	}
}

func TestListConfigs(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedConfig(t, s, "cfg-1", "b_key")
	seedConfig(t, s, "cfg-2", "a_key")
	seedConfig(t, s, "cfg-3", "other")

	configs, total, err := s.ListConfigs(ctx, model.ConfigFilter{GameID: "game", KeyPrefix: "a", Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || configs[0].ID != "cfg-2" {
		t.Errorf("prefix filter: total=%d configs=%v", total, configs)
	}

	configs, total, _ = s.ListConfigs(ctx, model.ConfigFilter{Limit: 1, Offset: 1})
	if total != 3 || len(configs) != 1 || configs[0].Key != "b_key" {
		t.Errorf("paging: total=%d configs=%v", total, configs)
	}
}

func TestRulesAndCascade(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedConfig(t, s, "cfg-1", "max_lives")

	if err := s.CreateRule(ctx, rule("rul-x", "cfg-missing", 1, true)); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("orphan rule: expected ErrNotFound, got %v", err)
	}
	for _, r := range []*model.Rule{rule("rul-b", "cfg-1", 2, true), rule("rul-a", "cfg-1", 1, true)} {
		if err := s.CreateRule(ctx, r); err != nil {
			t.Fatalf("CreateRule: %v", err)
		}
	}
	rules, _ := s.ListRules(ctx, "cfg-1")
	if len(rules) != 2 || rules[0].ID != "rul-a" {
		t.Fatalf("ListRules = %v", rules)
	}

	if err := s.DeleteConfig(ctx, "cfg-1", 1); err != nil {
		t.Fatal(err)
	}
	all, _ := s.ListAllRules(ctx)
	if len(all) != 0 {
		t.Errorf("rules survived config delete: %v", all)
	}
}

func TestEnabledPriorityConstraint(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedConfig(t, s, "cfg-1", "max_lives")
	if err := s.CreateRule(ctx, rule("rul-a", "cfg-1", 1, true)); err != nil {
		t.Fatal(err)
	}

	if err := s.CreateRule(ctx, rule("rul-b", "cfg-1", 1, true)); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("duplicate enabled priority: expected ErrConflict, got %v", err)
	}
	if err := s.CreateRule(ctx, rule("rul-c", "cfg-1", 1, false)); err != nil {
		t.Fatalf("disabled duplicate should be allowed: %v", err)
	}
}

func TestTransaction_SwapIsDeferred(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedConfig(t, s, "cfg-1", "max_lives")
	_ = s.CreateRule(ctx, rule("rul-a", "cfg-1", 1, true))
	_ = s.CreateRule(ctx, rule("rul-b", "cfg-1", 2, true))

	err := s.RunInTransaction(ctx, func(tx store.Store) error {
		a, _ := tx.GetRule(ctx, "rul-a")
		b, _ := tx.GetRule(ctx, "rul-b")
		a.Priority, b.Priority = 2, 1
		if err := tx.UpdateRule(ctx, a); err != nil {
			return err
		}
		return tx.UpdateRule(ctx, b)
	})
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	a, _ := s.GetRule(ctx, "rul-a")
	if a.Priority != 2 {
		t.Errorf("priority = %d, want 2", a.Priority)
	}
}

func TestTransaction_RollbackLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedConfig(t, s, "cfg-1", "max_lives")

	boom := errors.New("boom")
	err := s.RunInTransaction(ctx, func(tx store.Store) error {
		if err := tx.CreateRule(ctx, rule("rul-a", "cfg-1", 1, true)); err != nil {
			return err
		}
		if _, err := tx.BumpConfigVersion(ctx, "cfg-1", 1, "alice", time.Now()); err != nil {
			return err
		}
		if err := tx.AppendHistory(ctx, &model.HistoryEntry{ConfigID: "cfg-1", ChangeType: model.ChangeRuleCreated}); err != nil {
			return err
		}
		return boom
	})
	if err != boom {
		t.Fatalf("expected boom, got %v", err)
	}

	if _, err := s.GetRule(ctx, "rul-a"); !errors.Is(err, model.ErrNotFound) {
		t.Error("rule from failed transaction is visible")
	}
	c, _ := s.GetConfig(ctx, "cfg-1")
	if c.Version != 1 {
		t.Errorf("version = %d after rollback", c.Version)
	}
	n := 0
	for range s.QueryHistory(ctx, model.HistoryQuery{ConfigID: "cfg-1"}) {
		n++
	}
	if n != 0 {
		t.Errorf("history has %d entries after rollback", n)
	}
}

func TestDrafts(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedConfig(t, s, "cfg-1", "max_lives")
	now := time.Now().UTC()

	d1 := &model.Draft{ID: "drf-1", ConfigID: "cfg-1", Status: model.DraftStatusDraft, CreatedAt: now,
		Proposed: &model.ConfigState{Value: json.RawMessage(`3`), DataType: model.TypeNumber}}
	d2 := &model.Draft{ID: "drf-2", ConfigID: "cfg-1", Status: model.DraftStatusPending, CreatedAt: now.Add(time.Minute)}
	for _, d := range []*model.Draft{d1, d2} {
		if err := s.CreateDraft(ctx, d); err != nil {
			t.Fatal(err)
		}
	}

	all, _ := s.ListDrafts(ctx, "cfg-1", "")
	if len(all) != 2 || all[0].ID != "drf-2" {
		t.Errorf("ListDrafts = %v", all)
	}
	pending, _ := s.ListDrafts(ctx, "cfg-1", model.DraftStatusPending)
	if len(pending) != 1 {
		t.Errorf("pending = %v", pending)
	}

	got, _ := s.GetDraft(ctx, "drf-1")
	got.Proposed.Value[0] = '8'
	again, _ := s.GetDraft(ctx, "drf-1")
	if string(again.Proposed.Value) != "3" {
		t.Error("draft state shared with caller")
	}

	if err := s.UpdateDraft(ctx, &model.Draft{ID: "drf-missing"}); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestQueryHistory(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, ct := range []model.ChangeType{model.ChangeConfigCreated, model.ChangeRuleCreated, model.ChangeConfigUpdated} {
		e := &model.HistoryEntry{ConfigID: "cfg-1", ChangeType: ct, ChangedAt: base.Add(time.Duration(i) * time.Hour)}
		if ct == model.ChangeRuleCreated {
			e.RuleID = "rul-1"
		}
		if err := s.AppendHistory(ctx, e); err != nil {
			t.Fatal(err)
		}
		if e.ID != int64(i+1) {
			t.Errorf("entry %d got id %d", i, e.ID)
		}
	}

	collect := func(q model.HistoryQuery) []model.ChangeType {
		var out []model.ChangeType
		for e, err := range s.QueryHistory(ctx, q) {
			if err != nil {
				t.Fatal(err)
			}
			out = append(out, e.ChangeType)
		}
		return out
	}

	if got := collect(model.HistoryQuery{ConfigID: "cfg-1"}); len(got) != 3 || got[0] != model.ChangeConfigCreated {
		t.Errorf("ascending = %v", got)
	}
	if got := collect(model.HistoryQuery{ConfigID: "cfg-1", Descending: true, Limit: 1}); len(got) != 1 || got[0] != model.ChangeConfigUpdated {
		t.Errorf("descending limit 1 = %v", got)
	}
	if got := collect(model.HistoryQuery{RuleID: "rul-1"}); len(got) != 1 {
		t.Errorf("by rule = %v", got)
	}
	if got := collect(model.HistoryQuery{ConfigID: "cfg-1", Since: base.Add(30 * time.Minute), Until: base.Add(90 * time.Minute)}); len(got) != 1 || got[0] != model.ChangeRuleCreated {
		t.Errorf("window = %v", got)
	}

	if _, err := s.GetHistoryEntry(ctx, 2); err != nil {
		t.Errorf("GetHistoryEntry: %v", err)
	}
	if _, err := s.GetHistoryEntry(ctx, 99); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRunReadOnly_DiscardsWrites(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedConfig(t, s, "cfg-1", "max_lives")

	err := s.RunReadOnly(ctx, func(tx store.Store) error {
		configs, _, err := tx.ListConfigs(ctx, model.ConfigFilter{})
		if err != nil || len(configs) != 1 {
			t.Errorf("ListConfigs = %v, %v", configs, err)
		}
		return tx.CreateRule(ctx, rule("rul-a", "cfg-1", 1, true))
	})
	if err != nil {
		t.Fatalf("RunReadOnly: %v", err)
	}
	if _, err := s.GetRule(ctx, "rul-a"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("write inside a read-only transaction was published: %v", err)
	}
}
