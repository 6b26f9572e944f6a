package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/alfredjeanlab/gamecfg/internal/model"
	"github.com/alfredjeanlab/gamecfg/internal/store"
)

// newMockDB creates a sqlmock database with automatic cleanup and expectation checking.
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}

var configRowColumns = []string{
	"id", "game_id", "environment", "key", "description", "data_type",
	"value", "schema", "enabled", "version", "created_at", "created_by", "updated_at", "updated_by",
}

var ruleRowColumns = []string{
	"id", "config_id", "priority", "enabled", "override_value",
	"platforms", "countries", "segments", "active_from", "active_until", "description",
	"created_at", "created_by", "updated_at",
}

var draftRowColumns = []string{
	"id", "config_id", "title", "status", "proposed", "base_version",
	"created_at", "created_by", "updated_at", "submitted_at", "submitted_by",
	"deployed_at", "deployed_by", "rejected_at", "rejected_by", "rejection_reason",
}

var historyRowColumns = []string{
	"id", "config_id", "rule_id", "rule_ids", "game_id", "environment", "key",
	"change_type", "previous", "new", "actor", "reason", "draft_id", "rollback_of", "changed_at",
}

func addHistoryRow(rows *sqlmock.Rows, id int64, at time.Time) *sqlmock.Rows {
	return rows.AddRow(
		id, "cfg-1", "", []byte("{}"), "game", "production", "max_lives",
		"config.updated", []byte(`{"value":1,"data_type":"number","enabled":true,"rules":[]}`),
		[]byte(`{"value":2,"data_type":"number","enabled":true,"rules":[]}`),
		"alice", "", "", nil, at,
	)
}

func TestMapError(t *testing.T) {
	for _, tc := range []struct {
		name string
		in   error
		want error
	}{
		{"no rows", sql.ErrNoRows, model.ErrNotFound},
		{"wrapped no rows", fmt.Errorf("scan: %w", sql.ErrNoRows), model.ErrNotFound},
		{"unique", &pq.Error{Code: "23505"}, model.ErrConflict},
		{"exclusion", &pq.Error{Code: "23P01"}, model.ErrConflict},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := mapError(tc.in); !errors.Is(got, tc.want) {
				t.Errorf("mapError(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}

	other := errors.New("boom")
	if got := mapError(other); got != other {
		t.Errorf("mapError passed through %v as %v", other, got)
	}
	if mapError(nil) != nil {
		t.Error("mapError(nil) should be nil")
	}
}

func TestScanHelpers(t *testing.T) {
	if nullTimePtr(nil).Valid {
		t.Error("nullTimePtr(nil) should be invalid")
	}
	if timePtr(sql.NullTime{}) != nil {
		t.Error("timePtr of invalid time should be nil")
	}
	if nullInt64(0).Valid {
		t.Error("nullInt64(0) should be invalid")
	}
	if b, _ := platformsJSON(nil); string(b) != "[]" {
		t.Errorf("platformsJSON(nil) = %s", b)
	}
	if a := stringArray(nil); a == nil || len(a) != 0 {
		t.Errorf("stringArray(nil) = %#v", a)
	}
	if b, _ := encodeState(nil); b != nil {
		t.Errorf("encodeState(nil) = %s", b)
	}
	if st, err := decodeState([]byte("null")); st != nil || err != nil {
		t.Errorf("decodeState(null) = %v, %v", st, err)
	}
}

func TestQueryCreateConfig(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	cfg := &model.Config{
		ID: "cfg-abc", GameID: "game", Environment: model.EnvProduction, Key: "max_lives",
		DataType: model.TypeNumber, Value: json.RawMessage(`5`), Enabled: true, Version: 1,
		CreatedAt: now, CreatedBy: "alice", UpdatedAt: now, UpdatedBy: "alice",
	}
	mock.ExpectExec("INSERT INTO configs").
		WithArgs(
			"cfg-abc", "game", "production", "max_lives", "", "number",
			[]byte(`5`), []byte(nil), true, int64(1), now, "alice", now, "alice",
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := queryCreateConfig(context.Background(), db, cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestQueryCreateConfig_Duplicate(t *testing.T) {
	db, mock := newMockDB(t)
	cfg := &model.Config{ID: "cfg-abc", Value: json.RawMessage(`5`)}
	mock.ExpectExec("INSERT INTO configs").
		WillReturnError(&pq.Error{Code: "23505", Detail: "Key (game_id, environment, key) already exists."})

	err := queryCreateConfig(context.Background(), db, cfg)
	if !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestQueryGetConfig(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows(configRowColumns).AddRow(
		"cfg-abc", "game", "staging", "reward", "daily reward", "json",
		[]byte(`{"gems":5}`), []byte(`{"type":"object"}`), true, int64(3), now, "alice", now, "bob",
	)
	mock.ExpectQuery("SELECT .+ FROM configs WHERE id = \\$1").WithArgs("cfg-abc").WillReturnRows(rows)

	cfg, err := queryGetConfig(context.Background(), db, "cfg-abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Environment != model.EnvStaging || cfg.DataType != model.TypeJSON || cfg.Version != 3 {
		t.Errorf("got %+v", cfg)
	}
	if string(cfg.Value) != `{"gems":5}` || string(cfg.Schema) != `{"type":"object"}` {
		t.Errorf("value=%s schema=%s", cfg.Value, cfg.Schema)
	}
}

func TestQueryGetConfig_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT .+ FROM configs WHERE id = \\$1").WithArgs("nonexistent").WillReturnError(sql.ErrNoRows)

	if _, err := queryGetConfig(context.Background(), db, "nonexistent"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestQueryGetConfigByKey(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows(configRowColumns).AddRow(
		"cfg-abc", "game", "production", "max_lives", "", "number",
		[]byte(`5`), nil, true, int64(1), now, "", now, "",
	)
	mock.ExpectQuery("SELECT .+ FROM configs WHERE game_id = \\$1 AND environment = \\$2 AND key = \\$3").
		WithArgs("game", "production", "max_lives").
		WillReturnRows(rows)

	cfg, err := queryGetConfigByKey(context.Background(), db, "game", model.EnvProduction, "max_lives")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ID != "cfg-abc" || cfg.Schema != nil {
		t.Errorf("got %+v", cfg)
	}
}

func TestQueryListConfigs(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	enabled := true
	rows := sqlmock.NewRows(append([]string{"total_count"}, configRowColumns...)).
		AddRow(7, "cfg-1", "game", "production", "max_lives", "", "number", []byte(`5`), nil, true, int64(1), now, "", now, "").
		AddRow(7, "cfg-2", "game", "production", "max_level", "", "number", []byte(`50`), nil, true, int64(2), now, "", now, "")
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) OVER\\(\\) AS total_count, .+ FROM configs WHERE game_id = \\$1 AND environment = \\$2 AND key LIKE \\$3 AND enabled = \\$4 ORDER BY game_id, environment, key LIMIT \\$5 OFFSET \\$6").
		WithArgs("game", "production", `max\_%`, true, 2, 4).
		WillReturnRows(rows)

	configs, total, err := queryListConfigs(context.Background(), db, model.ConfigFilter{
		GameID: "game", Environment: model.EnvProduction, KeyPrefix: "max_", Enabled: &enabled, Limit: 2, Offset: 4,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 7 || len(configs) != 2 || configs[1].Key != "max_level" {
		t.Errorf("total=%d configs=%v", total, configs)
	}
}

func TestQueryListConfigs_NoFilter(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) OVER\\(\\) AS total_count, .+ FROM configs ORDER BY game_id, environment, key$").
		WillReturnRows(sqlmock.NewRows(append([]string{"total_count"}, configRowColumns...)))

	configs, total, err := queryListConfigs(context.Background(), db, model.ConfigFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 0 || len(configs) != 0 {
		t.Errorf("expected empty result, got %d/%v", total, configs)
	}
}

func TestQueryUpdateConfig(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	cfg := &model.Config{
		ID: "cfg-abc", Version: 3, DataType: model.TypeNumber, Value: json.RawMessage(`9`),
		Enabled: true, UpdatedAt: now, UpdatedBy: "bob",
	}
	mock.ExpectQuery("UPDATE configs SET .+ WHERE id = \\$1 AND version = \\$2 RETURNING version").
		WithArgs("cfg-abc", int64(3), "", "number", []byte(`9`), []byte(nil), true, now, "bob").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(4)))

	if err := queryUpdateConfig(context.Background(), db, cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Version != 4 {
		t.Errorf("version = %d, want 4", cfg.Version)
	}
}

func TestQueryUpdateConfig_Conflict(t *testing.T) {
	db, mock := newMockDB(t)
	cfg := &model.Config{ID: "cfg-abc", Version: 3, DataType: model.TypeNumber, Value: json.RawMessage(`9`)}
	mock.ExpectQuery("UPDATE configs SET").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT version FROM configs WHERE id = \\$1").WithArgs("cfg-abc").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(5)))

	if err := queryUpdateConfig(context.Background(), db, cfg); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if cfg.Version != 3 {
		t.Errorf("version changed on conflict: %d", cfg.Version)
	}
}

func TestQueryUpdateConfig_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	cfg := &model.Config{ID: "nonexistent", Version: 1}
	mock.ExpectQuery("UPDATE configs SET").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT version FROM configs WHERE id = \\$1").WithArgs("nonexistent").
		WillReturnError(sql.ErrNoRows)

	if err := queryUpdateConfig(context.Background(), db, cfg); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestQueryDeleteConfig(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("DELETE FROM configs WHERE id = \\$1 AND version = \\$2").WithArgs("cfg-abc", int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := queryDeleteConfig(context.Background(), db, "cfg-abc", 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestQueryDeleteConfig_Conflict(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("DELETE FROM configs WHERE id = \\$1 AND version = \\$2").WithArgs("cfg-abc", int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM configs WHERE id = \\$1").WithArgs("cfg-abc").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(3)))

	if err := queryDeleteConfig(context.Background(), db, "cfg-abc", 2); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestQueryBumpConfigVersion(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	mock.ExpectQuery("UPDATE configs SET version = version \\+ 1, updated_at = \\$3, updated_by = \\$4 WHERE id = \\$1 AND version = \\$2 RETURNING version").
		WithArgs("cfg-abc", int64(6), now, "carol").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(7)))

	v, err := queryBumpConfigVersion(context.Background(), db, "cfg-abc", 6, "carol", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 7 {
		t.Errorf("version = %d, want 7", v)
	}
}

func TestQueryCreateRule(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	r := &model.Rule{
		ID: "rul-1", ConfigID: "cfg-abc",
		RuleSpec: model.RuleSpec{
			Priority: 1, Enabled: true, OverrideValue: json.RawMessage(`3`),
			Platforms: []model.PlatformCondition{{Platform: "ios", MinVersion: "2.0.0"}},
			Countries: []string{"US"},
		},
		CreatedAt: now, UpdatedAt: now,
	}
	mock.ExpectExec("INSERT INTO rules").
		WithArgs(
			"rul-1", "cfg-abc", 1, true, []byte(`3`),
			[]byte(`[{"platform":"ios","min_version":"2.0.0"}]`), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), "",
			now, "", now,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := queryCreateRule(context.Background(), db, r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestQueryGetRule(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	until := now.Add(24 * time.Hour)
	rows := sqlmock.NewRows(ruleRowColumns).AddRow(
		"rul-1", "cfg-abc", 2, true, []byte(`"gold"`),
		[]byte(`[{"platform":"android","max_version":"3.0.0"}]`), "{US,DE}", "{whales}",
		nil, until, "weekend promo",
		now, "alice", now,
	)
	mock.ExpectQuery("SELECT .+ FROM rules WHERE id = \\$1").WithArgs("rul-1").WillReturnRows(rows)

	r, err := queryGetRule(context.Background(), db, "rul-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Priority != 2 || len(r.Platforms) != 1 || r.Platforms[0].MaxVersion != "3.0.0" {
		t.Errorf("got %+v", r)
	}
	if len(r.Countries) != 2 || r.Countries[1] != "DE" || len(r.Segments) != 1 {
		t.Errorf("countries=%v segments=%v", r.Countries, r.Segments)
	}
	if r.ActiveFrom != nil || r.ActiveUntil == nil || !r.ActiveUntil.Equal(until) {
		t.Errorf("window = %v..%v", r.ActiveFrom, r.ActiveUntil)
	}
}

func TestQueryListRules_EmptyConditions(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows(ruleRowColumns).
		AddRow("rul-1", "cfg-abc", 1, true, []byte(`1`), []byte(`[]`), "{}", "{}", nil, nil, "", now, "", now).
		AddRow("rul-2", "cfg-abc", 2, false, []byte(`2`), []byte(`[]`), "{}", "{}", nil, nil, "", now, "", now)
	mock.ExpectQuery("SELECT .+ FROM rules WHERE config_id = \\$1 ORDER BY priority, id").WithArgs("cfg-abc").
		WillReturnRows(rows)

	rules, err := queryListRules(context.Background(), db, "cfg-abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rules))
	}
	if rules[0].Platforms != nil || rules[0].Countries != nil || rules[0].Segments != nil {
		t.Errorf("empty condition groups should be nil: %+v", rules[0].RuleSpec)
	}
}

func TestQueryDeleteRule_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("DELETE FROM rules WHERE id = \\$1").WithArgs("nonexistent").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := queryDeleteRule(context.Background(), db, "nonexistent"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestQueryCreateDraft(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	d := &model.Draft{
		ID: "drf-1", ConfigID: "cfg-abc", Status: model.DraftStatusDraft, BaseVersion: 4,
		Proposed:  &model.ConfigState{Value: json.RawMessage(`1`), DataType: model.TypeNumber, Rules: []*model.RuleState{}},
		CreatedAt: now, CreatedBy: "alice", UpdatedAt: now,
	}
	mock.ExpectExec("INSERT INTO drafts").
		WithArgs("drf-1", "cfg-abc", "", "draft", []byte(`{"value":1,"data_type":"number","enabled":false,"rules":[]}`), int64(4), now, "alice", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := queryCreateDraft(context.Background(), db, d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestQueryGetDraft(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows(draftRowColumns).AddRow(
		"drf-1", "cfg-abc", "bump lives", "pending",
		[]byte(`{"value":7,"data_type":"number","enabled":true,"rules":[{"id":"rul-1","priority":1,"enabled":true,"override_value":9}]}`),
		int64(4), now, "alice", now, now, "alice", nil, "", nil, "", "",
	)
	mock.ExpectQuery("SELECT .+ FROM drafts WHERE id = \\$1").WithArgs("drf-1").WillReturnRows(rows)

	d, err := queryGetDraft(context.Background(), db, "drf-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Status != model.DraftStatusPending || d.SubmittedAt == nil || d.DeployedAt != nil {
		t.Errorf("got %+v", d)
	}
	if d.Proposed == nil || len(d.Proposed.Rules) != 1 || d.Proposed.Rules[0].Priority != 1 {
		t.Errorf("proposed = %+v", d.Proposed)
	}
}

func TestQueryListDrafts_ByStatus(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT .+ FROM drafts WHERE config_id = \\$1 AND status = \\$2 ORDER BY created_at DESC, id").
		WithArgs("cfg-abc", "pending").
		WillReturnRows(sqlmock.NewRows(draftRowColumns))

	drafts, err := queryListDrafts(context.Background(), db, "cfg-abc", model.DraftStatusPending)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(drafts) != 0 {
		t.Errorf("expected no drafts, got %d", len(drafts))
	}
}

func TestQueryAppendHistory(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	e := &model.HistoryEntry{
		ConfigID: "cfg-abc", GameID: "game", Environment: model.EnvProduction, Key: "max_lives",
		ChangeType: model.ChangeConfigCreated,
		New:        &model.ConfigState{Value: json.RawMessage(`5`), DataType: model.TypeNumber, Enabled: true, Rules: []*model.RuleState{}},
		Actor:      "alice", ChangedAt: now,
	}
	mock.ExpectQuery("INSERT INTO history .+ RETURNING id").
		WithArgs(
			"cfg-abc", "", "{}", "game", "production", "max_lives", "config.created",
			[]byte(nil), []byte(`{"value":5,"data_type":"number","enabled":true,"rules":[]}`),
			"alice", "", "", nil, now,
		).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	if err := queryAppendHistory(context.Background(), db, e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.ID != 42 {
		t.Errorf("id = %d, want 42", e.ID)
	}
}

func TestQueryGetHistoryEntry(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	mock.ExpectQuery("SELECT .+ FROM history WHERE id = \\$1").WithArgs(int64(9)).
		WillReturnRows(addHistoryRow(sqlmock.NewRows(historyRowColumns), 9, now))

	e, err := queryGetHistoryEntry(context.Background(), db, 9)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Previous == nil || string(e.Previous.Value) != "1" || string(e.New.Value) != "2" {
		t.Errorf("got %+v", e)
	}
	if e.RollbackOf != 0 {
		t.Errorf("rollback_of = %d", e.RollbackOf)
	}
	if e.RuleIDs != nil {
		t.Errorf("rule_ids = %v, want none", e.RuleIDs)
	}
}

func TestQueryGetHistoryEntry_RuleIDs(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows(historyRowColumns).AddRow(
		int64(5), "cfg-1", "", []byte("{rul-a,rul-b}"), "game", "production", "max_lives",
		"rules.reordered", nil, nil, "alice", "", "", nil, now,
	)
	mock.ExpectQuery("SELECT .+ FROM history WHERE id = \\$1").WithArgs(int64(5)).WillReturnRows(rows)

	e, err := queryGetHistoryEntry(context.Background(), db, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(e.RuleIDs) != 2 || e.RuleIDs[0] != "rul-a" || e.RuleIDs[1] != "rul-b" {
		t.Errorf("rule_ids = %v", e.RuleIDs)
	}
}

func TestIterHistory_Lazy(t *testing.T) {
	db, _ := newMockDB(t)
	// No expectations: building the sequence must not query.
	_ = iterHistory(context.Background(), db, model.HistoryQuery{ConfigID: "cfg-abc"})
}

func TestIterHistory_Pages(t *testing.T) {
	db, mock := newMockDB(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	first := sqlmock.NewRows(historyRowColumns)
	for i := 1; i <= historyPageSize; i++ {
		addHistoryRow(first, int64(i), base.Add(time.Duration(i)*time.Second))
	}
	last := base.Add(time.Duration(historyPageSize) * time.Second)
	mock.ExpectQuery("SELECT .+ FROM history WHERE config_id = \\$1 ORDER BY changed_at ASC, id ASC LIMIT \\$2").
		WithArgs("cfg-abc", historyPageSize).
		WillReturnRows(first)
	mock.ExpectQuery("SELECT .+ FROM history WHERE config_id = \\$1 AND \\(changed_at, id\\) > \\(\\$2, \\$3\\) ORDER BY changed_at ASC, id ASC LIMIT \\$4").
		WithArgs("cfg-abc", last, int64(historyPageSize), historyPageSize).
		WillReturnRows(addHistoryRow(sqlmock.NewRows(historyRowColumns), int64(historyPageSize+1), last.Add(time.Second)))

	var n int
	var prev int64
	for e, err := range iterHistory(context.Background(), db, model.HistoryQuery{ConfigID: "cfg-abc"}) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if e.ID <= prev {
			t.Fatalf("out of order: %d after %d", e.ID, prev)
		}
		prev = e.ID
		n++
	}
	if n != historyPageSize+1 {
		t.Errorf("got %d entries, want %d", n, historyPageSize+1)
	}
}

func TestIterHistory_DescendingWithLimit(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	since := now.Add(-time.Hour)
	rows := sqlmock.NewRows(historyRowColumns)
	addHistoryRow(rows, 3, now)
	addHistoryRow(rows, 2, now.Add(-time.Minute))
	mock.ExpectQuery("SELECT .+ FROM history WHERE \\(rule_id = \\$1 OR rule_ids @> ARRAY\\[\\$1\\]::text\\[\\]\\) AND changed_at >= \\$2 ORDER BY changed_at DESC, id DESC LIMIT \\$3").
		WithArgs("rul-1", since, 2).
		WillReturnRows(rows)

	var ids []int64
	for e, err := range iterHistory(context.Background(), db, model.HistoryQuery{RuleID: "rul-1", Since: since, Descending: true, Limit: 2}) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		ids = append(ids, e.ID)
	}
	if len(ids) != 2 || ids[0] != 3 {
		t.Errorf("ids = %v", ids)
	}
}

func TestIterHistory_StopEarly(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows(historyRowColumns)
	addHistoryRow(rows, 1, now)
	addHistoryRow(rows, 2, now)
	mock.ExpectQuery("SELECT .+ FROM history").WillReturnRows(rows)

	for range iterHistory(context.Background(), db, model.HistoryQuery{ConfigID: "cfg-abc"}) {
		break
	}
}

func TestIterHistory_Error(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT .+ FROM history").WillReturnError(errors.New("connection reset"))

	var gotErr error
	for _, err := range iterHistory(context.Background(), db, model.HistoryQuery{ConfigID: "cfg-abc"}) {
		gotErr = err
	}
	if gotErr == nil {
		t.Fatal("expected error from iterator")
	}
}

func TestRunInTransaction_Commit(t *testing.T) {
	db, mock := newMockDB(t)
	s := &PostgresStore{db: db}
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM rules WHERE id = \\$1").WithArgs("rul-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.RunInTransaction(context.Background(), func(tx store.Store) error {
		return tx.DeleteRule(context.Background(), "rul-1")
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunInTransaction_Rollback(t *testing.T) {
	db, mock := newMockDB(t)
	s := &PostgresStore{db: db}
	mock.ExpectBegin()
	mock.ExpectRollback()

	want := errors.New("validation failed")
	err := s.RunInTransaction(context.Background(), func(tx store.Store) error {
		return want
	})
	if err != want {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestRunInTransaction_DeferredExclusionAtCommit(t *testing.T) {
	db, mock := newMockDB(t)
	s := &PostgresStore{db: db}
	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(&pq.Error{Code: "23P01"})

	err := s.RunInTransaction(context.Background(), func(tx store.Store) error { return nil })
	if !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestRunReadOnly_RepeatableRead(t *testing.T) {
	db, mock := newMockDB(t)
	s := &PostgresStore{db: db}
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(setReadOnlySnapshot)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT .+ FROM rules ORDER BY config_id, priority, id").
		WillReturnRows(sqlmock.NewRows(ruleRowColumns))
	mock.ExpectCommit()

	err := s.RunReadOnly(context.Background(), func(tx store.Store) error {
		_, err := tx.ListAllRules(context.Background())
		return err
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunReadOnly_SetupFailure(t *testing.T) {
	db, mock := newMockDB(t)
	s := &PostgresStore{db: db}
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(setReadOnlySnapshot)).WillReturnError(errors.New("not supported"))
	mock.ExpectRollback()

	called := false
	err := s.RunReadOnly(context.Background(), func(tx store.Store) error {
		called = true
		return nil
	})
	if err == nil || called {
		t.Fatalf("err = %v, called = %v", err, called)
	}
}
