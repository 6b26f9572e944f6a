package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/gamecfg/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanConfig scans a single row into a model.Config.
// The row must contain columns in the order defined by configColumns.
func scanConfig(row scannable) (*model.Config, error) {
	var c model.Config
	var value, schema []byte
	err := row.Scan(
		&c.ID,
		&c.GameID,
		&c.Environment,
		&c.Key,
		&c.Description,
		&c.DataType,
		&value,
		&schema,
		&c.Enabled,
		&c.Version,
		&c.CreatedAt,
		&c.CreatedBy,
		&c.UpdatedAt,
		&c.UpdatedBy,
	)
	if err != nil {
		return nil, err
	}
	c.Value = json.RawMessage(value)
	if len(schema) > 0 {
		c.Schema = json.RawMessage(schema)
	}
	return &c, nil
}

// scanConfigWithTotal scans a row that has a leading total_count column
// followed by the standard config columns.
func scanConfigWithTotal(row scannable) (*model.Config, int, error) {
	var total int
	var c model.Config
	var value, schema []byte
	err := row.Scan(
		&total,
		&c.ID,
		&c.GameID,
		&c.Environment,
		&c.Key,
		&c.Description,
		&c.DataType,
		&value,
		&schema,
		&c.Enabled,
		&c.Version,
		&c.CreatedAt,
		&c.CreatedBy,
		&c.UpdatedAt,
		&c.UpdatedBy,
	)
	if err != nil {
		return nil, 0, err
	}
	c.Value = json.RawMessage(value)
	if len(schema) > 0 {
		c.Schema = json.RawMessage(schema)
	}
	return &c, total, nil
}

// scanRule scans a single row into a model.Rule.
// The row must contain columns in the order defined by ruleColumns.
func scanRule(row scannable) (*model.Rule, error) {
	var r model.Rule
	var (
		override    []byte
		platforms   []byte
		countries   pq.StringArray
		segments    pq.StringArray
		activeFrom  sql.NullTime
		activeUntil sql.NullTime
	)
	err := row.Scan(
		&r.ID,
		&r.ConfigID,
		&r.Priority,
		&r.Enabled,
		&override,
		&platforms,
		&countries,
		&segments,
		&activeFrom,
		&activeUntil,
		&r.Description,
		&r.CreatedAt,
		&r.CreatedBy,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.OverrideValue = json.RawMessage(override)
	if len(platforms) > 0 {
		if err := json.Unmarshal(platforms, &r.Platforms); err != nil {
			return nil, fmt.Errorf("decode platforms of rule %s: %w", r.ID, err)
		}
		if len(r.Platforms) == 0 {
			r.Platforms = nil
		}
	}
	if len(countries) > 0 {
		r.Countries = []string(countries)
	}
	if len(segments) > 0 {
		r.Segments = []string(segments)
	}
	r.ActiveFrom = timePtr(activeFrom)
	r.ActiveUntil = timePtr(activeUntil)
	return &r, nil
}

// scanRules scans multiple rows into a slice of model.Rule pointers.
func scanRules(rows *sql.Rows) ([]*model.Rule, error) {
	var rules []*model.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rules, nil
}

// scanDraft scans a single row into a model.Draft.
// The row must contain columns in the order defined by draftColumns.
func scanDraft(row scannable) (*model.Draft, error) {
	var d model.Draft
	var (
		proposed    []byte
		submittedAt sql.NullTime
		deployedAt  sql.NullTime
		rejectedAt  sql.NullTime
	)
	err := row.Scan(
		&d.ID,
		&d.ConfigID,
		&d.Title,
		&d.Status,
		&proposed,
		&d.BaseVersion,
		&d.CreatedAt,
		&d.CreatedBy,
		&d.UpdatedAt,
		&submittedAt,
		&d.SubmittedBy,
		&deployedAt,
		&d.DeployedBy,
		&rejectedAt,
		&d.RejectedBy,
		&d.RejectionReason,
	)
	if err != nil {
		return nil, err
	}
	if len(proposed) > 0 {
		var st model.ConfigState
		if err := json.Unmarshal(proposed, &st); err != nil {
			return nil, fmt.Errorf("decode proposed state of draft %s: %w", d.ID, err)
		}
		d.Proposed = &st
	}
	d.SubmittedAt = timePtr(submittedAt)
	d.DeployedAt = timePtr(deployedAt)
	d.RejectedAt = timePtr(rejectedAt)
	return &d, nil
}

// scanDrafts scans multiple rows into a slice of model.Draft pointers.
func scanDrafts(rows *sql.Rows) ([]*model.Draft, error) {
	var drafts []*model.Draft
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return drafts, nil
}

// scanHistoryEntry scans a single row into a model.HistoryEntry.
// The row must contain columns in the order defined by historyColumns.
func scanHistoryEntry(row scannable) (*model.HistoryEntry, error) {
	var e model.HistoryEntry
	var (
		previous   []byte
		next       []byte
		rollbackOf sql.NullInt64
	)
	err := row.Scan(
		&e.ID,
		&e.ConfigID,
		&e.RuleID,
		pq.Array(&e.RuleIDs),
		&e.GameID,
		&e.Environment,
		&e.Key,
		&e.ChangeType,
		&previous,
		&next,
		&e.Actor,
		&e.Reason,
		&e.DraftID,
		&rollbackOf,
		&e.ChangedAt,
	)
	if err != nil {
		return nil, err
	}
	if e.Previous, err = decodeState(previous); err != nil {
		return nil, fmt.Errorf("decode previous state of history %d: %w", e.ID, err)
	}
	if e.New, err = decodeState(next); err != nil {
		return nil, fmt.Errorf("decode new state of history %d: %w", e.ID, err)
	}
	if len(e.RuleIDs) == 0 {
		e.RuleIDs = nil
	}
	e.RollbackOf = rollbackOf.Int64
	return &e, nil
}

func decodeState(b []byte) (*model.ConfigState, error) {
	if len(b) == 0 || string(b) == "null" {
		return nil, nil
	}
	var st model.ConfigState
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// encodeState marshals a state for a nullable JSONB column.
func encodeState(st *model.ConfigState) ([]byte, error) {
	if st == nil {
		return nil, nil
	}
	return json.Marshal(st)
}

// nullTimePtr converts a *time.Time to a sql.NullTime.
func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// nullInt64 converts an int64 to sql.NullInt64; zero is null.
func nullInt64(n int64) sql.NullInt64 {
	if n == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: n, Valid: true}
}

// jsonbBytes converts json.RawMessage to a []byte suitable for JSONB columns.
func jsonbBytes(m json.RawMessage) []byte {
	if len(m) == 0 {
		return nil
	}
	return []byte(m)
}

// platformsJSON encodes platform conditions for the platforms column.
func platformsJSON(p []model.PlatformCondition) ([]byte, error) {
	if len(p) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(p)
}

// stringArray converts a possibly-nil slice for a TEXT[] column.
func stringArray(s []string) pq.StringArray {
	if s == nil {
		return pq.StringArray{}
	}
	return pq.StringArray(s)
}
