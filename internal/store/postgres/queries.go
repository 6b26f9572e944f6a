package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/gamecfg/internal/model"
)

// configColumns is the column list used for SELECT statements on the configs table.
const configColumns = `id, game_id, environment, key, description, data_type,
	value, schema, enabled, version, created_at, created_by, updated_at, updated_by`

// ruleColumns is the column list used for SELECT statements on the rules table.
const ruleColumns = `id, config_id, priority, enabled, override_value,
	platforms, countries, segments, active_from, active_until, description,
	created_at, created_by, updated_at`

// draftColumns is the column list used for SELECT statements on the drafts table.
const draftColumns = `id, config_id, title, status, proposed, base_version,
	created_at, created_by, updated_at, submitted_at, submitted_by,
	deployed_at, deployed_by, rejected_at, rejected_by, rejection_reason`

// historyColumns is the column list used for SELECT statements on the history table.
const historyColumns = `id, config_id, rule_id, rule_ids, game_id, environment, key,
	change_type, previous, new, actor, reason, draft_id, rollback_of, changed_at`

// historyPageSize bounds each round trip made by a history iterator.
const historyPageSize = 200

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// mapError converts driver errors into model sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: %s", model.ErrNotFound, pqErr.Detail)
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", model.ErrConflict, pqErr.Detail)
		case "23P01": // exclusion_violation
			return fmt.Errorf("%w: two enabled rules share a priority", model.ErrConflict)
		}
	}
	return err
}

// --- configs ---

func queryCreateConfig(ctx context.Context, db executor, c *model.Config) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO configs (
			id, game_id, environment, key, description, data_type,
			value, schema, enabled, version, created_at, created_by, updated_at, updated_by
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12, $13, $14
		)`,
		c.ID,
		c.GameID,
		string(c.Environment),
		c.Key,
		c.Description,
		string(c.DataType),
		jsonbBytes(c.Value),
		jsonbBytes(c.Schema),
		c.Enabled,
		c.Version,
		c.CreatedAt,
		c.CreatedBy,
		c.UpdatedAt,
		c.UpdatedBy,
	)
	return mapError(err)
}

func queryGetConfig(ctx context.Context, db executor, id string) (*model.Config, error) {
	row := db.QueryRowContext(ctx, `SELECT `+configColumns+` FROM configs WHERE id = $1`, id)
	c, err := scanConfig(row)
	return c, mapError(err)
}

func queryGetConfigByKey(ctx context.Context, db executor, gameID string, env model.Environment, key string) (*model.Config, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+configColumns+` FROM configs WHERE game_id = $1 AND environment = $2 AND key = $3`,
		gameID, string(env), key)
	c, err := scanConfig(row)
	return c, mapError(err)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func queryListConfigs(ctx context.Context, db executor, filter model.ConfigFilter) ([]*model.Config, int, error) {
	var (
		whereClauses []string
		args         []any
		argIdx       int
	)

	nextArg := func() string {
		argIdx++
		return fmt.Sprintf("$%d", argIdx)
	}

	if filter.GameID != "" {
		whereClauses = append(whereClauses, "game_id = "+nextArg())
		args = append(args, filter.GameID)
	}
	if filter.Environment != "" {
		whereClauses = append(whereClauses, "environment = "+nextArg())
		args = append(args, string(filter.Environment))
	}
	if filter.KeyPrefix != "" {
		whereClauses = append(whereClauses, "key LIKE "+nextArg())
		args = append(args, likeEscaper.Replace(filter.KeyPrefix)+"%")
	}
	if filter.Enabled != nil {
		whereClauses = append(whereClauses, "enabled = "+nextArg())
		args = append(args, *filter.Enabled)
	}

	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = " WHERE " + strings.Join(whereClauses, " AND ")
	}

	dataQuery := "SELECT COUNT(*) OVER() AS total_count, " + configColumns + " FROM configs" + whereSQL +
		" ORDER BY game_id, environment, key"

	if filter.Limit > 0 {
		dataQuery += " LIMIT " + nextArg()
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		dataQuery += " OFFSET " + nextArg()
		args = append(args, filter.Offset)
	}

	rows, err := db.QueryContext(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list configs: %w", err)
	}
	defer rows.Close()

	var configs []*model.Config
	var total int
	for rows.Next() {
		c, t, err := scanConfigWithTotal(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan configs: %w", err)
		}
		total = t
		configs = append(configs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("scan configs: %w", err)
	}

	return configs, total, nil
}

// versionMismatch explains why a version-checked write touched no row.
func versionMismatch(ctx context.Context, db executor, id string) error {
	var v int64
	err := db.QueryRowContext(ctx, `SELECT version FROM configs WHERE id = $1`, id).Scan(&v)
	if err != nil {
		return mapError(err)
	}
	return model.ErrConflict
}

func queryUpdateConfig(ctx context.Context, db executor, c *model.Config) error {
	var version int64
	err := db.QueryRowContext(ctx, `
		UPDATE configs SET
			description = $3,
			data_type = $4,
			value = $5,
			schema = $6,
			enabled = $7,
			updated_at = $8,
			updated_by = $9,
			version = version + 1
		WHERE id = $1 AND version = $2
		RETURNING version`,
		c.ID,
		c.Version,
		c.Description,
		string(c.DataType),
		jsonbBytes(c.Value),
		jsonbBytes(c.Schema),
		c.Enabled,
		c.UpdatedAt,
		c.UpdatedBy,
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return versionMismatch(ctx, db, c.ID)
	}
	if err != nil {
		return mapError(err)
	}
	c.Version = version
	return nil
}

func queryDeleteConfig(ctx context.Context, db executor, id string, expectedVersion int64) error {
	res, err := db.ExecContext(ctx, `DELETE FROM configs WHERE id = $1 AND version = $2`, id, expectedVersion)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return versionMismatch(ctx, db, id)
	}
	return nil
}

func queryBumpConfigVersion(ctx context.Context, db executor, id string, expectedVersion int64, updatedBy string, at time.Time) (int64, error) {
	var version int64
	err := db.QueryRowContext(ctx, `
		UPDATE configs SET version = version + 1, updated_at = $3, updated_by = $4
		WHERE id = $1 AND version = $2
		RETURNING version`,
		id, expectedVersion, at, updatedBy,
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, versionMismatch(ctx, db, id)
	}
	if err != nil {
		return 0, mapError(err)
	}
	return version, nil
}

// --- rules ---

func queryCreateRule(ctx context.Context, db executor, r *model.Rule) error {
	platforms, err := platformsJSON(r.Platforms)
	if err != nil {
		return fmt.Errorf("encode platforms: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO rules (
			id, config_id, priority, enabled, override_value,
			platforms, countries, segments, active_from, active_until, description,
			created_at, created_by, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11,
			$12, $13, $14
		)`,
		r.ID,
		r.ConfigID,
		r.Priority,
		r.Enabled,
		jsonbBytes(r.OverrideValue),
		platforms,
		stringArray(r.Countries),
		stringArray(r.Segments),
		nullTimePtr(r.ActiveFrom),
		nullTimePtr(r.ActiveUntil),
		r.Description,
		r.CreatedAt,
		r.CreatedBy,
		r.UpdatedAt,
	)
	return mapError(err)
}

func queryGetRule(ctx context.Context, db executor, id string) (*model.Rule, error) {
	row := db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id = $1`, id)
	r, err := scanRule(row)
	return r, mapError(err)
}

func queryListRules(ctx context.Context, db executor, configID string) ([]*model.Rule, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM rules WHERE config_id = $1 ORDER BY priority, id`, configID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()
	return scanRules(rows)
}

func queryListAllRules(ctx context.Context, db executor) ([]*model.Rule, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+ruleColumns+` FROM rules ORDER BY config_id, priority, id`)
	if err != nil {
		return nil, fmt.Errorf("list all rules: %w", err)
	}
	defer rows.Close()
	return scanRules(rows)
}

func queryUpdateRule(ctx context.Context, db executor, r *model.Rule) error {
	platforms, err := platformsJSON(r.Platforms)
	if err != nil {
		return fmt.Errorf("encode platforms: %w", err)
	}
	res, err := db.ExecContext(ctx, `
		UPDATE rules SET
			priority = $2,
			enabled = $3,
			override_value = $4,
			platforms = $5,
			countries = $6,
			segments = $7,
			active_from = $8,
			active_until = $9,
			description = $10,
			updated_at = $11
		WHERE id = $1`,
		r.ID,
		r.Priority,
		r.Enabled,
		jsonbBytes(r.OverrideValue),
		platforms,
		stringArray(r.Countries),
		stringArray(r.Segments),
		nullTimePtr(r.ActiveFrom),
		nullTimePtr(r.ActiveUntil),
		r.Description,
		r.UpdatedAt,
	)
	if err != nil {
		return mapError(err)
	}
	return requireRow(res)
}

func queryDeleteRule(ctx context.Context, db executor, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM rules WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// --- drafts ---

func queryCreateDraft(ctx context.Context, db executor, d *model.Draft) error {
	proposed, err := encodeState(d.Proposed)
	if err != nil {
		return fmt.Errorf("encode proposed state: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO drafts (
			id, config_id, title, status, proposed, base_version,
			created_at, created_by, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		d.ID,
		d.ConfigID,
		d.Title,
		string(d.Status),
		proposed,
		d.BaseVersion,
		d.CreatedAt,
		d.CreatedBy,
		d.UpdatedAt,
	)
	return mapError(err)
}

func queryGetDraft(ctx context.Context, db executor, id string) (*model.Draft, error) {
	row := db.QueryRowContext(ctx, `SELECT `+draftColumns+` FROM drafts WHERE id = $1`, id)
	d, err := scanDraft(row)
	return d, mapError(err)
}

func queryListDrafts(ctx context.Context, db executor, configID string, status model.DraftStatus) ([]*model.Draft, error) {
	query := `SELECT ` + draftColumns + ` FROM drafts WHERE config_id = $1`
	args := []any{configID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	defer rows.Close()
	return scanDrafts(rows)
}

func queryUpdateDraft(ctx context.Context, db executor, d *model.Draft) error {
	proposed, err := encodeState(d.Proposed)
	if err != nil {
		return fmt.Errorf("encode proposed state: %w", err)
	}
	res, err := db.ExecContext(ctx, `
		UPDATE drafts SET
			title = $2,
			status = $3,
			proposed = $4,
			base_version = $5,
			updated_at = $6,
			submitted_at = $7,
			submitted_by = $8,
			deployed_at = $9,
			deployed_by = $10,
			rejected_at = $11,
			rejected_by = $12,
			rejection_reason = $13
		WHERE id = $1`,
		d.ID,
		d.Title,
		string(d.Status),
		proposed,
		d.BaseVersion,
		d.UpdatedAt,
		nullTimePtr(d.SubmittedAt),
		d.SubmittedBy,
		nullTimePtr(d.DeployedAt),
		d.DeployedBy,
		nullTimePtr(d.RejectedAt),
		d.RejectedBy,
		d.RejectionReason,
	)
	if err != nil {
		return mapError(err)
	}
	return requireRow(res)
}

// --- history ---

func queryAppendHistory(ctx context.Context, db executor, e *model.HistoryEntry) error {
	previous, err := encodeState(e.Previous)
	if err != nil {
		return fmt.Errorf("encode previous state: %w", err)
	}
	next, err := encodeState(e.New)
	if err != nil {
		return fmt.Errorf("encode new state: %w", err)
	}
	ruleIDs := e.RuleIDs
	if ruleIDs == nil {
		ruleIDs = []string{}
	}
	return db.QueryRowContext(ctx, `
		INSERT INTO history (
			config_id, rule_id, rule_ids, game_id, environment, key, change_type,
			previous, new, actor, reason, draft_id, rollback_of, changed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id`,
		e.ConfigID,
		e.RuleID,
		pq.Array(ruleIDs),
		e.GameID,
		string(e.Environment),
		e.Key,
		string(e.ChangeType),
		previous,
		next,
		e.Actor,
		e.Reason,
		e.DraftID,
		nullInt64(e.RollbackOf),
		e.ChangedAt,
	).Scan(&e.ID)
}

func queryGetHistoryEntry(ctx context.Context, db executor, id int64) (*model.HistoryEntry, error) {
	row := db.QueryRowContext(ctx, `SELECT `+historyColumns+` FROM history WHERE id = $1`, id)
	e, err := scanHistoryEntry(row)
	return e, mapError(err)
}

// historyCursor is the (changed_at, id) position after which the next page starts.
type historyCursor struct {
	at time.Time
	id int64
}

func queryHistoryPage(ctx context.Context, db executor, q model.HistoryQuery, after *historyCursor, limit int) ([]*model.HistoryEntry, error) {
	var (
		whereClauses []string
		args         []any
		argIdx       int
	)

	nextArg := func() string {
		argIdx++
		return fmt.Sprintf("$%d", argIdx)
	}

	if q.ConfigID != "" {
		whereClauses = append(whereClauses, "config_id = "+nextArg())
		args = append(args, q.ConfigID)
	}
	if q.RuleID != "" {
		arg := nextArg()
		whereClauses = append(whereClauses, fmt.Sprintf("(rule_id = %s OR rule_ids @> ARRAY[%s]::text[])", arg, arg))
		args = append(args, q.RuleID)
	}
	if !q.Since.IsZero() {
		whereClauses = append(whereClauses, "changed_at >= "+nextArg())
		args = append(args, q.Since)
	}
	if !q.Until.IsZero() {
		whereClauses = append(whereClauses, "changed_at <= "+nextArg())
		args = append(args, q.Until)
	}

	order := "ASC"
	cmp := ">"
	if q.Descending {
		order, cmp = "DESC", "<"
	}
	if after != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("(changed_at, id) %s (%s, %s)", cmp, nextArg(), nextArg()))
		args = append(args, after.at, after.id)
	}

	query := `SELECT ` + historyColumns + ` FROM history`
	if len(whereClauses) > 0 {
		query += " WHERE " + strings.Join(whereClauses, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY changed_at %s, id %s LIMIT %s", order, order, nextArg())
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []*model.HistoryEntry
	for rows.Next() {
		e, err := scanHistoryEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan history: %w", err)
	}
	return entries, nil
}

// iterHistory pages through the history table with keyset pagination. No
// query runs until the sequence is ranged over, and iteration stops after
// q.Limit entries when it is positive.
func iterHistory(ctx context.Context, db executor, q model.HistoryQuery) iter.Seq2[*model.HistoryEntry, error] {
	return func(yield func(*model.HistoryEntry, error) bool) {
		var cursor *historyCursor
		remaining := q.Limit
		for {
			size := historyPageSize
			if q.Limit > 0 && remaining < size {
				size = remaining
			}
			page, err := queryHistoryPage(ctx, db, q, cursor, size)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, e := range page {
				if !yield(e, nil) {
					return
				}
			}
			if q.Limit > 0 {
				remaining -= len(page)
				if remaining <= 0 {
					return
				}
			}
			if len(page) < size {
				return
			}
			last := page[len(page)-1]
			cursor = &historyCursor{at: last.ChangedAt, id: last.ID}
		}
	}
}
