// Package postgres implements the store.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"iter"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/gamecfg/internal/model"
	"github.com/alfredjeanlab/gamecfg/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements store.Store backed by a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) CreateConfig(ctx context.Context, cfg *model.Config) error {
	return queryCreateConfig(ctx, s.db, cfg)
}

func (s *PostgresStore) GetConfig(ctx context.Context, id string) (*model.Config, error) {
	return queryGetConfig(ctx, s.db, id)
}

func (s *PostgresStore) GetConfigByKey(ctx context.Context, gameID string, env model.Environment, key string) (*model.Config, error) {
	return queryGetConfigByKey(ctx, s.db, gameID, env, key)
}

func (s *PostgresStore) ListConfigs(ctx context.Context, filter model.ConfigFilter) ([]*model.Config, int, error) {
	return queryListConfigs(ctx, s.db, filter)
}

func (s *PostgresStore) UpdateConfig(ctx context.Context, cfg *model.Config) error {
	return queryUpdateConfig(ctx, s.db, cfg)
}

func (s *PostgresStore) DeleteConfig(ctx context.Context, id string, expectedVersion int64) error {
	return queryDeleteConfig(ctx, s.db, id, expectedVersion)
}

func (s *PostgresStore) BumpConfigVersion(ctx context.Context, id string, expectedVersion int64, updatedBy string, at time.Time) (int64, error) {
	return queryBumpConfigVersion(ctx, s.db, id, expectedVersion, updatedBy, at)
}

func (s *PostgresStore) CreateRule(ctx context.Context, rule *model.Rule) error {
	return queryCreateRule(ctx, s.db, rule)
}

func (s *PostgresStore) GetRule(ctx context.Context, id string) (*model.Rule, error) {
	return queryGetRule(ctx, s.db, id)
}

func (s *PostgresStore) ListRules(ctx context.Context, configID string) ([]*model.Rule, error) {
	return queryListRules(ctx, s.db, configID)
}

func (s *PostgresStore) ListAllRules(ctx context.Context) ([]*model.Rule, error) {
	return queryListAllRules(ctx, s.db)
}

func (s *PostgresStore) UpdateRule(ctx context.Context, rule *model.Rule) error {
	return queryUpdateRule(ctx, s.db, rule)
}

func (s *PostgresStore) DeleteRule(ctx context.Context, id string) error {
	return queryDeleteRule(ctx, s.db, id)
}

func (s *PostgresStore) CreateDraft(ctx context.Context, draft *model.Draft) error {
	return queryCreateDraft(ctx, s.db, draft)
}

func (s *PostgresStore) GetDraft(ctx context.Context, id string) (*model.Draft, error) {
	return queryGetDraft(ctx, s.db, id)
}

func (s *PostgresStore) ListDrafts(ctx context.Context, configID string, status model.DraftStatus) ([]*model.Draft, error) {
	return queryListDrafts(ctx, s.db, configID, status)
}

func (s *PostgresStore) UpdateDraft(ctx context.Context, draft *model.Draft) error {
	return queryUpdateDraft(ctx, s.db, draft)
}

func (s *PostgresStore) AppendHistory(ctx context.Context, entry *model.HistoryEntry) error {
	return queryAppendHistory(ctx, s.db, entry)
}

func (s *PostgresStore) GetHistoryEntry(ctx context.Context, id int64) (*model.HistoryEntry, error) {
	return queryGetHistoryEntry(ctx, s.db, id)
}

func (s *PostgresStore) QueryHistory(ctx context.Context, q model.HistoryQuery) iter.Seq2[*model.HistoryEntry, error] {
	return iterHistory(ctx, s.db, q)
}

// RunInTransaction begins a database transaction, creates a txStore that
// delegates to it, calls fn, and commits on success or rolls back on error.
// Deferred constraint violations surface at commit and are mapped like any
// other write error.
func (s *PostgresStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	return s.runTx(ctx, "", fn)
}

// setReadOnlySnapshot must be the first statement of the transaction. Under
// the default READ COMMITTED each statement would see its own snapshot.
const setReadOnlySnapshot = "SET TRANSACTION ISOLATION LEVEL REPEATABLE READ, READ ONLY"

// RunReadOnly runs fn in a REPEATABLE READ, READ ONLY transaction.
func (s *PostgresStore) RunReadOnly(ctx context.Context, fn func(tx store.Store) error) error {
	return s.runTx(ctx, setReadOnlySnapshot, fn)
}

func (s *PostgresStore) runTx(ctx context.Context, setup string, fn func(tx store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if setup != "" {
		if _, err := tx.ExecContext(ctx, setup); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("set transaction mode: %w", err)
		}
	}

	txS := &txStore{tx: tx}
	if err := fn(txS); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", mapError(err))
	}
	return nil
}

// txStore implements store.Store using a *sql.Tx.
type txStore struct {
	tx *sql.Tx
}

// Compile-time check that txStore implements store.Store.
var _ store.Store = (*txStore)(nil)

func (s *txStore) CreateConfig(ctx context.Context, cfg *model.Config) error {
	return queryCreateConfig(ctx, s.tx, cfg)
}

func (s *txStore) GetConfig(ctx context.Context, id string) (*model.Config, error) {
	return queryGetConfig(ctx, s.tx, id)
}

func (s *txStore) GetConfigByKey(ctx context.Context, gameID string, env model.Environment, key string) (*model.Config, error) {
	return queryGetConfigByKey(ctx, s.tx, gameID, env, key)
}

func (s *txStore) ListConfigs(ctx context.Context, filter model.ConfigFilter) ([]*model.Config, int, error) {
	return queryListConfigs(ctx, s.tx, filter)
}

func (s *txStore) UpdateConfig(ctx context.Context, cfg *model.Config) error {
	return queryUpdateConfig(ctx, s.tx, cfg)
}

func (s *txStore) DeleteConfig(ctx context.Context, id string, expectedVersion int64) error {
	return queryDeleteConfig(ctx, s.tx, id, expectedVersion)
}

func (s *txStore) BumpConfigVersion(ctx context.Context, id string, expectedVersion int64, updatedBy string, at time.Time) (int64, error) {
	return queryBumpConfigVersion(ctx, s.tx, id, expectedVersion, updatedBy, at)
}

func (s *txStore) CreateRule(ctx context.Context, rule *model.Rule) error {
	return queryCreateRule(ctx, s.tx, rule)
}

func (s *txStore) GetRule(ctx context.Context, id string) (*model.Rule, error) {
	return queryGetRule(ctx, s.tx, id)
}

func (s *txStore) ListRules(ctx context.Context, configID string) ([]*model.Rule, error) {
	return queryListRules(ctx, s.tx, configID)
}

func (s *txStore) ListAllRules(ctx context.Context) ([]*model.Rule, error) {
	return queryListAllRules(ctx, s.tx)
}

func (s *txStore) UpdateRule(ctx context.Context, rule *model.Rule) error {
	return queryUpdateRule(ctx, s.tx, rule)
}

func (s *txStore) DeleteRule(ctx context.Context, id string) error {
	return queryDeleteRule(ctx, s.tx, id)
}

func (s *txStore) CreateDraft(ctx context.Context, draft *model.Draft) error {
	return queryCreateDraft(ctx, s.tx, draft)
}

func (s *txStore) GetDraft(ctx context.Context, id string) (*model.Draft, error) {
	return queryGetDraft(ctx, s.tx, id)
}

func (s *txStore) ListDrafts(ctx context.Context, configID string, status model.DraftStatus) ([]*model.Draft, error) {
	return queryListDrafts(ctx, s.tx, configID, status)
}

func (s *txStore) UpdateDraft(ctx context.Context, draft *model.Draft) error {
	return queryUpdateDraft(ctx, s.tx, draft)
}

func (s *txStore) AppendHistory(ctx context.Context, entry *model.HistoryEntry) error {
	return queryAppendHistory(ctx, s.tx, entry)
}

func (s *txStore) GetHistoryEntry(ctx context.Context, id int64) (*model.HistoryEntry, error) {
	return queryGetHistoryEntry(ctx, s.tx, id)
}

func (s *txStore) QueryHistory(ctx context.Context, q model.HistoryQuery) iter.Seq2[*model.HistoryEntry, error] {
	return iterHistory(ctx, s.tx, q)
}

// RunInTransaction on a txStore reuses the existing transaction (no nesting).
func (s *txStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

// RunReadOnly on a txStore reuses the existing transaction.
func (s *txStore) RunReadOnly(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

// Close is a no-op for a transaction store; the parent store owns the connection.
func (s *txStore) Close() error {
	return nil
}
