package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/alfredjeanlab/gamecfg/internal/events"
	"github.com/alfredjeanlab/gamecfg/internal/metrics"
	"github.com/alfredjeanlab/gamecfg/internal/model"
	"github.com/alfredjeanlab/gamecfg/internal/snapshot"
	"github.com/alfredjeanlab/gamecfg/internal/store"
)

// ConfigServer serves evaluation from the live snapshot and, when it has a
// store, the management API that changes it.
type ConfigServer struct {
	store     store.Store
	publisher events.Publisher
	cache     *snapshot.Cache
	metrics   metrics.Recorder
	sseHub    *sseHub
	now       func() time.Time
}

// Option configures a ConfigServer.
type Option func(*ConfigServer)

// WithMetrics reports to m instead of discarding metrics.
func WithMetrics(m metrics.Recorder) Option {
	return func(s *ConfigServer) { s.metrics = m }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *ConfigServer) { s.now = now }
}

// NewConfigServer returns a server backed by the given store, publisher and
// snapshot cache. st may be nil for an evaluation-only replica.
func NewConfigServer(st store.Store, p events.Publisher, cache *snapshot.Cache, opts ...Option) *ConfigServer {
	s := &ConfigServer{
		store:     st,
		publisher: p,
		cache:     cache,
		metrics:   metrics.Noop{},
		sseHub:    newSSEHub(),
		now:       time.Now,
	}
	if s.publisher == nil {
		s.publisher = events.NoopPublisher{}
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ReadOnly reports whether the server has no store and serves evaluation only.
func (s *ConfigServer) ReadOnly() bool {
	return s.store == nil
}

func (s *ConfigServer) clock() time.Time {
	return s.now().UTC()
}

// inputError indicates a malformed request, as opposed to a rejected write.
// Transport layers map this to 400 / InvalidArgument.
type inputError string

func (e inputError) Error() string { return string(e) }

// errReadOnly is returned by management operations on an evaluation-only
// replica.
var errReadOnly = errors.New("server is read-only")

// change is the outcome of one accepted mutation.
type change struct {
	entry   *model.HistoryEntry
	version int64 // config version after the change; 0 when deleted
}

// transact runs fn in one store transaction and counts the outcome under op.
func (s *ConfigServer) transact(ctx context.Context, op string, fn func(tx store.Store) error) error {
	if s.store == nil {
		return errReadOnly
	}
	err := s.store.RunInTransaction(ctx, fn)
	s.observe(op, err)
	return err
}

// commit runs a mutation that changes live state. fn returns the history
// entry describing the change; commit stamps and appends it inside the same
// transaction, so a mutation and its audit entry are stored together or not
// at all. After the commit the live snapshot is refreshed and the change is
// published.
func (s *ConfigServer) commit(ctx context.Context, op string, fn func(tx store.Store, now time.Time) (*change, error)) (*change, error) {
	now := s.clock()
	var ch *change
	err := s.transact(ctx, op, func(tx store.Store) error {
		c, err := fn(tx, now)
		if err != nil {
			return err
		}
		c.entry.ChangedAt = now
		c.entry.RuleIDs = touchedRules(c.entry)
		if err := tx.AppendHistory(ctx, c.entry); err != nil {
			return fmt.Errorf("append history: %w", err)
		}
		ch = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.refreshSnapshot(ctx)

	e := ch.entry
	s.publish(ctx, events.TopicForChange(e.ChangeType), events.Changed{
		ChangeType:  e.ChangeType,
		HistoryID:   e.ID,
		ConfigID:    e.ConfigID,
		RuleID:      e.RuleID,
		GameID:      e.GameID,
		Environment: e.Environment,
		Key:         e.Key,
		Version:     ch.version,
		Actor:       e.Actor,
		ChangedAt:   e.ChangedAt,
	})
	s.publish(ctx, events.TopicLiveChanged, events.LiveChanged{ConfigID: e.ConfigID, Version: ch.version})
	return ch, nil
}

// observe records the outcome of a management operation.
func (s *ConfigServer) observe(op string, err error) {
	var (
		ve *model.ValidationError
		ie *model.IntegrityError
	)
	switch {
	case err == nil:
		s.metrics.IncMutation(op, "ok")
	case errors.As(err, &ve):
		s.metrics.IncValidationRejected(op)
		s.metrics.IncMutation(op, "rejected")
	case errors.Is(err, model.ErrConflict):
		s.metrics.IncMutation(op, "conflict")
	case errors.Is(err, model.ErrNotFound):
		s.metrics.IncMutation(op, "not_found")
	case errors.As(err, &ie):
		s.reportIntegrity(op, ie)
		s.metrics.IncMutation(op, "error")
	default:
		s.metrics.IncMutation(op, "error")
	}
}

func (s *ConfigServer) reportIntegrity(where string, ie *model.IntegrityError) {
	slog.Error("integrity violation", "op", where, "config_id", ie.ConfigID, "error", ie.Message)
	s.metrics.IncIntegrityError()
}

// refreshSnapshot rebuilds the live snapshot after a commit. Failure leaves
// the previous snapshot in place; the periodic refresh catches up.
func (s *ConfigServer) refreshSnapshot(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Refresh(ctx); err != nil {
		slog.Warn("failed to refresh snapshot after commit", "error", err)
		s.metrics.SnapshotRefreshed(false, 0)
		return
	}
	s.metrics.SnapshotRefreshed(true, s.cache.Current().Len())
}

// publish sends an event to the bus and to SSE clients. Both are
// best-effort; failures are logged but do not fail the caller.
func (s *ConfigServer) publish(ctx context.Context, topic string, event any) {
	if err := s.publisher.Publish(ctx, topic, event); err != nil {
		slog.Warn("failed to publish event", "topic", topic, "error", err)
	}
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Warn("failed to marshal event for SSE broadcast", "topic", topic, "error", err)
		return
	}
	s.sseHub.broadcast(topic, payload)
}

// checkVersion fails with ErrConflict when the caller expected a different
// config version. Zero means the caller did not state one.
func checkVersion(cfg *model.Config, expected int64) error {
	if expected != 0 && cfg.Version != expected {
		return fmt.Errorf("config %s is at version %d, not %d: %w", cfg.ID, cfg.Version, expected, model.ErrConflict)
	}
	return nil
}

// configEntry starts a history entry for cfg.
func configEntry(cfg *model.Config, ct model.ChangeType, actor, reason string) *model.HistoryEntry {
	return &model.HistoryEntry{
		ConfigID:    cfg.ID,
		GameID:      cfg.GameID,
		Environment: cfg.Environment,
		Key:         cfg.Key,
		ChangeType:  ct,
		Actor:       actor,
		Reason:      reason,
	}
}

// touchedRules lists the rules an entry changed, including its own RuleID.
func touchedRules(e *model.HistoryEntry) []string {
	ids := model.TouchedRuleIDs(e.Previous, e.New)
	if e.RuleID != "" && !slices.Contains(ids, e.RuleID) {
		ids = append(ids, e.RuleID)
		slices.Sort(ids)
	}
	return ids
}
