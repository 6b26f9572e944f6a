// Package memory implements store.Store in process memory. It backs the
// server, snapshot and backup tests and the CLI's end-to-end tests.
package memory

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alfredjeanlab/gamecfg/internal/model"
	"github.com/alfredjeanlab/gamecfg/internal/store"
)

// data is one immutable generation of the store. Stored records are never
// modified in place: writers replace map entries with fresh copies, so a
// generation can be cloned by copying its maps.
type data struct {
	configs map[string]*model.Config
	rules   map[string]*model.Rule
	drafts  map[string]*model.Draft
	history []*model.HistoryEntry
	nextID  int64
}

func newData() *data {
	return &data{
		configs: make(map[string]*model.Config),
		rules:   make(map[string]*model.Rule),
		drafts:  make(map[string]*model.Draft),
		nextID:  1,
	}
}

func (d *data) clone() *data {
	out := &data{
		configs: make(map[string]*model.Config, len(d.configs)),
		rules:   make(map[string]*model.Rule, len(d.rules)),
		drafts:  make(map[string]*model.Draft, len(d.drafts)),
		history: d.history[:len(d.history):len(d.history)],
		nextID:  d.nextID,
	}
	for k, v := range d.configs {
		out.configs[k] = v
	}
	for k, v := range d.rules {
		out.rules[k] = v
	}
	for k, v := range d.drafts {
		out.drafts[k] = v
	}
	return out
}

// Store is an in-memory store.Store. Reads see the last committed
// generation; transactions work on a private copy that replaces it on
// success, so a failed transaction leaves no trace.
type Store struct {
	mu   sync.RWMutex // guards cur
	txMu sync.Mutex   // serializes writers
	cur  *data
}

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// New returns an empty in-memory store.
func New() *Store {
	return &Store{cur: newData()}
}

func (s *Store) snapshot() *data {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// RunInTransaction runs fn against a copy of the current generation and
// publishes the copy if fn succeeds and the result still satisfies the
// store's constraints.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.snapshot().clone()
	if err := fn(&txStore{d: work}); err != nil {
		return err
	}
	if err := work.checkConstraints(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	s.mu.Lock()
	s.cur = work
	s.mu.Unlock()
	return nil
}

// RunReadOnly runs fn against a private copy of the current generation. The
// copy is discarded, so writes made by fn are never published.
func (s *Store) RunReadOnly(ctx context.Context, fn func(tx store.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(&txStore{d: s.snapshot().clone()})
}

func (s *Store) write(ctx context.Context, fn func(d *data) error) error {
	return s.RunInTransaction(ctx, func(tx store.Store) error {
		return fn(tx.(*txStore).d)
	})
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

func (s *Store) CreateConfig(ctx context.Context, cfg *model.Config) error {
	return s.write(ctx, func(d *data) error { return d.createConfig(cfg) })
}

func (s *Store) GetConfig(ctx context.Context, id string) (*model.Config, error) {
	return s.snapshot().getConfig(id)
}

func (s *Store) GetConfigByKey(ctx context.Context, gameID string, env model.Environment, key string) (*model.Config, error) {
	return s.snapshot().getConfigByKey(gameID, env, key)
}

func (s *Store) ListConfigs(ctx context.Context, filter model.ConfigFilter) ([]*model.Config, int, error) {
	configs, total := s.snapshot().listConfigs(filter)
	return configs, total, nil
}

func (s *Store) UpdateConfig(ctx context.Context, cfg *model.Config) error {
	return s.write(ctx, func(d *data) error { return d.updateConfig(cfg) })
}

func (s *Store) DeleteConfig(ctx context.Context, id string, expectedVersion int64) error {
	return s.write(ctx, func(d *data) error { return d.deleteConfig(id, expectedVersion) })
}

func (s *Store) BumpConfigVersion(ctx context.Context, id string, expectedVersion int64, updatedBy string, at time.Time) (int64, error) {
	var v int64
	err := s.write(ctx, func(d *data) (err error) {
		v, err = d.bumpConfigVersion(id, expectedVersion, updatedBy, at)
		return err
	})
	return v, err
}

func (s *Store) CreateRule(ctx context.Context, rule *model.Rule) error {
	return s.write(ctx, func(d *data) error { return d.createRule(rule) })
}

func (s *Store) GetRule(ctx context.Context, id string) (*model.Rule, error) {
	return s.snapshot().getRule(id)
}

func (s *Store) ListRules(ctx context.Context, configID string) ([]*model.Rule, error) {
	return s.snapshot().listRules(configID), nil
}

func (s *Store) ListAllRules(ctx context.Context) ([]*model.Rule, error) {
	return s.snapshot().listRules(""), nil
}

func (s *Store) UpdateRule(ctx context.Context, rule *model.Rule) error {
	return s.write(ctx, func(d *data) error { return d.updateRule(rule) })
}

func (s *Store) DeleteRule(ctx context.Context, id string) error {
	return s.write(ctx, func(d *data) error { return d.deleteRule(id) })
}

func (s *Store) CreateDraft(ctx context.Context, draft *model.Draft) error {
	return s.write(ctx, func(d *data) error { return d.createDraft(draft) })
}

func (s *Store) GetDraft(ctx context.Context, id string) (*model.Draft, error) {
	return s.snapshot().getDraft(id)
}

func (s *Store) ListDrafts(ctx context.Context, configID string, status model.DraftStatus) ([]*model.Draft, error) {
	return s.snapshot().listDrafts(configID, status), nil
}

func (s *Store) UpdateDraft(ctx context.Context, draft *model.Draft) error {
	return s.write(ctx, func(d *data) error { return d.updateDraft(draft) })
}

func (s *Store) AppendHistory(ctx context.Context, entry *model.HistoryEntry) error {
	return s.write(ctx, func(d *data) error { d.appendHistory(entry); return nil })
}

func (s *Store) GetHistoryEntry(ctx context.Context, id int64) (*model.HistoryEntry, error) {
	return s.snapshot().getHistoryEntry(id)
}

// QueryHistory reads the generation that is current when iteration starts.
func (s *Store) QueryHistory(ctx context.Context, q model.HistoryQuery) iter.Seq2[*model.HistoryEntry, error] {
	return func(yield func(*model.HistoryEntry, error) bool) {
		s.snapshot().queryHistory(ctx, q)(yield)
	}
}

// txStore implements store.Store over a private working generation.
type txStore struct {
	d *data
}

var _ store.Store = (*txStore)(nil)

func (t *txStore) CreateConfig(ctx context.Context, cfg *model.Config) error {
	return t.d.createConfig(cfg)
}

func (t *txStore) GetConfig(ctx context.Context, id string) (*model.Config, error) {
	return t.d.getConfig(id)
}

func (t *txStore) GetConfigByKey(ctx context.Context, gameID string, env model.Environment, key string) (*model.Config, error) {
	return t.d.getConfigByKey(gameID, env, key)
}

func (t *txStore) ListConfigs(ctx context.Context, filter model.ConfigFilter) ([]*model.Config, int, error) {
	configs, total := t.d.listConfigs(filter)
	return configs, total, nil
}

func (t *txStore) UpdateConfig(ctx context.Context, cfg *model.Config) error {
	return t.d.updateConfig(cfg)
}

func (t *txStore) DeleteConfig(ctx context.Context, id string, expectedVersion int64) error {
	return t.d.deleteConfig(id, expectedVersion)
}

func (t *txStore) BumpConfigVersion(ctx context.Context, id string, expectedVersion int64, updatedBy string, at time.Time) (int64, error) {
	return t.d.bumpConfigVersion(id, expectedVersion, updatedBy, at)
}

func (t *txStore) CreateRule(ctx context.Context, rule *model.Rule) error {
	return t.d.createRule(rule)
}

func (t *txStore) GetRule(ctx context.Context, id string) (*model.Rule, error) {
	return t.d.getRule(id)
}

func (t *txStore) ListRules(ctx context.Context, configID string) ([]*model.Rule, error) {
	return t.d.listRules(configID), nil
}

func (t *txStore) ListAllRules(ctx context.Context) ([]*model.Rule, error) {
	return t.d.listRules(""), nil
}

func (t *txStore) UpdateRule(ctx context.Context, rule *model.Rule) error {
	return t.d.updateRule(rule)
}

func (t *txStore) DeleteRule(ctx context.Context, id string) error {
	return t.d.deleteRule(id)
}

func (t *txStore) CreateDraft(ctx context.Context, draft *model.Draft) error {
	return t.d.createDraft(draft)
}

func (t *txStore) GetDraft(ctx context.Context, id string) (*model.Draft, error) {
	return t.d.getDraft(id)
}

func (t *txStore) ListDrafts(ctx context.Context, configID string, status model.DraftStatus) ([]*model.Draft, error) {
	return t.d.listDrafts(configID, status), nil
}

func (t *txStore) UpdateDraft(ctx context.Context, draft *model.Draft) error {
	return t.d.updateDraft(draft)
}

func (t *txStore) AppendHistory(ctx context.Context, entry *model.HistoryEntry) error {
	t.d.appendHistory(entry)
	return nil
}

func (t *txStore) GetHistoryEntry(ctx context.Context, id int64) (*model.HistoryEntry, error) {
	return t.d.getHistoryEntry(id)
}

func (t *txStore) QueryHistory(ctx context.Context, q model.HistoryQuery) iter.Seq2[*model.HistoryEntry, error] {
	return t.d.queryHistory(ctx, q)
}

// RunInTransaction on a txStore reuses the existing transaction (no nesting).
func (t *txStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(t)
}

// RunReadOnly on a txStore reuses the existing transaction.
func (t *txStore) RunReadOnly(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(t)
}

// Close is a no-op for a transaction store.
func (t *txStore) Close() error { return nil }

// --- operations on a generation ---

func (d *data) createConfig(cfg *model.Config) error {
	if _, ok := d.configs[cfg.ID]; ok {
		return fmt.Errorf("%w: config %s already exists", model.ErrConflict, cfg.ID)
	}
	if _, err := d.getConfigByKey(cfg.GameID, cfg.Environment, cfg.Key); err == nil {
		return fmt.Errorf("%w: key %s already exists in %s/%s", model.ErrConflict, cfg.Key, cfg.GameID, cfg.Environment)
	}
	d.configs[cfg.ID] = cfg.Clone()
	return nil
}

func (d *data) getConfig(id string) (*model.Config, error) {
	c, ok := d.configs[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return c.Clone(), nil
}

func (d *data) getConfigByKey(gameID string, env model.Environment, key string) (*model.Config, error) {
	for _, c := range d.configs {
		if c.GameID == gameID && c.Environment == env && c.Key == key {
			return c.Clone(), nil
		}
	}
	return nil, model.ErrNotFound
}

func (d *data) listConfigs(filter model.ConfigFilter) ([]*model.Config, int) {
	var matched []*model.Config
	for _, c := range d.configs {
		if filter.GameID != "" && c.GameID != filter.GameID {
			continue
		}
		if filter.Environment != "" && c.Environment != filter.Environment {
			continue
		}
		if filter.KeyPrefix != "" && !strings.HasPrefix(c.Key, filter.KeyPrefix) {
			continue
		}
		if filter.Enabled != nil && c.Enabled != *filter.Enabled {
			continue
		}
		matched = append(matched, c)
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.GameID != b.GameID {
			return a.GameID < b.GameID
		}
		if a.Environment != b.Environment {
			return a.Environment < b.Environment
		}
		return a.Key < b.Key
	})

	total := len(matched)
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[filter.Offset:]
		}
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	out := make([]*model.Config, len(matched))
	for i, c := range matched {
		out[i] = c.Clone()
	}
	return out, total
}

func (d *data) checkVersion(id string, expected int64) (*model.Config, error) {
	c, ok := d.configs[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	if c.Version != expected {
		return nil, model.ErrConflict
	}
	return c, nil
}

func (d *data) updateConfig(cfg *model.Config) error {
	cur, err := d.checkVersion(cfg.ID, cfg.Version)
	if err != nil {
		return err
	}
	next := cur.Clone()
	next.Description = cfg.Description
	next.DataType = cfg.DataType
	next.Value = cfg.Value
	next.Schema = cfg.Schema
	next.Enabled = cfg.Enabled
	next.UpdatedAt = cfg.UpdatedAt
	next.UpdatedBy = cfg.UpdatedBy
	next.Version = cur.Version + 1
	d.configs[cfg.ID] = next.Clone()
	cfg.Version = next.Version
	return nil
}

func (d *data) deleteConfig(id string, expected int64) error {
	if _, err := d.checkVersion(id, expected); err != nil {
		return err
	}
	delete(d.configs, id)
	for rid, r := range d.rules {
		if r.ConfigID == id {
			delete(d.rules, rid)
		}
	}
	for did, dr := range d.drafts {
		if dr.ConfigID == id {
			delete(d.drafts, did)
		}
	}
	return nil
}

func (d *data) bumpConfigVersion(id string, expected int64, updatedBy string, at time.Time) (int64, error) {
	cur, err := d.checkVersion(id, expected)
	if err != nil {
		return 0, err
	}
	next := cur.Clone()
	next.Version++
	next.UpdatedAt = at
	next.UpdatedBy = updatedBy
	d.configs[id] = next
	return next.Version, nil
}

func (d *data) createRule(r *model.Rule) error {
	if _, ok := d.configs[r.ConfigID]; !ok {
		return fmt.Errorf("%w: config %s", model.ErrNotFound, r.ConfigID)
	}
	if _, ok := d.rules[r.ID]; ok {
		return fmt.Errorf("%w: rule %s already exists", model.ErrConflict, r.ID)
	}
	d.rules[r.ID] = r.Clone()
	return nil
}

func (d *data) getRule(id string) (*model.Rule, error) {
	r, ok := d.rules[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return r.Clone(), nil
}

// listRules returns the rules of configID, or all rules when configID is
// empty, ordered by (config, priority, id).
func (d *data) listRules(configID string) []*model.Rule {
	var out []*model.Rule
	for _, r := range d.rules {
		if configID == "" || r.ConfigID == configID {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.ConfigID != b.ConfigID {
			return a.ConfigID < b.ConfigID
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.ID < b.ID
	})
	return out
}

func (d *data) updateRule(r *model.Rule) error {
	cur, ok := d.rules[r.ID]
	if !ok {
		return model.ErrNotFound
	}
	next := r.Clone()
	next.ConfigID = cur.ConfigID
	next.CreatedAt = cur.CreatedAt
	next.CreatedBy = cur.CreatedBy
	d.rules[r.ID] = next
	return nil
}

func (d *data) deleteRule(id string) error {
	if _, ok := d.rules[id]; !ok {
		return model.ErrNotFound
	}
	delete(d.rules, id)
	return nil
}

func cloneDraft(dr *model.Draft) *model.Draft {
	out := *dr
	out.Proposed = cloneState(dr.Proposed)
	return &out
}

func cloneState(st *model.ConfigState) *model.ConfigState {
	if st == nil {
		return nil
	}
	out := *st
	out.Value = append([]byte(nil), st.Value...)
	if st.Schema != nil {
		out.Schema = append([]byte(nil), st.Schema...)
	}
	out.Rules = make([]*model.RuleState, len(st.Rules))
	for i, r := range st.Rules {
		out.Rules[i] = &model.RuleState{ID: r.ID, RuleSpec: r.RuleSpec.Clone()}
	}
	return &out
}

func (d *data) createDraft(dr *model.Draft) error {
	if _, ok := d.configs[dr.ConfigID]; !ok {
		return fmt.Errorf("%w: config %s", model.ErrNotFound, dr.ConfigID)
	}
	if _, ok := d.drafts[dr.ID]; ok {
		return fmt.Errorf("%w: draft %s already exists", model.ErrConflict, dr.ID)
	}
	d.drafts[dr.ID] = cloneDraft(dr)
	return nil
}

func (d *data) getDraft(id string) (*model.Draft, error) {
	dr, ok := d.drafts[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return cloneDraft(dr), nil
}

func (d *data) listDrafts(configID string, status model.DraftStatus) []*model.Draft {
	var out []*model.Draft
	for _, dr := range d.drafts {
		if dr.ConfigID != configID {
			continue
		}
		if status != "" && dr.Status != status {
			continue
		}
		out = append(out, cloneDraft(dr))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (d *data) updateDraft(dr *model.Draft) error {
	cur, ok := d.drafts[dr.ID]
	if !ok {
		return model.ErrNotFound
	}
	next := cloneDraft(dr)
	next.ConfigID = cur.ConfigID
	next.CreatedAt = cur.CreatedAt
	next.CreatedBy = cur.CreatedBy
	d.drafts[dr.ID] = next
	return nil
}

func cloneEntry(e *model.HistoryEntry) *model.HistoryEntry {
	out := *e
	out.RuleIDs = slices.Clone(e.RuleIDs)
	out.Previous = cloneState(e.Previous)
	out.New = cloneState(e.New)
	return &out
}

func (d *data) appendHistory(e *model.HistoryEntry) {
	e.ID = d.nextID
	d.nextID++
	d.history = append(d.history, cloneEntry(e))
}

func (d *data) getHistoryEntry(id int64) (*model.HistoryEntry, error) {
	for _, e := range d.history {
		if e.ID == id {
			return cloneEntry(e), nil
		}
	}
	return nil, model.ErrNotFound
}

func (d *data) queryHistory(ctx context.Context, q model.HistoryQuery) iter.Seq2[*model.HistoryEntry, error] {
	return func(yield func(*model.HistoryEntry, error) bool) {
		var matched []*model.HistoryEntry
		for _, e := range d.history {
			if q.ConfigID != "" && e.ConfigID != q.ConfigID {
				continue
			}
			if q.RuleID != "" && !e.Touches(q.RuleID) {
				continue
			}
			if !q.Since.IsZero() && e.ChangedAt.Before(q.Since) {
				continue
			}
			if !q.Until.IsZero() && e.ChangedAt.After(q.Until) {
				continue
			}
			matched = append(matched, e)
		}
		sort.SliceStable(matched, func(i, j int) bool {
			a, b := matched[i], matched[j]
			if !a.ChangedAt.Equal(b.ChangedAt) {
				return a.ChangedAt.Before(b.ChangedAt)
			}
			return a.ID < b.ID
		})
		if q.Descending {
			for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
				matched[i], matched[j] = matched[j], matched[i]
			}
		}
		for i, e := range matched {
			if q.Limit > 0 && i >= q.Limit {
				return
			}
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(cloneEntry(e), nil) {
				return
			}
		}
	}
}

// checkConstraints enforces at commit what the database enforces with its
// deferred exclusion constraint.
func (d *data) checkConstraints() error {
	byConfig := make(map[string][]*model.Rule)
	for _, r := range d.rules {
		byConfig[r.ConfigID] = append(byConfig[r.ConfigID], r)
	}
	for configID, rules := range byConfig {
		if p, ids, dup := model.DuplicateEnabledPriority(rules); dup {
			return fmt.Errorf("%w: enabled rules %s of config %s share priority %d",
				model.ErrConflict, strings.Join(ids, ", "), configID, p)
		}
	}
	return nil
}
