// Package snapshot holds the live, read-only view of every config and its
// rule set that evaluation requests are served from.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/alfredjeanlab/gamecfg/internal/model"
	"github.com/alfredjeanlab/gamecfg/internal/resolver"
)

// Entry is one live config with its rules sorted by (priority, id).
type Entry struct {
	Config *model.Config `json:"config"`
	Rules  []*model.Rule `json:"rules"`
}

type entryKey struct {
	gameID string
	env    model.Environment
	key    string
}

// Snapshot is an immutable view of the live state. Once built it is never
// modified, so any number of goroutines may evaluate against it.
type Snapshot struct {
	Hash    string    `json:"hash"`
	BuiltAt time.Time `json:"built_at"`
	Entries []*Entry  `json:"entries"`

	index map[entryKey]*Entry
}

// Empty returns a snapshot with no configs.
func Empty() *Snapshot {
	s, _ := Build(nil, nil, time.Time{})
	return s
}

// Build assembles a snapshot from configs and the rules that belong to them.
// Rules whose config is absent are dropped.
func Build(configs []*model.Config, rules []*model.Rule, builtAt time.Time) (*Snapshot, error) {
	byConfig := make(map[string][]*model.Rule, len(configs))
	for _, r := range rules {
		byConfig[r.ConfigID] = append(byConfig[r.ConfigID], r.Clone())
	}

	entries := make([]*Entry, 0, len(configs))
	for _, c := range configs {
		entries = append(entries, &Entry{
			Config: c.Clone(),
			Rules:  model.SortRules(byConfig[c.ID]),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].Config, entries[j].Config
		if a.GameID != b.GameID {
			return a.GameID < b.GameID
		}
		if a.Environment != b.Environment {
			return a.Environment < b.Environment
		}
		return a.Key < b.Key
	})

	s := &Snapshot{BuiltAt: builtAt.UTC(), Entries: entries}
	if err := s.reindex(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("hash snapshot: %w", err)
	}
	sum := sha256.Sum256(body)
	s.Hash = hex.EncodeToString(sum[:])
	return s, nil
}

func (s *Snapshot) reindex() error {
	s.index = make(map[entryKey]*Entry, len(s.Entries))
	for _, e := range s.Entries {
		if e.Config == nil {
			return errors.New("snapshot entry without config")
		}
		k := entryKey{e.Config.GameID, e.Config.Environment, e.Config.Key}
		if _, dup := s.index[k]; dup {
			return fmt.Errorf("snapshot has two configs for %s/%s/%s", k.gameID, k.env, k.key)
		}
		s.index[k] = e
	}
	return nil
}

// Decode parses a snapshot produced by Encode.
func Decode(b []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if err := s.reindex(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Encode serializes the snapshot.
func (s *Snapshot) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// Len returns the number of configs in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.Entries)
}

// Lookup finds the live entry for a config key.
func (s *Snapshot) Lookup(gameID string, env model.Environment, key string) (*Entry, bool) {
	e, ok := s.index[entryKey{gameID, env, key}]
	return e, ok
}

// Evaluate resolves one config key for a client. It returns
// model.ErrNotFound for an unknown key.
func (s *Snapshot) Evaluate(gameID string, env model.Environment, key string, ctx resolver.Context) (resolver.Result, error) {
	e, ok := s.Lookup(gameID, env, key)
	if !ok {
		return resolver.Result{}, fmt.Errorf("config %s/%s/%s: %w", gameID, env, key, model.ErrNotFound)
	}
	return resolver.Resolve(e.Config, e.Rules, ctx)
}

// KeyResult is the outcome for one key of a batch evaluation. Err is set
// instead of the result when that key could not be resolved.
type KeyResult struct {
	Key      string          `json:"key"`
	DataType model.DataType  `json:"data_type"`
	Result   resolver.Result `json:"result"`
	Err      error           `json:"-"`
}

// EvaluateAll resolves every config of one game environment for a client,
// ordered by key. A failure on one key does not affect the others.
func (s *Snapshot) EvaluateAll(gameID string, env model.Environment, ctx resolver.Context) []KeyResult {
	var out []KeyResult
	for _, e := range s.Entries {
		if e.Config.GameID != gameID || e.Config.Environment != env {
			continue
		}
		res, err := resolver.Resolve(e.Config, e.Rules, ctx)
		out = append(out, KeyResult{Key: e.Config.Key, DataType: e.Config.DataType, Result: res, Err: err})
	}
	return out
}
