package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alfredjeanlab/gamecfg/internal/model"
	"github.com/alfredjeanlab/gamecfg/internal/store"
)

// Source loads a complete snapshot of the live state.
type Source interface {
	Load(ctx context.Context) (*Snapshot, error)
}

// Mirror receives every snapshot a Cache installs from its Source.
type Mirror interface {
	Publish(ctx context.Context, s *Snapshot) error
}

// StoreSource builds snapshots from the authoritative store.
type StoreSource struct {
	Store store.Store
	Now   func() time.Time
}

// Load reads every config and rule inside one read-only transaction so the
// snapshot never pairs a config with rules from a different generation.
func (s StoreSource) Load(ctx context.Context) (*Snapshot, error) {
	var (
		configs []*model.Config
		rules   []*model.Rule
	)
	err := s.Store.RunReadOnly(ctx, func(tx store.Store) error {
		var err error
		configs, _, err = tx.ListConfigs(ctx, model.ConfigFilter{})
		if err != nil {
			return fmt.Errorf("list configs: %w", err)
		}
		rules, err = tx.ListAllRules(ctx)
		if err != nil {
			return fmt.Errorf("list rules: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return Build(configs, rules, now())
}

// Cache serves the current snapshot to evaluators and swaps in a new one on
// Refresh. Readers never block: Current is a single atomic load.
type Cache struct {
	source Source
	mirror Mirror
	logger *slog.Logger

	current atomic.Pointer[Snapshot]
	mu      sync.Mutex // serializes Refresh

	observe func(ok bool, configs int)
}

// NewCache returns a cache that starts out empty. mirror may be nil.
func NewCache(source Source, mirror Mirror, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{source: source, mirror: mirror, logger: logger}
	c.current.Store(Empty())
	return c
}

// Current returns the snapshot in effect.
func (c *Cache) Current() *Snapshot {
	return c.current.Load()
}

// Refresh loads a new snapshot from the source and installs it. On error the
// previous snapshot stays in effect. A mirror failure is logged but does not
// fail the refresh.
func (c *Cache) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, err := c.source.Load(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	prev := c.current.Swap(next)
	if prev != nil && prev.Hash == next.Hash {
		return nil
	}
	c.logger.Info("snapshot installed", "hash", shortHash(next.Hash), "configs", next.Len())

	if c.mirror != nil {
		if err := c.mirror.Publish(ctx, next); err != nil {
			c.logger.Warn("failed to mirror snapshot", "err", err)
		}
	}
	return nil
}

// SetObserver registers fn to be told the outcome of every refresh done by
// Run. Call it before Run.
func (c *Cache) SetObserver(fn func(ok bool, configs int)) {
	c.observe = fn
}

// Run refreshes the cache every interval until ctx is cancelled, and also
// whenever a value arrives on trigger. trigger may be nil.
func (c *Cache) Run(ctx context.Context, interval time.Duration, trigger <-chan struct{}) {
	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
		case _, ok := <-trigger:
			if !ok {
				trigger = nil
				continue
			}
		}
		err := c.Refresh(ctx)
		if err != nil && ctx.Err() == nil {
			c.logger.Warn("snapshot refresh failed", "err", err)
		}
		if c.observe != nil && ctx.Err() == nil {
			c.observe(err == nil, c.Current().Len())
		}
	}
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
