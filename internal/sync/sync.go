// Package sync periodically backs up the config store as JSONL.
package sync

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/gamecfg/internal/store"
)

// Destination is the interface for a backup target (S3, local directory).
type Destination interface {
	// Write stores one export under the given object name.
	Write(ctx context.Context, name string, data []byte) error
}

// ObjectName is the name an export taken at t is stored under.
func ObjectName(t time.Time) string {
	return "export-" + t.UTC().Format("20060102T150405Z") + ".jsonl"
}

// Scheduler runs periodic backups to one or more destinations.
type Scheduler struct {
	store        store.Store
	destinations []Destination
	interval     time.Duration
	logger       *slog.Logger
	now          func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler that exports from the store to the given
// destinations at the specified interval.
func NewScheduler(s store.Store, destinations []Destination, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:        s,
		destinations: destinations,
		interval:     interval,
		logger:       logger,
		now:          time.Now,
	}
}

// Start begins periodic backup. It runs an initial backup immediately, then
// on each tick.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop cancels the scheduler and waits for the current backup (if any) to
// finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	s.SyncOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SyncOnce(ctx)
		}
	}
}

// SyncOnce exports the store and writes it to every destination. It reports
// how many destinations failed.
func (s *Scheduler) SyncOnce(ctx context.Context) int {
	at := s.now()
	var buf bytes.Buffer
	if err := ExportJSONL(ctx, s.store, &buf, at); err != nil {
		s.logger.Error("backup export failed", "err", err)
		return len(s.destinations)
	}
	data := buf.Bytes()
	name := ObjectName(at)

	failed := 0
	for i, dest := range s.destinations {
		if err := dest.Write(ctx, name, data); err != nil {
			failed++
			s.logger.Error("backup destination write failed", "destination", i, "err", err)
		}
	}

	s.logger.Info("backup completed", "object", name, "destinations", len(s.destinations), "failed", failed, "bytes", len(data))
	return failed
}
