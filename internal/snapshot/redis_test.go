package snapshot

import (
	"context"
	"errors"
	"testing"

	"github.com/alfredjeanlab/gamecfg/internal/model"
	"github.com/alicebob/miniredis/v2"
)

func TestRedisMirror(t *testing.T) {
	srv := miniredis.RunT(t)
	m, err := NewRedisMirror("redis://"+srv.Addr(), "")
	if err != nil {
		t.Fatalf("NewRedisMirror: %v", err)
	}
	defer m.Close()
	ctx := context.Background()

	if _, err := m.Load(ctx); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("Load before publish: expected ErrNoSnapshot, got %v", err)
	}

	s, err := Build([]*model.Config{cfg("cfg-1", "production", "k", `7`)}, nil, now)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := m.Publish(ctx, s); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !srv.Exists(defaultRedisKey) {
		t.Fatalf("key %s not written", defaultRedisKey)
	}

	got, err := m.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Hash != s.Hash {
		t.Errorf("hash = %s, want %s", got.Hash, s.Hash)
	}
	if _, ok := got.Lookup("g1", model.EnvProduction, "k"); !ok {
		t.Error("loaded snapshot is missing its index")
	}
}

func TestRedisMirrorAsCacheSource(t *testing.T) {
	srv := miniredis.RunT(t)
	writer, err := NewRedisMirror("redis://"+srv.Addr(), "test:snap")
	if err != nil {
		t.Fatalf("NewRedisMirror: %v", err)
	}
	defer writer.Close()
	reader, err := NewRedisMirror("redis://"+srv.Addr(), "test:snap")
	if err != nil {
		t.Fatalf("NewRedisMirror: %v", err)
	}
	defer reader.Close()

	s, _ := Build([]*model.Config{cfg("cfg-1", "production", "k", `7`)}, nil, now)
	primary := NewCache(&fakeSource{snaps: []*Snapshot{s}}, writer, nil)
	replica := NewCache(reader, nil, nil)

	if err := primary.Refresh(context.Background()); err != nil {
		t.Fatalf("primary refresh: %v", err)
	}
	if err := replica.Refresh(context.Background()); err != nil {
		t.Fatalf("replica refresh: %v", err)
	}
	if replica.Current().Hash != s.Hash {
		t.Error("replica did not pick up the primary's snapshot")
	}
}

func TestNewRedisMirrorBadURL(t *testing.T) {
	if _, err := NewRedisMirror("not a url", ""); err == nil {
		t.Fatal("expected error")
	}
}
