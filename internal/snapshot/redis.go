package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKey = "gamecfg:snapshot"

// ErrNoSnapshot is returned by RedisMirror.Load before any snapshot has
// been published.
var ErrNoSnapshot = errors.New("no snapshot published")

// RedisMirror stores the live snapshot in Redis so evaluation-only replicas
// can serve without database access. A writer node publishes to it; replica
// nodes use it as their Source.
type RedisMirror struct {
	client redis.UniversalClient
	key    string
}

// NewRedisMirror connects to the Redis server at url. key defaults to
// "gamecfg:snapshot".
func NewRedisMirror(url, key string) (*RedisMirror, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:     []string{opts.Addr},
		Username:  opts.Username,
		Password:  opts.Password,
		DB:        opts.DB,
		TLSConfig: opts.TLSConfig,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return NewRedisMirrorWithClient(client, key), nil
}

// NewRedisMirrorWithClient wraps an existing client.
func NewRedisMirrorWithClient(client redis.UniversalClient, key string) *RedisMirror {
	if key == "" {
		key = defaultRedisKey
	}
	return &RedisMirror{client: client, key: key}
}

// Publish stores s as the current snapshot.
func (m *RedisMirror) Publish(ctx context.Context, s *Snapshot) error {
	payload, err := s.Encode()
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := m.client.Set(ctx, m.key, payload, 0).Err(); err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	return nil
}

// Load fetches the most recently published snapshot.
func (m *RedisMirror) Load(ctx context.Context) (*Snapshot, error) {
	data, err := m.client.Get(ctx, m.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	return Decode(data)
}

// Close closes the Redis client.
func (m *RedisMirror) Close() error {
	return m.client.Close()
}
