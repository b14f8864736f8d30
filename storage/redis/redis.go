// Package redis provides a Redis-backed implementation of storage.Store.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ggoodman/mcp-session-go/storage"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

// Config for the Redis store. Defaults can be loaded via envdecode.
type Config struct {
	// URL like "redis://:password@host:6379/0". Takes precedence over Addr.
	// ENV: REDIS_URL
	URL string `env:"REDIS_URL"`
	// Addr like "localhost:6379". ENV: REDIS_ADDR
	Addr string `env:"REDIS_ADDR,default=localhost:6379"`
	// Password for AUTH. ENV: REDIS_PASSWORD
	Password string `env:"REDIS_PASSWORD"`
	// DB index. ENV: REDIS_DB
	DB int `env:"REDIS_DB,default=0"`
	// DialTimeout bounds the initial connection and ping. ENV: REDIS_DIAL_TIMEOUT
	DialTimeout time.Duration `env:"REDIS_DIAL_TIMEOUT,default=5s"`
}

// Options converts the config into go-redis client options.
func (c Config) Options() (*redis.Options, error) {
	if c.URL != "" {
		opts, err := redis.ParseURL(c.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		if c.DialTimeout > 0 {
			opts.DialTimeout = c.DialTimeout
		}
		return opts, nil
	}
	addr := c.Addr
	if addr == "" {
		addr = "localhost:6379"
	}
	return &redis.Options{
		Addr:        addr,
		Password:    c.Password,
		DB:          c.DB,
		DialTimeout: c.DialTimeout,
	}, nil
}

// Store implements storage.Store on top of a go-redis client.
type Store struct {
	client redis.UniversalClient
	owned  bool
}

// New dials Redis using cfg and fails fast when the server cannot be pinged.
func New(ctx context.Context, cfg Config) (*Store, error) {
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	cl := redis.NewClient(opts)
	if err := cl.Ping(ctx).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Store{client: cl, owned: true}, nil
}

// NewFromEnv builds a Store using envdecode to populate Config.
func NewFromEnv(ctx context.Context) (*Store, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("redis config: %w", err)
	}
	return New(ctx, cfg)
}

// NewWithClient wraps an existing client. Close on the returned Store does not
// close the client.
func NewWithClient(client redis.UniversalClient) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &Store{client: client}, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return b, nil
}

func (s *Store) SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return storage.ErrInvalidTTL
	}
	if err := s.client.SetEx(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete keys: %w", err)
	}
	return nil
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, storage.ErrInvalidTTL
	}
	ok, err := s.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to expire key %s: %w", key, err)
	}
	return ok, nil
}

func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read ttl for key %s: %w", key, err)
	}
	// go-redis reports the sentinel replies as raw -1/-2 durations.
	switch d {
	case -1:
		return storage.NoExpiry, nil
	case -2:
		return storage.Missing, nil
	}
	return d, nil
}

// Keys walks the keyspace with SCAN rather than KEYS so large keyspaces do not
// block the server. SCAN may return a key more than once; the result does not.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	seen := make(map[string]struct{})
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys for pattern %s: %w", pattern, err)
		}
		keys = appendUnique(keys, seen, batch)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

func appendUnique(keys []string, seen map[string]struct{}, batch []string) []string {
	for _, k := range batch {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close closes the Redis client if this Store created it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

var _ storage.Store = (*Store)(nil)
