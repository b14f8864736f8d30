// Package memory provides an in-process implementation of storage.Store
// backed by github.com/hashicorp/golang-lru/v2. It is meant for tests and
// single-process deployments; records do not survive a restart and are not
// shared between processes.
package memory

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/ggoodman/mcp-session-go/storage"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxItems bounds the number of keys held when no explicit capacity is
// given. The least recently used key is evicted past this point.
const DefaultMaxItems = 10000

type item struct {
	data      []byte
	expiresAt time.Time // zero means no expiry
}

func (it *item) expired(now time.Time) bool {
	return !it.expiresAt.IsZero() && !now.Before(it.expiresAt)
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now, allowing tests to drive expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithCleanupInterval sets how often expired keys are swept. Zero disables the
// background sweep; expired keys are still hidden on read.
func WithCleanupInterval(d time.Duration) Option {
	return func(s *Store) { s.cleanupEvery = d }
}

// Store implements storage.Store in memory.
type Store struct {
	mu           sync.RWMutex
	cache        *lru.Cache[string, *item]
	now          func() time.Time
	cleanupEvery time.Duration
	closed       bool
	stop         chan struct{}
	done         chan struct{}
}

// New creates an in-memory store holding at most maxItems keys.
func New(maxItems int, opts ...Option) (*Store, error) {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	cache, err := lru.New[string, *item](maxItems)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}
	s := &Store{
		cache:        cache,
		now:          time.Now,
		cleanupEvery: time.Minute,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cleanupEvery > 0 {
		go s.cleanupExpired()
	} else {
		close(s.done)
	}
	return s, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, storage.ErrClosed
	}
	it, ok := s.lookup(key)
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(it.data))
	copy(out, it.data)
	return out, nil
}

func (s *Store) SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return storage.ErrInvalidTTL
	}
	data := make([]byte, len(value))
	copy(data, value)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}
	s.cache.Add(key, &item{data: data, expiresAt: s.now().Add(ttl)})
	return nil
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}
	for _, k := range keys {
		s.cache.Remove(k)
	}
	return nil
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, storage.ErrInvalidTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, storage.ErrClosed
	}
	it, ok := s.lookup(key)
	if !ok {
		return false, nil
	}
	it.expiresAt = s.now().Add(ttl)
	return true, nil
}

func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, storage.ErrClosed
	}
	it, ok := s.lookup(key)
	if !ok {
		return storage.Missing, nil
	}
	if it.expiresAt.IsZero() {
		return storage.NoExpiry, nil
	}
	return it.expiresAt.Sub(s.now()), nil
}

func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrClosed
	}
	now := s.now()
	var keys []string
	for _, k := range s.cache.Keys() {
		it, ok := s.cache.Peek(k)
		if !ok || it.expired(now) {
			continue
		}
		if ok, _ := path.Match(pattern, k); ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return storage.ErrClosed
	}
	return nil
}

// Close stops the background sweep and drops every key.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cache.Purge()
	s.mu.Unlock()

	close(s.stop)
	<-s.done
	return nil
}

// lookup returns a live item, evicting it if it has expired. Callers hold the
// write lock.
func (s *Store) lookup(key string) (*item, bool) {
	it, ok := s.cache.Get(key)
	if !ok {
		return nil, false
	}
	if it.expired(s.now()) {
		s.cache.Remove(key)
		return nil, false
	}
	return it, true
}

// cleanupExpired periodically removes expired items.
func (s *Store) cleanupExpired() {
	defer close(s.done)
	ticker := time.NewTicker(s.cleanupEvery)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Store) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, k := range s.cache.Keys() {
		if it, ok := s.cache.Peek(k); ok && it.expired(now) {
			s.cache.Remove(k)
		}
	}
}

var _ storage.Store = (*Store)(nil)
