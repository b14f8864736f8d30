package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ggoodman/mcp-session-go/storage"
)

// records reads and writes Record values through a storage.Store.
type records struct {
	kv     storage.Store
	prefix string
	ttl    time.Duration
}

func (rs *records) key(sessionID string) string { return rs.prefix + sessionID }

func (rs *records) idFromKey(key string) string { return strings.TrimPrefix(key, rs.prefix) }

// load returns the record for sessionID, or nil when absent. A successful
// read slides the record's TTL.
func (rs *records) load(ctx context.Context, sessionID string) (*Record, error) {
	key := rs.key(sessionID)
	raw, err := rs.kv.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptRecord, sessionID, err)
	}
	if _, err := rs.kv.Expire(ctx, key, rs.ttl); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (rs *records) save(ctx context.Context, rec *Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal session record: %w", err)
	}
	return rs.kv.SetEx(ctx, rs.key(rec.SessionID), raw, rs.ttl)
}

// update applies fn to the current record and writes it back. It fails with
// ErrSessionNotFound when the record is absent.
func (rs *records) update(ctx context.Context, sessionID string, fn func(*Record) error) error {
	rec, err := rs.load(ctx, sessionID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err := fn(rec); err != nil {
		return err
	}
	return rs.save(ctx, rec)
}

func (rs *records) delete(ctx context.Context, sessionID string) error {
	return rs.kv.Del(ctx, rs.key(sessionID))
}
