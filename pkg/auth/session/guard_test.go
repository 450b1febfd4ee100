package session

import (
	"context"
	"testing"
	"time"

	redislib "github.com/redis/go-redis/v9"
)

type memoryStore struct {
	values map[string]string
	ttls   map[string]time.Duration
}

func newMemoryStore() *memoryStore {
	return &memoryStore{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memoryStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	m.values[key] = value.(string)
	m.ttls[key] = ttl
	return nil
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	v, ok := m.values[key]
	if !ok {
		return "", redislib.Nil
	}
	return v, nil
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

type prefixKeyer struct{}

func (prefixKeyer) AccessSessionKey(accessID string) string {
	return "session:access:" + accessID
}

func newTestGuard(store *memoryStore) *Guard {
	return &Guard{store: store, keyer: prefixKeyer{}, ttl: time.Hour}
}

func TestGuardEstablishAndCheck(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	guard := newTestGuard(store)
	ctx := context.Background()

	if err := guard.Establish(ctx, "jti-1"); err != nil {
		t.Fatalf("establish: %v", err)
	}

	ok, err := guard.HasSession(ctx, "jti-1")
	if err != nil {
		t.Fatalf("has session: %v", err)
	}
	if !ok {
		t.Fatalf("expected live session")
	}
	if store.ttls["session:access:jti-1"] != time.Hour {
		t.Fatalf("unexpected ttl %s", store.ttls["session:access:jti-1"])
	}
}

func TestGuardMissingSession(t *testing.T) {
	t.Parallel()

	guard := newTestGuard(newMemoryStore())
	ok, err := guard.HasSession(context.Background(), "unknown")
	if err != nil {
		t.Fatalf("has session: %v", err)
	}
	if ok {
		t.Fatalf("expected no session")
	}
}

func TestGuardRevoke(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	guard := newTestGuard(store)
	ctx := context.Background()

	if err := guard.Establish(ctx, "jti-2"); err != nil {
		t.Fatalf("establish: %v", err)
	}
	if err := guard.Revoke(ctx, "jti-2"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	ok, err := guard.HasSession(ctx, "jti-2")
	if err != nil {
		t.Fatalf("has session: %v", err)
	}
	if ok {
		t.Fatalf("expected revoked session")
	}
}

func TestGuardEmptyAccessID(t *testing.T) {
	t.Parallel()

	guard := newTestGuard(newMemoryStore())
	if err := guard.Establish(context.Background(), "  "); err == nil {
		t.Fatalf("expected error for blank access id")
	}
	ok, err := guard.HasSession(context.Background(), "")
	if err != nil || ok {
		t.Fatalf("expected no session and no error, got ok=%v err=%v", ok, err)
	}
}
