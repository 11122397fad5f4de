package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	store, _ := setupTestRedis(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
	if store.Client() == nil {
		t.Error("expected shared client")
	}
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	if _, err := NewRedisStore("not a url"); err == nil {
		t.Fatal("expected error for invalid redis url")
	}
}

func TestSaveAndLookupSession(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	err := store.Save(ctx, "hash-1", Session{UserID: "user-123", Email: "ada@example.com", Name: "Ada"}, time.Now().Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Lookup(ctx, "hash-1")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if got.UserID != "user-123" || got.Email != "ada@example.com" || got.Name != "Ada" {
		t.Errorf("unexpected session %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("expected created_at to be set")
	}
}

func TestLookupExpiredSession(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	if err := store.Save(ctx, "expiring", Session{UserID: "user-456"}, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	s.FastForward(2 * time.Minute)

	if _, err := store.Lookup(ctx, "expiring"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSaveRejectsPastExpiry(t *testing.T) {
	store, _ := setupTestRedis(t)
	if err := store.Save(context.Background(), "late", Session{UserID: "u"}, time.Now().Add(-time.Second)); err == nil {
		t.Fatal("expected error for an expiry in the past")
	}
}

func TestRevokeSession(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()
	expiresAt := time.Now().Add(24 * time.Hour)

	if err := store.Save(ctx, "token-1", Session{UserID: "user-1"}, expiresAt); err != nil {
		t.Fatalf("Save 1 failed: %v", err)
	}
	if err := store.Save(ctx, "token-2", Session{UserID: "user-2"}, expiresAt); err != nil {
		t.Fatalf("Save 2 failed: %v", err)
	}

	if err := store.Revoke(ctx, "token-1"); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if _, err := store.Lookup(ctx, "token-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected revoked session to be gone, got %v", err)
	}
	got, err := store.Lookup(ctx, "token-2")
	if err != nil {
		t.Fatalf("Lookup token-2 after revoke failed: %v", err)
	}
	if got.UserID != "user-2" {
		t.Errorf("expected user-2, got %s", got.UserID)
	}

	if err := store.Revoke(ctx, "never-issued"); err != nil {
		t.Errorf("Revoke for unknown session failed: %v", err)
	}
}
