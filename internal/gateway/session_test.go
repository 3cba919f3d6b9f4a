package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestSessionSaveAndLoad(t *testing.T) {
	t.Parallel()
	_, rdb := newTestRedis(t)
	store := NewSessionStore(rdb, 5*time.Minute)
	ctx := context.Background()

	principal := uuid.New()
	server := uuid.New()
	channelA, channelB := uuid.New(), uuid.New()

	if err := store.Save(ctx, principal, map[uuid.UUID]uuid.UUID{channelA: server, channelB: server}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	refs, err := store.Load(ctx, principal)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("Load() returned %d refs, want 2", len(refs))
	}
	for _, ref := range refs {
		if ref.ServerID != server {
			t.Errorf("ServerID = %v, want %v", ref.ServerID, server)
		}
		if ref.ChannelID != channelA && ref.ChannelID != channelB {
			t.Errorf("unexpected ChannelID %v", ref.ChannelID)
		}
	}
}

func TestSessionLoadNotFound(t *testing.T) {
	t.Parallel()
	_, rdb := newTestRedis(t)
	store := NewSessionStore(rdb, 5*time.Minute)

	refs, err := store.Load(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}
	if refs != nil {
		t.Errorf("Load() refs = %v, want nil", refs)
	}
}

func TestSessionSaveEmptyDeletesKey(t *testing.T) {
	t.Parallel()
	_, rdb := newTestRedis(t)
	store := NewSessionStore(rdb, 5*time.Minute)
	ctx := context.Background()
	principal := uuid.New()

	if err := store.Save(ctx, principal, map[uuid.UUID]uuid.UUID{uuid.New(): uuid.New()}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Save(ctx, principal, nil); err != nil {
		t.Fatalf("Save(nil) error = %v", err)
	}

	refs, err := store.Load(ctx, principal)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if refs != nil {
		t.Errorf("expected no resume session after empty Save, got %v", refs)
	}
}

func TestSessionLoadExpired(t *testing.T) {
	t.Parallel()
	mr, rdb := newTestRedis(t)
	store := NewSessionStore(rdb, 5*time.Minute)
	ctx := context.Background()
	principal := uuid.New()

	if err := store.Save(ctx, principal, map[uuid.UUID]uuid.UUID{uuid.New(): uuid.New()}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	mr.FastForward(6 * time.Minute)

	refs, err := store.Load(ctx, principal)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if refs != nil {
		t.Errorf("expected expired session to be gone, got %v", refs)
	}
}
