package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SessionStore persists each principal's last-known subscription set in
// Redis so a reconnect within ttl silently restores subscriptions instead
// of forcing the client to resend every `subscribe` frame. This is a
// best-effort convenience: every restored subscription is re-validated
// against the current membership and VIEW_CHANNEL permission before it is
// reinstated, so a revoked grant never survives a resume.
type SessionStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSessionStore builds a SessionStore.
func NewSessionStore(rdb *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{rdb: rdb, ttl: ttl}
}

type subscriptionRef struct {
	ServerID  uuid.UUID `json:"server_id"`
	ChannelID uuid.UUID `json:"channel_id"`
}

func sessionKey(principalID uuid.UUID) string {
	return fmt.Sprintf("gwresume:%s", principalID)
}

// Save persists the given subscription set for principalID, expiring after
// ttl. Called when a client's last socket disconnects.
func (s *SessionStore) Save(ctx context.Context, principalID uuid.UUID, subs map[uuid.UUID]uuid.UUID) error {
	if len(subs) == 0 {
		return s.rdb.Del(ctx, sessionKey(principalID)).Err()
	}

	refs := make([]subscriptionRef, 0, len(subs))
	for channelID, serverID := range subs {
		refs = append(refs, subscriptionRef{ServerID: serverID, ChannelID: channelID})
	}
	data, err := json.Marshal(refs)
	if err != nil {
		return fmt.Errorf("marshal resume subscriptions: %w", err)
	}
	return s.rdb.Set(ctx, sessionKey(principalID), data, s.ttl).Err()
}

// Load returns the previously saved subscription set for principalID, if
// any has not expired.
func (s *SessionStore) Load(ctx context.Context, principalID uuid.UUID) ([]subscriptionRef, error) {
	raw, err := s.rdb.Get(ctx, sessionKey(principalID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("load resume subscriptions: %w", err)
	}
	var refs []subscriptionRef
	if err := json.Unmarshal(raw, &refs); err != nil {
		return nil, fmt.Errorf("unmarshal resume subscriptions: %w", err)
	}
	return refs, nil
}
