package securerule

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aegis-chat/aegis-ids/internal/audit"
	"github.com/aegis-chat/aegis-ids/internal/channel"
	"github.com/aegis-chat/aegis-ids/internal/permbits"
	"github.com/aegis-chat/aegis-ids/internal/permission"
	"github.com/aegis-chat/aegis-ids/internal/ratelimit"
)

// fakeChannels is a hand-written in-memory channel.Repository for engine
// tests.
type fakeChannels struct {
	byID map[uuid.UUID]*channel.Channel
}

func newFakeChannels(channels ...*channel.Channel) *fakeChannels {
	m := make(map[uuid.UUID]*channel.Channel, len(channels))
	for _, c := range channels {
		m[c.ID] = c
	}
	return &fakeChannels{byID: m}
}

func (f *fakeChannels) List(context.Context, uuid.UUID) ([]channel.Channel, error) { return nil, nil }
func (f *fakeChannels) GetByID(_ context.Context, id uuid.UUID) (*channel.Channel, error) {
	c, ok := f.byID[id]
	if !ok {
		return nil, channel.ErrNotFound
	}
	return c, nil
}
func (f *fakeChannels) Create(context.Context, uuid.UUID, channel.CreateParams) (*channel.Channel, error) {
	return nil, nil
}
func (f *fakeChannels) Update(context.Context, uuid.UUID, channel.UpdateParams) (*channel.Channel, error) {
	return nil, nil
}
func (f *fakeChannels) Delete(context.Context, uuid.UUID) error { return nil }
func (f *fakeChannels) SetSecure(_ context.Context, id uuid.UUID, secure bool) (*channel.Channel, error) {
	c := f.byID[id]
	c.IsSecure = secure
	if !secure {
		c.Lockdown = false
	}
	return c, nil
}
func (f *fakeChannels) SetLockdown(_ context.Context, id uuid.UUID, lockdown bool) (*channel.Channel, error) {
	c := f.byID[id]
	c.Lockdown = lockdown
	return c, nil
}

// fakeStore is a hand-written permission.Store for engine tests, keyed by a
// flat principal -> security level / owner map (roles are not exercised
// here; the resolver itself is tested in the permission package).
type fakeStore struct {
	owner  uuid.UUID
	levels map[uuid.UUID]int
	admin  map[uuid.UUID]bool
	perms  map[uuid.UUID]permbits.Bitfield
}

func (f *fakeStore) ServerExists(context.Context, uuid.UUID) (bool, error) { return true, nil }
func (f *fakeStore) IsOwner(_ context.Context, _, principalID uuid.UUID) (bool, error) {
	return principalID == f.owner, nil
}
func (f *fakeStore) MemberRoles(_ context.Context, _, principalID uuid.UUID) ([]permission.RoleInfo, error) {
	if principalID == f.owner {
		return nil, nil
	}
	return []permission.RoleInfo{{
		ID:            uuid.New(),
		Permissions:   f.perms[principalID],
		IsAdmin:       f.admin[principalID],
		SecurityLevel: f.levels[principalID],
	}}, nil
}
func (f *fakeStore) ChannelRoleOverrideUnion(context.Context, uuid.UUID, []uuid.UUID) (permission.OverridePair, error) {
	return permission.OverridePair{}, nil
}
func (f *fakeStore) ChannelUserOverride(context.Context, uuid.UUID, uuid.UUID) (*permission.OverridePair, error) {
	return nil, nil
}

func defaultThresholds() Thresholds {
	return Thresholds{
		LockdownBypassLevel:  90,
		SecureViewLogsLevel:  70,
		SecureLockdownLevel:  80,
		BlockDeleteLevel:     70,
		RateLimitExemptLevel: 70,
	}
}

func TestSecureDefaultDenyUnknownPermissionKey(t *testing.T) {
	server := uuid.New()
	ch := &channel.Channel{ID: uuid.New(), ServerID: server, IsSecure: true}
	channels := newFakeChannels(ch)
	principal := uuid.New()
	store := &fakeStore{levels: map[uuid.UUID]int{principal: 30}}
	resolver := permission.NewResolver(store, nil, zerolog.Nop())
	limiter := ratelimit.New(60_000_000_000, 10)
	engine := NewEngine(channels, resolver, limiter, nil, defaultThresholds(), zerolog.Nop())

	outcome, err := engine.CheckAccess(context.Background(), Request{
		PrincipalID: principal, ServerID: server, ChannelID: ch.ID,
		Action: "unknown_action", PermissionKey: permbits.Bitfield(1 << 62),
	})
	if err != nil {
		t.Fatalf("check access: %v", err)
	}
	if outcome.Decision != Deny {
		t.Fatalf("expected deny for unknown permission key on secure channel, got %v (%s)", outcome.Decision, outcome.Reason)
	}
}

func TestLockdownDeniesBelowCoOwner(t *testing.T) {
	server := uuid.New()
	ch := &channel.Channel{ID: uuid.New(), ServerID: server, IsSecure: true, Lockdown: true}
	channels := newFakeChannels(ch)
	principal := uuid.New()
	store := &fakeStore{levels: map[uuid.UUID]int{principal: 50}}
	resolver := permission.NewResolver(store, nil, zerolog.Nop())
	limiter := ratelimit.New(60_000_000_000, 10)
	engine := NewEngine(channels, resolver, limiter, nil, defaultThresholds(), zerolog.Nop())

	outcome, err := engine.EvaluateRules(context.Background(), Request{
		PrincipalID: principal, ServerID: server, ChannelID: ch.ID, Action: ActionSendMessage,
	})
	if err != nil {
		t.Fatalf("evaluate rules: %v", err)
	}
	if outcome.Decision != Deny || outcome.Reason != "channel_is_locked_down" {
		t.Fatalf("expected lockdown denial, got %+v", outcome)
	}
}

func TestLockdownAllowsCoOwnerAndAbove(t *testing.T) {
	server := uuid.New()
	ch := &channel.Channel{ID: uuid.New(), ServerID: server, IsSecure: true, Lockdown: true}
	channels := newFakeChannels(ch)
	principal := uuid.New()
	store := &fakeStore{levels: map[uuid.UUID]int{principal: 90}}
	resolver := permission.NewResolver(store, nil, zerolog.Nop())
	limiter := ratelimit.New(60_000_000_000, 10)
	engine := NewEngine(channels, resolver, limiter, nil, defaultThresholds(), zerolog.Nop())

	outcome, err := engine.EvaluateRules(context.Background(), Request{
		PrincipalID: principal, ServerID: server, ChannelID: ch.ID, Action: ActionSendMessage,
	})
	if err != nil {
		t.Fatalf("evaluate rules: %v", err)
	}
	if outcome.Decision != Allow || outcome.Reason != "lockdown_bypass_co_owner+" {
		t.Fatalf("expected co-owner lockdown bypass, got %+v", outcome)
	}
}

func TestSecureRateLimitMonotonicity(t *testing.T) {
	server := uuid.New()
	ch := &channel.Channel{ID: uuid.New(), ServerID: server, IsSecure: true}
	channels := newFakeChannels(ch)
	principal := uuid.New()
	store := &fakeStore{levels: map[uuid.UUID]int{principal: 30}}
	resolver := permission.NewResolver(store, nil, zerolog.Nop())
	limiter := ratelimit.New(60_000_000_000, 10)
	engine := NewEngine(channels, resolver, limiter, nil, defaultThresholds(), zerolog.Nop())

	for i := 1; i <= 10; i++ {
		outcome, err := engine.EvaluateRules(context.Background(), Request{
			PrincipalID: principal, ServerID: server, ChannelID: ch.ID, Action: ActionSendMessage,
		})
		if err != nil {
			t.Fatalf("evaluate rules: %v", err)
		}
		if outcome.Decision != Allow {
			t.Fatalf("event %d should be allowed, got %+v", i, outcome)
		}
	}

	outcome, err := engine.EvaluateRules(context.Background(), Request{
		PrincipalID: principal, ServerID: server, ChannelID: ch.ID, Action: ActionSendMessage,
	})
	if err != nil {
		t.Fatalf("evaluate rules: %v", err)
	}
	if outcome.Decision != Deny {
		t.Fatalf("11th event should be denied, got %+v", outcome)
	}
}

func TestOwnMessageDeleteBypassesSecurityLevel(t *testing.T) {
	server := uuid.New()
	ch := &channel.Channel{ID: uuid.New(), ServerID: server, IsSecure: true}
	channels := newFakeChannels(ch)
	principal := uuid.New()
	store := &fakeStore{
		levels: map[uuid.UUID]int{principal: 0},
		perms:  map[uuid.UUID]permbits.Bitfield{principal: permbits.Default | permbits.DeleteMessages},
	}
	resolver := permission.NewResolver(store, nil, zerolog.Nop())
	limiter := ratelimit.New(60_000_000_000, 10)
	auditSink := audit.NewSink(&fakeAuditRepo{}, nil, zerolog.Nop())
	engine := NewEngine(channels, resolver, limiter, auditSink, defaultThresholds(), zerolog.Nop())

	outcome, err := engine.CheckAccess(context.Background(), Request{
		PrincipalID: principal, ServerID: server, ChannelID: ch.ID,
		Action: ActionDeleteMessage, PermissionKey: permbits.DeleteMessages, IsOwnMessage: true,
	})
	if err != nil {
		t.Fatalf("check access: %v", err)
	}
	if outcome.Decision != Allow {
		t.Fatalf("expected own-message delete to be allowed, got %+v", outcome)
	}
}

type fakeAuditRepo struct{}

func (fakeAuditRepo) Append(_ context.Context, e audit.Entry) (*audit.Entry, error) { return &e, nil }
func (fakeAuditRepo) List(context.Context, uuid.UUID, *uuid.UUID, string, *time.Time, int) ([]audit.Entry, error) {
	return nil, nil
}
