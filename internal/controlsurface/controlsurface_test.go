package controlsurface

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aegis-chat/aegis-ids/internal/audit"
	"github.com/aegis-chat/aegis-ids/internal/channel"
	"github.com/aegis-chat/aegis-ids/internal/eventbus"
	"github.com/aegis-chat/aegis-ids/internal/events"
	"github.com/aegis-chat/aegis-ids/internal/gateway"
	"github.com/aegis-chat/aegis-ids/internal/permbits"
	"github.com/aegis-chat/aegis-ids/internal/permission"
	"github.com/aegis-chat/aegis-ids/internal/ratelimit"
	"github.com/aegis-chat/aegis-ids/internal/role"
	"github.com/aegis-chat/aegis-ids/internal/securerule"
	"github.com/aegis-chat/aegis-ids/internal/server"
)

// fakeChannels is a hand-written in-memory channel.Repository for control
// surface tests.
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

// fakeServers implements server.Repository, backed by a single owner.
type fakeServers struct {
	owner uuid.UUID
}

func (f *fakeServers) Create(context.Context, server.CreateParams) (*server.Server, error) {
	return nil, nil
}
func (f *fakeServers) GetByID(context.Context, uuid.UUID) (*server.Server, error) { return nil, nil }
func (f *fakeServers) IsOwner(_ context.Context, _, principalID uuid.UUID) (bool, error) {
	return principalID == f.owner, nil
}
func (f *fakeServers) Update(context.Context, uuid.UUID, server.UpdateParams) (*server.Server, error) {
	return nil, nil
}
func (f *fakeServers) Delete(context.Context, uuid.UUID) error { return nil }

// fakeRoles implements role.Repository, keyed by id, with a flat
// principal -> highest-position map standing in for real role-assignment
// lookups.
type fakeRoles struct {
	byID     map[uuid.UUID]*role.Role
	highest  map[uuid.UUID]int
	reorders [][]uuid.UUID
}

func (f *fakeRoles) List(context.Context, uuid.UUID) ([]role.Role, error) { return nil, nil }
func (f *fakeRoles) GetByID(_ context.Context, id uuid.UUID) (*role.Role, error) {
	r, ok := f.byID[id]
	if !ok {
		return nil, role.ErrNotFound
	}
	return r, nil
}
func (f *fakeRoles) Create(context.Context, uuid.UUID, role.CreateParams, int) (*role.Role, error) {
	return nil, nil
}
func (f *fakeRoles) Update(_ context.Context, id uuid.UUID, params role.UpdateParams) (*role.Role, error) {
	r, ok := f.byID[id]
	if !ok {
		return nil, role.ErrNotFound
	}
	if params.Name != nil {
		r.Name = *params.Name
	}
	if params.Position != nil {
		r.Position = *params.Position
	}
	if params.Permissions != nil {
		r.Permissions = *params.Permissions
	}
	if params.IsAdmin != nil {
		r.IsAdmin = *params.IsAdmin
	}
	return r, nil
}
func (f *fakeRoles) Delete(_ context.Context, id uuid.UUID) error {
	delete(f.byID, id)
	return nil
}
func (f *fakeRoles) Reorder(_ context.Context, _ uuid.UUID, orderedIDs []uuid.UUID) error {
	f.reorders = append(f.reorders, orderedIDs)
	return nil
}
func (f *fakeRoles) HighestPosition(_ context.Context, _, principalID uuid.UUID) (int, error) {
	return f.highest[principalID], nil
}

// fakeMembers implements the unexported memberRoleRepo interface.
type fakeMembers struct {
	assigned []uuid.UUID
	removed  []uuid.UUID
}

func (f *fakeMembers) AssignRole(_ context.Context, _, _, roleID uuid.UUID) error {
	f.assigned = append(f.assigned, roleID)
	return nil
}
func (f *fakeMembers) RemoveRole(_ context.Context, _, _, roleID uuid.UUID) error {
	f.removed = append(f.removed, roleID)
	return nil
}

// fakeStore is a hand-written permission.Store for control surface tests,
// keyed by a flat principal -> security level / permission map.
type fakeStore struct {
	owner  uuid.UUID
	levels map[uuid.UUID]int
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
		SecurityLevel: f.levels[principalID],
	}}, nil
}
func (f *fakeStore) ChannelRoleOverrideUnion(context.Context, uuid.UUID, []uuid.UUID) (permission.OverridePair, error) {
	return permission.OverridePair{}, nil
}
func (f *fakeStore) ChannelUserOverride(context.Context, uuid.UUID, uuid.UUID) (*permission.OverridePair, error) {
	return nil, nil
}

type fakeAuditRepo struct {
	entries []audit.Entry
}

func (f *fakeAuditRepo) Append(_ context.Context, e audit.Entry) (*audit.Entry, error) {
	f.entries = append(f.entries, e)
	return &e, nil
}
func (f *fakeAuditRepo) List(context.Context, uuid.UUID, *uuid.UUID, string, *time.Time, int) ([]audit.Entry, error) {
	return f.entries, nil
}

func defaultThresholds() securerule.Thresholds {
	return securerule.Thresholds{
		LockdownBypassLevel:  90,
		SecureViewLogsLevel:  70,
		SecureLockdownLevel:  80,
		BlockDeleteLevel:     70,
		RateLimitExemptLevel: 70,
	}
}

// testSurface bundles a Surface with the fakes a test wants to assert on.
type testSurface struct {
	surface *Surface
	roles   *fakeRoles
	members *fakeMembers
	store   *fakeStore
	owner   uuid.UUID
	server  uuid.UUID
	channel *channel.Channel
	gateway *gateway.Hub
}

func newTestSurface(t *testing.T, withGateway bool) *testSurface {
	t.Helper()
	owner := uuid.New()
	serverID := uuid.New()
	ch := &channel.Channel{ID: uuid.New(), ServerID: serverID, IsSecure: true}
	channels := newFakeChannels(ch)
	servers := &fakeServers{owner: owner}
	roles := &fakeRoles{byID: map[uuid.UUID]*role.Role{}, highest: map[uuid.UUID]int{}}
	members := &fakeMembers{}
	store := &fakeStore{owner: owner, levels: map[uuid.UUID]int{}, perms: map[uuid.UUID]permbits.Bitfield{}}
	resolver := permission.NewResolver(store, nil, zerolog.Nop())
	limiter := ratelimit.New(60_000_000_000, 10)
	engine := securerule.NewEngine(channels, resolver, limiter, nil, defaultThresholds(), zerolog.Nop())
	bus := eventbus.New(zerolog.Nop())
	sink := audit.NewSink(&fakeAuditRepo{}, bus, zerolog.Nop())

	var gw *gateway.Hub
	if withGateway {
		gw = gateway.NewHub(bus, resolver, nil, channels, nil, nil, 8*time.Millisecond, nil, zerolog.Nop())
	}

	surface := New(channels, roles, members, nil, servers, resolver, nil, engine, sink, bus, gw, 250, zerolog.Nop())
	return &testSurface{
		surface: surface, roles: roles, members: members, store: store,
		owner: owner, server: serverID, channel: ch, gateway: gw,
	}
}

// grantManageRoles gives principalID server-wide MANAGE_ROLES and sets their
// highest role position to highestPosition, the non-owner path every
// hierarchy-gated mutation in this file exercises.
func (ts *testSurface) grantManageRoles(principalID uuid.UUID, highestPosition int) {
	ts.store.perms[principalID] = permbits.ManageRoles
	ts.roles.highest[principalID] = highestPosition
}

func actorFor(principalID uuid.UUID) Actor {
	return Actor{PrincipalID: principalID}
}

// TestUpdateRoleHierarchyDeniesAtOrAboveCeiling covers the hierarchy
// invariant: a non-owner actor with highest position q may not edit a role
// at position p when q <= p.
func TestUpdateRoleHierarchyDeniesAtOrAboveCeiling(t *testing.T) {
	t.Parallel()
	ts := newTestSurface(t, false)
	actorID := uuid.New()
	ts.grantManageRoles(actorID, 5)

	target := &role.Role{ID: uuid.New(), ServerID: ts.server, Position: 5}
	ts.roles.byID[target.ID] = target

	name := "renamed"
	_, err := ts.surface.UpdateRole(context.Background(), actorFor(actorID), ts.server, target.ID, role.UpdateParams{Name: &name})
	if !errors.Is(err, ErrHierarchy) {
		t.Fatalf("UpdateRole() error = %v, want ErrHierarchy", err)
	}
}

// TestUpdateRoleHierarchyAllowsStrictlyBelowCeiling is the companion
// positive case: the same actor may edit a role strictly below their
// ceiling.
func TestUpdateRoleHierarchyAllowsStrictlyBelowCeiling(t *testing.T) {
	t.Parallel()
	ts := newTestSurface(t, false)
	actorID := uuid.New()
	ts.grantManageRoles(actorID, 5)

	target := &role.Role{ID: uuid.New(), ServerID: ts.server, Position: 4}
	ts.roles.byID[target.ID] = target

	name := "renamed"
	updated, err := ts.surface.UpdateRole(context.Background(), actorFor(actorID), ts.server, target.ID, role.UpdateParams{Name: &name})
	if err != nil {
		t.Fatalf("UpdateRole() error = %v, want nil", err)
	}
	if updated == nil {
		t.Fatal("UpdateRole() returned nil role on success")
	}
}

// TestOwnerBypassesHierarchy covers the owner-bypass rule: the
// server owner may edit a role regardless of position.
func TestOwnerBypassesHierarchy(t *testing.T) {
	t.Parallel()
	ts := newTestSurface(t, false)

	target := &role.Role{ID: uuid.New(), ServerID: ts.server, Position: 99}
	ts.roles.byID[target.ID] = target

	name := "owner renamed"
	_, err := ts.surface.UpdateRole(context.Background(), actorFor(ts.owner), ts.server, target.ID, role.UpdateParams{Name: &name})
	if err != nil {
		t.Fatalf("UpdateRole() by owner error = %v, want nil", err)
	}
}

// TestReorderRolesAllowsPlacementStrictlyBelowCeiling regression-tests the
// off-by-one in the reorder hierarchy check: a non-owner actor with highest
// position 5 must be able to reorder roles into position 4 (strictly below
// their ceiling), not just positions 0-3.
func TestReorderRolesAllowsPlacementStrictlyBelowCeiling(t *testing.T) {
	t.Parallel()
	ts := newTestSurface(t, false)
	actorID := uuid.New()
	ts.grantManageRoles(actorID, 5)

	ids := make([]uuid.UUID, 5) // positions 0..4, all strictly below ceiling 5
	for i := range ids {
		ids[i] = uuid.New()
	}

	if err := ts.surface.ReorderRoles(context.Background(), actorFor(actorID), ts.server, ids); err != nil {
		t.Fatalf("ReorderRoles() error = %v, want nil for placements strictly below ceiling", err)
	}
}

// TestReorderRolesDeniesPlacementAtCeiling is the companion negative case:
// placing a role at (not just above) the actor's own ceiling is denied.
func TestReorderRolesDeniesPlacementAtCeiling(t *testing.T) {
	t.Parallel()
	ts := newTestSurface(t, false)
	actorID := uuid.New()
	ts.grantManageRoles(actorID, 5)

	ids := make([]uuid.UUID, 6) // positions 0..5; position 5 is at the ceiling
	for i := range ids {
		ids[i] = uuid.New()
	}

	if err := ts.surface.ReorderRoles(context.Background(), actorFor(actorID), ts.server, ids); !errors.Is(err, ErrHierarchy) {
		t.Fatalf("ReorderRoles() error = %v, want ErrHierarchy for a placement at the ceiling", err)
	}
}

// TestAssignRoleHierarchyDeniesAtOrAboveCeiling extends the hierarchy
// invariant to role assignment.
func TestAssignRoleHierarchyDeniesAtOrAboveCeiling(t *testing.T) {
	t.Parallel()
	ts := newTestSurface(t, false)
	actorID := uuid.New()
	ts.grantManageRoles(actorID, 3)

	target := &role.Role{ID: uuid.New(), ServerID: ts.server, Position: 3}
	ts.roles.byID[target.ID] = target

	err := ts.surface.AssignRole(context.Background(), actorFor(actorID), ts.server, uuid.New(), target.ID)
	if !errors.Is(err, ErrHierarchy) {
		t.Fatalf("AssignRole() error = %v, want ErrHierarchy", err)
	}
	if len(ts.members.assigned) != 0 {
		t.Fatal("expected no role assignment to be recorded on hierarchy denial")
	}
}

// TestAssignAdminRoleRequiresOwner covers the is_admin promotion clause.
func TestAssignAdminRoleRequiresOwner(t *testing.T) {
	t.Parallel()
	ts := newTestSurface(t, false)
	actorID := uuid.New()
	ts.grantManageRoles(actorID, 10)

	target := &role.Role{ID: uuid.New(), ServerID: ts.server, Position: 1, IsAdmin: true}
	ts.roles.byID[target.ID] = target

	err := ts.surface.AssignRole(context.Background(), actorFor(actorID), ts.server, uuid.New(), target.ID)
	if !errors.Is(err, ErrRequiresOwner) {
		t.Fatalf("AssignRole() error = %v, want ErrRequiresOwner", err)
	}
}

// TestTriggerLockdownRequiresAdminLevel covers the secure_trigger_lockdown
// rule: an actor below SecureLockdownLevel is denied and the
// channel's lockdown flag is left untouched.
func TestTriggerLockdownRequiresAdminLevel(t *testing.T) {
	t.Parallel()
	ts := newTestSurface(t, true)

	actorID := uuid.New()
	ts.store.levels[actorID] = 50 // moderator, below the level-80 threshold
	ts.store.perms[actorID] = permbits.ManageChannels

	_, err := ts.surface.TriggerLockdown(context.Background(), actorFor(actorID), ts.server, ts.channel.ID, "incident")
	if !errors.Is(err, ErrDenied) {
		t.Fatalf("TriggerLockdown() error = %v, want ErrDenied", err)
	}
	if ts.channel.Lockdown {
		t.Fatal("expected channel.Lockdown to remain false after a denied trigger_lockdown")
	}
}

// TestTriggerLockdownByOwnerPublishesAndUnlocksRelease covers the
// surface-level half of lockdown: the owner's TriggerLockdown flips the lockdown
// flag and publishes ChannelLockdown{Lockdown: true}; ReleaseLockdown then
// flips it back and publishes Lockdown: false.
// The force-unsubscribe sweep this drives on a wired gateway hub is covered
// directly by TestForceUnsubscribeChannelDropsBelowLevel in the gateway
// package, which owns the subscriber bookkeeping being swept.
func TestTriggerLockdownByOwnerPublishesAndUnlocksRelease(t *testing.T) {
	t.Parallel()
	ts := newTestSurface(t, true)

	lockdownEvents := make(chan events.ChannelLockdown, 2)
	ts.surface.bus.Subscribe(eventbus.TopicChannelLockdown, func(ev eventbus.Event) {
		lockdownEvents <- ev.Data.(events.ChannelLockdown)
	})

	if _, err := ts.surface.TriggerLockdown(context.Background(), actorFor(ts.owner), ts.server, ts.channel.ID, "incident"); err != nil {
		t.Fatalf("TriggerLockdown() error = %v", err)
	}
	if !ts.channel.Lockdown {
		t.Fatal("expected channel.Lockdown = true after TriggerLockdown")
	}
	select {
	case ev := <-lockdownEvents:
		if !ev.Lockdown {
			t.Fatalf("expected Lockdown=true event, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ChannelLockdown(true) event")
	}

	if _, err := ts.surface.ReleaseLockdown(context.Background(), actorFor(ts.owner), ts.server, ts.channel.ID); err != nil {
		t.Fatalf("ReleaseLockdown() error = %v", err)
	}
	if ts.channel.Lockdown {
		t.Fatal("expected channel.Lockdown = false after ReleaseLockdown")
	}
	select {
	case ev := <-lockdownEvents:
		if ev.Lockdown {
			t.Fatalf("expected Lockdown=false event, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ChannelLockdown(false) event")
	}
}
