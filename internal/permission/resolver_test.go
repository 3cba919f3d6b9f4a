package permission

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aegis-chat/aegis-ids/internal/permbits"
)

// fakeStore is a hand-written in-memory Store for resolver tests.
type fakeStore struct {
	owner         uuid.UUID
	serverExists  bool
	roles         map[uuid.UUID][]RoleInfo // principal -> roles (including @everyone)
	roleOverrides map[uuid.UUID]OverridePair
	userOverrides map[uuid.UUID]OverridePair // keyed by principal for a single fixed channel in tests
}

func (f *fakeStore) ServerExists(_ context.Context, _ uuid.UUID) (bool, error) {
	return f.serverExists, nil
}

func (f *fakeStore) IsOwner(_ context.Context, _, principalID uuid.UUID) (bool, error) {
	return principalID == f.owner, nil
}

func (f *fakeStore) MemberRoles(_ context.Context, _, principalID uuid.UUID) ([]RoleInfo, error) {
	return f.roles[principalID], nil
}

func (f *fakeStore) ChannelRoleOverrideUnion(_ context.Context, _ uuid.UUID, roleIDs []uuid.UUID) (OverridePair, error) {
	var union OverridePair
	for _, id := range roleIDs {
		if pair, ok := f.roleOverrides[id]; ok {
			union.Allow = union.Allow.Union(pair.Allow)
			union.Deny = union.Deny.Union(pair.Deny)
		}
	}
	return union, nil
}

func (f *fakeStore) ChannelUserOverride(_ context.Context, _, principalID uuid.UUID) (*OverridePair, error) {
	if pair, ok := f.userOverrides[principalID]; ok {
		return &pair, nil
	}
	return nil, nil
}

func newResolver(store Store) *Resolver {
	return NewResolver(store, nil, zerolog.Nop())
}

func TestResolveOwnerTotality(t *testing.T) {
	owner := uuid.New()
	server := uuid.New()
	channel := uuid.New()

	store := &fakeStore{owner: owner, serverExists: true}
	r := newResolver(store)

	result, err := r.Resolve(context.Background(), owner, server, channel)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if result.Permissions != permbits.All || !result.IsOwner || !result.IsAdmin {
		t.Fatalf("expected owner totality, got %+v", result)
	}
}

func TestResolveAdminTotalitySkipsOverrides(t *testing.T) {
	owner := uuid.New()
	admin := uuid.New()
	server := uuid.New()
	channel := uuid.New()
	adminRole := uuid.New()

	store := &fakeStore{
		owner:        owner,
		serverExists: true,
		roles: map[uuid.UUID][]RoleInfo{
			admin: {{ID: adminRole, Permissions: permbits.Default, IsAdmin: true, SecurityLevel: 80}},
		},
		roleOverrides: map[uuid.UUID]OverridePair{
			adminRole: {Deny: permbits.All},
		},
	}
	r := newResolver(store)

	result, err := r.Resolve(context.Background(), admin, server, channel)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if result.Permissions != permbits.All {
		t.Fatalf("expected admin totality despite deny-all override, got %v", result.Permissions)
	}
}

func TestResolveDenyPrecedence(t *testing.T) {
	server := uuid.New()
	channel := uuid.New()
	principal := uuid.New()
	roleID := uuid.New()

	store := &fakeStore{
		owner:        uuid.New(),
		serverExists: true,
		roles: map[uuid.UUID][]RoleInfo{
			principal: {{ID: roleID, Permissions: permbits.SendMessages}},
		},
		roleOverrides: map[uuid.UUID]OverridePair{
			roleID: {Allow: permbits.SendMessages, Deny: permbits.SendMessages},
		},
	}
	r := newResolver(store)

	result, err := r.Resolve(context.Background(), principal, server, channel)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if result.Permissions.Has(permbits.SendMessages) {
		t.Fatal("expected deny to win over allow on the same bit")
	}
}

func TestResolveUserOverridePrecedence(t *testing.T) {
	server := uuid.New()
	channel := uuid.New()
	principal := uuid.New()
	roleID := uuid.New()

	store := &fakeStore{
		owner:        uuid.New(),
		serverExists: true,
		roles: map[uuid.UUID][]RoleInfo{
			principal: {{ID: roleID, Permissions: permbits.SendMessages}},
		},
		roleOverrides: map[uuid.UUID]OverridePair{
			roleID: {Allow: permbits.SendMessages},
		},
		userOverrides: map[uuid.UUID]OverridePair{
			principal: {Deny: permbits.SendMessages},
		},
	}
	r := newResolver(store)

	result, err := r.Resolve(context.Background(), principal, server, channel)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if result.Permissions.Has(permbits.SendMessages) {
		t.Fatal("expected user override deny to win regardless of role override allow")
	}
}

func TestResolveEmptyRoleSetIsNonMember(t *testing.T) {
	server := uuid.New()
	channel := uuid.New()
	stranger := uuid.New()

	store := &fakeStore{owner: uuid.New(), serverExists: true}
	r := newResolver(store)

	result, err := r.Resolve(context.Background(), stranger, server, channel)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if result.Permissions != 0 {
		t.Fatalf("expected zero permissions for non-member, got %v", result.Permissions)
	}
}

func TestResolveServerNotFound(t *testing.T) {
	store := &fakeStore{serverExists: false}
	r := newResolver(store)

	_, err := r.Resolve(context.Background(), uuid.New(), uuid.New(), uuid.New())
	if err != ErrServerNotFound {
		t.Fatalf("expected ErrServerNotFound, got %v", err)
	}
}

func TestResolveSecurityLevelAdminLift(t *testing.T) {
	server := uuid.New()
	principal := uuid.New()
	roleID := uuid.New()

	store := &fakeStore{
		owner: uuid.New(),
		roles: map[uuid.UUID][]RoleInfo{
			principal: {{ID: roleID, IsAdmin: true, SecurityLevel: 50}},
		},
	}
	r := newResolver(store)

	level, err := r.ResolveSecurityLevel(context.Background(), principal, server)
	if err != nil {
		t.Fatalf("resolve security level: %v", err)
	}
	if level != LevelAdmin {
		t.Fatalf("expected admin lift to 80, got %d", level)
	}
}

func TestResolveSecurityLevelOwner(t *testing.T) {
	owner := uuid.New()
	store := &fakeStore{owner: owner}
	r := newResolver(store)

	level, err := r.ResolveSecurityLevel(context.Background(), owner, uuid.New())
	if err != nil {
		t.Fatalf("resolve security level: %v", err)
	}
	if level != LevelOwner {
		t.Fatalf("expected owner level 100, got %d", level)
	}
}
