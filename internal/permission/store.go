package permission

import (
	"context"

	"github.com/google/uuid"

	"github.com/aegis-chat/aegis-ids/internal/permbits"
)

// RoleInfo is the slice of a role the resolver needs: enough to fold
// permissions and security level without depending on the role package's
// full persistence shape.
type RoleInfo struct {
	ID            uuid.UUID
	Permissions   permbits.Bitfield
	IsAdmin       bool
	SecurityLevel int
}

// OverridePair is an (allow, deny) bitfield pair, shared by role and user
// overrides.
type OverridePair struct {
	Allow permbits.Bitfield
	Deny  permbits.Bitfield
}

// Store is the read-only view the resolver needs of persistent state. It is
// satisfied by StoreAdapter, which composes the server/role/member/override
// repositories; tests satisfy it with a hand-written fake.
type Store interface {
	ServerExists(ctx context.Context, serverID uuid.UUID) (bool, error)
	IsOwner(ctx context.Context, serverID, principalID uuid.UUID) (bool, error)
	// MemberRoles returns the principal's assigned roles plus the server's
	// @everyone role, or nil if the principal is not a member of the
	// server at all.
	MemberRoles(ctx context.Context, serverID, principalID uuid.UUID) ([]RoleInfo, error)
	// ChannelRoleOverrideUnion returns the bitwise union of allow and of
	// deny across every channel_role_overrides row for channelID whose
	// role is in roleIDs.
	ChannelRoleOverrideUnion(ctx context.Context, channelID uuid.UUID, roleIDs []uuid.UUID) (OverridePair, error)
	ChannelUserOverride(ctx context.Context, channelID, principalID uuid.UUID) (*OverridePair, error)
}
