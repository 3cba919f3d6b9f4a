package permission

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/aegis-chat/aegis-ids/internal/member"
	"github.com/aegis-chat/aegis-ids/internal/override"
	"github.com/aegis-chat/aegis-ids/internal/role"
	"github.com/aegis-chat/aegis-ids/internal/server"
)

// StoreAdapter composes the server/role/member/override repositories into
// the Store interface the resolver consumes, so the resolver never depends
// directly on any single persistence package.
type StoreAdapter struct {
	Servers   server.Repository
	Roles     role.Repository
	Members   member.Repository
	Overrides override.Store
}

// NewStoreAdapter builds a StoreAdapter from its constituent repositories.
func NewStoreAdapter(servers server.Repository, roles role.Repository, members member.Repository, overrides override.Store) *StoreAdapter {
	return &StoreAdapter{Servers: servers, Roles: roles, Members: members, Overrides: overrides}
}

func (a *StoreAdapter) ServerExists(ctx context.Context, serverID uuid.UUID) (bool, error) {
	_, err := a.Servers.GetByID(ctx, serverID)
	if errors.Is(err, server.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (a *StoreAdapter) IsOwner(ctx context.Context, serverID, principalID uuid.UUID) (bool, error) {
	return a.Servers.IsOwner(ctx, serverID, principalID)
}

// MemberRoles returns nil if principalID is not a member of serverID;
// otherwise it returns the member's assigned roles plus @everyone.
func (a *StoreAdapter) MemberRoles(ctx context.Context, serverID, principalID uuid.UUID) ([]RoleInfo, error) {
	if _, err := a.Members.GetByID(ctx, serverID, principalID); err != nil {
		if errors.Is(err, member.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	roleIDs, err := a.Members.RolesForMember(ctx, serverID, principalID)
	if err != nil {
		return nil, err
	}

	allRoles, err := a.Roles.List(ctx, serverID)
	if err != nil {
		return nil, err
	}

	assigned := make(map[uuid.UUID]struct{}, len(roleIDs))
	for _, id := range roleIDs {
		assigned[id] = struct{}{}
	}

	var result []RoleInfo
	for _, r := range allRoles {
		_, isAssigned := assigned[r.ID]
		if r.IsEveryone() || isAssigned {
			result = append(result, RoleInfo{
				ID:            r.ID,
				Permissions:   r.Permissions,
				IsAdmin:       r.IsAdmin,
				SecurityLevel: r.SecurityLevel,
			})
		}
	}
	return result, nil
}

func (a *StoreAdapter) ChannelRoleOverrideUnion(ctx context.Context, channelID uuid.UUID, roleIDs []uuid.UUID) (OverridePair, error) {
	rows, err := a.Overrides.RoleOverridesForChannel(ctx, channelID, roleIDs)
	if err != nil {
		return OverridePair{}, err
	}

	var union OverridePair
	for _, row := range rows {
		union.Allow = union.Allow.Union(row.Allow)
		union.Deny = union.Deny.Union(row.Deny)
	}
	return union, nil
}

func (a *StoreAdapter) ChannelUserOverride(ctx context.Context, channelID, principalID uuid.UUID) (*OverridePair, error) {
	row, err := a.Overrides.UserOverride(ctx, channelID, principalID)
	if errors.Is(err, override.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &OverridePair{Allow: row.Allow, Deny: row.Deny}, nil
}

var _ Store = (*StoreAdapter)(nil)
