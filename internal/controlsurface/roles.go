package controlsurface

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/aegis-chat/aegis-ids/internal/audit"
	"github.com/aegis-chat/aegis-ids/internal/permbits"
	"github.com/aegis-chat/aegis-ids/internal/role"
	"github.com/aegis-chat/aegis-ids/internal/sanitize"
)

// Role mutations are server-scoped rather than channel-scoped, so they
// bypass the rule engine (which always loads a channel) and are gated
// directly by RBAC plus the role hierarchy rules. hasManageRoles
// checks server-wide ManageRoles by resolving permissions against the nil
// channel, the idiom used throughout wherever a check has no channel of
// its own (no channel override table row can ever match uuid.Nil).
func (s *Surface) hasManageRoles(ctx context.Context, principalID, serverID uuid.UUID) (bool, error) {
	return s.resolver.HasPermission(ctx, principalID, serverID, uuid.Nil, permbits.ManageRoles)
}

func (s *Surface) isOwner(ctx context.Context, serverID, principalID uuid.UUID) (bool, error) {
	return s.servers.IsOwner(ctx, serverID, principalID)
}

func (s *Surface) requireRoleAccess(ctx context.Context, actor Actor, serverID uuid.UUID) error {
	owner, err := s.isOwner(ctx, serverID, actor.PrincipalID)
	if err != nil {
		return err
	}
	if owner {
		return nil
	}
	ok, err := s.hasManageRoles(ctx, actor.PrincipalID, serverID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: missing_permission", ErrDenied)
	}
	return nil
}

// CreateRole creates a role. Since this repository always inserts a new
// role at the top position, a non-owner actor may only create one when
// they already hold the server's current highest role, otherwise the
// created role would land above their own ceiling, violating the
// hierarchy invariant.
func (s *Surface) CreateRole(ctx context.Context, actor Actor, serverID uuid.UUID, params role.CreateParams) (*role.Role, error) {
	if err := s.requireRoleAccess(ctx, actor, serverID); err != nil {
		return nil, err
	}
	params.Name = sanitize.Text(params.Name)
	owner, err := s.isOwner(ctx, serverID, actor.PrincipalID)
	if err != nil {
		return nil, err
	}
	if params.IsAdmin && !owner {
		return nil, ErrRequiresOwner
	}
	if !owner {
		existing, err := s.roles.List(ctx, serverID)
		if err != nil {
			return nil, err
		}
		maxPosition := 0
		for _, r := range existing {
			if r.Position > maxPosition {
				maxPosition = r.Position
			}
		}
		highest, err := s.roles.HighestPosition(ctx, serverID, actor.PrincipalID)
		if err != nil {
			return nil, err
		}
		if highest < maxPosition {
			return nil, ErrHierarchy
		}
	}

	created, err := s.roles.Create(ctx, serverID, params, s.maxRoles)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, actor, serverID, nil, "create_role", audit.ResultAllowed, created.Name)
	return created, nil
}

// UpdateRole edits a role, including promotion to is_admin (owner only).
func (s *Surface) UpdateRole(ctx context.Context, actor Actor, serverID, roleID uuid.UUID, params role.UpdateParams) (*role.Role, error) {
	if err := s.requireRoleAccess(ctx, actor, serverID); err != nil {
		return nil, err
	}
	target, err := s.roles.GetByID(ctx, roleID)
	if err != nil {
		return nil, err
	}
	owner, err := s.isOwner(ctx, serverID, actor.PrincipalID)
	if err != nil {
		return nil, err
	}
	if params.IsAdmin != nil && *params.IsAdmin && !owner {
		return nil, ErrRequiresOwner
	}
	if !owner {
		if err := s.requireStrictlyBelowCeiling(ctx, serverID, actor.PrincipalID, target.Position); err != nil {
			return nil, err
		}
	}
	if params.Name != nil {
		sanitized := sanitize.Text(*params.Name)
		params.Name = &sanitized
	}

	updated, err := s.roles.Update(ctx, roleID, params)
	if err != nil {
		return nil, err
	}
	s.invalidateAllPermissions(ctx)
	s.audit(ctx, actor, serverID, nil, "update_role", audit.ResultAllowed, updated.Name)
	return updated, nil
}

// DeleteRole removes a role. @everyone is protected by the repository
// itself (role.ErrEveryoneImmutable).
func (s *Surface) DeleteRole(ctx context.Context, actor Actor, serverID, roleID uuid.UUID) error {
	if err := s.requireRoleAccess(ctx, actor, serverID); err != nil {
		return err
	}
	target, err := s.roles.GetByID(ctx, roleID)
	if err != nil {
		return err
	}
	owner, err := s.isOwner(ctx, serverID, actor.PrincipalID)
	if err != nil {
		return err
	}
	if !owner {
		if err := s.requireStrictlyBelowCeiling(ctx, serverID, actor.PrincipalID, target.Position); err != nil {
			return err
		}
	}

	if err := s.roles.Delete(ctx, roleID); err != nil {
		return err
	}
	s.invalidateAllPermissions(ctx)
	s.audit(ctx, actor, serverID, nil, "delete_role", audit.ResultAllowed, target.Name)
	return nil
}

// ReorderRoles assigns consecutive positions to orderedIDs. A non-owner
// actor may not move any role to or above their own ceiling.
func (s *Surface) ReorderRoles(ctx context.Context, actor Actor, serverID uuid.UUID, orderedIDs []uuid.UUID) error {
	if err := s.requireRoleAccess(ctx, actor, serverID); err != nil {
		return err
	}
	owner, err := s.isOwner(ctx, serverID, actor.PrincipalID)
	if err != nil {
		return err
	}
	if !owner {
		highest, err := s.roles.HighestPosition(ctx, serverID, actor.PrincipalID)
		if err != nil {
			return err
		}
		for i := range orderedIDs {
			if i >= highest {
				return ErrHierarchy
			}
		}
	}

	if err := s.roles.Reorder(ctx, serverID, orderedIDs); err != nil {
		return err
	}
	s.audit(ctx, actor, serverID, nil, "reorder_roles", audit.ResultAllowed, "")
	return nil
}

// AssignRole grants roleID to targetPrincipal. Assigning an is_admin role
// counts as a promotion and requires ownership.
func (s *Surface) AssignRole(ctx context.Context, actor Actor, serverID, targetPrincipal, roleID uuid.UUID) error {
	if err := s.requireRoleAccess(ctx, actor, serverID); err != nil {
		return err
	}
	target, err := s.roles.GetByID(ctx, roleID)
	if err != nil {
		return err
	}
	owner, err := s.isOwner(ctx, serverID, actor.PrincipalID)
	if err != nil {
		return err
	}
	if target.IsAdmin && !owner {
		return ErrRequiresOwner
	}
	if !owner {
		if err := s.requireStrictlyBelowCeiling(ctx, serverID, actor.PrincipalID, target.Position); err != nil {
			return err
		}
	}

	if err := s.members.AssignRole(ctx, serverID, targetPrincipal, roleID); err != nil {
		return err
	}
	s.invalidatePrincipal(ctx, targetPrincipal)
	s.audit(ctx, actor, serverID, nil, "assign_role", audit.ResultAllowed, fmt.Sprintf("%s -> %s", roleID, targetPrincipal))
	return nil
}

// RemoveRole revokes roleID from targetPrincipal.
func (s *Surface) RemoveRole(ctx context.Context, actor Actor, serverID, targetPrincipal, roleID uuid.UUID) error {
	if err := s.requireRoleAccess(ctx, actor, serverID); err != nil {
		return err
	}
	target, err := s.roles.GetByID(ctx, roleID)
	if err != nil {
		return err
	}
	owner, err := s.isOwner(ctx, serverID, actor.PrincipalID)
	if err != nil {
		return err
	}
	if !owner {
		if err := s.requireStrictlyBelowCeiling(ctx, serverID, actor.PrincipalID, target.Position); err != nil {
			return err
		}
	}

	if err := s.members.RemoveRole(ctx, serverID, targetPrincipal, roleID); err != nil {
		return err
	}
	s.invalidatePrincipal(ctx, targetPrincipal)
	s.audit(ctx, actor, serverID, nil, "remove_role", audit.ResultAllowed, fmt.Sprintf("%s -/-> %s", roleID, targetPrincipal))
	return nil
}

func (s *Surface) requireStrictlyBelowCeiling(ctx context.Context, serverID, principalID uuid.UUID, targetPosition int) error {
	highest, err := s.roles.HighestPosition(ctx, serverID, principalID)
	if err != nil {
		return err
	}
	if targetPosition >= highest {
		return ErrHierarchy
	}
	return nil
}
