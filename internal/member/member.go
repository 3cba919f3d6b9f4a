// Package member models a principal's membership in a server, and the
// role assignments hanging off that membership.
package member

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for the member package.
var (
	ErrNotFound          = errors.New("member not found")
	ErrAlreadyMember     = errors.New("principal is already a member of this server")
	ErrRoleAlreadySet    = errors.New("principal already carries this role")
	ErrRoleNotAssigned   = errors.New("principal does not carry this role")
)

// Member is a (server, principal) pair.
type Member struct {
	ServerID  uuid.UUID
	Principal uuid.UUID
	Nickname  *string
	JoinedAt  time.Time
}

// Repository defines the data-access contract for memberships and role
// assignments.
type Repository interface {
	Join(ctx context.Context, serverID, principalID uuid.UUID) (*Member, error)
	GetByID(ctx context.Context, serverID, principalID uuid.UUID) (*Member, error)
	Leave(ctx context.Context, serverID, principalID uuid.UUID) error
	RolesForMember(ctx context.Context, serverID, principalID uuid.UUID) ([]uuid.UUID, error)
	AssignRole(ctx context.Context, serverID, principalID, roleID uuid.UUID) error
	RemoveRole(ctx context.Context, serverID, principalID, roleID uuid.UUID) error
}
