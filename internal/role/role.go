// Package role models server roles: named permission bundles assigned to
// members, ordered by a hierarchy position that gates who may mutate whom.
package role

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/aegis-chat/aegis-ids/internal/permbits"
)

// Sentinel errors for the role package.
var (
	ErrNotFound           = errors.New("role not found")
	ErrNameLength         = errors.New("role name must be between 1 and 100 characters")
	ErrInvalidColour      = errors.New("colour must be a 6-digit hex string")
	ErrEveryoneImmutable  = errors.New("the @everyone role cannot be renamed, deleted, or moved")
	ErrMaxRolesReached    = errors.New("server has reached its maximum number of roles")
	ErrInvalidSecurityLvl = errors.New("security level must be one of 0, 30, 50, 70, 80, 90, 100")
	ErrHierarchy          = errors.New("cannot modify a role at or above your own highest role")
	ErrRequiresOwner      = errors.New("only the server owner may grant or revoke administrator")
)

// ValidSecurityLevels are the only integer values a role's security_level
// may carry.
var ValidSecurityLevels = map[int]struct{}{0: {}, 30: {}, 50: {}, 70: {}, 80: {}, 90: {}, 100: {}}

const maxNameLength = 100

// Role is a named, ordered bundle of permissions within a server.
type Role struct {
	ID            uuid.UUID
	ServerID      uuid.UUID
	Name          string
	Position      int
	Permissions   permbits.Bitfield
	IsAdmin       bool
	SecurityLevel int
	Colour        string
	Hoist         bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsEveryone reports whether this is the server's implicit @everyone role.
func (r Role) IsEveryone() bool { return r.Position == 0 }

// CreateParams groups the inputs for creating a role.
type CreateParams struct {
	Name          string
	Permissions   permbits.Bitfield
	IsAdmin       bool
	SecurityLevel int
	Colour        string
	Hoist         bool
}

// UpdateParams groups the optional mutable fields of a role.
type UpdateParams struct {
	Name          *string
	Position      *int
	Permissions   *permbits.Bitfield
	IsAdmin       *bool
	SecurityLevel *int
	Colour        *string
	Hoist         *bool
}

// ValidateNameRequired trims and validates a required role name.
func ValidateNameRequired(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if utf8.RuneCountInString(trimmed) == 0 || utf8.RuneCountInString(trimmed) > maxNameLength {
		return "", ErrNameLength
	}
	return trimmed, nil
}

// ValidateName validates an optional name in place.
func ValidateName(name *string) error {
	if name == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*name)
	if utf8.RuneCountInString(trimmed) == 0 || utf8.RuneCountInString(trimmed) > maxNameLength {
		return ErrNameLength
	}
	*name = trimmed
	return nil
}

// ValidateColour checks an optional hex colour string.
func ValidateColour(colour *string) error {
	if colour == nil || *colour == "" {
		return nil
	}
	s := *colour
	if len(s) != 6 {
		return ErrInvalidColour
	}
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')) {
			return ErrInvalidColour
		}
	}
	return nil
}

// ValidateSecurityLevel checks an optional security level.
func ValidateSecurityLevel(level *int) error {
	if level == nil {
		return nil
	}
	if _, ok := ValidSecurityLevels[*level]; !ok {
		return ErrInvalidSecurityLvl
	}
	return nil
}

// Repository defines the data-access contract for roles.
type Repository interface {
	List(ctx context.Context, serverID uuid.UUID) ([]Role, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Role, error)
	Create(ctx context.Context, serverID uuid.UUID, params CreateParams, maxRoles int) (*Role, error)
	Update(ctx context.Context, id uuid.UUID, params UpdateParams) (*Role, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Reorder(ctx context.Context, serverID uuid.UUID, orderedIDs []uuid.UUID) error
	// HighestPosition returns the highest position among the roles principal
	// carries in server. @everyone (position 0) always counts, so the result
	// is 0 when the principal holds no other role; membership is not
	// checked here, and a non-member also gets 0.
	HighestPosition(ctx context.Context, serverID, principalID uuid.UUID) (int, error)
}
