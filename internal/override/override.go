// Package override models the per-channel allow/deny bitfield pairs the
// resolver folds in after the base role union: one kind keyed by role, one
// kind keyed directly by principal, with deny always winning on collision.
package override

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/aegis-chat/aegis-ids/internal/permbits"
)

// ErrNotFound is returned when an override row does not exist.
var ErrNotFound = errors.New("override not found")

// RoleOverride is a per-(channel, role) allow/deny pair.
type RoleOverride struct {
	ChannelID uuid.UUID
	RoleID    uuid.UUID
	Allow     permbits.Bitfield
	Deny      permbits.Bitfield
}

// UserOverride is a per-(channel, principal) allow/deny pair.
type UserOverride struct {
	ChannelID uuid.UUID
	Principal uuid.UUID
	Allow     permbits.Bitfield
	Deny      permbits.Bitfield
}

// Store defines the data-access contract for channel overrides.
type Store interface {
	RoleOverridesForChannel(ctx context.Context, channelID uuid.UUID, roleIDs []uuid.UUID) ([]RoleOverride, error)
	UserOverride(ctx context.Context, channelID, principalID uuid.UUID) (*UserOverride, error)
	ListUserOverrides(ctx context.Context, channelID uuid.UUID) ([]UserOverride, error)
	SetUserOverride(ctx context.Context, channelID, principalID uuid.UUID, allow, deny permbits.Bitfield) (*UserOverride, error)
	DeleteUserOverride(ctx context.Context, channelID, principalID uuid.UUID) error
}
