// Package permission implements the layered permission resolver: the
// single place every other component consults to learn what a principal
// may do in a server or channel.
package permission

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aegis-chat/aegis-ids/internal/permbits"
)

// ErrServerNotFound is returned when the resolved server does not exist.
var ErrServerNotFound = errors.New("server not found")

// Result is the outcome of resolving a principal's permissions.
type Result struct {
	Permissions permbits.Bitfield
	IsOwner     bool
	IsAdmin     bool
}

// Resolver composes owner/admin/role/override state into a final bitfield
// and a parallel security level. It is stateless and side-effect-free
// beyond best-effort cache reads/writes; every method is safe to call from
// any component (REST handlers, the rule engine, the gateway, the voice
// hub).
type Resolver struct {
	store Store
	cache Cache
	log   zerolog.Logger
}

// NewResolver builds a Resolver. cache may be nil, in which case every
// resolution recomputes from store.
func NewResolver(store Store, cache Cache, logger zerolog.Logger) *Resolver {
	return &Resolver{store: store, cache: cache, log: logger}
}

// Resolve computes a principal's effective permissions in a server,
// optionally narrowed to a channel. channel may be uuid.Nil to resolve
// server-wide permissions only.
func (r *Resolver) Resolve(ctx context.Context, principalID, serverID, channelID uuid.UUID) (Result, error) {
	if r.cache != nil && channelID != uuid.Nil {
		if cached, ok := r.cache.Get(ctx, principalID, channelID); ok {
			return cached, nil
		}
	}

	result, err := r.compute(ctx, principalID, serverID, channelID)
	if err != nil {
		return Result{}, err
	}

	if r.cache != nil && channelID != uuid.Nil {
		if err := r.cache.Set(ctx, principalID, channelID, result); err != nil {
			r.log.Warn().Err(err).Msg("permission cache write failed")
		}
	}
	return result, nil
}

func (r *Resolver) compute(ctx context.Context, principalID, serverID, channelID uuid.UUID) (Result, error) {
	exists, err := r.store.ServerExists(ctx, serverID)
	if err != nil {
		return Result{}, err
	}
	if !exists {
		return Result{}, ErrServerNotFound
	}

	isOwner, err := r.store.IsOwner(ctx, serverID, principalID)
	if err != nil {
		return Result{}, err
	}
	if isOwner {
		return Result{Permissions: permbits.All, IsOwner: true, IsAdmin: true}, nil
	}

	roles, err := r.store.MemberRoles(ctx, serverID, principalID)
	if err != nil {
		return Result{}, err
	}
	if len(roles) == 0 {
		return Result{}, nil
	}

	var base permbits.Bitfield
	isAdmin := false
	for _, role := range roles {
		base = base.Union(role.Permissions)
		if role.IsAdmin {
			isAdmin = true
		}
	}
	if isAdmin || base.Has(permbits.Administrator) {
		return Result{Permissions: permbits.All, IsAdmin: true}, nil
	}

	if channelID == uuid.Nil {
		return Result{Permissions: base}, nil
	}

	roleIDs := make([]uuid.UUID, len(roles))
	for i, role := range roles {
		roleIDs[i] = role.ID
	}

	roleOverride, err := r.store.ChannelRoleOverrideUnion(ctx, channelID, roleIDs)
	if err != nil {
		return Result{}, err
	}
	effective := base.Union(roleOverride.Allow).Difference(roleOverride.Deny)

	userOverride, err := r.store.ChannelUserOverride(ctx, channelID, principalID)
	if err != nil {
		return Result{}, err
	}
	if userOverride != nil {
		effective = effective.Union(userOverride.Allow).Difference(userOverride.Deny)
	}

	return Result{Permissions: effective}, nil
}

// HasPermission is a convenience wrapper returning a single boolean.
func (r *Resolver) HasPermission(ctx context.Context, principalID, serverID, channelID uuid.UUID, bit permbits.Bitfield) (bool, error) {
	result, err := r.Resolve(ctx, principalID, serverID, channelID)
	if err != nil {
		return false, err
	}
	return result.Permissions.Has(bit), nil
}

// Security level constants named per the glossary hierarchy.
const (
	LevelUser          = 0
	LevelTrusted       = 30
	LevelModerator     = 50
	LevelSecurityAdmin = 70
	LevelAdmin         = 80
	LevelCoOwner       = 90
	LevelOwner         = 100
)

// ResolveSecurityLevel returns the principal's position in the security
// hierarchy: the max security_level across their roles, lifted to admin
// when any role carries is_admin, and owner for the server owner.
func (r *Resolver) ResolveSecurityLevel(ctx context.Context, principalID, serverID uuid.UUID) (int, error) {
	isOwner, err := r.store.IsOwner(ctx, serverID, principalID)
	if err != nil {
		return 0, err
	}
	if isOwner {
		return LevelOwner, nil
	}

	roles, err := r.store.MemberRoles(ctx, serverID, principalID)
	if err != nil {
		return 0, err
	}

	max := 0
	anyAdmin := false
	for _, role := range roles {
		if role.SecurityLevel > max {
			max = role.SecurityLevel
		}
		if role.IsAdmin {
			anyAdmin = true
		}
	}
	if anyAdmin && max < LevelAdmin {
		max = LevelAdmin
	}
	return max, nil
}
