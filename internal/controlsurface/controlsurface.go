// Package controlsurface implements the secure-channel control surface:
// the aggregation layer that turns REST mutations into a
// (validate → transactional mutation → audit → publish) pipeline over
// the permission resolver, rule engine, audit sink, event bus, and the
// Channel/Role/Member/Override repositories.
package controlsurface

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aegis-chat/aegis-ids/internal/audit"
	"github.com/aegis-chat/aegis-ids/internal/channel"
	"github.com/aegis-chat/aegis-ids/internal/eventbus"
	"github.com/aegis-chat/aegis-ids/internal/events"
	"github.com/aegis-chat/aegis-ids/internal/gateway"
	"github.com/aegis-chat/aegis-ids/internal/override"
	"github.com/aegis-chat/aegis-ids/internal/permbits"
	"github.com/aegis-chat/aegis-ids/internal/permission"
	"github.com/aegis-chat/aegis-ids/internal/role"
	"github.com/aegis-chat/aegis-ids/internal/sanitize"
	"github.com/aegis-chat/aegis-ids/internal/securerule"
	"github.com/aegis-chat/aegis-ids/internal/server"
)

// LockdownForceUnsubscribeLevel is the resolved security level below which
// a principal is force-unsubscribed from a channel entering lockdown.
const LockdownForceUnsubscribeLevel = 90

// ErrHierarchy is returned when a role mutation would place, edit, or
// remove a role at or above the acting principal's own ceiling.
var ErrHierarchy = errors.New("action would modify a role at or above your own highest role")

// ErrRequiresOwner is returned when a mutation that requires server
// ownership is attempted by a non-owner.
var ErrRequiresOwner = errors.New("this action requires the server owner")

// Surface wires the collaborators every control-surface mutation needs.
type Surface struct {
	channels  channel.Repository
	roles     role.Repository
	members   memberRoleRepo
	overrides override.Store
	servers   server.Repository
	resolver  *permission.Resolver
	cache     permission.Cache
	engine    *securerule.Engine
	sink      *audit.Sink
	bus       *eventbus.Bus
	gateway   *gateway.Hub
	maxRoles  int
	log       zerolog.Logger
}

// memberRoleRepo is the subset of member.Repository the control surface
// needs for role assign/remove.
type memberRoleRepo interface {
	AssignRole(ctx context.Context, serverID, principalID, roleID uuid.UUID) error
	RemoveRole(ctx context.Context, serverID, principalID, roleID uuid.UUID) error
}

// New builds a Surface.
func New(
	channels channel.Repository,
	roles role.Repository,
	members memberRoleRepo,
	overrides override.Store,
	servers server.Repository,
	resolver *permission.Resolver,
	cache permission.Cache,
	engine *securerule.Engine,
	sink *audit.Sink,
	bus *eventbus.Bus,
	gw *gateway.Hub,
	maxRoles int,
	logger zerolog.Logger,
) *Surface {
	return &Surface{
		channels:  channels,
		roles:     roles,
		members:   members,
		overrides: overrides,
		servers:   servers,
		resolver:  resolver,
		cache:     cache,
		engine:    engine,
		sink:      sink,
		bus:       bus,
		gateway:   gw,
		maxRoles:  maxRoles,
		log:       logger.With().Str("component", "controlsurface").Logger(),
	}
}

// Actor bundles the acting principal's identity and request metadata
// carried through to the rule engine and audit trail.
type Actor struct {
	PrincipalID uuid.UUID
	IP          string
	UserAgent   string
}

func (s *Surface) checkAccess(ctx context.Context, actor Actor, serverID, channelID uuid.UUID, action securerule.Action, key permbits.Bitfield) (securerule.Outcome, error) {
	return s.engine.CheckAccess(ctx, securerule.Request{
		PrincipalID:   actor.PrincipalID,
		ServerID:      serverID,
		ChannelID:     channelID,
		Action:        action,
		PermissionKey: key,
		IP:            actor.IP,
		UserAgent:     actor.UserAgent,
	})
}

func (s *Surface) audit(ctx context.Context, actor Actor, serverID uuid.UUID, channelID *uuid.UUID, action string, result audit.Result, metadata string) {
	_, err := s.sink.Append(ctx, audit.Entry{
		ServerID:          serverID,
		ChannelID:         channelID,
		PrincipalID:       actor.PrincipalID,
		Action:            action,
		PermissionChecked: action,
		Result:            result,
		Metadata:          metadata,
		IP:                actor.IP,
		UserAgent:         actor.UserAgent,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("action", action).Msg("control surface audit write failed")
	}
}

// invalidateChannel drops every cached permission resolution touching
// channelID. Failure is logged, never propagated: a stale entry ages out
// at the cache TTL.
func (s *Surface) invalidateChannel(ctx context.Context, channelID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateChannel(ctx, channelID); err != nil {
		s.log.Warn().Err(err).Str("channel_id", channelID.String()).Msg("permission cache invalidation failed")
	}
}

// invalidatePrincipal drops every cached resolution for principalID.
func (s *Surface) invalidatePrincipal(ctx context.Context, principalID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidatePrincipal(ctx, principalID); err != nil {
		s.log.Warn().Err(err).Str("principal_id", principalID.String()).Msg("permission cache invalidation failed")
	}
}

// invalidateAllPermissions flushes the whole permission cache. Role edits
// and deletions change the effective bitfield of every holder, and the
// holders cannot be enumerated from the cache key space.
func (s *Surface) invalidateAllPermissions(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateAll(ctx); err != nil {
		s.log.Warn().Err(err).Msg("permission cache flush failed")
	}
}

// SetSecure toggles a channel's is_secure flag.
func (s *Surface) SetSecure(ctx context.Context, actor Actor, serverID, channelID uuid.UUID, secure bool) (*channel.Channel, error) {
	action := securerule.ActionSetSecure
	if !secure {
		action = securerule.ActionRemoveSecure
	}
	outcome, err := s.checkAccess(ctx, actor, serverID, channelID, action, permbits.ManageChannels)
	if err != nil {
		return nil, err
	}
	if outcome.Decision == securerule.Deny {
		return nil, fmt.Errorf("%w: %s", ErrDenied, outcome.Reason)
	}

	ch, err := s.channels.SetSecure(ctx, channelID, secure)
	if err != nil {
		return nil, err
	}
	s.invalidateChannel(ctx, channelID)

	s.audit(ctx, actor, serverID, &channelID, string(action), audit.ResultAllowed, "")
	s.bus.Publish(eventbus.TopicChannelSecured, events.ChannelSecured{ServerID: serverID, ChannelID: channelID, Secure: secure})
	return ch, nil
}

// TriggerLockdown sets a channel's lockdown flag and force-unsubscribes
// every subscriber below LockdownForceUnsubscribeLevel.
func (s *Surface) TriggerLockdown(ctx context.Context, actor Actor, serverID, channelID uuid.UUID, reason string) (*channel.Channel, error) {
	outcome, err := s.checkAccess(ctx, actor, serverID, channelID, securerule.ActionTriggerLockdown, permbits.ManageChannels)
	if err != nil {
		return nil, err
	}
	if outcome.Decision == securerule.Deny {
		return nil, fmt.Errorf("%w: %s", ErrDenied, outcome.Reason)
	}
	reason = sanitize.Text(reason)

	ch, err := s.channels.SetLockdown(ctx, channelID, true)
	if err != nil {
		return nil, err
	}
	s.invalidateChannel(ctx, channelID)

	s.audit(ctx, actor, serverID, &channelID, string(securerule.ActionTriggerLockdown), audit.ResultAllowed, reason)
	s.bus.Publish(eventbus.TopicChannelLockdown, events.ChannelLockdown{ServerID: serverID, ChannelID: channelID, Lockdown: true, Reason: reason})

	if s.gateway != nil {
		s.gateway.ForceUnsubscribeChannel(ctx, serverID, channelID, LockdownForceUnsubscribeLevel)
	}
	return ch, nil
}

// ReleaseLockdown clears a channel's lockdown flag.
func (s *Surface) ReleaseLockdown(ctx context.Context, actor Actor, serverID, channelID uuid.UUID) (*channel.Channel, error) {
	outcome, err := s.checkAccess(ctx, actor, serverID, channelID, securerule.ActionReleaseLockdown, permbits.ManageChannels)
	if err != nil {
		return nil, err
	}
	if outcome.Decision == securerule.Deny {
		return nil, fmt.Errorf("%w: %s", ErrDenied, outcome.Reason)
	}

	ch, err := s.channels.SetLockdown(ctx, channelID, false)
	if err != nil {
		return nil, err
	}
	s.invalidateChannel(ctx, channelID)

	s.audit(ctx, actor, serverID, &channelID, string(securerule.ActionReleaseLockdown), audit.ResultAllowed, "")
	s.bus.Publish(eventbus.TopicChannelLockdown, events.ChannelLockdown{ServerID: serverID, ChannelID: channelID, Lockdown: false})
	return ch, nil
}

// ListAudit returns a paginated page of a channel's secure audit log. The
// caller must already have passed a view_logs rule-engine check, performed
// here.
func (s *Surface) ListAudit(ctx context.Context, actor Actor, serverID, channelID uuid.UUID, before *time.Time, limit int) ([]audit.Entry, error) {
	outcome, err := s.checkAccess(ctx, actor, serverID, channelID, securerule.ActionViewLogs, permbits.ViewAuditLog)
	if err != nil {
		return nil, err
	}
	if outcome.Decision == securerule.Deny {
		return nil, fmt.Errorf("%w: %s", ErrDenied, outcome.Reason)
	}
	limit = audit.ClampLimit(limit, 50, 200)
	return s.sink.List(ctx, serverID, &channelID, "", before, limit)
}

// ErrDenied wraps a rule-engine denial with its stable reason string so API
// handlers can surface {code: "forbidden", reason}.
var ErrDenied = errors.New("access denied")
