package controlsurface

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/aegis-chat/aegis-ids/internal/audit"
	"github.com/aegis-chat/aegis-ids/internal/override"
	"github.com/aegis-chat/aegis-ids/internal/permbits"
	"github.com/aegis-chat/aegis-ids/internal/securerule"
)

// ListUserOverrides returns every per-user override on a channel.
func (s *Surface) ListUserOverrides(ctx context.Context, actor Actor, serverID, channelID uuid.UUID) ([]override.UserOverride, error) {
	outcome, err := s.checkAccess(ctx, actor, serverID, channelID, securerule.ActionOverrideSecurity, permbits.ManageChannels)
	if err != nil {
		return nil, err
	}
	if outcome.Decision == securerule.Deny {
		return nil, fmt.Errorf("%w: %s", ErrDenied, outcome.Reason)
	}
	return s.overrides.ListUserOverrides(ctx, channelID)
}

// GetUserOverride returns the single per-user override on a channel, if any.
func (s *Surface) GetUserOverride(ctx context.Context, actor Actor, serverID, channelID, principalID uuid.UUID) (*override.UserOverride, error) {
	outcome, err := s.checkAccess(ctx, actor, serverID, channelID, securerule.ActionOverrideSecurity, permbits.ManageChannels)
	if err != nil {
		return nil, err
	}
	if outcome.Decision == securerule.Deny {
		return nil, fmt.Errorf("%w: %s", ErrDenied, outcome.Reason)
	}
	return s.overrides.UserOverride(ctx, channelID, principalID)
}

// SetUserOverride creates or replaces a per-user override.
func (s *Surface) SetUserOverride(ctx context.Context, actor Actor, serverID, channelID, principalID uuid.UUID, allow, deny permbits.Bitfield) (*override.UserOverride, error) {
	outcome, err := s.checkAccess(ctx, actor, serverID, channelID, securerule.ActionOverrideSecurity, permbits.ManageChannels)
	if err != nil {
		return nil, err
	}
	if outcome.Decision == securerule.Deny {
		return nil, fmt.Errorf("%w: %s", ErrDenied, outcome.Reason)
	}

	ov, err := s.overrides.SetUserOverride(ctx, channelID, principalID, allow, deny)
	if err != nil {
		return nil, err
	}
	s.invalidateChannel(ctx, channelID)
	s.audit(ctx, actor, serverID, &channelID, string(securerule.ActionOverrideSecurity), audit.ResultAllowed,
		fmt.Sprintf("set user override for %s", principalID))
	return ov, nil
}

// DeleteUserOverride removes a per-user override.
func (s *Surface) DeleteUserOverride(ctx context.Context, actor Actor, serverID, channelID, principalID uuid.UUID) error {
	outcome, err := s.checkAccess(ctx, actor, serverID, channelID, securerule.ActionOverrideSecurity, permbits.ManageChannels)
	if err != nil {
		return err
	}
	if outcome.Decision == securerule.Deny {
		return fmt.Errorf("%w: %s", ErrDenied, outcome.Reason)
	}

	if err := s.overrides.DeleteUserOverride(ctx, channelID, principalID); err != nil {
		return err
	}
	s.invalidateChannel(ctx, channelID)
	s.audit(ctx, actor, serverID, &channelID, string(securerule.ActionOverrideSecurity), audit.ResultAllowed,
		fmt.Sprintf("delete user override for %s", principalID))
	return nil
}
