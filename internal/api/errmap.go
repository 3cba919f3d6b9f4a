package api

import (
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/aegis-chat/aegis-ids/internal/apierr"
	"github.com/aegis-chat/aegis-ids/internal/channel"
	"github.com/aegis-chat/aegis-ids/internal/controlsurface"
	"github.com/aegis-chat/aegis-ids/internal/httputil"
	"github.com/aegis-chat/aegis-ids/internal/member"
	"github.com/aegis-chat/aegis-ids/internal/override"
	"github.com/aegis-chat/aegis-ids/internal/role"
	"github.com/aegis-chat/aegis-ids/internal/server"
	"github.com/aegis-chat/aegis-ids/internal/voice"
	"github.com/aegis-chat/aegis-ids/internal/voicecontrol"
)

// writeDomainError translates a domain-package sentinel error into the
// stable {error, code, reason?} envelope, falling back to an internal
// error for anything unrecognized. controlsurface.ErrDenied carries the
// rule engine's own reason string, which is surfaced verbatim.
func writeDomainError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, controlsurface.ErrDenied):
		return httputil.Fail(c, apierr.Forbidden, denyReason(err))
	case errors.Is(err, controlsurface.ErrHierarchy), errors.Is(err, role.ErrHierarchy):
		return httputil.Fail(c, apierr.Forbidden, "role_hierarchy_violation")
	case errors.Is(err, controlsurface.ErrRequiresOwner), errors.Is(err, role.ErrRequiresOwner):
		return httputil.Fail(c, apierr.Forbidden, "requires_owner")
	case errors.Is(err, voicecontrol.ErrForbidden):
		return httputil.Fail(c, apierr.Forbidden, "forbidden")
	case errors.Is(err, voicecontrol.ErrNotInChannel):
		return httputil.Fail(c, apierr.NotFound, "not_in_voice_channel")
	case errors.Is(err, voicecontrol.ErrNotStageChannel):
		return httputil.Fail(c, apierr.BadRequest, "not_a_stage_channel")
	case errors.Is(err, role.ErrEveryoneImmutable):
		return httputil.Fail(c, apierr.Forbidden, "everyone_role_immutable")
	case errors.Is(err, role.ErrMaxRolesReached):
		return httputil.Fail(c, apierr.Conflict, "max_roles_reached")
	case errors.Is(err, role.ErrNameLength), errors.Is(err, role.ErrInvalidColour), errors.Is(err, role.ErrInvalidSecurityLvl):
		return httputil.Fail(c, apierr.BadRequest, err.Error())
	case errors.Is(err, channel.ErrNotFound), errors.Is(err, role.ErrNotFound),
		errors.Is(err, server.ErrNotFound), errors.Is(err, override.ErrNotFound),
		errors.Is(err, voice.ErrNotFound), errors.Is(err, member.ErrNotFound):
		return httputil.Fail(c, apierr.NotFound, "not_found")
	case errors.Is(err, channel.ErrLastChannel):
		return httputil.Fail(c, apierr.Conflict, "cannot_delete_last_channel")
	case errors.Is(err, channel.ErrLockdownNotSecure):
		return httputil.Fail(c, apierr.BadRequest, "lockdown_requires_secure_channel")
	case errors.Is(err, member.ErrAlreadyMember), errors.Is(err, member.ErrRoleAlreadySet):
		return httputil.Fail(c, apierr.Conflict, err.Error())
	default:
		return httputil.Fail(c, apierr.Internal, "An internal error occurred")
	}
}

// denyReason unwraps the rule engine's reason string from a
// controlsurface.ErrDenied wrap ("access denied: <reason>").
func denyReason(err error) string {
	const prefix = "access denied: "
	s := err.Error()
	if len(s) > len(prefix) && s[:len(prefix)] == prefix {
		return s[len(prefix):]
	}
	return s
}
