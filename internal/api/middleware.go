package api

import (
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/aegis-chat/aegis-ids/internal/apierr"
	"github.com/aegis-chat/aegis-ids/internal/controlsurface"
	"github.com/aegis-chat/aegis-ids/internal/httputil"
)

// parseUUIDParam reads and parses a path parameter, failing the request
// with bad_request on a malformed value.
func parseUUIDParam(c fiber.Ctx, name string) (uuid.UUID, error) {
	v, err := uuid.Parse(c.Params(name))
	if err != nil {
		return uuid.Nil, httputil.Fail(c, apierr.BadRequest, "Invalid "+name)
	}
	return v, nil
}

// principalFromLocals reads the "principal" local set by auth.RequireAuth.
func principalFromLocals(c fiber.Ctx) (uuid.UUID, error) {
	principal, ok := c.Locals("principal").(uuid.UUID)
	if !ok {
		return uuid.Nil, httputil.Fail(c, apierr.Unauthorized, "Missing principal identity")
	}
	return principal, nil
}

// actorFromRequest builds a controlsurface.Actor from the authenticated
// principal plus request metadata, for the audit trail.
func actorFromRequest(c fiber.Ctx, principal uuid.UUID) controlsurface.Actor {
	return controlsurface.Actor{
		PrincipalID: principal,
		IP:          c.IP(),
		UserAgent:   c.Get(fiber.HeaderUserAgent),
	}
}
