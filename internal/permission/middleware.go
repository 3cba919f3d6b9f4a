package permission

import (
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/aegis-chat/aegis-ids/internal/apierr"
	"github.com/aegis-chat/aegis-ids/internal/httputil"
	"github.com/aegis-chat/aegis-ids/internal/permbits"
)

// RequireServerPermission returns Fiber middleware that denies the request
// unless the authenticated principal's server-wide resolved permissions
// contain bit. It expects "principal" and "serverID" locals to already be
// set by upstream middleware/route parsing.
func RequireServerPermission(resolver *Resolver, bit permbits.Bitfield) fiber.Handler {
	return func(c fiber.Ctx) error {
		principalID, ok := c.Locals("principal").(uuid.UUID)
		if !ok {
			return httputil.Fail(c, apierr.Unauthorized, "Missing principal identity")
		}
		serverID, ok := c.Locals("serverID").(uuid.UUID)
		if !ok {
			return httputil.Fail(c, apierr.BadRequest, "Missing server id")
		}

		allowed, err := resolver.HasPermission(c, principalID, serverID, uuid.Nil, bit)
		if err != nil {
			return httputil.Fail(c, apierr.Internal, "An internal error occurred")
		}
		if !allowed {
			return httputil.Fail(c, apierr.Forbidden, "Missing required permission")
		}
		return c.Next()
	}
}
