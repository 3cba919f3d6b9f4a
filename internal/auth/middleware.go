package auth

import (
	"github.com/gofiber/fiber/v3"

	"github.com/aegis-chat/aegis-ids/internal/apierr"
	"github.com/aegis-chat/aegis-ids/internal/httputil"
)

// RequireAuth returns Fiber middleware that extracts and validates the
// bearer token from the Authorization header, storing the resolved
// principal id under the "principal" local for downstream handlers.
func RequireAuth(secret, issuer string) fiber.Handler {
	return func(c fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		const prefix = "Bearer "
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			return httputil.Fail(c, apierr.Unauthorized, "Missing bearer token")
		}

		principal, err := ValidatePrincipalToken(header[len(prefix):], secret, issuer)
		if err != nil {
			return httputil.Fail(c, apierr.Unauthorized, "Invalid or expired token")
		}

		c.Locals("principal", principal)
		return c.Next()
	}
}
