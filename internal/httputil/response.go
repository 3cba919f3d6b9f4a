package httputil

import (
	"github.com/gofiber/fiber/v3"

	"github.com/aegis-chat/aegis-ids/internal/apierr"
)

// envelope wraps every successful response body.
type envelope struct {
	Data any `json:"data"`
}

// Success writes a 200 response carrying data.
func Success(c fiber.Ctx, data any) error {
	return c.Status(fiber.StatusOK).JSON(envelope{Data: data})
}

// SuccessStatus writes a response with the given status code carrying data.
func SuccessStatus(c fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(envelope{Data: data})
}

// Fail writes an error envelope with the status implied by code.
func Fail(c fiber.Ctx, code apierr.Code, reason string) error {
	return c.Status(apierr.Status(code)).JSON(apierr.Body{
		Error:  string(code),
		Code:   code,
		Reason: reason,
	})
}

// FailRateLimited writes a 429 response carrying retry_after seconds.
func FailRateLimited(c fiber.Ctx, reason string, retryAfter int) error {
	return c.Status(fiber.StatusTooManyRequests).JSON(apierr.Body{
		Error:      string(apierr.RateLimited),
		Code:       apierr.RateLimited,
		Reason:     reason,
		RetryAfter: retryAfter,
	})
}
