// Package apierr defines the stable error taxonomy shared by the REST surface
// and the socket gateways. Handlers translate domain sentinel errors into one
// of these codes; the wire shape and HTTP mapping are fixed across transports.
package apierr

import "github.com/gofiber/fiber/v3"

// Code names a stable, machine-readable error kind. Codes are part of the
// public contract and must not be renamed once shipped.
type Code string

const (
	Unauthorized Code = "unauthorized"
	Forbidden    Code = "forbidden"
	NotFound     Code = "not_found"
	BadRequest   Code = "bad_request"
	Conflict     Code = "conflict"
	RateLimited  Code = "rate_limited"
	Internal     Code = "internal"
)

// Status returns the HTTP status code associated with a Code.
func Status(code Code) int {
	switch code {
	case Unauthorized:
		return fiber.StatusUnauthorized
	case Forbidden:
		return fiber.StatusForbidden
	case NotFound:
		return fiber.StatusNotFound
	case BadRequest:
		return fiber.StatusBadRequest
	case Conflict:
		return fiber.StatusConflict
	case RateLimited:
		return fiber.StatusTooManyRequests
	default:
		return fiber.StatusInternalServerError
	}
}

// Body is the JSON error envelope returned by every REST endpoint and sent in
// every socket `error` frame.
type Body struct {
	Error      string `json:"error"`
	Code       Code   `json:"code"`
	Reason     string `json:"reason,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}
