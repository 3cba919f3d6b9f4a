package gateway

import "errors"

// Close codes for the messaging gateway's WebSocket protocol. The 4000
// range is reserved for application use; each maps to one of the
// stable error codes the REST surface exposes.
const (
	CloseUnauthorized     = 4001
	ClosePolicyViolation  = 4003
	CloseRateLimited      = 4008
)

// Sentinel errors for gateway connection-level failure modes.
var (
	ErrUnauthorized  = errors.New("missing or invalid bearer token")
	ErrMaxConnections = errors.New("maximum gateway connections reached")
)
