package voicehub

import "errors"

// Close codes for the voice-signaling socket, mirroring the messaging
// gateway's 4000-range application codes.
const (
	CloseUnauthorized    = 4001
	ClosePolicyViolation = 4003
)

// Sentinel errors for voice-signaling connection-level failure modes.
var (
	ErrUnauthorized = errors.New("missing or invalid bearer token")
)
