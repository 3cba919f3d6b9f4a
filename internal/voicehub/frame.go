// Package voicehub implements the voice signaling relay: a second
// authenticated duplex socket, separate from the messaging gateway, that
// forwards heartbeat/fingerprint/signal frames between voice-channel
// participants. It never inspects or transcodes media, only membership
// and channel-access bookkeeping around an opaque signal payload.
package voicehub

import (
	"encoding/json"

	"github.com/google/uuid"
)

// FrameType is the closed set of inbound/outbound frame discriminators
// the voice socket speaks.
type FrameType string

const (
	FrameConnected        FrameType = "connected"
	FrameVoiceHeartbeat   FrameType = "voice.heartbeat"
	FrameVoiceFingerprint FrameType = "voice.fingerprint"
	FrameVoiceSignal      FrameType = "voice.signal"
	FrameVoiceJoin        FrameType = "voice.join"
	FrameVoiceLeave       FrameType = "voice.leave"
	FrameVoiceTimeout     FrameType = "voice.timeout"
	FrameError            FrameType = "error"
)

// inbound is the shape every inbound frame decodes into.
type inbound struct {
	Type         FrameType       `json:"type"`
	Server       uuid.UUID       `json:"server"`
	Channel      uuid.UUID       `json:"channel"`
	Fingerprint  string          `json:"fingerprint"`
	TargetUserID uuid.UUID       `json:"target_user_id"`
	SignalType   string          `json:"signal_type"`
	Payload      json.RawMessage `json:"payload"`
}

func buildFrame(frameType FrameType, fields map[string]any) ([]byte, error) {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["type"] = string(frameType)
	return json.Marshal(out)
}

func errorFrame(code, reason string) []byte {
	data, _ := buildFrame(FrameError, map[string]any{"code": code, "error": reason})
	return data
}
