// Package gateway implements the real-time delivery engine: an
// authenticated duplex socket that routes message/typing/read/alert events
// to subscribers, fed by the in-process event bus and the control surface.
package gateway

import (
	"encoding/json"

	"github.com/google/uuid"
)

// FrameType is the closed set of inbound and outbound frame discriminators
// the gateway protocol speaks.
type FrameType string

const (
	FrameHeartbeat      FrameType = "heartbeat"
	FrameHeartbeatAck   FrameType = "heartbeat_ack"
	FrameSubscribe      FrameType = "subscribe"
	FrameSubscribed     FrameType = "subscribed"
	FrameUnsubscribe    FrameType = "unsubscribe"
	FrameUnsubscribed   FrameType = "unsubscribed"
	FrameTypingStart    FrameType = "typing.start"
	FrameTypingStop     FrameType = "typing.stop"
	FrameTypingUpdate   FrameType = "typing.update"
	FrameReadAck        FrameType = "read.ack"
	FrameReadReceipt    FrameType = "read.receipt"
	FrameConnected      FrameType = "connected"
	FrameMessageCreated FrameType = "message.created"
	FrameMessageEdited  FrameType = "message.edited"
	FrameMessageDeleted FrameType = "message.deleted"
	FrameSecurityAlert  FrameType = "security.alert"
	FrameChannelLockdown FrameType = "channel.lockdown"
	FrameChannelSecured  FrameType = "channel.secured"
	FrameError          FrameType = "error"
)

// inbound is the shape every inbound frame is decoded into: a type
// discriminator plus every field any frame variant might carry. A given
// handler reads only the fields relevant to its frame type.
type inbound struct {
	Type      FrameType `json:"type"`
	Server    uuid.UUID `json:"server"`
	Channel   uuid.UUID `json:"channel"`
	MessageID uuid.UUID `json:"message_id"`
}

// buildFrame serialises an outbound frame: the type discriminator merged
// with the frame's own fields.
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
