package voicehub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aegis-chat/aegis-ids/internal/channel"
	"github.com/aegis-chat/aegis-ids/internal/eventbus"
	"github.com/aegis-chat/aegis-ids/internal/events"
	"github.com/aegis-chat/aegis-ids/internal/permbits"
	"github.com/aegis-chat/aegis-ids/internal/permission"
	"github.com/aegis-chat/aegis-ids/internal/voice"
)

const pingInterval = 30 * time.Second

// Hub is the voice-signaling registry: at most one live client per
// principal platform-wide, mirroring the voice-membership invariant it
// sits on top of.
type Hub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]*Client

	voices   voice.Repository
	resolver *permission.Resolver
	channels channel.Repository
	bus      *eventbus.Bus
	log      zerolog.Logger
}

// NewHub builds a voice-signaling Hub and subscribes it to the bus topics
// it forwards to connected sockets (published by the REST voice handlers
// on join/leave/reap, and by the hub itself on stale-membership reap).
func NewHub(voices voice.Repository, resolver *permission.Resolver, channels channel.Repository, bus *eventbus.Bus, logger zerolog.Logger) *Hub {
	h := &Hub{
		clients:  make(map[uuid.UUID]*Client),
		voices:   voices,
		resolver: resolver,
		channels: channels,
		bus:      bus,
		log:      logger.With().Str("component", "voicehub").Logger(),
	}
	for _, topic := range []eventbus.Topic{eventbus.TopicVoiceJoin, eventbus.TopicVoiceLeave, eventbus.TopicVoiceTimeout} {
		h.bus.Subscribe(topic, h.dispatch)
	}
	return h
}

// ServeWebSocket takes ownership of an already-upgraded, already-
// authenticated connection. A second connection from the same principal
// displaces the first; a principal who still holds a stale VoiceMembership
// row from a prior session has it reaped and voice.leave broadcast for it.
func (h *Hub) ServeWebSocket(conn *websocket.Conn, principalID uuid.UUID) {
	client := newClient(h, conn, principalID, h.log)
	h.register(client)

	if frame, err := buildFrame(FrameConnected, map[string]any{"user_id": principalID}); err == nil {
		client.enqueue(frame)
	}

	go client.writePump(pingInterval)
	client.readPump()
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	if existing, ok := h.clients[c.principalID]; ok {
		existing.closeSend()
	}
	h.clients[c.principalID] = c
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	prior, err := h.voices.GetByPrincipal(ctx, c.principalID)
	if err != nil {
		return // voice.ErrNotFound, or a lookup failure that leaves no stale state to reap
	}
	if _, leaveErr := h.voices.Leave(ctx, c.principalID); leaveErr != nil {
		h.log.Warn().Err(leaveErr).Msg("failed to reap stale voice membership on connect")
		return
	}
	h.bus.Publish(eventbus.TopicVoiceLeave, events.VoiceLeave{
		ServerID: prior.ServerID, ChannelID: prior.ChannelID, Principal: c.principalID,
	})
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if current, ok := h.clients[c.principalID]; ok && current == c {
		delete(h.clients, c.principalID)
	}
	h.mu.Unlock()
	c.closeSend()
}

func (h *Hub) handleFrame(c *Client, raw []byte) {
	var in inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		c.enqueue(errorFrame("bad_request", "malformed frame"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if in.Type != FrameVoiceHeartbeat {
		ok, err := h.resolver.HasPermission(ctx, c.principalID, in.Server, in.Channel, permbits.ViewChannel)
		if err != nil || !ok {
			c.enqueue(errorFrame("forbidden", "cannot access this channel"))
			return
		}
	}

	switch in.Type {
	case FrameVoiceHeartbeat:
		h.handleHeartbeat(ctx, c, in.Server, in.Channel)
	case FrameVoiceFingerprint:
		h.handleFingerprint(ctx, c, in.Server, in.Channel, in.Fingerprint)
	case FrameVoiceSignal:
		h.handleSignal(ctx, c, in.Channel, in.TargetUserID, in.SignalType, in.Payload)
	default:
		c.enqueue(errorFrame("bad_request", "unknown frame type"))
	}
}

func (h *Hub) handleHeartbeat(ctx context.Context, c *Client, serverID, channelID uuid.UUID) {
	if err := h.voices.Touch(ctx, c.principalID); err != nil {
		c.enqueue(errorFrame("not_found", "no active voice membership"))
		return
	}
	c.setRoom(serverID, channelID)
}

func (h *Hub) handleFingerprint(ctx context.Context, c *Client, serverID, channelID uuid.UUID, fingerprint string) {
	if _, err := h.voices.SetFingerprint(ctx, c.principalID, fingerprint); err != nil {
		c.enqueue(errorFrame("not_found", "no active voice membership"))
		return
	}
	c.setRoom(serverID, channelID)
}

// handleSignal relays an opaque signaling payload from c to targetID after
// verifying both are current members of the same voice channel. The
// payload is forwarded verbatim, never parsed, inspected, or logged
// beyond this size-bounded pass-through.
func (h *Hub) handleSignal(ctx context.Context, c *Client, channelID, targetID uuid.UUID, signalType string, payload json.RawMessage) {
	self, err := h.voices.GetByPrincipal(ctx, c.principalID)
	if err != nil || self.ChannelID != channelID {
		c.enqueue(errorFrame("forbidden", "not a member of this voice channel"))
		return
	}
	target, err := h.voices.GetByPrincipal(ctx, targetID)
	if err != nil || target.ChannelID != channelID {
		c.enqueue(errorFrame("not_found", "target is not in this voice channel"))
		return
	}

	h.mu.RLock()
	targetClient, ok := h.clients[targetID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	frame, err := buildFrame(FrameVoiceSignal, map[string]any{
		"channel":      channelID,
		"from_user_id": c.principalID,
		"signal_type":  signalType,
		"payload":      payload,
	})
	if err != nil {
		return
	}
	targetClient.enqueue(frame)
}

// dispatch is the bus subscriber callback for voice.join/leave/timeout. It
// forwards to every connected socket whose last-reported room belongs to
// the affected server with a plain linear scan; voice hub iteration is
// rare compared to per-event dispatch elsewhere.
func (h *Hub) dispatch(event eventbus.Event) {
	frameType, fields, serverID, ok := h.route(event.Data)
	if !ok {
		return
	}
	frame, err := buildFrame(frameType, fields)
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to build outbound voice frame")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if sid, _ := c.room(); sid == serverID {
			c.enqueue(frame)
		}
	}
}

func (h *Hub) route(payload any) (FrameType, map[string]any, uuid.UUID, bool) {
	switch p := payload.(type) {
	case events.VoiceJoin:
		return FrameVoiceJoin, map[string]any{"channel": p.ChannelID, "user_id": p.Principal}, p.ServerID, true
	case events.VoiceLeave:
		return FrameVoiceLeave, map[string]any{"channel": p.ChannelID, "user_id": p.Principal}, p.ServerID, true
	case events.VoiceTimeout:
		return FrameVoiceTimeout, map[string]any{"channel": p.ChannelID, "members": p.Members}, p.ServerID, true
	default:
		return "", nil, uuid.Nil, false
	}
}

// ClientCount returns the number of currently connected voice sockets.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown closes every live voice-signaling connection.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		c.closeSend()
		_ = c.conn.Close()
	}
	h.log.Info().Msg("voice signaling hub shut down")
}
