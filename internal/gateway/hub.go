package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/aegis-chat/aegis-ids/internal/channel"
	"github.com/aegis-chat/aegis-ids/internal/eventbus"
	"github.com/aegis-chat/aegis-ids/internal/events"
	"github.com/aegis-chat/aegis-ids/internal/member"
	"github.com/aegis-chat/aegis-ids/internal/permbits"
	"github.com/aegis-chat/aegis-ids/internal/permission"
	"github.com/aegis-chat/aegis-ids/internal/readstate"
)

const pingInterval = 30 * time.Second

// typingKey identifies one (channel, principal) typing-state slot; at
// most one entry exists per pair.
type typingKey struct {
	ChannelID uuid.UUID
	Principal uuid.UUID
}

// Hub is the messaging gateway's central registry: every authenticated
// connection, the channel/server subscription indexes that drive bus
// fan-out, and the typing-state table. Each of the three is guarded by its
// own lock, so a slow permission check on one never blocks
// registration or typing-timer bookkeeping on another.
type Hub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]map[*Client]struct{} // principal -> live connections

	subMu       sync.RWMutex
	channelSubs map[uuid.UUID]map[*Client]struct{} // channel -> subscribed clients
	serverRefs  map[uuid.UUID]map[*Client]int      // server -> client -> subscribed-channel count

	typingMu sync.Mutex
	typing   map[typingKey]*time.Timer

	bus          *eventbus.Bus
	resolver     *permission.Resolver
	members      member.Repository
	channels     channel.Repository
	readStates   readstate.Repository
	sessions     *SessionStore
	typingExpiry time.Duration
	connGauge    prometheus.Gauge
	log          zerolog.Logger
}

// NewHub builds a Hub and subscribes it to every bus topic the gateway
// forwards to connected clients. connGauge may be nil, in which case
// connection-count observation is skipped.
func NewHub(
	bus *eventbus.Bus,
	resolver *permission.Resolver,
	members member.Repository,
	channels channel.Repository,
	readStates readstate.Repository,
	sessions *SessionStore,
	typingExpiry time.Duration,
	connGauge prometheus.Gauge,
	logger zerolog.Logger,
) *Hub {
	h := &Hub{
		clients:      make(map[uuid.UUID]map[*Client]struct{}),
		channelSubs:  make(map[uuid.UUID]map[*Client]struct{}),
		serverRefs:   make(map[uuid.UUID]map[*Client]int),
		typing:       make(map[typingKey]*time.Timer),
		bus:          bus,
		resolver:     resolver,
		members:      members,
		channels:     channels,
		readStates:   readStates,
		sessions:     sessions,
		typingExpiry: typingExpiry,
		connGauge:    connGauge,
		log:          logger.With().Str("component", "gateway").Logger(),
	}

	for _, topic := range []eventbus.Topic{
		eventbus.TopicMessageCreated,
		eventbus.TopicMessageEdited,
		eventbus.TopicMessageDeleted,
		eventbus.TopicReadReceipt,
		eventbus.TopicTypingUpdate,
		eventbus.TopicSecurityAlert,
		eventbus.TopicChannelLockdown,
		eventbus.TopicChannelSecured,
	} {
		h.bus.Subscribe(topic, h.dispatch)
	}
	return h
}

// ServeWebSocket takes ownership of an already-upgraded, already-
// authenticated connection and runs it until it closes. principalID has
// already been extracted from the bearer token by the caller; no in-band
// identify handshake is needed since the HTTP upgrade itself carries the
// credential: the gateway handler validates the `token` query parameter
// with auth.ValidatePrincipalToken before upgrading.
func (h *Hub) ServeWebSocket(conn *websocket.Conn, principalID uuid.UUID) {
	client := newClient(h, conn, principalID, h.log)
	h.register(client)

	if frame, err := buildFrame(FrameConnected, map[string]any{"user_id": principalID}); err == nil {
		client.enqueue(frame)
	}
	h.resumeSubscriptions(client)

	go client.writePump(pingInterval)
	client.readPump()
}

// resumeSubscriptions restores a reconnecting client's prior subscription
// set from SessionStore, re-validating membership and VIEW_CHANNEL against
// the current permission state so a grant revoked while the client was
// disconnected never silently survives a resume.
func (h *Hub) resumeSubscriptions(c *Client) {
	if h.sessions == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	refs, err := h.sessions.Load(ctx, c.principalID)
	if err != nil {
		h.log.Warn().Err(err).Stringer("principal", c.principalID).Msg("failed to load gateway resume session")
		return
	}
	for _, ref := range refs {
		if _, err := h.members.GetByID(ctx, ref.ServerID, c.principalID); err != nil {
			continue
		}
		ok, err := h.resolver.HasPermission(ctx, c.principalID, ref.ServerID, ref.ChannelID, permbits.ViewChannel)
		if err != nil || !ok {
			continue
		}
		if isNew := c.addSubscription(ref.ChannelID, ref.ServerID); isNew {
			h.addSubscription(c, ref.ServerID, ref.ChannelID)
		}
		if frame, err := buildFrame(FrameSubscribed, map[string]any{"channel": ref.ChannelID, "resumed": true}); err == nil {
			c.enqueue(frame)
		}
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.principalID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.principalID] = set
	}
	set[c] = struct{}{}
	if h.connGauge != nil {
		h.connGauge.Inc()
	}
}

// unregister removes a client from the registry and synchronously releases
// every subscription and typing entry it owned.
func (h *Hub) unregister(c *Client) {
	lastSocket := false
	h.mu.Lock()
	if set, ok := h.clients[c.principalID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.principalID)
			lastSocket = true
		}
	}
	h.mu.Unlock()
	if h.connGauge != nil {
		h.connGauge.Dec()
	}

	subs := c.allSubscriptions()
	for channelID := range subs {
		h.removeSubscription(c, channelID)
		h.cancelTyping(channelID, c.principalID)
	}

	if h.sessions != nil && lastSocket {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.sessions.Save(ctx, c.principalID, subs); err != nil {
			h.log.Warn().Err(err).Stringer("principal", c.principalID).Msg("failed to save gateway resume session")
		}
	}

	c.closeSend()
}

// handleFrame decodes one inbound frame and routes it to the matching
// handler. Malformed frames are dropped with an error frame rather than
// closing the connection.
func (h *Hub) handleFrame(c *Client, raw []byte) {
	var in inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		c.enqueue(errorFrame("bad_request", "malformed frame"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch in.Type {
	case FrameHeartbeat:
		if frame, err := buildFrame(FrameHeartbeatAck, nil); err == nil {
			c.enqueue(frame)
		}
	case FrameSubscribe:
		h.handleSubscribe(ctx, c, in.Server, in.Channel)
	case FrameUnsubscribe:
		h.handleUnsubscribe(c, in.Channel)
	case FrameTypingStart:
		h.handleTypingStart(ctx, c, in.Server, in.Channel)
	case FrameTypingStop:
		h.handleTypingStop(ctx, c, in.Channel)
	case FrameReadAck:
		h.handleReadAck(ctx, c, in.Server, in.Channel, in.MessageID)
	default:
		c.enqueue(errorFrame("bad_request", "unknown frame type"))
	}
}

func (h *Hub) handleSubscribe(ctx context.Context, c *Client, serverID, channelID uuid.UUID) {
	if _, err := h.members.GetByID(ctx, serverID, c.principalID); err != nil {
		c.enqueue(errorFrame("forbidden", "not a member of this server"))
		return
	}
	ok, err := h.resolver.HasPermission(ctx, c.principalID, serverID, channelID, permbits.ViewChannel)
	if err != nil {
		h.log.Warn().Err(err).Msg("permission check failed during subscribe")
		c.enqueue(errorFrame("internal", "permission check failed"))
		return
	}
	if !ok {
		c.enqueue(errorFrame("forbidden", "cannot view this channel"))
		return
	}

	if isNew := c.addSubscription(channelID, serverID); isNew {
		h.addSubscription(c, serverID, channelID)
	}
	if frame, err := buildFrame(FrameSubscribed, map[string]any{"channel": channelID}); err == nil {
		c.enqueue(frame)
	}
}

func (h *Hub) handleUnsubscribe(c *Client, channelID uuid.UUID) {
	h.removeSubscription(c, channelID)
	h.cancelTyping(channelID, c.principalID)
	if frame, err := buildFrame(FrameUnsubscribed, map[string]any{"channel": channelID}); err == nil {
		c.enqueue(frame)
	}
}

// addSubscription indexes c under both its channel and its server.
func (h *Hub) addSubscription(c *Client, serverID, channelID uuid.UUID) {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	set, ok := h.channelSubs[channelID]
	if !ok {
		set = make(map[*Client]struct{})
		h.channelSubs[channelID] = set
	}
	set[c] = struct{}{}

	refs, ok := h.serverRefs[serverID]
	if !ok {
		refs = make(map[*Client]int)
		h.serverRefs[serverID] = refs
	}
	refs[c]++
}

func (h *Hub) removeSubscription(c *Client, channelID uuid.UUID) {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	serverID, existed := c.removeSubscription(channelID)
	if set, ok := h.channelSubs[channelID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.channelSubs, channelID)
		}
	}
	if !existed {
		return
	}
	if refs, ok := h.serverRefs[serverID]; ok {
		refs[c]--
		if refs[c] <= 0 {
			delete(refs, c)
		}
		if len(refs) == 0 {
			delete(h.serverRefs, serverID)
		}
	}
}

// ForceUnsubscribeChannel drops every subscriber of channelID whose
// resolved security level is below minLevel. Called by the control surface
// when a channel enters lockdown.
func (h *Hub) ForceUnsubscribeChannel(ctx context.Context, serverID, channelID uuid.UUID, minLevel int) {
	h.subMu.RLock()
	set := h.channelSubs[channelID]
	targets := make([]*Client, 0, len(set))
	for c := range set {
		targets = append(targets, c)
	}
	h.subMu.RUnlock()

	for _, c := range targets {
		level, err := h.resolver.ResolveSecurityLevel(ctx, c.principalID, serverID)
		if err != nil {
			h.log.Warn().Err(err).Msg("security level check failed during lockdown sweep")
			continue
		}
		if level >= minLevel {
			continue
		}
		h.removeSubscription(c, channelID)
		h.cancelTyping(channelID, c.principalID)
		if frame, err := buildFrame(FrameUnsubscribed, map[string]any{"channel": channelID, "reason": "lockdown"}); err == nil {
			c.enqueue(frame)
		}
	}
}

func (h *Hub) handleTypingStart(ctx context.Context, c *Client, serverID, channelID uuid.UUID) {
	ok, err := h.resolver.HasPermission(ctx, c.principalID, serverID, channelID, permbits.ViewChannel)
	if err != nil || !ok {
		c.enqueue(errorFrame("forbidden", "cannot view this channel"))
		return
	}

	key := typingKey{ChannelID: channelID, Principal: c.principalID}
	h.typingMu.Lock()
	if timer, ok := h.typing[key]; ok {
		timer.Stop()
	}
	h.typing[key] = time.AfterFunc(h.typingExpiry, func() { h.expireTyping(serverID, key) })
	h.typingMu.Unlock()

	h.bus.Publish(eventbus.TopicTypingUpdate, events.TypingUpdate{
		ServerID: serverID, ChannelID: channelID, Principal: c.principalID, Active: true,
	})
}

func (h *Hub) handleTypingStop(ctx context.Context, c *Client, channelID uuid.UUID) {
	serverID, ok := c.peekSubscription(channelID)
	if !ok {
		return
	}
	h.cancelTyping(channelID, c.principalID)
	h.bus.Publish(eventbus.TopicTypingUpdate, events.TypingUpdate{
		ServerID: serverID, ChannelID: channelID, Principal: c.principalID, Active: false,
	})
}

// cancelTyping stops and clears a typing timer if one is set, without
// publishing a typing.update; used by unsubscribe/disconnect paths where
// the subscriber set this would fan out to is already gone or about to be.
func (h *Hub) cancelTyping(channelID, principalID uuid.UUID) {
	key := typingKey{ChannelID: channelID, Principal: principalID}
	h.typingMu.Lock()
	if timer, ok := h.typing[key]; ok {
		timer.Stop()
		delete(h.typing, key)
	}
	h.typingMu.Unlock()
}

// expireTyping fires when a typing entry's timer elapses without being
// refreshed. The self-cancelling idiom: if the map no longer points at this
// timer (stopped and replaced by a refresh, or already removed by
// unsubscribe) this is a stale fire and must no-op.
func (h *Hub) expireTyping(serverID uuid.UUID, key typingKey) {
	h.typingMu.Lock()
	if _, ok := h.typing[key]; !ok {
		h.typingMu.Unlock()
		return
	}
	delete(h.typing, key)
	h.typingMu.Unlock()

	h.bus.Publish(eventbus.TopicTypingUpdate, events.TypingUpdate{
		ServerID: serverID, ChannelID: key.ChannelID, Principal: key.Principal, Active: false,
	})
}

func (h *Hub) handleReadAck(ctx context.Context, c *Client, serverID, channelID, messageID uuid.UUID) {
	ok, err := h.resolver.HasPermission(ctx, c.principalID, serverID, channelID, permbits.ViewChannel)
	if err != nil || !ok {
		c.enqueue(errorFrame("forbidden", "cannot view this channel"))
		return
	}

	if _, err := h.readStates.Upsert(ctx, channelID, c.principalID, messageID); err != nil {
		h.log.Warn().Err(err).Msg("failed to persist read state")
		c.enqueue(errorFrame("internal", "failed to record read state"))
		return
	}

	h.bus.Publish(eventbus.TopicReadReceipt, events.ReadReceipt{
		ServerID: serverID, ChannelID: channelID, Principal: c.principalID, MessageID: messageID,
	})
}

// dispatch is the bus subscriber callback registered for every topic the
// gateway forwards. It decides channel-scoped vs server-scoped fan-out from
// the payload's own type and, for message.created and typing.update, skips
// the author.
func (h *Hub) dispatch(event eventbus.Event) {
	frameType, fields, excludePrincipal, targets := h.route(event.Data)
	if len(targets) == 0 {
		return
	}
	frame, err := buildFrame(frameType, fields)
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to build outbound frame")
		return
	}
	for _, c := range targets {
		if excludePrincipal != uuid.Nil && c.principalID == excludePrincipal {
			continue
		}
		c.enqueue(frame)
	}
}

// route resolves the outbound frame type, its wire fields, the principal to
// exclude (uuid.Nil for none), and the recipient client set for one bus
// payload.
func (h *Hub) route(payload any) (FrameType, map[string]any, uuid.UUID, []*Client) {
	var exclude uuid.UUID
	if ex, ok := payload.(events.Excluding); ok {
		exclude = ex.ExcludedPrincipal()
	}

	switch p := payload.(type) {
	case events.MessageCreated:
		return FrameMessageCreated, map[string]any{"message": p}, exclude, h.channelTargets(p.ChannelID)
	case events.MessageEdited:
		return FrameMessageEdited, map[string]any{"message": p}, exclude, h.channelTargets(p.ChannelID)
	case events.MessageDeleted:
		return FrameMessageDeleted, map[string]any{"message_id": p.MessageID, "channel": p.ChannelID}, exclude, h.channelTargets(p.ChannelID)
	case events.ReadReceipt:
		return FrameReadReceipt, map[string]any{"channel": p.ChannelID, "user_id": p.Principal, "message_id": p.MessageID}, exclude, h.channelTargets(p.ChannelID)
	case events.TypingUpdate:
		return FrameTypingUpdate, map[string]any{"channel": p.ChannelID, "user_id": p.Principal, "active": p.Active}, exclude, h.channelTargets(p.ChannelID)
	case events.SecurityAlert:
		return FrameSecurityAlert, map[string]any{"reason": p.Reason}, exclude, h.serverTargets(p.ServerID)
	case events.ChannelLockdown:
		return FrameChannelLockdown, map[string]any{"channel": p.ChannelID, "lockdown": p.Lockdown, "reason": p.Reason}, exclude, h.serverTargets(p.ServerID)
	case events.ChannelSecured:
		return FrameChannelSecured, map[string]any{"channel": p.ChannelID, "secure": p.Secure}, exclude, h.serverTargets(p.ServerID)
	default:
		return "", nil, uuid.Nil, nil
	}
}

func (h *Hub) channelTargets(channelID uuid.UUID) []*Client {
	h.subMu.RLock()
	defer h.subMu.RUnlock()
	set := h.channelSubs[channelID]
	out := make([]*Client, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

func (h *Hub) serverTargets(serverID uuid.UUID) []*Client {
	h.subMu.RLock()
	defer h.subMu.RUnlock()
	refs := h.serverRefs[serverID]
	out := make([]*Client, 0, len(refs))
	for c := range refs {
		out = append(out, c)
	}
	return out
}

// ClientCount returns the number of currently registered connections,
// counted per-principal (a principal with two open sockets counts as two).
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, set := range h.clients {
		total += len(set)
	}
	return total
}

// Shutdown closes every live connection. Used during graceful server
// shutdown.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.clients {
		for c := range set {
			c.closeSend()
			_ = c.conn.Close()
		}
	}
	h.log.Info().Msg("messaging gateway hub shut down")
}
