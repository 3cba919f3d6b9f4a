package gateway

import (
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	maxMessageSize = 8192
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
)

// Client represents one authenticated messaging-gateway connection. Each
// client runs two goroutines (readPump/writePump) and communicates with the
// Hub only through its send channel and the Hub's own methods; the done
// channel plus sync.Once close idiom keeps unregister races from ever
// causing a send-on-closed-channel panic.
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	principalID uuid.UUID
	log         zerolog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// subsMu guards this client's own view of what it has subscribed to,
	// separate from the Hub's channel/server indexes.
	subsMu sync.Mutex
	subs   map[uuid.UUID]uuid.UUID // channelID -> serverID
}

func newClient(hub *Hub, conn *websocket.Conn, principalID uuid.UUID, logger zerolog.Logger) *Client {
	return &Client{
		hub:         hub,
		conn:        conn,
		principalID: principalID,
		log:         logger,
		send:        make(chan []byte, 256),
		done:        make(chan struct{}),
		subs:        make(map[uuid.UUID]uuid.UUID),
	}
}

// closeSend signals the client's write loop to stop. Safe to call from
// multiple goroutines; only the first call has any effect.
func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.done) })
}

// enqueue sends msg to the client's write channel. A full buffer indicates a
// slow or dead peer; rather than block the publisher, the message is
// dropped and the connection is closed.
func (c *Client) enqueue(msg []byte) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- msg:
	case <-c.done:
	default:
		c.log.Warn().Stringer("principal", c.principalID).Msg("gateway client send buffer full, closing connection")
		c.closeSend()
	}
}

func (c *Client) addSubscription(channelID, serverID uuid.UUID) (isNew bool) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	if _, ok := c.subs[channelID]; ok {
		return false
	}
	c.subs[channelID] = serverID
	return true
}

func (c *Client) removeSubscription(channelID uuid.UUID) (serverID uuid.UUID, existed bool) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	serverID, existed = c.subs[channelID]
	if existed {
		delete(c.subs, channelID)
	}
	return serverID, existed
}

// peekSubscription returns the serverID a channel subscription was recorded
// under without removing it.
func (c *Client) peekSubscription(channelID uuid.UUID) (serverID uuid.UUID, ok bool) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	serverID, ok = c.subs[channelID]
	return serverID, ok
}

func (c *Client) allSubscriptions() map[uuid.UUID]uuid.UUID {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	out := make(map[uuid.UUID]uuid.UUID, len(c.subs))
	for k, v := range c.subs {
		out[k] = v
	}
	return out
}

// readPump reads frames off the socket and routes them to the Hub. It runs
// in its own goroutine and is responsible for triggering cleanup on exit.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Msg("gateway read error")
			}
			return
		}
		c.hub.handleFrame(c, message)
	}
}

// writePump writes messages from the send channel to the socket and sends a
// ping every interval. It runs in its own goroutine and exits when done is
// closed, draining any buffered messages first so the peer receives them
// before the connection closes.
func (c *Client) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug().Err(err).Msg("gateway write error")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			for {
				select {
				case msg := <-c.send:
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}
