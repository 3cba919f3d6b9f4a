package voicehub

import (
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	maxMessageSize = 4096
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
)

// Client represents one authenticated voice-signaling connection. Same
// two-goroutine pump shape as the messaging gateway's Client
// (internal/gateway/client.go): readPump/writePump, a done channel closed
// exactly once, and a buffered send channel that drops the connection
// rather than block a slow peer.
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	principalID uuid.UUID
	log         zerolog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// roomMu guards the (server, channel) this socket last reported itself
	// in via a heartbeat or fingerprint frame, used to scope voice.signal
	// membership checks and server-level broadcast targeting.
	roomMu    sync.Mutex
	serverID  uuid.UUID
	channelID uuid.UUID
}

func newClient(hub *Hub, conn *websocket.Conn, principalID uuid.UUID, logger zerolog.Logger) *Client {
	return &Client{
		hub:         hub,
		conn:        conn,
		principalID: principalID,
		log:         logger,
		send:        make(chan []byte, 64),
		done:        make(chan struct{}),
	}
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.done) })
}

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
		c.log.Warn().Stringer("principal", c.principalID).Msg("voice client send buffer full, closing connection")
		c.closeSend()
	}
}

func (c *Client) setRoom(serverID, channelID uuid.UUID) {
	c.roomMu.Lock()
	c.serverID, c.channelID = serverID, channelID
	c.roomMu.Unlock()
}

func (c *Client) room() (serverID, channelID uuid.UUID) {
	c.roomMu.Lock()
	defer c.roomMu.Unlock()
	return c.serverID, c.channelID
}

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
				c.log.Debug().Err(err).Msg("voice read error")
			}
			return
		}
		c.hub.handleFrame(c, message)
	}
}

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
				c.log.Debug().Err(err).Msg("voice write error")
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
