package api

import (
	"github.com/gofiber/contrib/v3/websocket"
	"github.com/gofiber/fiber/v3"

	"github.com/aegis-chat/aegis-ids/internal/auth"
	"github.com/aegis-chat/aegis-ids/internal/gateway"
)

// GatewayHandler serves the messaging gateway's WebSocket upgrade endpoint
// (path /gateway/ws?token=...).
type GatewayHandler struct {
	hub    *gateway.Hub
	secret string
	issuer string
}

// NewGatewayHandler creates a new handler.
func NewGatewayHandler(hub *gateway.Hub, jwtSecret, jwtIssuer string) *GatewayHandler {
	return &GatewayHandler{hub: hub, secret: jwtSecret, issuer: jwtIssuer}
}

// Upgrade handles GET /gateway/ws. The bearer credential travels as a query
// parameter since a browser WebSocket handshake cannot set a custom
// Authorization header; an invalid or expired token still completes the
// upgrade so the socket can be closed with the stable `unauthorized` close
// code rather than a bare HTTP rejection.
func (h *GatewayHandler) Upgrade(c fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	principal, authErr := auth.ValidatePrincipalToken(c.Query("token"), h.secret, h.issuer)

	return websocket.New(func(conn *websocket.Conn) {
		if authErr != nil {
			closeMsg := websocket.FormatCloseMessage(gateway.CloseUnauthorized, "unauthorized")
			_ = conn.Conn.WriteMessage(websocket.CloseMessage, closeMsg)
			_ = conn.Conn.Close()
			return
		}
		h.hub.ServeWebSocket(conn.Conn, principal)
	})(c)
}
