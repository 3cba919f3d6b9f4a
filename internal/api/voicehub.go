package api

import (
	"github.com/gofiber/contrib/v3/websocket"
	"github.com/gofiber/fiber/v3"

	"github.com/aegis-chat/aegis-ids/internal/auth"
	"github.com/aegis-chat/aegis-ids/internal/voicehub"
)

// VoiceHubHandler serves the voice signaling hub's WebSocket upgrade
// endpoint (path /voice/ws?token=...).
type VoiceHubHandler struct {
	hub    *voicehub.Hub
	secret string
	issuer string
}

// NewVoiceHubHandler creates a new handler.
func NewVoiceHubHandler(hub *voicehub.Hub, jwtSecret, jwtIssuer string) *VoiceHubHandler {
	return &VoiceHubHandler{hub: hub, secret: jwtSecret, issuer: jwtIssuer}
}

// Upgrade handles GET /voice/ws.
func (h *VoiceHubHandler) Upgrade(c fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	principal, authErr := auth.ValidatePrincipalToken(c.Query("token"), h.secret, h.issuer)

	return websocket.New(func(conn *websocket.Conn) {
		if authErr != nil {
			closeMsg := websocket.FormatCloseMessage(voicehub.CloseUnauthorized, "unauthorized")
			_ = conn.Conn.WriteMessage(websocket.CloseMessage, closeMsg)
			_ = conn.Conn.Close()
			return
		}
		h.hub.ServeWebSocket(conn.Conn, principal)
	})(c)
}
