package api

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/aegis-chat/aegis-ids/internal/apierr"
	"github.com/aegis-chat/aegis-ids/internal/audit"
	"github.com/aegis-chat/aegis-ids/internal/controlsurface"
	"github.com/aegis-chat/aegis-ids/internal/httputil"
)

// ChannelSecurityHandler serves the secure-channel control-surface
// endpoints: toggling is_secure/lockdown and reading the secure audit log.
type ChannelSecurityHandler struct {
	surface *controlsurface.Surface
	log     zerolog.Logger
}

// NewChannelSecurityHandler creates a new handler.
func NewChannelSecurityHandler(surface *controlsurface.Surface, logger zerolog.Logger) *ChannelSecurityHandler {
	return &ChannelSecurityHandler{surface: surface, log: logger.With().Str("handler", "channel_security").Logger()}
}

// SetSecure handles POST /servers/:server/channels/:channel/secure.
func (h *ChannelSecurityHandler) SetSecure(c fiber.Ctx) error {
	return h.toggleSecure(c, true)
}

// RemoveSecure handles DELETE /servers/:server/channels/:channel/secure.
func (h *ChannelSecurityHandler) RemoveSecure(c fiber.Ctx) error {
	return h.toggleSecure(c, false)
}

func (h *ChannelSecurityHandler) toggleSecure(c fiber.Ctx, secure bool) error {
	principal, err := principalFromLocals(c)
	if err != nil {
		return err
	}
	serverID, err := parseUUIDParam(c, "server")
	if err != nil {
		return err
	}
	channelID, err := parseUUIDParam(c, "channel")
	if err != nil {
		return err
	}

	ch, err := h.surface.SetSecure(c.Context(), actorFromRequest(c, principal), serverID, channelID, secure)
	if err != nil {
		return writeDomainError(c, err)
	}
	return httputil.Success(c, ch)
}

// TriggerLockdown handles POST /servers/:server/channels/:channel/lockdown.
func (h *ChannelSecurityHandler) TriggerLockdown(c fiber.Ctx) error {
	principal, err := principalFromLocals(c)
	if err != nil {
		return err
	}
	serverID, err := parseUUIDParam(c, "server")
	if err != nil {
		return err
	}
	channelID, err := parseUUIDParam(c, "channel")
	if err != nil {
		return err
	}

	var body struct {
		Reason string `json:"reason"`
	}
	_ = c.Bind().Body(&body)

	ch, err := h.surface.TriggerLockdown(c.Context(), actorFromRequest(c, principal), serverID, channelID, body.Reason)
	if err != nil {
		return writeDomainError(c, err)
	}
	return httputil.Success(c, ch)
}

// ReleaseLockdown handles DELETE /servers/:server/channels/:channel/lockdown.
func (h *ChannelSecurityHandler) ReleaseLockdown(c fiber.Ctx) error {
	principal, err := principalFromLocals(c)
	if err != nil {
		return err
	}
	serverID, err := parseUUIDParam(c, "server")
	if err != nil {
		return err
	}
	channelID, err := parseUUIDParam(c, "channel")
	if err != nil {
		return err
	}

	ch, err := h.surface.ReleaseLockdown(c.Context(), actorFromRequest(c, principal), serverID, channelID)
	if err != nil {
		return writeDomainError(c, err)
	}
	return httputil.Success(c, ch)
}

// ListAudit handles GET /servers/:server/channels/:channel/secure/audit.
func (h *ChannelSecurityHandler) ListAudit(c fiber.Ctx) error {
	principal, err := principalFromLocals(c)
	if err != nil {
		return err
	}
	serverID, err := parseUUIDParam(c, "server")
	if err != nil {
		return err
	}
	channelID, err := parseUUIDParam(c, "channel")
	if err != nil {
		return err
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	var before *time.Time
	if raw := c.Query("before"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return httputil.Fail(c, apierr.BadRequest, "Invalid before cursor; expected RFC3339 timestamp")
		}
		before = &t
	}

	entries, err := h.surface.ListAudit(c.Context(), actorFromRequest(c, principal), serverID, channelID, before, limit)
	if err != nil {
		return writeDomainError(c, err)
	}

	type auditResponse struct {
		Entries []audit.Entry `json:"entries"`
	}
	return httputil.Success(c, auditResponse{Entries: entries})
}
