package api

import (
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/aegis-chat/aegis-ids/internal/apierr"
	"github.com/aegis-chat/aegis-ids/internal/controlsurface"
	"github.com/aegis-chat/aegis-ids/internal/httputil"
	"github.com/aegis-chat/aegis-ids/internal/permbits"
)

// OverrideHandler serves per-user channel override CRUD.
type OverrideHandler struct {
	surface *controlsurface.Surface
	log     zerolog.Logger
}

// NewOverrideHandler creates a new handler.
func NewOverrideHandler(surface *controlsurface.Surface, logger zerolog.Logger) *OverrideHandler {
	return &OverrideHandler{surface: surface, log: logger.With().Str("handler", "override").Logger()}
}

// overrideBody is the decimal-string bitfield pair the wire protocol uses
// for forward compatibility with arbitrary-precision bitfields.
type overrideBody struct {
	AllowPermissions string `json:"allow_permissions"`
	DenyPermissions  string `json:"deny_permissions"`
}

func parseBitfield(s string) (permbits.Bitfield, error) {
	if s == "" {
		return 0, nil
	}
	return permbits.Parse(s)
}

// List handles GET /servers/:server/channels/:channel/user-overrides.
func (h *OverrideHandler) List(c fiber.Ctx) error {
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

	overrides, err := h.surface.ListUserOverrides(c.Context(), actorFromRequest(c, principal), serverID, channelID)
	if err != nil {
		return writeDomainError(c, err)
	}
	return httputil.Success(c, overrides)
}

// Get handles GET /servers/:server/channels/:channel/user-overrides/:user.
func (h *OverrideHandler) Get(c fiber.Ctx) error {
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
	targetUser, err := parseUUIDParam(c, "user")
	if err != nil {
		return err
	}

	ov, err := h.surface.GetUserOverride(c.Context(), actorFromRequest(c, principal), serverID, channelID, targetUser)
	if err != nil {
		return writeDomainError(c, err)
	}
	return httputil.Success(c, ov)
}

// Set handles PUT /servers/:server/channels/:channel/user-overrides/:user.
func (h *OverrideHandler) Set(c fiber.Ctx) error {
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
	targetUser, err := parseUUIDParam(c, "user")
	if err != nil {
		return err
	}

	var body overrideBody
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, apierr.BadRequest, "Invalid request body")
	}
	allow, err := parseBitfield(body.AllowPermissions)
	if err != nil {
		return httputil.Fail(c, apierr.BadRequest, "Invalid allow_permissions bitfield")
	}
	deny, err := parseBitfield(body.DenyPermissions)
	if err != nil {
		return httputil.Fail(c, apierr.BadRequest, "Invalid deny_permissions bitfield")
	}

	ov, err := h.surface.SetUserOverride(c.Context(), actorFromRequest(c, principal), serverID, channelID, targetUser, allow, deny)
	if err != nil {
		return writeDomainError(c, err)
	}
	return httputil.Success(c, ov)
}

// Delete handles DELETE /servers/:server/channels/:channel/user-overrides/:user.
func (h *OverrideHandler) Delete(c fiber.Ctx) error {
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
	targetUser, err := parseUUIDParam(c, "user")
	if err != nil {
		return err
	}

	if err := h.surface.DeleteUserOverride(c.Context(), actorFromRequest(c, principal), serverID, channelID, targetUser); err != nil {
		return writeDomainError(c, err)
	}
	return httputil.SuccessStatus(c, fiber.StatusNoContent, nil)
}
