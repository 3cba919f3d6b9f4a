package api

import (
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/aegis-chat/aegis-ids/internal/apierr"
	"github.com/aegis-chat/aegis-ids/internal/httputil"
	"github.com/aegis-chat/aegis-ids/internal/voice"
	"github.com/aegis-chat/aegis-ids/internal/voicecontrol"
)

// VoiceHandler serves the REST-surface voice room control operations that
// live outside the signaling socket itself: join/leave/heartbeat,
// state mutation, and stage request/promote/demote.
type VoiceHandler struct {
	surface *voicecontrol.Surface
	log     zerolog.Logger
}

// NewVoiceHandler creates a new handler.
func NewVoiceHandler(surface *voicecontrol.Surface, logger zerolog.Logger) *VoiceHandler {
	return &VoiceHandler{surface: surface, log: logger.With().Str("handler", "voice").Logger()}
}

// Join handles POST /voice/:server/:channel/join.
func (h *VoiceHandler) Join(c fiber.Ctx) error {
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

	m, err := h.surface.Join(c.Context(), voicecontrol.Actor{PrincipalID: principal}, serverID, channelID)
	if err != nil {
		return writeDomainError(c, err)
	}
	return httputil.Success(c, m)
}

// Leave handles POST /voice/:server/:channel/leave.
func (h *VoiceHandler) Leave(c fiber.Ctx) error {
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

	if err := h.surface.Leave(c.Context(), voicecontrol.Actor{PrincipalID: principal}, serverID, channelID); err != nil {
		return writeDomainError(c, err)
	}
	return httputil.SuccessStatus(c, fiber.StatusNoContent, nil)
}

// Heartbeat handles POST /voice/:server/:channel/heartbeat.
func (h *VoiceHandler) Heartbeat(c fiber.Ctx) error {
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

	if err := h.surface.Heartbeat(c.Context(), voicecontrol.Actor{PrincipalID: principal}, serverID, channelID); err != nil {
		return writeDomainError(c, err)
	}
	return httputil.SuccessStatus(c, fiber.StatusNoContent, nil)
}

type voiceStateBody struct {
	Muted       *bool   `json:"muted"`
	Deafened    *bool   `json:"deafened"`
	CameraOn    *bool   `json:"camera_on"`
	Fingerprint *string `json:"fingerprint"`
}

// SetState handles PATCH /voice/:server/:channel/state.
func (h *VoiceHandler) SetState(c fiber.Ctx) error {
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

	var body voiceStateBody
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, apierr.BadRequest, "Invalid request body")
	}

	m, err := h.surface.SetState(c.Context(), voicecontrol.Actor{PrincipalID: principal}, serverID, channelID, voice.StateParams{
		Muted:       body.Muted,
		Deafened:    body.Deafened,
		CameraOn:    body.CameraOn,
		Fingerprint: body.Fingerprint,
	})
	if err != nil {
		return writeDomainError(c, err)
	}
	return httputil.Success(c, m)
}

// RequestStage handles POST /voice/:server/:channel/stage/request.
func (h *VoiceHandler) RequestStage(c fiber.Ctx) error {
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

	m, err := h.surface.RequestStage(c.Context(), voicecontrol.Actor{PrincipalID: principal}, serverID, channelID)
	if err != nil {
		return writeDomainError(c, err)
	}
	return httputil.Success(c, m)
}

// PromoteStage handles POST /voice/:server/:channel/stage/promote/:user.
func (h *VoiceHandler) PromoteStage(c fiber.Ctx) error {
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

	m, err := h.surface.PromoteStage(c.Context(), voicecontrol.Actor{PrincipalID: principal}, serverID, channelID, targetUser)
	if err != nil {
		return writeDomainError(c, err)
	}
	return httputil.Success(c, m)
}

// DemoteStage handles POST /voice/:server/:channel/stage/demote/:user.
func (h *VoiceHandler) DemoteStage(c fiber.Ctx) error {
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

	m, err := h.surface.DemoteStage(c.Context(), voicecontrol.Actor{PrincipalID: principal}, serverID, channelID, targetUser)
	if err != nil {
		return writeDomainError(c, err)
	}
	return httputil.Success(c, m)
}
