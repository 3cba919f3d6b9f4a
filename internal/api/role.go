package api

import (
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aegis-chat/aegis-ids/internal/apierr"
	"github.com/aegis-chat/aegis-ids/internal/controlsurface"
	"github.com/aegis-chat/aegis-ids/internal/httputil"
	"github.com/aegis-chat/aegis-ids/internal/role"
)

// RoleHandler serves role CRUD, reorder, and member assignment endpoints,
// all gated by the hierarchy rules controlsurface.Surface enforces.
type RoleHandler struct {
	roles   role.Repository
	surface *controlsurface.Surface
	log     zerolog.Logger
}

// NewRoleHandler creates a new handler.
func NewRoleHandler(roles role.Repository, surface *controlsurface.Surface, logger zerolog.Logger) *RoleHandler {
	return &RoleHandler{roles: roles, surface: surface, log: logger.With().Str("handler", "role").Logger()}
}

// List handles GET /servers/:server/roles.
func (h *RoleHandler) List(c fiber.Ctx) error {
	serverID, err := parseUUIDParam(c, "server")
	if err != nil {
		return err
	}
	roles, err := h.roles.List(c.Context(), serverID)
	if err != nil {
		h.log.Error().Err(err).Msg("list roles failed")
		return httputil.Fail(c, apierr.Internal, "An internal error occurred")
	}
	return httputil.Success(c, roles)
}

type createRoleBody struct {
	Name          string `json:"name"`
	Permissions   string `json:"permissions"`
	IsAdmin       bool   `json:"is_admin"`
	SecurityLevel int    `json:"security_level"`
	Colour        string `json:"colour"`
	Hoist         bool   `json:"hoist"`
}

// Create handles POST /servers/:server/roles.
func (h *RoleHandler) Create(c fiber.Ctx) error {
	principal, err := principalFromLocals(c)
	if err != nil {
		return err
	}
	serverID, err := parseUUIDParam(c, "server")
	if err != nil {
		return err
	}

	var body createRoleBody
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, apierr.BadRequest, "Invalid request body")
	}
	name, err := role.ValidateNameRequired(body.Name)
	if err != nil {
		return httputil.Fail(c, apierr.BadRequest, err.Error())
	}
	perms, err := parseBitfield(body.Permissions)
	if err != nil {
		return httputil.Fail(c, apierr.BadRequest, "Invalid permissions bitfield")
	}
	level := body.SecurityLevel
	if err := role.ValidateSecurityLevel(&level); err != nil {
		return httputil.Fail(c, apierr.BadRequest, err.Error())
	}

	created, err := h.surface.CreateRole(c.Context(), actorFromRequest(c, principal), serverID, role.CreateParams{
		Name:          name,
		Permissions:   perms,
		IsAdmin:       body.IsAdmin,
		SecurityLevel: level,
		Colour:        body.Colour,
		Hoist:         body.Hoist,
	})
	if err != nil {
		return writeDomainError(c, err)
	}
	return httputil.SuccessStatus(c, fiber.StatusCreated, created)
}

type updateRoleBody struct {
	Name          *string `json:"name"`
	Position      *int    `json:"position"`
	Permissions   *string `json:"permissions"`
	IsAdmin       *bool   `json:"is_admin"`
	SecurityLevel *int    `json:"security_level"`
	Colour        *string `json:"colour"`
	Hoist         *bool   `json:"hoist"`
}

// Update handles PATCH /servers/:server/roles/:role.
func (h *RoleHandler) Update(c fiber.Ctx) error {
	principal, err := principalFromLocals(c)
	if err != nil {
		return err
	}
	serverID, err := parseUUIDParam(c, "server")
	if err != nil {
		return err
	}
	roleID, err := parseUUIDParam(c, "role")
	if err != nil {
		return err
	}

	var body updateRoleBody
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, apierr.BadRequest, "Invalid request body")
	}
	if err := role.ValidateName(body.Name); err != nil {
		return httputil.Fail(c, apierr.BadRequest, err.Error())
	}
	if err := role.ValidateSecurityLevel(body.SecurityLevel); err != nil {
		return httputil.Fail(c, apierr.BadRequest, err.Error())
	}

	params := role.UpdateParams{
		Name:          body.Name,
		Position:      body.Position,
		IsAdmin:       body.IsAdmin,
		SecurityLevel: body.SecurityLevel,
		Colour:        body.Colour,
		Hoist:         body.Hoist,
	}
	if body.Permissions != nil {
		perms, err := parseBitfield(*body.Permissions)
		if err != nil {
			return httputil.Fail(c, apierr.BadRequest, "Invalid permissions bitfield")
		}
		params.Permissions = &perms
	}

	updated, err := h.surface.UpdateRole(c.Context(), actorFromRequest(c, principal), serverID, roleID, params)
	if err != nil {
		return writeDomainError(c, err)
	}
	return httputil.Success(c, updated)
}

// Delete handles DELETE /servers/:server/roles/:role.
func (h *RoleHandler) Delete(c fiber.Ctx) error {
	principal, err := principalFromLocals(c)
	if err != nil {
		return err
	}
	serverID, err := parseUUIDParam(c, "server")
	if err != nil {
		return err
	}
	roleID, err := parseUUIDParam(c, "role")
	if err != nil {
		return err
	}

	if err := h.surface.DeleteRole(c.Context(), actorFromRequest(c, principal), serverID, roleID); err != nil {
		return writeDomainError(c, err)
	}
	return httputil.SuccessStatus(c, fiber.StatusNoContent, nil)
}

// Reorder handles PUT /servers/:server/roles/reorder.
func (h *RoleHandler) Reorder(c fiber.Ctx) error {
	principal, err := principalFromLocals(c)
	if err != nil {
		return err
	}
	serverID, err := parseUUIDParam(c, "server")
	if err != nil {
		return err
	}

	var body struct {
		RoleIDs []string `json:"role_ids"`
	}
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, apierr.BadRequest, "Invalid request body")
	}
	ids := make([]uuid.UUID, len(body.RoleIDs))
	for i, s := range body.RoleIDs {
		id, err := uuid.Parse(s)
		if err != nil {
			return httputil.Fail(c, apierr.BadRequest, "Invalid role id in role_ids")
		}
		ids[i] = id
	}

	if err := h.surface.ReorderRoles(c.Context(), actorFromRequest(c, principal), serverID, ids); err != nil {
		return writeDomainError(c, err)
	}
	return httputil.SuccessStatus(c, fiber.StatusNoContent, nil)
}

// AssignMemberRole handles POST /servers/:server/members/:user/roles.
func (h *RoleHandler) AssignMemberRole(c fiber.Ctx) error {
	principal, err := principalFromLocals(c)
	if err != nil {
		return err
	}
	serverID, err := parseUUIDParam(c, "server")
	if err != nil {
		return err
	}
	targetUser, err := parseUUIDParam(c, "user")
	if err != nil {
		return err
	}

	var body struct {
		RoleID string `json:"role_id"`
	}
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, apierr.BadRequest, "Invalid request body")
	}
	roleID, err := uuid.Parse(body.RoleID)
	if err != nil {
		return httputil.Fail(c, apierr.BadRequest, "Invalid role_id")
	}

	if err := h.surface.AssignRole(c.Context(), actorFromRequest(c, principal), serverID, targetUser, roleID); err != nil {
		return writeDomainError(c, err)
	}
	return httputil.SuccessStatus(c, fiber.StatusNoContent, nil)
}

// RemoveMemberRole handles DELETE /servers/:server/members/:user/roles/:role.
func (h *RoleHandler) RemoveMemberRole(c fiber.Ctx) error {
	principal, err := principalFromLocals(c)
	if err != nil {
		return err
	}
	serverID, err := parseUUIDParam(c, "server")
	if err != nil {
		return err
	}
	targetUser, err := parseUUIDParam(c, "user")
	if err != nil {
		return err
	}
	roleID, err := parseUUIDParam(c, "role")
	if err != nil {
		return err
	}

	if err := h.surface.RemoveRole(c.Context(), actorFromRequest(c, principal), serverID, targetUser, roleID); err != nil {
		return writeDomainError(c, err)
	}
	return httputil.SuccessStatus(c, fiber.StatusNoContent, nil)
}
