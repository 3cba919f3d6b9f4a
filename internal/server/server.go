// Package server models a tenant: the top-level container that owns
// channels, roles, and members. Unlike a single-tenant deployment, this
// core supports arbitrarily many servers in one process, each isolated by
// server_id.
package server

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Sentinel errors for the server package.
var (
	ErrNotFound          = errors.New("server not found")
	ErrNameLength        = errors.New("server name must be between 1 and 100 characters")
	ErrDescriptionLength = errors.New("server description must not exceed 1024 characters")
)

const (
	maxNameLength        = 100
	maxDescriptionLength = 1024
)

// Server is a tenant container: channels, roles, and members all hang off
// its id.
type Server struct {
	ID          uuid.UUID
	OwnerID     uuid.UUID
	Name        string
	Description string
	IconKey     *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CreateParams groups the inputs for creating a server.
type CreateParams struct {
	OwnerID uuid.UUID
	Name    string
}

// UpdateParams groups the optional mutable fields of a server. A nil field
// leaves the column unchanged.
type UpdateParams struct {
	Name        *string
	Description *string
	IconKey     *string
}

// ValidateName trims and validates a required server name.
func ValidateName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if utf8.RuneCountInString(trimmed) == 0 || utf8.RuneCountInString(trimmed) > maxNameLength {
		return "", ErrNameLength
	}
	return trimmed, nil
}

// ValidateDescription validates an optional description in place, trimming
// it if present.
func ValidateDescription(description *string) error {
	if description == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*description)
	if utf8.RuneCountInString(trimmed) > maxDescriptionLength {
		return ErrDescriptionLength
	}
	*description = trimmed
	return nil
}

// Repository defines the data-access contract for servers.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (*Server, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Server, error)
	IsOwner(ctx context.Context, serverID, principalID uuid.UUID) (bool, error)
	Update(ctx context.Context, id uuid.UUID, params UpdateParams) (*Server, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
