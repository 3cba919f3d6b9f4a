// Package channel models a server's channels: the unit every permission
// check, override, and secure-channel control operation ultimately targets.
package channel

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Sentinel errors for the channel package.
var (
	ErrNotFound          = errors.New("channel not found")
	ErrNameLength        = errors.New("channel name must be between 1 and 100 characters")
	ErrInvalidType       = errors.New("invalid channel type")
	ErrLastChannel       = errors.New("cannot delete the server's last channel")
	ErrLockdownNotSecure = errors.New("lockdown requires the channel to be secure")
)

const maxNameLength = 100

// Type names the kind of channel.
type Type string

const (
	TypeText         Type = "text"
	TypeVoice        Type = "voice"
	TypeStage        Type = "stage"
	TypeAnnouncement Type = "announcement"
)

// ValidTypes lists every type value accepted on create/update.
var ValidTypes = map[Type]struct{}{
	TypeText:         {},
	TypeVoice:        {},
	TypeStage:        {},
	TypeAnnouncement: {},
}

// Channel is a single channel within a server.
type Channel struct {
	ID        uuid.UUID
	ServerID  uuid.UUID
	Name      string
	Type      Type
	Position  int
	IsSecure  bool
	Lockdown  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateParams groups the inputs for creating a channel.
type CreateParams struct {
	Name string
	Type Type
}

// UpdateParams groups the optional mutable fields of a channel.
type UpdateParams struct {
	Name     *string
	Position *int
}

// ValidateNameRequired trims and validates a required channel name.
func ValidateNameRequired(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if utf8.RuneCountInString(trimmed) == 0 || utf8.RuneCountInString(trimmed) > maxNameLength {
		return "", ErrNameLength
	}
	return trimmed, nil
}

// ValidateName validates an optional name in place.
func ValidateName(name *string) error {
	if name == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*name)
	if utf8.RuneCountInString(trimmed) == 0 || utf8.RuneCountInString(trimmed) > maxNameLength {
		return ErrNameLength
	}
	*name = trimmed
	return nil
}

// ValidateType checks that t is one of the known channel types.
func ValidateType(t Type) error {
	if _, ok := ValidTypes[t]; !ok {
		return ErrInvalidType
	}
	return nil
}

// Repository defines the data-access contract for channels.
type Repository interface {
	List(ctx context.Context, serverID uuid.UUID) ([]Channel, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Channel, error)
	Create(ctx context.Context, serverID uuid.UUID, params CreateParams) (*Channel, error)
	Update(ctx context.Context, id uuid.UUID, params UpdateParams) (*Channel, error)
	Delete(ctx context.Context, id uuid.UUID) error
	SetSecure(ctx context.Context, id uuid.UUID, secure bool) (*Channel, error)
	SetLockdown(ctx context.Context, id uuid.UUID, lockdown bool) (*Channel, error)
}
