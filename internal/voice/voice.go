// Package voice models voice-room membership: at most
// one row per principal across the entire platform. Rows whose heartbeat
// has gone stale are reaped when voicecontrol's Join or Heartbeat runs;
// other reads and mutations do not reap.
package voice

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no membership row exists for a principal.
var ErrNotFound = errors.New("voice membership not found")

// Membership is one principal's presence in a voice channel.
type Membership struct {
	ServerID        uuid.UUID
	ChannelID       uuid.UUID
	Principal       uuid.UUID
	Muted           bool
	Deafened        bool
	CameraOn        bool
	StageSpeaker    bool
	StageRequesting bool
	LastHeartbeat   time.Time
	Fingerprint     string
}

// StateParams groups the mutable, caller-supplied fields of a membership
// row. A nil field leaves the column unchanged.
type StateParams struct {
	Muted       *bool
	Deafened    *bool
	CameraOn    *bool
	Fingerprint *string
}

// Repository defines the data-access contract for voice memberships.
// Implementations must guarantee the one-row-per-principal invariant: Join
// atomically displaces any prior row for the same principal.
type Repository interface {
	// Join creates membership, implicitly leaving any existing membership
	// the principal holds anywhere on the platform. It returns the
	// previous row, if any, so the caller can broadcast voice.leave for it.
	Join(ctx context.Context, serverID, channelID, principalID uuid.UUID) (current *Membership, previous *Membership, err error)
	Leave(ctx context.Context, principalID uuid.UUID) (*Membership, error)
	GetByPrincipal(ctx context.Context, principalID uuid.UUID) (*Membership, error)
	ListByChannel(ctx context.Context, channelID uuid.UUID) ([]Membership, error)
	Touch(ctx context.Context, principalID uuid.UUID) error
	SetFingerprint(ctx context.Context, principalID uuid.UUID, fingerprint string) (*Membership, error)
	SetState(ctx context.Context, principalID uuid.UUID, params StateParams) (*Membership, error)
	SetStageState(ctx context.Context, principalID uuid.UUID, requesting, speaker bool) (*Membership, error)
	// ReapStale deletes every row in serverID whose last heartbeat is older
	// than timeout and returns the deleted rows, so the caller can
	// broadcast voice.timeout for the affected server.
	ReapStale(ctx context.Context, serverID uuid.UUID, timeout time.Duration) ([]Membership, error)
}
