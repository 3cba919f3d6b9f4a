// Package audit implements the append-only secure audit sink. Entries
// are never mutated or deleted; retrieval is gated by the caller already
// having passed a view_logs check via the rule engine.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Result names the outcome of the checked action.
type Result string

const (
	ResultAllowed Result = "allowed"
	ResultDenied  Result = "denied"
)

// Entry is one immutable audit record.
type Entry struct {
	ID                uuid.UUID
	ServerID          uuid.UUID
	ChannelID         *uuid.UUID
	PrincipalID       uuid.UUID
	Action            string
	PermissionChecked string
	Result            Result
	Metadata          string
	IP                string
	UserAgent         string
	Timestamp         time.Time
}

// ClampLimit constrains a requested page size to [1, max], defaulting to def
// when the input is zero or negative.
func ClampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

// Repository defines the data-access contract for audit entries.
type Repository interface {
	Append(ctx context.Context, entry Entry) (*Entry, error)
	List(ctx context.Context, serverID uuid.UUID, channelID *uuid.UUID, action string, before *time.Time, limit int) ([]Entry, error)
}
