// Package readstate persists each principal's last-read marker per channel,
// the small piece of durable state behind the gateway's read.ack frame.
// Everything else about message history is an external
// collaborator; this package owns only the marker.
package readstate

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// State is one principal's read marker for one channel.
type State struct {
	ChannelID         uuid.UUID
	Principal         uuid.UUID
	LastReadMessageID uuid.UUID
	LastReadAt        time.Time
}

// Repository defines the data-access contract for read markers.
type Repository interface {
	Upsert(ctx context.Context, channelID, principalID, messageID uuid.UUID) (*State, error)
}
