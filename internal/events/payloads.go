// Package events defines the closed set of event-bus payload shapes: one
// tagged struct per topic, plain Go types the gateway and voice hub can
// switch on directly.
package events

import (
	"time"

	"github.com/google/uuid"
)

// ChannelScoped is implemented by every payload the gateway fans out to a
// channel's subscribers rather than a server's.
type ChannelScoped interface {
	ChannelRef() uuid.UUID
}

// ServerScoped is implemented by every payload the gateway fans out to
// every subscriber of a server, regardless of which channel they last
// subscribed through.
type ServerScoped interface {
	ServerRef() uuid.UUID
}

// Excluding is implemented by payloads that must not be delivered back to
// their own author (message.created, typing.update).
type Excluding interface {
	ExcludedPrincipal() uuid.UUID
}

// MessageCreated is published when a message is posted to a channel.
type MessageCreated struct {
	ServerID  uuid.UUID `json:"server_id"`
	ChannelID uuid.UUID `json:"channel_id"`
	MessageID uuid.UUID `json:"message_id"`
	AuthorID  uuid.UUID `json:"author_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func (e MessageCreated) ChannelRef() uuid.UUID        { return e.ChannelID }
func (e MessageCreated) ExcludedPrincipal() uuid.UUID { return e.AuthorID }

// MessageEdited is published when a message's content changes.
type MessageEdited struct {
	ServerID  uuid.UUID `json:"server_id"`
	ChannelID uuid.UUID `json:"channel_id"`
	MessageID uuid.UUID `json:"message_id"`
	AuthorID  uuid.UUID `json:"author_id"`
	Content   string    `json:"content"`
	EditedAt  time.Time `json:"edited_at"`
}

func (e MessageEdited) ChannelRef() uuid.UUID { return e.ChannelID }

// MessageDeleted is published when a message is removed.
type MessageDeleted struct {
	ServerID  uuid.UUID `json:"server_id"`
	ChannelID uuid.UUID `json:"channel_id"`
	MessageID uuid.UUID `json:"message_id"`
}

func (e MessageDeleted) ChannelRef() uuid.UUID { return e.ChannelID }

// ReadReceipt is published when a principal acknowledges reading up to a
// message.
type ReadReceipt struct {
	ServerID  uuid.UUID `json:"server_id"`
	ChannelID uuid.UUID `json:"channel_id"`
	Principal uuid.UUID `json:"principal_id"`
	MessageID uuid.UUID `json:"message_id"`
}

func (e ReadReceipt) ChannelRef() uuid.UUID { return e.ChannelID }

// TypingUpdate is published by the gateway itself when a principal starts,
// refreshes, or stops typing (or a typing timer auto-expires).
type TypingUpdate struct {
	ServerID  uuid.UUID `json:"server_id"`
	ChannelID uuid.UUID `json:"channel_id"`
	Principal uuid.UUID `json:"principal_id"`
	Active    bool      `json:"active"`
}

func (e TypingUpdate) ChannelRef() uuid.UUID        { return e.ChannelID }
func (e TypingUpdate) ExcludedPrincipal() uuid.UUID { return e.Principal }

// SecurityAlert is published for server-wide security notices (e.g. a
// principal tripping the secure rate limit repeatedly, or an owner-only
// action being attempted by a non-owner).
type SecurityAlert struct {
	ServerID  uuid.UUID  `json:"server_id"`
	ChannelID *uuid.UUID `json:"channel_id,omitempty"`
	Reason    string     `json:"reason"`
}

func (e SecurityAlert) ServerRef() uuid.UUID { return e.ServerID }

// ChannelLockdown is published when a secure channel's lockdown flag
// changes.
type ChannelLockdown struct {
	ServerID  uuid.UUID `json:"server_id"`
	ChannelID uuid.UUID `json:"channel_id"`
	Lockdown  bool      `json:"lockdown"`
	Reason    string    `json:"reason,omitempty"`
}

func (e ChannelLockdown) ServerRef() uuid.UUID { return e.ServerID }

// ChannelSecured is published when a channel's is_secure flag changes.
type ChannelSecured struct {
	ServerID  uuid.UUID `json:"server_id"`
	ChannelID uuid.UUID `json:"channel_id"`
	Secure    bool      `json:"secure"`
}

func (e ChannelSecured) ServerRef() uuid.UUID { return e.ServerID }

// VoiceJoin is published when a principal joins a voice channel.
type VoiceJoin struct {
	ServerID  uuid.UUID `json:"server_id"`
	ChannelID uuid.UUID `json:"channel_id"`
	Principal uuid.UUID `json:"principal_id"`
}

func (e VoiceJoin) ServerRef() uuid.UUID { return e.ServerID }

// VoiceLeave is published when a principal leaves a voice channel, whether
// explicitly or by implicit displacement from joining another.
type VoiceLeave struct {
	ServerID  uuid.UUID `json:"server_id"`
	ChannelID uuid.UUID `json:"channel_id"`
	Principal uuid.UUID `json:"principal_id"`
}

func (e VoiceLeave) ServerRef() uuid.UUID { return e.ServerID }

// VoiceTimeout is published when stale voice memberships are reaped from a
// server, carrying the channel's updated member list.
type VoiceTimeout struct {
	ServerID  uuid.UUID   `json:"server_id"`
	ChannelID uuid.UUID   `json:"channel_id"`
	Members   []uuid.UUID `json:"members"`
}

func (e VoiceTimeout) ServerRef() uuid.UUID { return e.ServerID }
