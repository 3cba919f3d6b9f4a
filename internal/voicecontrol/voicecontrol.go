// Package voicecontrol implements the REST-surface voice room control
// operations: join (implicitly leaving any
// prior room), leave, heartbeat, state mutation, and stage request/promote/
// demote. It publishes the voice.join/leave/timeout events voicehub.Hub
// relays to connected signaling sockets. Access for join/heartbeat/state/
// stage request is gated the same way voicehub.Hub.handleFrame gates
// non-heartbeat frames: a direct resolver.HasPermission(ViewChannel) check
// rather than the secure-channel rule engine, since voice rooms are not
// secure channels and the secure-channel CheckAccess path does not apply to
// them. Leave has no permission check; it only verifies that the
// principal's membership is in the given room.
package voicecontrol

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aegis-chat/aegis-ids/internal/channel"
	"github.com/aegis-chat/aegis-ids/internal/eventbus"
	"github.com/aegis-chat/aegis-ids/internal/events"
	"github.com/aegis-chat/aegis-ids/internal/permbits"
	"github.com/aegis-chat/aegis-ids/internal/permission"
	"github.com/aegis-chat/aegis-ids/internal/voice"
)

// ErrForbidden is returned when the acting principal lacks view access to
// the target channel, or lacks the stage-moderation permission required for
// PromoteStage/DemoteStage.
var ErrForbidden = errors.New("forbidden")

// ErrNotInChannel is returned when a mutation targets a voice room the
// acting principal does not currently hold a membership row in.
var ErrNotInChannel = errors.New("not a member of this voice channel")

// Actor bundles the acting principal's identity, mirroring controlsurface.Actor.
type Actor struct {
	PrincipalID uuid.UUID
}

// Surface wires the collaborators every voice control mutation needs.
type Surface struct {
	voices           voice.Repository
	channels         channel.Repository
	resolver         *permission.Resolver
	bus              *eventbus.Bus
	heartbeatTimeout time.Duration
	log              zerolog.Logger
}

// New builds a Surface.
func New(voices voice.Repository, channels channel.Repository, resolver *permission.Resolver, bus *eventbus.Bus, heartbeatTimeout time.Duration, logger zerolog.Logger) *Surface {
	return &Surface{
		voices:           voices,
		channels:         channels,
		resolver:         resolver,
		bus:              bus,
		heartbeatTimeout: heartbeatTimeout,
		log:              logger.With().Str("component", "voicecontrol").Logger(),
	}
}

func (s *Surface) requireView(ctx context.Context, actor Actor, serverID, channelID uuid.UUID) error {
	allowed, err := s.resolver.HasPermission(ctx, actor.PrincipalID, serverID, channelID, permbits.ViewChannel)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrForbidden
	}
	return nil
}

// Join adds the principal to (serverID, channelID), implicitly leaving any
// prior voice membership anywhere on the platform. Both the implicit leave
// (if any) and the join are broadcast.
func (s *Surface) Join(ctx context.Context, actor Actor, serverID, channelID uuid.UUID) (*voice.Membership, error) {
	if err := s.requireView(ctx, actor, serverID, channelID); err != nil {
		return nil, err
	}
	s.reap(ctx, serverID)

	current, previous, err := s.voices.Join(ctx, serverID, channelID, actor.PrincipalID)
	if err != nil {
		return nil, fmt.Errorf("join voice channel: %w", err)
	}

	if previous != nil {
		s.bus.Publish(eventbus.TopicVoiceLeave, events.VoiceLeave{
			ServerID: previous.ServerID, ChannelID: previous.ChannelID, Principal: actor.PrincipalID,
		})
	}
	s.bus.Publish(eventbus.TopicVoiceJoin, events.VoiceJoin{
		ServerID: serverID, ChannelID: channelID, Principal: actor.PrincipalID,
	})
	return current, nil
}

// Leave removes the principal's voice membership, provided it matches
// (serverID, channelID).
func (s *Surface) Leave(ctx context.Context, actor Actor, serverID, channelID uuid.UUID) error {
	existing, err := s.voices.GetByPrincipal(ctx, actor.PrincipalID)
	if errors.Is(err, voice.ErrNotFound) {
		return ErrNotInChannel
	}
	if err != nil {
		return err
	}
	if existing.ServerID != serverID || existing.ChannelID != channelID {
		return ErrNotInChannel
	}

	if _, err := s.voices.Leave(ctx, actor.PrincipalID); err != nil {
		return fmt.Errorf("leave voice channel: %w", err)
	}
	s.bus.Publish(eventbus.TopicVoiceLeave, events.VoiceLeave{
		ServerID: serverID, ChannelID: channelID, Principal: actor.PrincipalID,
	})
	return nil
}

// Heartbeat refreshes the principal's voice membership liveness, mirroring
// the voicehub.handleHeartbeat frame handler for callers reaching this core
// over REST instead of the signaling socket.
func (s *Surface) Heartbeat(ctx context.Context, actor Actor, serverID, channelID uuid.UUID) error {
	if err := s.requireView(ctx, actor, serverID, channelID); err != nil {
		return err
	}
	s.reap(ctx, serverID)
	if err := s.voices.Touch(ctx, actor.PrincipalID); err != nil {
		return ErrNotInChannel
	}
	return nil
}

// SetState applies a partial mute/deafen/camera/fingerprint update.
func (s *Surface) SetState(ctx context.Context, actor Actor, serverID, channelID uuid.UUID, params voice.StateParams) (*voice.Membership, error) {
	if err := s.requireView(ctx, actor, serverID, channelID); err != nil {
		return nil, err
	}
	m, err := s.voices.SetState(ctx, actor.PrincipalID, params)
	if errors.Is(err, voice.ErrNotFound) {
		return nil, ErrNotInChannel
	}
	if err != nil {
		return nil, fmt.Errorf("set voice state: %w", err)
	}
	return m, nil
}

// ErrNotStageChannel is returned when a stage request/promote/demote
// targets a channel whose type is not "stage".
var ErrNotStageChannel = errors.New("channel is not a stage channel")

func (s *Surface) requireStageChannel(ctx context.Context, channelID uuid.UUID) error {
	ch, err := s.channels.GetByID(ctx, channelID)
	if err != nil {
		return fmt.Errorf("load channel: %w", err)
	}
	if ch.Type != channel.TypeStage {
		return ErrNotStageChannel
	}
	return nil
}

// RequestStage marks the principal as requesting to speak in a stage
// channel. Anyone with view access to the room may request.
func (s *Surface) RequestStage(ctx context.Context, actor Actor, serverID, channelID uuid.UUID) (*voice.Membership, error) {
	if err := s.requireView(ctx, actor, serverID, channelID); err != nil {
		return nil, err
	}
	if err := s.requireStageChannel(ctx, channelID); err != nil {
		return nil, err
	}
	m, err := s.voices.SetStageState(ctx, actor.PrincipalID, true, false)
	if errors.Is(err, voice.ErrNotFound) {
		return nil, ErrNotInChannel
	}
	if err != nil {
		return nil, fmt.Errorf("request stage: %w", err)
	}
	return m, nil
}

// PromoteStage grants targetPrincipal the speaker role in the stage channel.
// Gated by MANAGE_CHANNELS, the same bit every other channel-moderation
// mutation uses; stage speaker promotion has no dedicated bit.
func (s *Surface) PromoteStage(ctx context.Context, actor Actor, serverID, channelID, targetPrincipal uuid.UUID) (*voice.Membership, error) {
	if err := s.requireManageChannels(ctx, actor, serverID, channelID); err != nil {
		return nil, err
	}
	if err := s.requireStageChannel(ctx, channelID); err != nil {
		return nil, err
	}
	m, err := s.voices.SetStageState(ctx, targetPrincipal, false, true)
	if errors.Is(err, voice.ErrNotFound) {
		return nil, ErrNotInChannel
	}
	if err != nil {
		return nil, fmt.Errorf("promote stage: %w", err)
	}
	return m, nil
}

// DemoteStage revokes targetPrincipal's speaker role.
func (s *Surface) DemoteStage(ctx context.Context, actor Actor, serverID, channelID, targetPrincipal uuid.UUID) (*voice.Membership, error) {
	if err := s.requireManageChannels(ctx, actor, serverID, channelID); err != nil {
		return nil, err
	}
	if err := s.requireStageChannel(ctx, channelID); err != nil {
		return nil, err
	}
	m, err := s.voices.SetStageState(ctx, targetPrincipal, false, false)
	if errors.Is(err, voice.ErrNotFound) {
		return nil, ErrNotInChannel
	}
	if err != nil {
		return nil, fmt.Errorf("demote stage: %w", err)
	}
	return m, nil
}

func (s *Surface) requireManageChannels(ctx context.Context, actor Actor, serverID, channelID uuid.UUID) error {
	allowed, err := s.resolver.HasPermission(ctx, actor.PrincipalID, serverID, channelID, permbits.ManageChannels)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrForbidden
	}
	return nil
}

// reap deletes stale voice memberships in serverID and broadcasts
// voice.timeout per affected channel with its updated member list. Join and
// Heartbeat call it; Leave, SetState and the stage operations do not reap.
func (s *Surface) reap(ctx context.Context, serverID uuid.UUID) {
	reaped, err := s.voices.ReapStale(ctx, serverID, s.heartbeatTimeout)
	if err != nil {
		s.log.Warn().Err(err).Msg("stale voice membership reap failed")
		return
	}
	if len(reaped) == 0 {
		return
	}

	affected := make(map[uuid.UUID]struct{})
	for _, m := range reaped {
		affected[m.ChannelID] = struct{}{}
	}
	for channelID := range affected {
		remaining, err := s.voices.ListByChannel(ctx, channelID)
		if err != nil {
			s.log.Warn().Err(err).Msg("list by channel failed after reap")
			continue
		}
		members := make([]uuid.UUID, len(remaining))
		for i, m := range remaining {
			members[i] = m.Principal
		}
		s.bus.Publish(eventbus.TopicVoiceTimeout, events.VoiceTimeout{
			ServerID: serverID, ChannelID: channelID, Members: members,
		})
	}
}
