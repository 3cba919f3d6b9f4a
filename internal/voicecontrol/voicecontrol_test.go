package voicecontrol

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aegis-chat/aegis-ids/internal/channel"
	"github.com/aegis-chat/aegis-ids/internal/eventbus"
	"github.com/aegis-chat/aegis-ids/internal/permbits"
	"github.com/aegis-chat/aegis-ids/internal/permission"
	"github.com/aegis-chat/aegis-ids/internal/voice"
)

// fakeVoiceRepo is a hand-written in-memory voice.Repository for tests.
type fakeVoiceRepo struct {
	byPrincipal map[uuid.UUID]*voice.Membership
}

func newFakeVoiceRepo() *fakeVoiceRepo {
	return &fakeVoiceRepo{byPrincipal: make(map[uuid.UUID]*voice.Membership)}
}

func (f *fakeVoiceRepo) Join(_ context.Context, serverID, channelID, principalID uuid.UUID) (*voice.Membership, *voice.Membership, error) {
	previous := f.byPrincipal[principalID]
	current := &voice.Membership{ServerID: serverID, ChannelID: channelID, Principal: principalID, LastHeartbeat: time.Now()}
	f.byPrincipal[principalID] = current
	return current, previous, nil
}

func (f *fakeVoiceRepo) Leave(_ context.Context, principalID uuid.UUID) (*voice.Membership, error) {
	m, ok := f.byPrincipal[principalID]
	if !ok {
		return nil, voice.ErrNotFound
	}
	delete(f.byPrincipal, principalID)
	return m, nil
}

func (f *fakeVoiceRepo) GetByPrincipal(_ context.Context, principalID uuid.UUID) (*voice.Membership, error) {
	m, ok := f.byPrincipal[principalID]
	if !ok {
		return nil, voice.ErrNotFound
	}
	return m, nil
}

func (f *fakeVoiceRepo) ListByChannel(_ context.Context, channelID uuid.UUID) ([]voice.Membership, error) {
	var result []voice.Membership
	for _, m := range f.byPrincipal {
		if m.ChannelID == channelID {
			result = append(result, *m)
		}
	}
	return result, nil
}

func (f *fakeVoiceRepo) Touch(_ context.Context, principalID uuid.UUID) error {
	m, ok := f.byPrincipal[principalID]
	if !ok {
		return voice.ErrNotFound
	}
	m.LastHeartbeat = time.Now()
	return nil
}

func (f *fakeVoiceRepo) SetFingerprint(_ context.Context, principalID uuid.UUID, fingerprint string) (*voice.Membership, error) {
	m, ok := f.byPrincipal[principalID]
	if !ok {
		return nil, voice.ErrNotFound
	}
	m.Fingerprint = fingerprint
	return m, nil
}

func (f *fakeVoiceRepo) SetState(_ context.Context, principalID uuid.UUID, params voice.StateParams) (*voice.Membership, error) {
	m, ok := f.byPrincipal[principalID]
	if !ok {
		return nil, voice.ErrNotFound
	}
	if params.Muted != nil {
		m.Muted = *params.Muted
	}
	if params.Deafened != nil {
		m.Deafened = *params.Deafened
	}
	if params.CameraOn != nil {
		m.CameraOn = *params.CameraOn
	}
	return m, nil
}

func (f *fakeVoiceRepo) SetStageState(_ context.Context, principalID uuid.UUID, requesting, speaker bool) (*voice.Membership, error) {
	m, ok := f.byPrincipal[principalID]
	if !ok {
		return nil, voice.ErrNotFound
	}
	m.StageRequesting = requesting
	m.StageSpeaker = speaker
	return m, nil
}

func (f *fakeVoiceRepo) ReapStale(_ context.Context, serverID uuid.UUID, timeout time.Duration) ([]voice.Membership, error) {
	var reaped []voice.Membership
	cutoff := time.Now().Add(-timeout)
	for id, m := range f.byPrincipal {
		if m.ServerID == serverID && m.LastHeartbeat.Before(cutoff) {
			reaped = append(reaped, *m)
			delete(f.byPrincipal, id)
		}
	}
	return reaped, nil
}

// fakeChannelRepo satisfies channel.Repository for the single channel the
// test fixture cares about.
type fakeChannelRepo struct {
	channel.Repository
	channels map[uuid.UUID]channel.Channel
}

func (f *fakeChannelRepo) GetByID(_ context.Context, id uuid.UUID) (*channel.Channel, error) {
	ch, ok := f.channels[id]
	if !ok {
		return nil, channel.ErrNotFound
	}
	return &ch, nil
}

// fakePermStore grants every bit to every principal, so these tests exercise
// voicecontrol's own logic rather than the resolver's.
type fakePermStore struct{}

func (fakePermStore) ServerExists(context.Context, uuid.UUID) (bool, error) { return true, nil }
func (fakePermStore) IsOwner(context.Context, uuid.UUID, uuid.UUID) (bool, error) {
	return false, nil
}
func (fakePermStore) MemberRoles(context.Context, uuid.UUID, uuid.UUID) ([]permission.RoleInfo, error) {
	return []permission.RoleInfo{{ID: uuid.New(), Permissions: permbits.All}}, nil
}
func (fakePermStore) ChannelRoleOverrideUnion(context.Context, uuid.UUID, []uuid.UUID) (permission.OverridePair, error) {
	return permission.OverridePair{}, nil
}
func (fakePermStore) ChannelUserOverride(context.Context, uuid.UUID, uuid.UUID) (*permission.OverridePair, error) {
	return nil, nil
}

func newTestSurface(t *testing.T, channelType channel.Type) (*Surface, *fakeVoiceRepo, uuid.UUID, uuid.UUID) {
	t.Helper()
	serverID, channelID := uuid.New(), uuid.New()
	voices := newFakeVoiceRepo()
	channels := &fakeChannelRepo{channels: map[uuid.UUID]channel.Channel{
		channelID: {ID: channelID, ServerID: serverID, Type: channelType},
	}}
	resolver := permission.NewResolver(fakePermStore{}, nil, zerolog.Nop())
	bus := eventbus.New(zerolog.Nop())
	return New(voices, channels, resolver, bus, 45*time.Second, zerolog.Nop()), voices, serverID, channelID
}

func TestJoinThenJoinAnotherChannelBroadcastsImplicitLeave(t *testing.T) {
	surface, _, serverID, channelID := newTestSurface(t, channel.TypeVoice)
	actor := Actor{PrincipalID: uuid.New()}
	otherChannel := uuid.New()

	var leaveEvents, joinEvents int
	surface.bus.Subscribe(eventbus.TopicVoiceLeave, func(eventbus.Event) { leaveEvents++ })
	surface.bus.Subscribe(eventbus.TopicVoiceJoin, func(eventbus.Event) { joinEvents++ })

	if _, err := surface.Join(context.Background(), actor, serverID, channelID); err != nil {
		t.Fatalf("first join: %v", err)
	}
	if leaveEvents != 0 || joinEvents != 1 {
		t.Fatalf("expected no leave and one join on first join, got leave=%d join=%d", leaveEvents, joinEvents)
	}

	if _, err := surface.Join(context.Background(), actor, serverID, otherChannel); err != nil {
		t.Fatalf("second join: %v", err)
	}
	if leaveEvents != 1 || joinEvents != 2 {
		t.Fatalf("expected implicit leave broadcast on displacement, got leave=%d join=%d", leaveEvents, joinEvents)
	}
}

func TestLeaveMismatchedChannelIsNotInChannel(t *testing.T) {
	surface, _, serverID, channelID := newTestSurface(t, channel.TypeVoice)
	actor := Actor{PrincipalID: uuid.New()}

	if _, err := surface.Join(context.Background(), actor, serverID, channelID); err != nil {
		t.Fatalf("join: %v", err)
	}

	err := surface.Leave(context.Background(), actor, serverID, uuid.New())
	if !errors.Is(err, ErrNotInChannel) {
		t.Fatalf("expected ErrNotInChannel, got %v", err)
	}
}

func TestRequestStageRejectedOnNonStageChannel(t *testing.T) {
	surface, _, serverID, channelID := newTestSurface(t, channel.TypeVoice)
	actor := Actor{PrincipalID: uuid.New()}

	if _, err := surface.Join(context.Background(), actor, serverID, channelID); err != nil {
		t.Fatalf("join: %v", err)
	}

	_, err := surface.RequestStage(context.Background(), actor, serverID, channelID)
	if !errors.Is(err, ErrNotStageChannel) {
		t.Fatalf("expected ErrNotStageChannel, got %v", err)
	}
}

func TestPromoteStageOnStageChannel(t *testing.T) {
	surface, voices, serverID, channelID := newTestSurface(t, channel.TypeStage)
	speaker := Actor{PrincipalID: uuid.New()}
	moderator := Actor{PrincipalID: uuid.New()}

	if _, err := surface.Join(context.Background(), speaker, serverID, channelID); err != nil {
		t.Fatalf("join: %v", err)
	}

	m, err := surface.PromoteStage(context.Background(), moderator, serverID, channelID, speaker.PrincipalID)
	if err != nil {
		t.Fatalf("promote stage: %v", err)
	}
	if !m.StageSpeaker {
		t.Fatal("expected stage_speaker to be set")
	}
	stored, _ := voices.GetByPrincipal(context.Background(), speaker.PrincipalID)
	if !stored.StageSpeaker {
		t.Fatal("expected stored membership to reflect stage speaker promotion")
	}
}
