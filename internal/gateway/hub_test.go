package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aegis-chat/aegis-ids/internal/channel"
	"github.com/aegis-chat/aegis-ids/internal/eventbus"
	"github.com/aegis-chat/aegis-ids/internal/events"
	"github.com/aegis-chat/aegis-ids/internal/member"
	"github.com/aegis-chat/aegis-ids/internal/permbits"
	"github.com/aegis-chat/aegis-ids/internal/permission"
)

// fakeStore is a hand-written permission.Store granting VIEW_CHANNEL to
// every member it is told about, with no overrides.
type fakeStore struct {
	levels map[uuid.UUID]int
}

func (f *fakeStore) ServerExists(context.Context, uuid.UUID) (bool, error) { return true, nil }
func (f *fakeStore) IsOwner(context.Context, uuid.UUID, uuid.UUID) (bool, error) {
	return false, nil
}
func (f *fakeStore) MemberRoles(_ context.Context, _ uuid.UUID, principalID uuid.UUID) ([]permission.RoleInfo, error) {
	level := f.levels[principalID]
	return []permission.RoleInfo{{ID: uuid.New(), Permissions: permbits.Default, SecurityLevel: level}}, nil
}
func (f *fakeStore) ChannelRoleOverrideUnion(context.Context, uuid.UUID, []uuid.UUID) (permission.OverridePair, error) {
	return permission.OverridePair{}, nil
}
func (f *fakeStore) ChannelUserOverride(context.Context, uuid.UUID, uuid.UUID) (*permission.OverridePair, error) {
	return nil, nil
}

// fakeMembers treats every (server, principal) pair as an active member.
type fakeMembers struct{}

func (fakeMembers) Join(context.Context, uuid.UUID, uuid.UUID) (*member.Member, error) { return nil, nil }
func (fakeMembers) GetByID(_ context.Context, serverID, principalID uuid.UUID) (*member.Member, error) {
	return &member.Member{ServerID: serverID, Principal: principalID}, nil
}
func (fakeMembers) Leave(context.Context, uuid.UUID, uuid.UUID) error { return nil }
func (fakeMembers) RolesForMember(context.Context, uuid.UUID, uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}
func (fakeMembers) AssignRole(context.Context, uuid.UUID, uuid.UUID, uuid.UUID) error { return nil }
func (fakeMembers) RemoveRole(context.Context, uuid.UUID, uuid.UUID, uuid.UUID) error { return nil }

type fakeChannels struct{}

func (fakeChannels) List(context.Context, uuid.UUID) ([]channel.Channel, error) { return nil, nil }
func (fakeChannels) GetByID(context.Context, uuid.UUID) (*channel.Channel, error) {
	return nil, channel.ErrNotFound
}
func (fakeChannels) Create(context.Context, uuid.UUID, channel.CreateParams) (*channel.Channel, error) {
	return nil, nil
}
func (fakeChannels) Update(context.Context, uuid.UUID, channel.UpdateParams) (*channel.Channel, error) {
	return nil, nil
}
func (fakeChannels) Delete(context.Context, uuid.UUID) error { return nil }
func (fakeChannels) SetSecure(context.Context, uuid.UUID, bool) (*channel.Channel, error) {
	return nil, nil
}
func (fakeChannels) SetLockdown(context.Context, uuid.UUID, bool) (*channel.Channel, error) {
	return nil, nil
}

func newTestHub(t *testing.T, levels map[uuid.UUID]int) (*Hub, *eventbus.Bus) {
	t.Helper()
	bus := eventbus.New(zerolog.Nop())
	resolver := permission.NewResolver(&fakeStore{levels: levels}, nil, zerolog.Nop())
	hub := NewHub(bus, resolver, fakeMembers{}, fakeChannels{}, nil, nil, 8*time.Millisecond, nil, zerolog.Nop())
	return hub, bus
}

func mustSubscribe(t *testing.T, h *Hub, c *Client, server, ch uuid.UUID) {
	t.Helper()
	h.handleSubscribe(context.Background(), c, server, ch)
	select {
	case msg := <-c.send:
		var frame map[string]any
		if err := json.Unmarshal(msg, &frame); err != nil {
			t.Fatalf("unmarshal subscribed frame: %v", err)
		}
		if frame["type"] != string(FrameSubscribed) {
			t.Fatalf("expected subscribed frame, got %v", frame)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscribed frame")
	}
}

// TestSubscribeTwiceIsNoOp checks that a repeat
// subscribe neither double-registers the client nor grows the channel's
// subscriber set.
func TestSubscribeTwiceIsNoOp(t *testing.T) {
	t.Parallel()
	server, ch := uuid.New(), uuid.New()
	principal := uuid.New()
	hub, _ := newTestHub(t, map[uuid.UUID]int{principal: 0})
	c := newClient(hub, nil, principal, zerolog.Nop())

	mustSubscribe(t, hub, c, server, ch)
	mustSubscribe(t, hub, c, server, ch)

	targets := hub.channelTargets(ch)
	if len(targets) != 1 {
		t.Fatalf("expected exactly one subscriber after duplicate subscribe, got %d", len(targets))
	}
}

// TestUnsubscribeWithoutSubscribeIsNoOp covers the companion guarantee:
// dropping a never-held subscription changes nothing.
func TestUnsubscribeWithoutSubscribeIsNoOp(t *testing.T) {
	t.Parallel()
	ch := uuid.New()
	principal := uuid.New()
	hub, _ := newTestHub(t, map[uuid.UUID]int{principal: 0})
	c := newClient(hub, nil, principal, zerolog.Nop())

	hub.handleUnsubscribe(c, ch)

	select {
	case msg := <-c.send:
		var frame map[string]any
		if err := json.Unmarshal(msg, &frame); err != nil {
			t.Fatalf("unmarshal unsubscribed frame: %v", err)
		}
		if frame["type"] != string(FrameUnsubscribed) {
			t.Fatalf("expected unsubscribed frame, got %v", frame)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for unsubscribed frame")
	}
	if len(hub.channelTargets(ch)) != 0 {
		t.Fatal("expected no subscribers after unsubscribe-without-subscribe")
	}
}

// TestMessageCreatedFansOutExceptAuthorAndStopsAfterUnsubscribe checks
// that a subscriber receives message.created, then stops receiving
// events once unsubscribed, and the author of a message.created never
// receives its own event.
func TestMessageCreatedFansOutExceptAuthorAndStopsAfterUnsubscribe(t *testing.T) {
	t.Parallel()
	server, ch := uuid.New(), uuid.New()
	author := uuid.New()
	subscriber := uuid.New()
	hub, bus := newTestHub(t, map[uuid.UUID]int{author: 0, subscriber: 0})

	authorClient := newClient(hub, nil, author, zerolog.Nop())
	subClient := newClient(hub, nil, subscriber, zerolog.Nop())
	mustSubscribe(t, hub, authorClient, server, ch)
	mustSubscribe(t, hub, subClient, server, ch)

	messageID := uuid.New()
	bus.Publish(eventbus.TopicMessageCreated, events.MessageCreated{
		ServerID: server, ChannelID: ch, MessageID: messageID, AuthorID: author, Content: "hi",
	})

	select {
	case msg := <-subClient.send:
		var frame map[string]any
		if err := json.Unmarshal(msg, &frame); err != nil {
			t.Fatalf("unmarshal message.created frame: %v", err)
		}
		if frame["type"] != string(FrameMessageCreated) {
			t.Fatalf("expected message.created frame, got %v", frame)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message.created")
	}

	select {
	case msg := <-authorClient.send:
		t.Fatalf("author should not receive its own message.created, got %s", msg)
	default:
	}

	hub.handleUnsubscribe(subClient, ch)
	<-subClient.send // drain the unsubscribed ack

	bus.Publish(eventbus.TopicMessageCreated, events.MessageCreated{
		ServerID: server, ChannelID: ch, MessageID: uuid.New(), AuthorID: author, Content: "second",
	})

	select {
	case msg := <-subClient.send:
		t.Fatalf("unsubscribed client should not receive further events, got %s", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestTypingAutoExpiresAndFansOutToOthers checks that typing.start
// followed by silence auto-expires after the configured timeout and fans out
// typing.update{active:false} to every other subscriber.
func TestTypingAutoExpiresAndFansOutToOthers(t *testing.T) {
	t.Parallel()
	server, ch := uuid.New(), uuid.New()
	typer := uuid.New()
	observer := uuid.New()
	hub, _ := newTestHub(t, map[uuid.UUID]int{typer: 0, observer: 0})

	typerClient := newClient(hub, nil, typer, zerolog.Nop())
	observerClient := newClient(hub, nil, observer, zerolog.Nop())
	mustSubscribe(t, hub, typerClient, server, ch)
	mustSubscribe(t, hub, observerClient, server, ch)

	hub.handleTypingStart(context.Background(), typerClient, server, ch)

	// The active:true update excludes the typer, so only the observer sees it.
	select {
	case msg := <-observerClient.send:
		var frame map[string]any
		if err := json.Unmarshal(msg, &frame); err != nil {
			t.Fatalf("unmarshal typing.update frame: %v", err)
		}
		if frame["active"] != true {
			t.Fatalf("expected active:true typing update, got %v", frame)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for typing.update active:true")
	}

	select {
	case msg := <-observerClient.send:
		var frame map[string]any
		if err := json.Unmarshal(msg, &frame); err != nil {
			t.Fatalf("unmarshal typing.update frame: %v", err)
		}
		if frame["active"] != false {
			t.Fatalf("expected active:false typing auto-expiry, got %v", frame)
		}
		if frame["user_id"] != typer.String() {
			t.Fatalf("expected auto-expiry for typer %s, got %v", typer, frame["user_id"])
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for typing auto-expiry")
	}
}

// TestForceUnsubscribeChannelDropsBelowLevel covers the lockdown
// force-unsubscribe path: principals below the bypass level are
// dropped from the channel's subscriber set and notified, principals at or
// above it are left alone.
func TestForceUnsubscribeChannelDropsBelowLevel(t *testing.T) {
	t.Parallel()
	server, ch := uuid.New(), uuid.New()
	lowLevel := uuid.New()
	coOwner := uuid.New()
	hub, _ := newTestHub(t, map[uuid.UUID]int{lowLevel: 30, coOwner: 90})

	lowClient := newClient(hub, nil, lowLevel, zerolog.Nop())
	coOwnerClient := newClient(hub, nil, coOwner, zerolog.Nop())
	mustSubscribe(t, hub, lowClient, server, ch)
	mustSubscribe(t, hub, coOwnerClient, server, ch)

	hub.ForceUnsubscribeChannel(context.Background(), server, ch, 90)

	select {
	case msg := <-lowClient.send:
		var frame map[string]any
		if err := json.Unmarshal(msg, &frame); err != nil {
			t.Fatalf("unmarshal forced-unsubscribe frame: %v", err)
		}
		if frame["type"] != string(FrameUnsubscribed) || frame["reason"] != "lockdown" {
			t.Fatalf("expected lockdown-reason unsubscribed frame, got %v", frame)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for forced unsubscribe")
	}

	targets := hub.channelTargets(ch)
	if len(targets) != 1 || targets[0] != coOwnerClient {
		t.Fatalf("expected only the co-owner to remain subscribed, got %v", targets)
	}
}
