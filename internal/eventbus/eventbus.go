// Package eventbus implements the in-process topic-addressed publisher.
// Delivery is synchronous and best-effort: a subscriber that panics
// or returns an error must never interrupt the publisher or any other
// subscriber, and the bus holds no persistence; events lost during a
// restart are lost for good.
package eventbus

import (
	"sync"

	"github.com/rs/zerolog"
)

// Topic names a channel of events. This type keeps the topics producers
// emit as a closed, named set rather than bare strings scattered across
// call sites.
type Topic string

const (
	TopicMessageCreated  Topic = "message.created"
	TopicMessageEdited   Topic = "message.edited"
	TopicMessageDeleted  Topic = "message.deleted"
	TopicReadReceipt     Topic = "read.receipt"
	TopicSecurityAlert   Topic = "security.alert"
	TopicChannelLockdown Topic = "channel.lockdown"
	TopicChannelSecured  Topic = "channel.secured"
	TopicAuditCreated    Topic = "audit.created"
	TopicTypingUpdate    Topic = "typing.update"
	TopicVoiceLeave      Topic = "voice.leave"
	TopicVoiceJoin       Topic = "voice.join"
	TopicVoiceTimeout    Topic = "voice.timeout"
)

// Event is the envelope every subscriber receives.
type Event struct {
	Topic Topic
	Data  any
}

// Subscriber receives events published to a topic it registered for.
type Subscriber func(Event)

// Bus is an in-process, single-process publisher. Fan-out never crosses
// a process boundary, so there is nothing a Redis/Valkey pub-sub hop
// would buy here.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Topic][]Subscriber
	log         zerolog.Logger
}

// New builds an empty Bus.
func New(logger zerolog.Logger) *Bus {
	return &Bus{subscribers: make(map[Topic][]Subscriber), log: logger}
}

// Subscribe registers fn to receive every event published to topic.
func (b *Bus) Subscribe(topic Topic, fn Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[topic] = append(b.subscribers[topic], fn)
}

// Publish delivers an event to every subscriber of topic, in registration
// order, on the caller's goroutine. Holding the read lock for the whole
// dispatch loop gives per-topic FIFO ordering for events published by the
// same task, per the concurrency model. Each subscriber is isolated by a
// recover so one subscriber's panic cannot take down the publisher or
// starve later subscribers.
func (b *Bus) Publish(topic Topic, data any) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	event := Event{Topic: topic, Data: data}
	for _, sub := range b.subscribers[topic] {
		b.dispatch(sub, event)
	}
}

func (b *Bus) dispatch(sub Subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Str("topic", string(event.Topic)).Msg("event bus subscriber panicked")
		}
	}()
	sub(event)
}
