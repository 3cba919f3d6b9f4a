package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aegis-chat/aegis-ids/internal/eventbus"
)

// Sink wraps a Repository with best-effort event-bus publication. Append
// inserts synchronously and then fires audit.created; a publish failure is
// logged, never propagated.
type Sink struct {
	repo Repository
	bus  *eventbus.Bus
	log  zerolog.Logger
}

// NewSink builds a Sink.
func NewSink(repo Repository, bus *eventbus.Bus, logger zerolog.Logger) *Sink {
	return &Sink{repo: repo, bus: bus, log: logger}
}

// Append inserts entry and publishes audit.created.
func (s *Sink) Append(ctx context.Context, entry Entry) (*Entry, error) {
	stored, err := s.repo.Append(ctx, entry)
	if err != nil {
		return nil, err
	}

	if s.bus != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Warn().Interface("panic", r).Msg("audit.created publish panicked")
				}
			}()
			s.bus.Publish(eventbus.TopicAuditCreated, stored)
		}()
	}
	return stored, nil
}

// List retrieves paginated audit entries. Callers must have already passed
// a view_logs rule-engine check; the sink itself performs no authorization.
func (s *Sink) List(ctx context.Context, serverID uuid.UUID, channelID *uuid.UUID, action string, before *time.Time, limit int) ([]Entry, error) {
	return s.repo.List(ctx, serverID, channelID, action, before, limit)
}
