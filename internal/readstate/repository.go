package readstate

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository implements Repository against PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository creates a new PGRepository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Upsert records messageID as principalID's last-read marker in channelID.
func (r *PGRepository) Upsert(ctx context.Context, channelID, principalID, messageID uuid.UUID) (*State, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO read_states (channel_id, principal_id, last_read_message_id, last_read_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (channel_id, principal_id) DO UPDATE
			SET last_read_message_id = EXCLUDED.last_read_message_id, last_read_at = EXCLUDED.last_read_at
		RETURNING channel_id, principal_id, last_read_message_id, last_read_at`,
		channelID, principalID, messageID)

	var s State
	if err := row.Scan(&s.ChannelID, &s.Principal, &s.LastReadMessageID, &s.LastReadAt); err != nil {
		return nil, fmt.Errorf("upsert read state: %w", err)
	}
	return &s, nil
}
