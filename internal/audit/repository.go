package audit

import (
	"context"
	"fmt"
	"time"

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

// Append inserts a new audit entry, assigning it an id and timestamp.
func (r *PGRepository) Append(ctx context.Context, entry Entry) (*Entry, error) {
	entry.ID = uuid.New()
	row := r.pool.QueryRow(ctx, `
		INSERT INTO secure_audit_entries
			(id, server_id, channel_id, principal_id, action, permission_checked, result, metadata, ip, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		RETURNING created_at`,
		entry.ID, entry.ServerID, entry.ChannelID, entry.PrincipalID, entry.Action,
		entry.PermissionChecked, entry.Result, entry.Metadata, entry.IP, entry.UserAgent)

	if err := row.Scan(&entry.Timestamp); err != nil {
		return nil, fmt.Errorf("append audit entry: %w", err)
	}
	return &entry, nil
}

// List retrieves entries for serverID, optionally filtered by channel and
// action, paginated backward in time from before via a cursor.
func (r *PGRepository) List(ctx context.Context, serverID uuid.UUID, channelID *uuid.UUID, action string, before *time.Time, limit int) ([]Entry, error) {
	cursor := time.Now().UTC()
	if before != nil {
		cursor = *before
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, server_id, channel_id, principal_id, action, permission_checked, result, metadata, ip, user_agent, created_at
		FROM secure_audit_entries
		WHERE server_id = $1
			AND created_at < $2
			AND ($3::uuid IS NULL OR channel_id = $3)
			AND ($4 = '' OR action = $4)
		ORDER BY created_at DESC
		LIMIT $5`,
		serverID, cursor, channelID, action, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var result []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ServerID, &e.ChannelID, &e.PrincipalID, &e.Action,
			&e.PermissionChecked, &e.Result, &e.Metadata, &e.IP, &e.UserAgent, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}
