package voice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegis-chat/aegis-ids/internal/postgres"
)

// PGRepository implements Repository against PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository creates a new PGRepository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const selectColumns = `server_id, channel_id, principal_id, muted, deafened, camera_on, stage_speaker, stage_requesting, last_heartbeat, fingerprint`

func scanMembership(r interface{ Scan(dest ...any) error }) (*Membership, error) {
	var m Membership
	if err := r.Scan(&m.ServerID, &m.ChannelID, &m.Principal, &m.Muted, &m.Deafened, &m.CameraOn,
		&m.StageSpeaker, &m.StageRequesting, &m.LastHeartbeat, &m.Fingerprint); err != nil {
		return nil, err
	}
	return &m, nil
}

// Join atomically replaces any prior membership for principalID with a new
// row in (serverID, channelID), inside one transaction so the
// one-membership-per-principal invariant is never briefly violated.
func (r *PGRepository) Join(ctx context.Context, serverID, channelID, principalID uuid.UUID) (*Membership, *Membership, error) {
	var current, previous *Membership
	err := postgres.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+selectColumns+` FROM voice_memberships WHERE principal_id = $1`, principalID)
		prev, err := scanMembership(row)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("lookup prior membership: %w", err)
		}
		if err == nil {
			previous = prev
		}

		if _, err := tx.Exec(ctx, `DELETE FROM voice_memberships WHERE principal_id = $1`, principalID); err != nil {
			return fmt.Errorf("clear prior membership: %w", err)
		}

		row = tx.QueryRow(ctx, `
			INSERT INTO voice_memberships (server_id, channel_id, principal_id, muted, deafened, camera_on, stage_speaker, stage_requesting, last_heartbeat, fingerprint)
			VALUES ($1, $2, $3, false, false, false, false, false, now(), '')
			RETURNING `+selectColumns, serverID, channelID, principalID)
		cur, err := scanMembership(row)
		if err != nil {
			return fmt.Errorf("insert membership: %w", err)
		}
		current = cur
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return current, previous, nil
}

// Leave removes principalID's membership row, if any.
func (r *PGRepository) Leave(ctx context.Context, principalID uuid.UUID) (*Membership, error) {
	row := r.pool.QueryRow(ctx, `DELETE FROM voice_memberships WHERE principal_id = $1 RETURNING `+selectColumns, principalID)
	m, err := scanMembership(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("leave: %w", err)
	}
	return m, nil
}

// GetByPrincipal fetches principalID's membership row, if any.
func (r *PGRepository) GetByPrincipal(ctx context.Context, principalID uuid.UUID) (*Membership, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM voice_memberships WHERE principal_id = $1`, principalID)
	m, err := scanMembership(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get membership: %w", err)
	}
	return m, nil
}

// ListByChannel returns every membership row currently in channelID.
func (r *PGRepository) ListByChannel(ctx context.Context, channelID uuid.UUID) ([]Membership, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+selectColumns+` FROM voice_memberships WHERE channel_id = $1`, channelID)
	if err != nil {
		return nil, fmt.Errorf("list by channel: %w", err)
	}
	defer rows.Close()

	var result []Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		result = append(result, *m)
	}
	return result, rows.Err()
}

// Touch refreshes last_heartbeat for principalID's membership row.
func (r *PGRepository) Touch(ctx context.Context, principalID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `UPDATE voice_memberships SET last_heartbeat = now() WHERE principal_id = $1`, principalID)
	if err != nil {
		return fmt.Errorf("touch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetFingerprint updates the fingerprint field for principalID's membership.
func (r *PGRepository) SetFingerprint(ctx context.Context, principalID uuid.UUID, fingerprint string) (*Membership, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE voice_memberships SET fingerprint = $2, last_heartbeat = now() WHERE principal_id = $1
		RETURNING `+selectColumns, principalID, fingerprint)
	m, err := scanMembership(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("set fingerprint: %w", err)
	}
	return m, nil
}

// SetState applies a partial update of muted/deafened/camera_on/fingerprint.
func (r *PGRepository) SetState(ctx context.Context, principalID uuid.UUID, params StateParams) (*Membership, error) {
	setClauses := []string{}
	args := pgx.NamedArgs{"principal_id": principalID}

	if params.Muted != nil {
		setClauses = append(setClauses, "muted = @muted")
		args["muted"] = *params.Muted
	}
	if params.Deafened != nil {
		setClauses = append(setClauses, "deafened = @deafened")
		args["deafened"] = *params.Deafened
	}
	if params.CameraOn != nil {
		setClauses = append(setClauses, "camera_on = @camera_on")
		args["camera_on"] = *params.CameraOn
	}
	if params.Fingerprint != nil {
		setClauses = append(setClauses, "fingerprint = @fingerprint")
		args["fingerprint"] = *params.Fingerprint
	}

	if len(setClauses) == 0 {
		return r.GetByPrincipal(ctx, principalID)
	}

	query := "UPDATE voice_memberships SET "
	for i, clause := range setClauses {
		if i > 0 {
			query += ", "
		}
		query += clause
	}
	query += " WHERE principal_id = @principal_id RETURNING " + selectColumns

	row := r.pool.QueryRow(ctx, query, args)
	m, err := scanMembership(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("set state: %w", err)
	}
	return m, nil
}

// SetStageState updates stage_requesting/stage_speaker for principalID.
func (r *PGRepository) SetStageState(ctx context.Context, principalID uuid.UUID, requesting, speaker bool) (*Membership, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE voice_memberships SET stage_requesting = $2, stage_speaker = $3 WHERE principal_id = $1
		RETURNING `+selectColumns, principalID, requesting, speaker)
	m, err := scanMembership(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("set stage state: %w", err)
	}
	return m, nil
}

// ReapStale deletes every membership in serverID whose heartbeat predates
// now-timeout, returning the deleted rows.
func (r *PGRepository) ReapStale(ctx context.Context, serverID uuid.UUID, timeout time.Duration) ([]Membership, error) {
	cutoff := time.Now().Add(-timeout)
	rows, err := r.pool.Query(ctx, `
		DELETE FROM voice_memberships WHERE server_id = $1 AND last_heartbeat < $2
		RETURNING `+selectColumns, serverID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("reap stale: %w", err)
	}
	defer rows.Close()

	var result []Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reaped membership: %w", err)
		}
		result = append(result, *m)
	}
	return result, rows.Err()
}
