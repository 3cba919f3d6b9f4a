package override

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegis-chat/aegis-ids/internal/permbits"
)

// PGStore implements Store against PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a new PGStore.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// RoleOverridesForChannel returns every channel_role_overrides row for
// channelID whose role is in roleIDs.
func (s *PGStore) RoleOverridesForChannel(ctx context.Context, channelID uuid.UUID, roleIDs []uuid.UUID) ([]RoleOverride, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT channel_id, role_id, allow, deny FROM channel_role_overrides
		WHERE channel_id = $1 AND role_id = ANY($2)`, channelID, roleIDs)
	if err != nil {
		return nil, fmt.Errorf("role overrides: %w", err)
	}
	defer rows.Close()

	var result []RoleOverride
	for rows.Next() {
		var o RoleOverride
		var allow, deny string
		if err := rows.Scan(&o.ChannelID, &o.RoleID, &allow, &deny); err != nil {
			return nil, fmt.Errorf("scan role override: %w", err)
		}
		if o.Allow, err = permbits.Parse(allow); err != nil {
			return nil, fmt.Errorf("parse stored allow: %w", err)
		}
		if o.Deny, err = permbits.Parse(deny); err != nil {
			return nil, fmt.Errorf("parse stored deny: %w", err)
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

// UserOverride fetches the (channel, principal) override row, if present.
func (s *PGStore) UserOverride(ctx context.Context, channelID, principalID uuid.UUID) (*UserOverride, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT channel_id, principal_id, allow, deny FROM channel_user_overrides
		WHERE channel_id = $1 AND principal_id = $2`, channelID, principalID)
	return scanUserOverride(row)
}

// ListUserOverrides returns every user override row for channelID.
func (s *PGStore) ListUserOverrides(ctx context.Context, channelID uuid.UUID) ([]UserOverride, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT channel_id, principal_id, allow, deny FROM channel_user_overrides WHERE channel_id = $1`, channelID)
	if err != nil {
		return nil, fmt.Errorf("list user overrides: %w", err)
	}
	defer rows.Close()

	var result []UserOverride
	for rows.Next() {
		o, err := scanUserOverride(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user override: %w", err)
		}
		result = append(result, *o)
	}
	return result, rows.Err()
}

// SetUserOverride upserts the (channel, principal) override row.
func (s *PGStore) SetUserOverride(ctx context.Context, channelID, principalID uuid.UUID, allow, deny permbits.Bitfield) (*UserOverride, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO channel_user_overrides (channel_id, principal_id, allow, deny)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (channel_id, principal_id) DO UPDATE SET allow = EXCLUDED.allow, deny = EXCLUDED.deny
		RETURNING channel_id, principal_id, allow, deny`,
		channelID, principalID, allow.String(), deny.String())
	return scanUserOverride(row)
}

// DeleteUserOverride removes the (channel, principal) override row.
func (s *PGStore) DeleteUserOverride(ctx context.Context, channelID, principalID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM channel_user_overrides WHERE channel_id = $1 AND principal_id = $2`, channelID, principalID)
	if err != nil {
		return fmt.Errorf("delete user override: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanUserOverride(r interface{ Scan(dest ...any) error }) (*UserOverride, error) {
	var o UserOverride
	var allow, deny string
	if err := r.Scan(&o.ChannelID, &o.Principal, &allow, &deny); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var err error
	if o.Allow, err = permbits.Parse(allow); err != nil {
		return nil, fmt.Errorf("parse stored allow: %w", err)
	}
	if o.Deny, err = permbits.Parse(deny); err != nil {
		return nil, fmt.Errorf("parse stored deny: %w", err)
	}
	return &o, nil
}
