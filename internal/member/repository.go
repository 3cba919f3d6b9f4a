package member

import (
	"context"
	"errors"
	"fmt"

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

// Join inserts a new membership row.
func (r *PGRepository) Join(ctx context.Context, serverID, principalID uuid.UUID) (*Member, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO members (server_id, principal_id, joined_at)
		VALUES ($1, $2, now())
		RETURNING server_id, principal_id, nickname, joined_at`, serverID, principalID)

	var m Member
	if err := row.Scan(&m.ServerID, &m.Principal, &m.Nickname, &m.JoinedAt); err != nil {
		if postgres.IsUniqueViolation(err) {
			return nil, ErrAlreadyMember
		}
		return nil, fmt.Errorf("join: %w", err)
	}
	return &m, nil
}

// GetByID fetches a membership row.
func (r *PGRepository) GetByID(ctx context.Context, serverID, principalID uuid.UUID) (*Member, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT server_id, principal_id, nickname, joined_at FROM members
		WHERE server_id = $1 AND principal_id = $2`, serverID, principalID)

	var m Member
	if err := row.Scan(&m.ServerID, &m.Principal, &m.Nickname, &m.JoinedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get member: %w", err)
	}
	return &m, nil
}

// Leave removes a membership row; member_roles cascade via foreign key.
func (r *PGRepository) Leave(ctx context.Context, serverID, principalID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM members WHERE server_id = $1 AND principal_id = $2`, serverID, principalID)
	if err != nil {
		return fmt.Errorf("leave: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RolesForMember returns every non-@everyone role id assigned to principalID
// in serverID. Callers fold in the implicit @everyone role separately.
func (r *PGRepository) RolesForMember(ctx context.Context, serverID, principalID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT role_id FROM member_roles WHERE server_id = $1 AND principal_id = $2`, serverID, principalID)
	if err != nil {
		return nil, fmt.Errorf("roles for member: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan role id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AssignRole links a role to a member. Returns ErrRoleAlreadySet on a
// duplicate assignment rather than silently succeeding.
func (r *PGRepository) AssignRole(ctx context.Context, serverID, principalID, roleID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO member_roles (server_id, principal_id, role_id)
		VALUES ($1, $2, $3)`, serverID, principalID, roleID)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return ErrRoleAlreadySet
		}
		if postgres.IsForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("assign role: %w", err)
	}
	return nil
}

// RemoveRole unlinks a role from a member. Removing a role that is not
// assigned is a no-op.
func (r *PGRepository) RemoveRole(ctx context.Context, serverID, principalID, roleID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM member_roles WHERE server_id = $1 AND principal_id = $2 AND role_id = $3`,
		serverID, principalID, roleID)
	if err != nil {
		return fmt.Errorf("remove role: %w", err)
	}
	return nil
}
