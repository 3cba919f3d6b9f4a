package role

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegis-chat/aegis-ids/internal/permbits"
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

const selectColumns = `id, server_id, name, position, permissions, is_admin, security_level, colour, hoist, created_at, updated_at`

func scanRole(r interface{ Scan(dest ...any) error }) (*Role, error) {
	var role Role
	var permStr string
	if err := r.Scan(&role.ID, &role.ServerID, &role.Name, &role.Position, &permStr,
		&role.IsAdmin, &role.SecurityLevel, &role.Colour, &role.Hoist, &role.CreatedAt, &role.UpdatedAt); err != nil {
		return nil, err
	}
	bf, err := permbits.Parse(permStr)
	if err != nil {
		return nil, fmt.Errorf("parse stored permissions: %w", err)
	}
	role.Permissions = bf
	return &role, nil
}

// List returns every role in serverID ordered by position.
func (r *PGRepository) List(ctx context.Context, serverID uuid.UUID) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+selectColumns+` FROM roles WHERE server_id = $1 ORDER BY position`, serverID)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()

	var result []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		result = append(result, *role)
	}
	return result, rows.Err()
}

// GetByID fetches a role by id.
func (r *PGRepository) GetByID(ctx context.Context, id uuid.UUID) (*Role, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM roles WHERE id = $1`, id)
	role, err := scanRole(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get role: %w", err)
	}
	return role, nil
}

// Create inserts a new role at the next available position, after
// confirming the server has not reached its configured role cap.
func (r *PGRepository) Create(ctx context.Context, serverID uuid.UUID, params CreateParams, maxRoles int) (*Role, error) {
	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM roles WHERE server_id = $1`, serverID).Scan(&count); err != nil {
		return nil, fmt.Errorf("count roles: %w", err)
	}
	if count >= maxRoles {
		return nil, ErrMaxRolesReached
	}

	id := uuid.New()
	row := r.pool.QueryRow(ctx, `
		INSERT INTO roles (id, server_id, name, position, permissions, is_admin, security_level, colour, hoist)
		VALUES ($1, $2, $3, COALESCE((SELECT MAX(position) + 1 FROM roles WHERE server_id = $2), 1), $4, $5, $6, $7, $8)
		RETURNING `+selectColumns,
		id, serverID, params.Name, params.Permissions.String(), params.IsAdmin, params.SecurityLevel, params.Colour, params.Hoist)

	role, err := scanRole(row)
	if err != nil {
		return nil, fmt.Errorf("create role: %w", err)
	}
	return role, nil
}

// Update applies a partial update built from hardcoded, literal column
// assignments bound via named arguments.
func (r *PGRepository) Update(ctx context.Context, id uuid.UUID, params UpdateParams) (*Role, error) {
	setClauses := []string{}
	args := pgx.NamedArgs{"id": id}

	if params.Name != nil {
		setClauses = append(setClauses, "name = @name")
		args["name"] = *params.Name
	}
	if params.Position != nil {
		setClauses = append(setClauses, "position = @position")
		args["position"] = *params.Position
	}
	if params.Permissions != nil {
		setClauses = append(setClauses, "permissions = @permissions")
		args["permissions"] = params.Permissions.String()
	}
	if params.IsAdmin != nil {
		setClauses = append(setClauses, "is_admin = @is_admin")
		args["is_admin"] = *params.IsAdmin
	}
	if params.SecurityLevel != nil {
		setClauses = append(setClauses, "security_level = @security_level")
		args["security_level"] = *params.SecurityLevel
	}
	if params.Colour != nil {
		setClauses = append(setClauses, "colour = @colour")
		args["colour"] = *params.Colour
	}
	if params.Hoist != nil {
		setClauses = append(setClauses, "hoist = @hoist")
		args["hoist"] = *params.Hoist
	}

	if len(setClauses) == 0 {
		return r.GetByID(ctx, id)
	}

	query := "UPDATE roles SET "
	for i, clause := range setClauses {
		if i > 0 {
			query += ", "
		}
		query += clause
	}
	query += ", updated_at = now() WHERE id = @id RETURNING " + selectColumns

	row := r.pool.QueryRow(ctx, query, args)
	role, err := scanRole(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update role: %w", err)
	}
	return role, nil
}

// Delete removes a role. member_roles and channel_role_overrides rows
// referencing it cascade via foreign key constraints.
func (r *PGRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1 AND position > 0`, id)
	if err != nil {
		return fmt.Errorf("delete role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		role, getErr := r.GetByID(ctx, id)
		if getErr == nil && role.IsEveryone() {
			return ErrEveryoneImmutable
		}
		return ErrNotFound
	}
	return nil
}

// Reorder assigns consecutive positions to orderedIDs starting at 1,
// leaving @everyone's position 0 untouched. It runs inside a transaction so
// a partial reorder never becomes visible.
func (r *PGRepository) Reorder(ctx context.Context, serverID uuid.UUID, orderedIDs []uuid.UUID) error {
	return postgres.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for i, id := range orderedIDs {
			tag, err := tx.Exec(ctx, `UPDATE roles SET position = $2, updated_at = now() WHERE id = $1 AND server_id = $3 AND position > 0`,
				id, i+1, serverID)
			if err != nil {
				return fmt.Errorf("reorder role %s: %w", id, err)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("reorder role %s: %w", id, ErrNotFound)
			}
		}
		return nil
	})
}

// HighestPosition returns the highest role position principalID carries in
// serverID, or 0 if they only hold @everyone (or no roles at all, which
// cannot happen for an active member since @everyone is implicit).
func (r *PGRepository) HighestPosition(ctx context.Context, serverID, principalID uuid.UUID) (int, error) {
	var highest int
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(r.position), 0)
		FROM roles r
		LEFT JOIN member_roles mr ON mr.role_id = r.id AND mr.principal_id = $2
		WHERE r.server_id = $1 AND (r.position = 0 OR mr.role_id IS NOT NULL)`,
		serverID, principalID).Scan(&highest)
	if err != nil {
		return 0, fmt.Errorf("highest position: %w", err)
	}
	return highest, nil
}
