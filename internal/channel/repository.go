package channel

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
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

func scanChannel(r interface{ Scan(dest ...any) error }) (*Channel, error) {
	var c Channel
	if err := r.Scan(&c.ID, &c.ServerID, &c.Name, &c.Type, &c.Position, &c.IsSecure, &c.Lockdown, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

const selectColumns = `id, server_id, name, type, position, is_secure, lockdown, created_at, updated_at`

// List returns every channel in serverID ordered by position.
func (r *PGRepository) List(ctx context.Context, serverID uuid.UUID) ([]Channel, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+selectColumns+` FROM channels WHERE server_id = $1 ORDER BY position`, serverID)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	var result []Channel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		result = append(result, *c)
	}
	return result, rows.Err()
}

// GetByID fetches a channel by id.
func (r *PGRepository) GetByID(ctx context.Context, id uuid.UUID) (*Channel, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM channels WHERE id = $1`, id)
	c, err := scanChannel(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get channel: %w", err)
	}
	return c, nil
}

// Create inserts a new channel at the next available position.
func (r *PGRepository) Create(ctx context.Context, serverID uuid.UUID, params CreateParams) (*Channel, error) {
	id := uuid.New()
	row := r.pool.QueryRow(ctx, `
		INSERT INTO channels (id, server_id, name, type, position, is_secure, lockdown)
		VALUES ($1, $2, $3, $4, COALESCE((SELECT MAX(position) + 1 FROM channels WHERE server_id = $2), 0), false, false)
		RETURNING `+selectColumns,
		id, serverID, params.Name, params.Type)

	c, err := scanChannel(row)
	if err != nil {
		return nil, fmt.Errorf("create channel: %w", err)
	}
	return c, nil
}

// Update applies a partial update built from hardcoded, literal column
// assignments bound via named arguments; no caller input ever becomes part
// of the SQL structure itself.
func (r *PGRepository) Update(ctx context.Context, id uuid.UUID, params UpdateParams) (*Channel, error) {
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

	if len(setClauses) == 0 {
		return r.GetByID(ctx, id)
	}

	query := "UPDATE channels SET "
	for i, clause := range setClauses {
		if i > 0 {
			query += ", "
		}
		query += clause
	}
	query += ", updated_at = now() WHERE id = @id RETURNING " + selectColumns

	row := r.pool.QueryRow(ctx, query, args)
	c, err := scanChannel(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update channel: %w", err)
	}
	return c, nil
}

// Delete removes a channel, refusing to delete a server's last remaining
// channel so every server always has somewhere to post.
func (r *PGRepository) Delete(ctx context.Context, id uuid.UUID) error {
	var serverID uuid.UUID
	if err := r.pool.QueryRow(ctx, `SELECT server_id FROM channels WHERE id = $1`, id).Scan(&serverID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("lookup channel server: %w", err)
	}

	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM channels WHERE server_id = $1`, serverID).Scan(&count); err != nil {
		return fmt.Errorf("count channels: %w", err)
	}
	if count <= 1 {
		return ErrLastChannel
	}

	tag, err := r.pool.Exec(ctx, `DELETE FROM channels WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetSecure toggles is_secure. Turning it off also clears lockdown, so
// toggling on-off-on always restores lockdown=false rather than leaving a
// stale lockdown flag behind.
func (r *PGRepository) SetSecure(ctx context.Context, id uuid.UUID, secure bool) (*Channel, error) {
	query := `UPDATE channels SET is_secure = $2, updated_at = now() WHERE id = $1 RETURNING ` + selectColumns
	if !secure {
		query = `UPDATE channels SET is_secure = $2, lockdown = false, updated_at = now() WHERE id = $1 RETURNING ` + selectColumns
	}
	row := r.pool.QueryRow(ctx, query, id, secure)
	c, err := scanChannel(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("set secure: %w", err)
	}
	return c, nil
}

// SetLockdown toggles lockdown. The caller must have already verified the
// channel is secure; the database check constraint is the final guard.
func (r *PGRepository) SetLockdown(ctx context.Context, id uuid.UUID, lockdown bool) (*Channel, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE channels SET lockdown = $2, updated_at = now() WHERE id = $1 AND (is_secure OR NOT $2)
		RETURNING `+selectColumns, id, lockdown)
	c, err := scanChannel(row)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.GetByID(ctx, id); getErr == nil {
			return nil, ErrLockdownNotSecure
		}
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("set lockdown: %w", err)
	}
	return c, nil
}
