package server

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

// Create inserts a new server and its implicit @everyone role inside a
// single transaction, keeping the "@everyone always exists" invariant true
// from the moment a server is created.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (*Server, error) {
	id := uuid.New()
	var created *Server

	err := postgres.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			INSERT INTO servers (id, owner_id, name, description)
			VALUES ($1, $2, $3, '')
			RETURNING id, owner_id, name, description, icon_key, created_at, updated_at`,
			id, params.OwnerID, params.Name)

		s, err := scanServer(row)
		if err != nil {
			return fmt.Errorf("insert server: %w", err)
		}
		created = s

		_, err = tx.Exec(ctx, `
			INSERT INTO roles (id, server_id, name, position, permissions, is_admin, security_level, colour, hoist)
			VALUES ($1, $2, '@everyone', 0, $3, false, 0, '', false)`,
			uuid.New(), id, permbits.Default.String())
		if err != nil {
			return fmt.Errorf("insert everyone role: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO channels (id, server_id, name, type, position, is_secure, lockdown)
			VALUES ($1, $2, 'general', 'text', 0, false, false)`,
			uuid.New(), id)
		if err != nil {
			return fmt.Errorf("insert default channel: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// GetByID fetches a server by id.
func (r *PGRepository) GetByID(ctx context.Context, id uuid.UUID) (*Server, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, owner_id, name, description, icon_key, created_at, updated_at
		FROM servers WHERE id = $1`, id)
	s, err := scanServer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get server: %w", err)
	}
	return s, nil
}

// IsOwner reports whether principalID owns serverID.
func (r *PGRepository) IsOwner(ctx context.Context, serverID, principalID uuid.UUID) (bool, error) {
	var ownerID uuid.UUID
	err := r.pool.QueryRow(ctx, `SELECT owner_id FROM servers WHERE id = $1`, serverID).Scan(&ownerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("is owner: %w", err)
	}
	return ownerID == principalID, nil
}

// Update applies a partial update, rebuilding the SET clause from
// hardcoded, literal column assignments bound via named arguments, never
// from caller-supplied column names.
func (r *PGRepository) Update(ctx context.Context, id uuid.UUID, params UpdateParams) (*Server, error) {
	setClauses := []string{}
	args := pgx.NamedArgs{"id": id}

	if params.Name != nil {
		setClauses = append(setClauses, "name = @name")
		args["name"] = *params.Name
	}
	if params.Description != nil {
		setClauses = append(setClauses, "description = @description")
		args["description"] = *params.Description
	}
	if params.IconKey != nil {
		setClauses = append(setClauses, "icon_key = @icon_key")
		args["icon_key"] = *params.IconKey
	}

	if len(setClauses) == 0 {
		return r.GetByID(ctx, id)
	}

	query := "UPDATE servers SET "
	for i, clause := range setClauses {
		if i > 0 {
			query += ", "
		}
		query += clause
	}
	query += ", updated_at = now() WHERE id = @id RETURNING id, owner_id, name, description, icon_key, created_at, updated_at"

	row := r.pool.QueryRow(ctx, query, args)
	s, err := scanServer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update server: %w", err)
	}
	return s, nil
}

// Delete removes a server. Contained channels, roles, members, overrides,
// and audit entries cascade via foreign key constraints.
func (r *PGRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM servers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete server: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type row interface {
	Scan(dest ...any) error
}

func scanServer(r row) (*Server, error) {
	var s Server
	if err := r.Scan(&s.ID, &s.OwnerID, &s.Name, &s.Description, &s.IconKey, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}
