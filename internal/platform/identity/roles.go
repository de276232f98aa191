package identity

import (
	"context"
	"fmt"

	"github.com/careline/portal/internal/platform/db"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RoleStore reads and writes the user_roles table.
type RoleStore struct {
	pool *pgxpool.Pool
}

func NewRoleStore(pool *pgxpool.Pool) *RoleStore {
	return &RoleStore{pool: pool}
}

// AssignRole is idempotent: assigning a held role is a no-op.
func (s *RoleStore) AssignRole(ctx context.Context, userID, role string) error {
	_, err := db.Conn(ctx, s.pool).Exec(ctx, `
		INSERT INTO user_roles (user_id, role) VALUES ($1, $2)
		ON CONFLICT (user_id, role) DO NOTHING`,
		userID, role,
	)
	if err != nil {
		return fmt.Errorf("assign role %s: %w", role, err)
	}
	return nil
}

// RolesForUser lists the roles held by userID. An ID that is not a UUID
// holds none.
func (s *RoleStore) RolesForUser(ctx context.Context, userID string) ([]string, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return nil, nil
	}
	return s.collect(ctx, `SELECT role FROM user_roles WHERE user_id = $1 ORDER BY role`, uid)
}

// UsersWithRole returns the ids of every identity holding role.
func (s *RoleStore) UsersWithRole(ctx context.Context, role string) ([]string, error) {
	return s.collect(ctx, `SELECT user_id::text FROM user_roles WHERE role = $1 ORDER BY created_at, user_id`, role)
}

func (s *RoleStore) collect(ctx context.Context, query string, arg any) ([]string, error) {
	rows, err := db.Conn(ctx, s.pool).Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query user roles: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan user role: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
