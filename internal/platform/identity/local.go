package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/careline/portal/internal/platform/db"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

// LocalProvider stores identities in the auth_users table. It only stores
// credentials; token issuance stays with the external auth service.
type LocalProvider struct {
	pool *pgxpool.Pool
	cost int
}

func NewLocalProvider(pool *pgxpool.Pool) *LocalProvider {
	return &LocalProvider{pool: pool, cost: bcrypt.DefaultCost}
}

func hashPassword(password string, cost int) (string, error) {
	if len(password) > 72 {
		return "", fmt.Errorf("password longer than 72 bytes")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

func (p *LocalProvider) CreateUser(ctx context.Context, u NewUser) (*User, error) {
	hash, err := hashPassword(u.Password, p.cost)
	if err != nil {
		return nil, err
	}

	meta, err := json.Marshal(u.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal user metadata: %w", err)
	}

	user := &User{Phone: strings.TrimSpace(u.Phone), UserMetadata: u.Metadata}
	err = db.Conn(ctx, p.pool).QueryRow(ctx, `
		INSERT INTO auth_users (phone, password_hash, phone_confirmed_at, user_metadata)
		VALUES ($1, $2, NOW(), $3)
		RETURNING id, phone_confirmed_at, created_at`,
		user.Phone, hash, meta,
	).Scan(&user.ID, &user.PhoneConfirmedAt, &user.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("insert auth user: %w", err)
	}
	return user, nil
}
