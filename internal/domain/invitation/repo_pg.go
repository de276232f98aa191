package invitation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careline/portal/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const invitationCols = `id, patient_id, token, expires_at, used_at, created_at`

func (r *repoPG) Create(ctx context.Context, inv *Invitation) error {
	inv.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient_invitations (id, patient_id, token, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		inv.ID, inv.PatientID, inv.Token, inv.ExpiresAt,
	).Scan(&inv.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert invitation: %w", err)
	}
	return nil
}

func (r *repoPG) GetValidByToken(ctx context.Context, token string, now time.Time) (*Invitation, error) {
	var inv Invitation
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT `+invitationCols+` FROM patient_invitations
		WHERE token = $1 AND used_at IS NULL AND expires_at > $2`,
		token, now,
	).Scan(&inv.ID, &inv.PatientID, &inv.Token, &inv.ExpiresAt, &inv.UsedAt, &inv.CreatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup invitation: %w", err)
	}
	return &inv, nil
}

func (r *repoPG) MarkUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE patient_invitations SET used_at = $2 WHERE id = $1 AND used_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("mark invitation used: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
