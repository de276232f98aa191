package task

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
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

const taskCols = `id, patient_id, title, description, priority, status, due_date::text, assigned_to,
	created_at, updated_at`

func scanTask(row pgx.Row) (*Task, error) {
	var t Task
	err := row.Scan(&t.ID, &t.PatientID, &t.Title, &t.Description, &t.Priority, &t.Status,
		&t.DueDate, &t.AssignedTo, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (r *repoPG) Create(ctx context.Context, t *Task) error {
	t.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO follow_up_tasks (id, patient_id, title, description, priority, status, due_date, assigned_to)
		VALUES ($1, $2, $3, $4, $5, $6, $7::date, $8)
		RETURNING created_at, updated_at`,
		t.ID, t.PatientID, t.Title, t.Description, t.Priority, t.Status, t.DueDate, t.AssignedTo,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return ErrUnknownPatient
		}
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Task, error) {
	return scanTask(r.conn(ctx).QueryRow(ctx, `SELECT `+taskCols+` FROM follow_up_tasks WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, t *Task) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE follow_up_tasks SET patient_id = $2, title = $3, description = $4, priority = $5,
			status = $6, due_date = $7::date, assigned_to = $8, updated_at = NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		t.ID, t.PatientID, t.Title, t.Description, t.Priority, t.Status, t.DueDate, t.AssignedTo,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return ErrNotFound
		}
		if db.IsForeignKeyViolation(err) {
			return ErrUnknownPatient
		}
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM follow_up_tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Task, int, error) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.Priority != "" {
		add("priority = $%d", f.Priority)
	}
	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM follow_up_tasks`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}

	// high < low < medium alphabetically, so rank priority explicitly.
	query := fmt.Sprintf(`SELECT `+taskCols+` FROM follow_up_tasks`+where+`
		ORDER BY CASE priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END,
			due_date NULLS LAST, created_at DESC
		LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var items []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}
