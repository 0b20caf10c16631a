package repositories

import (
	"context"
	"fmt"

	"github.com/ems-dashboard/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UserRepo reads the employee directory maintained by the identity service.
type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Subject, error) {
	var u models.Subject
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, email, role, team, created_at
		FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.Team, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

type SubjectFilter struct {
	Team  *string
	Role  *string
	Limit int
}

func (r *UserRepo) List(ctx context.Context, f SubjectFilter) ([]models.Subject, error) {
	query := `SELECT id, name, email, role, team, created_at FROM users WHERE 1=1`
	args := []any{}
	argIdx := 1

	if f.Team != nil {
		query += fmt.Sprintf(" AND lower(team) = lower($%d)", argIdx)
		args = append(args, *f.Team)
		argIdx++
	}
	if f.Role != nil {
		query += fmt.Sprintf(" AND lower(role) = lower($%d)", argIdx)
		args = append(args, *f.Role)
		argIdx++
	}

	query += " ORDER BY name"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, f.Limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subjects []models.Subject
	for rows.Next() {
		var u models.Subject
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.Team, &u.CreatedAt); err != nil {
			return nil, err
		}
		subjects = append(subjects, u)
	}
	return subjects, rows.Err()
}
