package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/ems-dashboard/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

// InsertMany writes entries in one batch. Entries carry their own id so a
// re-delivered entry is ignored rather than duplicated.
func (r *AuditRepo) InsertMany(ctx context.Context, entries []models.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}

	b := &pgx.Batch{}
	for _, e := range entries {
		b.Queue(`
			INSERT INTO location_audit_log (id, operator_id, subject_id, action, created_at, origin)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING
		`, e.ID, e.OperatorID, e.SubjectID, e.Action, e.Timestamp, e.Origin)
	}
	return r.pool.SendBatch(ctx, b).Close()
}

type AuditFilter struct {
	OperatorID *uuid.UUID
	SubjectID  *uuid.UUID
	Action     *string
	Since      *time.Time
	Until      *time.Time
	Limit      int
	Offset     int
}

func (r *AuditRepo) Query(ctx context.Context, f AuditFilter) ([]models.AuditEntry, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}

	query := `
		SELECT id, operator_id, subject_id, action, created_at, origin
		FROM location_audit_log WHERE 1=1
	`
	args := []any{}
	argIdx := 1

	if f.OperatorID != nil {
		query += fmt.Sprintf(" AND operator_id = $%d", argIdx)
		args = append(args, *f.OperatorID)
		argIdx++
	}
	if f.SubjectID != nil {
		query += fmt.Sprintf(" AND subject_id = $%d", argIdx)
		args = append(args, *f.SubjectID)
		argIdx++
	}
	if f.Action != nil {
		query += fmt.Sprintf(" AND action = $%d", argIdx)
		args = append(args, *f.Action)
		argIdx++
	}
	if f.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *f.Since)
		argIdx++
	}
	if f.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *f.Until)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.OperatorID, &e.SubjectID, &e.Action, &e.Timestamp, &e.Origin); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
