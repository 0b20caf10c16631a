package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ems-dashboard/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ConsentRepo struct {
	pool *pgxpool.Pool
}

func NewConsentRepo(pool *pgxpool.Pool) *ConsentRepo {
	return &ConsentRepo{pool: pool}
}

// Get returns nil without error when the subject never made a decision.
func (r *ConsentRepo) Get(ctx context.Context, subjectID uuid.UUID) (*models.ConsentRecord, error) {
	var c models.ConsentRecord
	err := r.pool.QueryRow(ctx, `
		SELECT subject_id, has_consent, consent_level, consent_date, updated_at
		FROM location_consents WHERE subject_id = $1
	`, subjectID).Scan(&c.SubjectID, &c.HasConsent, &c.ConsentLevel, &c.ConsentDate, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Upsert writes the decision in a single statement. consent_date only moves on a
// false->true transition; the row is replaced atomically for concurrent readers.
func (r *ConsentRepo) Upsert(ctx context.Context, subjectID uuid.UUID, hasConsent bool, level string, now time.Time) (*models.ConsentRecord, error) {
	var c models.ConsentRecord
	err := r.pool.QueryRow(ctx, `
		INSERT INTO location_consents (subject_id, has_consent, consent_level, consent_date, updated_at)
		VALUES ($1, $2, $3, CASE WHEN $2::boolean THEN $4::timestamptz END, $4)
		ON CONFLICT (subject_id) DO UPDATE SET
			has_consent = EXCLUDED.has_consent,
			consent_level = EXCLUDED.consent_level,
			consent_date = CASE
				WHEN NOT location_consents.has_consent AND EXCLUDED.has_consent THEN EXCLUDED.updated_at
				ELSE location_consents.consent_date
			END,
			updated_at = EXCLUDED.updated_at
		RETURNING subject_id, has_consent, consent_level, consent_date, updated_at
	`, subjectID, hasConsent, level, now).Scan(&c.SubjectID, &c.HasConsent, &c.ConsentLevel, &c.ConsentDate, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

type ConsentFilter struct {
	HasConsent *bool
	Level      *string
	SubjectIDs []uuid.UUID
	Limit      int
	Offset     int
}

func (r *ConsentRepo) List(ctx context.Context, f ConsentFilter) ([]models.ConsentRecord, error) {
	query := `
		SELECT subject_id, has_consent, consent_level, consent_date, updated_at
		FROM location_consents WHERE 1=1
	`
	args := []any{}
	argIdx := 1

	if f.HasConsent != nil {
		query += fmt.Sprintf(" AND has_consent = $%d", argIdx)
		args = append(args, *f.HasConsent)
		argIdx++
	}
	if f.Level != nil {
		query += fmt.Sprintf(" AND consent_level = $%d", argIdx)
		args = append(args, *f.Level)
		argIdx++
	}
	if len(f.SubjectIDs) > 0 {
		query += fmt.Sprintf(" AND subject_id = ANY($%d::uuid[])", argIdx)
		args = append(args, uuidStrings(f.SubjectIDs))
		argIdx++
	}

	query += " ORDER BY updated_at DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.ConsentRecord
	for rows.Next() {
		var c models.ConsentRecord
		if err := rows.Scan(&c.SubjectID, &c.HasConsent, &c.ConsentLevel, &c.ConsentDate, &c.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, c)
	}
	return records, rows.Err()
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
