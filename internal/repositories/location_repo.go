package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/ems-dashboard/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type LocationRepo struct {
	pool *pgxpool.Pool
}

func NewLocationRepo(pool *pgxpool.Pool) *LocationRepo {
	return &LocationRepo{pool: pool}
}

const sampleColumns = `subject_id, recorded_at, latitude, longitude, accuracy, source, city, region, country`

// Insert stores the sample unless one already exists for (subject, timestamp), in
// which case the stored row is returned and inserted is false.
func (r *LocationRepo) Insert(ctx context.Context, s models.LocationSample) (stored models.LocationSample, inserted bool, err error) {
	var lat, lng *float64
	if s.Coordinates != nil {
		lat, lng = &s.Coordinates.Latitude, &s.Coordinates.Longitude
	}
	var city, region, country *string
	if s.Address != nil {
		city, region, country = nullString(s.Address.City), nullString(s.Address.Region), nullString(s.Address.Country)
	}

	tag, err := r.pool.Exec(ctx, `
		INSERT INTO location_samples (`+sampleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (subject_id, recorded_at) DO NOTHING
	`, s.SubjectID, s.Timestamp, lat, lng, s.Accuracy, s.Source, city, region, country)
	if err != nil {
		return models.LocationSample{}, false, err
	}
	if tag.RowsAffected() == 1 {
		return s, true, nil
	}

	existing, err := scanSample(r.pool.QueryRow(ctx, `
		SELECT `+sampleColumns+` FROM location_samples
		WHERE subject_id = $1 AND recorded_at = $2
	`, s.SubjectID, s.Timestamp))
	if err != nil {
		return models.LocationSample{}, false, err
	}
	return existing, false, nil
}

// Latest returns nil without error when the subject has no stored samples.
func (r *LocationRepo) Latest(ctx context.Context, subjectID uuid.UUID) (*models.LocationSample, error) {
	s, err := scanSample(r.pool.QueryRow(ctx, `
		SELECT `+sampleColumns+` FROM location_samples
		WHERE subject_id = $1 ORDER BY recorded_at DESC LIMIT 1
	`, subjectID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Timeline streams samples with from <= recorded_at < to in ascending order. The
// scan stops as soon as ctx is done or fn returns an error.
func (r *LocationRepo) Timeline(ctx context.Context, subjectID uuid.UUID, from, to time.Time, fn func(models.LocationSample) error) error {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sampleColumns+` FROM location_samples
		WHERE subject_id = $1 AND recorded_at >= $2 AND recorded_at < $3
		ORDER BY recorded_at ASC
	`, subjectID, from, to)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		s, err := scanSample(rows)
		if err != nil {
			return err
		}
		if err := fn(s); err != nil {
			return err
		}
	}
	return rows.Err()
}

// DeleteOlderThan removes at most limit samples recorded before cutoff and
// reports how many were removed. Each call is its own short statement.
func (r *LocationRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM location_samples
		WHERE ctid = ANY(ARRAY(
			SELECT ctid FROM location_samples WHERE recorded_at < $1 LIMIT $2
		))
	`, cutoff, limit)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanSample(row pgx.Row) (models.LocationSample, error) {
	var (
		s                     models.LocationSample
		lat, lng              *float64
		city, region, country *string
	)
	if err := row.Scan(&s.SubjectID, &s.Timestamp, &lat, &lng, &s.Accuracy, &s.Source, &city, &region, &country); err != nil {
		return models.LocationSample{}, err
	}
	s.Timestamp = s.Timestamp.UTC()
	if lat != nil && lng != nil {
		s.Coordinates = &models.Coordinates{Latitude: *lat, Longitude: *lng}
	}
	if city != nil || region != nil || country != nil {
		s.Address = &models.Address{City: deref(city), Region: deref(region), Country: deref(country)}
	}
	return s, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
