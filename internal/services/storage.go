package services

import (
	"context"
	"time"

	"github.com/ems-dashboard/backend/internal/models"
	"github.com/ems-dashboard/backend/internal/repositories"
	"github.com/google/uuid"
)

// Storage contracts implemented by internal/repositories.

type ConsentStorage interface {
	Get(ctx context.Context, subjectID uuid.UUID) (*models.ConsentRecord, error)
	Upsert(ctx context.Context, subjectID uuid.UUID, hasConsent bool, level string, now time.Time) (*models.ConsentRecord, error)
	List(ctx context.Context, f repositories.ConsentFilter) ([]models.ConsentRecord, error)
}

type LocationStorage interface {
	Insert(ctx context.Context, s models.LocationSample) (models.LocationSample, bool, error)
	Latest(ctx context.Context, subjectID uuid.UUID) (*models.LocationSample, error)
	Timeline(ctx context.Context, subjectID uuid.UUID, from, to time.Time, fn func(models.LocationSample) error) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

type AuditStorage interface {
	InsertMany(ctx context.Context, entries []models.AuditEntry) error
	Query(ctx context.Context, f repositories.AuditFilter) ([]models.AuditEntry, error)
}

// AuditSpill holds audit entries that could not be written. Peek and Ack let the
// redrive acknowledge only what it has stored.
type AuditSpill interface {
	Push(ctx context.Context, entries []models.AuditEntry) error
	Peek(ctx context.Context, n int) ([]models.AuditEntry, error)
	Ack(ctx context.Context, n int) error
}

type SubjectDirectory interface {
	List(ctx context.Context, f repositories.SubjectFilter) ([]models.Subject, error)
}

// RealtimeNotifier is fire-and-forget; implementations log their own failures.
type RealtimeNotifier interface {
	Publish(ctx context.Context, view models.CurrentLocationView)
}
