package services

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ems-dashboard/backend/internal/metrics"
	"github.com/ems-dashboard/backend/internal/models"
	"github.com/ems-dashboard/backend/internal/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	maxAuditPageSize  = 500
	auditRedriveBatch = 100
)

// AuditLogger appends disclosure records. Record never fails the caller: a write
// that still fails after retries is parked on the spill queue and counted, and
// an entry that cannot be parked either is counted as lost.
type AuditLogger struct {
	store   AuditStorage
	spill   AuditSpill
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time

	maxElapsed      time.Duration
	initialInterval time.Duration
}

func NewAuditLogger(store AuditStorage, spill AuditSpill, maxElapsed time.Duration, m *metrics.Metrics, log *zap.Logger) *AuditLogger {
	if maxElapsed <= 0 {
		maxElapsed = 5 * time.Second
	}
	return &AuditLogger{
		store:           store,
		spill:           spill,
		metrics:         m,
		log:             log,
		now:             time.Now,
		maxElapsed:      maxElapsed,
		initialInterval: 100 * time.Millisecond,
	}
}

// Record stamps entries that have no id or timestamp yet and writes them. The
// write is detached from ctx so a client disconnecting after disclosure still
// leaves a trail.
func (a *AuditLogger) Record(ctx context.Context, entries ...models.AuditEntry) {
	if len(entries) == 0 {
		return
	}

	now := a.now().UTC()
	for i := range entries {
		if entries[i].ID == uuid.Nil {
			entries[i].ID = uuid.New()
		}
		if entries[i].Timestamp.IsZero() {
			entries[i].Timestamp = now
		}
	}

	ctx = context.WithoutCancel(ctx)
	err := a.retry(ctx, func() error {
		return a.store.InsertMany(ctx, entries)
	})
	if err == nil {
		return
	}

	a.metrics.AuditWriteFailures.Inc()
	a.log.Error("audit write failed, spilling entries",
		zap.Int("entries", len(entries)),
		zap.Error(fmt.Errorf("%w: %w", ErrAuditWrite, err)),
	)

	if a.spill == nil {
		a.metrics.AuditEntriesLost.Add(float64(len(entries)))
		return
	}
	if err := a.spill.Push(ctx, entries); err != nil {
		a.metrics.AuditEntriesLost.Add(float64(len(entries)))
		for _, e := range entries {
			a.log.Error("audit entry lost",
				zap.String("audit_id", e.ID.String()),
				zap.String("operator_id", e.OperatorID.String()),
				zap.String("subject_id", e.SubjectID.String()),
				zap.String("action", e.Action),
				zap.Time("timestamp", e.Timestamp),
				zap.Error(err),
			)
		}
	}
}

func (a *AuditLogger) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(a.initialInterval),
		backoff.WithMaxElapsedTime(a.maxElapsed),
	)
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}

// Query returns entries newest first.
func (a *AuditLogger) Query(ctx context.Context, f repositories.AuditFilter) ([]models.AuditEntry, error) {
	if f.Action != nil && !models.IsValidAuditAction(*f.Action) {
		return nil, validationError("invalid audit action %q", *f.Action)
	}
	if f.Since != nil && f.Until != nil && f.Since.After(*f.Until) {
		return []models.AuditEntry{}, nil
	}
	if f.Limit > maxAuditPageSize {
		f.Limit = maxAuditPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	entries, err := a.store.Query(ctx, f)
	if err != nil {
		return nil, storageError("query audit log", err)
	}
	if entries == nil {
		entries = []models.AuditEntry{}
	}
	return entries, nil
}

// Redrive moves spilled entries back into storage. Entries are acknowledged only
// after they are stored; inserts are idempotent by id, so a crash between the
// two steps only repeats work.
func (a *AuditLogger) Redrive(ctx context.Context) (int, error) {
	if a.spill == nil {
		return 0, nil
	}

	total := 0
	for {
		batch, err := a.spill.Peek(ctx, auditRedriveBatch)
		if err != nil {
			return total, fmt.Errorf("peek audit spill: %w", err)
		}
		if len(batch) == 0 {
			return total, nil
		}
		if err := a.store.InsertMany(ctx, batch); err != nil {
			return total, storageError("redrive audit entries", err)
		}
		if err := a.spill.Ack(ctx, len(batch)); err != nil {
			return total, fmt.Errorf("ack audit spill: %w", err)
		}
		total += len(batch)
		a.metrics.AuditEntriesRedriven.Add(float64(len(batch)))
	}
}
