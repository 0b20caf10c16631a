package services

import (
	"context"
	"time"

	"github.com/ems-dashboard/backend/internal/metrics"
	"go.uber.org/zap"
)

// RetentionSweeper purges location samples older than the retention window.
// Audit entries and consent records live in other tables and are never touched.
type RetentionSweeper struct {
	samples   LocationStorage
	window    time.Duration
	batchSize int
	metrics   *metrics.Metrics
	log       *zap.Logger
	now       func() time.Time
}

func NewRetentionSweeper(samples LocationStorage, window time.Duration, batchSize int, m *metrics.Metrics, log *zap.Logger) *RetentionSweeper {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &RetentionSweeper{
		samples:   samples,
		window:    window,
		batchSize: batchSize,
		metrics:   m,
		log:       log,
		now:       time.Now,
	}
}

// Sweep deletes every sample older than now minus the window. The cutoff is
// fixed when the sweep starts, so samples written while it runs are never
// candidates.
func (s *RetentionSweeper) Sweep(ctx context.Context) (int64, error) {
	start := s.now().UTC()
	cutoff := start.Add(-s.window)

	var total int64
	defer func() {
		s.metrics.RetentionDuration.Observe(time.Since(start).Seconds())
	}()

	for {
		n, err := s.samples.DeleteOlderThan(ctx, cutoff, s.batchSize)
		total += n
		s.metrics.RetentionDeleted.Add(float64(n))
		if err != nil {
			return total, storageError("delete expired samples", err)
		}
		if n < int64(s.batchSize) {
			break
		}
	}

	s.log.Info("retention sweep finished",
		zap.Time("cutoff", cutoff),
		zap.Int64("deleted", total),
	)
	return total, nil
}
