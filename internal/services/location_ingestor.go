package services

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ems-dashboard/backend/internal/cache"
	"github.com/ems-dashboard/backend/internal/config"
	"github.com/ems-dashboard/backend/internal/geocode"
	"github.com/ems-dashboard/backend/internal/metrics"
	"github.com/ems-dashboard/backend/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RawSample is a position as reported by a client device.
type RawSample struct {
	Latitude       *float64
	Longitude      *float64
	AccuracyMeters *float64
	Source         string
	Timestamp      *time.Time
	// Address is a client-side hint, used only when no resolver is configured.
	Address *models.Address
}

type LocationIngestor struct {
	consents *ConsentService
	samples  LocationStorage
	current  *cache.CurrentLocations
	resolver geocode.Resolver
	notifier RealtimeNotifier
	liveness models.Liveness
	maxSkew  time.Duration
	metrics  *metrics.Metrics
	log      *zap.Logger
	now      func() time.Time
}

func NewLocationIngestor(
	consents *ConsentService,
	samples LocationStorage,
	current *cache.CurrentLocations,
	resolver geocode.Resolver,
	notifier RealtimeNotifier,
	cfg *config.Config,
	m *metrics.Metrics,
	log *zap.Logger,
) *LocationIngestor {
	return &LocationIngestor{
		consents: consents,
		samples:  samples,
		current:  current,
		resolver: resolver,
		notifier: notifier,
		liveness: models.Liveness{IdleAfter: cfg.LivenessIdleAfter, OfflineAfter: cfg.LivenessOfflineAfter},
		maxSkew:  cfg.MaxClockSkew,
		metrics:  m,
		log:      log,
		now:      time.Now,
	}
}

// Record stores a sample for subjectID. It fails with ErrConsentWithdrawn when
// the subject has not consented; nothing is stored in that case. A retry with
// the same timestamp returns the stored sample instead of a duplicate.
func (i *LocationIngestor) Record(ctx context.Context, subjectID uuid.UUID, raw RawSample) (*models.LocationSample, error) {
	consent, err := i.consents.GetConsent(ctx, subjectID)
	if err != nil {
		i.metrics.SamplesIngested.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, err
	}
	if !consent.HasConsent {
		i.metrics.SamplesIngested.WithLabelValues(metrics.OutcomeDenied).Inc()
		return nil, ErrConsentWithdrawn
	}

	now := i.now().UTC()
	sample, err := i.buildSample(subjectID, raw, now)
	if err != nil {
		i.metrics.SamplesIngested.WithLabelValues(metrics.OutcomeInvalid).Inc()
		return nil, err
	}

	sample.Address = i.resolveAddress(ctx, sample, raw.Address)

	stored, inserted, err := i.samples.Insert(ctx, sample)
	if err != nil {
		i.metrics.SamplesIngested.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, storageError("insert location sample", err)
	}
	if inserted {
		i.metrics.SamplesIngested.WithLabelValues(metrics.OutcomeAccepted).Inc()
	} else {
		i.metrics.SamplesIngested.WithLabelValues(metrics.OutcomeDuplicate).Inc()
	}

	if view, changed := i.current.Offer(stored); changed {
		i.notifier.Publish(ctx, view.WithStatus(i.liveness, now))
	}

	return &stored, nil
}

func (i *LocationIngestor) buildSample(subjectID uuid.UUID, raw RawSample, now time.Time) (models.LocationSample, error) {
	s := models.LocationSample{
		SubjectID: subjectID,
		Timestamp: now,
		Accuracy:  models.ClassifyAccuracy(raw.AccuracyMeters),
	}

	if raw.Timestamp != nil && !raw.Timestamp.IsZero() {
		if raw.Timestamp.After(now.Add(i.maxSkew)) {
			return s, validationError("timestamp %s is in the future", raw.Timestamp.Format(time.RFC3339))
		}
		s.Timestamp = raw.Timestamp.UTC()
	}
	// postgres keeps microseconds; truncate so retries hit the same key
	s.Timestamp = s.Timestamp.Truncate(time.Microsecond)

	switch {
	case raw.Latitude == nil && raw.Longitude == nil:
	case raw.Latitude == nil || raw.Longitude == nil:
		return s, validationError("latitude and longitude must be provided together")
	default:
		c := models.Coordinates{Latitude: *raw.Latitude, Longitude: *raw.Longitude}
		if math.IsInf(c.Latitude, 0) || math.IsInf(c.Longitude, 0) || !c.Valid() {
			return s, validationError("coordinates (%v, %v) out of range", c.Latitude, c.Longitude)
		}
		s.Coordinates = &c
	}

	if raw.AccuracyMeters != nil && *raw.AccuracyMeters < 0 {
		return s, validationError("accuracy must not be negative")
	}

	source := strings.TrimSpace(raw.Source)
	if source == "" {
		source = models.SourceOther
	}
	if !models.IsValidSource(source) {
		return s, validationError("invalid source %q, must be one of: GPS, Wi-Fi, IP, other", source)
	}
	s.Source = source

	return s, nil
}

// resolveAddress never fails the ingestion; a geocoder outage degrades to a
// sample without address.
func (i *LocationIngestor) resolveAddress(ctx context.Context, s models.LocationSample, hint *models.Address) *models.Address {
	if i.resolver == nil {
		return hint
	}
	if s.Coordinates == nil {
		return nil
	}

	addr, err := i.resolver.Resolve(ctx, s.Coordinates.Latitude, s.Coordinates.Longitude)
	if err != nil {
		i.metrics.GeocodeFailures.Inc()
		i.log.Warn("reverse geocoding failed, storing sample without address",
			zap.String("subject_id", s.SubjectID.String()),
			zap.Error(fmt.Errorf("%w: %w", ErrDependencyUnavailable, err)),
		)
		return nil
	}
	return addr
}
