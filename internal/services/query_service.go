package services

import (
	"context"
	"time"

	"github.com/ems-dashboard/backend/internal/cache"
	"github.com/ems-dashboard/backend/internal/config"
	"github.com/ems-dashboard/backend/internal/models"
	"github.com/ems-dashboard/backend/internal/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Operator is the authenticated caller of an administrative read.
type Operator struct {
	ID     uuid.UUID
	Origin string
}

type CurrentFilter struct {
	Team     *string
	Role     *string
	Accuracy *string
	Status   *string
}

type SubjectLocation struct {
	Subject      models.Subject             `json:"subject"`
	ConsentLevel string                     `json:"consent_level"`
	Location     models.CurrentLocationView `json:"location"`
}

type ConsentOverviewFilter struct {
	Team       *string
	Role       *string
	HasConsent *bool
	Level      *string
}

type SubjectConsent struct {
	Subject models.Subject       `json:"subject"`
	Consent models.ConsentRecord `json:"consent"`
}

// LocationQueryService answers operator reads. Every result is redacted against
// the subject's consent at read time, and every disclosure of another subject is
// audited after the result has been fully assembled.
type LocationQueryService struct {
	consents  *ConsentService
	samples   LocationStorage
	directory SubjectDirectory
	current   *cache.CurrentLocations
	audit     *AuditLogger
	liveness  models.Liveness
	retention time.Duration
	log       *zap.Logger
	now       func() time.Time
}

func NewLocationQueryService(
	consents *ConsentService,
	samples LocationStorage,
	directory SubjectDirectory,
	current *cache.CurrentLocations,
	audit *AuditLogger,
	cfg *config.Config,
	log *zap.Logger,
) *LocationQueryService {
	return &LocationQueryService{
		consents:  consents,
		samples:   samples,
		directory: directory,
		current:   current,
		audit:     audit,
		liveness:  models.Liveness{IdleAfter: cfg.LivenessIdleAfter, OfflineAfter: cfg.LivenessOfflineAfter},
		retention: cfg.RetentionWindow,
		log:       log,
		now:       time.Now,
	}
}

func (q *LocationQueryService) CurrentLocations(ctx context.Context, op Operator, f CurrentFilter) ([]SubjectLocation, error) {
	if f.Accuracy != nil && !models.IsValidAccuracy(*f.Accuracy) {
		return nil, validationError("invalid accuracy %q, must be one of: high, medium, low", *f.Accuracy)
	}
	if f.Status != nil && !models.IsValidStatus(*f.Status) {
		return nil, validationError("invalid status %q, must be one of: online, idle, offline", *f.Status)
	}

	subjects, err := q.directory.List(ctx, repositories.SubjectFilter{Team: f.Team, Role: f.Role})
	if err != nil {
		return nil, storageError("list subjects", err)
	}

	ids := make([]uuid.UUID, len(subjects))
	for i, s := range subjects {
		ids[i] = s.ID
	}
	consents, err := q.consents.consentMap(ctx, ids)
	if err != nil {
		return nil, err
	}

	now := q.now().UTC()
	out := make([]SubjectLocation, 0, len(subjects))
	var entries []models.AuditEntry

	for _, subject := range subjects {
		level := consents[subject.ID].EffectiveLevel()
		if level == models.ConsentLevelNone {
			continue
		}

		view, ok, err := q.currentView(ctx, subject.ID, now)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		view = view.WithStatus(q.liveness, now)

		if f.Accuracy != nil && view.Sample.Accuracy != *f.Accuracy {
			continue
		}
		if f.Status != nil && view.Status != *f.Status {
			continue
		}

		redacted, ok := view.Sample.Redact(level)
		if !ok {
			continue
		}
		view.Sample = redacted

		out = append(out, SubjectLocation{Subject: subject, ConsentLevel: level, Location: view})
		if subject.ID != op.ID {
			entries = append(entries, q.entry(op, subject.ID, models.AuditActionViewCurrent))
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.audit.Record(ctx, entries...)
	return out, nil
}

// currentView serves a fresh cached view directly. Views that have gone idle are
// re-read from storage, since a newer sample may have been stored by another
// instance whose event never arrived here. Samples past the retention window are
// never served, even before the sweeper has removed them.
func (q *LocationQueryService) currentView(ctx context.Context, subjectID uuid.UUID, now time.Time) (models.CurrentLocationView, bool, error) {
	view, ok := q.current.Get(subjectID)
	if ok && now.Sub(view.Sample.Timestamp) < q.liveness.IdleAfter {
		return view, true, nil
	}

	latest, err := q.samples.Latest(ctx, subjectID)
	if err != nil {
		return models.CurrentLocationView{}, false, storageError("latest location", err)
	}
	if latest != nil {
		q.current.Offer(*latest)
	}
	if q.retention > 0 {
		q.current.EvictBefore(subjectID, now.Add(-q.retention))
	}
	view, ok = q.current.Get(subjectID)
	return view, ok, nil
}

// Timeline returns the subject's samples between the calendar days of start and
// end, both inclusive, oldest first.
func (q *LocationQueryService) Timeline(ctx context.Context, op Operator, subjectID uuid.UUID, start, end time.Time) ([]models.LocationSample, error) {
	return q.timeline(ctx, op, subjectID, start, end, models.AuditActionViewTimeline)
}

// ExportTimeline is Timeline recorded as an export in the audit log.
func (q *LocationQueryService) ExportTimeline(ctx context.Context, op Operator, subjectID uuid.UUID, start, end time.Time) ([]models.LocationSample, error) {
	return q.timeline(ctx, op, subjectID, start, end, models.AuditActionExportTimeline)
}

func (q *LocationQueryService) timeline(ctx context.Context, op Operator, subjectID uuid.UUID, start, end time.Time, action string) ([]models.LocationSample, error) {
	out := []models.LocationSample{}
	if start.IsZero() || end.IsZero() {
		return out, nil
	}
	from := dayStart(start)
	to := dayStart(end).Add(24 * time.Hour)
	if !from.Before(to) {
		return out, nil
	}

	consent, err := q.consents.GetConsent(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	level := consent.EffectiveLevel()
	if level == models.ConsentLevelNone {
		return out, nil
	}

	err = q.samples.Timeline(ctx, subjectID, from, to, func(s models.LocationSample) error {
		if r, ok := s.Redact(level); ok {
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, storageError("scan timeline", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if subjectID != op.ID {
		q.audit.Record(ctx, q.entry(op, subjectID, action))
	}
	return out, nil
}

// ConsentOverview lists consent for every subject in the directory, including
// those who never decided, with counts per effective level. The read is audited
// as a single aggregate entry.
func (q *LocationQueryService) ConsentOverview(ctx context.Context, op Operator, f ConsentOverviewFilter) ([]SubjectConsent, models.ConsentSummary, error) {
	if f.Level != nil && !models.IsValidConsentLevel(*f.Level) {
		return nil, models.ConsentSummary{}, validationError("invalid consent level %q", *f.Level)
	}

	subjects, err := q.directory.List(ctx, repositories.SubjectFilter{Team: f.Team, Role: f.Role})
	if err != nil {
		return nil, models.ConsentSummary{}, storageError("list subjects", err)
	}
	ids := make([]uuid.UUID, len(subjects))
	for i, s := range subjects {
		ids[i] = s.ID
	}
	consents, err := q.consents.consentMap(ctx, ids)
	if err != nil {
		return nil, models.ConsentSummary{}, err
	}

	out := make([]SubjectConsent, 0, len(subjects))
	records := make([]models.ConsentRecord, 0, len(subjects))
	for _, s := range subjects {
		c := consents[s.ID]
		if f.HasConsent != nil && c.HasConsent != *f.HasConsent {
			continue
		}
		if f.Level != nil && c.EffectiveLevel() != *f.Level {
			continue
		}
		out = append(out, SubjectConsent{Subject: s, Consent: c})
		records = append(records, c)
	}

	q.audit.Record(ctx, q.entry(op, uuid.Nil, models.AuditActionViewConsentList))
	return out, models.SummarizeConsents(records), nil
}

func (q *LocationQueryService) entry(op Operator, subjectID uuid.UUID, action string) models.AuditEntry {
	return models.AuditEntry{
		OperatorID: op.ID,
		SubjectID:  subjectID,
		Action:     action,
		Origin:     op.Origin,
	}
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
