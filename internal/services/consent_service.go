package services

import (
	"context"
	"strings"
	"time"

	"github.com/ems-dashboard/backend/internal/models"
	"github.com/ems-dashboard/backend/internal/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ConsentService is the only writer of consent records.
type ConsentService struct {
	consentRepo ConsentStorage
	log         *zap.Logger
	now         func() time.Time
}

func NewConsentService(consentRepo ConsentStorage, log *zap.Logger) *ConsentService {
	return &ConsentService{
		consentRepo: consentRepo,
		log:         log,
		now:         time.Now,
	}
}

// GetConsent returns the default record for subjects that never decided.
func (s *ConsentService) GetConsent(ctx context.Context, subjectID uuid.UUID) (models.ConsentRecord, error) {
	c, err := s.consentRepo.Get(ctx, subjectID)
	if err != nil {
		return models.ConsentRecord{}, storageError("get consent", err)
	}
	if c == nil {
		return models.DefaultConsent(subjectID), nil
	}
	return *c, nil
}

// SetConsent applies a self-service decision. Revoking forces the level to none
// whatever level was sent.
func (s *ConsentService) SetConsent(ctx context.Context, subjectID uuid.UUID, hasConsent bool, level string) (models.ConsentRecord, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	if !hasConsent {
		level = models.ConsentLevelNone
	} else {
		if !models.IsValidConsentLevel(level) {
			return models.ConsentRecord{}, validationError("invalid consent level %q, must be one of: none, basic, detailed", level)
		}
		if level == models.ConsentLevelNone {
			return models.ConsentRecord{}, validationError("consent level must be basic or detailed when granting consent")
		}
	}

	c, err := s.consentRepo.Upsert(ctx, subjectID, hasConsent, level, s.now().UTC())
	if err != nil {
		return models.ConsentRecord{}, storageError("set consent", err)
	}

	s.log.Info("location consent updated",
		zap.String("subject_id", subjectID.String()),
		zap.Bool("has_consent", c.HasConsent),
		zap.String("consent_level", c.ConsentLevel),
	)
	return *c, nil
}

func (s *ConsentService) ListConsents(ctx context.Context, f repositories.ConsentFilter) ([]models.ConsentRecord, error) {
	if f.Level != nil && !models.IsValidConsentLevel(*f.Level) {
		return nil, validationError("invalid consent level %q", *f.Level)
	}
	records, err := s.consentRepo.List(ctx, f)
	if err != nil {
		return nil, storageError("list consents", err)
	}
	return records, nil
}

// consentMap returns the current record for each of ids; subjects without a row
// get the default record.
func (s *ConsentService) consentMap(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.ConsentRecord, error) {
	out := make(map[uuid.UUID]models.ConsentRecord, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	records, err := s.ListConsents(ctx, repositories.ConsentFilter{SubjectIDs: ids})
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		out[id] = models.DefaultConsent(id)
	}
	for _, r := range records {
		out[r.SubjectID] = r
	}
	return out, nil
}
