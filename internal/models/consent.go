package models

import (
	"time"

	"github.com/google/uuid"
)

// Consent levels
const (
	ConsentLevelNone     = "none"
	ConsentLevelBasic    = "basic"
	ConsentLevelDetailed = "detailed"
)

var ConsentLevels = []string{ConsentLevelNone, ConsentLevelBasic, ConsentLevelDetailed}

func IsValidConsentLevel(level string) bool {
	for _, l := range ConsentLevels {
		if l == level {
			return true
		}
	}
	return false
}

// ConsentRecord is the per-subject privacy decision. A record with HasConsent=false
// always carries ConsentLevelNone.
type ConsentRecord struct {
	SubjectID    uuid.UUID  `json:"subject_id"`
	HasConsent   bool       `json:"has_consent"`
	ConsentLevel string     `json:"consent_level"`
	ConsentDate  *time.Time `json:"consent_date,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// DefaultConsent is returned for subjects that never made a decision.
func DefaultConsent(subjectID uuid.UUID) ConsentRecord {
	return ConsentRecord{
		SubjectID:    subjectID,
		HasConsent:   false,
		ConsentLevel: ConsentLevelNone,
	}
}

// EffectiveLevel is the disclosure level an operator read may use right now.
func (c ConsentRecord) EffectiveLevel() string {
	if !c.HasConsent {
		return ConsentLevelNone
	}
	return c.ConsentLevel
}

type ConsentSummary struct {
	Detailed int `json:"detailed"`
	Basic    int `json:"basic"`
	None     int `json:"none"`
}

func SummarizeConsents(records []ConsentRecord) ConsentSummary {
	var s ConsentSummary
	for _, r := range records {
		switch r.EffectiveLevel() {
		case ConsentLevelDetailed:
			s.Detailed++
		case ConsentLevelBasic:
			s.Basic++
		default:
			s.None++
		}
	}
	return s
}
