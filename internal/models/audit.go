package models

import (
	"time"

	"github.com/google/uuid"
)

// Audit actions
const (
	AuditActionViewCurrent     = "view_current"
	AuditActionViewTimeline    = "view_timeline"
	AuditActionExportTimeline  = "export_timeline"
	AuditActionViewConsentList = "view_consent_list"
)

func IsValidAuditAction(action string) bool {
	switch action {
	case AuditActionViewCurrent, AuditActionViewTimeline, AuditActionExportTimeline, AuditActionViewConsentList:
		return true
	}
	return false
}

// AuditEntry records one operator read of subject location data. SubjectID is
// uuid.Nil for aggregate reads such as the consent list.
type AuditEntry struct {
	ID         uuid.UUID `json:"id"`
	OperatorID uuid.UUID `json:"operator_id"`
	SubjectID  uuid.UUID `json:"subject_id"`
	Action     string    `json:"action"`
	Timestamp  time.Time `json:"timestamp"`
	Origin     string    `json:"origin"` // operator network origin (ip)
}
