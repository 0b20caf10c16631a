package models

import (
	"time"

	"github.com/google/uuid"
)

// Subject is a directory entry for a tracked employee. The identity service owns
// these rows; this service only reads them.
type Subject struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Team      *string   `json:"team,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
