// internal/models/call.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// Call is the billing-relevant record of one call. Billable captures
// the billable-day policy result at creation time.
type Call struct {
	BaseModel
	CallerID       uuid.UUID  `json:"caller_id" gorm:"type:uuid;not null;index"`
	CalleeID       uuid.UUID  `json:"callee_id" gorm:"type:uuid;not null;index"`
	Status         CallStatus `json:"status" gorm:"type:varchar(20);not null;index"`
	Billable       bool       `json:"billable" gorm:"not null;default:false"`
	ChargedMinutes int        `json:"charged_minutes" gorm:"not null;default:0"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
}
