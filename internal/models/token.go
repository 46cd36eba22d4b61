// internal/models/token.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// Token is one prepaid allotment of call minutes. OwnerID is nil while
// the token sits unsold in the treasury.
type Token struct {
	BaseModel
	OwnerID          *uuid.UUID  `json:"owner_id" gorm:"type:uuid;index"`
	RemainingMinutes int         `json:"remaining_minutes" gorm:"not null"`
	Status           TokenStatus `json:"status" gorm:"type:varchar(20);not null;index"`
	IssuedYear       int         `json:"issued_year" gorm:"not null;index"`
	// Set while Status == reserved; identifies the billing session
	// holding the token.
	ReservedCallID *uuid.UUID `json:"reserved_call_id,omitempty" gorm:"type:uuid;index"`
	ReservedAt     *time.Time `json:"reserved_at,omitempty"`
}

// Listing is an open offer to sell one token on the secondary market.
type Listing struct {
	BaseModel
	TokenID    uuid.UUID     `json:"token_id" gorm:"type:uuid;not null;index"`
	SellerID   uuid.UUID     `json:"seller_id" gorm:"type:uuid;not null;index"`
	PriceCents int64         `json:"price_cents" gorm:"not null"`
	Status     ListingStatus `json:"status" gorm:"type:varchar(20);not null;index"`
	ClosedAt   *time.Time    `json:"closed_at,omitempty"`

	Token Token `json:"token,omitempty" gorm:"foreignKey:TokenID"`
}

// Trade records a completed secondary-market sale. Append-only.
type Trade struct {
	BaseModel
	ListingID        uuid.UUID `json:"listing_id" gorm:"type:uuid;not null;index"`
	TokenID          uuid.UUID `json:"token_id" gorm:"type:uuid;not null;index"`
	SellerID         uuid.UUID `json:"seller_id" gorm:"type:uuid;not null;index"`
	BuyerID          uuid.UUID `json:"buyer_id" gorm:"type:uuid;not null;index"`
	TotalCents       int64     `json:"total_cents" gorm:"not null"`
	PlatformFeeCents int64     `json:"platform_fee_cents" gorm:"not null;default:0"`
}

// Payment is the idempotency and audit record for one external payment
// completion. Reference is the processor's checkout session id.
type Payment struct {
	BaseModel
	Reference     string        `json:"reference" gorm:"uniqueIndex;size:255;not null"`
	Type          PaymentType   `json:"type" gorm:"type:varchar(30);not null"`
	BuyerID       uuid.UUID     `json:"buyer_id" gorm:"type:uuid;not null;index"`
	AmountCents   int64         `json:"amount_cents" gorm:"not null"`
	Status        PaymentStatus `json:"status" gorm:"type:varchar(20);not null;index"`
	Quantity      int           `json:"quantity"`
	IssuedYear    int           `json:"issued_year"`
	ListingID     *uuid.UUID    `json:"listing_id,omitempty" gorm:"type:uuid"`
	FailureReason string        `json:"failure_reason,omitempty" gorm:"size:255"`
}

// LedgerEntry is an append-only accounting row. The sum of DeltaMinutes
// for a token reconciles with its minute history.
type LedgerEntry struct {
	BaseModel
	UserID       uuid.UUID    `json:"user_id" gorm:"type:uuid;not null;index"`
	TokenID      uuid.UUID    `json:"token_id" gorm:"type:uuid;not null;index"`
	DeltaMinutes int          `json:"delta_minutes" gorm:"not null"`
	Reason       LedgerReason `json:"reason" gorm:"type:varchar(20);not null;index"`
	Reference    string       `json:"reference" gorm:"size:255"`
}

// Settings is a singleton row holding treasury pricing.
type Settings struct {
	ID             int       `json:"id" gorm:"primary_key"`
	UnitPriceCents int64     `json:"unit_price_cents" gorm:"not null"`
	TokenMinutes   int       `json:"token_minutes" gorm:"not null;default:60"`
	UpdatedAt      time.Time `json:"updated_at"`
}
