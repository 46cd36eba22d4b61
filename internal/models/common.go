// internal/models/common.go
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base model with common fields
type BaseModel struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primary_key"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate assigns a UUID so the same models work on Postgres and
// on the sqlite test database, which has no gen_random_uuid().
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// Enums
type UserRole string

const (
	UserRoleAdmin  UserRole = "admin"
	UserRoleClient UserRole = "client"
)

type TokenStatus string

const (
	TokenStatusTreasury TokenStatus = "treasury" // minted, unsold
	TokenStatusOwned    TokenStatus = "owned"
	TokenStatusReserved TokenStatus = "reserved" // held by an active billing session
	TokenStatusListed   TokenStatus = "listed"
	TokenStatusSpent    TokenStatus = "spent" // terminal
)

type ListingStatus string

const (
	ListingStatusOpen     ListingStatus = "open"
	ListingStatusFilled   ListingStatus = "filled"
	ListingStatusCanceled ListingStatus = "canceled"
)

type PaymentType string

const (
	PaymentTypeTreasuryPurchase    PaymentType = "treasury_purchase"
	PaymentTypeMarketplacePurchase PaymentType = "marketplace_purchase"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
)

type LedgerReason string

const (
	LedgerReasonMint        LedgerReason = "mint"
	LedgerReasonBuyTreasury LedgerReason = "buy_treasury"
	LedgerReasonBuyP2P      LedgerReason = "buy_p2p"
	LedgerReasonSellP2P     LedgerReason = "sell_p2p"
	LedgerReasonCallCharge  LedgerReason = "call_charge"
	LedgerReasonRelease     LedgerReason = "release"
)

type CallStatus string

const (
	CallStatusRinging CallStatus = "ringing"
	CallStatusActive  CallStatus = "active"
	CallStatusEnded   CallStatus = "ended"
	CallStatusFailed  CallStatus = "failed"
)
