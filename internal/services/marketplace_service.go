// internal/services/marketplace_service.go
package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fridayapp/backend/internal/models"
)

// MarketplaceService owns the listing lifecycle and atomic trade
// execution on top of the TokenLedger primitives. Create, cancel and
// fulfill each run inside one transaction; partial application is
// never observable.
type MarketplaceService struct {
	db     *gorm.DB
	ledger *TokenLedger
}

func NewMarketplaceService(db *gorm.DB, ledger *TokenLedger) *MarketplaceService {
	return &MarketplaceService{db: db, ledger: ledger}
}

// CreateListing puts an owned, untouched token up for sale. Partially
// consumed tokens are not listable.
func (s *MarketplaceService) CreateListing(sellerID, tokenID uuid.UUID, priceCents int64) (*models.Listing, error) {
	if priceCents <= 0 {
		return nil, ErrTokenNotListable
	}

	var listing *models.Listing
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var token models.Token
		if err := tx.First(&token, "id = ?", tokenID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTokenNotOwned
			}
			return fmt.Errorf("failed to load token: %w", err)
		}

		if token.OwnerID == nil || *token.OwnerID != sellerID {
			return ErrTokenNotOwned
		}

		var settings models.Settings
		if err := tx.First(&settings, "id = ?", 1).Error; err != nil {
			return fmt.Errorf("failed to load settings: %w", err)
		}

		if token.Status != models.TokenStatusOwned || token.RemainingMinutes != settings.TokenMinutes {
			return ErrTokenNotListable
		}

		res := tx.Model(&models.Token{}).
			Where("id = ? AND status = ?", tokenID, models.TokenStatusOwned).
			Update("status", models.TokenStatusListed)
		if res.Error != nil {
			return fmt.Errorf("failed to list token: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrTokenNotListable
		}

		listing = &models.Listing{
			TokenID:    tokenID,
			SellerID:   sellerID,
			PriceCents: priceCents,
			Status:     models.ListingStatusOpen,
		}
		if err := tx.Create(listing).Error; err != nil {
			return fmt.Errorf("failed to create listing: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return listing, nil
}

// CancelListing closes an open listing and puts the token back to
// owned, minutes untouched.
func (s *MarketplaceService) CancelListing(sellerID, listingID uuid.UUID) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var listing models.Listing
		if err := tx.First(&listing, "id = ?", listingID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotCancellable
			}
			return fmt.Errorf("failed to load listing: %w", err)
		}

		if listing.SellerID != sellerID {
			return ErrNotCancellable
		}

		now := time.Now()
		res := tx.Model(&models.Listing{}).
			Where("id = ? AND status = ?", listingID, models.ListingStatusOpen).
			Updates(map[string]interface{}{
				"status":    models.ListingStatusCanceled,
				"closed_at": now,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to cancel listing: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotCancellable
		}

		return tx.Model(&models.Token{}).
			Where("id = ? AND status = ?", listing.TokenID, models.TokenStatusListed).
			Update("status", models.TokenStatusOwned).Error
	})
}

// FulfillListing executes a secondary-market sale. Exactly one of any
// number of concurrent buyers wins: the listing row is flipped from
// open to filled with a conditional update, and losers observe zero
// rows affected and get ErrListingUnavailable.
func (s *MarketplaceService) FulfillListing(buyerID, listingID uuid.UUID) (*models.Trade, error) {
	var trade *models.Trade
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		trade, txErr = s.fulfillListing(tx, buyerID, listingID)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return trade, nil
}

// fulfillListing is the in-transaction body, shared with the payment
// fulfillment processor so a webhook-driven purchase commits in the
// same transaction as its payment record.
func (s *MarketplaceService) fulfillListing(tx *gorm.DB, buyerID, listingID uuid.UUID) (*models.Trade, error) {
	var listing models.Listing
	if err := tx.First(&listing, "id = ?", listingID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrListingUnavailable
		}
		return nil, fmt.Errorf("failed to load listing: %w", err)
	}

	if listing.SellerID == buyerID {
		return nil, ErrInvalidTrade
	}

	now := time.Now()
	res := tx.Model(&models.Listing{}).
		Where("id = ? AND status = ?", listingID, models.ListingStatusOpen).
		Updates(map[string]interface{}{
			"status":    models.ListingStatusFilled,
			"closed_at": now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to close listing: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrListingUnavailable
	}

	// Re-validate the token; a mismatch here means the ledger invariant
	// "open listing <=> listed token" was broken and must abort loudly.
	var token models.Token
	if err := tx.First(&token, "id = ?", listing.TokenID).Error; err != nil {
		return nil, fmt.Errorf("failed to load listed token: %w", err)
	}
	if token.OwnerID == nil || *token.OwnerID != listing.SellerID ||
		token.Status != models.TokenStatusListed || token.RemainingMinutes <= 0 {
		return nil, ErrTokenNotTransferable
	}

	if err := s.ledger.transferOwnership(tx, listing.TokenID, buyerID, models.TokenStatusListed); err != nil {
		return nil, err
	}

	trade := &models.Trade{
		ListingID:        listing.ID,
		TokenID:          listing.TokenID,
		SellerID:         listing.SellerID,
		BuyerID:          buyerID,
		TotalCents:       listing.PriceCents,
		PlatformFeeCents: 0,
	}
	if err := tx.Create(trade).Error; err != nil {
		return nil, fmt.Errorf("failed to record trade: %w", err)
	}

	// Resale moves money, not minutes.
	entries := []models.LedgerEntry{
		{
			UserID:       listing.SellerID,
			TokenID:      listing.TokenID,
			DeltaMinutes: 0,
			Reason:       models.LedgerReasonSellP2P,
			Reference:    trade.ID.String(),
		},
		{
			UserID:       buyerID,
			TokenID:      listing.TokenID,
			DeltaMinutes: 0,
			Reason:       models.LedgerReasonBuyP2P,
			Reference:    trade.ID.String(),
		},
	}
	if err := tx.Create(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to record trade ledger entries: %w", err)
	}

	return trade, nil
}

// OpenListings returns open offers, newest first.
func (s *MarketplaceService) OpenListings(limit int) ([]models.Listing, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var listings []models.Listing
	err := s.db.Where("status = ?", models.ListingStatusOpen).
		Order("created_at DESC").
		Limit(limit).
		Preload("Token").
		Find(&listings).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch open listings: %w", err)
	}
	return listings, nil
}

// TradeHistory returns trades where the user was buyer or seller.
func (s *MarketplaceService) TradeHistory(userID uuid.UUID, limit int) ([]models.Trade, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var trades []models.Trade
	err := s.db.Where("buyer_id = ? OR seller_id = ?", userID, userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&trades).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch trade history: %w", err)
	}
	return trades, nil
}
