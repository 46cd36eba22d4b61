// internal/services/token_ledger.go
package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fridayapp/backend/internal/models"
)

// TokenLedger owns the token state machine:
//
//	treasury --(primary purchase)--> owned
//	owned --(list)--> listed --(cancel)--> owned
//	listed --(trade fulfilled)--> owned (new owner)
//	owned --(reserve)--> reserved --(charge, remaining>0)--> reserved
//	reserved --(charge, remaining==0)--> spent
//	reserved --(release)--> owned, or spent when empty
//
// Every transition is a conditional update keyed on the current status;
// concurrent writers that lose the race see zero rows affected and get
// a domain error instead of a partial state.
type TokenLedger struct {
	db *gorm.DB
}

func NewTokenLedger(db *gorm.DB) *TokenLedger {
	return &TokenLedger{db: db}
}

// Mint creates one token. With a nil owner the token goes to the
// treasury; otherwise it is immediately owned and a mint ledger entry
// is recorded.
func (l *TokenLedger) Mint(ownerID *uuid.UUID, minutes, year int) (*models.Token, error) {
	var token *models.Token
	err := l.db.Transaction(func(tx *gorm.DB) error {
		return l.mint(tx, ownerID, minutes, year, &token)
	})
	return token, err
}

// MintBatch creates quantity treasury tokens for the given year. Used
// by the admin mint operation.
func (l *TokenLedger) MintBatch(quantity, minutes, year int) ([]models.Token, error) {
	tokens := make([]models.Token, 0, quantity)
	err := l.db.Transaction(func(tx *gorm.DB) error {
		for i := 0; i < quantity; i++ {
			var token *models.Token
			if err := l.mint(tx, nil, minutes, year, &token); err != nil {
				return err
			}
			tokens = append(tokens, *token)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tokens, nil
}

func (l *TokenLedger) mint(tx *gorm.DB, ownerID *uuid.UUID, minutes, year int, out **models.Token) error {
	status := models.TokenStatusTreasury
	if ownerID != nil {
		status = models.TokenStatusOwned
	}

	token := &models.Token{
		OwnerID:          ownerID,
		RemainingMinutes: minutes,
		Status:           status,
		IssuedYear:       year,
	}
	if err := tx.Create(token).Error; err != nil {
		return fmt.Errorf("failed to mint token: %w", err)
	}

	if ownerID != nil {
		entry := &models.LedgerEntry{
			UserID:       *ownerID,
			TokenID:      token.ID,
			DeltaMinutes: minutes,
			Reason:       models.LedgerReasonMint,
		}
		if err := tx.Create(entry).Error; err != nil {
			return fmt.Errorf("failed to record mint: %w", err)
		}
	}

	*out = token
	return nil
}

// ReserveForBilling atomically picks the owner's oldest owned token
// with minutes left and moves it to reserved for callID. The selection
// and the status flip happen in a single conditional UPDATE, so two
// concurrent reservations can never grab the same token. Returns
// ErrInsufficientBalance when no eligible token exists.
func (l *TokenLedger) ReserveForBilling(ownerID, callID uuid.UUID) (*models.Token, error) {
	var token models.Token
	err := l.db.Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		res := tx.Exec(`
			UPDATE tokens
			SET status = ?, reserved_call_id = ?, reserved_at = ?, updated_at = ?
			WHERE id = (
				SELECT id FROM tokens
				WHERE owner_id = ? AND status = ? AND remaining_minutes > 0
				ORDER BY created_at ASC
				LIMIT 1
			) AND status = ?`,
			models.TokenStatusReserved, callID, now, now,
			ownerID, models.TokenStatusOwned,
			models.TokenStatusOwned,
		)
		if res.Error != nil {
			return fmt.Errorf("failed to reserve token: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrInsufficientBalance
		}

		return tx.Where("reserved_call_id = ? AND status = ?", callID, models.TokenStatusReserved).
			First(&token).Error
	})
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// ChargeMinute burns one minute of the token reserved for callID,
// records the ledger entry, bumps the call's charged minutes and
// transitions the token to spent when it hits zero. Returns
// ErrInvalidTransition when the token is not currently reserved for
// that call, which guards against stale or duplicate timer firings.
func (l *TokenLedger) ChargeMinute(tokenID, callID uuid.UUID) error {
	return l.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Token{}).
			Where("id = ? AND status = ? AND reserved_call_id = ? AND remaining_minutes > 0",
				tokenID, models.TokenStatusReserved, callID).
			UpdateColumn("remaining_minutes", gorm.Expr("remaining_minutes - 1"))
		if res.Error != nil {
			return fmt.Errorf("failed to charge token: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrInvalidTransition
		}

		var token models.Token
		if err := tx.First(&token, "id = ?", tokenID).Error; err != nil {
			return fmt.Errorf("failed to reload token: %w", err)
		}

		if token.RemainingMinutes <= 0 {
			if err := tx.Model(&token).Updates(map[string]interface{}{
				"status":           models.TokenStatusSpent,
				"reserved_call_id": nil,
				"reserved_at":      nil,
			}).Error; err != nil {
				return fmt.Errorf("failed to mark token spent: %w", err)
			}
		}

		entry := &models.LedgerEntry{
			UserID:       *token.OwnerID,
			TokenID:      token.ID,
			DeltaMinutes: -1,
			Reason:       models.LedgerReasonCallCharge,
			Reference:    callID.String(),
		}
		if err := tx.Create(entry).Error; err != nil {
			return fmt.Errorf("failed to record charge: %w", err)
		}

		return tx.Model(&models.Call{}).
			Where("id = ?", callID).
			UpdateColumn("charged_minutes", gorm.Expr("charged_minutes + 1")).Error
	})
}

// Release returns a reserved token with minutes left to owned; an
// empty reserved token becomes spent. Releasing a token that is not
// reserved is a no-op, so the call is idempotent.
func (l *TokenLedger) Release(tokenID uuid.UUID) error {
	return l.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Token{}).
			Where("id = ? AND status = ? AND remaining_minutes > 0", tokenID, models.TokenStatusReserved).
			Updates(map[string]interface{}{
				"status":           models.TokenStatusOwned,
				"reserved_call_id": nil,
				"reserved_at":      nil,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to release token: %w", res.Error)
		}
		if res.RowsAffected > 0 {
			var token models.Token
			if err := tx.First(&token, "id = ?", tokenID).Error; err != nil {
				return fmt.Errorf("failed to reload token: %w", err)
			}
			entry := &models.LedgerEntry{
				UserID:       *token.OwnerID,
				TokenID:      token.ID,
				DeltaMinutes: 0,
				Reason:       models.LedgerReasonRelease,
			}
			return tx.Create(entry).Error
		}

		// An empty token still marked reserved is folded to spent.
		return tx.Model(&models.Token{}).
			Where("id = ? AND status = ? AND remaining_minutes <= 0", tokenID, models.TokenStatusReserved).
			Updates(map[string]interface{}{
				"status":           models.TokenStatusSpent,
				"reserved_call_id": nil,
				"reserved_at":      nil,
			}).Error
	})
}

// TransferOwnership reassigns a token after a sale. The expected status
// (listed for secondary sales, treasury for primary sales) is part of
// the conditional update.
func (l *TokenLedger) TransferOwnership(tokenID, newOwnerID uuid.UUID, expected models.TokenStatus) error {
	return l.db.Transaction(func(tx *gorm.DB) error {
		return l.transferOwnership(tx, tokenID, newOwnerID, expected)
	})
}

func (l *TokenLedger) transferOwnership(tx *gorm.DB, tokenID, newOwnerID uuid.UUID, expected models.TokenStatus) error {
	res := tx.Model(&models.Token{}).
		Where("id = ? AND status = ?", tokenID, expected).
		Updates(map[string]interface{}{
			"owner_id": newOwnerID,
			"status":   models.TokenStatusOwned,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to transfer token: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrTokenNotTransferable
	}
	return nil
}

// WalletTokens lists a user's tokens oldest first, plus their total
// spendable minute balance.
func (l *TokenLedger) WalletTokens(ownerID uuid.UUID) ([]models.Token, int, error) {
	var tokens []models.Token
	if err := l.db.Where("owner_id = ?", ownerID).
		Order("issued_year ASC, created_at ASC").
		Find(&tokens).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch wallet tokens: %w", err)
	}

	totalMinutes := 0
	for _, t := range tokens {
		switch t.Status {
		case models.TokenStatusOwned, models.TokenStatusReserved, models.TokenStatusListed:
			totalMinutes += t.RemainingMinutes
		}
	}

	return tokens, totalMinutes, nil
}

// TreasurySupply reports how many unsold tokens remain for a year.
func (l *TokenLedger) TreasurySupply(year int) (int64, error) {
	var count int64
	err := l.db.Model(&models.Token{}).
		Where("owner_id IS NULL AND status = ? AND issued_year = ?", models.TokenStatusTreasury, year).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count treasury tokens: %w", err)
	}
	return count, nil
}

// LedgerHistory returns a user's audit rows, newest first.
func (l *TokenLedger) LedgerHistory(userID uuid.UUID, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var entries []models.LedgerEntry
	err := l.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ledger history: %w", err)
	}
	return entries, nil
}

// ownedTokenCountForYear counts a user's tokens of an issued year that
// still count against the primary-purchase cap.
func ownedTokenCountForYear(tx *gorm.DB, ownerID uuid.UUID, year int) (int64, error) {
	var count int64
	err := tx.Model(&models.Token{}).
		Where("owner_id = ? AND issued_year = ? AND status IN ?", ownerID, year, []models.TokenStatus{
			models.TokenStatusOwned,
			models.TokenStatusReserved,
			models.TokenStatusListed,
		}).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count owned tokens: %w", err)
	}
	return count, nil
}

// IsDomainError reports whether err is one of the business errors that
// should be surfaced to the caller as-is rather than retried.
func IsDomainError(err error) bool {
	for _, domain := range []error{
		ErrInsufficientBalance, ErrTokenNotOwned, ErrTokenNotListable,
		ErrListingUnavailable, ErrTokenNotTransferable, ErrInvalidTrade,
		ErrNotCancellable, ErrTreasurySoldOut, ErrPurchaseLimitExceeded,
		ErrInvalidTransition,
	} {
		if errors.Is(err, domain) {
			return true
		}
	}
	return false
}
