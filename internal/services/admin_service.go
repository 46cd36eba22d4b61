// internal/services/admin_service.go
package services

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/fridayapp/backend/internal/models"
)

type AdminService struct {
	db     *gorm.DB
	ledger *TokenLedger
}

func NewAdminService(db *gorm.DB, ledger *TokenLedger) *AdminService {
	return &AdminService{db: db, ledger: ledger}
}

// MintTreasury mints a batch of fresh tokens into the treasury for the
// given issue year.
func (s *AdminService) MintTreasury(quantity, year int) ([]models.Token, error) {
	settings, err := s.GetSettings()
	if err != nil {
		return nil, err
	}
	return s.ledger.MintBatch(quantity, settings.TokenMinutes, year)
}

// SetPrice updates the unit price charged for treasury purchases.
// Treasury stock carries no per-token price, so unsold tokens always
// sell at the current settings price and a change takes effect on the
// next checkout. The price of tokens already held by users never
// changes retroactively.
func (s *AdminService) SetPrice(priceCents int64) (*models.Settings, error) {
	if priceCents <= 0 {
		return nil, fmt.Errorf("price must be positive, got %d", priceCents)
	}

	err := s.db.Model(&models.Settings{}).
		Where("id = ?", 1).
		Updates(map[string]interface{}{
			"unit_price_cents": priceCents,
			"updated_at":       time.Now(),
		}).Error
	if err != nil {
		return nil, fmt.Errorf("failed to update price: %w", err)
	}

	return s.GetSettings()
}

func (s *AdminService) GetSettings() (*models.Settings, error) {
	var settings models.Settings
	if err := s.db.First(&settings, "id = ?", 1).Error; err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	return &settings, nil
}

// Stats summarizes the ledger for the admin dashboard.
func (s *AdminService) Stats() (map[string]int64, error) {
	stats := make(map[string]int64)

	counts := []struct {
		key    string
		status models.TokenStatus
	}{
		{"treasury", models.TokenStatusTreasury},
		{"owned", models.TokenStatusOwned},
		{"reserved", models.TokenStatusReserved},
		{"listed", models.TokenStatusListed},
		{"spent", models.TokenStatusSpent},
	}
	for _, c := range counts {
		var n int64
		if err := s.db.Model(&models.Token{}).Where("status = ?", c.status).Count(&n).Error; err != nil {
			return nil, fmt.Errorf("failed to count tokens: %w", err)
		}
		stats[c.key] = n
	}

	var trades int64
	if err := s.db.Model(&models.Trade{}).Count(&trades).Error; err != nil {
		return nil, fmt.Errorf("failed to count trades: %w", err)
	}
	stats["trades"] = trades

	return stats, nil
}
