// internal/services/reservation_sweeper.go
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/fridayapp/backend/internal/models"
)

// ReservationSweeper releases tokens stuck in reserved after a crash
// killed their billing task before Stop ran. A token is considered
// orphaned when its call is gone or no longer active, or when the
// reservation outlived MaxAge.
type ReservationSweeper struct {
	db       *gorm.DB
	ledger   *TokenLedger
	interval time.Duration
	maxAge   time.Duration
}

func NewReservationSweeper(db *gorm.DB, ledger *TokenLedger, interval, maxAge time.Duration) *ReservationSweeper {
	return &ReservationSweeper{db: db, ledger: ledger, interval: interval, maxAge: maxAge}
}

// Run sweeps periodically until the context is canceled.
func (s *ReservationSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			released, err := s.SweepOnce()
			if err != nil {
				logrus.WithError(err).Error("Reservation sweep failed")
			} else if released > 0 {
				logrus.WithField("released", released).Info("Released orphaned reservations")
			}
		}
	}
}

// SweepOnce releases all currently orphaned reservations and returns
// how many tokens it touched.
func (s *ReservationSweeper) SweepOnce() (int, error) {
	cutoff := time.Now().Add(-s.maxAge)

	var tokens []models.Token
	err := s.db.Model(&models.Token{}).
		Select("tokens.*").
		Joins("LEFT JOIN calls ON calls.id = tokens.reserved_call_id").
		Where("tokens.status = ?", models.TokenStatusReserved).
		Where("calls.id IS NULL OR calls.status IN ? OR tokens.reserved_at < ?",
			[]models.CallStatus{models.CallStatusEnded, models.CallStatusFailed}, cutoff).
		Find(&tokens).Error
	if err != nil {
		return 0, fmt.Errorf("failed to find orphaned reservations: %w", err)
	}

	released := 0
	for _, token := range tokens {
		if err := s.ledger.Release(token.ID); err != nil {
			return released, err
		}
		released++
	}
	return released, nil
}
