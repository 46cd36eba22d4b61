// internal/services/payment_service.go
package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/checkout/session"
	"gorm.io/gorm"

	"github.com/fridayapp/backend/internal/config"
	"github.com/fridayapp/backend/internal/models"
)

// PaymentService creates checkout sessions and turns the processor's
// completion events into ledger mutations, exactly once per external
// reference no matter how often the event is redelivered.
type PaymentService struct {
	db          *gorm.DB
	config      *config.Config
	ledger      *TokenLedger
	marketplace *MarketplaceService
}

// CompletedPayment is the typed form of one checkout.session.completed
// event. Type selects the flavour: treasury purchases carry Quantity
// and IssuedYear, marketplace purchases carry ListingID.
type CompletedPayment struct {
	Reference   string
	Type        models.PaymentType
	BuyerID     uuid.UUID
	AmountCents int64
	Quantity    int
	IssuedYear  int
	ListingID   uuid.UUID
}

type CreateCheckoutRequest struct {
	Type      models.PaymentType `json:"type" validate:"required,oneof=treasury_purchase marketplace_purchase"`
	Quantity  int                `json:"quantity,omitempty" validate:"omitempty,min=1,max=20"`
	Year      int                `json:"year,omitempty"`
	ListingID *uuid.UUID         `json:"listing_id,omitempty"`
}

type CheckoutResponse struct {
	URL string `json:"url"`
}

func NewPaymentService(db *gorm.DB, cfg *config.Config, ledger *TokenLedger, marketplace *MarketplaceService) *PaymentService {
	// Initialize Stripe
	stripe.Key = cfg.Payment.StripeSecretKey

	return &PaymentService{
		db:          db,
		config:      cfg,
		ledger:      ledger,
		marketplace: marketplace,
	}
}

// CreateCheckout opens a Stripe Checkout Session for either purchase
// flavour. The metadata carries everything the webhook needs to apply
// the payment later.
func (s *PaymentService) CreateCheckout(buyerID uuid.UUID, req *CreateCheckoutRequest) (*CheckoutResponse, error) {
	var unitAmount int64
	var quantity int64
	var productName string

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(s.config.Frontend.SuccessURL),
		CancelURL:  stripe.String(s.config.Frontend.CancelURL),
	}
	params.AddMetadata("buyer_id", buyerID.String())
	params.AddMetadata("type", string(req.Type))

	switch req.Type {
	case models.PaymentTypeTreasuryPurchase:
		if req.Quantity < 1 {
			req.Quantity = 1
		}
		year := req.Year
		if year == 0 {
			year = time.Now().Year()
		}

		var settings models.Settings
		if err := s.db.First(&settings, "id = ?", 1).Error; err != nil {
			return nil, fmt.Errorf("failed to load settings: %w", err)
		}

		available, err := s.ledger.TreasurySupply(year)
		if err != nil {
			return nil, err
		}
		if available < int64(req.Quantity) {
			return nil, ErrTreasurySoldOut
		}

		unitAmount = settings.UnitPriceCents
		quantity = int64(req.Quantity)
		productName = fmt.Sprintf("Call token %d (x%d)", year, req.Quantity)
		params.AddMetadata("quantity", fmt.Sprintf("%d", req.Quantity))
		params.AddMetadata("year", fmt.Sprintf("%d", year))

	case models.PaymentTypeMarketplacePurchase:
		if req.ListingID == nil {
			return nil, ErrListingUnavailable
		}

		var listing models.Listing
		if err := s.db.First(&listing, "id = ?", *req.ListingID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrListingUnavailable
			}
			return nil, fmt.Errorf("failed to load listing: %w", err)
		}
		if listing.Status != models.ListingStatusOpen {
			return nil, ErrListingUnavailable
		}
		if listing.SellerID == buyerID {
			return nil, ErrInvalidTrade
		}

		unitAmount = listing.PriceCents
		quantity = 1
		productName = "Call token (marketplace)"
		params.AddMetadata("listing_id", listing.ID.String())

	default:
		return nil, fmt.Errorf("unknown checkout type %q", req.Type)
	}

	params.LineItems = []*stripe.CheckoutSessionLineItemParams{
		{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(s.config.Payment.Currency),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(productName),
				},
				UnitAmount: stripe.Int64(unitAmount),
			},
			Quantity: stripe.Int64(quantity),
		},
	}

	sess, err := session.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	return &CheckoutResponse{URL: sess.URL}, nil
}

// ApplyCompletedPayment applies one completion event. Replays of the
// same reference are silent no-ops; business failures (treasury sold
// out, listing gone) mark the payment failed in a transaction of their
// own so the mark survives the rolled-back attempt. Money was already
// captured externally and operators reconcile from the failed row; the
// failed mark is terminal, so redeliveries of that reference never
// fulfill behind the operators' backs.
func (s *PaymentService) ApplyCompletedPayment(event CompletedPayment) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var existing models.Payment
		err := tx.Where("reference = ?", event.Reference).First(&existing).Error
		if err == nil && existing.Status != models.PaymentStatusPending {
			// Succeeded: a replay of an applied payment. Failed: the
			// failure is already recorded and reconciliation is manual;
			// a redelivery must not re-attempt fulfillment even if the
			// failure condition has since cleared.
			return nil
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to look up payment: %w", err)
		}

		payment := s.paymentRow(event)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if createErr := tx.Create(payment).Error; createErr != nil {
				// The unique reference index turns a concurrent replay
				// into a constraint violation; treat it as already done.
				if isUniqueViolation(createErr) {
					return nil
				}
				return fmt.Errorf("failed to create payment: %w", createErr)
			}
		} else {
			payment.ID = existing.ID
		}

		switch event.Type {
		case models.PaymentTypeTreasuryPurchase:
			if err := s.applyTreasuryPurchase(tx, event); err != nil {
				return err
			}
		case models.PaymentTypeMarketplacePurchase:
			if _, err := s.marketplace.fulfillListing(tx, event.BuyerID, event.ListingID); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown payment type %q", event.Type)
		}

		return tx.Model(&models.Payment{}).
			Where("id = ?", payment.ID).
			Update("status", models.PaymentStatusSucceeded).Error
	})

	if err != nil && IsDomainError(err) {
		logrus.WithFields(logrus.Fields{
			"reference": event.Reference,
			"type":      event.Type,
			"buyer_id":  event.BuyerID,
		}).WithError(err).Error("Payment fulfillment failed; marked for reconciliation")
		s.recordFailure(event, err)
	}

	return err
}

func (s *PaymentService) applyTreasuryPurchase(tx *gorm.DB, event CompletedPayment) error {
	owned, err := ownedTokenCountForYear(tx, event.BuyerID, event.IssuedYear)
	if err != nil {
		return err
	}
	if owned+int64(event.Quantity) > int64(s.config.Billing.MaxPrimaryPerYear) {
		return ErrPurchaseLimitExceeded
	}

	var tokens []models.Token
	if err := tx.Where("owner_id IS NULL AND status = ? AND issued_year = ?",
		models.TokenStatusTreasury, event.IssuedYear).
		Order("created_at ASC").
		Limit(event.Quantity).
		Find(&tokens).Error; err != nil {
		return fmt.Errorf("failed to select treasury tokens: %w", err)
	}
	if len(tokens) < event.Quantity {
		return ErrTreasurySoldOut
	}

	for _, token := range tokens {
		if err := s.ledger.transferOwnership(tx, token.ID, event.BuyerID, models.TokenStatusTreasury); err != nil {
			// A concurrent primary sale took this token between the
			// select and the conditional update.
			if errors.Is(err, ErrTokenNotTransferable) {
				return ErrTreasurySoldOut
			}
			return err
		}

		entry := &models.LedgerEntry{
			UserID:       event.BuyerID,
			TokenID:      token.ID,
			DeltaMinutes: token.RemainingMinutes,
			Reason:       models.LedgerReasonBuyTreasury,
			Reference:    event.Reference,
		}
		if err := tx.Create(entry).Error; err != nil {
			return fmt.Errorf("failed to record treasury purchase: %w", err)
		}
	}

	return nil
}

// ApplyExpiredPayment marks a pending payment failed after the
// processor reports the session expired or the payment failed. No
// ledger effect; applying it to an unknown or settled reference is a
// no-op.
func (s *PaymentService) ApplyExpiredPayment(reference string) error {
	return s.db.Model(&models.Payment{}).
		Where("reference = ? AND status = ?", reference, models.PaymentStatusPending).
		Updates(map[string]interface{}{
			"status":         models.PaymentStatusFailed,
			"failure_reason": "checkout session expired",
		}).Error
}

func (s *PaymentService) paymentRow(event CompletedPayment) *models.Payment {
	payment := &models.Payment{
		Reference:   event.Reference,
		Type:        event.Type,
		BuyerID:     event.BuyerID,
		AmountCents: event.AmountCents,
		Status:      models.PaymentStatusPending,
		Quantity:    event.Quantity,
		IssuedYear:  event.IssuedYear,
	}
	if event.Type == models.PaymentTypeMarketplacePurchase {
		listingID := event.ListingID
		payment.ListingID = &listingID
	}
	return payment
}

// recordFailure persists the failed status outside the rolled-back
// fulfillment transaction.
func (s *PaymentService) recordFailure(event CompletedPayment, cause error) {
	payment := s.paymentRow(event)
	payment.Status = models.PaymentStatusFailed
	payment.FailureReason = cause.Error()

	err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Payment{}).
			Where("reference = ? AND status <> ?", event.Reference, models.PaymentStatusSucceeded).
			Updates(map[string]interface{}{
				"status":         models.PaymentStatusFailed,
				"failure_reason": cause.Error(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			if err := tx.Create(payment).Error; err != nil && !isUniqueViolation(err) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		logrus.WithError(err).WithField("reference", event.Reference).
			Error("Failed to record payment failure")
	}
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
