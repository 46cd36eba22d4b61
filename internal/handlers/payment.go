// internal/handlers/payment.go
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"

	"github.com/fridayapp/backend/internal/config"
	"github.com/fridayapp/backend/internal/models"
	"github.com/fridayapp/backend/internal/services"
	"github.com/fridayapp/backend/internal/utils"
)

type PaymentHandler struct {
	paymentService *services.PaymentService
	cfg            *config.Config
}

func NewPaymentHandler(paymentService *services.PaymentService, cfg *config.Config) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
		cfg:            cfg,
	}
}

// POST /payments/checkout
func (h *PaymentHandler) CreateCheckout(c *gin.Context) {
	userID, ok := utils.GetUserIDFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	var req services.CreateCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid input", err.Error())
		return
	}

	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	response, err := h.paymentService.CreateCheckout(userID, &req)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrTreasurySoldOut):
			utils.ConflictResponse(c, "Not enough tokens available this year")
		case errors.Is(err, services.ErrListingUnavailable):
			utils.ConflictResponse(c, "Listing is no longer available")
		case errors.Is(err, services.ErrInvalidTrade):
			utils.UnprocessableResponse(c, "You cannot buy your own listing")
		default:
			utils.BadRequestResponse(c, err.Error(), nil)
		}
		return
	}

	utils.SuccessResponse(c, response)
}

// POST /payments/webhook
//
// Stripe retries deliveries, so everything downstream must tolerate
// replays. A non-2xx answer is reserved for transient failures where a
// retry could succeed; bad payloads are acknowledged and dropped.
func (h *PaymentHandler) StripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		utils.BadRequestResponse(c, "Failed to read request body", nil)
		return
	}

	event, err := webhook.ConstructEvent(payload, c.GetHeader("Stripe-Signature"), h.cfg.Payment.StripeWebhookSecret)
	if err != nil {
		utils.BadRequestResponse(c, "Invalid webhook signature", nil)
		return
	}

	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			logrus.WithError(err).Error("Failed to parse checkout session")
			c.Status(http.StatusOK)
			return
		}

		completed, err := parseCompletedPayment(&sess)
		if err != nil {
			logrus.WithError(err).WithField("session_id", sess.ID).
				Error("Checkout session metadata is unusable")
			c.Status(http.StatusOK)
			return
		}

		if err := h.paymentService.ApplyCompletedPayment(*completed); err != nil {
			if services.IsDomainError(err) {
				// The failure mark is already persisted for
				// reconciliation; acknowledge so Stripe stops
				// redelivering an event no retry can fulfill.
				logrus.WithError(err).WithField("session_id", sess.ID).
					Warn("Payment fulfillment failed; marked for reconciliation")
				c.Status(http.StatusOK)
				return
			}
			logrus.WithError(err).WithField("session_id", sess.ID).
				Error("Failed to apply completed payment")
			utils.InternalErrorResponse(c, "Failed to apply payment")
			return
		}

	case "checkout.session.expired":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			logrus.WithError(err).Error("Failed to parse checkout session")
			c.Status(http.StatusOK)
			return
		}
		if err := h.paymentService.ApplyExpiredPayment(sess.ID); err != nil {
			logrus.WithError(err).WithField("session_id", sess.ID).
				Error("Failed to expire payment")
			utils.InternalErrorResponse(c, "Failed to expire payment")
			return
		}

	default:
		// Unhandled event types are acknowledged so Stripe stops retrying.
	}

	c.Status(http.StatusOK)
}

func parseCompletedPayment(sess *stripe.CheckoutSession) (*services.CompletedPayment, error) {
	buyerID, err := uuid.Parse(sess.Metadata["buyer_id"])
	if err != nil {
		return nil, errors.New("missing or invalid buyer_id metadata")
	}

	completed := &services.CompletedPayment{
		Reference:   sess.ID,
		Type:        models.PaymentType(sess.Metadata["type"]),
		BuyerID:     buyerID,
		AmountCents: sess.AmountTotal,
	}

	switch completed.Type {
	case models.PaymentTypeTreasuryPurchase:
		quantity, err := strconv.Atoi(sess.Metadata["quantity"])
		if err != nil || quantity < 1 {
			return nil, errors.New("missing or invalid quantity metadata")
		}
		year, err := strconv.Atoi(sess.Metadata["year"])
		if err != nil || year < 2000 {
			return nil, errors.New("missing or invalid year metadata")
		}
		completed.Quantity = quantity
		completed.IssuedYear = year

	case models.PaymentTypeMarketplacePurchase:
		listingID, err := uuid.Parse(sess.Metadata["listing_id"])
		if err != nil {
			return nil, errors.New("missing or invalid listing_id metadata")
		}
		completed.ListingID = listingID

	default:
		return nil, errors.New("unknown payment type in metadata")
	}

	return completed, nil
}
