// internal/handlers/market.go
package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/fridayapp/backend/internal/services"
	"github.com/fridayapp/backend/internal/utils"
)

type MarketHandler struct {
	marketplace *services.MarketplaceService
}

func NewMarketHandler(marketplace *services.MarketplaceService) *MarketHandler {
	return &MarketHandler{marketplace: marketplace}
}

type createListingRequest struct {
	TokenID    uuid.UUID `json:"token_id" binding:"required"`
	PriceCents int64     `json:"price_cents" binding:"required,gt=0"`
}

// POST /marketplace/listings
func (h *MarketHandler) CreateListing(c *gin.Context) {
	userID, ok := utils.GetUserIDFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	var req createListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid input", err.Error())
		return
	}

	listing, err := h.marketplace.CreateListing(userID, req.TokenID, req.PriceCents)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrTokenNotOwned):
			utils.ForbiddenResponse(c, "Token does not belong to you")
		case errors.Is(err, services.ErrTokenNotListable):
			utils.UnprocessableResponse(c, "Only full, unlisted tokens can be listed")
		default:
			utils.InternalErrorResponse(c, "Failed to create listing")
		}
		return
	}

	utils.CreatedResponse(c, gin.H{"listing": listing})
}

// DELETE /marketplace/listings/:id
func (h *MarketHandler) CancelListing(c *gin.Context) {
	userID, ok := utils.GetUserIDFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	listingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid listing ID", nil)
		return
	}

	if err := h.marketplace.CancelListing(userID, listingID); err != nil {
		if errors.Is(err, services.ErrNotCancellable) {
			utils.ConflictResponse(c, "Listing is not open or not yours")
			return
		}
		utils.InternalErrorResponse(c, "Failed to cancel listing")
		return
	}

	utils.SuccessResponse(c, gin.H{"canceled": true})
}

// GET /marketplace/listings
func (h *MarketHandler) GetListings(c *gin.Context) {
	params := utils.GetPaginationParams(c)
	listings, err := h.marketplace.OpenListings(params.Limit)
	if err != nil {
		utils.InternalErrorResponse(c, "Failed to load listings")
		return
	}

	utils.SuccessResponse(c, gin.H{"listings": listings})
}

// GET /marketplace/trades
func (h *MarketHandler) GetTrades(c *gin.Context) {
	userID, ok := utils.GetUserIDFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	params := utils.GetPaginationParams(c)
	trades, err := h.marketplace.TradeHistory(userID, params.Limit)
	if err != nil {
		utils.InternalErrorResponse(c, "Failed to load trades")
		return
	}

	utils.SuccessResponse(c, gin.H{"trades": trades})
}
