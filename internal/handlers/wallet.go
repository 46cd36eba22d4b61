// internal/handlers/wallet.go
package handlers

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fridayapp/backend/internal/services"
	"github.com/fridayapp/backend/internal/utils"
)

type WalletHandler struct {
	ledger *services.TokenLedger
}

func NewWalletHandler(ledger *services.TokenLedger) *WalletHandler {
	return &WalletHandler{ledger: ledger}
}

// GET /wallet
func (h *WalletHandler) GetWallet(c *gin.Context) {
	userID, ok := utils.GetUserIDFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	tokens, totalMinutes, err := h.ledger.WalletTokens(userID)
	if err != nil {
		utils.InternalErrorResponse(c, "Failed to load wallet")
		return
	}

	utils.SuccessResponse(c, gin.H{
		"tokens":        tokens,
		"total_minutes": totalMinutes,
	})
}

// GET /wallet/history
func (h *WalletHandler) GetHistory(c *gin.Context) {
	userID, ok := utils.GetUserIDFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	params := utils.GetPaginationParams(c)
	entries, err := h.ledger.LedgerHistory(userID, params.Limit)
	if err != nil {
		utils.InternalErrorResponse(c, "Failed to load ledger history")
		return
	}

	utils.SuccessResponse(c, gin.H{"entries": entries})
}

// GET /tokens/supply
func (h *WalletHandler) GetSupply(c *gin.Context) {
	year, err := strconv.Atoi(c.DefaultQuery("year", strconv.Itoa(time.Now().Year())))
	if err != nil || year < 2000 {
		utils.BadRequestResponse(c, "Invalid year", nil)
		return
	}

	available, err := h.ledger.TreasurySupply(year)
	if err != nil {
		utils.InternalErrorResponse(c, "Failed to load supply")
		return
	}

	utils.SuccessResponse(c, gin.H{
		"year":      year,
		"available": available,
	})
}
