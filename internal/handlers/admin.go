// internal/handlers/admin.go
package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fridayapp/backend/internal/services"
	"github.com/fridayapp/backend/internal/utils"
)

type AdminHandler struct {
	adminService *services.AdminService
}

func NewAdminHandler(adminService *services.AdminService) *AdminHandler {
	return &AdminHandler{adminService: adminService}
}

type mintRequest struct {
	Quantity int `json:"quantity" binding:"required,gt=0"`
	Year     int `json:"year"`
}

// POST /admin/tokens/mint
func (h *AdminHandler) MintTokens(c *gin.Context) {
	var req mintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid input", err.Error())
		return
	}
	if req.Year == 0 {
		req.Year = time.Now().Year()
	}

	tokens, err := h.adminService.MintTreasury(req.Quantity, req.Year)
	if err != nil {
		utils.InternalErrorResponse(c, "Failed to mint tokens")
		return
	}

	utils.CreatedResponse(c, gin.H{
		"minted": len(tokens),
		"year":   req.Year,
	})
}

type setPriceRequest struct {
	PriceCents int64 `json:"price_cents" binding:"required,gt=0"`
}

// PUT /admin/settings/price
func (h *AdminHandler) SetPrice(c *gin.Context) {
	var req setPriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid input", err.Error())
		return
	}

	settings, err := h.adminService.SetPrice(req.PriceCents)
	if err != nil {
		utils.BadRequestResponse(c, err.Error(), nil)
		return
	}

	utils.SuccessResponse(c, gin.H{"settings": settings})
}

// GET /admin/settings
func (h *AdminHandler) GetSettings(c *gin.Context) {
	settings, err := h.adminService.GetSettings()
	if err != nil {
		utils.InternalErrorResponse(c, "Failed to load settings")
		return
	}

	utils.SuccessResponse(c, gin.H{"settings": settings})
}

// GET /admin/stats
func (h *AdminHandler) GetStats(c *gin.Context) {
	stats, err := h.adminService.Stats()
	if err != nil {
		utils.InternalErrorResponse(c, "Failed to load stats")
		return
	}

	utils.SuccessResponse(c, gin.H{"stats": stats})
}
