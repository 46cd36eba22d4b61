// internal/handlers/call.go
package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/fridayapp/backend/internal/models"
	"github.com/fridayapp/backend/internal/services"
	"github.com/fridayapp/backend/internal/utils"
)

// CallHandler drives the call lifecycle over plain HTTP. The realtime
// transport only reports presence and relays signaling; all state
// changes land here.
type CallHandler struct {
	calls     *services.CallService
	scheduler *services.BillingScheduler
	presence  *services.PresenceRegistry
}

func NewCallHandler(calls *services.CallService, scheduler *services.BillingScheduler, presence *services.PresenceRegistry) *CallHandler {
	return &CallHandler{
		calls:     calls,
		scheduler: scheduler,
		presence:  presence,
	}
}

type inviteRequest struct {
	CalleeID uuid.UUID `json:"callee_id" binding:"required"`
}

// POST /calls
func (h *CallHandler) Invite(c *gin.Context) {
	userID, ok := utils.GetUserIDFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	var req inviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid input", err.Error())
		return
	}

	if req.CalleeID == userID {
		utils.UnprocessableResponse(c, "You cannot call yourself")
		return
	}

	if _, online := h.presence.Lookup(req.CalleeID); !online {
		utils.ConflictResponse(c, "Callee is not online")
		return
	}

	call, err := h.calls.CreateRinging(userID, req.CalleeID)
	if err != nil {
		utils.InternalErrorResponse(c, "Failed to create call")
		return
	}

	utils.CreatedResponse(c, gin.H{"call": call})
}

// POST /calls/:id/answer
func (h *CallHandler) Answer(c *gin.Context) {
	userID, ok := utils.GetUserIDFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid call ID", nil)
		return
	}

	call, err := h.calls.GetCall(callID)
	if err != nil {
		utils.NotFoundResponse(c, "Call")
		return
	}
	if call.CalleeID != userID {
		utils.ForbiddenResponse(c, "Only the callee can answer")
		return
	}

	if err := h.calls.MarkActive(callID); err != nil {
		if errors.Is(err, services.ErrInvalidTransition) {
			utils.ConflictResponse(c, "Call is not ringing")
			return
		}
		utils.InternalErrorResponse(c, "Failed to answer call")
		return
	}

	// The caller pays. Billing failure means the caller has no minutes
	// left; the call is already ended as failed by the scheduler.
	if call.Billable {
		if err := h.scheduler.Start(callID, call.CallerID); err != nil {
			if errors.Is(err, services.ErrInsufficientBalance) {
				utils.ErrorResponse(c, 402, "INSUFFICIENT_BALANCE", "Caller has no remaining minutes", nil)
				return
			}
			utils.InternalErrorResponse(c, "Failed to start billing")
			return
		}
	}

	utils.SuccessResponse(c, gin.H{"answered": true})
}

// POST /calls/:id/end
func (h *CallHandler) End(c *gin.Context) {
	userID, ok := utils.GetUserIDFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid call ID", nil)
		return
	}

	call, err := h.calls.GetCall(callID)
	if err != nil {
		utils.NotFoundResponse(c, "Call")
		return
	}
	if call.CallerID != userID && call.CalleeID != userID {
		utils.ForbiddenResponse(c, "You are not part of this call")
		return
	}

	// Stop billing before flipping state so an in-flight charge still
	// sees a reserved token.
	h.scheduler.Stop(callID)

	if err := h.calls.EndCall(callID, models.CallStatusEnded); err != nil {
		utils.InternalErrorResponse(c, "Failed to end call")
		return
	}

	utils.SuccessResponse(c, gin.H{"ended": true})
}

// GET /calls/:id
func (h *CallHandler) GetCall(c *gin.Context) {
	userID, ok := utils.GetUserIDFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid call ID", nil)
		return
	}

	call, err := h.calls.GetCall(callID)
	if err != nil {
		utils.NotFoundResponse(c, "Call")
		return
	}
	if call.CallerID != userID && call.CalleeID != userID {
		utils.ForbiddenResponse(c, "You are not part of this call")
		return
	}

	utils.SuccessResponse(c, gin.H{"call": call})
}

type presenceRequest struct {
	ConnectionID string `json:"connection_id" binding:"required"`
}

// POST /presence/connect
func (h *CallHandler) Connect(c *gin.Context) {
	userID, ok := utils.GetUserIDFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	var req presenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid input", err.Error())
		return
	}

	h.presence.Connect(userID, req.ConnectionID)
	utils.SuccessResponse(c, gin.H{"online": true})
}

// POST /presence/disconnect
func (h *CallHandler) Disconnect(c *gin.Context) {
	userID, ok := utils.GetUserIDFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	var req presenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid input", err.Error())
		return
	}

	h.presence.Disconnect(userID, req.ConnectionID)
	utils.SuccessResponse(c, gin.H{"online": false})
}
