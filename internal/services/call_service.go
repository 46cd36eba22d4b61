// internal/services/call_service.go
package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fridayapp/backend/internal/models"
)

// CallService persists call lifecycle transitions fed in by the
// signaling layer. Media relay stays out of this service; it only sees
// ringing/active/ended/failed.
type CallService struct {
	db     *gorm.DB
	policy BillablePolicy
}

func NewCallService(db *gorm.DB, policy BillablePolicy) *CallService {
	return &CallService{db: db, policy: policy}
}

// CreateRinging opens a call in ringing state. The billable-day policy
// is evaluated once here so the call record remembers whether this
// call is metered.
func (s *CallService) CreateRinging(callerID, calleeID uuid.UUID) (*models.Call, error) {
	call := &models.Call{
		CallerID: callerID,
		CalleeID: calleeID,
		Status:   models.CallStatusRinging,
		Billable: s.policy.BillableNow(),
	}
	if err := s.db.Create(call).Error; err != nil {
		return nil, fmt.Errorf("failed to create call: %w", err)
	}
	return call, nil
}

// MarkActive flips a ringing call to active.
func (s *CallService) MarkActive(callID uuid.UUID) error {
	now := time.Now()
	res := s.db.Model(&models.Call{}).
		Where("id = ? AND status = ?", callID, models.CallStatusRinging).
		Updates(map[string]interface{}{
			"status":     models.CallStatusActive,
			"started_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to mark call active: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// EndCall closes a call with the given terminal status. Ending an
// already-ended call is a no-op.
func (s *CallService) EndCall(callID uuid.UUID, status models.CallStatus) error {
	now := time.Now()
	return s.db.Model(&models.Call{}).
		Where("id = ? AND status IN ?", callID, []models.CallStatus{
			models.CallStatusRinging,
			models.CallStatusActive,
		}).
		Updates(map[string]interface{}{
			"status":   status,
			"ended_at": now,
		}).Error
}

func (s *CallService) GetCall(callID uuid.UUID) (*models.Call, error) {
	var call models.Call
	if err := s.db.First(&call, "id = ?", callID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("call %s not found", callID)
		}
		return nil, fmt.Errorf("failed to load call: %w", err)
	}
	return &call, nil
}
