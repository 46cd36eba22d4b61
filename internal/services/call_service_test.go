// internal/services/call_service_test.go
package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fridayapp/backend/internal/models"
)

func TestCreateRingingCapturesPolicy(t *testing.T) {
	db := setupTestDB(t)
	caller := createTestUser(t, db)
	callee := createTestUser(t, db)

	loc := time.UTC
	billable := NewCallService(db, BillablePolicy{Force: true, Location: loc})
	call, err := billable.CreateRinging(caller.ID, callee.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CallStatusRinging, call.Status)
	assert.True(t, call.Billable)

	free := NewCallService(db, BillablePolicy{
		Weekday:  time.Friday,
		Location: loc,
		Now:      func() time.Time { return time.Date(2026, 3, 5, 12, 0, 0, 0, loc) },
	})
	call, err = free.CreateRinging(caller.ID, callee.ID)
	require.NoError(t, err)
	assert.False(t, call.Billable)
}

func TestCallLifecycleTransitions(t *testing.T) {
	db := setupTestDB(t)
	calls := NewCallService(db, BillablePolicy{Force: true})
	caller := createTestUser(t, db)
	callee := createTestUser(t, db)

	call, err := calls.CreateRinging(caller.ID, callee.ID)
	require.NoError(t, err)

	require.NoError(t, calls.MarkActive(call.ID))
	got, err := calls.GetCall(call.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CallStatusActive, got.Status)
	assert.NotNil(t, got.StartedAt)

	// Answering twice is a stale transition.
	assert.ErrorIs(t, calls.MarkActive(call.ID), ErrInvalidTransition)

	require.NoError(t, calls.EndCall(call.ID, models.CallStatusEnded))
	got, err = calls.GetCall(call.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CallStatusEnded, got.Status)
	assert.NotNil(t, got.EndedAt)

	// Ending an ended call is a no-op, not an error.
	require.NoError(t, calls.EndCall(call.ID, models.CallStatusFailed))
	got, err = calls.GetCall(call.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CallStatusEnded, got.Status)
}

func TestGetCallNotFound(t *testing.T) {
	db := setupTestDB(t)
	calls := NewCallService(db, BillablePolicy{Force: true})

	_, err := calls.GetCall(uuid.New())
	assert.Error(t, err)
}
