// internal/services/billing_scheduler_test.go
package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/fridayapp/backend/internal/models"
)

func newSchedulerFixture(t *testing.T, interval time.Duration) (*BillingScheduler, *TokenLedger, *CallService, *gorm.DB) {
	db := setupTestDB(t)
	ledger := NewTokenLedger(db)
	policy := BillablePolicy{Force: true}
	calls := NewCallService(db, policy)
	scheduler := NewBillingScheduler(ledger, calls, policy, interval)
	return scheduler, ledger, calls, db
}

func TestSchedulerChargesPerInterval(t *testing.T) {
	scheduler, _, calls, db := newSchedulerFixture(t, 25*time.Millisecond)
	caller := createTestUser(t, db)
	callee := createTestUser(t, db)

	mintOwnedTokenAt(t, db, caller.ID, 60, time.Date(2026, 3, 6, 10, 0, 0, 0, time.UTC))
	call, err := calls.CreateRinging(caller.ID, callee.ID)
	require.NoError(t, err)
	require.NoError(t, calls.MarkActive(call.ID))

	require.NoError(t, scheduler.Start(call.ID, caller.ID))
	assert.True(t, scheduler.Active(call.ID))

	require.Eventually(t, func() bool {
		got, err := calls.GetCall(call.ID)
		return err == nil && got.ChargedMinutes >= 2
	}, 2*time.Second, 10*time.Millisecond)

	scheduler.Stop(call.ID)
	assert.False(t, scheduler.Active(call.ID))

	// The token went back to owned with minutes burned.
	var token models.Token
	require.NoError(t, db.First(&token, "owner_id = ?", caller.ID).Error)
	assert.Equal(t, models.TokenStatusOwned, token.Status)
	assert.Less(t, token.RemainingMinutes, 60)
}

func TestSchedulerStartIsIdempotent(t *testing.T) {
	scheduler, _, calls, db := newSchedulerFixture(t, time.Hour)
	caller := createTestUser(t, db)
	callee := createTestUser(t, db)

	mintOwnedTokenAt(t, db, caller.ID, 60, time.Date(2026, 3, 6, 10, 0, 0, 0, time.UTC))
	call, err := calls.CreateRinging(caller.ID, callee.ID)
	require.NoError(t, err)

	require.NoError(t, scheduler.Start(call.ID, caller.ID))
	require.NoError(t, scheduler.Start(call.ID, caller.ID))

	// Only one token reserved despite the duplicate start.
	var reserved int64
	require.NoError(t, db.Model(&models.Token{}).
		Where("status = ?", models.TokenStatusReserved).
		Count(&reserved).Error)
	assert.EqualValues(t, 1, reserved)

	scheduler.Stop(call.ID)
}

func TestSchedulerNonBillableStartIsFree(t *testing.T) {
	db := setupTestDB(t)
	ledger := NewTokenLedger(db)
	policy := BillablePolicy{
		Weekday: time.Friday,
		Now:     func() time.Time { return time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC) },
	}
	calls := NewCallService(db, policy)
	scheduler := NewBillingScheduler(ledger, calls, policy, 25*time.Millisecond)

	caller := createTestUser(t, db)
	callee := createTestUser(t, db)
	mintOwnedTokenAt(t, db, caller.ID, 60, time.Date(2026, 3, 6, 10, 0, 0, 0, time.UTC))

	call, err := calls.CreateRinging(caller.ID, callee.ID)
	require.NoError(t, err)

	require.NoError(t, scheduler.Start(call.ID, caller.ID))
	assert.False(t, scheduler.Active(call.ID))

	var reserved int64
	require.NoError(t, db.Model(&models.Token{}).
		Where("status = ?", models.TokenStatusReserved).
		Count(&reserved).Error)
	assert.Zero(t, reserved)
}

func TestSchedulerInsufficientBalanceFailsCall(t *testing.T) {
	scheduler, _, calls, db := newSchedulerFixture(t, time.Hour)
	caller := createTestUser(t, db)
	callee := createTestUser(t, db)

	call, err := calls.CreateRinging(caller.ID, callee.ID)
	require.NoError(t, err)
	require.NoError(t, calls.MarkActive(call.ID))

	err = scheduler.Start(call.ID, caller.ID)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.False(t, scheduler.Active(call.ID))

	got, err := calls.GetCall(call.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CallStatusFailed, got.Status)
}

func TestSchedulerSelfCancelsWhenTokenExhausted(t *testing.T) {
	scheduler, _, calls, db := newSchedulerFixture(t, 20*time.Millisecond)
	caller := createTestUser(t, db)
	callee := createTestUser(t, db)

	mintOwnedTokenAt(t, db, caller.ID, 1, time.Date(2026, 3, 6, 10, 0, 0, 0, time.UTC))
	call, err := calls.CreateRinging(caller.ID, callee.ID)
	require.NoError(t, err)
	require.NoError(t, calls.MarkActive(call.ID))

	require.NoError(t, scheduler.Start(call.ID, caller.ID))

	// One charge spends the token; the next tick hits ErrInvalidTransition
	// and the task cancels itself.
	require.Eventually(t, func() bool {
		return !scheduler.Active(call.ID)
	}, 2*time.Second, 10*time.Millisecond)

	var token models.Token
	require.NoError(t, db.First(&token, "owner_id = ?", caller.ID).Error)
	assert.Equal(t, models.TokenStatusSpent, token.Status)
	assert.Zero(t, token.RemainingMinutes)

	// Stop after self-cancel stays a no-op.
	scheduler.Stop(call.ID)
}

func TestSchedulerStopIsIdempotent(t *testing.T) {
	scheduler, _, calls, db := newSchedulerFixture(t, time.Hour)
	caller := createTestUser(t, db)
	callee := createTestUser(t, db)

	mintOwnedTokenAt(t, db, caller.ID, 60, time.Date(2026, 3, 6, 10, 0, 0, 0, time.UTC))
	call, err := calls.CreateRinging(caller.ID, callee.ID)
	require.NoError(t, err)

	require.NoError(t, scheduler.Start(call.ID, caller.ID))
	scheduler.Stop(call.ID)
	scheduler.Stop(call.ID)

	var token models.Token
	require.NoError(t, db.First(&token, "owner_id = ?", caller.ID).Error)
	assert.Equal(t, models.TokenStatusOwned, token.Status)
	assert.Equal(t, 60, token.RemainingMinutes)
}
