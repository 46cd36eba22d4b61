// internal/services/billing_policy_test.go
package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fridayapp/backend/internal/config"
)

func TestBillablePolicyWeekday(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Bratislava")
	require.NoError(t, err)

	policy := BillablePolicy{Weekday: time.Friday, Location: loc}

	// 2026-03-06 is a Friday.
	policy.Now = func() time.Time { return time.Date(2026, 3, 6, 12, 0, 0, 0, loc) }
	assert.True(t, policy.BillableNow())

	policy.Now = func() time.Time { return time.Date(2026, 3, 5, 12, 0, 0, 0, loc) }
	assert.False(t, policy.BillableNow())
}

func TestBillablePolicyTimezoneBoundary(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Bratislava")
	require.NoError(t, err)

	policy := BillablePolicy{Weekday: time.Friday, Location: loc}

	// Thursday 23:30 UTC is already Friday 00:30 in Bratislava (UTC+1).
	policy.Now = func() time.Time { return time.Date(2026, 3, 5, 23, 30, 0, 0, time.UTC) }
	assert.True(t, policy.BillableNow())
}

func TestBillablePolicyForce(t *testing.T) {
	policy := BillablePolicy{Weekday: time.Friday, Force: true}
	policy.Now = func() time.Time { return time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC) }
	assert.True(t, policy.BillableNow())
}

func TestNewBillablePolicyRejectsBadTimezone(t *testing.T) {
	_, err := NewBillablePolicy(config.BillingConfig{Timezone: "Nowhere/Invalid"})
	assert.Error(t, err)
}
