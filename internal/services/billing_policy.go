// internal/services/billing_policy.go
package services

import (
	"fmt"
	"time"

	"github.com/fridayapp/backend/internal/config"
)

// BillablePolicy decides whether the current moment is metered. Calls
// outside the configured weekday (in the configured timezone) run free
// and never touch a token. Force makes every moment billable; Now is
// overridable for tests.
type BillablePolicy struct {
	Weekday  time.Weekday
	Location *time.Location
	Force    bool
	Now      func() time.Time
}

func NewBillablePolicy(cfg config.BillingConfig) (BillablePolicy, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return BillablePolicy{}, fmt.Errorf("invalid billing timezone %q: %w", cfg.Timezone, err)
	}
	return BillablePolicy{
		Weekday:  cfg.Weekday,
		Location: loc,
		Force:    cfg.ForceBillable,
	}, nil
}

func (p BillablePolicy) BillableNow() bool {
	if p.Force {
		return true
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	return now().In(loc).Weekday() == p.Weekday
}
