// internal/services/billing_scheduler.go
package services

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/fridayapp/backend/internal/models"
)

// BillingScheduler runs one recurring charge task per active billable
// call. Start reserves a token and spins up a per-call ticker that
// burns one minute per elapsed interval; Stop cancels the ticker, lets
// an in-flight charge finish, and releases the token. Both are
// idempotent. The per-call state lives in a mutex-guarded map, never
// in ambient globals.
type BillingScheduler struct {
	ledger   *TokenLedger
	calls    *CallService
	policy   BillablePolicy
	interval time.Duration

	mu     sync.Mutex
	active map[uuid.UUID]*callTicker
}

type callTicker struct {
	callID  uuid.UUID
	payerID uuid.UUID
	tokenID uuid.UUID

	stop chan struct{} // closed by Stop; no further firings after this
	done chan struct{} // closed when the ticker goroutine has exited
}

func NewBillingScheduler(ledger *TokenLedger, calls *CallService, policy BillablePolicy, interval time.Duration) *BillingScheduler {
	return &BillingScheduler{
		ledger:   ledger,
		calls:    calls,
		policy:   policy,
		interval: interval,
		active:   make(map[uuid.UUID]*callTicker),
	}
}

// Start begins billing for a call. Calling it again for the same call
// is a no-op. On a non-billable day nothing is reserved and nothing is
// ever charged. When no token can be reserved the call is ended as
// failed and ErrInsufficientBalance is returned; that is a business
// outcome, not a system error.
func (s *BillingScheduler) Start(callID, payerID uuid.UUID) error {
	if !s.policy.BillableNow() {
		return nil
	}

	ct := &callTicker{
		callID:  callID,
		payerID: payerID,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	s.mu.Lock()
	if _, exists := s.active[callID]; exists {
		s.mu.Unlock()
		return nil
	}
	s.active[callID] = ct
	s.mu.Unlock()

	token, err := s.ledger.ReserveForBilling(payerID, callID)
	if err != nil {
		s.removeTicker(callID, ct)
		close(ct.done)
		if errors.Is(err, ErrInsufficientBalance) {
			if endErr := s.calls.EndCall(callID, models.CallStatusFailed); endErr != nil {
				logrus.WithError(endErr).WithField("call_id", callID).
					Error("Failed to end call after reservation failure")
			}
		}
		return err
	}

	s.mu.Lock()
	if s.active[callID] != ct {
		// Stop won the race while we were reserving; hand the token
		// straight back.
		s.mu.Unlock()
		close(ct.done)
		if relErr := s.ledger.Release(token.ID); relErr != nil {
			logrus.WithError(relErr).WithField("token_id", token.ID).
				Error("Failed to release token after canceled start")
		}
		return nil
	}
	ct.tokenID = token.ID
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"call_id":  callID,
		"payer_id": payerID,
		"token_id": token.ID,
	}).Info("Billing started")

	go s.run(ct)
	return nil
}

// Stop cancels the recurring charge for a call, waits for any
// in-flight charge to finish and releases the reserved token. Safe to
// call more than once.
func (s *BillingScheduler) Stop(callID uuid.UUID) {
	s.mu.Lock()
	ct, ok := s.active[callID]
	if ok {
		delete(s.active, callID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	close(ct.stop)
	<-ct.done

	if ct.tokenID != uuid.Nil {
		if err := s.ledger.Release(ct.tokenID); err != nil {
			logrus.WithError(err).WithField("token_id", ct.tokenID).
				Error("Failed to release token on stop")
		}
	}

	logrus.WithField("call_id", callID).Info("Billing stopped")
}

// Active reports whether a billing task currently exists for the call.
func (s *BillingScheduler) Active(callID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[callID]
	return ok
}

func (s *BillingScheduler) run(ct *callTicker) {
	defer close(ct.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ct.stop:
			return
		case <-ticker.C:
			// Honor a cancellation that raced the tick.
			select {
			case <-ct.stop:
				return
			default:
			}

			// A long call can cross out of the billable day.
			if !s.policy.BillableNow() {
				continue
			}

			if err := s.ledger.ChargeMinute(ct.tokenID, ct.callID); err != nil {
				if errors.Is(err, ErrInvalidTransition) {
					logrus.WithFields(logrus.Fields{
						"call_id":  ct.callID,
						"token_id": ct.tokenID,
					}).Warn("Token no longer reserved for call; canceling billing task")
					s.selfCancel(ct)
					return
				}
				logrus.WithError(err).WithField("call_id", ct.callID).
					Error("Minute charge failed")
			}
		}
	}
}

// selfCancel removes the scheduler entry from inside the ticker
// goroutine after a charge found the token no longer reserved. Release
// is idempotent, so racing a concurrent Stop is harmless.
func (s *BillingScheduler) selfCancel(ct *callTicker) {
	s.removeTicker(ct.callID, ct)
	if err := s.ledger.Release(ct.tokenID); err != nil {
		logrus.WithError(err).WithField("token_id", ct.tokenID).
			Error("Failed to release token on self-cancel")
	}
}

func (s *BillingScheduler) removeTicker(callID uuid.UUID, ct *callTicker) {
	s.mu.Lock()
	if s.active[callID] == ct {
		delete(s.active, callID)
	}
	s.mu.Unlock()
}
