// internal/services/errors.go
package services

import "errors"

// Domain errors surfaced by the ledger, marketplace and billing
// components. Losers of a conditional-update race observe one of these
// rather than blocking; callers translate them into user-facing
// outcomes and never retry business failures silently.
var (
	// No owned token with minutes left; the call proceeds unbilled or
	// ends as failed, per policy.
	ErrInsufficientBalance = errors.New("no token available to reserve")

	// Listing creation preconditions.
	ErrTokenNotOwned    = errors.New("token not owned by user")
	ErrTokenNotListable = errors.New("token is not listable")

	// Lost a fulfillment race or the listing already closed.
	ErrListingUnavailable = errors.New("listing is no longer available")

	// The token behind a sale no longer matches the expected owner or
	// status at transfer time.
	ErrTokenNotTransferable = errors.New("token is not transferable")

	ErrInvalidTrade   = errors.New("buyer and seller cannot be the same user")
	ErrNotCancellable = errors.New("listing cannot be canceled")

	// Treasury fulfillment failures. Money was already captured
	// externally, so these mark the payment failed for reconciliation.
	ErrTreasurySoldOut       = errors.New("not enough treasury tokens for this year")
	ErrPurchaseLimitExceeded = errors.New("primary purchase limit reached for this year")

	// A charge hit a token no longer reserved for that call, e.g. a
	// timer firing racing a concurrent stop.
	ErrInvalidTransition = errors.New("token is not reserved for this call")
)
