package settlement

import "errors"

// Sentinels are wrapped in pkgerrors codes; callers match them with errors.Is.
var (
	ErrOrderNotFound        = errors.New("order not found")
	ErrSellerOrderNotFound  = errors.New("seller order not found")
	ErrOrderCancelled       = errors.New("order cancelled")
	ErrOrderAlreadyPaid     = errors.New("order already paid")
	ErrPaymentUnverified    = errors.New("payment unverified")
	ErrAmountMismatch       = errors.New("payment amount mismatch")
	ErrGatewayUnavailable   = errors.New("payment gateway unavailable")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrNoCodeIssued         = errors.New("no delivery code issued")
	ErrDeliveryCodeMismatch = errors.New("delivery code mismatch")
	ErrDeliveryCodeLocked   = errors.New("delivery code locked")
	ErrManualPaymentOrder   = errors.New("order uses manual payment")
	ErrNotManualPayment     = errors.New("order is not a manual payment order")
	ErrCodeSpaceExhausted   = errors.New("could not draw a unique delivery code")
	ErrTransactionReused    = errors.New("transaction already settled another order")
)
