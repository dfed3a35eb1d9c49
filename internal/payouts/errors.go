package payouts

import "errors"

var (
	ErrKYCNotApproved       = errors.New("kyc not approved")
	ErrMissingPayoutAccount = errors.New("missing payout account")
	ErrInvalidAmount        = errors.New("invalid payout amount")
	ErrInsufficientBalance  = errors.New("insufficient available balance")
)
