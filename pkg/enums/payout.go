package enums

// PayoutStatus tracks a withdrawal request.
type PayoutStatus string

const (
	PayoutStatusPending    PayoutStatus = "pending"
	PayoutStatusProcessing PayoutStatus = "processing"
	PayoutStatusCompleted  PayoutStatus = "completed"
	PayoutStatusFailed     PayoutStatus = "failed"
)

// ReservesBalance reports whether a payout in this status still counts against the
// seller's available balance. Failed payouts release their reservation.
func (s PayoutStatus) ReservesBalance() bool {
	switch s {
	case PayoutStatusPending, PayoutStatusProcessing, PayoutStatusCompleted:
		return true
	}
	return false
}

// BalanceTransactionType labels a row in the seller balance journal.
type BalanceTransactionType string

const (
	BalanceTransactionPayoutRequest BalanceTransactionType = "payout_request"
)

// KYCStatus is the review state of a seller's identity documents.
type KYCStatus string

const (
	KYCStatusPending  KYCStatus = "pending"
	KYCStatusApproved KYCStatus = "approved"
	KYCStatusRejected KYCStatus = "rejected"
)
