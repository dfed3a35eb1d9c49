package payouts

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tishop/marketplace-backend/pkg/enums"
)

// Balances is a seller's money position. Every figure is rounded to two decimals.
type Balances struct {
	Available   decimal.Decimal `json:"availableBalance"`
	Pending     decimal.Decimal `json:"pendingBalance"`
	TotalEarned decimal.Decimal `json:"totalEarned"`
}

type WithdrawInput struct {
	SellerID uuid.UUID
	Amount   decimal.Decimal
}

// PayoutView is the seller-facing payout row.
type PayoutView struct {
	ID            uuid.UUID          `json:"id"`
	Amount        decimal.Decimal    `json:"amount"`
	Method        string             `json:"method"`
	Status        enums.PayoutStatus `json:"status"`
	RequestedAt   time.Time          `json:"requestedAt"`
	ProcessedAt   *time.Time         `json:"processedAt,omitempty"`
	TransactionID *string            `json:"transactionId,omitempty"`
}

type WithdrawResult struct {
	Payout   PayoutView `json:"payout"`
	Balances Balances   `json:"balances"`
}

// KYCSummary reports the latest KYC submission. Status is "not_submitted" when there is none.
type KYCSummary struct {
	Status              string  `json:"status"`
	PayoutMethod        *string `json:"payoutMethod"`
	PayoutAccountNumber *string `json:"payoutAccountNumber"`
	PayoutAccountName   *string `json:"payoutAccountName"`
}

type Summary struct {
	Balances    Balances     `json:"balances"`
	Payouts     []PayoutView `json:"payouts"`
	KYC         KYCSummary   `json:"kyc"`
	CanWithdraw bool         `json:"canWithdraw"`
}
