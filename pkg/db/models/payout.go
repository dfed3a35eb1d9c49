package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tishop/marketplace-backend/pkg/enums"
)

// Payout is a seller withdrawal request.
type Payout struct {
	ID            uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SellerID      uuid.UUID          `gorm:"column:seller_id;type:uuid;not null"`
	Amount        decimal.Decimal    `gorm:"column:amount;type:numeric(12,2);not null"`
	Method        string             `gorm:"column:method;not null"`
	AccountNumber string             `gorm:"column:account_number;not null"`
	AccountName   *string            `gorm:"column:account_name"`
	Status        enums.PayoutStatus `gorm:"column:status;not null;default:'pending'"`
	RequestedAt   time.Time          `gorm:"column:requested_at;not null"`
	ProcessedAt   *time.Time         `gorm:"column:processed_at"`
	TransactionID *string            `gorm:"column:transaction_id"`
}

func (Payout) TableName() string { return "payouts" }

// BalanceTransaction journals movements of a seller balance.
type BalanceTransaction struct {
	ID          uuid.UUID                    `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SellerID    uuid.UUID                    `gorm:"column:seller_id;type:uuid;not null"`
	Type        enums.BalanceTransactionType `gorm:"column:type;not null"`
	Amount      decimal.Decimal              `gorm:"column:amount;type:numeric(12,2);not null"`
	ReferenceID *uuid.UUID                   `gorm:"column:reference_id;type:uuid"`
	Description string                       `gorm:"column:description;not null"`
	CreatedAt   time.Time                    `gorm:"column:created_at;autoCreateTime"`
}

func (BalanceTransaction) TableName() string { return "balance_transactions" }

// KYCDocument is the seller identity submission. Only the latest row (by SubmittedAt) counts.
type KYCDocument struct {
	ID                  uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SellerID            uuid.UUID       `gorm:"column:seller_id;type:uuid;not null"`
	Status              enums.KYCStatus `gorm:"column:status;not null"`
	PayoutMethod        *string         `gorm:"column:payout_method"`
	PayoutAccountNumber *string         `gorm:"column:payout_account_number"`
	PayoutAccountName   *string         `gorm:"column:payout_account_name"`
	SubmittedAt         time.Time       `gorm:"column:submitted_at;not null"`
}

func (KYCDocument) TableName() string { return "kyc_documents" }

// HasPayoutAccount reports whether both the payout method and account number are set.
func (k KYCDocument) HasPayoutAccount() bool {
	return k.PayoutMethod != nil && *k.PayoutMethod != "" &&
		k.PayoutAccountNumber != nil && *k.PayoutAccountNumber != ""
}
