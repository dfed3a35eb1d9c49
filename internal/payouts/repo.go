package payouts

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tishop/marketplace-backend/pkg/db/models"
	"github.com/tishop/marketplace-backend/pkg/enums"
)

// Repository reads the ledger rows that balances derive from and records withdrawals.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	ListEarningRows(ctx context.Context, sellerID uuid.UUID) ([]models.SellerOrder, error)
	ListPayouts(ctx context.Context, sellerID uuid.UUID) ([]models.Payout, error)
	LatestKYC(ctx context.Context, sellerID uuid.UUID) (*models.KYCDocument, error)
	LockLatestKYC(ctx context.Context, sellerID uuid.UUID) (*models.KYCDocument, error)

	CreatePayout(ctx context.Context, payout *models.Payout) error
	CreateBalanceTransaction(ctx context.Context, entry *models.BalanceTransaction) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// ListEarningRows returns the seller's non-cancelled seller orders with only the columns the
// balance math needs.
func (r *repository) ListEarningRows(ctx context.Context, sellerID uuid.UUID) ([]models.SellerOrder, error) {
	var rows []models.SellerOrder
	err := r.db.WithContext(ctx).
		Select("id", "status", "total_amount", "delivered_at").
		Where("seller_id = ? AND status <> ?", sellerID, enums.SellerOrderStatusCancelled).
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListPayouts(ctx context.Context, sellerID uuid.UUID) ([]models.Payout, error) {
	var rows []models.Payout
	err := r.db.WithContext(ctx).
		Where("seller_id = ?", sellerID).
		Order("requested_at DESC").
		Find(&rows).Error
	return rows, err
}

// LatestKYC returns nil without error when the seller never submitted KYC.
func (r *repository) LatestKYC(ctx context.Context, sellerID uuid.UUID) (*models.KYCDocument, error) {
	return r.latestKYC(r.db.WithContext(ctx), sellerID)
}

// LockLatestKYC takes a row lock on the latest KYC record. Withdrawals by the same seller
// serialize on it, so the balance check and the insert cannot interleave.
func (r *repository) LockLatestKYC(ctx context.Context, sellerID uuid.UUID) (*models.KYCDocument, error) {
	return r.latestKYC(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), sellerID)
}

func (r *repository) latestKYC(db *gorm.DB, sellerID uuid.UUID) (*models.KYCDocument, error) {
	var doc models.KYCDocument
	err := db.
		Where("seller_id = ?", sellerID).
		Order("submitted_at DESC").
		Limit(1).
		Take(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *repository) CreatePayout(ctx context.Context, payout *models.Payout) error {
	if payout.ID == uuid.Nil {
		payout.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(payout).Error
}

func (r *repository) CreateBalanceTransaction(ctx context.Context, entry *models.BalanceTransaction) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(entry).Error
}
