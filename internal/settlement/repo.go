package settlement

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tishop/marketplace-backend/pkg/db/models"
	"github.com/tishop/marketplace-backend/pkg/enums"
	"github.com/tishop/marketplace-backend/pkg/pagination"
)

// Repository is the ledger access used by the settlement engine. Every state change is a
// conditional update that reports whether it moved a row.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	LockOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	FindSellerOrdersByOrder(ctx context.Context, orderID uuid.UUID) ([]models.SellerOrder, error)
	FindSellerOrder(ctx context.Context, sellerOrderID uuid.UUID) (*models.SellerOrder, error)
	LockSellerOrder(ctx context.Context, sellerOrderID uuid.UUID) (*models.SellerOrder, error)
	FindPendingOrdersBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	OrderIDForTransaction(ctx context.Context, transactionID string) (uuid.UUID, bool, error)

	IssueDeliveryCode(ctx context.Context, sellerOrderID uuid.UUID, code string, now time.Time) (bool, error)
	MarkOrderPaid(ctx context.Context, orderID uuid.UUID, transactionID string, now time.Time) (bool, error)
	MarkOrderCancelled(ctx context.Context, orderID uuid.UUID, now time.Time) (bool, error)
	UpdateSellerOrderIfStatus(ctx context.Context, sellerOrderID uuid.UUID, expected enums.SellerOrderStatus, updates map[string]any) (bool, error)
	AppendStatusLog(ctx context.Context, entry *models.StatusLogEntry) error

	ListSellerOrders(ctx context.Context, sellerID uuid.UUID, filter SellerOrderFilter, cursor *pagination.Cursor, limit int) ([]models.SellerOrder, error)
	ListStatusLog(ctx context.Context, sellerOrderID uuid.UUID) ([]models.StatusLogEntry, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a settlement repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("SellerOrders", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, id ASC")
		}).
		Where("id = ?", orderID).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// LockOrder reads the order row FOR UPDATE, then its seller orders. Concurrent confirmations of
// the same order serialize here.
func (r *repository) LockOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", orderID).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	sellerOrders, err := r.FindSellerOrdersByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	order.SellerOrders = sellerOrders
	return &order, nil
}

func (r *repository) FindSellerOrdersByOrder(ctx context.Context, orderID uuid.UUID) ([]models.SellerOrder, error) {
	var rows []models.SellerOrder
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) FindSellerOrder(ctx context.Context, sellerOrderID uuid.UUID) (*models.SellerOrder, error) {
	var row models.SellerOrder
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("id = ?", sellerOrderID).
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) LockSellerOrder(ctx context.Context, sellerOrderID uuid.UUID) (*models.SellerOrder, error) {
	var row models.SellerOrder
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", sellerOrderID).
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) FindPendingOrdersBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.OrderStatusPending, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// IssueDeliveryCode writes the code only when none exists yet. A pending seller order moves to
// confirmed; one the seller already shipped keeps its status.
func (r *repository) IssueDeliveryCode(ctx context.Context, sellerOrderID uuid.UUID, code string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.SellerOrder{}).
		Where("id = ? AND delivery_code IS NULL", sellerOrderID).
		Updates(map[string]any{
			"delivery_code":          code,
			"delivery_code_attempts": 0,
			"status":                 gorm.Expr("CASE WHEN status = ? THEN ? ELSE status END", enums.SellerOrderStatusPending, enums.SellerOrderStatusConfirmed),
			"confirmed_at":           now,
			"updated_at":             now,
		})
	return res.RowsAffected > 0, res.Error
}

// OrderIDForTransaction reports which order a gateway transaction already settled.
func (r *repository) OrderIDForTransaction(ctx context.Context, transactionID string) (uuid.UUID, bool, error) {
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Select("id").
		Where("transaction_id = ?", transactionID).
		Limit(1).
		Find(&rows).Error
	if err != nil || len(rows) == 0 {
		return uuid.Nil, false, err
	}
	return rows[0].ID, true, nil
}

// MarkOrderPaid flips pending to paid and records the settling transaction, if any. It
// reports false when another caller got there first.
func (r *repository) MarkOrderPaid(ctx context.Context, orderID uuid.UUID, transactionID string, now time.Time) (bool, error) {
	updates := map[string]any{
		"status":     enums.OrderStatusPaid,
		"paid_at":    now,
		"updated_at": now,
	}
	if transactionID != "" {
		updates["transaction_id"] = transactionID
	}
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", orderID, enums.OrderStatusPending).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

func (r *repository) MarkOrderCancelled(ctx context.Context, orderID uuid.UUID, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", orderID, enums.OrderStatusPending).
		Updates(map[string]any{
			"status":       enums.OrderStatusCancelled,
			"cancelled_at": now,
			"updated_at":   now,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *repository) UpdateSellerOrderIfStatus(ctx context.Context, sellerOrderID uuid.UUID, expected enums.SellerOrderStatus, updates map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.SellerOrder{}).
		Where("id = ? AND status = ?", sellerOrderID, expected).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

func (r *repository) AppendStatusLog(ctx context.Context, entry *models.StatusLogEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) ListSellerOrders(ctx context.Context, sellerID uuid.UUID, filter SellerOrderFilter, cursor *pagination.Cursor, limit int) ([]models.SellerOrder, error) {
	query := r.db.WithContext(ctx).
		Preload("Items").
		Where("seller_id = ?", sellerID)
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if cursor != nil {
		query = query.Where("(created_at < ? OR (created_at = ? AND id < ?))", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var rows []models.SellerOrder
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListStatusLog(ctx context.Context, sellerOrderID uuid.UUID) ([]models.StatusLogEntry, error) {
	var rows []models.StatusLogEntry
	err := r.db.WithContext(ctx).
		Where("seller_order_id = ?", sellerOrderID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	return rows, err
}
