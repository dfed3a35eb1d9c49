package orders

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tishop/marketplace-backend/pkg/db/models"
	"github.com/tishop/marketplace-backend/pkg/pagination"
)

// Repository persists orders and serves the customer-facing reads.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateOrder(ctx context.Context, order *models.Order) error
	FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	ListOrdersByEmail(ctx context.Context, email string, cursor *pagination.Cursor, limit int) ([]models.Order, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// CreateOrder inserts the order, its seller orders and their items. Callers run it inside a
// transaction so a failure part way leaves nothing behind.
func (r *repository) CreateOrder(ctx context.Context, order *models.Order) error {
	db := r.db.WithContext(ctx)
	if err := db.Omit(clause.Associations).Create(order).Error; err != nil {
		return err
	}
	for i := range order.SellerOrders {
		sellerOrder := &order.SellerOrders[i]
		sellerOrder.OrderID = order.ID
		if err := db.Omit(clause.Associations).Create(sellerOrder).Error; err != nil {
			return err
		}
		if len(sellerOrder.Items) == 0 {
			continue
		}
		for j := range sellerOrder.Items {
			sellerOrder.Items[j].OrderID = order.ID
			sellerOrder.Items[j].SellerOrderID = sellerOrder.ID
		}
		if err := db.Create(&sellerOrder.Items).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *repository) FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("SellerOrders", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, id ASC")
		}).
		Preload("SellerOrders.Items").
		Where("id = ?", orderID).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) ListOrdersByEmail(ctx context.Context, email string, cursor *pagination.Cursor, limit int) ([]models.Order, error) {
	query := r.db.WithContext(ctx).
		Preload("SellerOrders", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, id ASC")
		}).
		Where("customer_email = ?", strings.ToLower(strings.TrimSpace(email)))
	if cursor != nil {
		query = query.Where("(created_at < ? OR (created_at = ? AND id < ?))", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var rows []models.Order
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
