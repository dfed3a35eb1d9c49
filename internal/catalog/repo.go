// Package catalog reads the product, shop and delivery tables owned by the catalog service.
package catalog

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tishop/marketplace-backend/pkg/db/models"
)

// Repository is the read-only catalog surface used when composing orders.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Product, error)
	FindVariants(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.ProductVariant, error)
	FindShops(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Shop, error)
	FindActiveDeliveryOptions(ctx context.Context, shopIDs []uuid.UUID, communeID uuid.UUID) (map[uuid.UUID]models.DeliveryOption, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a catalog repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Product, error) {
	out := make(map[uuid.UUID]models.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.Product
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ID] = row
	}
	return out, nil
}

func (r *repository) FindVariants(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.ProductVariant, error) {
	out := make(map[uuid.UUID]models.ProductVariant, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.ProductVariant
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ID] = row
	}
	return out, nil
}

func (r *repository) FindShops(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Shop, error) {
	out := make(map[uuid.UUID]models.Shop, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.Shop
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ID] = row
	}
	return out, nil
}

// FindActiveDeliveryOptions returns one active option per shop for the commune. When a shop
// has several, the cheapest wins.
func (r *repository) FindActiveDeliveryOptions(ctx context.Context, shopIDs []uuid.UUID, communeID uuid.UUID) (map[uuid.UUID]models.DeliveryOption, error) {
	out := make(map[uuid.UUID]models.DeliveryOption, len(shopIDs))
	if len(shopIDs) == 0 {
		return out, nil
	}
	var rows []models.DeliveryOption
	err := r.db.WithContext(ctx).
		Where("shop_id IN ? AND commune_id = ? AND is_active = ?", shopIDs, communeID, true).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if current, ok := out[row.ShopID]; ok && current.Price.LessThanOrEqual(row.Price) {
			continue
		}
		out[row.ShopID] = row
	}
	return out, nil
}
