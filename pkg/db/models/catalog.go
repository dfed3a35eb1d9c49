package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Catalog rows are owned by the catalog service; this backend only reads them.

type Shop struct {
	ID       uuid.UUID `gorm:"column:id;type:uuid;primaryKey" yaml:"id"`
	SellerID uuid.UUID `gorm:"column:seller_id;type:uuid;not null" yaml:"seller_id"`
	Name     string    `gorm:"column:name;not null" yaml:"name"`
	IsActive bool      `gorm:"column:is_active;not null" yaml:"is_active"`
}

func (Shop) TableName() string { return "shops" }

type Product struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;primaryKey" yaml:"id"`
	ShopID      uuid.UUID       `gorm:"column:shop_id;type:uuid;not null" yaml:"shop_id"`
	Name        string          `gorm:"column:name;not null" yaml:"name"`
	Price       decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null" yaml:"price"`
	Stock       *int            `gorm:"column:stock" yaml:"stock"`
	HasVariants bool            `gorm:"column:has_variants;not null" yaml:"has_variants"`
	IsActive    bool            `gorm:"column:is_active;not null" yaml:"is_active"`
}

func (Product) TableName() string { return "products" }

type ProductVariant struct {
	ID        uuid.UUID        `gorm:"column:id;type:uuid;primaryKey" yaml:"id"`
	ProductID uuid.UUID        `gorm:"column:product_id;type:uuid;not null" yaml:"product_id"`
	Name      string           `gorm:"column:name;not null" yaml:"name"`
	Price     *decimal.Decimal `gorm:"column:price;type:numeric(12,2)" yaml:"price"`
	Stock     *int             `gorm:"column:stock" yaml:"stock"`
}

func (ProductVariant) TableName() string { return "product_variants" }

type DeliveryOption struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;primaryKey" yaml:"id"`
	ShopID        uuid.UUID       `gorm:"column:shop_id;type:uuid;not null" yaml:"shop_id"`
	CommuneID     uuid.UUID       `gorm:"column:commune_id;type:uuid;not null" yaml:"commune_id"`
	Price         decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null" yaml:"price"`
	EstimatedDays *int            `gorm:"column:estimated_days" yaml:"estimated_days"`
	IsActive      bool            `gorm:"column:is_active;not null" yaml:"is_active"`
}

func (DeliveryOption) TableName() string { return "delivery_options" }
