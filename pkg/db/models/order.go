package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tishop/marketplace-backend/pkg/enums"
)

// Order is the customer-facing checkout record. TotalAmount is the sum of its seller orders.
// TransactionID is the gateway payment that settled it and is unique across orders.
type Order struct {
	ID               uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderNumber      string              `gorm:"column:order_number;not null"`
	CustomerName     string              `gorm:"column:customer_name;not null"`
	CustomerEmail    string              `gorm:"column:customer_email;not null"`
	CustomerPhone    string              `gorm:"column:customer_phone;not null"`
	DepartmentID     uuid.UUID           `gorm:"column:department_id;type:uuid;not null"`
	ArrondissementID uuid.UUID           `gorm:"column:arrondissement_id;type:uuid;not null"`
	CommuneID        uuid.UUID           `gorm:"column:commune_id;type:uuid;not null"`
	Neighborhood     *string             `gorm:"column:neighborhood"`
	Landmark         string              `gorm:"column:landmark;not null"`
	PaymentMethod    enums.PaymentMethod `gorm:"column:payment_method;not null;default:'moncash'"`
	TotalAmount      decimal.Decimal     `gorm:"column:total_amount;type:numeric(12,2);not null"`
	Status           enums.OrderStatus   `gorm:"column:status;not null;default:'pending'"`
	PaidAt           *time.Time          `gorm:"column:paid_at"`
	CancelledAt      *time.Time          `gorm:"column:cancelled_at"`
	TransactionID    *string             `gorm:"column:transaction_id"`
	SellerOrders     []SellerOrder       `gorm:"foreignKey:OrderID"`
	CreatedAt        time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (Order) TableName() string { return "orders" }

// SellerOrder is one seller's share of an Order. TotalAmount = ItemsSubtotal + DeliveryFee.
type SellerOrder struct {
	ID                   uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID              uuid.UUID               `gorm:"column:order_id;type:uuid;not null"`
	SellerID             uuid.UUID               `gorm:"column:seller_id;type:uuid;not null"`
	ShopID               uuid.UUID               `gorm:"column:shop_id;type:uuid;not null"`
	DeliveryMethod       enums.DeliveryMethod    `gorm:"column:delivery_method;not null;default:'delivery'"`
	DeliveryOptionID     *uuid.UUID              `gorm:"column:delivery_option_id;type:uuid"`
	ItemsSubtotal        decimal.Decimal         `gorm:"column:items_subtotal;type:numeric(12,2);not null"`
	DeliveryFee          decimal.Decimal         `gorm:"column:delivery_fee;type:numeric(12,2);not null"`
	TotalAmount          decimal.Decimal         `gorm:"column:total_amount;type:numeric(12,2);not null"`
	Status               enums.SellerOrderStatus `gorm:"column:status;not null;default:'pending'"`
	DeliveryCode         *string                 `gorm:"column:delivery_code"`
	DeliveryCodeAttempts int                     `gorm:"column:delivery_code_attempts;not null;default:0"`
	ConfirmedAt          *time.Time              `gorm:"column:confirmed_at"`
	ShippedAt            *time.Time              `gorm:"column:shipped_at"`
	DeliveredAt          *time.Time              `gorm:"column:delivered_at"`
	CancelledAt          *time.Time              `gorm:"column:cancelled_at"`
	Items                []OrderItem             `gorm:"foreignKey:SellerOrderID"`
	CreatedAt            time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (SellerOrder) TableName() string { return "seller_orders" }

// HasDeliveryCode reports whether a code was already issued.
func (s SellerOrder) HasDeliveryCode() bool {
	return s.DeliveryCode != nil && *s.DeliveryCode != ""
}

// OrderItem snapshots a cart line at creation time.
type OrderItem struct {
	ID               uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID          uuid.UUID       `gorm:"column:order_id;type:uuid;not null"`
	SellerOrderID    uuid.UUID       `gorm:"column:seller_order_id;type:uuid;not null"`
	ProductID        uuid.UUID       `gorm:"column:product_id;type:uuid;not null"`
	ProductVariantID *uuid.UUID      `gorm:"column:product_variant_id;type:uuid"`
	Quantity         int             `gorm:"column:quantity;not null"`
	UnitPrice        decimal.Decimal `gorm:"column:unit_price;type:numeric(12,2);not null"`
	TotalPrice       decimal.Decimal `gorm:"column:total_price;type:numeric(12,2);not null"`
	CreatedAt        time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (OrderItem) TableName() string { return "order_items" }

// StatusLogEntry is an append-only audit row for seller order transitions and delivery attempts.
type StatusLogEntry struct {
	ID             uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SellerOrderID  uuid.UUID               `gorm:"column:seller_order_id;type:uuid;not null"`
	PreviousStatus enums.SellerOrderStatus `gorm:"column:previous_status;not null"`
	NewStatus      enums.SellerOrderStatus `gorm:"column:new_status;not null"`
	ChangedBy      enums.ChangedBy         `gorm:"column:changed_by;not null"`
	AttemptedCode  *string                 `gorm:"column:attempted_code"`
	Success        bool                    `gorm:"column:success;not null"`
	Note           *string                 `gorm:"column:note"`
	CreatedAt      time.Time               `gorm:"column:created_at;autoCreateTime"`
}

func (StatusLogEntry) TableName() string { return "order_status_log" }
