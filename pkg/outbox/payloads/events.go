package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tishop/marketplace-backend/pkg/enums"
)

// OrderCreatedEvent signals a new order split across sellers.
type OrderCreatedEvent struct {
	OrderID        uuid.UUID           `json:"order_id"`
	OrderNumber    string              `json:"order_number"`
	TotalAmount    decimal.Decimal     `json:"total_amount"`
	PaymentMethod  enums.PaymentMethod `json:"payment_method"`
	SellerOrderIDs []uuid.UUID         `json:"seller_order_ids"`
}

// DeliveryCodeNotice carries the code a customer hands to one seller's courier.
type DeliveryCodeNotice struct {
	SellerOrderID uuid.UUID       `json:"seller_order_id"`
	ShopID        uuid.UUID       `json:"shop_id"`
	DeliveryCode  string          `json:"delivery_code"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
}

// OrderPaidEvent is emitted once, by whichever confirmation moved the order to paid.
type OrderPaidEvent struct {
	OrderID       uuid.UUID                `json:"order_id"`
	OrderNumber   string                   `json:"order_number"`
	CustomerName  string                   `json:"customer_name"`
	CustomerEmail string                   `json:"customer_email"`
	TotalAmount   decimal.Decimal          `json:"total_amount"`
	TransactionID string                   `json:"transaction_id,omitempty"`
	Source        enums.ConfirmationSource `json:"source"`
	PaidAt        time.Time                `json:"paid_at"`
	Codes         []DeliveryCodeNotice     `json:"codes"`
}

// OrderCancelledEvent is emitted when a whole order is cancelled.
type OrderCancelledEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	Reason      string    `json:"reason"`
	CancelledAt time.Time `json:"cancelled_at"`
}

// SellerOrderDeliveredEvent starts the holding period for the seller's funds.
type SellerOrderDeliveredEvent struct {
	SellerOrderID uuid.UUID       `json:"seller_order_id"`
	OrderID       uuid.UUID       `json:"order_id"`
	SellerID      uuid.UUID       `json:"seller_id"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	DeliveredAt   time.Time       `json:"delivered_at"`
}

// SellerOrderCancelledEvent is emitted when a seller cancels their share.
type SellerOrderCancelledEvent struct {
	SellerOrderID  uuid.UUID               `json:"seller_order_id"`
	OrderID        uuid.UUID               `json:"order_id"`
	SellerID       uuid.UUID               `json:"seller_id"`
	PreviousStatus enums.SellerOrderStatus `json:"previous_status"`
	CancelledAt    time.Time               `json:"cancelled_at"`
}

// PayoutRequestedEvent is emitted when a seller reserves part of their available balance.
type PayoutRequestedEvent struct {
	PayoutID    uuid.UUID       `json:"payout_id"`
	SellerID    uuid.UUID       `json:"seller_id"`
	Amount      decimal.Decimal `json:"amount"`
	Method      string          `json:"method"`
	RequestedAt time.Time       `json:"requested_at"`
}
