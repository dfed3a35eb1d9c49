package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tishop/marketplace-backend/pkg/db/models"
	"github.com/tishop/marketplace-backend/pkg/enums"
)

// CartLine is one requested product in a checkout.
type CartLine struct {
	ProductID uuid.UUID
	VariantID *uuid.UUID
	Quantity  int
}

// CreateOrderInput carries the anonymous customer's checkout.
type CreateOrderInput struct {
	CustomerName     string
	CustomerEmail    string
	CustomerPhone    string
	DepartmentID     uuid.UUID
	ArrondissementID uuid.UUID
	CommuneID        uuid.UUID
	Neighborhood     *string
	Landmark         string
	DeliveryMethod   enums.DeliveryMethod
	PaymentMethod    enums.PaymentMethod
	Lines            []CartLine
}

// SellerSummary is one seller's share of a newly created order.
type SellerSummary struct {
	SellerOrderID uuid.UUID       `json:"sellerOrderId"`
	ShopID        uuid.UUID       `json:"shopId"`
	SellerID      uuid.UUID       `json:"sellerId"`
	ItemsSubtotal decimal.Decimal `json:"itemsSubtotal"`
	DeliveryFee   decimal.Decimal `json:"deliveryFee"`
	Total         decimal.Decimal `json:"total"`
}

// CreateOrderResult is returned to the customer after checkout.
type CreateOrderResult struct {
	OrderID         uuid.UUID           `json:"orderId"`
	OrderNumber     string              `json:"orderNumber"`
	TotalAmount     decimal.Decimal     `json:"totalAmount"`
	PaymentMethod   enums.PaymentMethod `json:"paymentMethod"`
	SellerSummaries []SellerSummary     `json:"sellerSummaries"`
}

// OrderList is one page of a customer's orders, newest first. Delivery codes are never
// included in list rows.
type OrderList struct {
	Items  []OrderDTO `json:"items"`
	Cursor string     `json:"cursor"`
}

// OrderDTO is the customer's view of an order.
type OrderDTO struct {
	ID               uuid.UUID           `json:"id"`
	OrderNumber      string              `json:"orderNumber"`
	CustomerName     string              `json:"customerName"`
	CustomerEmail    string              `json:"customerEmail"`
	CustomerPhone    string              `json:"customerPhone"`
	DepartmentID     uuid.UUID           `json:"departmentId"`
	ArrondissementID uuid.UUID           `json:"arrondissementId"`
	CommuneID        uuid.UUID           `json:"communeId"`
	Neighborhood     *string             `json:"neighborhood,omitempty"`
	Landmark         string              `json:"landmark"`
	PaymentMethod    enums.PaymentMethod `json:"paymentMethod"`
	TotalAmount      decimal.Decimal     `json:"totalAmount"`
	Status           enums.OrderStatus   `json:"status"`
	PaidAt           *time.Time          `json:"paidAt,omitempty"`
	CancelledAt      *time.Time          `json:"cancelledAt,omitempty"`
	CreatedAt        time.Time           `json:"createdAt"`
	SellerOrders     []SellerOrderDTO    `json:"sellerOrders"`
}

// SellerOrderDTO is one seller's share as the customer sees it. DeliveryCode is only set on
// the order detail read.
type SellerOrderDTO struct {
	ID             uuid.UUID               `json:"id"`
	ShopID         uuid.UUID               `json:"shopId"`
	DeliveryMethod enums.DeliveryMethod    `json:"deliveryMethod"`
	ItemsSubtotal  decimal.Decimal         `json:"itemsSubtotal"`
	DeliveryFee    decimal.Decimal         `json:"deliveryFee"`
	TotalAmount    decimal.Decimal         `json:"totalAmount"`
	Status         enums.SellerOrderStatus `json:"status"`
	DeliveryCode   *string                 `json:"deliveryCode,omitempty"`
	ShippedAt      *time.Time              `json:"shippedAt,omitempty"`
	DeliveredAt    *time.Time              `json:"deliveredAt,omitempty"`
	CancelledAt    *time.Time              `json:"cancelledAt,omitempty"`
	Items          []OrderItemDTO          `json:"items,omitempty"`
}

type OrderItemDTO struct {
	ProductID        uuid.UUID       `json:"productId"`
	ProductVariantID *uuid.UUID      `json:"productVariantId,omitempty"`
	Quantity         int             `json:"quantity"`
	UnitPrice        decimal.Decimal `json:"unitPrice"`
	TotalPrice       decimal.Decimal `json:"totalPrice"`
}

// NewOrderDTO converts a persisted order, including any delivery codes already issued.
func NewOrderDTO(order *models.Order) OrderDTO {
	dto := OrderDTO{
		ID:               order.ID,
		OrderNumber:      order.OrderNumber,
		CustomerName:     order.CustomerName,
		CustomerEmail:    order.CustomerEmail,
		CustomerPhone:    order.CustomerPhone,
		DepartmentID:     order.DepartmentID,
		ArrondissementID: order.ArrondissementID,
		CommuneID:        order.CommuneID,
		Neighborhood:     order.Neighborhood,
		Landmark:         order.Landmark,
		PaymentMethod:    order.PaymentMethod,
		TotalAmount:      order.TotalAmount,
		Status:           order.Status,
		PaidAt:           order.PaidAt,
		CancelledAt:      order.CancelledAt,
		CreatedAt:        order.CreatedAt,
		SellerOrders:     make([]SellerOrderDTO, 0, len(order.SellerOrders)),
	}
	for _, so := range order.SellerOrders {
		view := SellerOrderDTO{
			ID:             so.ID,
			ShopID:         so.ShopID,
			DeliveryMethod: so.DeliveryMethod,
			ItemsSubtotal:  so.ItemsSubtotal,
			DeliveryFee:    so.DeliveryFee,
			TotalAmount:    so.TotalAmount,
			Status:         so.Status,
			ShippedAt:      so.ShippedAt,
			DeliveredAt:    so.DeliveredAt,
			CancelledAt:    so.CancelledAt,
		}
		if so.HasDeliveryCode() {
			code := *so.DeliveryCode
			view.DeliveryCode = &code
		}
		for _, item := range so.Items {
			view.Items = append(view.Items, OrderItemDTO{
				ProductID:        item.ProductID,
				ProductVariantID: item.ProductVariantID,
				Quantity:         item.Quantity,
				UnitPrice:        item.UnitPrice,
				TotalPrice:       item.TotalPrice,
			})
		}
		dto.SellerOrders = append(dto.SellerOrders, view)
	}
	return dto
}

// withoutCodes drops every delivery code from the view.
func (d OrderDTO) withoutCodes() OrderDTO {
	for i := range d.SellerOrders {
		d.SellerOrders[i].DeliveryCode = nil
	}
	return d
}
