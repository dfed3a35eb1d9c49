package settlement

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tishop/marketplace-backend/pkg/db/models"
	"github.com/tishop/marketplace-backend/pkg/enums"
)

// PaymentConfirmationRequest is the single entry value for every payment trigger. The
// browser return and the gateway webhook both reduce to it.
type PaymentConfirmationRequest struct {
	OrderID       uuid.UUID
	TransactionID string
	Source        enums.ConfirmationSource
}

// DeliveryCode is the code issued to one seller order.
type DeliveryCode struct {
	SellerOrderID uuid.UUID `json:"sellerOrderId"`
	ShopID        uuid.UUID `json:"shopId"`
	Code          string    `json:"code"`
}

// ConfirmationResult reports the order after confirmation. AlreadyConfirmed is set when a
// previous confirmation had already done the work.
type ConfirmationResult struct {
	OrderID          uuid.UUID         `json:"orderId"`
	OrderNumber      string            `json:"orderNumber"`
	Status           enums.OrderStatus `json:"status"`
	Codes            []DeliveryCode    `json:"codes"`
	AlreadyConfirmed bool              `json:"alreadyConfirmed"`
}

// Actor identifies a seller or admin acting through the API.
type Actor struct {
	ID   uuid.UUID
	Role enums.ActorRole
}

// PaymentSession is what the customer is redirected to.
type PaymentSession struct {
	OrderID      uuid.UUID       `json:"orderId"`
	PaymentToken string          `json:"paymentToken"`
	RedirectURL  string          `json:"redirectUrl"`
	Amount       decimal.Decimal `json:"amount"`
}

type ShipInput struct {
	SellerOrderID uuid.UUID
	SellerID      uuid.UUID
}

type ConfirmDeliveryInput struct {
	SellerOrderID uuid.UUID
	SellerID      uuid.UUID
	Code          string
}

type CancelInput struct {
	SellerOrderID uuid.UUID
	SellerID      uuid.UUID
}

// TransitionResult is the seller order after a successful transition.
type TransitionResult struct {
	SellerOrderID uuid.UUID               `json:"sellerOrderId"`
	Status        enums.SellerOrderStatus `json:"status"`
	ChangedAt     time.Time               `json:"changedAt"`
}

// SellerOrderFilter narrows ListSellerOrders.
type SellerOrderFilter struct {
	Status *enums.SellerOrderStatus
}

// SellerOrderList is one page of a seller's orders, newest first.
type SellerOrderList struct {
	Items  []SellerOrderDTO `json:"items"`
	Cursor string           `json:"cursor"`
}

// SellerOrderDetail is a seller order with the customer's delivery contact and audit log.
type SellerOrderDetail struct {
	SellerOrder SellerOrderDTO     `json:"sellerOrder"`
	Delivery    DeliveryContactDTO `json:"delivery"`
	StatusLog   []StatusLogDTO     `json:"statusLog"`
}

// SellerOrderDTO is a seller order as its seller sees it. It has no delivery code field.
type SellerOrderDTO struct {
	ID                   uuid.UUID               `json:"id"`
	OrderID              uuid.UUID               `json:"orderId"`
	ShopID               uuid.UUID               `json:"shopId"`
	DeliveryMethod       enums.DeliveryMethod    `json:"deliveryMethod"`
	ItemsSubtotal        decimal.Decimal         `json:"itemsSubtotal"`
	DeliveryFee          decimal.Decimal         `json:"deliveryFee"`
	TotalAmount          decimal.Decimal         `json:"totalAmount"`
	Status               enums.SellerOrderStatus `json:"status"`
	DeliveryCodeAttempts int                     `json:"deliveryCodeAttempts"`
	ConfirmedAt          *time.Time              `json:"confirmedAt,omitempty"`
	ShippedAt            *time.Time              `json:"shippedAt,omitempty"`
	DeliveredAt          *time.Time              `json:"deliveredAt,omitempty"`
	CancelledAt          *time.Time              `json:"cancelledAt,omitempty"`
	CreatedAt            time.Time               `json:"createdAt"`
	Items                []SellerOrderItemDTO    `json:"items"`
}

type SellerOrderItemDTO struct {
	ProductID        uuid.UUID       `json:"productId"`
	ProductVariantID *uuid.UUID      `json:"productVariantId,omitempty"`
	Quantity         int             `json:"quantity"`
	UnitPrice        decimal.Decimal `json:"unitPrice"`
	TotalPrice       decimal.Decimal `json:"totalPrice"`
}

// DeliveryContactDTO is what a seller needs to hand the parcel over. The customer's email is
// left out because it is the key to the public order list.
type DeliveryContactDTO struct {
	OrderNumber      string    `json:"orderNumber"`
	CustomerName     string    `json:"customerName"`
	CustomerPhone    string    `json:"customerPhone"`
	DepartmentID     uuid.UUID `json:"departmentId"`
	ArrondissementID uuid.UUID `json:"arrondissementId"`
	CommuneID        uuid.UUID `json:"communeId"`
	Neighborhood     *string   `json:"neighborhood,omitempty"`
	Landmark         string    `json:"landmark"`
}

// StatusLogDTO is one audit row without the attempted code.
type StatusLogDTO struct {
	PreviousStatus enums.SellerOrderStatus `json:"previousStatus"`
	NewStatus      enums.SellerOrderStatus `json:"newStatus"`
	ChangedBy      enums.ChangedBy         `json:"changedBy"`
	Success        bool                    `json:"success"`
	Note           *string                 `json:"note,omitempty"`
	CreatedAt      time.Time               `json:"createdAt"`
}

func newSellerOrderDTO(so *models.SellerOrder) SellerOrderDTO {
	dto := SellerOrderDTO{
		ID:                   so.ID,
		OrderID:              so.OrderID,
		ShopID:               so.ShopID,
		DeliveryMethod:       so.DeliveryMethod,
		ItemsSubtotal:        so.ItemsSubtotal,
		DeliveryFee:          so.DeliveryFee,
		TotalAmount:          so.TotalAmount,
		Status:               so.Status,
		DeliveryCodeAttempts: so.DeliveryCodeAttempts,
		ConfirmedAt:          so.ConfirmedAt,
		ShippedAt:            so.ShippedAt,
		DeliveredAt:          so.DeliveredAt,
		CancelledAt:          so.CancelledAt,
		CreatedAt:            so.CreatedAt,
		Items:                make([]SellerOrderItemDTO, 0, len(so.Items)),
	}
	for _, item := range so.Items {
		dto.Items = append(dto.Items, SellerOrderItemDTO{
			ProductID:        item.ProductID,
			ProductVariantID: item.ProductVariantID,
			Quantity:         item.Quantity,
			UnitPrice:        item.UnitPrice,
			TotalPrice:       item.TotalPrice,
		})
	}
	return dto
}

func newDeliveryContactDTO(order *models.Order) DeliveryContactDTO {
	return DeliveryContactDTO{
		OrderNumber:      order.OrderNumber,
		CustomerName:     order.CustomerName,
		CustomerPhone:    order.CustomerPhone,
		DepartmentID:     order.DepartmentID,
		ArrondissementID: order.ArrondissementID,
		CommuneID:        order.CommuneID,
		Neighborhood:     order.Neighborhood,
		Landmark:         order.Landmark,
	}
}

func newStatusLogDTOs(rows []models.StatusLogEntry) []StatusLogDTO {
	out := make([]StatusLogDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, StatusLogDTO{
			PreviousStatus: row.PreviousStatus,
			NewStatus:      row.NewStatus,
			ChangedBy:      row.ChangedBy,
			Success:        row.Success,
			Note:           row.Note,
			CreatedAt:      row.CreatedAt,
		})
	}
	return out
}
