package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/tishop/marketplace-backend/api/responses"
	"github.com/tishop/marketplace-backend/api/validators"
	"github.com/tishop/marketplace-backend/internal/orders"
	"github.com/tishop/marketplace-backend/pkg/enums"
	pkgerrors "github.com/tishop/marketplace-backend/pkg/errors"
	"github.com/tishop/marketplace-backend/pkg/logger"
	"github.com/tishop/marketplace-backend/pkg/pagination"
)

type orderService interface {
	CreateOrder(ctx context.Context, input orders.CreateOrderInput) (*orders.CreateOrderResult, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (*orders.OrderDTO, error)
	ListOrdersByEmail(ctx context.Context, email string, params pagination.Params) (*orders.OrderList, error)
}

type cartLineRequest struct {
	ProductID string  `json:"productId" validate:"required,uuid"`
	VariantID *string `json:"variantId,omitempty" validate:"omitempty,uuid"`
	Quantity  int     `json:"quantity" validate:"required,min=1,max=999"`
}

type createOrderRequest struct {
	CustomerName     string            `json:"customerName" validate:"required,max=200"`
	CustomerEmail    string            `json:"customerEmail" validate:"required,email"`
	CustomerPhone    string            `json:"customerPhone" validate:"required,max=32"`
	DepartmentID     string            `json:"departmentId" validate:"required,uuid"`
	ArrondissementID string            `json:"arrondissementId" validate:"required,uuid"`
	CommuneID        string            `json:"communeId" validate:"required,uuid"`
	Neighborhood     *string           `json:"neighborhood,omitempty" validate:"omitempty,max=200"`
	Landmark         string            `json:"landmark" validate:"required,max=500"`
	DeliveryMethod   string            `json:"deliveryMethod,omitempty" validate:"omitempty,oneof=delivery pickup"`
	PaymentMethod    string            `json:"paymentMethod,omitempty" validate:"omitempty,oneof=moncash manual"`
	Items            []cartLineRequest `json:"items" validate:"required,min=1,dive"`
}

func (req createOrderRequest) toInput() (orders.CreateOrderInput, error) {
	delivery, err := enums.ParseDeliveryMethod(req.DeliveryMethod)
	if err != nil {
		return orders.CreateOrderInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid delivery method")
	}
	payment, err := enums.ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		return orders.CreateOrderInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment method")
	}

	input := orders.CreateOrderInput{
		CustomerName:     strings.TrimSpace(req.CustomerName),
		CustomerEmail:    strings.TrimSpace(req.CustomerEmail),
		CustomerPhone:    strings.TrimSpace(req.CustomerPhone),
		DepartmentID:     uuid.MustParse(req.DepartmentID),
		ArrondissementID: uuid.MustParse(req.ArrondissementID),
		CommuneID:        uuid.MustParse(req.CommuneID),
		Neighborhood:     req.Neighborhood,
		Landmark:         strings.TrimSpace(req.Landmark),
		DeliveryMethod:   delivery,
		PaymentMethod:    payment,
		Lines:            make([]orders.CartLine, 0, len(req.Items)),
	}
	for _, item := range req.Items {
		line := orders.CartLine{
			ProductID: uuid.MustParse(item.ProductID),
			Quantity:  item.Quantity,
		}
		if item.VariantID != nil {
			variantID := uuid.MustParse(*item.VariantID)
			line.VariantID = &variantID
		}
		input.Lines = append(input.Lines, line)
	}
	return input, nil
}

// CreateOrder turns an anonymous checkout into a pending order.
func CreateOrder(svc orderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		var req createOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input, err := req.toInput()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.CreateOrder(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// ListOrders returns the orders placed with the email in the query string.
func ListOrders(svc orderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		email := validators.SanitizeString(r.URL.Query().Get("email"), 254)
		if email == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "email is required").WithDetails(map[string]any{"field": "email"}))
			return
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.ListOrdersByEmail(r.Context(), email, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

func OrderDetail(svc orderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		orderID, err := validators.URLUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.GetOrder(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}
