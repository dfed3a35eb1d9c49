package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/tishop/marketplace-backend/api/middleware"
	"github.com/tishop/marketplace-backend/api/responses"
	"github.com/tishop/marketplace-backend/api/validators"
	"github.com/tishop/marketplace-backend/internal/settlement"
	"github.com/tishop/marketplace-backend/pkg/enums"
	pkgerrors "github.com/tishop/marketplace-backend/pkg/errors"
	"github.com/tishop/marketplace-backend/pkg/logger"
	"github.com/tishop/marketplace-backend/pkg/pagination"
)

type sellerOrderService interface {
	Ship(ctx context.Context, input settlement.ShipInput) (*settlement.TransitionResult, error)
	ConfirmDelivery(ctx context.Context, input settlement.ConfirmDeliveryInput) (*settlement.TransitionResult, error)
	Cancel(ctx context.Context, input settlement.CancelInput) (*settlement.TransitionResult, error)
	ListSellerOrders(ctx context.Context, sellerID uuid.UUID, filter settlement.SellerOrderFilter, params pagination.Params) (*settlement.SellerOrderList, error)
	GetSellerOrder(ctx context.Context, sellerID, sellerOrderID uuid.UUID) (*settlement.SellerOrderDetail, error)
}

type sellerOrderStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=shipped cancelled"`
}

type confirmDeliveryRequest struct {
	Code string `json:"code" validate:"required,max=16"`
}

func sellerFromRequest(r *http.Request) (uuid.UUID, error) {
	sellerID := middleware.ActorIDFromContext(r.Context())
	if sellerID == uuid.Nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "seller identity missing")
	}
	return sellerID, nil
}

// SellerOrders lists the authenticated seller's orders, optionally filtered by ?status=.
func SellerOrders(svc sellerOrderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}
		sellerID, err := sellerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status, err := validators.ParseSellerOrderStatus(r, "status")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filter := settlement.SellerOrderFilter{Status: status}

		list, err := svc.ListSellerOrders(r.Context(), sellerID, filter, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

func SellerOrderDetail(svc sellerOrderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}
		sellerID, err := sellerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sellerOrderID, err := validators.URLUUID(r, "sellerOrderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		detail, err := svc.GetSellerOrder(r.Context(), sellerID, sellerOrderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, detail)
	}
}

// UpdateSellerOrderStatus applies the seller-driven transitions. Delivery goes through
// ConfirmSellerDelivery because it needs the customer's code.
func UpdateSellerOrderStatus(svc sellerOrderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}
		sellerID, err := sellerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sellerOrderID, err := validators.URLUUID(r, "sellerOrderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req sellerOrderStatusRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := logg.WithSellerID(logg.WithField(r.Context(), "seller_order_id", sellerOrderID.String()), sellerID.String())
		var result *settlement.TransitionResult
		switch enums.SellerOrderStatus(req.Status) {
		case enums.SellerOrderStatusShipped:
			result, err = svc.Ship(ctx, settlement.ShipInput{SellerOrderID: sellerOrderID, SellerID: sellerID})
		default:
			result, err = svc.Cancel(ctx, settlement.CancelInput{SellerOrderID: sellerOrderID, SellerID: sellerID})
		}
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func ConfirmSellerDelivery(svc sellerOrderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}
		sellerID, err := sellerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sellerOrderID, err := validators.URLUUID(r, "sellerOrderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req confirmDeliveryRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := logg.WithSellerID(logg.WithField(r.Context(), "seller_order_id", sellerOrderID.String()), sellerID.String())
		result, err := svc.ConfirmDelivery(ctx, settlement.ConfirmDeliveryInput{
			SellerOrderID: sellerOrderID,
			SellerID:      sellerID,
			Code:          strings.TrimSpace(req.Code),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
