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
	pkgerrors "github.com/tishop/marketplace-backend/pkg/errors"
	"github.com/tishop/marketplace-backend/pkg/logger"
)

const defaultAdminCancelReason = "cancelled by admin"

type adminOrderService interface {
	MarkPaidManually(ctx context.Context, orderID uuid.UUID, actor settlement.Actor) (*settlement.ConfirmationResult, error)
	CancelOrder(ctx context.Context, orderID uuid.UUID, actor settlement.Actor, reason string) error
	ResetDeliveryAttempts(ctx context.Context, sellerOrderID uuid.UUID, actor settlement.Actor) error
}

type adminCancelRequest struct {
	Reason string `json:"reason,omitempty" validate:"omitempty,max=500"`
}

func adminFromRequest(r *http.Request) settlement.Actor {
	return settlement.Actor{
		ID:   middleware.ActorIDFromContext(r.Context()),
		Role: middleware.RoleFromContext(r.Context()),
	}
}

// AdminMarkOrderPaid approves a manual-payment order.
func AdminMarkOrderPaid(svc adminOrderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}
		orderID, err := validators.URLUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.MarkPaidManually(r.Context(), orderID, adminFromRequest(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func AdminCancelOrder(svc adminOrderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}
		orderID, err := validators.URLUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req adminCancelRequest
		if r.ContentLength > 0 {
			if err := validators.DecodeJSONBody(r, &req); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		reason := strings.TrimSpace(req.Reason)
		if reason == "" {
			reason = defaultAdminCancelReason
		}

		if err := svc.CancelOrder(r.Context(), orderID, adminFromRequest(r), reason); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"orderId": orderID, "status": "cancelled"})
	}
}

// AdminResetDeliveryAttempts lifts a delivery-code lockout on one seller order.
func AdminResetDeliveryAttempts(svc adminOrderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}
		sellerOrderID, err := validators.URLUUID(r, "sellerOrderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.ResetDeliveryAttempts(r.Context(), sellerOrderID, adminFromRequest(r)); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"sellerOrderId": sellerOrderID, "deliveryAttempts": 0})
	}
}
