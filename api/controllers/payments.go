package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/tishop/marketplace-backend/api/responses"
	"github.com/tishop/marketplace-backend/api/validators"
	"github.com/tishop/marketplace-backend/internal/settlement"
	moncashwebhook "github.com/tishop/marketplace-backend/internal/webhooks/moncash"
	"github.com/tishop/marketplace-backend/pkg/enums"
	pkgerrors "github.com/tishop/marketplace-backend/pkg/errors"
	"github.com/tishop/marketplace-backend/pkg/logger"
)

const maxWebhookBody = 64 << 10

type paymentService interface {
	InitiatePayment(ctx context.Context, orderID uuid.UUID) (*settlement.PaymentSession, error)
	ConfirmPayment(ctx context.Context, req settlement.PaymentConfirmationRequest) (*settlement.ConfirmationResult, error)
}

// WebhookHandler processes a decoded gateway notification.
type WebhookHandler interface {
	Handle(ctx context.Context, n moncashwebhook.Notification) (*moncashwebhook.Outcome, error)
}

// InitiateMonCashPayment opens a gateway payment for a pending order and returns the redirect URL.
func InitiateMonCashPayment(svc paymentService, logg *logger.Logger) http.HandlerFunc {
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

		session, err := svc.InitiatePayment(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, session)
	}
}

// MonCashReturn handles the browser redirect back from the gateway. The customer always lands
// on the confirmation page; failures travel in the error query parameter.
func MonCashReturn(svc paymentService, confirmPageURL string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		transactionID := validators.SanitizeString(query.Get("transaction_id"), 128)
		rawOrderID := validators.SanitizeString(query.Get("order_id"), 64)

		orderID, parseErr := uuid.Parse(rawOrderID)
		if transactionID == "" || parseErr != nil {
			redirectToConfirmation(w, r, confirmPageURL, map[string]string{"error": "missing_transaction_params"})
			return
		}
		if svc == nil {
			logg.Error(r.Context(), "moncash return without settlement service", nil)
			redirectToConfirmation(w, r, confirmPageURL, map[string]string{"error": "server_error"})
			return
		}

		result, err := svc.ConfirmPayment(r.Context(), settlement.PaymentConfirmationRequest{
			OrderID:       orderID,
			TransactionID: transactionID,
			Source:        enums.ConfirmationSourceReturn,
		})
		if err != nil {
			reason := returnErrorReason(err)
			if reason == "server_error" {
				logg.Error(logg.WithOrderID(r.Context(), orderID.String()), "moncash return confirmation failed", err)
			}
			redirectToConfirmation(w, r, confirmPageURL, map[string]string{
				"error":   reason,
				"orderId": orderID.String(),
			})
			return
		}
		redirectToConfirmation(w, r, confirmPageURL, map[string]string{
			"success": "true",
			"orderId": result.OrderID.String(),
		})
	}
}

func returnErrorReason(err error) string {
	switch {
	case errors.Is(err, settlement.ErrOrderNotFound):
		return "order_not_found"
	case errors.Is(err, settlement.ErrOrderCancelled):
		return "order_cancelled"
	case errors.Is(err, settlement.ErrPaymentUnverified),
		errors.Is(err, settlement.ErrTransactionReused),
		errors.Is(err, settlement.ErrManualPaymentOrder):
		return "payment_unsuccessful"
	case errors.Is(err, settlement.ErrAmountMismatch):
		return "amount_mismatch"
	case errors.Is(err, settlement.ErrGatewayUnavailable):
		return "verification_failed"
	}
	return "server_error"
}

func redirectToConfirmation(w http.ResponseWriter, r *http.Request, base string, params map[string]string) {
	target, err := url.Parse(base)
	if err != nil {
		http.Error(w, "invalid confirmation page", http.StatusInternalServerError)
		return
	}
	q := target.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// MonCashWebhook receives the gateway's server-to-server notification. Business rejections are
// acknowledged with 200 so the gateway stops retrying; infrastructure failures answer 503.
func MonCashWebhook(handler WebhookHandler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if handler == nil {
			writeWebhookStatus(w, http.StatusServiceUnavailable, "error", "webhook handler unavailable")
			return
		}

		var n moncashwebhook.Notification
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWebhookBody)).Decode(&n); err != nil {
			logg.Warn(r.Context(), "moncash webhook body malformed")
			writeWebhookStatus(w, http.StatusBadRequest, "error", "malformed body")
			return
		}

		outcome, err := handler.Handle(r.Context(), n)
		if err != nil {
			if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeValidation {
				writeWebhookStatus(w, http.StatusBadRequest, "error", typed.Message())
				return
			}
			logg.Error(r.Context(), "moncash webhook processing failed", err)
			writeWebhookStatus(w, http.StatusServiceUnavailable, "error", "processing failed")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(outcome)
	}
}

func writeWebhookStatus(w http.ResponseWriter, status int, value, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": value, "message": message})
}
