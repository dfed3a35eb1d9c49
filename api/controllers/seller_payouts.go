package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tishop/marketplace-backend/api/responses"
	"github.com/tishop/marketplace-backend/api/validators"
	"github.com/tishop/marketplace-backend/internal/payouts"
	pkgerrors "github.com/tishop/marketplace-backend/pkg/errors"
	"github.com/tishop/marketplace-backend/pkg/logger"
)

type payoutService interface {
	Withdraw(ctx context.Context, input payouts.WithdrawInput) (*payouts.WithdrawResult, error)
	Summary(ctx context.Context, sellerID uuid.UUID) (*payouts.Summary, error)
}

type withdrawRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func SellerPayoutSummary(svc payoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payouts service unavailable"))
			return
		}
		sellerID, err := sellerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		summary, err := svc.Summary(r.Context(), sellerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}

// SellerWithdraw records a withdrawal request and answers 201 with the refreshed balances.
func SellerWithdraw(svc payoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payouts service unavailable"))
			return
		}
		sellerID, err := sellerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req withdrawRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !req.Amount.IsPositive() {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive").WithDetails(map[string]any{"field": "amount"}))
			return
		}

		ctx := logg.WithSellerID(r.Context(), sellerID.String())
		result, err := svc.Withdraw(ctx, payouts.WithdrawInput{SellerID: sellerID, Amount: req.Amount})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}
