package moncashwebhook

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/tishop/marketplace-backend/internal/settlement"
	"github.com/tishop/marketplace-backend/pkg/enums"
	pkgerrors "github.com/tishop/marketplace-backend/pkg/errors"
	"github.com/tishop/marketplace-backend/pkg/logger"
)

// Status is the body status returned to the gateway.
type Status string

const (
	StatusSuccess      Status = "success"
	StatusAcknowledged Status = "acknowledged"
)

// Notification is the server-to-server callback body.
type Notification struct {
	TransactionID string `json:"transaction_id"`
	OrderID       string `json:"order_id"`
	PaymentStatus string `json:"payment_status,omitempty"`
}

// Outcome tells the gateway the notification was handled and needs no retry.
type Outcome struct {
	Status   Status    `json:"status"`
	Message  string    `json:"message"`
	OrderID  uuid.UUID `json:"orderId"`
	Replayed bool      `json:"replayed,omitempty"`
}

type confirmer interface {
	ConfirmPayment(ctx context.Context, req settlement.PaymentConfirmationRequest) (*settlement.ConfirmationResult, error)
}

type guard interface {
	CheckAndMark(ctx context.Context, orderID uuid.UUID, transactionID string) (bool, error)
	Delete(ctx context.Context, orderID uuid.UUID, transactionID string) error
}

type Service struct {
	confirmer confirmer
	guard     guard
	logg      *logger.Logger
}

func NewService(c confirmer, g guard, logg *logger.Logger) (*Service, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "settlement service required")
	}
	if g == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{confirmer: c, guard: g, logg: logg}, nil
}

// Handle confirms the payment named by a webhook. Business rejections are acknowledged so the
// gateway stops retrying; a returned error means the gateway should try again. Replays are
// detected per (order, transaction) pair.
func (s *Service) Handle(ctx context.Context, n Notification) (*Outcome, error) {
	txID := strings.TrimSpace(n.TransactionID)
	rawOrderID := strings.TrimSpace(n.OrderID)
	if txID == "" || rawOrderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction_id and order_id are required")
	}
	orderID, err := uuid.Parse(rawOrderID)
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order_id must be a uuid")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id":       orderID.String(),
		"transaction_id": txID,
		"payment_status": n.PaymentStatus,
	})

	seen, err := s.guard.CheckAndMark(ctx, orderID, txID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check webhook idempotency")
	}
	if seen {
		s.logg.Info(logCtx, "moncash webhook replay ignored")
		return &Outcome{Status: StatusAcknowledged, Message: "already processed", OrderID: orderID, Replayed: true}, nil
	}

	_, err = s.confirmer.ConfirmPayment(ctx, settlement.PaymentConfirmationRequest{
		OrderID:       orderID,
		TransactionID: txID,
		Source:        enums.ConfirmationSourceWebhook,
	})
	if err == nil {
		s.logg.Info(logCtx, "moncash webhook settled order")
		return &Outcome{Status: StatusSuccess, Message: "order marked as paid", OrderID: orderID}, nil
	}

	if message, terminal := acknowledgement(err); terminal {
		if errors.Is(err, settlement.ErrPaymentUnverified) {
			// the gateway may report success on a later delivery
			s.forget(logCtx, orderID, txID)
		}
		s.logg.Warn(s.logg.WithField(logCtx, "reason", message), "moncash webhook acknowledged without settling")
		return &Outcome{Status: StatusAcknowledged, Message: message, OrderID: orderID}, nil
	}

	s.forget(logCtx, orderID, txID)
	return nil, err
}

func (s *Service) forget(ctx context.Context, orderID uuid.UUID, txID string) {
	if err := s.guard.Delete(ctx, orderID, txID); err != nil {
		s.logg.Error(ctx, "failed to clear webhook idempotency key", err)
	}
}

func acknowledgement(err error) (string, bool) {
	switch {
	case errors.Is(err, settlement.ErrOrderNotFound):
		return "order not found", true
	case errors.Is(err, settlement.ErrOrderCancelled):
		return "order cancelled", true
	case errors.Is(err, settlement.ErrAmountMismatch):
		return "amount mismatch", true
	case errors.Is(err, settlement.ErrPaymentUnverified):
		return "payment not successful", true
	case errors.Is(err, settlement.ErrTransactionReused):
		return "transaction already used", true
	case errors.Is(err, settlement.ErrManualPaymentOrder):
		return "order uses manual payment", true
	}
	return "", false
}
