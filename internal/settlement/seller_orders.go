package settlement

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tishop/marketplace-backend/pkg/db/models"
	"github.com/tishop/marketplace-backend/pkg/enums"
	pkgerrors "github.com/tishop/marketplace-backend/pkg/errors"
	"github.com/tishop/marketplace-backend/pkg/outbox"
	"github.com/tishop/marketplace-backend/pkg/outbox/payloads"
	"github.com/tishop/marketplace-backend/pkg/pagination"
)

const noteAttemptsLocked = "delivery code attempts exhausted"

func (s *service) Ship(ctx context.Context, input ShipInput) (*TransitionResult, error) {
	if input.SellerOrderID == uuid.Nil || input.SellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller order id and seller id are required")
	}

	var result *TransitionResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		so, err := s.lockOwned(ctx, repo, input.SellerOrderID, input.SellerID)
		if err != nil {
			return err
		}
		if !so.Status.CanTransitionTo(enums.SellerOrderStatusShipped) {
			return invalidTransition(so.Status, enums.SellerOrderStatusShipped)
		}

		now := s.now().UTC()
		moved, err := repo.UpdateSellerOrderIfStatus(ctx, so.ID, so.Status, map[string]any{
			"status":     enums.SellerOrderStatusShipped,
			"shipped_at": now,
			"updated_at": now,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "ship seller order")
		}
		if !moved {
			return invalidTransition(so.Status, enums.SellerOrderStatusShipped)
		}
		if err := repo.AppendStatusLog(ctx, &models.StatusLogEntry{
			SellerOrderID:  so.ID,
			PreviousStatus: so.Status,
			NewStatus:      enums.SellerOrderStatusShipped,
			ChangedBy:      enums.ChangedBySeller,
			Success:        true,
			CreatedAt:      now,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write status log")
		}
		result = &TransitionResult{SellerOrderID: so.ID, Status: enums.SellerOrderStatusShipped, ChangedAt: now}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"seller_order_id": input.SellerOrderID.String(),
		"seller_id":       input.SellerID.String(),
	}), "seller order shipped")
	return result, nil
}

// ConfirmDelivery checks the customer's code against the issued one. Failed attempts are
// committed before the error is returned so the attempt counter and audit row survive.
func (s *service) ConfirmDelivery(ctx context.Context, input ConfirmDeliveryInput) (*TransitionResult, error) {
	if input.SellerOrderID == uuid.Nil || input.SellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller order id and seller id are required")
	}
	code := strings.TrimSpace(input.Code)
	if !ValidDeliveryCode(code) {
		s.metrics.IncDelivery("invalid_format")
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delivery code must be 6 digits")
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"seller_order_id": input.SellerOrderID.String(),
		"seller_id":       input.SellerID.String(),
	})
	maxAttempts := s.cfg.MaxDeliveryAttempts

	var (
		result  *TransitionResult
		outcome error
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		so, err := s.lockOwned(ctx, repo, input.SellerOrderID, input.SellerID)
		if err != nil {
			return err
		}
		if so.Status != enums.SellerOrderStatusShipped {
			return invalidTransition(so.Status, enums.SellerOrderStatusDelivered)
		}
		if !so.HasDeliveryCode() {
			return pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrNoCodeIssued, "no delivery code issued for this order")
		}

		now := s.now().UTC()
		if so.DeliveryCodeAttempts >= maxAttempts {
			note := noteAttemptsLocked
			if err := repo.AppendStatusLog(ctx, &models.StatusLogEntry{
				SellerOrderID:  so.ID,
				PreviousStatus: so.Status,
				NewStatus:      so.Status,
				ChangedBy:      enums.ChangedBySeller,
				AttemptedCode:  &code,
				Success:        false,
				Note:           &note,
				CreatedAt:      now,
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write status log")
			}
			outcome = pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrDeliveryCodeLocked, "too many failed delivery code attempts").
				WithDetails(map[string]any{"attemptsRemaining": 0})
			return nil
		}

		attempts := so.DeliveryCodeAttempts + 1
		if subtle.ConstantTimeCompare([]byte(code), []byte(*so.DeliveryCode)) != 1 {
			if _, err := repo.UpdateSellerOrderIfStatus(ctx, so.ID, enums.SellerOrderStatusShipped, map[string]any{
				"delivery_code_attempts": attempts,
				"updated_at":             now,
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record delivery attempt")
			}
			if err := repo.AppendStatusLog(ctx, &models.StatusLogEntry{
				SellerOrderID:  so.ID,
				PreviousStatus: so.Status,
				NewStatus:      so.Status,
				ChangedBy:      enums.ChangedBySeller,
				AttemptedCode:  &code,
				Success:        false,
				CreatedAt:      now,
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write status log")
			}
			outcome = pkgerrors.Wrap(pkgerrors.CodeValidation, ErrDeliveryCodeMismatch, "invalid delivery code").
				WithDetails(map[string]any{"attemptsRemaining": maxAttempts - attempts})
			return nil
		}

		moved, err := repo.UpdateSellerOrderIfStatus(ctx, so.ID, enums.SellerOrderStatusShipped, map[string]any{
			"status":                 enums.SellerOrderStatusDelivered,
			"delivered_at":           now,
			"delivery_code_attempts": attempts,
			"updated_at":             now,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark delivered")
		}
		if !moved {
			return invalidTransition(so.Status, enums.SellerOrderStatusDelivered)
		}
		if err := repo.AppendStatusLog(ctx, &models.StatusLogEntry{
			SellerOrderID:  so.ID,
			PreviousStatus: so.Status,
			NewStatus:      enums.SellerOrderStatusDelivered,
			ChangedBy:      enums.ChangedBySeller,
			AttemptedCode:  &code,
			Success:        true,
			CreatedAt:      now,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write status log")
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSellerOrderDelivered,
			AggregateType: enums.AggregateSellerOrder,
			AggregateID:   so.ID,
			Actor:         &outbox.ActorRef{ActorID: input.SellerID.String(), Role: string(enums.ActorRoleSeller)},
			OccurredAt:    now,
			Data: payloads.SellerOrderDeliveredEvent{
				SellerOrderID: so.ID,
				OrderID:       so.OrderID,
				SellerID:      so.SellerID,
				TotalAmount:   so.TotalAmount,
				DeliveredAt:   now,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit seller order delivered")
		}
		result = &TransitionResult{SellerOrderID: so.ID, Status: enums.SellerOrderStatusDelivered, ChangedAt: now}
		return nil
	})
	if err != nil {
		s.metrics.IncDelivery("rejected")
		return nil, err
	}

	switch {
	case errors.Is(outcome, ErrDeliveryCodeLocked):
		s.metrics.IncDelivery("locked")
		s.logg.Warn(ctx, "delivery code locked")
		return nil, outcome
	case outcome != nil:
		s.metrics.IncDelivery("mismatch")
		s.logg.Warn(ctx, "delivery code mismatch")
		return nil, outcome
	}
	s.metrics.IncDelivery("delivered")
	s.logg.Info(ctx, "seller order delivered")
	return result, nil
}

// Cancel lets a seller drop their share before it ships. When every share of the order is
// cancelled the order itself is cancelled.
func (s *service) Cancel(ctx context.Context, input CancelInput) (*TransitionResult, error) {
	if input.SellerOrderID == uuid.Nil || input.SellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller order id and seller id are required")
	}

	var result *TransitionResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		so, err := s.lockOwned(ctx, repo, input.SellerOrderID, input.SellerID)
		if err != nil {
			return err
		}
		if !so.Status.CanTransitionTo(enums.SellerOrderStatusCancelled) {
			return invalidTransition(so.Status, enums.SellerOrderStatusCancelled)
		}

		now := s.now().UTC()
		moved, err := repo.UpdateSellerOrderIfStatus(ctx, so.ID, so.Status, map[string]any{
			"status":       enums.SellerOrderStatusCancelled,
			"cancelled_at": now,
			"updated_at":   now,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel seller order")
		}
		if !moved {
			return invalidTransition(so.Status, enums.SellerOrderStatusCancelled)
		}
		if err := repo.AppendStatusLog(ctx, &models.StatusLogEntry{
			SellerOrderID:  so.ID,
			PreviousStatus: so.Status,
			NewStatus:      enums.SellerOrderStatusCancelled,
			ChangedBy:      enums.ChangedBySeller,
			Success:        true,
			CreatedAt:      now,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write status log")
		}
		seller := &outbox.ActorRef{ActorID: input.SellerID.String(), Role: string(enums.ActorRoleSeller)}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSellerOrderCancelled,
			AggregateType: enums.AggregateSellerOrder,
			AggregateID:   so.ID,
			Actor:         seller,
			OccurredAt:    now,
			Data: payloads.SellerOrderCancelledEvent{
				SellerOrderID:  so.ID,
				OrderID:        so.OrderID,
				SellerID:       so.SellerID,
				PreviousStatus: so.Status,
				CancelledAt:    now,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit seller order cancelled")
		}

		if err := s.cascadeOrderCancel(ctx, repo, tx, so.OrderID, seller, now); err != nil {
			return err
		}
		result = &TransitionResult{SellerOrderID: so.ID, Status: enums.SellerOrderStatusCancelled, ChangedAt: now}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithField(ctx, "seller_order_id", input.SellerOrderID.String()), "seller order cancelled")
	return result, nil
}

func (s *service) cascadeOrderCancel(ctx context.Context, repo Repository, tx *gorm.DB, orderID uuid.UUID, actor *outbox.ActorRef, now time.Time) error {
	siblings, err := repo.FindSellerOrdersByOrder(ctx, orderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load sibling seller orders")
	}
	for _, sibling := range siblings {
		if sibling.Status != enums.SellerOrderStatusCancelled {
			return nil
		}
	}
	moved, err := repo.MarkOrderCancelled(ctx, orderID, now)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel order")
	}
	if !moved {
		return nil
	}
	order, err := repo.FindOrder(ctx, orderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderCancelled,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Actor:         actor,
		OccurredAt:    now,
		Data: payloads.OrderCancelledEvent{
			OrderID:     orderID,
			OrderNumber: order.OrderNumber,
			Reason:      "all sellers cancelled",
			CancelledAt: now,
		},
	})
}

// ResetDeliveryAttempts unlocks a shipped seller order after an admin has verified the
// customer out of band.
func (s *service) ResetDeliveryAttempts(ctx context.Context, sellerOrderID uuid.UUID, actor Actor) error {
	if actor.Role != enums.ActorRoleAdmin {
		return pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	if sellerOrderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "seller order id required")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		so, err := repo.LockSellerOrder(ctx, sellerOrderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrSellerOrderNotFound, "seller order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock seller order")
		}
		if so.Status != enums.SellerOrderStatusShipped {
			return pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrInvalidTransition, "only shipped seller orders can be unlocked").
				WithDetails(map[string]any{"status": so.Status})
		}

		now := s.now().UTC()
		if _, err := repo.UpdateSellerOrderIfStatus(ctx, so.ID, enums.SellerOrderStatusShipped, map[string]any{
			"delivery_code_attempts": 0,
			"updated_at":             now,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reset delivery attempts")
		}
		note := "delivery attempts reset by admin " + actor.ID.String()
		if err := repo.AppendStatusLog(ctx, &models.StatusLogEntry{
			SellerOrderID:  so.ID,
			PreviousStatus: so.Status,
			NewStatus:      so.Status,
			ChangedBy:      enums.ChangedBySystem,
			Success:        true,
			Note:           &note,
			CreatedAt:      now,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write status log")
		}
		return nil
	})
}

func (s *service) ListSellerOrders(ctx context.Context, sellerID uuid.UUID, filter SellerOrderFilter, params pagination.Params) (*SellerOrderList, error) {
	if sellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller id required")
	}
	if filter.Status != nil && !filter.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown status filter")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	rows, err := s.repo.ListSellerOrders(ctx, sellerID, filter, cursor, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list seller orders")
	}
	page, next := pagination.Trim(rows, params.Limit, func(so models.SellerOrder) pagination.Cursor {
		return pagination.Cursor{CreatedAt: so.CreatedAt, ID: so.ID}
	})
	items := make([]SellerOrderDTO, 0, len(page))
	for i := range page {
		items = append(items, newSellerOrderDTO(&page[i]))
	}
	return &SellerOrderList{Items: items, Cursor: next}, nil
}

// GetSellerOrder returns one of the seller's orders with the customer's delivery contact. The
// delivery code, the customer's email and other sellers' shares are never included.
func (s *service) GetSellerOrder(ctx context.Context, sellerID, sellerOrderID uuid.UUID) (*SellerOrderDetail, error) {
	if sellerID == uuid.Nil || sellerOrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller id and seller order id are required")
	}
	so, err := s.repo.FindSellerOrder(ctx, sellerOrderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrSellerOrderNotFound, "seller order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load seller order")
	}
	if so.SellerID != sellerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "seller order belongs to another seller")
	}
	order, err := s.loadOrder(ctx, s.repo, so.OrderID)
	if err != nil {
		return nil, err
	}
	logs, err := s.repo.ListStatusLog(ctx, so.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load status log")
	}

	return &SellerOrderDetail{
		SellerOrder: newSellerOrderDTO(so),
		Delivery:    newDeliveryContactDTO(order),
		StatusLog:   newStatusLogDTOs(logs),
	}, nil
}

func (s *service) lockOwned(ctx context.Context, repo Repository, sellerOrderID, sellerID uuid.UUID) (*models.SellerOrder, error) {
	so, err := repo.LockSellerOrder(ctx, sellerOrderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrSellerOrderNotFound, "seller order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock seller order")
	}
	if so.SellerID != sellerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "seller order belongs to another seller")
	}
	return so, nil
}

func invalidTransition(from, to enums.SellerOrderStatus) error {
	return pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrInvalidTransition, "seller order cannot move to "+string(to)).
		WithDetails(map[string]any{"from": from, "to": to})
}
