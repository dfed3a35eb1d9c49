package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tishop/marketplace-backend/pkg/config"
	"github.com/tishop/marketplace-backend/pkg/db"
	"github.com/tishop/marketplace-backend/pkg/db/models"
	"github.com/tishop/marketplace-backend/pkg/enums"
	pkgerrors "github.com/tishop/marketplace-backend/pkg/errors"
	"github.com/tishop/marketplace-backend/pkg/logger"
	"github.com/tishop/marketplace-backend/pkg/metrics"
	"github.com/tishop/marketplace-backend/pkg/moncash"
	"github.com/tishop/marketplace-backend/pkg/outbox"
	"github.com/tishop/marketplace-backend/pkg/outbox/payloads"
	"github.com/tishop/marketplace-backend/pkg/pagination"
)

const transactionConstraint = "transaction_id"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service is the order settlement state machine.
type Service interface {
	InitiatePayment(ctx context.Context, orderID uuid.UUID) (*PaymentSession, error)
	ConfirmPayment(ctx context.Context, req PaymentConfirmationRequest) (*ConfirmationResult, error)
	MarkPaidManually(ctx context.Context, orderID uuid.UUID, actor Actor) (*ConfirmationResult, error)
	CancelOrder(ctx context.Context, orderID uuid.UUID, actor Actor, reason string) error

	Ship(ctx context.Context, input ShipInput) (*TransitionResult, error)
	ConfirmDelivery(ctx context.Context, input ConfirmDeliveryInput) (*TransitionResult, error)
	Cancel(ctx context.Context, input CancelInput) (*TransitionResult, error)
	ResetDeliveryAttempts(ctx context.Context, sellerOrderID uuid.UUID, actor Actor) error

	ListSellerOrders(ctx context.Context, sellerID uuid.UUID, filter SellerOrderFilter, params pagination.Params) (*SellerOrderList, error)
	GetSellerOrder(ctx context.Context, sellerID, sellerOrderID uuid.UUID) (*SellerOrderDetail, error)
}

// Config holds the settlement policy knobs.
type Config struct {
	GatewayTimeout      time.Duration
	MaxDeliveryAttempts int
	CodeDrawAttempts    int
}

// ConfigFrom derives the policy from application configuration.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		GatewayTimeout:      cfg.MonCash.Timeout,
		MaxDeliveryAttempts: cfg.Settlement.MaxDeliveryAttempts,
		CodeDrawAttempts:    cfg.Settlement.DeliveryCodeAttempts,
	}
}

func (c Config) withDefaults() Config {
	if c.GatewayTimeout <= 0 || c.GatewayTimeout > config.MaxGatewayTimeout {
		c.GatewayTimeout = config.MaxGatewayTimeout
	}
	if c.MaxDeliveryAttempts <= 0 {
		c.MaxDeliveryAttempts = 3
	}
	if c.CodeDrawAttempts <= 0 {
		c.CodeDrawAttempts = 10
	}
	return c
}

// Option customizes the service.
type Option func(*service)

func WithClock(now func() time.Time) Option {
	return func(s *service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithCodeGenerator(gen CodeGenerator) Option {
	return func(s *service) {
		if gen != nil {
			s.codes = gen
		}
	}
}

func WithMetrics(m *metrics.SettlementMetrics) Option {
	return func(s *service) {
		s.metrics = m
	}
}

type service struct {
	repo    Repository
	tx      txRunner
	outbox  outboxPublisher
	gateway moncash.Gateway
	logg    *logger.Logger
	cfg     Config
	codes   CodeGenerator
	metrics *metrics.SettlementMetrics
	now     func() time.Time
}

// NewService wires the settlement engine.
func NewService(repo Repository, tx txRunner, outbox outboxPublisher, gateway moncash.Gateway, logg *logger.Logger, cfg Config, opts ...Option) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("settlement repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	s := &service{
		repo:    repo,
		tx:      tx,
		outbox:  outbox,
		gateway: gateway,
		logg:    logg,
		cfg:     cfg.withDefaults(),
		codes:   NewRandomCodes(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *service) InitiatePayment(ctx context.Context, orderID uuid.UUID) (*PaymentSession, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.loadOrder(ctx, s.repo, orderID)
	if err != nil {
		return nil, err
	}
	switch {
	case order.Status == enums.OrderStatusCancelled:
		return nil, pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrOrderCancelled, "order has been cancelled")
	case order.Status == enums.OrderStatusPaid:
		return nil, pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrOrderAlreadyPaid, "order has already been paid")
	case order.PaymentMethod == enums.PaymentMethodManual:
		return nil, pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrManualPaymentOrder, "order is settled by manual payment")
	}

	gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()
	start := time.Now()
	payment, err := s.gateway.CreatePayment(gctx, order.TotalAmount, order.OrderNumber)
	s.metrics.ObserveGateway("create_payment", err, time.Since(start))
	if err != nil {
		s.logg.Error(s.logg.WithOrderID(ctx, order.ID.String()), "moncash create payment failed", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, errors.Join(ErrGatewayUnavailable, err), "could not create payment")
	}

	return &PaymentSession{
		OrderID:      order.ID,
		PaymentToken: payment.Token,
		RedirectURL:  payment.RedirectURL,
		Amount:       order.TotalAmount,
	}, nil
}

func (s *service) ConfirmPayment(ctx context.Context, req PaymentConfirmationRequest) (*ConfirmationResult, error) {
	req.TransactionID = strings.TrimSpace(req.TransactionID)
	if req.OrderID == uuid.Nil || req.TransactionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id and transaction id are required")
	}
	if req.Source != enums.ConfirmationSourceWebhook && req.Source != enums.ConfirmationSourceReturn {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown confirmation source")
	}

	ctx = s.logg.WithFields(s.logg.WithOrderID(ctx, req.OrderID.String()), map[string]any{
		"transaction_id": req.TransactionID,
		"source":         req.Source,
	})
	source := string(req.Source)

	order, err := s.loadOrder(ctx, s.repo, req.OrderID)
	if err != nil {
		s.metrics.IncConfirmation(source, "not_found")
		return nil, err
	}
	if order.Status == enums.OrderStatusCancelled {
		s.metrics.IncConfirmation(source, "cancelled")
		return nil, pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrOrderCancelled, "order has been cancelled")
	}
	if fullyConfirmed(order) {
		s.metrics.IncConfirmation(source, "already_confirmed")
		return resultFor(order, true), nil
	}
	if order.PaymentMethod == enums.PaymentMethodManual {
		s.metrics.IncConfirmation(source, "manual_order")
		return nil, pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrManualPaymentOrder, "order is settled by manual payment")
	}
	if err := s.checkTransactionUnused(ctx, order.ID, req.TransactionID); err != nil {
		s.metrics.IncConfirmation(source, outcomeFor(err))
		return nil, err
	}

	if err := s.verifyTransaction(ctx, order, req.TransactionID); err != nil {
		s.metrics.IncConfirmation(source, outcomeFor(err))
		return nil, err
	}

	result, err := s.settle(ctx, req.OrderID, settlement{
		changedBy:     enums.ChangedByPaymentConfirmation,
		source:        req.Source,
		transactionID: req.TransactionID,
	})
	if err != nil {
		s.metrics.IncConfirmation(source, outcomeFor(err))
		return nil, err
	}
	if result.AlreadyConfirmed {
		s.metrics.IncConfirmation(source, "already_confirmed")
	} else {
		s.metrics.IncConfirmation(source, "confirmed")
		s.logg.Info(ctx, "payment confirmed")
	}
	return result, nil
}

func (s *service) MarkPaidManually(ctx context.Context, orderID uuid.UUID, actor Actor) (*ConfirmationResult, error) {
	if actor.Role != enums.ActorRoleAdmin {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.loadOrder(ctx, s.repo, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == enums.OrderStatusCancelled {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrOrderCancelled, "order has been cancelled")
	}
	if order.PaymentMethod != enums.PaymentMethodManual {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrNotManualPayment, "order is settled through the payment gateway")
	}
	if fullyConfirmed(order) {
		return resultFor(order, true), nil
	}

	result, err := s.settle(ctx, orderID, settlement{
		changedBy: enums.ChangedByManualPayment,
		source:    enums.ConfirmationSourceManual,
		actor:     &actor,
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncConfirmation(string(enums.ConfirmationSourceManual), "confirmed")
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{"order_id": orderID.String(), "admin_id": actor.ID.String()}), "manual payment recorded")
	return result, nil
}

// checkTransactionUnused rejects a transaction that already settled a different order.
func (s *service) checkTransactionUnused(ctx context.Context, orderID uuid.UUID, transactionID string) error {
	owner, found, err := s.repo.OrderIDForTransaction(ctx, transactionID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "look up transaction")
	}
	if found && owner != orderID {
		s.logg.Warn(s.logg.WithField(ctx, "settled_order_id", owner.String()), "moncash transaction already settled another order")
		return pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrTransactionReused, "transaction already used for another order")
	}
	return nil
}

// verifyTransaction asks the gateway whether transactionID paid this order in full. Every
// failure leaves the order untouched so a later retry can still succeed. A transaction
// without a reference cannot be tied to the order and is refused.
func (s *service) verifyTransaction(ctx context.Context, order *models.Order, transactionID string) error {
	gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()

	start := time.Now()
	txn, err := s.gateway.RetrieveTransaction(gctx, transactionID)
	s.metrics.ObserveGateway("retrieve_transaction", err, time.Since(start))
	if err != nil {
		s.logg.Error(ctx, "moncash verification failed", err)
		return pkgerrors.Wrap(pkgerrors.CodeDependency, errors.Join(ErrGatewayUnavailable, err), "payment gateway verification failed")
	}
	if !txn.Successful() {
		s.logg.Warn(ctx, "moncash reports payment not successful")
		return pkgerrors.Wrap(pkgerrors.CodeVerification, ErrPaymentUnverified, "payment not successful").
			WithDetails(map[string]any{"gatewayStatus": txn.Message})
	}
	if txn.Reference == "" {
		s.logg.Warn(ctx, "moncash transaction carries no order reference")
		return pkgerrors.Wrap(pkgerrors.CodeVerification, ErrPaymentUnverified, "transaction does not reference an order")
	}
	if txn.Reference != order.OrderNumber && txn.Reference != order.ID.String() {
		s.logg.Warn(s.logg.WithField(ctx, "gateway_reference", txn.Reference), "moncash transaction belongs to another order")
		return pkgerrors.Wrap(pkgerrors.CodeVerification, ErrPaymentUnverified, "transaction does not belong to this order")
	}
	if !txn.Cost.Equal(order.TotalAmount) {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"captured": txn.Cost.StringFixed(2),
			"expected": order.TotalAmount.StringFixed(2),
		}), "moncash amount mismatch")
		return pkgerrors.Wrap(pkgerrors.CodeVerification, ErrAmountMismatch, "payment amount does not match order total").
			WithDetails(map[string]any{
				"captured": txn.Cost.StringFixed(2),
				"expected": order.TotalAmount.StringFixed(2),
			})
	}
	return nil
}

type settlement struct {
	changedBy     enums.ChangedBy
	source        enums.ConfirmationSource
	transactionID string
	actor         *Actor
}

// settle issues missing delivery codes and moves the order to paid under a row lock on the
// order. Seller orders that already carry a code are left alone, so a retry after a partial
// failure resumes where it stopped. Only the caller whose update moved the order emits
// order_paid.
func (s *service) settle(ctx context.Context, orderID uuid.UUID, in settlement) (*ConfirmationResult, error) {
	var result *ConfirmationResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.LockOrder(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrOrderNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock order")
		}
		if order.Status == enums.OrderStatusCancelled {
			return pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrOrderCancelled, "order has been cancelled")
		}
		if fullyConfirmed(order) {
			result = resultFor(order, true)
			return nil
		}

		now := s.now().UTC()
		taken := map[string]struct{}{}
		for _, so := range order.SellerOrders {
			if so.HasDeliveryCode() {
				taken[*so.DeliveryCode] = struct{}{}
			}
		}

		for i := range order.SellerOrders {
			so := &order.SellerOrders[i]
			if so.Status == enums.SellerOrderStatusCancelled || so.HasDeliveryCode() {
				continue
			}
			code, err := drawUnique(s.codes, taken, s.cfg.CodeDrawAttempts)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "issue delivery code")
			}
			issued, err := repo.IssueDeliveryCode(ctx, so.ID, code, now)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "issue delivery code")
			}
			if !issued {
				continue
			}

			previous := so.Status
			if previous == enums.SellerOrderStatusPending {
				so.Status = enums.SellerOrderStatusConfirmed
			}
			so.DeliveryCode = &code
			so.DeliveryCodeAttempts = 0
			so.ConfirmedAt = &now

			if err := repo.AppendStatusLog(ctx, &models.StatusLogEntry{
				SellerOrderID:  so.ID,
				PreviousStatus: previous,
				NewStatus:      so.Status,
				ChangedBy:      in.changedBy,
				Success:        true,
				CreatedAt:      now,
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write status log")
			}
		}

		moved, err := repo.MarkOrderPaid(ctx, order.ID, in.transactionID, now)
		if err != nil {
			if db.IsUniqueViolation(err, transactionConstraint) {
				return pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrTransactionReused, "transaction already used for another order")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order paid")
		}
		if moved {
			order.Status = enums.OrderStatusPaid
			order.PaidAt = &now
			if err := s.outbox.Emit(ctx, tx, orderPaidEvent(order, in, now)); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order paid")
			}
		}
		result = resultFor(order, false)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) CancelOrder(ctx context.Context, orderID uuid.UUID, actor Actor, reason string) error {
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if strings.TrimSpace(reason) == "" {
		reason = "cancelled"
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.LockOrder(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrOrderNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock order")
		}
		switch order.Status {
		case enums.OrderStatusCancelled:
			return pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrOrderCancelled, "order already cancelled")
		case enums.OrderStatusPaid:
			return pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrOrderAlreadyPaid, "paid orders cannot be cancelled")
		}
		for _, so := range order.SellerOrders {
			if so.Status != enums.SellerOrderStatusCancelled && !so.Status.CanTransitionTo(enums.SellerOrderStatusCancelled) {
				return pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrInvalidTransition, "a seller order has already shipped").
					WithDetails(map[string]any{"sellerOrderId": so.ID, "status": so.Status})
			}
		}

		now := s.now().UTC()
		moved, err := repo.MarkOrderCancelled(ctx, order.ID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel order")
		}
		if !moved {
			return pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrInvalidTransition, "order changed concurrently")
		}

		for _, so := range order.SellerOrders {
			if so.Status == enums.SellerOrderStatusCancelled {
				continue
			}
			ok, err := repo.UpdateSellerOrderIfStatus(ctx, so.ID, so.Status, map[string]any{
				"status":       enums.SellerOrderStatusCancelled,
				"cancelled_at": now,
				"updated_at":   now,
			})
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel seller order")
			}
			if !ok {
				return pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrInvalidTransition, "seller order changed concurrently")
			}
			note := reason
			if err := repo.AppendStatusLog(ctx, &models.StatusLogEntry{
				SellerOrderID:  so.ID,
				PreviousStatus: so.Status,
				NewStatus:      enums.SellerOrderStatusCancelled,
				ChangedBy:      enums.ChangedBySystem,
				Success:        true,
				Note:           &note,
				CreatedAt:      now,
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write status log")
			}
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCancelled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         actorRef(actor),
			Data: payloads.OrderCancelledEvent{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				Reason:      reason,
				CancelledAt: now,
			},
		})
	})
}

func (s *service) loadOrder(ctx context.Context, repo Repository, orderID uuid.UUID) (*models.Order, error) {
	order, err := repo.FindOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrOrderNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

// fullyConfirmed reports whether a previous confirmation already finished: the order is paid
// and every live seller order carries a code.
func fullyConfirmed(order *models.Order) bool {
	if order.Status != enums.OrderStatusPaid {
		return false
	}
	for _, so := range order.SellerOrders {
		if so.Status == enums.SellerOrderStatusCancelled {
			continue
		}
		if !so.HasDeliveryCode() {
			return false
		}
	}
	return true
}

func resultFor(order *models.Order, already bool) *ConfirmationResult {
	codes := make([]DeliveryCode, 0, len(order.SellerOrders))
	for _, so := range order.SellerOrders {
		if !so.HasDeliveryCode() {
			continue
		}
		codes = append(codes, DeliveryCode{SellerOrderID: so.ID, ShopID: so.ShopID, Code: *so.DeliveryCode})
	}
	return &ConfirmationResult{
		OrderID:          order.ID,
		OrderNumber:      order.OrderNumber,
		Status:           order.Status,
		Codes:            codes,
		AlreadyConfirmed: already,
	}
}

func orderPaidEvent(order *models.Order, in settlement, now time.Time) outbox.DomainEvent {
	notices := make([]payloads.DeliveryCodeNotice, 0, len(order.SellerOrders))
	for _, so := range order.SellerOrders {
		if !so.HasDeliveryCode() {
			continue
		}
		notices = append(notices, payloads.DeliveryCodeNotice{
			SellerOrderID: so.ID,
			ShopID:        so.ShopID,
			DeliveryCode:  *so.DeliveryCode,
			TotalAmount:   so.TotalAmount,
		})
	}
	var actor *outbox.ActorRef
	if in.actor != nil {
		actor = actorRef(*in.actor)
	}
	return outbox.DomainEvent{
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actor,
		OccurredAt:    now,
		Data: payloads.OrderPaidEvent{
			OrderID:       order.ID,
			OrderNumber:   order.OrderNumber,
			CustomerName:  order.CustomerName,
			CustomerEmail: order.CustomerEmail,
			TotalAmount:   order.TotalAmount,
			TransactionID: in.transactionID,
			Source:        in.source,
			PaidAt:        now,
			Codes:         notices,
		},
	}
}

func actorRef(actor Actor) *outbox.ActorRef {
	if actor.ID == uuid.Nil && actor.Role == "" {
		return nil
	}
	return &outbox.ActorRef{ActorID: actor.ID.String(), Role: string(actor.Role)}
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, ErrAmountMismatch):
		return "amount_mismatch"
	case errors.Is(err, ErrPaymentUnverified):
		return "unverified"
	case errors.Is(err, ErrGatewayUnavailable):
		return "gateway_error"
	case errors.Is(err, ErrOrderNotFound):
		return "not_found"
	case errors.Is(err, ErrOrderCancelled):
		return "cancelled"
	case errors.Is(err, ErrTransactionReused):
		return "transaction_reused"
	}
	return "error"
}
