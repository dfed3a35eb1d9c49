package payouts

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tishop/marketplace-backend/pkg/db/models"
	"github.com/tishop/marketplace-backend/pkg/enums"
	pkgerrors "github.com/tishop/marketplace-backend/pkg/errors"
	"github.com/tishop/marketplace-backend/pkg/logger"
	"github.com/tishop/marketplace-backend/pkg/metrics"
	"github.com/tishop/marketplace-backend/pkg/outbox"
	"github.com/tishop/marketplace-backend/pkg/outbox/payloads"
)

const (
	kycNotSubmitted    = "not_submitted"
	defaultHolding     = 24 * time.Hour
	payoutDescription  = "Payout request"
	payoutAmountDigits = 2
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service computes seller balances and records withdrawal requests.
type Service interface {
	Balances(ctx context.Context, sellerID uuid.UUID, now time.Time) (*Balances, error)
	Withdraw(ctx context.Context, input WithdrawInput) (*WithdrawResult, error)
	Summary(ctx context.Context, sellerID uuid.UUID) (*Summary, error)
}

type Option func(*service)

func WithClock(now func() time.Time) Option {
	return func(s *service) {
		if now != nil {
			s.now = now
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
	logg    *logger.Logger
	holding time.Duration
	metrics *metrics.SettlementMetrics
	now     func() time.Time
}

// NewService wires the payout coordinator. holding is the delay between delivery and release.
func NewService(repo Repository, tx txRunner, outbox outboxPublisher, logg *logger.Logger, holding time.Duration, opts ...Option) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("payouts repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	if holding <= 0 {
		holding = defaultHolding
	}
	s := &service{
		repo:    repo,
		tx:      tx,
		outbox:  outbox,
		logg:    logg,
		holding: holding,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *service) Balances(ctx context.Context, sellerID uuid.UUID, now time.Time) (*Balances, error) {
	if sellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller id required")
	}
	balances, err := s.balances(ctx, s.repo, sellerID, now)
	if err != nil {
		return nil, err
	}
	return &balances, nil
}

func (s *service) balances(ctx context.Context, repo Repository, sellerID uuid.UUID, now time.Time) (Balances, error) {
	rows, err := repo.ListEarningRows(ctx, sellerID)
	if err != nil {
		return Balances{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load seller earnings")
	}
	payouts, err := repo.ListPayouts(ctx, sellerID)
	if err != nil {
		return Balances{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payouts")
	}
	return ComputeBalances(rows, payouts, now, s.holding), nil
}

func (s *service) Withdraw(ctx context.Context, input WithdrawInput) (*WithdrawResult, error) {
	if input.SellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller id required")
	}
	ctx = s.logg.WithSellerID(ctx, input.SellerID.String())

	var payout models.Payout
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		kyc, err := repo.LockLatestKYC(ctx, input.SellerID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load kyc")
		}
		if kyc == nil || kyc.Status != enums.KYCStatusApproved {
			return pkgerrors.Wrap(pkgerrors.CodeForbidden, ErrKYCNotApproved, "KYC verification required before withdrawals")
		}
		if !kyc.HasPayoutAccount() {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, ErrMissingPayoutAccount, "missing payout account details")
		}
		if !input.Amount.IsPositive() || !input.Amount.Equal(input.Amount.Round(payoutAmountDigits)) {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, ErrInvalidAmount, "invalid payout amount")
		}

		now := s.now().UTC()
		balances, err := s.balances(ctx, repo, input.SellerID, now)
		if err != nil {
			return err
		}
		if input.Amount.GreaterThan(balances.Available) {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, ErrInsufficientBalance, "insufficient available balance").
				WithDetails(map[string]any{"availableBalance": balances.Available.StringFixed(2)})
		}

		payout = models.Payout{
			ID:            uuid.New(),
			SellerID:      input.SellerID,
			Amount:        input.Amount,
			Method:        *kyc.PayoutMethod,
			AccountNumber: *kyc.PayoutAccountNumber,
			AccountName:   kyc.PayoutAccountName,
			Status:        enums.PayoutStatusPending,
			RequestedAt:   now,
		}
		if err := repo.CreatePayout(ctx, &payout); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payout")
		}
		if err := repo.CreateBalanceTransaction(ctx, &models.BalanceTransaction{
			SellerID:    input.SellerID,
			Type:        enums.BalanceTransactionPayoutRequest,
			Amount:      input.Amount,
			ReferenceID: &payout.ID,
			Description: payoutDescription,
			CreatedAt:   now,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record balance transaction")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPayoutRequested,
			AggregateType: enums.AggregatePayout,
			AggregateID:   payout.ID,
			Actor:         &outbox.ActorRef{ActorID: input.SellerID.String(), Role: string(enums.ActorRoleSeller)},
			OccurredAt:    now,
			Data: payloads.PayoutRequestedEvent{
				PayoutID:    payout.ID,
				SellerID:    input.SellerID,
				Amount:      input.Amount,
				Method:      payout.Method,
				RequestedAt: now,
			},
		})
	})
	if err != nil {
		s.metrics.IncPayout(payoutOutcome(err))
		return nil, err
	}
	s.metrics.IncPayout("requested")
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"payout_id": payout.ID.String(),
		"amount":    payout.Amount.StringFixed(2),
	}), "payout requested")

	refreshed, err := s.balances(ctx, s.repo, input.SellerID, s.now().UTC())
	if err != nil {
		return nil, err
	}
	return &WithdrawResult{Payout: viewOf(payout), Balances: refreshed}, nil
}

// Summary loads balances, payout history and KYC state concurrently.
func (s *service) Summary(ctx context.Context, sellerID uuid.UUID) (*Summary, error) {
	if sellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller id required")
	}
	now := s.now().UTC()

	var (
		rows    []models.SellerOrder
		payouts []models.Payout
		kyc     *models.KYCDocument
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rows, err = s.repo.ListEarningRows(gctx, sellerID)
		return err
	})
	g.Go(func() error {
		var err error
		payouts, err = s.repo.ListPayouts(gctx, sellerID)
		return err
	})
	g.Go(func() error {
		var err error
		kyc, err = s.repo.LatestKYC(gctx, sellerID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payout summary")
	}

	summary := &Summary{
		Balances: ComputeBalances(rows, payouts, now, s.holding),
		Payouts:  make([]PayoutView, 0, len(payouts)),
		KYC:      KYCSummary{Status: kycNotSubmitted},
	}
	for _, p := range payouts {
		summary.Payouts = append(summary.Payouts, viewOf(p))
	}
	if kyc != nil {
		summary.KYC = KYCSummary{
			Status:              string(kyc.Status),
			PayoutMethod:        kyc.PayoutMethod,
			PayoutAccountNumber: kyc.PayoutAccountNumber,
			PayoutAccountName:   kyc.PayoutAccountName,
		}
		summary.CanWithdraw = kyc.Status == enums.KYCStatusApproved
	}
	return summary, nil
}

func viewOf(p models.Payout) PayoutView {
	return PayoutView{
		ID:            p.ID,
		Amount:        p.Amount,
		Method:        p.Method,
		Status:        p.Status,
		RequestedAt:   p.RequestedAt,
		ProcessedAt:   p.ProcessedAt,
		TransactionID: p.TransactionID,
	}
}

func payoutOutcome(err error) string {
	switch pkgerrors.As(err).Code() {
	case pkgerrors.CodeForbidden:
		return "kyc_rejected"
	case pkgerrors.CodeValidation:
		return "rejected"
	}
	return "error"
}
