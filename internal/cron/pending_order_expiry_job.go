package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/tishop/marketplace-backend/internal/settlement"
	"github.com/tishop/marketplace-backend/pkg/db/models"
	pkgerrors "github.com/tishop/marketplace-backend/pkg/errors"
	"github.com/tishop/marketplace-backend/pkg/logger"
)

const (
	defaultPendingOrderTTL = 72 * time.Hour
	defaultExpiryBatchSize = 200
	expiryReason           = "payment not received"
)

// PendingOrderExpiryJobParams configure the job that cancels orders never paid.
type PendingOrderExpiryJobParams struct {
	Logger    *logger.Logger
	Orders    pendingOrderReader
	Canceller orderCanceller
	TTL       time.Duration
	BatchSize int
}

type pendingOrderReader interface {
	FindPendingOrdersBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
}

type orderCanceller interface {
	CancelOrder(ctx context.Context, orderID uuid.UUID, actor settlement.Actor, reason string) error
}

// NewPendingOrderExpiryJob builds the job.
func NewPendingOrderExpiryJob(params PendingOrderExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("pending orders reader required")
	}
	if params.Canceller == nil {
		return nil, fmt.Errorf("order canceller required")
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = defaultPendingOrderTTL
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultExpiryBatchSize
	}
	return &pendingOrderExpiryJob{
		logg:      params.Logger,
		orders:    params.Orders,
		canceller: params.Canceller,
		ttl:       ttl,
		batchSize: batch,
		now:       time.Now,
	}, nil
}

type pendingOrderExpiryJob struct {
	logg      *logger.Logger
	orders    pendingOrderReader
	canceller orderCanceller
	ttl       time.Duration
	batchSize int
	now       func() time.Time
}

func (j *pendingOrderExpiryJob) Name() string { return "pending-order-expiry" }

// Run cancels one batch of stale pending orders. Orders that were paid or cancelled between
// the read and the cancel are skipped; other failures are collected and the loop continues.
func (j *pendingOrderExpiryJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.ttl)
	orders, err := j.orders.FindPendingOrdersBefore(ctx, cutoff, j.batchSize)
	if err != nil {
		return fmt.Errorf("query pending orders: %w", err)
	}

	var (
		errs      []error
		cancelled int
		skipped   int
	)
	for _, order := range orders {
		err := j.canceller.CancelOrder(ctx, order.ID, settlement.Actor{}, expiryReason)
		switch {
		case err == nil:
			cancelled++
		case pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), pkgerrors.IsCode(err, pkgerrors.CodeNotFound):
			skipped++
		default:
			errs = append(errs, fmt.Errorf("cancel order %s: %w", order.ID, err))
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":    cutoff,
		"found":     len(orders),
		"cancelled": cancelled,
		"skipped":   skipped,
		"failed":    len(errs),
	})
	j.logg.Info(logCtx, "pending order expiry complete")
	return multierr.Combine(errs...)
}
