package moncashwebhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tishop/marketplace-backend/pkg/redis"
)

const guardScope = "webhook:moncash"

// IdempotencyGuard remembers (order, transaction) pairs that were already handled. A pair
// that was rejected never shadows the same transaction arriving for another order.
type IdempotencyGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

func NewIdempotencyGuard(store redis.IdempotencyStore, ttl time.Duration) (*IdempotencyGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &IdempotencyGuard{store: store, ttl: ttl}, nil
}

// CheckAndMark reports whether the pair was seen before and marks it otherwise.
func (g *IdempotencyGuard) CheckAndMark(ctx context.Context, orderID uuid.UUID, transactionID string) (bool, error) {
	key, err := g.key(orderID, transactionID)
	if err != nil {
		return false, err
	}
	set, err := g.store.SetNX(ctx, key, "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set idempotency key: %w", err)
	}
	return !set, nil
}

func (g *IdempotencyGuard) Delete(ctx context.Context, orderID uuid.UUID, transactionID string) error {
	key, err := g.key(orderID, transactionID)
	if err != nil {
		return err
	}
	return g.store.Del(ctx, key)
}

func (g *IdempotencyGuard) key(orderID uuid.UUID, transactionID string) (string, error) {
	if orderID == uuid.Nil || transactionID == "" {
		return "", errors.New("order id and transaction id are required")
	}
	return g.store.IdempotencyKey(guardScope, orderID.String()+":"+transactionID), nil
}
