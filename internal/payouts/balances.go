package payouts

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tishop/marketplace-backend/pkg/db/models"
	"github.com/tishop/marketplace-backend/pkg/enums"
)

// ComputeBalances derives a seller's balances. Delivered money is released once holding has
// elapsed since delivery; a delivered row without a delivery time stays pending. Payouts that
// are pending, processing or completed reserve released money.
func ComputeBalances(rows []models.SellerOrder, payouts []models.Payout, now time.Time, holding time.Duration) Balances {
	threshold := now.Add(-holding)

	var inFlight, recent, released, unknown decimal.Decimal
	for _, row := range rows {
		switch row.Status {
		case enums.SellerOrderStatusPending, enums.SellerOrderStatusConfirmed, enums.SellerOrderStatusShipped:
			inFlight = inFlight.Add(row.TotalAmount)
		case enums.SellerOrderStatusDelivered:
			switch {
			case row.DeliveredAt == nil:
				unknown = unknown.Add(row.TotalAmount)
			case row.DeliveredAt.After(threshold):
				recent = recent.Add(row.TotalAmount)
			default:
				released = released.Add(row.TotalAmount)
			}
		}
	}

	reserved := decimal.Zero
	for _, p := range payouts {
		if p.Status.ReservesBalance() {
			reserved = reserved.Add(p.Amount)
		}
	}

	available := released.Sub(reserved)
	if available.IsNegative() {
		available = decimal.Zero
	}
	return Balances{
		Available:   available.Round(2),
		Pending:     inFlight.Add(recent).Add(unknown).Round(2),
		TotalEarned: released.Add(recent).Add(unknown).Round(2),
	}
}
