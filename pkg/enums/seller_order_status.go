package enums

import "fmt"

// SellerOrderStatus tracks one seller's slice of an order.
type SellerOrderStatus string

const (
	SellerOrderStatusPending   SellerOrderStatus = "pending"
	SellerOrderStatusConfirmed SellerOrderStatus = "confirmed"
	SellerOrderStatusShipped   SellerOrderStatus = "shipped"
	SellerOrderStatusDelivered SellerOrderStatus = "delivered"
	SellerOrderStatusCancelled SellerOrderStatus = "cancelled"
)

var validSellerOrderStatuses = []SellerOrderStatus{
	SellerOrderStatusPending,
	SellerOrderStatusConfirmed,
	SellerOrderStatusShipped,
	SellerOrderStatusDelivered,
	SellerOrderStatusCancelled,
}

var sellerOrderTransitions = map[SellerOrderStatus][]SellerOrderStatus{
	SellerOrderStatusPending:   {SellerOrderStatusConfirmed, SellerOrderStatusShipped, SellerOrderStatusCancelled},
	SellerOrderStatusConfirmed: {SellerOrderStatusShipped, SellerOrderStatusCancelled},
	SellerOrderStatusShipped:   {SellerOrderStatusDelivered},
}

// String implements fmt.Stringer.
func (s SellerOrderStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known SellerOrderStatus.
func (s SellerOrderStatus) IsValid() bool {
	for _, candidate := range validSellerOrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s SellerOrderStatus) CanTransitionTo(next SellerOrderStatus) bool {
	for _, candidate := range sellerOrderTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s SellerOrderStatus) IsTerminal() bool {
	return len(sellerOrderTransitions[s]) == 0
}

// ParseSellerOrderStatus converts raw input into a SellerOrderStatus.
func ParseSellerOrderStatus(value string) (SellerOrderStatus, error) {
	for _, candidate := range validSellerOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid seller order status %q", value)
}
