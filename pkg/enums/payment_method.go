package enums

import "fmt"

// PaymentMethod describes how a customer intends to settle an order.
type PaymentMethod string

const (
	PaymentMethodMonCash PaymentMethod = "moncash"
	PaymentMethodManual  PaymentMethod = "manual"
)

var validPaymentMethods = []PaymentMethod{
	PaymentMethodMonCash,
	PaymentMethodManual,
}

// String implements fmt.Stringer.
func (p PaymentMethod) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentMethod.
func (p PaymentMethod) IsValid() bool {
	for _, candidate := range validPaymentMethods {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePaymentMethod converts raw input into a PaymentMethod. Empty input defaults to MonCash.
func ParsePaymentMethod(value string) (PaymentMethod, error) {
	if value == "" {
		return PaymentMethodMonCash, nil
	}
	for _, candidate := range validPaymentMethods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment method %q", value)
}

// DeliveryMethod describes how a seller order reaches the customer.
type DeliveryMethod string

const (
	DeliveryMethodDelivery DeliveryMethod = "delivery"
	DeliveryMethodPickup   DeliveryMethod = "pickup"
)

// IsValid reports whether the value is a known DeliveryMethod.
func (d DeliveryMethod) IsValid() bool {
	return d == DeliveryMethodDelivery || d == DeliveryMethodPickup
}

// ParseDeliveryMethod converts raw input into a DeliveryMethod. Empty input defaults to delivery.
func ParseDeliveryMethod(value string) (DeliveryMethod, error) {
	switch DeliveryMethod(value) {
	case "":
		return DeliveryMethodDelivery, nil
	case DeliveryMethodDelivery, DeliveryMethodPickup:
		return DeliveryMethod(value), nil
	}
	return "", fmt.Errorf("invalid delivery method %q", value)
}
