package enums

// ChangedBy records which actor moved a seller order.
type ChangedBy string

const (
	ChangedByPaymentConfirmation ChangedBy = "payment_confirmation"
	ChangedByManualPayment       ChangedBy = "manual_payment"
	ChangedBySeller              ChangedBy = "seller"
	ChangedBySystem              ChangedBy = "system"
)

// ConfirmationSource names the trigger that asked for a payment confirmation.
type ConfirmationSource string

const (
	ConfirmationSourceWebhook ConfirmationSource = "webhook"
	ConfirmationSourceReturn  ConfirmationSource = "return"
	ConfirmationSourceManual  ConfirmationSource = "manual"
)

// ActorRole is the role carried by a bearer token.
type ActorRole string

const (
	ActorRoleSeller ActorRole = "seller"
	ActorRoleAdmin  ActorRole = "admin"
)

// IsValid reports whether the value is a known ActorRole.
func (r ActorRole) IsValid() bool {
	return r == ActorRoleSeller || r == ActorRoleAdmin
}
