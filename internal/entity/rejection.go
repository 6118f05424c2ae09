package entity

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type RejectionReason string

const (
	ReasonInvalidShares      RejectionReason = "INVALID_SHARES"
	ReasonUnknownItem        RejectionReason = "UNKNOWN_ITEM"
	ReasonUnknownAccount     RejectionReason = "UNKNOWN_ACCOUNT"
	ReasonInsufficientFunds  RejectionReason = "INSUFFICIENT_FUNDS"
	ReasonInsufficientShares RejectionReason = "INSUFFICIENT_SHARES"
	ReasonNoPosition         RejectionReason = "NO_POSITION"
	ReasonNoTradablePrice    RejectionReason = "NO_TRADABLE_PRICE"
	ReasonInvalidFunding     RejectionReason = "INVALID_FUNDING_AMOUNT"
)

// Rejection is a business rule refusal. It is returned before any state is
// touched (or after a clean rollback) and carries the numbers a client
// needs to render a precise message.
type Rejection struct {
	Reason    RejectionReason
	Message   string
	Required  decimal.Decimal
	Available decimal.Decimal
}

func NewRejection(reason RejectionReason, message string) *Rejection {
	return &Rejection{Reason: reason, Message: message}
}

func NewShortfallRejection(reason RejectionReason, message string, required, available decimal.Decimal) *Rejection {
	return &Rejection{
		Reason:    reason,
		Message:   message,
		Required:  required,
		Available: available,
	}
}

func (r *Rejection) Error() string {
	if r.Required.IsZero() && r.Available.IsZero() {
		return fmt.Sprintf("%s: %s", r.Reason, r.Message)
	}

	return fmt.Sprintf("%s: %s (required %s, available %s)", r.Reason, r.Message, r.Required, r.Available)
}

// Shortfall is how far the request missed, never negative.
func (r *Rejection) Shortfall() decimal.Decimal {
	shortfall := r.Required.Sub(r.Available)
	if shortfall.IsNegative() {
		return decimal.Zero
	}

	return shortfall
}
