package orders

import (
	"fmt"
	"strings"

	"github.com/ariefcatur/go-storefront-orders/internal/apperr"
)

type Status string

const (
	StatusUnconfirmed Status = "UNCONFIRMED"
	StatusProcessing  Status = "PROCESSING"
	StatusShipping    Status = "SHIPPING"
	StatusCompleted   Status = "COMPLETED"
	StatusCancelled   Status = "CANCELLED"
)

// Action is a staff or customer request against an order's status.
type Action string

const (
	ActionApprove Action = "approve"
	ActionCancel  Action = "cancel"
)

// transitions is the only place the lifecycle is defined. approve walks the
// happy path one step; cancel is accepted until the order ships.
var transitions = map[Status]map[Action]Status{
	StatusUnconfirmed: {ActionApprove: StatusProcessing, ActionCancel: StatusCancelled},
	StatusProcessing:  {ActionApprove: StatusShipping, ActionCancel: StatusCancelled},
	StatusShipping:    {ActionApprove: StatusCompleted},
	StatusCompleted:   {},
	StatusCancelled:   {},
}

var statusLabels = map[Status]string{
	StatusUnconfirmed: "Unconfirmed",
	StatusProcessing:  "Processing",
	StatusShipping:    "Shipping",
	StatusCompleted:   "Completed",
	StatusCancelled:   "Cancelled",
}

// Next returns the status that action leads to from from.
func Next(from Status, action Action) (Status, bool) {
	to, ok := transitions[from][action]
	return to, ok
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s Status) Terminal() bool { return s.Valid() && len(transitions[s]) == 0 }

func (s Status) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("%w: unknown order status %q", apperr.ErrInvalidInput, s)
	}
	return st, nil
}

type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "UNPAID"
	PaymentPaid   PaymentStatus = "PAID"
)

type PaymentMethod string

const (
	PaymentCOD          PaymentMethod = "COD"
	PaymentBankTransfer PaymentMethod = "BANK_TRANSFER"
	PaymentCard         PaymentMethod = "CARD"
)

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch m := PaymentMethod(strings.ToUpper(strings.TrimSpace(s))); m {
	case PaymentCOD, PaymentBankTransfer, PaymentCard:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unknown payment method %q", apperr.ErrInvalidInput, s)
	}
}

// Prepaid methods may be marked paid before the order completes; cash on
// delivery is only paid once the order is completed.
func (m PaymentMethod) Prepaid() bool { return m == PaymentBankTransfer || m == PaymentCard }
