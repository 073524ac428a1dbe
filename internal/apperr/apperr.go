// Package apperr defines the error kinds shared by the cart and order engine.
//
// Packages return the sentinels below wrapped with detail, e.g.
//
//	fmt.Errorf("%w: quantity %d", apperr.ErrInvalidQuantity, q)
//
// and callers match them with errors.Is or classify them with KindOf.
package apperr

import "errors"

type Kind string

const (
	KindInvalidQuantity           Kind = "INVALID_QUANTITY"
	KindComboUnavailable          Kind = "COMBO_UNAVAILABLE"
	KindInvalidPromoCode          Kind = "INVALID_PROMO_CODE"
	KindEmptyCart                 Kind = "EMPTY_CART"
	KindIncompleteRecipient       Kind = "INCOMPLETE_RECIPIENT"
	KindMissingCancellationReason Kind = "MISSING_CANCELLATION_REASON"
	KindInvalidTransition         Kind = "INVALID_TRANSITION"
	KindNotFound                  Kind = "NOT_FOUND"
	KindConcurrentModification    Kind = "CONCURRENT_MODIFICATION"
	KindUnavailable               Kind = "UNAVAILABLE"
	KindInvalidInput              Kind = "INVALID_INPUT"
	KindInternal                  Kind = "INTERNAL"
)

type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

var (
	ErrInvalidQuantity           = &Error{Kind: KindInvalidQuantity, Message: "invalid quantity"}
	ErrComboUnavailable          = &Error{Kind: KindComboUnavailable, Message: "combo unavailable"}
	ErrInvalidPromoCode          = &Error{Kind: KindInvalidPromoCode, Message: "invalid promo code"}
	ErrEmptyCart                 = &Error{Kind: KindEmptyCart, Message: "cart is empty"}
	ErrIncompleteRecipient       = &Error{Kind: KindIncompleteRecipient, Message: "recipient or shipping address incomplete"}
	ErrMissingCancellationReason = &Error{Kind: KindMissingCancellationReason, Message: "cancellation reason is required"}
	ErrInvalidTransition         = &Error{Kind: KindInvalidTransition, Message: "invalid status transition"}
	ErrNotFound                  = &Error{Kind: KindNotFound, Message: "not found"}
	ErrConcurrentModification    = &Error{Kind: KindConcurrentModification, Message: "concurrent modification"}
	ErrUnavailable               = &Error{Kind: KindUnavailable, Message: "backing store unavailable"}
	ErrInvalidInput              = &Error{Kind: KindInvalidInput, Message: "invalid input"}
)

// KindOf reports the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
