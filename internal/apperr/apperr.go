package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation            Kind = "validation"
	KindNotFound              Kind = "not_found"
	KindInsufficientStock     Kind = "insufficient_stock"
	KindProductUnavailable    Kind = "product_unavailable"
	KindAlreadyPaid           Kind = "already_paid"
	KindInvalidCode           Kind = "invalid_code"
	KindExpired               Kind = "expired"
	KindNoPendingVerification Kind = "no_pending_verification"
	KindInvalidCredentials    Kind = "invalid_credentials"
	KindTransaction           Kind = "transaction_failure"
)

// Error is a domain failure with a stable, user-visible message.
// errors.Is matches any two *Error values of the same Kind.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Kind != KindTransaction {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrValidation            = &Error{Kind: KindValidation, Msg: "invalid request"}
	ErrNotFound              = &Error{Kind: KindNotFound, Msg: "not found"}
	ErrInsufficientStock     = &Error{Kind: KindInsufficientStock, Msg: "insufficient stock"}
	ErrProductUnavailable    = &Error{Kind: KindProductUnavailable, Msg: "product is not available"}
	ErrAlreadyPaid           = &Error{Kind: KindAlreadyPaid, Msg: "order is already paid"}
	ErrInvalidCode           = &Error{Kind: KindInvalidCode, Msg: "invalid verification code"}
	ErrExpired               = &Error{Kind: KindExpired, Msg: "verification code has expired"}
	ErrNoPendingVerification = &Error{Kind: KindNoPendingVerification, Msg: "no pending verification"}
	ErrInvalidCredentials    = &Error{Kind: KindInvalidCredentials, Msg: "invalid email or password"}
	ErrTransaction           = &Error{Kind: KindTransaction, Msg: "internal error"}
)

func Invalid(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func NotFound(what string) error {
	return &Error{Kind: KindNotFound, Msg: what + " not found"}
}

// Transaction wraps a store-level failure. Domain errors pass through untouched
// so a rolled back transaction still reports its specific reason.
func Transaction(err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	var se *StockError
	if errors.As(err, &se) {
		return err
	}
	return &Error{Kind: KindTransaction, Msg: "internal error", Err: err}
}

// StockError reports an InsufficientStock failure together with what was available.
type StockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func (e *StockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var se *StockError
	if errors.As(err, &se) {
		return KindInsufficientStock
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindTransaction
}

// Public returns the message safe to show a client.
func Public(err error) string {
	var se *StockError
	if errors.As(err, &se) {
		return se.Error()
	}
	var ae *Error
	if errors.As(err, &ae) && ae.Kind != KindTransaction {
		return ae.Msg
	}
	return ErrTransaction.Msg
}
