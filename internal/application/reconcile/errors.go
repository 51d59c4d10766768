package reconcile

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ErrPaymentNotFound is returned when an operation names a payment that is
// not in the pending working set.
var ErrPaymentNotFound = errors.New("payment not found in pending set")

// TransportError is a failure reported by a collaborator (network, API or
// database). Its message is the collaborator's message, unchanged.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ValidationError rejects a request before any persistence call is made.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NoMatchError means auto-reconciliation was requested for a payment with no
// eligible candidate. Callers usually fall back to the manual flow.
type NoMatchError struct {
	PaymentID string
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("no eligible bank transaction for payment %s", e.PaymentID)
}

// transportErr wraps a collaborator error unless it already carries a
// workflow classification.
func transportErr(op string, err error) error {
	var ve *ValidationError
	var te *TransportError
	if errors.As(err, &ve) || errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}

// fromValidator converts the first failed struct tag into a ValidationError.
func fromValidator(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ValidationError{Message: err.Error(), Err: err}
	}

	fe := verrs[0]
	msg := "is required"
	switch fe.Tag() {
	case "required":
	case "min":
		msg = fmt.Sprintf("must contain at least %s item(s)", fe.Param())
	case "max":
		msg = fmt.Sprintf("must be at most %s characters", fe.Param())
	default:
		msg = fmt.Sprintf("failed %q check", fe.Tag())
	}

	return &ValidationError{Field: fe.Field(), Message: msg, Err: err}
}
