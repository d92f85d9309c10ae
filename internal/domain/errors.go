package domain

import (
	"errors"
	"fmt"
)

// ErrOrderNotFound signals a lookup for an order that does not exist.
var ErrOrderNotFound = errors.New("order not found")

// ValidationError reports malformed input to order or payment creation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// GatewayError reports a failed call to the payment provider. A failed
// create may or may not have created a remote payment; callers must not
// assume idempotency.
type GatewayError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("payment gateway: %s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("payment gateway: %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}
