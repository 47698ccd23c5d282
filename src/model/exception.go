package model

import (
	"errors"
	"fmt"
)

// Connectivity errors are transient: callers retry or pause.
var (
	ErrFailedRequest          = errors.New("exchange request failed")
	ErrRequestTimeout         = fmt.Errorf("request timed out: %w", ErrFailedRequest)
	ErrExchangeNotAvailable   = fmt.Errorf("exchange not available: %w", ErrFailedRequest)
	ErrInvalidNonce           = fmt.Errorf("invalid nonce: %w", ErrFailedRequest)
	ErrRetriableFailedRequest = fmt.Errorf("retriable request failure: %w", ErrFailedRequest)
	ErrUnreachableExchange    = errors.New("exchange unreachable")
)

// Semantic refusals are logged and bubbled to the caller.
var (
	ErrNotSupported              = errors.New("not supported by exchange")
	ErrContractExists            = errors.New("contract already initialized")
	ErrMissingFunds              = errors.New("missing funds")
	ErrMissingMinimalTradeVolume = errors.New("below minimal exchange trade volume")
	ErrUnhandledContract         = errors.New("unhandled contract")
	ErrOrderNotFoundOnCancel     = errors.New("order not found on cancel")
)

// State violations are programming errors, fatal to the current operation.
var (
	ErrDuplicateTransactionID = errors.New("duplicate transaction id")
	ErrInvalidPositionMode    = errors.New("long or short side requires hedge position mode")
	ErrDisabledFundsTransfer  = errors.New("funds transfers are disabled")
	ErrInitializing           = errors.New("required data is still initializing")
)

// OrderCreationError carries the exchange refusal of an order submission.
type OrderCreationError struct {
	Symbol Symbol
	Reason string
	Err    error
}

func (e *OrderCreationError) Error() string {
	return fmt.Sprintf("order creation failed for %s: %s", e.Symbol, e.Reason)
}

func (e *OrderCreationError) Unwrap() error {
	return e.Err
}

// IsConnectivityError reports whether the error is transient and worth a
// retry or a pause rather than a bubble-up.
func IsConnectivityError(err error) bool {
	return errors.Is(err, ErrFailedRequest) || errors.Is(err, ErrUnreachableExchange)
}
