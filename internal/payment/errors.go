package payment

import (
	"errors"
	"fmt"
)

// Sentinel errors for the payment protocol.
var (
	// ErrValidation indicates the business payload is missing or malformed.
	ErrValidation = errors.New("payment: invalid request")

	// ErrPaymentRejected indicates a proof was presented but not accepted.
	ErrPaymentRejected = errors.New("payment: proof rejected")

	// ErrUserRejected indicates the user declined (or never answered) the
	// signing request.
	ErrUserRejected = errors.New("payment: user rejected signing")

	// ErrInsufficientFunds indicates the wallet cannot cover the challenge.
	ErrInsufficientFunds = errors.New("payment: insufficient funds")

	// ErrNotInitialized indicates the signing capability has no active account.
	ErrNotInitialized = errors.New("payment: signer not initialized")

	// ErrSigningFailed indicates proof creation failed for another reason.
	ErrSigningFailed = errors.New("payment: signing failed")

	// ErrAmountExceeded indicates the challenge exceeds the per-call limit.
	ErrAmountExceeded = errors.New("payment: amount exceeds per-call limit")

	// ErrTransport indicates a network or unexpected server failure.
	ErrTransport = errors.New("payment: network or server error")

	// ErrInternal indicates an unexpected server-side fault.
	ErrInternal = errors.New("payment: internal error")

	// ErrBusy indicates another logical call is already in flight.
	ErrBusy = errors.New("payment: another payment is in progress")
)

// Code is a stable, machine-readable error classification.
type Code string

const (
	CodeValidation        Code = "VALIDATION_ERROR"
	CodePaymentRequired   Code = "PAYMENT_REQUIRED" // unpaid 402; a protocol step, not a failure
	CodePaymentRejected   Code = "PAYMENT_REJECTED"
	CodeUserRejected      Code = "USER_REJECTED"
	CodeInsufficientFunds Code = "INSUFFICIENT_FUNDS"
	CodeNotInitialized    Code = "NOT_INITIALIZED"
	CodeSigningFailed     Code = "SIGNING_FAILED"
	CodeAmountExceeded    Code = "AMOUNT_EXCEEDED"
	CodeTransport         Code = "NETWORK_OR_SERVER_ERROR"
	CodeInternal          Code = "INTERNAL_ERROR"
	CodeBusy              Code = "BUSY"
)

var codeSentinels = map[Code]error{
	CodeValidation:        ErrValidation,
	CodePaymentRejected:   ErrPaymentRejected,
	CodeUserRejected:      ErrUserRejected,
	CodeInsufficientFunds: ErrInsufficientFunds,
	CodeNotInitialized:    ErrNotInitialized,
	CodeSigningFailed:     ErrSigningFailed,
	CodeAmountExceeded:    ErrAmountExceeded,
	CodeTransport:         ErrTransport,
	CodeInternal:          ErrInternal,
	CodeBusy:              ErrBusy,
}

// Error is a classified protocol error. Status and Body are set when the
// error was produced from an HTTP response.
type Error struct {
	Code    Code
	Message string
	Status  int
	Body    string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil && !errors.Is(e.Err, codeSentinels[e.Code]) {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's code, so errors.Is(err,
// ErrPaymentRejected) holds for any *Error with CodePaymentRejected.
func (e *Error) Is(target error) bool {
	s, ok := codeSentinels[e.Code]
	return ok && s == target
}

// NewError builds a classified error wrapping err.
func NewError(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf classifies any error. Unclassified errors map to CodeTransport.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	for code, sentinel := range codeSentinels {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeTransport
}

// UserMessage returns the message shown to an end user. Each failure class
// gets its own wording; validation and rejection messages carry the
// server's explanation when one is available.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var pe *Error
	hasDetail := errors.As(err, &pe) && pe.Message != ""
	switch CodeOf(err) {
	case CodeValidation:
		if hasDetail {
			return pe.Message
		}
		return "The request is missing required information."
	case CodePaymentRejected:
		if hasDetail {
			return "Payment was rejected: " + pe.Message
		}
		return "Payment was rejected by the server."
	case CodeUserRejected:
		return "Payment was cancelled by user"
	case CodeInsufficientFunds:
		return "Insufficient USDC balance"
	case CodeNotInitialized:
		return "Payment service not initialized. Please connect your wallet."
	case CodeAmountExceeded:
		return "Payment amount exceeds your per-payment limit"
	case CodeSigningFailed:
		return "Could not create the payment authorization"
	case CodeBusy:
		return "Another payment is already in progress"
	case CodeInternal:
		return "Internal server error"
	default:
		if hasDetail {
			return pe.Message
		}
		return "Payment failed. Please try again."
	}
}
