package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/courier/internal/ir"
)

// Error is a rejected engine operation.
//
// Every operation that returns an *Error left the store, the timeout
// schedule and all deposits exactly as they were before the call.
type Error struct {
	// Code identifies the failure.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// MessageID is the affected handle, or 0 when none applies.
	MessageID ir.MessageID

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes engine failures.
type ErrorCode string

const (
	// Input rejected before any state mutation.
	ErrCodeFutureTimeoutMandatory           ErrorCode = "FutureTimeoutMandatory"
	ErrCodeMaxMessageTimeoutPerBlockReached ErrorCode = "MaxMessageTimeoutPerBlockReached"
	ErrCodeTooManyMessages                  ErrorCode = "TooManyMessages"
	ErrCodeFundsUnavailable                 ErrorCode = "FundsUnavailable"
	ErrCodeZeroWeight                       ErrorCode = "ZeroWeight"
	ErrCodeResponseTooLarge                 ErrorCode = "ResponseTooLarge"

	// State conflicts.
	ErrCodeRequestPending  ErrorCode = "RequestPending"
	ErrCodeMessageNotFound ErrorCode = "MessageNotFound"
	ErrCodeBadOrigin       ErrorCode = "BadOrigin"
	ErrCodeRequestTimedOut ErrorCode = "RequestTimedOut"

	// ErrCodeInvalidState means the transport resolved a handle that already
	// holds a response. This is a transport contract violation.
	ErrCodeInvalidState ErrorCode = "InvalidState"

	// Collaborator and capacity failures.
	ErrCodeTransportFailed   ErrorCode = "TransportFailed"
	ErrCodeCapacityExhausted ErrorCode = "CapacityExhausted"
	ErrCodeWeightExhausted   ErrorCode = "WeightExhausted"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.MessageID != 0 {
		msg = fmt.Sprintf("%s (message=%d)", msg, e.MessageID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors with the same code, so callers can compare against the
// Err* sentinels with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && t.MessageID == 0 && t.Message == ""
}

// Sentinels for errors.Is. They carry a code only.
var (
	ErrFutureTimeoutMandatory           = &Error{Code: ErrCodeFutureTimeoutMandatory}
	ErrMaxMessageTimeoutPerBlockReached = &Error{Code: ErrCodeMaxMessageTimeoutPerBlockReached}
	ErrTooManyMessages                  = &Error{Code: ErrCodeTooManyMessages}
	ErrFundsUnavailable                 = &Error{Code: ErrCodeFundsUnavailable}
	ErrZeroWeight                       = &Error{Code: ErrCodeZeroWeight}
	ErrResponseTooLarge                 = &Error{Code: ErrCodeResponseTooLarge}
	ErrRequestPending                   = &Error{Code: ErrCodeRequestPending}
	ErrMessageNotFound                  = &Error{Code: ErrCodeMessageNotFound}
	ErrBadOrigin                        = &Error{Code: ErrCodeBadOrigin}
	ErrRequestTimedOut                  = &Error{Code: ErrCodeRequestTimedOut}
	ErrInvalidState                     = &Error{Code: ErrCodeInvalidState}
	ErrTransportFailed                  = &Error{Code: ErrCodeTransportFailed}
	ErrCapacityExhausted                = &Error{Code: ErrCodeCapacityExhausted}
	ErrWeightExhausted                  = &Error{Code: ErrCodeWeightExhausted}
)

func newError(code ErrorCode, id ir.MessageID, format string, args ...any) *Error {
	return &Error{Code: code, MessageID: id, Message: fmt.Sprintf(format, args...)}
}

// IsCode reports whether err is an *Error with the given code.
// Uses errors.As to handle wrapped errors.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// KnownCode reports whether code is one the engine produces.
func KnownCode(code ErrorCode) bool {
	switch code {
	case ErrCodeFutureTimeoutMandatory, ErrCodeMaxMessageTimeoutPerBlockReached,
		ErrCodeTooManyMessages, ErrCodeFundsUnavailable, ErrCodeZeroWeight,
		ErrCodeResponseTooLarge, ErrCodeRequestPending, ErrCodeMessageNotFound,
		ErrCodeBadOrigin, ErrCodeRequestTimedOut, ErrCodeInvalidState,
		ErrCodeTransportFailed, ErrCodeCapacityExhausted, ErrCodeWeightExhausted:
		return true
	}
	return false
}

// CodeOf returns the code of err, or "" if err is not an *Error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
