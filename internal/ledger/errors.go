package ledger

import (
	"errors"
	"fmt"
)

// Code is the stable, client-visible identifier of a wallet failure
type Code string

const (
	CodeInsufficientFunds         Code = "INSUFFICIENT_FUNDS"
	CodeBelowMinimumDeposit       Code = "BELOW_MINIMUM_DEPOSIT"
	CodeBelowMinimumWithdrawal    Code = "BELOW_MINIMUM_WITHDRAWAL"
	CodeAccountVerificationFailed Code = "ACCOUNT_VERIFICATION_FAILED"
	CodeDuplicateReference        Code = "DUPLICATE_REFERENCE"
	CodeInvalidTransition         Code = "INVALID_TRANSITION"
	CodeInvalidState              Code = "INVALID_STATE"
	CodeAmountMismatch            Code = "AMOUNT_MISMATCH"
	CodeGatewayUnavailable        Code = "GATEWAY_UNAVAILABLE"
	CodePayoutFailed              Code = "PAYOUT_FAILED"
	CodeNotFound                  Code = "NOT_FOUND"
	CodeInvalidRequest            Code = "INVALID_REQUEST"
	CodeInvalidSignature          Code = "INVALID_SIGNATURE"
)

// Error carries a stable code, a human readable reason and an optional cause.
// Two errors match under errors.Is when their codes are equal.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrInsufficientFunds         = &Error{Code: CodeInsufficientFunds, Message: "insufficient funds"}
	ErrBelowMinimumDeposit       = &Error{Code: CodeBelowMinimumDeposit, Message: "amount is below the minimum deposit"}
	ErrBelowMinimumWithdrawal    = &Error{Code: CodeBelowMinimumWithdrawal, Message: "amount is below the minimum withdrawal"}
	ErrAccountVerificationFailed = &Error{Code: CodeAccountVerificationFailed, Message: "bank account could not be verified"}
	ErrDuplicateReference        = &Error{Code: CodeDuplicateReference, Message: "reference already exists"}
	ErrInvalidTransition         = &Error{Code: CodeInvalidTransition, Message: "transaction is already in a different terminal state"}
	ErrInvalidState              = &Error{Code: CodeInvalidState, Message: "escrow is not in a state that allows this operation"}
	ErrAmountMismatch            = &Error{Code: CodeAmountMismatch, Message: "gateway amount does not match the requested amount"}
	ErrGatewayUnavailable        = &Error{Code: CodeGatewayUnavailable, Message: "payment gateway unavailable"}
	ErrPayoutFailed              = &Error{Code: CodePayoutFailed, Message: "payout failed"}
	ErrNotFound                  = &Error{Code: CodeNotFound, Message: "not found"}
	ErrInvalidRequest            = &Error{Code: CodeInvalidRequest, Message: "invalid request"}
	ErrInvalidSignature          = &Error{Code: CodeInvalidSignature, Message: "webhook signature is invalid"}
)

// Wrap attaches a cause to a sentinel while keeping its code
func Wrap(sentinel *Error, err error) error {
	return &Error{Code: sentinel.Code, Message: sentinel.Message, Err: err}
}

// Errorf replaces the sentinel's message while keeping its code
func Errorf(sentinel *Error, format string, args ...any) error {
	return &Error{Code: sentinel.Code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the wallet code of err, or "" if err is not a wallet error
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
