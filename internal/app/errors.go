package app

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidTransfer     = errors.New("invalid transfer")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrTransaction         = errors.New("transaction error")
	ErrTransferNotFound    = errors.New("transfer not found")
	ErrRateLimited         = errors.New("transfer rate limit exceeded")
)

// InvalidTransferError carries the user-facing reason a request was rejected before locking.
type InvalidTransferError struct {
	Reason string
}

func (e *InvalidTransferError) Error() string { return e.Reason }

func (e *InvalidTransferError) Is(target error) bool { return target == ErrInvalidTransfer }

// InsufficientBalanceError reports the balance observed under lock and the amount requested.
type InsufficientBalanceError struct {
	Current   decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: current balance $ %s, requested amount $ %s",
		e.Current.StringFixed(2), e.Requested.StringFixed(2))
}

func (e *InsufficientBalanceError) Is(target error) bool { return target == ErrInsufficientBalance }

// TransactionError wraps any failure inside the atomic unit. No partial mutation survives it.
type TransactionError struct {
	Op  string
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("error processing transfer: %s: %v", e.Op, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

func (e *TransactionError) Is(target error) bool { return target == ErrTransaction }

// RateLimitError tells the caller how long to wait before retrying.
type RateLimitError struct {
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many transfers, retry in %d seconds", e.RetryAfterSeconds)
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }
