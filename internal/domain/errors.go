package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrLockConflict     = errors.New("position lock already held")
	ErrAPIKeyNotFound   = errors.New("api credentials not found")
	ErrLegTimeout       = errors.New("leg submission timed out")
	ErrPriceUnavailable = errors.New("fill price unavailable")
	ErrContextDone      = errors.New("context cancelled")
)

// ValidationError reports malformed input (unknown exchange, bad side, bad
// quantity). It is never retryable.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// InsufficientBalanceError reports that a leg's available margin does not
// cover the required margin. It is raised before any order is placed.
type InsufficientBalanceError struct {
	Exchange  string
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance on %s: required %s, available %s",
		e.Exchange, e.Required, e.Available)
}

// ExchangeAPIError wraps an upstream exchange failure. Retryable is set per
// cause: rate limits and transient transport failures are retryable, auth and
// parameter rejections are not.
type ExchangeAPIError struct {
	Exchange  string
	Op        string
	Retryable bool
	Err       error
}

func (e *ExchangeAPIError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Exchange, e.Op, e.Err)
}

func (e *ExchangeAPIError) Unwrap() error { return e.Err }

// RollbackFailedError is thrown when one leg filled, the other failed, and
// every compensation attempt also failed. The position is left in PARTIAL
// state with real, unhedged exchange exposure; it requires manual operator
// action and must never be retried automatically.
type RollbackFailedError struct {
	Exchange string
	Side     LegSide
	Attempts int
	Err      error
}

func (e *RollbackFailedError) Error() string {
	return fmt.Sprintf("rollback failed on %s (%s leg) after %d attempts: %v",
		e.Exchange, e.Side, e.Attempts, e.Err)
}

func (e *RollbackFailedError) Unwrap() error { return e.Err }

// BilateralError reports that both legs of a saga failed. There is no
// exchange-side residue, so the whole operation is safely retryable by the
// caller.
type BilateralError struct {
	Op       string
	LongErr  error
	ShortErr error
}

func (e *BilateralError) Error() string {
	return fmt.Sprintf("both legs failed during %s: long: %v; short: %v",
		e.Op, e.LongErr, e.ShortErr)
}

// Retryable marks the error as safe to retry at the caller level.
func (e *BilateralError) Retryable() bool { return true }

// PartialCloseError reports that exactly one leg of a close filled. The close
// saga does not compensate (the position is already being liquidated); the
// position is marked PARTIAL for manual follow-up.
type PartialCloseError struct {
	FilledExchange string
	FailedExchange string
	FailedSide     LegSide
	Err            error
}

func (e *PartialCloseError) Error() string {
	return fmt.Sprintf("partial close: %s leg on %s failed (%s leg closed): %v",
		e.FailedSide, e.FailedExchange, e.FilledExchange, e.Err)
}

func (e *PartialCloseError) Unwrap() error { return e.Err }

// IsRetryable reports whether err may be retried by the caller. Validation,
// credential, balance, rollback, and partial-close errors are terminal;
// bilateral failures and retry-flagged exchange errors are not.
func IsRetryable(err error) bool {
	var bilateral *BilateralError
	if errors.As(err, &bilateral) {
		return true
	}
	var apiErr *ExchangeAPIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable
	}
	return errors.Is(err, ErrLockConflict)
}
