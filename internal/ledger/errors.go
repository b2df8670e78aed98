package ledger

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidAmount is returned when a trade or claim quantity is not
	// strictly positive.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")

	// ErrInvalidPrice is returned when no usable execution price was
	// supplied (missing quote, zero or negative price).
	ErrInvalidPrice = errors.New("ledger: no usable price")

	// ErrInsufficientFunds is returned when a debit would push the cash
	// balance below zero.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrInsufficientPosition is returned when a sell exceeds the held
	// quantity, or no position exists at all.
	ErrInsufficientPosition = errors.New("ledger: insufficient position")
)

// CooldownError is returned by a daily claim attempted before the 24-hour
// window since the last successful claim has elapsed.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("ledger: daily reward on cooldown for %s", e.Remaining.Round(time.Second))
}

// IsRejection reports whether err is one of the typed validation or balance
// rejections, as opposed to a storage failure. Rejections are caller errors;
// everything else is internal.
func IsRejection(err error) bool {
	var cd *CooldownError
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidPrice) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInsufficientPosition) ||
		errors.As(err, &cd)
}
