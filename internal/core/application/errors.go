package application

import (
	"errors"
	"fmt"
)

var (
	ErrSync                = errors.New("failed to sync with backend")
	ErrEmptyBalance        = errors.New("empty balance")
	ErrSignatureIncomplete = errors.New("transaction could not be fully signed")
	ErrTimelockNotExpired  = errors.New("timelock not expired")
	ErrInvalidDestination  = errors.New("invalid destination address")
	ErrDustOutput          = errors.New("output amount is dust after fees")
	ErrBroadcast           = errors.New("failed to broadcast transaction")
	ErrNotWatched          = errors.New("stash is not watched")
)

// EmptyBalanceError is returned when there is nothing to spend. Address is
// where the stash can be funded.
type EmptyBalanceError struct {
	Address string
}

func (e *EmptyBalanceError) Error() string {
	return fmt.Sprintf("%s, send some coins to %s", ErrEmptyBalance, e.Address)
}

func (e *EmptyBalanceError) Unwrap() error {
	return ErrEmptyBalance
}

// TimelockError is returned when the redeemer path is not spendable yet.
type TimelockError struct {
	Timelock   uint32
	BlocksLeft uint32
}

func (e *TimelockError) Error() string {
	return fmt.Sprintf(
		"%s: %d of %d blocks left", ErrTimelockNotExpired, e.BlocksLeft, e.Timelock,
	)
}

func (e *TimelockError) Unwrap() error {
	return ErrTimelockNotExpired
}
