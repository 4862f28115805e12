package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Operation is a state changing action performed on a stash.
type Operation string

const (
	OperationCheckIn  Operation = "check-in"
	OperationWithdraw Operation = "withdraw"
	OperationRedeem   Operation = "redeem"
)

// States returns the state transition performed by the operation.
func (o Operation) States() (from, to State) {
	switch o {
	case OperationWithdraw:
		return StateActive, StateTerminated
	case OperationRedeem:
		return StateExpired, StateTerminated
	default:
		return StateActive, StateActive
	}
}

// Transition is the audit record of a broadcast transaction.
type Transition struct {
	Id          string
	StashId     string
	Operation   Operation
	From        State
	To          State
	Txid        string
	Amount      uint64
	Fee         uint64
	Destination string
	Height      uint32
	CreatedAt   int64
}

func NewTransition(
	stashId string, op Operation, txid string, amount, fee uint64,
	destination string, height uint32,
) Transition {
	from, to := op.States()
	return Transition{
		Id:          uuid.New().String(),
		StashId:     stashId,
		Operation:   op,
		From:        from,
		To:          to,
		Txid:        txid,
		Amount:      amount,
		Fee:         fee,
		Destination: destination,
		Height:      height,
		CreatedAt:   time.Now().Unix(),
	}
}

// TransitionRepository is the append-only audit trail of stashes.
type TransitionRepository interface {
	Add(ctx context.Context, transition Transition) error
	// GetAll returns the transitions of a stash, oldest first.
	GetAll(ctx context.Context, stashId string) ([]Transition, error)
	Close()
}
