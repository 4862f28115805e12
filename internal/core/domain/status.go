package domain

// State is the lifecycle stage of a stash, inferred from chain data.
type State int

const (
	// StateCreated: the descriptor exists but no output was ever seen.
	StateCreated State = iota
	// StateActive: funded and the oldest output is younger than the timelock.
	StateActive
	// StateExpired: at least one output reached the timelock, the redeemer
	// can claim.
	StateExpired
	// StateTerminated: funds left the stash through withdraw or redeem.
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateActive:
		return "active"
	case StateExpired:
		return "expired"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// InferState derives the state of a stash. oldestAge is the number of
// confirmations of the oldest unspent output, 0 if unconfirmed.
func InferState(hasHistory bool, numUtxos int, oldestAge, timelock uint32) State {
	if numUtxos <= 0 {
		if hasHistory {
			return StateTerminated
		}
		return StateCreated
	}
	if oldestAge >= timelock {
		return StateExpired
	}
	return StateActive
}

// OutputStatus describes one unspent output of a stash.
type OutputStatus struct {
	Txid        string `json:"txid"`
	Vout        uint32 `json:"vout"`
	Amount      uint64 `json:"amount"`
	Address     string `json:"address"`
	Index       uint32 `json:"index"`
	BlockHeight uint32 `json:"blockHeight,omitempty"`
	Age         uint32 `json:"age"`
}

// Status is a point in time view of a stash.
type Status struct {
	Id             string         `json:"id"`
	State          State          `json:"-"`
	StateName      string         `json:"state"`
	Balance        uint64         `json:"balance"`
	Timelock       uint32         `json:"timelock"`
	TipHeight      uint32         `json:"tipHeight"`
	Outputs        []OutputStatus `json:"outputs"`
	ReceiveAddress string         `json:"receiveAddress"`
	// Policy is the semantic policy of the stash descriptor.
	Policy string `json:"policy"`
	// ExpiryHeight is the tip height at which the oldest confirmed output
	// becomes redeemable, 0 if no output is confirmed.
	ExpiryHeight      uint32 `json:"expiryHeight,omitempty"`
	BlocksUntilExpiry uint32 `json:"blocksUntilExpiry"`
}

// NewStatus builds the status of a stash and infers its state.
func NewStatus(
	id string, timelock, tipHeight uint32, outputs []OutputStatus,
	hasHistory bool, receiveAddress string,
) *Status {
	var (
		balance      uint64
		oldestAge    uint32
		oldestHeight uint32
	)
	for _, out := range outputs {
		balance += out.Amount
		if out.Age > oldestAge {
			oldestAge = out.Age
			oldestHeight = out.BlockHeight
		}
	}

	state := InferState(hasHistory, len(outputs), oldestAge, timelock)
	status := &Status{
		Id:             id,
		State:          state,
		StateName:      state.String(),
		Balance:        balance,
		Timelock:       timelock,
		TipHeight:      tipHeight,
		Outputs:        outputs,
		ReceiveAddress: receiveAddress,
	}
	if oldestHeight > 0 {
		status.ExpiryHeight = oldestHeight + timelock - 1
	}
	if state == StateActive {
		status.BlocksUntilExpiry = timelock - oldestAge
	}
	return status
}
