package descriptor

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
)

// Satisfier provides the assets needed to satisfy an expression.
type Satisfier interface {
	// Sign returns the signature (with sighash flag) for the given key.
	Sign(pubkey *btcec.PublicKey) ([]byte, bool)
	// CheckOlder reports whether a relative timelock of n blocks is met.
	CheckOlder(n uint32) bool
}

// Satisfaction is a witness stack, bottom first.
type Satisfaction struct {
	Witness   [][]byte
	Available bool
}

var unavailable = Satisfaction{}

func available(items ...[]byte) Satisfaction {
	return Satisfaction{Witness: items, Available: true}
}

// and returns the stack of s with other pushed on top of it.
func (s Satisfaction) and(other Satisfaction) Satisfaction {
	if !s.Available || !other.Available {
		return unavailable
	}
	witness := make([][]byte, 0, len(s.Witness)+len(other.Witness))
	witness = append(witness, s.Witness...)
	witness = append(witness, other.Witness...)
	return Satisfaction{Witness: witness, Available: true}
}

// Size returns the serialized size of the witness items.
func (s Satisfaction) Size() int {
	size := 0
	for _, item := range s.Witness {
		size += wire.VarIntSerializeSize(uint64(len(item))) + len(item)
	}
	return size
}

func choose(a, b Satisfaction) Satisfaction {
	switch {
	case a.Available && b.Available:
		if b.Size() < a.Size() {
			return b
		}
		return a
	case a.Available:
		return a
	default:
		return b
	}
}

// SignatureSatisfier satisfies an expression with the signatures it holds,
// indexed by compressed public key, and the age of the spent output.
type SignatureSatisfier struct {
	Signatures map[string][]byte
	// Sequence is the nSequence of the spending input.
	Sequence uint32
	// Age is the number of confirmations of the spent output.
	Age uint32
	// TimelockRefused is set when a relative timelock check failed.
	TimelockRefused bool
}

func (s *SignatureSatisfier) Sign(pubkey *btcec.PublicKey) ([]byte, bool) {
	sig, ok := s.Signatures[string(pubkey.SerializeCompressed())]
	return sig, ok
}

func (s *SignatureSatisfier) CheckOlder(n uint32) bool {
	ok := s.Sequence&wire.SequenceLockTimeDisabled == 0 &&
		s.Sequence&wire.SequenceLockTimeIsSeconds == 0 &&
		s.Sequence&wire.SequenceLockTimeMask >= n &&
		s.Age >= n
	if !ok {
		s.TimelockRefused = true
	}
	return ok
}

// maxSigSize is the size of a DER signature with high R and S plus the
// sighash flag.
const maxSigSize = 73

// PlanSatisfier pretends to hold maximum size signatures for the given keys
// and to meet relative timelocks up to Older. It is used to estimate witness
// sizes before signing.
type PlanSatisfier struct {
	Keys  []*btcec.PublicKey
	Older uint32
}

func (s *PlanSatisfier) Sign(pubkey *btcec.PublicKey) ([]byte, bool) {
	for _, key := range s.Keys {
		if key.IsEqual(pubkey) {
			return make([]byte, maxSigSize), true
		}
	}
	return nil, false
}

func (s *PlanSatisfier) CheckOlder(n uint32) bool {
	return n <= s.Older
}
