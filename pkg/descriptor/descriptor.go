package descriptor

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// MaxWitnessScriptSize is the largest P2WSH witness script relayed by
// standard nodes.
const MaxWitnessScriptSize = 3600

var (
	ErrUnsupportedDescriptor = errors.New("unsupported descriptor, expected wsh(...)")
	ErrScriptTooLarge        = errors.New("witness script exceeds standard size")
	ErrUnsatisfiable         = errors.New("descriptor cannot be satisfied")
	ErrInvalidTopLevel       = errors.New("top level expression must not be a verify expression")
)

// Descriptor is a P2WSH output descriptor: wsh(EXPRESSION).
type Descriptor struct {
	Expression Expression
}

// Parse parses a wsh() descriptor, verifying the checksum when present.
// All extended keys must belong to net, unless net is nil.
func Parse(desc string, net *chaincfg.Params) (*Descriptor, error) {
	desc = strings.TrimSpace(desc)
	body, _, err := SplitChecksum(desc, false)
	if err != nil {
		return nil, err
	}

	if !strings.HasPrefix(body, "wsh(") || !strings.HasSuffix(body, ")") {
		return nil, ErrUnsupportedDescriptor
	}

	expr, err := parseExpression(body[4 : len(body)-1])
	if err != nil {
		return nil, err
	}

	if net != nil {
		for _, key := range expr.Keys() {
			if !key.IsForNet(net) {
				return nil, fmt.Errorf("%w: %s", ErrKeyNetworkMismatch, net.Name)
			}
		}
	}

	return NewWsh(expr)
}

// NewWsh wraps the expression in a P2WSH descriptor.
func NewWsh(expr Expression) (*Descriptor, error) {
	if isVerify(expr) {
		return nil, ErrInvalidTopLevel
	}
	d := &Descriptor{expr}
	script, err := d.WitnessScript(0)
	if err != nil {
		return nil, err
	}
	if len(script) > MaxWitnessScriptSize {
		return nil, fmt.Errorf(
			"%w: %d > %d bytes", ErrScriptTooLarge, len(script), MaxWitnessScriptSize,
		)
	}
	return d, nil
}

// String returns the public descriptor with its checksum.
func (d *Descriptor) String() string {
	return withChecksum(fmt.Sprintf("wsh(%s)", d.Expression))
}

// SecretString returns the descriptor, private keys included, with its
// checksum.
func (d *Descriptor) SecretString() string {
	return withChecksum(fmt.Sprintf("wsh(%s)", d.Expression.SecretString()))
}

// Checksum returns the checksum of the public descriptor.
func (d *Descriptor) Checksum() string {
	checksum, _ := Checksum(fmt.Sprintf("wsh(%s)", d.Expression))
	return checksum
}

// Keys returns the keys in the order they appear in the descriptor.
func (d *Descriptor) Keys() []*Key {
	return d.Expression.Keys()
}

// HasSecret returns whether any key carries private material.
func (d *Descriptor) HasSecret() bool {
	for _, key := range d.Keys() {
		if key.IsPrivate() {
			return true
		}
	}
	return false
}

// IsRange returns whether the descriptor derives a different script per
// index, that is whether any key ends with a wildcard.
func (d *Descriptor) IsRange() bool {
	for _, key := range d.Keys() {
		if key.Wildcard {
			return true
		}
	}
	return false
}

// Lift returns the semantic policy of the descriptor.
func (d *Descriptor) Lift() *SemanticPolicy {
	return d.Expression.Lift()
}

// WitnessScript returns the witness script at the given derivation index.
func (d *Descriptor) WitnessScript(index uint32) ([]byte, error) {
	b := txscript.NewScriptBuilder()
	if err := d.Expression.Script(b, index, false); err != nil {
		return nil, err
	}
	return b.Script()
}

// ScriptPubKey returns the P2WSH output script at the given derivation index.
func (d *Descriptor) ScriptPubKey(index uint32) ([]byte, error) {
	script, err := d.WitnessScript(index)
	if err != nil {
		return nil, err
	}
	hash := sha256.Sum256(script)
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(hash[:]).
		Script()
}

// Address returns the P2WSH address at the given derivation index.
func (d *Descriptor) Address(index uint32, net *chaincfg.Params) (btcutil.Address, error) {
	script, err := d.WitnessScript(index)
	if err != nil {
		return nil, err
	}
	hash := sha256.Sum256(script)
	return btcutil.NewAddressWitnessScriptHash(hash[:], net)
}

// Satisfy returns the full input witness, witness script included, built
// from the cheapest satisfaction available to s.
func (d *Descriptor) Satisfy(s Satisfier, index uint32) (wire.TxWitness, error) {
	sat, _, err := d.Expression.Satisfy(s, index)
	if err != nil {
		return nil, err
	}
	if !sat.Available {
		return nil, ErrUnsatisfiable
	}
	script, err := d.WitnessScript(index)
	if err != nil {
		return nil, err
	}
	return append(wire.TxWitness(sat.Witness), script), nil
}

// WitnessSize returns the serialized size of the witness produced by
// Satisfy, count prefix included.
func (d *Descriptor) WitnessSize(s Satisfier, index uint32) (int, error) {
	witness, err := d.Satisfy(s, index)
	if err != nil {
		return 0, err
	}
	return witness.SerializeSize(), nil
}

func withChecksum(desc string) string {
	res, err := AddChecksum(desc)
	if err != nil {
		return desc
	}
	return res
}
