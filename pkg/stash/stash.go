package stash

import (
	"errors"
	"fmt"

	"github.com/ArkLabsHQ/deadman/pkg/descriptor"
	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
)

const (
	DefaultTimelock uint32 = 1000
	// MaxTimelock is the largest relative locktime in blocks BIP68 can encode.
	MaxTimelock uint32 = 0xffff
)

var (
	ErrPolicyCompilation = errors.New("policy compilation failed")
	ErrNotAStash         = errors.New("descriptor is not a stash policy")
)

// Path is one of the two spending branches of a stash.
type Path int

const (
	// PathOwner is spendable by the owner signature alone at any time.
	PathOwner Path = iota
	// PathRedeemer is spendable by the redeemer signature once the output is
	// Timelock blocks old.
	PathRedeemer
)

func (p Path) String() string {
	switch p {
	case PathOwner:
		return "owner"
	case PathRedeemer:
		return "redeemer"
	default:
		return "unknown"
	}
}

type Opts struct {
	Timelock uint32
	Network  *chaincfg.Params
}

func (o Opts) validate() error {
	if o.Network == nil {
		return errors.New("missing network")
	}
	if o.Timelock == 0 || o.Timelock > MaxTimelock {
		return fmt.Errorf("timelock must be in range [1, %d] blocks, got %d", MaxTimelock, o.Timelock)
	}
	return nil
}

// Policy is a compiled stash: (redeemer signature AND older(Timelock)) OR
// owner signature, as wsh(andor(pk(Redeemer),older(Timelock),pk(Owner))).
type Policy struct {
	Owner    *descriptor.Key
	Redeemer *descriptor.Key
	Timelock uint32
	Network  *chaincfg.Params

	desc *descriptor.Descriptor
}

// Compile builds the stash policy for the given keys. At most one of them
// may carry private material.
func Compile(owner, redeemer *descriptor.Key, opts Opts) (*Policy, error) {
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrPolicyCompilation, err)
	}
	if owner == nil || redeemer == nil {
		return nil, fmt.Errorf("%w: owner and redeemer keys are required", ErrPolicyCompilation)
	}
	for _, key := range []*descriptor.Key{owner, redeemer} {
		if !key.IsForNet(opts.Network) {
			return nil, fmt.Errorf(
				"%w: key %s is not for %s", ErrPolicyCompilation, key, opts.Network.Name,
			)
		}
		if !key.Wildcard {
			return nil, fmt.Errorf(
				"%w: key %s must be an extended key ending with /*", ErrPolicyCompilation, key,
			)
		}
	}
	if owner.IsPrivate() && redeemer.IsPrivate() {
		return nil, fmt.Errorf(
			"%w: only one of owner and redeemer keys can carry a secret", ErrPolicyCompilation,
		)
	}
	if owner.String() == redeemer.String() {
		return nil, fmt.Errorf("%w: owner and redeemer keys are identical", ErrPolicyCompilation)
	}

	expr := &descriptor.AndOr{
		X: &descriptor.PK{Key: redeemer},
		Y: &descriptor.Older{Timeout: opts.Timelock},
		Z: &descriptor.PK{Key: owner},
	}
	desc, err := descriptor.NewWsh(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrPolicyCompilation, err)
	}

	return &Policy{
		Owner:    owner,
		Redeemer: redeemer,
		Timelock: opts.Timelock,
		Network:  opts.Network,
		desc:     desc,
	}, nil
}

// FromDescriptor recognizes a parsed descriptor as a stash policy.
func FromDescriptor(desc *descriptor.Descriptor, net *chaincfg.Params) (*Policy, error) {
	andor, ok := desc.Expression.(*descriptor.AndOr)
	if !ok {
		return nil, ErrNotAStash
	}
	redeemer, ok := andor.X.(*descriptor.PK)
	if !ok {
		return nil, ErrNotAStash
	}
	older, ok := andor.Y.(*descriptor.Older)
	if !ok {
		return nil, ErrNotAStash
	}
	owner, ok := andor.Z.(*descriptor.PK)
	if !ok {
		return nil, ErrNotAStash
	}

	return Compile(owner.Key, redeemer.Key, Opts{
		Timelock: older.Timeout,
		Network:  net,
	})
}

// ParsePolicy parses a descriptor string into a stash policy.
func ParsePolicy(desc string, net *chaincfg.Params) (*Policy, error) {
	d, err := descriptor.Parse(desc, net)
	if err != nil {
		return nil, err
	}
	return FromDescriptor(d, net)
}

// Descriptor returns the underlying output descriptor.
func (p *Policy) Descriptor() *descriptor.Descriptor {
	return p.desc
}

// Key returns the key that signs for the given path.
func (p *Policy) Key(path Path) *descriptor.Key {
	if path == PathRedeemer {
		return p.Redeemer
	}
	return p.Owner
}

// SecretPath returns the path whose key carries private material.
func (p *Policy) SecretPath() (Path, bool) {
	switch {
	case p.Owner.IsPrivate():
		return PathOwner, true
	case p.Redeemer.IsPrivate():
		return PathRedeemer, true
	default:
		return 0, false
	}
}

// Sequence returns the nSequence of inputs spending through the path. The
// redeemer path commits to the BIP68 encoding of the timelock, the owner path
// only signals RBF.
func (p *Policy) Sequence(path Path) uint32 {
	if path == PathRedeemer {
		return blockchain.LockTimeToSequence(false, p.Timelock)
	}
	return wire.MaxTxInSequenceNum - 2
}

// KeyMap returns the private keys of the policy indexed by their public
// expression.
func (p *Policy) KeyMap() map[string]*descriptor.Key {
	keys := make(map[string]*descriptor.Key)
	for _, key := range []*descriptor.Key{p.Owner, p.Redeemer} {
		if key.IsPrivate() {
			keys[key.String()] = key
		}
	}
	return keys
}

// Public returns the policy without private material.
func (p *Policy) Public() (*PublicDescriptor, error) {
	owner, err := p.Owner.Public()
	if err != nil {
		return nil, err
	}
	redeemer, err := p.Redeemer.Public()
	if err != nil {
		return nil, err
	}
	policy, err := Compile(owner, redeemer, Opts{Timelock: p.Timelock, Network: p.Network})
	if err != nil {
		return nil, err
	}
	return &PublicDescriptor{policy}, nil
}

// Secret returns the policy as a secret descriptor. It fails if no key
// carries private material.
func (p *Policy) Secret() (*SecretDescriptor, error) {
	if _, ok := p.SecretPath(); !ok {
		return nil, ErrNoSecret
	}
	return &SecretDescriptor{p}, nil
}
