package stash

import (
	"errors"
	"fmt"

	"github.com/ArkLabsHQ/deadman/pkg/keychain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

var (
	ErrNoSecret  = errors.New("descriptor does not carry a private key")
	ErrHasSecret = errors.New("descriptor carries a private key")
)

// PublicDescriptor is a stash descriptor without private material. It is
// safe to share, store and log.
type PublicDescriptor struct {
	policy *Policy
}

// ParsePublicDescriptor parses a stash descriptor that must not contain
// private keys.
func ParsePublicDescriptor(desc string, net *chaincfg.Params) (*PublicDescriptor, error) {
	policy, err := ParsePolicy(desc, net)
	if err != nil {
		return nil, err
	}
	if _, ok := policy.SecretPath(); ok {
		return nil, ErrHasSecret
	}
	return &PublicDescriptor{policy}, nil
}

func (d *PublicDescriptor) Policy() *Policy {
	return d.policy
}

// String returns the descriptor with its checksum.
func (d *PublicDescriptor) String() string {
	return d.policy.desc.String()
}

// Checksum identifies the stash.
func (d *PublicDescriptor) Checksum() string {
	return d.policy.desc.Checksum()
}

// Address returns the deposit address at the given derivation index.
func (d *PublicDescriptor) Address(index uint32) (btcutil.Address, error) {
	return d.policy.desc.Address(index, d.policy.Network)
}

// SecretDescriptor is a stash descriptor embedding exactly one party's
// private key. It renders as its public form; Reveal must be called
// explicitly to obtain the private one.
type SecretDescriptor struct {
	policy *Policy
}

// ParseSecretDescriptor parses a stash descriptor that must contain a
// private key.
func ParseSecretDescriptor(desc string, net *chaincfg.Params) (*SecretDescriptor, error) {
	policy, err := ParsePolicy(desc, net)
	if err != nil {
		return nil, err
	}
	return policy.Secret()
}

// ParseDescriptor parses a stash descriptor of either kind. The secret
// descriptor is nil if desc does not carry a private key.
func ParseDescriptor(
	desc string, net *chaincfg.Params,
) (*PublicDescriptor, *SecretDescriptor, error) {
	policy, err := ParsePolicy(desc, net)
	if err != nil {
		return nil, nil, err
	}
	if _, ok := policy.SecretPath(); !ok {
		return &PublicDescriptor{policy}, nil, nil
	}
	secret := &SecretDescriptor{policy}
	public, err := secret.Public()
	if err != nil {
		return nil, nil, err
	}
	return public, secret, nil
}

// AttachSecret rebuilds a secret descriptor from a public one and the
// master key of one of its parties.
func AttachSecret(public *PublicDescriptor, master *keychain.MasterKey) (*SecretDescriptor, error) {
	p := public.policy
	owner, redeemer := p.Owner, p.Redeemer

	secret, err := master.SecretFor(owner)
	if err == nil {
		owner = secret
	} else {
		if !errors.Is(err, keychain.ErrKeyMismatch) {
			return nil, err
		}
		if secret, err = master.SecretFor(redeemer); err != nil {
			return nil, fmt.Errorf("neither owner nor redeemer key matches: %w", err)
		}
		redeemer = secret
	}

	policy, err := Compile(owner, redeemer, Opts{Timelock: p.Timelock, Network: p.Network})
	if err != nil {
		return nil, err
	}
	return &SecretDescriptor{policy}, nil
}

func (d *SecretDescriptor) Policy() *Policy {
	return d.policy
}

// Path returns the spending path the embedded key can sign for.
func (d *SecretDescriptor) Path() Path {
	path, _ := d.policy.SecretPath()
	return path
}

// Public returns the public form of the descriptor.
func (d *SecretDescriptor) Public() (*PublicDescriptor, error) {
	return d.policy.Public()
}

// String returns the public form of the descriptor.
func (d *SecretDescriptor) String() string {
	return d.policy.desc.String()
}

// GoString keeps %#v from printing the private key.
func (d *SecretDescriptor) GoString() string {
	return fmt.Sprintf("stash.SecretDescriptor(%s)", d.String())
}

// Reveal returns the descriptor including the private key.
func (d *SecretDescriptor) Reveal() string {
	return d.policy.desc.SecretString()
}

// Wipe zeroes the private key. The descriptor is unusable afterwards.
func (d *SecretDescriptor) Wipe() {
	for _, key := range d.policy.KeyMap() {
		key.Wipe()
	}
}
