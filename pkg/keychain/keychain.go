package keychain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ArkLabsHQ/deadman/pkg/descriptor"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
)

const (
	entropyBits = 128
	purpose     = 84
)

var (
	ErrInvalidMnemonic = errors.New("invalid mnemonic")
	ErrKeyMismatch     = errors.New("key does not descend from this seed")
)

// MasterKey is the BIP32 root key of one party for one network.
type MasterKey struct {
	key *hdkeychain.ExtendedKey
	net *chaincfg.Params
}

// Derive stretches the mnemonic and passphrase into a master key for net.
// If mnemonic is nil a fresh 12 words one is generated and returned so that
// the caller can back it up.
func Derive(
	mnemonic *string, passphrase string, net *chaincfg.Params,
) (*MasterKey, string, error) {
	var phrase, generated string
	if mnemonic == nil {
		entropy, err := bip39.NewEntropy(entropyBits)
		if err != nil {
			return nil, "", fmt.Errorf("failed to generate entropy: %w", err)
		}
		phrase, err = bip39.NewMnemonic(entropy)
		if err != nil {
			return nil, "", fmt.Errorf("failed to generate mnemonic: %w", err)
		}
		generated = phrase
	} else {
		phrase = strings.Join(strings.Fields(*mnemonic), " ")
		if !bip39.IsMnemonicValid(phrase) {
			return nil, "", ErrInvalidMnemonic
		}
	}

	seed := bip39.NewSeed(phrase, passphrase)
	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, "", fmt.Errorf("failed to derive master key: %w", err)
	}

	key := hdkeychain.NewExtendedKey(
		net.HDPrivateKeyID[:], master.Key, master.ChainCode, []byte{0, 0, 0, 0}, 0, 0, true,
	)
	return &MasterKey{key, net}, generated, nil
}

// Network returns the network the key is encoded for.
func (m *MasterKey) Network() *chaincfg.Params {
	return m.net
}

// Fingerprint returns the fingerprint used in key origins.
func (m *MasterKey) Fingerprint() ([4]byte, error) {
	return descriptor.Fingerprint(m.key)
}

// AccountPath returns 84'/coin'/0', with coin 0 on mainnet and 1 elsewhere.
func (m *MasterKey) AccountPath() []uint32 {
	coin := uint32(1)
	if m.net.Net == chaincfg.MainNetParams.Net {
		coin = 0
	}
	return []uint32{
		bip32.FirstHardenedChild + purpose,
		bip32.FirstHardenedChild + coin,
		bip32.FirstHardenedChild + 0,
	}
}

// DescriptorKey returns the private key expression xprv/84'/coin'/0'/0/*.
// The returned key owns a copy of the key material.
func (m *MasterKey) DescriptorKey() (*descriptor.Key, error) {
	key, err := m.copyKey()
	if err != nil {
		return nil, err
	}
	return &descriptor.Key{
		Extended: key,
		Path:     append(m.AccountPath(), 0),
		Wildcard: true,
	}, nil
}

// SecretFor returns the private form of a public key expression whose
// origin is this master key.
func (m *MasterKey) SecretFor(pub *descriptor.Key) (*descriptor.Key, error) {
	if pub.Extended == nil {
		return nil, fmt.Errorf("%w: not an extended key", ErrKeyMismatch)
	}
	fingerprint, err := m.Fingerprint()
	if err != nil {
		return nil, err
	}
	origin, err := pub.OriginFingerprint()
	if err != nil {
		return nil, err
	}
	if origin != fingerprint {
		return nil, fmt.Errorf("%w: key does not descend from this mnemonic and passphrase", ErrKeyMismatch)
	}

	var path []uint32
	if pub.Origin != nil {
		path = append(path, pub.Origin.Path...)
	}
	path = append(path, pub.Path...)

	key, err := m.copyKey()
	if err != nil {
		return nil, err
	}
	secret := &descriptor.Key{
		Extended: key,
		Path:     path,
		Wildcard: pub.Wildcard,
	}
	if secret.String() != pub.String() {
		secret.Wipe()
		return nil, fmt.Errorf("%w: wrong mnemonic or passphrase", ErrKeyMismatch)
	}
	return secret, nil
}

// Zero wipes the key material.
func (m *MasterKey) Zero() {
	m.key.Zero()
}

func (m *MasterKey) copyKey() (*hdkeychain.ExtendedKey, error) {
	return hdkeychain.NewKeyFromString(m.key.String())
}
