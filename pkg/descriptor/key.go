package descriptor

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

var (
	ErrInvalidKey         = errors.New("invalid key expression")
	ErrInvalidKeyOrigin   = errors.New("invalid key origin")
	ErrInvalidPath        = errors.New("invalid derivation path")
	ErrHardenedWildcard   = errors.New("hardened wildcard is not supported")
	ErrHardenedFromXpub   = errors.New("cannot derive hardened child from a public key")
	ErrNoPrivateKey       = errors.New("key does not carry private material")
	ErrKeyNetworkMismatch = errors.New("key does not belong to the network")
)

const hardenedMarks = "'hH"

// KeyOrigin is the "[fingerprint/path]" prefix of a key expression.
type KeyOrigin struct {
	Fingerprint [4]byte
	Path        []uint32
}

func (o *KeyOrigin) String() string {
	return fmt.Sprintf("[%s%s]", hex.EncodeToString(o.Fingerprint[:]), formatPath(o.Path))
}

// Key is a descriptor key expression: either a single compressed public key
// or an extended key followed by a derivation path and an optional wildcard.
type Key struct {
	Origin   *KeyOrigin
	Extended *hdkeychain.ExtendedKey
	Single   *btcec.PublicKey
	Path     []uint32
	Wildcard bool
}

// ParseKey parses a key expression like "[d34db33f/84'/1'/0']tpub.../0/*".
func ParseKey(expr string) (*Key, error) {
	key := &Key{}

	if strings.HasPrefix(expr, "[") {
		end := strings.Index(expr, "]")
		if end < 0 {
			return nil, fmt.Errorf("%w: missing closing bracket", ErrInvalidKeyOrigin)
		}
		origin, err := parseOrigin(expr[1:end])
		if err != nil {
			return nil, err
		}
		key.Origin = origin
		expr = expr[end+1:]
	}

	parts := strings.Split(expr, "/")
	if len(parts[0]) == 0 {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidKey)
	}

	if len(parts[0]) == 66 {
		if len(parts) > 1 {
			return nil, fmt.Errorf("%w: single key cannot have a derivation path", ErrInvalidKey)
		}
		buf, err := hex.DecodeString(parts[0])
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidKey, err)
		}
		pubkey, err := btcec.ParsePubKey(buf)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidKey, err)
		}
		key.Single = pubkey
		return key, nil
	}

	extended, err := hdkeychain.NewKeyFromString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKey, err)
	}
	key.Extended = extended

	for i, elem := range parts[1:] {
		if strings.HasPrefix(elem, "*") {
			if i != len(parts)-2 {
				return nil, fmt.Errorf("%w: wildcard must be the last element", ErrInvalidPath)
			}
			if len(elem) > 1 {
				if strings.ContainsAny(elem[1:], hardenedMarks) {
					return nil, ErrHardenedWildcard
				}
				return nil, fmt.Errorf("%w: %s", ErrInvalidPath, elem)
			}
			key.Wildcard = true
			continue
		}
		index, err := parsePathElement(elem)
		if err != nil {
			return nil, err
		}
		key.Path = append(key.Path, index)
	}

	return key, nil
}

// IsPrivate returns whether the key carries private material.
func (k *Key) IsPrivate() bool {
	return k.Extended != nil && k.Extended.IsPrivate()
}

// IsForNet returns whether an extended key is encoded for the given network.
// Single keys are network agnostic.
func (k *Key) IsForNet(net *chaincfg.Params) bool {
	if k.Extended == nil {
		return true
	}
	return k.Extended.IsForNet(net)
}

// Public returns the public form of the key. The hardened part of the path of
// a private key is derived and moved into the key origin.
func (k *Key) Public() (*Key, error) {
	if !k.IsPrivate() {
		return k.clone(), nil
	}

	lastHardened := -1
	for i, index := range k.Path {
		if index >= hdkeychain.HardenedKeyStart {
			lastHardened = i
		}
	}
	prefix, rest := k.Path[:lastHardened+1], k.Path[lastHardened+1:]

	derived := k.Extended
	for _, index := range prefix {
		var err error
		derived, err = derived.Derive(index)
		if err != nil {
			return nil, fmt.Errorf("failed to derive %s: %w", formatPath(prefix), err)
		}
	}
	neutered, err := derived.Neuter()
	if err != nil {
		return nil, err
	}
	// Neuter shares the chain code buffer, which Wipe zeroes.
	neutered, err = hdkeychain.NewKeyFromString(neutered.String())
	if err != nil {
		return nil, err
	}

	var origin *KeyOrigin
	switch {
	case k.Origin != nil:
		origin = &KeyOrigin{
			Fingerprint: k.Origin.Fingerprint,
			Path:        append(append([]uint32{}, k.Origin.Path...), prefix...),
		}
	case len(prefix) > 0:
		fingerprint, err := Fingerprint(k.Extended)
		if err != nil {
			return nil, err
		}
		origin = &KeyOrigin{
			Fingerprint: fingerprint,
			Path:        append([]uint32{}, prefix...),
		}
	}

	return &Key{
		Origin:   origin,
		Extended: neutered,
		Path:     append([]uint32{}, rest...),
		Wildcard: k.Wildcard,
	}, nil
}

// PubKey returns the public key at the given wildcard index. The index is
// ignored for keys without wildcard.
func (k *Key) PubKey(index uint32) (*btcec.PublicKey, error) {
	if k.Single != nil {
		return k.Single, nil
	}
	derived, err := k.derive(index)
	if err != nil {
		return nil, err
	}
	return derived.ECPubKey()
}

// PrivKey returns the private key at the given wildcard index.
func (k *Key) PrivKey(index uint32) (*btcec.PrivateKey, error) {
	if !k.IsPrivate() {
		return nil, ErrNoPrivateKey
	}
	derived, err := k.derive(index)
	if err != nil {
		return nil, err
	}
	return derived.ECPrivKey()
}

// OriginFingerprint returns the fingerprint of the root the key descends
// from: the origin one if present, the key's own otherwise.
func (k *Key) OriginFingerprint() ([4]byte, error) {
	if k.Origin != nil {
		return k.Origin.Fingerprint, nil
	}
	if k.Extended == nil {
		var fp [4]byte
		copy(fp[:], btcutil.Hash160(k.Single.SerializeCompressed()))
		return fp, nil
	}
	return Fingerprint(k.Extended)
}

// Wipe zeroes the extended key material.
func (k *Key) Wipe() {
	if k.Extended != nil {
		k.Extended.Zero()
	}
}

// String returns the public key expression. Private keys are never rendered.
func (k *Key) String() string {
	pub, err := k.Public()
	if err != nil {
		return "<invalid key>"
	}
	return pub.format()
}

// SecretString returns the key expression including private material.
func (k *Key) SecretString() string {
	return k.format()
}

func (k *Key) format() string {
	var sb strings.Builder
	if k.Origin != nil {
		sb.WriteString(k.Origin.String())
	}
	if k.Single != nil {
		sb.WriteString(hex.EncodeToString(k.Single.SerializeCompressed()))
		return sb.String()
	}
	sb.WriteString(k.Extended.String())
	sb.WriteString(formatPath(k.Path))
	if k.Wildcard {
		sb.WriteString("/*")
	}
	return sb.String()
}

func (k *Key) derive(index uint32) (*hdkeychain.ExtendedKey, error) {
	path := k.Path
	if k.Wildcard {
		if index >= hdkeychain.HardenedKeyStart {
			return nil, fmt.Errorf("%w: index %d", ErrInvalidPath, index)
		}
		path = append(append([]uint32{}, k.Path...), index)
	}

	derived := k.Extended
	for _, i := range path {
		if i >= hdkeychain.HardenedKeyStart && !derived.IsPrivate() {
			return nil, ErrHardenedFromXpub
		}
		var err error
		derived, err = derived.Derive(i)
		if err != nil {
			return nil, err
		}
	}
	return derived, nil
}

func (k *Key) clone() *Key {
	c := *k
	c.Path = append([]uint32{}, k.Path...)
	if k.Origin != nil {
		c.Origin = &KeyOrigin{
			Fingerprint: k.Origin.Fingerprint,
			Path:        append([]uint32{}, k.Origin.Path...),
		}
	}
	return &c
}

// Fingerprint returns the first four bytes of the hash160 of the key's
// public key.
func Fingerprint(key *hdkeychain.ExtendedKey) ([4]byte, error) {
	var fp [4]byte
	pubkey, err := key.ECPubKey()
	if err != nil {
		return fp, err
	}
	copy(fp[:], btcutil.Hash160(pubkey.SerializeCompressed()))
	return fp, nil
}

// ParsePath parses a path like "m/84'/1'/0'" or "84h/1h/0h".
func ParsePath(path string) ([]uint32, error) {
	path = strings.TrimPrefix(strings.TrimPrefix(path, "m"), "/")
	if len(path) == 0 {
		return nil, nil
	}
	var res []uint32
	for _, elem := range strings.Split(path, "/") {
		index, err := parsePathElement(elem)
		if err != nil {
			return nil, err
		}
		res = append(res, index)
	}
	return res, nil
}

func parseOrigin(origin string) (*KeyOrigin, error) {
	parts := strings.Split(origin, "/")
	if len(parts[0]) != 8 {
		return nil, fmt.Errorf("%w: fingerprint must be 4 bytes", ErrInvalidKeyOrigin)
	}
	buf, err := hex.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKeyOrigin, err)
	}

	res := &KeyOrigin{}
	copy(res.Fingerprint[:], buf)
	for _, elem := range parts[1:] {
		index, err := parsePathElement(elem)
		if err != nil {
			return nil, err
		}
		res.Path = append(res.Path, index)
	}
	return res, nil
}

func parsePathElement(elem string) (uint32, error) {
	hardened := false
	if len(elem) > 0 && strings.ContainsAny(elem[len(elem)-1:], hardenedMarks) {
		hardened = true
		elem = elem[:len(elem)-1]
	}
	index, err := strconv.ParseUint(elem, 10, 32)
	if err != nil || index >= hdkeychain.HardenedKeyStart {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPath, elem)
	}
	if hardened {
		index += hdkeychain.HardenedKeyStart
	}
	return uint32(index), nil
}

func formatPath(path []uint32) string {
	var sb strings.Builder
	for _, index := range path {
		if index >= hdkeychain.HardenedKeyStart {
			fmt.Fprintf(&sb, "/%d'", index-hdkeychain.HardenedKeyStart)
			continue
		}
		fmt.Fprintf(&sb, "/%d", index)
	}
	return sb.String()
}
