package descriptor

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
)

var (
	ErrInvalidPkPolicy    = errors.New("invalid pk() policy")
	ErrInvalidPkhPolicy   = errors.New("invalid pkh() policy")
	ErrInvalidOlderPolicy = errors.New("invalid older() policy")
	ErrInvalidAndVPolicy  = errors.New("invalid and_v() policy")
	ErrInvalidOrDPolicy   = errors.New("invalid or_d() policy")
	ErrInvalidAndOrPolicy = errors.New("invalid andor() policy")
	ErrInvalidWrapper     = errors.New("invalid wrapper")
	ErrNotExpectedPolicy  = errors.New("not the expected policy")
	ErrUnsupportedPolicy  = errors.New("unsupported policy")
)

const maxRelativeLocktime = 1<<31 - 1

// Expression is a node of the miniscript-like expression tree.
type Expression interface {
	Parse(policy string) error
	// Script appends the node's script to b. With verify set the node ends
	// with a VERIFY opcode.
	Script(b *txscript.ScriptBuilder, index uint32, verify bool) error
	Satisfy(s Satisfier, index uint32) (sat, dissat Satisfaction, err error)
	Lift() *SemanticPolicy
	Keys() []*Key
	String() string
	SecretString() string
}

// pk(KEY)
type PK struct {
	Key *Key
}

func (e *PK) Parse(policy string) error {
	args, err := fragmentArgs(policy, "pk")
	if err != nil {
		return err
	}
	if len(args) != 1 {
		return ErrInvalidPkPolicy
	}
	key, err := ParseKey(args[0])
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidPkPolicy, err)
	}
	e.Key = key
	return nil
}

func (e *PK) Script(b *txscript.ScriptBuilder, index uint32, verify bool) error {
	pubkey, err := e.Key.PubKey(index)
	if err != nil {
		return err
	}
	b.AddData(pubkey.SerializeCompressed())
	if verify {
		b.AddOp(txscript.OP_CHECKSIGVERIFY)
	} else {
		b.AddOp(txscript.OP_CHECKSIG)
	}
	return nil
}

func (e *PK) Satisfy(s Satisfier, index uint32) (Satisfaction, Satisfaction, error) {
	pubkey, err := e.Key.PubKey(index)
	if err != nil {
		return unavailable, unavailable, err
	}
	dissat := available([]byte{})
	sig, ok := s.Sign(pubkey)
	if !ok {
		return unavailable, dissat, nil
	}
	return available(sig), dissat, nil
}

func (e *PK) Lift() *SemanticPolicy {
	return keyPolicy(e.Key)
}

func (e *PK) Keys() []*Key {
	return []*Key{e.Key}
}

func (e *PK) String() string {
	return fmt.Sprintf("pk(%s)", e.Key)
}

func (e *PK) SecretString() string {
	return fmt.Sprintf("pk(%s)", e.Key.SecretString())
}

// pkh(KEY)
type PKH struct {
	Key *Key
}

func (e *PKH) Parse(policy string) error {
	args, err := fragmentArgs(policy, "pkh")
	if err != nil {
		return err
	}
	if len(args) != 1 {
		return ErrInvalidPkhPolicy
	}
	key, err := ParseKey(args[0])
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidPkhPolicy, err)
	}
	e.Key = key
	return nil
}

func (e *PKH) Script(b *txscript.ScriptBuilder, index uint32, verify bool) error {
	pubkey, err := e.Key.PubKey(index)
	if err != nil {
		return err
	}
	b.AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(btcutil.Hash160(pubkey.SerializeCompressed())).
		AddOp(txscript.OP_EQUALVERIFY)
	if verify {
		b.AddOp(txscript.OP_CHECKSIGVERIFY)
	} else {
		b.AddOp(txscript.OP_CHECKSIG)
	}
	return nil
}

func (e *PKH) Satisfy(s Satisfier, index uint32) (Satisfaction, Satisfaction, error) {
	pubkey, err := e.Key.PubKey(index)
	if err != nil {
		return unavailable, unavailable, err
	}
	serialized := pubkey.SerializeCompressed()
	dissat := available([]byte{}, serialized)
	sig, ok := s.Sign(pubkey)
	if !ok {
		return unavailable, dissat, nil
	}
	return available(sig, serialized), dissat, nil
}

func (e *PKH) Lift() *SemanticPolicy {
	return keyPolicy(e.Key)
}

func (e *PKH) Keys() []*Key {
	return []*Key{e.Key}
}

func (e *PKH) String() string {
	return fmt.Sprintf("pkh(%s)", e.Key)
}

func (e *PKH) SecretString() string {
	return fmt.Sprintf("pkh(%s)", e.Key.SecretString())
}

// older(N), N in blocks (BIP68 encoded value)
type Older struct {
	Timeout uint32
}

func (e *Older) Parse(policy string) error {
	args, err := fragmentArgs(policy, "older")
	if err != nil {
		return err
	}
	if len(args) != 1 {
		return ErrInvalidOlderPolicy
	}
	timeout, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil || timeout == 0 || timeout > maxRelativeLocktime {
		return fmt.Errorf("%w: %s", ErrInvalidOlderPolicy, args[0])
	}
	e.Timeout = uint32(timeout)
	return nil
}

func (e *Older) Script(b *txscript.ScriptBuilder, _ uint32, verify bool) error {
	b.AddInt64(int64(e.Timeout)).AddOp(txscript.OP_CHECKSEQUENCEVERIFY)
	if verify {
		b.AddOp(txscript.OP_VERIFY)
	}
	return nil
}

func (e *Older) Satisfy(s Satisfier, _ uint32) (Satisfaction, Satisfaction, error) {
	if !s.CheckOlder(e.Timeout) {
		return unavailable, unavailable, nil
	}
	return available(), unavailable, nil
}

func (e *Older) Lift() *SemanticPolicy {
	locktime := e.Timeout
	return &SemanticPolicy{Type: SemanticPolicyTypeOlder, LockTime: &locktime}
}

func (e *Older) Keys() []*Key {
	return nil
}

func (e *Older) String() string {
	return fmt.Sprintf("older(%d)", e.Timeout)
}

func (e *Older) SecretString() string {
	return e.String()
}

// v:X
type Verify struct {
	Sub Expression
}

func (e *Verify) Parse(policy string) error {
	if !strings.HasPrefix(policy, "v:") {
		return ErrNotExpectedPolicy
	}
	sub, err := parseExpression(policy[2:])
	if err != nil {
		return err
	}
	if isVerify(sub) {
		return fmt.Errorf("%w: v: applied to a verify expression", ErrInvalidWrapper)
	}
	e.Sub = sub
	return nil
}

func (e *Verify) Script(b *txscript.ScriptBuilder, index uint32, _ bool) error {
	return e.Sub.Script(b, index, true)
}

func (e *Verify) Satisfy(s Satisfier, index uint32) (Satisfaction, Satisfaction, error) {
	sat, _, err := e.Sub.Satisfy(s, index)
	return sat, unavailable, err
}

func (e *Verify) Lift() *SemanticPolicy {
	return e.Sub.Lift()
}

func (e *Verify) Keys() []*Key {
	return e.Sub.Keys()
}

func (e *Verify) String() string {
	return "v:" + e.Sub.String()
}

func (e *Verify) SecretString() string {
	return "v:" + e.Sub.SecretString()
}

// and_v(X,Y)
type AndV struct {
	X, Y Expression
}

func (e *AndV) Parse(policy string) error {
	args, err := fragmentArgs(policy, "and_v")
	if err != nil {
		return err
	}
	if len(args) != 2 {
		return ErrInvalidAndVPolicy
	}
	subs, err := parseExpressions(args)
	if err != nil {
		return err
	}
	if !isVerify(subs[0]) {
		return fmt.Errorf("%w: first argument must be a verify expression", ErrInvalidAndVPolicy)
	}
	e.X, e.Y = subs[0], subs[1]
	return nil
}

func (e *AndV) Script(b *txscript.ScriptBuilder, index uint32, verify bool) error {
	if err := e.X.Script(b, index, false); err != nil {
		return err
	}
	return e.Y.Script(b, index, verify)
}

func (e *AndV) Satisfy(s Satisfier, index uint32) (Satisfaction, Satisfaction, error) {
	satX, _, err := e.X.Satisfy(s, index)
	if err != nil {
		return unavailable, unavailable, err
	}
	satY, _, err := e.Y.Satisfy(s, index)
	if err != nil {
		return unavailable, unavailable, err
	}
	return satY.and(satX), unavailable, nil
}

func (e *AndV) Lift() *SemanticPolicy {
	return threshPolicy(2, e.X.Lift(), e.Y.Lift())
}

func (e *AndV) Keys() []*Key {
	return append(e.X.Keys(), e.Y.Keys()...)
}

func (e *AndV) String() string {
	return fmt.Sprintf("and_v(%s,%s)", e.X, e.Y)
}

func (e *AndV) SecretString() string {
	return fmt.Sprintf("and_v(%s,%s)", e.X.SecretString(), e.Y.SecretString())
}

// or_d(X,Z)
type OrD struct {
	X, Z Expression
}

func (e *OrD) Parse(policy string) error {
	args, err := fragmentArgs(policy, "or_d")
	if err != nil {
		return err
	}
	if len(args) != 2 {
		return ErrInvalidOrDPolicy
	}
	subs, err := parseExpressions(args)
	if err != nil {
		return err
	}
	if isVerify(subs[0]) || isVerify(subs[1]) {
		return fmt.Errorf("%w: arguments must not be verify expressions", ErrInvalidOrDPolicy)
	}
	e.X, e.Z = subs[0], subs[1]
	return nil
}

func (e *OrD) Script(b *txscript.ScriptBuilder, index uint32, verify bool) error {
	if err := e.X.Script(b, index, false); err != nil {
		return err
	}
	b.AddOp(txscript.OP_IFDUP).AddOp(txscript.OP_NOTIF)
	if err := e.Z.Script(b, index, false); err != nil {
		return err
	}
	b.AddOp(txscript.OP_ENDIF)
	if verify {
		b.AddOp(txscript.OP_VERIFY)
	}
	return nil
}

func (e *OrD) Satisfy(s Satisfier, index uint32) (Satisfaction, Satisfaction, error) {
	satX, dissatX, err := e.X.Satisfy(s, index)
	if err != nil {
		return unavailable, unavailable, err
	}
	satZ, dissatZ, err := e.Z.Satisfy(s, index)
	if err != nil {
		return unavailable, unavailable, err
	}
	sat := choose(satX, satZ.and(dissatX))
	return sat, dissatZ.and(dissatX), nil
}

func (e *OrD) Lift() *SemanticPolicy {
	return threshPolicy(1, e.X.Lift(), e.Z.Lift())
}

func (e *OrD) Keys() []*Key {
	return append(e.X.Keys(), e.Z.Keys()...)
}

func (e *OrD) String() string {
	return fmt.Sprintf("or_d(%s,%s)", e.X, e.Z)
}

func (e *OrD) SecretString() string {
	return fmt.Sprintf("or_d(%s,%s)", e.X.SecretString(), e.Z.SecretString())
}

// andor(X,Y,Z) = (X and Y) or Z
type AndOr struct {
	X, Y, Z Expression
}

func (e *AndOr) Parse(policy string) error {
	args, err := fragmentArgs(policy, "andor")
	if err != nil {
		return err
	}
	if len(args) != 3 {
		return ErrInvalidAndOrPolicy
	}
	subs, err := parseExpressions(args)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		if isVerify(sub) {
			return fmt.Errorf("%w: arguments must not be verify expressions", ErrInvalidAndOrPolicy)
		}
	}
	e.X, e.Y, e.Z = subs[0], subs[1], subs[2]
	return nil
}

func (e *AndOr) Script(b *txscript.ScriptBuilder, index uint32, verify bool) error {
	if err := e.X.Script(b, index, false); err != nil {
		return err
	}
	b.AddOp(txscript.OP_NOTIF)
	if err := e.Z.Script(b, index, false); err != nil {
		return err
	}
	b.AddOp(txscript.OP_ELSE)
	if err := e.Y.Script(b, index, false); err != nil {
		return err
	}
	b.AddOp(txscript.OP_ENDIF)
	if verify {
		b.AddOp(txscript.OP_VERIFY)
	}
	return nil
}

func (e *AndOr) Satisfy(s Satisfier, index uint32) (Satisfaction, Satisfaction, error) {
	satX, dissatX, err := e.X.Satisfy(s, index)
	if err != nil {
		return unavailable, unavailable, err
	}
	satY, _, err := e.Y.Satisfy(s, index)
	if err != nil {
		return unavailable, unavailable, err
	}
	satZ, dissatZ, err := e.Z.Satisfy(s, index)
	if err != nil {
		return unavailable, unavailable, err
	}
	sat := choose(satY.and(satX), satZ.and(dissatX))
	return sat, dissatZ.and(dissatX), nil
}

func (e *AndOr) Lift() *SemanticPolicy {
	return threshPolicy(1, threshPolicy(2, e.X.Lift(), e.Y.Lift()), e.Z.Lift())
}

func (e *AndOr) Keys() []*Key {
	return append(append(e.X.Keys(), e.Y.Keys()...), e.Z.Keys()...)
}

func (e *AndOr) String() string {
	return fmt.Sprintf("andor(%s,%s,%s)", e.X, e.Y, e.Z)
}

func (e *AndOr) SecretString() string {
	return fmt.Sprintf(
		"andor(%s,%s,%s)", e.X.SecretString(), e.Y.SecretString(), e.Z.SecretString(),
	)
}

func isVerify(e Expression) bool {
	switch v := e.(type) {
	case *Verify:
		return true
	case *AndV:
		return isVerify(v.Y)
	default:
		return false
	}
}
