package application

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/ArkLabsHQ/deadman/pkg/descriptor"
	"github.com/ArkLabsHQ/deadman/pkg/stash"
	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/mempool"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// sweep drains the given outputs of a stash into a single destination through
// one spending path, without change.
type sweep struct {
	policy      *stash.Policy
	path        stash.Path
	outputs     []Output
	destination []byte
	feeRate     float64
	tipHeight   uint32

	ptx    *psbt.Packet
	amount uint64
	fee    uint64
}

// build creates the unsigned PSBT and computes the fee from the estimated
// size of the signed transaction.
func (s *sweep) build() error {
	outpoints := make([]*wire.OutPoint, 0, len(s.outputs))
	sequences := make([]uint32, 0, len(s.outputs))
	var total uint64
	for _, out := range s.outputs {
		hash, err := chainhash.NewHashFromStr(out.Txid)
		if err != nil {
			return fmt.Errorf("invalid txid %s: %w", out.Txid, err)
		}
		outpoints = append(outpoints, wire.NewOutPoint(hash, out.Vout))
		sequences = append(sequences, s.policy.Sequence(s.path))
		total += out.Amount
	}

	ptx, err := psbt.New(
		outpoints, []*wire.TxOut{wire.NewTxOut(int64(total), s.destination)}, 2, 0, sequences,
	)
	if err != nil {
		return err
	}
	updater, err := psbt.NewUpdater(ptx)
	if err != nil {
		return err
	}

	desc := s.policy.Descriptor()
	for i, out := range s.outputs {
		witnessScript, err := desc.WitnessScript(out.Index)
		if err != nil {
			return err
		}
		if err := updater.AddInWitnessUtxo(
			wire.NewTxOut(int64(out.Amount), out.PkScript), i,
		); err != nil {
			return err
		}
		if err := updater.AddInWitnessScript(witnessScript, i); err != nil {
			return err
		}
		if err := updater.AddInSighashType(txscript.SigHashAll, i); err != nil {
			return err
		}
	}

	vsize, err := s.estimateVsize(ptx.UnsignedTx)
	if err != nil {
		return err
	}
	fee := uint64(math.Ceil(float64(vsize) * s.feeRate))
	if fee >= total {
		return fmt.Errorf(
			"%w: fee %d sats is greater than the balance %d sats", ErrDustOutput, fee, total,
		)
	}
	ptx.UnsignedTx.TxOut[0].Value = int64(total - fee)
	if mempool.IsDust(ptx.UnsignedTx.TxOut[0], mempool.DefaultMinRelayTxFee) {
		return fmt.Errorf("%w: %d sats", ErrDustOutput, total-fee)
	}

	s.ptx = ptx
	s.amount = total - fee
	s.fee = fee
	return nil
}

// estimateVsize returns the virtual size of tx with maximum size signatures
// for the sweep path.
func (s *sweep) estimateVsize(unsignedTx *wire.MsgTx) (int64, error) {
	tx := unsignedTx.Copy()
	desc := s.policy.Descriptor()
	key := s.policy.Key(s.path)

	older := uint32(0)
	if s.path == stash.PathRedeemer {
		older = s.policy.Timelock
	}
	for i, out := range s.outputs {
		pubkey, err := key.PubKey(out.Index)
		if err != nil {
			return 0, err
		}
		witness, err := desc.Satisfy(&descriptor.PlanSatisfier{
			Keys:  []*btcec.PublicKey{pubkey},
			Older: older,
		}, out.Index)
		if err != nil {
			return 0, err
		}
		tx.TxIn[i].Witness = witness
	}

	weight := blockchain.GetTransactionWeight(btcutil.NewTx(tx))
	return (weight + blockchain.WitnessScaleFactor - 1) / blockchain.WitnessScaleFactor, nil
}

// sign adds the signatures of the path key to every input.
func (s *sweep) sign() error {
	key := s.policy.Key(s.path)
	if !key.IsPrivate() {
		return fmt.Errorf(
			"%w: descriptor does not carry the %s key", ErrSignatureIncomplete, s.path,
		)
	}

	updater, err := psbt.NewUpdater(s.ptx)
	if err != nil {
		return err
	}

	prevouts := make(map[wire.OutPoint]*wire.TxOut)
	for i, in := range s.ptx.UnsignedTx.TxIn {
		prevouts[in.PreviousOutPoint] = s.ptx.Inputs[i].WitnessUtxo
	}
	sighashes := txscript.NewTxSigHashes(
		s.ptx.UnsignedTx, txscript.NewMultiPrevOutFetcher(prevouts),
	)

	for i, out := range s.outputs {
		sig, pubkey, err := s.signInput(key, sighashes, i, out)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrSignatureIncomplete, err)
		}
		if _, err := updater.Sign(i, sig, pubkey, nil, nil); err != nil {
			return fmt.Errorf("%w: %s", ErrSignatureIncomplete, err)
		}
	}
	return nil
}

// signInput derives the private key of the output and zeroes it once the
// signature is made.
func (s *sweep) signInput(
	key *descriptor.Key, sighashes *txscript.TxSigHashes, i int, out Output,
) ([]byte, []byte, error) {
	priv, err := key.PrivKey(out.Index)
	if err != nil {
		return nil, nil, err
	}
	defer priv.Zero()

	sig, err := txscript.RawTxInWitnessSignature(
		s.ptx.UnsignedTx, sighashes, i, int64(out.Amount),
		s.ptx.Inputs[i].WitnessScript, txscript.SigHashAll, priv,
	)
	if err != nil {
		return nil, nil, err
	}
	return sig, priv.PubKey().SerializeCompressed(), nil
}

// finalize builds the witness of every input from the partial signatures
// and verifies the extracted transaction.
func (s *sweep) finalize() (*wire.MsgTx, error) {
	desc := s.policy.Descriptor()
	for i, out := range s.outputs {
		input := &s.ptx.Inputs[i]
		sigs := make(map[string][]byte)
		for _, partialSig := range input.PartialSigs {
			sigs[string(partialSig.PubKey)] = partialSig.Signature
		}
		satisfier := &descriptor.SignatureSatisfier{
			Signatures: sigs,
			Sequence:   s.ptx.UnsignedTx.TxIn[i].Sequence,
			Age:        out.Age(s.tipHeight),
		}

		witness, err := desc.Satisfy(satisfier, out.Index)
		if err != nil {
			if s.path == stash.PathRedeemer && satisfier.TimelockRefused {
				return nil, &TimelockError{
					Timelock:   s.policy.Timelock,
					BlocksLeft: blocksLeft(s.policy.Timelock, out.Age(s.tipHeight)),
				}
			}
			return nil, fmt.Errorf("%w: input %d: %s", ErrSignatureIncomplete, i, err)
		}

		var buf bytes.Buffer
		if err := writeWitness(&buf, witness); err != nil {
			return nil, err
		}
		input.FinalScriptWitness = buf.Bytes()
		input.PartialSigs = nil
		input.SighashType = 0
		input.WitnessScript = nil
	}

	tx, err := psbt.Extract(s.ptx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSignatureIncomplete, err)
	}
	if err := s.verify(tx); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSignatureIncomplete, err)
	}
	return tx, nil
}

func (s *sweep) verify(tx *wire.MsgTx) error {
	prevouts := make(map[wire.OutPoint]*wire.TxOut)
	for i, in := range tx.TxIn {
		prevouts[in.PreviousOutPoint] = wire.NewTxOut(
			int64(s.outputs[i].Amount), s.outputs[i].PkScript,
		)
	}
	fetcher := txscript.NewMultiPrevOutFetcher(prevouts)
	sighashes := txscript.NewTxSigHashes(tx, fetcher)

	for i, out := range s.outputs {
		engine, err := txscript.NewEngine(
			out.PkScript, tx, i, txscript.StandardVerifyFlags, nil,
			sighashes, int64(out.Amount), fetcher,
		)
		if err != nil {
			return err
		}
		if err := engine.Execute(); err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}
	}
	return nil
}

func writeWitness(buf *bytes.Buffer, witness wire.TxWitness) error {
	if err := wire.WriteVarInt(buf, 0, uint64(len(witness))); err != nil {
		return err
	}
	for _, item := range witness {
		if err := wire.WriteVarBytes(buf, 0, item); err != nil {
			return err
		}
	}
	return nil
}

func serializeTx(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

func blocksLeft(timelock, age uint32) uint32 {
	if age >= timelock {
		return 0
	}
	return timelock - age
}
