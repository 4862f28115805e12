package application

import (
	"context"
	"fmt"

	"github.com/ArkLabsHQ/deadman/internal/core/ports"
	"github.com/ArkLabsHQ/deadman/pkg/descriptor"
	"github.com/ArkLabsHQ/deadman/pkg/stash"
	"github.com/btcsuite/btcd/chaincfg"
)

const DefaultGapLimit uint32 = 20

// Output is an unspent output locked by the stash descriptor.
type Output struct {
	ports.Utxo
	Index    uint32
	Address  string
	PkScript []byte
}

// Age returns the number of confirmations of the output at the given tip, 0
// if unconfirmed.
func (o Output) Age(tipHeight uint32) uint32 {
	if !o.Confirmed || o.BlockHeight == 0 || tipHeight < o.BlockHeight {
		return 0
	}
	return tipHeight - o.BlockHeight + 1
}

// WalletView is a read-only view of the outputs of one stash descriptor. The
// first call to any accessor syncs with the backend.
type WalletView struct {
	backend  ports.WalletBackend
	desc     *descriptor.Descriptor
	net      *chaincfg.Params
	gapLimit uint32

	synced     bool
	tipHeight  uint32
	outputs    []Output
	nextIndex  uint32
	hasHistory bool
}

func NewWalletView(
	backend ports.WalletBackend, policy *stash.Policy, gapLimit uint32,
) *WalletView {
	return newWalletView(backend, policy.Descriptor(), policy.Network, gapLimit)
}

func newWalletView(
	backend ports.WalletBackend, desc *descriptor.Descriptor, net *chaincfg.Params,
	gapLimit uint32,
) *WalletView {
	if gapLimit == 0 {
		gapLimit = DefaultGapLimit
	}
	return &WalletView{
		backend:  backend,
		desc:     desc,
		net:      net,
		gapLimit: gapLimit,
	}
}

// Sync scans derivation indexes until gapLimit consecutive addresses have
// no history. A descriptor without wildcard has the single index 0.
func (w *WalletView) Sync(ctx context.Context) error {
	tipHeight, err := w.backend.GetBlockHeight(ctx)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrSync, err)
	}

	var (
		outputs  []Output
		lastUsed = -1
		unused   uint32
	)
	desc := w.desc
	ranged := desc.IsRange()
	for index := uint32(0); unused < w.gapLimit; index++ {
		if !ranged && index > 0 {
			break
		}
		addr, err := desc.Address(index, w.net)
		if err != nil {
			return err
		}
		address := addr.EncodeAddress()

		count, err := w.backend.GetAddressTxCount(ctx, address)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrSync, err)
		}
		if count == 0 {
			unused++
			continue
		}
		unused = 0
		lastUsed = int(index)

		utxos, err := w.backend.GetUtxos(ctx, address)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrSync, err)
		}
		if len(utxos) == 0 {
			continue
		}
		pkScript, err := desc.ScriptPubKey(index)
		if err != nil {
			return err
		}
		for _, utxo := range utxos {
			outputs = append(outputs, Output{
				Utxo:     utxo,
				Index:    index,
				Address:  address,
				PkScript: pkScript,
			})
		}
	}

	w.tipHeight = tipHeight
	w.outputs = outputs
	w.nextIndex = uint32(lastUsed + 1)
	if !ranged {
		w.nextIndex = 0
	}
	w.hasHistory = lastUsed >= 0
	w.synced = true
	return nil
}

// Balance returns the sum of the unspent outputs, unconfirmed included.
func (w *WalletView) Balance(ctx context.Context) (uint64, error) {
	if err := w.ensureSynced(ctx); err != nil {
		return 0, err
	}
	var balance uint64
	for _, out := range w.outputs {
		balance += out.Amount
	}
	return balance, nil
}

// ReceiveAddress returns the first unused address after the last used one.
func (w *WalletView) ReceiveAddress(ctx context.Context) (string, uint32, error) {
	if err := w.ensureSynced(ctx); err != nil {
		return "", 0, err
	}
	addr, err := w.desc.Address(w.nextIndex, w.net)
	if err != nil {
		return "", 0, err
	}
	return addr.EncodeAddress(), w.nextIndex, nil
}

func (w *WalletView) UnspentOutputs(ctx context.Context) ([]Output, error) {
	if err := w.ensureSynced(ctx); err != nil {
		return nil, err
	}
	return w.outputs, nil
}

// TipHeight returns the chain tip at the last sync.
func (w *WalletView) TipHeight(ctx context.Context) (uint32, error) {
	if err := w.ensureSynced(ctx); err != nil {
		return 0, err
	}
	return w.tipHeight, nil
}

// HasHistory returns whether any address of the stash was ever used.
func (w *WalletView) HasHistory(ctx context.Context) (bool, error) {
	if err := w.ensureSynced(ctx); err != nil {
		return false, err
	}
	return w.hasHistory, nil
}

func (w *WalletView) ensureSynced(ctx context.Context) error {
	if w.synced {
		return nil
	}
	return w.Sync(ctx)
}
