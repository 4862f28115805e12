package application_test

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ArkLabsHQ/deadman/internal/core/application"
	"github.com/ArkLabsHQ/deadman/internal/core/domain"
	"github.com/ArkLabsHQ/deadman/internal/core/ports"
	"github.com/ArkLabsHQ/deadman/pkg/stash"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

const (
	mnemonic      = "reward liar quote property federal print outdoor attitude satoshi favorite special layer"
	fundingTxid   = "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"
	fundingAmount = 100000
	fundingHeight = 100
)

var (
	depositTxid      = strings.Repeat("11", 32)
	otherDepositTxid = strings.Repeat("22", 32)
)

var net = &chaincfg.RegressionNetParams

func TestCreate(t *testing.T) {
	svc, _, _ := newService(t)

	t.Run("same mnemonic", func(t *testing.T) {
		phrase := mnemonic
		res, err := svc.Create(application.CreateArgs{
			Mnemonic:         &phrase,
			OwnerPassphrase:  "alpha",
			RedeemPassphrase: "beta",
		})
		require.NoError(t, err)
		require.Empty(t, res.OwnerMnemonic)
		require.Empty(t, res.RedeemMnemonic)
		require.Equal(t, stash.PathOwner, res.Owner.Path())
		require.Equal(t, stash.PathRedeemer, res.Redeemer.Path())
		require.Equal(t, res.Public.String(), res.Owner.String())
		require.Equal(t, res.Public.String(), res.Redeemer.String())
		require.Equal(t, uint32(stash.DefaultTimelock), res.Public.Policy().Timelock)

		addr, err := res.Public.Address(0)
		require.NoError(t, err)
		require.Equal(t, addr.EncodeAddress(), res.Address)

		again, err := svc.Create(application.CreateArgs{
			Mnemonic:         &phrase,
			OwnerPassphrase:  "alpha",
			RedeemPassphrase: "beta",
		})
		require.NoError(t, err)
		require.Equal(t, res.Public.String(), again.Public.String())
	})

	t.Run("generated mnemonics", func(t *testing.T) {
		res, err := svc.Create(application.CreateArgs{})
		require.NoError(t, err)
		require.NotEmpty(t, res.OwnerMnemonic)
		require.NotEmpty(t, res.RedeemMnemonic)
		require.NotEqual(t, res.OwnerMnemonic, res.RedeemMnemonic)
		res.Wipe()
		require.NotContains(t, res.Owner.Reveal(), "tprv")
	})

	t.Run("same keys", func(t *testing.T) {
		phrase := mnemonic
		_, err := svc.Create(application.CreateArgs{Mnemonic: &phrase})
		require.ErrorIs(t, err, stash.ErrPolicyCompilation)
	})

	t.Run("invalid mnemonic", func(t *testing.T) {
		phrase := "not a valid mnemonic"
		_, err := svc.Create(application.CreateArgs{Mnemonic: &phrase})
		require.Error(t, err)
	})
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, backend, repo := newService(t)
	res := create(t, svc)

	addr0, err := res.Public.Address(0)
	require.NoError(t, err)
	addr1, err := res.Public.Address(1)
	require.NoError(t, err)
	addr2, err := res.Public.Address(2)
	require.NoError(t, err)
	addr3, err := res.Public.Address(3)
	require.NoError(t, err)

	t.Run("empty balance", func(t *testing.T) {
		status, err := svc.Status(ctx, res.Public)
		require.NoError(t, err)
		require.Equal(t, domain.StateCreated, status.State)
		require.Equal(t, res.Public.Policy().Descriptor().Lift().String(), status.Policy)
		require.True(t, strings.HasPrefix(status.Policy, "thresh(1,thresh(2,pk("))

		_, err = svc.CheckIn(ctx, res.Owner)
		require.ErrorIs(t, err, application.ErrEmptyBalance)
		var emptyErr *application.EmptyBalanceError
		require.ErrorAs(t, err, &emptyErr)
		require.Equal(t, addr0.EncodeAddress(), emptyErr.Address)

		_, err = svc.Redeem(ctx, res.Redeemer, "")
		require.ErrorIs(t, err, application.ErrEmptyBalance)
	})

	backend.fund(addr0.EncodeAddress(), fundingTxid, 0, fundingAmount, fundingHeight)
	backend.setTip(fundingHeight + 50)

	t.Run("active", func(t *testing.T) {
		status, err := svc.Status(ctx, res.Public)
		require.NoError(t, err)
		require.Equal(t, domain.StateActive, status.State)
		require.Equal(t, uint64(fundingAmount), status.Balance)
		require.Equal(t, uint32(fundingHeight+stash.DefaultTimelock-1), status.ExpiryHeight)
		require.Equal(t, uint32(stash.DefaultTimelock-51), status.BlocksUntilExpiry)
		require.Equal(t, addr1.EncodeAddress(), status.ReceiveAddress)
	})

	t.Run("redeem before maturity", func(t *testing.T) {
		_, err := svc.Redeem(ctx, res.Redeemer, "")
		require.ErrorIs(t, err, application.ErrTimelockNotExpired)
		var timelockErr *application.TimelockError
		require.ErrorAs(t, err, &timelockErr)
		require.Equal(t, uint32(stash.DefaultTimelock-51), timelockErr.BlocksLeft)
		require.Empty(t, backend.broadcasted())
	})

	t.Run("invalid destination", func(t *testing.T) {
		fixtures := []string{
			"",
			"notanaddress",
			"bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu",
		}
		for _, dest := range fixtures {
			_, err := svc.Withdraw(ctx, res.Owner, dest)
			require.ErrorIs(t, err, application.ErrInvalidDestination, dest)
		}
	})

	var checkInAmount uint64

	t.Run("check-in", func(t *testing.T) {
		txid, err := svc.CheckIn(ctx, res.Owner)
		require.NoError(t, err)
		require.NotEmpty(t, txid)

		txs := backend.broadcasted()
		require.Len(t, txs, 1)
		tx := txs[0]
		require.Equal(t, txid, tx.TxHash().String())
		require.Len(t, tx.TxIn, 1)
		require.Equal(t, wire.MaxTxInSequenceNum-2, tx.TxIn[0].Sequence)
		require.Len(t, tx.TxIn[0].Witness, 3)
		require.Empty(t, tx.TxIn[0].Witness[1])
		require.Len(t, tx.TxOut, 1)

		pkScript1, err := res.Public.Policy().Descriptor().ScriptPubKey(1)
		require.NoError(t, err)
		require.Equal(t, pkScript1, tx.TxOut[0].PkScript)

		history, err := svc.History(ctx, res.Public)
		require.NoError(t, err)
		require.Len(t, history, 1)
		require.Equal(t, domain.OperationCheckIn, history[0].Operation)
		require.Equal(t, txid, history[0].Txid)
		require.Equal(t, uint64(fundingAmount), history[0].Amount+history[0].Fee)
		require.Equal(t, uint64(tx.TxOut[0].Value), history[0].Amount)
		require.Greater(t, history[0].Fee, uint64(0))
		require.Len(t, repo.transitions.list, 1)
		checkInAmount = history[0].Amount
	})

	t.Run("check-in resets the timelock", func(t *testing.T) {
		_, err := svc.Redeem(ctx, res.Redeemer, "")
		require.ErrorIs(t, err, application.ErrTimelockNotExpired)
		var timelockErr *application.TimelockError
		require.ErrorAs(t, err, &timelockErr)
		require.Equal(t, uint32(stash.DefaultTimelock), timelockErr.BlocksLeft)
		require.Len(t, backend.broadcasted(), 1)

		status, err := svc.Status(ctx, res.Public)
		require.NoError(t, err)
		require.Equal(t, domain.StateActive, status.State)
		require.Len(t, status.Outputs, 1)
		require.Equal(t, uint32(1), status.Outputs[0].Index)
		require.Equal(t, addr1.EncodeAddress(), status.Outputs[0].Address)
		require.Equal(t, checkInAmount, status.Balance)
		require.Equal(t, addr2.EncodeAddress(), status.ReceiveAddress)
	})

	checkInHeight := uint32(fundingHeight + 51)
	backend.confirm(checkInHeight)
	backend.setTip(checkInHeight + stash.DefaultTimelock - 2)

	t.Run("redeem one block before maturity", func(t *testing.T) {
		status, err := svc.Status(ctx, res.Public)
		require.NoError(t, err)
		require.Equal(t, domain.StateActive, status.State)
		require.Equal(t, checkInHeight+stash.DefaultTimelock-1, status.ExpiryHeight)
		require.Equal(t, uint32(1), status.BlocksUntilExpiry)

		_, err = svc.Redeem(ctx, res.Redeemer, "")
		require.ErrorIs(t, err, application.ErrTimelockNotExpired)
	})

	backend.setTip(checkInHeight + stash.DefaultTimelock - 1)

	t.Run("owner cannot redeem", func(t *testing.T) {
		_, err := svc.Redeem(ctx, res.Owner, "")
		require.ErrorIs(t, err, application.ErrSignatureIncomplete)
	})

	t.Run("redeem", func(t *testing.T) {
		status, err := svc.Status(ctx, res.Public)
		require.NoError(t, err)
		require.Equal(t, domain.StateExpired, status.State)

		txid, err := svc.Redeem(ctx, res.Redeemer, "")
		require.NoError(t, err)

		txs := backend.broadcasted()
		require.Len(t, txs, 2)
		tx := txs[1]
		require.Equal(t, txid, tx.TxHash().String())
		require.Equal(t, int32(2), tx.Version)
		require.Len(t, tx.TxIn, 1)
		require.Equal(t, txs[0].TxHash(), tx.TxIn[0].PreviousOutPoint.Hash)
		require.Equal(t, uint32(stash.DefaultTimelock), tx.TxIn[0].Sequence)
		require.Len(t, tx.TxIn[0].Witness, 2)
		require.Len(t, tx.TxOut, 1)
		// Redeemer P2WPKH at index 0.
		require.Len(t, tx.TxOut[0].PkScript, 22)

		history, err := svc.History(ctx, res.Public)
		require.NoError(t, err)
		require.Len(t, history, 2)
		require.Equal(t, domain.OperationRedeem, history[1].Operation)
		require.Equal(t, domain.StateExpired, history[1].From)
		require.Equal(t, domain.StateTerminated, history[1].To)
		require.Equal(t, checkInAmount, history[1].Amount+history[1].Fee)

		status, err = svc.Status(ctx, res.Public)
		require.NoError(t, err)
		require.Equal(t, domain.StateTerminated, status.State)
		require.Zero(t, status.Balance)
	})

	t.Run("withdraw", func(t *testing.T) {
		backend.fund(addr2.EncodeAddress(), depositTxid, 0, fundingAmount, checkInHeight+stash.DefaultTimelock-1)

		addr, err := btcutil.NewAddressWitnessPubKeyHash(make([]byte, 20), net)
		require.NoError(t, err)
		dest := addr.EncodeAddress()
		_, err = svc.Withdraw(ctx, res.Owner, "bitcoin:"+dest+"?amount=0.001")
		require.NoError(t, err)

		history, err := svc.History(ctx, res.Public)
		require.NoError(t, err)
		require.Len(t, history, 3)
		require.Equal(t, domain.OperationWithdraw, history[2].Operation)
		require.Equal(t, dest, history[2].Destination)
		require.Equal(t, uint64(fundingAmount), history[2].Amount+history[2].Fee)
		require.Equal(t, history[2].Amount, backend.balance(dest))
	})

	t.Run("broadcast failure", func(t *testing.T) {
		backend.fund(addr3.EncodeAddress(), otherDepositTxid, 0, fundingAmount, 0)
		backend.failBroadcast(true)
		defer backend.failBroadcast(false)
		_, err := svc.CheckIn(ctx, res.Owner)
		require.ErrorIs(t, err, application.ErrBroadcast)

		status, err := svc.Status(ctx, res.Public)
		require.NoError(t, err)
		require.Equal(t, uint64(fundingAmount), status.Balance)
	})
}

func TestMultipleOutputs(t *testing.T) {
	ctx := context.Background()
	svc, backend, _ := newService(t)
	res := create(t, svc)

	addr0, err := res.Public.Address(0)
	require.NoError(t, err)
	addr3, err := res.Public.Address(3)
	require.NoError(t, err)

	backend.fund(addr0.EncodeAddress(), fundingTxid, 0, 50000, fundingHeight)
	backend.fund(addr0.EncodeAddress(), fundingTxid, 1, 20000, fundingHeight+10)
	backend.fund(addr3.EncodeAddress(), fundingTxid, 2, 30000, 0)

	t.Run("redeem before any output matures", func(t *testing.T) {
		backend.setTip(fundingHeight + stash.DefaultTimelock - 100)
		_, err := svc.Redeem(ctx, res.Redeemer, "")
		require.ErrorIs(t, err, application.ErrTimelockNotExpired)
		var timelockErr *application.TimelockError
		require.ErrorAs(t, err, &timelockErr)
		require.Equal(t, uint32(99), timelockErr.BlocksLeft)
	})

	backend.setTip(fundingHeight + stash.DefaultTimelock - 1)

	status, err := svc.Status(ctx, res.Public)
	require.NoError(t, err)
	require.Equal(t, domain.StateExpired, status.State)
	require.Len(t, status.Outputs, 3)
	require.Equal(t, uint64(100000), status.Balance)

	t.Run("redeem sweeps only mature outputs", func(t *testing.T) {
		_, err := svc.Redeem(ctx, res.Redeemer, "")
		require.NoError(t, err)

		txs := backend.broadcasted()
		require.Len(t, txs, 1)
		require.Len(t, txs[0].TxIn, 1)
		require.Equal(t, fundingTxid, txs[0].TxIn[0].PreviousOutPoint.Hash.String())
		require.Equal(t, uint32(0), txs[0].TxIn[0].PreviousOutPoint.Index)

		history, err := svc.History(ctx, res.Public)
		require.NoError(t, err)
		require.Len(t, history, 1)
		require.Equal(t, uint64(50000), history[0].Amount+history[0].Fee)

		status, err := svc.Status(ctx, res.Public)
		require.NoError(t, err)
		require.Equal(t, domain.StateActive, status.State)
		require.Len(t, status.Outputs, 2)
		require.Equal(t, uint64(50000), status.Balance)
		require.Equal(t, uint32(10), status.BlocksUntilExpiry)
	})

	t.Run("check-in spends the remaining outputs", func(t *testing.T) {
		_, err := svc.CheckIn(ctx, res.Owner)
		require.NoError(t, err)

		txs := backend.broadcasted()
		require.Len(t, txs, 2)
		require.Len(t, txs[1].TxIn, 2)
		require.Len(t, txs[1].TxOut, 1)

		pkScript4, err := res.Public.Policy().Descriptor().ScriptPubKey(4)
		require.NoError(t, err)
		require.Equal(t, pkScript4, txs[1].TxOut[0].PkScript)
	})
}

func TestRedeemLeavesFreshDeposits(t *testing.T) {
	ctx := context.Background()
	svc, backend, _ := newService(t)
	res := create(t, svc)

	addr0, err := res.Public.Address(0)
	require.NoError(t, err)
	addr1, err := res.Public.Address(1)
	require.NoError(t, err)

	tip := uint32(fundingHeight + stash.DefaultTimelock + 499)
	backend.fund(addr0.EncodeAddress(), fundingTxid, 0, fundingAmount, fundingHeight)
	backend.fund(addr1.EncodeAddress(), depositTxid, 0, 1000, tip)
	backend.setTip(tip)

	status, err := svc.Status(ctx, res.Public)
	require.NoError(t, err)
	require.Equal(t, domain.StateExpired, status.State)

	_, err = svc.Redeem(ctx, res.Redeemer, "")
	require.NoError(t, err)

	txs := backend.broadcasted()
	require.Len(t, txs, 1)
	require.Len(t, txs[0].TxIn, 1)
	require.Equal(t, fundingTxid, txs[0].TxIn[0].PreviousOutPoint.Hash.String())

	status, err = svc.Status(ctx, res.Public)
	require.NoError(t, err)
	require.Equal(t, domain.StateActive, status.State)
	require.Len(t, status.Outputs, 1)
	require.Equal(t, uint64(1000), status.Balance)
	require.Equal(t, uint32(1), status.Outputs[0].Index)
}

func TestDustOutput(t *testing.T) {
	ctx := context.Background()
	svc, backend, _ := newService(t)
	res := create(t, svc)

	addr0, err := res.Public.Address(0)
	require.NoError(t, err)
	backend.fund(addr0.EncodeAddress(), fundingTxid, 0, 400, fundingHeight)
	backend.setTip(fundingHeight)

	_, err = svc.CheckIn(ctx, res.Owner)
	require.ErrorIs(t, err, application.ErrDustOutput)
}

func TestWatch(t *testing.T) {
	ctx := context.Background()
	svc, backend, _ := newService(t)
	res := create(t, svc)
	scheduler := svc.scheduler

	addr0, err := res.Public.Address(0)
	require.NoError(t, err)
	backend.fund(addr0.EncodeAddress(), fundingTxid, 0, fundingAmount, fundingHeight)
	backend.setTip(fundingHeight + 50)

	svc.SetSecretProvider(func(
		_ context.Context, public *stash.PublicDescriptor,
	) (*stash.SecretDescriptor, error) {
		if public.Checksum() != res.Public.Checksum() {
			return nil, fmt.Errorf("unknown stash")
		}
		return stash.ParseSecretDescriptor(res.Owner.Reveal(), net)
	})

	watched, err := svc.Watch(ctx, application.WatchArgs{
		Descriptor:  res.Public.String(),
		AutoCheckIn: true,
		Margin:      10,
	})
	require.NoError(t, err)
	require.Equal(t, res.Public.Checksum(), watched.Id)

	expiry := uint32(fundingHeight + stash.DefaultTimelock - 1)
	require.Equal(t, []uint32{expiry - 10}, scheduler.heights())
	require.Empty(t, backend.broadcasted())

	list, err := svc.ListWatched(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	status, err := svc.GetWatchedStatus(ctx, watched.Id)
	require.NoError(t, err)
	require.Equal(t, domain.StateActive, status.State)

	t.Run("auto check-in within margin", func(t *testing.T) {
		backend.setTip(expiry - 5)
		scheduler.fire(expiry - 5)
		require.Len(t, backend.broadcasted(), 1)

		history, err := svc.GetWatchedHistory(ctx, watched.Id)
		require.NoError(t, err)
		require.Len(t, history, 1)
		require.Equal(t, domain.OperationCheckIn, history[0].Operation)
	})

	t.Run("start watching", func(t *testing.T) {
		require.NoError(t, svc.StartWatching(ctx, time.Second))
		require.True(t, scheduler.started)
		require.Len(t, scheduler.periodic, 1)
		svc.StopWatching()
		require.False(t, scheduler.started)
	})

	t.Run("unwatch", func(t *testing.T) {
		require.NoError(t, svc.Unwatch(ctx, watched.Id))
		_, err := svc.GetWatchedStatus(ctx, watched.Id)
		require.ErrorIs(t, err, application.ErrNotWatched)
		require.ErrorIs(t, svc.Unwatch(ctx, watched.Id), application.ErrNotWatched)
	})

	t.Run("invalid margin", func(t *testing.T) {
		_, err := svc.Watch(ctx, application.WatchArgs{
			Descriptor: res.Public.String(),
			Margin:     stash.DefaultTimelock,
		})
		require.Error(t, err)
	})
}

type testService struct {
	*application.Service
	scheduler *fakeScheduler
}

func newService(t *testing.T) (*testService, *fakeBackend, *fakeRepoManager) {
	backend := newFakeBackend()
	repo := newFakeRepoManager()
	scheduler := &fakeScheduler{}
	svc, err := application.NewService(
		application.BuildInfo{Version: "test"},
		application.Config{Network: net, FeeRate: 2},
		backend, repo, scheduler,
	)
	require.NoError(t, err)
	return &testService{svc, scheduler}, backend, repo
}

func create(t *testing.T, svc *testService) *application.CreateResult {
	phrase := mnemonic
	res, err := svc.Create(application.CreateArgs{
		Mnemonic:         &phrase,
		OwnerPassphrase:  "alpha",
		RedeemPassphrase: "beta",
	})
	require.NoError(t, err)
	return res
}

// fakeBackend keeps a utxo set per address. Broadcast spends the inputs of
// the transaction and adds its outputs as unconfirmed.
type fakeBackend struct {
	mu        sync.Mutex
	tip       uint32
	utxos     map[string][]ports.Utxo
	txCount   map[string]int
	txs       []*wire.MsgTx
	broadcast bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		tip:     fundingHeight,
		utxos:   make(map[string][]ports.Utxo),
		txCount: make(map[string]int),
	}
}

func (f *fakeBackend) fund(address, txid string, vout uint32, amount uint64, height uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.utxos[address] = append(f.utxos[address], ports.Utxo{
		Txid:        txid,
		Vout:        vout,
		Amount:      amount,
		Confirmed:   height > 0,
		BlockHeight: height,
	})
	f.txCount[address]++
}

// confirm mines all the unconfirmed outputs at the given height.
func (f *fakeBackend) confirm(height uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for address, utxos := range f.utxos {
		for i := range utxos {
			if !utxos[i].Confirmed {
				utxos[i].Confirmed = true
				utxos[i].BlockHeight = height
			}
		}
		f.utxos[address] = utxos
	}
}

func (f *fakeBackend) balance(address string) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total uint64
	for _, u := range f.utxos[address] {
		total += u.Amount
	}
	return total
}

func (f *fakeBackend) setTip(height uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tip = height
}

func (f *fakeBackend) failBroadcast(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcast = fail
}

func (f *fakeBackend) broadcasted() []*wire.MsgTx {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*wire.MsgTx{}, f.txs...)
}

func (f *fakeBackend) GetBlockHeight(context.Context) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tip, nil
}

func (f *fakeBackend) GetAddressTxCount(_ context.Context, address string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.txCount[address], nil
}

func (f *fakeBackend) GetUtxos(_ context.Context, address string) ([]ports.Utxo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ports.Utxo{}, f.utxos[address]...), nil
}

func (f *fakeBackend) GetFeeRate(context.Context) (float64, error) {
	return 1, nil
}

func (f *fakeBackend) Broadcast(_ context.Context, txHex string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broadcast {
		return "", fmt.Errorf("connection refused")
	}

	buf, err := hex.DecodeString(txHex)
	if err != nil {
		return "", err
	}
	tx := &wire.MsgTx{}
	if err := tx.Deserialize(bytes.NewReader(buf)); err != nil {
		return "", err
	}
	txid := tx.TxHash().String()

	touched := make(map[string]struct{})
	for _, in := range tx.TxIn {
		prevout := in.PreviousOutPoint
		found := false
		for address, utxos := range f.utxos {
			for i, u := range utxos {
				if u.Txid != prevout.Hash.String() || u.Vout != prevout.Index {
					continue
				}
				f.utxos[address] = append(utxos[:i:i], utxos[i+1:]...)
				touched[address] = struct{}{}
				found = true
				break
			}
			if found {
				break
			}
		}
		if !found {
			return "", fmt.Errorf("missing or spent input %s", prevout)
		}
	}
	for vout, out := range tx.TxOut {
		_, addrs, _, err := txscript.ExtractPkScriptAddrs(out.PkScript, net)
		if err != nil || len(addrs) != 1 {
			continue
		}
		address := addrs[0].EncodeAddress()
		f.utxos[address] = append(f.utxos[address], ports.Utxo{
			Txid:   txid,
			Vout:   uint32(vout),
			Amount: uint64(out.Value),
		})
		touched[address] = struct{}{}
	}
	for address := range touched {
		f.txCount[address]++
	}

	f.txs = append(f.txs, tx)
	return txid, nil
}

type fakeTransitions struct {
	mu   sync.Mutex
	list []domain.Transition
}

func (r *fakeTransitions) Add(_ context.Context, transition domain.Transition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.list = append(r.list, transition)
	return nil
}

func (r *fakeTransitions) GetAll(_ context.Context, stashId string) ([]domain.Transition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := make([]domain.Transition, 0)
	for _, tr := range r.list {
		if tr.StashId == stashId {
			res = append(res, tr)
		}
	}
	return res, nil
}

func (r *fakeTransitions) Close() {}

type fakeWatched struct {
	mu      sync.Mutex
	stashes map[string]domain.WatchedStash
}

func (r *fakeWatched) Add(_ context.Context, stash domain.WatchedStash) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stashes[stash.Id] = stash
	return nil
}

func (r *fakeWatched) Get(_ context.Context, id string) (*domain.WatchedStash, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stash, ok := r.stashes[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return &stash, nil
}

func (r *fakeWatched) GetAll(context.Context) ([]domain.WatchedStash, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := make([]domain.WatchedStash, 0, len(r.stashes))
	for _, stash := range r.stashes {
		res = append(res, stash)
	}
	return res, nil
}

func (r *fakeWatched) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.stashes, id)
	return nil
}

func (r *fakeWatched) Close() {}

type fakeRepoManager struct {
	transitions *fakeTransitions
	watched     *fakeWatched
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{
		transitions: &fakeTransitions{},
		watched:     &fakeWatched{stashes: make(map[string]domain.WatchedStash)},
	}
}

func (m *fakeRepoManager) Transitions() domain.TransitionRepository     { return m.transitions }
func (m *fakeRepoManager) WatchedStashes() domain.WatchedStashRepository { return m.watched }
func (m *fakeRepoManager) Close()                                        {}

type heightTask struct {
	height uint32
	fn     func()
}

// fakeScheduler runs tasks only when fired by the test.
type fakeScheduler struct {
	mu       sync.Mutex
	started  bool
	tasks    []heightTask
	periodic []func()
}

func (s *fakeScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
}

func (s *fakeScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
}

func (s *fakeScheduler) ScheduleAtHeight(height uint32, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, heightTask{height, fn})
	return nil
}

func (s *fakeScheduler) ScheduleEvery(_ time.Duration, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.periodic = append(s.periodic, fn)
	return nil
}

func (s *fakeScheduler) heights() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]uint32, 0, len(s.tasks))
	for _, tsk := range s.tasks {
		res = append(res, tsk.height)
	}
	return res
}

// fire synchronously runs the tasks due at the given height.
func (s *fakeScheduler) fire(height uint32) {
	s.mu.Lock()
	due := make([]func(), 0)
	keep := s.tasks[:0]
	for _, tsk := range s.tasks {
		if height >= tsk.height {
			due = append(due, tsk.fn)
			continue
		}
		keep = append(keep, tsk)
	}
	s.tasks = keep
	s.mu.Unlock()

	for _, fn := range due {
		fn()
	}
}
