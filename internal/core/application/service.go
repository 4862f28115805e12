package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/ArkLabsHQ/deadman/internal/core/domain"
	"github.com/ArkLabsHQ/deadman/internal/core/ports"
	"github.com/ArkLabsHQ/deadman/pkg/keychain"
	"github.com/ArkLabsHQ/deadman/pkg/stash"
	"github.com/ArkLabsHQ/deadman/utils"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	log "github.com/sirupsen/logrus"
)

const DefaultFeeRate = 5.0

type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

type Config struct {
	Network *chaincfg.Params
	// FeeRate in sat/vbyte. If 0 the backend estimate is used.
	FeeRate  float64
	Timelock uint32
	GapLimit uint32
}

type Service struct {
	BuildInfo BuildInfo

	cfg          Config
	backend      ports.WalletBackend
	repoManager  ports.RepoManager
	schedulerSvc ports.SchedulerService

	watcher *watcher
}

func NewService(
	buildInfo BuildInfo,
	cfg Config,
	backend ports.WalletBackend,
	repoManager ports.RepoManager,
	schedulerSvc ports.SchedulerService,
) (*Service, error) {
	if cfg.Network == nil {
		return nil, fmt.Errorf("missing network")
	}
	if backend == nil {
		return nil, fmt.Errorf("missing wallet backend")
	}
	if repoManager == nil {
		return nil, fmt.Errorf("missing repo manager")
	}
	if cfg.Timelock == 0 {
		cfg.Timelock = stash.DefaultTimelock
	}
	if cfg.GapLimit == 0 {
		cfg.GapLimit = DefaultGapLimit
	}
	if cfg.FeeRate < 0 {
		return nil, fmt.Errorf("invalid fee rate %f", cfg.FeeRate)
	}

	svc := &Service{
		BuildInfo:    buildInfo,
		cfg:          cfg,
		backend:      backend,
		repoManager:  repoManager,
		schedulerSvc: schedulerSvc,
	}
	svc.watcher = newWatcher(svc)
	return svc, nil
}

type CreateArgs struct {
	// Mnemonic is used for both parties unless RedeemMnemonic is set. If nil
	// a fresh mnemonic is generated for each party.
	Mnemonic         *string
	RedeemMnemonic   *string
	OwnerPassphrase  string
	RedeemPassphrase string
}

type CreateResult struct {
	// Generated mnemonics, empty when provided by the caller.
	OwnerMnemonic  string
	RedeemMnemonic string

	Public   *stash.PublicDescriptor
	Owner    *stash.SecretDescriptor
	Redeemer *stash.SecretDescriptor
	Address  string
}

// Wipe zeroes the private keys of both secret descriptors.
func (r *CreateResult) Wipe() {
	r.Owner.Wipe()
	r.Redeemer.Wipe()
}

// Create derives the keys of both parties and compiles their stash
// descriptors. Nothing is sent to the backend.
func (s *Service) Create(args CreateArgs) (*CreateResult, error) {
	net := s.cfg.Network

	ownerMaster, ownerMnemonic, err := keychain.Derive(args.Mnemonic, args.OwnerPassphrase, net)
	if err != nil {
		return nil, fmt.Errorf("owner: %w", err)
	}
	defer ownerMaster.Zero()

	redeemMnemonic := args.RedeemMnemonic
	if redeemMnemonic == nil {
		redeemMnemonic = args.Mnemonic
	}
	redeemMaster, generatedRedeemMnemonic, err := keychain.Derive(
		redeemMnemonic, args.RedeemPassphrase, net,
	)
	if err != nil {
		return nil, fmt.Errorf("redeemer: %w", err)
	}
	defer redeemMaster.Zero()

	ownerKey, err := ownerMaster.DescriptorKey()
	if err != nil {
		return nil, err
	}
	redeemKey, err := redeemMaster.DescriptorKey()
	if err != nil {
		return nil, err
	}
	ownerPub, err := ownerKey.Public()
	if err != nil {
		return nil, err
	}
	redeemPub, err := redeemKey.Public()
	if err != nil {
		return nil, err
	}

	opts := stash.Opts{Timelock: s.cfg.Timelock, Network: net}
	ownerPolicy, err := stash.Compile(ownerKey, redeemPub, opts)
	if err != nil {
		return nil, err
	}
	redeemPolicy, err := stash.Compile(ownerPub, redeemKey, opts)
	if err != nil {
		return nil, err
	}

	owner, err := ownerPolicy.Secret()
	if err != nil {
		return nil, err
	}
	redeemer, err := redeemPolicy.Secret()
	if err != nil {
		return nil, err
	}
	public, err := owner.Public()
	if err != nil {
		return nil, err
	}
	addr, err := public.Address(0)
	if err != nil {
		return nil, err
	}

	log.Infof("created stash %s with a timelock of %d blocks", public.Checksum(), s.cfg.Timelock)

	return &CreateResult{
		OwnerMnemonic:  ownerMnemonic,
		RedeemMnemonic: generatedRedeemMnemonic,
		Public:         public,
		Owner:          owner,
		Redeemer:       redeemer,
		Address:        addr.EncodeAddress(),
	}, nil
}

// CheckIn moves all the funds of the stash to its next unused address
// through the owner path, resetting the timelock.
func (s *Service) CheckIn(ctx context.Context, secret *stash.SecretDescriptor) (string, error) {
	return s.drain(ctx, secret, stash.PathOwner, domain.OperationCheckIn,
		func(view *WalletView) (string, error) {
			addr, index, err := view.ReceiveAddress(ctx)
			if err != nil {
				return "", err
			}
			log.Debugf("checking in to address %s at index %d", addr, index)
			return addr, nil
		},
	)
}

// Withdraw moves all the funds of the stash to an external address through
// the owner path.
func (s *Service) Withdraw(
	ctx context.Context, secret *stash.SecretDescriptor, destination string,
) (string, error) {
	return s.drain(ctx, secret, stash.PathOwner, domain.OperationWithdraw,
		func(*WalletView) (string, error) {
			return destination, nil
		},
	)
}

// Redeem moves the outputs of the stash that are at least timelock blocks old
// through the redeemer path. Younger outputs stay in the stash. An empty
// destination defaults to the redeemer's own first receive address.
func (s *Service) Redeem(
	ctx context.Context, secret *stash.SecretDescriptor, destination string,
) (string, error) {
	return s.drain(ctx, secret, stash.PathRedeemer, domain.OperationRedeem,
		func(view *WalletView) (string, error) {
			if len(destination) > 0 {
				return destination, nil
			}
			return redeemerAddress(secret.Policy())
		},
	)
}

// Status infers the state of a stash from chain data.
func (s *Service) Status(ctx context.Context, public *stash.PublicDescriptor) (*domain.Status, error) {
	policy := public.Policy()
	view := NewWalletView(s.backend, policy, s.cfg.GapLimit)
	if err := view.Sync(ctx); err != nil {
		return nil, err
	}

	outputs, err := view.UnspentOutputs(ctx)
	if err != nil {
		return nil, err
	}
	tipHeight, err := view.TipHeight(ctx)
	if err != nil {
		return nil, err
	}
	hasHistory, err := view.HasHistory(ctx)
	if err != nil {
		return nil, err
	}
	addr, _, err := view.ReceiveAddress(ctx)
	if err != nil {
		return nil, err
	}

	outputStatuses := make([]domain.OutputStatus, 0, len(outputs))
	for _, out := range outputs {
		outputStatuses = append(outputStatuses, domain.OutputStatus{
			Txid:        out.Txid,
			Vout:        out.Vout,
			Amount:      out.Amount,
			Address:     out.Address,
			Index:       out.Index,
			BlockHeight: out.BlockHeight,
			Age:         out.Age(tipHeight),
		})
	}

	status := domain.NewStatus(
		public.Checksum(), policy.Timelock, tipHeight, outputStatuses, hasHistory, addr,
	)
	status.Policy = policy.Descriptor().Lift().String()
	return status, nil
}

// History returns the audit trail of the stash, oldest first.
func (s *Service) History(
	ctx context.Context, public *stash.PublicDescriptor,
) ([]domain.Transition, error) {
	return s.repoManager.Transitions().GetAll(ctx, public.Checksum())
}

type destinationFn func(view *WalletView) (string, error)

func (s *Service) drain(
	ctx context.Context, secret *stash.SecretDescriptor, path stash.Path,
	op domain.Operation, destinationFn destinationFn,
) (string, error) {
	policy := secret.Policy()
	public, err := secret.Public()
	if err != nil {
		return "", err
	}
	stashId := public.Checksum()

	view := NewWalletView(s.backend, policy, s.cfg.GapLimit)
	if err := view.Sync(ctx); err != nil {
		return "", err
	}

	outputs, err := view.UnspentOutputs(ctx)
	if err != nil {
		return "", err
	}
	balance, err := view.Balance(ctx)
	if err != nil {
		return "", err
	}
	if len(outputs) == 0 || balance == 0 {
		addr, _, err := view.ReceiveAddress(ctx)
		if err != nil {
			return "", err
		}
		return "", &EmptyBalanceError{Address: addr}
	}

	tipHeight, err := view.TipHeight(ctx)
	if err != nil {
		return "", err
	}
	if path == stash.PathRedeemer {
		mature, err := matureOutputs(outputs, tipHeight, policy.Timelock)
		if err != nil {
			return "", err
		}
		if len(mature) < len(outputs) {
			log.Warnf(
				"%s: leaving %d sats in %d outputs of stash %s younger than %d blocks",
				op, balance-sumAmounts(mature), len(outputs)-len(mature),
				stashId, policy.Timelock,
			)
		}
		outputs = mature
		balance = sumAmounts(mature)
	}

	destination, err := destinationFn(view)
	if err != nil {
		return "", err
	}
	destination, destinationScript, err := s.resolveDestination(destination)
	if err != nil {
		return "", err
	}

	feeRate, err := s.feeRate(ctx)
	if err != nil {
		return "", err
	}

	log.Infof(
		"%s: spending %d sats from %d outputs of stash %s through the %s path",
		op, balance, len(outputs), stashId, path,
	)

	sw := &sweep{
		policy:      policy,
		path:        path,
		outputs:     outputs,
		destination: destinationScript,
		feeRate:     feeRate,
		tipHeight:   tipHeight,
	}
	if err := sw.build(); err != nil {
		return "", fmt.Errorf("failed to build transaction: %w", err)
	}
	if err := sw.sign(); err != nil {
		return "", err
	}
	tx, err := sw.finalize()
	if err != nil {
		return "", err
	}

	txHex, err := serializeTx(tx)
	if err != nil {
		return "", err
	}
	txid, err := s.backend.Broadcast(ctx, txHex)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrBroadcast, err)
	}

	log.Infof(
		"%s: broadcasted tx %s sending %d sats to %s (fee %d sats)",
		op, txid, sw.amount, destination, sw.fee,
	)

	transition := domain.NewTransition(
		stashId, op, txid, sw.amount, sw.fee, destination, tipHeight,
	)
	if err := s.repoManager.Transitions().Add(ctx, transition); err != nil {
		log.WithError(err).Warnf("failed to record %s of stash %s", op, stashId)
	}

	return txid, nil
}

// resolveDestination accepts a plain address or a BIP21 uri and returns the
// address with its output script.
func (s *Service) resolveDestination(destination string) (string, []byte, error) {
	if utils.IsBip21(destination) {
		if amount := utils.GetBip21Param(destination, "amount"); len(amount) > 0 {
			log.Warnf("ignoring amount %s of payment uri, the whole balance is sent", amount)
		}
		destination = utils.GetBtcAddress(destination)
	}
	addr, err := btcutil.DecodeAddress(destination, s.cfg.Network)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %s", ErrInvalidDestination, err)
	}
	if !addr.IsForNet(s.cfg.Network) {
		return "", nil, fmt.Errorf(
			"%w: %s is not a %s address", ErrInvalidDestination, destination, s.cfg.Network.Name,
		)
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return "", nil, err
	}
	return addr.EncodeAddress(), script, nil
}

func (s *Service) feeRate(ctx context.Context) (float64, error) {
	if s.cfg.FeeRate > 0 {
		return s.cfg.FeeRate, nil
	}
	feeRate, err := s.backend.GetFeeRate(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to estimate fee rate: %w", err)
	}
	if feeRate < 1 {
		feeRate = 1
	}
	return feeRate, nil
}

// matureOutputs returns the outputs at least as old as the timelock. If none
// is, the error reports the blocks left until the oldest one matures.
func matureOutputs(
	outputs []Output, tipHeight, timelock uint32,
) ([]Output, error) {
	mature := make([]Output, 0, len(outputs))
	minLeft := timelock
	for _, out := range outputs {
		left := blocksLeft(timelock, out.Age(tipHeight))
		if left == 0 {
			mature = append(mature, out)
			continue
		}
		if left < minLeft {
			minLeft = left
		}
	}
	if len(mature) == 0 {
		return nil, &TimelockError{Timelock: timelock, BlocksLeft: minLeft}
	}
	return mature, nil
}

func sumAmounts(outputs []Output) uint64 {
	var total uint64
	for _, out := range outputs {
		total += out.Amount
	}
	return total
}

// redeemerAddress returns the P2WPKH address of the redeemer key at index 0.
func redeemerAddress(policy *stash.Policy) (string, error) {
	pubkey, err := policy.Redeemer.PubKey(0)
	if err != nil {
		return "", err
	}
	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(pubkey.SerializeCompressed()), policy.Network,
	)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}

func isTerminal(err error) bool {
	return errors.Is(err, ErrEmptyBalance) ||
		errors.Is(err, ErrSignatureIncomplete) ||
		errors.Is(err, ErrInvalidDestination)
}
