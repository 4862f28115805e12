package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ArkLabsHQ/deadman/internal/core/application"
	service_interface "github.com/ArkLabsHQ/deadman/internal/interface"
	"github.com/ArkLabsHQ/deadman/pkg/stash"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var (
	createCommand = cli.Command{
		Name:      "create",
		Usage:     "Create a new stash for an owner and a redeemer",
		ArgsUsage: "[MNEMONIC]",
		Flags: []cli.Flag{
			mnemonicFlag, redeemMnemonicFlag, ownerPassphraseFlag, redeemPassphraseFlag,
		},
		Action: createAction,
	}
	checkInCommand = cli.Command{
		Name:   "check-in",
		Usage:  "Move the funds to the next address of the stash, resetting the timelock",
		Flags:  []cli.Flag{descriptorFlag, publicDescriptorFlag, mnemonicFlag, ownerPassphraseFlag},
		Action: checkInAction,
	}
	withdrawCommand = cli.Command{
		Name:      "withdraw",
		Usage:     "Send all the funds of the stash to an address as the owner",
		ArgsUsage: "ADDRESS",
		Flags:     []cli.Flag{descriptorFlag, publicDescriptorFlag, mnemonicFlag, ownerPassphraseFlag},
		Action:    withdrawAction,
	}
	redeemCommand = cli.Command{
		Name:      "redeem",
		Usage:     "Send all the funds of an expired stash to an address as the redeemer",
		ArgsUsage: "[ADDRESS]",
		Flags:     []cli.Flag{descriptorFlag, publicDescriptorFlag, mnemonicFlag, redeemPassphraseFlag},
		Action:    redeemAction,
	}
	statusCommand = cli.Command{
		Name:   "status",
		Usage:  "Show balance, state and expiry of the stash",
		Flags:  []cli.Flag{descriptorFlag, publicDescriptorFlag},
		Action: statusAction,
	}
	watchCommand = cli.Command{
		Name:  "watch",
		Usage: "Monitor the stash and warn (or check in) before the timelock expires",
		Flags: []cli.Flag{
			descriptorFlag, publicDescriptorFlag, mnemonicFlag, ownerPassphraseFlag,
			autoCheckInFlag, marginFlag, httpPortFlag,
		},
		Action: watchAction,
	}
)

func createAction(ctx *cli.Context) error {
	var mnemonic *string
	if m := ctx.String(mnemonicFlag.Name); len(m) > 0 {
		mnemonic = &m
	} else if ctx.Args().Len() > 0 {
		m := strings.Join(ctx.Args().Slice(), " ")
		mnemonic = &m
	}
	var redeemMnemonic *string
	if m := ctx.String(redeemMnemonicFlag.Name); len(m) > 0 {
		redeemMnemonic = &m
	}

	ownerPassphrase, redeemPassphrase, err := readCreatePassphrases(ctx)
	if err != nil {
		return err
	}

	res, err := appSvc.Create(application.CreateArgs{
		Mnemonic:         mnemonic,
		RedeemMnemonic:   redeemMnemonic,
		OwnerPassphrase:  ownerPassphrase,
		RedeemPassphrase: redeemPassphrase,
	})
	if err != nil {
		return err
	}
	defer res.Wipe()

	resp := map[string]string{
		"public":   res.Public.String(),
		"owner":    res.Owner.Reveal(),
		"redeemer": res.Redeemer.Reveal(),
		"address":  res.Address,
	}
	if len(res.OwnerMnemonic) > 0 {
		resp["ownerMnemonic"] = res.OwnerMnemonic
	}
	if len(res.RedeemMnemonic) > 0 && res.RedeemMnemonic != res.OwnerMnemonic {
		resp["redeemMnemonic"] = res.RedeemMnemonic
	}
	return printJSON(resp)
}

func checkInAction(ctx *cli.Context) error {
	secret, err := getSecretDescriptor(ctx, stash.PathOwner)
	if err != nil {
		return err
	}
	defer secret.Wipe()

	txid, err := appSvc.CheckIn(ctx.Context, secret)
	if err != nil {
		return err
	}
	return printJSON(map[string]string{"txid": txid})
}

func withdrawAction(ctx *cli.Context) error {
	destination := ctx.Args().First()
	if len(destination) <= 0 {
		return fmt.Errorf("missing destination address")
	}

	secret, err := getSecretDescriptor(ctx, stash.PathOwner)
	if err != nil {
		return err
	}
	defer secret.Wipe()

	txid, err := appSvc.Withdraw(ctx.Context, secret, destination)
	if err != nil {
		return err
	}
	return printJSON(map[string]string{"txid": txid})
}

func redeemAction(ctx *cli.Context) error {
	secret, err := getSecretDescriptor(ctx, stash.PathRedeemer)
	if err != nil {
		return err
	}
	defer secret.Wipe()

	txid, err := appSvc.Redeem(ctx.Context, secret, ctx.Args().First())
	if err != nil {
		return err
	}
	return printJSON(map[string]string{"txid": txid})
}

func statusAction(ctx *cli.Context) error {
	public, err := getPublicDescriptor(ctx)
	if err != nil {
		return err
	}

	status, err := appSvc.Status(ctx.Context, public)
	if err != nil {
		return err
	}
	return printJSON(status)
}

func watchAction(ctx *cli.Context) error {
	public, err := getPublicDescriptor(ctx)
	if err != nil {
		return err
	}

	autoCheckIn := ctx.Bool(autoCheckInFlag.Name)
	if autoCheckIn {
		secret, err := getSecretDescriptor(ctx, stash.PathOwner)
		if err != nil {
			return err
		}
		// Each check-in wipes the secret it is given, keep a serialized copy
		// to parse a fresh one every time.
		revealed := secret.Reveal()
		secret.Wipe()
		appSvc.SetSecretProvider(func(
			_ context.Context, p *stash.PublicDescriptor,
		) (*stash.SecretDescriptor, error) {
			if p.Checksum() != public.Checksum() {
				return nil, fmt.Errorf("no secret for stash %s", p.Checksum())
			}
			return stash.ParseSecretDescriptor(revealed, cfg.NetworkParams())
		})
	}

	watched, err := appSvc.Watch(ctx.Context, application.WatchArgs{
		Descriptor:  public.String(),
		AutoCheckIn: autoCheckIn,
		Margin:      uint32(ctx.Uint(marginFlag.Name)),
	})
	if err != nil {
		return err
	}

	interval := time.Duration(cfg.WatchInterval) * time.Second
	if err := appSvc.StartWatching(ctx.Context, interval); err != nil {
		return err
	}
	defer appSvc.StopWatching()

	port := cfg.HTTPPort
	if ctx.IsSet(httpPortFlag.Name) {
		port = uint32(ctx.Uint(httpPortFlag.Name))
	}
	if port > 0 {
		svc, err := service_interface.NewService(appSvc, port)
		if err != nil {
			return err
		}
		if err := svc.Start(); err != nil {
			return err
		}
		defer svc.Stop()
	}

	log.Infof("watching stash %s, press ctrl+c to stop", watched.Id)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down watcher...")
	return nil
}
