package main

import "github.com/urfave/cli/v2"

var (
	networkFlag = &cli.StringFlag{
		Name:  "network",
		Usage: "network to use: bitcoin, testnet, signet or regtest",
	}
	serverFlag = &cli.StringFlag{
		Name:    "server",
		Aliases: []string{"electrum"},
		Usage:   "the url of the esplora server to use",
	}
	proxyFlag = &cli.StringFlag{
		Name:  "proxy",
		Usage: "socks5 proxy for the esplora server, eg. socks5://127.0.0.1:9050",
	}
	retryFlag = &cli.IntFlag{
		Name:  "retry",
		Usage: "number of retries of failed requests to the server",
	}
	timeoutFlag = &cli.UintFlag{
		Name:  "timeout",
		Usage: "timeout in seconds of requests to the server",
	}
	feeRateFlag = &cli.Float64Flag{
		Name:  "fee-rate",
		Usage: "fee rate in sat/vbyte, 0 to use the server estimate",
	}
	timelockFlag = &cli.UintFlag{
		Name:  "timelock",
		Usage: "number of blocks after which the redeemer can claim the funds",
	}
	datadirFlag = &cli.StringFlag{
		Name:  "datadir",
		Usage: "specify the data directory",
	}
	logLevelFlag = &cli.UintFlag{
		Name:  "log-level",
		Usage: "log level from 0 (panic) to 6 (trace)",
	}

	descriptorFlag = &cli.StringFlag{
		Name:    "descriptor",
		Usage:   "the stash descriptor, public or with a private key",
		EnvVars: []string{"DEADMAN_DESCRIPTOR"},
	}
	publicDescriptorFlag = &cli.StringFlag{
		Name:  "public-descriptor",
		Usage: "the public stash descriptor, used with --mnemonic to rebuild the private one",
	}
	mnemonicFlag = &cli.StringFlag{
		Name:   "mnemonic",
		Usage:  "the mnemonic of the party spending the funds",
		Hidden: true,
	}
	redeemMnemonicFlag = &cli.StringFlag{
		Name:   "redeem-mnemonic",
		Usage:  "optional, the mnemonic of the redeemer if different from the owner one",
		Hidden: true,
	}
	ownerPassphraseFlag = &cli.StringFlag{
		Name:   "owner-passphrase",
		Usage:  "the passphrase of the owner",
		Hidden: true,
	}
	redeemPassphraseFlag = &cli.StringFlag{
		Name:   "redeem-passphrase",
		Usage:  "the passphrase of the redeemer",
		Hidden: true,
	}
	autoCheckInFlag = &cli.BoolFlag{
		Name:  "auto-check-in",
		Usage: "check in automatically when the timelock is about to expire, requires the owner secret",
	}
	marginFlag = &cli.UintFlag{
		Name:  "margin",
		Usage: "number of blocks before expiry at which to warn or check in",
		Value: uint(144),
	}
	httpPortFlag = &cli.UintFlag{
		Name:  "http-port",
		Usage: "port of the status http api, 0 to disable",
	}
)
