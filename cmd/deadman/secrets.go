package main

import (
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/ArkLabsHQ/deadman/internal/core/ports"
	"github.com/ArkLabsHQ/deadman/pkg/keychain"
	"github.com/ArkLabsHQ/deadman/pkg/stash"
	"github.com/ArkLabsHQ/deadman/utils"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"
)

var isTerminal = func() bool {
	return term.IsTerminal(int(syscall.Stdin))
}

// readPassphrase takes the passphrase from the given flag, then from the
// unlocker if not nil, and finally prompts for it.
func readPassphrase(
	ctx *cli.Context, flag *cli.StringFlag, who string, unlocker ports.Unlocker,
) (string, error) {
	if ctx.IsSet(flag.Name) {
		return ctx.String(flag.Name), nil
	}

	if unlocker != nil {
		return unlocker.GetPassword(ctx.Context)
	}

	if !isTerminal() {
		return "", nil
	}
	fmt.Fprintf(os.Stderr, "passphrase of the %s (empty for none): ", who)
	passphrase, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(passphrase), nil
}

// readCreatePassphrases reads the passphrases of both parties from flags or
// prompts. The unlocker holds a single passphrase, so it is not used here.
func readCreatePassphrases(ctx *cli.Context) (string, string, error) {
	owner, err := readPassphrase(ctx, ownerPassphraseFlag, "owner", nil)
	if err != nil {
		return "", "", err
	}
	redeemer, err := readPassphrase(ctx, redeemPassphraseFlag, "redeemer", nil)
	if err != nil {
		return "", "", err
	}
	return owner, redeemer, nil
}

// readMnemonic takes the mnemonic from the given flag or prompts for it.
func readMnemonic(ctx *cli.Context, flag *cli.StringFlag, who string) (string, error) {
	mnemonic := ctx.String(flag.Name)
	if len(mnemonic) <= 0 {
		if !isTerminal() {
			return "", fmt.Errorf("missing mnemonic of the %s", who)
		}
		fmt.Fprintf(os.Stderr, "mnemonic of the %s: ", who)
		buf, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		mnemonic = string(buf)
	}

	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	if err := utils.IsValidMnemonic(mnemonic); err != nil {
		return "", err
	}
	return mnemonic, nil
}

// getSecretDescriptor returns the secret descriptor for the given spending
// path, either parsed from --descriptor or rebuilt from the public descriptor
// and the mnemonic of the party. The caller must wipe it.
func getSecretDescriptor(ctx *cli.Context, path stash.Path) (*stash.SecretDescriptor, error) {
	desc := ctx.String(descriptorFlag.Name)
	if len(desc) <= 0 {
		desc = ctx.String(publicDescriptorFlag.Name)
	}
	if len(desc) <= 0 {
		return nil, fmt.Errorf("missing descriptor")
	}

	public, secret, err := stash.ParseDescriptor(desc, cfg.NetworkParams())
	if err != nil {
		return nil, err
	}
	if secret == nil {
		who, passphraseFlag := "owner", ownerPassphraseFlag
		if path == stash.PathRedeemer {
			who, passphraseFlag = "redeemer", redeemPassphraseFlag
		}

		mnemonic, err := readMnemonic(ctx, mnemonicFlag, who)
		if err != nil {
			return nil, err
		}
		passphrase, err := readPassphrase(ctx, passphraseFlag, who, cfg.UnlockerService())
		if err != nil {
			return nil, err
		}
		master, _, err := keychain.Derive(&mnemonic, passphrase, cfg.NetworkParams())
		if err != nil {
			return nil, err
		}
		defer master.Zero()

		if secret, err = stash.AttachSecret(public, master); err != nil {
			return nil, err
		}
	}

	if secret.Path() != path {
		secret.Wipe()
		return nil, fmt.Errorf("the descriptor carries the %s key, the %s key is required", secret.Path(), path)
	}
	return secret, nil
}

func getPublicDescriptor(ctx *cli.Context) (*stash.PublicDescriptor, error) {
	desc := ctx.String(descriptorFlag.Name)
	if len(desc) <= 0 {
		desc = ctx.String(publicDescriptorFlag.Name)
	}
	if len(desc) <= 0 {
		return nil, fmt.Errorf("missing descriptor")
	}

	public, secret, err := stash.ParseDescriptor(desc, cfg.NetworkParams())
	if err != nil {
		return nil, err
	}
	if secret != nil {
		secret.Wipe()
	}
	return public, nil
}
