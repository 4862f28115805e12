package e2e_test

import (
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const esploraUrl = "http://localhost:3000"

func faucet(address string, amount string) (string, error) {
	cmd := exec.Command("nigiri", "faucet", address, amount)
	output, err := cmd.Output()
	if err != nil {
		return "", err
	}
	txid := strings.TrimPrefix(string(output), "txId: ")
	time.Sleep(6 * time.Second)
	return strings.TrimSpace(txid), nil
}

func generateBlocks(n int) error {
	output, err := exec.Command("nigiri", "rpc", "getnewaddress").Output()
	if err != nil {
		return fmt.Errorf("failed to get new address: %w", err)
	}
	address := strings.TrimSpace(string(output))

	cmd := exec.Command("nigiri", "rpc", "generatetoaddress", fmt.Sprint(n), address)
	if _, err := cmd.Output(); err != nil {
		return fmt.Errorf("failed to generate blocks: %w", err)
	}
	// esplora indexing
	time.Sleep(3 * time.Second)
	return nil
}

func isNigiriRunning() bool {
	if _, err := exec.LookPath("nigiri"); err != nil {
		return false
	}
	return exec.Command("nigiri", "rpc", "getblockcount").Run() == nil
}
