package ports

import "context"

// Utxo is an unspent output as reported by the backend.
type Utxo struct {
	Txid        string
	Vout        uint32
	Amount      uint64
	Confirmed   bool
	BlockHeight uint32
}

// WalletBackend is the chain data source and broadcaster (esplora-like).
type WalletBackend interface {
	GetBlockHeight(ctx context.Context) (uint32, error)
	// GetAddressTxCount returns the number of transactions, confirmed or not,
	// involving the address.
	GetAddressTxCount(ctx context.Context, address string) (int, error)
	GetUtxos(ctx context.Context, address string) ([]Utxo, error)
	// GetFeeRate returns the estimated fee rate in sat/vbyte for confirmation
	// within a few blocks.
	GetFeeRate(ctx context.Context) (float64, error)
	Broadcast(ctx context.Context, txHex string) (string, error)
}
