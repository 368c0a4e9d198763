package chain

import (
	"context"
	"errors"
	"math/big"
)

// ErrReceiptNotFound means the transaction is not yet mined (or unknown to
// the node). Callers poll until it appears or their deadline passes.
var ErrReceiptNotFound = errors.New("transaction receipt not available")

// Receipt is the confirmation result for a broadcast transaction.
type Receipt struct {
	TxHash            string
	Status            uint64 // 1 = success, 0 = reverted
	BlockNumber       uint64
	GasUsed           uint64
	EffectiveGasPrice *big.Int // wei
}

// Reverted reports whether the transaction was mined but failed.
func (r *Receipt) Reverted() bool {
	return r.Status == 0
}

// FeeWei is the actual fee paid, in wei.
func (r *Receipt) FeeWei() *big.Int {
	if r.EffectiveGasPrice == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Mul(new(big.Int).SetUint64(r.GasUsed), r.EffectiveGasPrice)
}

// Client is everything the saga needs from the chain. Signing is an opaque
// capability behind SendToken, so a hardware- or multisig-backed signer can
// replace the default gateway without touching the saga.
type Client interface {
	// TokenBalance returns the token balance of an address in base units.
	TokenBalance(ctx context.Context, address string) (*big.Int, error)
	// OperatorBalance returns the operator account's token balance in base units.
	OperatorBalance(ctx context.Context) (*big.Int, error)
	// SuggestGasPrice returns the current network gas price in wei.
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	// SendToken signs and broadcasts a token transfer of baseUnits to the
	// destination, returning the transaction hash. Sends for the one operator
	// key are serialized internally so sequence numbers never collide.
	SendToken(ctx context.Context, to string, baseUnits *big.Int) (string, error)
	// TransactionReceipt fetches the receipt, or ErrReceiptNotFound while the
	// transaction is still pending.
	TransactionReceipt(ctx context.Context, txHash string) (*Receipt, error)
}
