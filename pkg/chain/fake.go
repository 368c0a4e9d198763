package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
)

// Fake is a scriptable in-memory Client for tests.
type Fake struct {
	mu sync.Mutex

	GasPriceWei *big.Int
	OperatorBal *big.Int
	Balances    map[string]*big.Int

	SendErr    error
	NextHash   string
	SendCalls  int
	Sent       []FakeSend
	ReceiptErr error
	// PendingPolls receipts return ErrReceiptNotFound this many times before
	// Receipts is consulted.
	PendingPolls int
	Receipts     map[string]*Receipt
}

type FakeSend struct {
	To     string
	Amount *big.Int
}

func NewFake() *Fake {
	return &Fake{
		GasPriceWei: big.NewInt(1_000_000_000), // 1 gwei
		OperatorBal: new(big.Int).Lsh(big.NewInt(1), 90),
		Balances:    map[string]*big.Int{},
		NextHash:    "0xfakehash",
		Receipts:    map[string]*Receipt{},
	}
}

func (f *Fake) TokenBalance(ctx context.Context, address string) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.Balances[address]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

func (f *Fake) OperatorBalance(ctx context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.OperatorBal), nil
}

func (f *Fake) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.GasPriceWei), nil
}

func (f *Fake) SendToken(ctx context.Context, to string, baseUnits *big.Int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SendCalls++
	if f.SendErr != nil {
		return "", f.SendErr
	}
	f.Sent = append(f.Sent, FakeSend{To: to, Amount: new(big.Int).Set(baseUnits)})
	hash := f.NextHash
	if len(f.Sent) > 1 {
		hash = fmt.Sprintf("%s-%d", f.NextHash, len(f.Sent))
	}
	return hash, nil
}

func (f *Fake) TransactionReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReceiptErr != nil {
		return nil, f.ReceiptErr
	}
	if f.PendingPolls > 0 {
		f.PendingPolls--
		return nil, ErrReceiptNotFound
	}
	if r, ok := f.Receipts[txHash]; ok {
		return r, nil
	}
	return nil, ErrReceiptNotFound
}

// SetReceipt scripts the receipt returned for a hash.
func (f *Fake) SetReceipt(txHash string, status uint64, blockNumber, gasUsed uint64, gasPriceWei int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Receipts[txHash] = &Receipt{
		TxHash:            txHash,
		Status:            status,
		BlockNumber:       blockNumber,
		GasUsed:           gasUsed,
		EffectiveGasPrice: big.NewInt(gasPriceWei),
	}
}
