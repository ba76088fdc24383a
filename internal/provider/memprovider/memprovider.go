// Package memprovider is an in-memory recovery provider for offline
// fixtures and tests.
package memprovider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/wire"
	"github.com/shopspring/decimal"

	"github.com/mrz1836/keyward/internal/provider"
	kwerr "github.com/mrz1836/keyward/pkg/errors"
)

// Name is the provider name reported by Provider.
const Name = "memory"

// Provider serves address history, unspents, fees and prices from memory.
type Provider struct {
	mu sync.Mutex

	txCounts map[string]int64
	unspents map[string][]provider.Unspent
	prices   map[string]decimal.Decimal
	feeRate  int64

	feeErr    error
	priceErr  error
	infoErr   map[string]error
	decodeSet bool
	decodeErr error
	txs       map[string]*wire.MsgTx // nil until AddTransaction
	txErr     error

	infoCalls    map[string]int
	unspentCalls int
	decodeCalls  int
	txCalls      int
	queried      []string
}

// New creates an empty provider. Fee rate lookups return
// ErrProviderNotImplemented until SetFeeRate is called.
func New() *Provider {
	return &Provider{
		txCounts:  make(map[string]int64),
		unspents:  make(map[string][]provider.Unspent),
		prices:    make(map[string]decimal.Decimal),
		infoErr:   make(map[string]error),
		infoCalls: make(map[string]int),
	}
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return Name }

// AddUnspent funds an address. Each unspent also counts as one transaction.
func (p *Provider) AddUnspent(address, txid string, vout uint32, value int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unspents[address] = append(p.unspents[address], provider.NewUnspent(txid, vout, address, value))
	p.txCounts[address]++
}

// SetHistory marks an address as used without leaving a balance.
func (p *Provider) SetHistory(address string, txCount int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.txCounts[address] = txCount
}

// SetFeeRate sets the fee rate in base units per virtual byte.
func (p *Provider) SetFeeRate(rate int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.feeRate = rate
}

// SetFeeError makes fee rate lookups fail.
func (p *Provider) SetFeeError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.feeErr = err
}

// SetUSDPrice sets the USD price of a coin family.
func (p *Provider) SetUSDPrice(family string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[family] = price
}

// SetPriceError makes price lookups fail.
func (p *Provider) SetPriceError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.priceErr = err
}

// SetAddressError makes lookups of one address fail.
func (p *Provider) SetAddressError(address string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.infoErr[address] = err
}

// EnableDecode makes DecodeAndVerifyTransaction decode raw transactions.
// A non-nil err is returned instead of decoding.
func (p *Provider) EnableDecode(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.decodeSet = true
	p.decodeErr = err
}

// AddTransaction makes a raw transaction available to GetTransaction.
// Until the first call, transaction lookups return ErrProviderNotImplemented.
func (p *Provider) AddTransaction(tx *wire.MsgTx) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.txs == nil {
		p.txs = make(map[string]*wire.MsgTx)
	}
	p.txs[tx.TxHash().String()] = tx.Copy()
}

// SetTransactionError makes transaction lookups fail.
func (p *Provider) SetTransactionError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.txErr = err
}

// GetAddressInfo implements provider.Provider.
func (p *Provider) GetAddressInfo(ctx context.Context, address string) (*provider.AddressInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.infoCalls[address]++
	p.queried = append(p.queried, address)
	if err := p.infoErr[address]; err != nil {
		return nil, provider.RequestFailed(Name, "getAddressInfo", err)
	}

	var balance int64
	for _, u := range p.unspents[address] {
		balance += u.Value
	}
	return &provider.AddressInfo{TxCount: p.txCounts[address], Balance: balance}, nil
}

// GetUnspentsForAddresses implements provider.Provider.
func (p *Provider) GetUnspentsForAddresses(ctx context.Context, addresses []string) ([]provider.Unspent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.unspentCalls++
	var out []provider.Unspent
	for _, a := range addresses {
		out = append(out, p.unspents[a]...)
	}
	return out, nil
}

// GetRecoveryFeePerByte implements provider.Provider.
func (p *Provider) GetRecoveryFeePerByte(context.Context) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.feeErr != nil {
		return 0, p.feeErr
	}
	if p.feeRate == 0 {
		return 0, provider.NotImplemented(Name, "getRecoveryFeePerByte")
	}
	return p.feeRate, nil
}

// GetUSDPrice implements provider.Provider.
func (p *Provider) GetUSDPrice(_ context.Context, family string) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.priceErr != nil {
		return decimal.Zero, p.priceErr
	}
	price, ok := p.prices[family]
	if !ok {
		return decimal.Zero, kwerr.WithDetails(kwerr.ErrProviderRequest, map[string]string{
			"provider": Name,
			"family":   family,
		})
	}
	return price, nil
}

// DecodeAndVerifyTransaction implements provider.Provider.
func (p *Provider) DecodeAndVerifyTransaction(_ context.Context, rawTxHex string) (*provider.DecodedTransaction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.decodeCalls++
	if !p.decodeSet {
		return nil, provider.NotImplemented(Name, "decodeAndVerifyTransaction")
	}
	if p.decodeErr != nil {
		return nil, p.decodeErr
	}

	tx, err := provider.DecodeTxHex(rawTxHex)
	if err != nil {
		return nil, provider.RequestFailed(Name, "decodeAndVerifyTransaction", err)
	}
	return &provider.DecodedTransaction{TransactionID: tx.TxHash().String()}, nil
}

// GetTransaction implements provider.TxFetcher.
func (p *Provider) GetTransaction(ctx context.Context, txid string) (*wire.MsgTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.txCalls++
	if p.txErr != nil {
		return nil, p.txErr
	}
	if p.txs == nil {
		return nil, provider.NotImplemented(Name, "getTransaction")
	}
	tx, ok := p.txs[txid]
	if !ok {
		return nil, provider.RequestFailed(Name, "getTransaction", fmt.Errorf("unknown transaction %s", txid))
	}
	return tx.Copy(), nil
}

// InfoCalls returns how many times an address was looked up.
func (p *Provider) InfoCalls(address string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.infoCalls[address]
}

// TotalInfoCalls returns the number of address lookups.
func (p *Provider) TotalInfoCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queried)
}

// UnspentCalls returns how many unspent lookups were made.
func (p *Provider) UnspentCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unspentCalls
}

// DecodeCalls returns how many decode requests were made.
func (p *Provider) DecodeCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.decodeCalls
}

// TxCalls returns how many transaction lookups were made.
func (p *Provider) TxCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.txCalls
}

// Queried returns the distinct addresses looked up, sorted.
func (p *Provider) Queried() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	seen := make(map[string]bool, len(p.queried))
	out := make([]string, 0, len(p.queried))
	for _, a := range p.queried {
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	sort.Strings(out)
	return out
}
