// Package discovery finds the unspent outputs of a 2-of-3 wallet by deriving
// its addresses chain by chain and querying a recovery provider until a run
// of unused addresses is seen.
package discovery

import (
	"context"
	"strconv"
	"time"

	"github.com/mrz1836/keyward/internal/chain"
	"github.com/mrz1836/keyward/internal/metrics"
	"github.com/mrz1836/keyward/internal/provider"
	"github.com/mrz1836/keyward/internal/wallet"
	kwerr "github.com/mrz1836/keyward/pkg/errors"
)

// Default scanning parameters.
const (
	// DefaultGapLimit is the number of consecutive unused addresses after
	// which a chain is considered exhausted.
	DefaultGapLimit = 20

	// DefaultMaxWorkers limits how many chains are scanned at once.
	DefaultMaxWorkers = 3
)

// ProgressUpdate provides feedback during scanning.
type ProgressUpdate struct {
	Phase            string // "scanning" or "found"
	Chain            ChainCode
	Index            uint32
	Address          string
	AddressesScanned int
	UnspentsFound    int
}

// ProgressCallback is called during scanning to report progress. Calls are
// serialized even when chains are scanned concurrently.
type ProgressCallback func(ProgressUpdate)

// Logger is the logging interface used during discovery.
type Logger interface {
	Debug(format string, args ...any)
	Error(format string, args ...any)
}

// Options configures a discovery run.
type Options struct {
	// GapLimit is the number of consecutive unused addresses before a chain
	// stops. Default: DefaultGapLimit.
	GapLimit int

	// MaxWorkers limits concurrently scanned chains. Default: DefaultMaxWorkers.
	MaxWorkers int

	// ProgressCallback receives updates during scanning.
	ProgressCallback ProgressCallback

	// Logger receives debug and error output. May be nil.
	Logger Logger

	// Metrics records scanned addresses and found unspents. May be nil.
	Metrics *metrics.Metrics
}

// DefaultOptions returns options with the default gap limit and worker count.
func DefaultOptions() *Options {
	return &Options{
		GapLimit:   DefaultGapLimit,
		MaxWorkers: DefaultMaxWorkers,
	}
}

// Validate checks that the options are usable.
func (o *Options) Validate() error {
	if o.GapLimit <= 0 {
		return kwerr.WithDetails(kwerr.ErrInvalidScanParameter,
			map[string]string{"value": strconv.Itoa(o.GapLimit)})
	}
	if o.MaxWorkers <= 0 {
		return kwerr.WithDetails(kwerr.ErrInvalidInput,
			map[string]string{"field": "maxWorkers", "value": strconv.Itoa(o.MaxWorkers)})
	}
	return nil
}

// ChainClient is the part of a provider discovery needs.
type ChainClient interface {
	GetAddressInfo(ctx context.Context, address string) (*provider.AddressInfo, error)
	GetUnspentsForAddresses(ctx context.Context, addresses []string) ([]provider.Unspent, error)
}

// AddressDeriver derives wallet addresses. *wallet.RootKeys implements it.
type AddressDeriver interface {
	DeriveAddress(coin *chain.Coin, st chain.ScriptType, chainCode, index uint32) (*wallet.DerivedAddress, error)
}

// WalletUnspent is a provider-reported unspent output tied to the wallet
// address that owns it.
type WalletUnspent struct {
	ID      string
	TxID    string
	Vout    uint32
	Value   int64
	Address string
	Chain   ChainCode
	Index   uint32
	Derived *wallet.DerivedAddress
}

// Result is the outcome of a discovery run.
type Result struct {
	// Unspents in chain-code order, then index, then provider order.
	Unspents []WalletUnspent

	// TotalValue is the sum of all unspent values in base units.
	TotalValue int64

	// AddressesScanned is the number of addresses checked.
	AddressesScanned int

	// ChainsScanned lists the chain codes scanned, in scan order.
	ChainsScanned []ChainCode

	// Duration is how long the scan took.
	Duration time.Duration
}

// HasFunds reports whether any unspent was found.
func (r *Result) HasFunds() bool {
	return len(r.Unspents) > 0
}

// UnspentsByChain returns the unspents found on one chain.
func (r *Result) UnspentsByChain(code ChainCode) []WalletUnspent {
	var out []WalletUnspent
	for _, u := range r.Unspents {
		if u.Chain == code {
			out = append(out, u)
		}
	}
	return out
}
