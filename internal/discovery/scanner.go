package discovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/mrz1836/keyward/internal/chain"
	"github.com/mrz1836/keyward/internal/provider"
	kwerr "github.com/mrz1836/keyward/pkg/errors"
)

// Scanner walks wallet chains against a provider.
type Scanner struct {
	client  ChainClient
	deriver AddressDeriver
	coin    *chain.Coin
	opts    *Options

	progressMu sync.Mutex
}

// NewScanner creates a scanner. Nil options select the defaults; zero
// fields are filled from the defaults too.
func NewScanner(client ChainClient, deriver AddressDeriver, coin *chain.Coin, opts *Options) *Scanner {
	o := DefaultOptions()
	if opts != nil {
		*o = *opts
		if o.GapLimit == 0 {
			o.GapLimit = DefaultGapLimit
		}
		if o.MaxWorkers == 0 {
			o.MaxWorkers = DefaultMaxWorkers
		}
	}
	return &Scanner{
		client:  client,
		deriver: deriver,
		coin:    coin,
		opts:    o,
	}
}

// chainResult holds results from scanning a single chain.
type chainResult struct {
	unspents []WalletUnspent
	scanned  int
}

// ScanChain scans one chain from index 0 until GapLimit consecutive
// addresses have no transaction history. A used address resets the count
// whether or not it still holds a balance. Any provider error aborts.
func (s *Scanner) ScanChain(ctx context.Context, code ChainCode) ([]WalletUnspent, int, error) {
	res, err := s.scanChain(ctx, code)
	if err != nil {
		return nil, res.scanned, err
	}
	return res.unspents, res.scanned, nil
}

func (s *Scanner) scanChain(ctx context.Context, code ChainCode) (*chainResult, error) {
	result := &chainResult{}
	st := code.ScriptType()
	if st == "" {
		return result, fmt.Errorf("%w: unknown chain code %d", kwerr.ErrInvalidInput, code)
	}

	consecutiveEmpty := 0
	for index := uint32(0); consecutiveEmpty < s.opts.GapLimit; index++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		addr, err := s.deriver.DeriveAddress(s.coin, st, uint32(code), index)
		if err != nil {
			return result, fmt.Errorf("deriving address at chain %d index %d: %w", code, index, err)
		}

		info, err := s.client.GetAddressInfo(ctx, addr.Address)
		if err != nil {
			s.logError("chain %d index %d: address lookup failed: %v", code, index, err)
			return result, provider.RequestFailed(providerName(s.client), "getAddressInfo", err)
		}
		result.scanned++
		if s.opts.Metrics != nil {
			s.opts.Metrics.RecordAddressScanned()
		}

		s.reportProgress(ProgressUpdate{
			Phase:            "scanning",
			Chain:            code,
			Index:            index,
			Address:          addr.Address,
			AddressesScanned: result.scanned,
			UnspentsFound:    len(result.unspents),
		})

		if info.TxCount == 0 {
			consecutiveEmpty++
			continue
		}
		consecutiveEmpty = 0

		if info.Balance <= 0 {
			continue
		}

		utxos, err := s.client.GetUnspentsForAddresses(ctx, []string{addr.Address})
		if err != nil {
			s.logError("chain %d index %d: unspent lookup failed: %v", code, index, err)
			return result, provider.RequestFailed(providerName(s.client), "getUnspentsForAddresses", err)
		}

		for _, u := range utxos {
			result.unspents = append(result.unspents, WalletUnspent{
				ID:      u.ID,
				TxID:    u.TxID,
				Vout:    u.Vout,
				Value:   u.Value,
				Address: addr.Address,
				Chain:   code,
				Index:   index,
				Derived: addr,
			})
		}
		if s.opts.Metrics != nil {
			s.opts.Metrics.RecordUnspents(len(utxos))
		}

		s.debug("chain %d index %d: %d unspents at %s", code, index, len(utxos), addr.Address)
		s.reportProgress(ProgressUpdate{
			Phase:            "found",
			Chain:            code,
			Index:            index,
			Address:          addr.Address,
			AddressesScanned: result.scanned,
			UnspentsFound:    len(result.unspents),
		})
	}

	return result, nil
}

// reportProgress calls the progress callback if configured.
func (s *Scanner) reportProgress(update ProgressUpdate) {
	if s.opts.ProgressCallback == nil {
		return
	}
	s.progressMu.Lock()
	defer s.progressMu.Unlock()
	s.opts.ProgressCallback(update)
}

func (s *Scanner) debug(format string, args ...any) {
	if s.opts.Logger != nil {
		s.opts.Logger.Debug(format, args...)
	}
}

func (s *Scanner) logError(format string, args ...any) {
	if s.opts.Logger != nil {
		s.opts.Logger.Error(format, args...)
	}
}

func providerName(c ChainClient) string {
	if named, ok := c.(interface{ Name() string }); ok {
		return named.Name()
	}
	return "unknown"
}
