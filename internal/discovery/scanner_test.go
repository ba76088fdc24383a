package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/keyward/internal/chain"
	"github.com/mrz1836/keyward/internal/metrics"
	"github.com/mrz1836/keyward/internal/provider/memprovider"
	"github.com/mrz1836/keyward/internal/wallet"
	"github.com/mrz1836/keyward/internal/wallet/wallettest"
	kwerr "github.com/mrz1836/keyward/pkg/errors"
)

// stubDeriver names addresses after their position so tests can fund them
// without running real key derivation.
type stubDeriver struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func stubAddress(code ChainCode, index uint32) string {
	return fmt.Sprintf("addr_%d_%d", code, index)
}

func (d *stubDeriver) DeriveAddress(_ *chain.Coin, st chain.ScriptType, chainCode, index uint32) (*wallet.DerivedAddress, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.fail {
		return nil, errors.New("derive failed") //nolint:err113 // Test stub error
	}
	return &wallet.DerivedAddress{
		Address:    stubAddress(ChainCode(chainCode), index),
		ScriptType: st,
		Chain:      chainCode,
		Index:      index,
	}, nil
}

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
}

func (l *recordingLogger) Debug(string, ...any) {}

func (l *recordingLogger) Error(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, fmt.Sprintf(format, args...))
}

func newTestScanner(p *memprovider.Provider, gap int) *Scanner {
	return NewScanner(p, &stubDeriver{}, chain.MustLookup(chain.BTC), &Options{GapLimit: gap})
}

func TestNewScanner_Defaults(t *testing.T) {
	t.Parallel()

	s := NewScanner(memprovider.New(), &stubDeriver{}, chain.MustLookup(chain.BTC), nil)
	assert.Equal(t, DefaultGapLimit, s.opts.GapLimit)
	assert.Equal(t, DefaultMaxWorkers, s.opts.MaxWorkers)

	s = NewScanner(memprovider.New(), &stubDeriver{}, chain.MustLookup(chain.BTC), &Options{GapLimit: 7})
	assert.Equal(t, 7, s.opts.GapLimit)
	assert.Equal(t, DefaultMaxWorkers, s.opts.MaxWorkers)
}

func TestOptions_Validate(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultOptions().Validate())
	require.ErrorIs(t, (&Options{GapLimit: -1, MaxWorkers: 1}).Validate(), kwerr.ErrInvalidScanParameter)
	require.ErrorIs(t, (&Options{GapLimit: 1, MaxWorkers: -2}).Validate(), kwerr.ErrInvalidInput)
}

func TestScanChain_EmptyChainStopsAtGapLimit(t *testing.T) {
	t.Parallel()
	p := memprovider.New()
	s := newTestScanner(p, 20)

	unspents, scanned, err := s.ScanChain(context.Background(), ChainP2WSHExternal)
	require.NoError(t, err)
	assert.Empty(t, unspents)
	assert.Equal(t, 20, scanned)
	assert.Equal(t, 20, p.TotalInfoCalls())
}

func TestScanChain_GapExcludesDistantIndex(t *testing.T) {
	t.Parallel()
	p := memprovider.New()
	code := ChainP2SHExternal
	p.AddUnspent(stubAddress(code, 0), "aa", 0, 1e8)
	p.AddUnspent(stubAddress(code, 1), "bb", 0, 2e8)
	p.AddUnspent(stubAddress(code, 2), "cc", 0, 3e8)
	p.AddUnspent(stubAddress(code, 8), "dd", 0, 23e8)

	unspents, scanned, err := newTestScanner(p, 5).ScanChain(context.Background(), code)
	require.NoError(t, err)
	require.Len(t, unspents, 3)
	assert.Equal(t, 8, scanned)
	assert.Zero(t, p.InfoCalls(stubAddress(code, 8)))

	for i, u := range unspents {
		assert.Equal(t, uint32(i), u.Index)
		assert.Equal(t, code, u.Chain)
		assert.Equal(t, stubAddress(code, uint32(i)), u.Address)
		require.NotNil(t, u.Derived)
	}
}

func TestScanChain_HistoryResetsGap(t *testing.T) {
	t.Parallel()
	p := memprovider.New()
	code := ChainP2WSHInternal
	// Index 4 was used and emptied; index 9 is reachable only through it.
	p.SetHistory(stubAddress(code, 4), 2)
	p.AddUnspent(stubAddress(code, 9), "ee", 1, 5000)

	unspents, scanned, err := newTestScanner(p, 5).ScanChain(context.Background(), code)
	require.NoError(t, err)
	require.Len(t, unspents, 1)
	assert.Equal(t, "ee:1", unspents[0].ID)
	assert.Equal(t, uint32(9), unspents[0].Index)
	assert.Equal(t, 15, scanned)
	// A used but empty address does not trigger an unspent lookup.
	assert.Equal(t, 1, p.UnspentCalls())
}

func TestScanChain_ProviderErrorAborts(t *testing.T) {
	t.Parallel()
	p := memprovider.New()
	code := ChainP2SHExternal
	p.AddUnspent(stubAddress(code, 0), "aa", 0, 1000)
	p.SetAddressError(stubAddress(code, 1), errors.New("connection reset")) //nolint:err113 // Test error

	logger := &recordingLogger{}
	s := NewScanner(p, &stubDeriver{}, chain.MustLookup(chain.BTC), &Options{GapLimit: 5, Logger: logger})

	unspents, _, err := s.ScanChain(context.Background(), code)
	require.ErrorIs(t, err, kwerr.ErrProviderRequest)
	assert.Nil(t, unspents)
	assert.Len(t, logger.errors, 1)
}

func TestScanChain_DeriveError(t *testing.T) {
	t.Parallel()
	s := NewScanner(memprovider.New(), &stubDeriver{fail: true}, chain.MustLookup(chain.BTC), nil)

	_, _, err := s.ScanChain(context.Background(), ChainP2SHExternal)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deriving address")
}

func TestScanChain_UnknownChainCode(t *testing.T) {
	t.Parallel()

	_, _, err := newTestScanner(memprovider.New(), 5).ScanChain(context.Background(), ChainCode(7))
	require.ErrorIs(t, err, kwerr.ErrInvalidInput)
}

func TestScanChain_Canceled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := newTestScanner(memprovider.New(), 5).ScanChain(ctx, ChainP2SHExternal)
	require.ErrorIs(t, err, context.Canceled)
}

func TestScanChain_ProgressAndMetrics(t *testing.T) {
	t.Parallel()
	p := memprovider.New()
	code := ChainP2SHExternal
	p.AddUnspent(stubAddress(code, 1), "aa", 0, 1000)
	p.AddUnspent(stubAddress(code, 1), "aa", 1, 2000)

	var updates []ProgressUpdate
	m := &metrics.Metrics{}
	s := NewScanner(p, &stubDeriver{}, chain.MustLookup(chain.BTC), &Options{
		GapLimit:         2,
		Metrics:          m,
		ProgressCallback: func(u ProgressUpdate) { updates = append(updates, u) },
	})

	_, scanned, err := s.ScanChain(context.Background(), code)
	require.NoError(t, err)
	assert.Equal(t, 4, scanned)

	var found []ProgressUpdate
	for _, u := range updates {
		if u.Phase == "found" {
			found = append(found, u)
		}
	}
	require.Len(t, found, 1)
	assert.Equal(t, uint32(1), found[0].Index)
	assert.Equal(t, 2, found[0].UnspentsFound)

	snap := m.Snapshot()
	assert.Equal(t, int64(4), snap.AddressesScanned)
	assert.Equal(t, int64(2), snap.UnspentsFound)
}

func TestScanChain_RealDerivation(t *testing.T) {
	t.Parallel()
	k := wallettest.Default()
	keys, _, err := wallet.Resolve(wallet.KeyInput{
		UserKey:   k.UserXpub,
		BackupKey: k.BackupXpub,
		BitGoKey:  k.BitGoXpub,
	})
	require.NoError(t, err)

	btc := chain.MustLookup(chain.BTC)
	addr, err := keys.DeriveAddress(btc, chain.ScriptP2TR, uint32(ChainP2TRExternal), 2)
	require.NoError(t, err)

	p := memprovider.New()
	p.AddUnspent(addr.Address, "ab", 0, 42_000)

	s := NewScanner(p, keys, btc, &Options{GapLimit: 3})
	unspents, _, err := s.ScanChain(context.Background(), ChainP2TRExternal)
	require.NoError(t, err)
	require.Len(t, unspents, 1)
	assert.Equal(t, addr.Address, unspents[0].Address)
	assert.Equal(t, addr.Script, unspents[0].Derived.Script)
}
