package chain_test

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/keyward/internal/chain"
	kwerr "github.com/mrz1836/keyward/pkg/errors"
)

func TestLookup(t *testing.T) {
	t.Parallel()
	tests := []struct {
		id     string
		params *chaincfg.Params
		family string
	}{
		{"btc", &chaincfg.MainNetParams, "btc"},
		{"tbtc", &chaincfg.TestNet3Params, "btc"},
		{"tbtcsig", &chaincfg.SigNetParams, "btc"},
		{" LTC ", &chain.LitecoinParams, "ltc"},
		{"doge", &chain.DogecoinParams, "doge"},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			t.Parallel()
			coin, err := chain.Lookup(tt.id)
			require.NoError(t, err)
			assert.Same(t, tt.params, coin.Params)
			assert.Equal(t, tt.family, coin.Family)
			assert.Equal(t, int64(1e8), coin.BaseFactor)
			assert.Positive(t, coin.DustLimit)
		})
	}
}

func TestLookup_Unsupported(t *testing.T) {
	t.Parallel()
	_, err := chain.Lookup("eth")
	require.ErrorIs(t, err, chain.ErrUnsupportedCoin)
	assert.Equal(t, "eth", kwerr.DetailsOf(err)["coin"])
	assert.Contains(t, kwerr.DetailsOf(err)["supported"], "btc")
}

func TestSupportedCoins(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"btc", "doge", "ltc", "tbtc", "tbtcsig"}, chain.SupportedCoins())
}

func TestCoin_Supports(t *testing.T) {
	t.Parallel()
	btc := chain.MustLookup(chain.BTC)
	for _, st := range chain.AllScriptTypes() {
		assert.True(t, btc.Supports(st), st)
	}

	ltc := chain.MustLookup(chain.LTC)
	assert.True(t, ltc.Supports(chain.ScriptP2WSH))
	assert.False(t, ltc.Supports(chain.ScriptP2TR))
	assert.False(t, ltc.Supports(chain.ScriptP2TRMusig2))
	assert.True(t, ltc.SupportsSegwit())

	doge := chain.MustLookup(chain.DOGE)
	assert.Equal(t, []chain.ScriptType{chain.ScriptP2SH}, doge.ScriptTypes)
	assert.False(t, doge.SupportsSegwit())
}

func TestScriptType_Classification(t *testing.T) {
	t.Parallel()
	assert.False(t, chain.ScriptP2SH.IsSegwit())
	assert.True(t, chain.ScriptP2SHP2WSH.IsSegwit())
	assert.False(t, chain.ScriptP2WSH.IsTaproot())
	assert.True(t, chain.ScriptP2TR.IsTaproot())
	assert.True(t, chain.ScriptP2TRMusig2.IsTaproot())
}

func TestCustomNetworksDecode(t *testing.T) {
	t.Parallel()
	hash := make([]byte, 32)
	ltcAddr, err := btcutil.NewAddressWitnessScriptHash(hash, &chain.LitecoinParams)
	require.NoError(t, err)

	decoded, err := btcutil.DecodeAddress(ltcAddr.EncodeAddress(), &chain.LitecoinParams)
	require.NoError(t, err)
	assert.True(t, decoded.IsForNet(&chain.LitecoinParams))
	assert.False(t, decoded.IsForNet(&chaincfg.MainNetParams))

	dogeAddr, err := btcutil.NewAddressScriptHashFromHash(make([]byte, 20), &chain.DogecoinParams)
	require.NoError(t, err)
	assert.Equal(t, "9", dogeAddr.EncodeAddress()[:1])
}
