package mempool

import (
	"bytes"
	"context"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/keyward/internal/chain"
	"github.com/mrz1836/keyward/internal/metrics"
	"github.com/mrz1836/keyward/internal/provider"
	kwerr "github.com/mrz1836/keyward/pkg/errors"
)

const testAddress = "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4"

func newTestClient(t *testing.T, handler http.Handler) (*Client, *metrics.Metrics) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	m := &metrics.Metrics{}
	c := NewClient(&ClientOptions{
		BaseURL:     srv.URL + "/",
		RateLimiter: chain.NewRateLimiter(0, 1),
		Retry: &chain.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
		},
		Metrics: m,
	})
	return c, m
}

func TestClient_ImplementsProvider(t *testing.T) {
	t.Parallel()
	var _ provider.KeyedProvider = NewClient(nil)
	assert.Equal(t, Name, NewClient(nil).Name())
}

func TestClient_GetAddressInfo(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/address/"+testAddress, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{
			"address": "` + testAddress + `",
			"chain_stats": {"funded_txo_count": 2, "funded_txo_sum": 150000, "spent_txo_count": 1, "spent_txo_sum": 50000, "tx_count": 3},
			"mempool_stats": {"funded_txo_count": 1, "funded_txo_sum": 2000, "spent_txo_count": 0, "spent_txo_sum": 0, "tx_count": 1}
		}`))
	})
	c, m := newTestClient(t, mux)

	info, err := c.GetAddressInfo(context.Background(), testAddress)
	require.NoError(t, err)
	assert.Equal(t, int64(4), info.TxCount)
	assert.Equal(t, int64(102000), info.Balance)
	assert.Equal(t, int64(1), m.ProviderCallsTotal())
	assert.Equal(t, int64(0), m.ProviderErrorsTotal())
}

func TestClient_GetUnspentsForAddresses(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/address/a1/utxo", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[
			{"txid": "aa", "vout": 0, "value": 1000, "status": {"confirmed": true}},
			{"txid": "bb", "vout": 3, "value": 2500, "status": {"confirmed": false}}
		]`))
	})
	mux.HandleFunc("/address/a2/utxo", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	c, _ := newTestClient(t, mux)

	unspents, err := c.GetUnspentsForAddresses(context.Background(), []string{"a1", "a2"})
	require.NoError(t, err)
	require.Len(t, unspents, 2)
	assert.Equal(t, provider.NewUnspent("aa", 0, "a1", 1000), unspents[0])
	assert.Equal(t, "bb:3", unspents[1].ID)
	assert.Equal(t, int64(2500), unspents[1].Value)
}

func TestClient_GetRecoveryFeePerByte(t *testing.T) {
	t.Parallel()

	t.Run("fastest fee", func(t *testing.T) {
		t.Parallel()
		mux := http.NewServeMux()
		mux.HandleFunc("/v1/fees/recommended", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"fastestFee": 42, "halfHourFee": 30, "hourFee": 20, "economyFee": 5, "minimumFee": 1}`))
		})
		c, _ := newTestClient(t, mux)

		rate, err := c.GetRecoveryFeePerByte(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(42), rate)
	})

	t.Run("zero rate", func(t *testing.T) {
		t.Parallel()
		mux := http.NewServeMux()
		mux.HandleFunc("/v1/fees/recommended", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"fastestFee": 0}`))
		})
		c, _ := newTestClient(t, mux)

		_, err := c.GetRecoveryFeePerByte(context.Background())
		require.ErrorIs(t, err, kwerr.ErrProviderRequest)
	})
}

func TestClient_GetUSDPrice(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/prices", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"time": 1700000000, "USD": 43210.55, "EUR": 40000}`))
	})
	c, _ := newTestClient(t, mux)

	price, err := c.GetUSDPrice(context.Background(), "BTC")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("43210.55").Equal(price), price.String())

	_, err = c.GetUSDPrice(context.Background(), "ltc")
	require.ErrorIs(t, err, kwerr.ErrProviderNotImplemented)
}

func TestClient_DecodeNotImplemented(t *testing.T) {
	t.Parallel()
	_, err := NewClient(nil).DecodeAndVerifyTransaction(context.Background(), "00")
	require.ErrorIs(t, err, kwerr.ErrProviderNotImplemented)
	assert.Equal(t, Name, kwerr.DetailsOf(err)["provider"])
}

func TestClient_RetriesServerErrors(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/fees/recommended", func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"fastestFee": 7}`))
	})
	c, m := newTestClient(t, mux)

	rate, err := c.GetRecoveryFeePerByte(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), rate)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, int64(2), m.Snapshot().ProviderRetries)
}

func TestClient_ClientErrorNotRetried(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/address/bogus", func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "Invalid Bitcoin address", http.StatusBadRequest)
	})
	c, m := newTestClient(t, mux)

	_, err := c.GetAddressInfo(context.Background(), "bogus")
	require.ErrorIs(t, err, kwerr.ErrProviderRequest)
	assert.Equal(t, "GetAddressInfo", kwerr.DetailsOf(err)["operation"])
	assert.Contains(t, err.Error(), "Invalid Bitcoin address")
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int64(1), m.ProviderErrorsTotal())
}

func TestClient_RetriesExhausted(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/prices", func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})
	c, _ := newTestClient(t, mux)

	_, err := c.GetUSDPrice(context.Background(), "btc")
	require.ErrorIs(t, err, kwerr.ErrProviderRequest)
	require.ErrorIs(t, err, chain.ErrRateLimited)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_CircuitBreakerOpens(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/address/x", func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := NewClient(&ClientOptions{
		BaseURL:     srv.URL,
		RateLimiter: chain.NewRateLimiter(0, 1),
		Retry:       &chain.RetryConfig{MaxAttempts: 1},
		Metrics:     &metrics.Metrics{},
		MaxFailures: 2,
	})

	for range 4 {
		_, err := c.GetAddressInfo(context.Background(), "x")
		require.ErrorIs(t, err, kwerr.ErrProviderRequest)
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_WithAPIKey(t *testing.T) {
	t.Parallel()
	var auth atomic.Value
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/fees/recommended", func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"fastestFee": 3}`))
	})
	c, _ := newTestClient(t, mux)

	_, err := c.GetRecoveryFeePerByte(context.Background())
	require.NoError(t, err)
	assert.Empty(t, auth.Load())

	keyed := c.WithAPIKey(" token ")
	_, err = keyed.GetRecoveryFeePerByte(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer token", auth.Load())
	assert.Empty(t, c.apiKey)
}

func TestClient_ContextCanceled(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/address/y", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	c, _ := newTestClient(t, mux)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.GetAddressInfo(ctx, "y")
	require.ErrorIs(t, err, context.Canceled)
}

func TestClient_GetTransaction(t *testing.T) {
	t.Parallel()
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Index: 1}, []byte{0x51}, nil))
	tx.AddTxOut(wire.NewTxOut(12_345, []byte{0x51}))
	var buf bytes.Buffer
	require.NoError(t, tx.Serialize(&buf))
	txid := tx.TxHash().String()

	mux := http.NewServeMux()
	mux.HandleFunc("/tx/"+txid+"/hex", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/plain", r.Header.Get("Accept"))
		_, _ = w.Write([]byte(hex.EncodeToString(buf.Bytes()) + "\n"))
	})
	mux.HandleFunc("/tx/bad/hex", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("zz"))
	})
	c, _ := newTestClient(t, mux)
	var _ provider.TxFetcher = c

	got, err := c.GetTransaction(context.Background(), txid)
	require.NoError(t, err)
	assert.Equal(t, txid, got.TxHash().String())

	_, err = c.GetTransaction(context.Background(), "bad")
	require.ErrorIs(t, err, kwerr.ErrProviderRequest)
	require.ErrorIs(t, err, kwerr.ErrInvalidTransaction)
}

func TestClient_RetryAfterHandedToRetryLoop(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/prices", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	c, _ := newTestClient(t, mux)
	c.retry.MaxDelay = time.Minute

	// do reports the wait instead of sleeping through it.
	start := time.Now()
	var out pricesResponse
	err := c.do(context.Background(), "/v1/prices", &out)
	require.ErrorIs(t, err, chain.ErrRateLimited)
	assert.Less(t, time.Since(start), 5*time.Second)

	wait, ok := chain.RetryAfterOf(err)
	require.True(t, ok)
	assert.Equal(t, 7*time.Second, wait)
}

func TestClient_RetryAfterReplacesBackoff(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/fees/recommended", func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"fastestFee": 3}`))
	})
	c, _ := newTestClient(t, mux)
	// A backoff of half an hour or more would outlive the context; the
	// one second the server asked for does not.
	c.retry.BaseDelay = time.Hour
	c.retry.MaxDelay = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rate, err := c.GetRecoveryFeePerByte(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rate)
	assert.Equal(t, int32(2), calls.Load())
}
