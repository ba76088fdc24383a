// Package mempool implements the recovery provider against an
// Esplora-compatible REST API such as mempool.space or blockstream.info.
package mempool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"github.com/mrz1836/keyward/internal/chain"
	"github.com/mrz1836/keyward/internal/metrics"
	"github.com/mrz1836/keyward/internal/provider"
)

// Name is the provider name reported by Client.
const Name = "mempool"

// Defaults for the HTTP client.
const (
	DefaultBaseURL         = "https://mempool.space/api"
	DefaultTimeout         = 30 * time.Second
	DefaultMaxFailures     = 5
	DefaultMaxResponseBody = 4 << 20
)

// Endpoint groups sharing a rate limit bucket.
const (
	endpointAddress = "address"
	endpointFees    = "fees"
	endpointPrices  = "prices"
	endpointTx      = "tx"
)

// ClientOptions configures a Client. Zero values select the defaults.
type ClientOptions struct {
	BaseURL     string
	APIKey      string
	HTTPClient  *http.Client
	RateLimiter *chain.RateLimiter
	Retry       *chain.RetryConfig
	Metrics     *metrics.Metrics
	MaxFailures uint32 // consecutive failures before the breaker opens
}

// Client queries an Esplora API. It is safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *chain.RateLimiter
	retry      chain.RetryConfig
	metrics    *metrics.Metrics
	breaker    *gobreaker.CircuitBreaker
}

// NewClient creates a client from opts, which may be nil.
func NewClient(opts *ClientOptions) *Client {
	if opts == nil {
		opts = &ClientOptions{}
	}

	c := &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		httpClient: opts.HTTPClient,
		limiter:    opts.RateLimiter,
		retry:      chain.DefaultRetryConfig(),
		metrics:    opts.Metrics,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	if c.limiter == nil {
		c.limiter = chain.DefaultRateLimiter()
	}
	if opts.Retry != nil {
		c.retry = *opts.Retry
	}
	if c.metrics == nil {
		c.metrics = metrics.Global
	}

	maxFailures := opts.MaxFailures
	if maxFailures == 0 {
		maxFailures = DefaultMaxFailures
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: Name,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
	})
	return c
}

// Name implements provider.Provider.
func (c *Client) Name() string { return Name }

// BaseURL returns the API root requests are sent to.
func (c *Client) BaseURL() string { return c.baseURL }

// WithAPIKey returns a copy of the client authenticating with key. The copy
// shares the rate limiter and circuit breaker.
func (c *Client) WithAPIKey(key string) provider.Provider {
	clone := *c
	clone.apiKey = strings.TrimSpace(key)
	return &clone
}

type txoStats struct {
	FundedTxoSum int64 `json:"funded_txo_sum"`
	SpentTxoSum  int64 `json:"spent_txo_sum"`
	TxCount      int64 `json:"tx_count"`
}

type addressResponse struct {
	Address      string   `json:"address"`
	ChainStats   txoStats `json:"chain_stats"`
	MempoolStats txoStats `json:"mempool_stats"`
}

type utxoResponse struct {
	TxID  string `json:"txid"`
	Vout  uint32 `json:"vout"`
	Value int64  `json:"value"`
}

type feesResponse struct {
	FastestFee int64 `json:"fastestFee"`
}

type pricesResponse struct {
	USD decimal.Decimal `json:"USD"`
}

// GetAddressInfo implements provider.Provider. Confirmed and mempool
// activity both count.
func (c *Client) GetAddressInfo(ctx context.Context, address string) (*provider.AddressInfo, error) {
	var resp addressResponse
	if err := c.get(ctx, "GetAddressInfo", endpointAddress, "/address/"+url.PathEscape(address), &resp); err != nil {
		return nil, err
	}

	funded := resp.ChainStats.FundedTxoSum + resp.MempoolStats.FundedTxoSum
	spent := resp.ChainStats.SpentTxoSum + resp.MempoolStats.SpentTxoSum
	return &provider.AddressInfo{
		TxCount: resp.ChainStats.TxCount + resp.MempoolStats.TxCount,
		Balance: funded - spent,
	}, nil
}

// GetUnspentsForAddresses implements provider.Provider.
func (c *Client) GetUnspentsForAddresses(ctx context.Context, addresses []string) ([]provider.Unspent, error) {
	var out []provider.Unspent
	for _, address := range addresses {
		var resp []utxoResponse
		if err := c.get(ctx, "GetUnspentsForAddresses", endpointAddress, "/address/"+url.PathEscape(address)+"/utxo", &resp); err != nil {
			return nil, err
		}
		for _, u := range resp {
			out = append(out, provider.NewUnspent(u.TxID, u.Vout, address, u.Value))
		}
	}
	return out, nil
}

// GetRecoveryFeePerByte implements provider.Provider with the fastest
// recommended rate, so the recovery confirms promptly.
func (c *Client) GetRecoveryFeePerByte(ctx context.Context) (int64, error) {
	var resp feesResponse
	if err := c.get(ctx, "GetRecoveryFeePerByte", endpointFees, "/v1/fees/recommended", &resp); err != nil {
		return 0, err
	}
	if resp.FastestFee <= 0 {
		return 0, provider.RequestFailed(Name, "GetRecoveryFeePerByte",
			fmt.Errorf("non-positive fee rate %d", resp.FastestFee))
	}
	return resp.FastestFee, nil
}

// GetUSDPrice implements provider.Provider. Only bitcoin is priced.
func (c *Client) GetUSDPrice(ctx context.Context, family string) (decimal.Decimal, error) {
	if !strings.EqualFold(family, "btc") {
		return decimal.Zero, provider.NotImplemented(Name, "GetUSDPrice")
	}

	var resp pricesResponse
	if err := c.get(ctx, "GetUSDPrice", endpointPrices, "/v1/prices", &resp); err != nil {
		return decimal.Zero, err
	}
	if !resp.USD.IsPositive() {
		return decimal.Zero, provider.RequestFailed(Name, "GetUSDPrice",
			fmt.Errorf("non-positive price %s", resp.USD))
	}
	return resp.USD, nil
}

// GetTransaction implements provider.TxFetcher from the raw hex endpoint.
func (c *Client) GetTransaction(ctx context.Context, txid string) (*wire.MsgTx, error) {
	var raw string
	if err := c.get(ctx, "GetTransaction", endpointTx, "/tx/"+url.PathEscape(txid)+"/hex", &raw); err != nil {
		return nil, err
	}
	tx, err := provider.DecodeTxHex(raw)
	if err != nil {
		return nil, provider.RequestFailed(Name, "GetTransaction", err)
	}
	return tx, nil
}

// DecodeAndVerifyTransaction implements provider.Provider. Esplora has no
// decode endpoint, so callers fall back to local verification.
func (c *Client) DecodeAndVerifyTransaction(_ context.Context, _ string) (*provider.DecodedTransaction, error) {
	return nil, provider.NotImplemented(Name, "DecodeAndVerifyTransaction")
}

// get performs a rate limited, retried GET through the circuit breaker and
// decodes the JSON response into out. A *string out receives the body as
// text.
func (c *Client) get(ctx context.Context, op, endpoint, path string, out any) error {
	start := time.Now()
	attempt := 0

	_, err := chain.RetryWithConfig(ctx, c.retry, func() (struct{}, error) {
		if attempt > 0 {
			c.metrics.RecordProviderRetry()
		}
		attempt++

		if err := c.limiter.Wait(ctx, endpoint); err != nil {
			return struct{}{}, err
		}
		_, err := c.breaker.Execute(func() (interface{}, error) {
			return nil, c.do(ctx, path, out)
		})
		return struct{}{}, err
	})

	c.metrics.RecordProviderCall(time.Since(start), err)
	if err != nil {
		return provider.RequestFailed(Name, op, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if _, ok := out.(*string); ok {
		req.Header.Set("Accept", "text/plain")
	} else {
		req.Header.Set("Accept", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return chain.WrapRetryable(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		statusErr := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))

		classified := chain.ClassifyStatus(resp.StatusCode)
		if classified == nil {
			return statusErr
		}
		// The retry loop waits out Retry-After instead of backing off.
		return chain.WithRetryAfter(fmt.Errorf("%w: %w", classified, statusErr),
			chain.ParseRetryAfter(resp.Header.Get("Retry-After")))
	}

	body := io.LimitReader(resp.Body, DefaultMaxResponseBody)
	if text, ok := out.(*string); ok {
		raw, err := io.ReadAll(body)
		if err != nil {
			return chain.WrapRetryable(fmt.Errorf("reading response: %w", err))
		}
		*text = string(raw)
		return nil
	}
	if err := json.NewDecoder(body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
