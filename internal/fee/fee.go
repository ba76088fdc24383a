// Package fee estimates the network fee of a recovery transaction and the
// key recovery service fee, and derives the amount that can be recovered.
package fee

import (
	"context"
	"fmt"
	"strconv"

	"github.com/btcsuite/btcwallet/wallet/txsizes"
	"github.com/shopspring/decimal"

	"github.com/mrz1836/keyward/internal/chain"
	kwerr "github.com/mrz1836/keyward/pkg/errors"
)

// Size constants for the virtual size estimate. Every input is charged as
// the largest wallet input and every output as the largest output, so the
// estimate never undershoots.
const (
	// SegwitOverhead is the fixed transaction overhead in vbytes.
	SegwitOverhead = 11

	// MaxInputVSize is a P2SH 2-of-3 spend: outpoint, sequence and a
	// scriptSig with two signatures and the redeem script.
	MaxInputVSize = 299

	// MaxOutputVSize is a value, a script length byte and a P2TR script.
	MaxOutputVSize = 8 + 1 + txsizes.P2TRPkScriptSize

	// DefaultFeePerByte is used when the provider cannot quote a fee rate.
	DefaultFeePerByte = 100
)

// Source quotes fee rates and prices. provider.Provider implements it.
type Source interface {
	GetRecoveryFeePerByte(ctx context.Context) (int64, error)
	GetUSDPrice(ctx context.Context, family string) (decimal.Decimal, error)
}

// Logger is the logging interface used by the estimator.
type Logger interface {
	Debug(format string, args ...any)
	Warn(format string, args ...any)
}

// Breakdown itemizes the fees of one recovery. Amounts are in base units.
type Breakdown struct {
	TotalInput     int64 `json:"totalInput"`
	UnspentCount   int   `json:"unspentCount"`
	OutputCount    int   `json:"outputCount"`
	VirtualSize    int64 `json:"virtualSize"`
	FeePerByte     int64 `json:"feePerByte"`
	NetworkFee     int64 `json:"networkFee"`
	KrsFee         int64 `json:"krsFee"`
	RecoveryAmount int64 `json:"recoveryAmount"`

	// FeeRateFallback is set when DefaultFeePerByte replaced a provider quote.
	FeeRateFallback bool `json:"feeRateFallback"`

	// Warnings lists non-fatal problems met while estimating.
	Warnings []string `json:"warnings,omitempty"`
}

// Details returns the breakdown as error details.
func (b *Breakdown) Details() map[string]string {
	return map[string]string{
		"total_input":     strconv.FormatInt(b.TotalInput, 10),
		"network_fee":     strconv.FormatInt(b.NetworkFee, 10),
		"krs_fee":         strconv.FormatInt(b.KrsFee, 10),
		"recovery_amount": strconv.FormatInt(b.RecoveryAmount, 10),
		"fee_per_byte":    strconv.FormatInt(b.FeePerByte, 10),
		"virtual_size":    strconv.FormatInt(b.VirtualSize, 10),
		"unspent_count":   strconv.Itoa(b.UnspentCount),
	}
}

// EstimateVirtualSize returns the worst-case virtual size of a transaction
// with the given number of inputs and outputs.
func EstimateVirtualSize(inputs, outputs int) int64 {
	return SegwitOverhead + int64(outputs)*MaxOutputVSize + int64(inputs)*MaxInputVSize
}

// KrsFee converts a flat USD fee into base units at the given price:
// round(usd / price * baseFactor).
func KrsFee(usd, price decimal.Decimal, baseFactor int64) (int64, error) {
	if !price.IsPositive() {
		return 0, fmt.Errorf("%w: non-positive price %s", kwerr.ErrInvalidInput, price)
	}
	return usd.Mul(decimal.NewFromInt(baseFactor)).Div(price).Round(0).IntPart(), nil
}

// Estimator computes recovery fees from a provider's quotes.
type Estimator struct {
	source   Source
	fallback int64
	logger   Logger
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithFallbackFeePerByte overrides DefaultFeePerByte.
func WithFallbackFeePerByte(rate int64) Option {
	return func(e *Estimator) {
		if rate > 0 {
			e.fallback = rate
		}
	}
}

// WithLogger sets the estimator logger.
func WithLogger(l Logger) Option {
	return func(e *Estimator) {
		e.logger = l
	}
}

// NewEstimator creates an estimator over a quote source.
func NewEstimator(source Source, opts ...Option) *Estimator {
	e := &Estimator{source: source, fallback: DefaultFeePerByte}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Estimate computes the breakdown for sweeping totalInput across
// unspentCount inputs. A non-nil krs adds the recovery service fee and a
// second output. The fee rate and the USD price degrade to the fallback
// rate and a zero service fee instead of failing.
func (e *Estimator) Estimate(ctx context.Context, coin *chain.Coin, totalInput int64, unspentCount int, krs *KrsProvider) (*Breakdown, error) {
	b := &Breakdown{
		TotalInput:   totalInput,
		UnspentCount: unspentCount,
		OutputCount:  1,
	}
	if krs != nil {
		b.OutputCount = 2
	}

	b.FeePerByte = e.feePerByte(ctx, b)
	b.VirtualSize = EstimateVirtualSize(unspentCount, b.OutputCount)
	b.NetworkFee = b.VirtualSize * b.FeePerByte

	if krs != nil {
		if err := krs.CheckFeeType(); err != nil {
			return nil, err
		}
		b.KrsFee = e.krsFee(ctx, coin, krs, b)
	}

	b.RecoveryAmount = totalInput - b.NetworkFee - b.KrsFee
	if b.RecoveryAmount < 0 {
		return nil, kwerr.WithSuggestion(
			kwerr.WithDetails(kwerr.ErrInsufficientRecoveryBalance, b.Details()),
			"the wallet balance does not cover the recovery fees",
		)
	}

	e.debug("fee: vsize=%d rate=%d network=%d krs=%d recover=%d",
		b.VirtualSize, b.FeePerByte, b.NetworkFee, b.KrsFee, b.RecoveryAmount)
	return b, nil
}

func (e *Estimator) feePerByte(ctx context.Context, b *Breakdown) int64 {
	rate, err := e.source.GetRecoveryFeePerByte(ctx)
	if err == nil && rate > 0 {
		return rate
	}
	b.FeeRateFallback = true
	if err != nil && !kwerr.Is(err, kwerr.ErrProviderNotImplemented) {
		e.warn(b, fmt.Sprintf("fee rate lookup failed, using %d per byte: %v", e.fallback, err))
	}
	return e.fallback
}

// krsFee returns zero when the price cannot be obtained. Recovery proceeds
// without the service fee in that case; the warning is the only trace.
func (e *Estimator) krsFee(ctx context.Context, coin *chain.Coin, krs *KrsProvider, b *Breakdown) int64 {
	if krs.FeeAmount.IsZero() {
		return 0
	}
	price, err := e.source.GetUSDPrice(ctx, coin.Family)
	if err != nil {
		e.warn(b, fmt.Sprintf("USD price lookup for %s failed, %s fee not charged: %v", coin.Family, krs.Name, err))
		return 0
	}
	fee, err := KrsFee(krs.FeeAmount, price, coin.BaseFactor)
	if err != nil {
		e.warn(b, fmt.Sprintf("%s fee not charged: %v", krs.Name, err))
		return 0
	}
	return fee
}

func (e *Estimator) warn(b *Breakdown, msg string) {
	b.Warnings = append(b.Warnings, msg)
	if e.logger != nil {
		e.logger.Warn("%s", msg)
	}
}

func (e *Estimator) debug(format string, args ...any) {
	if e.logger != nil {
		e.logger.Debug(format, args...)
	}
}
