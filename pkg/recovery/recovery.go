// Package recovery moves the funds of a 2-of-3 multisig wallet to a
// destination of the owner's choosing without the custodial co-signer.
//
// The engine resolves the three root keys into a signing policy, scans the
// wallet's derivation chains for unspents, prices the sweep and then builds
// and signs the recovery transaction. The policy decides how far signing
// goes:
//
//   - fullSigned: user and backup keys are private. The transaction is
//     signed by both, finalized and verified.
//   - krsAssisted: a key recovery service holds the backup key. The user
//     signs and the half-signed PSBT is returned for the service to complete.
//   - unsignedSweep: both keys are public. An unsigned offline signing
//     bundle is returned.
package recovery

import (
	"context"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/wire"

	"github.com/mrz1836/keyward/internal/chain"
	"github.com/mrz1836/keyward/internal/config"
	"github.com/mrz1836/keyward/internal/discovery"
	"github.com/mrz1836/keyward/internal/fee"
	"github.com/mrz1836/keyward/internal/metrics"
	"github.com/mrz1836/keyward/internal/provider"
	"github.com/mrz1836/keyward/internal/txbuilder"
	"github.com/mrz1836/keyward/internal/wallet"
	kwerr "github.com/mrz1836/keyward/pkg/errors"
)

// Logger is the logging interface used by the engine. *config.Logger
// implements it.
type Logger interface {
	Debug(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Params is one recovery request.
type Params struct {
	UserKey   string // xprv, encrypted xprv, or xpub
	BackupKey string // xprv, encrypted xprv, or xpub
	BitGoKey  string // xpub of the custodial co-signer

	RecoveryDestination string
	WalletPassphrase    string

	// Scan is the gap limit. Zero selects discovery.DefaultGapLimit.
	Scan int

	// IgnoreAddressTypes names script types to skip, e.g. "p2tr".
	IgnoreAddressTypes []string

	// KrsProvider names the key recovery service. Required for krsAssisted
	// recoveries and ignored otherwise.
	KrsProvider string

	// UserKeyPath overrides the user key derivation prefix (default m/0/0).
	UserKeyPath string

	// APIKey is passed to providers that accept one.
	APIKey string
}

// VerificationStatus reports how the signed transaction was checked.
type VerificationStatus string

// Verification outcomes.
const (
	// VerificationNotApplicable is reported when nothing final was produced.
	VerificationNotApplicable VerificationStatus = "notApplicable"

	// VerificationVerified means the provider decoded the same txid.
	VerificationVerified VerificationStatus = "verified"

	// VerificationSkipped means the provider could not verify; check the
	// transaction manually before broadcasting.
	VerificationSkipped VerificationStatus = "skipped"
)

// Verification is the outcome of third-party verification.
type Verification struct {
	Status        VerificationStatus `json:"status"`
	Provider      string             `json:"provider,omitempty"`
	TransactionID string             `json:"transactionId,omitempty"`
}

// Result is a recovery ready to broadcast, to hand to a key recovery
// service, or to sign offline.
type Result struct {
	Coin   string        `json:"coin"`
	Policy wallet.Policy `json:"policy"`

	// TxHex is the signed transaction for fullSigned and the unsigned
	// transaction otherwise.
	TxHex string `json:"txHex"`
	TxID  string `json:"txid"`

	// PSBT carries the partial signatures of a krsAssisted recovery and the
	// derivations of every policy.
	PSBT string `json:"psbt"`

	// Bundle is set for unsignedSweep.
	Bundle *txbuilder.Bundle `json:"bundle,omitempty"`

	Unspents         []discovery.WalletUnspent `json:"-"`
	Outputs          []txbuilder.Output        `json:"outputs"`
	Fees             *fee.Breakdown            `json:"fees"`
	AddressesScanned int                       `json:"addressesScanned"`
	Verification     Verification              `json:"verification"`
	Warnings         []string                  `json:"warnings,omitempty"`

	// Transaction is the underlying transaction in its final signing state.
	Transaction *txbuilder.Transaction `json:"-"`
}

// Complete reports whether the transaction carries every signature it needs.
func (r *Result) Complete() bool {
	return r.Transaction != nil && r.Transaction.IsFinal()
}

// Engine runs recoveries for one coin against one provider. It holds no
// state between calls and is safe for concurrent use.
type Engine struct {
	coin        *chain.Coin
	provider    provider.Provider
	logger      Logger
	metrics     *metrics.Metrics
	krsTable    map[string]fee.KrsProvider
	fallbackFee int64
	maxWorkers  int
	progress    discovery.ProgressCallback
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics records into m instead of metrics.Global.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithKrsProviders replaces the built-in key recovery service table.
func WithKrsProviders(table map[string]fee.KrsProvider) Option {
	return func(e *Engine) {
		if table != nil {
			e.krsTable = table
		}
	}
}

// WithFallbackFeePerByte sets the rate used when the provider has none.
func WithFallbackFeePerByte(rate int64) Option {
	return func(e *Engine) {
		e.fallbackFee = rate
	}
}

// WithMaxWorkers bounds the number of chains scanned at once.
func WithMaxWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxWorkers = n
		}
	}
}

// WithProgress receives discovery progress.
func WithProgress(cb discovery.ProgressCallback) Option {
	return func(e *Engine) {
		e.progress = cb
	}
}

// WithConfig applies the discovery, fee and key recovery service settings
// of a loaded configuration.
func WithConfig(cfg *config.Config) Option {
	return func(e *Engine) {
		if cfg == nil {
			return
		}
		WithMaxWorkers(cfg.Discovery.MaxWorkers)(e)
		WithFallbackFeePerByte(cfg.Fees.FallbackPerByte)(e)
		WithKrsProviders(cfg.KrsTable())(e)
	}
}

// New creates an engine for coin backed by p.
func New(coin *chain.Coin, p provider.Provider, opts ...Option) (*Engine, error) {
	if coin == nil {
		return nil, kwerr.WithDetails(kwerr.ErrInvalidInput, map[string]string{"field": "coin"})
	}
	if p == nil {
		return nil, kwerr.WithDetails(kwerr.ErrInvalidInput, map[string]string{"field": "provider"})
	}

	e := &Engine{
		coin:        coin,
		provider:    p,
		logger:      config.NullLogger(),
		metrics:     metrics.Global,
		krsTable:    fee.DefaultKrsProviders(),
		fallbackFee: fee.DefaultFeePerByte,
		maxWorkers:  discovery.DefaultMaxWorkers,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Coin returns the coin the engine recovers.
func (e *Engine) Coin() *chain.Coin {
	return e.coin
}

// plan is the validated request, fixed before any network access.
type plan struct {
	keys       *wallet.RootKeys
	policy     wallet.Policy
	gapLimit   int
	codes      []discovery.ChainCode
	krs        *fee.KrsProvider
	feeAddress string
}

// Recover runs a recovery. Key and parameter problems are reported before
// the provider is contacted. Provider failures abort the recovery, except a
// missing USD price, which drops the service fee, and an unavailable
// verifier, which only adds a warning.
func (e *Engine) Recover(ctx context.Context, params Params) (res *Result, err error) {
	var policy wallet.Policy
	defer func() {
		e.metrics.RecordRecovery(policy.String(), err)
		if err != nil {
			e.logger.Error("recovery (%s, %s) failed: %v", e.coin.ID, policy, err)
		}
	}()

	p, err := e.prepare(params)
	if err != nil {
		return nil, err
	}
	defer p.keys.Zero()
	policy = p.policy

	prov := e.provider
	if keyed, ok := prov.(provider.KeyedProvider); ok && strings.TrimSpace(params.APIKey) != "" {
		prov = keyed.WithAPIKey(params.APIKey)
	}

	e.logger.Debug("recovery: coin=%s policy=%s chains=%d gap=%d provider=%s",
		e.coin.ID, p.policy, len(p.codes), p.gapLimit, prov.Name())

	found, err := e.discover(ctx, prov, p)
	if err != nil {
		return nil, err
	}

	breakdown, err := fee.NewEstimator(prov,
		fee.WithFallbackFeePerByte(e.fallbackFee),
		fee.WithLogger(e.logger),
	).Estimate(ctx, e.coin, found.TotalValue, len(found.Unspents), p.krs)
	if err != nil {
		return nil, err
	}

	prevTxs, prevWarnings, err := e.previousTransactions(ctx, prov, found.Unspents)
	if err != nil {
		return nil, err
	}

	tx, err := txbuilder.Build(txbuilder.Params{
		Coin:        e.coin,
		Unspents:    found.Unspents,
		Keys:        p.keys,
		Destination: params.RecoveryDestination,
		Amount:      breakdown.RecoveryAmount,
		FeeAddress:  p.feeAddress,
		FeeAmount:   breakdown.KrsFee,
		PrevTxs:     prevTxs,
	})
	if err != nil {
		return nil, err
	}

	res = &Result{
		Coin:             e.coin.ID.String(),
		Policy:           p.policy,
		Unspents:         found.Unspents,
		Outputs:          tx.Outputs(),
		Fees:             breakdown,
		AddressesScanned: found.AddressesScanned,
		Verification:     Verification{Status: VerificationNotApplicable},
		Warnings:         append(append([]string(nil), breakdown.Warnings...), prevWarnings...),
		Transaction:      tx,
	}

	if err = signForPolicy(tx, p.keys, p.policy); err != nil {
		return nil, err
	}
	if err = e.export(tx, res); err != nil {
		return nil, err
	}

	if p.policy == wallet.PolicyFullSigned {
		if err = tx.Verify(); err != nil {
			return nil, err
		}
		if err = e.verify(ctx, prov, res); err != nil {
			return nil, err
		}
	}

	e.logger.Debug("recovery: %s txid=%s inputs=%d recover=%d fee=%d krs=%d",
		p.policy, res.TxID, len(res.Unspents), breakdown.RecoveryAmount, breakdown.NetworkFee, breakdown.KrsFee)
	return res, nil
}

// prepare validates everything that can be checked offline.
func (e *Engine) prepare(params Params) (*plan, error) {
	if _, err := e.coin.DecodeAddress(strings.TrimSpace(params.RecoveryDestination)); err != nil {
		return nil, kwerr.WithDetails(kwerr.WithCause(kwerr.ErrInvalidDestinationAddress, err), map[string]string{
			"address": params.RecoveryDestination,
			"coin":    e.coin.ID.String(),
		})
	}

	gap, err := gapLimit(params.Scan)
	if err != nil {
		return nil, err
	}

	ignore, err := discovery.ParseScriptTypes(params.IgnoreAddressTypes)
	if err != nil {
		return nil, err
	}
	codes := discovery.Enumerate(e.coin, ignore)
	if len(codes) == 0 {
		return nil, kwerr.WithSuggestion(
			kwerr.WithDetails(kwerr.ErrInvalidInput, map[string]string{
				"field": "ignoreAddressTypes",
				"coin":  e.coin.ID.String(),
			}),
			"every address type of the coin is ignored",
		)
	}

	keys, policy, err := wallet.Resolve(wallet.KeyInput{
		UserKey:     params.UserKey,
		BackupKey:   params.BackupKey,
		BitGoKey:    params.BitGoKey,
		Passphrase:  params.WalletPassphrase,
		UserKeyPath: params.UserKeyPath,
	})
	if err != nil {
		return nil, err
	}

	p := &plan{keys: keys, policy: policy, gapLimit: gap, codes: codes}
	if policy == wallet.PolicyKrsAssisted {
		if err := e.resolveKrs(params.KrsProvider, p); err != nil {
			keys.Zero()
			return nil, err
		}
	}
	return p, nil
}

func gapLimit(scan int) (int, error) {
	switch {
	case scan < 0:
		return 0, kwerr.WithDetails(kwerr.ErrInvalidScanParameter,
			map[string]string{"value": fmt.Sprint(scan)})
	case scan == 0:
		return discovery.DefaultGapLimit, nil
	default:
		return scan, nil
	}
}

func (e *Engine) resolveKrs(name string, p *plan) error {
	krs, err := fee.LookupKrsProvider(e.krsTable, strings.TrimSpace(name))
	if err != nil {
		return err
	}
	if !krs.SupportsCoin(e.coin.ID.String()) {
		return kwerr.WithDetails(kwerr.ErrUnsupportedProvider, map[string]string{
			"provider": krs.Name,
			"coin":     e.coin.ID.String(),
		})
	}
	if err := krs.CheckFeeType(); err != nil {
		return err
	}
	addr, err := krs.FeeAddress(e.coin.ID.String())
	if err != nil {
		return err
	}
	if _, err := e.coin.DecodeAddress(addr); err != nil {
		return kwerr.WithDetails(kwerr.WithCause(kwerr.ErrConfigInvalid, err), map[string]string{
			"provider": krs.Name,
			"coin":     e.coin.ID.String(),
			"address":  addr,
		})
	}

	p.krs = &krs
	p.feeAddress = addr
	return nil
}

func (e *Engine) discover(ctx context.Context, prov provider.Provider, p *plan) (*discovery.Result, error) {
	scanner := discovery.NewScanner(prov, p.keys, e.coin, &discovery.Options{
		GapLimit:         p.gapLimit,
		MaxWorkers:       e.maxWorkers,
		ProgressCallback: e.progress,
		Logger:           e.logger,
		Metrics:          e.metrics,
	})

	found, err := scanner.Scan(ctx, p.codes)
	if err != nil {
		return nil, err
	}
	if !found.HasFunds() {
		return nil, kwerr.WithDetails(kwerr.ErrNoFundsFound, map[string]string{
			"coin":              e.coin.ID.String(),
			"addresses_scanned": fmt.Sprint(found.AddressesScanned),
			"gap_limit":         fmt.Sprint(p.gapLimit),
		})
	}
	return found, nil
}

// previousTransactions fetches the funding transactions of legacy p2sh
// unspents when the provider serves them, so offline signers that insist on
// a full previous transaction can sign those inputs. A provider without the
// capability is skipped quietly; a failed lookup only adds a warning.
func (e *Engine) previousTransactions(ctx context.Context, prov provider.Provider, unspents []discovery.WalletUnspent) (map[string]*wire.MsgTx, []string, error) {
	fetcher, ok := prov.(provider.TxFetcher)
	if !ok {
		return nil, nil, nil
	}

	prevTxs := make(map[string]*wire.MsgTx)
	var warnings []string
	for _, u := range unspents {
		if u.Derived == nil || u.Derived.ScriptType.IsSegwit() {
			continue
		}
		if _, done := prevTxs[u.TxID]; done {
			continue
		}

		prev, err := fetcher.GetTransaction(ctx, u.TxID)
		if err == nil && (prev == nil || prev.TxHash().String() != u.TxID) {
			err = fmt.Errorf("%s returned a different transaction", prov.Name())
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, nil, ctxErr
			}
			if kwerr.Is(err, kwerr.ErrProviderNotImplemented) {
				e.logger.Debug("recovery: %s does not serve previous transactions", prov.Name())
				return nil, nil, nil
			}
			msg := fmt.Sprintf("previous transaction %s unavailable (%v); its p2sh input carries only the spent output", u.TxID, err)
			warnings = append(warnings, msg)
			e.logger.Warn("%s", msg)
			prevTxs[u.TxID] = nil
			continue
		}
		prevTxs[u.TxID] = prev
	}
	return prevTxs, warnings, nil
}

// signForPolicy signs in the only valid order: the user key first, then,
// when the backup key is held, the backup key finalizing.
func signForPolicy(tx *txbuilder.Transaction, keys *wallet.RootKeys, policy wallet.Policy) error {
	if !policy.SignsWithUser() {
		return nil
	}
	if err := tx.Sign(keys, wallet.RoleUser, false); err != nil {
		return kwerr.WithDetails(kwerr.WithCause(kwerr.ErrInvalidTransaction, err),
			map[string]string{"role": wallet.RoleUser.String()})
	}
	if !policy.SignsWithBackup() {
		return nil
	}
	if err := tx.Sign(keys, wallet.RoleBackup, true); err != nil {
		return kwerr.WithDetails(kwerr.WithCause(kwerr.ErrInvalidTransaction, err),
			map[string]string{"role": wallet.RoleBackup.String()})
	}
	return nil
}

func (e *Engine) export(tx *txbuilder.Transaction, res *Result) error {
	var err error
	if tx.IsFinal() {
		res.TxHex, err = tx.Hex()
	} else {
		res.TxHex, err = tx.UnsignedHex()
	}
	if err != nil {
		return kwerr.WithCause(kwerr.ErrInvalidTransaction, err)
	}
	res.TxID = tx.TxID()

	if res.PSBT, err = tx.PSBTBase64(); err != nil {
		return kwerr.WithCause(kwerr.ErrInvalidTransaction, err)
	}

	if res.Policy == wallet.PolicyUnsignedSweep {
		if res.Bundle, err = tx.Bundle(); err != nil {
			return err
		}
	}
	return nil
}

// verify asks the provider to decode the signed transaction and compares
// txids. Only a disagreement is fatal.
func (e *Engine) verify(ctx context.Context, prov provider.Provider, res *Result) error {
	decoded, err := prov.DecodeAndVerifyTransaction(ctx, res.TxHex)
	if err != nil {
		reason := "cannot decode transactions"
		if !kwerr.Is(err, kwerr.ErrProviderNotImplemented) {
			reason = fmt.Sprintf("verification failed: %v", err)
		}
		msg := fmt.Sprintf("%s %s; verify transaction %s yourself before broadcasting", prov.Name(), reason, res.TxID)
		res.Warnings = append(res.Warnings, msg)
		res.Verification = Verification{Status: VerificationSkipped, Provider: prov.Name()}
		e.logger.Warn("%s", msg)
		return nil
	}

	if decoded == nil || decoded.TransactionID != res.TxID {
		reported := ""
		if decoded != nil {
			reported = decoded.TransactionID
		}
		return kwerr.WithDetails(kwerr.ErrRecoveryVerification, map[string]string{
			"provider": prov.Name(),
			"expected": res.TxID,
			"reported": reported,
		})
	}

	res.Verification = Verification{
		Status:        VerificationVerified,
		Provider:      prov.Name(),
		TransactionID: decoded.TransactionID,
	}
	return nil
}
