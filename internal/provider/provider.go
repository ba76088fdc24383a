// Package provider defines the blockchain data and price source consulted
// during a recovery, and the records it returns.
package provider

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/wire"
	"github.com/shopspring/decimal"

	kwerr "github.com/mrz1836/keyward/pkg/errors"
)

// AddressInfo summarizes an address's on-chain history.
type AddressInfo struct {
	TxCount int64 // confirmed and unconfirmed transactions touching the address
	Balance int64 // base units
}

// Unspent is an unspent output as reported by a provider.
type Unspent struct {
	ID      string // "txid:vout"
	TxID    string
	Vout    uint32
	Address string
	Value   int64 // base units
}

// NewUnspent builds an Unspent with its ID filled in.
func NewUnspent(txid string, vout uint32, address string, value int64) Unspent {
	return Unspent{
		ID:      OutpointID(txid, vout),
		TxID:    txid,
		Vout:    vout,
		Address: address,
		Value:   value,
	}
}

// OutpointID formats an outpoint as "txid:vout".
func OutpointID(txid string, vout uint32) string {
	return txid + ":" + strconv.FormatUint(uint64(vout), 10)
}

// ParseOutpointID splits "txid:vout".
func ParseOutpointID(id string) (string, uint32, error) {
	txid, voutStr, ok := strings.Cut(id, ":")
	if !ok || txid == "" {
		return "", 0, fmt.Errorf("%w: outpoint %q", kwerr.ErrInvalidInput, id)
	}
	vout, err := strconv.ParseUint(voutStr, 10, 32)
	if err != nil {
		return "", 0, fmt.Errorf("%w: outpoint %q", kwerr.ErrInvalidInput, id)
	}
	return txid, uint32(vout), nil
}

// DecodedTransaction is the provider's view of a raw transaction.
type DecodedTransaction struct {
	TransactionID string
}

// Provider is a blockchain data and price source. Implementations must be
// safe for concurrent use; discovery queries several chains at once.
type Provider interface {
	// Name identifies the provider in errors and logs.
	Name() string

	// GetAddressInfo returns the transaction count and balance of an address.
	GetAddressInfo(ctx context.Context, address string) (*AddressInfo, error)

	// GetUnspentsForAddresses returns the unspent outputs of the addresses.
	GetUnspentsForAddresses(ctx context.Context, addresses []string) ([]Unspent, error)

	// GetRecoveryFeePerByte returns a fee rate in base units per virtual byte.
	// May return ErrProviderNotImplemented.
	GetRecoveryFeePerByte(ctx context.Context) (int64, error)

	// GetUSDPrice returns the USD price of one whole coin of the family.
	GetUSDPrice(ctx context.Context, family string) (decimal.Decimal, error)

	// DecodeAndVerifyTransaction decodes a raw signed transaction.
	// May return ErrProviderNotImplemented.
	DecodeAndVerifyTransaction(ctx context.Context, rawTxHex string) (*DecodedTransaction, error)
}

// TxFetcher is implemented by providers that serve raw transactions. The
// recovery uses it to attach full previous transactions to legacy p2sh
// inputs.
type TxFetcher interface {
	// GetTransaction returns the transaction with the given id.
	GetTransaction(ctx context.Context, txid string) (*wire.MsgTx, error)
}

// KeyedProvider is implemented by providers that accept an API key.
type KeyedProvider interface {
	Provider

	// WithAPIKey returns a copy of the provider authenticating with key.
	WithAPIKey(key string) Provider
}

// NotImplemented returns the error a provider gives for an unsupported operation.
func NotImplemented(providerName, operation string) error {
	return kwerr.WithDetails(kwerr.ErrProviderNotImplemented, map[string]string{
		"provider":  providerName,
		"operation": operation,
	})
}

// RequestFailed wraps a provider failure so it carries the request-failure code.
// Errors already classified as provider errors pass through unchanged.
func RequestFailed(providerName, operation string, cause error) error {
	if cause == nil {
		return nil
	}
	if kwerr.Is(cause, kwerr.ErrProviderRequest) || kwerr.Is(cause, kwerr.ErrProviderNotImplemented) {
		return cause
	}
	return kwerr.WithDetails(kwerr.WithCause(kwerr.ErrProviderRequest, cause), map[string]string{
		"provider":  providerName,
		"operation": operation,
	})
}

// DecodeTxHex parses a hex-encoded serialized transaction.
func DecodeTxHex(rawTxHex string) (*wire.MsgTx, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(rawTxHex))
	if err != nil {
		return nil, fmt.Errorf("%w: transaction hex: %w", kwerr.ErrInvalidTransaction, err)
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("%w: %w", kwerr.ErrInvalidTransaction, err)
	}
	return tx, nil
}
