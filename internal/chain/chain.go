// Package chain provides coin capability descriptors and common utilities
// shared by the recovery components.
package chain

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"

	kwerr "github.com/mrz1836/keyward/pkg/errors"
)

// ID identifies a supported UTXO coin.
type ID string

// Supported coin identifiers.
const (
	BTC     ID = "btc"
	TBTC    ID = "tbtc"
	TBTCSig ID = "tbtcsig"
	LTC     ID = "ltc"
	DOGE    ID = "doge"
)

// String returns the coin identifier string.
func (id ID) String() string {
	return string(id)
}

// ScriptType names a wallet output script type.
type ScriptType string

// Wallet script types in canonical discovery order.
const (
	ScriptP2SH       ScriptType = "p2sh"
	ScriptP2SHP2WSH  ScriptType = "p2shP2wsh"
	ScriptP2WSH      ScriptType = "p2wsh"
	ScriptP2TR       ScriptType = "p2tr"
	ScriptP2TRMusig2 ScriptType = "p2trMusig2"
)

// AllScriptTypes returns every script type in canonical order.
func AllScriptTypes() []ScriptType {
	return []ScriptType{ScriptP2SH, ScriptP2SHP2WSH, ScriptP2WSH, ScriptP2TR, ScriptP2TRMusig2}
}

// IsTaproot returns true for the script types spent through a tapscript leaf.
func (s ScriptType) IsTaproot() bool {
	return s == ScriptP2TR || s == ScriptP2TRMusig2
}

// IsSegwit returns true if spending the script type produces witness data.
func (s ScriptType) IsSegwit() bool {
	return s != ScriptP2SH
}

// ErrUnsupportedCoin indicates the coin has no descriptor.
var ErrUnsupportedCoin = &kwerr.KeywardError{
	Code:     "UNSUPPORTED_COIN",
	Message:  "unsupported coin",
	ExitCode: kwerr.ExitInput,
}

// Coin describes what a UTXO coin supports. Recovery components consult the
// descriptor instead of branching on the coin identifier.
type Coin struct {
	ID          ID
	Family      string // price lookup key shared by mainnet and test networks
	Params      *chaincfg.Params
	ScriptTypes []ScriptType
	BaseFactor  int64 // base units per whole coin
	DustLimit   int64 // smallest relayable output in base units
}

// Supports returns true if the coin can derive addresses of the script type.
func (c *Coin) Supports(s ScriptType) bool {
	for _, st := range c.ScriptTypes {
		if st == s {
			return true
		}
	}
	return false
}

// SupportsSegwit returns true if any supported script type carries a witness.
func (c *Coin) SupportsSegwit() bool {
	for _, st := range c.ScriptTypes {
		if st.IsSegwit() {
			return true
		}
	}
	return false
}

//nolint:gochecknoglobals // Network parameters are immutable after init
var (
	// LitecoinParams are the Litecoin mainnet address parameters.
	LitecoinParams = func() chaincfg.Params {
		p := chaincfg.MainNetParams
		p.Name = "litecoin"
		p.Net = 0xdbb6c0fb
		p.Bech32HRPSegwit = "ltc"
		p.PubKeyHashAddrID = 0x30
		p.ScriptHashAddrID = 0x32
		p.PrivateKeyID = 0xb0
		p.HDCoinType = 2
		return p
	}()

	// DogecoinParams are the Dogecoin mainnet address parameters.
	DogecoinParams = func() chaincfg.Params {
		p := chaincfg.MainNetParams
		p.Name = "dogecoin"
		p.Net = 0xc0c0c0c0
		p.Bech32HRPSegwit = ""
		p.PubKeyHashAddrID = 0x1e
		p.ScriptHashAddrID = 0x16
		p.PrivateKeyID = 0x9e
		p.HDCoinType = 3
		return p
	}()

	coins = map[ID]*Coin{
		BTC: {
			ID: BTC, Family: "btc", Params: &chaincfg.MainNetParams,
			ScriptTypes: AllScriptTypes(), BaseFactor: 1e8, DustLimit: 546,
		},
		TBTC: {
			ID: TBTC, Family: "btc", Params: &chaincfg.TestNet3Params,
			ScriptTypes: AllScriptTypes(), BaseFactor: 1e8, DustLimit: 546,
		},
		TBTCSig: {
			ID: TBTCSig, Family: "btc", Params: &chaincfg.SigNetParams,
			ScriptTypes: AllScriptTypes(), BaseFactor: 1e8, DustLimit: 546,
		},
		LTC: {
			ID: LTC, Family: "ltc", Params: &LitecoinParams,
			ScriptTypes: []ScriptType{ScriptP2SH, ScriptP2SHP2WSH, ScriptP2WSH},
			BaseFactor:  1e8, DustLimit: 5460,
		},
		DOGE: {
			ID: DOGE, Family: "doge", Params: &DogecoinParams,
			ScriptTypes: []ScriptType{ScriptP2SH},
			BaseFactor:  1e8, DustLimit: 1000000,
		},
	}
)

//nolint:gochecknoinits // Address decoding needs the custom networks registered
func init() {
	for _, p := range []*chaincfg.Params{&LitecoinParams, &DogecoinParams} {
		if err := chaincfg.Register(p); err != nil && !errors.Is(err, chaincfg.ErrDuplicateNet) {
			panic(fmt.Sprintf("register %s params: %v", p.Name, err))
		}
	}
}

// Lookup returns the descriptor for a coin identifier.
func Lookup(id string) (*Coin, error) {
	c, ok := coins[ID(strings.ToLower(strings.TrimSpace(id)))]
	if !ok {
		return nil, kwerr.WithDetails(ErrUnsupportedCoin, map[string]string{
			"coin":      id,
			"supported": strings.Join(SupportedCoins(), ", "),
		})
	}
	return c, nil
}

// MustLookup is Lookup for identifiers known at compile time.
func MustLookup(id ID) *Coin {
	c, err := Lookup(string(id))
	if err != nil {
		panic(err)
	}
	return c
}

// SupportedCoins returns the sorted list of coin identifiers.
func SupportedCoins() []string {
	ids := make([]string, 0, len(coins))
	for id := range coins {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	return ids
}
