package fee

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/shopspring/decimal"

	kwerr "github.com/mrz1836/keyward/pkg/errors"
)

// FeeTypeFlatUSD charges a fixed USD amount per recovery.
const FeeTypeFlatUSD = "flatUsd"

// KrsProvider is the fee schedule of a key recovery service.
type KrsProvider struct {
	Name           string
	FeeType        string
	FeeAmount      decimal.Decimal // USD for flatUsd
	SupportedCoins []string
	FeeAddresses   map[string]string // coin id -> address
}

// DefaultKrsProviders returns the built-in provider table. Fee addresses are
// deployment configuration and start out empty.
func DefaultKrsProviders() map[string]KrsProvider {
	return map[string]KrsProvider{
		"keyternal": {
			Name:           "keyternal",
			FeeType:        FeeTypeFlatUSD,
			FeeAmount:      decimal.NewFromInt(99),
			SupportedCoins: []string{"btc", "tbtc"},
			FeeAddresses:   map[string]string{},
		},
		"bitgoKRSv2": {
			Name:           "bitgoKRSv2",
			FeeType:        FeeTypeFlatUSD,
			FeeAmount:      decimal.NewFromInt(100),
			SupportedCoins: []string{"btc", "tbtc"},
			FeeAddresses:   map[string]string{},
		},
		"dai": {
			Name:           "dai",
			FeeType:        FeeTypeFlatUSD,
			FeeAmount:      decimal.NewFromInt(0),
			SupportedCoins: []string{"btc", "tbtc", "ltc", "doge"},
			FeeAddresses:   map[string]string{},
		},
	}
}

// LookupKrsProvider finds a provider by name. An unknown name suggests the
// closest configured one.
func LookupKrsProvider(table map[string]KrsProvider, name string) (KrsProvider, error) {
	if p, ok := table[name]; ok {
		if p.Name == "" {
			p.Name = name
		}
		return p, nil
	}

	err := kwerr.WithDetails(kwerr.ErrUnsupportedProvider, map[string]string{"provider": name})
	if s := closestName(table, name); s != "" {
		err = kwerr.WithSuggestion(err, "did you mean "+s+"?")
	}
	return KrsProvider{}, err
}

// SupportsCoin reports whether the provider serves a coin.
func (p KrsProvider) SupportsCoin(coin string) bool {
	for _, c := range p.SupportedCoins {
		if strings.EqualFold(c, coin) {
			return true
		}
	}
	return false
}

// FeeAddress returns the provider's fee address for a coin.
func (p KrsProvider) FeeAddress(coin string) (string, error) {
	addr := strings.TrimSpace(p.FeeAddresses[coin])
	if addr == "" {
		return "", kwerr.WithDetails(kwerr.ErrUnconfiguredFeeAddress, map[string]string{
			"provider": p.Name,
			"coin":     coin,
		})
	}
	return addr, nil
}

// CheckFeeType fails for fee types that cannot be computed.
func (p KrsProvider) CheckFeeType() error {
	if p.FeeType != FeeTypeFlatUSD {
		return kwerr.WithDetails(kwerr.ErrUnsupportedFeeType, map[string]string{
			"provider": p.Name,
			"fee_type": p.FeeType,
		})
	}
	return nil
}

func closestName(table map[string]KrsProvider, name string) string {
	const maxDistance = 3
	names := make([]string, 0, len(table))
	for n := range table {
		names = append(names, n)
	}
	sort.Strings(names)

	best, bestDist := "", maxDistance+1
	for _, n := range names {
		d := levenshtein.ComputeDistance(strings.ToLower(name), strings.ToLower(n))
		if d < bestDist {
			best, bestDist = n, d
		}
	}
	return best
}
