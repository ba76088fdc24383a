package discovery

import (
	"strconv"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/mrz1836/keyward/internal/chain"
	kwerr "github.com/mrz1836/keyward/pkg/errors"
)

// ChainCode selects a script type and its external or internal branch.
// It is the fourth component of every wallet derivation path.
type ChainCode uint32

// Chain codes per script type. Internal (change) codes are external + 1.
const (
	ChainP2SHExternal       ChainCode = 0
	ChainP2SHInternal       ChainCode = 1
	ChainP2SHP2WSHExternal  ChainCode = 10
	ChainP2SHP2WSHInternal  ChainCode = 11
	ChainP2WSHExternal      ChainCode = 20
	ChainP2WSHInternal      ChainCode = 21
	ChainP2TRExternal       ChainCode = 30
	ChainP2TRInternal       ChainCode = 31
	ChainP2TRMusig2External ChainCode = 40
	ChainP2TRMusig2Internal ChainCode = 41
)

//nolint:gochecknoglobals // Static lookup table
var externalCodes = map[chain.ScriptType]ChainCode{
	chain.ScriptP2SH:       ChainP2SHExternal,
	chain.ScriptP2SHP2WSH:  ChainP2SHP2WSHExternal,
	chain.ScriptP2WSH:      ChainP2WSHExternal,
	chain.ScriptP2TR:       ChainP2TRExternal,
	chain.ScriptP2TRMusig2: ChainP2TRMusig2External,
}

// ChainCodesFor returns the external and internal chain codes of a script type.
func ChainCodesFor(st chain.ScriptType) (ChainCode, ChainCode, bool) {
	ext, ok := externalCodes[st]
	if !ok {
		return 0, 0, false
	}
	return ext, ext + 1, true
}

// ScriptType returns the script type the code belongs to, or "" for an
// unknown code.
func (c ChainCode) ScriptType() chain.ScriptType {
	ext := c - c%2
	for st, code := range externalCodes {
		if code == ext {
			return st
		}
	}
	return ""
}

// IsInternal reports whether the code is a change branch.
func (c ChainCode) IsInternal() bool {
	return c%2 == 1
}

func (c ChainCode) String() string {
	return strconv.FormatUint(uint64(c), 10)
}

// Enumerate returns the chain codes to scan for a coin, external then
// internal per script type, in canonical script-type order. Script types the
// coin does not support or that are ignored are left out.
func Enumerate(coin *chain.Coin, ignore []chain.ScriptType) []ChainCode {
	skip := make(map[chain.ScriptType]bool, len(ignore))
	for _, st := range ignore {
		skip[st] = true
	}

	codes := make([]ChainCode, 0, 2*len(coin.ScriptTypes))
	for _, st := range chain.AllScriptTypes() {
		if skip[st] || !coin.Supports(st) {
			continue
		}
		ext, internal, _ := ChainCodesFor(st)
		codes = append(codes, ext, internal)
	}
	return codes
}

// ParseScriptTypes parses ignore-list entries. Matching is case-insensitive.
// An unknown name is an input error that suggests the closest known type.
func ParseScriptTypes(names []string) ([]chain.ScriptType, error) {
	out := make([]chain.ScriptType, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		st, ok := matchScriptType(name)
		if !ok {
			err := kwerr.WithDetails(kwerr.ErrInvalidInput, map[string]string{
				"field":       "ignoreAddressTypes",
				"script_type": name,
			})
			if s := suggestScriptType(name); s != "" {
				err = kwerr.WithSuggestion(err, "did you mean "+s+"?")
			}
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

func matchScriptType(name string) (chain.ScriptType, bool) {
	for _, st := range chain.AllScriptTypes() {
		if strings.EqualFold(string(st), name) {
			return st, true
		}
	}
	return "", false
}

// suggestScriptType returns the closest script type within edit distance 3.
func suggestScriptType(name string) string {
	const maxDistance = 3
	best, bestDist := "", maxDistance+1
	for _, st := range chain.AllScriptTypes() {
		d := levenshtein.ComputeDistance(strings.ToLower(name), strings.ToLower(string(st)))
		if d < bestDist {
			best, bestDist = string(st), d
		}
	}
	return best
}
