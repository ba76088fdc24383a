package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mrz1836/keyward/internal/chain"
	"github.com/mrz1836/keyward/internal/discovery"
	"github.com/mrz1836/keyward/internal/output"
)

// coinInfo is one row of the coins listing.
type coinInfo struct {
	ID           string   `json:"id"`
	Family       string   `json:"family"`
	ScriptTypes  []string `json:"scriptTypes"`
	ChainCodes   []uint32 `json:"chainCodes"`
	DustLimit    int64    `json:"dustLimit"`
	KrsProviders []string `json:"krsProviders"`
	ProviderURL  string   `json:"providerUrl,omitempty"`
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var coinsCmd = &cobra.Command{
	Use:   "coins",
	Short: "List recoverable coins",
	Long: `List the coins keyward can recover, the script types scanned for each,
and the key recovery services that serve them.`,
	Args: cobra.NoArgs,
	RunE: runCoins,
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(coinsCmd)
}

// coinTable renders the coins listing as a table in text mode.
type coinTable []coinInfo

func runCoins(_ *cobra.Command, _ []string) error {
	return formatter.Print(coinTable(listCoins()))
}

// RenderText implements output.TextRenderer.
func (infos coinTable) RenderText(w io.Writer) error {
	tbl := output.NewTable("COIN", "FAMILY", "SCRIPT TYPES", "DUST", "KRS PROVIDERS", "PROVIDER").AlignRight(3)
	for _, c := range infos {
		endpoint := c.ProviderURL
		if endpoint == "" {
			endpoint = "(not configured)"
		}
		tbl.AddRow(c.ID, c.Family, strings.Join(c.ScriptTypes, ","), fmt.Sprint(c.DustLimit), strings.Join(c.KrsProviders, ","), endpoint)
	}
	return tbl.Render(w)
}

func listCoins() []coinInfo {
	table := cfg.KrsTable()
	infos := make([]coinInfo, 0, len(chain.SupportedCoins()))

	for _, id := range chain.SupportedCoins() {
		coin := chain.MustLookup(chain.ID(id))
		info := coinInfo{ID: id, Family: coin.Family, DustLimit: coin.DustLimit, ProviderURL: cfg.ProviderURL(id)}

		for _, st := range coin.ScriptTypes {
			info.ScriptTypes = append(info.ScriptTypes, string(st))
		}
		for _, code := range discovery.Enumerate(coin, nil) {
			info.ChainCodes = append(info.ChainCodes, uint32(code))
		}
		for name, p := range table {
			if p.SupportsCoin(id) {
				info.KrsProviders = append(info.KrsProviders, name)
			}
		}
		sort.Strings(info.KrsProviders)
		infos = append(infos, info)
	}
	return infos
}
