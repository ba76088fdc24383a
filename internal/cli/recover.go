package cli

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrz1836/keyward/internal/chain"
	"github.com/mrz1836/keyward/internal/config"
	"github.com/mrz1836/keyward/internal/discovery"
	"github.com/mrz1836/keyward/internal/fileutil"
	"github.com/mrz1836/keyward/internal/metrics"
	"github.com/mrz1836/keyward/internal/output"
	"github.com/mrz1836/keyward/internal/provider"
	"github.com/mrz1836/keyward/internal/provider/mempool"
	kwerr "github.com/mrz1836/keyward/pkg/errors"
	"github.com/mrz1836/keyward/pkg/recovery"
)

// DefaultRecoverTimeout bounds a whole recovery, discovery included.
const DefaultRecoverTimeout = 10 * time.Minute

type recoverOptions struct {
	coin         string
	userKey      string
	backupKey    string
	bitgoKey     string
	destination  string
	scan         int
	ignoreTypes  []string
	krsProvider  string
	userKeyPath  string
	apiKey       string
	out          string
	timeout      time.Duration
	showProgress bool
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var recoverOpts recoverOptions

//nolint:gochecknoglobals // replaced in tests
var newProviderFn = newProvider

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Build a recovery transaction",
	Long: `Scan the wallet for unspent outputs and sweep them to a destination.

Keys are given inline or as @file. Private keys may be passphrase-encrypted;
the passphrase is read from ` + EnvWalletPassphrase + ` or prompted for.

Examples:
  # Full recovery with both private keys
  keyward recover --coin btc --user-key @user.age --backup-key @backup.age \
    --bitgo-key xpub6... --destination bc1q...

  # Half-signed recovery for a key recovery service
  keyward recover --coin btc --user-key @user.age --backup-key xpub6... \
    --bitgo-key xpub6... --destination bc1q... --krs-provider keyternal

  # Unsigned sweep written to a bundle for offline signing
  keyward recover --coin btc --user-key xpub6... --backup-key xpub6... \
    --bitgo-key xpub6... --destination bc1q... --out sweep.json`,
	Args: cobra.NoArgs,
	RunE: runRecover,
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(recoverCmd)

	f := recoverCmd.Flags()
	f.StringVar(&recoverOpts.coin, "coin", "btc", "coin to recover: "+strings.Join(chain.SupportedCoins(), ", "))
	f.StringVar(&recoverOpts.userKey, "user-key", "", "user extended key, encrypted key, or @file")
	f.StringVar(&recoverOpts.backupKey, "backup-key", "", "backup extended key, encrypted key, or @file")
	f.StringVar(&recoverOpts.bitgoKey, "bitgo-key", "", "custodian extended public key or @file")
	f.StringVar(&recoverOpts.destination, "destination", "", "address receiving the recovered funds")
	f.IntVar(&recoverOpts.scan, "scan", 0, "gap limit: unused addresses per chain before stopping (default from config)")
	f.StringSliceVar(&recoverOpts.ignoreTypes, "ignore-address-types", nil, "script types to skip (p2sh, p2shP2wsh, p2wsh, p2tr, p2trMusig2)")
	f.StringVar(&recoverOpts.krsProvider, "krs-provider", "", "key recovery service holding the backup key")
	f.StringVar(&recoverOpts.userKeyPath, "user-key-path", "", "derivation prefix of the user key (default m/0/0)")
	f.StringVar(&recoverOpts.apiKey, "api-key", "", "provider API key (default from config)")
	f.StringVar(&recoverOpts.out, "out", "", "write the result, or the offline bundle, to a file")
	f.DurationVar(&recoverOpts.timeout, "timeout", DefaultRecoverTimeout, "overall recovery timeout")
	f.BoolVar(&recoverOpts.showProgress, "progress", false, "report found unspents on stderr")

	_ = recoverCmd.MarkFlagRequired("user-key")
	_ = recoverCmd.MarkFlagRequired("backup-key")
	_ = recoverCmd.MarkFlagRequired("bitgo-key")
	_ = recoverCmd.MarkFlagRequired("destination")
}

func runRecover(cmd *cobra.Command, _ []string) error {
	coin, err := chain.Lookup(recoverOpts.coin)
	if err != nil {
		return err
	}

	keys := make([]string, 3)
	for i, arg := range []string{recoverOpts.userKey, recoverOpts.backupKey, recoverOpts.bitgoKey} {
		if keys[i], err = readKeyMaterial(arg); err != nil {
			return err
		}
	}

	passphrase, err := walletPassphrase(keys[0], keys[1])
	if err != nil {
		return err
	}

	scan := cfg.Discovery.Scan
	if cmd.Flags().Changed("scan") {
		scan = recoverOpts.scan
	}

	opts := []recovery.Option{
		recovery.WithConfig(cfg),
		recovery.WithLogger(logger),
		recovery.WithMetrics(metrics.Global),
	}
	if recoverOpts.showProgress {
		opts = append(opts, recovery.WithProgress(progressReporter(cmd)))
	}

	prov, err := newProviderFn(cfg, coin)
	if err != nil {
		return err
	}

	engine, err := recovery.New(coin, prov, opts...)
	if err != nil {
		return err
	}

	ctx, cancel := contextWithTimeout(cmd, recoverOpts.timeout)
	defer cancel()

	res, err := engine.Recover(ctx, recovery.Params{
		UserKey:             keys[0],
		BackupKey:           keys[1],
		BitGoKey:            keys[2],
		RecoveryDestination: recoverOpts.destination,
		WalletPassphrase:    passphrase,
		Scan:                scan,
		IgnoreAddressTypes:  recoverOpts.ignoreTypes,
		KrsProvider:         recoverOpts.krsProvider,
		UserKeyPath:         recoverOpts.userKeyPath,
		APIKey:              recoverOpts.apiKey,
	})
	if err != nil {
		return err
	}

	if recoverOpts.out != "" {
		var artifact any = res
		if res.Bundle != nil {
			artifact = res.Bundle
		}
		if err := fileutil.WriteJSON(recoverOpts.out, artifact, 0o600); err != nil {
			return kwerr.WithDetails(kwerr.WithCause(kwerr.ErrGeneral, err), map[string]string{"path": recoverOpts.out})
		}
	}

	return formatter.Print(&recoveryReport{Result: res, coin: coin, outPath: recoverOpts.out, warnings: cmd.ErrOrStderr()})
}

// readKeyMaterial returns arg, or the contents of the file it names with a
// leading @.
func readKeyMaterial(arg string) (string, error) {
	path, ok := strings.CutPrefix(strings.TrimSpace(arg), "@")
	if !ok {
		return arg, nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is chosen by the operator
	if err != nil {
		return "", kwerr.WithDetails(kwerr.WithCause(kwerr.ErrInvalidInput, err), map[string]string{"path": path})
	}
	return strings.TrimSpace(string(data)), nil
}

// newProvider builds the HTTP provider client for coin from configuration.
func newProvider(c *config.Config, coin *chain.Coin) (provider.Provider, error) {
	baseURL := c.ProviderURL(coin.ID.String())
	if baseURL == "" {
		field := "provider.urls." + coin.ID.String()
		return nil, kwerr.WithSuggestion(
			kwerr.WithDetails(kwerr.ErrConfigInvalid, map[string]string{"field": field, "coin": coin.ID.String()}),
			"set "+field+" to an Esplora-compatible API endpoint",
		)
	}

	timeout := time.Duration(c.Provider.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = mempool.DefaultTimeout
	}
	retry := chain.DefaultRetryConfig()
	retry.MaxAttempts = max(c.Provider.RetryAttempts, 1)

	return mempool.NewClient(&mempool.ClientOptions{
		BaseURL:     baseURL,
		APIKey:      c.GetAPIKey(),
		HTTPClient:  &http.Client{Timeout: timeout},
		RateLimiter: chain.NewRateLimiter(c.Provider.RatePerSecond, c.Provider.Burst),
		Retry:       &retry,
		Metrics:     metrics.Global,
	}), nil
}

func progressReporter(cmd *cobra.Command) discovery.ProgressCallback {
	w := cmd.ErrOrStderr()
	return func(u discovery.ProgressUpdate) {
		if u.Phase != "found" {
			return
		}
		output.Info(w, "found unspents at %s (%s %d), %d so far", u.Address, u.Chain, u.Index, u.UnspentsFound)
	}
}
