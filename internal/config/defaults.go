package config

// DefaultProviderURLs returns the Esplora-compatible endpoint per coin.
// Dogecoin has no public Esplora deployment and must be configured.
func DefaultProviderURLs() map[string]string {
	return map[string]string{
		"btc":     "https://mempool.space/api",
		"tbtc":    "https://mempool.space/testnet/api",
		"tbtcsig": "https://mempool.space/signet/api",
		"ltc":     "https://litecoinspace.org/api",
	}
}

// Defaults returns the default configuration.
func Defaults() *Config {
	return &Config{
		Version: 1,
		Home:    "~/.keyward",
		Discovery: DiscoveryConfig{
			Scan:       20,
			MaxWorkers: 3,
		},
		Fees: FeesConfig{
			FallbackPerByte: 100,
		},
		Provider: ProviderConfig{
			URLs:           DefaultProviderURLs(),
			RatePerSecond:  5,
			Burst:          10,
			TimeoutSeconds: 30,
			RetryAttempts:  3,
		},
		KrsProviders: map[string]KrsProviderConfig{},
		Logging: LoggingConfig{
			Level: "error",
			File:  "~/.keyward/keyward.log",
		},
		Output: OutputConfig{
			Format: "auto",
		},
	}
}
