// Package config provides configuration management for Keyward.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/mrz1836/keyward/internal/fee"
	"github.com/mrz1836/keyward/internal/fileutil"
	kwerr "github.com/mrz1836/keyward/pkg/errors"
)

// Config represents the application configuration.
type Config struct {
	Version      int                          `yaml:"version"`
	Home         string                       `yaml:"home"`
	Discovery    DiscoveryConfig              `yaml:"discovery"`
	Fees         FeesConfig                   `yaml:"fees"`
	Provider     ProviderConfig               `yaml:"provider"`
	KrsProviders map[string]KrsProviderConfig `yaml:"krs_providers"`
	Logging      LoggingConfig                `yaml:"logging"`
	Output       OutputConfig                 `yaml:"output"`
}

// DiscoveryConfig defines address discovery settings.
type DiscoveryConfig struct {
	Scan       int `yaml:"scan"`
	MaxWorkers int `yaml:"max_workers"`
}

// FeesConfig defines fee estimation settings.
type FeesConfig struct {
	FallbackPerByte int64 `yaml:"fallback_per_byte"`
}

// ProviderConfig defines the blockchain data provider.
type ProviderConfig struct {
	URL            string            `yaml:"url,omitempty"` // overrides urls for every coin
	URLs           map[string]string `yaml:"urls,omitempty"`
	APIKey         string            `yaml:"api_key"`
	RatePerSecond  float64           `yaml:"rate_per_second"`
	Burst          int               `yaml:"burst"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
	RetryAttempts  int               `yaml:"retry_attempts"`
}

// KrsProviderConfig overrides or adds a key recovery service fee schedule.
type KrsProviderConfig struct {
	FeeType        string            `yaml:"fee_type,omitempty"`
	FeeAmount      string            `yaml:"fee_amount,omitempty"`
	SupportedCoins []string          `yaml:"supported_coins,omitempty"`
	FeeAddresses   map[string]string `yaml:"fee_addresses,omitempty"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// OutputConfig defines command output settings.
type OutputConfig struct {
	Format string `yaml:"format"` // text, json or auto
}

// Load reads configuration from the specified file.
func Load(path string) (*Config, error) {
	// #nosec G304 -- config file path is from validated user input
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, kwerr.WithDetails(kwerr.WithCause(kwerr.ErrConfigNotFound, err),
				map[string]string{"path": path})
		}
		return nil, err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, kwerr.WithDetails(kwerr.WithCause(kwerr.ErrConfigInvalid, err),
			map[string]string{"path": path})
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes configuration to the specified file, creating its directory.
// The file may hold an API key, so it is written owner-only.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return fileutil.WriteAtomic(path, data, 0o600)
}

// Path returns the default config file path.
func Path(home string) string {
	return filepath.Join(home, "config.yaml")
}

// Validate checks values that would otherwise surface as confusing
// failures halfway through a recovery.
func (c *Config) Validate() error {
	invalid := func(field, value string) error {
		return kwerr.WithDetails(kwerr.ErrConfigInvalid, map[string]string{
			"field": field,
			"value": value,
		})
	}

	if c.Discovery.Scan < 0 {
		return invalid("discovery.scan", strconv.Itoa(c.Discovery.Scan))
	}
	if c.Discovery.MaxWorkers < 0 {
		return invalid("discovery.max_workers", strconv.Itoa(c.Discovery.MaxWorkers))
	}
	if c.Fees.FallbackPerByte < 0 {
		return invalid("fees.fallback_per_byte", strconv.FormatInt(c.Fees.FallbackPerByte, 10))
	}
	if c.Provider.RetryAttempts < 0 {
		return invalid("provider.retry_attempts", strconv.Itoa(c.Provider.RetryAttempts))
	}

	for coin, u := range c.Provider.URLs {
		if strings.TrimSpace(u) != "" && SanitizeURL(u) == "" {
			return invalid("provider.urls."+coin, u)
		}
	}

	for name, p := range c.KrsProviders {
		if strings.TrimSpace(p.FeeAmount) == "" {
			continue
		}
		amount, err := decimal.NewFromString(p.FeeAmount)
		if err != nil || amount.IsNegative() {
			return invalid("krs_providers."+name+".fee_amount", p.FeeAmount)
		}
	}
	return nil
}

// KrsTable returns the built-in key recovery service table with the
// configured entries merged over it. Fields left empty keep the built-in value.
func (c *Config) KrsTable() map[string]fee.KrsProvider {
	table := fee.DefaultKrsProviders()

	for name, override := range c.KrsProviders {
		p, ok := table[name]
		if !ok {
			p = fee.KrsProvider{Name: name, FeeAddresses: map[string]string{}}
		}
		if override.FeeType != "" {
			p.FeeType = override.FeeType
		}
		if amount, err := decimal.NewFromString(strings.TrimSpace(override.FeeAmount)); err == nil {
			p.FeeAmount = amount
		}
		if len(override.SupportedCoins) > 0 {
			p.SupportedCoins = append([]string(nil), override.SupportedCoins...)
		}

		addresses := make(map[string]string, len(p.FeeAddresses)+len(override.FeeAddresses))
		for coin, addr := range p.FeeAddresses {
			addresses[coin] = addr
		}
		for coin, addr := range override.FeeAddresses {
			addresses[strings.ToLower(coin)] = strings.TrimSpace(addr)
		}
		p.FeeAddresses = addresses
		table[name] = p
	}
	return table
}

// GetHome returns the keyward home directory path.
func (c *Config) GetHome() string {
	return c.Home
}

// GetAPIKey returns the provider API key.
func (c *Config) GetAPIKey() string {
	return c.Provider.APIKey
}

// GetLoggingLevel returns the configured logging level.
func (c *Config) GetLoggingLevel() string {
	return c.Logging.Level
}

// GetLoggingFile returns the configured log file path.
func (c *Config) GetLoggingFile() string {
	return c.Logging.File
}

// ProviderURL returns the provider endpoint for a coin: provider.url when
// set, otherwise the coin's entry in provider.urls. Empty means no endpoint
// is configured.
func (c *Config) ProviderURL(coin string) string {
	if u := SanitizeURL(c.Provider.URL); u != "" {
		return u
	}
	return SanitizeURL(c.Provider.URLs[strings.ToLower(strings.TrimSpace(coin))])
}

// GetOutputFormat returns the configured output format.
func (c *Config) GetOutputFormat() string {
	return c.Output.Format
}

// DefaultHome returns the default keyward home directory.
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".keyward"
	}
	return filepath.Join(home, ".keyward")
}
