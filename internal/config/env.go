package config

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"unicode"
)

// Environment variable names.
const (
	EnvHome        = "KEYWARD_HOME"
	EnvProviderURL = "KEYWARD_PROVIDER_URL"
	EnvAPIKey      = "KEYWARD_API_KEY" // #nosec G101 -- false positive, this is a const name not a credential
	EnvLogLevel    = "KEYWARD_LOG_LEVEL"
	EnvScan        = "KEYWARD_SCAN"
	EnvMaxWorkers  = "KEYWARD_MAX_WORKERS"
	EnvFallbackFee = "KEYWARD_FALLBACK_FEE_PER_BYTE"
	EnvOutput      = "KEYWARD_OUTPUT"
)

// ApplyEnvironment applies environment variable overrides to the configuration.
func ApplyEnvironment(cfg *Config) {
	if v := os.Getenv(EnvHome); v != "" {
		cfg.Home = v
	}

	if v := os.Getenv(EnvProviderURL); v != "" {
		cfg.Provider.URL = SanitizeURL(v)
	}

	if v := os.Getenv(EnvAPIKey); v != "" {
		cfg.Provider.APIKey = strings.TrimSpace(v)
	}

	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}

	if n, ok := parseNonNegative(os.Getenv(EnvScan)); ok {
		cfg.Discovery.Scan = n
	}

	if n, ok := parseNonNegative(os.Getenv(EnvMaxWorkers)); ok && n > 0 {
		cfg.Discovery.MaxWorkers = n
	}

	if n, ok := parseNonNegative(os.Getenv(EnvFallbackFee)); ok && n > 0 {
		cfg.Fees.FallbackPerByte = int64(n)
	}

	if v := os.Getenv(EnvOutput); v != "" {
		cfg.Output.Format = strings.ToLower(strings.TrimSpace(v))
	}
}

func parseNonNegative(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// SanitizeURL cleans a URL string by removing whitespace and control
// characters, the usual copy-paste artifacts, and any trailing slash.
// Values that do not parse as an absolute URL are returned empty.
func SanitizeURL(raw string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return -1
		}
		return r
	}, raw)

	u, err := url.Parse(cleaned)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.TrimRight(u.String(), "/")
}
