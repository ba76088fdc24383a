package cli

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/mrz1836/keyward/internal/keycrypto"
	kwerr "github.com/mrz1836/keyward/pkg/errors"
)

// EnvWalletPassphrase supplies the wallet passphrase without a prompt.
const EnvWalletPassphrase = "KEYWARD_WALLET_PASSPHRASE" // #nosec G101 -- variable name, not a credential

//nolint:gochecknoglobals // replaced in tests
var promptPasswordFn = promptPassword

// promptPassword prompts on stderr and reads a line with echo disabled.
// The caller is responsible for zeroing the returned bytes after use.
func promptPassword(prompt string) ([]byte, error) {
	fd := int(os.Stdin.Fd()) //nolint:gosec // G115: Fd() fits in int on supported platforms
	if !term.IsTerminal(fd) {
		return nil, kwerr.WithSuggestion(kwerr.ErrInvalidInput,
			"stdin is not a terminal; set "+EnvWalletPassphrase+" to supply the wallet passphrase")
	}

	_, _ = fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(fd)
	_, _ = fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}
	return password, nil
}

// walletPassphrase returns the passphrase for encrypted keys: the
// environment value when set, otherwise an interactive prompt. Nothing is
// asked when no key is encrypted.
func walletPassphrase(keys ...string) (string, error) {
	if v := os.Getenv(EnvWalletPassphrase); v != "" {
		return v, nil
	}

	encrypted := false
	for _, k := range keys {
		if keycrypto.IsArmored(k) {
			encrypted = true
			break
		}
	}
	if !encrypted {
		return "", nil
	}

	pw, err := promptPasswordFn("Wallet passphrase: ")
	if err != nil {
		return "", err
	}
	defer keycrypto.Wipe(pw)
	return strings.TrimRight(string(pw), "\r\n"), nil
}
