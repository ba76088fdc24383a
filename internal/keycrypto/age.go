package keycrypto

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"
)

// ErrEmptyPassphrase is returned when decryption is attempted without a passphrase.
var ErrEmptyPassphrase = errors.New("passphrase is required")

// Encrypt encrypts plaintext to an ASCII-armored age file protected by an
// scrypt passphrase recipient.
func Encrypt(plaintext []byte, passphrase string) (string, error) {
	if passphrase == "" {
		return "", ErrEmptyPassphrase
	}
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return "", fmt.Errorf("creating scrypt recipient: %w", err)
	}

	buf := &bytes.Buffer{}
	aw := armor.NewWriter(buf)
	w, err := age.Encrypt(aw, recipient)
	if err != nil {
		return "", fmt.Errorf("initializing encryption: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return "", fmt.Errorf("writing encrypted data: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalizing encryption: %w", err)
	}
	if err := aw.Close(); err != nil {
		return "", fmt.Errorf("finalizing armor: %w", err)
	}
	return buf.String(), nil
}

// IsArmored reports whether s looks like an armored age file.
func IsArmored(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), armor.Header)
}

// DecryptSecure decrypts an armored or binary age ciphertext into locked memory.
// Error messages never include plaintext.
func DecryptSecure(ciphertext, passphrase string) (*SecureBytes, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}

	var src io.Reader = strings.NewReader(strings.TrimSpace(ciphertext))
	if IsArmored(ciphertext) {
		src = armor.NewReader(bufio.NewReader(src))
	}

	r, err := age.Decrypt(src, identity)
	if err != nil {
		return nil, fmt.Errorf("initializing decryption: %w", err)
	}

	plaintext, err := io.ReadAll(r)
	defer Wipe(plaintext)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted data: %w", err)
	}

	return SecureBytesFromSlice(bytes.TrimSpace(plaintext)), nil
}
