// Package wallettest provides deterministic wallet keys for tests.
package wallettest

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

// Keys holds the serialized root keys of a test wallet.
type Keys struct {
	UserXprv   string
	UserXpub   string
	BackupXprv string
	BackupXpub string
	BitGoXprv  string
	BitGoXpub  string
}

// NewKeys derives a wallet from a label. The same label always yields the
// same keys.
func NewKeys(label string) Keys {
	user := master(label + "/user")
	backup := master(label + "/backup")
	bitgo := master(label + "/bitgo")
	return Keys{
		UserXprv:   user.String(),
		UserXpub:   neuter(user).String(),
		BackupXprv: backup.String(),
		BackupXpub: neuter(backup).String(),
		BitGoXprv:  bitgo.String(),
		BitGoXpub:  neuter(bitgo).String(),
	}
}

// Default returns the wallet used across package tests.
func Default() Keys {
	return NewKeys("keyward")
}

func master(label string) *hdkeychain.ExtendedKey {
	seed := sha256.Sum256([]byte(label))
	key, err := hdkeychain.NewMaster(seed[:], &chaincfg.MainNetParams)
	if err != nil {
		panic(err)
	}
	return key
}

func neuter(key *hdkeychain.ExtendedKey) *hdkeychain.ExtendedKey {
	pub, err := key.Neuter()
	if err != nil {
		panic(err)
	}
	return pub
}
