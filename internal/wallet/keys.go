package wallet

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/mrz1836/keyward/internal/keycrypto"
	kwerr "github.com/mrz1836/keyward/pkg/errors"
)

// ErrExpectedPrivate is returned when a signing role decrypts to a public key.
var ErrExpectedPrivate = errors.New("expected a private extended key")

//nolint:gochecknoglobals // version bytes of the supported networks
var (
	hdPublicVersions = [][4]byte{
		chaincfg.MainNetParams.HDPublicKeyID,
		chaincfg.TestNet3Params.HDPublicKeyID,
		chaincfg.SigNetParams.HDPublicKeyID,
		chaincfg.RegressionNetParams.HDPublicKeyID,
	}
	hdPrivateVersions = [][4]byte{
		chaincfg.MainNetParams.HDPrivateKeyID,
		chaincfg.TestNet3Params.HDPrivateKeyID,
		chaincfg.SigNetParams.HDPrivateKeyID,
		chaincfg.RegressionNetParams.HDPrivateKeyID,
	}
)

// KeyInput is the raw key material supplied by the wallet owner.
type KeyInput struct {
	UserKey     string // xprv, encrypted xprv, or xpub for unsigned sweeps
	BackupKey   string // xprv, encrypted xprv, or xpub when a KRS holds it
	BitGoKey    string // xpub of the custodial co-signer
	Passphrase  string // decrypts encrypted user/backup keys
	UserKeyPath string // overrides the user derivation prefix
}

// RootKeys are the three parsed root keys of a wallet. The user and backup
// keys are private only when the policy needs their signatures.
type RootKeys struct {
	User   *hdkeychain.ExtendedKey
	Backup *hdkeychain.ExtendedKey
	BitGo  *hdkeychain.ExtendedKey

	UserPath  []uint32 // derivation prefix for the user key
	OtherPath []uint32 // derivation prefix for the backup and bitgo keys

	prefixed [3]*hdkeychain.ExtendedKey
}

// Resolve parses and, where needed, decrypts the supplied keys and derives
// the recovery policy from their shape.
func Resolve(in KeyInput) (*RootKeys, Policy, error) {
	userPublic := isPublicForm(in.UserKey)
	backupPublic := isPublicForm(in.BackupKey)
	policy := ClassifyKeys(in.UserKey, in.BackupKey)

	if userPublic && !backupPublic {
		return nil, "", roleError(kwerr.ErrKeyValidation, RoleUser,
			errors.New("user key is public but backup key is not"))
	}

	userPath := DefaultKeyPath
	if strings.TrimSpace(in.UserKeyPath) != "" {
		userPath = in.UserKeyPath
	}
	up, err := ParsePath(userPath)
	if err != nil {
		return nil, "", kwerr.WithDetails(kwerr.WithCause(kwerr.ErrInvalidInput, err),
			map[string]string{"field": "userKeyPath"})
	}
	op, _ := ParsePath(DefaultKeyPath)

	keys := &RootKeys{UserPath: up, OtherPath: op}

	if keys.User, err = resolveKey(RoleUser, in.UserKey, in.Passphrase, !userPublic); err != nil {
		return nil, "", err
	}
	if keys.Backup, err = resolveKey(RoleBackup, in.BackupKey, in.Passphrase, !backupPublic); err != nil {
		keys.Zero()
		return nil, "", err
	}
	if keys.BitGo, err = resolveBitGoKey(in.BitGoKey); err != nil {
		keys.Zero()
		return nil, "", err
	}

	roots := [3]*hdkeychain.ExtendedKey{keys.User, keys.Backup, keys.BitGo}
	for i, role := range Roles() {
		path := keys.OtherPath
		if role == RoleUser {
			path = keys.UserPath
		}
		if keys.prefixed[i], err = derivePath(roots[i], path); err != nil {
			keys.Zero()
			return nil, "", roleError(kwerr.ErrKeyValidation, role, err)
		}
	}

	return keys, policy, nil
}

// Roles returns the key roles in script order.
func Roles() [3]Role {
	return [3]Role{RoleUser, RoleBackup, RoleBitGo}
}

// Root returns the root key for a role.
func (k *RootKeys) Root(role Role) *hdkeychain.ExtendedKey {
	switch role {
	case RoleUser:
		return k.User
	case RoleBackup:
		return k.Backup
	default:
		return k.BitGo
	}
}

// Path returns the full derivation path of a role's key for (chain, index).
func (k *RootKeys) Path(role Role, chainCode, index uint32) []uint32 {
	prefix := k.OtherPath
	if role == RoleUser {
		prefix = k.UserPath
	}
	path := make([]uint32, 0, len(prefix)+2)
	path = append(path, prefix...)
	return append(path, chainCode, index)
}

// Fingerprint returns the BIP32 fingerprint of a role's root public key.
func (k *RootKeys) Fingerprint(role Role) uint32 {
	pub, err := k.Root(role).ECPubKey()
	if err != nil {
		return 0
	}
	h := btcutil.Hash160(pub.SerializeCompressed())
	return uint32(h[0]) | uint32(h[1])<<8 | uint32(h[2])<<16 | uint32(h[3])<<24
}

// PublicKeys derives the user, backup and bitgo public keys for (chain, index).
func (k *RootKeys) PublicKeys(chainCode, index uint32) ([3]*btcec.PublicKey, error) {
	var out [3]*btcec.PublicKey
	for i, role := range Roles() {
		child, err := derivePath(k.prefixed[i], []uint32{chainCode, index})
		if err != nil {
			return out, fmt.Errorf("derive %s key: %w", role, err)
		}
		if out[i], err = child.ECPubKey(); err != nil {
			return out, fmt.Errorf("%s public key: %w", role, err)
		}
	}
	return out, nil
}

// SigningKey derives the private key of a role for (chain, index).
func (k *RootKeys) SigningKey(role Role, chainCode, index uint32) (*btcec.PrivateKey, error) {
	var base *hdkeychain.ExtendedKey
	for i, r := range Roles() {
		if r == role {
			base = k.prefixed[i]
		}
	}
	if base == nil || !base.IsPrivate() {
		return nil, fmt.Errorf("%s key: %w", role, ErrExpectedPrivate)
	}
	child, err := derivePath(base, []uint32{chainCode, index})
	if err != nil {
		return nil, fmt.Errorf("derive %s key: %w", role, err)
	}
	priv, err := child.ECPrivKey()
	child.Zero()
	if err != nil {
		return nil, fmt.Errorf("%s private key: %w", role, err)
	}
	return priv, nil
}

// CanSign reports whether the role's key holds private material.
func (k *RootKeys) CanSign(role Role) bool {
	root := k.Root(role)
	return root != nil && root.IsPrivate()
}

// Zero wipes private key material from every key.
func (k *RootKeys) Zero() {
	for _, key := range []*hdkeychain.ExtendedKey{k.User, k.Backup, k.BitGo} {
		if key != nil {
			key.Zero()
		}
	}
	for _, key := range k.prefixed {
		if key != nil {
			key.Zero()
		}
	}
}

// ClassifyKeys derives the recovery policy from the version prefixes of the
// supplied user and backup keys. Keys are not parsed; a public-prefixed key
// with a bad checksum still counts as public.
func ClassifyKeys(userKey, backupKey string) Policy {
	return Classify(isPublicForm(userKey), isPublicForm(backupKey))
}

// isPublicForm reports whether s carries an extended public key prefix.
func isPublicForm(s string) bool {
	return hasVersion(s, hdPublicVersions)
}

// isExtendedKeyForm reports whether s carries any extended key prefix, as
// opposed to encrypted key material.
func isExtendedKeyForm(s string) bool {
	return hasVersion(s, hdPublicVersions) || hasVersion(s, hdPrivateVersions)
}

func hasVersion(s string, versions [][4]byte) bool {
	decoded := base58.Decode(strings.TrimSpace(s))
	if len(decoded) < 4 {
		return false
	}
	var version [4]byte
	copy(version[:], decoded[:4])
	for _, v := range versions {
		if v == version {
			return true
		}
	}
	return false
}

// resolveKey parses a user or backup key. Private keys may be supplied raw
// or passphrase-encrypted.
func resolveKey(role Role, material, passphrase string, wantPrivate bool) (*hdkeychain.ExtendedKey, error) {
	material = strings.TrimSpace(material)
	if material == "" {
		return nil, roleError(kwerr.ErrKeyValidation, role, errors.New("key is missing"))
	}

	if !wantPrivate {
		key, err := hdkeychain.NewKeyFromString(material)
		if err != nil {
			return nil, roleError(kwerr.ErrKeyValidation, role, err)
		}
		return key, nil
	}

	key, err := hdkeychain.NewKeyFromString(material)
	if err == nil {
		if !key.IsPrivate() {
			return nil, roleError(kwerr.ErrKeyValidation, role, ErrExpectedPrivate)
		}
		return key, nil
	}
	// A malformed extended key was never encrypted.
	if isExtendedKeyForm(material) {
		return nil, roleError(kwerr.ErrKeyValidation, role, err)
	}

	plain, err := keycrypto.DecryptSecure(material, passphrase)
	if err != nil {
		return nil, roleError(kwerr.ErrKeyDecryption, role, err)
	}
	defer plain.Destroy()

	key, err = hdkeychain.NewKeyFromString(plain.String())
	if err != nil {
		return nil, roleError(kwerr.ErrKeyValidation, role, errors.New("decrypted key is not a valid extended key"))
	}
	if !key.IsPrivate() {
		return nil, roleError(kwerr.ErrKeyValidation, role, ErrExpectedPrivate)
	}
	return key, nil
}

// resolveBitGoKey parses the custodial key. A private key is neutered so
// the co-signer's secret is never held past parsing.
func resolveBitGoKey(material string) (*hdkeychain.ExtendedKey, error) {
	key, err := hdkeychain.NewKeyFromString(strings.TrimSpace(material))
	if err != nil {
		return nil, roleError(kwerr.ErrKeyValidation, RoleBitGo, err)
	}
	if !key.IsPrivate() {
		return key, nil
	}
	pub, err := key.Neuter()
	key.Zero()
	if err != nil {
		return nil, roleError(kwerr.ErrKeyValidation, RoleBitGo, err)
	}
	return pub, nil
}

func roleError(sentinel error, role Role, cause error) error {
	return kwerr.WithDetails(kwerr.WithCause(sentinel, cause), map[string]string{"role": role.String()})
}
