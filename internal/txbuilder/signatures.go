package txbuilder

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"

	"github.com/mrz1836/keyward/internal/wallet"
)

// ValidSigners returns the roles whose signatures on input i verify
// against the input's sighash, in user, backup, bitgo order.
func (t *Transaction) ValidSigners(i int) ([]wallet.Role, error) {
	if i < 0 || i >= len(t.unspents) {
		return nil, fmt.Errorf("input %d out of range", i)
	}
	u := t.unspents[i]
	d := u.Derived
	tx := t.packet.UnsignedTx

	var roles []wallet.Role
	for idx, role := range wallet.Roles() {
		pub := d.PubKeys[idx]

		if d.ScriptType.IsTaproot() {
			raw := t.tapSig(i, pub)
			if raw == nil {
				continue
			}
			leaf := txscript.NewBaseTapLeaf(d.Script.TapLeafScript)
			hash, err := txscript.CalcTapscriptSignaturehash(t.sigHashes, txscript.SigHashDefault, tx, i, t.fetcher, leaf)
			if err != nil {
				return nil, fmt.Errorf("input %d: tapscript sighash: %w", i, err)
			}
			sig, err := schnorr.ParseSignature(raw)
			if err == nil && sig.Verify(hash, pub) {
				roles = append(roles, role)
			}
			continue
		}

		raw := t.partialSig(i, pub)
		if len(raw) < 2 {
			continue
		}
		var hash []byte
		var err error
		if d.ScriptType.IsSegwit() {
			hash, err = txscript.CalcWitnessSigHash(d.Script.WitnessScript, t.sigHashes, txscript.SigHashAll, tx, i, u.Value)
		} else {
			hash, err = txscript.CalcSignatureHash(d.Script.RedeemScript, txscript.SigHashAll, tx, i)
		}
		if err != nil {
			return nil, fmt.Errorf("input %d: sighash: %w", i, err)
		}
		// The last byte is the sighash type.
		sig, err := ecdsa.ParseDERSignature(raw[:len(raw)-1])
		if err == nil && sig.Verify(hash, pub) {
			roles = append(roles, role)
		}
	}
	return roles, nil
}
