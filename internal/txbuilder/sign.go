package txbuilder

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"

	"github.com/mrz1836/keyward/internal/wallet"
)

// Sign adds role's signature to every input. With final set the input
// spends are assembled and the transaction extracted; that needs both the
// user and the backup signature, so the finalizing signer must come second.
func (t *Transaction) Sign(keys *wallet.RootKeys, role wallet.Role, final bool) error {
	if t.final != nil {
		return ErrAlreadyFinal
	}
	if role != wallet.RoleUser && role != wallet.RoleBackup {
		return fmt.Errorf("%w: %s", ErrUnexpectedSigner, role)
	}
	if !keys.CanSign(role) {
		return fmt.Errorf("%w: %s", ErrRoleCannotSign, role)
	}
	for _, r := range t.signers {
		if r == role {
			return fmt.Errorf("%w: %s", ErrDuplicateSignature, role)
		}
	}

	if final {
		// Fail before adding a signature that could not be finalized.
		if err := t.checkFinalizable(role); err != nil {
			return err
		}
	}

	for i := range t.unspents {
		if err := t.signInput(keys, role, i); err != nil {
			return err
		}
	}
	t.signers = append(t.signers, role)

	if !final {
		return nil
	}
	return t.finalize()
}

func (t *Transaction) checkFinalizable(role wallet.Role) error {
	have := map[wallet.Role]bool{role: true}
	for _, r := range t.signers {
		have[r] = true
	}
	if !have[wallet.RoleUser] || !have[wallet.RoleBackup] {
		return fmt.Errorf("%w: finalizing needs user and backup signatures, have %v", ErrMissingSignature, append(t.Signers(), role))
	}
	return nil
}

func (t *Transaction) signInput(keys *wallet.RootKeys, role wallet.Role, i int) error {
	u := t.unspents[i]
	d := u.Derived
	tx := t.packet.UnsignedTx
	in := &t.packet.Inputs[i]

	priv, err := keys.SigningKey(role, d.Chain, d.Index)
	if err != nil {
		return fmt.Errorf("input %d: %w", i, err)
	}
	defer priv.Zero()

	if !priv.PubKey().IsEqual(d.PubKeys[roleIndex(role)]) {
		return fmt.Errorf("input %d: %s key does not match the derived address", i, role)
	}

	switch {
	case d.ScriptType.IsTaproot():
		leaf := txscript.NewBaseTapLeaf(d.Script.TapLeafScript)
		sig, err := txscript.RawTxInTapscriptSignature(tx, t.sigHashes, i, u.Value,
			d.Script.PkScript, leaf, txscript.SigHashDefault, priv)
		if err != nil {
			return fmt.Errorf("input %d: tapscript signature: %w", i, err)
		}
		in.TaprootScriptSpendSig = append(in.TaprootScriptSpendSig, &psbt.TaprootScriptSpendSig{
			XOnlyPubKey: schnorr.SerializePubKey(priv.PubKey()),
			LeafHash:    d.Script.TapLeafHash,
			Signature:   sig,
			SigHash:     txscript.SigHashDefault,
		})

	case d.ScriptType.IsSegwit():
		sig, err := txscript.RawTxInWitnessSignature(tx, t.sigHashes, i, u.Value,
			d.Script.WitnessScript, txscript.SigHashAll, priv)
		if err != nil {
			return fmt.Errorf("input %d: witness signature: %w", i, err)
		}
		in.PartialSigs = append(in.PartialSigs, &psbt.PartialSig{
			PubKey:    priv.PubKey().SerializeCompressed(),
			Signature: sig,
		})

	default:
		sig, err := txscript.RawTxInSignature(tx, i, d.Script.RedeemScript, txscript.SigHashAll, priv)
		if err != nil {
			return fmt.Errorf("input %d: signature: %w", i, err)
		}
		in.PartialSigs = append(in.PartialSigs, &psbt.PartialSig{
			PubKey:    priv.PubKey().SerializeCompressed(),
			Signature: sig,
		})
	}
	return nil
}

// partialSig returns the ECDSA signature of pub on input i, or nil.
func (t *Transaction) partialSig(i int, pub *btcec.PublicKey) []byte {
	want := pub.SerializeCompressed()
	for _, ps := range t.packet.Inputs[i].PartialSigs {
		if bytes.Equal(ps.PubKey, want) {
			return ps.Signature
		}
	}
	return nil
}

// tapSig returns the tapscript signature of pub on input i, or nil.
func (t *Transaction) tapSig(i int, pub *btcec.PublicKey) []byte {
	want := schnorr.SerializePubKey(pub)
	for _, s := range t.packet.Inputs[i].TaprootScriptSpendSig {
		if bytes.Equal(s.XOnlyPubKey, want) {
			return s.Signature
		}
	}
	return nil
}
