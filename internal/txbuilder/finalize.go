package txbuilder

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"

	"github.com/mrz1836/keyward/internal/chain"
	kwerr "github.com/mrz1836/keyward/pkg/errors"
)

// finalize builds the scriptSig and witness of every input from the user
// and backup signatures and extracts the network transaction.
func (t *Transaction) finalize() error {
	for i := range t.unspents {
		if err := t.finalizeInput(i); err != nil {
			return err
		}
	}

	tx, err := psbt.Extract(t.packet)
	if err != nil {
		return fmt.Errorf("%w: extract: %w", kwerr.ErrInvalidTransaction, err)
	}
	t.final = tx
	return nil
}

func (t *Transaction) finalizeInput(i int) error {
	d := t.unspents[i].Derived
	in := &t.packet.Inputs[i]
	user, backup := d.PubKeys[0], d.PubKeys[1]

	if d.ScriptType.IsTaproot() {
		sigUser, sigBackup := t.tapSig(i, user), t.tapSig(i, backup)
		if sigUser == nil || sigBackup == nil {
			return fmt.Errorf("%w: input %d", ErrMissingSignature, i)
		}
		// The leaf checks the user key first, so its signature is on top.
		return setWitness(in, sigBackup, sigUser, d.Script.TapLeafScript, d.Script.ControlBlock)
	}

	sigUser, sigBackup := t.partialSig(i, user), t.partialSig(i, backup)
	if sigUser == nil || sigBackup == nil {
		return fmt.Errorf("%w: input %d", ErrMissingSignature, i)
	}

	// Signatures follow the key order of the multisig script. The leading
	// empty item is consumed by the CHECKMULTISIG off-by-one.
	switch d.ScriptType {
	case chain.ScriptP2SH:
		script, err := txscript.NewScriptBuilder().
			AddOp(txscript.OP_0).
			AddData(sigUser).
			AddData(sigBackup).
			AddData(d.Script.RedeemScript).
			Script()
		if err != nil {
			return fmt.Errorf("input %d: scriptSig: %w", i, err)
		}
		in.FinalScriptSig = script
		return nil

	case chain.ScriptP2SHP2WSH:
		script, err := txscript.NewScriptBuilder().AddData(d.Script.RedeemScript).Script()
		if err != nil {
			return fmt.Errorf("input %d: scriptSig: %w", i, err)
		}
		in.FinalScriptSig = script
		return setWitness(in, nil, sigUser, sigBackup, d.Script.WitnessScript)

	default:
		return setWitness(in, nil, sigUser, sigBackup, d.Script.WitnessScript)
	}
}

func setWitness(in *psbt.PInput, items ...[]byte) error {
	var buf bytes.Buffer
	if err := psbt.WriteTxWitness(&buf, items); err != nil {
		return fmt.Errorf("witness: %w", err)
	}
	in.FinalScriptWitness = buf.Bytes()
	return nil
}

// Verify executes every input script of the finalized transaction.
func (t *Transaction) Verify() error {
	tx, err := t.SignedTx()
	if err != nil {
		return err
	}
	sigHashes := txscript.NewTxSigHashes(tx, t.fetcher)
	for i, u := range t.unspents {
		engine, err := txscript.NewEngine(u.Derived.Script.PkScript, tx, i,
			txscript.StandardVerifyFlags, nil, sigHashes, u.Value, t.fetcher)
		if err != nil {
			return fmt.Errorf("%w: input %d: %w", kwerr.ErrInvalidTransaction, i, err)
		}
		if err := engine.Execute(); err != nil {
			return fmt.Errorf("%w: input %d: %w", kwerr.ErrInvalidTransaction, i, err)
		}
	}
	return nil
}
