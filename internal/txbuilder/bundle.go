package txbuilder

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/psbt"

	"github.com/mrz1836/keyward/internal/discovery"
	kwerr "github.com/mrz1836/keyward/pkg/errors"
)

// BundleInput describes one spent unspent for an offline signer.
type BundleInput struct {
	ID            string `json:"id"`
	Address       string `json:"address"`
	Value         int64  `json:"value"`
	Chain         uint32 `json:"chain"`
	Index         uint32 `json:"index"`
	ScriptType    string `json:"scriptType"`
	RedeemScript  string `json:"redeemScript,omitempty"`
	WitnessScript string `json:"witnessScript,omitempty"`
	TapLeafScript string `json:"tapLeafScript,omitempty"`
	ControlBlock  string `json:"controlBlock,omitempty"`
}

// Bundle is an offline signing package: the unsigned transaction, a PSBT
// carrying scripts and key derivations, and the unspents it spends.
type Bundle struct {
	Coin     string        `json:"coin"`
	TxHex    string        `json:"txHex"`
	TxID     string        `json:"txid"`
	PSBT     string        `json:"psbt"`
	Inputs   []BundleInput `json:"inputs"`
	Outputs  []Output      `json:"outputs"`
	Fee      int64         `json:"fee"`
	Complete bool          `json:"complete"`
}

// Bundle exports the transaction in its current signing state.
func (t *Transaction) Bundle() (*Bundle, error) {
	txHex, err := t.UnsignedHex()
	if err != nil {
		return nil, err
	}
	b64, err := t.PSBTBase64()
	if err != nil {
		return nil, fmt.Errorf("%w: encode psbt: %w", kwerr.ErrInvalidTransaction, err)
	}

	b := &Bundle{
		Coin:     t.coin.ID.String(),
		TxHex:    txHex,
		TxID:     t.TxID(),
		PSBT:     b64,
		Outputs:  append([]Output(nil), t.outputs...),
		Complete: t.IsFinal(),
	}

	var out int64
	for _, o := range t.outputs {
		out += o.Value
	}
	b.Fee = t.TotalInput() - out

	for _, u := range t.unspents {
		b.Inputs = append(b.Inputs, bundleInput(u))
	}
	return b, nil
}

func bundleInput(u discovery.WalletUnspent) BundleInput {
	in := BundleInput{
		ID:      u.ID,
		Address: u.Address,
		Value:   u.Value,
		Chain:   uint32(u.Chain),
		Index:   u.Index,
	}
	if d := u.Derived; d != nil {
		in.ScriptType = string(d.ScriptType)
		in.RedeemScript = hexOrEmpty(d.Script.RedeemScript)
		in.WitnessScript = hexOrEmpty(d.Script.WitnessScript)
		in.TapLeafScript = hexOrEmpty(d.Script.TapLeafScript)
		in.ControlBlock = hexOrEmpty(d.Script.ControlBlock)
	}
	return in
}

// DecodeBundle parses the bundle PSBT and checks that it spends exactly the
// listed inputs and pays exactly the listed output values.
func DecodeBundle(b *Bundle) (*psbt.Packet, error) {
	packet, err := psbt.NewFromRawBytes(strings.NewReader(b.PSBT), true)
	if err != nil {
		return nil, fmt.Errorf("%w: psbt: %w", kwerr.ErrInvalidTransaction, err)
	}

	tx := packet.UnsignedTx
	if len(tx.TxIn) != len(b.Inputs) || len(tx.TxOut) != len(b.Outputs) {
		return nil, fmt.Errorf("%w: bundle lists %d inputs and %d outputs, psbt has %d and %d",
			kwerr.ErrInvalidTransaction, len(b.Inputs), len(b.Outputs), len(tx.TxIn), len(tx.TxOut))
	}
	for i, in := range tx.TxIn {
		id := in.PreviousOutPoint.String()
		if id != b.Inputs[i].ID {
			return nil, fmt.Errorf("%w: input %d spends %s, bundle lists %s",
				kwerr.ErrInvalidTransaction, i, id, b.Inputs[i].ID)
		}
		if wu := packet.Inputs[i].WitnessUtxo; wu == nil || wu.Value != b.Inputs[i].Value {
			return nil, fmt.Errorf("%w: input %d value mismatch", kwerr.ErrInvalidTransaction, i)
		}
	}
	for i, out := range tx.TxOut {
		if out.Value != b.Outputs[i].Value {
			return nil, fmt.Errorf("%w: output %d value mismatch", kwerr.ErrInvalidTransaction, i)
		}
	}
	return packet, nil
}

func hexOrEmpty(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return hex.EncodeToString(b)
}
