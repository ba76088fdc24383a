package txbuilder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/keyward/internal/wallet"
	kwerr "github.com/mrz1836/keyward/pkg/errors"
)

func TestBundle_RoundTrip(t *testing.T) {
	t.Parallel()
	keys := resolveKeys(t, wallet.PolicyUnsignedSweep)
	unspents := walletUnspents(t, keys)
	tx := buildTx(t, keys, unspents, 150_000)

	b, err := tx.Bundle()
	require.NoError(t, err)
	assert.Equal(t, "btc", b.Coin)
	assert.False(t, b.Complete)
	assert.Equal(t, int64(50_000), b.Fee)
	require.Len(t, b.Inputs, len(unspents))

	packet, err := DecodeBundle(b)
	require.NoError(t, err)

	for i, u := range unspents {
		assert.Equal(t, u.ID, packet.UnsignedTx.TxIn[i].PreviousOutPoint.String())
		assert.Equal(t, u.Value, packet.Inputs[i].WitnessUtxo.Value)
		assert.Equal(t, u.ID, b.Inputs[i].ID)
		assert.Equal(t, uint32(u.Chain), b.Inputs[i].Chain)
		assert.Equal(t, string(u.Derived.ScriptType), b.Inputs[i].ScriptType)
		assert.Empty(t, packet.Inputs[i].PartialSigs)
		assert.Empty(t, packet.Inputs[i].TaprootScriptSpendSig)
	}
	require.Len(t, packet.UnsignedTx.TxOut, 2)
	assert.Equal(t, tx.Outputs()[0].Value, packet.UnsignedTx.TxOut[0].Value)
	assert.Equal(t, int64(150_000), packet.UnsignedTx.TxOut[1].Value)
	assert.Equal(t, tx.UnsignedTx().TxHash(), packet.UnsignedTx.TxHash())
}

func TestBundle_HalfSignedCarriesSignatures(t *testing.T) {
	t.Parallel()
	keys := resolveKeys(t, wallet.PolicyKrsAssisted)
	tx := buildTx(t, keys, walletUnspents(t, keys), 0)
	require.NoError(t, tx.Sign(keys, wallet.RoleUser, false))

	b, err := tx.Bundle()
	require.NoError(t, err)
	packet, err := DecodeBundle(b)
	require.NoError(t, err)

	for i, u := range tx.Unspents() {
		if u.Derived.ScriptType.IsTaproot() {
			assert.Len(t, packet.Inputs[i].TaprootScriptSpendSig, 1)
			continue
		}
		assert.Len(t, packet.Inputs[i].PartialSigs, 1)
	}
}

func TestDecodeBundle_Mismatch(t *testing.T) {
	t.Parallel()
	keys := resolveKeys(t, wallet.PolicyUnsignedSweep)
	tx := buildTx(t, keys, walletUnspents(t, keys), 0)

	b, err := tx.Bundle()
	require.NoError(t, err)

	tampered := *b
	tampered.Inputs = append([]BundleInput(nil), b.Inputs...)
	tampered.Inputs[1].Value++
	_, err = DecodeBundle(&tampered)
	require.ErrorIs(t, err, kwerr.ErrInvalidTransaction)

	tampered = *b
	tampered.Outputs = nil
	_, err = DecodeBundle(&tampered)
	require.ErrorIs(t, err, kwerr.ErrInvalidTransaction)

	tampered = *b
	tampered.PSBT = "bm90IGEgcHNidA=="
	_, err = DecodeBundle(&tampered)
	require.ErrorIs(t, err, kwerr.ErrInvalidTransaction)
}
