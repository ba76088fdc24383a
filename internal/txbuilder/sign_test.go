package txbuilder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/keyward/internal/chain"
	"github.com/mrz1836/keyward/internal/provider"
	"github.com/mrz1836/keyward/internal/wallet"
)

func TestSign_FullSignedEachScriptType(t *testing.T) {
	t.Parallel()
	keys := resolveKeys(t, wallet.PolicyFullSigned)

	for _, st := range chain.AllScriptTypes() {
		t.Run(string(st), func(t *testing.T) {
			t.Parallel()
			tx := buildTx(t, keys, walletUnspents(t, keys, st), 0)

			require.NoError(t, tx.Sign(keys, wallet.RoleUser, false))
			assert.False(t, tx.IsFinal())
			require.NoError(t, tx.Sign(keys, wallet.RoleBackup, true))
			require.True(t, tx.IsFinal())
			require.NoError(t, tx.Verify())

			signers, err := tx.ValidSigners(0)
			require.NoError(t, err)
			assert.Equal(t, []wallet.Role{wallet.RoleUser, wallet.RoleBackup}, signers)
		})
	}
}

func TestSign_FullSignedMixedInputs(t *testing.T) {
	t.Parallel()
	keys := resolveKeys(t, wallet.PolicyFullSigned)
	tx := buildTx(t, keys, walletUnspents(t, keys), 0)

	require.NoError(t, tx.Sign(keys, wallet.RoleUser, false))
	require.NoError(t, tx.Sign(keys, wallet.RoleBackup, true))
	require.NoError(t, tx.Verify())
	assert.Equal(t, []wallet.Role{wallet.RoleUser, wallet.RoleBackup}, tx.Signers())

	raw, err := tx.Hex()
	require.NoError(t, err)
	decoded, err := provider.DecodeTxHex(raw)
	require.NoError(t, err)
	assert.Equal(t, tx.TxID(), decoded.TxHash().String())

	// The legacy p2sh input's scriptSig changes the id once signed.
	assert.NotEqual(t, tx.UnsignedTx().TxHash().String(), tx.TxID())
}

func TestSign_SegwitIDStable(t *testing.T) {
	t.Parallel()
	keys := resolveKeys(t, wallet.PolicyFullSigned)
	tx := buildTx(t, keys, walletUnspents(t, keys, chain.ScriptP2WSH, chain.ScriptP2TR), 0)
	before := tx.TxID()

	require.NoError(t, tx.Sign(keys, wallet.RoleUser, false))
	require.NoError(t, tx.Sign(keys, wallet.RoleBackup, true))
	assert.Equal(t, before, tx.TxID())
}

func TestSign_FinalizingFirstFails(t *testing.T) {
	t.Parallel()
	keys := resolveKeys(t, wallet.PolicyFullSigned)

	for _, st := range chain.AllScriptTypes() {
		tx := buildTx(t, keys, walletUnspents(t, keys, st), 0)

		err := tx.Sign(keys, wallet.RoleBackup, true)
		require.ErrorIs(t, err, ErrMissingSignature, st)
		assert.False(t, tx.IsFinal())
		assert.Empty(t, tx.Signers())

		signers, err := tx.ValidSigners(0)
		require.NoError(t, err)
		assert.Empty(t, signers, "no signature may be left behind")

		_, err = tx.Hex()
		require.ErrorIs(t, err, ErrNotFinal)
	}
}

func TestSign_KrsHalfSigned(t *testing.T) {
	t.Parallel()
	keys := resolveKeys(t, wallet.PolicyKrsAssisted)
	tx := buildTx(t, keys, walletUnspents(t, keys), 100_000)

	require.NoError(t, tx.Sign(keys, wallet.RoleUser, false))
	assert.False(t, tx.IsFinal())

	for i := range tx.Unspents() {
		signers, err := tx.ValidSigners(i)
		require.NoError(t, err)
		assert.Equal(t, []wallet.Role{wallet.RoleUser}, signers, "input %d", i)
	}

	require.ErrorIs(t, tx.Sign(keys, wallet.RoleBackup, true), ErrRoleCannotSign)
	require.ErrorIs(t, tx.Verify(), ErrNotFinal)
}

func TestSign_Errors(t *testing.T) {
	t.Parallel()
	keys := resolveKeys(t, wallet.PolicyFullSigned)
	tx := buildTx(t, keys, walletUnspents(t, keys, chain.ScriptP2SH), 0)

	require.ErrorIs(t, tx.Sign(keys, wallet.RoleBitGo, false), ErrUnexpectedSigner)

	require.NoError(t, tx.Sign(keys, wallet.RoleUser, false))
	require.ErrorIs(t, tx.Sign(keys, wallet.RoleUser, false), ErrDuplicateSignature)

	require.NoError(t, tx.Sign(keys, wallet.RoleBackup, true))
	require.ErrorIs(t, tx.Sign(keys, wallet.RoleBackup, true), ErrAlreadyFinal)

	_, err := tx.ValidSigners(5)
	require.Error(t, err)
}

func TestSign_UnsignedSweepCannotSign(t *testing.T) {
	t.Parallel()
	keys := resolveKeys(t, wallet.PolicyUnsignedSweep)
	tx := buildTx(t, keys, walletUnspents(t, keys), 0)

	require.ErrorIs(t, tx.Sign(keys, wallet.RoleUser, false), ErrRoleCannotSign)
	for i := range tx.Unspents() {
		signers, err := tx.ValidSigners(i)
		require.NoError(t, err)
		assert.Empty(t, signers)
	}
}

func TestSign_Deterministic(t *testing.T) {
	t.Parallel()
	keys := resolveKeys(t, wallet.PolicyFullSigned)

	sign := func() string {
		tx := buildTx(t, keys, walletUnspents(t, keys), 0)
		require.NoError(t, tx.Sign(keys, wallet.RoleUser, false))
		require.NoError(t, tx.Sign(keys, wallet.RoleBackup, true))
		raw, err := tx.Hex()
		require.NoError(t, err)
		return raw
	}
	assert.Equal(t, sign(), sign())
}
