package provider_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/keyward/internal/provider"
	kwerr "github.com/mrz1836/keyward/pkg/errors"
)

var errUpstream = errors.New("connection reset")

func TestOutpointID(t *testing.T) {
	t.Parallel()
	u := provider.NewUnspent("ab12", 3, "addr", 500)
	assert.Equal(t, "ab12:3", u.ID)

	txid, vout, err := provider.ParseOutpointID(u.ID)
	require.NoError(t, err)
	assert.Equal(t, "ab12", txid)
	assert.Equal(t, uint32(3), vout)
}

func TestParseOutpointID_Invalid(t *testing.T) {
	t.Parallel()
	for _, id := range []string{"", "abc", ":1", "abc:", "abc:x", "abc:-1"} {
		_, _, err := provider.ParseOutpointID(id)
		require.ErrorIs(t, err, kwerr.ErrInvalidInput, id)
	}
}

func TestRequestFailed(t *testing.T) {
	t.Parallel()
	err := provider.RequestFailed("mempool", "getAddressInfo", errUpstream)
	require.ErrorIs(t, err, kwerr.ErrProviderRequest)
	require.ErrorIs(t, err, errUpstream)
	assert.Equal(t, "mempool", kwerr.DetailsOf(err)["provider"])

	assert.Same(t, err, provider.RequestFailed("other", "op", err))
	assert.NoError(t, provider.RequestFailed("mempool", "op", nil))

	ni := provider.NotImplemented("mempool", "decode")
	assert.Equal(t, ni, provider.RequestFailed("mempool", "decode", ni))
}

func TestNotImplemented(t *testing.T) {
	t.Parallel()
	err := provider.NotImplemented("memory", "decodeAndVerifyTransaction")
	require.ErrorIs(t, err, kwerr.ErrProviderNotImplemented)
	assert.Equal(t, "decodeAndVerifyTransaction", kwerr.DetailsOf(err)["operation"])
}
