package peer

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sumanthd032/relaychat/pkg/crypto"
	"github.com/sumanthd032/relaychat/pkg/errs"
)

func testParams(t *testing.T) (*big.Int, *big.Int) {
	t.Helper()
	g, err := crypto.RandomBits(512)
	require.NoError(t, err)
	n, err := crypto.RandomBits(2048)
	require.NoError(t, err)
	return g, n
}

func TestHandshakeAgreement(t *testing.T) {
	require := require.New(t)
	g, n := testParams(t)

	var a, b Handshake
	pa, err := a.Begin(g, n)
	require.NoError(err)
	pb, err := b.Begin(g, n)
	require.NoError(err)
	require.True(a.InProgress())
	require.False(a.Done())

	ka, err := a.Complete(pb)
	require.NoError(err)
	kb, err := b.Complete(pa)
	require.NoError(err)
	require.Equal(ka, kb)
	require.Len(ka, 32)
	require.True(a.Done())
	require.False(a.InProgress())

	// Secrets stay local: the public values differ from the secret exponents.
	require.NotEqual(0, pa.Cmp(a.localSecret))
	require.True(a.localSecret.Sign() > 0 && a.localSecret.Cmp(n) <= 0)
}

func TestHandshakeStateErrors(t *testing.T) {
	require := require.New(t)
	g, n := testParams(t)

	var h Handshake
	_, err := h.Complete(big.NewInt(5))
	require.ErrorIs(err, errs.ErrInvalidState)

	_, err = h.Begin(nil, n)
	require.ErrorIs(err, errs.ErrInvalidArgument)
	_, err = h.Begin(g, big.NewInt(0))
	require.ErrorIs(err, errs.ErrInvalidArgument)

	_, err = h.Begin(g, n)
	require.NoError(err)
	_, err = h.Complete(nil)
	require.ErrorIs(err, errs.ErrInvalidArgument)

	_, err = h.Complete(big.NewInt(5))
	require.NoError(err)
	_, err = h.Complete(big.NewInt(5))
	require.ErrorIs(err, errs.ErrInvalidState)

	h.Reset()
	require.False(h.Done())
	require.Nil(h.publicBase)
	require.Nil(h.sessionKey)
}

func TestHandshakeRestart(t *testing.T) {
	require := require.New(t)
	g, n := testParams(t)

	var a, b Handshake
	_, err := a.Begin(g, n)
	require.NoError(err)

	// A second Begin discards the first secret.
	pa, err := a.Begin(g, n)
	require.NoError(err)
	pb, err := b.Begin(g, n)
	require.NoError(err)

	ka, err := a.Complete(pb)
	require.NoError(err)
	kb, err := b.Complete(pa)
	require.NoError(err)
	require.Equal(ka, kb)
}
