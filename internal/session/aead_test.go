package session_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meshwired/linkctl/internal/session"
)

func TestAEADHandshakeAndDataRoundTrip(t *testing.T) {
	t.Parallel()

	initiatorFactory, err := session.NewAEADFactory()
	require.NoError(t, err)
	responderFactory, err := session.NewAEADFactory()
	require.NoError(t, err)

	initiator, err := initiatorFactory.WrapOutbound(responderFactory.LocalPublicKey(), []byte("shared"))
	require.NoError(t, err)
	responder, err := responderFactory.WrapInbound([]byte("shared"))
	require.NoError(t, err)

	require.Equal(t, session.StateHandshake1, initiator.State())

	initFrame, ok := initiator.(interface{ PendingOutbound() ([]byte, bool) }).PendingOutbound()
	require.True(t, ok)

	_, err = responder.Decrypt(initFrame)
	require.NoError(t, err)
	require.Equal(t, session.StateEstablished, responder.State())

	respFrame, ok := responder.(interface{ PendingOutbound() ([]byte, bool) }).PendingOutbound()
	require.True(t, ok)

	_, err = initiator.Decrypt(respFrame)
	require.NoError(t, err)
	require.Equal(t, session.StateEstablished, initiator.State())

	plaintext := []byte("switch frame payload")
	frame, err := initiator.Encrypt(plaintext)
	require.NoError(t, err)

	got, err := responder.Decrypt(frame)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestAEADReplayedFrameIsRejected(t *testing.T) {
	t.Parallel()

	a, err := session.NewAEADFactory()
	require.NoError(t, err)
	b, err := session.NewAEADFactory()
	require.NoError(t, err)

	initiator, err := a.WrapOutbound(b.LocalPublicKey(), nil)
	require.NoError(t, err)
	responder, err := b.WrapInbound(nil)
	require.NoError(t, err)

	initFrame, _ := initiator.(interface{ PendingOutbound() ([]byte, bool) }).PendingOutbound()
	_, err = responder.Decrypt(initFrame)
	require.NoError(t, err)
	respFrame, _ := responder.(interface{ PendingOutbound() ([]byte, bool) }).PendingOutbound()
	_, err = initiator.Decrypt(respFrame)
	require.NoError(t, err)

	frame, err := initiator.Encrypt([]byte("hello"))
	require.NoError(t, err)

	_, err = responder.Decrypt(frame)
	require.NoError(t, err)

	_, err = responder.Decrypt(frame)
	require.ErrorIs(t, err, session.ErrUndeliverable)
	require.Equal(t, uint64(1), responder.ReplayStats().Duplicates)
}
