package pathswitch_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meshwired/linkctl/internal/pathswitch"
)

func TestMemSwitchAddAndSend(t *testing.T) {
	t.Parallel()

	sw := pathswitch.NewMemSwitch()

	var got []byte
	label, err := sw.AddInterface(0, func(frame []byte) { got = frame })
	require.NoError(t, err)
	require.NotZero(t, label)

	require.NoError(t, sw.Send(label, []byte("hello")))
	require.Equal(t, []byte("hello"), got)
}

func TestMemSwitchSwapInterfaces(t *testing.T) {
	t.Parallel()

	sw := pathswitch.NewMemSwitch()

	var outA, outB []byte
	a, err := sw.AddInterface(0, func(f []byte) { outA = f })
	require.NoError(t, err)
	b, err := sw.AddInterface(0, func(f []byte) { outB = f })
	require.NoError(t, err)

	require.NoError(t, sw.SwapInterfaces(a, b))

	require.NoError(t, sw.Send(a, []byte("to-b-now")))
	require.Equal(t, []byte("to-b-now"), outB)
	require.Nil(t, outA)
}

func TestMemSwitchOutOfSpace(t *testing.T) {
	t.Parallel()

	sw := pathswitch.NewMemSwitch()
	for range pathswitch.MaxInterfaces {
		_, err := sw.AddInterface(0, nil)
		require.NoError(t, err)
	}

	_, err := sw.AddInterface(0, nil)
	require.ErrorIs(t, err, pathswitch.ErrOutOfSpace)
}

func TestMemPingerRespondsWithConfiguredVersion(t *testing.T) {
	t.Parallel()

	p := pathswitch.NewMemPinger(22)
	p.Ping(0xAAAA)

	resp := <-p.Responses()
	require.Equal(t, uint32(22), resp.Version)
	require.Equal(t, uint64(0xAAAA), resp.PathLabel)
}
