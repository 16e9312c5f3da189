package eventbus_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meshwired/linkctl/internal/eventbus"
)

func TestLocalPublishFansOutToAllSubscribers(t *testing.T) {
	t.Parallel()

	bus := eventbus.NewLocal()
	_, chA, cancelA := bus.Subscribe()
	defer cancelA()
	_, chB, cancelB := bus.Subscribe()
	defer cancelB()

	bus.Publish([]byte("event"))

	require.Equal(t, []byte("event"), <-chA)
	require.Equal(t, []byte("event"), <-chB)
}

func TestLocalReplyTargetsOneSubscriber(t *testing.T) {
	t.Parallel()

	bus := eventbus.NewLocal()
	idA, chA, cancelA := bus.Subscribe()
	defer cancelA()
	_, chB, cancelB := bus.Subscribe()
	defer cancelB()

	bus.Reply(idA, []byte("only-a"))

	require.Equal(t, []byte("only-a"), <-chA)
	select {
	case <-chB:
		t.Fatal("subscriber B should not have received the targeted reply")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestRequestEnumerateDeliversQuery(t *testing.T) {
	t.Parallel()

	bus := eventbus.NewLocal()
	bus.RequestEnumerate(7)

	q := <-bus.Queries()
	require.Equal(t, uint32(7), q.PathfinderID)
}
