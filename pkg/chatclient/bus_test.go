package chatclient

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBusDeliversInSubscriptionOrder(t *testing.T) {
	bus := NewBus()
	var order []int
	bus.SubscribeFragment(func(Fragment) { order = append(order, 1) })
	bus.SubscribeFragment(func(Fragment) { order = append(order, 2) })
	bus.SubscribeFragment(func(Fragment) { order = append(order, 3) })

	bus.PublishFragment(Fragment{MessageID: "m1", Text: "x"})
	require.Equal(t, []int{1, 2, 3}, order)
}

func TestBusUnsubscribeIsIdempotent(t *testing.T) {
	bus := NewBus()
	calls := 0
	dispose := bus.SubscribeCompletion(func(Completion) { calls++ })

	bus.PublishCompletion(Completion{MessageID: "m1"})
	dispose()
	dispose()
	require.NotPanics(t, dispose)
	bus.PublishCompletion(Completion{MessageID: "m1"})

	require.Equal(t, 1, calls)
	require.Equal(t, 0, bus.SubscriberCount())
}

func TestBusPanickingListenerDoesNotStarveOthers(t *testing.T) {
	bus := NewBus()
	var got []string
	bus.SubscribeFailure(func(Failure) { got = append(got, "first") })
	bus.SubscribeFailure(func(Failure) { panic("listener bug") })
	bus.SubscribeFailure(func(Failure) { got = append(got, "third") })

	require.NotPanics(t, func() {
		bus.PublishFailure(Failure{Kind: FailureTransport, Message: "x"})
	})
	require.Equal(t, []string{"first", "third"}, got)
}

func TestBusUnsubscribeDuringDispatchKeepsSnapshot(t *testing.T) {
	bus := NewBus()
	var got []string
	var disposeSecond func()
	bus.SubscribeControl(func(Control) {
		got = append(got, "first")
		disposeSecond()
	})
	disposeSecond = bus.SubscribeControl(func(Control) { got = append(got, "second") })

	// The snapshot taken at dispatch time still includes the second listener.
	bus.PublishControl(Control{Kind: ControlPersisted})
	require.Equal(t, []string{"first", "second"}, got)

	bus.PublishControl(Control{Kind: ControlPersisted})
	require.Equal(t, []string{"first", "second", "first"}, got)
}

func TestBusNoReplayForLateSubscribers(t *testing.T) {
	bus := NewBus()
	bus.PublishFragment(Fragment{MessageID: "m1", Text: "lost"})

	var got []Fragment
	bus.SubscribeFragment(func(ev Fragment) { got = append(got, ev) })
	require.Empty(t, got)
}
