package redisstream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatstream/pkg/updates"
)

func TestBuildBus_InMemoryDeliversInOrder(t *testing.T) {
	bus, err := BuildBus(DefaultSettings())
	require.NoError(t, err)
	defer func() { _ = bus.Close() }()

	topic := updates.TopicForConversation("c1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan uint64, 16)
	done := make(chan error, 1)
	go func() {
		done <- updates.Forward(ctx, bus.Subscriber, topic, func(u updates.Update) error {
			got <- u.Seq
			return nil
		})
	}()

	sink := updates.NewWatermillSink(bus.Publisher, topic)
	// Subscription is asynchronous; publish until the first update lands.
	require.Eventually(t, func() bool {
		if err := sink.Publish(ctx, updates.Update{Seq: 0, Kind: updates.KindTurnState}); err != nil {
			return false
		}
		select {
		case <-got:
			return true
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
	for len(got) > 0 {
		<-got
	}

	for i := uint64(1); i <= 10; i++ {
		require.NoError(t, sink.Publish(ctx, updates.Update{Seq: i, Kind: updates.KindMessageUpdated}))
	}
	for i := uint64(1); i <= 10; i++ {
		select {
		case seq := <-got:
			require.Equal(t, i, seq)
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for update %d", i)
		}
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("forwarder did not stop")
	}
}

func TestSettingsValidate(t *testing.T) {
	s := DefaultSettings()
	require.NoError(t, s.Validate())

	s.Enabled = true
	require.NoError(t, s.Validate())

	s.Addr = " "
	require.Error(t, s.Validate())

	s = DefaultSettings()
	s.Enabled = true
	s.Group = ""
	require.Error(t, s.Validate())

	_, err := BuildBus(s)
	require.Error(t, err)
}

func TestBus_SubscriberForInMemorySharesSubscriber(t *testing.T) {
	bus, err := BuildBus(DefaultSettings())
	require.NoError(t, err)
	defer func() { _ = bus.Close() }()

	sub, err := bus.SubscriberFor("mirror")
	require.NoError(t, err)
	require.Equal(t, bus.Subscriber, sub)
	require.Equal(t, "chatstream-ui-mirror", bus.GroupFor("mirror"))
	require.Equal(t, "chatstream-ui", bus.GroupFor(""))
}

func TestBus_NilClose(t *testing.T) {
	var bus *Bus
	require.NoError(t, bus.Close())
	_, err := bus.SubscriberFor("x")
	require.Error(t, err)
}
