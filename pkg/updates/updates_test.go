package updates

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatstream/pkg/transcript"
)

func TestTopicForConversation(t *testing.T) {
	require.Equal(t, "chatstream.abc", TopicForConversation(" abc "))
}

func TestSinkFunc(t *testing.T) {
	var got []Kind
	s := SinkFunc(func(_ context.Context, u Update) error {
		got = append(got, u.Kind)
		return nil
	})
	require.NoError(t, s.Publish(context.Background(), Update{Kind: KindTurnState}))
	require.Equal(t, []Kind{KindTurnState}, got)

	var nilFn SinkFunc
	require.NoError(t, nilFn.Publish(context.Background(), Update{}))
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	s := &LogSink{Logger: zerolog.New(&buf).Level(zerolog.DebugLevel)}
	msg := transcript.Message{Role: transcript.RoleAssistant, Content: "hey"}
	require.NoError(t, s.Publish(context.Background(), Update{Seq: 3, Kind: KindMessageUpdated, Index: 1, Message: &msg}))
	require.Contains(t, buf.String(), `"kind":"message.updated"`)
	require.Contains(t, buf.String(), `"content_len":3`)

	var nilSink *LogSink
	require.NoError(t, nilSink.Publish(context.Background(), Update{}))
}

func TestWatermillSink_PublishAndForward(t *testing.T) {
	gc := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 16, Persistent: true}, watermill.NopLogger{})
	defer func() { _ = gc.Close() }()

	topic := TopicForConversation("c1")
	sink := NewWatermillSink(gc, topic)
	msg := transcript.Message{Role: transcript.RoleUser, Content: "hi", CorrelationID: "dropped"}
	require.NoError(t, sink.Publish(context.Background(), Update{Seq: 1, Kind: KindMessageAppended, ConversationKey: "c1", Message: &msg}))
	require.NoError(t, gc.Publish(topic, message.NewMessage(watermill.NewUUID(), []byte("not json"))))
	require.NoError(t, sink.Publish(context.Background(), Update{Seq: 2, Kind: KindTurnState, ConversationKey: "c1", State: "idle"}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan Update, 4)
	done := make(chan error, 1)
	go func() {
		done <- Forward(ctx, gc, topic, func(u Update) error {
			got <- u
			if u.Seq == 1 {
				return errors.New("renderer hiccup")
			}
			return nil
		})
	}()

	first := <-got
	require.Equal(t, uint64(1), first.Seq)
	require.Equal(t, "hi", first.Message.Content)
	require.Empty(t, first.Message.CorrelationID)
	second := <-got
	require.Equal(t, uint64(2), second.Seq)
	require.Equal(t, "idle", second.State)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("forward did not stop")
	}
}

func TestWatermillSink_NilPublisher(t *testing.T) {
	require.Error(t, NewWatermillSink(nil, "t").Publish(context.Background(), Update{}))
}

func TestDecode(t *testing.T) {
	_, err := Decode(nil)
	require.Error(t, err)
	_, err = Decode(message.NewMessage("1", []byte("{")))
	require.Error(t, err)
	u, err := Decode(message.NewMessage("1", []byte(`{"seq":5,"kind":"turn.error","conv_key":"c","error":"boom"}`)))
	require.NoError(t, err)
	require.Equal(t, uint64(5), u.Seq)
	require.Equal(t, KindTurnError, u.Kind)
	require.Equal(t, "boom", u.Error)
}

func TestForward_NilSubscriber(t *testing.T) {
	require.Error(t, Forward(context.Background(), nil, "t", func(Update) error { return nil }))
}

func TestWatermillLoggerAdapter(t *testing.T) {
	var buf bytes.Buffer
	l := NewWatermillLogger(zerolog.New(&buf).Level(zerolog.DebugLevel)).With(watermill.LogFields{"topic": "x"})
	l.Info("delivered", watermill.LogFields{"n": 1})
	l.Error("failed", errors.New("boom"), nil)
	out := buf.String()
	require.Contains(t, out, `"level":"debug"`)
	require.Contains(t, out, `"topic":"x"`)
	require.Contains(t, out, `"level":"error"`)
	require.Contains(t, out, `"error":"boom"`)
}
