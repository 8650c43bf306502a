package cmds

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatstream/pkg/backend"
	"github.com/go-go-golems/chatstream/pkg/chatrunner"
	"github.com/go-go-golems/chatstream/pkg/mirror"
	"github.com/go-go-golems/chatstream/pkg/redisstream"
	"github.com/go-go-golems/chatstream/pkg/updates"
)

// conversation bundles a controller with the bus its updates are published on.
type conversation struct {
	ctrl   *chatrunner.Controller
	bus    *redisstream.Bus
	topic  string
	client *backend.Client
}

func (c *conversation) Close() error {
	return c.bus.Close()
}

// subscribe returns a subscriber for consumer name on the conversation topic, creating the
// Redis consumer group at the stream tail when needed.
func (c *conversation) subscribe(ctx context.Context, rt *Runtime, name string) (message.Subscriber, error) {
	sub, err := c.bus.SubscriberFor(name)
	if err != nil {
		return nil, err
	}
	if rt.Settings.Redis.Enabled {
		if err := redisstream.EnsureGroupAtTail(ctx, rt.Settings.Redis.Addr, c.topic, c.bus.GroupFor(name)); err != nil {
			return nil, errors.Wrap(err, "ensure redis consumer group")
		}
	}
	return sub, nil
}

// serveMirror runs the websocket mirror until ctx is done.
func (c *conversation) serveMirror(ctx context.Context, rt *Runtime, addr string) error {
	sub, err := c.subscribe(ctx, rt, "mirror")
	if err != nil {
		return err
	}
	srv := mirror.NewServer(c.ctrl)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Follow(ctx, sub)
	}()
	if err := srv.ListenAndServe(ctx, addr); err != nil {
		return err
	}
	return <-errCh
}

func (rt *Runtime) startConversation(ctx context.Context, sessionID string, sinks ...updates.Sink) (*conversation, error) {
	client, err := rt.Client()
	if err != nil {
		return nil, err
	}

	b := chatrunner.NewControllerBuilder().
		WithTransport(client).
		WithHistoryLoader(client).
		WithTurnTimeout(rt.Settings.TurnTimeout)

	sessionID = strings.TrimSpace(sessionID)
	if sessionID != "" {
		history, err := client.LoadHistory(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		b = b.WithSession(sessionID, history)
	}

	bus, err := redisstream.BuildBus(rt.Settings.Redis)
	if err != nil {
		return nil, err
	}

	key := uuid.NewString()
	topic := updates.TopicForConversation(key)
	sinks = append(sinks, updates.NewLogSink(), updates.NewWatermillSink(bus.Publisher, topic))

	ctrl, err := b.
		WithConversationKey(key).
		WithSinks(sinks...).
		WithSessionNotifier(func(id string) {
			log.Info().Str("component", "chat").Str("conv_key", key).Str("session_id", id).Msg("conversation stored as session")
		}).
		Build()
	if err != nil {
		_ = bus.Close()
		return nil, err
	}
	return &conversation{ctrl: ctrl, bus: bus, topic: topic, client: client}, nil
}
