package redisstream

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatstream/pkg/updates"
)

// Bus is the publisher/subscriber pair carrying conversation updates.
type Bus struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber

	settings Settings
	client   *redis.Client
	closers  []func() error
}

// SubscriberFor returns a subscriber for an additional independent consumer. In memory every
// subscription already receives every message; on Redis the consumer gets its own group so it
// is not load-balanced against the others.
func (b *Bus) SubscriberFor(name string) (message.Subscriber, error) {
	if b == nil {
		return nil, errors.New("bus is nil")
	}
	if b.client == nil {
		return b.Subscriber, nil
	}
	logger := updates.NewWatermillLogger(log.With().Str("component", "bus").Str("consumer", name).Logger())
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        b.client,
		Unmarshaller:  rstream.DefaultMarshallerUnmarshaller{},
		ConsumerGroup: b.settings.Group + "-" + name,
		Consumer:      b.settings.Consumer,
	}, logger)
	if err != nil {
		return nil, errors.Wrapf(err, "create redis stream subscriber for %s", name)
	}
	b.closers = append([]func() error{sub.Close}, b.closers...)
	return sub, nil
}

// GroupFor names the consumer group used by SubscriberFor(name).
func (b *Bus) GroupFor(name string) string {
	if name == "" {
		return b.settings.Group
	}
	return b.settings.Group + "-" + name
}

// Close releases the publisher, the subscriber and any client they share.
func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	var firstErr error
	for _, c := range b.closers {
		// watermill's redis publisher and subscriber both close the shared client.
		if err := c(); err != nil && !errors.Is(err, redis.ErrClosed) && firstErr == nil {
			firstErr = err
		}
	}
	b.closers = nil
	return firstErr
}

// BuildBus constructs a Redis Streams backed bus when enabled. Otherwise it returns an
// in-process bus whose Publish blocks until subscribers ack, which keeps per-topic delivery
// in publish order.
func BuildBus(s Settings) (*Bus, error) {
	logger := updates.NewWatermillLogger(log.With().Str("component", "bus").Logger())

	if !s.Enabled {
		gc := gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            256,
			BlockPublishUntilSubscriberAck: true,
		}, logger)
		return &Bus{
			Publisher:  gc,
			Subscriber: gc,
			settings:   s,
			closers:    []func() error{gc.Close},
		}, nil
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{Addr: s.Addr})
	marshaler := rstream.DefaultMarshallerUnmarshaller{}

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, logger)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "create redis stream publisher")
	}

	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  marshaler,
		ConsumerGroup: s.Group,
		Consumer:      s.Consumer,
	}, logger)
	if err != nil {
		_ = pub.Close()
		_ = client.Close()
		return nil, errors.Wrap(err, "create redis stream subscriber")
	}

	log.Info().Str("component", "bus").Str("addr", s.Addr).Str("group", s.Group).Msg("using redis streams for conversation updates")
	return &Bus{
		Publisher:  pub,
		Subscriber: sub,
		settings:   s,
		client:     client,
		closers:    []func() error{sub.Close, pub.Close},
	}, nil
}

// EnsureGroupAtTail creates a consumer group, such as one named by GroupFor, at the tail ($) of
// a conversation stream so a new consumer sees only updates published after it joined.
func EnsureGroupAtTail(ctx context.Context, addr, stream, group string) error {
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer func() { _ = client.Close() }()
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil {
		// Ignore BUSYGROUP errors (group already exists)
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return errors.Wrapf(err, "create consumer group %s on %s", group, stream)
	}
	log.Info().Str("component", "bus").Str("stream", stream).Str("group", group).Msg("created consumer group at stream tail")
	return nil
}
