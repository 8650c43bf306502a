package updates

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const topicPrefix = "chatstream."

// TopicForConversation names the bus topic carrying one conversation's updates.
func TopicForConversation(convKey string) string {
	return topicPrefix + strings.TrimSpace(convKey)
}

// WatermillSink publishes updates as JSON messages on a watermill topic.
type WatermillSink struct {
	publisher message.Publisher
	topic     string
}

var _ Sink = &WatermillSink{}

func NewWatermillSink(publisher message.Publisher, topic string) *WatermillSink {
	return &WatermillSink{publisher: publisher, topic: topic}
}

func (s *WatermillSink) Publish(ctx context.Context, u Update) error {
	if s == nil || s.publisher == nil {
		return errors.New("watermill sink: no publisher")
	}
	b, err := json.Marshal(u)
	if err != nil {
		return errors.Wrap(err, "watermill sink: marshal update")
	}
	msg := message.NewMessage(watermill.NewUUID(), b)
	msg.Metadata.Set("kind", string(u.Kind))
	msg.Metadata.Set("seq", strconv.FormatUint(u.Seq, 10))
	msg.Metadata.Set("conv_key", u.ConversationKey)
	if ctx != nil {
		msg.SetContext(ctx)
	}
	if err := s.publisher.Publish(s.topic, msg); err != nil {
		return errors.Wrapf(err, "watermill sink: publish to %s", s.topic)
	}
	return nil
}

// Decode parses a bus message payload back into an Update.
func Decode(msg *message.Message) (Update, error) {
	var u Update
	if msg == nil {
		return u, errors.New("updates: nil message")
	}
	if err := json.Unmarshal(msg.Payload, &u); err != nil {
		return u, errors.Wrap(err, "updates: decode payload")
	}
	return u, nil
}

// Forward subscribes to topic and hands every decoded update to fn until ctx is done or the
// subscription closes. Undecodable messages are acked and skipped; an fn error is logged and
// the message still acked so one bad renderer call cannot wedge the bus.
func Forward(ctx context.Context, sub message.Subscriber, topic string, fn func(Update) error) error {
	if sub == nil {
		return errors.New("updates: nil subscriber")
	}
	ch, err := sub.Subscribe(ctx, topic)
	if err != nil {
		return errors.Wrapf(err, "updates: subscribe %s", topic)
	}
	logger := log.With().Str("component", "updates").Str("topic", topic).Logger()
	logger.Debug().Msg("forwarder started")
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("forwarder stopped")
			return nil
		case msg, ok := <-ch:
			if !ok {
				logger.Debug().Msg("subscription closed")
				return nil
			}
			u, err := Decode(msg)
			if err != nil {
				logger.Warn().Err(err).Msg("dropping undecodable update")
				msg.Ack()
				continue
			}
			if err := fn(u); err != nil {
				logger.Warn().Err(err).Uint64("seq", u.Seq).Str("kind", string(u.Kind)).Msg("update handler failed")
			}
			msg.Ack()
		}
	}
}

// zerologAdapter routes watermill's internal logging through zerolog. Watermill logs routine
// delivery at info level, which is demoted to debug here.
type zerologAdapter struct {
	logger zerolog.Logger
}

// NewWatermillLogger wraps a zerolog logger as a watermill.LoggerAdapter.
func NewWatermillLogger(logger zerolog.Logger) watermill.LoggerAdapter {
	return &zerologAdapter{logger: logger}
}

func (a *zerologAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.logger.Error().Err(err).Fields(map[string]interface{}(fields)).Msg(msg)
}

func (a *zerologAdapter) Info(msg string, fields watermill.LogFields) {
	a.logger.Debug().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (a *zerologAdapter) Debug(msg string, fields watermill.LogFields) {
	a.logger.Debug().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (a *zerologAdapter) Trace(msg string, fields watermill.LogFields) {
	a.logger.Trace().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (a *zerologAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &zerologAdapter{logger: a.logger.With().Fields(map[string]interface{}(fields)).Logger()}
}
