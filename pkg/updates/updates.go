// Package updates carries transcript change notifications from a conversation controller to
// renderers: an in-process TUI, the websocket mirror, or a log.
package updates

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatstream/pkg/transcript"
)

type Kind string

const (
	KindMessageAppended Kind = "message.appended"
	KindMessageUpdated  Kind = "message.updated"
	KindSessionAssigned Kind = "session.assigned"
	KindTurnState       Kind = "turn.state"
	KindTurnError       Kind = "turn.error"
	KindTranscriptReset Kind = "transcript.reset"
)

// Update is one change to a conversation. Seq is strictly increasing per conversation key.
type Update struct {
	Seq             uint64 `json:"seq"`
	Kind            Kind   `json:"kind"`
	ConversationKey string `json:"conv_key"`

	// Index is the display position of Message for message.* kinds.
	Index   int                 `json:"index"`
	Message *transcript.Message `json:"message,omitempty"`
	// Messages carries the full transcript for transcript.reset.
	Messages []transcript.Message `json:"messages,omitempty"`

	SessionID string `json:"session_id,omitempty"`
	State     string `json:"state,omitempty"`
	Error     string `json:"error,omitempty"`

	At time.Time `json:"at"`
}

// Sink receives updates in the order they were produced. Publish should not block for long:
// the controller calls it synchronously between stream reads.
type Sink interface {
	Publish(ctx context.Context, u Update) error
}

type SinkFunc func(ctx context.Context, u Update) error

func (f SinkFunc) Publish(ctx context.Context, u Update) error {
	if f == nil {
		return nil
	}
	return f(ctx, u)
}

// LogSink writes every update to the logger at debug level.
type LogSink struct {
	Logger zerolog.Logger
}

func NewLogSink() *LogSink {
	return &LogSink{Logger: log.With().Str("component", "updates").Logger()}
}

func (s *LogSink) Publish(_ context.Context, u Update) error {
	if s == nil {
		return nil
	}
	ev := s.Logger.Debug().
		Uint64("seq", u.Seq).
		Str("kind", string(u.Kind)).
		Str("conv_key", u.ConversationKey)
	if u.Message != nil {
		ev = ev.Int("index", u.Index).Str("role", string(u.Message.Role)).Int("content_len", len(u.Message.Content))
	}
	if u.SessionID != "" {
		ev = ev.Str("session_id", u.SessionID)
	}
	if u.State != "" {
		ev = ev.Str("state", u.State)
	}
	if u.Error != "" {
		ev = ev.Str("error", u.Error)
	}
	ev.Msg("conversation update")
	return nil
}
