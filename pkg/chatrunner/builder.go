package chatrunner

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatstream/pkg/session"
	"github.com/go-go-golems/chatstream/pkg/transcript"
	"github.com/go-go-golems/chatstream/pkg/updates"
)

// ControllerBuilder provides a fluent API for configuring a Controller.
type ControllerBuilder struct {
	err         error
	key         string
	transport   Transport
	history     HistoryLoader
	initial     []transcript.Message
	sessionID   string
	sinks       []updates.Sink
	turnTimeout time.Duration
	newID       func() string
	notify      session.Notifier
}

func NewControllerBuilder() *ControllerBuilder {
	return &ControllerBuilder{}
}

// WithTransport sets the stream transport. Required.
func (b *ControllerBuilder) WithTransport(t Transport) *ControllerBuilder {
	if b.err != nil {
		return b
	}
	if t == nil {
		b.err = errors.New("transport cannot be nil")
		return b
	}
	b.transport = t
	return b
}

// WithHistoryLoader enables SwitchSession.
func (b *ControllerBuilder) WithHistoryLoader(h HistoryLoader) *ControllerBuilder {
	if b.err != nil {
		return b
	}
	b.history = h
	return b
}

// WithSession starts the conversation on an existing session with its loaded history.
func (b *ControllerBuilder) WithSession(sessionID string, history []transcript.Message) *ControllerBuilder {
	if b.err != nil {
		return b
	}
	b.sessionID = strings.TrimSpace(sessionID)
	b.initial = history
	return b
}

func (b *ControllerBuilder) WithSinks(sinks ...updates.Sink) *ControllerBuilder {
	if b.err != nil {
		return b
	}
	for _, s := range sinks {
		if s != nil {
			b.sinks = append(b.sinks, s)
		}
	}
	return b
}

// WithTurnTimeout bounds a whole turn, from opening the stream to its last frame.
// Zero disables the bound.
func (b *ControllerBuilder) WithTurnTimeout(d time.Duration) *ControllerBuilder {
	if b.err != nil {
		return b
	}
	if d < 0 {
		b.err = errors.Errorf("turn timeout cannot be negative: %s", d)
		return b
	}
	b.turnTimeout = d
	return b
}

func (b *ControllerBuilder) WithConversationKey(key string) *ControllerBuilder {
	if b.err != nil {
		return b
	}
	b.key = strings.TrimSpace(key)
	return b
}

// WithIDGenerator overrides how correlation ids are minted.
func (b *ControllerBuilder) WithIDGenerator(gen func() string) *ControllerBuilder {
	if b.err != nil {
		return b
	}
	b.newID = gen
	return b
}

// WithSessionNotifier is told when the server assigns a session id to a new conversation.
func (b *ControllerBuilder) WithSessionNotifier(n session.Notifier) *ControllerBuilder {
	if b.err != nil {
		return b
	}
	b.notify = n
	return b
}

func (b *ControllerBuilder) Build() (*Controller, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.transport == nil {
		return nil, errors.New("transport must be set")
	}
	key := b.key
	if key == "" {
		key = uuid.NewString()
	}

	c := &Controller{
		key:         key,
		transport:   b.transport,
		history:     b.history,
		sinks:       b.sinks,
		turnTimeout: b.turnTimeout,
		newID:       b.newID,
		logger:      log.With().Str("component", "chatrunner").Str("conv_key", key).Logger(),
		state:       StateIdle,
	}
	c.transcript = transcript.New(b.initial, c.transcriptOptions()...)
	c.session = session.NewReconciler(b.sessionID, b.notify)
	return c, nil
}
