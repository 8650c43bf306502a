// Package chatrunner drives one conversation against a streaming chat endpoint: it records the
// user turn, opens the stream, folds its events into the transcript and settles the turn.
package chatrunner

import (
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatstream/pkg/events"
	"github.com/go-go-golems/chatstream/pkg/session"
	"github.com/go-go-golems/chatstream/pkg/sse"
	"github.com/go-go-golems/chatstream/pkg/transcript"
	"github.com/go-go-golems/chatstream/pkg/updates"
)

// TransportFailureNotice is appended as an assistant message when a turn fails before or
// during streaming.
const TransportFailureNotice = "Sorry, something went wrong while contacting the server. Please try again."

var (
	// ErrTurnInProgress rejects a submission made while another turn is still running.
	ErrTurnInProgress = errors.New("a turn is already in progress")
	// ErrNotIdle rejects session switches and resets while a turn is running.
	ErrNotIdle = errors.New("conversation is not idle")
)

type State string

const (
	StateIdle      State = "idle"
	StateSending   State = "sending"
	StateStreaming State = "streaming"
	StateSettled   State = "settled"
)

type Outcome string

const (
	OutcomeSkipped Outcome = "skipped"
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
)

// Request is the body posted to open a stream. SessionID is sent as null until the server
// has assigned one.
type Request struct {
	Message   string  `json:"message"`
	SessionID *string `json:"session_id"`
}

// Transport opens a response stream for a request. Any error, including a non-success
// status, is a transport failure for the turn.
type Transport interface {
	Open(ctx context.Context, req Request) (io.ReadCloser, error)
}

// HistoryLoader fetches a stored conversation by session id.
type HistoryLoader interface {
	LoadHistory(ctx context.Context, sessionID string) ([]transcript.Message, error)
}

type Submission struct {
	Text        string
	Attachments []transcript.Attachment
}

// TurnResult reports how a submission settled.
type TurnResult struct {
	Outcome       Outcome
	CorrelationID string
	// SessionAssigned is set when this turn's stream assigned the conversation's session id.
	SessionAssigned bool
	SessionID       string
	// ProtocolErrors holds the messages of error events; they do not fail the turn.
	ProtocolErrors []string
	// Terminated is set when the stream ended with its terminator rather than plain EOF.
	Terminated bool
	// DiscardedBytes counts a trailing partial frame left when the stream ended.
	DiscardedBytes int
	// Err is the transport or read failure behind OutcomeError.
	Err error
}

// Controller owns one conversation. At most one turn is in flight at a time.
type Controller struct {
	key         string
	transport   Transport
	history     HistoryLoader
	sinks       []updates.Sink
	turnTimeout time.Duration
	newID       func() string
	logger      zerolog.Logger

	mu         sync.Mutex
	state      State
	switching  bool
	transcript *transcript.Transcript
	session    *session.Reconciler

	seq atomic.Uint64
}

func (c *Controller) ConversationKey() string {
	return c.key
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) SessionID() string {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	return s.ID()
}

// Transcript returns the current transcript. It is replaced by SwitchSession and Reset, so
// callers should not hold on to it across those calls.
func (c *Controller) Transcript() *transcript.Transcript {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transcript
}

func (c *Controller) Messages() []transcript.Message {
	return c.Transcript().Messages()
}

// Submit runs one turn to completion. The returned error is non-nil only when the submission
// was rejected; transport and read failures are reported in TurnResult.Err after the failure
// notice has been appended to the transcript.
func (c *Controller) Submit(ctx context.Context, sub Submission) (TurnResult, error) {
	c.mu.Lock()
	if c.state != StateIdle || c.switching {
		c.mu.Unlock()
		return TurnResult{}, ErrTurnInProgress
	}
	if strings.TrimSpace(sub.Text) == "" && len(sub.Attachments) == 0 {
		c.mu.Unlock()
		return TurnResult{Outcome: OutcomeSkipped}, nil
	}
	c.state = StateSending
	tr, sess := c.transcript, c.session
	c.mu.Unlock()

	// Updates must still reach renderers after the caller abandons the stream.
	pubCtx := context.WithoutCancel(ctx)
	defer func() {
		c.setState(pubCtx, StateIdle)
	}()

	user, placeholder := tr.BeginTurn(sub.Text, sub.Attachments)
	res := TurnResult{CorrelationID: placeholder.CorrelationID}
	logger := c.logger.With().Str("correlation_id", placeholder.CorrelationID).Logger()

	n := tr.Len()
	c.publish(pubCtx, updates.Update{Kind: updates.KindMessageAppended, Index: n - 2, Message: &user})
	c.publish(pubCtx, updates.Update{Kind: updates.KindMessageAppended, Index: n - 1, Message: &placeholder})
	c.publish(pubCtx, updates.Update{Kind: updates.KindTurnState, State: string(StateSending)})

	sess.BeginStream()
	req := Request{Message: sub.Text}
	if id := sess.ID(); id != "" {
		req.SessionID = &id
	}

	turnCtx := ctx
	if c.turnTimeout > 0 {
		var cancel context.CancelFunc
		turnCtx, cancel = context.WithTimeout(ctx, c.turnTimeout)
		defer cancel()
	}

	logger.Debug().Bool("has_session", req.SessionID != nil).Int("attachments", len(sub.Attachments)).Msg("opening stream")
	body, err := c.transport.Open(turnCtx, req)
	if err != nil {
		return c.fail(pubCtx, tr, res, errors.Wrap(err, "open stream")), nil
	}
	if body == nil {
		return c.fail(pubCtx, tr, res, errors.New("open stream: transport returned no body")), nil
	}
	defer func() {
		_ = body.Close()
	}()

	c.setState(pubCtx, StateStreaming)

	dec := sse.NewDecoder()
	readErr := sse.ReadFrames(turnCtx, body, dec, func(f sse.Frame) bool {
		ev, stop := events.Interpret(f)
		if ev != nil {
			c.dispatch(pubCtx, tr, sess, placeholder.CorrelationID, ev, &res)
		}
		if stop {
			res.Terminated = true
			return false
		}
		return true
	})
	if discarded := dec.Finish(); discarded > 0 {
		res.DiscardedBytes = discarded
		logger.Warn().Int("bytes", discarded).Msg("stream ended inside a frame; discarding partial frame")
	}
	if dropped := dec.Dropped(); dropped > 0 {
		logger.Debug().Int("frames", dropped).Msg("skipped frames without a data payload")
	}
	res.SessionID = sess.ID()

	if readErr != nil && !res.Terminated {
		return c.fail(pubCtx, tr, res, readErr), nil
	}

	res.Outcome = OutcomeSuccess
	c.setState(pubCtx, StateSettled)
	logger.Debug().
		Bool("terminated", res.Terminated).
		Int("protocol_errors", len(res.ProtocolErrors)).
		Msg("turn settled")
	return res, nil
}

func (c *Controller) dispatch(
	ctx context.Context,
	tr *transcript.Transcript,
	sess *session.Reconciler,
	correlationID string,
	ev events.Event,
	res *TurnResult,
) {
	switch e := ev.(type) {
	case events.EventSessionID:
		if sess.Observe(e.ID) {
			res.SessionAssigned = true
			c.publish(ctx, updates.Update{Kind: updates.KindSessionAssigned, SessionID: e.ID})
		}
		return
	case events.EventError:
		res.ProtocolErrors = append(res.ProtocolErrors, e.Message)
		c.logger.Warn().Str("correlation_id", correlationID).Str("error", e.Message).Msg("server reported an error")
		c.publish(ctx, updates.Update{Kind: updates.KindTurnError, Error: e.Message})
		return
	}

	ch, ok := tr.Apply(correlationID, ev)
	if !ok {
		return
	}
	msg := ch.Message
	c.publish(ctx, updates.Update{Kind: updates.KindMessageUpdated, Index: ch.Index, Message: &msg})
}

func (c *Controller) fail(ctx context.Context, tr *transcript.Transcript, res TurnResult, err error) TurnResult {
	c.logger.Warn().Err(err).Str("correlation_id", res.CorrelationID).Msg("turn failed")
	idx, notice := tr.AppendNotice(TransportFailureNotice)
	c.publish(ctx, updates.Update{Kind: updates.KindMessageAppended, Index: idx, Message: &notice})
	c.publish(ctx, updates.Update{Kind: updates.KindTurnError, Error: err.Error()})
	c.setState(ctx, StateSettled)
	res.Outcome = OutcomeError
	res.Err = err
	return res
}

// SwitchSession replaces the transcript with the stored history of sessionID.
func (c *Controller) SwitchSession(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return errors.New("session id is empty")
	}
	if c.history == nil {
		return errors.New("no history loader configured")
	}

	c.mu.Lock()
	if c.state != StateIdle || c.switching {
		c.mu.Unlock()
		return ErrNotIdle
	}
	c.switching = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.switching = false
		c.mu.Unlock()
	}()

	msgs, err := c.history.LoadHistory(ctx, sessionID)
	if err != nil {
		return errors.Wrapf(err, "load history for session %s", sessionID)
	}

	tr := transcript.New(msgs, c.transcriptOptions()...)
	c.mu.Lock()
	c.transcript = tr
	c.session.Switch(sessionID)
	c.mu.Unlock()

	c.logger.Info().Str("session_id", sessionID).Int("messages", len(msgs)).Msg("switched session")
	c.publish(ctx, updates.Update{Kind: updates.KindTranscriptReset, SessionID: sessionID, Messages: tr.Messages()})
	return nil
}

// Reset starts a new, empty conversation with no session id.
func (c *Controller) Reset(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle || c.switching {
		c.mu.Unlock()
		return ErrNotIdle
	}
	c.transcript = transcript.New(nil, c.transcriptOptions()...)
	c.session.Switch("")
	c.mu.Unlock()

	c.publish(ctx, updates.Update{Kind: updates.KindTranscriptReset, Messages: []transcript.Message{}})
	return nil
}

func (c *Controller) transcriptOptions() []transcript.Option {
	if c.newID == nil {
		return nil
	}
	return []transcript.Option{transcript.WithIDGenerator(c.newID)}
}

func (c *Controller) setState(ctx context.Context, s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.publish(ctx, updates.Update{Kind: updates.KindTurnState, State: string(s)})
}

func (c *Controller) publish(ctx context.Context, u updates.Update) {
	if len(c.sinks) == 0 {
		return
	}
	u.Seq = c.seq.Add(1)
	u.ConversationKey = c.key
	if u.At.IsZero() {
		u.At = time.Now()
	}
	for _, s := range c.sinks {
		if err := s.Publish(ctx, u); err != nil {
			log.Warn().Err(err).Str("component", "chatrunner").Uint64("seq", u.Seq).Str("kind", string(u.Kind)).Msg("failed to publish update")
		}
	}
}
