// Package events interprets decoded stream frames as typed conversation events.
package events

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatstream/pkg/sse"
)

type EventType string

const (
	EventTypeSessionID EventType = "session_id"
	EventTypeThought   EventType = "thought"
	EventTypeToken     EventType = "token"
	EventTypeResponse  EventType = "response"
	EventTypeError     EventType = "error"
	EventTypeDone      EventType = "done"
)

// Terminator is the payload that ends a stream without carrying an event.
const Terminator = "[DONE]"

// Event is the closed set of stream events. The unexported method keeps the set closed
// so consumers can switch over the concrete types exhaustively.
type Event interface {
	Type() EventType
	isEvent()
}

// EventSessionID carries the session identity committed by the server.
type EventSessionID struct {
	ID string
}

// EventThought is one discrete reasoning step.
type EventThought struct {
	Text string
}

// EventToken is an incremental fragment of the assistant reply.
type EventToken struct {
	Text string
}

// EventResponse replaces the accumulated assistant reply.
type EventResponse struct {
	Text string
}

// EventError is a protocol-level error notice. It does not end the stream.
type EventError struct {
	Message string
}

// EventDone is the structured end-of-stream sentinel.
type EventDone struct{}

func (EventSessionID) Type() EventType { return EventTypeSessionID }
func (EventThought) Type() EventType   { return EventTypeThought }
func (EventToken) Type() EventType     { return EventTypeToken }
func (EventResponse) Type() EventType  { return EventTypeResponse }
func (EventError) Type() EventType     { return EventTypeError }
func (EventDone) Type() EventType      { return EventTypeDone }

func (EventSessionID) isEvent() {}
func (EventThought) isEvent()   {}
func (EventToken) isEvent()     {}
func (EventResponse) isEvent()  {}
func (EventError) isEvent()     {}
func (EventDone) isEvent()      {}

// record is the wire shape of a frame payload.
type record struct {
	Type    EventType `json:"type"`
	Content string    `json:"content,omitempty"`
}

// Interpret maps a frame to an event. stop is true when the stream must end now, either
// because of the terminator payload (ev is nil) or a structured done event.
// Malformed payloads and unknown discriminants yield (nil, false) so decoding continues.
func Interpret(f sse.Frame) (ev Event, stop bool) {
	payload := f.Payload()
	if payload == Terminator {
		return nil, true
	}
	if payload == "" {
		return nil, false
	}

	var rec record
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		log.Debug().Err(err).Str("component", "events").Int("payload_len", len(payload)).Msg("dropping malformed frame")
		return nil, false
	}

	switch rec.Type {
	case EventTypeSessionID:
		return EventSessionID{ID: rec.Content}, false
	case EventTypeThought:
		return EventThought{Text: rec.Content}, false
	case EventTypeToken:
		return EventToken{Text: rec.Content}, false
	case EventTypeResponse:
		return EventResponse{Text: rec.Content}, false
	case EventTypeError:
		return EventError{Message: rec.Content}, false
	case EventTypeDone:
		return EventDone{}, true
	default:
		log.Debug().Str("component", "events").Str("type", string(rec.Type)).Msg("ignoring unknown event type")
		return nil, false
	}
}

// Encode renders ev as a complete wire frame, separator included.
func Encode(ev Event) ([]byte, error) {
	rec := record{Type: ev.Type()}
	switch e := ev.(type) {
	case EventSessionID:
		rec.Content = e.ID
	case EventThought:
		rec.Content = e.Text
	case EventToken:
		rec.Content = e.Text
	case EventResponse:
		rec.Content = e.Text
	case EventError:
		rec.Content = e.Message
	case EventDone:
	default:
		return nil, errors.Errorf("events: cannot encode %T", ev)
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, errors.Wrap(err, "events: marshal record")
	}
	return []byte(sse.DataMarker + " " + string(b) + "\n\n"), nil
}

// TerminatorFrame is the wire frame that ends a stream.
func TerminatorFrame() []byte {
	return []byte(sse.DataMarker + " " + Terminator + "\n\n")
}
