// Package transcript owns the ordered message list of one conversation and applies stream
// events to it.
//
// The transcript is append-only: messages are never removed or reordered, a message's
// thinking steps only grow, and its content only grows except when a response event
// replaces it wholesale. Readers get deep copies and may call in from any goroutine.
package transcript

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/go-go-golems/chatstream/pkg/events"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Attachment is an opaque reference produced by the upload collaborator.
type Attachment struct {
	Filename    string `json:"filename" yaml:"filename"`
	URL         string `json:"url" yaml:"url"`
	ContentType string `json:"content_type,omitempty" yaml:"content_type,omitempty"`
}

type Message struct {
	Role     Role     `json:"role" yaml:"role"`
	Content  string   `json:"content" yaml:"content"`
	Thinking []string `json:"thinking,omitempty" yaml:"thinking,omitempty"`
	// CorrelationID routes stream events to this message. Empty for messages loaded
	// from history; never sent to the server.
	CorrelationID string       `json:"-" yaml:"-"`
	Attachments   []Attachment `json:"attachments,omitempty" yaml:"attachments,omitempty"`
	// Notice marks the synthetic message appended when the transport fails.
	Notice bool `json:"notice,omitempty" yaml:"notice,omitempty"`
}

func (m Message) clone() Message {
	out := m
	if m.Thinking != nil {
		out.Thinking = append([]string(nil), m.Thinking...)
	}
	if m.Attachments != nil {
		out.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	return out
}

type ChangeKind string

const (
	ChangeNone     ChangeKind = ""
	ChangeThinking ChangeKind = "thinking"
	ChangeAppend   ChangeKind = "append"
	ChangeReplace  ChangeKind = "replace"
)

// Change describes one mutation performed by Apply.
type Change struct {
	Kind    ChangeKind
	Index   int
	Message Message
}

// Option configures a Transcript.
type Option func(*Transcript)

// WithIDGenerator replaces the correlation id generator (UUIDv4 by default).
func WithIDGenerator(gen func() string) Option {
	return func(t *Transcript) {
		if gen != nil {
			t.newID = gen
		}
	}
}

type Transcript struct {
	mu       sync.RWMutex
	messages []Message
	byCorr   map[string]int
	newID    func() string
}

// New creates a transcript seeded with history. Seeded messages are copied and lose any
// correlation id they carried.
func New(history []Message, opts ...Option) *Transcript {
	t := &Transcript{
		messages: make([]Message, 0, len(history)+2),
		byCorr:   map[string]int{},
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(t)
	}
	for _, m := range history {
		m = m.clone()
		m.CorrelationID = ""
		t.messages = append(t.messages, m)
	}
	return t
}

// BeginTurn appends the user message and an empty assistant placeholder. The placeholder's
// correlation id is the only target for the turn's events.
func (t *Transcript) BeginTurn(text string, attachments []Attachment) (user Message, placeholder Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	user = Message{Role: RoleUser, Content: text}
	if len(attachments) > 0 {
		user.Attachments = append([]Attachment(nil), attachments...)
	}
	t.messages = append(t.messages, user)

	id := t.mintIDLocked()
	placeholder = Message{Role: RoleAssistant, Thinking: []string{}, CorrelationID: id}
	t.messages = append(t.messages, placeholder)
	t.byCorr[id] = len(t.messages) - 1

	return user.clone(), placeholder.clone()
}

func (t *Transcript) mintIDLocked() string {
	for {
		id := t.newID()
		if id == "" {
			id = uuid.NewString()
		}
		if _, taken := t.byCorr[id]; !taken {
			return id
		}
	}
}

// Apply routes ev to the message identified by correlationID. It reports whether the
// transcript changed. Events that carry no transcript mutation and unknown correlation ids
// are no-ops.
func (t *Transcript) Apply(correlationID string, ev events.Event) (Change, bool) {
	if ev == nil || correlationID == "" {
		return Change{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	idx, ok := t.byCorr[correlationID]
	if !ok {
		return Change{}, false
	}
	m := &t.messages[idx]

	var kind ChangeKind
	switch e := ev.(type) {
	case events.EventThought:
		m.Thinking = append(m.Thinking, e.Text)
		kind = ChangeThinking
	case events.EventToken:
		if e.Text == "" {
			return Change{}, false
		}
		m.Content += e.Text
		kind = ChangeAppend
	case events.EventResponse:
		m.Content = e.Text
		kind = ChangeReplace
	case events.EventSessionID, events.EventError, events.EventDone:
		return Change{}, false
	default:
		return Change{}, false
	}
	return Change{Kind: kind, Index: idx, Message: m.clone()}, true
}

// AppendNotice appends a standalone assistant message carrying a fixed notice text.
func (t *Transcript) AppendNotice(text string) (int, Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := Message{Role: RoleAssistant, Content: text, Notice: true}
	t.messages = append(t.messages, m)
	return len(t.messages) - 1, m.clone()
}

// Messages returns a deep copy of the transcript in display order.
func (t *Transcript) Messages() []Message {
	if t == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Message, len(t.messages))
	for i, m := range t.messages {
		out[i] = m.clone()
	}
	return out
}

// Message returns a copy of the message with the given correlation id.
func (t *Transcript) Message(correlationID string) (Message, bool) {
	if t == nil {
		return Message{}, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx, ok := t.byCorr[correlationID]
	if !ok {
		return Message{}, false
	}
	return t.messages[idx].clone(), true
}

// IndexOf returns the display index of the message with the given correlation id.
func (t *Transcript) IndexOf(correlationID string) (int, bool) {
	if t == nil {
		return -1, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx, ok := t.byCorr[correlationID]
	if !ok {
		return -1, false
	}
	return idx, true
}

func (t *Transcript) Len() int {
	if t == nil {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// LastAssistant returns the most recent non-empty assistant reply, skipping notices.
func (t *Transcript) LastAssistant() (Message, bool) {
	if t == nil {
		return Message{}, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i := len(t.messages) - 1; i >= 0; i-- {
		m := t.messages[i]
		if m.Role == RoleAssistant && !m.Notice && strings.TrimSpace(m.Content) != "" {
			return m.clone(), true
		}
	}
	return Message{}, false
}
