package render

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/go-go-golems/chatstream/pkg/chatrunner"
	"github.com/go-go-golems/chatstream/pkg/transcript"
	"github.com/go-go-golems/chatstream/pkg/updates"
)

type streamEntry struct {
	content  string
	thoughts int
	open     bool
}

// StreamPrinter is an updates.Sink that prints assistant output as it streams in. Content that
// extends what was already printed is written as a delta; a replacement is reprinted whole.
type StreamPrinter struct {
	p *Printer
	// EchoUser also prints user messages, for transcripts the caller did not type itself.
	EchoUser bool

	mu      sync.Mutex
	entries map[int]*streamEntry
	dirty   bool
}

var _ updates.Sink = &StreamPrinter{}

func NewStreamPrinter(p *Printer) *StreamPrinter {
	return &StreamPrinter{p: p, entries: map[int]*streamEntry{}}
}

func (s *StreamPrinter) Publish(_ context.Context, u updates.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sb strings.Builder
	switch u.Kind {
	case updates.KindMessageAppended:
		if u.Message != nil {
			s.appended(&sb, u.Index, *u.Message)
		}
	case updates.KindMessageUpdated:
		if u.Message != nil {
			s.updated(&sb, u.Index, *u.Message)
		}
	case updates.KindSessionAssigned:
		s.breakLine(&sb)
		sb.WriteString(s.p.style(s.p.styles.meta, "session "+u.SessionID))
		sb.WriteString("\n")
	case updates.KindTurnError:
		s.breakLine(&sb)
		sb.WriteString(s.p.Notice("error: " + u.Error))
		sb.WriteString("\n")
	case updates.KindTurnState:
		if u.State == string(chatrunner.StateSettled) && s.dirty {
			sb.WriteString("\n\n")
			s.dirty = false
			s.entries = map[int]*streamEntry{}
		}
	case updates.KindTranscriptReset:
		s.entries = map[int]*streamEntry{}
		s.dirty = false
		if err := s.p.Transcript(u.Messages); err != nil {
			return err
		}
	}

	if sb.Len() == 0 {
		return nil
	}
	if _, err := io.WriteString(s.p.out, sb.String()); err != nil {
		return errors.Wrap(err, "write stream output")
	}
	return nil
}

// breakLine ends a partially printed content line.
func (s *StreamPrinter) breakLine(sb *strings.Builder) {
	for _, e := range s.entries {
		if e.open {
			sb.WriteString("\n")
			e.open = false
		}
	}
}

func (s *StreamPrinter) appended(sb *strings.Builder, idx int, m transcript.Message) {
	switch {
	case m.Notice:
		s.breakLine(sb)
		sb.WriteString(s.p.Notice(m.Content))
		sb.WriteString("\n")
		s.dirty = true
	case m.Role == transcript.RoleUser:
		if !s.EchoUser {
			return
		}
		sb.WriteString(s.p.Label(m.Role))
		sb.WriteString("\n")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
		for _, a := range m.Attachments {
			sb.WriteString(s.p.style(s.p.styles.meta, fmt.Sprintf("attachment: %s <%s>", a.Filename, a.URL)))
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	default:
		s.entries[idx] = &streamEntry{}
		sb.WriteString(s.p.Label(m.Role))
		sb.WriteString("\n")
		s.dirty = true
		s.updated(sb, idx, m)
	}
}

func (s *StreamPrinter) updated(sb *strings.Builder, idx int, m transcript.Message) {
	e, ok := s.entries[idx]
	if !ok {
		e = &streamEntry{}
		s.entries[idx] = e
		sb.WriteString(s.p.Label(m.Role))
		sb.WriteString("\n")
	}
	s.dirty = true

	for ; e.thoughts < len(m.Thinking); e.thoughts++ {
		if e.open {
			sb.WriteString("\n")
			e.open = false
		}
		sb.WriteString(s.p.Thought(m.Thinking[e.thoughts]))
		sb.WriteString("\n")
	}

	switch {
	case m.Content == e.content:
	case strings.HasPrefix(m.Content, e.content):
		sb.WriteString(m.Content[len(e.content):])
		e.open = true
	default:
		if e.open {
			sb.WriteString("\n")
		}
		sb.WriteString(m.Content)
		e.open = true
	}
	e.content = m.Content
}
