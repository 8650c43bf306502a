// Package ui is the full-screen terminal front-end for a conversation.
package ui

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatstream/pkg/chatrunner"
	"github.com/go-go-golems/chatstream/pkg/render"
	"github.com/go-go-golems/chatstream/pkg/transcript"
	"github.com/go-go-golems/chatstream/pkg/updates"
)

const (
	inputHeight  = 3
	chromeHeight = 2
)

// Conversation is what the model drives; *chatrunner.Controller implements it.
type Conversation interface {
	Submit(ctx context.Context, sub chatrunner.Submission) (chatrunner.TurnResult, error)
	Reset(ctx context.Context) error
	Messages() []transcript.Message
	SessionID() string
}

type turnDoneMsg struct {
	res chatrunner.TurnResult
	err error
}

type copiedMsg struct {
	err error
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

type Model struct {
	ctx   context.Context
	conv  Conversation
	title string

	messages  []transcript.Message
	sessionID string
	busy      bool
	status    string
	failed    bool

	input   textarea.Model
	vp      viewport.Model
	spin    spinner.Model
	printer *render.Printer
	width   int
	height  int

	writeClipboard func(string) error
}

type ModelOption func(*Model)

func WithTitle(title string) ModelOption {
	return func(m *Model) {
		m.title = title
	}
}

// WithClipboard replaces the clipboard writer used by ctrl+y.
func WithClipboard(fn func(string) error) ModelOption {
	return func(m *Model) {
		if fn != nil {
			m.writeClipboard = fn
		}
	}
}

func NewModel(ctx context.Context, conv Conversation, opts ...ModelOption) Model {
	ta := textarea.New()
	ta.Placeholder = "Ask something… (enter to send, ctrl+y to copy the last reply)"
	ta.ShowLineNumbers = false
	ta.KeyMap.InsertNewline.SetEnabled(false)
	ta.SetHeight(inputHeight)
	ta.Focus()

	m := Model{
		ctx:            ctx,
		conv:           conv,
		title:          "chatstream",
		messages:       conv.Messages(),
		sessionID:      conv.SessionID(),
		input:          ta,
		vp:             viewport.New(80, 20),
		spin:           spinner.New(spinner.WithSpinner(spinner.Dot)),
		printer:        render.NewStyledPrinter(io.Discard, 80),
		writeClipboard: clipboard.WriteAll,
	}
	for _, opt := range opts {
		opt(&m)
	}
	m.refresh()
	return m
}

func (m Model) Init() tea.Cmd {
	return textarea.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.input.SetWidth(msg.Width)
		m.vp.Width = msg.Width
		m.vp.Height = max(1, msg.Height-inputHeight-chromeHeight)
		m.printer = render.NewStyledPrinter(io.Discard, max(20, msg.Width-2))
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			return m.submit()
		case "ctrl+y":
			return m, m.copyLastReply()
		case "ctrl+n":
			if m.busy {
				m.setStatus("wait for the current reply before starting a new conversation", true)
				return m, nil
			}
			if err := m.conv.Reset(m.ctx); err != nil {
				m.setStatus(err.Error(), true)
				return m, nil
			}
			m.messages = m.conv.Messages()
			m.sessionID = ""
			m.setStatus("new conversation", false)
			m.refresh()
			return m, nil
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.vp, cmd = m.vp.Update(msg)
			return m, cmd
		}

	case UpdateMsg:
		m.apply(msg.Update)
		m.refresh()
		return m, nil

	case turnDoneMsg:
		m.busy = false
		m.messages = m.conv.Messages()
		m.sessionID = m.conv.SessionID()
		switch {
		case msg.err != nil:
			m.setStatus(msg.err.Error(), true)
		case msg.res.Outcome == chatrunner.OutcomeError:
			m.setStatus("turn failed: "+errString(msg.res.Err), true)
		case len(msg.res.ProtocolErrors) > 0:
			m.setStatus("server error: "+strings.Join(msg.res.ProtocolErrors, "; "), true)
		default:
			m.setStatus("", false)
		}
		m.refresh()
		return m, nil

	case copiedMsg:
		if msg.err != nil {
			m.setStatus("copy failed: "+msg.err.Error(), true)
		} else {
			m.setStatus("copied last reply to clipboard", false)
		}
		return m, nil

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}
	if m.busy {
		m.setStatus("a reply is still streaming", true)
		return m, nil
	}
	m.busy = true
	m.input.Reset()
	m.setStatus("", false)

	ctx, conv := m.ctx, m.conv
	run := func() tea.Msg {
		res, err := conv.Submit(ctx, chatrunner.Submission{Text: text})
		return turnDoneMsg{res: res, err: err}
	}
	return m, tea.Batch(run, m.spin.Tick)
}

func (m Model) copyLastReply() tea.Cmd {
	var last string
	for i := len(m.messages) - 1; i >= 0; i-- {
		msg := m.messages[i]
		if msg.Role == transcript.RoleAssistant && !msg.Notice && msg.Content != "" {
			last = msg.Content
			break
		}
	}
	copyFn := m.writeClipboard
	return func() tea.Msg {
		if last == "" {
			return copiedMsg{err: errors.New("no reply to copy yet")}
		}
		return copiedMsg{err: copyFn(last)}
	}
}

// apply folds a bus update into the local copy of the transcript.
func (m *Model) apply(u updates.Update) {
	switch u.Kind {
	case updates.KindMessageAppended, updates.KindMessageUpdated:
		if u.Message == nil || u.Index < 0 {
			return
		}
		for len(m.messages) <= u.Index {
			m.messages = append(m.messages, transcript.Message{})
		}
		m.messages[u.Index] = *u.Message
	case updates.KindTranscriptReset:
		m.messages = append([]transcript.Message(nil), u.Messages...)
		m.sessionID = u.SessionID
	case updates.KindSessionAssigned:
		m.sessionID = u.SessionID
	case updates.KindTurnError:
		m.setStatus("server error: "+u.Error, true)
	case updates.KindTurnState:
		log.Trace().Str("component", "ui").Str("state", u.State).Msg("turn state")
	}
}

func (m *Model) setStatus(s string, failed bool) {
	m.status = s
	m.failed = failed
}

func (m *Model) refresh() {
	parts := make([]string, 0, len(m.messages))
	for _, msg := range m.messages {
		parts = append(parts, m.printer.Format(msg))
	}
	m.vp.SetContent(strings.Join(parts, "\n\n"))
	m.vp.GotoBottom()
}

func (m Model) View() string {
	header := titleStyle.Render(m.title)
	if m.sessionID != "" {
		header += statusStyle.Render("  session " + m.sessionID)
	}

	var status string
	switch {
	case m.busy:
		status = m.spin.View() + " streaming…"
	case m.failed:
		status = errorStyle.Render(m.status)
	default:
		status = statusStyle.Render(m.status)
	}

	return fmt.Sprintf("%s\n%s\n%s\n%s", header, m.vp.View(), status, m.input.View())
}

// Messages is the transcript as currently displayed.
func (m Model) Messages() []transcript.Message {
	return m.messages
}

func (m Model) Busy() bool {
	return m.busy
}

func (m Model) Status() string {
	return m.status
}

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
