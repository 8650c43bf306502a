// Package render prints transcripts to a terminal or a plain writer.
package render

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/go-go-golems/chatstream/pkg/transcript"
)

const defaultWidth = 80

type styles struct {
	user      lipgloss.Style
	assistant lipgloss.Style
	thought   lipgloss.Style
	notice    lipgloss.Style
	meta      lipgloss.Style
}

func newStyles() styles {
	return styles{
		user:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		assistant: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
		thought:   lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("8")),
		notice:    lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		meta:      lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	}
}

// Printer writes messages to out. Styling and markdown rendering are only applied when out
// is a terminal.
type Printer struct {
	out    io.Writer
	styled bool
	width  int
	styles styles
	md     *glamour.TermRenderer
}

// NewPrinter inspects out to decide whether to style output.
func NewPrinter(out io.Writer) *Printer {
	styled, width := terminalInfo(out)
	return newPrinter(out, styled, width)
}

// NewStyledPrinter always styles, wrapping markdown at width.
func NewStyledPrinter(out io.Writer, width int) *Printer {
	if width <= 0 {
		width = defaultWidth
	}
	return newPrinter(out, true, width)
}

// NewPlainPrinter never styles its output.
func NewPlainPrinter(out io.Writer) *Printer {
	return newPrinter(out, false, defaultWidth)
}

func newPrinter(out io.Writer, styled bool, width int) *Printer {
	p := &Printer{out: out, styled: styled, width: width, styles: newStyles()}
	if styled {
		md, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle("dark"),
			glamour.WithWordWrap(width),
			glamour.WithColorProfile(termenv.EnvColorProfile()),
		)
		if err != nil {
			log.Warn().Err(err).Str("component", "render").Msg("markdown renderer unavailable, printing plain text")
		} else {
			p.md = md
		}
	}
	return p
}

func terminalInfo(w io.Writer) (bool, int) {
	f, ok := w.(*os.File)
	if !ok {
		return false, defaultWidth
	}
	if !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd()) {
		return false, defaultWidth
	}
	if termenv.EnvNoColor() {
		return false, defaultWidth
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		width = defaultWidth
	}
	return true, width
}

func (p *Printer) Styled() bool {
	return p.styled
}

func (p *Printer) style(s lipgloss.Style, text string) string {
	if !p.styled {
		return text
	}
	return s.Render(text)
}

// Label returns the styled speaker heading for role.
func (p *Printer) Label(role transcript.Role) string {
	if role == transcript.RoleUser {
		return p.style(p.styles.user, "You")
	}
	return p.style(p.styles.assistant, "Assistant")
}

func (p *Printer) Thought(text string) string {
	return p.style(p.styles.thought, "· "+text)
}

func (p *Printer) Notice(text string) string {
	return p.style(p.styles.notice, text)
}

// Markdown renders assistant content, falling back to the raw text.
func (p *Printer) Markdown(text string) string {
	if p.md == nil || strings.TrimSpace(text) == "" {
		return text
	}
	out, err := p.md.Render(text)
	if err != nil {
		log.Debug().Err(err).Str("component", "render").Msg("markdown render failed")
		return text
	}
	return strings.TrimRight(out, "\n")
}

// Format renders one message with its heading, thoughts and attachments.
func (p *Printer) Format(m transcript.Message) string {
	var sb strings.Builder
	sb.WriteString(p.Label(m.Role))
	sb.WriteString("\n")
	for _, th := range m.Thinking {
		sb.WriteString(p.Thought(th))
		sb.WriteString("\n")
	}
	for _, a := range m.Attachments {
		sb.WriteString(p.style(p.styles.meta, fmt.Sprintf("attachment: %s <%s>", a.Filename, a.URL)))
		sb.WriteString("\n")
	}
	switch {
	case m.Notice:
		sb.WriteString(p.Notice(m.Content))
	case m.Role == transcript.RoleAssistant:
		sb.WriteString(p.Markdown(m.Content))
	default:
		sb.WriteString(m.Content)
	}
	return sb.String()
}

// Message prints one message followed by a blank line.
func (p *Printer) Message(m transcript.Message) error {
	if _, err := io.WriteString(p.out, p.Format(m)+"\n\n"); err != nil {
		return errors.Wrap(err, "write message")
	}
	return nil
}

func (p *Printer) Transcript(msgs []transcript.Message) error {
	for _, m := range msgs {
		if err := p.Message(m); err != nil {
			return err
		}
	}
	return nil
}
