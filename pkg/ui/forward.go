package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatstream/pkg/updates"
)

// UpdateMsg carries one conversation update into the bubbletea program.
type UpdateMsg struct {
	Update updates.Update
}

type sender interface {
	Send(msg tea.Msg)
}

// ForwardFunc returns an updates.Forward handler that injects every bus update into the
// program p as an UpdateMsg.
func ForwardFunc(p sender) func(u updates.Update) error {
	return func(u updates.Update) error {
		log.Trace().Str("component", "ui").Uint64("seq", u.Seq).Str("kind", string(u.Kind)).Msg("dispatching update to UI")
		p.Send(UpdateMsg{Update: u})
		return nil
	}
}
