package ui

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/pkg/errors"

	"github.com/go-go-golems/chatstream/pkg/backend"
)

const newConversationLabel = "New conversation"

func sessionOptions(sessions []backend.SessionSummary) []huh.Option[string] {
	opts := []huh.Option[string]{huh.NewOption(newConversationLabel, "")}
	for _, s := range sessions {
		title := s.Title
		if title == "" {
			title = s.ID
		}
		label := title
		if !s.UpdatedAt.IsZero() {
			label = fmt.Sprintf("%s (%s)", title, s.UpdatedAt.Local().Format("2006-01-02 15:04"))
		}
		opts = append(opts, huh.NewOption(label, s.ID))
	}
	return opts
}

// PickSession asks which stored conversation to resume. An empty id means a new one.
func PickSession(sessions []backend.SessionSummary) (string, error) {
	var selected string
	err := huh.NewSelect[string]().
		Title("Resume a conversation").
		Options(sessionOptions(sessions)...).
		Value(&selected).
		Run()
	if err != nil {
		return "", errors.Wrap(err, "pick session")
	}
	return selected, nil
}
