package cmds

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/chatstream/pkg/ui"
	"github.com/go-go-golems/chatstream/pkg/updates"
)

func NewTUICommand(rt *Runtime) *cobra.Command {
	var (
		sessionID string
		pick      bool
	)
	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Full-screen chat interface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if pick && sessionID == "" {
				client, err := rt.Client()
				if err != nil {
					return err
				}
				sessions, err := client.ListSessions(ctx)
				if err != nil {
					return err
				}
				sessionID, err = ui.PickSession(sessions)
				if err != nil {
					return err
				}
			}

			conv, err := rt.startConversation(ctx, sessionID)
			if err != nil {
				return err
			}
			defer func() {
				_ = conv.Close()
			}()

			sub, err := conv.subscribe(ctx, rt, "tui")
			if err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(ctx)
			gctx, cancel := context.WithCancel(gctx)

			model := ui.NewModel(gctx, conv.ctrl)
			p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(gctx))

			g.Go(func() error {
				return updates.Forward(gctx, sub, conv.topic, ui.ForwardFunc(p))
			})
			if addr := rt.Settings.MirrorAddr; addr != "" {
				g.Go(func() error {
					return conv.serveMirror(gctx, rt, addr)
				})
			}
			g.Go(func() error {
				defer cancel()
				_, err := p.Run()
				if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
					return errors.Wrap(err, "run tui")
				}
				return nil
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Continue a stored conversation")
	cmd.Flags().BoolVar(&pick, "pick", false, "Choose a stored conversation to continue")
	return cmd
}
