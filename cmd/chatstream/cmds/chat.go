package cmds

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	input "github.com/tcnksm/go-input"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/chatstream/pkg/chatrunner"
	"github.com/go-go-golems/chatstream/pkg/render"
	"github.com/go-go-golems/chatstream/pkg/transcript"
)

const replHelp = `commands:
  /attach <path>   upload a file and attach it to the next message
  /new             start a new conversation
  /session <id>    continue a stored conversation
  /quit            leave
`

func NewChatCommand(rt *Runtime) *cobra.Command {
	var (
		message   string
		attach    []string
		sessionID string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the server, streaming replies as they arrive",
		Long: "Sends --message and exits once the reply is complete, or starts an interactive " +
			"prompt when no message is given. Piped stdin is read one message per line.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			printer := render.NewPrinter(out)
			stream := render.NewStreamPrinter(printer)

			conv, err := rt.startConversation(ctx, sessionID, stream)
			if err != nil {
				return err
			}
			defer func() {
				_ = conv.Close()
			}()

			if sessionID != "" {
				if err := printer.Transcript(conv.ctrl.Messages()); err != nil {
					return err
				}
			}

			g, gctx := errgroup.WithContext(ctx)
			gctx, cancel := context.WithCancel(gctx)
			if addr := rt.Settings.MirrorAddr; addr != "" {
				g.Go(func() error {
					return conv.serveMirror(gctx, rt, addr)
				})
			}
			g.Go(func() error {
				defer cancel()
				if message != "" || len(attach) > 0 {
					return oneShot(gctx, conv, message, attach)
				}
				return repl(gctx, conv, cmd.InOrStdin(), out)
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "Send this message and exit")
	cmd.Flags().StringArrayVar(&attach, "attach", nil, "Upload a file and attach it to --message (repeatable)")
	cmd.Flags().StringVar(&sessionID, "session", "", "Continue a stored conversation")
	return cmd
}

func oneShot(ctx context.Context, conv *conversation, message string, paths []string) error {
	var atts []transcript.Attachment
	for _, p := range paths {
		att, err := uploadPath(ctx, conv.client, p)
		if err != nil {
			return err
		}
		atts = append(atts, att)
	}
	res, err := conv.ctrl.Submit(ctx, chatrunner.Submission{Text: message, Attachments: atts})
	if err != nil {
		return err
	}
	if res.Outcome == chatrunner.OutcomeError {
		return errors.Wrap(res.Err, "turn failed")
	}
	return nil
}

// repl reads messages until EOF, /quit or interruption. A terminal gets a go-input prompt;
// anything else is read line by line.
func repl(ctx context.Context, conv *conversation, in io.Reader, out io.Writer) error {
	var next func() (string, bool, error)
	if f, ok := in.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		ui := &input.UI{Writer: out, Reader: in}
		_, _ = fmt.Fprint(out, replHelp+"\n")
		next = func() (string, bool, error) {
			line, err := ui.Ask(">", &input.Options{HideOrder: true})
			if err != nil {
				if errors.Is(err, input.ErrInterrupted) {
					return "", false, nil
				}
				return "", false, errors.Wrap(err, "read input")
			}
			return line, true, nil
		}
	} else {
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		next = func() (string, bool, error) {
			if !scanner.Scan() {
				return "", false, errors.Wrap(scanner.Err(), "read input")
			}
			return scanner.Text(), true, nil
		}
	}

	var pending []transcript.Attachment
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, ok, err := next()
		if err != nil || !ok {
			return err
		}
		line = strings.TrimSpace(line)

		if strings.HasPrefix(line, "/") {
			quit, err := replCommand(ctx, conv, line, &pending, out)
			if err != nil {
				_, _ = fmt.Fprintf(out, "error: %v\n", err)
			}
			if quit {
				return nil
			}
			continue
		}

		res, err := conv.ctrl.Submit(ctx, chatrunner.Submission{Text: line, Attachments: pending})
		if err != nil {
			_, _ = fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		if res.Outcome != chatrunner.OutcomeSkipped {
			pending = nil
		}
		if res.Outcome == chatrunner.OutcomeError {
			log.Debug().Err(res.Err).Str("correlation_id", res.CorrelationID).Msg("turn failed")
		}
	}
}

func replCommand(ctx context.Context, conv *conversation, line string, pending *[]transcript.Attachment, out io.Writer) (bool, error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		_, _ = fmt.Fprint(out, replHelp)
	case "/new":
		*pending = nil
		if err := conv.ctrl.Reset(ctx); err != nil {
			return false, err
		}
		_, _ = fmt.Fprintln(out, "started a new conversation")
	case "/session":
		if len(fields) != 2 {
			return false, errors.New("usage: /session <id>")
		}
		return false, conv.ctrl.SwitchSession(ctx, fields[1])
	case "/attach":
		path := strings.TrimSpace(strings.TrimPrefix(line, "/attach"))
		if path == "" {
			return false, errors.New("usage: /attach <path>")
		}
		att, err := uploadPath(ctx, conv.client, path)
		if err != nil {
			return false, err
		}
		*pending = append(*pending, att)
		_, _ = fmt.Fprintf(out, "attached %s\n", att.Filename)
	default:
		return false, errors.Errorf("unknown command %s (try /help)", fields[0])
	}
	return false, nil
}
