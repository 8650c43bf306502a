package cmds

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/go-go-golems/glazed/pkg/cli"
	glazed_cmds "github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/chatstream/pkg/backend"
	"github.com/go-go-golems/chatstream/pkg/render"
	"github.com/go-go-golems/chatstream/pkg/transcript"
)

// NewGlazeCommands builds the read-only commands whose output goes through glazed, so they
// all support --output table, json, yaml and csv.
func NewGlazeCommands(rt *Runtime) ([]*cobra.Command, error) {
	sessionsCmd, err := NewSessionsCommand(rt)
	if err != nil {
		return nil, err
	}
	historyCmd, err := NewHistoryCommand(rt)
	if err != nil {
		return nil, err
	}
	uploadCmd, err := NewUploadCommand(rt)
	if err != nil {
		return nil, err
	}
	healthCmd, err := NewHealthCommand(rt)
	if err != nil {
		return nil, err
	}
	agentsCmd, err := NewAgentsCommand(rt)
	if err != nil {
		return nil, err
	}

	var ret []*cobra.Command
	for _, c := range []glazed_cmds.GlazeCommand{sessionsCmd, historyCmd, uploadCmd, healthCmd, agentsCmd} {
		cobraCmd, err := cli.BuildCobraCommand(c)
		if err != nil {
			return nil, errors.Wrap(err, "build glazed command")
		}
		ret = append(ret, cobraCmd)
	}
	return ret, nil
}

type SessionsCommand struct {
	*glazed_cmds.CommandDescription
	rt *Runtime
}

var _ glazed_cmds.GlazeCommand = &SessionsCommand{}

func NewSessionsCommand(rt *Runtime) (*SessionsCommand, error) {
	glazedSection, err := settings.NewGlazedSection()
	if err != nil {
		return nil, errors.Wrap(err, "could not create glazed section")
	}
	return &SessionsCommand{
		CommandDescription: glazed_cmds.NewCommandDescription(
			"sessions",
			glazed_cmds.WithShort("List stored conversations"),
			glazed_cmds.WithSections(glazedSection),
		),
		rt: rt,
	}, nil
}

func sessionRow(s backend.SessionSummary) types.Row {
	return types.NewRow(
		types.MRP("id", s.ID),
		types.MRP("title", s.Title),
		types.MRP("created_at", s.CreatedAt.Format(time.RFC3339)),
		types.MRP("updated_at", s.UpdatedAt.Format(time.RFC3339)),
	)
}

func (c *SessionsCommand) rows(ctx context.Context) ([]types.Row, error) {
	client, err := c.rt.Client()
	if err != nil {
		return nil, err
	}
	sessions, err := client.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	ret := make([]types.Row, 0, len(sessions))
	for _, s := range sessions {
		ret = append(ret, sessionRow(s))
	}
	return ret, nil
}

func (c *SessionsCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	_ *values.Values,
	gp middlewares.Processor,
) error {
	rows, err := c.rows(ctx)
	if err != nil {
		return err
	}
	return addRows(ctx, gp, rows)
}

type HistoryCommand struct {
	*glazed_cmds.CommandDescription
	rt  *Runtime
	out io.Writer
}

var _ glazed_cmds.GlazeCommand = &HistoryCommand{}

type HistorySettings struct {
	SessionID string `glazed:"session-id"`
	Pretty    bool   `glazed:"pretty"`
}

func NewHistoryCommand(rt *Runtime) (*HistoryCommand, error) {
	glazedSection, err := settings.NewGlazedSection()
	if err != nil {
		return nil, errors.Wrap(err, "could not create glazed section")
	}
	return &HistoryCommand{
		CommandDescription: glazed_cmds.NewCommandDescription(
			"history",
			glazed_cmds.WithShort("Print a stored conversation"),
			glazed_cmds.WithLong("Print the messages of a stored conversation, one row per message, or as a rendered transcript with --pretty."),
			glazed_cmds.WithFlags(
				fields.New(
					"pretty",
					fields.TypeBool,
					fields.WithHelp("Render the transcript for reading instead of emitting rows"),
					fields.WithDefault(false),
				),
			),
			glazed_cmds.WithArguments(
				fields.New(
					"session-id",
					fields.TypeString,
					fields.WithHelp("Session to print"),
					fields.WithRequired(true),
				),
			),
			glazed_cmds.WithSections(glazedSection),
		),
		rt:  rt,
		out: os.Stdout,
	}, nil
}

func messageRow(i int, m transcript.Message) types.Row {
	attachments := make([]string, 0, len(m.Attachments))
	for _, a := range m.Attachments {
		attachments = append(attachments, a.URL)
	}
	thinking := m.Thinking
	if thinking == nil {
		thinking = []string{}
	}
	return types.NewRow(
		types.MRP("index", i),
		types.MRP("role", string(m.Role)),
		types.MRP("content", m.Content),
		types.MRP("thinking", thinking),
		types.MRP("attachments", attachments),
	)
}

func (c *HistoryCommand) load(ctx context.Context, s *HistorySettings) ([]transcript.Message, error) {
	client, err := c.rt.Client()
	if err != nil {
		return nil, err
	}
	return client.LoadHistory(ctx, s.SessionID)
}

func (c *HistoryCommand) run(ctx context.Context, s *HistorySettings, gp middlewares.Processor) error {
	msgs, err := c.load(ctx, s)
	if err != nil {
		return err
	}
	if s.Pretty {
		return render.NewPrinter(c.out).Transcript(msgs)
	}
	return addRows(ctx, gp, historyRows(msgs))
}

func historyRows(msgs []transcript.Message) []types.Row {
	rows := make([]types.Row, 0, len(msgs))
	for i, m := range msgs {
		rows = append(rows, messageRow(i, m))
	}
	return rows
}

func (c *HistoryCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedValues *values.Values,
	gp middlewares.Processor,
) error {
	s := &HistorySettings{}
	if err := parsedValues.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "failed to initialize settings")
	}
	return c.run(ctx, s, gp)
}

func addRows(ctx context.Context, gp middlewares.Processor, rows []types.Row) error {
	for _, row := range rows {
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}
