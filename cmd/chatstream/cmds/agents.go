package cmds

import (
	"context"
	"sort"

	glazed_cmds "github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"

	"github.com/go-go-golems/chatstream/pkg/backend"
)

// AgentsCommand lists the agent cards the server publishes for discovery.
type AgentsCommand struct {
	*glazed_cmds.CommandDescription
	rt *Runtime
}

var _ glazed_cmds.GlazeCommand = &AgentsCommand{}

type AgentsSettings struct {
	Name        string `glazed:"name"`
	WithSchemas bool   `glazed:"with-schemas"`
}

func NewAgentsCommand(rt *Runtime) (*AgentsCommand, error) {
	glazedSection, err := settings.NewGlazedSection()
	if err != nil {
		return nil, errors.Wrap(err, "could not create glazed section")
	}
	return &AgentsCommand{
		CommandDescription: glazed_cmds.NewCommandDescription(
			"agents",
			glazed_cmds.WithShort("List the server's agents"),
			glazed_cmds.WithLong("List the agent cards published by the server, or show a single agent when a name is given."),
			glazed_cmds.WithFlags(
				fields.New(
					"with-schemas",
					fields.TypeBool,
					fields.WithHelp("Include the input and output schemas"),
					fields.WithDefault(false),
				),
			),
			glazed_cmds.WithArguments(
				fields.New(
					"name",
					fields.TypeString,
					fields.WithHelp("Agent to show"),
					fields.WithDefault(""),
				),
			),
			glazed_cmds.WithSections(glazedSection),
		),
		rt: rt,
	}, nil
}

func agentCardRow(key string, card backend.AgentCard, withSchemas bool) types.Row {
	capabilities := card.Capabilities
	if capabilities == nil {
		capabilities = []string{}
	}
	row := types.NewRow(
		types.MRP("agent", key),
		types.MRP("name", card.Name),
		types.MRP("version", card.Version),
		types.MRP("description", card.Description),
		types.MRP("capabilities", capabilities),
	)
	if withSchemas {
		row.Set("input_schema", card.InputSchema)
		row.Set("output_schema", card.OutputSchema)
	}
	return row
}

func (c *AgentsCommand) rows(ctx context.Context, s *AgentsSettings) ([]types.Row, error) {
	client, err := c.rt.Client()
	if err != nil {
		return nil, err
	}
	if s.Name != "" {
		card, err := client.AgentCard(ctx, s.Name)
		if err != nil {
			return nil, err
		}
		return []types.Row{agentCardRow(s.Name, card, s.WithSchemas)}, nil
	}

	cards, err := client.AgentCards(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(cards))
	for k := range cards {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ret := make([]types.Row, 0, len(keys))
	for _, k := range keys {
		ret = append(ret, agentCardRow(k, cards[k], s.WithSchemas))
	}
	return ret, nil
}

func (c *AgentsCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedValues *values.Values,
	gp middlewares.Processor,
) error {
	s := &AgentsSettings{}
	if err := parsedValues.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "failed to initialize settings")
	}
	rows, err := c.rows(ctx, s)
	if err != nil {
		return err
	}
	return addRows(ctx, gp, rows)
}
