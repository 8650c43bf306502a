package cmds

import (
	"context"

	glazed_cmds "github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"

	"github.com/go-go-golems/chatstream/pkg/backend"
	"github.com/go-go-golems/chatstream/pkg/transcript"
)

type UploadCommand struct {
	*glazed_cmds.CommandDescription
	rt *Runtime
}

var _ glazed_cmds.GlazeCommand = &UploadCommand{}

type UploadSettings struct {
	Files []string `glazed:"files"`
}

func NewUploadCommand(rt *Runtime) (*UploadCommand, error) {
	glazedSection, err := settings.NewGlazedSection()
	if err != nil {
		return nil, errors.Wrap(err, "could not create glazed section")
	}
	return &UploadCommand{
		CommandDescription: glazed_cmds.NewCommandDescription(
			"upload",
			glazed_cmds.WithShort("Upload files and print their references"),
			glazed_cmds.WithArguments(
				fields.New(
					"files",
					fields.TypeStringList,
					fields.WithHelp("Files to upload"),
					fields.WithRequired(true),
				),
			),
			glazed_cmds.WithSections(glazedSection),
		),
		rt: rt,
	}, nil
}

func attachmentRow(path string, a transcript.Attachment) types.Row {
	return types.NewRow(
		types.MRP("path", path),
		types.MRP("filename", a.Filename),
		types.MRP("url", a.URL),
		types.MRP("content_type", a.ContentType),
	)
}

func (c *UploadCommand) rows(ctx context.Context, s *UploadSettings) ([]types.Row, error) {
	if len(s.Files) == 0 {
		return nil, errors.New("no files to upload")
	}
	client, err := c.rt.Client()
	if err != nil {
		return nil, err
	}
	ret := make([]types.Row, 0, len(s.Files))
	for _, path := range s.Files {
		att, err := uploadPath(ctx, client, path)
		if err != nil {
			return nil, err
		}
		ret = append(ret, attachmentRow(path, att))
	}
	return ret, nil
}

func (c *UploadCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedValues *values.Values,
	gp middlewares.Processor,
) error {
	s := &UploadSettings{}
	if err := parsedValues.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "failed to initialize settings")
	}
	rows, err := c.rows(ctx, s)
	if err != nil {
		return err
	}
	return addRows(ctx, gp, rows)
}

type HealthCommand struct {
	*glazed_cmds.CommandDescription
	rt *Runtime
}

var _ glazed_cmds.GlazeCommand = &HealthCommand{}

func NewHealthCommand(rt *Runtime) (*HealthCommand, error) {
	glazedSection, err := settings.NewGlazedSection()
	if err != nil {
		return nil, errors.Wrap(err, "could not create glazed section")
	}
	return &HealthCommand{
		CommandDescription: glazed_cmds.NewCommandDescription(
			"health",
			glazed_cmds.WithShort("Check that the server is up and list its agents"),
			glazed_cmds.WithSections(glazedSection),
		),
		rt: rt,
	}, nil
}

func healthRow(serverURL string, h backend.Health) types.Row {
	agents := h.Agents
	if agents == nil {
		agents = []string{}
	}
	return types.NewRow(
		types.MRP("server_url", serverURL),
		types.MRP("status", h.Status),
		types.MRP("agents", agents),
	)
}

func (c *HealthCommand) row(ctx context.Context) (types.Row, error) {
	client, err := c.rt.Client()
	if err != nil {
		return nil, err
	}
	h, err := client.Health(ctx)
	if err != nil {
		return nil, err
	}
	return healthRow(c.rt.Settings.ServerURL, h), nil
}

func (c *HealthCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	_ *values.Values,
	gp middlewares.Processor,
) error {
	row, err := c.row(ctx)
	if err != nil {
		return err
	}
	return gp.AddRow(ctx, row)
}
