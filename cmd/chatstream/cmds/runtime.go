package cmds

import (
	"context"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/go-go-golems/chatstream/pkg/backend"
	"github.com/go-go-golems/chatstream/pkg/settings"
	"github.com/go-go-golems/chatstream/pkg/transcript"
)

// Runtime is filled by the root command before any subcommand runs.
type Runtime struct {
	Settings settings.Settings
}

func (r *Runtime) Client() (*backend.Client, error) {
	c, err := backend.NewClient(r.Settings.ServerURL, r.Settings.HTTPTimeout)
	if err != nil {
		return nil, errors.Wrap(err, "create backend client")
	}
	return c, nil
}

// uploadPath sends the file at path and returns its attachment reference.
func uploadPath(ctx context.Context, c *backend.Client, path string) (transcript.Attachment, error) {
	f, err := os.Open(path)
	if err != nil {
		return transcript.Attachment{}, errors.Wrapf(err, "open %s", path)
	}
	defer func() {
		_ = f.Close()
	}()
	return c.Upload(ctx, filepath.Base(path), contentTypeFor(path), f)
}

func contentTypeFor(path string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
