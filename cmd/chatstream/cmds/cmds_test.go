package cmds

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatstream/pkg/backend"
	"github.com/go-go-golems/chatstream/pkg/settings"
)

func fakeServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/stream", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, `data: {"type":"session_id","content":"s1"}`+"\n\n")
		_, _ = io.WriteString(w, `data: {"type":"token","content":"pong"}`+"\n\n")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	})
	mux.HandleFunc("/chats", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"id":"s1","title":"Ping","created_at":"2025-01-01T00:00:00Z","updated_at":"2025-01-01T00:00:00Z"}]`)
	})
	mux.HandleFunc("/chats/s1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"id":1,"session_id":"s1","role":"user","content":"ping","timestamp":"2025-01-01T00:00:00Z","attachments":[],"thinking":[]},
			{"id":2,"session_id":"s1","role":"assistant","content":"pong","timestamp":"2025-01-01T00:00:01Z","attachments":[],"thinking":["t"]}]`)
	})
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		_, hdr, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		_, _ = io.WriteString(w, `{"url":"http://files/`+hdr.Filename+`","filename":"`+hdr.Filename+`"}`)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"online","agents":["diagnosis"]}`)
	})
	mux.HandleFunc("/.well-known/agent-cards", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"drug_interaction":{"name":"drug_interaction","description":"Pharmacology","version":"1.0.0","capabilities":["interactions"]},
			"diagnosis":{"name":"diagnosis","description":"Diagnosis","version":"1.0.0","capabilities":[]}}`)
	})
	mux.HandleFunc("/.well-known/agent-cards/diagnosis", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"name":"diagnosis","description":"Diagnosis","version":"1.0.0","capabilities":[],
			"input_schema":{"type":"object"},"output_schema":{"type":"object"}}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newRuntime(srv *httptest.Server) *Runtime {
	s := settings.Defaults()
	s.ServerURL = srv.URL
	s.HTTPTimeout = 5 * time.Second
	return &Runtime{Settings: s}
}

func TestChatCommand_OneShot(t *testing.T) {
	rt := newRuntime(fakeServer(t))
	cmd := NewChatCommand(rt)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--message", "ping"})

	require.NoError(t, cmd.ExecuteContext(context.Background()))
	require.Contains(t, out.String(), "pong")
	require.Contains(t, out.String(), "session s1")
}

func TestChatCommand_PipedREPL(t *testing.T) {
	rt := newRuntime(fakeServer(t))
	cmd := NewChatCommand(rt)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader("ping\n\n/bogus\nping again\n/quit\nnever sent\n"))
	cmd.SetArgs([]string{})

	require.NoError(t, cmd.ExecuteContext(context.Background()))
	require.Equal(t, 2, strings.Count(out.String(), "pong"))
	require.Contains(t, out.String(), "unknown command /bogus")
}

func cell(t *testing.T, row types.Row, key string) interface{} {
	t.Helper()
	v, ok := row.Get(key)
	require.True(t, ok, "missing column %s", key)
	return v
}

func TestGlazeCommands_Mount(t *testing.T) {
	rt := newRuntime(fakeServer(t))
	commands, err := NewGlazeCommands(rt)
	require.NoError(t, err)

	var names []string
	for _, c := range commands {
		names = append(names, c.Name())
	}
	require.Equal(t, []string{"sessions", "history", "upload", "health", "agents"}, names)
}

func TestSessionsCommand_Rows(t *testing.T) {
	cmd, err := NewSessionsCommand(newRuntime(fakeServer(t)))
	require.NoError(t, err)

	rows, err := cmd.rows(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "s1", cell(t, rows[0], "id"))
	require.Equal(t, "Ping", cell(t, rows[0], "title"))
	require.Equal(t, "2025-01-01T00:00:00Z", cell(t, rows[0], "updated_at"))
}

func TestHistoryCommand_Rows(t *testing.T) {
	cmd, err := NewHistoryCommand(newRuntime(fakeServer(t)))
	require.NoError(t, err)

	msgs, err := cmd.load(context.Background(), &HistorySettings{SessionID: "s1"})
	require.NoError(t, err)
	rows := historyRows(msgs)
	require.Len(t, rows, 2)
	require.Equal(t, 0, cell(t, rows[0], "index"))
	require.Equal(t, "user", cell(t, rows[0], "role"))
	require.Equal(t, "pong", cell(t, rows[1], "content"))
	require.Equal(t, []string{"t"}, cell(t, rows[1], "thinking"))
	require.Equal(t, []string{}, cell(t, rows[1], "attachments"))
}

func TestHistoryCommand_Pretty(t *testing.T) {
	cmd, err := NewHistoryCommand(newRuntime(fakeServer(t)))
	require.NoError(t, err)
	var out bytes.Buffer
	cmd.out = &out

	require.NoError(t, cmd.run(context.Background(), &HistorySettings{SessionID: "s1", Pretty: true}, nil))
	require.Equal(t, "You\nping\n\nAssistant\n· t\npong\n\n", out.String())
}

func TestUploadCommand_Rows(t *testing.T) {
	cmd, err := NewUploadCommand(newRuntime(fakeServer(t)))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "scan.png")
	require.NoError(t, os.WriteFile(path, []byte("png"), 0o644))

	rows, err := cmd.rows(context.Background(), &UploadSettings{Files: []string{path}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "scan.png", cell(t, rows[0], "filename"))
	require.Equal(t, "http://files/scan.png", cell(t, rows[0], "url"))
	require.Equal(t, "image/png", cell(t, rows[0], "content_type"))

	_, err = cmd.rows(context.Background(), &UploadSettings{})
	require.Error(t, err)
	_, err = cmd.rows(context.Background(), &UploadSettings{Files: []string{filepath.Join(t.TempDir(), "missing")}})
	require.Error(t, err)
}

func TestHealthCommand_Row(t *testing.T) {
	srv := fakeServer(t)
	cmd, err := NewHealthCommand(newRuntime(srv))
	require.NoError(t, err)

	row, err := cmd.row(context.Background())
	require.NoError(t, err)
	require.Equal(t, srv.URL, cell(t, row, "server_url"))
	require.Equal(t, "online", cell(t, row, "status"))
	require.Equal(t, []string{"diagnosis"}, cell(t, row, "agents"))
}

func TestAgentsCommand_Rows(t *testing.T) {
	cmd, err := NewAgentsCommand(newRuntime(fakeServer(t)))
	require.NoError(t, err)

	rows, err := cmd.rows(context.Background(), &AgentsSettings{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "diagnosis", cell(t, rows[0], "agent"))
	require.Equal(t, "drug_interaction", cell(t, rows[1], "agent"))
	require.Equal(t, []string{"interactions"}, cell(t, rows[1], "capabilities"))
	_, ok := rows[0].Get("input_schema")
	require.False(t, ok)

	rows, err = cmd.rows(context.Background(), &AgentsSettings{Name: "diagnosis", WithSchemas: true})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "Diagnosis", cell(t, rows[0], "description"))
	require.Equal(t, map[string]interface{}{"type": "object"}, cell(t, rows[0], "input_schema"))

	_, err = cmd.rows(context.Background(), &AgentsSettings{Name: "nope"})
	require.ErrorIs(t, err, backend.ErrStatus)
}

func TestContentTypeFor(t *testing.T) {
	require.Equal(t, "image/png", contentTypeFor("scan.PNG"))
	require.Equal(t, "application/octet-stream", contentTypeFor("blob"))
}
