package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatstream/pkg/chatrunner"
	"github.com/go-go-golems/chatstream/pkg/transcript"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL+"/api/", 5*time.Second)
	require.NoError(t, err)
	return c
}

func TestNewClient_Validates(t *testing.T) {
	_, err := NewClient("", time.Second)
	require.Error(t, err)
	_, err = NewClient("ftp://example.com", time.Second)
	require.Error(t, err)
	c, err := NewClient("http://localhost:8001", 0)
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, c.HTTPClient.Timeout)
	require.Equal(t, "http://localhost:8001/chat/stream", c.endpoint("chat", "stream"))
}

func TestOpen_PostsRequestAndReturnsBody(t *testing.T) {
	var got map[string]interface{}
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/chat/stream", r.URL.Path)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))

	body, err := c.Open(context.Background(), chatrunner.Request{Message: "hi"})
	require.NoError(t, err)
	defer body.Close()
	b, err := io.ReadAll(body)
	require.NoError(t, err)
	require.Equal(t, "data: [DONE]\n\n", string(b))

	require.Equal(t, "hi", got["message"])
	v, present := got["session_id"]
	require.True(t, present)
	require.Nil(t, v)
}

func TestOpen_SendsSessionID(t *testing.T) {
	var got chatrunner.Request
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	sid := "11111111-2222-3333-4444-555555555555"
	body, err := c.Open(context.Background(), chatrunner.Request{Message: "again", SessionID: &sid})
	require.NoError(t, err)
	_ = body.Close()
	require.NotNil(t, got.SessionID)
	require.Equal(t, sid, *got.SessionID)
}

func TestOpen_NonSuccessStatusIsStatusError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model offline", http.StatusBadGateway)
	}))
	_, err := c.Open(context.Background(), chatrunner.Request{Message: "hi"})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrStatus)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusBadGateway, se.Code)
	require.Equal(t, "model offline", se.Body)
}

func TestListSessions(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chats", r.URL.Path)
		_, _ = io.WriteString(w, `[{"id":"s1","title":"Headache","created_at":"2025-01-02T03:04:05Z","updated_at":"2025-01-02T04:00:00Z"}]`)
	}))
	sessions, err := c.ListSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, "s1", sessions[0].ID)
	require.Equal(t, "Headache", sessions[0].Title)
	require.Equal(t, 2025, sessions[0].CreatedAt.Year())
}

func TestLoadHistory_MapsRecords(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chats/s1", r.URL.Path)
		_, _ = io.WriteString(w, `[
			{"id":1,"session_id":"s1","role":"user","content":"q","timestamp":"2025-01-02T03:04:05Z",
			 "attachments":["http://files/a/scan.png",{"filename":"lab.pdf","url":"http://files/lab.pdf","content_type":"application/pdf"},42],
			 "thinking":[]},
			{"id":2,"session_id":"s1","role":"assistant","content":"a","timestamp":"2025-01-02T03:04:06Z",
			 "attachments":[],"thinking":["routing","checking"]}
		]`)
	}))

	msgs, err := c.LoadHistory(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	require.Equal(t, transcript.RoleUser, msgs[0].Role)
	require.Nil(t, msgs[0].Thinking)
	require.Equal(t, []transcript.Attachment{
		{Filename: "scan.png", URL: "http://files/a/scan.png"},
		{Filename: "lab.pdf", URL: "http://files/lab.pdf", ContentType: "application/pdf"},
	}, msgs[0].Attachments)

	require.Equal(t, transcript.RoleAssistant, msgs[1].Role)
	require.Equal(t, []string{"routing", "checking"}, msgs[1].Thinking)
	require.Empty(t, msgs[1].CorrelationID)
}

func TestLoadHistory_NotFound(t *testing.T) {
	c := newTestClient(t, http.NotFoundHandler())
	_, err := c.LoadHistory(context.Background(), "missing")
	require.ErrorIs(t, err, ErrStatus)

	_, err = c.LoadHistory(context.Background(), " ")
	require.Error(t, err)
}

func TestUpload_SendsMultipartFile(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/upload", r.URL.Path)
		f, hdr, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		b, err := io.ReadAll(f)
		assert.NoError(t, err)
		assert.Equal(t, "PNGDATA", string(b))
		assert.Equal(t, "scan.png", hdr.Filename)
		assert.Equal(t, "image/png", hdr.Header.Get("Content-Type"))
		_, _ = io.WriteString(w, `{"url":"http://files/scan.png","filename":"scan.png"}`)
	}))

	att, err := c.Upload(context.Background(), "scan.png", "image/png", strings.NewReader("PNGDATA"))
	require.NoError(t, err)
	require.Equal(t, transcript.Attachment{Filename: "scan.png", URL: "http://files/scan.png", ContentType: "image/png"}, att)

	_, err = c.Upload(context.Background(), "", "", strings.NewReader("x"))
	require.Error(t, err)
}

func TestHealth(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"online","agents":["diagnosis","drug"]}`)
	}))
	h, err := c.Health(context.Background())
	require.NoError(t, err)
	require.Equal(t, "online", h.Status)
	require.Equal(t, []string{"diagnosis", "drug"}, h.Agents)
}

func TestHealth_BadJSON(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `not json`)
	}))
	_, err := c.Health(context.Background())
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrStatus)
}

func TestAgentCards(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		switch r.URL.Path {
		case "/api/.well-known/agent-cards":
			_, _ = io.WriteString(w, `{
				"drug_interaction": {"name":"drug_interaction","description":"Pharmacology","version":"1.0.0",
					"capabilities":["interactions"],"input_schema":{"type":"object"},"output_schema":{"type":"object"}},
				"pubmed": {"name":"pubmed","description":"Literature","version":"1.0.0","capabilities":[]}
			}`)
		case "/api/.well-known/agent-cards/pubmed":
			_, _ = io.WriteString(w, `{"name":"pubmed","description":"Literature","version":"1.0.0","capabilities":["search"]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"detail":"Agent 'nope' not found"}`)
		}
	}))

	cards, err := c.AgentCards(context.Background())
	require.NoError(t, err)
	require.Len(t, cards, 2)
	require.Equal(t, "Pharmacology", cards["drug_interaction"].Description)
	require.Equal(t, []string{"interactions"}, cards["drug_interaction"].Capabilities)
	require.Equal(t, "object", cards["drug_interaction"].InputSchema["type"])

	card, err := c.AgentCard(context.Background(), "pubmed")
	require.NoError(t, err)
	require.Equal(t, "pubmed", card.Name)
	require.Equal(t, []string{"search"}, card.Capabilities)

	_, err = c.AgentCard(context.Background(), "nope")
	require.ErrorIs(t, err, ErrStatus)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusNotFound, se.Code)

	_, err = c.AgentCard(context.Background(), " ")
	require.Error(t, err)
}
