// Package backend is the HTTP client for the chat server: the streaming endpoint plus the
// session listing, history, upload and health endpoints.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatstream/pkg/chatrunner"
	"github.com/go-go-golems/chatstream/pkg/transcript"
)

const maxErrorBody = 4 << 10

// ErrStatus is wrapped by every StatusError.
var ErrStatus = errors.New("unexpected http status")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status=%d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: status=%d body=%s", e.Op, e.Code, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrStatus }

// Client talks to one chat server. HTTPClient serves the short request/response endpoints;
// StreamClient carries the long-lived stream and should have no overall timeout.
type Client struct {
	BaseURL      *url.URL
	HTTPClient   *http.Client
	StreamClient *http.Client
}

var (
	_ chatrunner.Transport     = &Client{}
	_ chatrunner.HistoryLoader = &Client{}
)

// NewClient parses baseURL and builds a client with a bounded HTTPClient.
func NewClient(baseURL string, requestTimeout time.Duration) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("server url is empty")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrapf(err, "parse server url %q", baseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("server url %q must use http or https", baseURL)
	}
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	return &Client{
		BaseURL:      u,
		HTTPClient:   &http.Client{Timeout: requestTimeout},
		StreamClient: &http.Client{},
	}, nil
}

func (c *Client) endpoint(segments ...string) string {
	u := *c.BaseURL
	u.Path = strings.TrimRight(u.Path, "/")
	for _, s := range segments {
		u.Path += "/" + s
	}
	u.RawPath = ""
	return u.String()
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) streamClient() *http.Client {
	if c.StreamClient != nil {
		return c.StreamClient
	}
	return &http.Client{}
}

// Open posts the request to /chat/stream and returns the event stream body.
func (c *Client) Open(ctx context.Context, req chatrunner.Request) (io.ReadCloser, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "marshal stream request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("chat", "stream"), bytes.NewReader(b))
	if err != nil {
		return nil, errors.Wrap(err, "build stream request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamClient().Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "post /chat/stream")
	}
	if err := checkStatus("stream", resp); err != nil {
		return nil, err
	}
	log.Debug().Str("component", "backend").Str("content_type", resp.Header.Get("Content-Type")).Msg("stream opened")
	return resp.Body, nil
}

// SessionSummary is one entry of the session list.
type SessionSummary struct {
	ID        string    `json:"id" yaml:"id"`
	Title     string    `json:"title" yaml:"title"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// ListSessions returns the stored sessions as the server orders them.
func (c *Client) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	var out []SessionSummary
	if err := c.getJSON(ctx, "list sessions", c.endpoint("chats"), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// HistoryRecord is a stored message as the server returns it.
type HistoryRecord struct {
	ID          int64             `json:"id"`
	SessionID   string            `json:"session_id"`
	Role        string            `json:"role"`
	Content     string            `json:"content"`
	Timestamp   time.Time         `json:"timestamp"`
	Attachments []json.RawMessage `json:"attachments"`
	Thinking    []string          `json:"thinking"`
}

// LoadHistory fetches the messages of a session in display order.
func (c *Client) LoadHistory(ctx context.Context, sessionID string) ([]transcript.Message, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errors.New("session id is empty")
	}
	var records []HistoryRecord
	if err := c.getJSON(ctx, "load history", c.endpoint("chats", sessionID), &records); err != nil {
		return nil, err
	}
	out := make([]transcript.Message, 0, len(records))
	for _, r := range records {
		out = append(out, r.toMessage())
	}
	return out, nil
}

func (r HistoryRecord) toMessage() transcript.Message {
	role := transcript.RoleAssistant
	if strings.EqualFold(r.Role, string(transcript.RoleUser)) {
		role = transcript.RoleUser
	}
	m := transcript.Message{Role: role, Content: r.Content}
	if len(r.Thinking) > 0 {
		m.Thinking = append([]string(nil), r.Thinking...)
	}
	for _, raw := range r.Attachments {
		if att, ok := decodeAttachment(raw); ok {
			m.Attachments = append(m.Attachments, att)
		}
	}
	return m
}

// decodeAttachment accepts either a bare URL string or an attachment object.
func decodeAttachment(raw json.RawMessage) (transcript.Attachment, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			return transcript.Attachment{}, false
		}
		name := s
		if i := strings.LastIndex(s, "/"); i >= 0 && i < len(s)-1 {
			name = s[i+1:]
		}
		return transcript.Attachment{Filename: name, URL: s}, true
	}
	var obj struct {
		Filename    string `json:"filename"`
		URL         string `json:"url"`
		ContentType string `json:"content_type"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil || (obj.URL == "" && obj.Filename == "") {
		log.Debug().Str("component", "backend").RawJSON("attachment", raw).Msg("skipping unrecognized attachment")
		return transcript.Attachment{}, false
	}
	return transcript.Attachment{Filename: obj.Filename, URL: obj.URL, ContentType: obj.ContentType}, true
}

// Upload sends a file as the multipart field "file" and returns the stored attachment.
func (c *Client) Upload(ctx context.Context, filename, contentType string, r io.Reader) (transcript.Attachment, error) {
	if strings.TrimSpace(filename) == "" {
		return transcript.Attachment{}, errors.New("upload: filename is empty")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return transcript.Attachment{}, errors.Wrap(err, "upload: create form part")
	}
	if _, err := io.Copy(part, r); err != nil {
		return transcript.Attachment{}, errors.Wrap(err, "upload: read file")
	}
	if err := mw.Close(); err != nil {
		return transcript.Attachment{}, errors.Wrap(err, "upload: close form")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("upload"), &body)
	if err != nil {
		return transcript.Attachment{}, errors.Wrap(err, "upload: build request")
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("Accept", "application/json")

	var out struct {
		URL      string `json:"url"`
		Filename string `json:"filename"`
	}
	if err := c.doJSON(httpReq, "upload", &out); err != nil {
		return transcript.Attachment{}, err
	}
	if out.Filename == "" {
		out.Filename = filename
	}
	return transcript.Attachment{Filename: out.Filename, URL: out.URL, ContentType: contentType}, nil
}

// Health is the server's liveness report.
type Health struct {
	Status string   `json:"status" yaml:"status"`
	Agents []string `json:"agents" yaml:"agents"`
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	if err := c.getJSON(ctx, "health", c.endpoint("health"), &h); err != nil {
		return Health{}, err
	}
	return h, nil
}

// AgentCard describes one server-side agent as published for discovery.
type AgentCard struct {
	Name         string                 `json:"name" yaml:"name"`
	Description  string                 `json:"description" yaml:"description"`
	InputSchema  map[string]interface{} `json:"input_schema,omitempty" yaml:"input_schema,omitempty"`
	OutputSchema map[string]interface{} `json:"output_schema,omitempty" yaml:"output_schema,omitempty"`
	Version      string                 `json:"version" yaml:"version"`
	Capabilities []string               `json:"capabilities" yaml:"capabilities"`
}

// AgentCards returns every registered agent card keyed by registry name.
func (c *Client) AgentCards(ctx context.Context) (map[string]AgentCard, error) {
	cards := map[string]AgentCard{}
	if err := c.getJSON(ctx, "agent cards", c.endpoint(".well-known", "agent-cards"), &cards); err != nil {
		return nil, err
	}
	return cards, nil
}

// AgentCard returns the card of one agent. An unknown name yields a *StatusError with code 404.
func (c *Client) AgentCard(ctx context.Context, name string) (AgentCard, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return AgentCard{}, errors.New("agent card: empty agent name")
	}
	var card AgentCard
	if err := c.getJSON(ctx, "agent card", c.endpoint(".well-known", "agent-cards", name), &card); err != nil {
		return AgentCard{}, err
	}
	return card, nil
}

func (c *Client) getJSON(ctx context.Context, op, u string, out interface{}) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return errors.Wrapf(err, "%s: build request", op)
	}
	httpReq.Header.Set("Accept", "application/json")
	return c.doJSON(httpReq, op, out)
}

func (c *Client) doJSON(httpReq *http.Request, op string, out interface{}) error {
	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return errors.Wrapf(err, "%s: %s %s", op, httpReq.Method, httpReq.URL.Path)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if err := checkStatus(op, resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "%s: decode response", op)
	}
	return nil
}

// checkStatus closes the body of a non-2xx response and describes it.
func checkStatus(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()
	return &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}
