package mirror

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/yuin/goldmark"

	"github.com/go-go-golems/chatstream/pkg/transcript"
)

var pageTemplate = template.Must(template.New("transcript").Parse(`<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; max-width: 48rem; margin: 2rem auto; }
.msg { margin-bottom: 1.5rem; }
.role { font-weight: bold; }
.thought { color: #777; font-style: italic; }
.notice { color: #b00; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
{{range .Messages}}<div class="msg">
<div class="role">{{.Role}}</div>
{{range .Thinking}}<div class="thought">{{.}}</div>
{{end}}{{range .Attachments}}<div class="attachment"><a href="{{.URL}}">{{.Filename}}</a></div>
{{end}}{{if .Notice}}<div class="notice">{{.Body}}</div>{{else}}<div class="body">{{.Body}}</div>{{end}}
</div>
{{end}}</body>
</html>
`))

type pageMessage struct {
	Role        string
	Thinking    []string
	Attachments []transcript.Attachment
	Notice      bool
	Body        template.HTML
}

// renderMarkdown converts message content to HTML. Raw HTML in the source is not passed through.
func renderMarkdown(src string) template.HTML {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(src), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(src))
	}
	return template.HTML(buf.String())
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	snap := s.snapshot()
	title := "Conversation " + snap.ConversationKey
	if snap.SessionID != "" {
		title = "Session " + snap.SessionID
	}
	msgs := make([]pageMessage, 0, len(snap.Messages))
	for _, m := range snap.Messages {
		label := "You"
		if m.Role == transcript.RoleAssistant {
			label = "Assistant"
		}
		msgs = append(msgs, pageMessage{
			Role:        label,
			Thinking:    m.Thinking,
			Attachments: m.Attachments,
			Notice:      m.Notice,
			Body:        renderMarkdown(m.Content),
		})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := pageTemplate.Execute(w, struct {
		Title    string
		Messages []pageMessage
	}{Title: title, Messages: msgs})
	if err != nil {
		log.Warn().Err(err).Str("component", "mirror").Msg("failed to render transcript page")
	}
}
