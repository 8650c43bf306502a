// Package mirror serves a read-only live view of a conversation over websocket so a browser
// or a second terminal can follow a chat session in progress.
package mirror

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatstream/pkg/transcript"
	"github.com/go-go-golems/chatstream/pkg/updates"
)

const (
	FrameSnapshot = "transcript.snapshot"
	FrameUpdate   = "transcript.update"
)

// Snapshotter exposes the current state of a conversation.
type Snapshotter interface {
	ConversationKey() string
	SessionID() string
	Messages() []transcript.Message
}

// Frame is the JSON envelope written to websocket clients. A snapshot carries Seq, the last
// update folded into it; clients skip updates at or below it.
type Frame struct {
	Type            string               `json:"type"`
	ConversationKey string               `json:"conv_key"`
	Seq             uint64               `json:"seq"`
	SessionID       string               `json:"session_id,omitempty"`
	Messages        []transcript.Message `json:"messages,omitempty"`
	Update          *updates.Update      `json:"update,omitempty"`
}

type Server struct {
	snap     Snapshotter
	pool     *ConnectionPool
	upgrader websocket.Upgrader
	lastSeq  atomic.Uint64
}

func NewServer(snap Snapshotter) *Server {
	return &Server{
		snap: snap,
		pool: NewConnectionPool(snap.ConversationKey()),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/transcript", s.handleTranscript)
	mux.HandleFunc("/transcript", s.handlePage)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	return mux
}

func (s *Server) snapshot() Frame {
	msgs := s.snap.Messages()
	if msgs == nil {
		msgs = []transcript.Message{}
	}
	return Frame{
		Type:            FrameSnapshot,
		ConversationKey: s.snap.ConversationKey(),
		Seq:             s.lastSeq.Load(),
		SessionID:       s.snap.SessionID(),
		Messages:        msgs,
	}
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.snapshot()); err != nil {
		log.Warn().Err(err).Str("component", "mirror").Msg("failed to write transcript")
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	wsLog := log.With().
		Str("component", "mirror").
		Str("remote", conn.RemoteAddr().String()).
		Str("conv_key", s.snap.ConversationKey()).
		Logger()

	s.pool.Add(conn, func() []byte {
		b, err := json.Marshal(s.snapshot())
		if err != nil {
			wsLog.Warn().Err(err).Msg("failed to marshal snapshot")
			return nil
		}
		return b
	})
	wsLog.Info().Msg("ws connected")

	go func() {
		defer s.pool.Remove(conn)
		defer wsLog.Info().Msg("ws disconnected")
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				wsLog.Debug().Err(err).Msg("ws read loop end")
				return
			}
		}
	}()
}

// HandleUpdate broadcasts one update to every connected client.
func (s *Server) HandleUpdate(u updates.Update) error {
	if u.Seq > s.lastSeq.Load() {
		s.lastSeq.Store(u.Seq)
	}
	b, err := json.Marshal(Frame{
		Type:            FrameUpdate,
		ConversationKey: u.ConversationKey,
		Seq:             u.Seq,
		Update:          &u,
	})
	if err != nil {
		return errors.Wrap(err, "marshal update frame")
	}
	s.pool.Broadcast(b)
	return nil
}

// Follow feeds the conversation's bus topic into the connected clients until ctx is done.
func (s *Server) Follow(ctx context.Context, sub message.Subscriber) error {
	return updates.Forward(ctx, sub, updates.TopicForConversation(s.snap.ConversationKey()), s.HandleUpdate)
}

func (s *Server) Clients() int {
	return s.pool.Count()
}

// ListenAndServe serves the mirror on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("component", "mirror").Str("addr", addr).Msg("mirror listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.pool.CloseAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown mirror")
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrapf(err, "listen on %s", addr)
	}
}
