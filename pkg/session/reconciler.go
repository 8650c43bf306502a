// Package session tracks the server-assigned session id of a conversation.
package session

import (
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// Notifier is told once per session id assignment, e.g. to update a shareable address.
// Implementations must tolerate being called again with an id they have already seen.
type Notifier func(sessionID string)

// Reconciler holds the ambient session id of one conversation. Assignment coming from the
// stream never resets or reloads the transcript; that is the caller's invariant to keep and
// the reason this type has no access to it.
type Reconciler struct {
	mu             sync.Mutex
	id             string
	assignedInTurn bool
	notify         Notifier
}

func NewReconciler(initialID string, notify Notifier) *Reconciler {
	return &Reconciler{id: strings.TrimSpace(initialID), notify: notify}
}

// ID returns the held session id, empty when the server has not assigned one yet.
func (r *Reconciler) ID() string {
	if r == nil {
		return ""
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.id
}

// BeginStream marks the start of a new stream; at most one assignment is honoured per stream.
func (r *Reconciler) BeginStream() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.assignedInTurn = false
	r.mu.Unlock()
}

// Observe handles a session_id event and reports whether the held id changed.
// Only the first differing id of a stream is stored, and only while no id is held:
// once assigned, the id is immutable for the lifetime of the transcript.
func (r *Reconciler) Observe(sessionID string) bool {
	if r == nil {
		return false
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return false
	}

	r.mu.Lock()
	if sessionID == r.id || r.assignedInTurn {
		r.mu.Unlock()
		return false
	}
	if r.id != "" {
		held := r.id
		r.mu.Unlock()
		log.Warn().Str("component", "session").Str("session_id", held).Str("ignored_session_id", sessionID).
			Msg("server sent a different session id for an already identified conversation; keeping the original")
		return false
	}
	r.id = sessionID
	r.assignedInTurn = true
	notify := r.notify
	r.mu.Unlock()

	log.Debug().Str("component", "session").Str("session_id", sessionID).Msg("session id assigned")
	if notify != nil {
		notify(sessionID)
	}
	return true
}

// Switch replaces the held id when the caller loads a different conversation from history.
// It does not notify; navigating to an existing session is the router's own action.
func (r *Reconciler) Switch(sessionID string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.id = strings.TrimSpace(sessionID)
	r.assignedInTurn = false
	r.mu.Unlock()
}
