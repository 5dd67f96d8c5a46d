package hub

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/MahmoudSaeedNST/learnhub/internal/metrics"
	"github.com/MahmoudSaeedNST/learnhub/internal/types"
)

type attachListener func(user types.UserProfile, s *Session, first bool)
type detachListener func(userId int64, s *Session, last bool)

// Registry owns the process-wide index of live authenticated sessions.
// It is the source of truth for "is user X reachable right now".
type Registry struct {
	log zerolog.Logger

	mu     sync.RWMutex
	byUser map[int64]map[*Session]struct{}
	byId   map[string]*Session

	onAttach []attachListener
	onDetach []detachListener
}

func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		log:    log.With().Str("component", "registry").Logger(),
		byUser: make(map[int64]map[*Session]struct{}),
		byId:   make(map[string]*Session),
	}
}

// OnAttach and OnDetach register lifecycle listeners. Registration happens
// during wiring, before any session exists; listeners run outside the
// registry lock.
func (r *Registry) OnAttach(fn attachListener) { r.onAttach = append(r.onAttach, fn) }
func (r *Registry) OnDetach(fn detachListener) { r.onDetach = append(r.onDetach, fn) }

// Attach binds an authenticated session to its user. Idempotent per
// session.
func (r *Registry) Attach(s *Session) {
	user, ok := s.User()
	if !ok {
		return
	}

	r.mu.Lock()
	if _, exists := r.byId[s.id]; exists {
		r.mu.Unlock()
		return
	}
	set := r.byUser[user.ID]
	if set == nil {
		set = make(map[*Session]struct{})
		r.byUser[user.ID] = set
	}
	set[s] = struct{}{}
	r.byId[s.id] = s
	first := len(set) == 1
	r.mu.Unlock()

	metrics.AuthenticatedSessions.Inc()
	r.log.Debug().Int64("user_id", user.ID).Str("session_id", s.id).Bool("first", first).Msg("session attached")

	for _, fn := range r.onAttach {
		fn(user, s, first)
	}
}

// Detach removes a session. No-op for sessions that never authenticated.
func (r *Registry) Detach(s *Session) {
	user, ok := s.User()
	if !ok {
		return
	}

	r.mu.Lock()
	if _, exists := r.byId[s.id]; !exists {
		r.mu.Unlock()
		return
	}
	delete(r.byId, s.id)
	set := r.byUser[user.ID]
	delete(set, s)
	last := len(set) == 0
	if last {
		delete(r.byUser, user.ID)
	}
	r.mu.Unlock()

	metrics.AuthenticatedSessions.Dec()
	r.log.Debug().Int64("user_id", user.ID).Str("session_id", s.id).Bool("last", last).Msg("session detached")

	for _, fn := range r.onDetach {
		fn(user.ID, s, last)
	}
}

// SessionsFor returns a snapshot of the user's attached sessions.
func (r *Registry) SessionsFor(userId int64) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.byUser[userId]))
	for s := range r.byUser[userId] {
		sessions = append(sessions, s)
	}
	return sessions
}

// SiblingJoinedChat reports whether another attached session of the user
// is still joined to the chat thread. Callers use it to keep the user in
// the room routing index while any of their devices remains joined.
func (r *Registry) SiblingJoinedChat(userId int64, except *Session, threadId string) bool {
	for _, s := range r.SessionsFor(userId) {
		if s != except && s.joinedChat(threadId) {
			return true
		}
	}
	return false
}

func (r *Registry) SessionById(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byId[id]
	return s, ok
}

// Online reports whether the user has at least one attached session.
func (r *Registry) Online(userId int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userId]) > 0
}

// Send delivers a frame to every attached session of the user. Silent
// no-op when the user has none; per-session delivery failures detach the
// failing session and never surface to the caller.
func (r *Registry) Send(userId int64, frame []byte) {
	for _, s := range r.SessionsFor(userId) {
		s.queueFrame(frame)
	}
}

// Broadcast fans a frame out to every attached session of every listed
// user, skipping except when non-nil.
func (r *Registry) Broadcast(userIds []int64, frame []byte, except *Session) {
	for _, id := range userIds {
		for _, s := range r.SessionsFor(id) {
			if s == except {
				continue
			}
			s.queueFrame(frame)
		}
	}
}
