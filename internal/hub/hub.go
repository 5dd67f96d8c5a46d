package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/MahmoudSaeedNST/learnhub/internal/config"
	"github.com/MahmoudSaeedNST/learnhub/internal/contentstore"
	"github.com/MahmoudSaeedNST/learnhub/internal/identity"
	"github.com/MahmoudSaeedNST/learnhub/internal/metrics"
)

// Hub terminates the realtime transport and routes every inbound event to
// the owning component. All durable state lives in the content store; the
// hub is a stateless-between-sessions dispatcher over in-memory routing
// tables.
type Hub struct {
	cfg      *config.Config
	log      zerolog.Logger
	verifier identity.Verifier
	store    contentstore.Store

	Registry   *Registry
	Presence   *PresenceTracker
	Router     *RoomRouter
	Calls      *CallCoordinator
	VideoRooms *VideoRoomCoordinator
	Chat       *ChatService

	handlers map[string]func(*Session, []byte)

	mu       sync.Mutex
	sessions map[*Session]struct{}
}

func New(log zerolog.Logger, cfg *config.Config, verifier identity.Verifier, store contentstore.Store) *Hub {
	h := &Hub{
		cfg:      cfg,
		log:      log.With().Str("component", "hub").Logger(),
		verifier: verifier,
		store:    store,
		sessions: make(map[*Session]struct{}),
	}

	h.Registry = NewRegistry(log)
	h.Router = NewRoomRouter(log, store, h.Registry)
	h.Presence = NewPresenceTracker(log, store, h.Registry, h.Router,
		cfg.PresenceAwayAfter, cfg.PresenceOfflineAfter, cfg.TypingTTL, cfg.PresenceSweepInterval,
		cfg.ContentStoreDeadline)
	h.Calls = NewCallCoordinator(log, store, h.Registry, cfg.RingingTimeout, cfg.ContentStoreDeadline)
	h.VideoRooms = NewVideoRoomCoordinator(log, h.Registry, h.Router)
	h.Chat = NewChatService(log, store, h.Registry, h.Router, h.Presence)

	h.Registry.OnAttach(h.Presence.HandleAttach)
	h.Registry.OnDetach(h.Presence.HandleDetach)
	h.Registry.OnDetach(func(userId int64, _ *Session, last bool) {
		if last {
			h.Calls.HandleDisconnect(userId)
		}
	})

	h.handlers = map[string]func(*Session, []byte){
		EvPing: h.handlePing,

		EvSendMessage:    func(s *Session, raw []byte) { h.Chat.SendMessage(s.ctx, s, raw, false) },
		EvGroupMessage:   func(s *Session, raw []byte) { h.Chat.SendMessage(s.ctx, s, raw, true) },
		EvDeleteMessage:  func(s *Session, raw []byte) { h.Chat.DeleteMessage(s.ctx, s, raw) },
		EvMessageRead:    func(s *Session, raw []byte) { h.Chat.MarkRead(s.ctx, s, raw) },
		EvJoinChat:       func(s *Session, raw []byte) { h.Chat.JoinRoom(s.ctx, s, raw) },
		EvLeaveChat:      func(s *Session, raw []byte) { h.Chat.LeaveRoom(s, raw) },
		EvJoinGroupRoom:  func(s *Session, raw []byte) { h.Chat.JoinRoom(s.ctx, s, raw) },
		EvLeaveGroupRoom: func(s *Session, raw []byte) { h.Chat.LeaveRoom(s, raw) },

		EvTypingStart:      func(s *Session, raw []byte) { h.handleTyping(s, raw, true, false) },
		EvTypingStop:       func(s *Session, raw []byte) { h.handleTyping(s, raw, false, false) },
		EvGroupTypingStart: func(s *Session, raw []byte) { h.handleTyping(s, raw, true, true) },
		EvGroupTypingStop:  func(s *Session, raw []byte) { h.handleTyping(s, raw, false, true) },

		EvCallOffer:    h.Calls.Offer,
		EvCallAnswer:   h.Calls.Answer,
		EvCallReject:   h.Calls.Reject,
		EvCallEnd:      h.Calls.End,
		EvIceCandidate: h.Calls.RelayIce,

		EvVideoRoomJoin:       h.VideoRooms.Join,
		EvVideoRoomLeave:      h.VideoRooms.Leave,
		EvVideoRoomOffer:      func(s *Session, raw []byte) { h.VideoRooms.Relay(s, EvVideoRoomOffer, raw) },
		EvVideoRoomAnswer:     func(s *Session, raw []byte) { h.VideoRooms.Relay(s, EvVideoRoomAnswer, raw) },
		EvVideoRoomIce:        func(s *Session, raw []byte) { h.VideoRooms.Relay(s, EvVideoRoomIce, raw) },
		EvVideoRoomMediaState: h.VideoRooms.MediaState,
		EvVideoRoomAdmin:      h.VideoRooms.AdminAction,
	}

	return h
}

// Run starts the hub's background tasks and blocks until Shutdown.
func (h *Hub) Run() {
	h.Presence.Run()
}

// ServeConn attaches one upgraded transport connection and starts its
// read and write tasks.
func (h *Hub) ServeConn(conn *websocket.Conn) *Session {
	s := newSession(h, conn)

	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()
	metrics.Connections.Inc()

	h.log.Debug().Str("session_id", s.id).Str("remote", conn.RemoteAddr().String()).Msg("transport open")

	go s.writePump()
	go s.readPump()
	return s
}

type authenticatePayload struct {
	Token string `json:"token"`
}

// handleAuthenticate performs the handshake. Upstream verifier outages
// are retriable and keep the transport open; every other failure closes
// it after a single error frame.
func (h *Hub) handleAuthenticate(s *Session, raw []byte) bool {
	var p authenticatePayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Token == "" {
		s.queueFrame(newAuthErrorFrame("authenticate requires token"))
		return false
	}

	profile, err := h.verifier.Verify(s.ctx, p.Token)
	if err != nil {
		if errors.Is(err, identity.ErrUpstreamUnavailable) {
			h.log.Warn().Err(err).Msg("identity provider unavailable")
			s.queueFrame(newErrorFrame(CodeUpstream, "identity provider unavailable, retry"))
			return true
		}
		h.log.Info().Err(err).Str("session_id", s.id).Msg("authentication rejected")
		s.queueFrame(newAuthErrorFrame("invalid credentials"))
		return false
	}

	s.bind(profile, p.Token)

	ack, _ := encodeFrame(authenticatedFrame{Event: EvAuthenticated, UserId: profile.ID, SessionId: s.id})
	s.queueFrame(ack)

	h.Registry.Attach(s)
	return true
}

func (h *Hub) handlePing(s *Session, _ []byte) {
	h.Presence.Heartbeat(s)
	pong, _ := encodeFrame(pongFrame{Event: EvPong, ServerTime: time.Now().UTC()})
	s.queueFrame(pong)
}

type typingPayload struct {
	ThreadId string `json:"thread_id"`
}

func (h *Hub) handleTyping(s *Session, raw []byte, start, group bool) {
	var p typingPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.ThreadId == "" {
		s.queueFrame(newErrorFrame(CodeBadRequest, "typing requires thread_id"))
		return
	}

	var err error
	if start {
		err = h.Presence.TypingStart(s.ctx, s, p.ThreadId, group)
	} else {
		err = h.Presence.TypingStop(s.ctx, s, p.ThreadId, group)
	}
	switch {
	case err == nil:
	case errors.Is(err, contentstore.ErrNotFound):
		s.queueFrame(newErrorFrame(CodeNotFound, "thread not found"))
	case errors.Is(err, contentstore.ErrDenied):
		s.queueFrame(newErrorFrame(CodeUnauthorized, "not a participant of this thread"))
	default:
		s.queueFrame(newErrorFrame(CodeUpstream, "could not resolve thread members"))
	}
}

func (h *Hub) dispatch(s *Session, event string, raw []byte) {
	if fn, ok := h.handlers[event]; ok {
		fn(s, raw)
		return
	}
	h.log.Info().Str("event", event).Str("session_id", s.id).Msg("unknown event")
	s.queueFrame(newErrorFrame(CodeUnknownEvent, fmt.Sprintf("unknown event %q", event)))
}

// dropSession runs the disconnect cascade for one session: leave every
// joined room, detach from the registry (which in turn demotes presence
// and terminates calls when this was the user's last session).
func (h *Hub) dropSession(s *Session) {
	h.mu.Lock()
	if _, ok := h.sessions[s]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, s)
	h.mu.Unlock()
	metrics.Connections.Dec()

	h.VideoRooms.HandleSessionClose(s)

	// The registry still lists this session, so sibling lookups below see
	// every other device of the same user.
	if user, ok := s.User(); ok {
		for _, threadId := range s.joinedChatRooms() {
			if h.Registry.SiblingJoinedChat(user.ID, s, threadId) {
				continue
			}
			h.Router.LeaveChat(threadId, user.ID)
		}
	}

	h.Registry.Detach(s)
	h.log.Debug().Str("session_id", s.id).Msg("transport closed")
}

// Snapshot is a cheap health view of the hub's live state.
type Snapshot struct {
	Connections int `json:"connections"`
	ActiveCalls int `json:"active_calls"`
	VideoRooms  int `json:"video_rooms"`
}

func (h *Hub) Snapshot() Snapshot {
	h.mu.Lock()
	connections := len(h.sessions)
	h.mu.Unlock()

	return Snapshot{
		Connections: connections,
		ActiveCalls: h.Calls.activeCount(),
		VideoRooms:  h.VideoRooms.roomCount(),
	}
}

// Shutdown closes every session and stops background tasks. Each close
// runs the full disconnect cascade, including best-effort presence
// writes, bounded by ctx.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, s := range sessions {
			s.close()
		}
		h.Presence.Stop()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
