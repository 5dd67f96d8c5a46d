package hub

import (
	"context"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/MahmoudSaeedNST/learnhub/internal/metrics"
	"github.com/MahmoudSaeedNST/learnhub/internal/types"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
	sendBacklog  = 256
)

// Session is one live transport attachment. It starts anonymous and is
// bound to a user by the first successful authenticate frame.
type Session struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	log  zerolog.Logger

	send    chan []byte
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once

	mu    sync.Mutex
	user  *types.UserProfile
	token string
	// invite codes of joined video rooms and thread ids of joined chat
	// rooms, maintained for the disconnect cascade
	videoRooms map[string]struct{}
	chatRooms  map[string]struct{}
}

func newSession(h *Hub, conn *websocket.Conn) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:         uuid.NewString(),
		hub:        h,
		conn:       conn,
		send:       make(chan []byte, sendBacklog),
		limiter:    rate.NewLimiter(rate.Limit(h.cfg.SessionEventsPerSecond), h.cfg.SessionEventBurst),
		ctx:        ctx,
		cancel:     cancel,
		videoRooms: make(map[string]struct{}),
		chatRooms:  make(map[string]struct{}),
	}
	s.log = h.log.With().Str("session_id", s.id).Logger()
	return s
}

func (s *Session) Id() string { return s.id }

// User returns the bound identity, or false while the session is anonymous.
func (s *Session) User() (types.UserProfile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return types.UserProfile{}, false
	}
	return *s.user, true
}

func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *Session) bind(user types.UserProfile, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = &user
	s.token = token
	s.log = s.log.With().Int64("user_id", user.ID).Logger()
}

func (s *Session) trackVideoRoom(code string, joined bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if joined {
		s.videoRooms[code] = struct{}{}
	} else {
		delete(s.videoRooms, code)
	}
}

func (s *Session) trackChatRoom(threadId string, joined bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if joined {
		s.chatRooms[threadId] = struct{}{}
	} else {
		delete(s.chatRooms, threadId)
	}
}

func (s *Session) joinedVideoRooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	codes := make([]string, 0, len(s.videoRooms))
	for code := range s.videoRooms {
		codes = append(codes, code)
	}
	return codes
}

func (s *Session) joinedChat(threadId string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.chatRooms[threadId]
	return ok
}

func (s *Session) joinedChatRooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	threads := make([]string, 0, len(s.chatRooms))
	for id := range s.chatRooms {
		threads = append(threads, id)
	}
	return threads
}

// queueFrame enqueues an outbound frame. An overrun of the bounded buffer
// detaches the session: a client that cannot drain its writes is treated
// the same as one whose transport failed.
func (s *Session) queueFrame(frame []byte) bool {
	select {
	case s.send <- frame:
		return true
	case <-s.ctx.Done():
		return false
	default:
		s.log.Warn().Msg("send buffer overrun, detaching session")
		metrics.SessionsDropped.Inc()
		go s.close()
		return false
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			if !ok {
				return
			}
			if !s.writeMessage(websocket.TextMessage, frame) {
				return
			}
		case <-ticker.C:
			if !s.writeMessage(websocket.PingMessage, nil) {
				return
			}
		case <-s.ctx.Done():
			// flush anything queued before the cancel, then say goodbye
			for {
				select {
				case frame := <-s.send:
					if !s.writeMessage(websocket.TextMessage, frame) {
						return
					}
				default:
					s.conn.SetWriteDeadline(time.Now().Add(writeWait))
					s.conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}

func (s *Session) writeMessage(msgType int, data []byte) bool {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(msgType, data); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway,
			websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
			s.log.Debug().Err(err).Msg("transport write failed")
		}
		return false
	}
	return true
}

func (s *Session) readPump() {
	defer s.close()

	s.conn.SetReadLimit(s.hub.cfg.MaxTransportBuffer)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.log.Debug().Err(err).Msg("transport read failed")
			}
			return
		}

		if !s.limiter.Allow() {
			s.queueFrame(newErrorFrame(CodeRateLimited, "too many events"))
			continue
		}

		var probe struct {
			Event string `json:"event"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil || probe.Event == "" {
			s.queueFrame(newErrorFrame(CodeBadRequest, "invalid frame"))
			continue
		}

		if !s.handleFrame(probe.Event, raw) {
			return
		}
	}
}

// handleFrame dispatches one inbound frame. It reports false when the
// transport must be closed (failed authentication). A panic inside a
// handler detaches this session without taking down the process.
func (s *Session) handleFrame(event string, raw []byte) (keepAlive bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Str("event", event).Msg("handler panic")
			s.queueFrame(newErrorFrame(CodeInternal, "internal error"))
			keepAlive = false
		}
	}()

	if _, ok := s.User(); !ok {
		// the authentication handshake must be the first inbound frame
		if event != EvAuthenticate {
			s.queueFrame(newAuthErrorFrame("authentication required"))
			return false
		}
		return s.hub.handleAuthenticate(s, raw)
	}

	s.hub.dispatch(s, event, raw)
	return true
}

// close runs the disconnect cascade exactly once: cancel the session's
// tasks, detach from the registry, leave every joined room, and terminate
// attached calls through the hub.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		// the write task observes the cancel, flushes its queue and
		// closes the transport on its way out
		s.cancel()
		s.hub.dropSession(s)
	})
}
