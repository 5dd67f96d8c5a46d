package hub

import (
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/MahmoudSaeedNST/learnhub/internal/metrics"
	"github.com/MahmoudSaeedNST/learnhub/internal/types"
)

const (
	adminMuteUser   = "mute-user"
	adminUnmuteUser = "unmute-user"
	adminKickUser   = "kick-user"
)

type videoRoom struct {
	code         string
	participants map[string]*types.RoomParticipant
	createdAt    time.Time
}

// VideoRoomCoordinator owns the live state of every N-way video room,
// keyed by opaque invite code. A room exists iff its participant map is
// non-empty; the hub never validates or expires codes, that is the content
// store's concern.
type VideoRoomCoordinator struct {
	log      zerolog.Logger
	registry *Registry
	router   *RoomRouter

	mu    sync.Mutex
	rooms map[string]*videoRoom
}

func NewVideoRoomCoordinator(log zerolog.Logger, registry *Registry, router *RoomRouter) *VideoRoomCoordinator {
	return &VideoRoomCoordinator{
		log:      log.With().Str("component", "videorooms").Logger(),
		registry: registry,
		router:   router,
		rooms:    make(map[string]*videoRoom),
	}
}

type videoRoomJoinPayload struct {
	InviteCode string `json:"invite_code"`
	IsAdmin    bool   `json:"is_admin"`
}

// Join adds the session to a room, creating it on first join. Idempotent
// per (invite code, session): a repeat join re-acks the current roster
// without growing the room. Pairwise negotiation is the clients' concern;
// existing members learn about the newcomer first, then initiate offers.
func (vc *VideoRoomCoordinator) Join(s *Session, raw []byte) {
	user, ok := s.User()
	if !ok {
		return
	}

	var p videoRoomJoinPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.InviteCode == "" {
		s.queueFrame(newVideoRoomErrorFrame("video-room-join requires invite_code"))
		return
	}

	participant := &types.RoomParticipant{
		SessionId: s.id,
		UserId:    user.ID,
		Name:      user.Name,
		AvatarURL: user.AvatarURL,
		IsAdmin:   p.IsAdmin,
		AudioOn:   true,
		VideoOn:   true,
	}

	vc.mu.Lock()
	room := vc.rooms[p.InviteCode]
	if room == nil {
		room = &videoRoom{
			code:         p.InviteCode,
			participants: make(map[string]*types.RoomParticipant),
			createdAt:    time.Now(),
		}
		vc.rooms[p.InviteCode] = room
		metrics.VideoRooms.Inc()
	}

	_, rejoin := room.participants[s.id]
	others := make([]types.RoomParticipant, 0, len(room.participants))
	for id, member := range room.participants {
		if id == s.id {
			continue
		}
		others = append(others, *member)
	}
	if !rejoin {
		room.participants[s.id] = participant
		metrics.VideoRoomParticipants.Inc()
	}
	vc.mu.Unlock()

	joined, _ := encodeFrame(videoRoomJoinedFrame{
		Event:        EvVideoRoomJoined,
		InviteCode:   p.InviteCode,
		Participants: others,
	})
	s.queueFrame(joined)

	if rejoin {
		return
	}

	s.trackVideoRoom(p.InviteCode, true)
	vc.router.JoinVideo(p.InviteCode, s.id)

	vc.log.Info().Str("invite_code", p.InviteCode).Int64("user_id", user.ID).Msg("participant joined video room")

	userJoined, _ := encodeFrame(videoRoomUserFrame{
		Event:       EvVideoRoomUserJoined,
		InviteCode:  p.InviteCode,
		UserId:      user.ID,
		Participant: participant,
	})
	vc.router.BroadcastVideo(p.InviteCode, userJoined, s.id)
}

type videoRoomSignalPayload struct {
	InviteCode string          `json:"invite_code"`
	Target     int64           `json:"target"`
	Offer      string          `json:"offer,omitempty"`
	Answer     string          `json:"answer,omitempty"`
	Candidate  json.RawMessage `json:"candidate,omitempty"`
}

// Relay forwards an SDP offer/answer or ICE candidate to every session of
// the target user currently in the room. Sender and target must both be
// members.
func (vc *VideoRoomCoordinator) Relay(s *Session, event string, raw []byte) {
	user, ok := s.User()
	if !ok {
		return
	}

	var p videoRoomSignalPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.InviteCode == "" || p.Target == 0 {
		s.queueFrame(newVideoRoomErrorFrame("signalling requires invite_code and target"))
		return
	}

	vc.mu.Lock()
	room := vc.rooms[p.InviteCode]
	if room == nil || room.participants[s.id] == nil {
		vc.mu.Unlock()
		s.queueFrame(newVideoRoomErrorFrame("not a room member"))
		return
	}
	targets := vc.sessionsOfLocked(room, p.Target)
	vc.mu.Unlock()

	if len(targets) == 0 {
		s.queueFrame(newVideoRoomErrorFrame("target is not in the room"))
		return
	}

	var outEvent string
	switch event {
	case EvVideoRoomOffer:
		outEvent = EvVideoRoomOffer
	case EvVideoRoomAnswer:
		outEvent = EvVideoRoomAnswer
	default:
		outEvent = EvVideoRoomIceCandidate
	}

	frame, _ := encodeFrame(videoRoomSignalFrame{
		Event:      outEvent,
		InviteCode: p.InviteCode,
		From:       user.ID,
		Offer:      p.Offer,
		Answer:     p.Answer,
		Candidate:  p.Candidate,
	})
	for _, id := range targets {
		if target, ok := vc.registry.SessionById(id); ok {
			target.queueFrame(frame)
		}
	}
	metrics.SignalsRelayed.Inc()
}

type mediaStatePayload struct {
	InviteCode string `json:"invite_code"`
	AudioOn    bool   `json:"is_audio_on"`
	VideoOn    bool   `json:"is_video_on"`
}

// MediaState records the sender's device state and broadcasts it to peers.
func (vc *VideoRoomCoordinator) MediaState(s *Session, raw []byte) {
	user, ok := s.User()
	if !ok {
		return
	}

	var p mediaStatePayload
	if err := json.Unmarshal(raw, &p); err != nil || p.InviteCode == "" {
		s.queueFrame(newVideoRoomErrorFrame("media-state requires invite_code"))
		return
	}

	vc.mu.Lock()
	room := vc.rooms[p.InviteCode]
	member := (*types.RoomParticipant)(nil)
	if room != nil {
		member = room.participants[s.id]
	}
	if member == nil {
		vc.mu.Unlock()
		s.queueFrame(newVideoRoomErrorFrame("not a room member"))
		return
	}
	member.AudioOn = p.AudioOn
	member.VideoOn = p.VideoOn
	vc.mu.Unlock()

	frame, _ := encodeFrame(videoRoomMediaFrame{
		Event:      EvVideoRoomMediaChange,
		InviteCode: p.InviteCode,
		UserId:     user.ID,
		AudioOn:    p.AudioOn,
		VideoOn:    p.VideoOn,
	})
	vc.router.BroadcastVideo(p.InviteCode, frame, s.id)
}

type adminActionPayload struct {
	InviteCode string `json:"invite_code"`
	Action     string `json:"action"`
	Target     int64  `json:"target"`
	Reason     string `json:"reason,omitempty"`
}

// AdminAction applies a moderation action. Authorized only when the
// sender's own participant entry carries is-admin.
func (vc *VideoRoomCoordinator) AdminAction(s *Session, raw []byte) {
	if _, ok := s.User(); !ok {
		return
	}

	var p adminActionPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.InviteCode == "" || p.Target == 0 {
		s.queueFrame(newVideoRoomErrorFrame("admin-action requires invite_code, action and target"))
		return
	}

	vc.mu.Lock()
	room := vc.rooms[p.InviteCode]
	sender := (*types.RoomParticipant)(nil)
	if room != nil {
		sender = room.participants[s.id]
	}
	if sender == nil {
		vc.mu.Unlock()
		s.queueFrame(newVideoRoomErrorFrame("not a room member"))
		return
	}
	if !sender.IsAdmin {
		vc.mu.Unlock()
		s.queueFrame(newVideoRoomErrorFrame("Admin permissions required"))
		return
	}
	targets := vc.sessionsOfLocked(room, p.Target)
	vc.mu.Unlock()

	if len(targets) == 0 {
		s.queueFrame(newVideoRoomErrorFrame("target is not in the room"))
		return
	}

	switch p.Action {
	case adminMuteUser, adminUnmuteUser:
		vc.applyMute(s, p, targets, p.Action == adminMuteUser)
	case adminKickUser:
		vc.applyKick(s, p, targets)
	default:
		s.queueFrame(newVideoRoomErrorFrame("unknown admin action"))
	}
}

func (vc *VideoRoomCoordinator) applyMute(s *Session, p adminActionPayload, targets []string, muted bool) {
	vc.mu.Lock()
	if room := vc.rooms[p.InviteCode]; room != nil {
		for _, id := range targets {
			if member := room.participants[id]; member != nil {
				member.AudioOn = !muted
			}
		}
	}
	vc.mu.Unlock()

	directive, _ := encodeFrame(videoRoomAdminFrame{
		Event:      EvVideoRoomAdminMute,
		InviteCode: p.InviteCode,
		Muted:      muted,
		Reason:     p.Reason,
	})
	for _, id := range targets {
		if target, ok := vc.registry.SessionById(id); ok {
			target.queueFrame(directive)
		}
	}

	status, _ := encodeFrame(videoRoomMutedFrame{
		Event:      EvVideoRoomMuted,
		InviteCode: p.InviteCode,
		UserId:     p.Target,
		Muted:      muted,
	})
	vc.router.BroadcastVideo(p.InviteCode, status, "")

	vc.log.Info().Str("invite_code", p.InviteCode).Int64("target", p.Target).Bool("muted", muted).Msg("admin mute applied")
}

func (vc *VideoRoomCoordinator) applyKick(s *Session, p adminActionPayload, targets []string) {
	kick, _ := encodeFrame(videoRoomAdminFrame{
		Event:      EvVideoRoomAdminKick,
		InviteCode: p.InviteCode,
		Reason:     p.Reason,
	})
	for _, id := range targets {
		if target, ok := vc.registry.SessionById(id); ok {
			target.queueFrame(kick)
			target.trackVideoRoom(p.InviteCode, false)
		}
	}

	vc.mu.Lock()
	room := vc.rooms[p.InviteCode]
	if room != nil {
		for _, id := range targets {
			if _, ok := room.participants[id]; ok {
				delete(room.participants, id)
				metrics.VideoRoomParticipants.Dec()
			}
		}
		if len(room.participants) == 0 {
			delete(vc.rooms, p.InviteCode)
			metrics.VideoRooms.Dec()
		}
	}
	vc.mu.Unlock()

	for _, id := range targets {
		vc.router.LeaveVideo(p.InviteCode, id)
	}

	vc.log.Info().Str("invite_code", p.InviteCode).Int64("target", p.Target).Str("reason", p.Reason).Msg("participant kicked")

	left, _ := encodeFrame(videoRoomUserFrame{
		Event:      EvVideoRoomUserLeft,
		InviteCode: p.InviteCode,
		UserId:     p.Target,
	})
	vc.router.BroadcastVideo(p.InviteCode, left, "")
}

type videoRoomLeavePayload struct {
	InviteCode string `json:"invite_code"`
}

// Leave removes the session from a room. The last participant out
// destroys the room; a later join under the same code starts fresh.
func (vc *VideoRoomCoordinator) Leave(s *Session, raw []byte) {
	var p videoRoomLeavePayload
	if err := json.Unmarshal(raw, &p); err != nil || p.InviteCode == "" {
		s.queueFrame(newVideoRoomErrorFrame("video-room-leave requires invite_code"))
		return
	}
	vc.removeSession(s, p.InviteCode)
}

// HandleSessionClose runs the video-room part of the disconnect cascade.
func (vc *VideoRoomCoordinator) HandleSessionClose(s *Session) {
	for _, code := range s.joinedVideoRooms() {
		vc.removeSession(s, code)
	}
}

func (vc *VideoRoomCoordinator) removeSession(s *Session, code string) {
	vc.mu.Lock()
	room := vc.rooms[code]
	if room == nil || room.participants[s.id] == nil {
		vc.mu.Unlock()
		return
	}
	userId := room.participants[s.id].UserId
	delete(room.participants, s.id)
	metrics.VideoRoomParticipants.Dec()

	userStillPresent := false
	for _, member := range room.participants {
		if member.UserId == userId {
			userStillPresent = true
			break
		}
	}
	empty := len(room.participants) == 0
	if empty {
		delete(vc.rooms, code)
		metrics.VideoRooms.Dec()
	}
	vc.mu.Unlock()

	s.trackVideoRoom(code, false)
	vc.router.LeaveVideo(code, s.id)

	vc.log.Info().Str("invite_code", code).Int64("user_id", userId).Bool("destroyed", empty).Msg("participant left video room")

	if empty || userStillPresent {
		return
	}
	left, _ := encodeFrame(videoRoomUserFrame{
		Event:      EvVideoRoomUserLeft,
		InviteCode: code,
		UserId:     userId,
	})
	vc.router.BroadcastVideo(code, left, "")
}

// sessionsOfLocked returns the session ids of every session the user has
// in the room. Callers hold vc.mu.
func (vc *VideoRoomCoordinator) sessionsOfLocked(room *videoRoom, userId int64) []string {
	var ids []string
	for id, member := range room.participants {
		if member.UserId == userId {
			ids = append(ids, id)
		}
	}
	return ids
}

// roomExists reports whether an invite code maps to a live room, for
// tests and health snapshots.
func (vc *VideoRoomCoordinator) roomExists(code string) bool {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	_, ok := vc.rooms[code]
	return ok
}

func (vc *VideoRoomCoordinator) roomCount() int {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	return len(vc.rooms)
}

func (vc *VideoRoomCoordinator) participantCount(code string) int {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	if room := vc.rooms[code]; room != nil {
		return len(room.participants)
	}
	return 0
}
