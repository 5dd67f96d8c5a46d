package hub

import (
	"time"

	json "github.com/goccy/go-json"

	"github.com/MahmoudSaeedNST/learnhub/internal/types"
)

// Client-to-server event names.
const (
	EvAuthenticate        = "authenticate"
	EvPing                = "ping"
	EvSendMessage         = "send-message"
	EvJoinChat            = "join-chat"
	EvLeaveChat           = "leave-chat"
	EvTypingStart         = "typing-start"
	EvTypingStop          = "typing-stop"
	EvMessageRead         = "message-read"
	EvDeleteMessage       = "delete-message"
	EvCallOffer           = "call-offer"
	EvCallAnswer          = "call-answer"
	EvCallReject          = "call-reject"
	EvCallEnd             = "call-end"
	EvIceCandidate        = "ice-candidate"
	EvVideoRoomJoin       = "video-room-join"
	EvVideoRoomLeave      = "video-room-leave"
	EvVideoRoomOffer      = "video-room-offer"
	EvVideoRoomAnswer     = "video-room-answer"
	EvVideoRoomIce        = "video-room-ice"
	EvVideoRoomMediaState = "video-room-media-state"
	EvVideoRoomAdmin      = "video-room-admin-action"
	EvJoinGroupRoom       = "join-group-room"
	EvLeaveGroupRoom      = "leave-group-room"
	EvGroupMessage        = "group-message"
	EvGroupTypingStart    = "group-typing-start"
	EvGroupTypingStop     = "group-typing-stop"
)

// Server-to-client event names.
const (
	EvAuthenticated          = "authenticated"
	EvAuthenticationError    = "authentication-error"
	EvPong                   = "pong"
	EvError                  = "error"
	EvMessageReceived        = "message-received"
	EvMessageSent            = "message-sent"
	EvSendFailed             = "send-failed"
	EvMessageDeleted         = "message-deleted"
	EvChatListUpdate         = "chat-list-update"
	EvUserTyping             = "user-typing"
	EvUserStoppedTyping      = "user-stopped-typing"
	EvIncomingCall           = "incoming-call"
	EvCallInitiated          = "call-initiated"
	EvCallRinging            = "call-ringing"
	EvCallAnswered           = "call-answered"
	EvCallConnected          = "call-connected"
	EvCallRejected           = "call-rejected"
	EvCallEnded              = "call-ended"
	EvCallTimeout            = "call-timeout"
	EvCallMissed             = "call-missed"
	EvVideoRoomJoined        = "video-room-joined"
	EvVideoRoomUserJoined    = "video-room-user-joined"
	EvVideoRoomUserLeft      = "video-room-user-left"
	EvVideoRoomIceCandidate  = "video-room-ice-candidate"
	EvVideoRoomMediaChange   = "video-room-media-change"
	EvVideoRoomMuted         = "video-room-participant-muted"
	EvVideoRoomAdminMute     = "video-room-admin-mute"
	EvVideoRoomAdminKick     = "video-room-admin-kick"
	EvVideoRoomError         = "video-room-error"
	EvPresenceUpdate         = "presence-update"
	EvGroupMessageReceived   = "group-message-received"
	EvGroupTyping            = "group-typing"
)

// Error codes carried in generic error frames.
const (
	CodeUnknownEvent = "unknown-event"
	CodeInvalidState = "invalid-state"
	CodeBadRequest   = "bad-request"
	CodeUnauthorized = "unauthorized"
	CodeNotFound     = "not-found"
	CodeBusy         = "busy"
	CodeRateLimited  = "rate-limited"
	CodeUpstream     = "upstream-unavailable"
	CodeInternal     = "internal"
)

// encodeFrame serializes one outbound event. Frames are encoded once and the
// same bytes are queued to every recipient session.
func encodeFrame(v any) ([]byte, error) {
	return json.Marshal(v)
}

type errorFrame struct {
	Event   string `json:"event"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func newErrorFrame(code, message string) []byte {
	b, _ := encodeFrame(errorFrame{Event: EvError, Code: code, Message: message})
	return b
}

func newAuthErrorFrame(message string) []byte {
	b, _ := encodeFrame(errorFrame{Event: EvAuthenticationError, Message: message})
	return b
}

func newVideoRoomErrorFrame(message string) []byte {
	b, _ := encodeFrame(errorFrame{Event: EvVideoRoomError, Message: message})
	return b
}

type authenticatedFrame struct {
	Event     string `json:"event"`
	UserId    int64  `json:"user_id"`
	SessionId string `json:"session_id"`
}

type pongFrame struct {
	Event      string    `json:"event"`
	ServerTime time.Time `json:"server_time"`
}

type presenceUpdateFrame struct {
	Event        string               `json:"event"`
	UserId       int64                `json:"user_id"`
	Status       types.PresenceStatus `json:"status"`
	LastActivity time.Time            `json:"last_activity"`
}

type typingFrame struct {
	Event    string `json:"event"`
	ThreadId string `json:"thread_id"`
	UserId   int64  `json:"user_id"`
}

type groupTypingFrame struct {
	Event    string `json:"event"`
	ThreadId string `json:"thread_id"`
	UserId   int64  `json:"user_id"`
	Typing   bool   `json:"typing"`
}

type messageReceivedFrame struct {
	Event    string        `json:"event"`
	ThreadId string        `json:"thread_id"`
	Message  types.Message `json:"message"`
}

type messageSentFrame struct {
	Event     string `json:"event"`
	MessageId string `json:"message_id"`
	ThreadId  string `json:"thread_id"`
}

type sendFailedFrame struct {
	Event    string `json:"event"`
	ThreadId string `json:"thread_id,omitempty"`
	Reason   string `json:"reason"`
}

type messageDeletedFrame struct {
	Event     string `json:"event"`
	MessageId string `json:"message_id"`
	ThreadId  string `json:"thread_id"`
}

type chatListUpdateFrame struct {
	Event    string `json:"event"`
	ThreadId string `json:"thread_id"`
}

type messageReadFrame struct {
	Event     string `json:"event"`
	ThreadId  string `json:"thread_id"`
	UserId    int64  `json:"user_id"`
	MessageId string `json:"message_id,omitempty"`
}

type incomingCallFrame struct {
	Event   string            `json:"event"`
	CallId  string            `json:"call_id"`
	Caller  types.UserProfile `json:"caller"`
	IsVideo bool              `json:"is_video"`
	Offer   string            `json:"offer"`
}

type callEventFrame struct {
	Event  string `json:"event"`
	CallId string `json:"call_id"`
	Answer string `json:"answer,omitempty"`
	By     int64  `json:"by,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type iceCandidateFrame struct {
	Event     string          `json:"event"`
	CallId    string          `json:"call_id"`
	From      int64           `json:"from"`
	Candidate json.RawMessage `json:"candidate"`
}

type videoRoomJoinedFrame struct {
	Event        string                  `json:"event"`
	InviteCode   string                  `json:"invite_code"`
	Participants []types.RoomParticipant `json:"participants"`
}

type videoRoomUserFrame struct {
	Event       string                 `json:"event"`
	InviteCode  string                 `json:"invite_code"`
	UserId      int64                  `json:"user_id,omitempty"`
	Participant *types.RoomParticipant `json:"participant,omitempty"`
}

type videoRoomSignalFrame struct {
	Event      string          `json:"event"`
	InviteCode string          `json:"invite_code"`
	From       int64           `json:"from"`
	Offer      string          `json:"offer,omitempty"`
	Answer     string          `json:"answer,omitempty"`
	Candidate  json.RawMessage `json:"candidate,omitempty"`
}

type videoRoomMediaFrame struct {
	Event      string `json:"event"`
	InviteCode string `json:"invite_code"`
	UserId     int64  `json:"user_id"`
	AudioOn    bool   `json:"is_audio_on"`
	VideoOn    bool   `json:"is_video_on"`
}

type videoRoomMutedFrame struct {
	Event      string `json:"event"`
	InviteCode string `json:"invite_code"`
	UserId     int64  `json:"user_id"`
	Muted      bool   `json:"muted"`
}

type videoRoomAdminFrame struct {
	Event      string `json:"event"`
	InviteCode string `json:"invite_code"`
	Muted      bool   `json:"muted,omitempty"`
	Reason     string `json:"reason,omitempty"`
}
