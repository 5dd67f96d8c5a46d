package types

import (
	"time"
)

// UserProfile is the stable identity issued by the identity provider.
// Immutable for the lifetime of a session.
type UserProfile struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

type MessageKind string

const (
	MessageText     MessageKind = "text"
	MessageImage    MessageKind = "image"
	MessageVideo    MessageKind = "video"
	MessageAudio    MessageKind = "audio"
	MessageDocument MessageKind = "document"
)

func (k MessageKind) Valid() bool {
	switch k {
	case MessageText, MessageImage, MessageVideo, MessageAudio, MessageDocument:
		return true
	}
	return false
}

// Message is the durable chat record owned by the content store. The hub
// only ever sees it after persistence; Id is assigned by the store.
type Message struct {
	Id        string      `json:"id"`
	ThreadId  string      `json:"thread_id"`
	SenderId  int64       `json:"sender_id"`
	Body      string      `json:"body"`
	Kind      MessageKind `json:"kind"`
	MediaURL  string      `json:"media_url,omitempty"`
	Thumbnail string      `json:"thumbnail,omitempty"`
	FileName  string      `json:"file_name,omitempty"`
	FileSize  int64       `json:"file_size,omitempty"`
	Duration  float64     `json:"duration,omitempty"`
	ReplyTo   string      `json:"reply_to,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	ReadBy    []int64     `json:"read_by,omitempty"`
}

type CallState string

const (
	CallRinging   CallState = "ringing"
	CallConnected CallState = "connected"
	CallEnded     CallState = "ended"
	CallRejected  CallState = "rejected"
	CallMissed    CallState = "missed"
)

// Active reports whether the state is non-terminal.
func (s CallState) Active() bool {
	return s == CallRinging || s == CallConnected
}

// CallRecord is the snapshot persisted to the content store on terminal
// transitions. Live call state is owned by the call coordinator.
type CallRecord struct {
	Id         string     `json:"id"`
	CallerId   int64      `json:"caller_id"`
	CalleeId   int64      `json:"callee_id"`
	IsVideo    bool       `json:"is_video"`
	State      CallState  `json:"state"`
	RoomName   string     `json:"room_name,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	AnsweredAt *time.Time `json:"answered_at,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
}

type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceAway    PresenceStatus = "away"
	PresenceOffline PresenceStatus = "offline"
)

// RoomParticipant is one member of a live video room, keyed by session.
type RoomParticipant struct {
	SessionId string `json:"session_id"`
	UserId    int64  `json:"user_id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
	IsAdmin   bool   `json:"is_admin"`
	AudioOn   bool   `json:"audio_on"`
	VideoOn   bool   `json:"video_on"`
}
