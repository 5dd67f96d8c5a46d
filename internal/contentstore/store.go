package contentstore

import (
	"context"
	"errors"
	"time"

	"github.com/MahmoudSaeedNST/learnhub/internal/types"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrDenied              = errors.New("denied")
	ErrUpstreamUnavailable = errors.New("content store unavailable")
)

// MessageParams carries everything the hub knows about an inbound message
// before the store assigns it an id.
type MessageParams struct {
	ThreadId  string            `json:"thread_id"`
	SenderId  int64             `json:"sender_id"`
	Body      string            `json:"body"`
	Kind      types.MessageKind `json:"kind"`
	MediaURL  string            `json:"media_url,omitempty"`
	Thumbnail string            `json:"thumbnail,omitempty"`
	FileName  string            `json:"file_name,omitempty"`
	FileSize  int64             `json:"file_size,omitempty"`
	Duration  float64           `json:"duration,omitempty"`
	ReplyTo   string            `json:"reply_to,omitempty"`
}

// Store is the hub's only gateway to durable state. Credentials are the
// end-user bearer token passed through from the session; the hub holds no
// service credentials of its own.
type Store interface {
	CreateOrGetThread(ctx context.Context, token string, participants []int64) (string, error)
	PersistMessage(ctx context.Context, token string, params MessageParams) (types.Message, error)
	DeleteMessage(ctx context.Context, token, messageId string) error
	ParticipantsOf(ctx context.Context, token, threadId string) ([]int64, error)
	MarkRead(ctx context.Context, token, threadId string, userId int64, messageId string) error
	RecordCall(ctx context.Context, token string, record types.CallRecord) error
	UpdatePresence(ctx context.Context, token string, userId int64, status types.PresenceStatus, lastActivity time.Time) error
	FriendsOf(ctx context.Context, token string, userId int64) ([]int64, error)
}
