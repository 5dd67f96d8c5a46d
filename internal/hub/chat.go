package hub

import (
	"context"
	"errors"
	"slices"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/MahmoudSaeedNST/learnhub/internal/contentstore"
	"github.com/MahmoudSaeedNST/learnhub/internal/metrics"
	"github.com/MahmoudSaeedNST/learnhub/internal/types"
)

// ChatService accepts inbound chat operations, delegates persistence to
// the content store, and fans the persisted records out to every thread
// participant with attached sessions. Delivery is best-effort: offline
// participants catch up from the store on their next pull.
type ChatService struct {
	log      zerolog.Logger
	store    contentstore.Store
	registry *Registry
	router   *RoomRouter
	presence *PresenceTracker
}

func NewChatService(log zerolog.Logger, store contentstore.Store, registry *Registry, router *RoomRouter, presence *PresenceTracker) *ChatService {
	return &ChatService{
		log:      log.With().Str("component", "chat").Logger(),
		store:    store,
		registry: registry,
		router:   router,
		presence: presence,
	}
}

type sendMessagePayload struct {
	ThreadId   string            `json:"thread_id,omitempty"`
	Recipients []int64           `json:"recipients,omitempty"`
	Body       string            `json:"body"`
	Kind       types.MessageKind `json:"kind"`
	MediaURL   string            `json:"media_url,omitempty"`
	Thumbnail  string            `json:"thumbnail,omitempty"`
	FileName   string            `json:"file_name,omitempty"`
	FileSize   int64             `json:"file_size,omitempty"`
	Duration   float64           `json:"duration,omitempty"`
	ReplyTo    string            `json:"reply_to,omitempty"`
}

// SendMessage implements the persist-then-fan-out pipeline. The group
// flag only selects the delivery event name; group threads follow the
// same path with a larger participant set.
func (cs *ChatService) SendMessage(ctx context.Context, s *Session, raw []byte, group bool) {
	sender, ok := s.User()
	if !ok {
		return
	}

	var p sendMessagePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.queueFrame(newErrorFrame(CodeBadRequest, "invalid message payload"))
		return
	}
	if p.ThreadId == "" && len(p.Recipients) == 0 {
		s.queueFrame(newErrorFrame(CodeBadRequest, "send-message requires thread_id or recipients"))
		return
	}
	if p.Kind == "" {
		p.Kind = types.MessageText
	}
	if !p.Kind.Valid() {
		s.queueFrame(newErrorFrame(CodeBadRequest, "unknown message kind"))
		return
	}
	if p.Body == "" && p.MediaURL == "" {
		s.queueFrame(newErrorFrame(CodeBadRequest, "message has no content"))
		return
	}

	threadId, participants, err := cs.resolveThread(ctx, s, sender.ID, p)
	if err != nil {
		cs.failSend(s, p.ThreadId, err)
		return
	}

	msg, err := cs.store.PersistMessage(ctx, s.Token(), contentstore.MessageParams{
		ThreadId:  threadId,
		SenderId:  sender.ID,
		Body:      p.Body,
		Kind:      p.Kind,
		MediaURL:  p.MediaURL,
		Thumbnail: p.Thumbnail,
		FileName:  p.FileName,
		FileSize:  p.FileSize,
		Duration:  p.Duration,
		ReplyTo:   p.ReplyTo,
	})
	if err != nil {
		cs.log.Warn().Err(err).Str("thread_id", threadId).Msg("message persistence failed")
		cs.failSend(s, threadId, err)
		return
	}

	event := EvMessageReceived
	if group {
		event = EvGroupMessageReceived
	}
	received, _ := encodeFrame(messageReceivedFrame{Event: event, ThreadId: threadId, Message: msg})
	for _, participant := range participants {
		if participant == sender.ID {
			continue
		}
		cs.registry.Send(participant, received)
		metrics.MessagesFannedOut.Inc()
	}

	sent, _ := encodeFrame(messageSentFrame{Event: EvMessageSent, MessageId: msg.Id, ThreadId: threadId})
	s.queueFrame(sent)

	update, _ := encodeFrame(chatListUpdateFrame{Event: EvChatListUpdate, ThreadId: threadId})
	cs.registry.Broadcast(participants, update, nil)
}

// resolveThread maps the payload to a thread id and its participant set,
// verifying the sender's membership. A recipient list finds or creates
// the thread with exactly that participant set.
func (cs *ChatService) resolveThread(ctx context.Context, s *Session, senderId int64, p sendMessagePayload) (string, []int64, error) {
	if p.ThreadId != "" {
		participants, err := cs.store.ParticipantsOf(ctx, s.Token(), p.ThreadId)
		if err != nil {
			return "", nil, err
		}
		if !slices.Contains(participants, senderId) {
			return "", nil, contentstore.ErrDenied
		}
		return p.ThreadId, participants, nil
	}

	participants := p.Recipients
	if !slices.Contains(participants, senderId) {
		participants = append(slices.Clone(participants), senderId)
	}
	threadId, err := cs.store.CreateOrGetThread(ctx, s.Token(), participants)
	if err != nil {
		return "", nil, err
	}
	return threadId, participants, nil
}

func (cs *ChatService) failSend(s *Session, threadId string, err error) {
	switch {
	case errors.Is(err, contentstore.ErrDenied):
		s.queueFrame(newErrorFrame(CodeUnauthorized, "not a thread participant"))
	case errors.Is(err, contentstore.ErrNotFound):
		s.queueFrame(newErrorFrame(CodeNotFound, "thread not found"))
	default:
		frame, _ := encodeFrame(sendFailedFrame{Event: EvSendFailed, ThreadId: threadId, Reason: "message could not be saved"})
		s.queueFrame(frame)
	}
}

type deleteMessagePayload struct {
	MessageId string `json:"message_id"`
	ThreadId  string `json:"thread_id"`
}

// DeleteMessage persists the deletion, then notifies thread members.
func (cs *ChatService) DeleteMessage(ctx context.Context, s *Session, raw []byte) {
	sender, ok := s.User()
	if !ok {
		return
	}

	var p deleteMessagePayload
	if err := json.Unmarshal(raw, &p); err != nil || p.MessageId == "" || p.ThreadId == "" {
		s.queueFrame(newErrorFrame(CodeBadRequest, "delete-message requires message_id and thread_id"))
		return
	}

	if err := cs.store.DeleteMessage(ctx, s.Token(), p.MessageId); err != nil {
		cs.replyStoreError(s, err)
		return
	}

	participants, err := cs.store.ParticipantsOf(ctx, s.Token(), p.ThreadId)
	if err != nil {
		cs.log.Warn().Err(err).Str("thread_id", p.ThreadId).Msg("participant resolution failed after delete")
		return
	}

	frame, _ := encodeFrame(messageDeletedFrame{Event: EvMessageDeleted, MessageId: p.MessageId, ThreadId: p.ThreadId})
	cs.registry.Broadcast(participants, frame, nil)
	cs.log.Info().Str("message_id", p.MessageId).Int64("by", sender.ID).Msg("message deleted")
}

type markReadPayload struct {
	ThreadId  string `json:"thread_id"`
	MessageId string `json:"message_id,omitempty"`
}

// MarkRead persists a read marker at thread or message granularity and
// notifies the other members. Idempotent on the store.
func (cs *ChatService) MarkRead(ctx context.Context, s *Session, raw []byte) {
	user, ok := s.User()
	if !ok {
		return
	}

	var p markReadPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.ThreadId == "" {
		s.queueFrame(newErrorFrame(CodeBadRequest, "message-read requires thread_id"))
		return
	}

	if err := cs.store.MarkRead(ctx, s.Token(), p.ThreadId, user.ID, p.MessageId); err != nil {
		cs.replyStoreError(s, err)
		return
	}

	participants, err := cs.store.ParticipantsOf(ctx, s.Token(), p.ThreadId)
	if err != nil {
		return
	}

	frame, _ := encodeFrame(messageReadFrame{Event: EvMessageRead, ThreadId: p.ThreadId, UserId: user.ID, MessageId: p.MessageId})
	recipients := make([]int64, 0, len(participants))
	for _, id := range participants {
		if id == user.ID {
			continue
		}
		recipients = append(recipients, id)
	}
	cs.registry.Broadcast(recipients, frame, nil)
}

type joinChatPayload struct {
	ThreadId string `json:"thread_id"`
}

// JoinRoom subscribes the session's user to a thread's routing room,
// verifying membership against the store.
func (cs *ChatService) JoinRoom(ctx context.Context, s *Session, raw []byte) {
	user, ok := s.User()
	if !ok {
		return
	}

	var p joinChatPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.ThreadId == "" {
		s.queueFrame(newErrorFrame(CodeBadRequest, "join requires thread_id"))
		return
	}

	participants, err := cs.store.ParticipantsOf(ctx, s.Token(), p.ThreadId)
	if err != nil {
		cs.replyStoreError(s, err)
		return
	}
	if !slices.Contains(participants, user.ID) {
		s.queueFrame(newErrorFrame(CodeUnauthorized, "not a thread participant"))
		return
	}

	// The fetch above reflects current membership, so drop whatever the
	// router cached for this thread and rebuild it from the fresh list.
	cs.router.InvalidateChat(p.ThreadId)
	for _, id := range participants {
		cs.router.JoinChat(p.ThreadId, id)
	}
	s.trackChatRoom(p.ThreadId, true)
}

// LeaveRoom removes the user from a thread's routing room.
func (cs *ChatService) LeaveRoom(s *Session, raw []byte) {
	user, ok := s.User()
	if !ok {
		return
	}

	var p joinChatPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.ThreadId == "" {
		s.queueFrame(newErrorFrame(CodeBadRequest, "leave requires thread_id"))
		return
	}

	s.trackChatRoom(p.ThreadId, false)
	if cs.registry.SiblingJoinedChat(user.ID, s, p.ThreadId) {
		return
	}
	cs.router.LeaveChat(p.ThreadId, user.ID)
}

func (cs *ChatService) replyStoreError(s *Session, err error) {
	switch {
	case errors.Is(err, contentstore.ErrNotFound):
		s.queueFrame(newErrorFrame(CodeNotFound, "not found"))
	case errors.Is(err, contentstore.ErrDenied):
		s.queueFrame(newErrorFrame(CodeUnauthorized, "denied"))
	default:
		s.queueFrame(newErrorFrame(CodeUpstream, "content store unavailable"))
	}
}
