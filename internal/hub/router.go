package hub

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/MahmoudSaeedNST/learnhub/internal/contentstore"
)

// RoomRouter holds the transient membership indices used for broadcast
// routing: thread id → user ids for chat rooms, invite code → session ids
// for video rooms. Chat membership is lazily hydrated from the content
// store on first reference.
type RoomRouter struct {
	log      zerolog.Logger
	store    contentstore.Store
	registry *Registry

	mu         sync.Mutex
	chatRooms  map[string]map[int64]struct{}
	videoRooms map[string]map[string]struct{}
}

func NewRoomRouter(log zerolog.Logger, store contentstore.Store, registry *Registry) *RoomRouter {
	return &RoomRouter{
		log:        log.With().Str("component", "router").Logger(),
		store:      store,
		registry:   registry,
		chatRooms:  make(map[string]map[int64]struct{}),
		videoRooms: make(map[string]map[string]struct{}),
	}
}

// ChatMembers returns the thread's member set, hydrating it from the
// content store on first reference.
func (rr *RoomRouter) ChatMembers(ctx context.Context, token, threadId string) ([]int64, error) {
	rr.mu.Lock()
	room, ok := rr.chatRooms[threadId]
	rr.mu.Unlock()

	if !ok {
		participants, err := rr.store.ParticipantsOf(ctx, token, threadId)
		if err != nil {
			return nil, err
		}
		room = make(map[int64]struct{}, len(participants))
		for _, id := range participants {
			room[id] = struct{}{}
		}
		rr.mu.Lock()
		if cur, exists := rr.chatRooms[threadId]; exists {
			room = cur
		} else {
			rr.chatRooms[threadId] = room
		}
		rr.mu.Unlock()
	}

	rr.mu.Lock()
	defer rr.mu.Unlock()
	members := make([]int64, 0, len(room))
	for id := range room {
		members = append(members, id)
	}
	return members, nil
}

func (rr *RoomRouter) JoinChat(threadId string, userId int64) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	room := rr.chatRooms[threadId]
	if room == nil {
		room = make(map[int64]struct{})
		rr.chatRooms[threadId] = room
	}
	room[userId] = struct{}{}
}

func (rr *RoomRouter) LeaveChat(threadId string, userId int64) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	room := rr.chatRooms[threadId]
	if room == nil {
		return
	}
	delete(room, userId)
	if len(room) == 0 {
		delete(rr.chatRooms, threadId)
	}
}

// InvalidateChat drops the cached member set so the next reference
// rehydrates from the store.
func (rr *RoomRouter) InvalidateChat(threadId string) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	delete(rr.chatRooms, threadId)
}

// BroadcastChat fans a frame out to every member of the thread currently
// known to the router, skipping exceptUser when non-zero.
func (rr *RoomRouter) BroadcastChat(threadId string, frame []byte, exceptUser int64) {
	rr.mu.Lock()
	members := make([]int64, 0, len(rr.chatRooms[threadId]))
	for id := range rr.chatRooms[threadId] {
		if id == exceptUser {
			continue
		}
		members = append(members, id)
	}
	rr.mu.Unlock()

	rr.registry.Broadcast(members, frame, nil)
}

func (rr *RoomRouter) JoinVideo(code, sessionId string) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	room := rr.videoRooms[code]
	if room == nil {
		room = make(map[string]struct{})
		rr.videoRooms[code] = room
	}
	room[sessionId] = struct{}{}
}

func (rr *RoomRouter) LeaveVideo(code, sessionId string) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	room := rr.videoRooms[code]
	if room == nil {
		return
	}
	delete(room, sessionId)
	if len(room) == 0 {
		delete(rr.videoRooms, code)
	}
}

func (rr *RoomRouter) VideoSessions(code string) []string {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	ids := make([]string, 0, len(rr.videoRooms[code]))
	for id := range rr.videoRooms[code] {
		ids = append(ids, id)
	}
	return ids
}

// BroadcastVideo fans a frame out to every session in the video room,
// skipping exceptSession when non-empty.
func (rr *RoomRouter) BroadcastVideo(code string, frame []byte, exceptSession string) {
	for _, id := range rr.VideoSessions(code) {
		if id == exceptSession {
			continue
		}
		if s, ok := rr.registry.SessionById(id); ok {
			s.queueFrame(frame)
		}
	}
}
