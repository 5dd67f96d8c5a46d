package hub

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/MahmoudSaeedNST/learnhub/internal/contentstore"
	"github.com/MahmoudSaeedNST/learnhub/internal/types"
)

type presenceEntry struct {
	status       types.PresenceStatus
	lastActivity time.Time
	token        string
	friends      []int64
	typing       map[string]time.Time
}

// PresenceTracker derives online/away/offline from session lifecycle events
// and explicit heartbeats, and owns the typing TTL map. Store writes on
// transitions are best-effort.
type PresenceTracker struct {
	log      zerolog.Logger
	store    contentstore.Store
	registry *Registry
	router   *RoomRouter

	awayAfter     time.Duration
	offlineAfter  time.Duration
	typingTTL     time.Duration
	sweepInterval time.Duration
	storeDeadline time.Duration

	mu      sync.Mutex
	entries map[int64]*presenceEntry

	stop     chan struct{}
	stopOnce sync.Once
}

func NewPresenceTracker(log zerolog.Logger, store contentstore.Store, registry *Registry, router *RoomRouter,
	awayAfter, offlineAfter, typingTTL, sweepInterval, storeDeadline time.Duration) *PresenceTracker {
	return &PresenceTracker{
		log:           log.With().Str("component", "presence").Logger(),
		store:         store,
		registry:      registry,
		router:        router,
		awayAfter:     awayAfter,
		offlineAfter:  offlineAfter,
		typingTTL:     typingTTL,
		sweepInterval: sweepInterval,
		storeDeadline: storeDeadline,
		entries:       make(map[int64]*presenceEntry),
		stop:          make(chan struct{}),
	}
}

// Run starts the periodic sweep; it returns when Stop is called.
func (pt *PresenceTracker) Run() {
	ticker := time.NewTicker(pt.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			pt.sweep(time.Now())
		case <-pt.stop:
			return
		}
	}
}

func (pt *PresenceTracker) Stop() {
	pt.stopOnce.Do(func() { close(pt.stop) })
}

// Status returns the tracked status for a user, offline when untracked.
func (pt *PresenceTracker) Status(userId int64) types.PresenceStatus {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if e, ok := pt.entries[userId]; ok {
		return e.status
	}
	return types.PresenceOffline
}

// HandleAttach consumes a session-attached event from the registry. The
// first attach for a user transitions them online and fans the delta out
// to their contact set.
func (pt *PresenceTracker) HandleAttach(user types.UserProfile, s *Session, first bool) {
	now := time.Now()

	pt.mu.Lock()
	e := pt.entries[user.ID]
	if e == nil {
		e = &presenceEntry{typing: make(map[string]time.Time)}
		pt.entries[user.ID] = e
	}
	e.status = types.PresenceOnline
	e.lastActivity = now
	e.token = s.Token()
	pt.mu.Unlock()

	if !first {
		return
	}

	friends, err := pt.store.FriendsOf(s.ctx, s.Token(), user.ID)
	if err != nil {
		pt.log.Warn().Err(err).Int64("user_id", user.ID).Msg("fetch contact set failed")
	}

	pt.mu.Lock()
	e.friends = friends
	pt.mu.Unlock()

	pt.notify(user.ID, types.PresenceOnline, now, friends)
	pt.persist(user.ID, types.PresenceOnline, now, s.Token())
}

// HandleDetach consumes a session-detached event. The last detach for a
// user transitions them offline.
func (pt *PresenceTracker) HandleDetach(userId int64, s *Session, last bool) {
	if !last {
		return
	}
	now := time.Now()

	pt.mu.Lock()
	e := pt.entries[userId]
	var friends []int64
	var token string
	if e != nil {
		friends = e.friends
		token = e.token
	}
	delete(pt.entries, userId)
	pt.mu.Unlock()

	pt.notify(userId, types.PresenceOffline, now, friends)
	pt.persist(userId, types.PresenceOffline, now, token)
}

// Heartbeat slides the user's last-activity timestamp and promotes a
// demoted user back to online.
func (pt *PresenceTracker) Heartbeat(s *Session) {
	user, ok := s.User()
	if !ok {
		return
	}
	now := time.Now()

	pt.mu.Lock()
	e := pt.entries[user.ID]
	if e == nil {
		pt.mu.Unlock()
		return
	}
	e.lastActivity = now
	promoted := e.status != types.PresenceOnline
	if promoted {
		e.status = types.PresenceOnline
	}
	friends := e.friends
	token := e.token
	pt.mu.Unlock()

	if promoted {
		pt.notify(user.ID, types.PresenceOnline, now, friends)
		pt.persist(user.ID, types.PresenceOnline, now, token)
	}
}

// TypingStart records a typing entry with a sliding deadline and notifies
// the other thread members. Entries past their deadline are swept without
// an explicit stop event; subscribers treat silence as stopped.
func (pt *PresenceTracker) TypingStart(ctx context.Context, s *Session, threadId string, group bool) error {
	user, ok := s.User()
	if !ok {
		return nil
	}

	// ChatMembers hydrates the routing index for threads nobody joined
	// explicitly, so the broadcast below has a member set to walk.
	if _, err := pt.router.ChatMembers(ctx, s.Token(), threadId); err != nil {
		return err
	}

	pt.mu.Lock()
	if e := pt.entries[user.ID]; e != nil {
		e.typing[threadId] = time.Now().Add(pt.typingTTL)
	}
	pt.mu.Unlock()

	pt.broadcastTyping(user.ID, threadId, true, group)
	return nil
}

func (pt *PresenceTracker) TypingStop(ctx context.Context, s *Session, threadId string, group bool) error {
	user, ok := s.User()
	if !ok {
		return nil
	}

	if _, err := pt.router.ChatMembers(ctx, s.Token(), threadId); err != nil {
		return err
	}

	pt.mu.Lock()
	if e := pt.entries[user.ID]; e != nil {
		delete(e.typing, threadId)
	}
	pt.mu.Unlock()

	pt.broadcastTyping(user.ID, threadId, false, group)
	return nil
}

func (pt *PresenceTracker) broadcastTyping(userId int64, threadId string, typing, group bool) {
	var frame []byte
	if group {
		frame, _ = encodeFrame(groupTypingFrame{Event: EvGroupTyping, ThreadId: threadId, UserId: userId, Typing: typing})
	} else {
		ev := EvUserTyping
		if !typing {
			ev = EvUserStoppedTyping
		}
		frame, _ = encodeFrame(typingFrame{Event: ev, ThreadId: threadId, UserId: userId})
	}
	pt.router.BroadcastChat(threadId, frame, userId)
}

type presenceDelta struct {
	userId  int64
	status  types.PresenceStatus
	at      time.Time
	friends []int64
	token   string
}

// sweep demotes inactive users and garbage-collects expired typing
// entries. Store writes and fan-out happen after the lock is released.
func (pt *PresenceTracker) sweep(now time.Time) {
	var deltas []presenceDelta

	pt.mu.Lock()
	for userId, e := range pt.entries {
		for threadId, deadline := range e.typing {
			if now.After(deadline) {
				delete(e.typing, threadId)
			}
		}

		idle := now.Sub(e.lastActivity)
		want := e.status
		switch {
		case idle >= pt.offlineAfter:
			want = types.PresenceOffline
		case idle >= pt.awayAfter:
			want = types.PresenceAway
		}
		if want != e.status {
			e.status = want
			deltas = append(deltas, presenceDelta{
				userId: userId, status: want, at: e.lastActivity,
				friends: e.friends, token: e.token,
			})
		}
	}
	pt.mu.Unlock()

	for _, d := range deltas {
		pt.notify(d.userId, d.status, d.at, d.friends)
		pt.persist(d.userId, d.status, d.at, d.token)
	}
}

func (pt *PresenceTracker) notify(userId int64, status types.PresenceStatus, at time.Time, friends []int64) {
	if len(friends) == 0 {
		return
	}
	frame, _ := encodeFrame(presenceUpdateFrame{
		Event:        EvPresenceUpdate,
		UserId:       userId,
		Status:       status,
		LastActivity: at,
	})
	pt.registry.Broadcast(friends, frame, nil)
}

// persist writes the presence delta through to the store. Failures are
// logged and dropped; the in-memory status remains authoritative.
func (pt *PresenceTracker) persist(userId int64, status types.PresenceStatus, at time.Time, token string) {
	if token == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), pt.storeDeadline)
	defer cancel()
	if err := pt.store.UpdatePresence(ctx, token, userId, status, at); err != nil {
		pt.log.Warn().Err(err).Int64("user_id", userId).Msg("presence write skipped")
	}
}
