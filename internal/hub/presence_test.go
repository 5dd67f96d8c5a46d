package hub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/MahmoudSaeedNST/learnhub/internal/contentstore"
	"github.com/MahmoudSaeedNST/learnhub/internal/types"
)

// presenceStore wires user 7 to a contact set containing user 8.
func presenceStore() *contentstore.MockStore {
	store := &contentstore.MockStore{}
	store.On("FriendsOf", mock.Anything, mock.Anything, int64(7)).Return([]int64{8}, nil)
	store.On("FriendsOf", mock.Anything, mock.Anything, mock.Anything).Return([]int64{}, nil).Maybe()
	store.On("UpdatePresence", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	return store
}

func TestPresenceOnlineOfflineTransitions(t *testing.T) {
	store := presenceStore()
	h := newTestHub(t, store)

	friend := connect(t, h, user(8, "bilal"))
	s := connect(t, h, user(7, "amina"))

	assert.Equal(t, types.PresenceOnline, h.Presence.Status(7))
	frame := recvFrame(t, friend)
	assert.Equal(t, EvPresenceUpdate, frame["event"])
	assert.Equal(t, float64(7), frame["user_id"])
	assert.Equal(t, string(types.PresenceOnline), frame["status"])
	store.AssertCalled(t, "UpdatePresence", mock.Anything, mock.Anything, int64(7), types.PresenceOnline, mock.Anything)

	s.close()

	assert.Equal(t, types.PresenceOffline, h.Presence.Status(7))
	frame = recvFrame(t, friend)
	assert.Equal(t, EvPresenceUpdate, frame["event"])
	assert.Equal(t, string(types.PresenceOffline), frame["status"])
	store.AssertCalled(t, "UpdatePresence", mock.Anything, mock.Anything, int64(7), types.PresenceOffline, mock.Anything)
}

func TestPresenceSurvivesAllButLastDetach(t *testing.T) {
	store := presenceStore()
	h := newTestHub(t, store)

	friend := connect(t, h, user(8, "bilal"))
	phone := connect(t, h, user(7, "amina"))
	tablet := connect(t, h, user(7, "amina"))
	drainFrames(friend)

	phone.close()
	assert.Equal(t, types.PresenceOnline, h.Presence.Status(7))
	assertNoFrame(t, friend)

	tablet.close()
	assert.Equal(t, types.PresenceOffline, h.Presence.Status(7))
	assert.Equal(t, EvPresenceUpdate, recvFrame(t, friend)["event"])
}

func TestPresenceSweepDemotesIdleUsers(t *testing.T) {
	store := presenceStore()
	h := newTestHub(t, store)

	friend := connect(t, h, user(8, "bilal"))
	connect(t, h, user(7, "amina"))
	drainFrames(friend)

	now := time.Now()
	h.Presence.mu.Lock()
	h.Presence.entries[7].lastActivity = now.Add(-6 * time.Minute)
	h.Presence.mu.Unlock()

	h.Presence.sweep(now)
	assert.Equal(t, types.PresenceAway, h.Presence.Status(7))
	assert.Equal(t, string(types.PresenceAway), recvFrame(t, friend)["status"])

	h.Presence.mu.Lock()
	h.Presence.entries[7].lastActivity = now.Add(-31 * time.Minute)
	h.Presence.mu.Unlock()

	h.Presence.sweep(now)
	assert.Equal(t, types.PresenceOffline, h.Presence.Status(7))
	assert.Equal(t, string(types.PresenceOffline), recvFrame(t, friend)["status"])

	// no delta, no traffic
	h.Presence.sweep(now)
	assertNoFrame(t, friend)
}

func TestHeartbeatPromotesBackToOnline(t *testing.T) {
	store := presenceStore()
	h := newTestHub(t, store)

	friend := connect(t, h, user(8, "bilal"))
	s := connect(t, h, user(7, "amina"))
	drainFrames(friend)

	h.Presence.mu.Lock()
	h.Presence.entries[7].status = types.PresenceAway
	h.Presence.mu.Unlock()

	h.Presence.Heartbeat(s)

	assert.Equal(t, types.PresenceOnline, h.Presence.Status(7))
	assert.Equal(t, string(types.PresenceOnline), recvFrame(t, friend)["status"])

	// a heartbeat while already online slides activity silently
	h.Presence.Heartbeat(s)
	assertNoFrame(t, friend)
}

func TestTypingNotifiesThreadMembers(t *testing.T) {
	store := presenceStore()
	store.On("ParticipantsOf", mock.Anything, mock.Anything, "th-1").Return([]int64{7, 8}, nil)
	h := newTestHub(t, store)

	friend := connect(t, h, user(8, "bilal"))
	s := connect(t, h, user(7, "amina"))
	drainFrames(friend)

	require.NoError(t, h.Presence.TypingStart(context.Background(), s, "th-1", false))

	frame := recvFrame(t, friend)
	assert.Equal(t, EvUserTyping, frame["event"])
	assert.Equal(t, "th-1", frame["thread_id"])
	assert.Equal(t, float64(7), frame["user_id"])
	assertNoFrame(t, s)

	require.NoError(t, h.Presence.TypingStop(context.Background(), s, "th-1", false))
	assert.Equal(t, EvUserStoppedTyping, recvFrame(t, friend)["event"])
}

func TestGroupTypingUsesGroupEvent(t *testing.T) {
	store := presenceStore()
	store.On("ParticipantsOf", mock.Anything, mock.Anything, "th-g").Return([]int64{7, 8, 9}, nil)
	h := newTestHub(t, store)

	friend := connect(t, h, user(8, "bilal"))
	s := connect(t, h, user(7, "amina"))
	drainFrames(friend)

	require.NoError(t, h.Presence.TypingStart(context.Background(), s, "th-g", true))

	frame := recvFrame(t, friend)
	assert.Equal(t, EvGroupTyping, frame["event"])
	assert.Equal(t, true, frame["typing"])

	require.NoError(t, h.Presence.TypingStop(context.Background(), s, "th-g", true))
	frame = recvFrame(t, friend)
	assert.Equal(t, EvGroupTyping, frame["event"])
	assert.Equal(t, false, frame["typing"])
}

func TestTypingEntriesExpireSilently(t *testing.T) {
	store := presenceStore()
	store.On("ParticipantsOf", mock.Anything, mock.Anything, "th-1").Return([]int64{7, 8}, nil)
	h := newTestHub(t, store)

	friend := connect(t, h, user(8, "bilal"))
	s := connect(t, h, user(7, "amina"))
	drainFrames(friend)

	require.NoError(t, h.Presence.TypingStart(context.Background(), s, "th-1", false))
	drainFrames(friend)

	h.Presence.sweep(time.Now().Add(11 * time.Second))

	h.Presence.mu.Lock()
	_, stillTyping := h.Presence.entries[7].typing["th-1"]
	h.Presence.mu.Unlock()
	assert.False(t, stillTyping)
	assertNoFrame(t, friend)
}
