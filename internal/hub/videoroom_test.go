package hub

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func joinRoomPayload(code string, admin bool) []byte {
	return []byte(fmt.Sprintf(`{"event":"video-room-join","invite_code":%q,"is_admin":%t}`, code, admin))
}

func adminPayload(code, action string, target int64) []byte {
	return []byte(fmt.Sprintf(`{"event":"video-room-admin-action","invite_code":%q,"action":%q,"target":%d}`, code, action, target))
}

func TestVideoRoomJoinOrdering(t *testing.T) {
	h := newTestHub(t, testStore())
	a := connect(t, h, user(1, "amina"))
	b := connect(t, h, user(2, "bilal"))
	c := connect(t, h, user(3, "selin"))

	h.VideoRooms.Join(a, joinRoomPayload("inv-1", true))
	joined := recvFrame(t, a)
	assert.Equal(t, EvVideoRoomJoined, joined["event"])
	assert.Empty(t, joined["participants"], "first joiner sees an empty roster")

	h.VideoRooms.Join(b, joinRoomPayload("inv-1", false))
	joined = recvFrame(t, b)
	roster := joined["participants"].([]any)
	require.Len(t, roster, 1)
	assert.Equal(t, float64(1), roster[0].(map[string]any)["user_id"])

	newcomer := recvFrame(t, a)
	assert.Equal(t, EvVideoRoomUserJoined, newcomer["event"])
	assert.Equal(t, float64(2), newcomer["user_id"])

	h.VideoRooms.Join(c, joinRoomPayload("inv-1", false))
	joined = recvFrame(t, c)
	assert.Len(t, joined["participants"], 2)
	assert.Equal(t, float64(3), recvFrame(t, a)["user_id"])
	assert.Equal(t, float64(3), recvFrame(t, b)["user_id"])

	assert.Equal(t, 3, h.VideoRooms.participantCount("inv-1"))
}

func TestVideoRoomRejoinIsIdempotent(t *testing.T) {
	h := newTestHub(t, testStore())
	a := connect(t, h, user(1, "amina"))
	b := connect(t, h, user(2, "bilal"))

	h.VideoRooms.Join(a, joinRoomPayload("inv-1", false))
	h.VideoRooms.Join(b, joinRoomPayload("inv-1", false))
	drainFrames(a)
	drainFrames(b)

	h.VideoRooms.Join(a, joinRoomPayload("inv-1", false))

	// the re-ack carries the current roster, nobody else hears about it
	joined := recvFrame(t, a)
	assert.Equal(t, EvVideoRoomJoined, joined["event"])
	assert.Len(t, joined["participants"], 1)
	assertNoFrame(t, b)
	assert.Equal(t, 2, h.VideoRooms.participantCount("inv-1"))
}

func TestVideoRoomLeaveAndDestroy(t *testing.T) {
	h := newTestHub(t, testStore())
	a := connect(t, h, user(1, "amina"))
	b := connect(t, h, user(2, "bilal"))

	h.VideoRooms.Join(a, joinRoomPayload("inv-1", false))
	h.VideoRooms.Join(b, joinRoomPayload("inv-1", false))
	drainFrames(a)
	drainFrames(b)

	h.VideoRooms.Leave(b, []byte(`{"event":"video-room-leave","invite_code":"inv-1"}`))

	left := recvFrame(t, a)
	assert.Equal(t, EvVideoRoomUserLeft, left["event"])
	assert.Equal(t, float64(2), left["user_id"])
	assert.Equal(t, 1, h.VideoRooms.participantCount("inv-1"))

	h.VideoRooms.Leave(a, []byte(`{"event":"video-room-leave","invite_code":"inv-1"}`))
	assert.False(t, h.VideoRooms.roomExists("inv-1"))
}

func TestVideoRoomDisconnectCascade(t *testing.T) {
	h := newTestHub(t, testStore())
	a := connect(t, h, user(1, "amina"))
	bPhone := connect(t, h, user(2, "bilal"))
	bTablet := connect(t, h, user(2, "bilal"))

	h.VideoRooms.Join(a, joinRoomPayload("inv-1", false))
	h.VideoRooms.Join(bPhone, joinRoomPayload("inv-1", false))
	h.VideoRooms.Join(bTablet, joinRoomPayload("inv-1", false))
	drainFrames(a)
	drainFrames(bPhone)
	drainFrames(bTablet)

	// the user stays listed while another of their sessions remains
	bPhone.close()
	assertNoFrame(t, a)
	assert.Equal(t, 2, h.VideoRooms.participantCount("inv-1"))

	bTablet.close()
	left := recvFrame(t, a)
	assert.Equal(t, EvVideoRoomUserLeft, left["event"])
	assert.Equal(t, float64(2), left["user_id"])
}

func TestVideoRoomSignalRelay(t *testing.T) {
	h := newTestHub(t, testStore())
	a := connect(t, h, user(1, "amina"))
	b := connect(t, h, user(2, "bilal"))
	outsider := connect(t, h, user(3, "selin"))

	h.VideoRooms.Join(a, joinRoomPayload("inv-1", false))
	h.VideoRooms.Join(b, joinRoomPayload("inv-1", false))
	drainFrames(a)
	drainFrames(b)

	h.VideoRooms.Relay(a, EvVideoRoomOffer,
		[]byte(`{"event":"video-room-offer","invite_code":"inv-1","target":2,"offer":"sdp-offer"}`))

	frame := recvFrame(t, b)
	assert.Equal(t, EvVideoRoomOffer, frame["event"])
	assert.Equal(t, float64(1), frame["from"])
	assert.Equal(t, "sdp-offer", frame["offer"])

	h.VideoRooms.Relay(b, EvVideoRoomAnswer,
		[]byte(`{"event":"video-room-answer","invite_code":"inv-1","target":1,"answer":"sdp-answer"}`))
	assert.Equal(t, "sdp-answer", recvFrame(t, a)["answer"])

	h.VideoRooms.Relay(a, EvVideoRoomIce,
		[]byte(`{"event":"video-room-ice","invite_code":"inv-1","target":2,"candidate":{"sdpMid":"0"}}`))
	assert.Equal(t, EvVideoRoomIceCandidate, recvFrame(t, b)["event"])

	t.Run("sender must be a member", func(t *testing.T) {
		h.VideoRooms.Relay(outsider, EvVideoRoomOffer,
			[]byte(`{"event":"video-room-offer","invite_code":"inv-1","target":2,"offer":"x"}`))
		frame := recvFrame(t, outsider)
		assert.Equal(t, EvVideoRoomError, frame["event"])
		assertNoFrame(t, b)
	})

	t.Run("target must be in the room", func(t *testing.T) {
		h.VideoRooms.Relay(a, EvVideoRoomOffer,
			[]byte(`{"event":"video-room-offer","invite_code":"inv-1","target":3,"offer":"x"}`))
		assert.Equal(t, EvVideoRoomError, recvFrame(t, a)["event"])
	})
}

func TestVideoRoomMediaState(t *testing.T) {
	h := newTestHub(t, testStore())
	a := connect(t, h, user(1, "amina"))
	b := connect(t, h, user(2, "bilal"))

	h.VideoRooms.Join(a, joinRoomPayload("inv-1", false))
	h.VideoRooms.Join(b, joinRoomPayload("inv-1", false))
	drainFrames(a)
	drainFrames(b)

	h.VideoRooms.MediaState(a,
		[]byte(`{"event":"video-room-media-state","invite_code":"inv-1","is_audio_on":false,"is_video_on":true}`))

	frame := recvFrame(t, b)
	assert.Equal(t, EvVideoRoomMediaChange, frame["event"])
	assert.Equal(t, float64(1), frame["user_id"])
	assert.Equal(t, false, frame["is_audio_on"])
	assert.Equal(t, true, frame["is_video_on"])
	assertNoFrame(t, a)
}

func TestVideoRoomAdminMute(t *testing.T) {
	h := newTestHub(t, testStore())
	admin := connect(t, h, user(1, "amina"))
	target := connect(t, h, user(2, "bilal"))

	h.VideoRooms.Join(admin, joinRoomPayload("inv-1", true))
	h.VideoRooms.Join(target, joinRoomPayload("inv-1", false))
	drainFrames(admin)
	drainFrames(target)

	h.VideoRooms.AdminAction(admin, adminPayload("inv-1", adminMuteUser, 2))

	directive := recvFrame(t, target)
	assert.Equal(t, EvVideoRoomAdminMute, directive["event"])
	assert.Equal(t, true, directive["muted"])

	// every member, target included, sees the muted status
	status := recvFrame(t, target)
	assert.Equal(t, EvVideoRoomMuted, status["event"])
	assert.Equal(t, float64(2), status["user_id"])
	assert.Equal(t, EvVideoRoomMuted, recvFrame(t, admin)["event"])

	h.VideoRooms.AdminAction(admin, adminPayload("inv-1", adminUnmuteUser, 2))
	directive = recvFrame(t, target)
	assert.Equal(t, EvVideoRoomAdminMute, directive["event"])
	assert.Nil(t, directive["muted"], "unmute directive omits the muted flag")
}

func TestVideoRoomAdminKick(t *testing.T) {
	h := newTestHub(t, testStore())
	admin := connect(t, h, user(1, "amina"))
	target := connect(t, h, user(2, "bilal"))
	witness := connect(t, h, user(3, "selin"))

	h.VideoRooms.Join(admin, joinRoomPayload("inv-1", true))
	h.VideoRooms.Join(target, joinRoomPayload("inv-1", false))
	h.VideoRooms.Join(witness, joinRoomPayload("inv-1", false))
	drainFrames(admin)
	drainFrames(target)
	drainFrames(witness)

	h.VideoRooms.AdminAction(admin, adminPayload("inv-1", adminKickUser, 2))

	assert.Equal(t, EvVideoRoomAdminKick, recvFrame(t, target)["event"])
	assert.Equal(t, 2, h.VideoRooms.participantCount("inv-1"))

	left := recvFrame(t, admin)
	assert.Equal(t, EvVideoRoomUserLeft, left["event"])
	assert.Equal(t, float64(2), left["user_id"])
	assert.Equal(t, EvVideoRoomUserLeft, recvFrame(t, witness)["event"])
}

func TestVideoRoomAdminActionRequiresAdmin(t *testing.T) {
	h := newTestHub(t, testStore())
	admin := connect(t, h, user(1, "amina"))
	plain := connect(t, h, user(2, "bilal"))

	h.VideoRooms.Join(admin, joinRoomPayload("inv-1", true))
	h.VideoRooms.Join(plain, joinRoomPayload("inv-1", false))
	drainFrames(admin)
	drainFrames(plain)

	h.VideoRooms.AdminAction(plain, adminPayload("inv-1", adminMuteUser, 1))

	frame := recvFrame(t, plain)
	assert.Equal(t, EvVideoRoomError, frame["event"])
	assert.Equal(t, "Admin permissions required", frame["message"])
	assertNoFrame(t, admin)
}
