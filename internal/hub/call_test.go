package hub

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/MahmoudSaeedNST/learnhub/internal/testutil"
	"github.com/MahmoudSaeedNST/learnhub/internal/types"
)

func offerPayload(target int64) []byte {
	return []byte(fmt.Sprintf(`{"event":"call-offer","target":%d,"is_video":true,"offer":"sdp-offer"}`, target))
}

func controlPayload(event, callId string) []byte {
	return []byte(fmt.Sprintf(`{"event":%q,"call_id":%q}`, event, callId))
}

func TestCallHappyPath(t *testing.T) {
	store := testStore()
	h := newTestHub(t, store)
	alice := connect(t, h, user(1, "amina"))
	bob := connect(t, h, user(2, "bilal"))

	h.Calls.Offer(alice, offerPayload(2))

	incoming := recvFrame(t, bob)
	assert.Equal(t, EvIncomingCall, incoming["event"])
	assert.Equal(t, true, incoming["is_video"])
	assert.Equal(t, "sdp-offer", incoming["offer"])
	caller := incoming["caller"].(map[string]any)
	assert.Equal(t, float64(1), caller["id"])

	callId := incoming["call_id"].(string)
	require.NotEmpty(t, callId)

	assert.Equal(t, EvCallInitiated, recvFrame(t, alice)["event"])
	assert.Equal(t, EvCallRinging, recvFrame(t, alice)["event"])

	state, active := h.Calls.activeCall(callId)
	require.True(t, active)
	assert.Equal(t, types.CallRinging, state)

	h.Calls.Answer(bob, []byte(fmt.Sprintf(`{"event":"call-answer","call_id":%q,"answer":"sdp-answer"}`, callId)))

	answered := recvFrame(t, alice)
	assert.Equal(t, EvCallAnswered, answered["event"])
	assert.Equal(t, "sdp-answer", answered["answer"])

	// connected trails answered for both legs
	assert.Equal(t, EvCallConnected, recvFrameWait(t, alice)["event"])
	assert.Equal(t, EvCallConnected, recvFrameWait(t, bob)["event"])

	state, active = h.Calls.activeCall(callId)
	require.True(t, active)
	assert.Equal(t, types.CallConnected, state)

	h.Calls.End(alice, controlPayload("call-end", callId))

	ended := recvFrame(t, bob)
	assert.Equal(t, EvCallEnded, ended["event"])
	assert.Equal(t, float64(1), ended["by"])
	assert.Zero(t, h.Calls.activeCount())
	store.AssertCalled(t, "RecordCall", mock.Anything, mock.Anything, mock.Anything)
}

func TestCallIceRelay(t *testing.T) {
	h := newTestHub(t, testStore())
	alice := connect(t, h, user(1, "amina"))
	bob := connect(t, h, user(2, "bilal"))

	h.Calls.Offer(alice, offerPayload(2))
	callId := recvFrame(t, bob)["call_id"].(string)
	drainFrames(alice)

	h.Calls.RelayIce(alice, []byte(fmt.Sprintf(`{"event":"ice-candidate","call_id":%q,"candidate":{"sdpMid":"0"}}`, callId)))

	frame := recvFrame(t, bob)
	assert.Equal(t, EvIceCandidate, frame["event"])
	assert.Equal(t, float64(1), frame["from"])
	assert.NotNil(t, frame["candidate"])

	// unknown calls and non-participants are dropped silently
	h.Calls.RelayIce(alice, []byte(`{"event":"ice-candidate","call_id":"nope","candidate":{}}`))
	assertNoFrame(t, bob)
	assertNoFrame(t, alice)
}

func TestCallOfferValidation(t *testing.T) {
	h := newTestHub(t, testStore())
	alice := connect(t, h, user(1, "amina"))

	t.Run("missing offer", func(t *testing.T) {
		h.Calls.Offer(alice, []byte(`{"event":"call-offer","target":2}`))
		assert.Equal(t, CodeBadRequest, recvFrame(t, alice)["code"])
	})

	t.Run("self call", func(t *testing.T) {
		h.Calls.Offer(alice, offerPayload(1))
		assert.Equal(t, CodeBadRequest, recvFrame(t, alice)["code"])
	})
}

func TestCallBusyPair(t *testing.T) {
	h := newTestHub(t, testStore())
	alice := connect(t, h, user(1, "amina"))
	bob := connect(t, h, user(2, "bilal"))

	h.Calls.Offer(alice, offerPayload(2))
	drainFrames(alice)
	drainFrames(bob)

	// a second offer in either direction is busy
	h.Calls.Offer(alice, offerPayload(2))
	assert.Equal(t, CodeBusy, recvFrame(t, alice)["code"])

	h.Calls.Offer(bob, offerPayload(1))
	assert.Equal(t, CodeBusy, recvFrame(t, bob)["code"])

	assert.Equal(t, 1, h.Calls.activeCount())
}

func TestCallAnswerGuards(t *testing.T) {
	h := newTestHub(t, testStore())
	alice := connect(t, h, user(1, "amina"))
	bob := connect(t, h, user(2, "bilal"))
	eve := connect(t, h, user(3, "selin"))

	h.Calls.Offer(alice, offerPayload(2))
	callId := recvFrame(t, bob)["call_id"].(string)
	drainFrames(alice)

	t.Run("unknown call", func(t *testing.T) {
		h.Calls.Answer(bob, controlPayload("call-answer", "nope"))
		assert.Equal(t, CodeNotFound, recvFrame(t, bob)["code"])
	})

	t.Run("only the callee may answer", func(t *testing.T) {
		h.Calls.Answer(eve, controlPayload("call-answer", callId))
		assert.Equal(t, CodeUnauthorized, recvFrame(t, eve)["code"])

		h.Calls.Answer(alice, controlPayload("call-answer", callId))
		assert.Equal(t, CodeUnauthorized, recvFrame(t, alice)["code"])
	})

	t.Run("answering a connected call is invalid-state", func(t *testing.T) {
		h.Calls.Answer(bob, controlPayload("call-answer", callId))
		drainFrames(alice)

		h.Calls.Answer(bob, controlPayload("call-answer", callId))
		assert.Equal(t, CodeInvalidState, recvFrame(t, bob)["code"])
	})
}

func TestCallReject(t *testing.T) {
	store := testStore()
	h := newTestHub(t, store)
	alice := connect(t, h, user(1, "amina"))
	bob := connect(t, h, user(2, "bilal"))

	h.Calls.Offer(alice, offerPayload(2))
	callId := recvFrame(t, bob)["call_id"].(string)
	drainFrames(alice)

	h.Calls.Reject(bob, controlPayload("call-reject", callId))

	assert.Equal(t, EvCallRejected, recvFrame(t, alice)["event"])
	assert.Zero(t, h.Calls.activeCount())
	assertNoFrame(t, bob)
}

func TestCallRingingTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.RingingTimeout = 30 * time.Millisecond
	h := New(testutil.TestLogger(t), cfg, stubVerifier{}, testStore())

	alice := connect(t, h, user(1, "amina"))
	bob := connect(t, h, user(2, "bilal"))

	h.Calls.Offer(alice, offerPayload(2))
	callId := recvFrame(t, bob)["call_id"].(string)
	drainFrames(alice)

	assert.Equal(t, EvCallTimeout, recvFrameWait(t, alice)["event"])
	assert.Equal(t, EvCallMissed, recvFrameWait(t, bob)["event"])
	assert.Zero(t, h.Calls.activeCount())

	// the call is gone; answering late fails cleanly
	h.Calls.Answer(bob, controlPayload("call-answer", callId))
	assert.Equal(t, CodeNotFound, recvFrame(t, bob)["code"])
}

func TestCallOfferToOfflineCalleeRingsThenMisses(t *testing.T) {
	cfg := testConfig()
	cfg.RingingTimeout = 30 * time.Millisecond
	store := testStore()
	h := New(testutil.TestLogger(t), cfg, stubVerifier{}, store)

	alice := connect(t, h, user(1, "amina"))

	// user 2 has no attached sessions; the call still rings so a late
	// reconnect within the window could pick it up
	h.Calls.Offer(alice, offerPayload(2))

	assert.Equal(t, EvCallInitiated, recvFrame(t, alice)["event"])
	ringing := recvFrame(t, alice)
	assert.Equal(t, EvCallRinging, ringing["event"])
	callId := ringing["call_id"].(string)
	require.NotEmpty(t, callId)

	state, active := h.Calls.activeCall(callId)
	require.True(t, active)
	assert.Equal(t, types.CallRinging, state)

	assert.Equal(t, EvCallTimeout, recvFrameWait(t, alice)["event"])
	assert.Zero(t, h.Calls.activeCount())
	store.AssertCalled(t, "RecordCall", mock.Anything, mock.Anything, mock.Anything)
}

func TestCallEndedByDisconnect(t *testing.T) {
	h := newTestHub(t, testStore())
	alice := connect(t, h, user(1, "amina"))
	bobPhone := connect(t, h, user(2, "bilal"))
	bobTablet := connect(t, h, user(2, "bilal"))

	h.Calls.Offer(alice, offerPayload(2))
	callId := recvFrame(t, bobPhone)["call_id"].(string)
	h.Calls.Answer(bobPhone, []byte(fmt.Sprintf(`{"event":"call-answer","call_id":%q,"answer":"sdp"}`, callId)))
	drainFrames(alice)
	drainFrames(bobPhone)
	drainFrames(bobTablet)

	// one of two devices going away does not end the call
	bobTablet.close()
	time.Sleep(150 * time.Millisecond)
	drainFrames(alice)
	assert.Equal(t, 1, h.Calls.activeCount())

	bobPhone.close()

	ended := recvFrameWait(t, alice)
	assert.Equal(t, EvCallEnded, ended["event"])
	assert.Equal(t, "disconnect", ended["reason"])
	assert.Zero(t, h.Calls.activeCount())
}
