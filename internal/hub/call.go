package hub

import (
	"context"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/teris-io/shortid"

	"github.com/MahmoudSaeedNST/learnhub/internal/contentstore"
	"github.com/MahmoudSaeedNST/learnhub/internal/metrics"
	"github.com/MahmoudSaeedNST/learnhub/internal/types"
)

// connectedDelay separates call-connected from call-answered so the caller
// always processes answered first.
const connectedDelay = 100 * time.Millisecond

type call struct {
	id          string
	caller      types.UserProfile
	calleeId    int64
	isVideo     bool
	state       types.CallState
	roomName    string
	createdAt   time.Time
	answeredAt  *time.Time
	endedAt     *time.Time
	callerToken string
	timer       *time.Timer
}

func (c *call) record() types.CallRecord {
	return types.CallRecord{
		Id:         c.id,
		CallerId:   c.caller.ID,
		CalleeId:   c.calleeId,
		IsVideo:    c.isVideo,
		State:      c.state,
		RoomName:   c.roomName,
		CreatedAt:  c.createdAt,
		AnsweredAt: c.answeredAt,
		EndedAt:    c.endedAt,
	}
}

// CallCoordinator owns the live state machine of every active 1:1 call.
// A call is in the map iff its state is ringing or connected; terminal
// transitions remove it and snapshot the record to the store best-effort.
type CallCoordinator struct {
	log            zerolog.Logger
	store          contentstore.Store
	registry       *Registry
	ringingTimeout time.Duration
	storeDeadline  time.Duration

	mu    sync.Mutex
	calls map[string]*call
}

func NewCallCoordinator(log zerolog.Logger, store contentstore.Store, registry *Registry, ringingTimeout, storeDeadline time.Duration) *CallCoordinator {
	return &CallCoordinator{
		log:            log.With().Str("component", "calls").Logger(),
		store:          store,
		registry:       registry,
		ringingTimeout: ringingTimeout,
		storeDeadline:  storeDeadline,
		calls:          make(map[string]*call),
	}
}

type callOfferPayload struct {
	Target   int64  `json:"target"`
	IsVideo  bool   `json:"is_video"`
	Offer    string `json:"offer"`
	RoomName string `json:"room_name,omitempty"`
}

// Offer starts a new call. A second offer between a pair that already has
// an active call is rejected as busy. The call rings even when the callee
// has no attached sessions; the 30 s timer then transitions it to missed.
func (cc *CallCoordinator) Offer(s *Session, raw []byte) {
	caller, ok := s.User()
	if !ok {
		return
	}

	var p callOfferPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Target == 0 || p.Offer == "" {
		s.queueFrame(newErrorFrame(CodeBadRequest, "call-offer requires target and offer"))
		return
	}
	if p.Target == caller.ID {
		s.queueFrame(newErrorFrame(CodeBadRequest, "cannot call yourself"))
		return
	}

	cc.mu.Lock()
	for _, c := range cc.calls {
		if (c.caller.ID == caller.ID && c.calleeId == p.Target) ||
			(c.caller.ID == p.Target && c.calleeId == caller.ID) {
			cc.mu.Unlock()
			s.queueFrame(newErrorFrame(CodeBusy, "an active call already exists with this user"))
			return
		}
	}

	id, err := shortid.Generate()
	if err != nil {
		cc.mu.Unlock()
		s.queueFrame(newErrorFrame(CodeInternal, "could not allocate call id"))
		return
	}

	c := &call{
		id:          id,
		caller:      caller,
		calleeId:    p.Target,
		isVideo:     p.IsVideo,
		state:       types.CallRinging,
		roomName:    p.RoomName,
		createdAt:   time.Now(),
		callerToken: s.Token(),
	}
	c.timer = time.AfterFunc(cc.ringingTimeout, func() { cc.timeout(id) })
	cc.calls[id] = c
	cc.mu.Unlock()

	metrics.ActiveCalls.Inc()
	cc.log.Info().Str("call_id", id).Int64("caller", caller.ID).Int64("callee", p.Target).Bool("video", p.IsVideo).Msg("call ringing")

	cc.persistRecord(c.record(), c.callerToken)

	incoming, _ := encodeFrame(incomingCallFrame{
		Event:   EvIncomingCall,
		CallId:  id,
		Caller:  caller,
		IsVideo: p.IsVideo,
		Offer:   p.Offer,
	})
	cc.registry.Send(p.Target, incoming)

	initiated, _ := encodeFrame(callEventFrame{Event: EvCallInitiated, CallId: id})
	s.queueFrame(initiated)
	ringing, _ := encodeFrame(callEventFrame{Event: EvCallRinging, CallId: id})
	s.queueFrame(ringing)
}

type callControlPayload struct {
	CallId string `json:"call_id"`
	Answer string `json:"answer,omitempty"`
}

// Answer transitions a ringing call to connected. Only the callee may
// answer; answering a non-ringing call fails with invalid-state.
func (cc *CallCoordinator) Answer(s *Session, raw []byte) {
	user, ok := s.User()
	if !ok {
		return
	}

	var p callControlPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.CallId == "" {
		s.queueFrame(newErrorFrame(CodeBadRequest, "call-answer requires call_id"))
		return
	}

	cc.mu.Lock()
	c, exists := cc.calls[p.CallId]
	if !exists {
		cc.mu.Unlock()
		s.queueFrame(newErrorFrame(CodeNotFound, "call not found"))
		return
	}
	if c.calleeId != user.ID {
		cc.mu.Unlock()
		s.queueFrame(newErrorFrame(CodeUnauthorized, "only the callee may answer"))
		return
	}
	if c.state != types.CallRinging {
		cc.mu.Unlock()
		s.queueFrame(newErrorFrame(CodeInvalidState, "call is not ringing"))
		return
	}

	c.timer.Stop()
	c.state = types.CallConnected
	now := time.Now()
	c.answeredAt = &now
	callerId := c.caller.ID
	calleeId := c.calleeId
	cc.mu.Unlock()

	cc.log.Info().Str("call_id", c.id).Msg("call answered")

	answered, _ := encodeFrame(callEventFrame{Event: EvCallAnswered, CallId: c.id, Answer: p.Answer})
	cc.registry.Send(callerId, answered)

	// connected must never be observed before answered has been
	// dispatched to the caller
	callId := c.id
	time.AfterFunc(connectedDelay, func() {
		cc.mu.Lock()
		cur, exists := cc.calls[callId]
		stillConnected := exists && cur.state == types.CallConnected
		cc.mu.Unlock()
		if !stillConnected {
			return
		}
		connected, _ := encodeFrame(callEventFrame{Event: EvCallConnected, CallId: callId})
		cc.registry.Send(callerId, connected)
		cc.registry.Send(calleeId, connected)
	})
}

// Reject terminates a ringing call from the callee side.
func (cc *CallCoordinator) Reject(s *Session, raw []byte) {
	user, ok := s.User()
	if !ok {
		return
	}

	var p callControlPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.CallId == "" {
		s.queueFrame(newErrorFrame(CodeBadRequest, "call-reject requires call_id"))
		return
	}

	cc.mu.Lock()
	c, exists := cc.calls[p.CallId]
	if !exists {
		cc.mu.Unlock()
		s.queueFrame(newErrorFrame(CodeNotFound, "call not found"))
		return
	}
	if c.calleeId != user.ID {
		cc.mu.Unlock()
		s.queueFrame(newErrorFrame(CodeUnauthorized, "only the callee may reject"))
		return
	}
	if c.state != types.CallRinging {
		cc.mu.Unlock()
		s.queueFrame(newErrorFrame(CodeInvalidState, "call is not ringing"))
		return
	}
	cc.terminateLocked(c, types.CallRejected)
	cc.mu.Unlock()

	rejected, _ := encodeFrame(callEventFrame{Event: EvCallRejected, CallId: c.id})
	cc.registry.Send(c.caller.ID, rejected)
	cc.persistRecord(c.record(), s.Token())
}

// End terminates an active call from either side.
func (cc *CallCoordinator) End(s *Session, raw []byte) {
	user, ok := s.User()
	if !ok {
		return
	}

	var p callControlPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.CallId == "" {
		s.queueFrame(newErrorFrame(CodeBadRequest, "call-end requires call_id"))
		return
	}

	cc.mu.Lock()
	c, exists := cc.calls[p.CallId]
	if !exists {
		cc.mu.Unlock()
		s.queueFrame(newErrorFrame(CodeNotFound, "call not found"))
		return
	}
	if c.caller.ID != user.ID && c.calleeId != user.ID {
		cc.mu.Unlock()
		s.queueFrame(newErrorFrame(CodeUnauthorized, "not a call participant"))
		return
	}
	cc.terminateLocked(c, types.CallEnded)
	other := c.caller.ID
	if user.ID == c.caller.ID {
		other = c.calleeId
	}
	cc.mu.Unlock()

	cc.log.Info().Str("call_id", c.id).Int64("by", user.ID).Msg("call ended")

	ended, _ := encodeFrame(callEventFrame{Event: EvCallEnded, CallId: c.id, By: user.ID})
	cc.registry.Send(other, ended)
	cc.persistRecord(c.record(), s.Token())
}

type icePayload struct {
	CallId    string          `json:"call_id"`
	Candidate json.RawMessage `json:"candidate"`
}

// RelayIce forwards an ICE candidate verbatim to the other participant.
// Candidates for unknown or terminal calls are silently dropped.
func (cc *CallCoordinator) RelayIce(s *Session, raw []byte) {
	user, ok := s.User()
	if !ok {
		return
	}

	var p icePayload
	if err := json.Unmarshal(raw, &p); err != nil || p.CallId == "" {
		return
	}

	cc.mu.Lock()
	c, exists := cc.calls[p.CallId]
	if !exists || !c.state.Active() || (c.caller.ID != user.ID && c.calleeId != user.ID) {
		cc.mu.Unlock()
		return
	}
	target := c.caller.ID
	if user.ID == c.caller.ID {
		target = c.calleeId
	}
	cc.mu.Unlock()

	frame, _ := encodeFrame(iceCandidateFrame{
		Event:     EvIceCandidate,
		CallId:    p.CallId,
		From:      user.ID,
		Candidate: p.Candidate,
	})
	cc.registry.Send(target, frame)
	metrics.SignalsRelayed.Inc()
}

// HandleDisconnect ends every active call involving a user whose last
// session is gone, notifying the surviving participant.
func (cc *CallCoordinator) HandleDisconnect(userId int64) {
	cc.mu.Lock()
	var dropped []*call
	for _, c := range cc.calls {
		if c.caller.ID == userId || c.calleeId == userId {
			cc.terminateLocked(c, types.CallEnded)
			dropped = append(dropped, c)
		}
	}
	cc.mu.Unlock()

	for _, c := range dropped {
		survivor := c.caller.ID
		if userId == c.caller.ID {
			survivor = c.calleeId
		}
		cc.log.Info().Str("call_id", c.id).Int64("disconnected", userId).Msg("call ended by disconnect")

		ended, _ := encodeFrame(callEventFrame{Event: EvCallEnded, CallId: c.id, Reason: "disconnect"})
		cc.registry.Send(survivor, ended)
		cc.persistRecord(c.record(), c.callerToken)
	}
}

// timeout fires when a ringing call was not answered in time.
func (cc *CallCoordinator) timeout(callId string) {
	cc.mu.Lock()
	c, exists := cc.calls[callId]
	if !exists || c.state != types.CallRinging {
		cc.mu.Unlock()
		return
	}
	cc.terminateLocked(c, types.CallMissed)
	cc.mu.Unlock()

	cc.log.Info().Str("call_id", callId).Msg("call timed out")

	timeoutFrame, _ := encodeFrame(callEventFrame{Event: EvCallTimeout, CallId: callId})
	cc.registry.Send(c.caller.ID, timeoutFrame)
	missed, _ := encodeFrame(callEventFrame{Event: EvCallMissed, CallId: callId})
	cc.registry.Send(c.calleeId, missed)
	cc.persistRecord(c.record(), c.callerToken)
}

// terminateLocked applies a terminal transition. Callers hold cc.mu.
func (cc *CallCoordinator) terminateLocked(c *call, state types.CallState) {
	c.timer.Stop()
	c.state = state
	now := time.Now()
	c.endedAt = &now
	delete(cc.calls, c.id)
	metrics.ActiveCalls.Dec()
	metrics.CallsTotal.WithLabelValues(string(state)).Inc()
}

// persistRecord snapshots the call to the store. Failures are logged and
// dropped; the in-memory transition and emitted events stand.
func (cc *CallCoordinator) persistRecord(record types.CallRecord, token string) {
	if token == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cc.storeDeadline)
	defer cancel()
	if err := cc.store.RecordCall(ctx, token, record); err != nil {
		cc.log.Warn().Err(err).Str("call_id", record.Id).Msg("call record write skipped")
	}
}

// activeCall reports the live state of a call, for tests and health
// snapshots.
func (cc *CallCoordinator) activeCall(id string) (types.CallState, bool) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	c, ok := cc.calls[id]
	if !ok {
		return "", false
	}
	return c.state, true
}

func (cc *CallCoordinator) activeCount() int {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return len(cc.calls)
}
