// Package call runs the per-conversation call signaling state machine and the
// agent-wide registry of machines.
package call

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"skillswap-backend/internal/domain"
	"skillswap-backend/internal/media"
	"skillswap-backend/pkg/constants"
	apperrors "skillswap-backend/pkg/errors"
	"skillswap-backend/pkg/logger"
	"skillswap-backend/pkg/metrics"
)

const presenceCheckTimeout = 3 * time.Second

// Config describes one conversation's machine
type Config struct {
	Self         Participant
	Peer         Participant
	CallType     domain.CallType
	RingTimeout  time.Duration
	CleanupDelay time.Duration
	CloseDelay   time.Duration
	// OnClose runs once, CloseDelay after the call terminated.
	OnClose func()
	// OnUpdate receives every snapshot. Called from the machine goroutine; it
	// must not block or call back into the machine.
	OnUpdate func(Snapshot)
}

type event interface{}

type (
	startRequest   struct{ reply chan error }
	answerRequest  struct{ reply chan error }
	declineRequest struct{ reply chan error }
	endRequest     struct{ reply chan error }
	ringRequest    struct {
		rec   *domain.CallRecord
		reply chan error
	}
	mediaRequest struct {
		apply func(MediaSession) error
		reply chan error
	}
	startOpened struct {
		session MediaSession
		online  bool
		err     error
	}
	recordCreated struct {
		id  string
		err error
	}
	answerDone struct {
		session    MediaSession
		answeredAt time.Time
		err        error
	}
	recordChange struct {
		gen    int
		change domain.CallChange
	}
	incomingChange struct {
		gen    int
		change domain.CallChange
	}
	mediaEvent struct {
		gen int
		ev  media.Event
	}
	timerFired struct{ gen int }
	closeDue   struct{}
)

type termCause int

const (
	causeLocalEnd termCause = iota
	causeDecline
	causeTimeout
	causeRemote
)

type termination struct {
	cause   termCause
	record  *domain.CallRecord
	deleted bool
	at      time.Time
}

// Machine drives one conversation's call. Every trigger is an event processed
// by the goroutine running Run; slow I/O happens off that goroutine and reports
// back as another event.
type Machine struct {
	cfg    Config
	deps   Deps
	pairID string

	ctx     context.Context
	events  chan event
	done    chan struct{}
	running atomic.Bool
	once    sync.Once

	snapMu sync.RWMutex
	snap   Snapshot

	// owned by the Run goroutine
	state            State
	status           string
	callType         domain.CallType
	direction        domain.CallDirection
	callID           string
	record           *domain.CallRecord
	outcome          domain.CallStatus
	starting         bool
	abortStart       bool
	creating         bool
	created          chan recordCreated
	answering        bool
	replies          []pendingReply
	startReply       chan error
	answerReply      chan error
	session          MediaSession
	sessionGen       int
	watchCancel      context.CancelFunc
	watchGen         int
	incomingCancel   context.CancelFunc
	incomingGen      int
	timer            *time.Timer
	timerGen         int
	reachedConnected bool
	connectedAt      *time.Time
	localAnsweredAt  *time.Time
	terminated       bool
	pending          *termination
}

// NewMachine creates an idle machine for the conversation between cfg.Self and
// cfg.Peer. Nothing happens until Run is called.
func NewMachine(cfg Config, deps Deps) *Machine {
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = constants.RingTimeout
	}
	if cfg.CleanupDelay <= 0 {
		cfg.CleanupDelay = constants.RecordCleanupDelay
	}
	if cfg.CloseDelay <= 0 {
		cfg.CloseDelay = constants.CloseDelay
	}
	if !cfg.CallType.Valid() {
		cfg.CallType = domain.CallTypeAudio
	}

	m := &Machine{
		cfg:      cfg,
		deps:     deps,
		pairID:   domain.PairID(cfg.Self.ID, cfg.Peer.ID),
		events:   make(chan event, 64),
		done:     make(chan struct{}),
		state:    StateIdle,
		callType: cfg.CallType,
	}
	m.snap = m.buildSnapshot()
	return m
}

// PairID is the conversation this machine belongs to
func (m *Machine) PairID() string {
	return m.pairID
}

// Done is closed once the machine has finished, after OnClose ran
func (m *Machine) Done() <-chan struct{} {
	return m.done
}

// Snapshot returns the latest observable state
func (m *Machine) Snapshot() Snapshot {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	return m.snap
}

// Run processes events until the call finishes or ctx is cancelled. While idle
// it watches for incoming calls from the peer.
func (m *Machine) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return errors.New("call machine already running")
	}
	m.ctx = ctx
	m.armIncoming()
	m.publish()

	for {
		select {
		case <-ctx.Done():
			m.abort()
			return ctx.Err()
		case ev := <-m.events:
			if m.handle(ev) {
				return nil
			}
		}
	}
}

// StartCall dials the peer. Returns once the call record exists; the call
// continues asynchronously.
func (m *Machine) StartCall(ctx context.Context) error {
	return m.request(ctx, func(reply chan error) event { return startRequest{reply: reply} })
}

// Ring moves an idle machine to Ringing for rec. Ringing again for the same
// record is a no-op.
func (m *Machine) Ring(ctx context.Context, rec *domain.CallRecord) error {
	return m.request(ctx, func(reply chan error) event { return ringRequest{rec: rec, reply: reply} })
}

// AnswerCall accepts the ringing call
func (m *Machine) AnswerCall(ctx context.Context) error {
	return m.request(ctx, func(reply chan error) event { return answerRequest{reply: reply} })
}

// DeclineCall rejects the ringing call
func (m *Machine) DeclineCall(ctx context.Context) error {
	return m.request(ctx, func(reply chan error) event { return declineRequest{reply: reply} })
}

// EndCall hangs up. Ending a ringing call declines it. Ending a finished call is
// a no-op.
func (m *Machine) EndCall(ctx context.Context) error {
	err := m.request(ctx, func(reply chan error) event { return endRequest{reply: reply} })
	if errors.Is(err, errMachineDone) {
		return nil
	}
	return err
}

// SetMuted mutes the microphone
func (m *Machine) SetMuted(ctx context.Context, muted bool) error {
	return m.mediaOp(ctx, func(s MediaSession) error {
		_, err := s.SetMuted(muted)
		return err
	})
}

// SetCameraEnabled toggles the camera on video calls
func (m *Machine) SetCameraEnabled(ctx context.Context, enabled bool) error {
	return m.mediaOp(ctx, func(s MediaSession) error {
		_, err := s.SetCameraEnabled(enabled)
		return err
	})
}

// SetSpeakerMuted mutes local playback
func (m *Machine) SetSpeakerMuted(ctx context.Context, muted bool) error {
	return m.mediaOp(ctx, func(s MediaSession) error {
		s.SetSpeakerMuted(muted)
		return nil
	})
}

// SetScreenShare starts or stops screen sharing
func (m *Machine) SetScreenShare(ctx context.Context, enabled bool) error {
	return m.mediaOp(ctx, func(s MediaSession) error {
		_, err := s.SetScreenShare(enabled)
		return err
	})
}

var errMachineDone = apperrors.InvalidStateError("call has ended")

func (m *Machine) mediaOp(ctx context.Context, apply func(MediaSession) error) error {
	return m.request(ctx, func(reply chan error) event { return mediaRequest{apply: apply, reply: reply} })
}

func (m *Machine) request(ctx context.Context, build func(chan error) event) error {
	reply := make(chan error, 1)
	select {
	case m.events <- build(reply):
	case <-m.done:
		return errMachineDone
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-m.done:
		select {
		case err := <-reply:
			return err
		default:
			return errMachineDone
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Machine) post(ev event) bool {
	select {
	case m.events <- ev:
		return true
	case <-m.done:
		return false
	}
}

// postOrClose delivers a freshly opened session, closing it if nobody is left
// to own it
func (m *Machine) postOrClose(ev event, s MediaSession) {
	if !m.post(ev) && s != nil {
		_ = s.Close()
	}
}

func (m *Machine) handle(ev event) bool {
	switch e := ev.(type) {
	case startRequest:
		m.onStart(e)
	case startOpened:
		m.onStartOpened(e)
	case recordCreated:
		m.onRecordCreated(e)
	case ringRequest:
		m.respond(e.reply, m.ring(e.rec))
	case answerRequest:
		m.onAnswer(e)
	case answerDone:
		m.onAnswerDone(e)
	case declineRequest:
		m.respond(e.reply, m.decline())
	case endRequest:
		m.respond(e.reply, m.end())
	case mediaRequest:
		m.respond(e.reply, m.applyMedia(e.apply))
	case recordChange:
		m.onRecordChange(e)
	case incomingChange:
		m.onIncomingChange(e)
	case mediaEvent:
		m.onMediaEvent(e)
	case timerFired:
		m.onTimer(e)
	case closeDue:
		m.close()
		return true
	}
	m.publish()
	m.flushReplies()
	return false
}

type pendingReply struct {
	ch  chan error
	err error
}

// respond queues a request's reply until the snapshot reflects it
func (m *Machine) respond(ch chan error, err error) {
	m.replies = append(m.replies, pendingReply{ch: ch, err: err})
}

func (m *Machine) flushReplies() {
	for _, r := range m.replies {
		if r.ch != nil {
			r.ch <- r.err
		}
	}
	m.replies = nil
}

func (m *Machine) openOptions() media.OpenOptions {
	return media.OpenOptions{
		Room:        domain.RoomName(m.cfg.Self.ID, m.cfg.Peer.ID),
		DisplayName: m.cfg.Self.Name,
		Identity:    m.cfg.Self.ID,
		AudioOnly:   m.callType == domain.CallTypeAudio,
	}
}

func (m *Machine) onStart(req startRequest) {
	if m.terminated || m.state != StateIdle || m.starting {
		m.respond(req.reply, apperrors.InvalidStateError("a call is already in progress"))
		return
	}

	m.starting = true
	m.abortStart = false
	m.startReply = req.reply

	opts := m.openOptions()
	go func() {
		online := m.peerOnline()
		s, err := m.deps.Media.OpenSession(m.ctx, opts)
		m.postOrClose(startOpened{session: s, online: online, err: err}, s)
	}()
}

func (m *Machine) peerOnline() bool {
	if m.deps.Presence == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(m.ctx, presenceCheckTimeout)
	defer cancel()

	online, err := m.deps.Presence.IsOnline(ctx, m.cfg.Peer.ID)
	if err != nil {
		logger.Debug("Presence lookup failed", zap.String("user_id", m.cfg.Peer.ID), zap.Error(err))
		return false
	}
	return online
}

func (m *Machine) onStartOpened(e startOpened) {
	m.starting = false
	reply := m.startReply
	m.startReply = nil

	if e.err != nil {
		if apperrors.HasCode(e.err, apperrors.ErrCodeConfiguration) {
			m.status = StatusNotConfigured
		} else {
			m.status = StatusStartFailed
		}
		logger.Warn("Failed to start call",
			zap.String("pair_id", m.pairID),
			zap.Error(e.err))
		m.respond(reply, e.err)
		return
	}

	if m.abortStart || m.terminated || m.state != StateIdle {
		go e.session.Close()
		m.status = StatusStartCancelled
		m.respond(reply, apperrors.InvalidStateError("call cancelled"))
		return
	}

	m.disarmIncoming()
	m.attachSession(e.session)

	rec := domain.NewCallRecord(m.cfg.Self.ID, m.cfg.Self.Name, m.cfg.Peer.ID, m.cfg.Peer.Name, m.callType, m.deps.now())
	m.record = rec
	m.direction = domain.DirectionOutgoing
	m.state = StateDialing
	if e.online {
		m.status = StatusRinging
	} else {
		m.status = StatusCalling
	}
	m.playOutgoing()
	m.armTimer(m.cfg.RingTimeout)

	metrics.CallsStartedTotal.WithLabelValues(string(m.callType), string(domain.DirectionOutgoing)).Inc()
	metrics.CallsActive.Inc()

	m.creating = true
	m.startReply = reply
	created := make(chan recordCreated, 1)
	m.created = created
	go func(rec *domain.CallRecord) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(m.ctx), terminalWriteTimeout)
		defer cancel()
		id, err := m.deps.Calls.Create(ctx, rec)
		res := recordCreated{id: id, err: err}
		created <- res
		m.post(res)
	}(rec.Clone())
}

func (m *Machine) onRecordCreated(e recordCreated) {
	m.creating = false
	m.created = nil
	reply := m.startReply
	m.startReply = nil

	if e.err != nil {
		logger.Error("Failed to create call record",
			zap.String("pair_id", m.pairID),
			zap.Error(e.err))
		if reply != nil {
			m.respond(reply, apperrors.DatabaseError(e.err))
		}

		if m.terminated {
			t := *m.pending
			m.pending = nil
			m.finish(t)
			return
		}

		m.stopTimer()
		m.stopTones()
		m.closeSession()
		m.record = nil
		m.direction = ""
		m.state = StateIdle
		m.status = StatusStartFailed
		metrics.CallsActive.Dec()
		m.armIncoming()
		return
	}

	m.callID = e.id
	m.record.ID = e.id
	if reply != nil {
		m.respond(reply, nil)
	}
	m.publishEvent(m.startedEvent())

	if m.terminated {
		t := *m.pending
		m.pending = nil
		m.finish(t)
		return
	}
	m.watchRecord(e.id)
}

func (m *Machine) ring(rec *domain.CallRecord) error {
	if rec == nil {
		return apperrors.InvalidStateError("no call record")
	}
	if m.state == StateRinging && m.callID == rec.ID {
		return nil
	}
	if m.terminated || m.state != StateIdle || m.starting {
		return apperrors.InvalidStateError("a call is already in progress")
	}
	if rec.From != m.cfg.Peer.ID || rec.To != m.cfg.Self.ID {
		return apperrors.InvalidStateError("call does not belong to this conversation")
	}
	if !rec.Pending() {
		return apperrors.InvalidStateError("call is no longer ringing")
	}

	m.disarmIncoming()
	m.callID = rec.ID
	m.record = rec.Clone()
	if rec.CallType.Valid() {
		m.callType = rec.CallType
	}
	m.direction = domain.DirectionIncoming
	m.state = StateRinging
	m.status = StatusIncoming
	m.playIncoming()
	// CreatedAt is stamped by the caller's clock, so the ring window runs
	// on ours from the moment the record is seen.
	m.armTimer(m.cfg.RingTimeout)
	m.watchRecord(rec.ID)

	metrics.CallsStartedTotal.WithLabelValues(string(m.callType), string(domain.DirectionIncoming)).Inc()
	metrics.CallsActive.Inc()
	return nil
}

func (m *Machine) onAnswer(req answerRequest) {
	if m.terminated || m.state != StateRinging {
		m.respond(req.reply, apperrors.InvalidStateError("no incoming call to answer"))
		return
	}
	if m.answering {
		m.respond(req.reply, apperrors.InvalidStateError("answer already in progress"))
		return
	}

	m.answering = true
	m.answerReply = req.reply

	id := m.callID
	alreadyAnswered := m.record != nil && m.record.Answered
	at := m.deps.now()
	opts := m.openOptions()

	// The answered write must land before media opens so the caller's listener
	// sees a consistent record.
	go func() {
		if !alreadyAnswered {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(m.ctx), terminalWriteTimeout)
			applied, err := m.deps.Calls.UpdateIfExists(ctx, id, domain.AnswerPatch(at))
			cancel()
			if err != nil {
				m.post(answerDone{err: err})
				return
			}
			if !applied {
				m.post(answerDone{err: domain.ErrCallNotFound})
				return
			}
		}
		s, err := m.deps.Media.OpenSession(m.ctx, opts)
		m.postOrClose(answerDone{session: s, answeredAt: at, err: err}, s)
	}()
}

func (m *Machine) onAnswerDone(e answerDone) {
	m.answering = false
	reply := m.answerReply
	m.answerReply = nil

	if e.err != nil {
		logger.Warn("Failed to answer call",
			zap.String("call_id", m.callID),
			zap.Error(e.err))
		if m.terminated {
			m.respond(reply, errMachineDone)
			return
		}
		m.status = StatusAnswerFailed
		m.respond(reply, e.err)
		return
	}

	if m.terminated || m.state != StateRinging {
		go e.session.Close()
		m.respond(reply, errMachineDone)
		return
	}

	at := e.answeredAt
	m.localAnsweredAt = &at
	if m.record != nil && !m.record.Answered {
		domain.AnswerPatch(at).Apply(m.record)
	}
	m.attachSession(e.session)
	m.stopTones()
	m.state = StateConnecting
	// Optimistic: the transport's ParticipantConnected confirms it shortly.
	m.status = StatusConnected
	m.respond(reply, nil)
}

func (m *Machine) decline() error {
	if m.terminated {
		return nil
	}
	if m.state != StateRinging {
		return apperrors.InvalidStateError("no incoming call to decline")
	}
	m.terminate(termination{cause: causeDecline})
	return nil
}

func (m *Machine) end() error {
	if m.terminated {
		return nil
	}
	if m.starting {
		m.abortStart = true
		m.status = StatusStartCancelled
		return nil
	}

	switch m.state {
	case StateIdle:
		return apperrors.InvalidStateError("no active call")
	case StateRinging:
		m.terminate(termination{cause: causeDecline})
	default:
		m.terminate(termination{cause: causeLocalEnd})
	}
	return nil
}

func (m *Machine) applyMedia(apply func(MediaSession) error) error {
	if m.terminated || m.session == nil {
		return apperrors.InvalidStateError("no media session")
	}
	return apply(m.session)
}

func (m *Machine) onRecordChange(e recordChange) {
	if e.gen != m.watchGen || m.terminated {
		return
	}

	c := e.change
	switch {
	case c.Err != nil:
		if errors.Is(c.Err, domain.ErrPermissionDenied) {
			logger.Debug("Call record access revoked, treating call as ended",
				zap.String("call_id", m.callID))
			m.terminate(termination{cause: causeRemote, deleted: true})
			return
		}
		logger.Warn("Call record subscription failed",
			zap.String("call_id", m.callID),
			zap.Error(c.Err))

	case c.Kind == domain.ChangeRemoved:
		m.terminate(termination{cause: causeRemote, deleted: true})

	case c.Record != nil:
		rec := c.Record.Clone()
		rec.ID = m.callID
		m.record = rec

		if rec.Ended {
			m.terminate(termination{cause: causeRemote, record: rec})
			return
		}
		if rec.Answered && m.state == StateDialing {
			m.state = StateConnecting
			m.status = StatusConnecting
		}
	}
}

func (m *Machine) onIncomingChange(e incomingChange) {
	if e.gen != m.incomingGen {
		return
	}

	c := e.change
	if c.Err != nil {
		if !errors.Is(c.Err, domain.ErrPermissionDenied) {
			logger.Warn("Incoming call subscription failed", zap.Error(c.Err))
		}
		return
	}
	if c.Kind != domain.ChangeAdded || c.Record == nil || c.Record.From != m.cfg.Peer.ID {
		return
	}

	rec := c.Record.Clone()
	if rec.ID == "" {
		rec.ID = c.ID
	}
	if err := m.ring(rec); err != nil {
		logger.Debug("Ignoring incoming call",
			zap.String("call_id", rec.ID),
			zap.Error(err))
	}
}

func (m *Machine) onMediaEvent(e mediaEvent) {
	if e.gen != m.sessionGen || m.terminated {
		return
	}

	switch e.ev.Type {
	case media.EventParticipantConnected:
		if e.ev.Participant != m.cfg.Peer.ID {
			return
		}
		if m.state == StateDialing || m.state == StateConnecting {
			now := m.deps.now()
			m.state = StateConnected
			m.status = StatusConnected
			m.reachedConnected = true
			m.connectedAt = &now
			m.stopTones()
			m.stopTimer()
		}
	case media.EventParticipantDisconnected:
		logger.Debug("Peer left the media room",
			zap.String("call_id", m.callID),
			zap.String("participant", e.ev.Participant))
	case media.EventDisconnected:
		logger.Info("Media transport disconnected",
			zap.String("call_id", m.callID),
			zap.Error(e.ev.Err))
		m.terminate(termination{cause: causeLocalEnd})
	}
}

func (m *Machine) onTimer(e timerFired) {
	if e.gen != m.timerGen || m.terminated || m.reachedConnected {
		return
	}
	logger.Info("Call not connected before ring timeout",
		zap.String("call_id", m.callID),
		zap.Duration("timeout", m.cfg.RingTimeout))
	m.terminate(termination{cause: causeTimeout})
}

// terminate is the one-shot latch every terminal trigger goes through
func (m *Machine) terminate(t termination) {
	if m.terminated {
		return
	}
	m.terminated = true
	t.at = m.deps.now()
	if t.record == nil && m.record != nil {
		t.record = m.record.Clone()
	}

	m.stopTimer()
	m.stopTones()
	// Unsubscribe before writing so our own write is never read back as the
	// peer ending the call.
	m.cancelWatch()
	m.disarmIncoming()
	m.closeSession()

	m.state = StateTerminated
	m.status = m.statusText(t)
	m.outcome = m.summaryStatus(t)

	metrics.CallsActive.Dec()
	metrics.CallsEndedTotal.WithLabelValues(string(m.callType), string(m.outcome)).Inc()
	logger.Info("Call terminated",
		zap.String("pair_id", m.pairID),
		zap.String("call_id", m.callID),
		zap.String("outcome", string(m.outcome)),
		zap.String("status", m.status))

	if m.creating {
		m.pending = &t
		return
	}
	m.finish(t)
}

// finish performs the terminal writes and schedules OnClose. Runs once the call
// id is settled.
func (m *Machine) finish(t termination) {
	callID := m.callID
	self := m.cfg.Self
	summary := m.summary(t)
	if summary.Duration != nil {
		metrics.CallDurationSeconds.WithLabelValues(string(m.callType)).Observe(float64(*summary.Duration))
	}

	var patch *domain.CallPatch
	switch t.cause {
	case causeLocalEnd:
		p := domain.EndPatch(self.ID, t.at)
		patch = &p
	case causeTimeout:
		p := domain.TimeoutPatch(self.ID, t.at)
		patch = &p
	}

	var ended *domain.CallEvent
	if m.direction == domain.DirectionOutgoing && callID != "" {
		ended = m.endedEvent(t, summary)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(m.ctx), terminalWriteTimeout)
		defer cancel()

		if callID != "" {
			var err error
			switch {
			case t.cause == causeDecline:
				_, err = DeclineRecord(ctx, m.deps.Calls, callID, self.ID, t.at, m.cfg.CleanupDelay)
			case patch != nil:
				_, err = writeTerminal(ctx, m.deps.Calls, callID, *patch, m.cfg.CleanupDelay)
			}
			if err != nil {
				logger.Warn("Failed to write call termination",
					zap.String("call_id", callID),
					zap.Error(err))
			}
		}

		if m.deps.Chat != nil {
			if err := m.deps.Chat.PostCallSummary(ctx, m.pairID, self.ID, self.Name, summary); err != nil {
				logger.Warn("Failed to post call summary",
					zap.String("pair_id", m.pairID),
					zap.Error(err))
			}
		}

		if ended != nil && m.deps.Events != nil {
			if err := m.deps.Events.PublishCallEvent(ctx, ended); err != nil {
				logger.Warn("Failed to publish call event",
					zap.String("call_id", callID),
					zap.Error(err))
			}
		}
	}()

	time.AfterFunc(m.cfg.CloseDelay, func() { m.post(closeDue{}) })
}

func (m *Machine) summary(t termination) domain.CallSummary {
	answeredAt := m.localAnsweredAt
	endedAt := &t.at
	if t.record != nil {
		if t.record.AnsweredAt != nil {
			answeredAt = t.record.AnsweredAt
		}
		if t.cause == causeRemote && t.record.EndedAt != nil {
			endedAt = t.record.EndedAt
		}
	}
	if answeredAt == nil && m.reachedConnected {
		answeredAt = m.connectedAt
	}

	return domain.CallSummary{
		CallID:    m.callID,
		CallType:  m.callType,
		Status:    m.outcome,
		Duration:  domain.CallDuration(answeredAt, endedAt),
		Direction: m.direction,
	}
}

func (m *Machine) summaryStatus(t termination) domain.CallStatus {
	switch t.cause {
	case causeTimeout:
		return domain.CallStatusMissed
	case causeDecline:
		return domain.CallStatusRejected
	case causeLocalEnd:
		if m.reachedConnected {
			return domain.CallStatusCompleted
		}
		return domain.CallStatusCancelled
	}

	rec := t.record
	if rec != nil && rec.Declined {
		return domain.CallStatusRejected
	}
	if rec != nil && rec.Timeout {
		return domain.CallStatusMissed
	}
	if m.reachedConnected || m.localAnsweredAt != nil || (rec != nil && rec.Answered) {
		return domain.CallStatusCompleted
	}
	return domain.CallStatusCancelled
}

func (m *Machine) statusText(t termination) string {
	switch t.cause {
	case causeTimeout:
		return StatusNoAnswer
	case causeDecline:
		return StatusDeclined
	case causeLocalEnd:
		return StatusEnded
	}

	if t.deleted {
		return StatusEndedByPeer
	}
	rec := t.record
	switch {
	case rec == nil:
		return StatusEndedByPeer
	case rec.Declined:
		return StatusDeclined
	case rec.Timeout:
		return StatusNoAnswer
	case rec.EndedBy != m.cfg.Self.ID:
		return StatusEndedByPeer
	}
	return StatusEnded
}

func (m *Machine) startedEvent() *domain.CallEvent {
	rec := m.record
	return &domain.CallEvent{
		EventID:    uuid.NewString(),
		Type:       domain.EventCallStarted,
		CallID:     m.callID,
		RoomName:   rec.RoomName,
		CallerID:   rec.From,
		CallerName: rec.FromName,
		CalleeID:   rec.To,
		CalleeName: rec.ToName,
		CallType:   rec.CallType,
		StartedAt:  rec.CreatedAt,
		OccurredAt: m.deps.now(),
	}
}

func (m *Machine) endedEvent(t termination, summary domain.CallSummary) *domain.CallEvent {
	ev := &domain.CallEvent{
		EventID:         uuid.NewString(),
		Type:            domain.EventCallEnded,
		CallID:          m.callID,
		RoomName:        domain.RoomName(m.cfg.Self.ID, m.cfg.Peer.ID),
		CallerID:        m.cfg.Self.ID,
		CallerName:      m.cfg.Self.Name,
		CalleeID:        m.cfg.Peer.ID,
		CalleeName:      m.cfg.Peer.Name,
		CallType:        m.callType,
		Outcome:         summary.Status,
		DurationSeconds: summary.Duration,
		EndedBy:         m.cfg.Self.ID,
		StartedAt:       t.at,
		OccurredAt:      t.at,
	}
	if t.record != nil {
		ev.StartedAt = t.record.CreatedAt
		if t.cause == causeRemote && t.record.EndedBy != "" {
			ev.EndedBy = t.record.EndedBy
		}
	}
	if t.cause == causeRemote && t.record == nil {
		ev.EndedBy = m.cfg.Peer.ID
	}
	return ev
}

func (m *Machine) publishEvent(ev *domain.CallEvent) {
	if m.deps.Events == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(m.ctx), terminalWriteTimeout)
		defer cancel()
		if err := m.deps.Events.PublishCallEvent(ctx, ev); err != nil {
			logger.Warn("Failed to publish call event",
				zap.String("call_id", ev.CallID),
				zap.String("type", string(ev.Type)),
				zap.Error(err))
		}
	}()
}

// abort tears the machine down when its context is cancelled
func (m *Machine) abort() {
	if !m.terminated && (m.state != StateIdle || m.creating) {
		if m.state == StateRinging {
			m.terminate(termination{cause: causeDecline})
		} else {
			m.terminate(termination{cause: causeLocalEnd})
		}
	}
	var pending *termination
	if m.creating && m.pending != nil {
		pending = m.pending
		m.pending = nil
	}
	m.disarmIncoming()
	m.closeSession()
	m.publish()
	m.flushReplies()
	m.close()

	if pending != nil {
		m.finishAfterCreate(*pending, m.created)
	}
}

// finishAfterCreate completes a termination that was waiting on the record
// create when the machine stopped. The loop is gone by then, so the create
// result is read straight off its channel and the goroutine owns the machine.
func (m *Machine) finishAfterCreate(t termination, created <-chan recordCreated) {
	go func() {
		wait := time.NewTimer(terminalWriteTimeout)
		defer wait.Stop()

		select {
		case res := <-created:
			if res.err != nil {
				logger.Error("Failed to create call record",
					zap.String("pair_id", m.pairID),
					zap.Error(res.err))
				break
			}
			m.callID = res.id
			if m.record != nil {
				m.record.ID = res.id
				m.publishEvent(m.startedEvent())
			}
		case <-wait.C:
			logger.Warn("Call record create did not settle before shutdown",
				zap.String("pair_id", m.pairID))
		}
		m.finish(t)
	}()
}

func (m *Machine) close() {
	m.once.Do(func() {
		if m.cfg.OnClose != nil {
			m.cfg.OnClose()
		}
		close(m.done)
	})
}

func (m *Machine) attachSession(s MediaSession) {
	m.session = s
	m.sessionGen++
	gen := m.sessionGen
	go func() {
		for ev := range s.Events() {
			if !m.post(mediaEvent{gen: gen, ev: ev}) {
				return
			}
		}
	}()
}

func (m *Machine) closeSession() {
	if m.session == nil {
		return
	}
	s := m.session
	m.session = nil
	m.sessionGen++
	go func() {
		if err := s.Close(); err != nil {
			logger.Debug("Media session close failed", zap.Error(err))
		}
	}()
}

func (m *Machine) watchRecord(id string) {
	m.cancelWatch()
	ctx, cancel := context.WithCancel(m.ctx)
	m.watchCancel = cancel
	m.watchGen++
	gen := m.watchGen

	go func() {
		ch, err := m.deps.Calls.Watch(ctx, id)
		if err != nil {
			if ctx.Err() == nil {
				m.post(recordChange{gen: gen, change: domain.CallChange{ID: id, Err: err}})
			}
			return
		}
		for c := range ch {
			if !m.post(recordChange{gen: gen, change: c}) {
				return
			}
		}
	}()
}

func (m *Machine) cancelWatch() {
	if m.watchCancel != nil {
		m.watchCancel()
		m.watchCancel = nil
	}
	m.watchGen++
}

func (m *Machine) armIncoming() {
	if m.incomingCancel != nil || m.deps.Calls == nil {
		return
	}
	ctx, cancel := context.WithCancel(m.ctx)
	m.incomingCancel = cancel
	m.incomingGen++
	gen := m.incomingGen
	self := m.cfg.Self.ID

	go func() {
		ch, err := m.deps.Calls.WatchIncoming(ctx, self)
		if err != nil {
			if ctx.Err() == nil {
				m.post(incomingChange{gen: gen, change: domain.CallChange{Err: err}})
			}
			return
		}
		for c := range ch {
			if !m.post(incomingChange{gen: gen, change: c}) {
				return
			}
		}
	}()
}

func (m *Machine) disarmIncoming() {
	if m.incomingCancel == nil {
		return
	}
	m.incomingCancel()
	m.incomingCancel = nil
	m.incomingGen++
}

func (m *Machine) armTimer(d time.Duration) {
	m.stopTimer()
	gen := m.timerGen
	m.timer = time.AfterFunc(d, func() { m.post(timerFired{gen: gen}) })
}

func (m *Machine) stopTimer() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.timerGen++
}

func (m *Machine) playOutgoing() {
	if m.deps.Tones != nil {
		m.deps.Tones.PlayOutgoing(m.pairID)
	}
}

func (m *Machine) playIncoming() {
	if m.deps.Tones != nil {
		m.deps.Tones.PlayIncoming(m.pairID)
	}
}

func (m *Machine) stopTones() {
	if m.deps.Tones != nil {
		m.deps.Tones.Stop(m.pairID)
	}
}

func (m *Machine) buildSnapshot() Snapshot {
	snap := Snapshot{
		PairID:      m.pairID,
		Self:        m.cfg.Self,
		Peer:        m.cfg.Peer,
		CallType:    m.callType,
		State:       m.state,
		Status:      m.status,
		CallID:      m.callID,
		Direction:   m.direction,
		ConnectedAt: m.connectedAt,
		Outcome:     m.outcome,
	}
	if m.session != nil {
		st := m.session.State()
		snap.Media = &st
	}
	return snap
}

func (m *Machine) publish() {
	snap := m.buildSnapshot()

	m.snapMu.Lock()
	m.snap = snap
	m.snapMu.Unlock()

	if m.cfg.OnUpdate != nil {
		m.cfg.OnUpdate(snap)
	}
}
