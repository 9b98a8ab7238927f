package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"skillswap-backend/pkg/constants"
	"skillswap-backend/pkg/logger"
)

type trackSlot int

const (
	slotAudio trackSlot = iota
	slotCamera
	slotScreen
)

func (s trackSlot) name() string {
	switch s {
	case slotCamera:
		return TrackNameCamera
	case slotScreen:
		return TrackNameScreen
	}
	return TrackNameMicrophone
}

// WSTransport joins rooms on the hub: signaling over a WebSocket, media over one
// pion peer connection per remote participant.
type WSTransport struct {
	dialer     *websocket.Dialer
	iceServers []string
}

// NewWSTransport creates a transport using the given STUN/TURN urls
func NewWSTransport(iceServers []string) *WSTransport {
	return &WSTransport{
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		iceServers: iceServers,
	}
}

func newWebRTCAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(ir)), nil
}

// Connect dials the hub with token and returns the joined room
func (t *WSTransport) Connect(ctx context.Context, url, token string, opts ConnectOptions) (Room, error) {
	api, err := newWebRTCAPI()
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := t.dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial room hub: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("dial room hub: %w", err)
	}

	var servers []webrtc.ICEServer
	if len(t.iceServers) > 0 {
		servers = []webrtc.ICEServer{{URLs: t.iceServers}}
	}

	r := &wsRoom{
		conn:      conn,
		identity:  opts.Identity,
		audioOnly: opts.AudioOnly,
		api:       api,
		config:    webrtc.Configuration{ICEServers: servers},
		peers:     make(map[string]*peerLink),
		receivers: make(map[string]*webrtc.RTPReceiver),
		known:     make(map[string]bool),
		events:    make(chan Event, 64),
		closing:   make(chan struct{}),
	}

	local, err := newWSLocalParticipant(r, opts.Identity, opts.AudioOnly)
	if err != nil {
		conn.Close()
		return nil, err
	}
	r.local = local

	r.emit(Event{Type: EventConnected})

	r.wg.Add(1)
	go r.readLoop()

	return r, nil
}

type peerLink struct {
	pc      *webrtc.PeerConnection
	senders map[trackSlot]*webrtc.RTPSender
	pending []webrtc.ICECandidateInit
}

type wsRoom struct {
	conn      *websocket.Conn
	identity  string
	audioOnly bool
	api       *webrtc.API
	config    webrtc.Configuration
	local     *wsLocalParticipant

	writeMu sync.Mutex

	mu        sync.Mutex
	peers     map[string]*peerLink
	receivers map[string]*webrtc.RTPReceiver
	known     map[string]bool

	emitMu    sync.RWMutex
	closed    bool
	events    chan Event
	closing   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func (r *wsRoom) Events() <-chan Event {
	return r.events
}

func (r *wsRoom) LocalParticipant() LocalParticipant {
	return r.local
}

func (r *wsRoom) emit(ev Event) {
	r.emitMu.RLock()
	defer r.emitMu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.events <- ev:
	case <-r.closing:
	}
}

func (r *wsRoom) isClosing() bool {
	select {
	case <-r.closing:
		return true
	default:
		return false
	}
}

func (r *wsRoom) send(msg *SignalMessage) error {
	msg.Timestamp = time.Now()

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	r.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
	return r.conn.WriteJSON(msg)
}

func (r *wsRoom) readLoop() {
	defer r.wg.Done()

	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			if !r.isClosing() {
				logger.Warn("Room hub connection lost", zap.String("identity", r.identity), zap.Error(err))
				r.emit(Event{Type: EventDisconnected, Err: err})
			}
			return
		}

		var msg SignalMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Debug("Dropping malformed signal message", zap.Error(err))
			continue
		}
		r.dispatch(&msg)
	}
}

func (r *wsRoom) dispatch(msg *SignalMessage) {
	switch msg.Type {
	case SignalRoster:
		for _, p := range msg.Participants {
			r.participantJoined(p)
		}
	case SignalJoin:
		r.participantJoined(msg.SenderID)
	case SignalLeave:
		r.participantLeft(msg.SenderID)
	case SignalOffer:
		if err := r.handleOffer(msg.SenderID, msg.SDP); err != nil {
			logger.Warn("Failed to handle offer", zap.String("from", msg.SenderID), zap.Error(err))
		}
	case SignalAnswer:
		if err := r.handleAnswer(msg.SenderID, msg.SDP); err != nil {
			logger.Warn("Failed to handle answer", zap.String("from", msg.SenderID), zap.Error(err))
		}
	case SignalICECandidate:
		if err := r.handleCandidate(msg.SenderID, msg.Candidate); err != nil {
			logger.Debug("Failed to add ICE candidate", zap.String("from", msg.SenderID), zap.Error(err))
		}
	case SignalTrackState:
		logger.Debug("Remote track state",
			zap.String("participant", msg.SenderID),
			zap.String("track", msg.Track))
	case SignalError:
		logger.Warn("Room hub error", zap.String("message", msg.Message))
	}
}

func (r *wsRoom) participantJoined(id string) {
	if id == "" || id == r.identity {
		return
	}

	r.mu.Lock()
	if r.known[id] {
		r.mu.Unlock()
		return
	}
	r.known[id] = true
	r.mu.Unlock()

	r.emit(Event{Type: EventParticipantConnected, Participant: id})

	// The lexicographically smaller identity offers so both sides agree on one.
	if r.identity < id {
		if err := r.startOffer(id); err != nil {
			logger.Warn("Failed to start offer", zap.String("peer", id), zap.Error(err))
		}
	}
}

func (r *wsRoom) participantLeft(id string) {
	r.mu.Lock()
	wasKnown := r.known[id]
	delete(r.known, id)
	link := r.peers[id]
	delete(r.peers, id)
	r.mu.Unlock()

	if link != nil {
		link.pc.Close()
	}
	if wasKnown {
		r.emit(Event{Type: EventParticipantDisconnected, Participant: id})
	}
}

// ensurePeer returns the link to peer, creating the peer connection on first use
func (r *wsRoom) ensurePeer(peer string) (*peerLink, error) {
	r.local.mu.Lock()
	defer r.local.mu.Unlock()

	r.mu.Lock()
	if link, ok := r.peers[peer]; ok {
		r.mu.Unlock()
		return link, nil
	}
	r.mu.Unlock()

	pc, err := r.api.NewPeerConnection(r.config)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	link := &peerLink{pc: pc, senders: make(map[trackSlot]*webrtc.RTPSender)}
	if err := r.local.attachLocked(link); err != nil {
		pc.Close()
		return nil, err
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		raw, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		if err := r.send(&SignalMessage{Type: SignalICECandidate, TargetID: peer, Candidate: raw}); err != nil {
			logger.Debug("Failed to send ICE candidate", zap.Error(err))
		}
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		kind := TrackKindVideo
		if remote.Kind() == webrtc.RTPCodecTypeAudio {
			kind = TrackKindAudio
		}
		track := &Track{SID: remote.ID(), Kind: kind, Participant: peer}

		r.mu.Lock()
		r.receivers[track.SID] = receiver
		r.mu.Unlock()

		r.emit(Event{Type: EventTrackSubscribed, Participant: peer, Track: track})

		go func() {
			for {
				if _, _, err := remote.ReadRTP(); err != nil {
					r.mu.Lock()
					delete(r.receivers, track.SID)
					r.mu.Unlock()
					r.emit(Event{Type: EventTrackUnsubscribed, Participant: peer, Track: track})
					return
				}
			}
		}()
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("Peer connection state changed",
			zap.String("peer", peer),
			zap.String("state", state.String()))
		if state == webrtc.PeerConnectionStateConnected {
			r.local.syncLink(link)
		}
		if state == webrtc.PeerConnectionStateFailed && !r.isClosing() {
			r.emit(Event{Type: EventDisconnected, Participant: peer, Err: errors.New("peer connection failed")})
		}
	})

	r.mu.Lock()
	r.peers[peer] = link
	r.mu.Unlock()

	return link, nil
}

func (r *wsRoom) startOffer(peer string) error {
	link, err := r.ensurePeer(peer)
	if err != nil {
		return err
	}

	offer, err := link.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := link.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	return r.send(&SignalMessage{Type: SignalOffer, TargetID: peer, SDP: offer.SDP})
}

func (r *wsRoom) handleOffer(peer, sdp string) error {
	// An offer also proves the peer is present even if its join raced ours.
	r.participantJoined(peer)

	link, err := r.ensurePeer(peer)
	if err != nil {
		return err
	}

	if err := link.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	r.flushCandidates(peer, link)

	answer, err := link.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := link.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	return r.send(&SignalMessage{Type: SignalAnswer, TargetID: peer, SDP: answer.SDP})
}

func (r *wsRoom) handleAnswer(peer, sdp string) error {
	r.mu.Lock()
	link := r.peers[peer]
	r.mu.Unlock()
	if link == nil {
		return fmt.Errorf("answer from unknown peer %s", peer)
	}

	if err := link.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	r.flushCandidates(peer, link)
	return nil
}

func (r *wsRoom) handleCandidate(peer string, raw json.RawMessage) error {
	var cand webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &cand); err != nil {
		return err
	}

	r.mu.Lock()
	link := r.peers[peer]
	if link == nil {
		r.mu.Unlock()
		return fmt.Errorf("candidate from unknown peer %s", peer)
	}
	if link.pc.RemoteDescription() == nil {
		link.pending = append(link.pending, cand)
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	return link.pc.AddICECandidate(cand)
}

func (r *wsRoom) flushCandidates(peer string, link *peerLink) {
	r.mu.Lock()
	pending := link.pending
	link.pending = nil
	r.mu.Unlock()

	for _, c := range pending {
		if err := link.pc.AddICECandidate(c); err != nil {
			logger.Debug("Failed to add queued ICE candidate", zap.String("peer", peer), zap.Error(err))
		}
	}
}

func (r *wsRoom) links() []*peerLink {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*peerLink, 0, len(r.peers))
	for _, l := range r.peers {
		out = append(out, l)
	}
	return out
}

func (r *wsRoom) Unsubscribe(trackSID string) error {
	r.mu.Lock()
	receiver, ok := r.receivers[trackSID]
	delete(r.receivers, trackSID)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return receiver.Stop()
}

func (r *wsRoom) Disconnect() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.closing)

		r.writeMu.Lock()
		r.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
		_ = r.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "leaving"))
		r.writeMu.Unlock()
		err = r.conn.Close()

		for _, link := range r.links() {
			if cerr := link.pc.Close(); cerr != nil {
				logger.Debug("Failed to close peer connection", zap.Error(cerr))
			}
		}

		r.wg.Wait()

		r.emitMu.Lock()
		r.closed = true
		close(r.events)
		r.emitMu.Unlock()
	})
	return err
}

// wsLocalParticipant publishes local tracks to every peer link. Capture lives in
// the UI process, so the tracks carry no samples of their own here.
type wsLocalParticipant struct {
	room *wsRoom

	mu     sync.Mutex
	tracks map[trackSlot]*webrtc.TrackLocalStaticSample
	flags  map[trackSlot]bool
}

func newWSLocalParticipant(r *wsRoom, identity string, audioOnly bool) (*wsLocalParticipant, error) {
	l := &wsLocalParticipant{
		room:   r,
		tracks: make(map[trackSlot]*webrtc.TrackLocalStaticSample),
		flags:  make(map[trackSlot]bool),
	}

	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", identity)
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}
	l.tracks[slotAudio] = audio

	if !audioOnly {
		camera, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "camera", identity)
		if err != nil {
			return nil, fmt.Errorf("create camera track: %w", err)
		}
		l.tracks[slotCamera] = camera

		screen, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "screen", identity)
		if err != nil {
			return nil, fmt.Errorf("create screen track: %w", err)
		}
		l.tracks[slotScreen] = screen
	}
	return l, nil
}

// attachLocked adds the local tracks to a new link. Caller holds l.mu.
func (l *wsLocalParticipant) attachLocked(link *peerLink) error {
	for slot, track := range l.tracks {
		sender, err := link.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("add %s track: %w", slot.name(), err)
		}
		link.senders[slot] = sender

		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := sender.Read(buf); err != nil {
					return
				}
			}
		}()
	}
	return nil
}

func (l *wsLocalParticipant) set(slot trackSlot, enabled bool) error {
	l.mu.Lock()
	track, ok := l.tracks[slot]
	if !ok {
		l.mu.Unlock()
		if enabled {
			return ErrAudioOnly
		}
		return nil
	}

	var replacement webrtc.TrackLocal
	if enabled {
		replacement = track
	}
	for _, link := range l.room.links() {
		sender := link.senders[slot]
		if sender == nil || link.pc.ConnectionState() != webrtc.PeerConnectionStateConnected {
			continue
		}
		if err := sender.ReplaceTrack(replacement); err != nil {
			l.mu.Unlock()
			return fmt.Errorf("replace %s track: %w", slot.name(), err)
		}
	}
	changed := l.flags[slot] != enabled
	l.flags[slot] = enabled
	l.mu.Unlock()

	if changed && !l.room.isClosing() {
		state := enabled
		if err := l.room.send(&SignalMessage{Type: SignalTrackState, Track: slot.name(), Enabled: &state}); err != nil {
			logger.Debug("Failed to announce track state", zap.Error(err))
		}
	}
	return nil
}

func (l *wsLocalParticipant) is(slot trackSlot) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flags[slot]
}

func (l *wsLocalParticipant) SetMicrophoneEnabled(enabled bool) error {
	return l.set(slotAudio, enabled)
}

func (l *wsLocalParticipant) IsMicrophoneEnabled() bool {
	return l.is(slotAudio)
}

func (l *wsLocalParticipant) SetCameraEnabled(enabled bool) error {
	return l.set(slotCamera, enabled)
}

func (l *wsLocalParticipant) IsCameraEnabled() bool {
	return l.is(slotCamera)
}

func (l *wsLocalParticipant) SetScreenShareEnabled(enabled bool) error {
	return l.set(slotScreen, enabled)
}

func (l *wsLocalParticipant) IsScreenShareEnabled() bool {
	return l.is(slotScreen)
}

// syncLink applies the current flags to a link that just connected. Tracks are
// negotiated bound and only swapped out once the connection is up.
func (l *wsLocalParticipant) syncLink(link *peerLink) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for slot, sender := range link.senders {
		if l.flags[slot] {
			continue
		}
		if err := sender.ReplaceTrack(nil); err != nil {
			logger.Debug("Failed to detach disabled track", zap.String("track", slot.name()), zap.Error(err))
		}
	}
}
