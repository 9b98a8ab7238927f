package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"skillswap-backend/pkg/constants"
	apperrors "skillswap-backend/pkg/errors"
	"skillswap-backend/pkg/logger"
	"skillswap-backend/pkg/metrics"
)

// Adapter opens media sessions: mint a room token, connect, publish the
// microphone and apply the audio-only policy.
type Adapter struct {
	minter           TokenMinter
	transport        Transport
	url              string
	newSink          func() Sink
	watchdogInterval time.Duration
}

// AdapterOption customises an Adapter
type AdapterOption func(*Adapter)

// WithSinkFactory sets how each session builds its playback sink
func WithSinkFactory(f func() Sink) AdapterOption {
	return func(a *Adapter) { a.newSink = f }
}

// WithWatchdogInterval overrides the audio-only camera watchdog period
func WithWatchdogInterval(d time.Duration) AdapterOption {
	return func(a *Adapter) { a.watchdogInterval = d }
}

// NewAdapter creates an adapter connecting to the room hub at url
func NewAdapter(minter TokenMinter, transport Transport, url string, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		minter:           minter,
		transport:        transport,
		url:              url,
		newSink:          func() Sink { return NewPlaybackRegistry() },
		watchdogInterval: constants.CameraWatchdogInterval,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// OpenOptions describe the room to join
type OpenOptions struct {
	Room        string
	DisplayName string
	Identity    string
	AudioOnly   bool
}

// Open joins the room and returns a live session. Configuration errors from the
// token endpoint pass through unchanged; every other failure is a TransportError.
func (a *Adapter) Open(ctx context.Context, opts OpenOptions) (*Session, error) {
	token, err := a.minter.MintToken(ctx, opts.Room, opts.DisplayName, opts.Identity)
	if err != nil {
		metrics.MediaSessionsTotal.WithLabelValues("token_failed").Inc()
		if apperrors.HasCode(err, apperrors.ErrCodeConfiguration) || apperrors.HasCode(err, apperrors.ErrCodeTransport) {
			return nil, err
		}
		return nil, apperrors.TransportError("failed to obtain room token", err)
	}

	room, err := a.transport.Connect(ctx, a.url, token, ConnectOptions{
		Identity:  opts.Identity,
		AudioOnly: opts.AudioOnly,
	})
	if err != nil {
		metrics.MediaSessionsTotal.WithLabelValues("connect_failed").Inc()
		return nil, apperrors.TransportError("failed to connect to room", err)
	}

	local := room.LocalParticipant()
	if err := local.SetMicrophoneEnabled(true); err != nil {
		_ = room.Disconnect()
		metrics.MediaSessionsTotal.WithLabelValues("connect_failed").Inc()
		return nil, apperrors.TransportError("failed to publish microphone", err)
	}

	if opts.AudioOnly {
		if err := local.SetCameraEnabled(false); err != nil {
			logger.Warn("Failed to disable camera for audio-only call", zap.Error(err))
		}
	} else {
		if err := local.SetCameraEnabled(true); err != nil {
			logger.Warn("Failed to enable camera", zap.Error(err))
		}
	}

	s := &Session{
		room:      room,
		sink:      a.newSink(),
		audioOnly: opts.AudioOnly,
		events:    make(chan Event, 32),
		stop:      make(chan struct{}),
	}

	s.wg.Add(1)
	go s.pump()

	if opts.AudioOnly {
		s.wg.Add(1)
		go s.watchdog(a.watchdogInterval)
	}

	metrics.MediaSessionsTotal.WithLabelValues("opened").Inc()
	logger.Info("Media session opened",
		zap.String("room", opts.Room),
		zap.String("identity", opts.Identity),
		zap.Bool("audio_only", opts.AudioOnly))

	return s, nil
}

// State is a snapshot of local media flags
type State struct {
	Muted         bool `json:"muted"`
	CameraEnabled bool `json:"cameraEnabled"`
	SpeakerMuted  bool `json:"speakerMuted"`
	ScreenSharing bool `json:"screenSharing"`
	AudioOnly     bool `json:"audioOnly"`
}

// Session is one joined room
type Session struct {
	room      Room
	sink      Sink
	audioOnly bool

	events chan Event
	stop   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// Events delivers participant and connection events. Audio track plumbing is
// handled internally. Closed after Close.
func (s *Session) Events() <-chan Event {
	return s.events
}

// AudioOnly reports the session policy
func (s *Session) AudioOnly() bool {
	return s.audioOnly
}

func (s *Session) pump() {
	defer s.wg.Done()
	defer close(s.events)

	roomEvents := s.room.Events()
	for {
		select {
		case <-s.stop:
			return
		case ev, ok := <-roomEvents:
			if !ok {
				return
			}
			if !s.handle(ev) {
				continue
			}
			select {
			case s.events <- ev:
			case <-s.stop:
				return
			}
		}
	}
}

// handle applies track policy and reports whether ev should be forwarded
func (s *Session) handle(ev Event) bool {
	switch ev.Type {
	case EventTrackSubscribed:
		if ev.Track == nil {
			return false
		}
		switch ev.Track.Kind {
		case TrackKindAudio:
			s.sink.Attach(*ev.Track)
		case TrackKindVideo:
			if s.audioOnly {
				if err := s.room.Unsubscribe(ev.Track.SID); err != nil {
					logger.Debug("Failed to unsubscribe video track", zap.Error(err))
				}
				return false
			}
		}
	case EventTrackUnsubscribed:
		if ev.Track != nil && ev.Track.Kind == TrackKindAudio {
			s.sink.Detach(ev.Track.SID)
		}
	}
	return true
}

// watchdog forces the camera off while an audio-only session lives
func (s *Session) watchdog(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			local := s.room.LocalParticipant()
			if local.IsCameraEnabled() {
				logger.Debug("Camera re-enabled during audio-only call, disabling")
				if err := local.SetCameraEnabled(false); err != nil {
					logger.Warn("Watchdog failed to disable camera", zap.Error(err))
				}
			}
		}
	}
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SetMuted mutes or unmutes the microphone. Returns the resulting muted state.
func (s *Session) SetMuted(muted bool) (bool, error) {
	if s.isClosed() {
		return false, ErrSessionClosed
	}
	local := s.room.LocalParticipant()
	if err := local.SetMicrophoneEnabled(!muted); err != nil {
		return !local.IsMicrophoneEnabled(), fmt.Errorf("set microphone: %w", err)
	}
	return !local.IsMicrophoneEnabled(), nil
}

// ToggleMute flips the microphone based on the transport's current state
func (s *Session) ToggleMute() (bool, error) {
	if s.isClosed() {
		return false, ErrSessionClosed
	}
	return s.SetMuted(s.room.LocalParticipant().IsMicrophoneEnabled())
}

// SetCameraEnabled is only valid on video sessions
func (s *Session) SetCameraEnabled(enabled bool) (bool, error) {
	if s.isClosed() {
		return false, ErrSessionClosed
	}
	if s.audioOnly {
		return false, ErrAudioOnly
	}
	local := s.room.LocalParticipant()
	if err := local.SetCameraEnabled(enabled); err != nil {
		return local.IsCameraEnabled(), fmt.Errorf("set camera: %w", err)
	}
	return local.IsCameraEnabled(), nil
}

// ToggleCamera flips the camera based on the transport's current state
func (s *Session) ToggleCamera() (bool, error) {
	if s.isClosed() {
		return false, ErrSessionClosed
	}
	if s.audioOnly {
		return false, ErrAudioOnly
	}
	return s.SetCameraEnabled(!s.room.LocalParticipant().IsCameraEnabled())
}

// SetScreenShare starts or stops screen sharing. Audio-only sessions carry no
// video so sharing is refused there.
func (s *Session) SetScreenShare(enabled bool) (bool, error) {
	if s.isClosed() {
		return false, ErrSessionClosed
	}
	if s.audioOnly {
		return false, ErrAudioOnly
	}
	local := s.room.LocalParticipant()
	if err := local.SetScreenShareEnabled(enabled); err != nil {
		return local.IsScreenShareEnabled(), fmt.Errorf("set screen share: %w", err)
	}
	return local.IsScreenShareEnabled(), nil
}

// SetSpeakerMuted mutes local playback without telling the remote side
func (s *Session) SetSpeakerMuted(muted bool) bool {
	s.sink.SetMuted(muted)
	return s.sink.Muted()
}

// ToggleSpeaker flips local playback mute
func (s *Session) ToggleSpeaker() bool {
	return s.SetSpeakerMuted(!s.sink.Muted())
}

// State reads the current flags back from the transport
func (s *Session) State() State {
	local := s.room.LocalParticipant()
	return State{
		Muted:         !local.IsMicrophoneEnabled(),
		CameraEnabled: local.IsCameraEnabled(),
		SpeakerMuted:  s.sink.Muted(),
		ScreenSharing: local.IsScreenShareEnabled(),
		AudioOnly:     s.audioOnly,
	}
}

// Close disconnects from the room. Safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		close(s.stop)
		err = s.room.Disconnect()
		s.wg.Wait()
		metrics.MediaSessionsTotal.WithLabelValues("closed").Inc()
	})
	return err
}
