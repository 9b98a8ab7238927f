package media

import (
	"sync"

	"go.uber.org/zap"

	"skillswap-backend/pkg/logger"
)

// PlaybackRegistry is the Sink used by the agent. Playback itself happens in the
// UI; the registry tracks which remote audio tracks are attached and whether the
// speaker is muted.
type PlaybackRegistry struct {
	mu       sync.Mutex
	attached map[string]Track
	muted    bool
}

// NewPlaybackRegistry creates an empty registry
func NewPlaybackRegistry() *PlaybackRegistry {
	return &PlaybackRegistry{attached: make(map[string]Track)}
}

// Attach registers a remote audio track for playback
func (p *PlaybackRegistry) Attach(track Track) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attached[track.SID] = track
	logger.Debug("Remote audio attached",
		zap.String("track_sid", track.SID),
		zap.String("participant", track.Participant))
}

// Detach removes a track
func (p *PlaybackRegistry) Detach(sid string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.attached, sid)
}

// SetMuted mutes local playback only; nothing is sent to the transport
func (p *PlaybackRegistry) SetMuted(muted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.muted = muted
}

// Muted reports the speaker state
func (p *PlaybackRegistry) Muted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.muted
}

// Attached returns the number of attached tracks
func (p *PlaybackRegistry) Attached() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.attached)
}
