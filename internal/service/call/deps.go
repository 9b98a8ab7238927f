package call

import (
	"context"
	"time"

	"skillswap-backend/internal/domain"
	"skillswap-backend/internal/media"
)

// CallRepository stores call records. Conditional writes on an absent record are
// silent no-ops reported through the applied/deleted flag.
type CallRepository interface {
	Create(ctx context.Context, rec *domain.CallRecord) (string, error)
	Get(ctx context.Context, id string) (*domain.CallRecord, error)
	UpdateIfExists(ctx context.Context, id string, patch domain.CallPatch) (bool, error)
	DeleteIfExists(ctx context.Context, id string) (bool, error)
	// Watch emits Added (or Removed if absent) first, then every change. The
	// channel closes when ctx is done or after an Err change.
	Watch(ctx context.Context, id string) (<-chan domain.CallChange, error)
	// WatchIncoming tracks records with to == calleeID that are neither answered
	// nor ended. Leaving that set is reported as Removed.
	WatchIncoming(ctx context.Context, calleeID string) (<-chan domain.CallChange, error)
}

// MediaSession is the slice of media.Session the machine drives
type MediaSession interface {
	Events() <-chan media.Event
	SetMuted(muted bool) (bool, error)
	SetCameraEnabled(enabled bool) (bool, error)
	SetSpeakerMuted(muted bool) bool
	SetScreenShare(enabled bool) (bool, error)
	State() media.State
	Close() error
}

// MediaOpener joins a room
type MediaOpener interface {
	OpenSession(ctx context.Context, opts media.OpenOptions) (MediaSession, error)
}

// PresenceChecker reports whether a user is online
type PresenceChecker interface {
	IsOnline(ctx context.Context, userID string) (bool, error)
}

// SummaryPoster appends a call summary to the pair's conversation
type SummaryPoster interface {
	PostCallSummary(ctx context.Context, pairID, senderID, senderName string, summary domain.CallSummary) error
}

// EventPublisher sends call lifecycle events to the broker
type EventPublisher interface {
	PublishCallEvent(ctx context.Context, ev *domain.CallEvent) error
}

// TonePlayer plays ring tones
type TonePlayer interface {
	PlayOutgoing(pairID string)
	PlayIncoming(pairID string)
	Stop(pairID string)
}

// Deps are the collaborators of a Machine. Presence, Chat, Events and Tones may
// be nil.
type Deps struct {
	Calls    CallRepository
	Media    MediaOpener
	Presence PresenceChecker
	Chat     SummaryPoster
	Events   EventPublisher
	Tones    TonePlayer
	Now      func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// AdapterOpener adapts *media.Adapter to MediaOpener
type AdapterOpener struct {
	Adapter *media.Adapter
}

// OpenSession opens a media session
func (o AdapterOpener) OpenSession(ctx context.Context, opts media.OpenOptions) (MediaSession, error) {
	s, err := o.Adapter.Open(ctx, opts)
	if err != nil {
		return nil, err
	}
	return s, nil
}
