// Package media wraps the conferencing transport: room connection, local
// microphone/camera/screen publication and remote track playback.
package media

import (
	"context"
	"errors"
)

// ErrAudioOnly is returned by camera and screen share toggles on audio-only sessions.
var ErrAudioOnly = errors.New("session is audio-only")

// ErrSessionClosed is returned by toggles after Close.
var ErrSessionClosed = errors.New("media session closed")

// EventType enumerates transport events
type EventType int

const (
	EventConnected EventType = iota + 1
	EventDisconnected
	EventParticipantConnected
	EventParticipantDisconnected
	EventTrackSubscribed
	EventTrackUnsubscribed
)

func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventParticipantConnected:
		return "participant_connected"
	case EventParticipantDisconnected:
		return "participant_disconnected"
	case EventTrackSubscribed:
		return "track_subscribed"
	case EventTrackUnsubscribed:
		return "track_unsubscribed"
	}
	return "unknown"
}

// TrackKind is audio or video
type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

// Track describes a remote track
type Track struct {
	SID         string
	Kind        TrackKind
	Participant string
}

// Event is emitted by a Room. Participant is the remote identity for participant
// and track events; Err may be set on EventDisconnected.
type Event struct {
	Type        EventType
	Participant string
	Track       *Track
	Err         error
}

// ConnectOptions are passed to Transport.Connect
type ConnectOptions struct {
	Identity  string
	AudioOnly bool
}

// Transport connects to a room using a room token
type Transport interface {
	Connect(ctx context.Context, url, token string, opts ConnectOptions) (Room, error)
}

// Room is a joined media room
type Room interface {
	// Events is closed after Disconnect.
	Events() <-chan Event
	LocalParticipant() LocalParticipant
	// Unsubscribe stops receiving a remote track.
	Unsubscribe(trackSID string) error
	Disconnect() error
}

// LocalParticipant controls what this client publishes. Is* report the state the
// transport actually applied.
type LocalParticipant interface {
	SetMicrophoneEnabled(enabled bool) error
	IsMicrophoneEnabled() bool
	SetCameraEnabled(enabled bool) error
	IsCameraEnabled() bool
	SetScreenShareEnabled(enabled bool) error
	IsScreenShareEnabled() bool
}

// TokenMinter obtains a room token for identity
type TokenMinter interface {
	MintToken(ctx context.Context, room, displayName, identity string) (string, error)
}

// Sink plays remote audio tracks
type Sink interface {
	Attach(track Track)
	Detach(sid string)
	SetMuted(muted bool)
	Muted() bool
}
