// Package constants defines application-wide constants for timeouts, limits, and durations.
package constants

import "time"

// Time-related constants
const (
	// DefaultTimeout is the default timeout for most operations
	DefaultTimeout = 30 * time.Second

	// WebSocketPingInterval is the interval for WebSocket ping/pong
	WebSocketPingInterval = 54 * time.Second

	// WebSocketPongWait is how long a peer may stay silent before the socket is dropped
	WebSocketPongWait = 60 * time.Second

	// WebSocketWriteWait bounds a single frame write
	WebSocketWriteWait = 10 * time.Second

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second
)

// RoomHubMaxConnections caps concurrent room connections per hub instance
const RoomHubMaxConnections = 1000

// Call lifecycle constants
const (
	// RingTimeout is how long an unanswered call rings before it is marked timed out
	RingTimeout = 30 * time.Second

	// RecordCleanupDelay is the pause between a terminal write and deleting the record
	RecordCleanupDelay = 400 * time.Millisecond

	// CloseDelay keeps the terminal status visible before the call surface closes
	CloseDelay = 2 * time.Second

	// CameraWatchdogInterval re-disables the camera during audio-only calls
	CameraWatchdogInterval = 1 * time.Second

	// RoomTokenTTL is the lifetime of a media room access token
	RoomTokenTTL = 1 * time.Hour

	// MaxCallDuration is the maximum allowed call duration (24 hours)
	MaxCallDuration = 24 * time.Hour
)

// Presence constants
const (
	// PresenceRefreshInterval is how often an active client re-announces itself
	PresenceRefreshInterval = 60 * time.Second

	// PresenceTTL expires online records of clients that vanished without a goodbye
	PresenceTTL = 3 * PresenceRefreshInterval
)

// JWT-related constants
const (
	// AccessTokenExpiry is the default access token lifetime
	AccessTokenExpiry = 15 * time.Minute
)

// Rate limiting constants
const (
	// TokenRequestsPerMinute caps room token requests per user
	TokenRequestsPerMinute = 30

	// TokenRequestBurst is the burst size for room token requests
	TokenRequestBurst = 5
)

// Pagination constants
const (
	// DefaultPageSize is the default number of items per page
	DefaultPageSize = 50

	// MaxPageSize is the maximum number of items per page
	MaxPageSize = 200
)

// Call type constants
const (
	// CallTypeAudio indicates an audio-only call
	CallTypeAudio = "audio"

	// CallTypeVideo indicates a video call
	CallTypeVideo = "video"
)

// User status constants
const (
	// UserStatusOnline indicates a user is currently online
	UserStatusOnline = "online"

	// UserStatusOffline indicates a user is currently offline
	UserStatusOffline = "offline"

	// UserStatusAway indicates a user is away
	UserStatusAway = "away"
)

// Message constants
const (
	// MaxMessageLength is the maximum allowed message length
	MaxMessageLength = 10000

	// MaxAttachmentSize is the maximum allowed attachment size in bytes (50MB)
	MaxAttachmentSize = 50 * 1024 * 1024
)

// Broker constants
const (
	// CallEventsExchange is the topic exchange for call lifecycle events
	CallEventsExchange = "call.events"

	// NotificationQueue is the queue the notification worker consumes
	NotificationQueue = "call.notifications"
)
