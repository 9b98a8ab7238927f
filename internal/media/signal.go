package media

import (
	"encoding/json"
	"time"
)

// Signal message types exchanged with the room hub
const (
	SignalRoster       = "roster"
	SignalJoin         = "join"
	SignalLeave        = "leave"
	SignalOffer        = "offer"
	SignalAnswer       = "answer"
	SignalICECandidate = "ice_candidate"
	SignalTrackState   = "track_state"
	SignalError        = "error"
)

// Track names carried by track_state
const (
	TrackNameMicrophone = "microphone"
	TrackNameCamera     = "camera"
	TrackNameScreen     = "screen"
)

// SignalMessage is the room hub wire format. The hub stamps Room, SenderID and
// SenderName from the connection's token; clients cannot spoof them.
type SignalMessage struct {
	Type         string          `json:"type"`
	Room         string          `json:"room,omitempty"`
	SenderID     string          `json:"sender_id,omitempty"`
	SenderName   string          `json:"sender_name,omitempty"`
	TargetID     string          `json:"target_id,omitempty"` // empty = everyone else in the room
	SDP          string          `json:"sdp,omitempty"`
	Candidate    json.RawMessage `json:"candidate,omitempty"`
	Participants []string        `json:"participants,omitempty"`
	Track        string          `json:"track,omitempty"`
	Enabled      *bool           `json:"enabled,omitempty"`
	Message      string          `json:"message,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

// Relayed reports whether clients may send this type through the hub
func (m *SignalMessage) Relayed() bool {
	switch m.Type {
	case SignalOffer, SignalAnswer, SignalICECandidate, SignalTrackState:
		return true
	}
	return false
}
