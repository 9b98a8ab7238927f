package call

import (
	"fmt"
	"time"

	"skillswap-backend/internal/domain"
	"skillswap-backend/internal/media"
)

// State of a call machine
type State int

const (
	StateIdle State = iota
	StateDialing
	StateRinging
	StateConnecting
	StateConnected
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDialing:
		return "dialing"
	case StateRinging:
		return "ringing"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateTerminated:
		return "terminated"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText encodes the state by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name
func (s *State) UnmarshalText(text []byte) error {
	for st := StateIdle; st <= StateTerminated; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown call state %q", text)
}

// Status texts shown to the user
const (
	StatusRinging        = "Ringing..."
	StatusCalling        = "Calling..."
	StatusIncoming       = "Incoming call..."
	StatusConnecting     = "Connecting..."
	StatusConnected      = "Connected"
	StatusEnded          = "Call ended"
	StatusEndedByPeer    = "Call ended by other user"
	StatusNoAnswer       = "No answer"
	StatusDeclined       = "Call declined"
	StatusStartFailed    = "Failed to start call"
	StatusAnswerFailed   = "Failed to answer call"
	StatusNotConfigured  = "Call service is not configured"
	StatusStartCancelled = "Call cancelled"
)

// Participant identifies one side of a call
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Snapshot is a copy of a machine's observable state
type Snapshot struct {
	PairID      string               `json:"pairId"`
	Self        Participant          `json:"self"`
	Peer        Participant          `json:"peer"`
	CallType    domain.CallType      `json:"callType"`
	State       State                `json:"state"`
	Status      string               `json:"status"`
	CallID      string               `json:"callId,omitempty"`
	Direction   domain.CallDirection `json:"direction,omitempty"`
	Media       *media.State         `json:"media,omitempty"`
	ConnectedAt *time.Time           `json:"connectedAt,omitempty"`
	Outcome     domain.CallStatus    `json:"outcome,omitempty"`
}
