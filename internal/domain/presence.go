package domain

import "time"

// PresenceState is a user's coarse availability
type PresenceState string

const (
	PresenceOnline  PresenceState = "online"
	PresenceAway    PresenceState = "away"
	PresenceOffline PresenceState = "offline"
)

// PresenceRecord is the document status/{userId}
type PresenceRecord struct {
	UserID   string        `json:"userId" firestore:"-"`
	State    PresenceState `json:"state" firestore:"state"`
	LastSeen time.Time     `json:"lastSeen" firestore:"lastSeen"`
}

// Online reports whether the record says online. A missing record is offline.
func (p *PresenceRecord) Online() bool {
	return p != nil && p.State == PresenceOnline
}
