package domain

import (
	"errors"
	"math"
	"sort"
	"strings"
	"time"
)

var (
	// ErrCallNotFound is returned when a call record does not exist (or no longer exists)
	ErrCallNotFound = errors.New("call record not found")
	// ErrPermissionDenied is returned when the store revokes access, typically after the
	// record was deleted. Treated as a terminal signal, not a failure.
	ErrPermissionDenied = errors.New("permission denied")
)

// CallType is audio or video
type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

// Valid reports whether t is a known call type
func (t CallType) Valid() bool {
	return t == CallTypeAudio || t == CallTypeVideo
}

// CallRecord is the shared document coordinating one call attempt between two peers.
// Either peer may delete it at any time once terminal fields are written.
type CallRecord struct {
	ID         string     `json:"id" firestore:"-"`
	From       string     `json:"from" firestore:"from"`
	To         string     `json:"to" firestore:"to"`
	FromName   string     `json:"fromName" firestore:"fromName"`
	ToName     string     `json:"toName" firestore:"toName"`
	RoomName   string     `json:"roomName" firestore:"roomName"`
	CallType   CallType   `json:"callType" firestore:"callType"`
	Answered   bool       `json:"answered" firestore:"answered"`
	AnsweredAt *time.Time `json:"answeredAt,omitempty" firestore:"answeredAt"`
	Ended      bool       `json:"ended" firestore:"ended"`
	EndedBy    string     `json:"endedBy,omitempty" firestore:"endedBy"`
	EndedAt    *time.Time `json:"endedAt,omitempty" firestore:"endedAt"`
	Declined   bool       `json:"declined" firestore:"declined"`
	DeclinedAt *time.Time `json:"declinedAt,omitempty" firestore:"declinedAt"`
	Timeout    bool       `json:"timeout" firestore:"timeout"`
	CreatedAt  time.Time  `json:"createdAt" firestore:"createdAt"`
}

// NewCallRecord builds an unanswered, unended record from caller to callee
func NewCallRecord(from, fromName, to, toName string, callType CallType, now time.Time) *CallRecord {
	return &CallRecord{
		From:      from,
		To:        to,
		FromName:  fromName,
		ToName:    toName,
		RoomName:  RoomName(from, to),
		CallType:  callType,
		CreatedAt: now,
	}
}

// Pending reports whether the record still waits for the callee
func (r *CallRecord) Pending() bool {
	return !r.Answered && !r.Ended
}

// Peer returns the other participant from self's point of view
func (r *CallRecord) Peer(self string) string {
	if r.From == self {
		return r.To
	}
	return r.From
}

// Clone returns a deep copy
func (r *CallRecord) Clone() *CallRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.AnsweredAt = cloneTime(r.AnsweredAt)
	c.EndedAt = cloneTime(r.EndedAt)
	c.DeclinedAt = cloneTime(r.DeclinedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// RoomName is the media room both peers join. The two ids are sorted so each side
// computes the same name without coordination.
func RoomName(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, "_")
}

// PairID keys the conversation between a and b. Same value as RoomName.
func PairID(a, b string) string {
	return RoomName(a, b)
}

// SplitPairID returns the two participant ids joined in pairID. Ids containing
// the separator are rejected as ambiguous.
func SplitPairID(pairID string) (string, string, bool) {
	a, b, ok := strings.Cut(pairID, "_")
	if !ok || a == "" || b == "" || strings.Contains(b, "_") {
		return "", "", false
	}
	return a, b, true
}

// CallPatch is a partial update of a call record. Patches only ever set flags.
type CallPatch struct {
	Answered   bool
	AnsweredAt *time.Time
	Ended      bool
	EndedBy    string
	EndedAt    *time.Time
	Declined   bool
	DeclinedAt *time.Time
	Timeout    bool
}

// AnswerPatch marks the call answered at t
func AnswerPatch(t time.Time) CallPatch {
	return CallPatch{Answered: true, AnsweredAt: &t}
}

// EndPatch is a hangup by participant at t
func EndPatch(by string, t time.Time) CallPatch {
	return CallPatch{Ended: true, EndedBy: by, EndedAt: &t}
}

// DeclinePatch is an explicit rejection by the callee before answering
func DeclinePatch(by string, t time.Time) CallPatch {
	return CallPatch{Ended: true, EndedBy: by, EndedAt: &t, Declined: true, DeclinedAt: &t}
}

// TimeoutPatch auto-terminates an unanswered call
func TimeoutPatch(by string, t time.Time) CallPatch {
	return CallPatch{Ended: true, EndedBy: by, EndedAt: &t, Timeout: true}
}

// Terminal reports whether applying the patch ends the call
func (p CallPatch) Terminal() bool {
	return p.Ended
}

// Fields returns the store field map for the set fields only
func (p CallPatch) Fields() map[string]interface{} {
	fields := make(map[string]interface{}, 8)
	if p.Answered {
		fields["answered"] = true
		fields["answeredAt"] = *p.AnsweredAt
	}
	if p.Ended {
		fields["ended"] = true
		fields["endedAt"] = *p.EndedAt
		if p.EndedBy != "" {
			fields["endedBy"] = p.EndedBy
		}
	}
	if p.Declined {
		fields["declined"] = true
		fields["declinedAt"] = *p.DeclinedAt
	}
	if p.Timeout {
		fields["timeout"] = true
	}
	return fields
}

// Apply writes the patch into r
func (p CallPatch) Apply(r *CallRecord) {
	if p.Answered {
		r.Answered = true
		r.AnsweredAt = cloneTime(p.AnsweredAt)
	}
	if p.Ended {
		r.Ended = true
		r.EndedAt = cloneTime(p.EndedAt)
		if p.EndedBy != "" {
			r.EndedBy = p.EndedBy
		}
	}
	if p.Declined {
		r.Declined = true
		r.DeclinedAt = cloneTime(p.DeclinedAt)
	}
	if p.Timeout {
		r.Timeout = true
	}
}

// ChangeKind classifies a delivered snapshot mutation
type ChangeKind int

const (
	ChangeAdded ChangeKind = iota + 1
	ChangeModified
	ChangeRemoved
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAdded:
		return "added"
	case ChangeModified:
		return "modified"
	case ChangeRemoved:
		return "removed"
	}
	return "unknown"
}

// CallChange is one mutation delivered by a live subscription. Err is set, with
// Kind zero, when the subscription failed; the channel closes afterwards.
type CallChange struct {
	Kind   ChangeKind
	ID     string
	Record *CallRecord
	Err    error
}

// CallStatus is the outcome carried by a call summary message
type CallStatus string

const (
	CallStatusCompleted CallStatus = "completed"
	CallStatusMissed    CallStatus = "missed"
	CallStatusRejected  CallStatus = "rejected"
	CallStatusCancelled CallStatus = "cancelled"
)

// CallDirection is the local point of view on a call
type CallDirection string

const (
	DirectionIncoming CallDirection = "incoming"
	DirectionOutgoing CallDirection = "outgoing"
)

// CallSummary is the durable outcome of one call as seen by one side
type CallSummary struct {
	CallID    string
	CallType  CallType
	Status    CallStatus
	Duration  *int
	Direction CallDirection
}

// CallDuration returns whole seconds between answer and end, clamped to zero.
// Nil when the call was never answered.
func CallDuration(answeredAt, endedAt *time.Time) *int {
	if answeredAt == nil {
		return nil
	}
	end := time.Now()
	if endedAt != nil {
		end = *endedAt
	}
	secs := int(math.Floor(end.Sub(*answeredAt).Seconds()))
	if secs < 0 {
		secs = 0
	}
	return &secs
}
