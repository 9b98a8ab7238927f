package domain

import "time"

// CallEventType is the routing key of a call lifecycle event
type CallEventType string

const (
	EventCallStarted CallEventType = "call.started"
	EventCallEnded   CallEventType = "call.ended"
)

// CallEvent is published by the caller's agent and consumed by the notification worker
type CallEvent struct {
	EventID         string        `json:"event_id"`
	Type            CallEventType `json:"type"`
	CallID          string        `json:"call_id"`
	RoomName        string        `json:"room_name"`
	CallerID        string        `json:"caller_id"`
	CallerName      string        `json:"caller_name"`
	CalleeID        string        `json:"callee_id"`
	CalleeName      string        `json:"callee_name"`
	CallType        CallType      `json:"call_type"`
	Outcome         CallStatus    `json:"outcome,omitempty"`
	DurationSeconds *int          `json:"duration_seconds,omitempty"`
	EndedBy         string        `json:"ended_by,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	OccurredAt      time.Time     `json:"occurred_at"`
}

// CallLog is the durable row kept for call history
type CallLog struct {
	CallID          string     `json:"call_id"`
	CallerID        string     `json:"caller_id"`
	CallerName      string     `json:"caller_name"`
	CalleeID        string     `json:"callee_id"`
	CalleeName      string     `json:"callee_name"`
	CallType        CallType   `json:"call_type"`
	Outcome         CallStatus `json:"outcome,omitempty"` // empty while the call is live
	DurationSeconds *int       `json:"duration_seconds,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
}

// LogFromEvent projects an event onto the call log row
func LogFromEvent(ev *CallEvent) *CallLog {
	log := &CallLog{
		CallID:          ev.CallID,
		CallerID:        ev.CallerID,
		CallerName:      ev.CallerName,
		CalleeID:        ev.CalleeID,
		CalleeName:      ev.CalleeName,
		CallType:        ev.CallType,
		Outcome:         ev.Outcome,
		DurationSeconds: ev.DurationSeconds,
		StartedAt:       ev.StartedAt,
	}
	if ev.Type == EventCallEnded {
		at := ev.OccurredAt
		log.EndedAt = &at
	}
	return log
}
