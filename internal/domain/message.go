package domain

import (
	"time"
)

// MessageType classifies a chat message
type MessageType string

const (
	MessageTypeText      MessageType = "text"
	MessageTypeImage     MessageType = "image"
	MessageTypeFile      MessageType = "file"
	MessageTypeAudioCall MessageType = "audio-call"
	MessageTypeVideoCall MessageType = "video-call"
)

// CallMessageType returns the summary message type for a call type
func CallMessageType(t CallType) MessageType {
	if t == CallTypeVideo {
		return MessageTypeVideoCall
	}
	return MessageTypeAudioCall
}

// ChatMessage is one append-only entry in privateChats/{pairId}/messages.
// Call summaries carry the CallStatus, CallDuration and CallDirection fields.
type ChatMessage struct {
	ID            string        `json:"id" firestore:"-"`
	SenderID      string        `json:"senderId" firestore:"senderId"`
	SenderName    string        `json:"senderName" firestore:"senderName"`
	Content       string        `json:"content" firestore:"content"`
	Type          MessageType   `json:"type" firestore:"type"`
	FileURL       string        `json:"fileUrl,omitempty" firestore:"fileUrl,omitempty"`
	FileName      string        `json:"fileName,omitempty" firestore:"fileName,omitempty"`
	Timestamp     time.Time     `json:"timestamp" firestore:"timestamp"`
	CallStatus    CallStatus    `json:"callStatus,omitempty" firestore:"callStatus,omitempty"`
	CallDuration  *int          `json:"callDuration,omitempty" firestore:"callDuration,omitempty"`
	CallDirection CallDirection `json:"callDirection,omitempty" firestore:"callDirection,omitempty"`
}

// IsCallSummary reports whether m records a call outcome
func (m *ChatMessage) IsCallSummary() bool {
	return m.Type == MessageTypeAudioCall || m.Type == MessageTypeVideoCall
}

// Preview is the text shown as a conversation's last message
func (m *ChatMessage) Preview() string {
	switch m.Type {
	case MessageTypeImage:
		return "📷 Image"
	case MessageTypeFile:
		if m.FileName != "" {
			return "📎 " + m.FileName
		}
		return "📎 File"
	case MessageTypeAudioCall:
		return "📞 Audio call"
	case MessageTypeVideoCall:
		return "📹 Video call"
	}
	return m.Content
}

// ConversationMeta is the singleton document privateChats/{pairId}
type ConversationMeta struct {
	PairID       string    `json:"pairId" firestore:"-"`
	Participants []string  `json:"participants" firestore:"participants"`
	LastMessage  string    `json:"lastMessage" firestore:"lastMessage"`
	LastUpdated  time.Time `json:"lastUpdated" firestore:"lastUpdated"`
}

// MessageIndexEntry is a row in the flat global message index, one per participant.
// Partitioned by user and month bucket.
type MessageIndexEntry struct {
	UserID    string      `json:"user_id" cql:"user_id"`
	Bucket    int         `json:"bucket" cql:"bucket"`
	PairID    string      `json:"pair_id" cql:"pair_id"`
	MessageID string      `json:"message_id" cql:"message_id"`
	SenderID  string      `json:"sender_id" cql:"sender_id"`
	Type      MessageType `json:"type" cql:"message_type"`
	Preview   string      `json:"preview" cql:"preview"`
	SentAt    time.Time   `json:"sent_at" cql:"sent_at"`
}

// CalculateBucket returns the yyyymm partition bucket for t
func CalculateBucket(t time.Time) int {
	t = t.UTC()
	return t.Year()*100 + int(t.Month())
}
