package chat

import (
	"sync"
	"time"

	"skillswap-backend/internal/domain"
)

// UnreadCounter counts peer messages that arrived while the chat panel was
// closed. Opening the panel moves the read cursor to now and clears the count.
type UnreadCounter struct {
	self string

	mu     sync.Mutex
	open   bool
	cursor time.Time
	count  int
	seen   map[string]struct{}
}

// NewUnreadCounter starts with the panel closed and the cursor at since
func NewUnreadCounter(self string, since time.Time) *UnreadCounter {
	return &UnreadCounter{self: self, cursor: since, seen: make(map[string]struct{})}
}

// Observe accounts for msg and returns the current count
func (u *UnreadCounter) Observe(msg *domain.ChatMessage) int {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.open || msg.SenderID == u.self || !msg.Timestamp.After(u.cursor) {
		return u.count
	}
	if _, dup := u.seen[msg.ID]; dup && msg.ID != "" {
		return u.count
	}
	if msg.ID != "" {
		u.seen[msg.ID] = struct{}{}
	}
	u.count++
	return u.count
}

// Open marks the panel open
func (u *UnreadCounter) Open(now time.Time) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.open = true
	u.cursor = now
	u.count = 0
	u.seen = make(map[string]struct{})
}

// Close marks the panel closed; later peer messages count again
func (u *UnreadCounter) Close(now time.Time) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.open = false
	u.cursor = now
}

// Count returns the unread count
func (u *UnreadCounter) Count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.count
}
