package agent

import (
	"sync"
	"time"

	"skillswap-backend/internal/domain"
	"skillswap-backend/internal/service/call"
	"skillswap-backend/internal/service/notifier"
)

// EventType tags what changed
type EventType string

const (
	EventCall    EventType = "call"
	EventOverlay EventType = "overlay"
	EventTone    EventType = "tone"
	EventChat    EventType = "chat"
	EventUnread  EventType = "unread"
)

// Tone names a ring tone action
type Tone string

const (
	ToneOutgoing Tone = "outgoing"
	ToneIncoming Tone = "incoming"
	ToneStop     Tone = "stop"
)

// Event is one UI update
type Event struct {
	Type    EventType           `json:"type"`
	PairID  string              `json:"pairId,omitempty"`
	Call    *call.Snapshot      `json:"call,omitempty"`
	Overlay *notifier.Event     `json:"overlay,omitempty"`
	Tone    Tone                `json:"tone,omitempty"`
	Message *domain.ChatMessage `json:"message,omitempty"`
	Unread  *int                `json:"unread,omitempty"`
	At      time.Time           `json:"at"`
}

// subscriberBuffer sizes each subscriber's queue; a subscriber that falls this
// far behind misses events
const subscriberBuffer = 64

// Broadcaster fans events out to subscribers without blocking the publisher
type Broadcaster struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Event
}

// NewBroadcaster creates an empty broadcaster
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Event)}
}

// Subscribe returns a channel of events and a function that closes it
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers ev to every subscriber with room in its queue
func (b *Broadcaster) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close closes every subscriber channel
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// ToneEmitter plays ring tones by telling the UI which one to play
type ToneEmitter struct {
	out *Broadcaster
}

// PlayOutgoing starts the ringback tone
func (t ToneEmitter) PlayOutgoing(pairID string) {
	t.out.Publish(Event{Type: EventTone, PairID: pairID, Tone: ToneOutgoing})
}

// PlayIncoming starts the ringtone
func (t ToneEmitter) PlayIncoming(pairID string) {
	t.out.Publish(Event{Type: EventTone, PairID: pairID, Tone: ToneIncoming})
}

// Stop silences any tone for the conversation
func (t ToneEmitter) Stop(pairID string) {
	t.out.Publish(Event{Type: EventTone, PairID: pairID, Tone: ToneStop})
}
