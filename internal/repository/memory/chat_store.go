package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"skillswap-backend/internal/domain"
)

type chatSubscriber struct {
	pairID string
	since  time.Time
	feed   *feed[*domain.ChatMessage]
}

// ChatStore keeps conversations in memory
type ChatStore struct {
	mu       sync.Mutex
	messages map[string][]*domain.ChatMessage
	meta     map[string]*domain.ConversationMeta
	subs     map[*chatSubscriber]struct{}
}

// NewChatStore creates an empty store
func NewChatStore() *ChatStore {
	return &ChatStore{
		messages: make(map[string][]*domain.ChatMessage),
		meta:     make(map[string]*domain.ConversationMeta),
		subs:     make(map[*chatSubscriber]struct{}),
	}
}

// Append stores msg keeping the list ordered by timestamp
func (s *ChatStore) Append(ctx context.Context, pairID string, msg *domain.ChatMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := *msg

	s.mu.Lock()
	defer s.mu.Unlock()
	list := append(s.messages[pairID], &stored)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Timestamp.Before(list[j].Timestamp) })
	s.messages[pairID] = list

	for sub := range s.subs {
		if sub.pairID == pairID && stored.Timestamp.After(sub.since) {
			c := stored
			sub.feed.push(&c)
		}
	}
	return nil
}

// UpdateMeta replaces the conversation metadata
func (s *ChatStore) UpdateMeta(ctx context.Context, meta *domain.ConversationMeta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c := *meta
	c.Participants = append([]string(nil), meta.Participants...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta[meta.PairID] = &c
	return nil
}

// GetMeta returns the metadata or nil
func (s *ChatStore) GetMeta(ctx context.Context, pairID string) (*domain.ConversationMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meta[pairID]
	if !ok {
		return nil, nil
	}
	c := *m
	return &c, nil
}

// List returns the newest limit messages, oldest first
func (s *ChatStore) List(ctx context.Context, pairID string, limit int) ([]*domain.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.messages[pairID]
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	out := make([]*domain.ChatMessage, len(list))
	for i, m := range list {
		c := *m
		out[i] = &c
	}
	return out, nil
}

// Watch emits stored messages after since, then new ones
func (s *ChatStore) Watch(ctx context.Context, pairID string, since time.Time) (<-chan *domain.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &chatSubscriber{pairID: pairID, since: since}
	sub.feed = newFeed[*domain.ChatMessage](ctx, func() {
		s.mu.Lock()
		delete(s.subs, sub)
		s.mu.Unlock()
	})
	for _, m := range s.messages[pairID] {
		if m.Timestamp.After(since) {
			c := *m
			sub.feed.push(&c)
		}
	}
	s.subs[sub] = struct{}{}
	return sub.feed.out, nil
}

// MessageIndex is an in-memory global message index
type MessageIndex struct {
	mu      sync.Mutex
	entries map[string][]*domain.MessageIndexEntry
}

// NewMessageIndex creates an empty index
func NewMessageIndex() *MessageIndex {
	return &MessageIndex{entries: make(map[string][]*domain.MessageIndexEntry)}
}

// Index adds entries
func (x *MessageIndex) Index(ctx context.Context, entries []*domain.MessageIndexEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, e := range entries {
		c := *e
		x.entries[e.UserID] = append(x.entries[e.UserID], &c)
	}
	return nil
}

// ForUser returns a user's entries in insertion order
func (x *MessageIndex) ForUser(userID string) []*domain.MessageIndexEntry {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]*domain.MessageIndexEntry(nil), x.entries[userID]...)
}
