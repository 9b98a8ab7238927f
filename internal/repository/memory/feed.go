// Package memory holds in-process implementations of the stores, used by tests
// and by agents started with AGENT_STORE=memory.
package memory

import (
	"context"
	"sync"
)

// feed is an unbounded queue in front of a subscriber channel so writers never
// block on slow readers while holding the store lock.
type feed[T any] struct {
	mu     sync.Mutex
	queue  []T
	signal chan struct{}
	out    chan T
}

func newFeed[T any](ctx context.Context, onDone func()) *feed[T] {
	f := &feed[T]{
		signal: make(chan struct{}, 1),
		out:    make(chan T),
	}
	go f.pump(ctx, onDone)
	return f
}

func (f *feed[T]) push(v T) {
	f.mu.Lock()
	f.queue = append(f.queue, v)
	f.mu.Unlock()

	select {
	case f.signal <- struct{}{}:
	default:
	}
}

func (f *feed[T]) pump(ctx context.Context, onDone func()) {
	defer close(f.out)
	defer onDone()

	for {
		f.mu.Lock()
		batch := f.queue
		f.queue = nil
		f.mu.Unlock()

		for _, v := range batch {
			select {
			case f.out <- v:
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-f.signal:
		case <-ctx.Done():
			return
		}
	}
}
