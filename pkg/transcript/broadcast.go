package transcript

import (
	"context"
	"sync"
)

// Broadcaster fans events out to channel subscribers. Sends never block the
// conversation: a subscriber that falls behind misses events.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[chan Event]struct{}
	buffer int
}

// NewBroadcaster creates a broadcaster whose subscriber channels hold buffer
// events.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broadcaster{subs: make(map[chan Event]struct{}), buffer: buffer}
}

// Subscribe returns a channel of future events and a function that cancels
// the subscription and closes the channel.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Broadcaster) OnEvent(ctx context.Context, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		// Non-blocking send
		select {
		case sub <- event.Clone():
		default:
		}
	}
}
