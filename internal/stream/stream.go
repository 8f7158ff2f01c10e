package stream

import (
	"context"
	"sync"
	"sync/atomic"

	"concord.chat/internal/leveling"
)

const defaultBuffer = 64

// Stream fans level-up events out to every active subscriber (delivery relays,
// ops listeners). Publishing never blocks: a full subscriber misses the event.
type Stream struct {
	mu      sync.RWMutex
	subs    map[int]chan leveling.LevelUpEvent
	next    int
	buffer  int
	dropped atomic.Int64
}

var _ leveling.Notifier = (*Stream)(nil)

// New returns an empty stream whose subscribers buffer up to buffer events.
func New(buffer int) *Stream {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Stream{subs: make(map[int]chan leveling.LevelUpEvent), buffer: buffer}
}

// Subscribe registers a subscriber and returns a channel which will receive events.
// The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan leveling.LevelUpEvent {
	ch := make(chan leveling.LevelUpEvent, s.buffer)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(ev leveling.LevelUpEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.dropped.Add(1)
		}
	}
}

// NotifyLevelUp publishes ev. It always succeeds.
func (s *Stream) NotifyLevelUp(_ context.Context, ev leveling.LevelUpEvent) error {
	s.Publish(ev)
	return nil
}

// Subscribers returns the number of active subscribers.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (s *Stream) Dropped() int64 { return s.dropped.Load() }
