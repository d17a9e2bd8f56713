package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// GlobalTaskID subscribes to every task. Task IDs start at 1, so 0 never
// names a real task.
const GlobalTaskID int64 = 0

const defaultBufferSize = 256

// Publisher fans task events out to subscribers.
type Publisher interface {
	// Publish delivers event to the task's subscribers and to global
	// subscribers. It never blocks.
	Publish(event Event)
	// Subscribe returns a channel of events for taskID, or for every task
	// with GlobalTaskID.
	Subscribe(taskID int64) <-chan Event
	// Unsubscribe closes a channel returned by Subscribe.
	Unsubscribe(taskID int64, ch <-chan Event)
	Close()
}

// subscription is one subscriber's buffered channel. Events that do not fit
// are counted and dropped.
type subscription struct {
	ch      chan Event
	dropped atomic.Int64
}

// MemoryPublisher is the in-process Publisher used by the server.
type MemoryPublisher struct {
	mu      sync.RWMutex
	subs    map[int64][]*subscription
	closed  bool
	buffer  int
	logger  *slog.Logger
	dropped atomic.Int64
}

// PublisherOption configures a MemoryPublisher.
type PublisherOption func(*MemoryPublisher)

// WithBufferSize sets each subscriber's channel capacity.
func WithBufferSize(size int) PublisherOption {
	return func(p *MemoryPublisher) {
		if size > 0 {
			p.buffer = size
		}
	}
}

// WithLogger logs the first dropped event of each slow subscriber.
func WithLogger(logger *slog.Logger) PublisherOption {
	return func(p *MemoryPublisher) {
		p.logger = logger
	}
}

// NewMemoryPublisher creates a MemoryPublisher.
func NewMemoryPublisher(opts ...PublisherOption) *MemoryPublisher {
	p := &MemoryPublisher{
		subs:   make(map[int64][]*subscription),
		buffer: defaultBufferSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish delivers in publish order per subscriber. A subscriber whose
// buffer is full misses the event.
func (p *MemoryPublisher) Publish(event Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}

	p.deliver(p.subs[event.TaskID], event)
	if event.TaskID != GlobalTaskID {
		p.deliver(p.subs[GlobalTaskID], event)
	}
}

func (p *MemoryPublisher) deliver(subs []*subscription, event Event) {
	for _, s := range subs {
		select {
		case s.ch <- event:
			continue
		default:
		}
		p.dropped.Add(1)
		if s.dropped.Add(1) == 1 && p.logger != nil {
			p.logger.Warn("event subscriber too slow, dropping events",
				"task_id", event.TaskID, "event", event.Type)
		}
	}
}

// Subscribe registers a new subscriber. After Close it returns a closed
// channel.
func (p *MemoryPublisher) Subscribe(taskID int64) <-chan Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	s := &subscription{ch: make(chan Event, p.buffer)}
	p.subs[taskID] = append(p.subs[taskID], s)
	return s.ch
}

// Unsubscribe removes and closes ch. Unknown channels are ignored.
func (p *MemoryPublisher) Unsubscribe(taskID int64, ch <-chan Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	subs := p.subs[taskID]
	kept := subs[:0]
	for _, s := range subs {
		if s.ch == ch {
			close(s.ch)
			continue
		}
		kept = append(kept, s)
	}
	if len(kept) == 0 {
		delete(p.subs, taskID)
		return
	}
	p.subs[taskID] = kept
}

// Close closes every subscriber channel. Later publishes are ignored.
func (p *MemoryPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for _, subs := range p.subs {
		for _, s := range subs {
			close(s.ch)
		}
	}
	p.subs = nil
}

// SubscriberCount returns the number of subscribers for taskID.
func (p *MemoryPublisher) SubscriberCount(taskID int64) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs[taskID])
}

// Dropped returns how many deliveries were skipped because a subscriber's
// buffer was full.
func (p *MemoryPublisher) Dropped() int64 {
	return p.dropped.Load()
}

// NopPublisher discards events. CLI commands that open the store directly
// use it.
type NopPublisher struct{}

// NewNopPublisher creates a NopPublisher.
func NewNopPublisher() *NopPublisher {
	return &NopPublisher{}
}

func (*NopPublisher) Publish(Event) {}

// Subscribe returns a closed channel.
func (*NopPublisher) Subscribe(int64) <-chan Event {
	ch := make(chan Event)
	close(ch)
	return ch
}

func (*NopPublisher) Unsubscribe(int64, <-chan Event) {}

func (*NopPublisher) Close() {}
