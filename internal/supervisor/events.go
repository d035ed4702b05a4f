package supervisor

import (
	"sync"
	"time"

	"defi-agent-engine/internal/metrics"
)

type EventType string

const (
	EventTypeStarted   EventType = "started"
	EventTypeCompleted EventType = "completed"
	EventTypeFailed    EventType = "failed"
	EventTypeDisabled  EventType = "disabled"
)

// Event is one lifecycle notification. Carried by value, safe to fan out.
type Event struct {
	AgentID   string
	AgentName string
	Type      EventType
	Timestamp time.Time
	Detail    string
	ErrorKind string
}

// EventBus fans events out to subscribers. Publish never blocks: a
// subscriber that falls behind loses events and the drop counter ticks.
type EventBus struct {
	mu      sync.RWMutex
	subs    []chan Event
	bufSize int
	dropped metrics.Counter
}

func NewEventBus(bufSize int, dropped metrics.Counter) *EventBus {
	if bufSize <= 0 {
		bufSize = 64
	}
	if dropped == nil {
		dropped = metrics.NewNoop().EventsDropped
	}
	return &EventBus{bufSize: bufSize, dropped: dropped}
}

func (b *EventBus) Subscribe() <-chan Event {
	ch := make(chan Event, b.bufSize)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

func (b *EventBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.dropped.Inc()
		}
	}
}

func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
