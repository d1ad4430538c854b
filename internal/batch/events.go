package batch

import (
	"sync"
	"time"

	"media-compressor-go/internal/media"
)

// EventType classifies batch events.
type EventType string

const (
	EventAdmitted EventType = "admitted"
	EventRejected EventType = "rejected"
	EventState    EventType = "state"
	EventMetadata EventType = "metadata"
	EventPreview  EventType = "preview"
	EventRemoved  EventType = "removed"
)

// Event is a sequenced notification consumed by the presentation layer.
type Event struct {
	Seq       int64          `json:"seq"`
	Timestamp time.Time      `json:"timestamp"`
	Category  media.Category `json:"category"`
	Type      EventType      `json:"type"`
	JobID     string         `json:"jobId,omitempty"`
	State     State          `json:"state,omitempty"`
	Message   string         `json:"message,omitempty"`
	Job       *Snapshot      `json:"job,omitempty"`
}

// EventBus stores recent events and fans them out to subscribers.
type EventBus struct {
	mu          sync.RWMutex
	nextSeq     int64
	maxEvents   int
	events      []Event
	subscribers map[int]chan Event
	nextSub     int
}

// NewEventBus creates a bounded in-memory event buffer.
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = 500
	}
	return &EventBus{
		maxEvents:   maxEvents,
		events:      make([]Event, 0, maxEvents),
		subscribers: make(map[int]chan Event),
	}
}

// Publish appends one event and assigns sequence and timestamp. Slow
// subscribers miss events rather than block the publisher; they can catch up
// with Since.
func (b *EventBus) Publish(event Event) Event {
	if b == nil {
		return event
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}

	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
	return event
}

// Since returns events with sequence strictly greater than seq.
func (b *EventBus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}

// Subscribe returns a channel of future events and a cancel func.
func (b *EventBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subscribers[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}
