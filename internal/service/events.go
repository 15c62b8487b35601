package service

import (
	"sync"

	"github.com/ricochet1k/officemesh/internal/domain"
)

type Subscriber struct {
	ID        string
	SessionID string
	Events    chan domain.Event

	types map[domain.EventType]bool
}

func (s *Subscriber) wants(e domain.Event) bool {
	if s.SessionID != "" && s.SessionID != e.SessionID {
		return false
	}
	return len(s.types) == 0 || s.types[e.Type]
}

// EventBroadcaster relays session events to host-wide listeners. Sessions
// come and go; subscribers stay until they unsubscribe or the broadcaster
// closes. Broadcast renumbers events with a host-wide sequence so IDs stay
// monotonic across sessions, and keeps the last bufferSize events for replay.
type EventBroadcaster struct {
	subscribers map[string]*Subscriber
	mu          sync.RWMutex
	bufferSize  int
	closed      bool

	nextID  int64
	history []domain.Event
	dropped int64
}

func NewEventBroadcaster(bufferSize int) *EventBroadcaster {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &EventBroadcaster{
		subscribers: make(map[string]*Subscriber),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a subscriber for sessionID ("" for every session)
// limited to types (all when empty). After Close the returned channel is
// already closed.
func (b *EventBroadcaster) Subscribe(subscriberID, sessionID string, types ...domain.EventType) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribeLocked(subscriberID, sessionID, types)
}

// SubscribeWithReplay subscribes and returns the retained events newer than
// lastEventID that the subscriber would have received.
func (b *EventBroadcaster) SubscribeWithReplay(subscriberID, sessionID string, lastEventID int64, types ...domain.EventType) (*Subscriber, []domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := b.subscribeLocked(subscriberID, sessionID, types)
	var replay []domain.Event
	for _, e := range b.history {
		if e.ID > lastEventID && sub.wants(e) {
			replay = append(replay, e)
		}
	}
	return sub, replay
}

func (b *EventBroadcaster) subscribeLocked(subscriberID, sessionID string, types []domain.EventType) *Subscriber {
	sub := &Subscriber{
		ID:        subscriberID,
		SessionID: sessionID,
		Events:    make(chan domain.Event, b.bufferSize),
	}
	if len(types) > 0 {
		sub.types = make(map[domain.EventType]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}
	if b.closed {
		close(sub.Events)
		return sub
	}
	if old, ok := b.subscribers[subscriberID]; ok {
		close(old.Events)
	}
	b.subscribers[subscriberID] = sub
	return sub
}

func (b *EventBroadcaster) Unsubscribe(subscriberID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[subscriberID]; ok {
		close(sub.Events)
		delete(b.subscribers, subscriberID)
	}
}

// Broadcast never blocks; a full subscriber misses the event.
func (b *EventBroadcaster) Broadcast(event domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	b.nextID++
	event.ID = b.nextID
	b.history = append(b.history, event)
	if len(b.history) > b.bufferSize {
		b.history[0] = domain.Event{}
		b.history = b.history[1:]
	}

	for _, sub := range b.subscribers {
		if !sub.wants(event) {
			continue
		}
		select {
		case sub.Events <- event:
		default:
			b.dropped++
		}
	}
}

// DroppedEventCount counts deliveries skipped because a subscriber was full.
func (b *EventBroadcaster) DroppedEventCount() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// Close ends every subscription.
func (b *EventBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		close(sub.Events)
		delete(b.subscribers, id)
	}
}

func (b *EventBroadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

func (b *EventBroadcaster) SessionSubscriberCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, sub := range b.subscribers {
		if sub.SessionID == "" || sub.SessionID == sessionID {
			count++
		}
	}
	return count
}
